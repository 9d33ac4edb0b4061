package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writePolicy(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	return path
}

func TestLoadPolicy(t *testing.T) {
	path := writePolicy(t, `
budget:
  globalCap: 1000
  caps:
    compute: 400
    storage: 100
dependencies:
  - name: postgres
    url: http://localhost:5432/healthz
  - name: object-store
    url: http://localhost:9000/minio/health/live
`)

	p, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	if p.Budget.GlobalCap != 1000 {
		t.Errorf("expected global cap 1000, got %.0f", p.Budget.GlobalCap)
	}
	if p.Budget.Caps["compute"] != 400 {
		t.Errorf("expected compute cap 400, got %.0f", p.Budget.Caps["compute"])
	}
	if len(p.Dependencies) != 2 {
		t.Fatalf("expected 2 dependencies, got %d", len(p.Dependencies))
	}
	if p.Dependencies[0].Name != "postgres" {
		t.Errorf("unexpected dependency: %+v", p.Dependencies[0])
	}
}

func TestLoadPolicyValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name: "negative cap",
			content: `
budget:
  caps:
    compute: -5
`,
		},
		{
			name: "dependency missing url",
			content: `
dependencies:
  - name: postgres
`,
		},
		{
			name:    "malformed yaml",
			content: "budget: [not a map",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadPolicy(writePolicy(t, tt.content)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadPolicyMissingFile(t *testing.T) {
	if _, err := LoadPolicy("/does/not/exist.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
