package simulator

import (
	"os"
	"path/filepath"
	"testing"
)

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write scenario: %v", err)
	}
	return path
}

func TestReadScenario(t *testing.T) {
	path := writeScenario(t, `action,target,amount,detail
job_register,deploy-bot,,
job_progress,,25,
job_succeed,,,
approval_create,scale prod,60,
approval_decide,alice,,approve
cost,compute,12.5,trainer
`)

	steps, err := ReadScenario(path)
	if err != nil {
		t.Fatalf("ReadScenario: %v", err)
	}
	if len(steps) != 6 {
		t.Fatalf("expected 6 steps, got %d", len(steps))
	}
	if steps[0].Action != ActionJobRegister || steps[0].Target != "deploy-bot" {
		t.Errorf("unexpected first step: %+v", steps[0])
	}
	if steps[1].Amount != 25 {
		t.Errorf("expected progress 25, got %.0f", steps[1].Amount)
	}
	if steps[4].Detail != "approve" {
		t.Errorf("expected decision approve, got %q", steps[4].Detail)
	}
	if steps[5].Amount != 12.5 || steps[5].Detail != "trainer" {
		t.Errorf("unexpected cost step: %+v", steps[5])
	}
}

func TestReadScenarioRejectsUnknownAction(t *testing.T) {
	path := writeScenario(t, `action,target,amount,detail
job_register,p,,
explode,,,
`)
	if _, err := ReadScenario(path); err == nil {
		t.Fatal("expected error for unknown action")
	}
}

func TestReadScenarioRejectsBadAmount(t *testing.T) {
	path := writeScenario(t, `action,target,amount,detail
cost,compute,lots,svc
`)
	if _, err := ReadScenario(path); err == nil {
		t.Fatal("expected error for unparsable amount")
	}
}

func TestReadScenarioEmpty(t *testing.T) {
	path := writeScenario(t, "action,target,amount,detail\n")
	if _, err := ReadScenario(path); err == nil {
		t.Fatal("expected error for scenario with no steps")
	}
}
