package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Policy is the operator-editable part of the configuration: budget caps
// and the set of dependencies the metric probe watches. It lives in a YAML
// file so it can be changed without touching the environment.
type Policy struct {
	Budget       BudgetPolicy       `yaml:"budget"`
	Dependencies []DependencyTarget `yaml:"dependencies"`
}

// BudgetPolicy configures spend caps. Categories without a cap never alert.
type BudgetPolicy struct {
	GlobalCap float64            `yaml:"globalCap"`
	Caps      map[string]float64 `yaml:"caps"`
}

// DependencyTarget is one health-checked dependency.
type DependencyTarget struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// LoadPolicy reads and validates the YAML policy file.
func LoadPolicy(path string) (Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy %q: %w", path, err)
	}

	var p Policy
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return Policy{}, fmt.Errorf("parse policy %q: %w", path, err)
	}

	for cat, cap := range p.Budget.Caps {
		if cap < 0 {
			return Policy{}, fmt.Errorf("policy: negative cap for category %q", cat)
		}
	}
	for i, d := range p.Dependencies {
		if d.Name == "" || d.URL == "" {
			return Policy{}, fmt.Errorf("policy: dependencies[%d] needs name and url", i)
		}
	}
	return p, nil
}
