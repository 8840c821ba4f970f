package store

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lowaak/cable-trainer/internal/plan"
)

// ExportYAML writes p to path as a YAML plan file.
func ExportYAML(path string, p plan.Plan) error {
	if err := p.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("store: encode plan %q: %w", p.Name, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("store: write %s: %w", path, err)
	}
	return nil
}

// ImportYAML reads and validates a YAML plan file.
func ImportYAML(path string) (plan.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return plan.Plan{}, fmt.Errorf("store: read %s: %w", path, err)
	}
	var p plan.Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return plan.Plan{}, fmt.Errorf("store: parse %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return plan.Plan{}, fmt.Errorf("store: %s: %w", path, err)
	}
	return p, nil
}
