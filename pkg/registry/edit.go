// pkg/registry/edit.go
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SaveRegistry writes reg as indented JSON, creating the directory if needed.
func SaveRegistry(reg *StageRegistry, path string) error {
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write registry file: %w", err)
	}
	return nil
}

// Add appends a stage, keeping the registry valid.
func (r *StageRegistry) Add(stage Stage) error {
	if _, exists := r.ByID(stage.ID); exists {
		return fmt.Errorf("stage with ID %s already exists", stage.ID)
	}

	next := *r
	next.Stages = append(append([]Stage{}, r.Stages...), stage)
	if err := next.Validate(); err != nil {
		return err
	}

	r.Stages = next.Stages
	r.touch()
	return nil
}

// Update sets one named field of a stage.
func (r *StageRegistry) Update(id, field, value string) error {
	idx := -1
	for i := range r.Stages {
		if r.Stages[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("stage with ID %s not found", id)
	}

	updated := r.Stages[idx]
	switch field {
	case "displayName":
		updated.DisplayName = value
	case "description":
		updated.Description = value
	case "path":
		updated.Path = value
	case "inputField":
		updated.InputField = value
	case "template":
		updated.Template = value
	case "taskType":
		updated.TaskType = value
	default:
		return fmt.Errorf("unknown field: %s", field)
	}

	next := *r
	next.Stages = append([]Stage{}, r.Stages...)
	next.Stages[idx] = updated
	if err := next.Validate(); err != nil {
		return err
	}

	r.Stages = next.Stages
	r.touch()
	return nil
}

func (r *StageRegistry) touch() {
	r.LastUpdated = time.Now().UTC().Format(time.RFC3339)
}
