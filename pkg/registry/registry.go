// pkg/registry/registry.go
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// DefaultVersion is reported by the built-in descriptor.
const DefaultVersion = "1.0.0"

// DefaultStages is the brief, arch, tasks, deliver pipeline.
func DefaultStages() *StageRegistry {
	return &StageRegistry{
		Version: DefaultVersion,
		Stages: []Stage{
			{
				ID:          "brief",
				DisplayName: "Project brief",
				Description: "Turns a goal into a project brief",
				Path:        "/bmad/brief",
				InputField:  "goal",
				Template:    "brief.md",
				TaskType:    "bmad-brief",
			},
			{
				ID:          "arch",
				DisplayName: "Architecture",
				Description: "Turns a PRD into an architecture document",
				Path:        "/bmad/arch",
				InputField:  "prd",
				Template:    "arch.md",
				TaskType:    "bmad-arch",
			},
			{
				ID:          "tasks",
				DisplayName: "Task breakdown",
				Description: "Turns an architecture into a task plan",
				Path:        "/bmad/tasks",
				InputField:  "arch",
				Template:    "tasks.md",
				TaskType:    "bmad-tasks",
			},
			{
				ID:          "deliver",
				DisplayName: "Delivery",
				Description: "Turns a task plan into delivery output",
				Path:        "/bmad/deliver",
				InputField:  "plan",
				Template:    "deliver.md",
				TaskType:    "bmad-deliver",
			},
		},
	}
}

// LoadRegistry reads the descriptor at path. A missing file yields the
// built-in stages; a malformed or invalid one is an error.
func LoadRegistry(path string) (*StageRegistry, error) {
	if path == "" {
		return DefaultStages(), nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultStages(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read stage registry %s: %w", path, err)
	}

	var reg StageRegistry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("failed to parse stage registry %s: %w", path, err)
	}
	if err := reg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid stage registry %s: %w", path, err)
	}
	return &reg, nil
}

// Validate requires at least one stage, the mandatory fields on each, and
// unique ids, paths and task types.
func (r *StageRegistry) Validate() error {
	if len(r.Stages) == 0 {
		return fmt.Errorf("no stages defined")
	}

	ids := map[string]bool{}
	paths := map[string]bool{}
	taskTypes := map[string]bool{}

	for i, s := range r.Stages {
		switch {
		case s.ID == "":
			return fmt.Errorf("stage %d: id is required", i)
		case s.Path == "":
			return fmt.Errorf("stage %s: path is required", s.ID)
		case !strings.HasPrefix(s.Path, "/"):
			return fmt.Errorf("stage %s: path must start with /", s.ID)
		case s.InputField == "":
			return fmt.Errorf("stage %s: inputField is required", s.ID)
		case s.Template == "":
			return fmt.Errorf("stage %s: template is required", s.ID)
		}

		if ids[s.ID] {
			return fmt.Errorf("duplicate stage id %s", s.ID)
		}
		if paths[s.Path] {
			return fmt.Errorf("duplicate stage path %s", s.Path)
		}
		if s.TaskType != "" && taskTypes[s.TaskType] {
			return fmt.Errorf("duplicate stage task type %s", s.TaskType)
		}
		ids[s.ID] = true
		paths[s.Path] = true
		if s.TaskType != "" {
			taskTypes[s.TaskType] = true
		}
	}
	return nil
}

func (r *StageRegistry) ByID(id string) (Stage, bool) {
	for _, s := range r.Stages {
		if s.ID == id {
			return s, true
		}
	}
	return Stage{}, false
}

func (r *StageRegistry) ByTaskType(taskType string) (Stage, bool) {
	if taskType == "" {
		return Stage{}, false
	}
	for _, s := range r.Stages {
		if s.TaskType == taskType {
			return s, true
		}
	}
	return Stage{}, false
}
