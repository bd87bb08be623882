// pkg/registry/schema.go
package registry

// StageRegistry is the pipeline descriptor served at GET /bmad/stages and
// used to mount the stage endpoints and job workers.
type StageRegistry struct {
	Version     string  `json:"version"`
	LastUpdated string  `json:"lastUpdated"`
	Stages      []Stage `json:"stages"`
}

type Stage struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	Description string `json:"description,omitempty"`
	// Path is the HTTP route, e.g. /bmad/brief.
	Path string `json:"path"`
	// InputField is the request key whose text replaces the marker.
	InputField string `json:"inputField"`
	// Template is a file name, resolved against the template directory
	// unless absolute.
	Template string `json:"template"`
	TaskType string `json:"taskType"`
	// InputSchema overrides the default "input field is a string" schema.
	InputSchema map[string]interface{} `json:"inputSchema,omitempty"`
	Tags        []string               `json:"tags,omitempty"`
}

// OutputVariable is the job variable a stage worker completes with.
func (s Stage) OutputVariable() string {
	return s.ID + "Output"
}
