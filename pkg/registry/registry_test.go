package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRegistry(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stages.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultStages(t *testing.T) {
	reg := DefaultStages()
	require.NoError(t, reg.Validate())

	want := []struct{ id, path, field, template, taskType string }{
		{"brief", "/bmad/brief", "goal", "brief.md", "bmad-brief"},
		{"arch", "/bmad/arch", "prd", "arch.md", "bmad-arch"},
		{"tasks", "/bmad/tasks", "arch", "tasks.md", "bmad-tasks"},
		{"deliver", "/bmad/deliver", "plan", "deliver.md", "bmad-deliver"},
	}
	require.Len(t, reg.Stages, len(want))
	for i, w := range want {
		s := reg.Stages[i]
		assert.Equal(t, w.id, s.ID)
		assert.Equal(t, w.path, s.Path)
		assert.Equal(t, w.field, s.InputField)
		assert.Equal(t, w.template, s.Template)
		assert.Equal(t, w.taskType, s.TaskType)
	}
}

func TestLoadRegistry_MissingFileFallsBack(t *testing.T) {
	reg, err := LoadRegistry(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, DefaultStages(), reg)

	reg, err = LoadRegistry("")
	require.NoError(t, err)
	assert.Len(t, reg.Stages, 4)
}

func TestLoadRegistry_FromFile(t *testing.T) {
	path := writeRegistry(t, `{
		"version": "2.0.0",
		"lastUpdated": "2026-10-01",
		"stages": [
			{"id": "review", "path": "/bmad/review", "inputField": "diff", "template": "/etc/prompts/review.md", "taskType": "bmad-review"}
		]
	}`)

	reg, err := LoadRegistry(path)
	require.NoError(t, err)

	assert.Equal(t, "2.0.0", reg.Version)
	stage, ok := reg.ByID("review")
	require.True(t, ok)
	assert.Equal(t, "diff", stage.InputField)
	assert.Equal(t, "reviewOutput", stage.OutputVariable())

	byType, ok := reg.ByTaskType("bmad-review")
	require.True(t, ok)
	assert.Equal(t, stage, byType)

	_, ok = reg.ByID("brief")
	assert.False(t, ok)
	_, ok = reg.ByTaskType("")
	assert.False(t, ok)
}

func TestLoadRegistry_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"malformed", `{"stages": [`, "failed to parse"},
		{"empty", `{"stages": []}`, "no stages defined"},
		{"missing id", `{"stages": [{"path": "/a", "inputField": "x", "template": "a.md"}]}`, "id is required"},
		{"relative path", `{"stages": [{"id": "a", "path": "a", "inputField": "x", "template": "a.md"}]}`, "must start with /"},
		{"missing input", `{"stages": [{"id": "a", "path": "/a", "template": "a.md"}]}`, "inputField is required"},
		{"missing template", `{"stages": [{"id": "a", "path": "/a", "inputField": "x"}]}`, "template is required"},
		{"duplicate id", `{"stages": [
			{"id": "a", "path": "/a", "inputField": "x", "template": "a.md"},
			{"id": "a", "path": "/b", "inputField": "x", "template": "b.md"}]}`, "duplicate stage id"},
		{"duplicate path", `{"stages": [
			{"id": "a", "path": "/a", "inputField": "x", "template": "a.md"},
			{"id": "b", "path": "/a", "inputField": "x", "template": "b.md"}]}`, "duplicate stage path"},
		{"duplicate task type", `{"stages": [
			{"id": "a", "path": "/a", "inputField": "x", "template": "a.md", "taskType": "t"},
			{"id": "b", "path": "/b", "inputField": "x", "template": "b.md", "taskType": "t"}]}`, "duplicate stage task type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadRegistry(writeRegistry(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
