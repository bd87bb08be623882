// internal/workers/chat/stream-relay/models.go
package streamrelay

import "bmad-gateway/internal/common/validation"

// Input is the POST /chat/stream body.
type Input struct {
	Prompt string `json:"prompt"`
}

var inputSchema = validation.MustCompileSchema(validation.StringFieldsSchema("prompt"))
