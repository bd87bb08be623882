// internal/workers/bmad/template-runner/models.go
package templaterunner

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type OutputKind string

const (
	KindStructured OutputKind = "structured"
	KindRaw        OutputKind = "raw"
)

// StageOutput is what a stage produced: either the JSON object the tool
// printed, kept byte for byte, or its raw stdout together with the reason it
// was not accepted as an object.
type StageOutput struct {
	Kind      OutputKind
	Document  json.RawMessage
	Text      string
	DecodeErr error
}

// RawText is the fallback rendering of a non-object result.
type RawText struct {
	Text string `json:"text"`
}

func Structured(doc json.RawMessage) StageOutput {
	return StageOutput{Kind: KindStructured, Document: doc}
}

func Raw(text string, decodeErr error) StageOutput {
	return StageOutput{Kind: KindRaw, Text: text, DecodeErr: decodeErr}
}

// ParseStageOutput accepts stdout as Structured only when, surrounding
// whitespace aside, it is exactly one JSON object.
func ParseStageOutput(stdout string) StageOutput {
	trimmed := bytes.TrimSpace([]byte(stdout))

	var decoded interface{}
	if err := json.Unmarshal(trimmed, &decoded); err != nil {
		return Raw(stdout, err)
	}
	if _, ok := decoded.(map[string]interface{}); !ok {
		return Raw(stdout, fmt.Errorf("output is a JSON %s, not an object", jsonKind(decoded)))
	}
	return Structured(json.RawMessage(trimmed))
}

// Body is the HTTP response body for the output.
func (o StageOutput) Body() ([]byte, error) {
	if o.Kind == KindStructured {
		return o.Document, nil
	}
	return json.Marshal(RawText{Text: o.Text})
}

// Value is the output as a job variable value.
func (o StageOutput) Value() (interface{}, error) {
	if o.Kind == KindStructured {
		var doc map[string]interface{}
		if err := json.Unmarshal(o.Document, &doc); err != nil {
			return nil, err
		}
		return doc, nil
	}
	return RawText{Text: o.Text}, nil
}

func (o StageOutput) MarshalJSON() ([]byte, error) {
	return o.Body()
}

func jsonKind(v interface{}) string {
	switch v.(type) {
	case []interface{}:
		return "array"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", v)
	}
}
