// Package errors provides the gateway's standardized error type, its HTTP
// status mapping and its conversion to BPMN errors for the job workers.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrCodePromptRequired ErrorCode = "PROMPT_REQUIRED"

	ErrCodeTemplateLoadFailed ErrorCode = "TEMPLATE_LOAD_FAILED"
	ErrCodeStageNotFound      ErrorCode = "STAGE_NOT_FOUND"

	ErrCodeAssistantStartFailed ErrorCode = "ASSISTANT_START_FAILED"
	ErrCodeAssistantFailed      ErrorCode = "ASSISTANT_FAILED"
	ErrCodeAssistantTimeout     ErrorCode = "ASSISTANT_TIMEOUT"

	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	cause     error
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}

	for k, v := range e.ErrorVariables {
		vars[k] = v
	}

	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

// NewInvalidRequestError reports a request body that cannot be used.
func NewInvalidRequestError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidRequest,
		Message:   fmt.Sprintf("invalid request body: %s", details),
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewPromptRequiredError reports a missing or blank prompt.
func NewPromptRequiredError() *StandardError {
	return &StandardError{
		Code:      ErrCodePromptRequired,
		Message:   "prompt required",
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewTemplateLoadFailedError wraps an I/O failure reading a prompt template.
func NewTemplateLoadFailedError(path string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeTemplateLoadFailed,
		Message:   fmt.Sprintf("failed to load template %s", path),
		Details:   err.Error(),
		Retryable: false,
		Metadata:  map[string]interface{}{"template": path},
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewStageNotFoundError reports a job or route naming an unknown stage.
func NewStageNotFoundError(ref string) *StandardError {
	return &StandardError{
		Code:      ErrCodeStageNotFound,
		Message:   "stage not found in registry",
		Details:   fmt.Sprintf("stage: %s", ref),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewAssistantStartFailedError wraps a failure to spawn the assistant process.
func NewAssistantStartFailedError(binary string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeAssistantStartFailed,
		Message:   fmt.Sprintf("failed to start %s", binary),
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewAssistantFailedError reports a non-zero exit; the message embeds stderr verbatim.
func NewAssistantFailedError(binary string, exitCode int, stderr string) *StandardError {
	return &StandardError{
		Code:      ErrCodeAssistantFailed,
		Message:   fmt.Sprintf("%s error: %s", binary, stderr),
		Details:   fmt.Sprintf("exit status %d", exitCode),
		Retryable: true,
		Metadata:  map[string]interface{}{"exitCode": exitCode},
		Timestamp: time.Now().UTC(),
	}
}

// NewAssistantTimeoutError reports a batch invocation killed at its deadline.
func NewAssistantTimeoutError(binary string, timeout time.Duration, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeAssistantTimeout,
		Message:   fmt.Sprintf("%s timed out after %s", binary, timeout),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewInternalError wraps anything without a more specific code.
func NewInternalError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeInternal,
		Message:   "Unexpected error",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// ==========================
// 4. Error Conversion
// ==========================

// Normalize returns err as a *StandardError, wrapping it when needed.
func Normalize(err error) *StandardError {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr
	}
	return NewInternalError(err)
}

// HTTPStatus maps an error code to the status the gateway responds with.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeInvalidRequest, ErrCodePromptRequired:
		return http.StatusBadRequest
	case ErrCodeStageNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// GetRetryCount returns the job-worker retry budget for an error code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeAssistantFailed, ErrCodeAssistantTimeout:
		return 1
	default:
		return 0
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	return &BPMNError{
		Code:      string(stdErr.Code),
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		Retries:   retries,
		ErrorVariables: map[string]interface{}{
			"originalErrorCode": string(stdErr.Code),
			"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
		},
	}
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "ASSISTANT"):
		return "ASSISTANT"
	case strings.Contains(codeStr, "TEMPLATE") || strings.Contains(codeStr, "STAGE"):
		return "PIPELINE"
	case strings.Contains(codeStr, "INVALID") || strings.Contains(codeStr, "REQUIRED"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
