package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeInvalidRequest, http.StatusBadRequest},
		{ErrCodePromptRequired, http.StatusBadRequest},
		{ErrCodeStageNotFound, http.StatusNotFound},
		{ErrCodeTemplateLoadFailed, http.StatusInternalServerError},
		{ErrCodeAssistantStartFailed, http.StatusInternalServerError},
		{ErrCodeAssistantFailed, http.StatusInternalServerError},
		{ErrCodeAssistantTimeout, http.StatusInternalServerError},
		{ErrCodeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.code))
		})
	}
}

func TestNewAssistantFailedError_EmbedsStderr(t *testing.T) {
	err := NewAssistantFailedError("gemini", 1, "boom")

	assert.Equal(t, ErrCodeAssistantFailed, err.Code)
	assert.Equal(t, "gemini error: boom", err.Message)
	assert.Equal(t, "exit status 1", err.Details)
	assert.True(t, err.Retryable)
}

func TestNormalize(t *testing.T) {
	t.Run("standard error passes through wrapping", func(t *testing.T) {
		orig := NewPromptRequiredError()
		wrapped := fmt.Errorf("handler: %w", orig)

		assert.Same(t, orig, Normalize(wrapped))
	})

	t.Run("plain error becomes internal", func(t *testing.T) {
		stdErr := Normalize(fmt.Errorf("disk on fire"))

		assert.Equal(t, ErrCodeInternal, stdErr.Code)
		assert.Equal(t, "disk on fire", stdErr.Details)
	})
}

func TestStandardError_Unwrap(t *testing.T) {
	err := NewTemplateLoadFailedError("/app/bmad_prompts/brief.md", os.ErrNotExist)

	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Equal(t, "/app/bmad_prompts/brief.md", err.Metadata["template"])
}

func TestConvertToBPMNError(t *testing.T) {
	t.Run("retryable timeout keeps its budget", func(t *testing.T) {
		bpmn := ConvertToBPMNError(NewAssistantTimeoutError("gemini", 2*time.Minute, fmt.Errorf("deadline exceeded")))

		assert.Equal(t, "ASSISTANT_TIMEOUT", bpmn.Code)
		assert.Equal(t, 1, bpmn.Retries)
		assert.True(t, bpmn.Retryable)

		vars := bpmn.ToErrorVariables()
		assert.Equal(t, "ASSISTANT_TIMEOUT", vars["errorCode"])
		assert.Equal(t, "ASSISTANT_TIMEOUT", vars["originalErrorCode"])
	})

	t.Run("template failures are not retried", func(t *testing.T) {
		bpmn := ConvertToBPMNError(NewTemplateLoadFailedError("arch.md", os.ErrPermission))

		assert.Zero(t, bpmn.Retries)
		assert.False(t, bpmn.Retryable)
	})
}

func TestRemainingRetries(t *testing.T) {
	assert.Equal(t, int32(1), remainingRetries(3, 1))
	assert.Equal(t, int32(0), remainingRetries(1, 1))
	assert.Equal(t, int32(0), remainingRetries(0, 1))
}

func TestGetErrorCategory(t *testing.T) {
	assert.Equal(t, "ASSISTANT", GetErrorCategory(ErrCodeAssistantTimeout))
	assert.Equal(t, "PIPELINE", GetErrorCategory(ErrCodeTemplateLoadFailed))
	assert.Equal(t, "PIPELINE", GetErrorCategory(ErrCodeStageNotFound))
	assert.Equal(t, "VALIDATION", GetErrorCategory(ErrCodePromptRequired))
	assert.Equal(t, "OTHER", GetErrorCategory(ErrCodeInternal))
	assert.True(t, IsRetryableErrorCode(ErrCodeAssistantFailed))
	assert.False(t, IsRetryableErrorCode(ErrCodeInvalidRequest))
}

func TestWriteHTTPError(t *testing.T) {
	rec := httptest.NewRecorder()

	status := WriteHTTPError(rec, NewAssistantFailedError("gemini", 1, "boom"), "req-1")

	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body HTTPErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "gemini error: boom", body.Detail)
	assert.Equal(t, ErrCodeAssistantFailed, body.Code)
	assert.Equal(t, "req-1", body.RequestID)
}
