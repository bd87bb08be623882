package errors

import (
	"encoding/json"
	"net/http"
)

// HTTPErrorBody is the JSON body of every gateway error response.
type HTTPErrorBody struct {
	Detail    string    `json:"detail"`
	Code      ErrorCode `json:"code"`
	RequestID string    `json:"requestId,omitempty"`
}

// WriteHTTPError renders err as JSON with the status its code maps to and
// returns that status.
func WriteHTTPError(w http.ResponseWriter, err error, requestID string) int {
	stdErr := Normalize(err)
	status := HTTPStatus(stdErr.Code)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(HTTPErrorBody{
		Detail:    stdErr.Message,
		Code:      stdErr.Code,
		RequestID: requestID,
	})
	return status
}
