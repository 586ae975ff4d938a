package common

import (
	"encoding/json"
	"net/http"
)

// Error codes of the settlement API. Every non-2xx response carries exactly
// one of these.
const (
	CodeBadRequest           = "BAD_REQUEST"
	CodeNotFound             = "NOT_FOUND"
	CodeInvalidConfiguration = "INVALID_CONFIGURATION"
	CodeOverClaimed          = "OVER_CLAIMED"
	CodeConfirmationMismatch = "CONFIRMATION_MISMATCH"
	CodeSessionCompleted     = "SESSION_COMPLETED"
	CodeMainBookerExists     = "MAIN_BOOKER_EXISTS"
	CodeForbidden            = "FORBIDDEN"
	CodeAuthFailed           = "AUTH_FAILED"
	CodeIdempotentReplay     = "IDEMPOTENT_REPLAY"
	CodeRateLimited          = "RATE_LIMITED"
	CodeInternal             = "INTERNAL"
)

// ErrorBody is the error payload inside the envelope.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// JSON writes the provided value to the response writer as JSON.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Data wraps a successful payload in the `{"data": ...}` envelope all
// endpoints of this API respond with.
func Data(w http.ResponseWriter, status int, v any) {
	JSON(w, status, map[string]any{"data": v})
}

// JSONError renders an error response using the canonical
// `{"error":{code,message,details}}` shape.
func JSONError(w http.ResponseWriter, status int, code, message string, details any) {
	JSON(w, status, map[string]any{
		"error": ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}
