package api

import (
	"encoding/json"
	"net/http"
)

// ErrorDetail names one rejected input field.
type ErrorDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ErrorPayload defines the internal structure of the error object.
type ErrorPayload struct {
	Code    string        `json:"code"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details,omitempty"`
}

// ErrorResponse defines the envelope for error responses.
type ErrorResponse struct {
	Error ErrorPayload `json:"error"`
}

// Respond sends data as JSON with an explicit status code. Car bodies are
// not wrapped in an envelope. A nil data writes the status alone.
func Respond(w http.ResponseWriter, code int, data any) {
	if data == nil {
		w.WriteHeader(code)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with optional per-field details.
func Error(w http.ResponseWriter, code int, errorCode string, message string, details ...ErrorDetail) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error: ErrorPayload{
			Code:    errorCode,
			Message: message,
			Details: details,
		},
	})
}
