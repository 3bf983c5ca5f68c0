package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/fulmenhq/gofulmen/errors"
)

// ErrorResponse is the body of every error answer.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// ErrorResponder writes an error envelope. The server package installs its
// logging, metric-emitting responder through SetErrorResponder.
type ErrorResponder func(w http.ResponseWriter, r *http.Request, envelope *errors.ErrorEnvelope)

var errorResponder ErrorResponder = WriteError

// SetErrorResponder replaces the responder; nil restores WriteError.
func SetErrorResponder(responder ErrorResponder) {
	if responder == nil {
		responder = WriteError
	}
	errorResponder = responder
}

func respondWithError(w http.ResponseWriter, r *http.Request, envelope *errors.ErrorEnvelope) {
	errorResponder(w, r, envelope)
}

// WriteError renders envelope with the status its code maps to.
func WriteError(w http.ResponseWriter, _ *http.Request, envelope *errors.ErrorEnvelope) {
	writeJSON(w, StatusFromCode(envelope.Code), ErrorResponse{
		Error: ErrorDetail{
			Code:      envelope.Code,
			Message:   envelope.Message,
			Details:   responseDetails(envelope),
			RequestID: envelope.CorrelationID,
		},
	})
}

// StatusFromCode maps an envelope code to an HTTP status.
func StatusFromCode(code string) int {
	switch code {
	case "INVALID_REQUEST", "INVALID_INPUT":
		return http.StatusBadRequest
	case "NOT_FOUND":
		return http.StatusNotFound
	case "METHOD_NOT_ALLOWED":
		return http.StatusMethodNotAllowed
	case "SERVICE_UNAVAILABLE", "WORKER_UNAVAILABLE":
		return http.StatusServiceUnavailable
	case "RATE_LIMITED":
		return http.StatusTooManyRequests
	case "EXTERNAL_SERVICE_ERROR":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func responseDetails(envelope *errors.ErrorEnvelope) map[string]interface{} {
	details := make(map[string]interface{})
	for key, value := range envelope.Details {
		details[key] = value
	}
	for key, value := range envelope.Context {
		if _, exists := details[key]; !exists {
			details[key] = value
		}
	}
	if len(details) == 0 {
		return nil
	}
	return details
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
