package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/platinummonkey/grc-api/pkg/contextkeys"
)

// ErrorResponse is the body of every error returned by the API.
type ErrorResponse struct {
	Error     string            `json:"error"`
	Code      string            `json:"code,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteErrorResponse writes resp with the given status. The request ID is
// filled from r when the caller did not set one.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, status int, resp ErrorResponse) {
	if resp.RequestID == "" && r != nil {
		resp.RequestID = contextkeys.GetRequestID(r.Context())
	}
	_ = WriteJSON(w, status, resp)
}

// WriteErrorCode writes a JSON error with a machine-readable code.
func WriteErrorCode(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	WriteErrorResponse(w, r, status, ErrorResponse{Error: message, Code: code})
}

// WriteBadRequest writes a 400 for a request that could not be parsed.
func WriteBadRequest(w http.ResponseWriter, r *http.Request, message string) {
	WriteErrorCode(w, r, http.StatusBadRequest, "invalid_request", message)
}

// WriteForbidden writes a 403 with the given code.
func WriteForbidden(w http.ResponseWriter, r *http.Request, code, message string) {
	WriteErrorCode(w, r, http.StatusForbidden, code, message)
}

// WriteTooManyRequests writes a 429 rate limit error.
func WriteTooManyRequests(w http.ResponseWriter, r *http.Request, message string) {
	WriteErrorCode(w, r, http.StatusTooManyRequests, "rate_limited", message)
}

// WriteInternalError writes a generic 500 without leaking err to the client.
func WriteInternalError(w http.ResponseWriter, r *http.Request) {
	WriteErrorCode(w, r, http.StatusInternalServerError, "internal_error", "internal server error")
}

// WriteCreated writes a successful creation response (201 Created) with JSON data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteNoContent writes a successful response with no content (204 No Content)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
