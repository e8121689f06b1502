// Error envelope shared by all handlers. Every failure response carries a
// stable code, a human-readable message, and the request id for correlation.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/archiva-labs/archiva/internal/domain/orchestrator"
)

// errorResponse is the JSON error envelope.
type errorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
	RequestID string `json:"request_id"`
}

// Codes owned by the API layer; pipeline codes come from the orchestrator.
const (
	codeInvalidRequest = "INVALID_REQUEST"
	codeUnauthorized   = "UNAUTHORIZED"
	codeInternal       = "INTERNAL"
)

// statusFor maps stable error codes onto HTTP status codes.
func statusFor(code string) int {
	switch code {
	case orchestrator.CodeRetrievalUnavailable, orchestrator.CodeModelLoading:
		return http.StatusServiceUnavailable
	case orchestrator.CodeGenerationTimeout:
		return http.StatusGatewayTimeout
	case orchestrator.CodeSessionNotFound:
		return http.StatusNotFound
	case codeInvalidRequest:
		return http.StatusBadRequest
	case codeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes the envelope for an explicit code.
func writeError(w http.ResponseWriter, r *http.Request, code, message string) {
	status := statusFor(code)
	if code == orchestrator.CodeModelLoading {
		// The load keeps running; the client should simply try again.
		w.Header().Set("Retry-After", "5")
	}
	writeJSON(w, status, errorResponse{
		Code:      code,
		Message:   message,
		RequestID: chimw.GetReqID(r.Context()),
	})
}

// writePipelineError translates an orchestrator error into the envelope.
// Unrecognized errors become an opaque INTERNAL response; the detail stays in
// the server log only.
func writePipelineError(w http.ResponseWriter, r *http.Request, err error) {
	var oerr *orchestrator.Error
	if errors.As(err, &oerr) {
		writeError(w, r, oerr.Code, messageFor(oerr.Code))
		return
	}
	writeError(w, r, codeInternal, "internal error")
}

func messageFor(code string) string {
	switch code {
	case orchestrator.CodeRetrievalUnavailable:
		return "the document index is unavailable, please retry later"
	case orchestrator.CodeModelLoading:
		return "the answer model is still loading, please retry"
	case orchestrator.CodeModelLoadFailed:
		return "the answer model could not be loaded"
	case orchestrator.CodeGenerationTimeout:
		return "answer generation timed out"
	case orchestrator.CodeSessionNotFound:
		return "session not found"
	default:
		return "internal error"
	}
}

// writeJSON writes a JSON body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
