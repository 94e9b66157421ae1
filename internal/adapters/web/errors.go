package web

import (
	"encoding/json"
	"net/http"

	"accounting-engine/internal/core"
)

type errorResponse struct {
	Error     string         `json:"error"`
	Code      string         `json:"code"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// statusForKind maps a business error kind to its HTTP status.
func statusForKind(kind core.Kind) int {
	switch kind {
	case core.KindValidation, core.KindUnbalanced, core.KindBackdated,
		core.KindInsufficientStock, core.KindInvalidState:
		return http.StatusBadRequest
	case core.KindPeriodClosed:
		return http.StatusForbidden
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindIdempotencyKeyConflict, core.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, message, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := errorResponse{
		Error:     message,
		Code:      code,
		RequestID: requestIDFromContext(r.Context()),
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// writeDomainError classifies err and writes it with the matching status.
// Internal errors are masked; everything else carries its stable message
// and structured details.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	kind := core.KindOf(err)
	status := statusForKind(kind)

	message := err.Error()
	if kind == core.KindInternal {
		message = "internal error"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := errorResponse{
		Error:     message,
		Code:      string(kind),
		RequestID: requestIDFromContext(r.Context()),
		Details:   core.DetailsOf(err),
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// writeJSON writes a JSON response with status 200.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONStatus writes a JSON response with an explicit status code.
func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeRawJSON writes a pre-encoded JSON body, as captured by the
// idempotency store. Replays must return byte-identical responses.
func writeRawJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
