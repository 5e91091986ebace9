package api

import (
	"encoding/json"
	"net/http"
)

// Error is the JSON body of every non-2xx API response, including a
// rejected WebSocket upgrade.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes returned by the relay API.
const (
	// ErrCodeInvalidRole rejects a missing or unknown role, either as the
	// upgrade query parameter or as the connections filter.
	ErrCodeInvalidRole = "invalid_role"

	ErrCodeUnknownRoute     = "unknown_route"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeInternal         = "internal_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

// writeInvalidRole answers 400 with the role parse error as the message.
func writeInvalidRole(w http.ResponseWriter, err error) {
	writeError(w, http.StatusBadRequest, ErrCodeInvalidRole, err.Error())
}

func writeUnknownRoute(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotFound, ErrCodeUnknownRoute, "no such relay endpoint")
}

func writeMethodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed, "method not allowed")
}

// writeInternalError answers 500 without leaking the cause.
func writeInternalError(w http.ResponseWriter) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, "relay internal error")
}
