package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"inferd/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
// The manager and engine error types all satisfy it.
type HTTPError interface {
	error
	StatusCode() int
}

// errorStatus maps a service error to an HTTP status code. Errors without a
// code of their own (runtime step failures and the like) become a 500.
func errorStatus(err error) int {
	var he HTTPError
	if errors.As(err, &he) {
		return he.StatusCode()
	}
	return http.StatusInternalServerError
}

// writeError maps err to a status and writes the JSON error payload.
func writeError(w http.ResponseWriter, err error) {
	status := errorStatus(err)
	if status == http.StatusTooManyRequests {
		IncrementBackpressure("sessions")
	}
	writeJSONError(w, status, err.Error())
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

// writeJSON writes v with the given status. Encode failures are ignored:
// the status line is already on the wire.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
