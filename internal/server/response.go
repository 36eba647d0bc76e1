package server

import (
	"encoding/json"
	"net/http"

	"github.com/cognition-sh/cognition/internal/cogerror"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes the {"success":true} body the spec's abort route uses.
func writeSuccess(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// writeCogError renders err as a cogerror.Envelope at its mapped HTTP
// status. SSE "error" events use types.ErrorPayload instead.
func writeCogError(w http.ResponseWriter, err error) {
	writeJSON(w, cogerror.HTTPStatus(err), cogerror.ToEnvelope(err))
}
