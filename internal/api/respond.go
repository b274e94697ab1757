package api

import (
	"encoding/json"
	"net/http"

	"github.com/carpenike/fitcoach/internal/apperr"
)

// errorBody is the fixed error envelope every endpoint returns on failure
// (§4.9: "all return {status, message} on error").
type errorBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeErr maps err's apperr.Kind to an HTTP status and writes the
// standard error envelope.
func writeErr(w http.ResponseWriter, op string, err error) {
	kind := apperr.KindOf(err)
	writeJSON(w, apperr.HTTPStatus(kind), errorBody{Status: "error", Message: err.Error()})
}
