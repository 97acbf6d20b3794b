package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/syncslides/core/internal/models"
	"github.com/syncslides/core/internal/syncerr"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the core error taxonomy onto HTTP statuses:
// NotFound -> 404 (retryable under eventual consistency), Validation
// -> 422, Connectivity -> 503 (device offline), Permission -> 403.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case syncerr.IsNotFound(err):
		status = http.StatusNotFound
	case syncerr.IsValidation(err):
		status = http.StatusUnprocessableEntity
	case syncerr.IsConnectivity(err):
		status = http.StatusServiceUnavailable
	case syncerr.IsPermission(err):
		status = http.StatusForbidden
	}
	writeJSON(w, status, models.ErrorResponse{Error: err.Error()})
}
