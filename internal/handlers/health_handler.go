package handlers

import (
	"net/http"
	"time"

	"github.com/syncslides/core/internal/models"
)

// HealthHandler reports liveness of the device-local API.
type HealthHandler struct {
	deviceID string
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(deviceID string) *HealthHandler {
	return &HealthHandler{deviceID: deviceID}
}

// Health returns the health status.
// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.HealthResponse{
		Status:    "healthy",
		DeviceID:  h.deviceID,
		Timestamp: time.Now().UTC(),
	})
}
