package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/syncslides/core/internal/observability"
	"github.com/syncslides/core/internal/services"
)

// WebSocketHandler upgrades UI connections onto session snapshot
// streams.
type WebSocketHandler struct {
	hub      *services.SessionHub
	log      *observability.Logger
	upgrader websocket.Upgrader
}

// NewWebSocketHandler creates a WebSocket handler over the hub.
func NewWebSocketHandler(hub *services.SessionHub, log *observability.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub: hub,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The API only listens on the device; browsers on it may
			// load the UI from any local origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Observe streams merged session snapshots to the client.
// GET /api/v1/sessions/{sessionID}/observe
func (h *WebSocketHandler) Observe(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnf("websocket upgrade failed: %v", err)
		return
	}

	client := h.hub.NewClient(uuid.New().String(), sessionID, conn)
	if err := h.hub.Attach(client); err != nil {
		h.log.Warnf("observing session %s failed: %v", sessionID, err)
		conn.WriteJSON(services.WSMessage{Type: services.WSTypeError, Payload: err.Error()})
		conn.Close()
		return
	}

	go client.WritePump()
	client.ReadPump(h.log)
}
