// Package services bridges the session core to the device UI over
// WebSocket: each connected client observes one session and receives
// its snapshot stream as JSON messages.
package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/syncslides/core/internal/observability"
	"github.com/syncslides/core/internal/session"
)

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// Message types
const (
	WSTypeSnapshot      = "session_snapshot"
	WSTypeSessionClosed = "session_closed"
	WSTypeError         = "error"
	WSTypePing          = "ping"
	WSTypePong          = "pong"
)

// WSClient represents one connected UI client observing a session.
type WSClient struct {
	ID        string
	SessionID string
	Conn      *websocket.Conn
	Send      chan []byte

	hub        *SessionHub
	mu         sync.Mutex // serializes connection writes
	sendMu     sync.Mutex // guards Send channel state
	closing    bool
	closedOnce sync.Once
}

// trySend queues a message without blocking. Returns false when the
// client is shutting down or its buffer is full.
func (c *WSClient) trySend(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closing {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// shutdown closes the send channel so WritePump drains the queue and
// then closes the connection. Safe to call more than once.
func (c *WSClient) shutdown() {
	c.sendMu.Lock()
	if !c.closing {
		c.closing = true
		close(c.Send)
	}
	c.sendMu.Unlock()
}

// SessionHub fans session snapshot streams out to WebSocket clients.
// All clients observing the same session share one ObserveSession
// subscription.
type SessionHub struct {
	manager *session.Manager
	log     *observability.Logger

	mu      sync.Mutex
	bridges map[string]*sessionBridge
}

type sessionBridge struct {
	sub     *session.Subscription
	clients map[*WSClient]bool
}

// NewSessionHub creates a hub over the session manager.
func NewSessionHub(manager *session.Manager, log *observability.Logger) *SessionHub {
	return &SessionHub{
		manager: manager,
		log:     log,
		bridges: make(map[string]*sessionBridge),
	}
}

// NewClient creates a client for a connection observing sessionID.
func (h *SessionHub) NewClient(id, sessionID string, conn *websocket.Conn) *WSClient {
	return &WSClient{
		ID:        id,
		SessionID: sessionID,
		Conn:      conn,
		Send:      make(chan []byte, 256),
		hub:       h,
	}
}

// Attach registers a client and starts (or joins) the snapshot bridge
// for its session.
func (h *SessionHub) Attach(client *WSClient) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	bridge, ok := h.bridges[client.SessionID]
	if !ok {
		sub, err := h.manager.ObserveSession(context.Background(), client.SessionID)
		if err != nil {
			return err
		}
		bridge = &sessionBridge{
			sub:     sub,
			clients: make(map[*WSClient]bool),
		}
		h.bridges[client.SessionID] = bridge
		go h.pump(client.SessionID, bridge)
	}
	bridge.clients[client] = true
	h.log.Debugf("ws client %s observing session %s", client.ID, client.SessionID)
	return nil
}

// Detach removes a client; the last client of a session cancels the
// underlying observation.
func (h *SessionHub) Detach(client *WSClient) {
	h.mu.Lock()
	bridge, ok := h.bridges[client.SessionID]
	if ok {
		delete(bridge.clients, client)
		if len(bridge.clients) == 0 {
			delete(h.bridges, client.SessionID)
			bridge.sub.Cancel()
		}
	}
	h.mu.Unlock()
	h.log.Debugf("ws client %s detached from session %s", client.ID, client.SessionID)
}

// pump forwards one session's snapshot stream to its clients until
// the stream closes.
func (h *SessionHub) pump(sessionID string, bridge *sessionBridge) {
	for snap := range bridge.sub.C {
		h.broadcast(bridge, WSMessage{Type: WSTypeSnapshot, Payload: snap})
	}

	// Stream over: session ended and went quiet, or the manager shut
	// down. Tell clients and drop the bridge.
	h.mu.Lock()
	if h.bridges[sessionID] == bridge {
		delete(h.bridges, sessionID)
	}
	clients := make([]*WSClient, 0, len(bridge.clients))
	for c := range bridge.clients {
		clients = append(clients, c)
	}
	bridge.clients = make(map[*WSClient]bool)
	h.mu.Unlock()

	data, _ := json.Marshal(WSMessage{Type: WSTypeSessionClosed})
	for _, c := range clients {
		c.trySend(data)
		// Let WritePump drain the close notice before the connection
		// drops.
		c.shutdown()
	}
}

func (h *SessionHub) broadcast(bridge *sessionBridge, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Errorf("marshaling ws message: %v", err)
		return
	}

	h.mu.Lock()
	var slow []*WSClient
	for c := range bridge.clients {
		if !c.trySend(data) {
			// Client buffer full; drop it rather than stall the stream.
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		delete(bridge.clients, c)
	}
	h.mu.Unlock()

	for _, c := range slow {
		c.Close()
	}
}

// WSClient methods

// Close closes the client connection
func (c *WSClient) Close() {
	c.closedOnce.Do(func() {
		c.hub.Detach(c)
		c.shutdown()
		c.Conn.Close()
	})
}

// WritePump pumps messages from the hub to the websocket connection
func (c *WSClient) WritePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			c.mu.Lock()
			err := c.Conn.WriteMessage(websocket.TextMessage, message)
			c.mu.Unlock()

			if err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReadPump drains the websocket connection until it closes, answering
// pings. Observation is read-only; navigation goes through the HTTP
// API.
func (c *WSClient) ReadPump(log *observability.Logger) {
	defer c.Close()

	c.Conn.SetReadLimit(64 * 1024)
	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debugf("ws read error: %v", err)
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Type == WSTypePing {
			data, _ := json.Marshal(WSMessage{Type: WSTypePong})
			c.trySend(data)
		}
	}
}
