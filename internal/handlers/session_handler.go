// Package handlers exposes the device-local control API over HTTP.
// The UI on this device drives its session manager through these
// endpoints; nothing here is reachable from other devices.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/syncslides/core/internal/models"
	"github.com/syncslides/core/internal/observability"
	"github.com/syncslides/core/internal/session"
	"github.com/syncslides/core/internal/syncerr"
)

// SessionHandler handles session lifecycle and navigation requests.
type SessionHandler struct {
	manager *session.Manager
	log     *observability.Logger
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(manager *session.Manager, log *observability.Logger) *SessionHandler {
	return &SessionHandler{manager: manager, log: log}
}

// Create starts presenting a deck.
// POST /api/v1/sessions
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, syncerr.Validationf("invalid request body: %v", err))
		return
	}
	if req.DeckID == "" {
		writeError(w, syncerr.Validationf("deckId is required"))
		return
	}

	sess, err := h.manager.CreateSession(r.Context(), req.DeckID)
	if err != nil {
		h.log.WithContext(r.Context()).Warnf("create session failed: %v", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// Join joins a session presented elsewhere. Blocks through the join
// backoff, so a caller racing replication usually gets a 200 rather
// than a 404.
// POST /api/v1/sessions/{sessionID}/join
func (h *SessionHandler) Join(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	sess, err := h.manager.JoinSession(r.Context(), sessionID)
	if err != nil {
		h.log.WithContext(r.Context()).Warnf("join session %s failed: %v", sessionID, err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// Get returns the session row as currently replicated locally.
// GET /api/v1/sessions/{sessionID}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	sess, err := h.manager.GetSession(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// Advance moves to a slide: the whole session when presenting, this
// device only otherwise.
// POST /api/v1/sessions/{sessionID}/advance
func (h *SessionHandler) Advance(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req models.AdvanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, syncerr.Validationf("invalid request body: %v", err))
		return
	}

	if err := h.manager.AdvanceTo(r.Context(), sessionID, req.Index); err != nil {
		h.log.WithContext(r.Context()).Warnf("advance in session %s failed: %v", sessionID, err)
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetRole switches this device between FOLLOWER and BROWSING.
// PUT /api/v1/sessions/{sessionID}/role
func (h *SessionHandler) SetRole(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req models.SetRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, syncerr.Validationf("invalid request body: %v", err))
		return
	}

	if err := h.manager.SetRole(r.Context(), sessionID, req.Role); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// End stops the presentation. A no-op with 204 on non-presenting
// devices.
// POST /api/v1/sessions/{sessionID}/end
func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := h.manager.EndSession(r.Context(), sessionID); err != nil {
		h.log.WithContext(r.Context()).Warnf("end session %s failed: %v", sessionID, err)
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
