package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/syncslides/core/internal/decks"
	"github.com/syncslides/core/internal/models"
	"github.com/syncslides/core/internal/observability"
	"github.com/syncslides/core/internal/syncerr"
)

// DeckHandler handles deck and slide lookups plus local publishing.
type DeckHandler struct {
	repo     *decks.Repository
	deviceID string
	log      *observability.Logger
}

// NewDeckHandler creates a deck handler publishing as deviceID.
func NewDeckHandler(repo *decks.Repository, deviceID string, log *observability.Logger) *DeckHandler {
	return &DeckHandler{repo: repo, deviceID: deviceID, log: log}
}

// Get returns deck metadata.
// GET /api/v1/decks/{deckID}
func (h *DeckHandler) Get(w http.ResponseWriter, r *http.Request) {
	deckID := chi.URLParam(r, "deckID")

	deck, err := h.repo.GetDeck(r.Context(), deckID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deck)
}

// GetSlide returns one slide of a deck.
// GET /api/v1/decks/{deckID}/slides/{index}
func (h *DeckHandler) GetSlide(w http.ResponseWriter, r *http.Request) {
	deckID := chi.URLParam(r, "deckID")
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, syncerr.Validationf("slide index must be an integer"))
		return
	}

	slide, err := h.repo.GetSlide(r.Context(), deckID, index)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, slide)
}

// Publish writes a deck and its slides into the local replica.
// POST /api/v1/decks
func (h *DeckHandler) Publish(w http.ResponseWriter, r *http.Request) {
	var req models.PublishDeckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, syncerr.Validationf("invalid request body: %v", err))
		return
	}

	deck, err := models.NewDeck(req.ID, req.Title, h.deviceID, len(req.Slides))
	if err != nil {
		writeError(w, syncerr.Validationf("%v", err))
		return
	}
	deck.ThumbnailRef = req.ThumbnailRef

	slides := make([]models.Slide, len(req.Slides))
	for i, s := range req.Slides {
		slides[i] = models.Slide{
			DeckID:     deck.ID,
			Index:      i,
			ContentRef: s.ContentRef,
			Notes:      s.Notes,
		}
	}

	if err := h.repo.Publish(r.Context(), deck, slides); err != nil {
		h.log.WithContext(r.Context()).Warnf("publish deck %s failed: %v", req.ID, err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, deck)
}
