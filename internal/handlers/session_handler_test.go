package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncslides/core/internal/decks"
	"github.com/syncslides/core/internal/models"
	"github.com/syncslides/core/internal/observability"
	"github.com/syncslides/core/internal/services"
	"github.com/syncslides/core/internal/session"
	"github.com/syncslides/core/internal/storage"
)

type apiFixture struct {
	t       *testing.T
	net     *storage.Network
	manager *session.Manager
	repo    *decks.Repository
	router  chi.Router
}

func newAPIFixture(t *testing.T) *apiFixture {
	net := storage.NewNetwork()
	log := observability.NewLogger("test", observability.LevelError)
	owned := storage.NewOwned(net.Replica("device-a"), "device-a")
	repo := decks.NewRepository(owned)

	manager := session.NewManager(owned, repo, "device-a", log, nil, session.DefaultConfig())
	t.Cleanup(manager.Close)

	sessionHandler := NewSessionHandler(manager, log)
	deckHandler := NewDeckHandler(repo, "device-a", log)
	wsHandler := NewWebSocketHandler(services.NewSessionHub(manager, log), log)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", sessionHandler.Create)
			r.Get("/{sessionID}", sessionHandler.Get)
			r.Post("/{sessionID}/join", sessionHandler.Join)
			r.Post("/{sessionID}/advance", sessionHandler.Advance)
			r.Put("/{sessionID}/role", sessionHandler.SetRole)
			r.Post("/{sessionID}/end", sessionHandler.End)
			r.Get("/{sessionID}/observe", wsHandler.Observe)
		})
		r.Route("/decks", func(r chi.Router) {
			r.Post("/", deckHandler.Publish)
			r.Get("/{deckID}", deckHandler.Get)
			r.Get("/{deckID}/slides/{index}", deckHandler.GetSlide)
		})
	})

	return &apiFixture{t: t, net: net, manager: manager, repo: repo, router: r}
}

func (f *apiFixture) publishDeck(deckID string, slideCount int) {
	f.t.Helper()
	deck, err := models.NewDeck(deckID, "Test Deck", "device-a", slideCount)
	require.NoError(f.t, err)
	slides := make([]models.Slide, slideCount)
	for i := range slides {
		slides[i] = models.Slide{DeckID: deckID, Index: i, ContentRef: "blob://slide"}
	}
	require.NoError(f.t, f.repo.Publish(context.Background(), deck, slides))
}

func (f *apiFixture) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	f.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(f.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) createSession(deckID string) models.Session {
	f.t.Helper()
	rec := f.do(http.MethodPost, "/api/v1/sessions", models.CreateSessionRequest{DeckID: deckID})
	require.Equal(f.t, http.StatusCreated, rec.Code, rec.Body.String())

	var session models.Session
	require.NoError(f.t, json.Unmarshal(rec.Body.Bytes(), &session))
	return session
}

func TestSessionAPI(t *testing.T) {
	t.Run("create returns the new session", func(t *testing.T) {
		f := newAPIFixture(t)
		f.publishDeck("deck-1", 10)

		session := f.createSession("deck-1")
		assert.Equal(t, "deck-1", session.DeckID)
		assert.Equal(t, models.SessionLive, session.State)
	})

	t.Run("create with unknown deck is 404", func(t *testing.T) {
		f := newAPIFixture(t)
		rec := f.do(http.MethodPost, "/api/v1/sessions", models.CreateSessionRequest{DeckID: "deck-nope"})
		assert.Equal(t, http.StatusNotFound, rec.Code)

		var resp models.ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.Error)
	})

	t.Run("create without a deck id is 422", func(t *testing.T) {
		f := newAPIFixture(t)
		rec := f.do(http.MethodPost, "/api/v1/sessions", models.CreateSessionRequest{})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("get returns the session", func(t *testing.T) {
		f := newAPIFixture(t)
		f.publishDeck("deck-1", 10)
		session := f.createSession("deck-1")

		rec := f.do(http.MethodGet, "/api/v1/sessions/"+session.ID, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("advance moves the session", func(t *testing.T) {
		f := newAPIFixture(t)
		f.publishDeck("deck-1", 10)
		session := f.createSession("deck-1")

		rec := f.do(http.MethodPost, fmt.Sprintf("/api/v1/sessions/%s/advance", session.ID), models.AdvanceRequest{Index: 5})
		assert.Equal(t, http.StatusNoContent, rec.Code)

		rec = f.do(http.MethodGet, "/api/v1/sessions/"+session.ID, nil)
		var got models.Session
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, 5, got.CurrentSlideIndex)
	})

	t.Run("advance out of bounds is 422 and leaves the session alone", func(t *testing.T) {
		f := newAPIFixture(t)
		f.publishDeck("deck-1", 10)
		session := f.createSession("deck-1")

		rec := f.do(http.MethodPost, fmt.Sprintf("/api/v1/sessions/%s/advance", session.ID), models.AdvanceRequest{Index: 12})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

		rec = f.do(http.MethodGet, "/api/v1/sessions/"+session.ID, nil)
		var got models.Session
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, 0, got.CurrentSlideIndex)
	})

	t.Run("end stops the session", func(t *testing.T) {
		f := newAPIFixture(t)
		f.publishDeck("deck-1", 10)
		session := f.createSession("deck-1")

		rec := f.do(http.MethodPost, fmt.Sprintf("/api/v1/sessions/%s/end", session.ID), nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		rec = f.do(http.MethodGet, "/api/v1/sessions/"+session.ID, nil)
		var got models.Session
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, models.SessionEnded, got.State)
	})

	t.Run("invalid role is 422", func(t *testing.T) {
		f := newAPIFixture(t)
		f.publishDeck("deck-1", 10)
		session := f.createSession("deck-1")

		rec := f.do(http.MethodPut, fmt.Sprintf("/api/v1/sessions/%s/role", session.ID), models.SetRoleRequest{Role: "SPECTATOR"})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
}

func TestDeckAPI(t *testing.T) {
	t.Run("publish then fetch deck and slides", func(t *testing.T) {
		f := newAPIFixture(t)

		rec := f.do(http.MethodPost, "/api/v1/decks", models.PublishDeckRequest{
			ID:    "deck-1",
			Title: "Quarterly Review",
			Slides: []models.SlideSpec{
				{ContentRef: "blob://deck-1/0"},
				{ContentRef: "blob://deck-1/1", Notes: "remember the demo"},
			},
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		rec = f.do(http.MethodGet, "/api/v1/decks/deck-1", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		var deck models.Deck
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &deck))
		assert.Equal(t, 2, deck.SlideCount)

		rec = f.do(http.MethodGet, "/api/v1/decks/deck-1/slides/1", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		var slide models.Slide
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &slide))
		assert.Equal(t, "remember the demo", slide.Notes)
	})

	t.Run("publish without a title is 422", func(t *testing.T) {
		f := newAPIFixture(t)
		rec := f.do(http.MethodPost, "/api/v1/decks", models.PublishDeckRequest{ID: "deck-1"})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("unknown deck is 404", func(t *testing.T) {
		f := newAPIFixture(t)
		rec := f.do(http.MethodGet, "/api/v1/decks/deck-nope", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("non-numeric slide index is 422", func(t *testing.T) {
		f := newAPIFixture(t)
		rec := f.do(http.MethodGet, "/api/v1/decks/deck-1/slides/three", nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
}
