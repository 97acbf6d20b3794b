// Package decks provides read-mostly access to replicated slide deck
// metadata, independent of any one session.
package decks

import (
	"context"
	"fmt"

	"github.com/syncslides/core/internal/codec"
	"github.com/syncslides/core/internal/models"
	"github.com/syncslides/core/internal/storage"
	"github.com/syncslides/core/internal/syncerr"
)

// Repository looks up decks and slides in the local replica. Lookups
// fail with a NotFoundError until the rows have synced locally.
type Repository struct {
	store storage.Store
}

// NewRepository creates a deck repository over the storage adapter.
func NewRepository(store storage.Store) *Repository {
	return &Repository{store: store}
}

// GetDeck returns the deck metadata for deckID.
func (r *Repository) GetDeck(ctx context.Context, deckID string) (*models.Deck, error) {
	value, err := r.store.Get(ctx, codec.CollectionDeck, codec.DeckKey(deckID))
	if err != nil {
		return nil, err
	}
	return codec.DecodeDeck(value)
}

// GetSlide returns one slide of a deck by index.
func (r *Repository) GetSlide(ctx context.Context, deckID string, index int) (*models.Slide, error) {
	if index < 0 {
		return nil, syncerr.Validationf("slide index %d is negative", index)
	}
	value, err := r.store.Get(ctx, codec.CollectionSlide, codec.SlideKey(deckID, index))
	if err != nil {
		return nil, err
	}
	return codec.DecodeSlide(value)
}

// SlideCount returns the number of slides in a deck.
func (r *Repository) SlideCount(ctx context.Context, deckID string) (int, error) {
	deck, err := r.GetDeck(ctx, deckID)
	if err != nil {
		return 0, err
	}
	return deck.SlideCount, nil
}

// Publish writes a deck and its slides to the local replica. Local
// authoring aid for seeding and tests; once the rows replicate, the
// deck is read-only everywhere else. The slide count recorded on the
// deck row is taken from len(slides), and slide indices must already
// be dense and 0-based.
func (r *Repository) Publish(ctx context.Context, deck *models.Deck, slides []models.Slide) error {
	if deck == nil {
		return syncerr.Validationf("deck cannot be nil")
	}
	for i := range slides {
		if slides[i].DeckID != deck.ID {
			return syncerr.Validationf("slide %d belongs to deck %s, not %s", i, slides[i].DeckID, deck.ID)
		}
		if slides[i].Index != i {
			return syncerr.Validationf("slide indices must be dense and 0-based, got %d at position %d", slides[i].Index, i)
		}
	}

	deck.SlideCount = len(slides)
	value, err := codec.EncodeDeck(deck)
	if err != nil {
		return fmt.Errorf("encoding deck %s: %w", deck.ID, err)
	}
	if err := r.store.Put(ctx, codec.CollectionDeck, codec.DeckKey(deck.ID), value); err != nil {
		return err
	}

	for i := range slides {
		value, err := codec.EncodeSlide(&slides[i])
		if err != nil {
			return fmt.Errorf("encoding slide %d of deck %s: %w", i, deck.ID, err)
		}
		key := codec.SlideKey(deck.ID, slides[i].Index)
		if err := r.store.Put(ctx, codec.CollectionSlide, key, value); err != nil {
			return err
		}
	}
	return nil
}
