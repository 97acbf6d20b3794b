package models

import "strings"

// Deck is the metadata for a published slide deck. Decks are immutable
// once published: the owning device writes the rows once and every
// other device replicates them read-only.
type Deck struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	SlideCount   int    `json:"slideCount"`
	ThumbnailRef string `json:"thumbnailRef,omitempty"`
	OwnerDevice  string `json:"ownerDevice"`
}

// Slide is one page of a deck, identified by (DeckID, Index). Index is
// 0-based, dense and stable for the lifetime of the deck.
type Slide struct {
	DeckID     string `json:"deckId"`
	Index      int    `json:"index"`
	ContentRef string `json:"contentRef"`
	Notes      string `json:"notes,omitempty"`
}

// NewDeck creates a deck owned by the given device.
func NewDeck(id, title, ownerDevice string, slideCount int) (*Deck, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrEmptyDeckID
	}
	if strings.TrimSpace(title) == "" {
		return nil, ErrEmptyDeckTitle
	}
	if slideCount < 0 {
		return nil, ErrNegativeSlideCount
	}
	return &Deck{
		ID:          id,
		Title:       title,
		SlideCount:  slideCount,
		OwnerDevice: ownerDevice,
	}, nil
}

// ContainsSlide reports whether index is a valid slide position.
func (d *Deck) ContainsSlide(index int) bool {
	return index >= 0 && index < d.SlideCount
}

// Errors
type DeckError struct {
	Message string
}

func (e DeckError) Error() string {
	return e.Message
}

var (
	ErrEmptyDeckID        = DeckError{"deck id cannot be empty"}
	ErrEmptyDeckTitle     = DeckError{"deck title cannot be empty"}
	ErrNegativeSlideCount = DeckError{"slide count cannot be negative"}
)
