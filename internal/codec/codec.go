package codec

import (
	"encoding/json"
	"fmt"

	"github.com/syncslides/core/internal/models"
)

// Entities are stored as JSON row values. Decoding ignores unknown
// fields, so a device running an older build reads rows written by a
// newer one without failing; rolling upgrades only add fields.

// EncodeSession serializes a session row value.
func EncodeSession(s *models.Session) ([]byte, error) {
	return json.Marshal(s)
}

// DecodeSession deserializes a session row value.
func DecodeSession(data []byte) (*models.Session, error) {
	var s models.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding session row: %w", err)
	}
	if s.ID == "" {
		return nil, fmt.Errorf("decoding session row: missing id")
	}
	return &s, nil
}

// EncodeViewerState serializes a viewer row value.
func EncodeViewerState(v *models.ViewerState) ([]byte, error) {
	return json.Marshal(v)
}

// DecodeViewerState deserializes a viewer row value.
func DecodeViewerState(data []byte) (*models.ViewerState, error) {
	var v models.ViewerState
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decoding viewer state row: %w", err)
	}
	if v.SessionID == "" || v.DeviceID == "" {
		return nil, fmt.Errorf("decoding viewer state row: missing session or device id")
	}
	return &v, nil
}

// EncodeDeck serializes a deck row value.
func EncodeDeck(d *models.Deck) ([]byte, error) {
	return json.Marshal(d)
}

// DecodeDeck deserializes a deck row value.
func DecodeDeck(data []byte) (*models.Deck, error) {
	var d models.Deck
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decoding deck row: %w", err)
	}
	if d.ID == "" {
		return nil, fmt.Errorf("decoding deck row: missing id")
	}
	return &d, nil
}

// EncodeSlide serializes a slide row value.
func EncodeSlide(s *models.Slide) ([]byte, error) {
	return json.Marshal(s)
}

// DecodeSlide deserializes a slide row value.
func DecodeSlide(data []byte) (*models.Slide, error) {
	var s models.Slide
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding slide row: %w", err)
	}
	if s.DeckID == "" {
		return nil, fmt.Errorf("decoding slide row: missing deck id")
	}
	return &s, nil
}
