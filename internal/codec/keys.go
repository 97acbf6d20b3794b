// Package codec defines the logical row layout shared by every device:
//
//	Session/{sessionId}
//	ViewerState/{sessionId}/{deviceId}
//	Deck/{deckId}
//	Slide/{deckId}/{index}
//
// The layout is stable across versions. Keying viewer rows by
// (sessionId, deviceId) keeps each device's row independently
// addressable, so devices never contend on a shared key.
package codec

import (
	"fmt"
	"strconv"
	"strings"
)

// Collection names of the replicated row set.
const (
	CollectionSession     = "Session"
	CollectionViewerState = "ViewerState"
	CollectionDeck        = "Deck"
	CollectionSlide       = "Slide"
)

// SessionKey returns the row key for a session.
func SessionKey(sessionID string) string {
	return sessionID
}

// ViewerStateKey returns the row key for a device's viewer row.
func ViewerStateKey(sessionID, deviceID string) string {
	return sessionID + "/" + deviceID
}

// ViewerStatePrefix returns the key prefix covering every viewer row
// of a session.
func ViewerStatePrefix(sessionID string) string {
	return sessionID + "/"
}

// ParseViewerStateKey splits a viewer row key into session and device
// ids.
func ParseViewerStateKey(key string) (sessionID, deviceID string, err error) {
	sessionID, deviceID, ok := strings.Cut(key, "/")
	if !ok || sessionID == "" || deviceID == "" {
		return "", "", fmt.Errorf("malformed viewer state key %q", key)
	}
	return sessionID, deviceID, nil
}

// DeckKey returns the row key for a deck.
func DeckKey(deckID string) string {
	return deckID
}

// SlideKey returns the row key for a slide. The index is zero-padded
// so slide rows list in deck order.
func SlideKey(deckID string, index int) string {
	return fmt.Sprintf("%s/%04d", deckID, index)
}

// SlidePrefix returns the key prefix covering every slide of a deck.
func SlidePrefix(deckID string) string {
	return deckID + "/"
}

// ParseSlideKey splits a slide row key into deck id and index.
func ParseSlideKey(key string) (deckID string, index int, err error) {
	deckID, raw, ok := strings.Cut(key, "/")
	if !ok || deckID == "" {
		return "", 0, fmt.Errorf("malformed slide key %q", key)
	}
	index, err = strconv.Atoi(raw)
	if err != nil {
		return "", 0, fmt.Errorf("malformed slide index in key %q", key)
	}
	return deckID, index, nil
}
