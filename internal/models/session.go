package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SessionState is the lifecycle state of a presentation session.
type SessionState string

const (
	SessionLive  SessionState = "LIVE"
	SessionEnded SessionState = "ENDED"
)

// Session is one live instance of a presenter walking through a deck.
// The row is written only by the device matching PresenterDeviceID;
// every other participant replicates it read-only. CurrentSlideIndex
// carries the presenter's position, which followers track.
type Session struct {
	ID                string       `json:"id"`
	DeckID            string       `json:"deckId"`
	PresenterDeviceID string       `json:"presenterDeviceId"`
	State             SessionState `json:"state"`
	CurrentSlideIndex int          `json:"currentSlideIndex"`
	CreatedAt         time.Time    `json:"createdAt"`
	UpdatedAt         time.Time    `json:"updatedAt"`
}

// NewSession creates a LIVE session on slide 0 presented by the given
// device.
func NewSession(deckID, presenterDeviceID string, now time.Time) (*Session, error) {
	if strings.TrimSpace(deckID) == "" {
		return nil, ErrEmptySessionDeck
	}
	if strings.TrimSpace(presenterDeviceID) == "" {
		return nil, ErrEmptySessionPresenter
	}
	return &Session{
		ID:                NewSessionID(presenterDeviceID, now),
		DeckID:            deckID,
		PresenterDeviceID: presenterDeviceID,
		State:             SessionLive,
		CurrentSlideIndex: 0,
		CreatedAt:         now.UTC(),
		UpdatedAt:         now.UTC(),
	}, nil
}

// NewSessionID derives a globally unique session id from the creating
// device, the creation time, and a short random suffix. The device id
// and timestamp alone keep ids from independently-created sessions
// apart; the suffix covers two sessions created in the same tick.
func NewSessionID(deviceID string, now time.Time) string {
	suffix := uuid.New().String()[:8]
	return fmt.Sprintf("%s-%d-%s", deviceID, now.UTC().UnixMilli(), suffix)
}

// IsLive reports whether the session is still running.
func (s *Session) IsLive() bool {
	return s.State == SessionLive
}

// IsPresenter reports whether deviceID drives this session.
func (s *Session) IsPresenter(deviceID string) bool {
	return s.PresenterDeviceID == deviceID
}

// Errors
type SessionError struct {
	Message string
}

func (e SessionError) Error() string {
	return e.Message
}

var (
	ErrEmptySessionDeck      = SessionError{"session deck id cannot be empty"}
	ErrEmptySessionPresenter = SessionError{"session presenter device id cannot be empty"}
)
