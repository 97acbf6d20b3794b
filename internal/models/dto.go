package models

import "time"

// CreateSessionRequest is the request body for starting a presentation.
type CreateSessionRequest struct {
	DeckID string `json:"deckId"`
}

// AdvanceRequest is the request body for moving to a slide.
type AdvanceRequest struct {
	Index int `json:"index"`
}

// SetRoleRequest is the request body for switching between FOLLOWER
// and BROWSING.
type SetRoleRequest struct {
	Role Role `json:"role"`
}

// PublishDeckRequest is the request body for publishing a deck into
// the local replica. Slides are implicitly indexed by their position.
type PublishDeckRequest struct {
	ID           string      `json:"id"`
	Title        string      `json:"title"`
	ThumbnailRef string      `json:"thumbnailRef,omitempty"`
	Slides       []SlideSpec `json:"slides"`
}

// SlideSpec describes one slide of a deck being published.
type SlideSpec struct {
	ContentRef string `json:"contentRef"`
	Notes      string `json:"notes,omitempty"`
}

// ErrorResponse is the JSON error envelope returned by the control API.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status    string    `json:"status"`
	DeviceID  string    `json:"deviceId"`
	Timestamp time.Time `json:"timestamp"`
}
