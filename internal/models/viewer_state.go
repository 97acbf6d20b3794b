package models

import "time"

// Role describes how a device participates in a session.
type Role string

const (
	// RolePresenter drives Session.CurrentSlideIndex. Exactly one
	// device holds it per LIVE session, by convention: only the device
	// matching Session.PresenterDeviceID may claim it.
	RolePresenter Role = "PRESENTER"
	// RoleFollower tracks the presenter's slide position.
	RoleFollower Role = "FOLLOWER"
	// RoleBrowsing has decoupled from the presenter and navigates the
	// deck independently.
	RoleBrowsing Role = "BROWSING"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RolePresenter, RoleFollower, RoleBrowsing:
		return true
	}
	return false
}

// ViewerState is one device's personal navigation record within a
// session, keyed by (SessionID, DeviceID). Each device writes only its
// own row, so concurrent viewers never contend on the same key.
type ViewerState struct {
	SessionID         string    `json:"sessionId"`
	DeviceID          string    `json:"deviceId"`
	CurrentSlideIndex int       `json:"currentSlideIndex"`
	Role              Role      `json:"role"`
	LastUpdatedAt     time.Time `json:"lastUpdatedAt"`
}

// NewViewerState creates a viewer row for a device joining a session.
func NewViewerState(sessionID, deviceID string, role Role, slideIndex int, now time.Time) *ViewerState {
	return &ViewerState{
		SessionID:         sessionID,
		DeviceID:          deviceID,
		CurrentSlideIndex: slideIndex,
		Role:              role,
		LastUpdatedAt:     now.UTC(),
	}
}
