package models

// SessionSnapshot is one merged view of a session delivered to an
// observer: the session row plus every known viewer row, ordered by
// device id so repeated snapshots are deterministic.
//
// Version increases by one for every underlying row change folded in,
// per observed session, so each subscriber sees a monotonically
// increasing sequence even when intermediate snapshots are coalesced.
type SessionSnapshot struct {
	Version int           `json:"version"`
	Session Session       `json:"session"`
	Viewers []ViewerState `json:"viewers"`
}

// Viewer returns the viewer row for a device, or nil if the device has
// not joined the session (or its row has not replicated yet).
func (s *SessionSnapshot) Viewer(deviceID string) *ViewerState {
	for i := range s.Viewers {
		if s.Viewers[i].DeviceID == deviceID {
			return &s.Viewers[i]
		}
	}
	return nil
}
