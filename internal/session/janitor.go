package session

import (
	"context"
	"time"

	"github.com/syncslides/core/internal/codec"
)

// RunJanitor periodically ends LIVE sessions presented by this device
// that have seen no presenter write within the inactivity timeout.
// Only the presenting device sweeps: nobody ends another device's
// session, keeping the single-writer discipline intact. Blocks until
// ctx is cancelled.
func (m *Manager) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweepInactive(ctx)
		}
	}
}

func (m *Manager) sweepInactive(ctx context.Context) {
	rows, err := m.store.List(ctx, codec.CollectionSession, "")
	if err != nil {
		m.log.Warnf("janitor sweep failed: %v", err)
		return
	}

	cutoff := m.now().UTC().Add(-m.cfg.InactivityTimeout)
	for _, row := range rows {
		session, err := codec.DecodeSession(row.Value)
		if err != nil {
			continue
		}
		if !session.IsPresenter(m.deviceID) || !session.IsLive() {
			continue
		}
		if session.UpdatedAt.After(cutoff) {
			continue
		}

		m.log.Infof("ending session %s after inactivity", session.ID)
		if err := m.EndSession(ctx, session.ID); err != nil {
			m.log.Warnf("janitor failed to end session %s: %v", session.ID, err)
		}
	}
}
