package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncslides/core/internal/decks"
	"github.com/syncslides/core/internal/models"
	"github.com/syncslides/core/internal/observability"
	"github.com/syncslides/core/internal/storage"
	"github.com/syncslides/core/internal/syncerr"
)

func testConfig() Config {
	return Config{
		Join: JoinConfig{
			InitialBackoff: time.Millisecond,
			MaxBackoff:     10 * time.Millisecond,
			MaxAttempts:    8,
		},
		Quiescence:        100 * time.Millisecond,
		InactivityTimeout: 30 * time.Minute,
	}
}

type fixture struct {
	t   *testing.T
	net *storage.Network
	log *observability.Logger
}

func newFixture(t *testing.T) *fixture {
	return &fixture{
		t:   t,
		net: storage.NewNetwork(),
		log: observability.NewLogger("test", observability.LevelError),
	}
}

// manager builds a device's session manager over its own guarded
// replica, the way the daemon wires it.
func (f *fixture) manager(deviceID string) *Manager {
	owned := storage.NewOwned(f.net.Replica(deviceID), deviceID)
	m := NewManager(owned, decks.NewRepository(owned), deviceID, f.log, nil, testConfig())
	f.t.Cleanup(m.Close)
	return m
}

// publishDeck seeds a deck on the given device and lets it replicate.
func (f *fixture) publishDeck(deviceID, deckID string, slideCount int) {
	f.t.Helper()
	deck, err := models.NewDeck(deckID, "Test Deck", deviceID, slideCount)
	require.NoError(f.t, err)

	slides := make([]models.Slide, slideCount)
	for i := range slides {
		slides[i] = models.Slide{DeckID: deckID, Index: i, ContentRef: "blob://slide"}
	}
	repo := decks.NewRepository(f.net.Replica(deviceID))
	require.NoError(f.t, repo.Publish(context.Background(), deck, slides))
}

func TestCreateSession(t *testing.T) {
	ctx := context.Background()

	t.Run("creates a live session on slide 0 with a presenter row", func(t *testing.T) {
		f := newFixture(t)
		f.publishDeck("device-a", "deck-1", 10)
		m := f.manager("device-a")

		session, err := m.CreateSession(ctx, "deck-1")
		require.NoError(t, err)

		assert.Equal(t, models.SessionLive, session.State)
		assert.Equal(t, 0, session.CurrentSlideIndex)
		assert.Equal(t, "device-a", session.PresenterDeviceID)

		viewer, err := m.readOwnViewer(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RolePresenter, viewer.Role)
		assert.Equal(t, 0, viewer.CurrentSlideIndex)
	})

	t.Run("unknown deck is not found", func(t *testing.T) {
		f := newFixture(t)
		m := f.manager("device-a")

		_, err := m.CreateSession(ctx, "deck-nope")
		assert.True(t, syncerr.IsNotFound(err))
	})

	t.Run("empty deck is a validation error", func(t *testing.T) {
		f := newFixture(t)
		f.publishDeck("device-a", "deck-empty", 0)
		m := f.manager("device-a")

		_, err := m.CreateSession(ctx, "deck-empty")
		assert.True(t, syncerr.IsValidation(err))
	})
}

func TestJoinSession(t *testing.T) {
	ctx := context.Background()

	t.Run("joins as follower at the presenter's slide", func(t *testing.T) {
		f := newFixture(t)
		f.publishDeck("device-a", "deck-1", 10)
		presenter := f.manager("device-a")
		follower := f.manager("device-b")

		session, err := presenter.CreateSession(ctx, "deck-1")
		require.NoError(t, err)
		require.NoError(t, presenter.AdvanceTo(ctx, session.ID, 4))

		joined, err := follower.JoinSession(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, 4, joined.CurrentSlideIndex)

		viewer, err := follower.readOwnViewer(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RoleFollower, viewer.Role)
		assert.Equal(t, 4, viewer.CurrentSlideIndex)
	})

	t.Run("rides out replication lag with backoff", func(t *testing.T) {
		f := newFixture(t)
		f.net.SetAutoPropagate(false)
		f.publishDeck("device-a", "deck-1", 10)
		f.net.Flush()
		presenter := f.manager("device-a")
		follower := f.manager("device-b")

		session, err := presenter.CreateSession(ctx, "deck-1")
		require.NoError(t, err)

		// The session row reaches device-b only after the join has
		// already failed a few lookups.
		flushed := time.AfterFunc(10*time.Millisecond, f.net.Flush)
		defer flushed.Stop()

		joined, err := follower.JoinSession(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, session.ID, joined.ID)
	})

	t.Run("gives up with not found once attempts run out", func(t *testing.T) {
		f := newFixture(t)
		follower := f.manager("device-b")

		start := time.Now()
		_, err := follower.JoinSession(ctx, "session-that-never-replicates")
		assert.True(t, syncerr.IsNotFound(err))
		assert.Less(t, time.Since(start), 2*time.Second)
	})

	t.Run("respects context cancellation during backoff", func(t *testing.T) {
		f := newFixture(t)
		follower := f.manager("device-b")

		joinCtx, cancel := context.WithTimeout(ctx, 5*time.Millisecond)
		defer cancel()

		_, err := follower.JoinSession(joinCtx, "session-that-never-replicates")
		assert.Error(t, err)
	})
}

func TestAdvanceTo(t *testing.T) {
	ctx := context.Background()

	t.Run("presenter moves the session", func(t *testing.T) {
		f := newFixture(t)
		f.publishDeck("device-a", "deck-1", 10)
		m := f.manager("device-a")

		session, err := m.CreateSession(ctx, "deck-1")
		require.NoError(t, err)

		require.NoError(t, m.AdvanceTo(ctx, session.ID, 5))

		got, err := m.GetSession(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, 5, got.CurrentSlideIndex)

		viewer, err := m.readOwnViewer(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, 5, viewer.CurrentSlideIndex)
	})

	t.Run("out of bounds index fails and leaves the session unchanged", func(t *testing.T) {
		f := newFixture(t)
		f.publishDeck("device-a", "deck-1", 10)
		m := f.manager("device-a")

		session, err := m.CreateSession(ctx, "deck-1")
		require.NoError(t, err)
		require.NoError(t, m.AdvanceTo(ctx, session.ID, 5))

		err = m.AdvanceTo(ctx, session.ID, 12)
		assert.True(t, syncerr.IsValidation(err))
		err = m.AdvanceTo(ctx, session.ID, -1)
		assert.True(t, syncerr.IsValidation(err))
		err = m.AdvanceTo(ctx, session.ID, 10)
		assert.True(t, syncerr.IsValidation(err), "slide count is exclusive")

		got, err := m.GetSession(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, 5, got.CurrentSlideIndex)
	})

	t.Run("non-presenter browses without touching the session", func(t *testing.T) {
		f := newFixture(t)
		f.publishDeck("device-a", "deck-1", 10)
		presenter := f.manager("device-a")
		other := f.manager("device-b")

		session, err := presenter.CreateSession(ctx, "deck-1")
		require.NoError(t, err)
		_, err = other.JoinSession(ctx, session.ID)
		require.NoError(t, err)

		require.NoError(t, other.AdvanceTo(ctx, session.ID, 7))

		got, err := presenter.GetSession(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, got.CurrentSlideIndex, "session row belongs to the presenter")

		viewer, err := other.readOwnViewer(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RoleBrowsing, viewer.Role)
		assert.Equal(t, 7, viewer.CurrentSlideIndex)
	})

	t.Run("ended session rejects navigation", func(t *testing.T) {
		f := newFixture(t)
		f.publishDeck("device-a", "deck-1", 10)
		m := f.manager("device-a")

		session, err := m.CreateSession(ctx, "deck-1")
		require.NoError(t, err)
		require.NoError(t, m.EndSession(ctx, session.ID))

		err = m.AdvanceTo(ctx, session.ID, 1)
		assert.True(t, syncerr.IsValidation(err))
	})
}

func TestSetRole(t *testing.T) {
	ctx := context.Background()

	t.Run("browsing decouples and following snaps back", func(t *testing.T) {
		f := newFixture(t)
		f.publishDeck("device-a", "deck-1", 10)
		presenter := f.manager("device-a")
		follower := f.manager("device-b")

		session, err := presenter.CreateSession(ctx, "deck-1")
		require.NoError(t, err)
		_, err = follower.JoinSession(ctx, session.ID)
		require.NoError(t, err)

		require.NoError(t, follower.SetRole(ctx, session.ID, models.RoleBrowsing))
		require.NoError(t, follower.AdvanceTo(ctx, session.ID, 2))
		require.NoError(t, presenter.AdvanceTo(ctx, session.ID, 8))

		viewer, err := follower.readOwnViewer(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, viewer.CurrentSlideIndex, "browsing ignores the presenter")

		require.NoError(t, follower.SetRole(ctx, session.ID, models.RoleFollower))

		viewer, err = follower.readOwnViewer(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RoleFollower, viewer.Role)
		assert.Equal(t, 8, viewer.CurrentSlideIndex, "rejoining snaps to the presenter")
	})

	t.Run("rejects presenter and unknown roles", func(t *testing.T) {
		f := newFixture(t)
		f.publishDeck("device-a", "deck-1", 10)
		presenter := f.manager("device-a")
		follower := f.manager("device-b")

		session, err := presenter.CreateSession(ctx, "deck-1")
		require.NoError(t, err)
		_, err = follower.JoinSession(ctx, session.ID)
		require.NoError(t, err)

		err = follower.SetRole(ctx, session.ID, models.RolePresenter)
		assert.True(t, syncerr.IsValidation(err))
		err = follower.SetRole(ctx, session.ID, models.Role("SPECTATOR"))
		assert.True(t, syncerr.IsValidation(err))
	})

	t.Run("no-op on the presenting device", func(t *testing.T) {
		f := newFixture(t)
		f.publishDeck("device-a", "deck-1", 10)
		m := f.manager("device-a")

		session, err := m.CreateSession(ctx, "deck-1")
		require.NoError(t, err)

		require.NoError(t, m.SetRole(ctx, session.ID, models.RoleBrowsing))

		viewer, err := m.readOwnViewer(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RolePresenter, viewer.Role)
	})
}

func TestEndSession(t *testing.T) {
	ctx := context.Background()

	t.Run("presenter ends the session and drops its viewer row", func(t *testing.T) {
		f := newFixture(t)
		f.publishDeck("device-a", "deck-1", 10)
		m := f.manager("device-a")

		session, err := m.CreateSession(ctx, "deck-1")
		require.NoError(t, err)

		require.NoError(t, m.EndSession(ctx, session.ID))

		got, err := m.GetSession(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, models.SessionEnded, got.State)

		_, err = m.readOwnViewer(ctx, session.ID)
		assert.True(t, syncerr.IsNotFound(err))
	})

	t.Run("non-presenter end is a silent no-op", func(t *testing.T) {
		f := newFixture(t)
		f.publishDeck("device-a", "deck-1", 10)
		presenter := f.manager("device-a")
		other := f.manager("device-b")

		session, err := presenter.CreateSession(ctx, "deck-1")
		require.NoError(t, err)
		_, err = other.JoinSession(ctx, session.ID)
		require.NoError(t, err)

		require.NoError(t, other.EndSession(ctx, session.ID))

		got, err := presenter.GetSession(ctx, session.ID)
		require.NoError(t, err)
		assert.True(t, got.IsLive(), "only the presenter ends a session")
	})

	t.Run("ending twice is idempotent", func(t *testing.T) {
		f := newFixture(t)
		f.publishDeck("device-a", "deck-1", 10)
		m := f.manager("device-a")

		session, err := m.CreateSession(ctx, "deck-1")
		require.NoError(t, err)
		require.NoError(t, m.EndSession(ctx, session.ID))
		require.NoError(t, m.EndSession(ctx, session.ID))
	})
}

func TestObserveSession(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers an immediate snapshot", func(t *testing.T) {
		f := newFixture(t)
		f.publishDeck("device-a", "deck-1", 10)
		m := f.manager("device-a")

		session, err := m.CreateSession(ctx, "deck-1")
		require.NoError(t, err)

		sub, err := m.ObserveSession(ctx, session.ID)
		require.NoError(t, err)
		defer sub.Cancel()

		snap := recvSnapshot(t, sub)
		assert.Equal(t, session.ID, snap.Session.ID)
		require.NotNil(t, snap.Viewer("device-a"))
		assert.Equal(t, models.RolePresenter, snap.Viewer("device-a").Role)
	})

	t.Run("unknown session is not found", func(t *testing.T) {
		f := newFixture(t)
		m := f.manager("device-a")

		_, err := m.ObserveSession(ctx, "session-nope")
		assert.True(t, syncerr.IsNotFound(err))
	})

	t.Run("versions increase monotonically across changes", func(t *testing.T) {
		f := newFixture(t)
		f.publishDeck("device-a", "deck-1", 10)
		m := f.manager("device-a")

		session, err := m.CreateSession(ctx, "deck-1")
		require.NoError(t, err)

		sub, err := m.ObserveSession(ctx, session.ID)
		require.NoError(t, err)
		defer sub.Cancel()

		last := recvSnapshot(t, sub).Version
		for i := 1; i <= 3; i++ {
			require.NoError(t, m.AdvanceTo(ctx, session.ID, i))
			snap := waitForSlide(t, sub, i)
			assert.Greater(t, snap.Version, last)
			last = snap.Version
		}
	})

	t.Run("follower device converges to the presenter", func(t *testing.T) {
		f := newFixture(t)
		f.publishDeck("device-a", "deck-1", 10)
		presenter := f.manager("device-a")
		follower := f.manager("device-b")

		session, err := presenter.CreateSession(ctx, "deck-1")
		require.NoError(t, err)
		_, err = follower.JoinSession(ctx, session.ID)
		require.NoError(t, err)

		// The follower's tracker carries the auto-follow behavior.
		sub, err := follower.ObserveSession(ctx, session.ID)
		require.NoError(t, err)
		defer sub.Cancel()

		require.NoError(t, presenter.AdvanceTo(ctx, session.ID, 6))

		assert.Eventually(t, func() bool {
			viewer, err := follower.readOwnViewer(ctx, session.ID)
			return err == nil && viewer.CurrentSlideIndex == 6 && viewer.Role == models.RoleFollower
		}, 2*time.Second, 5*time.Millisecond, "follower row must snap to the presenter's slide")
	})

	t.Run("observers share one tracker per session", func(t *testing.T) {
		f := newFixture(t)
		f.publishDeck("device-a", "deck-1", 10)
		m := f.manager("device-a")

		session, err := m.CreateSession(ctx, "deck-1")
		require.NoError(t, err)

		sub1, err := m.ObserveSession(ctx, session.ID)
		require.NoError(t, err)
		defer sub1.Cancel()
		sub2, err := m.ObserveSession(ctx, session.ID)
		require.NoError(t, err)
		defer sub2.Cancel()

		m.mu.Lock()
		assert.Len(t, m.trackers, 1)
		m.mu.Unlock()

		require.NoError(t, m.AdvanceTo(ctx, session.ID, 3))
		waitForSlide(t, sub1, 3)
		waitForSlide(t, sub2, 3)
	})

	t.Run("slow observer coalesces to the latest snapshot", func(t *testing.T) {
		f := newFixture(t)
		f.publishDeck("device-a", "deck-1", 10)
		m := f.manager("device-a")

		session, err := m.CreateSession(ctx, "deck-1")
		require.NoError(t, err)

		sub, err := m.ObserveSession(ctx, session.ID)
		require.NoError(t, err)
		defer sub.Cancel()

		// Never read between writes; intermediate snapshots may drop but
		// the final state must arrive.
		for i := 1; i <= 5; i++ {
			require.NoError(t, m.AdvanceTo(ctx, session.ID, i))
		}
		snap := waitForSlide(t, sub, 5)
		assert.Equal(t, 5, snap.Session.CurrentSlideIndex)
	})

	t.Run("stream closes after the session ends and goes quiet", func(t *testing.T) {
		f := newFixture(t)
		f.publishDeck("device-a", "deck-1", 10)
		m := f.manager("device-a")

		session, err := m.CreateSession(ctx, "deck-1")
		require.NoError(t, err)

		sub, err := m.ObserveSession(ctx, session.ID)
		require.NoError(t, err)

		require.NoError(t, m.EndSession(ctx, session.ID))

		assert.Eventually(t, func() bool {
			select {
			case _, ok := <-sub.C:
				return !ok
			default:
				return false
			}
		}, 3*time.Second, 10*time.Millisecond, "stream must close after quiescence")
	})

	t.Run("cancel releases the tracker", func(t *testing.T) {
		f := newFixture(t)
		f.publishDeck("device-a", "deck-1", 10)
		m := f.manager("device-a")

		session, err := m.CreateSession(ctx, "deck-1")
		require.NoError(t, err)

		sub, err := m.ObserveSession(ctx, session.ID)
		require.NoError(t, err)
		sub.Cancel()
		sub.Cancel() // safe to repeat

		assert.Eventually(t, func() bool {
			m.mu.Lock()
			defer m.mu.Unlock()
			return len(m.trackers) == 0
		}, 2*time.Second, 5*time.Millisecond)
	})

	t.Run("ended session removes non-presenter viewer rows", func(t *testing.T) {
		f := newFixture(t)
		f.publishDeck("device-a", "deck-1", 10)
		presenter := f.manager("device-a")
		follower := f.manager("device-b")

		session, err := presenter.CreateSession(ctx, "deck-1")
		require.NoError(t, err)
		_, err = follower.JoinSession(ctx, session.ID)
		require.NoError(t, err)

		sub, err := follower.ObserveSession(ctx, session.ID)
		require.NoError(t, err)
		defer sub.Cancel()

		require.NoError(t, presenter.EndSession(ctx, session.ID))

		assert.Eventually(t, func() bool {
			_, err := follower.readOwnViewer(ctx, session.ID)
			return syncerr.IsNotFound(err)
		}, 2*time.Second, 5*time.Millisecond, "follower GCs its own row on observing ENDED")
	})
}

func TestPresentationWalkthrough(t *testing.T) {
	// A 10-slide deck: advance to 5 works, advance to 12 fails and the
	// session stays on 5 for every participant.
	ctx := context.Background()
	f := newFixture(t)
	f.publishDeck("device-a", "deck-1", 10)
	presenter := f.manager("device-a")
	follower := f.manager("device-b")

	session, err := presenter.CreateSession(ctx, "deck-1")
	require.NoError(t, err)
	_, err = follower.JoinSession(ctx, session.ID)
	require.NoError(t, err)

	sub, err := follower.ObserveSession(ctx, session.ID)
	require.NoError(t, err)
	defer sub.Cancel()

	require.NoError(t, presenter.AdvanceTo(ctx, session.ID, 5))
	waitForSlide(t, sub, 5)

	err = presenter.AdvanceTo(ctx, session.ID, 12)
	require.True(t, syncerr.IsValidation(err))

	got, err := follower.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.CurrentSlideIndex)
}

func TestJanitor(t *testing.T) {
	ctx := context.Background()

	t.Run("ends own stale sessions", func(t *testing.T) {
		f := newFixture(t)
		f.publishDeck("device-a", "deck-1", 10)
		m := f.manager("device-a")

		session, err := m.CreateSession(ctx, "deck-1")
		require.NoError(t, err)

		// Pretend the inactivity window has long passed.
		m.now = func() time.Time { return time.Now().Add(time.Hour) }
		m.sweepInactive(ctx)

		got, err := m.GetSession(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, models.SessionEnded, got.State)
	})

	t.Run("leaves other presenters' sessions alone", func(t *testing.T) {
		f := newFixture(t)
		f.publishDeck("device-a", "deck-1", 10)
		presenter := f.manager("device-a")
		other := f.manager("device-b")

		session, err := presenter.CreateSession(ctx, "deck-1")
		require.NoError(t, err)

		other.now = func() time.Time { return time.Now().Add(time.Hour) }
		other.sweepInactive(ctx)

		got, err := presenter.GetSession(ctx, session.ID)
		require.NoError(t, err)
		assert.True(t, got.IsLive())
	})

	t.Run("leaves fresh sessions alone", func(t *testing.T) {
		f := newFixture(t)
		f.publishDeck("device-a", "deck-1", 10)
		m := f.manager("device-a")

		session, err := m.CreateSession(ctx, "deck-1")
		require.NoError(t, err)

		m.sweepInactive(ctx)

		got, err := m.GetSession(ctx, session.ID)
		require.NoError(t, err)
		assert.True(t, got.IsLive())
	})
}

func TestOfflineOperation(t *testing.T) {
	// A partitioned device keeps working against its local replica and
	// everything reconciles on reattach.
	ctx := context.Background()
	f := newFixture(t)
	f.publishDeck("device-a", "deck-1", 10)
	presenter := f.manager("device-a")
	follower := f.manager("device-b")

	session, err := presenter.CreateSession(ctx, "deck-1")
	require.NoError(t, err)
	_, err = follower.JoinSession(ctx, session.ID)
	require.NoError(t, err)

	f.net.SetPartitioned("device-b", true)

	// Presenter keeps moving; the partitioned device browses locally.
	require.NoError(t, presenter.AdvanceTo(ctx, session.ID, 8))
	require.NoError(t, follower.AdvanceTo(ctx, session.ID, 2))

	got, err := follower.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.CurrentSlideIndex, "stale local view while offline")

	f.net.SetPartitioned("device-b", false)

	got, err = follower.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, got.CurrentSlideIndex, "reattach reconciles the session row")

	viewer, err := presenter.store.Get(ctx, "ViewerState", session.ID+"/device-b")
	require.NoError(t, err)
	assert.Contains(t, string(viewer), `"currentSlideIndex":2`)
}

func recvSnapshot(t *testing.T, sub *Subscription) models.SessionSnapshot {
	t.Helper()
	select {
	case snap, ok := <-sub.C:
		require.True(t, ok, "snapshot stream closed")
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return models.SessionSnapshot{}
	}
}

// waitForSlide reads snapshots until the session reaches the wanted
// slide. Intermediate snapshots may coalesce away.
func waitForSlide(t *testing.T, sub *Subscription, index int) models.SessionSnapshot {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap, ok := <-sub.C:
			require.True(t, ok, "snapshot stream closed")
			if snap.Session.CurrentSlideIndex == index {
				return snap
			}
		case <-deadline:
			t.Fatalf("timed out waiting for slide %d", index)
			return models.SessionSnapshot{}
		}
	}
}
