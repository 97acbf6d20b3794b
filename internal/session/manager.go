// Package session owns the lifecycle of live presentation sessions:
// creation, join, navigation, role changes, observation and teardown.
//
// Correctness rests on row ownership, not locking: every replicated
// row has exactly one writer (the session row belongs to the
// presenter, each viewer row to its device), so last-writer-wins at
// the substrate never merges concurrent edits to the same row in
// normal operation. If two devices both believe they are presenter
// after a reconnection race, last write wins and followers converge
// once replication settles; availability is chosen over strict
// single-writer enforcement on purpose.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/syncslides/core/internal/codec"
	"github.com/syncslides/core/internal/decks"
	"github.com/syncslides/core/internal/models"
	"github.com/syncslides/core/internal/observability"
	"github.com/syncslides/core/internal/storage"
	"github.com/syncslides/core/internal/syncerr"
)

// JoinConfig bounds the retry loop that rides out a join racing the
// session row's replication.
type JoinConfig struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxAttempts    int
}

// Config holds the session manager tunables.
type Config struct {
	Join JoinConfig
	// Quiescence is how long an observer keeps listening after the
	// session reaches ENDED before its stream closes.
	Quiescence time.Duration
	// InactivityTimeout ends a LIVE session presented by this device
	// when no presenter write lands within the window.
	InactivityTimeout time.Duration
}

// DefaultConfig returns the production defaults: join backoff starting
// at 100ms doubling to a 2s cap over 8 attempts (~6s worst case), a 5s
// post-ENDED quiescence window, and a 30m inactivity timeout.
func DefaultConfig() Config {
	return Config{
		Join: JoinConfig{
			InitialBackoff: 100 * time.Millisecond,
			MaxBackoff:     2 * time.Second,
			MaxAttempts:    8,
		},
		Quiescence:        5 * time.Second,
		InactivityTimeout: 30 * time.Minute,
	}
}

// Manager is the session API consumed by the presentation UI layer.
// One Manager runs per device, bound to that device's replica.
type Manager struct {
	store    storage.Store
	decks    *decks.Repository
	deviceID string
	log      *observability.Logger
	metrics  *observability.SessionMetrics
	cfg      Config
	now      func() time.Time

	mu       sync.Mutex
	trackers map[string]*tracker
}

// NewManager creates a session manager writing as deviceID. The store
// should already be wrapped with the ownership guard for the same
// device; metrics may be nil.
func NewManager(store storage.Store, deckRepo *decks.Repository, deviceID string, log *observability.Logger, metrics *observability.SessionMetrics, cfg Config) *Manager {
	return &Manager{
		store:    store,
		decks:    deckRepo,
		deviceID: deviceID,
		log:      log.WithField("device_id", deviceID),
		metrics:  metrics,
		cfg:      cfg,
		now:      time.Now,
		trackers: make(map[string]*tracker),
	}
}

// DeviceID returns the device this manager writes as.
func (m *Manager) DeviceID() string {
	return m.deviceID
}

// CreateSession starts presenting a locally available deck: it
// allocates a fresh session on slide 0 with this device as presenter
// and claims the PRESENTER viewer row. Fails with a NotFoundError when
// the deck is unknown locally and a ValidationError when the deck has
// no slides.
func (m *Manager) CreateSession(ctx context.Context, deckID string) (*models.Session, error) {
	ctx, span := observability.StartSessionSpan(ctx, "create", observability.DeckID(deckID))
	defer span.End()

	deck, err := m.decks.GetDeck(ctx, deckID)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	if deck.SlideCount == 0 {
		err := syncerr.Validationf("deck %s has no slides", deckID)
		observability.RecordError(span, err)
		return nil, err
	}

	session, err := models.NewSession(deckID, m.deviceID, m.now())
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	if err := m.putSession(ctx, session); err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	if err := m.putOwnViewer(ctx, session.ID, models.RolePresenter, 0); err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	m.metrics.RecordSessionCreated(ctx, deckID)
	m.log.WithContext(ctx).Infof("created session %s for deck %s", session.ID, deckID)
	observability.SetSuccess(span)
	return session, nil
}

// JoinSession joins a session another device is presenting, writing
// this device's viewer row as FOLLOWER at the presenter's current
// slide.
//
// A join racing the session row's replication is normal, so a missing
// row is retried with bounded exponential backoff (Config.Join,
// default 100ms doubling to 2s over 8 attempts). The final
// NotFoundError is returned once attempts run out; callers may retry
// the whole call later.
func (m *Manager) JoinSession(ctx context.Context, sessionID string) (*models.Session, error) {
	ctx, span := observability.StartSessionSpan(ctx, "join", observability.SessionID(sessionID))
	defer span.End()

	var session *models.Session
	var err error
	attempts := 0
	backoff := m.cfg.Join.InitialBackoff

	for {
		attempts++
		session, err = m.readSession(ctx, sessionID)
		if err == nil {
			break
		}
		if !syncerr.IsNotFound(err) || attempts >= m.cfg.Join.MaxAttempts {
			observability.RecordError(span, err)
			return nil, err
		}

		m.log.Debugf("session %s not replicated yet, retrying in %s (attempt %d)", sessionID, backoff, attempts)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			observability.RecordError(span, ctx.Err())
			return nil, ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
		if backoff > m.cfg.Join.MaxBackoff {
			backoff = m.cfg.Join.MaxBackoff
		}
	}

	if err := m.putOwnViewer(ctx, sessionID, models.RoleFollower, session.CurrentSlideIndex); err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	m.metrics.RecordSessionJoined(ctx, attempts)
	m.log.WithContext(ctx).Infof("joined session %s at slide %d", sessionID, session.CurrentSlideIndex)
	observability.SetSuccess(span)
	return session, nil
}

// GetSession returns the session row as currently replicated locally.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	return m.readSession(ctx, sessionID)
}

// AdvanceTo navigates to a slide. On the presenter's device it moves
// the whole session: the session row and the presenter's viewer row
// are both written (one row at a time; the substrate offers no
// cross-row atomicity, and none is needed). On any other device it is
// treated as BROWSING and only touches the caller's own viewer row.
// The index is validated against the deck before any write.
func (m *Manager) AdvanceTo(ctx context.Context, sessionID string, index int) error {
	ctx, span := observability.StartSessionSpan(ctx, "advance",
		observability.SessionID(sessionID), observability.SlideIndex(index))
	defer span.End()

	session, err := m.readSession(ctx, sessionID)
	if err != nil {
		observability.RecordError(span, err)
		return err
	}
	if !session.IsLive() {
		err := syncerr.Validationf("session %s has ended", sessionID)
		observability.RecordError(span, err)
		return err
	}

	deck, err := m.decks.GetDeck(ctx, session.DeckID)
	if err != nil {
		observability.RecordError(span, err)
		return err
	}
	if !deck.ContainsSlide(index) {
		err := syncerr.Validationf("slide index %d out of range [0, %d) for deck %s", index, deck.SlideCount, deck.ID)
		observability.RecordError(span, err)
		return err
	}

	presenting := session.IsPresenter(m.deviceID)
	if presenting {
		session.CurrentSlideIndex = index
		session.UpdatedAt = m.now().UTC()
		if err := m.putSession(ctx, session); err != nil {
			observability.RecordError(span, err)
			return err
		}
		if err := m.putOwnViewer(ctx, sessionID, models.RolePresenter, index); err != nil {
			observability.RecordError(span, err)
			return err
		}
	} else {
		// Advisory ownership: a non-presenter cannot move the session,
		// it just browses on its own.
		if err := m.putOwnViewer(ctx, sessionID, models.RoleBrowsing, index); err != nil {
			observability.RecordError(span, err)
			return err
		}
	}

	m.metrics.RecordSlideAdvance(ctx, presenting)
	observability.SetSuccess(span)
	return nil
}

// SetRole switches this device's viewer row between FOLLOWER and
// BROWSING. Moving to FOLLOWER snaps the slide index to the session's
// latest known value; moving to BROWSING keeps the current position.
// A presenter's role is fixed; calls on the presenting device are
// no-ops.
func (m *Manager) SetRole(ctx context.Context, sessionID string, role models.Role) error {
	ctx, span := observability.StartSessionSpan(ctx, "set_role", observability.SessionID(sessionID))
	defer span.End()

	if role != models.RoleFollower && role != models.RoleBrowsing {
		err := syncerr.Validationf("role must be FOLLOWER or BROWSING, got %q", role)
		observability.RecordError(span, err)
		return err
	}

	session, err := m.readSession(ctx, sessionID)
	if err != nil {
		observability.RecordError(span, err)
		return err
	}

	viewer, err := m.readOwnViewer(ctx, sessionID)
	if err != nil {
		observability.RecordError(span, err)
		return err
	}
	if viewer.Role == models.RolePresenter {
		m.log.Debug("ignoring role change on presenting device")
		observability.SetSuccess(span)
		return nil
	}

	index := viewer.CurrentSlideIndex
	if role == models.RoleFollower {
		index = session.CurrentSlideIndex
	}
	if err := m.putOwnViewer(ctx, sessionID, role, index); err != nil {
		observability.RecordError(span, err)
		return err
	}

	observability.SetSuccess(span)
	return nil
}

// EndSession stops the presentation. Only the presenting device can
// end a session; on any other device the call is a silent no-op, not
// an error: under open replication the restriction is advisory, and
// surfacing it as a failure would just teach UIs to ignore errors.
func (m *Manager) EndSession(ctx context.Context, sessionID string) error {
	ctx, span := observability.StartSessionSpan(ctx, "end", observability.SessionID(sessionID))
	defer span.End()

	session, err := m.readSession(ctx, sessionID)
	if err != nil {
		observability.RecordError(span, err)
		return err
	}
	if !session.IsPresenter(m.deviceID) {
		m.log.Debugf("ignoring end of session %s: not the presenter", sessionID)
		observability.SetSuccess(span)
		return nil
	}
	if !session.IsLive() {
		observability.SetSuccess(span)
		return nil
	}

	session.State = models.SessionEnded
	session.UpdatedAt = m.now().UTC()
	if err := m.putSession(ctx, session); err != nil {
		observability.RecordError(span, err)
		return err
	}

	// GC our own viewer row; every other device removes its own on
	// observing ENDED.
	key := codec.ViewerStateKey(sessionID, m.deviceID)
	if err := m.store.Delete(ctx, codec.CollectionViewerState, key); err != nil && !syncerr.IsNotFound(err) {
		m.log.Warnf("failed to remove own viewer row for ended session %s: %v", sessionID, err)
	}

	m.metrics.RecordSessionEnded(ctx)
	m.log.WithContext(ctx).Infof("ended session %s", sessionID)
	observability.SetSuccess(span)
	return nil
}

// ObserveSession subscribes to merged snapshots of a session: the
// session row plus all viewer rows, re-emitted whenever any of them
// changes. The first snapshot arrives immediately. Multiple local
// subscribers share one watch and one fold loop, so observer count
// never multiplies writes. Each subscriber sees monotonically
// increasing snapshot versions; intermediate snapshots may coalesce
// for a slow subscriber but the latest state is always delivered.
//
// The stream closes when the caller cancels (Subscription.Cancel or
// the context) or when the session has reached ENDED and no further
// change arrives within the quiescence window.
func (m *Manager) ObserveSession(ctx context.Context, sessionID string) (*Subscription, error) {
	if _, err := m.readSession(ctx, sessionID); err != nil {
		return nil, err
	}

	m.mu.Lock()
	t, ok := m.trackers[sessionID]
	if !ok {
		t = newTracker(m, sessionID)
		m.trackers[sessionID] = t
		t.start()
	}
	m.mu.Unlock()

	sub := t.subscribe(ctx)
	if sub == nil {
		// Tracker shut down between lookup and subscribe; retry once
		// with a fresh one.
		m.removeTracker(sessionID, t)
		return m.ObserveSession(ctx, sessionID)
	}
	m.metrics.ObserverStarted(ctx)
	return sub, nil
}

func (m *Manager) removeTracker(sessionID string, t *tracker) {
	m.mu.Lock()
	if m.trackers[sessionID] == t {
		delete(m.trackers, sessionID)
	}
	m.mu.Unlock()
}

// Close stops every tracker. Pending observer streams close.
func (m *Manager) Close() {
	m.mu.Lock()
	trackers := make([]*tracker, 0, len(m.trackers))
	for _, t := range m.trackers {
		trackers = append(trackers, t)
	}
	m.trackers = make(map[string]*tracker)
	m.mu.Unlock()

	for _, t := range trackers {
		t.stop()
	}
}

func (m *Manager) readSession(ctx context.Context, sessionID string) (*models.Session, error) {
	value, err := m.store.Get(ctx, codec.CollectionSession, codec.SessionKey(sessionID))
	if err != nil {
		return nil, err
	}
	return codec.DecodeSession(value)
}

func (m *Manager) putSession(ctx context.Context, session *models.Session) error {
	value, err := codec.EncodeSession(session)
	if err != nil {
		return err
	}
	return m.store.Put(ctx, codec.CollectionSession, codec.SessionKey(session.ID), value)
}

func (m *Manager) readOwnViewer(ctx context.Context, sessionID string) (*models.ViewerState, error) {
	key := codec.ViewerStateKey(sessionID, m.deviceID)
	value, err := m.store.Get(ctx, codec.CollectionViewerState, key)
	if err != nil {
		return nil, err
	}
	return codec.DecodeViewerState(value)
}

func (m *Manager) putOwnViewer(ctx context.Context, sessionID string, role models.Role, index int) error {
	viewer := models.NewViewerState(sessionID, m.deviceID, role, index, m.now())
	value, err := codec.EncodeViewerState(viewer)
	if err != nil {
		return err
	}
	key := codec.ViewerStateKey(sessionID, m.deviceID)
	return m.store.Put(ctx, codec.CollectionViewerState, key, value)
}
