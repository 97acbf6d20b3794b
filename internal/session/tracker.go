package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/syncslides/core/internal/codec"
	"github.com/syncslides/core/internal/models"
	"github.com/syncslides/core/internal/storage"
	"github.com/syncslides/core/internal/syncerr"
)

// Subscription is one observer's handle on a session snapshot stream.
type Subscription struct {
	// C delivers merged snapshots. It closes when the subscription is
	// cancelled or the session ends and goes quiet.
	C <-chan models.SessionSnapshot

	ch     chan models.SessionSnapshot
	done   chan struct{}
	cancel func()
	once   sync.Once
}

// Cancel releases the subscription and, when it is the last one for
// the session, the underlying watch. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// tracker runs one watch-and-fold loop per observed session per
// device, fanning snapshots out to any number of subscribers. It also
// carries the device's follow behavior: while the local viewer row
// says FOLLOWER, presenter moves observed on the session row are
// copied into the local row. Centralizing that write here keeps it
// from multiplying with the observer count.
type tracker struct {
	m         *Manager
	sessionID string

	mu      sync.Mutex
	session *models.Session
	viewers map[string]models.ViewerState
	version int
	subs    map[int]*Subscription
	nextSub int
	stopped bool

	stopc    chan struct{}
	stopOnce sync.Once
}

func newTracker(m *Manager, sessionID string) *tracker {
	return &tracker{
		m:         m,
		sessionID: sessionID,
		viewers:   make(map[string]models.ViewerState),
		subs:      make(map[int]*Subscription),
		stopc:     make(chan struct{}),
	}
}

func (t *tracker) start() {
	go t.run()
}

// subscribe registers a new observer and queues the current snapshot
// for it. Returns nil if the tracker already shut down.
func (t *tracker) subscribe(ctx context.Context) *Subscription {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return nil
	}

	id := t.nextSub
	t.nextSub++

	ch := make(chan models.SessionSnapshot, 1)
	sub := &Subscription{
		C:    ch,
		ch:   ch,
		done: make(chan struct{}),
	}
	sub.cancel = func() { t.unsubscribe(id) }
	t.subs[id] = sub

	if ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				sub.Cancel()
			case <-sub.done:
			}
		}()
	}

	if t.session != nil {
		push(sub, t.snapshotLocked())
	}
	return sub
}

func (t *tracker) unsubscribe(id int) {
	t.mu.Lock()
	sub, ok := t.subs[id]
	if ok {
		delete(t.subs, id)
		close(sub.ch)
		close(sub.done)
	}
	last := ok && len(t.subs) == 0 && !t.stopped
	t.mu.Unlock()

	if ok {
		t.m.metrics.ObserverStopped(context.Background())
	}
	if last {
		t.stop()
	}
}

// stop shuts the tracker down: remaining subscriber channels close
// and the watch is released.
func (t *tracker) stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	remaining := len(t.subs)
	for id, sub := range t.subs {
		delete(t.subs, id)
		close(sub.ch)
		close(sub.done)
	}
	t.mu.Unlock()

	for i := 0; i < remaining; i++ {
		t.m.metrics.ObserverStopped(context.Background())
	}
	t.stopOnce.Do(func() { close(t.stopc) })
	t.m.removeTracker(t.sessionID, t)
}

// run keeps a watch loop alive until the tracker stops. A watch
// channel that closes without the tracker stopping means the notifier
// dropped us for falling behind; the loop re-primes from a full read
// and watches again, so no change is lost.
func (t *tracker) run() {
	for {
		if done := t.watchOnce(); done {
			return
		}
		select {
		case <-t.stopc:
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (t *tracker) watchOnce() bool {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sessSub, err := t.m.store.Watch(ctx, codec.CollectionSession, codec.SessionKey(t.sessionID))
	if err != nil {
		t.m.log.Warnf("session watch failed for %s: %v", t.sessionID, err)
		return t.isStopped()
	}
	defer sessSub.Cancel()

	viewSub, err := t.m.store.Watch(ctx, codec.CollectionViewerState, codec.ViewerStatePrefix(t.sessionID))
	if err != nil {
		t.m.log.Warnf("viewer watch failed for %s: %v", t.sessionID, err)
		return t.isStopped()
	}
	defer viewSub.Cancel()

	if err := t.prime(ctx); err != nil {
		t.m.log.Warnf("priming observer state for %s: %v", t.sessionID, err)
		return t.isStopped()
	}

	var quiesceTimer *time.Timer
	var quiesceC <-chan time.Time
	defer func() {
		if quiesceTimer != nil {
			quiesceTimer.Stop()
		}
	}()

	resetQuiescence := func() {
		if !t.isEnded() {
			return
		}
		if quiesceTimer != nil {
			quiesceTimer.Stop()
		}
		quiesceTimer = time.NewTimer(t.m.cfg.Quiescence)
		quiesceC = quiesceTimer.C
	}
	resetQuiescence()

	for {
		select {
		case <-t.stopc:
			return true

		case ev, ok := <-sessSub.C:
			if !ok {
				return t.isStopped()
			}
			t.handleEvent(ev)
			resetQuiescence()

		case ev, ok := <-viewSub.C:
			if !ok {
				return t.isStopped()
			}
			t.handleEvent(ev)
			resetQuiescence()

		case <-quiesceC:
			t.m.log.Debugf("session %s ended and went quiet, closing observers", t.sessionID)
			t.stop()
			return true
		}
	}
}

// prime replaces the folded state from a full read and emits one
// snapshot.
func (t *tracker) prime(ctx context.Context) error {
	value, err := t.m.store.Get(ctx, codec.CollectionSession, codec.SessionKey(t.sessionID))
	if err != nil {
		return err
	}
	session, err := codec.DecodeSession(value)
	if err != nil {
		return err
	}

	rows, err := t.m.store.List(ctx, codec.CollectionViewerState, codec.ViewerStatePrefix(t.sessionID))
	if err != nil {
		return err
	}
	viewers := make(map[string]models.ViewerState, len(rows))
	for _, row := range rows {
		viewer, err := codec.DecodeViewerState(row.Value)
		if err != nil {
			t.m.log.Warnf("skipping undecodable viewer row %s: %v", row.Key, err)
			continue
		}
		viewers[viewer.DeviceID] = *viewer
	}

	t.mu.Lock()
	t.session = session
	t.viewers = viewers
	t.version++
	t.emitLocked()
	t.mu.Unlock()

	t.sideEffects()
	return nil
}

// handleEvent folds one row change into the tracker state and emits a
// snapshot to every subscriber.
func (t *tracker) handleEvent(ev storage.Event) {
	t.m.metrics.RecordWatchEvent(context.Background())

	t.mu.Lock()
	switch ev.Collection {
	case codec.CollectionSession:
		if ev.Deleted {
			break
		}
		session, err := codec.DecodeSession(ev.Value)
		if err != nil || session.ID != t.sessionID {
			t.mu.Unlock()
			return
		}
		t.session = session

	case codec.CollectionViewerState:
		_, deviceID, err := codec.ParseViewerStateKey(ev.Key)
		if err != nil {
			t.mu.Unlock()
			return
		}
		if ev.Deleted {
			delete(t.viewers, deviceID)
			break
		}
		viewer, err := codec.DecodeViewerState(ev.Value)
		if err != nil {
			t.mu.Unlock()
			return
		}
		t.viewers[viewer.DeviceID] = *viewer
	}

	t.version++
	t.emitLocked()
	t.mu.Unlock()

	t.sideEffects()
}

// sideEffects performs the single-writer reactions to observed state:
// following the presenter while our row says FOLLOWER, and removing
// our own row once the session has ended. Both touch only rows this
// device owns.
func (t *tracker) sideEffects() {
	t.mu.Lock()
	session := t.session
	own, hasOwn := t.viewers[t.m.deviceID]
	t.mu.Unlock()
	if session == nil || !hasOwn {
		return
	}

	ctx := context.Background()
	if session.IsLive() {
		if own.Role == models.RoleFollower && own.CurrentSlideIndex != session.CurrentSlideIndex {
			if err := t.m.putOwnViewer(ctx, t.sessionID, models.RoleFollower, session.CurrentSlideIndex); err != nil {
				t.m.log.Warnf("failed to follow presenter in session %s: %v", t.sessionID, err)
			}
		}
		return
	}

	if own.Role != models.RolePresenter {
		key := codec.ViewerStateKey(t.sessionID, t.m.deviceID)
		if err := t.m.store.Delete(ctx, codec.CollectionViewerState, key); err != nil && !syncerr.IsNotFound(err) {
			t.m.log.Warnf("failed to remove own viewer row for ended session %s: %v", t.sessionID, err)
		}
	}
}

func (t *tracker) isEnded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session != nil && !t.session.IsLive()
}

func (t *tracker) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// snapshotLocked builds the current merged snapshot. Caller holds t.mu.
func (t *tracker) snapshotLocked() models.SessionSnapshot {
	viewers := make([]models.ViewerState, 0, len(t.viewers))
	for _, v := range t.viewers {
		viewers = append(viewers, v)
	}
	sort.Slice(viewers, func(i, j int) bool { return viewers[i].DeviceID < viewers[j].DeviceID })

	return models.SessionSnapshot{
		Version: t.version,
		Session: *t.session,
		Viewers: viewers,
	}
}

// emitLocked delivers the current snapshot to every subscriber.
// Caller holds t.mu.
func (t *tracker) emitLocked() {
	if t.session == nil {
		return
	}
	snap := t.snapshotLocked()
	for _, sub := range t.subs {
		push(sub, snap)
		t.m.metrics.RecordSnapshot(context.Background())
	}
}

// push delivers a snapshot with latest-wins coalescing: a subscriber
// that has not consumed the previous snapshot gets it replaced rather
// than blocking the fold loop. Versions stay monotonic because pushes
// for one tracker are serialized under its lock.
func push(sub *Subscription, snap models.SessionSnapshot) {
	for {
		select {
		case sub.ch <- snap:
			return
		default:
			select {
			case <-sub.ch:
			default:
			}
		}
	}
}
