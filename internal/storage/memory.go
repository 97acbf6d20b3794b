package storage

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/syncslides/core/internal/syncerr"
)

// Network is an in-process stand-in for the replicated substrate: a
// set of per-device Replicas whose writes propagate to each other with
// last-writer-wins per row. Tests run it with auto-propagation off and
// call Flush to control exactly when replication settles; the demo
// daemon runs it with auto-propagation on.
type Network struct {
	mu       sync.Mutex
	clock    int64
	rows     map[string]map[string]memRow
	replicas map[string]*Replica
	auto     bool
}

// NewNetwork creates a network with auto-propagation enabled.
func NewNetwork() *Network {
	return &Network{
		rows:     make(map[string]map[string]memRow),
		replicas: make(map[string]*Replica),
		auto:     true,
	}
}

// SetAutoPropagate toggles immediate delivery of writes to the other
// replicas. With it off, writes queue until Flush.
func (n *Network) SetAutoPropagate(v bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.auto = v
}

// Replica returns the replica for a device, attaching a fresh one on
// first use. A device attaching after earlier writes is seeded with
// the network's current row set, the way a new device syncs history on
// first join.
func (n *Network) Replica(deviceID string) *Replica {
	n.mu.Lock()
	defer n.mu.Unlock()

	if r, ok := n.replicas[deviceID]; ok {
		return r
	}
	r := &Replica{
		deviceID: deviceID,
		net:      n,
		rows:     make(map[string]map[string]memRow, len(n.rows)),
		notifier: newNotifier(),
	}
	for collection, byKey := range n.rows {
		seeded := make(map[string]memRow, len(byKey))
		for key, row := range byKey {
			seeded[key] = row
		}
		r.rows[collection] = seeded
	}
	n.replicas[deviceID] = r
	return r
}

// Flush delivers every queued write to every online replica. Queued
// writes for partitioned replicas stay queued.
func (n *Network) Flush() {
	n.mu.Lock()
	replicas := make([]*Replica, 0, len(n.replicas))
	for _, r := range n.replicas {
		replicas = append(replicas, r)
	}
	n.mu.Unlock()

	for _, r := range replicas {
		r.drainInbox()
	}
}

// SetPartitioned detaches or reattaches a replica. While partitioned,
// local reads and writes still succeed; inbound and outbound
// propagation is queued. Reattaching delivers the backlog.
func (n *Network) SetPartitioned(deviceID string, partitioned bool) {
	r := n.Replica(deviceID)
	r.mu.Lock()
	r.partitioned = partitioned
	outbox := r.outbox
	if !partitioned {
		r.outbox = nil
	}
	r.mu.Unlock()
	if !partitioned {
		for _, w := range outbox {
			r.net.fanOut(r, w)
		}
		r.drainInbox()
	}
}

// tick returns the next network-wide revision. Caller holds n.mu or
// tolerates contention; revisions only need to be unique and ordered.
func (n *Network) tick() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.clock++
	return n.clock
}

// fanOut records a write in the network's canonical row set, queues it
// for every replica other than the origin, and delivers immediately
// when auto-propagation is on.
func (n *Network) fanOut(origin *Replica, w memWrite) {
	n.mu.Lock()
	byKey, ok := n.rows[w.collection]
	if !ok {
		byKey = make(map[string]memRow)
		n.rows[w.collection] = byKey
	}
	if existing, ok := byKey[w.key]; !ok || existing.rev < w.row.rev {
		byKey[w.key] = w.row
	}
	auto := n.auto
	targets := make([]*Replica, 0, len(n.replicas))
	for id, r := range n.replicas {
		if id != origin.deviceID {
			targets = append(targets, r)
		}
	}
	n.mu.Unlock()

	for _, r := range targets {
		r.mu.Lock()
		r.inbox = append(r.inbox, w)
		deliver := auto && !r.partitioned
		r.mu.Unlock()
		if deliver {
			r.drainInbox()
		}
	}
}

type memRow struct {
	value     []byte
	rev       int64
	deleted   bool
	updatedAt time.Time
}

type memWrite struct {
	collection string
	key        string
	row        memRow
}

// Replica is one device's local view of the replicated row set. It
// implements Store.
type Replica struct {
	deviceID string
	net      *Network

	mu          sync.Mutex
	rows        map[string]map[string]memRow
	inbox       []memWrite
	outbox      []memWrite
	partitioned bool
	failing     bool

	notifier *notifier
}

var errSubstrateDown = errors.New("substrate unreachable")

// SetFailing makes every operation on this replica return a
// connectivity error, simulating a broken local substrate.
func (r *Replica) SetFailing(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failing = v
}

// DeviceID returns the owning device id.
func (r *Replica) DeviceID() string {
	return r.deviceID
}

// Get implements Store.
func (r *Replica) Get(ctx context.Context, collection, key string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failing {
		return nil, syncerr.Connectivity("get", errSubstrateDown)
	}
	row, ok := r.rows[collection][key]
	if !ok || row.deleted {
		return nil, syncerr.NotFound(collection, key)
	}
	out := make([]byte, len(row.value))
	copy(out, row.value)
	return out, nil
}

// List implements Store.
func (r *Replica) List(ctx context.Context, collection, keyPrefix string) ([]Row, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failing {
		return nil, syncerr.Connectivity("list", errSubstrateDown)
	}
	var out []Row
	for key, row := range r.rows[collection] {
		if row.deleted || !strings.HasPrefix(key, keyPrefix) {
			continue
		}
		value := make([]byte, len(row.value))
		copy(value, row.value)
		out = append(out, Row{
			Collection: collection,
			Key:        key,
			Value:      value,
			UpdatedAt:  row.updatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Put implements Store. The write applies locally, notifies local
// watchers in program order, and propagates to the other replicas
// asynchronously.
func (r *Replica) Put(ctx context.Context, collection, key string, value []byte) error {
	return r.write(collection, key, value, false)
}

// Delete implements Store.
func (r *Replica) Delete(ctx context.Context, collection, key string) error {
	return r.write(collection, key, nil, true)
}

func (r *Replica) write(collection, key string, value []byte, deleted bool) error {
	r.mu.Lock()
	if r.failing {
		r.mu.Unlock()
		return syncerr.Connectivity("write", errSubstrateDown)
	}

	// Tick only after the failing check so rejected writes leave the
	// revision clock alone.
	row := memRow{
		rev:       r.net.tick(),
		deleted:   deleted,
		updatedAt: time.Now().UTC(),
	}
	if !deleted {
		row.value = make([]byte, len(value))
		copy(row.value, value)
	}

	w := memWrite{collection: collection, key: key, row: row}

	r.applyLocked(collection, key, row)
	partitioned := r.partitioned
	if partitioned {
		r.outbox = append(r.outbox, w)
	}
	r.mu.Unlock()

	r.notifier.publish(Event{Collection: collection, Key: key, Value: row.value, Deleted: deleted})
	if !partitioned {
		r.net.fanOut(r, w)
	}
	return nil
}

// Watch implements Store.
func (r *Replica) Watch(ctx context.Context, collection, keyPrefix string) (*Subscription, error) {
	r.mu.Lock()
	failing := r.failing
	r.mu.Unlock()
	if failing {
		return nil, syncerr.Connectivity("watch", errSubstrateDown)
	}
	return r.notifier.subscribe(ctx, collection, keyPrefix), nil
}

// drainInbox applies queued remote writes, newest revision wins.
func (r *Replica) drainInbox() {
	r.mu.Lock()
	if r.partitioned || len(r.inbox) == 0 {
		r.mu.Unlock()
		return
	}
	pending := r.inbox
	r.inbox = nil

	var applied []memWrite
	for _, w := range pending {
		if r.applyLocked(w.collection, w.key, w.row) {
			applied = append(applied, w)
		}
	}
	r.mu.Unlock()

	for _, w := range applied {
		r.notifier.publish(Event{
			Collection: w.collection,
			Key:        w.key,
			Value:      w.row.value,
			Deleted:    w.row.deleted,
		})
	}
}

// applyLocked applies a row if it is newer than the local copy.
// Caller holds r.mu.
func (r *Replica) applyLocked(collection, key string, row memRow) bool {
	byKey, ok := r.rows[collection]
	if !ok {
		byKey = make(map[string]memRow)
		r.rows[collection] = byKey
	}
	if existing, ok := byKey[key]; ok && existing.rev >= row.rev {
		return false
	}
	byKey[key] = row
	return true
}
