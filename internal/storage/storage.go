// Package storage is the capability surface over the replicated
// key-value substrate. Rows live in named collections; the substrate
// syncs them between devices asynchronously and offers no cross-key
// transactions. Operations complete against the local replica or fail
// fast with a connectivity error; a partition only delays propagation,
// it never blocks a call.
package storage

import (
	"context"
	"sync"
	"time"
)

// Row is one replicated key-value entry.
type Row struct {
	Collection string
	Key        string
	Value      []byte
	UpdatedAt  time.Time
}

// Event is one change observed on the local replica, either a local
// write or a remote write arriving through the sync transport.
type Event struct {
	Collection string
	Key        string
	Value      []byte // nil when Deleted
	Deleted    bool
}

// Subscription is a live watch on a key range. Events arrive on C in
// the order the local replica applied them. C closes when the
// subscription is cancelled, the watch context ends, or the subscriber
// falls too far behind; an unexpected close means the subscriber must
// re-list the rows and watch again, so no change is lost.
type Subscription struct {
	C      <-chan Event
	cancel func()
	once   sync.Once
}

// Cancel releases the watch. Safe to call more than once and safe to
// call concurrently with channel reads.
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// Store is the adapter consumed by the deck and session layers.
type Store interface {
	// Get returns the row value, or a NotFoundError if the row is not
	// in the local replica (it may replicate in later).
	Get(ctx context.Context, collection, key string) ([]byte, error)
	// List returns every row in the collection whose key starts with
	// keyPrefix, ordered by key. An empty prefix lists the collection.
	List(ctx context.Context, collection, keyPrefix string) ([]Row, error)
	// Put writes a row to the local replica. The substrate propagates
	// it to other devices asynchronously.
	Put(ctx context.Context, collection, key string, value []byte) error
	// Delete removes a row from the local replica.
	Delete(ctx context.Context, collection, key string) error
	// Watch subscribes to changes on rows whose key starts with
	// keyPrefix. Only changes applied after the call are delivered;
	// callers List first to prime their state.
	Watch(ctx context.Context, collection, keyPrefix string) (*Subscription, error)
}
