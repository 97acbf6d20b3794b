package storage

import (
	"context"
	"strings"
	"sync"
)

// watchBuffer is the per-subscription event buffer. A subscriber that
// falls this far behind is disconnected (its channel closes) and is
// expected to re-list and re-watch.
const watchBuffer = 256

// notifier fans change events out to watch subscriptions. Shared by
// every Store implementation in this package.
type notifier struct {
	mu   sync.Mutex
	subs map[int]*watchSub
	next int
}

type watchSub struct {
	collection string
	prefix     string
	ch         chan Event
	done       chan struct{}
	closed     bool
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[int]*watchSub)}
}

func (n *notifier) subscribe(ctx context.Context, collection, prefix string) *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.next
	n.next++
	ws := &watchSub{
		collection: collection,
		prefix:     prefix,
		ch:         make(chan Event, watchBuffer),
		done:       make(chan struct{}),
	}
	n.subs[id] = ws

	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		n.drop(id)
	}

	if ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				cancel()
			case <-ws.done:
			}
		}()
	}

	return &Subscription{C: ws.ch, cancel: cancel}
}

// drop removes and closes a subscription. Caller holds n.mu.
func (n *notifier) drop(id int) {
	ws, ok := n.subs[id]
	if !ok {
		return
	}
	delete(n.subs, id)
	if !ws.closed {
		ws.closed = true
		close(ws.ch)
		close(ws.done)
	}
}

// publish delivers an event to every matching subscription. A full
// subscriber buffer drops that subscriber rather than blocking the
// writer.
func (n *notifier) publish(ev Event) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for id, ws := range n.subs {
		if ws.collection != ev.Collection || !strings.HasPrefix(ev.Key, ws.prefix) {
			continue
		}
		select {
		case ws.ch <- ev:
		default:
			n.drop(id)
		}
	}
}

func (n *notifier) closeAll() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for id := range n.subs {
		n.drop(id)
	}
}
