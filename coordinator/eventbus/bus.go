// Package eventbus fans node update events out to SSE stream subscribers.
// Grounded on NodeEventBus (python coordinator/api/state.py) for the
// subscribe/unsubscribe/publish shape, and on the teacher's MetricsHub
// (control_plane/ws_hub.go) for the Go lock-protected-snapshot idiom.
package eventbus

import (
	"sync"

	"github.com/edgemesh/coordinator/domain"
	"github.com/edgemesh/coordinator/observability"
)

const defaultQueueSize = 256

// Bus is a bounded, lossy pub/sub of domain.NodeUpdateEvent. Publish never
// blocks: a subscriber that falls behind has its oldest buffered event
// dropped to make room, same as the original's queue.full()-then-get_nowait
// eviction.
type Bus struct {
	mu        sync.Mutex
	queueSize int
	subs      map[chan domain.NodeUpdateEvent]struct{}
}

// New constructs a Bus whose subscriber channels each buffer up to
// queueSize events. A non-positive queueSize falls back to
// defaultQueueSize.
func New(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Bus{
		queueSize: queueSize,
		subs:      make(map[chan domain.NodeUpdateEvent]struct{}),
	}
}

// Subscribe registers a new subscriber and returns its event channel. The
// caller must call Unsubscribe with the same channel when done.
func (b *Bus) Subscribe() chan domain.NodeUpdateEvent {
	ch := make(chan domain.NodeUpdateEvent, b.queueSize)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber. Safe to call more than once.
func (b *Bus) Unsubscribe(ch chan domain.NodeUpdateEvent) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish delivers event to every current subscriber without blocking,
// dropping each subscriber's oldest buffered event if its channel is full.
func (b *Bus) Publish(event domain.NodeUpdateEvent) {
	b.mu.Lock()
	subs := make([]chan domain.NodeUpdateEvent, 0, len(b.subs))
	for ch := range b.subs {
		subs = append(subs, ch)
	}
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			select {
			case <-ch:
				observability.EventBusDrops.Inc()
			default:
			}
			select {
			case ch <- event:
			default:
			}
		}
	}
}

// SubscriberCount reports the current number of live subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
