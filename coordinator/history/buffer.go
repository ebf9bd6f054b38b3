// Package history keeps a short in-memory scrollback of recent metrics
// samples per node, used by the dashboard to render trend charts. It is not
// persisted: a coordinator restart loses history, same as the original
// implementation's in-process deque.
package history

import (
	"sync"

	"github.com/edgemesh/coordinator/domain"
)

const defaultMaxSamples = 256

// Buffer is a bounded per-node FIFO of domain.NodeMetrics samples, grounded
// on MetricsHistoryBuffer (python coordinator/api/state.py): a map of
// fixed-capacity ring buffers behind one mutex.
type Buffer struct {
	mu         sync.Mutex
	maxSamples int
	samples    map[string][]domain.NodeMetrics
}

// NewBuffer constructs a Buffer retaining up to maxSamples per node. A
// non-positive maxSamples falls back to defaultMaxSamples.
func NewBuffer(maxSamples int) *Buffer {
	if maxSamples <= 0 {
		maxSamples = defaultMaxSamples
	}
	return &Buffer{
		maxSamples: maxSamples,
		samples:    make(map[string][]domain.NodeMetrics),
	}
}

// Append records a metrics sample for nodeID, evicting the oldest sample
// once the node's buffer is at capacity.
func (b *Buffer) Append(nodeID string, metrics domain.NodeMetrics) {
	b.mu.Lock()
	defer b.mu.Unlock()

	samples := b.samples[nodeID]
	samples = append(samples, metrics)
	if len(samples) > b.maxSamples {
		samples = samples[len(samples)-b.maxSamples:]
	}
	b.samples[nodeID] = samples
}

// Get returns up to the last `limit` samples for nodeID, oldest first. A
// limit <= 0 or an unknown node returns an empty slice, never nil.
func (b *Buffer) Get(nodeID string, limit int) []domain.NodeMetrics {
	b.mu.Lock()
	defer b.mu.Unlock()

	samples := b.samples[nodeID]
	if len(samples) == 0 || limit <= 0 {
		return []domain.NodeMetrics{}
	}
	if limit > len(samples) {
		limit = len(samples)
	}

	out := make([]domain.NodeMetrics, limit)
	copy(out, samples[len(samples)-limit:])
	return out
}
