package middleware

import (
	"sync"

	"golang.org/x/time/rate"
)

// NodeLimiter is a per-node token-bucket limiter used to protect register
// and heartbeat ingestion from a misbehaving or storming agent. Grounded on
// control_plane/scheduler/limiter.go's TokenBucketLimiter, with the keying
// scheme (node id rather than tenant id) adapted to EdgeMesh's single-tenant
// shape.
type NodeLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	burst    int
}

// NewNodeLimiter constructs a limiter allowing r events per second with the
// given burst, tracked independently per node id.
func NewNodeLimiter(r float64, burst int) *NodeLimiter {
	return &NodeLimiter{
		limiters: make(map[string]*rate.Limiter),
		r:        rate.Limit(r),
		burst:    burst,
	}
}

// Allow reports whether an event for nodeID may proceed now, lazily
// creating that node's bucket on first use.
func (l *NodeLimiter) Allow(nodeID string) bool {
	l.mu.Lock()
	limiter, ok := l.limiters[nodeID]
	if !ok {
		limiter = rate.NewLimiter(l.r, l.burst)
		l.limiters[nodeID] = limiter
	}
	l.mu.Unlock()

	return limiter.Allow()
}
