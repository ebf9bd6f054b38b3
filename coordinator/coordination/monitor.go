// Package coordination runs the coordinator's background maintenance loops.
package coordination

import (
	"context"
	"log"
	"time"

	"github.com/edgemesh/coordinator/observability"
	"github.com/edgemesh/coordinator/store"
)

const defaultStaleSeconds = 30

// StalenessMonitor periodically demotes nodes that have stopped heartbeating
// to OFFLINE. Grounded almost directly on control_plane/coordination/
// agent_monitor.go's AgentMonitor: a ticker loop over a single store method,
// cancelled cooperatively via context.
type StalenessMonitor struct {
	store        store.Store
	interval     time.Duration
	staleSeconds int
}

// NewStalenessMonitor constructs a monitor that sweeps every interval,
// demoting nodes whose last heartbeat is older than staleSeconds. A
// non-positive staleSeconds falls back to defaultStaleSeconds.
func NewStalenessMonitor(s store.Store, interval time.Duration, staleSeconds int) *StalenessMonitor {
	if staleSeconds <= 0 {
		staleSeconds = defaultStaleSeconds
	}
	return &StalenessMonitor{store: s, interval: interval, staleSeconds: staleSeconds}
}

// Start launches the sweep loop in a new goroutine. It returns immediately;
// the loop exits once ctx is cancelled.
func (m *StalenessMonitor) Start(ctx context.Context) {
	go m.loop(ctx)
}

func (m *StalenessMonitor) loop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

func (m *StalenessMonitor) sweep(ctx context.Context) {
	demoted, err := m.store.MarkOfflineIfStale(ctx, m.staleSeconds)
	if err != nil {
		log.Printf("staleness monitor: sweep failed: %v", err)
		return
	}
	for _, n := range demoted {
		log.Printf("staleness monitor: node %s marked OFFLINE (last seen %v)", n.Identity.NodeID, n.LastSeen)
	}
	observability.StaleDemotions.Add(float64(len(demoted)))
}
