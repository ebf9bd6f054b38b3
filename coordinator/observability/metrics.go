// Package observability holds the coordinator's Prometheus instrumentation.
// Grounded on control_plane/observability/metrics.go's promauto package-level
// var block shape, trimmed to the metrics this coordinator actually emits.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectedNodes is set to the number of ONLINE nodes after each accepted
	// heartbeat; staleness demotions do not update it.
	ConnectedNodes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "edgemesh_connected_nodes",
		Help: "Number of nodes with status ONLINE as of the most recent heartbeat",
	})

	// StaleDemotions counts nodes demoted to OFFLINE by the staleness sweep.
	StaleDemotions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "edgemesh_stale_demotions_total",
		Help: "Total number of nodes marked OFFLINE by the staleness monitor",
	})

	// EventBusDrops counts events dropped because a subscriber's buffer was full.
	EventBusDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "edgemesh_event_bus_drops_total",
		Help: "Total number of node update events dropped due to a full subscriber buffer",
	})

	// SchedulerDecisions tracks job placement outcomes by task type and result.
	SchedulerDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edgemesh_scheduler_decisions_total",
		Help: "Total number of scheduling decisions made, by task type and outcome",
	}, []string{"task_type", "outcome"})

	// IngestionRateLimited counts register/heartbeat requests rejected by the
	// per-node rate limiter.
	IngestionRateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edgemesh_ingestion_rate_limited_total",
		Help: "Register/heartbeat requests rejected by per-node rate limiting",
	}, []string{"endpoint"})

	// StreamSubscribers tracks the current number of open SSE connections.
	StreamSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "edgemesh_stream_subscribers",
		Help: "Current number of open /v1/stream/nodes subscribers",
	})
)
