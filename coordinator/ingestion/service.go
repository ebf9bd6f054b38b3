// Package ingestion handles agent-facing register and heartbeat operations:
// validating payloads, normalizing capabilities, writing through the store,
// and fanning results out to history and the event bus. Grounded on
// api/services.py's register_agent_v1 and heartbeat_agent_v1 (original_source).
package ingestion

import (
	"context"
	"strings"

	"github.com/edgemesh/coordinator/domain"
	"github.com/edgemesh/coordinator/eventbus"
	"github.com/edgemesh/coordinator/history"
	"github.com/edgemesh/coordinator/observability"
	"github.com/edgemesh/coordinator/store"
)

// RegisterRequest is the validated input to Register.
type RegisterRequest struct {
	NodeID       string
	DisplayName  string
	IP           string
	Port         int
	Capabilities RawCapabilities
}

// RawCapabilities is the wire-shaped capabilities payload prior to task-type
// normalization: TaskTypes may be empty, in which case it is derived from
// Labels, and failing that defaults to the full task-type set.
type RawCapabilities struct {
	TaskTypes   []domain.TaskType
	Labels      []string
	CPUCores    *int
	CPUThreads  *int
	RAMTotalGB  *float64
	GPUName     *string
	VRAMTotalGB *float64
	OS          string
	Arch        string
}

// HeartbeatRequest is the validated input to Heartbeat.
type HeartbeatRequest struct {
	NodeID  string
	Metrics domain.NodeMetrics
}

// Service wires node registration and heartbeat ingestion to the store,
// metrics history, and the event bus.
type Service struct {
	store   store.Store
	history *history.Buffer
	bus     *eventbus.Bus
}

// NewService constructs a Service over the given components.
func NewService(s store.Store, h *history.Buffer, b *eventbus.Bus) *Service {
	return &Service{store: s, history: h, bus: b}
}

// normalizeTaskTypes mirrors _normalize_task_types: explicit task types win,
// then labels are mapped via DeriveTaskTypesFromLabels, and only when both
// are empty does it fall back to the full set. This follows the documented
// precedence rather than the original implementation's schema-level
// pre-defaulting, which made the label-derivation branch unreachable there.
func normalizeTaskTypes(taskTypes []domain.TaskType, labels []string) []domain.TaskType {
	var normalized []domain.TaskType
	seen := make(map[domain.TaskType]bool)
	for _, t := range taskTypes {
		if !seen[t] {
			seen[t] = true
			normalized = append(normalized, t)
		}
	}

	if len(normalized) == 0 {
		normalized = domain.DeriveTaskTypesFromLabels(labels)
	}

	if len(normalized) == 0 {
		normalized = append(normalized, domain.AllTaskTypes...)
	}

	return normalized
}

func buildCapabilities(raw RawCapabilities) domain.NodeCapabilities {
	taskTypes := normalizeTaskTypes(raw.TaskTypes, raw.Labels)
	hasGPU := raw.GPUName != nil || raw.VRAMTotalGB != nil

	labels := raw.Labels
	if labels == nil {
		labels = []string{}
	}

	return domain.NodeCapabilities{
		CPUCores:    raw.CPUCores,
		CPUThreads:  raw.CPUThreads,
		RAMTotalGB:  raw.RAMTotalGB,
		GPUName:     raw.GPUName,
		VRAMTotalGB: raw.VRAMTotalGB,
		OS:          raw.OS,
		Arch:        raw.Arch,
		TaskTypes:   taskTypes,
		Labels:      labels,
		HasGPU:      hasGPU,
	}
}

// Register validates and upserts a node's identity and capabilities,
// mirroring register_agent_v1.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*domain.Node, error) {
	nodeID := strings.TrimSpace(req.NodeID)
	if nodeID == "" {
		return nil, domain.ValidationErrorf("node_id is required")
	}
	if len(nodeID) > 128 {
		return nil, domain.ValidationErrorf("node_id exceeds 128 characters")
	}
	if req.Port < 0 || req.Port > 65535 {
		return nil, domain.ValidationErrorf("port %d out of range", req.Port)
	}

	if _, err := s.store.UpsertNodeIdentity(ctx, nodeID, req.DisplayName, req.IP, req.Port); err != nil {
		return nil, err
	}

	node, err := s.store.UpsertNodeCapabilities(ctx, nodeID, buildCapabilities(req.Capabilities))
	if err != nil {
		return nil, err
	}
	return node, nil
}

// Heartbeat validates and writes a node's metrics, appends the sample to
// history, and publishes a NodeUpdateEvent. Mirrors heartbeat_agent_v1.
func (s *Service) Heartbeat(ctx context.Context, req HeartbeatRequest) (*domain.NodeUpdateEvent, error) {
	nodeID := strings.TrimSpace(req.NodeID)
	if nodeID == "" {
		return nil, domain.ValidationErrorf("node_id is required")
	}
	if req.Metrics.HeartbeatTS.IsZero() {
		return nil, domain.ValidationErrorf("heartbeat_ts is required")
	}
	if req.Metrics.CPUPercent < 0 || req.Metrics.CPUPercent > 100 {
		return nil, domain.ValidationErrorf("cpu_percent out of range [0,100]")
	}
	if req.Metrics.RAMPercent < 0 || req.Metrics.RAMPercent > 100 {
		return nil, domain.ValidationErrorf("ram_percent out of range [0,100]")
	}
	if req.Metrics.GPUPercent != nil && (*req.Metrics.GPUPercent < 0 || *req.Metrics.GPUPercent > 100) {
		return nil, domain.ValidationErrorf("gpu_percent out of range [0,100]")
	}
	if req.Metrics.RunningJobs < 0 {
		return nil, domain.ValidationErrorf("running_jobs must be non-negative")
	}

	node, err := s.store.UpdateNodeMetrics(ctx, nodeID, req.Metrics)
	if err != nil {
		return nil, err
	}

	s.history.Append(nodeID, node.Metrics)

	event := domain.NodeUpdateEvent{
		NodeID:    node.Identity.NodeID,
		Status:    node.Status,
		Metrics:   node.Metrics,
		UpdatedAt: node.UpdatedAt,
	}
	s.bus.Publish(event)

	if nodes, err := s.store.GetNodes(ctx); err == nil {
		observability.ConnectedNodes.Set(float64(countOnline(nodes)))
	}

	return &event, nil
}

func countOnline(nodes []*domain.Node) int {
	count := 0
	for _, n := range nodes {
		if n.Status == domain.NodeOnline {
			count++
		}
	}
	return count
}
