package store

import (
	"context"
	"sort"
	"sync"

	"github.com/edgemesh/coordinator/domain"
)

// MemoryStore is an in-process Store implementation. It is the default
// backend when COORDINATOR_DB_URL is unset, and the backend used by every
// package test in this repo. Grounded on control_plane/store/memory.go's
// map-of-copies shape in the teacher repo.
type MemoryStore struct {
	mu    sync.RWMutex
	nodes map[string]*domain.Node
	jobs  map[string]*domain.Job
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes: make(map[string]*domain.Node),
		jobs:  make(map[string]*domain.Job),
	}
}

func (s *MemoryStore) ensureNodeLocked(nodeID string) *domain.Node {
	if n, ok := s.nodes[nodeID]; ok {
		return n
	}
	now := nowUTC()
	n := &domain.Node{
		Identity: domain.NodeIdentity{
			NodeID:      nodeID,
			DisplayName: nodeID,
			IP:          "0.0.0.0",
			Port:        0,
		},
		Capabilities: domain.DefaultNodeCapabilities(),
		Metrics:      domain.DefaultNodeMetrics(),
		Policy:       domain.DefaultNodePolicy(),
		Status:       domain.NodeUnknown,
		CreatedAt:    now,
		UpdatedAt:    now,
		LastSeen:     now,
	}
	s.nodes[nodeID] = n
	return n
}

func copyNode(n *domain.Node) *domain.Node {
	cp := *n
	cp.Capabilities.TaskTypes = append([]domain.TaskType{}, n.Capabilities.TaskTypes...)
	cp.Capabilities.Labels = append([]string{}, n.Capabilities.Labels...)
	cp.Policy.TaskAllowlist = append([]domain.TaskType{}, n.Policy.TaskAllowlist...)
	return &cp
}

func copyJob(j *domain.Job) *domain.Job {
	cp := *j
	return &cp
}

func (s *MemoryStore) UpsertNodeIdentity(ctx context.Context, nodeID, displayName, ip string, port int) (*domain.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.ensureNodeLocked(nodeID)
	n.Identity.DisplayName = displayName
	n.Identity.IP = ip
	n.Identity.Port = port
	n.UpdatedAt = nowUTC()
	return copyNode(n), nil
}

func (s *MemoryStore) UpsertNodeCapabilities(ctx context.Context, nodeID string, caps domain.NodeCapabilities) (*domain.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.ensureNodeLocked(nodeID)
	n.Capabilities = caps
	n.UpdatedAt = nowUTC()
	return copyNode(n), nil
}

func (s *MemoryStore) UpdateNodeMetrics(ctx context.Context, nodeID string, metrics domain.NodeMetrics) (*domain.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.ensureNodeLocked(nodeID)
	n.Metrics = metrics
	n.Status = domain.NodeOnline
	n.LastSeen = metrics.HeartbeatTS
	n.UpdatedAt = nowUTC()
	return copyNode(n), nil
}

func (s *MemoryStore) UpdateNodePolicy(ctx context.Context, nodeID string, policy domain.NodePolicy) (*domain.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.ensureNodeLocked(nodeID)
	n.Policy = policy
	n.UpdatedAt = nowUTC()
	return copyNode(n), nil
}

func (s *MemoryStore) GetNode(ctx context.Context, nodeID string) (*domain.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[nodeID]
	if !ok {
		return nil, nil
	}
	return copyNode(n), nil
}

func (s *MemoryStore) GetNodes(ctx context.Context) ([]*domain.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, copyNode(n))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity.NodeID < out[j].Identity.NodeID })
	return out, nil
}

func (s *MemoryStore) MarkOfflineIfStale(ctx context.Context, staleSeconds int) ([]*domain.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := nowUTC()
	cutoff := now.Add(-durationSeconds(staleSeconds))

	var changed []*domain.Node
	for _, n := range s.nodes {
		if n.LastSeen.Before(cutoff) && n.Status != domain.NodeOffline {
			n.Status = domain.NodeOffline
			n.UpdatedAt = now
			changed = append(changed, copyNode(n))
		}
	}
	sort.Slice(changed, func(i, j int) bool { return changed[i].Identity.NodeID < changed[j].Identity.NodeID })
	return changed, nil
}

func (s *MemoryStore) CreateJob(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := copyJob(job)
	s.jobs[cp.ID] = cp
	return copyJob(cp), nil
}

func (s *MemoryStore) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	return copyJob(j), nil
}

func (s *MemoryStore) ListJobs(ctx context.Context, status *domain.JobStatus, taskType *domain.TaskType, nodeID *string) ([]*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if status != nil && j.Status != *status {
			continue
		}
		if taskType != nil && j.Type != *taskType {
			continue
		}
		if nodeID != nil && (j.AssignedNodeID == nil || *j.AssignedNodeID != *nodeID) {
			continue
		}
		out = append(out, copyJob(j))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) AssignJob(ctx context.Context, id string, nodeID *string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, domain.NotFoundErrorf("job %q not found", id)
	}
	j.AssignedNodeID = nodeID
	j.UpdatedAt = nowUTC()
	return copyJob(j), nil
}

// TransitionJobStatus checks legality with domain.CanTransition; a
// self-transition is a no-op that only updates the error when one is given.
func (s *MemoryStore) TransitionJobStatus(ctx context.Context, id string, newStatus domain.JobStatus, errMsg *string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, domain.NotFoundErrorf("job %q not found", id)
	}

	now := nowUTC()

	if j.Status == newStatus {
		if errMsg != nil {
			j.Error = errMsg
			j.UpdatedAt = now
		}
		return copyJob(j), nil
	}

	if !domain.CanTransition(j.Status, newStatus) {
		return nil, domain.ConflictErrorf("invalid transition from %s to %s", j.Status, newStatus)
	}

	j.Status = newStatus
	j.UpdatedAt = now

	switch newStatus {
	case domain.JobRunning:
		if j.StartedAt == nil {
			j.StartedAt = &now
		}
		j.Attempts++
		j.Error = nil
	case domain.JobCompleted:
		j.CompletedAt = &now
		j.Error = nil
	case domain.JobFailed:
		j.CompletedAt = &now
		if errMsg != nil {
			j.Error = errMsg
		} else if j.Error == nil {
			defaultErr := "Job failed"
			j.Error = &defaultErr
		}
	case domain.JobCancelled:
		j.CompletedAt = &now
		if errMsg != nil {
			j.Error = errMsg
		}
	}

	return copyJob(j), nil
}
