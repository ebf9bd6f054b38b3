// Package jobs implements job creation and status transitions, including
// best-fit placement via the scheduler at creation time. Grounded on
// api/routers/jobs.py's create_job_route/_pick_node_for_task and
// transition_job_status_route (original_source).
package jobs

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/edgemesh/coordinator/domain"
	"github.com/edgemesh/coordinator/observability"
	"github.com/edgemesh/coordinator/scheduler"
	"github.com/edgemesh/coordinator/store"
)

// Service creates and transitions jobs against a Store, using the scheduler
// package to pick a best-fit node at creation time.
type Service struct {
	store store.Store
}

// NewService constructs a jobs Service over the given store.
func NewService(s store.Store) *Service {
	return &Service{store: s}
}

func newJobID() string {
	return "job-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

// Create validates the payload_ref length, attempts a best-fit node
// assignment via the scheduler, and persists a new job in QUEUED state.
// A job is created even when no node is currently eligible; assignedNodeID
// is left nil in that case, and nothing in this package assigns it later.
func (s *Service) Create(ctx context.Context, taskType domain.TaskType, payloadRef *string) (*domain.Job, error) {
	if payloadRef != nil && len(*payloadRef) > 512 {
		return nil, domain.ValidationErrorf("payload_ref exceeds 512 characters")
	}

	nodes, err := s.store.GetNodes(ctx)
	if err != nil {
		return nil, err
	}

	var assignedNodeID *string
	if chosen := scheduler.SelectNode(nodes, taskType); chosen != nil {
		id := chosen.Identity.NodeID
		assignedNodeID = &id
		observability.SchedulerDecisions.WithLabelValues(string(taskType), "assigned").Inc()
	} else {
		observability.SchedulerDecisions.WithLabelValues(string(taskType), "unassigned").Inc()
	}

	now := time.Now().UTC()
	job := &domain.Job{
		ID:             newJobID(),
		Type:           taskType,
		Status:         domain.JobQueued,
		PayloadRef:     payloadRef,
		AssignedNodeID: assignedNodeID,
		Attempts:       0,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	return s.store.CreateJob(ctx, job)
}

// Get fetches a job by id, returning a wrapped domain.ErrNotFound if absent.
func (s *Service) Get(ctx context.Context, id string) (*domain.Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, domain.NotFoundErrorf("job %q not found", id)
	}
	return job, nil
}

// List returns jobs matching the given optional filters.
func (s *Service) List(ctx context.Context, status *domain.JobStatus, taskType *domain.TaskType, nodeID *string) ([]*domain.Job, error) {
	return s.store.ListJobs(ctx, status, taskType, nodeID)
}

// Transition rejects an error message over 2048 characters and otherwise
// delegates to the store, which enforces the job FSM.
func (s *Service) Transition(ctx context.Context, id string, newStatus domain.JobStatus, errMsg *string) (*domain.Job, error) {
	if errMsg != nil && len(*errMsg) > 2048 {
		return nil, domain.ValidationErrorf("error exceeds 2048 characters")
	}
	return s.store.TransitionJobStatus(ctx, id, newStatus, errMsg)
}
