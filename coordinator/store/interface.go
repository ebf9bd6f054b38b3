// Package store is the single source of truth for node and job state
// (spec.md section 4.B). Every other coordinator component reads and
// writes nodes and jobs exclusively through this interface.
package store

import (
	"context"
	"time"

	"github.com/edgemesh/coordinator/domain"
)

// Store defines the durable CRUD and transition operations over nodes and
// jobs. Implementations must make each operation atomic with respect to a
// single record: concurrent register/heartbeat calls for the same node must
// not interleave into a torn write.
type Store interface {
	// UpsertNodeIdentity inserts or updates identity fields. Capabilities,
	// metrics, and policy are left at their existing values, or defaults on
	// insert. Status and last-seen are untouched.
	UpsertNodeIdentity(ctx context.Context, nodeID, displayName, ip string, port int) (*domain.Node, error)

	// UpsertNodeCapabilities replaces the capabilities blob, auto-creating
	// the node with defaults if it doesn't exist yet.
	UpsertNodeCapabilities(ctx context.Context, nodeID string, caps domain.NodeCapabilities) (*domain.Node, error)

	// UpdateNodeMetrics replaces the metrics blob, flips status to ONLINE,
	// and sets LastSeen to the metrics' heartbeat timestamp. Auto-creates
	// the node with defaults if it doesn't exist yet.
	UpdateNodeMetrics(ctx context.Context, nodeID string, metrics domain.NodeMetrics) (*domain.Node, error)

	// UpdateNodePolicy replaces the policy blob. The caller is responsible
	// for bounds validation; the store does not re-validate percentages.
	UpdateNodePolicy(ctx context.Context, nodeID string, policy domain.NodePolicy) (*domain.Node, error)

	// GetNode returns nil, nil if the node does not exist.
	GetNode(ctx context.Context, nodeID string) (*domain.Node, error)

	// GetNodes returns every known node ordered by NodeID ascending.
	GetNodes(ctx context.Context) ([]*domain.Node, error)

	// MarkOfflineIfStale demotes every node whose LastSeen is older than
	// staleSeconds and whose status isn't already OFFLINE, returning the
	// changed nodes.
	MarkOfflineIfStale(ctx context.Context, staleSeconds int) ([]*domain.Node, error)

	// CreateJob persists a new job record as-is (caller sets defaults).
	CreateJob(ctx context.Context, job *domain.Job) (*domain.Job, error)

	// GetJob returns nil, nil if the job does not exist.
	GetJob(ctx context.Context, id string) (*domain.Job, error)

	// ListJobs returns jobs matching the given optional filters, ordered by
	// CreatedAt descending then ID ascending.
	ListJobs(ctx context.Context, status *domain.JobStatus, taskType *domain.TaskType, nodeID *string) ([]*domain.Job, error)

	// AssignJob sets the job's assigned node id. Returns a wrapped
	// domain.ErrNotFound if the job doesn't exist.
	AssignJob(ctx context.Context, id string, nodeID *string) (*domain.Job, error)

	// TransitionJobStatus enforces the job FSM (spec.md section 3).
	// Returns a wrapped domain.ErrNotFound or domain.ErrConflict as
	// appropriate.
	TransitionJobStatus(ctx context.Context, id string, newStatus domain.JobStatus, errMsg *string) (*domain.Job, error)
}

// nowUTC is the store's clock source, isolated so tests can observe
// monotonic-enough ordering without depending on wall-clock resolution.
var nowUTC = func() time.Time { return time.Now().UTC() }
