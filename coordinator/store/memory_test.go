package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgemesh/coordinator/domain"
)

func TestUpsertNodeIdentityThenCapabilities(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	n, err := s.UpsertNodeIdentity(ctx, "node-1", "n1", "10.0.0.1", 9100)
	require.NoError(t, err)
	assert.Equal(t, domain.NodeUnknown, n.Status)
	assert.Equal(t, domain.DefaultNodeCapabilities(), n.Capabilities)

	cores := 8
	n, err = s.UpsertNodeCapabilities(ctx, "node-1", domain.NodeCapabilities{CPUCores: &cores, TaskTypes: []domain.TaskType{domain.TaskIndex}})
	require.NoError(t, err)
	assert.Equal(t, 8, *n.Capabilities.CPUCores)
	assert.Equal(t, "10.0.0.1", n.Identity.IP)
}

func TestUpdateNodeMetricsFlipsOnline(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	n, err := s.UpdateNodeMetrics(ctx, "node-1", domain.NodeMetrics{CPUPercent: 10, HeartbeatTS: ts})
	require.NoError(t, err)
	assert.Equal(t, domain.NodeOnline, n.Status)
	assert.True(t, n.LastSeen.Equal(ts))
}

func TestGetNodesOrderedByID(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for _, id := range []string{"node-b", "node-a", "node-c"} {
		_, err := s.UpsertNodeIdentity(ctx, id, id, "", 0)
		require.NoError(t, err)
	}

	nodes, err := s.GetNodes(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 3)
	assert.Equal(t, []string{"node-a", "node-b", "node-c"}, []string{
		nodes[0].Identity.NodeID, nodes[1].Identity.NodeID, nodes[2].Identity.NodeID,
	})
}

func TestMarkOfflineIfStaleOnlyTouchesStaleNodes(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	fresh := time.Now().UTC()
	stale := fresh.Add(-2 * time.Minute)

	_, err := s.UpdateNodeMetrics(ctx, "fresh", domain.NodeMetrics{HeartbeatTS: fresh})
	require.NoError(t, err)
	_, err = s.UpdateNodeMetrics(ctx, "stale", domain.NodeMetrics{HeartbeatTS: stale})
	require.NoError(t, err)

	changed, err := s.MarkOfflineIfStale(ctx, 60)
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.Equal(t, "stale", changed[0].Identity.NodeID)
	assert.Equal(t, domain.NodeOffline, changed[0].Status)

	freshNode, err := s.GetNode(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, domain.NodeOnline, freshNode.Status)

	again, err := s.MarkOfflineIfStale(ctx, 60)
	require.NoError(t, err)
	assert.Empty(t, again, "already-offline node should not be reported again")
}

func TestCopyNodeIsolatesCallers(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	n, err := s.UpsertNodeIdentity(ctx, "node-1", "n1", "", 0)
	require.NoError(t, err)
	n.Capabilities.Labels = append(n.Capabilities.Labels, "mutated")

	reloaded, err := s.GetNode(ctx, "node-1")
	require.NoError(t, err)
	assert.NotContains(t, reloaded.Capabilities.Labels, "mutated")
}

func TestJobLifecycleFSM(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	job := &domain.Job{ID: "job-1", Type: domain.TaskEmbeddings, Status: domain.JobQueued}
	_, err := s.CreateJob(ctx, job)
	require.NoError(t, err)

	running, err := s.TransitionJobStatus(ctx, "job-1", domain.JobRunning, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, running.Attempts)
	require.NotNil(t, running.StartedAt)

	startedAt := *running.StartedAt

	completed, err := s.TransitionJobStatus(ctx, "job-1", domain.JobCompleted, nil)
	require.NoError(t, err)
	require.NotNil(t, completed.CompletedAt)
	assert.True(t, completed.StartedAt.Equal(startedAt), "started_at must not be overwritten")

	_, err = s.TransitionJobStatus(ctx, "job-1", domain.JobRunning, nil)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestTransitionJobStatusDefaultsFailedError(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.CreateJob(ctx, &domain.Job{ID: "job-1", Type: domain.TaskIndex, Status: domain.JobQueued})
	require.NoError(t, err)
	_, err = s.TransitionJobStatus(ctx, "job-1", domain.JobRunning, nil)
	require.NoError(t, err)

	failed, err := s.TransitionJobStatus(ctx, "job-1", domain.JobFailed, nil)
	require.NoError(t, err)
	require.NotNil(t, failed.Error)
	assert.Equal(t, "Job failed", *failed.Error)
}

func TestTransitionJobStatusUnknownJobIsNotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.TransitionJobStatus(context.Background(), "missing", domain.JobRunning, nil)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestListJobsOrderingAndFilters(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	j1 := &domain.Job{ID: "job-1", Type: domain.TaskEmbeddings, Status: domain.JobQueued, CreatedAt: base}
	j2 := &domain.Job{ID: "job-2", Type: domain.TaskInference, Status: domain.JobQueued, CreatedAt: base.Add(time.Minute)}
	_, err := s.CreateJob(ctx, j1)
	require.NoError(t, err)
	_, err = s.CreateJob(ctx, j2)
	require.NoError(t, err)

	all, err := s.ListJobs(ctx, nil, nil, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "job-2", all[0].ID, "newest created_at first")

	taskType := domain.TaskInference
	filtered, err := s.ListJobs(ctx, nil, &taskType, nil)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "job-2", filtered[0].ID)
}

func TestAssignJobNotFound(t *testing.T) {
	s := NewMemoryStore()
	id := "node-1"
	_, err := s.AssignJob(context.Background(), "missing", &id)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}
