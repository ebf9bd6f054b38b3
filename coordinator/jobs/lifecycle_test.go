package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgemesh/coordinator/domain"
	"github.com/edgemesh/coordinator/store"
)

func TestCreateAssignsEligibleNode(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	_, err := s.UpdateNodeMetrics(ctx, "node-1", domain.NodeMetrics{CPUPercent: 10, RAMPercent: 10, HeartbeatTS: time.Now().UTC()})
	require.NoError(t, err)

	svc := NewService(s)
	job, err := svc.Create(ctx, domain.TaskEmbeddings, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.JobQueued, job.Status)
	require.NotNil(t, job.AssignedNodeID)
	assert.Equal(t, "node-1", *job.AssignedNodeID)
}

func TestCreateWithoutEligibleNodeIsNotAnError(t *testing.T) {
	svc := NewService(store.NewMemoryStore())
	job, err := svc.Create(context.Background(), domain.TaskInference, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.JobQueued, job.Status)
	assert.Nil(t, job.AssignedNodeID)
}

func TestCreateRejectsOversizedPayloadRef(t *testing.T) {
	svc := NewService(store.NewMemoryStore())
	big := make([]byte, 513)
	ref := string(big)
	_, err := svc.Create(context.Background(), domain.TaskIndex, &ref)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestTransitionRejectsOversizedError(t *testing.T) {
	s := store.NewMemoryStore()
	svc := NewService(s)
	job, err := svc.Create(context.Background(), domain.TaskIndex, nil)
	require.NoError(t, err)

	big := make([]byte, 2049)
	errMsg := string(big)
	_, err = svc.Transition(context.Background(), job.ID, domain.JobRunning, &errMsg)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestGetUnknownJobIsNotFound(t *testing.T) {
	svc := NewService(store.NewMemoryStore())
	_, err := svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListFiltersByStatus(t *testing.T) {
	s := store.NewMemoryStore()
	svc := NewService(s)
	ctx := context.Background()

	_, err := svc.Create(ctx, domain.TaskIndex, nil)
	require.NoError(t, err)
	job2, err := svc.Create(ctx, domain.TaskTokenize, nil)
	require.NoError(t, err)
	_, err = svc.Transition(ctx, job2.ID, domain.JobRunning, nil)
	require.NoError(t, err)

	running := domain.JobRunning
	jobs, err := svc.List(ctx, &running, nil, nil)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, job2.ID, jobs[0].ID)
}
