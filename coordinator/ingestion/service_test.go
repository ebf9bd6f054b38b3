package ingestion

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgemesh/coordinator/domain"
	"github.com/edgemesh/coordinator/eventbus"
	"github.com/edgemesh/coordinator/history"
	"github.com/edgemesh/coordinator/store"
)

func newTestService() *Service {
	return NewService(store.NewMemoryStore(), history.NewBuffer(0), eventbus.New(0))
}

func TestRegisterDerivesTaskTypesFromLabels(t *testing.T) {
	svc := newTestService()
	node, err := svc.Register(context.Background(), RegisterRequest{
		NodeID:      "node-1",
		DisplayName: "n1",
		Capabilities: RawCapabilities{
			Labels: []string{"gpu", "embed"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []domain.TaskType{domain.TaskEmbeddings}, node.Capabilities.TaskTypes)
}

func TestRegisterDefaultsToFullSetWhenNothingGiven(t *testing.T) {
	svc := newTestService()
	node, err := svc.Register(context.Background(), RegisterRequest{NodeID: "node-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.AllTaskTypes, node.Capabilities.TaskTypes)
}

func TestRegisterHasGPUDerivedFromGPUNameOrVRAM(t *testing.T) {
	svc := newTestService()
	vram := 24.0
	node, err := svc.Register(context.Background(), RegisterRequest{
		NodeID:       "node-1",
		Capabilities: RawCapabilities{VRAMTotalGB: &vram},
	})
	require.NoError(t, err)
	assert.True(t, node.Capabilities.HasGPU)
}

func TestRegisterRejectsEmptyNodeID(t *testing.T) {
	svc := newTestService()
	_, err := svc.Register(context.Background(), RegisterRequest{NodeID: "  "})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestRegisterRejectsInvalidPort(t *testing.T) {
	svc := newTestService()
	_, err := svc.Register(context.Background(), RegisterRequest{NodeID: "node-1", Port: 70000})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestHeartbeatFlipsOnlineAndPublishes(t *testing.T) {
	s := store.NewMemoryStore()
	bus := eventbus.New(0)
	hist := history.NewBuffer(0)
	svc := NewService(s, hist, bus)

	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)

	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	event, err := svc.Heartbeat(context.Background(), HeartbeatRequest{
		NodeID: "node-1",
		Metrics: domain.NodeMetrics{
			CPUPercent:  50,
			RAMPercent:  40,
			RunningJobs: 1,
			HeartbeatTS: ts,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.NodeOnline, event.Status)

	node, err := s.GetNode(context.Background(), "node-1")
	require.NoError(t, err)
	assert.Equal(t, domain.NodeOnline, node.Status)
	assert.True(t, node.LastSeen.Equal(ts))

	assert.Len(t, hist.Get("node-1", 10), 1)

	select {
	case got := <-ch:
		assert.Equal(t, "node-1", got.NodeID)
	default:
		t.Fatal("expected a published event")
	}
}

func TestHeartbeatRejectsOutOfRangePercents(t *testing.T) {
	svc := newTestService()
	_, err := svc.Heartbeat(context.Background(), HeartbeatRequest{
		NodeID:  "node-1",
		Metrics: domain.NodeMetrics{CPUPercent: 150, HeartbeatTS: time.Now()},
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
}
