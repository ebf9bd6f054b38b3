package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgemesh/coordinator/domain"
	"github.com/edgemesh/coordinator/eventbus"
	"github.com/edgemesh/coordinator/history"
	"github.com/edgemesh/coordinator/middleware"
	"github.com/edgemesh/coordinator/store"
)

// newTestServer wires the full /v1 route table exactly as main.go does,
// against a fresh MemoryStore, so handler tests exercise the same mux
// shape a real deployment runs.
func newTestServer(secret string) *httptest.Server {
	s := store.NewMemoryStore()
	hist := history.NewBuffer(0)
	bus := eventbus.New(0)
	api := NewAPI(s, hist, bus)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", api.handleHealth)
	mux.Handle("/v1/agent/register", middleware.RequireSharedSecret(secret, http.HandlerFunc(api.handleRegister)))
	mux.Handle("/v1/agent/heartbeat", middleware.RequireSharedSecret(secret, http.HandlerFunc(api.handleHeartbeat)))
	mux.HandleFunc("/v1/nodes", api.handleListNodes)
	mux.HandleFunc("/v1/nodes/", api.handleNodeByID)
	mux.HandleFunc("/v1/simulate/schedule", api.handleSimulateSchedule)
	mux.HandleFunc("/v1/jobs", api.handleJobsCollection)
	mux.HandleFunc("/v1/jobs/", api.handleJobByID)
	mux.HandleFunc("/v1/cluster/summary", api.handleClusterSummary)
	mux.HandleFunc("/v1/stream/nodes", api.handleStreamNodes)

	return httptest.NewServer(mux)
}

func doJSON(t *testing.T, method, url, secret string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set(middleware.SharedSecretHeader, secret)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestSecretGate(t *testing.T) {
	srv := newTestServer("s3cret")
	defer srv.Close()

	registerBody := map[string]any{
		"node_id":      "node-1",
		"display_name": "n",
		"ip":           "127.0.0.1",
		"port":         9100,
		"capabilities": map[string]any{"cpu_cores": 8, "cpu_threads": 16, "ram_total_gb": 32},
	}

	resp := doJSON(t, http.MethodPost, srv.URL+"/v1/agent/register", "", registerBody)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodPost, srv.URL+"/v1/agent/register", "s3cret", registerBody)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, srv.URL+"/v1/nodes", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var nodes []domain.Node
	decode(t, resp, &nodes)
	require.Len(t, nodes, 1)
	assert.Equal(t, "node-1", nodes[0].Identity.NodeID)
}

func TestHeartbeatFlipsOnline(t *testing.T) {
	srv := newTestServer("")
	defer srv.Close()

	resp := doJSON(t, http.MethodPost, srv.URL+"/v1/agent/register", "", map[string]any{
		"node_id":      "node-1",
		"display_name": "n",
		"capabilities": map[string]any{"cpu_cores": 8, "cpu_threads": 16, "ram_total_gb": 32},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodPost, srv.URL+"/v1/agent/heartbeat", "", map[string]any{
		"node_id": "node-1",
		"metrics": map[string]any{
			"cpu_percent":  34,
			"ram_used_gb":  7.8,
			"ram_percent":  51.2,
			"gpu_percent":  40,
			"vram_used_gb": 6,
			"running_jobs": 1,
		},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, srv.URL+"/v1/nodes/node-1", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var detail nodeDetailResponse
	decode(t, resp, &detail)
	assert.Equal(t, domain.NodeOnline, detail.Node.Status)
	assert.Equal(t, 7.8, detail.Node.Metrics.RAMUsedGB)
}

func TestOverCapIneligibility(t *testing.T) {
	srv := newTestServer("")
	defer srv.Close()

	resp := doJSON(t, http.MethodPost, srv.URL+"/v1/agent/register", "", map[string]any{
		"node_id":      "node-1",
		"display_name": "n",
		"capabilities": map[string]any{"cpu_cores": 8, "cpu_threads": 16, "ram_total_gb": 32, "gpu_name": "RTX 4090", "vram_total_gb": 24},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodPost, srv.URL+"/v1/agent/heartbeat", "", map[string]any{
		"node_id": "node-1",
		"metrics": map[string]any{"cpu_percent": 9, "ram_used_gb": 1, "ram_percent": 10, "running_jobs": 0},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodPut, srv.URL+"/v1/nodes/node-1/policy", "", map[string]any{
		"cpu_cap_percent": 1,
		"ram_cap_percent": 100,
		"role_preference": "AUTO",
		"task_allowlist":  []string{},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodPost, srv.URL+"/v1/simulate/schedule", "", map[string]any{"task_type": "INFER"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sim simulateScheduleResponse
	decode(t, resp, &sim)

	require.Nil(t, sim.ChosenNodeID)
	require.NotNil(t, sim.Reason)
	assert.Equal(t, "No eligible nodes found", *sim.Reason)
	require.Len(t, sim.RankedCandidates, 1)
	assert.Contains(t, sim.RankedCandidates[0].Reasons, "cpu_over_cap")
}

func TestGPUPreferredForInference(t *testing.T) {
	srv := newTestServer("")
	defer srv.Close()

	register := func(nodeID string, hasGPU bool) {
		caps := map[string]any{"cpu_cores": 8, "cpu_threads": 16, "ram_total_gb": 32}
		if hasGPU {
			caps["gpu_name"] = "RTX 4090"
			caps["vram_total_gb"] = 24
		}
		resp := doJSON(t, http.MethodPost, srv.URL+"/v1/agent/register", "", map[string]any{
			"node_id":      nodeID,
			"display_name": nodeID,
			"capabilities": caps,
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		resp.Body.Close()

		resp = doJSON(t, http.MethodPost, srv.URL+"/v1/agent/heartbeat", "", map[string]any{
			"node_id": nodeID,
			"metrics": map[string]any{"cpu_percent": 20, "ram_used_gb": 1, "ram_percent": 10, "running_jobs": 0},
		})
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		resp.Body.Close()
	}

	register("gpu-node", true)
	register("cpu-node", false)

	resp := doJSON(t, http.MethodPost, srv.URL+"/v1/simulate/schedule", "", map[string]any{"task_type": "INFER"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sim simulateScheduleResponse
	decode(t, resp, &sim)

	require.NotNil(t, sim.ChosenNodeID)
	assert.Equal(t, "gpu-node", *sim.ChosenNodeID)
}

func TestJobFSMOverHTTP(t *testing.T) {
	srv := newTestServer("")
	defer srv.Close()

	resp := doJSON(t, http.MethodPost, srv.URL+"/v1/jobs", "", map[string]any{"task_type": "EMBED"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var job domain.Job
	decode(t, resp, &job)
	assert.Equal(t, domain.JobQueued, job.Status)

	resp = doJSON(t, http.MethodPost, srv.URL+"/v1/jobs/"+job.ID+"/status", "", map[string]any{"status": "RUNNING"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &job)
	assert.Equal(t, domain.JobRunning, job.Status)
	assert.Equal(t, 1, job.Attempts)
	require.NotNil(t, job.StartedAt)

	resp = doJSON(t, http.MethodPost, srv.URL+"/v1/jobs/"+job.ID+"/status", "", map[string]any{"status": "COMPLETED"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &job)
	assert.Equal(t, domain.JobCompleted, job.Status)
	require.NotNil(t, job.CompletedAt)

	resp = doJSON(t, http.MethodPost, srv.URL+"/v1/jobs", "", map[string]any{"task_type": "INDEX"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var other domain.Job
	decode(t, resp, &other)
	assert.Equal(t, domain.JobQueued, other.Status)

	resp = doJSON(t, http.MethodPost, srv.URL+"/v1/jobs/"+other.ID+"/status", "", map[string]any{"status": "COMPLETED"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestStaleDemotionViaSweep(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := t.Context()

	_, err := s.UpdateNodeMetrics(ctx, "node-1", domain.NodeMetrics{HeartbeatTS: time.Now().UTC().Add(-120 * time.Second)})
	require.NoError(t, err)

	demoted, err := s.MarkOfflineIfStale(ctx, 60)
	require.NoError(t, err)
	require.Len(t, demoted, 1)
	assert.Equal(t, "node-1", demoted[0].Identity.NodeID)
	assert.Equal(t, domain.NodeOffline, demoted[0].Status)

	n, err := s.GetNode(ctx, "node-1")
	require.NoError(t, err)
	assert.Equal(t, domain.NodeOffline, n.Status)
}
