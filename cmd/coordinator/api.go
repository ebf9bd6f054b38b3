package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/edgemesh/coordinator/domain"
	"github.com/edgemesh/coordinator/eventbus"
	"github.com/edgemesh/coordinator/history"
	"github.com/edgemesh/coordinator/ingestion"
	"github.com/edgemesh/coordinator/jobs"
	"github.com/edgemesh/coordinator/middleware"
	"github.com/edgemesh/coordinator/observability"
	"github.com/edgemesh/coordinator/scheduler"
	"github.com/edgemesh/coordinator/store"
)

// API holds every dependency the HTTP handlers need. Grounded on
// control_plane/api.go's API struct shape: one struct of collaborators,
// methods as handlers.
type API struct {
	store     store.Store
	history   *history.Buffer
	bus       *eventbus.Bus
	ingestion *ingestion.Service
	jobs      *jobs.Service
	limiter   *middleware.NodeLimiter
}

// NewAPI wires an API over its collaborators.
func NewAPI(s store.Store, h *history.Buffer, b *eventbus.Bus) *API {
	return &API{
		store:     s,
		history:   h,
		bus:       b,
		ingestion: ingestion.NewService(s, h, b),
		jobs:      jobs.NewService(s),
		limiter:   middleware.NewNodeLimiter(5, 10),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: failed to encode response: %v", err)
	}
}

// writeError translates a domain error kind to its HTTP status code, the
// coordinator's sole translation point per the error handling design.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrUnauthorized):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	default:
		log.Printf("api: internal error: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func parseTaskType(raw string) (domain.TaskType, bool) {
	return domain.ParseTaskType(strings.TrimSpace(raw))
}

func capabilitiesFromPayload(p capabilitiesPayload) ingestion.RawCapabilities {
	var taskTypes []domain.TaskType
	for _, raw := range p.TaskTypes {
		if t, ok := parseTaskType(raw); ok {
			taskTypes = append(taskTypes, t)
		}
	}
	return ingestion.RawCapabilities{
		TaskTypes:   taskTypes,
		Labels:      p.Labels,
		CPUCores:    p.CPUCores,
		CPUThreads:  p.CPUThreads,
		RAMTotalGB:  p.RAMTotalGB,
		GPUName:     p.GPUName,
		VRAMTotalGB: p.VRAMTotalGB,
		OS:          p.OS,
		Arch:        p.Arch,
	}
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusUnprocessableEntity)
		return
	}
	for _, raw := range req.Capabilities.TaskTypes {
		if _, ok := parseTaskType(raw); !ok {
			http.Error(w, "unsupported task_type '"+raw+"'", http.StatusUnprocessableEntity)
			return
		}
	}

	if !a.limiter.Allow(req.NodeID) {
		observability.IngestionRateLimited.WithLabelValues("register").Inc()
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	node, err := a.ingestion.Register(r.Context(), ingestion.RegisterRequest{
		NodeID:       req.NodeID,
		DisplayName:  req.DisplayName,
		IP:           req.IP,
		Port:         req.Port,
		Capabilities: capabilitiesFromPayload(req.Capabilities),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, node)
}

func (a *API) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusUnprocessableEntity)
		return
	}

	if !a.limiter.Allow(req.NodeID) {
		observability.IngestionRateLimited.WithLabelValues("heartbeat").Inc()
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	metrics := domain.NodeMetrics{
		CPUPercent:  req.Metrics.CPUPercent,
		RAMUsedGB:   req.Metrics.RAMUsedGB,
		RAMPercent:  req.Metrics.RAMPercent,
		GPUPercent:  req.Metrics.GPUPercent,
		VRAMUsedGB:  req.Metrics.VRAMUsedGB,
		RunningJobs: req.Metrics.RunningJobs,
		HeartbeatTS: nowUTC(),
	}

	event, err := a.ingestion.Heartbeat(r.Context(), ingestion.HeartbeatRequest{
		NodeID:  req.NodeID,
		Metrics: metrics,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, event)
}

func (a *API) handleListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := a.store.GetNodes(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nodes)
}

func (a *API) handleGetNode(w http.ResponseWriter, r *http.Request, nodeID string) {
	node, err := a.store.GetNode(r.Context(), nodeID)
	if err != nil {
		writeError(w, err)
		return
	}
	if node == nil {
		http.Error(w, "node not found", http.StatusNotFound)
		return
	}

	resp := nodeDetailResponse{Node: node}
	if r.URL.Query().Get("include_metrics_history") == "true" {
		limit := 20
		if raw := r.URL.Query().Get("history_limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n >= 1 && n <= 500 {
				limit = n
			}
		}
		resp.MetricsHistory = a.history.Get(nodeID, limit)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handlePutNodePolicy(w http.ResponseWriter, r *http.Request, nodeID string) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	existing, err := a.store.GetNode(r.Context(), nodeID)
	if err != nil {
		writeError(w, err)
		return
	}
	if existing == nil {
		http.Error(w, "node not found", http.StatusNotFound)
		return
	}

	var policy domain.NodePolicy
	if err := json.NewDecoder(r.Body).Decode(&policy); err != nil {
		http.Error(w, "invalid request body", http.StatusUnprocessableEntity)
		return
	}
	if err := domain.ValidatePolicy(policy); err != nil {
		writeError(w, err)
		return
	}

	node, err := a.store.UpdateNodePolicy(r.Context(), nodeID, policy)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

// handleNodeByID dispatches /v1/nodes/{id}[/policy] by path shape.
func (a *API) handleNodeByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/nodes/")
	if rest == "" {
		http.Error(w, "node id required", http.StatusNotFound)
		return
	}

	if nodeID, ok := strings.CutSuffix(rest, "/policy"); ok {
		a.handlePutNodePolicy(w, r, nodeID)
		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	a.handleGetNode(w, r, rest)
}

func (a *API) handleSimulateSchedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req simulateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusUnprocessableEntity)
		return
	}
	taskType, ok := parseTaskType(req.TaskType)
	if !ok {
		http.Error(w, "unsupported task_type '"+req.TaskType+"'", http.StatusUnprocessableEntity)
		return
	}

	nodes, err := a.store.GetNodes(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	candidates := make([]candidateScore, 0, len(nodes))
	var chosenID *string
	bestScore := -1.0
	first := true
	for _, n := range nodes {
		eligible, reasons := scheduler.EvaluateNodeEligibility(n, taskType)
		score := scheduler.ScoreNode(n, taskType)
		candidates = append(candidates, candidateScore{
			NodeID:   n.Identity.NodeID,
			Eligible: eligible,
			Score:    score,
			Reasons:  reasons,
		})
		if eligible && (first || score > bestScore) {
			id := n.Identity.NodeID
			chosenID = &id
			bestScore = score
			first = false
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Eligible != candidates[j].Eligible {
			return candidates[i].Eligible
		}
		return candidates[i].Score > candidates[j].Score
	})

	resp := simulateScheduleResponse{
		TaskType:         taskType,
		ChosenNodeID:     chosenID,
		RankedCandidates: candidates,
	}
	if chosenID == nil {
		reason := "No eligible nodes found"
		resp.Reason = &reason
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleClusterSummary(w http.ResponseWriter, r *http.Request) {
	nodes, err := a.store.GetNodes(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	summary := clusterSummaryResponse{TotalNodes: len(nodes)}
	for _, n := range nodes {
		if n.Status == domain.NodeOnline {
			summary.OnlineNodes++
		} else if n.Status == domain.NodeOffline {
			summary.OfflineNodes++
		}
		summary.ActiveRunningJobsTotal += n.Metrics.RunningJobs

		ec := scheduler.ComputeEffectiveCapacity(n)
		summary.TotalEffectiveCPUThreads += ec.EffectiveCPUThreads
		summary.TotalEffectiveRAMGB += ec.EffectiveRAMGB
		if ec.EffectiveVRAMGB != nil {
			summary.TotalEffectiveVRAMGB += *ec.EffectiveVRAMGB
		}
	}

	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req jobCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusUnprocessableEntity)
		return
	}
	taskType, ok := parseTaskType(req.TaskType)
	if !ok {
		http.Error(w, "unsupported task_type '"+req.TaskType+"'", http.StatusUnprocessableEntity)
		return
	}

	job, err := a.jobs.Create(r.Context(), taskType, req.PayloadRef)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (a *API) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var status *domain.JobStatus
	if raw := q.Get("status"); raw != "" {
		s, ok := domain.ParseJobStatus(raw)
		if !ok {
			http.Error(w, "unsupported status '"+raw+"'", http.StatusUnprocessableEntity)
			return
		}
		status = &s
	}

	var taskType *domain.TaskType
	if raw := q.Get("task_type"); raw != "" {
		t, ok := parseTaskType(raw)
		if !ok {
			http.Error(w, "unsupported task_type '"+raw+"'", http.StatusUnprocessableEntity)
			return
		}
		taskType = &t
	}

	var nodeID *string
	if raw := q.Get("node_id"); raw != "" {
		nodeID = &raw
	}

	result, err := a.jobs.List(r.Context(), status, taskType, nodeID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleJobsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.handleCreateJob(w, r)
	case http.MethodGet:
		a.handleListJobs(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *API) handleJobByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/jobs/")
	if rest == "" {
		http.Error(w, "job id required", http.StatusNotFound)
		return
	}

	if jobID, ok := strings.CutSuffix(rest, "/status"); ok {
		a.handleJobStatusUpdate(w, r, jobID)
		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	job, err := a.jobs.Get(r.Context(), rest)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (a *API) handleJobStatusUpdate(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req jobStatusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusUnprocessableEntity)
		return
	}
	newStatus, ok := domain.ParseJobStatus(req.Status)
	if !ok {
		http.Error(w, "unsupported status '"+req.Status+"'", http.StatusUnprocessableEntity)
		return
	}

	job, err := a.jobs.Transition(r.Context(), jobID, newStatus, req.Error)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}
