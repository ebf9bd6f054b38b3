package main

import (
	"github.com/edgemesh/coordinator/domain"
)

// Wire payload shapes for the /v1 HTTP surface, grounded on api/schemas.py.

type capabilitiesPayload struct {
	CPUCores    *int     `json:"cpu_cores,omitempty"`
	CPUThreads  *int     `json:"cpu_threads,omitempty"`
	RAMTotalGB  *float64 `json:"ram_total_gb,omitempty"`
	GPUName     *string  `json:"gpu_name,omitempty"`
	VRAMTotalGB *float64 `json:"vram_total_gb,omitempty"`
	OS          string   `json:"os,omitempty"`
	Arch        string   `json:"arch,omitempty"`
	TaskTypes   []string `json:"task_types"`
	Labels      []string `json:"labels"`
}

type registerRequest struct {
	NodeID       string              `json:"node_id"`
	DisplayName  string              `json:"display_name"`
	IP           string              `json:"ip"`
	Port         int                 `json:"port"`
	Capabilities capabilitiesPayload `json:"capabilities"`
}

type heartbeatMetricsPayload struct {
	CPUPercent  float64  `json:"cpu_percent"`
	RAMUsedGB   float64  `json:"ram_used_gb"`
	RAMPercent  float64  `json:"ram_percent"`
	GPUPercent  *float64 `json:"gpu_percent,omitempty"`
	VRAMUsedGB  *float64 `json:"vram_used_gb,omitempty"`
	RunningJobs int      `json:"running_jobs"`
}

type heartbeatRequest struct {
	NodeID  string                  `json:"node_id"`
	Metrics heartbeatMetricsPayload `json:"metrics"`
}

type nodeDetailResponse struct {
	Node           *domain.Node         `json:"node"`
	MetricsHistory []domain.NodeMetrics `json:"metrics_history,omitempty"`
}

type simulateScheduleRequest struct {
	TaskType string `json:"task_type"`
}

type candidateScore struct {
	NodeID   string   `json:"node_id"`
	Eligible bool     `json:"eligible"`
	Score    float64  `json:"score"`
	Reasons  []string `json:"reasons"`
}

type simulateScheduleResponse struct {
	TaskType         domain.TaskType  `json:"task_type"`
	ChosenNodeID     *string          `json:"chosen_node_id"`
	Reason           *string          `json:"reason"`
	RankedCandidates []candidateScore `json:"ranked_candidates"`
}

type clusterSummaryResponse struct {
	TotalNodes               int     `json:"total_nodes"`
	OnlineNodes              int     `json:"online_nodes"`
	OfflineNodes             int     `json:"offline_nodes"`
	TotalEffectiveCPUThreads float64 `json:"total_effective_cpu_threads"`
	TotalEffectiveRAMGB      float64 `json:"total_effective_ram_gb"`
	TotalEffectiveVRAMGB     float64 `json:"total_effective_vram_gb"`
	ActiveRunningJobsTotal   int     `json:"active_running_jobs_total"`
}

type jobCreateRequest struct {
	TaskType   string  `json:"task_type"`
	PayloadRef *string `json:"payload_ref,omitempty"`
}

type jobStatusUpdateRequest struct {
	Status string  `json:"status"`
	Error  *string `json:"error,omitempty"`
}

type healthResponse struct {
	Status string `json:"status"`
}
