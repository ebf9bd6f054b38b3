// Package domain holds the node and job entities, enumerations, and
// invariants shared by the rest of the coordinator.
package domain

import "time"

// TaskType identifies the kind of work a node can run or a job requests.
type TaskType string

const (
	TaskInference  TaskType = "INFERENCE"
	TaskEmbeddings TaskType = "EMBEDDINGS"
	TaskIndex      TaskType = "INDEX"
	TaskTokenize   TaskType = "TOKENIZE"
	TaskPreprocess TaskType = "PREPROCESS"
)

// AllTaskTypes is the full enumeration, in a stable order. Used as the
// default task-type set for nodes and the default policy allowlist.
var AllTaskTypes = []TaskType{
	TaskInference, TaskEmbeddings, TaskIndex, TaskTokenize, TaskPreprocess,
}

// taskTypeAliases maps every accepted spelling (case-insensitive, matched in
// upper-case) to its canonical TaskType. Single source of truth for both the
// HTTP query/body parsing and the label-based capability inference in
// ingestion.Register.
var taskTypeAliases = map[string]TaskType{
	"INFER":         TaskInference,
	"INFERENCE":     TaskInference,
	"EMBED":         TaskEmbeddings,
	"EMBEDDING":     TaskEmbeddings,
	"EMBEDDINGS":    TaskEmbeddings,
	"INDEX":         TaskIndex,
	"TOKENIZE":      TaskTokenize,
	"PREPROCESS":    TaskPreprocess,
	"PREPROCESSING": TaskPreprocess,
}

// taskTypeLabelAliases is the alias table used when deriving task types
// from free-form capability labels (e.g. "gpu", "embed"); it is the same
// table as taskTypeAliases. Label
// matching is deliberately looser than the strict enum parse used at the
// HTTP boundary: it silently ignores labels it doesn't recognize instead of
// rejecting the whole request, because labels are operator-supplied tags,
// not wire-protocol enums.
var taskTypeLabelAliases = taskTypeAliases

// ParseTaskType parses a task type string leniently per spec: case
// insensitive, with the aliases above. Returns false if the value is
// unrecognized.
func ParseTaskType(raw string) (TaskType, bool) {
	t, ok := taskTypeAliases[upper(raw)]
	return t, ok
}

// taskTypeFromLabel looks up a single free-form label against the known
// aliases. Unknown labels return ("", false) and are simply skipped by the
// caller.
func taskTypeFromLabel(label string) (TaskType, bool) {
	t, ok := taskTypeLabelAliases[upper(label)]
	return t, ok
}

func upper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - ('a' - 'A')
		}
	}
	return string(b)
}

// DeriveTaskTypesFromLabels maps free-form labels (e.g. "gpu", "embed") to
// task types via the alias table, preserving first-seen order and skipping
// duplicates and unknown labels.
func DeriveTaskTypesFromLabels(labels []string) []TaskType {
	var out []TaskType
	seen := make(map[TaskType]bool)
	for _, label := range labels {
		t, ok := taskTypeFromLabel(label)
		if !ok || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// JobStatus is the lifecycle state of a Job.
type JobStatus string

const (
	JobQueued    JobStatus = "QUEUED"
	JobRunning   JobStatus = "RUNNING"
	JobCompleted JobStatus = "COMPLETED"
	JobFailed    JobStatus = "FAILED"
	JobCancelled JobStatus = "CANCELLED"
)

// ParseJobStatus parses a job status string, case-insensitive.
func ParseJobStatus(raw string) (JobStatus, bool) {
	switch upper(raw) {
	case string(JobQueued):
		return JobQueued, true
	case string(JobRunning):
		return JobRunning, true
	case string(JobCompleted):
		return JobCompleted, true
	case string(JobFailed):
		return JobFailed, true
	case string(JobCancelled):
		return JobCancelled, true
	default:
		return "", false
	}
}

// jobTransitions is the allowed-transition DAG from spec.md section 3.
// CANCELLED is reachable from QUEUED and RUNNING: an explicit redesign
// decision recorded in SPEC_FULL.md section 10 since the original Python
// implementation never exposed a trigger for it.
var jobTransitions = map[JobStatus]map[JobStatus]bool{
	JobQueued:    {JobRunning: true, JobCancelled: true},
	JobRunning:   {JobCompleted: true, JobFailed: true, JobCancelled: true},
	JobCompleted: {},
	JobFailed:    {},
	JobCancelled: {},
}

// CanTransition reports whether moving from `from` to `to` is a legal,
// non-self transition per the job FSM.
func CanTransition(from, to JobStatus) bool {
	allowed, ok := jobTransitions[from]
	if !ok {
		return false
	}
	return allowed[to]
}

// NodeStatus is the liveness state of a Node.
type NodeStatus string

const (
	NodeUnknown NodeStatus = "UNKNOWN"
	NodeOnline  NodeStatus = "ONLINE"
	NodeOffline NodeStatus = "OFFLINE"
)

// RolePreference biases scheduler scoring toward a task family.
type RolePreference string

const (
	RoleAuto             RolePreference = "AUTO"
	RolePreferInference  RolePreference = "PREFER_INFERENCE"
	RolePreferEmbeddings RolePreference = "PREFER_EMBEDDINGS"
	RolePreferPreprocess RolePreference = "PREFER_PREPROCESS"
)

// ParseRolePreference parses a role preference string, case-insensitive.
func ParseRolePreference(raw string) (RolePreference, bool) {
	switch upper(raw) {
	case string(RoleAuto):
		return RoleAuto, true
	case string(RolePreferInference):
		return RolePreferInference, true
	case string(RolePreferEmbeddings):
		return RolePreferEmbeddings, true
	case string(RolePreferPreprocess):
		return RolePreferPreprocess, true
	default:
		return "", false
	}
}

// NodeIdentity is the durable, operator-visible identity of a node.
type NodeIdentity struct {
	NodeID      string `json:"node_id"`
	DisplayName string `json:"display_name"`
	IP          string `json:"ip"`
	Port        int    `json:"port"`
}

// NodeCapabilities are the static hardware/OS attributes of a node.
type NodeCapabilities struct {
	CPUCores    *int       `json:"cpu_cores,omitempty"`
	CPUThreads  *int       `json:"cpu_threads,omitempty"`
	RAMTotalGB  *float64   `json:"ram_total_gb,omitempty"`
	GPUName     *string    `json:"gpu_name,omitempty"`
	VRAMTotalGB *float64   `json:"vram_total_gb,omitempty"`
	OS          string     `json:"os,omitempty"`
	Arch        string     `json:"arch,omitempty"`
	TaskTypes   []TaskType `json:"task_types"`
	Labels      []string   `json:"labels"`
	HasGPU      bool       `json:"has_gpu"`
}

// DefaultNodeCapabilities mirrors the original's NodeCapabilities() default
// constructor: no hardware known, full task-type set, no labels.
func DefaultNodeCapabilities() NodeCapabilities {
	return NodeCapabilities{
		TaskTypes: append([]TaskType{}, AllTaskTypes...),
		Labels:    []string{},
	}
}

// NodeMetrics is the most recent heartbeat's measured resource usage.
type NodeMetrics struct {
	CPUPercent  float64        `json:"cpu_percent"`
	RAMUsedGB   float64        `json:"ram_used_gb"`
	RAMPercent  float64        `json:"ram_percent"`
	GPUPercent  *float64       `json:"gpu_percent,omitempty"`
	VRAMUsedGB  *float64       `json:"vram_used_gb,omitempty"`
	RunningJobs int            `json:"running_jobs"`
	HeartbeatTS time.Time      `json:"heartbeat_ts"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// DefaultNodeMetrics mirrors the original's NodeMetrics() zero-value default
// used when a node is auto-created with no heartbeat yet.
func DefaultNodeMetrics() NodeMetrics {
	return NodeMetrics{}
}

// NodePolicy is the operator-controlled admission and scoring policy.
type NodePolicy struct {
	Enabled        bool           `json:"enabled"`
	CPUCapPercent  int            `json:"cpu_cap_percent"`
	GPUCapPercent  *int           `json:"gpu_cap_percent,omitempty"`
	RAMCapPercent  int            `json:"ram_cap_percent"`
	TaskAllowlist  []TaskType     `json:"task_allowlist"`
	RolePreference RolePreference `json:"role_preference"`
}

// DefaultNodePolicy mirrors the original's NodePolicy() default: enabled,
// all caps at 100, every task type allowed, AUTO role.
func DefaultNodePolicy() NodePolicy {
	return NodePolicy{
		Enabled:        true,
		CPUCapPercent:  100,
		RAMCapPercent:  100,
		TaskAllowlist:  append([]TaskType{}, AllTaskTypes...),
		RolePreference: RoleAuto,
	}
}

func validPercent(p int) bool {
	return p >= 0 && p <= 100
}

// ValidatePolicy enforces spec.md section 3's policy invariants: percent
// fields in [0,100], a recognized role preference, and an allowlist made up
// of recognized task types. Called at the HTTP boundary before a policy
// replacement reaches the store.
func ValidatePolicy(p NodePolicy) error {
	if !validPercent(p.CPUCapPercent) {
		return ValidationErrorf("cpu_cap_percent out of range [0,100]")
	}
	if !validPercent(p.RAMCapPercent) {
		return ValidationErrorf("ram_cap_percent out of range [0,100]")
	}
	if p.GPUCapPercent != nil && !validPercent(*p.GPUCapPercent) {
		return ValidationErrorf("gpu_cap_percent out of range [0,100]")
	}
	switch p.RolePreference {
	case RoleAuto, RolePreferInference, RolePreferEmbeddings, RolePreferPreprocess:
	default:
		return ValidationErrorf("unsupported role_preference %q", p.RolePreference)
	}
	for _, t := range p.TaskAllowlist {
		if _, ok := ParseTaskType(string(t)); !ok {
			return ValidationErrorf("unsupported task type %q in task_allowlist", t)
		}
	}
	return nil
}

// Node is the composite entity tracked per edge host.
type Node struct {
	Identity     NodeIdentity
	Capabilities NodeCapabilities
	Metrics      NodeMetrics
	Policy       NodePolicy
	Status       NodeStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastSeen     time.Time
}

// AllowsTaskType reports whether the node's policy allowlist admits the
// given task type.
func (n *Node) AllowsTaskType(t TaskType) bool {
	for _, allowed := range n.Policy.TaskAllowlist {
		if allowed == t {
			return true
		}
	}
	return false
}

// NodeUpdateEvent is published to the event bus on every accepted heartbeat,
// and is what the SSE stream fans out to subscribers. Staleness demotions
// to OFFLINE do not publish one.
type NodeUpdateEvent struct {
	NodeID    string      `json:"node_id"`
	Status    NodeStatus  `json:"status"`
	Metrics   NodeMetrics `json:"metrics"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Job is a unit of work submitted for placement on a node.
type Job struct {
	ID             string
	Type           TaskType
	Status         JobStatus
	PayloadRef     *string
	AssignedNodeID *string
	Attempts       int
	CreatedAt      time.Time
	UpdatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	Error          *string
}
