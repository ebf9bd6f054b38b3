// Package scheduler implements pure node-eligibility and scoring functions
// used to place jobs on nodes. Grounded directly on
// coordinator/scheduler/core.py (original_source): same weights, same
// headroom formula, same eligibility reasons. Deliberately has no queueing,
// circuit-breaker, or leadership machinery, unlike the teacher's own
// scheduler package — EdgeMesh's coordinator is a single process with no
// horizontal scale-out.
package scheduler

import (
	"math"

	"github.com/edgemesh/coordinator/domain"
)

// weights mirrors _SCORE_WEIGHTS. Higher is better: candidates with more
// headroom and better role/hardware affinity rank first.
var weights = struct {
	cpuHeadroom         float64
	ramHeadroom         float64
	gpuHeadroom         float64
	inferGPUBonus       float64
	cpuTaskCPUNodeBonus float64
	roleMatchBonus      float64
	roleMismatchPenalty float64
	runningJobsPenalty  float64
}{
	cpuHeadroom:         45.0,
	ramHeadroom:         35.0,
	gpuHeadroom:         20.0,
	inferGPUBonus:       22.0,
	cpuTaskCPUNodeBonus: 12.0,
	roleMatchBonus:      14.0,
	roleMismatchPenalty: 10.0,
	runningJobsPenalty:  2.0,
}

func taskRequiresGPU(t domain.TaskType) bool {
	return t == domain.TaskInference
}

func taskPrefersCPU(t domain.TaskType) bool {
	switch t {
	case domain.TaskEmbeddings, domain.TaskIndex, domain.TaskTokenize, domain.TaskPreprocess:
		return true
	default:
		return false
	}
}

func inferRoleMatch(role domain.RolePreference) bool {
	return role == domain.RoleAuto || role == domain.RolePreferInference
}

func cpuRoleMatch(role domain.RolePreference) bool {
	switch role {
	case domain.RoleAuto, domain.RolePreferEmbeddings, domain.RolePreferPreprocess:
		return true
	default:
		return false
	}
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func effectiveGPUCap(policy domain.NodePolicy) int {
	if policy.GPUCapPercent != nil {
		return *policy.GPUCapPercent
	}
	return 100
}

// EvaluateNodeEligibility reports whether node may run task type t, and the
// set of reasons it is disqualified (empty when eligible). Reason strings
// are stable identifiers suitable for API responses and logs.
func EvaluateNodeEligibility(node *domain.Node, t domain.TaskType) (bool, []string) {
	var reasons []string

	if !node.Policy.Enabled {
		reasons = append(reasons, "policy_disabled")
	}
	if node.Status != domain.NodeOnline {
		reasons = append(reasons, "node_not_online")
	}
	if !node.AllowsTaskType(t) {
		reasons = append(reasons, "task_not_allowed")
	}
	if node.Metrics.CPUPercent > float64(node.Policy.CPUCapPercent) {
		reasons = append(reasons, "cpu_over_cap")
	}
	if node.Metrics.RAMPercent > float64(node.Policy.RAMCapPercent) {
		reasons = append(reasons, "ram_over_cap")
	}

	if taskRequiresGPU(t) {
		if !node.Capabilities.HasGPU {
			reasons = append(reasons, "gpu_required")
		} else if node.Metrics.GPUPercent != nil {
			if *node.Metrics.GPUPercent > float64(effectiveGPUCap(node.Policy)) {
				reasons = append(reasons, "gpu_over_cap")
			}
		}
	}

	return len(reasons) == 0, reasons
}

// IsNodeEligible is a convenience wrapper around EvaluateNodeEligibility.
func IsNodeEligible(node *domain.Node, t domain.TaskType) bool {
	eligible, _ := EvaluateNodeEligibility(node, t)
	return eligible
}

func headroom(percent float64, capPercent int) float64 {
	capFloor := math.Max(float64(capPercent), 1.0)
	utilizationRatio := math.Min(percent/capFloor, 2.0)
	return math.Max(0.0, 1.0-utilizationRatio)
}

// ScoreNode computes a placement score for node running task type t. Higher
// scores are preferred. Given the weights above the score is at most 136 for
// INFERENCE and 106 for the other task types; it drops by 2 per running job
// and has no lower bound.
func ScoreNode(node *domain.Node, t domain.TaskType) float64 {
	score := 0.0

	score += headroom(node.Metrics.CPUPercent, node.Policy.CPUCapPercent) * weights.cpuHeadroom
	score += headroom(node.Metrics.RAMPercent, node.Policy.RAMCapPercent) * weights.ramHeadroom

	if taskRequiresGPU(t) {
		if node.Capabilities.HasGPU {
			score += weights.inferGPUBonus
		}
		if node.Metrics.GPUPercent != nil {
			score += headroom(*node.Metrics.GPUPercent, effectiveGPUCap(node.Policy)) * weights.gpuHeadroom
		}
		if inferRoleMatch(node.Policy.RolePreference) {
			score += weights.roleMatchBonus
		} else {
			score -= weights.roleMismatchPenalty
		}
	}

	if taskPrefersCPU(t) {
		if !node.Capabilities.HasGPU {
			score += weights.cpuTaskCPUNodeBonus
		}
		if cpuRoleMatch(node.Policy.RolePreference) {
			score += weights.roleMatchBonus
		} else {
			score -= weights.roleMismatchPenalty
		}
	}

	score -= float64(node.Metrics.RunningJobs) * weights.runningJobsPenalty
	return round3(score)
}

// EffectiveCapacity is the post-policy-cap resource ceiling reported in the
// cluster summary, supplementing a feature present in the original
// implementation's compute_effective_capacity but dropped from the
// distilled placement description.
type EffectiveCapacity struct {
	EffectiveCPUThreads float64
	EffectiveRAMGB      float64
	EffectiveVRAMGB     *float64
}

// ComputeEffectiveCapacity applies a node's policy caps to its raw
// capabilities, mirroring compute_effective_capacity (original_source
// coordinator/scheduler/core.py) field-for-field.
func ComputeEffectiveCapacity(node *domain.Node) EffectiveCapacity {
	cpuThreads := 0
	if node.Capabilities.CPUThreads != nil {
		cpuThreads = *node.Capabilities.CPUThreads
	} else if node.Capabilities.CPUCores != nil {
		cpuThreads = *node.Capabilities.CPUCores
	}

	ramTotal := 0.0
	if node.Capabilities.RAMTotalGB != nil {
		ramTotal = *node.Capabilities.RAMTotalGB
	}

	ec := EffectiveCapacity{
		EffectiveCPUThreads: round3(float64(cpuThreads) * (float64(node.Policy.CPUCapPercent) / 100.0)),
		EffectiveRAMGB:      round3(ramTotal * (float64(node.Policy.RAMCapPercent) / 100.0)),
	}

	if node.Capabilities.VRAMTotalGB != nil {
		gpuCap := effectiveGPUCap(node.Policy)
		v := round3(*node.Capabilities.VRAMTotalGB * (float64(gpuCap) / 100.0))
		ec.EffectiveVRAMGB = &v
	}

	return ec
}

// SelectNode returns the highest-scoring eligible node for task type t among
// candidates, or nil if none is eligible. Ties break in favor of the first
// candidate encountered, matching a stable top-N sort over GetNodes's
// NodeID-ascending order.
func SelectNode(candidates []*domain.Node, t domain.TaskType) *domain.Node {
	var best *domain.Node
	bestScore := math.Inf(-1)

	for _, n := range candidates {
		if !IsNodeEligible(n, t) {
			continue
		}
		s := ScoreNode(n, t)
		if s > bestScore {
			bestScore = s
			best = n
		}
	}

	return best
}
