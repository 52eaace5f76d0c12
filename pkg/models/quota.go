package models

import "fmt"

// ResourceQuota bounds what a single requester key may spawn.
// A quota update never retroactively invalidates already-running tasks;
// it only applies to subsequent admission checks.
type ResourceQuota struct {
	// MaxConcurrentAgents is the maximum number of non-terminal tasks
	// the requester may have at once.
	MaxConcurrentAgents int `json:"max_concurrent_agents"`
	// MaxSpawnDepth is the deepest allowed spawn chain (0 = roots only).
	MaxSpawnDepth int `json:"max_spawn_depth"`
	// MaxSubAgentsPerParent is the maximum number of non-terminal direct
	// children a single parent task may have.
	MaxSubAgentsPerParent int `json:"max_subagents_per_parent"`
}

// DefaultQuota returns the quota applied when no explicit quota is registered
// for a requester key.
func DefaultQuota() ResourceQuota {
	return ResourceQuota{
		MaxConcurrentAgents:   10,
		MaxSpawnDepth:         3,
		MaxSubAgentsPerParent: 5,
	}
}

// Validate checks that all limits are positive.
func (q ResourceQuota) Validate() error {
	if q.MaxConcurrentAgents <= 0 {
		return fmt.Errorf("max_concurrent_agents must be positive, got %d", q.MaxConcurrentAgents)
	}
	if q.MaxSpawnDepth <= 0 {
		return fmt.Errorf("max_spawn_depth must be positive, got %d", q.MaxSpawnDepth)
	}
	if q.MaxSubAgentsPerParent <= 0 {
		return fmt.Errorf("max_subagents_per_parent must be positive, got %d", q.MaxSubAgentsPerParent)
	}
	return nil
}
