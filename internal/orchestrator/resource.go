package orchestrator

import (
	"sync"

	"github.com/ShayCichocki/warden/pkg/models"
)

// ResourceManager enforces per-requester resource quotas: concurrent
// agent count, spawn depth, and per-parent fan-out. Admission and
// registration happen under a single lock so concurrent spawns cannot
// both pass a check and jointly exceed a limit.
type ResourceManager struct {
	// mu protects all mutable state
	mu sync.RWMutex

	// defaults applies to requesters without an explicit quota
	defaults models.ResourceQuota
	// quotas holds per-requester overrides
	quotas map[string]models.ResourceQuota

	// active counts live tasks per requester key
	active map[string]int
	// children counts live children per parent task ID
	children map[string]int
	// owners maps a live task ID to the counters it holds
	owners map[string]spawnRef
}

// spawnRef records which counters a registered task holds.
type spawnRef struct {
	requesterKey string
	parentID     string
}

// NewResourceManager creates a ResourceManager with the given default quota.
func NewResourceManager(defaults models.ResourceQuota) *ResourceManager {
	return &ResourceManager{
		defaults: defaults,
		quotas:   make(map[string]models.ResourceQuota),
		active:   make(map[string]int),
		children: make(map[string]int),
		owners:   make(map[string]spawnRef),
	}
}

// SetQuota installs a per-requester quota override. Tasks already
// running are unaffected; the new quota applies to subsequent spawns.
func (rm *ResourceManager) SetQuota(key string, quota models.ResourceQuota) error {
	if err := quota.Validate(); err != nil {
		return err
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.quotas[key] = quota
	return nil
}

// SetDefaultQuota replaces the fallback quota for requesters without an
// explicit override.
func (rm *ResourceManager) SetDefaultQuota(quota models.ResourceQuota) error {
	if err := quota.Validate(); err != nil {
		return err
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.defaults = quota
	return nil
}

// QuotaFor returns the effective quota for a requester key.
func (rm *ResourceManager) QuotaFor(key string) models.ResourceQuota {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.quotaLocked(key)
}

// CanSpawn reports whether a spawn would be admitted, without reserving
// anything. Checks run in a fixed order: concurrency, depth, fan-out.
func (rm *ResourceManager) CanSpawn(key, parentID string, depth int) error {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.checkLocked(key, parentID, depth)
}

// Acquire admits a spawn and reserves its counters atomically. The
// caller must Release the task ID if a later pipeline stage rejects the
// spawn.
func (rm *ResourceManager) Acquire(taskID, key, parentID string, depth int) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if err := rm.checkLocked(key, parentID, depth); err != nil {
		return err
	}

	rm.active[key]++
	if parentID != "" {
		rm.children[parentID]++
	}
	rm.owners[taskID] = spawnRef{requesterKey: key, parentID: parentID}
	return nil
}

// Release frees the counters held by a task. It is idempotent; releasing
// an unknown or already-released task is a no-op.
func (rm *ResourceManager) Release(taskID string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	ref, ok := rm.owners[taskID]
	if !ok {
		return
	}
	delete(rm.owners, taskID)

	if rm.active[ref.requesterKey] > 0 {
		rm.active[ref.requesterKey]--
	}
	if rm.active[ref.requesterKey] == 0 {
		delete(rm.active, ref.requesterKey)
	}

	if ref.parentID != "" {
		if rm.children[ref.parentID] > 0 {
			rm.children[ref.parentID]--
		}
		if rm.children[ref.parentID] == 0 {
			delete(rm.children, ref.parentID)
		}
	}
}

// ActiveCount returns the number of live tasks for a requester key.
func (rm *ResourceManager) ActiveCount(key string) int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.active[key]
}

// ChildCount returns the number of live children for a parent task.
func (rm *ResourceManager) ChildCount(parentID string) int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.children[parentID]
}

// quotaLocked returns the effective quota for a key. Caller must hold mu.
func (rm *ResourceManager) quotaLocked(key string) models.ResourceQuota {
	if q, ok := rm.quotas[key]; ok {
		return q
	}
	return rm.defaults
}

// checkLocked runs the quota checks in order. Caller must hold mu.
func (rm *ResourceManager) checkLocked(key, parentID string, depth int) error {
	quota := rm.quotaLocked(key)

	if current := rm.active[key]; current >= quota.MaxConcurrentAgents {
		return models.NewResourceExhausted(models.ReasonConcurrentLimit, current, quota.MaxConcurrentAgents)
	}
	if depth > quota.MaxSpawnDepth {
		return models.NewResourceExhausted(models.ReasonMaxDepth, depth, quota.MaxSpawnDepth)
	}
	if parentID != "" {
		if current := rm.children[parentID]; current >= quota.MaxSubAgentsPerParent {
			return models.NewResourceExhausted(models.ReasonMaxSubAgents, current, quota.MaxSubAgentsPerParent)
		}
	}
	return nil
}
