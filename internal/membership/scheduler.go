package membership

import (
	"fmt"
	"sync"
)

// leaseKey matches spec.md §4.9 "Coordinated scheduling":
// "{world_id}::revocation-dead-letter-replay::{target_node_id}".
func leaseKey(worldID, targetNodeID string) string {
	return fmt.Sprintf("%s::revocation-dead-letter-replay::%s", worldID, targetNodeID)
}

type lease struct {
	holder    string
	expiresAt int64
}

// SchedulerCoordinator issues exclusive, TTL-bound leases so only one
// process at a time runs a given world/node's scheduled maintenance work.
type SchedulerCoordinator struct {
	mu     sync.Mutex
	leases map[string]lease
}

func NewSchedulerCoordinator() *SchedulerCoordinator {
	return &SchedulerCoordinator{leases: make(map[string]lease)}
}

// Acquire grants holder the lease for (worldID, targetNodeID) if no
// unexpired lease held by a different holder exists; expired leases are
// recycled (spec.md §4.9).
func (c *SchedulerCoordinator) Acquire(worldID, targetNodeID, holder string, nowMs, ttlMs int64) (bool, error) {
	if ttlMs <= 0 {
		return false, fmt.Errorf("membership: lease ttl_ms must be positive")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	key := leaseKey(worldID, targetNodeID)
	existing, held := c.leases[key]
	if held && existing.holder != holder && existing.expiresAt > nowMs {
		return false, nil
	}
	c.leases[key] = lease{holder: holder, expiresAt: nowMs + ttlMs}
	return true, nil
}

// Release drops holder's lease for (worldID, targetNodeID) if it still holds it.
func (c *SchedulerCoordinator) Release(worldID, targetNodeID, holder string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := leaseKey(worldID, targetNodeID)
	if existing, ok := c.leases[key]; ok && existing.holder == holder {
		delete(c.leases, key)
	}
	return nil
}

// RunLeased acquires the lease for (worldID, targetNodeID), runs work, then
// releases: every public "run_..." entry point follows this shape, propagating
// the first non-release error and reporting any release error only when work
// itself succeeded (spec.md §4.9 "Coordinated scheduling").
func RunLeased(c *SchedulerCoordinator, worldID, targetNodeID, holder string, nowMs, ttlMs int64, work func() error) error {
	acquired, err := c.Acquire(worldID, targetNodeID, holder, nowMs, ttlMs)
	if err != nil {
		return err
	}
	if !acquired {
		return fmt.Errorf("membership: lease for %s held by another holder", leaseKey(worldID, targetNodeID))
	}

	workErr := work()
	releaseErr := c.Release(worldID, targetNodeID, holder)
	if workErr != nil {
		return workErr
	}
	return releaseErr
}
