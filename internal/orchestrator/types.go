// Package orchestrator implements the Node Orchestrator (C8): the per-tick
// cycle that drains gossip, proposes and attests as leader, commits decided
// blocks through an execution hook into the CAS, persists PoS state, and
// runs the replica-maintenance poll (spec.md §4.8).
package orchestrator

import (
	"fmt"

	"worldsim/internal/pos"
)

// Role distinguishes a node that must run the execution hook on every commit
// (Sequencer) from one that only observes (Observer).
type Role string

const (
	RoleSequencer Role = "sequencer"
	RoleObserver  Role = "observer"
)

// GossipConfig bounds the dynamic peer set gossip keeps (spec.md §5 "Shared
// resources"): insertion beyond capacity evicts the oldest entry, and TTL
// expiry drops peers before broadcasting.
type GossipConfig struct {
	Peers        []string
	MaxPeers     int
	PeerTTLMs    int64
}

// ReplicaMaintenanceConfig bounds the per-round replica-maintenance poll
// (spec.md §4.8 step 5).
type ReplicaMaintenanceConfig struct {
	PollIntervalMs               int64
	MaxContentHashSamplesPerRound int
	MaxRepairsPerRound            int
	MaxRebalancesPerRound         int
}

// NodeConfig is the orchestrator's full configuration surface (spec.md §6
// "Environment/config").
type NodeConfig struct {
	NodeID                       string
	WorldID                      string
	Role                         Role
	TickIntervalMs               int64
	Gossip                       *GossipConfig
	PosConfig                    pos.Config
	ReplicationDir               string
	ReplicaMaintenance           *ReplicaMaintenanceConfig
	RequirePeerExecutionHashes   bool
	RequireExecutionOnCommit     bool
	GapSyncMaxHeightsPerTick     int
}

// Validate enforces the config-time constraints named in spec.md §6.
func (c NodeConfig) Validate() error {
	if c.TickIntervalMs <= 0 {
		return fmt.Errorf("orchestrator: tick_interval must be positive")
	}
	if c.Gossip != nil && len(c.Gossip.Peers) == 0 {
		return fmt.Errorf("orchestrator: gossip.peers may not be empty when gossip is enabled")
	}
	if c.ReplicaMaintenance != nil && c.ReplicaMaintenance.PollIntervalMs <= 0 {
		return fmt.Errorf("orchestrator: replica_maintenance.poll_interval_ms must be positive")
	}
	return nil
}
