package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"worldsim/internal/orchestrator"
	"worldsim/internal/pos"
)

// Load reads a NodeConfig from a TOML file at path, matching the teacher's
// config.Load shape: decode-then-validate, no environment-variable overlay.
// If path does not exist, a default single-validator sequencer config is
// written there first, the way the teacher's config.Load seeds a fresh data
// directory via createDefault.
func Load(path string) (*orchestrator.NodeConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := WriteDefault(path, "node-1", "world-1"); err != nil {
			return nil, err
		}
	}

	var raw NodeConfig
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	cfg, err := raw.toOrchestratorConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (raw NodeConfig) toOrchestratorConfig() (orchestrator.NodeConfig, error) {
	var role orchestrator.Role
	switch raw.Role {
	case "sequencer":
		role = orchestrator.RoleSequencer
	case "observer":
		role = orchestrator.RoleObserver
	default:
		return orchestrator.NodeConfig{}, fmt.Errorf("config: unknown role %q", raw.Role)
	}

	validators := make([]pos.Validator, 0, len(raw.Pos.Validators))
	for _, v := range raw.Pos.Validators {
		validators = append(validators, pos.Validator{ID: pos.ValidatorID(v.ID), Stake: v.Stake})
	}

	var gossip *orchestrator.GossipConfig
	if raw.Gossip != nil {
		gossip = &orchestrator.GossipConfig{
			Peers:     raw.Gossip.Peers,
			MaxPeers:  raw.Gossip.MaxPeers,
			PeerTTLMs: raw.Gossip.PeerTTLMs,
		}
	}

	var maintenance *orchestrator.ReplicaMaintenanceConfig
	if raw.ReplicaMaintenance != nil {
		maintenance = &orchestrator.ReplicaMaintenanceConfig{
			PollIntervalMs:                raw.ReplicaMaintenance.PollIntervalMs,
			MaxContentHashSamplesPerRound: raw.ReplicaMaintenance.MaxContentHashSamplesPerRound,
			MaxRepairsPerRound:            raw.ReplicaMaintenance.MaxRepairsPerRound,
			MaxRebalancesPerRound:         raw.ReplicaMaintenance.MaxRebalancesPerRound,
		}
	}

	return orchestrator.NodeConfig{
		NodeID:         raw.NodeID,
		WorldID:        raw.WorldID,
		Role:           role,
		TickIntervalMs: raw.TickIntervalMs,
		Gossip:         gossip,
		PosConfig: pos.Config{
			Validators:       validators,
			Num:              raw.Pos.Num,
			Den:              raw.Pos.Den,
			EpochLengthSlots: raw.Pos.EpochLengthSlots,
		},
		ReplicationDir:             raw.ReplicationDir,
		ReplicaMaintenance:         maintenance,
		RequirePeerExecutionHashes: raw.RequirePeerExecutionHashes,
		RequireExecutionOnCommit:   raw.RequireExecutionOnCommit,
		GapSyncMaxHeightsPerTick:   raw.GapSyncMaxHeightsPerTick,
	}, nil
}

// WriteDefault writes a minimal single-validator sequencer config to path,
// the way the teacher's config.createDefault seeds a fresh data directory.
func WriteDefault(path, nodeID, worldID string) error {
	raw := NodeConfig{
		NodeID:         nodeID,
		WorldID:        worldID,
		Role:           "sequencer",
		TickIntervalMs: 1000,
		Pos: PosConfig{
			Validators:       []ValidatorConfig{{ID: nodeID, Stake: 1}},
			Num:              2,
			Den:              3,
			EpochLengthSlots: 10,
		},
		ReplicationDir: "./worldsim-data/replication",
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("config: create %s: %w", path, err)
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(raw)
}
