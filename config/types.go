package config

// GossipConfig mirrors orchestrator.GossipConfig in TOML-friendly field names
// (spec.md §6 "Environment/config").
type GossipConfig struct {
	Peers     []string `toml:"peers"`
	MaxPeers  int      `toml:"max_peers"`
	PeerTTLMs int64    `toml:"peer_ttl_ms"`
}

// ReplicaMaintenanceConfig mirrors orchestrator.ReplicaMaintenanceConfig.
type ReplicaMaintenanceConfig struct {
	PollIntervalMs                int64 `toml:"poll_interval_ms"`
	MaxContentHashSamplesPerRound int   `toml:"max_content_hash_samples_per_round"`
	MaxRepairsPerRound            int   `toml:"max_repairs_per_round"`
	MaxRebalancesPerRound         int   `toml:"max_rebalances_per_round"`
}

// ValidatorConfig mirrors pos.Validator.
type ValidatorConfig struct {
	ID    string `toml:"id"`
	Stake uint64 `toml:"stake"`
}

// PosConfig mirrors pos.Config in TOML-friendly field names.
type PosConfig struct {
	Validators       []ValidatorConfig `toml:"validators"`
	Num              uint64            `toml:"num"`
	Den              uint64            `toml:"den"`
	EpochLengthSlots uint64            `toml:"epoch_length_slots"`
}

// NodeConfig is the on-disk TOML representation of orchestrator.NodeConfig
// (spec.md §6 "Environment/config"), matching the teacher's config.Config
// shape (flat TOML file, no profiles).
type NodeConfig struct {
	NodeID                     string                    `toml:"node_id"`
	WorldID                    string                    `toml:"world_id"`
	Role                       string                    `toml:"role"`
	TickIntervalMs             int64                     `toml:"tick_interval_ms"`
	Gossip                     *GossipConfig             `toml:"gossip"`
	Pos                        PosConfig                 `toml:"pos"`
	ReplicationDir             string                    `toml:"replication_dir"`
	ReplicaMaintenance         *ReplicaMaintenanceConfig `toml:"replica_maintenance"`
	RequirePeerExecutionHashes bool                      `toml:"require_peer_execution_hashes"`
	RequireExecutionOnCommit   bool                      `toml:"require_execution_on_commit"`
	GapSyncMaxHeightsPerTick   int                       `toml:"gap_sync_max_heights_per_tick"`
}
