package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultWhenMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "node-1", cfg.NodeID)
	require.Equal(t, "world-1", cfg.WorldID)
	require.FileExists(t, path)
}

func TestLoadParsesGossipAndReplicaMaintenance(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.toml")
	contents := `
node_id = "node-a"
world_id = "world-7"
role = "sequencer"
tick_interval_ms = 500
replication_dir = "./data/replication"

[gossip]
peers = ["node-b", "node-c"]
max_peers = 16
peer_ttl_ms = 60000

[pos]
num = 2
den = 3
epoch_length_slots = 10

[[pos.validators]]
id = "node-a"
stake = 50

[[pos.validators]]
id = "node-b"
stake = 50

[replica_maintenance]
poll_interval_ms = 5000
max_content_hash_samples_per_round = 8
max_repairs_per_round = 2
max_rebalances_per_round = 1
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "node-a", cfg.NodeID)
	require.NotNil(t, cfg.Gossip)
	require.Equal(t, []string{"node-b", "node-c"}, cfg.Gossip.Peers)
	require.Len(t, cfg.PosConfig.Validators, 2)
	require.NotNil(t, cfg.ReplicaMaintenance)
	require.Equal(t, int64(5000), cfg.ReplicaMaintenance.PollIntervalMs)
}

func TestLoadRejectsUnknownRole(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.toml")
	contents := `
node_id = "node-a"
world_id = "world-1"
role = "bogus"
tick_interval_ms = 500

[pos]
num = 2
den = 3
epoch_length_slots = 10

[[pos.validators]]
id = "node-a"
stake = 1
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRevocationPolicyRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "revocation-policy.yaml")
	contents := `
max_pending_alerts: 32
max_retry_attempts: 5
retry_backoff_ms: 2000
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	policy, err := LoadRevocationPolicy(path)
	require.NoError(t, err)
	require.Equal(t, 32, policy.MaxPendingAlerts)
	require.Equal(t, 5, policy.MaxRetryAttempts)
	require.Equal(t, int64(2000), policy.RetryBackoffMs)
}

func TestLoadRollbackGovernancePolicyRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "governance-policy.yaml")
	contents := `
guard:
  min_attempted: 10
  failure_ratio_per_mille: 200
  dead_letter_ratio_per_mille: 100
  rollback_cooldown_ms: 60000
  rollback_window_ms: 600000
  alert_cooldown_ms: 30000
escalation:
  level_one_rollback_streak: 2
  level_two_rollback_streak: 4
  level_two_emergency_policy:
    max_pending_alerts: 8
    max_retry_attempts: 2
    retry_backoff_ms: 500
stable_policy:
  max_pending_alerts: 64
  max_retry_attempts: 5
  retry_backoff_ms: 2000
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	guard, escalation, stable, err := LoadRollbackGovernancePolicy(path)
	require.NoError(t, err)
	require.Equal(t, uint64(10), guard.MinAttempted)
	require.Equal(t, 2, escalation.LevelOneRollbackStreak)
	require.Equal(t, 4, escalation.LevelTwoRollbackStreak)
	require.Equal(t, 8, escalation.LevelTwoEmergencyPolicy.MaxPendingAlerts)
	require.Equal(t, 64, stable.MaxPendingAlerts)
}
