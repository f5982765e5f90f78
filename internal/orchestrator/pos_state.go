package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// NodePosState is the periodically persisted summary of consensus progress
// (spec.md §6 "On-disk layout", `node_pos_state.json`).
type NodePosState struct {
	NextHeight              uint64  `json:"next_height"`
	NextSlot                uint64  `json:"next_slot"`
	CommittedHeight         uint64  `json:"committed_height"`
	NetworkCommittedHeight  uint64  `json:"network_committed_height"`
	LastBroadcastHeight     uint64  `json:"last_broadcast_height,omitempty"`
	LastBroadcastAtMs       int64   `json:"last_broadcast_at_ms,omitempty"`
	LastCommittedBlockHash  *string `json:"last_committed_block_hash,omitempty"`
	LastExecutionHeight     uint64  `json:"last_execution_height,omitempty"`
	LastExecutionBlockHash  *string `json:"last_execution_block_hash,omitempty"`
	LastExecutionStateRoot  *string `json:"last_execution_state_root,omitempty"`
}

func posStatePath(dir string) string {
	return filepath.Join(dir, "node_pos_state.json")
}

// SavePosState persists state atomically under dir.
func SavePosState(dir string, state NodePosState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("orchestrator: marshal pos state: %w", err)
	}
	return atomicWrite(posStatePath(dir), data)
}

// LoadPosState restores a previously persisted NodePosState, returning the
// zero value if none exists yet (fresh-start case).
func LoadPosState(dir string) (NodePosState, error) {
	data, err := os.ReadFile(posStatePath(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return NodePosState{}, nil
		}
		return NodePosState{}, fmt.Errorf("orchestrator: read pos state: %w", err)
	}
	var state NodePosState
	if err := json.Unmarshal(data, &state); err != nil {
		return NodePosState{}, fmt.Errorf("orchestrator: unmarshal pos state: %w", err)
	}
	return state, nil
}

func atomicWrite(dst string, data []byte) error {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("orchestrator: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(dst)+".tmp-*")
	if err != nil {
		return fmt.Errorf("orchestrator: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("orchestrator: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("orchestrator: close temp: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("orchestrator: rename: %w", err)
	}
	return nil
}
