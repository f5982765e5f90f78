package replication

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// CommitRecord is a finalized per-height commit, persisted content-addressed
// under consensus/commits/<height-padded-20>.json (spec.md §4.7, §6).
type CommitRecord struct {
	WorldID               string  `json:"world_id"`
	NodeID                string  `json:"node_id"`
	Height                uint64  `json:"height"`
	Slot                  uint64  `json:"slot"`
	Epoch                 uint64  `json:"epoch"`
	BlockHash             string  `json:"block_hash"`
	ActionRoot            string  `json:"action_root"`
	CommittedAtMs         int64   `json:"committed_at_ms"`
	ExecutionBlockHash    *string `json:"execution_block_hash,omitempty"`
	ExecutionStateRoot    *string `json:"execution_state_root,omitempty"`
	Signature             []byte  `json:"signature,omitempty"`
}

// signingPayload returns the canonical {version:1, ...} object CommitRecord
// signatures bind, per spec.md §4.7 "Commit messages, when signed...".
func (c CommitRecord) signingPayload() map[string]any {
	payload := map[string]any{
		"version":         1,
		"world_id":        c.WorldID,
		"node_id":         c.NodeID,
		"height":          c.Height,
		"slot":            c.Slot,
		"epoch":           c.Epoch,
		"block_hash":      c.BlockHash,
		"action_root":     c.ActionRoot,
		"committed_at_ms": c.CommittedAtMs,
	}
	if c.ExecutionBlockHash != nil {
		payload["execution_block_hash"] = *c.ExecutionBlockHash
	}
	if c.ExecutionStateRoot != nil {
		payload["execution_state_root"] = *c.ExecutionStateRoot
	}
	return payload
}

// Sign computes and attaches an Ed25519 signature over c's canonical payload.
func (c *CommitRecord) Sign(priv ed25519.PrivateKey) error {
	sig, err := SignPayload(priv, c.signingPayload())
	if err != nil {
		return err
	}
	c.Signature = sig
	return nil
}

// Verify reports whether c.Signature validates under pub. Any tamper to any
// bound field, including the optional execution bindings, invalidates it.
func (c CommitRecord) Verify(pub ed25519.PublicKey) bool {
	return VerifyPayload(pub, c.signingPayload(), c.Signature)
}

// commitPath returns consensus/commits/<height-padded-20>.json under dir.
func commitPath(dir string, height uint64) string {
	return filepath.Join(dir, "consensus", "commits", fmt.Sprintf("%020d.json", height))
}

// SaveCommit persists rec atomically under dir's commit log.
func SaveCommit(dir string, rec CommitRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("replication: marshal commit: %w", err)
	}
	return atomicWrite(commitPath(dir, rec.Height), data)
}

// LoadCommit reads a previously persisted commit record for height, if any.
func LoadCommit(dir string, height uint64) (rec CommitRecord, found bool, err error) {
	data, err := os.ReadFile(commitPath(dir, height))
	if err != nil {
		if os.IsNotExist(err) {
			return CommitRecord{}, false, nil
		}
		return CommitRecord{}, false, fmt.Errorf("replication: read commit: %w", err)
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return CommitRecord{}, false, fmt.Errorf("replication: unmarshal commit: %w", err)
	}
	return rec, true, nil
}
