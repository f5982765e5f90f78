package worldtypes

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Snapshot is the full point-in-time capture of a World, immutable once produced
// (spec.md §3, §9 ownership notes).
type Snapshot struct {
	State            *State                     `json:"state"`
	JournalLen        int                        `json:"journal_len"`
	LastEventID       EventID                    `json:"last_event_id"`
	NextActionID      uint64                     `json:"next_action_id"`
	NextIntentSeq     uint64                     `json:"next_intent_seq"`
	NextProposalID    uint64                     `json:"next_proposal_id"`
	PendingActions    []ActionID                 `json:"pending_actions"`
	PendingEffects    []Intent                   `json:"pending_effects"`
	InflightEffects   []Intent                   `json:"inflight_effects"`
	Capabilities      map[string]CapabilityGrant `json:"capabilities"`
	Policies          []PolicyRule               `json:"policies"`
	Proposals         []Proposal                 `json:"proposals"`
	SchedulerCursor   string                     `json:"scheduler_cursor"`
	Manifest          *Manifest                  `json:"manifest"`
	ModuleRegistry    []ModuleManifest           `json:"module_registry"`
	ActiveModules     map[ModuleID]string        `json:"active_modules"`
	SnapshotCatalog   SnapshotCatalog            `json:"snapshot_catalog"`
}

// CanonicalBytes returns the deterministic serialization used for hashing. Standard
// library json.Marshal already emits struct fields in declared order and sorts
// map[string]T keys, and OrderedMap has its own deterministic MarshalJSON, so no
// further canonicalization pass is required.
func (s *Snapshot) CanonicalBytes() ([]byte, error) {
	return json.Marshal(s)
}

// Hash computes the SHA-256 hash of the snapshot's canonical serialization. Under the
// SHA-256 collision-resistance assumption, equal hashes imply identical content
// (spec.md §4.1 failure semantics).
func (s *Snapshot) Hash() (string, error) {
	b, err := s.CanonicalBytes()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
