package worldtypes

// ProposalStatusKind enumerates the governance proposal state machine
// (spec.md §3): Proposed → Shadowed{hash} → Approved{hash, approver} → Applied{hash},
// with a terminal Rejected{reason} branch reachable from Proposed or Shadowed.
type ProposalStatusKind string

const (
	ProposalProposed ProposalStatusKind = "proposed"
	ProposalShadowed ProposalStatusKind = "shadowed"
	ProposalApproved ProposalStatusKind = "approved"
	ProposalApplied  ProposalStatusKind = "applied"
	ProposalRejected ProposalStatusKind = "rejected"
)

type ProposalStatus struct {
	Kind     ProposalStatusKind `json:"kind"`
	Hash     string             `json:"hash,omitempty"`
	Approver string             `json:"approver,omitempty"`
	Reason   string             `json:"reason,omitempty"`
}

// Proposal is a governance-driven manifest update candidate.
type Proposal struct {
	ID              ProposalID      `json:"id"`
	Author          string          `json:"author"`
	BaseManifestHash string         `json:"base_manifest_hash"`
	Manifest        *Manifest       `json:"manifest,omitempty"`
	Patch           []byte          `json:"patch,omitempty"`
	Status          ProposalStatus  `json:"status"`
}

// CanTransitionTo reports whether the proposal's current status permits moving to next.
func (p Proposal) CanTransitionTo(next ProposalStatusKind) bool {
	switch next {
	case ProposalShadowed:
		return p.Status.Kind == ProposalProposed
	case ProposalApproved:
		return p.Status.Kind == ProposalShadowed
	case ProposalApplied:
		return p.Status.Kind == ProposalApproved
	case ProposalRejected:
		return p.Status.Kind == ProposalProposed || p.Status.Kind == ProposalShadowed
	default:
		return false
	}
}

// SnapshotRecord is one entry in the Snapshot Catalog (spec.md §3).
type SnapshotRecord struct {
	SnapshotHash string `json:"snapshot_hash"`
	JournalLen   int    `json:"journal_len"`
	CreatedAt    Tick   `json:"created_at"`
	ManifestHash string `json:"manifest_hash"`
}

// SnapshotCatalog is an ordered, retention-bounded list of snapshot records.
type SnapshotCatalog struct {
	Records      []SnapshotRecord `json:"records"`
	MaxSnapshots int              `json:"max_snapshots"`
}

// Record appends a new entry and enforces retention by dropping the oldest entries.
func (c *SnapshotCatalog) Record(rec SnapshotRecord) {
	c.Records = append(c.Records, rec)
	if c.MaxSnapshots <= 0 {
		c.Records = nil
		return
	}
	if len(c.Records) > c.MaxSnapshots {
		drop := len(c.Records) - c.MaxSnapshots
		c.Records = c.Records[drop:]
	}
}

// RetainedHashes returns the set of snapshot hashes currently retained, used to prune
// orphaned `<hash>.json` files from the snapshots directory.
func (c *SnapshotCatalog) RetainedHashes() map[string]struct{} {
	out := make(map[string]struct{}, len(c.Records))
	for _, r := range c.Records {
		out[r.SnapshotHash] = struct{}{}
	}
	return out
}
