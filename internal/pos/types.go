// Package pos implements the PoS Consensus Engine (C6): proposer selection,
// block head proposal/attestation, stake-threshold finality, and double-vote
// and surround-vote slashing detection (spec.md §4.6). The engine is the sole
// place where a head becomes eligible for publication to the replication
// layer.
package pos

// ValidatorID names a validator by its bech32 node identity string.
type ValidatorID string

// Validator is one entry of a PosConsensusConfig's validator set.
type Validator struct {
	ID    ValidatorID `json:"id"`
	Stake uint64      `json:"stake"`
}

// Head is the block header content a proposal/attestation round votes on.
type Head struct {
	WorldID        string `json:"world_id"`
	Height         uint64 `json:"height"`
	BlockHash      string `json:"block_hash"`
	StateRoot      string `json:"state_root"`
	TimestampMs    int64  `json:"timestamp_ms"`
	Signature      []byte `json:"signature,omitempty"`
}

// Status is the three-state outcome of a head record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCommitted Status = "committed"
	StatusRejected  Status = "rejected"
)

// Attestation is one validator's vote on a head record.
type Attestation struct {
	Approve     bool        `json:"approve"`
	SourceEpoch uint64      `json:"source_epoch"`
	TargetEpoch uint64      `json:"target_epoch"`
	VotedAtMs   int64       `json:"voted_at_ms"`
	Reason      string      `json:"reason,omitempty"`
}

// Record is the per-(world_id, height) PoS Head Record (spec.md §3).
type Record struct {
	Head          Head                             `json:"head"`
	ProposerID    ValidatorID                      `json:"proposer_id"`
	Slot          uint64                           `json:"slot"`
	Epoch         uint64                           `json:"epoch"`
	ProposedAtMs  int64                             `json:"proposed_at_ms"`
	Status        Status                           `json:"status"`
	ApprovedStake uint64                           `json:"approved_stake"`
	RejectedStake uint64                           `json:"rejected_stake"`
	RequiredStake uint64                           `json:"required_stake"`
	Attestations  map[ValidatorID]Attestation      `json:"attestations"`
}
