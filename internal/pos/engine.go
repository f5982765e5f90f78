package pos

import (
	"fmt"

	"worldsim/internal/worldtypes"
)

// voteHistory is one validator's compact prior-vote record, enough to run the
// double-vote and surround-vote checks without rescanning every attestation
// ever cast (spec.md §4.6 "Slashing checks").
type voteHistory struct {
	targetEpoch uint64
	sourceEpoch uint64
	blockHash   string
	slot        uint64
}

// Engine is the per-world PoS consensus state machine.
type Engine struct {
	worldID string
	cfg     *resolved

	records *worldtypes.OrderedMap[*Record]
	history map[ValidatorID][]voteHistory

	latestCommittedHeight uint64
	hasCommitted          bool
}

// NewEngine constructs an Engine for worldID from a validated Config.
func NewEngine(worldID string, cfg Config) (*Engine, error) {
	r, err := validate(cfg)
	if err != nil {
		return nil, err
	}
	return &Engine{
		worldID: worldID,
		cfg:     r,
		records: worldtypes.NewOrderedMap[*Record](),
		history: make(map[ValidatorID][]voteHistory),
	}, nil
}

func recordKey(height uint64) string {
	return fmt.Sprintf("%020d", height)
}

// ExpectedProposer exposes the deterministic proposer-selection walk for a slot.
func (e *Engine) ExpectedProposer(slot uint64) ValidatorID {
	return e.cfg.expectedProposer(slot)
}

// Record returns the head record at height, if any.
func (e *Engine) Record(height uint64) (*Record, bool) {
	return e.records.Get(recordKey(height))
}

// LatestCommittedHeight returns the highest height with status Committed.
func (e *Engine) LatestCommittedHeight() uint64 {
	return e.latestCommittedHeight
}

// ProposeHead validates and records a new pending head at (worldID, height),
// then self-attests Approve on behalf of the proposer (spec.md §4.6 "Propose").
func (e *Engine) ProposeHead(head Head, proposerID ValidatorID, slot uint64, ts int64) (*Record, error) {
	expected := e.cfg.expectedProposer(slot)
	if proposerID != expected {
		return nil, &ValidationError{Reason: fmt.Sprintf("proposer %s does not match expected proposer %s for slot %d", proposerID, expected, slot)}
	}
	if e.hasCommitted && head.Height <= e.latestCommittedHeight {
		return nil, &ValidationError{Reason: fmt.Sprintf("head height %d is stale against latest committed height %d", head.Height, e.latestCommittedHeight)}
	}

	key := recordKey(head.Height)
	epoch := e.cfg.epochOf(slot)

	if existing, ok := e.records.Get(key); ok {
		if existing.Head.BlockHash != head.BlockHash || existing.Slot != slot {
			return nil, &ValidationError{Reason: fmt.Sprintf("conflicting proposal at height %d", head.Height)}
		}
		return existing, nil
	}

	rec := &Record{
		Head:          head,
		ProposerID:    proposerID,
		Slot:          slot,
		Epoch:         epoch,
		ProposedAtMs:  ts,
		Status:        StatusPending,
		RequiredStake: e.cfg.requiredStake,
		Attestations:  make(map[ValidatorID]Attestation),
	}
	e.records.Set(key, rec)

	sourceEpoch := epoch
	if sourceEpoch > 0 {
		sourceEpoch--
	}
	if _, err := e.AttestHead(head.Height, head.BlockHash, proposerID, true, ts, sourceEpoch, epoch, ""); err != nil {
		return nil, err
	}
	return rec, nil
}

// AttestHead validates and records validatorID's vote on the record at
// height, running double-vote and surround-vote slashing checks before
// mutating any state (spec.md §4.6 "Attest").
func (e *Engine) AttestHead(height uint64, blockHash string, validatorID ValidatorID, approve bool, ts int64, sourceEpoch, targetEpoch uint64, reason string) (*Record, error) {
	stake, known := e.cfg.stakeByID[validatorID]
	if !known {
		return nil, &ValidationError{Reason: fmt.Sprintf("unknown validator %s", validatorID)}
	}
	if sourceEpoch > targetEpoch {
		return nil, &ValidationError{Reason: "source_epoch must be <= target_epoch"}
	}

	rec, ok := e.records.Get(recordKey(height))
	if !ok {
		return nil, &ValidationError{Reason: fmt.Sprintf("no record at height %d", height)}
	}
	if rec.Head.BlockHash != blockHash {
		return nil, &ValidationError{Reason: "block_hash does not match record"}
	}
	if targetEpoch != rec.Epoch {
		return nil, &ValidationError{Reason: fmt.Sprintf("target_epoch %d does not match record epoch %d", targetEpoch, rec.Epoch)}
	}

	if existing, voted := rec.Attestations[validatorID]; voted {
		if existing.Approve == approve && existing.SourceEpoch == sourceEpoch && existing.TargetEpoch == targetEpoch {
			return rec, nil
		}
	}

	for _, h := range e.history[validatorID] {
		if h.blockHash == blockHash {
			// same record being re-attested; a differing source_epoch here is not a double vote.
			continue
		}
		if h.targetEpoch == targetEpoch {
			return nil, &SlashingError{ValidatorID: validatorID, Kind: "double_vote", Detail: fmt.Sprintf("conflicting vote at target_epoch %d", targetEpoch)}
		}
		if (h.sourceEpoch < sourceEpoch && h.targetEpoch > targetEpoch) || (h.sourceEpoch > sourceEpoch && h.targetEpoch < targetEpoch) {
			return nil, &SlashingError{ValidatorID: validatorID, Kind: "surround_vote", Detail: fmt.Sprintf("vote at source_epoch %d/target_epoch %d surrounds source_epoch %d/target_epoch %d", h.sourceEpoch, h.targetEpoch, sourceEpoch, targetEpoch)}
		}
	}

	rec.Attestations[validatorID] = Attestation{
		Approve:     approve,
		SourceEpoch: sourceEpoch,
		TargetEpoch: targetEpoch,
		VotedAtMs:   ts,
		Reason:      reason,
	}
	e.history[validatorID] = append(e.history[validatorID], voteHistory{
		targetEpoch: targetEpoch,
		sourceEpoch: sourceEpoch,
		blockHash:   blockHash,
		slot:        rec.Slot,
	})

	e.recomputeStakes(rec)
	e.applyStatusTransition(rec, height)
	return rec, nil
}

// AdoptExternalCommit records a gap-sync-fetched commit as already
// finalized, advancing the committed-height watermark without re-running
// the attestation quorum: the quorum already happened wherever the commit
// was produced, and an Observer has no stake to attest with (spec.md §4.8
// step 1, §8 scenario S7).
func (e *Engine) AdoptExternalCommit(head Head, proposerID ValidatorID, slot uint64, ts int64) (*Record, error) {
	key := recordKey(head.Height)
	if existing, ok := e.records.Get(key); ok {
		if existing.Status == StatusCommitted {
			return existing, nil
		}
		if existing.Head.BlockHash != head.BlockHash {
			return nil, &ValidationError{Reason: fmt.Sprintf("conflicting external commit at height %d", head.Height)}
		}
	}

	rec := &Record{
		Head:         head,
		ProposerID:   proposerID,
		Slot:         slot,
		Epoch:        e.cfg.epochOf(slot),
		ProposedAtMs: ts,
		Status:       StatusCommitted,
		Attestations: make(map[ValidatorID]Attestation),
	}
	e.records.Set(key, rec)
	if !e.hasCommitted || head.Height > e.latestCommittedHeight {
		e.latestCommittedHeight = head.Height
		e.hasCommitted = true
	}
	return rec, nil
}

func (e *Engine) recomputeStakes(rec *Record) {
	var approved, rejected uint64
	for id, att := range rec.Attestations {
		stake := e.cfg.stakeByID[id]
		if att.Approve {
			approved += stake
		} else {
			rejected += stake
		}
	}
	rec.ApprovedStake = approved
	rec.RejectedStake = rejected
}

func (e *Engine) applyStatusTransition(rec *Record, height uint64) {
	switch {
	case rec.ApprovedStake >= rec.RequiredStake:
		rec.Status = StatusCommitted
		if !e.hasCommitted || height > e.latestCommittedHeight {
			e.latestCommittedHeight = height
			e.hasCommitted = true
		}
	case e.cfg.totalStake-rec.RejectedStake < rec.RequiredStake:
		rec.Status = StatusRejected
	default:
		rec.Status = StatusPending
	}
}

// ProposeWorldHeadWithPos proposes a head and reports whether it is now
// eligible for publication to the replication layer's CAS/DHT: only
// status == Committed publishes (spec.md §4.6 "Publication gate").
func (e *Engine) ProposeWorldHeadWithPos(head Head, proposerID ValidatorID, slot uint64, ts int64) (rec *Record, publish bool, err error) {
	rec, err = e.ProposeHead(head, proposerID, slot, ts)
	if err != nil {
		return nil, false, err
	}
	return rec, rec.Status == StatusCommitted, nil
}

// AttestWorldHeadWithPos is the attest-time counterpart of
// ProposeWorldHeadWithPos: it reports publish=true only on the first
// transition into Committed driven by this call (and on any subsequent call
// while already Committed; replication's publish is idempotent on content
// hash so re-publication is harmless).
func (e *Engine) AttestWorldHeadWithPos(height uint64, blockHash string, validatorID ValidatorID, approve bool, ts int64, sourceEpoch, targetEpoch uint64, reason string) (rec *Record, publish bool, err error) {
	rec, err = e.AttestHead(height, blockHash, validatorID, approve, ts, sourceEpoch, targetEpoch, reason)
	if err != nil {
		return nil, false, err
	}
	return rec, rec.Status == StatusCommitted, nil
}
