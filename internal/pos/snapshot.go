package pos

import "fmt"

const snapshotVersion = 1

// Snapshot is the atomic, disk-persistable form of an Engine's state (spec.md
// §4.6 "Snapshot/restore").
type Snapshot struct {
	Version          int                    `json:"version"`
	Validators       []Validator            `json:"validators"`
	Num              uint64                 `json:"num"`
	Den              uint64                 `json:"den"`
	EpochLengthSlots uint64                 `json:"epoch_length_slots"`
	Records          []SnapshotRecordEntry  `json:"records"`
}

// SnapshotRecordEntry pairs a height with its full record for serialization;
// OrderedMap's lexicographic key order already matches height order because
// recordKey zero-pads to a fixed width.
type SnapshotRecordEntry struct {
	Height uint64 `json:"height"`
	Record Record `json:"record"`
}

// Snapshot produces an immutable, self-contained copy of the engine's state.
func (e *Engine) Snapshot() Snapshot {
	var entries []SnapshotRecordEntry
	e.records.Range(func(_ string, rec *Record) bool {
		entries = append(entries, SnapshotRecordEntry{Height: rec.Head.Height, Record: *rec})
		return true
	})
	return Snapshot{
		Version:          snapshotVersion,
		Validators:       append([]Validator(nil), e.cfg.validators...),
		Num:              e.cfg.num,
		Den:              e.cfg.den,
		EpochLengthSlots: e.cfg.epochLengthSlots,
		Records:          entries,
	}
}

// RestoreEngine rebuilds an Engine from a Snapshot, rejecting unknown
// versions, unknown validators referenced by an attestation, epoch/slot
// mismatches, bad attestation keys, and duplicate records; it recomputes
// stakes/status and the attestation-history index from scratch rather than
// trusting the persisted status field (spec.md §4.6 "Snapshot/restore").
func RestoreEngine(worldID string, snap Snapshot) (*Engine, error) {
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("pos: unknown snapshot version %d", snap.Version)
	}

	e, err := NewEngine(worldID, Config{
		Validators:       snap.Validators,
		Num:              snap.Num,
		Den:              snap.Den,
		EpochLengthSlots: snap.EpochLengthSlots,
	})
	if err != nil {
		return nil, err
	}

	seenHeights := make(map[uint64]bool, len(snap.Records))
	for _, entry := range snap.Records {
		if seenHeights[entry.Height] {
			return nil, fmt.Errorf("pos: duplicate record at height %d", entry.Height)
		}
		seenHeights[entry.Height] = true

		rec := entry.Record
		if rec.Head.Height != entry.Height {
			return nil, fmt.Errorf("pos: record height mismatch: key %d, head.height %d", entry.Height, rec.Head.Height)
		}
		if expectedEpoch := e.cfg.epochOf(rec.Slot); expectedEpoch != rec.Epoch {
			return nil, fmt.Errorf("pos: record at height %d has epoch %d, expected %d for slot %d", entry.Height, rec.Epoch, expectedEpoch, rec.Slot)
		}

		restored := &Record{
			Head:          rec.Head,
			ProposerID:    rec.ProposerID,
			Slot:          rec.Slot,
			Epoch:         rec.Epoch,
			ProposedAtMs:  rec.ProposedAtMs,
			RequiredStake: e.cfg.requiredStake,
			Attestations:  make(map[ValidatorID]Attestation, len(rec.Attestations)),
		}

		for validatorID, att := range rec.Attestations {
			if _, known := e.cfg.stakeByID[validatorID]; !known {
				return nil, fmt.Errorf("pos: record at height %d attested by unknown validator %s", entry.Height, validatorID)
			}
			if att.TargetEpoch != rec.Epoch {
				return nil, fmt.Errorf("pos: attestation by %s at height %d has target_epoch %d, expected %d", validatorID, entry.Height, att.TargetEpoch, rec.Epoch)
			}
			if att.SourceEpoch > att.TargetEpoch {
				return nil, fmt.Errorf("pos: attestation by %s at height %d has source_epoch > target_epoch", validatorID, entry.Height)
			}
			restored.Attestations[validatorID] = att
			e.history[validatorID] = append(e.history[validatorID], voteHistory{
				targetEpoch: att.TargetEpoch,
				sourceEpoch: att.SourceEpoch,
				blockHash:   rec.Head.BlockHash,
				slot:        rec.Slot,
			})
		}

		e.recomputeStakes(restored)
		e.records.Set(recordKey(entry.Height), restored)
		e.applyStatusTransition(restored, entry.Height)
	}

	return e, nil
}
