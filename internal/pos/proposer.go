package pos

import (
	"encoding/binary"

	"lukechampine.com/blake3"
)

// expectedProposer computes the deterministic stake-weighted proposer for
// slot, seeded by blake3(slot.to_le_bytes()[0..8]) (spec.md §4.6 "Proposer
// selection"). Falls back to the first validator in config order if the walk
// cannot settle on one (e.g. a zero-stake config, which validate rejects, or
// rounding at the very top of the stake range).
func (r *resolved) expectedProposer(slot uint64) ValidatorID {
	if len(r.order) == 0 {
		return ""
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], slot)
	seed := blake3.Sum256(buf[:])
	t := binary.LittleEndian.Uint64(seed[:8])
	if r.totalStake > 0 {
		t %= r.totalStake
	}

	for _, id := range r.order {
		stake := r.stakeByID[id]
		if t < stake {
			return id
		}
		t -= stake
	}
	return r.order[0]
}

// epochOf derives the epoch a slot belongs to.
func (r *resolved) epochOf(slot uint64) uint64 {
	return slot / r.epochLengthSlots
}
