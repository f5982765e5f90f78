package pos

import (
	"fmt"
	"math/big"
)

// Config validates into an immutable consensus parameter set (spec.md §4.6).
type Config struct {
	Validators       []Validator
	Num              uint64
	Den              uint64
	EpochLengthSlots uint64
}

// resolved holds the derived, validated parameters an Engine is built from.
type resolved struct {
	validators       []Validator
	stakeByID        map[ValidatorID]uint64
	order            []ValidatorID
	totalStake       uint64
	num              uint64
	den              uint64
	epochLengthSlots uint64
	requiredStake    uint64
}

func validate(cfg Config) (*resolved, error) {
	if len(cfg.Validators) == 0 {
		return nil, fmt.Errorf("pos: validator set must be non-empty")
	}
	if cfg.EpochLengthSlots == 0 {
		return nil, fmt.Errorf("pos: epoch_length_slots must be positive")
	}
	if cfg.Den == 0 || float64(cfg.Num)/float64(cfg.Den) <= 0.5 {
		return nil, fmt.Errorf("pos: num/den must be greater than 1/2")
	}

	stakeByID := make(map[ValidatorID]uint64, len(cfg.Validators))
	order := make([]ValidatorID, 0, len(cfg.Validators))
	var total uint64
	for _, v := range cfg.Validators {
		if v.Stake == 0 {
			return nil, fmt.Errorf("pos: validator %s has non-positive stake", v.ID)
		}
		if _, dup := stakeByID[v.ID]; dup {
			return nil, fmt.Errorf("pos: duplicate validator id %s", v.ID)
		}
		stakeByID[v.ID] = v.Stake
		order = append(order, v.ID)
		total += v.Stake
	}

	required := ceilDiv(total, cfg.Num, cfg.Den)
	if required < 1 {
		required = 1
	}
	if required > total {
		return nil, fmt.Errorf("pos: required_stake %d exceeds total_stake %d", required, total)
	}

	return &resolved{
		validators:       append([]Validator(nil), cfg.Validators...),
		stakeByID:        stakeByID,
		order:            order,
		totalStake:       total,
		num:              cfg.Num,
		den:              cfg.Den,
		epochLengthSlots: cfg.EpochLengthSlots,
		requiredStake:    required,
	}, nil
}

// ceilDiv computes ceil(total * num / den) exactly via big.Int, avoiding
// uint64 overflow in the total*num product for large stake configurations.
func ceilDiv(total, num, den uint64) uint64 {
	prod := new(big.Int).Mul(new(big.Int).SetUint64(total), new(big.Int).SetUint64(num))
	d := new(big.Int).SetUint64(den)
	q, r := new(big.Int).QuoRem(prod, d, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q.Uint64()
}
