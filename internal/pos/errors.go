package pos

import "fmt"

// ValidationError is returned for any rejected propose_head/attest_head call
// that is not a slashing violation.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "pos: " + e.Reason }

// SlashingError flags a double-vote or surround-vote violation detected
// against a validator's attestation history (spec.md §4.6 "Slashing checks").
type SlashingError struct {
	ValidatorID ValidatorID
	Kind        string // "double_vote" | "surround_vote"
	Detail      string
}

func (e *SlashingError) Error() string {
	return fmt.Sprintf("pos: slashing violation (%s) by validator %s: %s", e.Kind, e.ValidatorID, e.Detail)
}
