package world

import (
	"errors"
	"fmt"

	"worldsim/internal/worldtypes"
)

// ErrTimeOverflow is fatal: step() must never wrap Tick past math.MaxUint64.
var ErrTimeOverflow = errors.New("world: time counter overflow")

// ErrReceiptUnknownIntent is returned when a receipt references an intent id not
// present in pending_effects or inflight_effects.
var ErrReceiptUnknownIntent = errors.New("world: receipt references unknown intent")

// ErrProposalNotFound, ErrInvalidTransition guard the governance state machine.
var ErrProposalNotFound = errors.New("world: proposal not found")
var ErrInvalidTransition = errors.New("world: invalid proposal state transition")

// ErrRollbackJournalTooShort guards rollback_to_snapshot's prerequisite.
var ErrRollbackJournalTooShort = errors.New("world: snapshot journal_len exceeds current journal length")

// CapabilityError reports a named capability-check failure from emit_effect
// (spec.md §4.5 step 3).
type CapabilityError struct {
	CapRef string
	Status worldtypes.CapabilityStatus
}

func (e *CapabilityError) Error() string {
	switch e.Status {
	case worldtypes.CapabilityMissing:
		return fmt.Sprintf("world: capability %q missing", e.CapRef)
	case worldtypes.CapabilityExpired:
		return fmt.Sprintf("world: capability %q expired", e.CapRef)
	case worldtypes.CapabilityNotAllowed:
		return fmt.Sprintf("world: capability %q does not allow this kind", e.CapRef)
	default:
		return fmt.Sprintf("world: capability %q check failed", e.CapRef)
	}
}

// PolicyDeniedError is returned by emit_effect (and sandbox output processing) when
// the policy gate denies an intent.
type PolicyDeniedError struct {
	IntentID worldtypes.IntentID
	Reason   string
}

func (e *PolicyDeniedError) Error() string {
	return fmt.Sprintf("world: policy denied intent %s: %s", e.IntentID, e.Reason)
}

// InvalidModuleOutputError reports a sandbox output that violates spec.md §4.5's
// output-processing invariants (Pure module returning new_state, an effect's
// cap_ref missing from required_caps).
type InvalidModuleOutputError struct {
	ModuleID worldtypes.ModuleID
	Reason   string
}

func (e *InvalidModuleOutputError) Error() string {
	return fmt.Sprintf("world: invalid output from module %s: %s", e.ModuleID, e.Reason)
}
