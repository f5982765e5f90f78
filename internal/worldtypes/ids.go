package worldtypes

import (
	"errors"
	"fmt"
)

// ErrCounterOverflow is returned by any monotonic ID counter that would wrap past
// math.MaxUint64. Spec.md treats this as a fatal error, never a silent saturation.
var ErrCounterOverflow = errors.New("worldtypes: id counter overflow")

// Tick is a discrete simulation time step.
type Tick uint64

// EventID strictly increases and is gap-free after genesis.
type EventID uint64

// ActionID, IntentID, ProposalID are the remaining monotonic per-category counters.
type ActionID uint64
type ProposalID uint64

// Counter is a saturation-forbidden monotonically increasing u64 counter.
type Counter struct {
	next uint64
}

// Next returns the next value and advances the counter, or ErrCounterOverflow if
// advancing would wrap around.
func (c *Counter) Next() (uint64, error) {
	if c.next == ^uint64(0) {
		return 0, ErrCounterOverflow
	}
	v := c.next
	c.next++
	return v, nil
}

// Peek returns the next value that Next would return, without advancing.
func (c *Counter) Peek() uint64 { return c.next }

// SetNext restores the counter's cursor, used when rebuilding from a snapshot.
func (c *Counter) SetNext(v uint64) { c.next = v }

// IntentID is formatted as "intent-{seq}" per spec.md §4.5 step 3.
type IntentID string

func NewIntentID(seq uint64) IntentID {
	return IntentID(fmt.Sprintf("intent-%d", seq))
}

// AgentID, LocationID, ModuleID, FactoryID, AssetID name entities in the World state.
type AgentID string
type LocationID string
type ModuleID string
type FactoryID string
type AssetID string

// Cause identifies what produced a journaled event: either an external action or an
// effect intent's completion.
type CauseKind string

const (
	CauseAction CauseKind = "action"
	CauseEffect CauseKind = "effect"
)

type Cause struct {
	Kind     CauseKind  `json:"kind"`
	ActionID ActionID   `json:"action_id,omitempty"`
	IntentID IntentID   `json:"intent_id,omitempty"`
}
