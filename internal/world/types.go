package world

import (
	"worldsim/internal/sandbox"
	"worldsim/internal/worldtypes"
)

// ActionReducer runs the domain-specific reduction of one submitted Action against
// the current state, producing either a DomainEventBody or an error describing why
// the action was rejected (never fatal; surfaced as ActionRejected, spec.md §4.5
// step 2).
type ActionReducer interface {
	Reduce(state *worldtypes.State, action worldtypes.Action) (worldtypes.DomainEventBody, error)
}

// ActionReducerFunc adapts a plain function to an ActionReducer.
type ActionReducerFunc func(state *worldtypes.State, action worldtypes.Action) (worldtypes.DomainEventBody, error)

func (f ActionReducerFunc) Reduce(state *worldtypes.State, action worldtypes.Action) (worldtypes.DomainEventBody, error) {
	return f(state, action)
}

// ReceiptSigner verifies or computes signatures over ingested receipts
// (spec.md §4.5 step 5).
type ReceiptSigner interface {
	// Sign computes a signature over the receipt's canonical fields.
	Sign(receipt worldtypes.Receipt) ([]byte, error)
	// Verify reports whether receipt.Signature is valid for its fields.
	Verify(receipt worldtypes.Receipt) bool
}

// AgentSchedule is one mailbox dispatch decision returned by schedule_next
// (spec.md §4.5 step 6).
type AgentSchedule struct {
	AgentID worldtypes.AgentID
	Event   worldtypes.MailboxEvent
}

// ModuleInvoker is the narrow sandbox surface the runtime routes module calls
// through; *sandbox.Executor satisfies it.
type ModuleInvoker interface {
	Call(req sandbox.ModuleCallRequest) (*sandbox.ModuleOutput, *sandbox.CallError)
}
