// Package world implements the World Runtime (C5): the state machine tying the
// journal (C1), policy gate (C2), module registry (C3), and WASM sandbox (C4)
// together into action ingestion, effect emission, governance, module routing,
// and rollback (spec.md §4.5).
package world

import (
	"fmt"

	"worldsim/internal/journal"
	"worldsim/internal/policy"
	"worldsim/internal/registry"
	"worldsim/internal/worldtypes"
)

// Runtime owns State and Journal exclusively (spec.md §3 ownership notes).
type Runtime struct {
	state   *worldtypes.State
	journal *journal.Journal
	reg     *registry.Registry
	gate    *policy.Gate
	invoker ModuleInvoker
	reducer ActionReducer
	signer  ReceiptSigner

	eventCounter    worldtypes.Counter
	actionCounter   worldtypes.Counter
	intentCounter   worldtypes.Counter
	proposalCounter worldtypes.Counter

	pendingActions  []worldtypes.Action
	pendingEffects  []worldtypes.Intent
	inflightEffects map[worldtypes.IntentID]worldtypes.Intent

	capabilities map[string]worldtypes.CapabilityGrant
	policies     worldtypes.PolicySet
	proposals    map[worldtypes.ProposalID]*worldtypes.Proposal

	manifestHash string
}

// Config bundles the Runtime's required collaborators.
type Config struct {
	Reducer ActionReducer
	Invoker ModuleInvoker
	Signer  ReceiptSigner // optional
}

// New constructs an empty Runtime at genesis (time=0, empty journal).
func New(cfg Config) *Runtime {
	return &Runtime{
		state:           worldtypes.NewState(),
		journal:         journal.New(),
		reg:             registry.New(),
		gate:            policy.NewGate(worldtypes.PolicySet{}),
		invoker:         cfg.Invoker,
		reducer:         cfg.Reducer,
		signer:          cfg.Signer,
		inflightEffects: make(map[worldtypes.IntentID]worldtypes.Intent),
		capabilities:    make(map[string]worldtypes.CapabilityGrant),
		proposals:       make(map[worldtypes.ProposalID]*worldtypes.Proposal),
	}
}

// State returns the runtime's current state, never a copy: callers must not
// mutate it outside of Runtime methods.
func (r *Runtime) State() *worldtypes.State { return r.state }

// Journal exposes the runtime's append-only event log for inspection/persistence.
func (r *Runtime) Journal() *journal.Journal { return r.journal }

// GrantCapability registers/replaces a capability grant by name.
func (r *Runtime) GrantCapability(grant worldtypes.CapabilityGrant) {
	r.capabilities[grant.Name] = grant
}

// SetPolicies replaces the active policy set evaluated by EmitEffect.
func (r *Runtime) SetPolicies(set worldtypes.PolicySet) {
	r.policies = set
	r.gate.SetPolicies(set)
}

// SubmitAction assigns an id and enqueues action into pending_actions. No
// journaling occurs here (spec.md §4.5 step 1).
func (r *Runtime) SubmitAction(agentID worldtypes.AgentID, kind string, params []byte) (worldtypes.ActionID, error) {
	seq, err := r.actionCounter.Next()
	if err != nil {
		return 0, fmt.Errorf("world: action id: %w", err)
	}
	id := worldtypes.ActionID(seq)
	r.pendingActions = append(r.pendingActions, worldtypes.Action{ID: id, AgentID: agentID, Kind: kind, Params: params})
	return id, nil
}

// Step advances time by one tick and drains pending_actions in FIFO order,
// running the domain reducer for each and journaling its outcome (spec.md §4.5
// step 2).
func (r *Runtime) Step() error {
	if r.state.Time == ^worldtypes.Tick(0) {
		return ErrTimeOverflow
	}
	r.state.Time++

	actions := r.pendingActions
	r.pendingActions = nil
	for _, action := range actions {
		r.routePreAction(action)

		domainEvent, err := r.reducer.Reduce(r.state, action)
		var body worldtypes.EventBody
		if err != nil {
			body = worldtypes.EventBody{
				Kind:           worldtypes.BodyActionRejected,
				ActionRejected: &worldtypes.ActionRejectedBody{ActionID: action.ID, Reason: err.Error()},
			}
		} else {
			body = worldtypes.EventBody{Kind: worldtypes.BodyDomainEvent, DomainEvent: &domainEvent}
		}
		if _, err := r.appendEvent(body, &worldtypes.Cause{Kind: worldtypes.CauseAction, ActionID: action.ID}); err != nil {
			return err
		}
		r.routePostAction(action)
	}
	return nil
}

// EmitEffect runs the capability+policy pipeline and, on allow, journals
// EffectQueued (spec.md §4.5 step 3).
func (r *Runtime) EmitEffect(kind string, params []byte, capRef, origin string) (worldtypes.IntentID, error) {
	seq, err := r.intentCounter.Next()
	if err != nil {
		return "", fmt.Errorf("world: intent id: %w", err)
	}
	intentID := worldtypes.NewIntentID(seq)

	status := worldtypes.CheckCapability(r.capabilities, capRef, kind, r.state.Time)
	if status != worldtypes.CapabilityOK {
		return intentID, &CapabilityError{CapRef: capRef, Status: status}
	}

	intent := worldtypes.Intent{ID: intentID, Kind: kind, Params: params, CapRef: capRef, Origin: origin}
	decision := r.gate.Decide(intent)

	if _, err := r.appendEvent(worldtypes.EventBody{
		Kind:           worldtypes.BodyPolicyDecision,
		PolicyDecision: &worldtypes.PolicyDecisionBody{IntentID: intentID, Allowed: decision.Kind == worldtypes.DecisionAllow, Reason: decision.Reason},
	}, nil); err != nil {
		return intentID, err
	}

	if decision.Kind != worldtypes.DecisionAllow {
		return intentID, &PolicyDeniedError{IntentID: intentID, Reason: decision.Reason}
	}

	if _, err := r.appendEvent(worldtypes.EventBody{
		Kind:         worldtypes.BodyEffectQueued,
		EffectQueued: &worldtypes.EffectQueuedBody{Intent: intent},
	}, nil); err != nil {
		return intentID, err
	}
	return intentID, nil
}

// TakeNextEffect pops the head of pending_effects into inflight_effects
// (spec.md §4.5 step 4).
func (r *Runtime) TakeNextEffect() (worldtypes.Intent, bool) {
	if len(r.pendingEffects) == 0 {
		return worldtypes.Intent{}, false
	}
	intent := r.pendingEffects[0]
	r.pendingEffects = r.pendingEffects[1:]
	r.inflightEffects[intent.ID] = intent
	return intent, true
}

// IngestReceipt validates receipt against pending/inflight effects, optionally
// verifies or computes its signature, and journals ReceiptAppended (spec.md
// §4.5 step 5).
func (r *Runtime) IngestReceipt(receipt worldtypes.Receipt) error {
	found := false
	for _, in := range r.pendingEffects {
		if in.ID == receipt.IntentID {
			found = true
			break
		}
	}
	if !found {
		if _, ok := r.inflightEffects[receipt.IntentID]; ok {
			found = true
		}
	}
	if !found {
		return ErrReceiptUnknownIntent
	}

	if r.signer != nil {
		if len(receipt.Signature) > 0 {
			if !r.signer.Verify(receipt) {
				return fmt.Errorf("world: receipt signature verification failed for intent %s", receipt.IntentID)
			}
		} else {
			sig, err := r.signer.Sign(receipt)
			if err != nil {
				return fmt.Errorf("world: sign receipt: %w", err)
			}
			receipt.Signature = sig
		}
	}

	_, err := r.appendEvent(worldtypes.EventBody{
		Kind:            worldtypes.BodyReceiptAppended,
		ReceiptAppended: &worldtypes.ReceiptAppendedBody{Receipt: receipt},
	}, nil)
	return err
}

// ScheduleNext round-robins over agents with a non-empty mailbox, wrapping at
// scheduler_cursor (spec.md §4.5 step 6).
func (r *Runtime) ScheduleNext() (AgentSchedule, bool) {
	ids := r.state.Agents.Keys()
	if len(ids) == 0 {
		return AgentSchedule{}, false
	}

	startIdx := 0
	for i, id := range ids {
		if id > r.state.SchedulerCursor {
			startIdx = i
			break
		}
		startIdx = (i + 1) % len(ids)
	}

	for i := 0; i < len(ids); i++ {
		idx := (startIdx + i) % len(ids)
		id := ids[idx]
		cell, _ := r.state.Agents.Get(id)
		if len(cell.Mailbox) == 0 {
			continue
		}
		ev := cell.Mailbox[0]
		cell.Mailbox = cell.Mailbox[1:]
		cell.LastActive = r.state.Time
		r.state.Agents.Set(id, cell)
		r.state.SchedulerCursor = id
		return AgentSchedule{AgentID: worldtypes.AgentID(id), Event: ev}, true
	}
	return AgentSchedule{}, false
}
