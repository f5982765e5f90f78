package worldtypes

// EventBodyKind tags the variant carried by an Event (spec.md §3).
type EventBodyKind string

const (
	BodyDomainEvent        EventBodyKind = "domain_event"
	BodyActionRejected     EventBodyKind = "action_rejected"
	BodyEffectQueued       EventBodyKind = "effect_queued"
	BodyReceiptAppended    EventBodyKind = "receipt_appended"
	BodyPolicyDecision     EventBodyKind = "policy_decision_recorded"
	BodyProposalProposed   EventBodyKind = "proposal_proposed"
	BodyProposalShadowed   EventBodyKind = "proposal_shadowed"
	BodyProposalApproved   EventBodyKind = "proposal_approved"
	BodyProposalRejected   EventBodyKind = "proposal_rejected"
	BodyProposalApplied    EventBodyKind = "proposal_applied"
	BodyModuleRegistered   EventBodyKind = "module_registered"
	BodyModuleUpgraded     EventBodyKind = "module_upgraded"
	BodyModuleActivated    EventBodyKind = "module_activated"
	BodyModuleDeactivated  EventBodyKind = "module_deactivated"
	BodySnapshotCreated    EventBodyKind = "snapshot_created"
	BodyManifestUpdated    EventBodyKind = "manifest_updated"
	BodyRollbackApplied    EventBodyKind = "rollback_applied"
	BodyModuleCallFailed   EventBodyKind = "module_call_failed"
	BodyModuleEmitted      EventBodyKind = "module_emitted"
	BodyModuleStateUpdated EventBodyKind = "module_state_updated"
)

// EventBody is a fixed-field-order tagged union. Only the field matching Kind is
// populated; this keeps canonical JSON serialization deterministic (declared struct
// field order) without resorting to map[string]interface{}.
type EventBody struct {
	Kind EventBodyKind `json:"kind"`

	DomainEvent        *DomainEventBody        `json:"domain_event,omitempty"`
	ActionRejected     *ActionRejectedBody     `json:"action_rejected,omitempty"`
	EffectQueued       *EffectQueuedBody       `json:"effect_queued,omitempty"`
	ReceiptAppended    *ReceiptAppendedBody    `json:"receipt_appended,omitempty"`
	PolicyDecision     *PolicyDecisionBody     `json:"policy_decision,omitempty"`
	Proposal           *ProposalEventBody      `json:"proposal,omitempty"`
	ModuleChange       *ModuleChangeEventBody  `json:"module_change,omitempty"`
	SnapshotCreated    *SnapshotCreatedBody    `json:"snapshot_created,omitempty"`
	ManifestUpdated    *ManifestUpdatedBody    `json:"manifest_updated,omitempty"`
	RollbackApplied    *RollbackAppliedBody    `json:"rollback_applied,omitempty"`
	ModuleCallFailed   *ModuleCallFailedBody   `json:"module_call_failed,omitempty"`
	ModuleEmitted      *ModuleEmittedBody      `json:"module_emitted,omitempty"`
	ModuleStateUpdated *ModuleStateUpdatedBody `json:"module_state_updated,omitempty"`
}

type DomainEventBody struct {
	AgentID AgentID `json:"agent_id,omitempty"`
	Kind    string  `json:"kind"`
	Payload []byte  `json:"payload,omitempty"`
}

type ActionRejectedBody struct {
	ActionID ActionID `json:"action_id"`
	Reason   string   `json:"reason"`
}

type EffectQueuedBody struct {
	Intent Intent `json:"intent"`
}

type ReceiptAppendedBody struct {
	Receipt Receipt `json:"receipt"`
}

type PolicyDecisionBody struct {
	IntentID IntentID `json:"intent_id"`
	Allowed  bool     `json:"allowed"`
	Reason   string   `json:"reason,omitempty"`
}

type ProposalEventBody struct {
	ProposalID ProposalID `json:"proposal_id"`
	Author     string     `json:"author"`
	Hash       string     `json:"hash,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	Approver   string     `json:"approver,omitempty"`
}

type ModuleChangeEventBody struct {
	ModuleID ModuleID        `json:"module_id"`
	Version  string          `json:"version"`
	WasmHash string          `json:"wasm_hash,omitempty"`
	Manifest *ModuleManifest `json:"manifest,omitempty"` // set for register/upgrade, so replay can rebuild the registry without consulting the proposal
}

type SnapshotCreatedBody struct {
	SnapshotHash string `json:"snapshot_hash"`
	JournalLen   int    `json:"journal_len"`
}

type ManifestUpdatedBody struct {
	ManifestHash string `json:"manifest_hash"`
}

type RollbackAppliedBody struct {
	SnapshotHash       string `json:"snapshot_hash"`
	SnapshotJournalLen int    `json:"snapshot_journal_len"`
	PriorJournalLen    int    `json:"prior_journal_len"`
	Reason             string `json:"reason"`
}

type ModuleCallFailedBody struct {
	ModuleID ModuleID `json:"module_id"`
	TraceID  string   `json:"trace_id"`
	Code     string   `json:"code"`
	Detail   string   `json:"detail,omitempty"`
}

type ModuleEmittedBody struct {
	ModuleID ModuleID `json:"module_id"`
	Payload  []byte   `json:"payload"`
}

type ModuleStateUpdatedBody struct {
	ModuleID ModuleID `json:"module_id"`
	NewState []byte   `json:"new_state"`
}

// Event is a journaled, id-bearing record (spec.md §3).
type Event struct {
	ID        EventID    `json:"id"`
	Time      Tick       `json:"time"`
	CausedBy  *Cause     `json:"caused_by,omitempty"`
	Body      EventBody  `json:"body"`
}

// Intent is a pending side-effect request awaiting an external executor's receipt.
type Intent struct {
	ID      IntentID `json:"id"`
	Kind    string   `json:"kind"`
	Params  []byte   `json:"params,omitempty"`
	CapRef  string   `json:"cap_ref"`
	Origin  string   `json:"origin,omitempty"`
}

// Receipt is the externally supplied completion record for an intent.
type Receipt struct {
	IntentID  IntentID `json:"intent_id"`
	Outcome   string   `json:"outcome"`
	Payload   []byte   `json:"payload,omitempty"`
	Signature []byte   `json:"signature,omitempty"`
}
