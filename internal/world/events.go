package world

import (
	"fmt"

	"worldsim/internal/worldtypes"
)

// appendEvent applies body to state immediately, then assigns the next event id
// and appends to the journal (spec.md §4.5, "Event application vs. journaling").
func (r *Runtime) appendEvent(body worldtypes.EventBody, cause *worldtypes.Cause) (worldtypes.Event, error) {
	r.applyEventBody(body)

	seq, err := r.eventCounter.Next()
	if err != nil {
		return worldtypes.Event{}, fmt.Errorf("world: event id: %w", err)
	}
	ev := worldtypes.Event{ID: worldtypes.EventID(seq), Time: r.state.Time, CausedBy: cause, Body: body}
	if err := r.journal.Append(ev); err != nil {
		return worldtypes.Event{}, fmt.Errorf("world: journal append: %w", err)
	}
	r.routePostEvent(ev)
	return ev, nil
}

// applyEventBody mutates runtime/world state for every EventBodyKind. It is the
// single source of truth both on the live append path and during replay, so
// that from_snapshot(snapshot, journal) reaches byte-identical state
// (spec.md §3 replay-determinism invariant).
func (r *Runtime) applyEventBody(body worldtypes.EventBody) {
	switch body.Kind {
	case worldtypes.BodyDomainEvent:
		d := body.DomainEvent
		if d == nil || d.AgentID == "" {
			return
		}
		cell, _ := r.state.Agents.Get(string(d.AgentID))
		cell.Mailbox = append(cell.Mailbox, worldtypes.MailboxEvent{Kind: d.Kind, Payload: d.Payload})
		r.state.Agents.Set(string(d.AgentID), cell)

	case worldtypes.BodyActionRejected, worldtypes.BodyPolicyDecision, worldtypes.BodyModuleCallFailed, worldtypes.BodyModuleEmitted:
		// Pure record of what happened; no state mutation.

	case worldtypes.BodyEffectQueued:
		if body.EffectQueued != nil {
			r.pendingEffects = append(r.pendingEffects, body.EffectQueued.Intent)
		}

	case worldtypes.BodyReceiptAppended:
		if body.ReceiptAppended != nil {
			id := body.ReceiptAppended.Receipt.IntentID
			r.removePendingEffect(id)
			delete(r.inflightEffects, id)
		}

	case worldtypes.BodyProposalProposed:
		if body.Proposal != nil {
			p, ok := r.proposals[body.Proposal.ProposalID]
			if !ok {
				p = &worldtypes.Proposal{ID: body.Proposal.ProposalID, Author: body.Proposal.Author}
				r.proposals[body.Proposal.ProposalID] = p
			}
			p.Status = worldtypes.ProposalStatus{Kind: worldtypes.ProposalProposed}
		}
	case worldtypes.BodyProposalShadowed:
		if body.Proposal != nil {
			r.setProposalStatus(body.Proposal.ProposalID, worldtypes.ProposalStatus{Kind: worldtypes.ProposalShadowed, Hash: body.Proposal.Hash})
		}
	case worldtypes.BodyProposalApproved:
		if body.Proposal != nil {
			r.setProposalStatus(body.Proposal.ProposalID, worldtypes.ProposalStatus{Kind: worldtypes.ProposalApproved, Hash: body.Proposal.Hash, Approver: body.Proposal.Approver})
		}
	case worldtypes.BodyProposalRejected:
		if body.Proposal != nil {
			r.setProposalStatus(body.Proposal.ProposalID, worldtypes.ProposalStatus{Kind: worldtypes.ProposalRejected, Reason: body.Proposal.Reason})
		}
	case worldtypes.BodyProposalApplied:
		if body.Proposal != nil {
			r.setProposalStatus(body.Proposal.ProposalID, worldtypes.ProposalStatus{Kind: worldtypes.ProposalApplied, Hash: body.Proposal.Hash})
		}

	case worldtypes.BodyModuleRegistered, worldtypes.BodyModuleUpgraded:
		if body.ModuleChange != nil && body.ModuleChange.Manifest != nil {
			r.reg.Put(*body.ModuleChange.Manifest)
		}
	case worldtypes.BodyModuleActivated:
		if body.ModuleChange != nil {
			r.reg.SetActive(body.ModuleChange.ModuleID, body.ModuleChange.Version)
		}
	case worldtypes.BodyModuleDeactivated:
		if body.ModuleChange != nil {
			r.reg.ClearActive(body.ModuleChange.ModuleID)
		}

	case worldtypes.BodyManifestUpdated:
		if body.ManifestUpdated != nil {
			r.manifestHash = body.ManifestUpdated.ManifestHash
		}

	case worldtypes.BodySnapshotCreated, worldtypes.BodyRollbackApplied:
		// Bookkeeping only; the snapshot/rollback caller rebuilds state directly.

	case worldtypes.BodyModuleStateUpdated:
		if body.ModuleStateUpdated != nil {
			r.state.ModuleStates.Set(string(body.ModuleStateUpdated.ModuleID), body.ModuleStateUpdated.NewState)
		}
	}
}

func (r *Runtime) removePendingEffect(id worldtypes.IntentID) {
	for i, in := range r.pendingEffects {
		if in.ID == id {
			r.pendingEffects = append(r.pendingEffects[:i], r.pendingEffects[i+1:]...)
			return
		}
	}
}

func (r *Runtime) setProposalStatus(id worldtypes.ProposalID, status worldtypes.ProposalStatus) {
	p, ok := r.proposals[id]
	if !ok {
		p = &worldtypes.Proposal{ID: id}
		r.proposals[id] = p
	}
	p.Status = status
}

// ReplayFrom rebuilds runtime state by reapplying every journaled event from
// index 0 onward, using the exact same applyEventBody path the live append
// uses (spec.md §3 replay-determinism invariant).
func (r *Runtime) ReplayFrom(events []worldtypes.Event) {
	for _, ev := range events {
		r.applyEventBody(ev.Body)
		r.routePostEvent(ev)
	}
}
