package world

import (
	"sort"

	"worldsim/internal/worldtypes"
)

// Snapshot produces a full, immutable point-in-time capture of the runtime
// (spec.md §4.1).
func (r *Runtime) Snapshot() *worldtypes.Snapshot {
	proposals := make([]worldtypes.Proposal, 0, len(r.proposals))
	ids := make([]worldtypes.ProposalID, 0, len(r.proposals))
	for id := range r.proposals {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		proposals = append(proposals, *r.proposals[id])
	}

	inflight := make([]worldtypes.Intent, 0, len(r.inflightEffects))
	intentIDs := make([]string, 0, len(r.inflightEffects))
	for id := range r.inflightEffects {
		intentIDs = append(intentIDs, string(id))
	}
	sort.Strings(intentIDs)
	for _, id := range intentIDs {
		inflight = append(inflight, r.inflightEffects[worldtypes.IntentID(id)])
	}

	capabilities := make(map[string]worldtypes.CapabilityGrant, len(r.capabilities))
	for k, v := range r.capabilities {
		capabilities[k] = v
	}

	return &worldtypes.Snapshot{
		State:           r.state.Clone(),
		JournalLen:      r.journal.Len(),
		LastEventID:     worldtypes.EventID(r.eventCounter.Peek()),
		NextActionID:    r.actionCounter.Peek(),
		NextIntentSeq:   r.intentCounter.Peek(),
		NextProposalID:  r.proposalCounter.Peek(),
		PendingActions:  pendingActionIDs(r.pendingActions),
		PendingEffects:  append([]worldtypes.Intent(nil), r.pendingEffects...),
		InflightEffects: inflight,
		Capabilities:    capabilities,
		Policies:        append([]worldtypes.PolicyRule(nil), r.policies.Rules...),
		Proposals:       proposals,
		SchedulerCursor: r.state.SchedulerCursor,
		Manifest: &worldtypes.Manifest{
			Hash:    r.manifestHash,
			Modules: r.reg.AllRecords(),
			Active:  r.reg.ActiveMap(),
		},
		ModuleRegistry:  r.reg.AllRecords(),
		ActiveModules:   r.reg.ActiveMap(),
		SnapshotCatalog: worldtypes.SnapshotCatalog{},
	}
}

func pendingActionIDs(actions []worldtypes.Action) []worldtypes.ActionID {
	ids := make([]worldtypes.ActionID, len(actions))
	for i, a := range actions {
		ids[i] = a.ID
	}
	return ids
}

// restoreFromSnapshot rebuilds runtime state directly from snapshot, without
// any event replay (the caller replays the journal tail separately).
func (r *Runtime) restoreFromSnapshot(snap *worldtypes.Snapshot) {
	r.state = snap.State.Clone()

	r.eventCounter.SetNext(uint64(snap.LastEventID))
	r.actionCounter.SetNext(snap.NextActionID)
	r.intentCounter.SetNext(snap.NextIntentSeq)
	r.proposalCounter.SetNext(snap.NextProposalID)

	r.pendingActions = nil // pending_actions are not re-submitted across rollback; the caller resubmits if desired

	r.pendingEffects = append([]worldtypes.Intent(nil), snap.PendingEffects...)
	r.inflightEffects = make(map[worldtypes.IntentID]worldtypes.Intent, len(snap.InflightEffects))
	for _, in := range snap.InflightEffects {
		r.inflightEffects[in.ID] = in
	}

	r.capabilities = make(map[string]worldtypes.CapabilityGrant, len(snap.Capabilities))
	for k, v := range snap.Capabilities {
		r.capabilities[k] = v
	}
	r.policies = worldtypes.PolicySet{Rules: append([]worldtypes.PolicyRule(nil), snap.Policies...)}
	r.gate.SetPolicies(r.policies)

	r.proposals = make(map[worldtypes.ProposalID]*worldtypes.Proposal, len(snap.Proposals))
	for i := range snap.Proposals {
		p := snap.Proposals[i]
		r.proposals[p.ID] = &p
	}

	for _, m := range snap.ModuleRegistry {
		r.reg.Put(m)
	}
	for id, version := range snap.ActiveModules {
		r.reg.SetActive(id, version)
	}
	if snap.Manifest != nil {
		r.manifestHash = snap.Manifest.Hash
	}
}

// FromSnapshot constructs a fresh Runtime whose state is restored from snapshot
// and then advanced by replaying journal (spec.md §4.1, §4.5 "Event application
// vs. journaling").
func FromSnapshot(cfg Config, snap *worldtypes.Snapshot, tail []worldtypes.Event) *Runtime {
	r := New(cfg)
	r.restoreFromSnapshot(snap)
	r.ReplayFrom(tail)
	return r
}
