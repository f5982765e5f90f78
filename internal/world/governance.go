package world

import (
	"encoding/json"
	"fmt"

	"worldsim/internal/worldtypes"
)

// ProposeManifestUpdate creates a Proposed proposal carrying a full replacement
// manifest (spec.md §4.5 step 7).
func (r *Runtime) ProposeManifestUpdate(author, baseManifestHash string, manifest worldtypes.Manifest) (worldtypes.ProposalID, error) {
	return r.newProposal(author, baseManifestHash, &manifest, nil)
}

// ProposeManifestPatch creates a Proposed proposal carrying a JSON merge patch
// to be applied to the current manifest at apply time (spec.md §4.5 step 7).
func (r *Runtime) ProposeManifestPatch(author, baseManifestHash string, patch []byte) (worldtypes.ProposalID, error) {
	return r.newProposal(author, baseManifestHash, nil, patch)
}

func (r *Runtime) newProposal(author, baseManifestHash string, manifest *worldtypes.Manifest, patch []byte) (worldtypes.ProposalID, error) {
	seq, err := r.proposalCounter.Next()
	if err != nil {
		return 0, fmt.Errorf("world: proposal id: %w", err)
	}
	id := worldtypes.ProposalID(seq)
	r.proposals[id] = &worldtypes.Proposal{
		ID:               id,
		Author:           author,
		BaseManifestHash: baseManifestHash,
		Manifest:         manifest,
		Patch:            patch,
		Status:           worldtypes.ProposalStatus{Kind: worldtypes.ProposalProposed},
	}
	_, err = r.appendEvent(worldtypes.EventBody{
		Kind:     worldtypes.BodyProposalProposed,
		Proposal: &worldtypes.ProposalEventBody{ProposalID: id, Author: author},
	}, nil)
	return id, err
}

// ShadowProposal moves a Proposed proposal to Shadowed{hash}: the resolved
// target manifest's hash is computed but not yet applied (spec.md §4.5 step 7).
func (r *Runtime) ShadowProposal(id worldtypes.ProposalID) (string, error) {
	p, ok := r.proposals[id]
	if !ok {
		return "", ErrProposalNotFound
	}
	if !p.CanTransitionTo(worldtypes.ProposalShadowed) {
		return "", ErrInvalidTransition
	}
	target, err := r.resolveTargetManifest(p)
	if err != nil {
		return "", err
	}
	hash, err := target.ComputeHash()
	if err != nil {
		return "", fmt.Errorf("world: shadow manifest hash: %w", err)
	}
	_, err = r.appendEvent(worldtypes.EventBody{
		Kind:     worldtypes.BodyProposalShadowed,
		Proposal: &worldtypes.ProposalEventBody{ProposalID: id, Hash: hash},
	}, nil)
	return hash, err
}

// ApproveProposal moves a Shadowed proposal to Approved{hash, approver}
// (spec.md §4.5 step 7).
func (r *Runtime) ApproveProposal(id worldtypes.ProposalID, approver string) error {
	p, ok := r.proposals[id]
	if !ok {
		return ErrProposalNotFound
	}
	if !p.CanTransitionTo(worldtypes.ProposalApproved) {
		return ErrInvalidTransition
	}
	hash := p.Status.Hash
	_, err := r.appendEvent(worldtypes.EventBody{
		Kind:     worldtypes.BodyProposalApproved,
		Proposal: &worldtypes.ProposalEventBody{ProposalID: id, Hash: hash, Approver: approver},
	}, nil)
	return err
}

// RejectProposal moves a Proposed or Shadowed proposal to the terminal
// Rejected{reason} state.
func (r *Runtime) RejectProposal(id worldtypes.ProposalID, reason string) error {
	p, ok := r.proposals[id]
	if !ok {
		return ErrProposalNotFound
	}
	if !p.CanTransitionTo(worldtypes.ProposalRejected) {
		return ErrInvalidTransition
	}
	_, err := r.appendEvent(worldtypes.EventBody{
		Kind:     worldtypes.BodyProposalRejected,
		Proposal: &worldtypes.ProposalEventBody{ProposalID: id, Reason: reason},
	}, nil)
	return err
}

// ApplyProposal is the only path that mutates the active manifest and modules:
// it validates the ModuleChangeSet derived from the proposal's target manifest,
// applies it to the registry, then journals Applied, the module-change events,
// and finally ManifestUpdated (spec.md §4.5 step 7).
func (r *Runtime) ApplyProposal(id worldtypes.ProposalID) error {
	p, ok := r.proposals[id]
	if !ok {
		return ErrProposalNotFound
	}
	if !p.CanTransitionTo(worldtypes.ProposalApplied) {
		return ErrInvalidTransition
	}

	target, err := r.resolveTargetManifest(p)
	if err != nil {
		return err
	}
	hash, err := target.ComputeHash()
	if err != nil {
		return fmt.Errorf("world: apply manifest hash: %w", err)
	}

	cs := r.diffChangeSet(target)
	if err := r.reg.ValidateChangeSet(cs); err != nil {
		return fmt.Errorf("world: apply_proposal change set invalid: %w", err)
	}
	moduleEvents := r.reg.ApplyChangeSet(cs)

	if _, err := r.appendEvent(worldtypes.EventBody{
		Kind:     worldtypes.BodyProposalApplied,
		Proposal: &worldtypes.ProposalEventBody{ProposalID: id, Hash: hash},
	}, nil); err != nil {
		return err
	}

	for _, mc := range moduleEvents {
		mc := mc
		body := worldtypes.EventBody{Kind: classifyModuleChange(mc), ModuleChange: &mc}
		if _, err := r.appendEvent(body, nil); err != nil {
			return err
		}
	}

	_, err = r.appendEvent(worldtypes.EventBody{
		Kind:            worldtypes.BodyManifestUpdated,
		ManifestUpdated: &worldtypes.ManifestUpdatedBody{ManifestHash: hash},
	}, nil)
	return err
}

// classifyModuleChange infers the module-change event kind a
// ModuleChangeEventBody represents, from the shape registry.ApplyChangeSet
// produces: a Manifest payload means ModuleRegistered, a bare
// (module_id, version) means activate, and a bare module_id alone means
// deactivate. ModuleUpgraded is never returned: a Manifest payload from an
// upgrade is also classified as ModuleRegistered.
func classifyModuleChange(mc worldtypes.ModuleChangeEventBody) worldtypes.EventBodyKind {
	switch {
	case mc.Manifest != nil:
		return worldtypes.BodyModuleRegistered
	case mc.Version != "":
		return worldtypes.BodyModuleActivated
	default:
		return worldtypes.BodyModuleDeactivated
	}
}

// resolveTargetManifest computes the manifest a proposal targets: its Manifest
// field directly, or the current manifest with Patch applied as a JSON merge
// patch (RFC 7396).
func (r *Runtime) resolveTargetManifest(p *worldtypes.Proposal) (worldtypes.Manifest, error) {
	if p.Manifest != nil {
		return *p.Manifest, nil
	}
	current := worldtypes.Manifest{
		Hash:    r.manifestHash,
		Modules: r.reg.AllRecords(),
		Active:  r.reg.ActiveMap(),
	}
	if len(p.Patch) == 0 {
		return current, nil
	}
	base, err := json.Marshal(current)
	if err != nil {
		return worldtypes.Manifest{}, fmt.Errorf("world: marshal current manifest: %w", err)
	}
	merged, err := jsonMergePatch(base, p.Patch)
	if err != nil {
		return worldtypes.Manifest{}, fmt.Errorf("world: apply manifest patch: %w", err)
	}
	var out worldtypes.Manifest
	if err := json.Unmarshal(merged, &out); err != nil {
		return worldtypes.Manifest{}, fmt.Errorf("world: unmarshal patched manifest: %w", err)
	}
	return out, nil
}

// diffChangeSet computes the ModuleChangeSet that moves the registry's current
// state toward target: new (module_id, version) pairs become Register,
// activations that differ from the current active set become Activate, and
// active modules absent from target.Active become Deactivate.
func (r *Runtime) diffChangeSet(target worldtypes.Manifest) worldtypes.ModuleChangeSet {
	var cs worldtypes.ModuleChangeSet
	for _, m := range target.Modules {
		if _, exists := r.reg.Get(m.ModuleID, m.Version); !exists {
			cs.Register = append(cs.Register, m)
		}
	}
	currentActive := r.reg.ActiveMap()
	for id, version := range target.Active {
		if currentActive[id] != version {
			cs.Activate = append(cs.Activate, worldtypes.ModuleVersionRef{ModuleID: id, Version: version})
		}
	}
	for id := range currentActive {
		if _, stillActive := target.Active[id]; !stillActive {
			cs.Deactivate = append(cs.Deactivate, id)
		}
	}
	return cs
}

// jsonMergePatch applies an RFC 7396 JSON merge patch: patch keys with null
// values delete the target key; object values merge recursively; any other
// value replaces the target key wholesale.
func jsonMergePatch(target, patch []byte) ([]byte, error) {
	var patchDoc map[string]json.RawMessage
	if err := json.Unmarshal(patch, &patchDoc); err != nil {
		return nil, fmt.Errorf("patch is not a JSON object: %w", err)
	}
	var targetDoc map[string]json.RawMessage
	if len(target) > 0 {
		if err := json.Unmarshal(target, &targetDoc); err != nil {
			targetDoc = map[string]json.RawMessage{}
		}
	}
	if targetDoc == nil {
		targetDoc = map[string]json.RawMessage{}
	}
	for k, v := range patchDoc {
		if string(v) == "null" {
			delete(targetDoc, k)
			continue
		}
		if isJSONObject(v) && isJSONObject(targetDoc[k]) {
			merged, err := jsonMergePatch(targetDoc[k], v)
			if err != nil {
				return nil, err
			}
			targetDoc[k] = merged
			continue
		}
		targetDoc[k] = v
	}
	return json.Marshal(targetDoc)
}

func isJSONObject(raw json.RawMessage) bool {
	for _, b := range raw {
		if b == ' ' || b == '\t' || b == '\n' || b == '\r' {
			continue
		}
		return b == '{'
	}
	return false
}

// RollbackToSnapshot requires snapshot.JournalLen <= journal.Len(), truncates
// the journal, rebuilds the runtime from snapshot, replays any journal tail
// beyond snapshot.JournalLen, then journals RollbackApplied (spec.md §4.5
// step 8).
func (r *Runtime) RollbackToSnapshot(snapshot *worldtypes.Snapshot, reason string) error {
	priorJournalLen := r.journal.Len()
	if snapshot.JournalLen > priorJournalLen {
		return ErrRollbackJournalTooShort
	}

	tail := r.journal.Slice(snapshot.JournalLen, priorJournalLen)
	if err := r.journal.Truncate(snapshot.JournalLen); err != nil {
		return fmt.Errorf("world: rollback truncate: %w", err)
	}

	r.restoreFromSnapshot(snapshot)
	r.ReplayFrom(tail)

	hash, err := snapshot.Hash()
	if err != nil {
		return fmt.Errorf("world: rollback snapshot hash: %w", err)
	}
	_, err = r.appendEvent(worldtypes.EventBody{
		Kind: worldtypes.BodyRollbackApplied,
		RollbackApplied: &worldtypes.RollbackAppliedBody{
			SnapshotHash:       hash,
			SnapshotJournalLen: snapshot.JournalLen,
			PriorJournalLen:    priorJournalLen,
			Reason:             reason,
		},
	}, nil)
	return err
}
