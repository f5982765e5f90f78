// Package registry implements the Module Registry & Artifact Cache (C3): single-pass
// ModuleChangeSet validation, deterministic application order, and a compiled-artifact
// cache layering an in-process LRU over an optional disk cache (spec.md §4.3).
package registry

import (
	"fmt"
	"sort"

	"worldsim/internal/worldtypes"
)

// ErrModuleChangeInvalid wraps any single-pass validation failure; the whole change
// set is rejected and no partial apply occurs.
type ErrModuleChangeInvalid struct {
	Reason string
}

func (e *ErrModuleChangeInvalid) Error() string {
	return fmt.Sprintf("registry: invalid module change set: %s", e.Reason)
}

// Registry tracks registered/active module manifests per ID.
type Registry struct {
	records map[string]worldtypes.ModuleManifest // key: module_id@version
	active  map[worldtypes.ModuleID]string        // module_id -> version
}

func New() *Registry {
	return &Registry{
		records: make(map[string]worldtypes.ModuleManifest),
		active:  make(map[worldtypes.ModuleID]string),
	}
}

// Get returns the manifest for (moduleID, version).
func (r *Registry) Get(moduleID worldtypes.ModuleID, version string) (worldtypes.ModuleManifest, bool) {
	m, ok := r.records[string(moduleID)+"@"+version]
	return m, ok
}

// ActiveVersion returns the currently active version for moduleID, if any.
func (r *Registry) ActiveVersion(moduleID worldtypes.ModuleID) (string, bool) {
	v, ok := r.active[moduleID]
	return v, ok
}

// ActiveManifest returns the manifest of the active version for moduleID, if any.
func (r *Registry) ActiveManifest(moduleID worldtypes.ModuleID) (worldtypes.ModuleManifest, bool) {
	v, ok := r.active[moduleID]
	if !ok {
		return worldtypes.ModuleManifest{}, false
	}
	return r.Get(moduleID, v)
}

// Put inserts or replaces a manifest record directly, bypassing change-set
// validation. Used by event replay to rebuild the registry from journaled
// ModuleChangeEventBody records (spec.md §3 replay-determinism invariant).
func (r *Registry) Put(m worldtypes.ModuleManifest) {
	r.records[m.Key()] = m
}

// SetActive marks version as the active version for moduleID, used by replay.
func (r *Registry) SetActive(moduleID worldtypes.ModuleID, version string) {
	r.active[moduleID] = version
}

// ClearActive removes moduleID from the active set, used by replay.
func (r *Registry) ClearActive(moduleID worldtypes.ModuleID) {
	delete(r.active, moduleID)
}

// AllRecords returns every registered manifest, in lexicographic (module_id,
// version) key order, used when building a Snapshot.
func (r *Registry) AllRecords() []worldtypes.ModuleManifest {
	keys := make([]string, 0, len(r.records))
	for k := range r.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]worldtypes.ModuleManifest, 0, len(keys))
	for _, k := range keys {
		out = append(out, r.records[k])
	}
	return out
}

// ActiveMap returns a copy of the module_id -> version active map, used when
// building a Snapshot.
func (r *Registry) ActiveMap() map[worldtypes.ModuleID]string {
	out := make(map[worldtypes.ModuleID]string, len(r.active))
	for k, v := range r.active {
		out[k] = v
	}
	return out
}

// ActiveModuleIDs returns active module ids in lexicographic order (used by module
// routing, spec.md §4.5).
func (r *Registry) ActiveModuleIDs() []worldtypes.ModuleID {
	ids := make([]worldtypes.ModuleID, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ValidateChangeSet validates an incoming ModuleChangeSet in one pass (spec.md §4.3).
// Any violation rejects the whole set.
func (r *Registry) ValidateChangeSet(cs worldtypes.ModuleChangeSet) error {
	if err := noDuplicateIDs("register", moduleIDsOf(cs.Register)); err != nil {
		return err
	}
	if err := noDuplicateIDs("upgrade", upgradeIDsOf(cs.Upgrade)); err != nil {
		return err
	}
	if err := noDuplicateRefs("activate", cs.Activate); err != nil {
		return err
	}
	if err := noDuplicateIDs("deactivate", cs.Deactivate); err != nil {
		return err
	}

	planned := make(map[string]struct{})
	for _, m := range cs.Register {
		key := m.Key()
		if _, exists := r.records[key]; exists {
			return &ErrModuleChangeInvalid{Reason: fmt.Sprintf("module version already registered: %s", key)}
		}
		if _, dup := planned[key]; dup {
			return &ErrModuleChangeInvalid{Reason: fmt.Sprintf("duplicate planned record: %s", key)}
		}
		planned[key] = struct{}{}
	}
	for _, u := range cs.Upgrade {
		m := u.Manifest
		key := m.Key()
		if _, exists := r.records[key]; exists {
			return &ErrModuleChangeInvalid{Reason: fmt.Sprintf("module version already registered: %s", key)}
		}
		if _, dup := planned[key]; dup {
			return &ErrModuleChangeInvalid{Reason: fmt.Sprintf("duplicate planned record: %s", key)}
		}
		planned[key] = struct{}{}

		fromKey := string(m.ModuleID) + "@" + u.FromVersion
		if _, exists := r.records[fromKey]; !exists {
			return &ErrModuleChangeInvalid{Reason: fmt.Sprintf("upgrade from_version does not exist: %s", fromKey)}
		}
		if active, ok := r.active[m.ModuleID]; ok && active != u.FromVersion {
			return &ErrModuleChangeInvalid{Reason: fmt.Sprintf("upgrade from_version must equal active version for %s", m.ModuleID)}
		}
	}

	for _, ref := range cs.Activate {
		key := string(ref.ModuleID) + "@" + ref.Version
		_, existing := r.records[key]
		_, wasPlanned := planned[key]
		if !existing && !wasPlanned {
			return &ErrModuleChangeInvalid{Reason: fmt.Sprintf("activation target does not exist: %s", key)}
		}
	}
	activating := make(map[worldtypes.ModuleID]struct{}, len(cs.Activate))
	for _, ref := range cs.Activate {
		activating[ref.ModuleID] = struct{}{}
	}
	for _, id := range cs.Deactivate {
		_, isActive := r.active[id]
		_, willActivate := activating[id]
		if !isActive && !willActivate {
			return &ErrModuleChangeInvalid{Reason: fmt.Sprintf("deactivation target is not active: %s", id)}
		}
	}
	return nil
}

// ApplyChangeSet applies a validated change set in the deterministic order spec.md
// §4.3 mandates: registers (sorted), upgrades (sorted), activations (sorted),
// deactivations (sorted). Returns one event body per change, in application order.
func (r *Registry) ApplyChangeSet(cs worldtypes.ModuleChangeSet) []worldtypes.ModuleChangeEventBody {
	var events []worldtypes.ModuleChangeEventBody

	registers := append([]worldtypes.ModuleManifest(nil), cs.Register...)
	sort.Slice(registers, func(i, j int) bool { return registers[i].ModuleID < registers[j].ModuleID })
	for _, m := range registers {
		r.records[m.Key()] = m
		manifest := m
		events = append(events, worldtypes.ModuleChangeEventBody{ModuleID: m.ModuleID, Version: m.Version, WasmHash: m.WasmHash, Manifest: &manifest})
	}

	upgrades := append([]worldtypes.ModuleUpgrade(nil), cs.Upgrade...)
	sort.Slice(upgrades, func(i, j int) bool { return upgrades[i].Manifest.ModuleID < upgrades[j].Manifest.ModuleID })
	for _, u := range upgrades {
		r.records[u.Manifest.Key()] = u.Manifest
		manifest := u.Manifest
		events = append(events, worldtypes.ModuleChangeEventBody{ModuleID: u.Manifest.ModuleID, Version: u.Manifest.Version, WasmHash: u.Manifest.WasmHash, Manifest: &manifest})
	}

	activate := append([]worldtypes.ModuleVersionRef(nil), cs.Activate...)
	sort.Slice(activate, func(i, j int) bool { return activate[i].ModuleID < activate[j].ModuleID })
	for _, ref := range activate {
		r.active[ref.ModuleID] = ref.Version
		events = append(events, worldtypes.ModuleChangeEventBody{ModuleID: ref.ModuleID, Version: ref.Version})
	}

	deactivate := append([]worldtypes.ModuleID(nil), cs.Deactivate...)
	sort.Slice(deactivate, func(i, j int) bool { return deactivate[i] < deactivate[j] })
	for _, id := range deactivate {
		delete(r.active, id)
		events = append(events, worldtypes.ModuleChangeEventBody{ModuleID: id})
	}

	return events
}

func noDuplicateIDs(field string, ids []worldtypes.ModuleID) error {
	seen := make(map[worldtypes.ModuleID]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return &ErrModuleChangeInvalid{Reason: fmt.Sprintf("duplicate module_id in %s: %s", field, id)}
		}
		seen[id] = struct{}{}
	}
	return nil
}

func noDuplicateRefs(field string, refs []worldtypes.ModuleVersionRef) error {
	seen := make(map[worldtypes.ModuleID]struct{}, len(refs))
	for _, ref := range refs {
		if _, dup := seen[ref.ModuleID]; dup {
			return &ErrModuleChangeInvalid{Reason: fmt.Sprintf("duplicate module_id in %s: %s", field, ref.ModuleID)}
		}
		seen[ref.ModuleID] = struct{}{}
	}
	return nil
}

func moduleIDsOf(ms []worldtypes.ModuleManifest) []worldtypes.ModuleID {
	ids := make([]worldtypes.ModuleID, len(ms))
	for i, m := range ms {
		ids[i] = m.ModuleID
	}
	return ids
}

func upgradeIDsOf(us []worldtypes.ModuleUpgrade) []worldtypes.ModuleID {
	ids := make([]worldtypes.ModuleID, len(us))
	for i, u := range us {
		ids[i] = u.Manifest.ModuleID
	}
	return ids
}
