package worldtypes

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// ModuleKind distinguishes stateless Pure modules from stateful Reducer modules.
type ModuleKind string

const (
	ModulePure    ModuleKind = "pure"
	ModuleReducer ModuleKind = "reducer"
)

// Stage names the subscription point a module call fires at.
type Stage string

const (
	StagePostEvent  Stage = "post_event"
	StagePreAction  Stage = "pre_action"
	StagePostAction Stage = "post_action"
)

// Subscription binds a module entrypoint to a stage, an event/action kind pattern,
// and an optional filter (spec.md §4.5, the subscription filter DSL).
type Subscription struct {
	Stage      Stage  `json:"stage"`
	KindPattern string `json:"kind_pattern"`
	Entrypoint string `json:"entrypoint"`
	Filter     []byte `json:"filter,omitempty"` // raw JSON of a filterdsl.Filter
}

// CallLimits caps a single sandbox invocation (spec.md §4.4).
type CallLimits struct {
	MaxGas          uint64 `json:"max_gas"`
	MaxMemBytes     uint64 `json:"max_mem_bytes"`
	MaxOutputBytes  uint64 `json:"max_output_bytes"`
	MaxCallMillis   uint64 `json:"max_call_millis"`
	MaxEffects      int    `json:"max_effects"`
	MaxEmits        int    `json:"max_emits"`
}

// ModuleManifest is the declarative record of a registered module version
// (spec.md §3). The record key is the lexicographic pair (ModuleID, Version).
type ModuleManifest struct {
	ModuleID         ModuleID       `json:"module_id"`
	Version          string         `json:"version"`
	WasmHash         string         `json:"wasm_hash"`
	InterfaceVersion uint32         `json:"interface_version"`
	Kind             ModuleKind     `json:"kind"`
	Exports          []string       `json:"exports"`
	Subscriptions    []Subscription `json:"subscriptions"`
	Limits           CallLimits     `json:"limits"`
	RequiredCaps     []string       `json:"required_caps"`
}

// Key returns the lexicographic (module_id, version) record key.
func (m ModuleManifest) Key() string {
	return string(m.ModuleID) + "@" + m.Version
}

// RequiresCapability reports whether capRef is listed in RequiredCaps.
func (m ModuleManifest) RequiresCapability(capRef string) bool {
	for _, c := range m.RequiredCaps {
		if c == capRef {
			return true
		}
	}
	return false
}

// ModuleVersionRef names a specific (module_id, version) activation/deactivation
// target.
type ModuleVersionRef struct {
	ModuleID ModuleID `json:"module_id"`
	Version  string   `json:"version"`
}

// ModuleChangeSet is the atomic batch of module-registry mutations validated and
// applied together by spec.md §4.3.
type ModuleChangeSet struct {
	Register   []ModuleManifest   `json:"register"`
	Upgrade    []ModuleUpgrade    `json:"upgrade"`
	Activate   []ModuleVersionRef `json:"activate"`
	Deactivate []ModuleID         `json:"deactivate"`
}

// ModuleUpgrade names the version being replaced alongside the new manifest.
type ModuleUpgrade struct {
	FromVersion string         `json:"from_version"`
	Manifest    ModuleManifest `json:"manifest"`
}

// Manifest is the top-level declarative configuration of modules, policies, and
// gameplay parameters, versioned by canonical hash (spec.md glossary).
type Manifest struct {
	Hash    string              `json:"hash"`
	Modules []ModuleManifest    `json:"modules"`
	Active  map[ModuleID]string `json:"active"`
}

// ComputeHash returns the SHA-256 hex digest of m's canonical serialization,
// excluding the Hash field itself.
func (m Manifest) ComputeHash() (string, error) {
	m.Hash = ""
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
