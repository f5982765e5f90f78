// Package sandbox implements the WASM Sandbox (C4): module-call execution under
// memory/gas/time/output caps, entrypoint ABI dispatch, and trap-to-typed-failure
// translation (spec.md §4.4). The engine is wasmtime, chosen because spec.md's
// contract — fuel metering, an epoch-deadline preemption watchdog, and a
// memory-growth limiter — is exactly wasmtime's embedding API.
package sandbox

import (
	"worldsim/internal/worldtypes"
)

// ModuleCallRequest is the sandbox's call contract input (spec.md §4.4).
type ModuleCallRequest struct {
	ModuleID   worldtypes.ModuleID
	WasmHash   string
	TraceID    string
	Entrypoint string
	InputBytes []byte
	Limits     worldtypes.CallLimits
	WasmBytes  []byte
}

// ModuleOutput is the sandbox's call contract output on success.
type ModuleOutput struct {
	NewState      []byte           `cbor:"new_state,omitempty"`
	Effects       []ModuleEffect   `cbor:"effects"`
	Emits         [][]byte         `cbor:"emits"`
	TickLifecycle *string          `cbor:"tick_lifecycle,omitempty"`
	OutputBytes   []byte           `cbor:"output_bytes"`
}

// ModuleEffect is one effect emitted by a module call, pre-intent-construction.
type ModuleEffect struct {
	Kind   string `cbor:"kind"`
	Params []byte `cbor:"params"`
	CapRef string `cbor:"cap_ref"`
}

// ModuleCallInput is canonical-CBOR-encoded and passed into the sandbox as
// call input (spec.md §4.5 module routing).
type ModuleCallInput struct {
	Ctx    map[string]string     `cbor:"ctx"`
	Event  *worldtypes.EventBody `cbor:"event,omitempty"`
	Action *worldtypes.Action    `cbor:"action,omitempty"`
	State  []byte                `cbor:"state,omitempty"`
}

// ExecutorLimits are the sandbox's own ceilings; a request's limits.* must never
// exceed these (spec.md §4.4 pre-call validation).
type ExecutorLimits struct {
	MaxOutputBytes uint64
	MaxFuel        uint64
	MaxMemBytes    uint64
	MaxCallMillis  uint64
}
