package sandbox

import (
	"fmt"

	"worldsim/internal/worldtypes"
)

// FailureCode enumerates the typed module-call failures of spec.md §7.
type FailureCode string

const (
	CodeTrap               FailureCode = "trap"
	CodeOutOfFuel          FailureCode = "out_of_fuel"
	CodeOutOfMemory        FailureCode = "out_of_memory"
	CodeTimeout            FailureCode = "timeout"
	CodeInterrupted        FailureCode = "interrupted"
	CodeOutputTooLarge     FailureCode = "output_too_large"
	CodeEffectLimitExceeded FailureCode = "effect_limit_exceeded"
	CodeEmitLimitExceeded  FailureCode = "emit_limit_exceeded"
	CodeInvalidOutput      FailureCode = "invalid_output"
	CodeCapsDenied         FailureCode = "caps_denied"
	CodePolicyDenied       FailureCode = "policy_denied"
	CodeSandboxUnavailable FailureCode = "sandbox_unavailable"
)

// CallError is the typed ModuleCallFailed{module_id, trace_id, code, detail} error
// of spec.md §7. It is journaled before being returned to the caller.
type CallError struct {
	ModuleID worldtypes.ModuleID
	TraceID  string
	Code     FailureCode
	Detail   string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("sandbox: module %s call %s failed: %s (%s)", e.ModuleID, e.TraceID, e.Code, e.Detail)
}
