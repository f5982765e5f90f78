package sandbox

import (
	"testing"

	"github.com/stretchr/testify/require"

	"worldsim/internal/registry"
	"worldsim/internal/worldtypes"
)

func TestCallRejectsLimitsExceedingExecutorCeiling(t *testing.T) {
	cache, err := registry.NewArtifactCache(4, t.TempDir())
	require.NoError(t, err)
	exec, err := NewExecutor(ExecutorLimits{MaxOutputBytes: 1024, MaxFuel: 1_000_000, MaxMemBytes: 1 << 20, MaxCallMillis: 50}, cache, "fp-test")
	require.NoError(t, err)

	req := ModuleCallRequest{
		ModuleID:   "econ",
		WasmHash:   "h1",
		TraceID:    "t1",
		Entrypoint: "on_event",
		Limits:     worldtypes.CallLimits{MaxOutputBytes: 2048},
		WasmBytes:  []byte{0x00, 0x61, 0x73, 0x6d},
	}
	_, callErr := exec.Call(req)
	require.NotNil(t, callErr)
	require.Equal(t, CodeOutputTooLarge, callErr.Code)
}

func TestCallRejectsEmptyWasm(t *testing.T) {
	cache, err := registry.NewArtifactCache(4, t.TempDir())
	require.NoError(t, err)
	exec, err := NewExecutor(ExecutorLimits{MaxOutputBytes: 1024, MaxFuel: 1_000_000, MaxMemBytes: 1 << 20, MaxCallMillis: 50}, cache, "fp-test")
	require.NoError(t, err)

	req := ModuleCallRequest{
		ModuleID:   "econ",
		WasmHash:   "h1",
		TraceID:    "t1",
		Entrypoint: "on_event",
		Limits:     worldtypes.CallLimits{MaxOutputBytes: 512, MaxGas: 1000, MaxMemBytes: 1024},
	}
	_, callErr := exec.Call(req)
	require.NotNil(t, callErr)
	require.Equal(t, CodeTrap, callErr.Code)
}

func TestCallErrorMessageIncludesModuleAndCode(t *testing.T) {
	err := &CallError{ModuleID: worldtypes.ModuleID("econ"), TraceID: "t9", Code: CodeTimeout, Detail: "deadline"}
	require.Contains(t, err.Error(), "econ")
	require.Contains(t, err.Error(), "timeout")
}
