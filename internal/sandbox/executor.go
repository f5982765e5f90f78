package sandbox

import (
	"fmt"
	"time"

	"github.com/bytecodealliance/wasmtime-go/v25"
	"github.com/fxamacker/cbor/v2"

	"worldsim/internal/registry"
)

// abiShape enumerates the three entrypoint ABI shapes spec.md §4.4 step 3 tries, in order.
type abiShape int

const (
	abiPtrLenPtrLen abiShape = iota // (i32,i32)->(i32,i32)
	abiPtrLenPacked                 // (i32,i32)->i64, low=ptr high=len
	abiOutSlot                      // (i32,i32,i32)->(), first arg points to {ptr,len}
)

// Executor runs module calls inside a wasmtime sandbox with the caps of spec.md §4.4.
type Executor struct {
	limits    ExecutorLimits
	engine    *wasmtime.Engine
	artifacts *registry.ArtifactCache
	fingerprint string
}

// NewExecutor builds an Executor with a fuel- and epoch-interruption-enabled engine.
func NewExecutor(limits ExecutorLimits, artifacts *registry.ArtifactCache, engineFingerprint string) (*Executor, error) {
	cfg := wasmtime.NewConfig()
	cfg.SetConsumeFuel(true)
	cfg.SetEpochInterruption(true)
	engine := wasmtime.NewEngineWithConfig(cfg)
	return &Executor{limits: limits, engine: engine, artifacts: artifacts, fingerprint: engineFingerprint}, nil
}

// Call executes a module call under the contract of spec.md §4.4.
func (e *Executor) Call(req ModuleCallRequest) (*ModuleOutput, *CallError) {
	if req.Limits.MaxOutputBytes > e.limits.MaxOutputBytes {
		return nil, &CallError{ModuleID: req.ModuleID, TraceID: req.TraceID, Code: CodeOutputTooLarge, Detail: "limits.max_output_bytes exceeds executor.max_output_bytes"}
	}
	if req.Limits.MaxGas > e.limits.MaxFuel {
		return nil, &CallError{ModuleID: req.ModuleID, TraceID: req.TraceID, Code: CodeTimeout, Detail: "limits.max_gas exceeds executor.max_fuel"}
	}
	if req.Limits.MaxMemBytes > e.limits.MaxMemBytes {
		return nil, &CallError{ModuleID: req.ModuleID, TraceID: req.TraceID, Code: CodeTrap, Detail: "limits.max_mem_bytes exceeds executor.max_mem_bytes"}
	}
	if len(req.WasmBytes) == 0 {
		return nil, &CallError{ModuleID: req.ModuleID, TraceID: req.TraceID, Code: CodeTrap, Detail: "empty wasm bytes"}
	}

	module, err := e.compileOrCache(req.WasmHash, req.WasmBytes)
	if err != nil {
		return nil, &CallError{ModuleID: req.ModuleID, TraceID: req.TraceID, Code: CodeInvalidOutput, Detail: fmt.Sprintf("compile: %v", err)}
	}

	fuel := req.Limits.MaxGas
	if fuel == 0 {
		fuel = maxU64(e.limits.MaxFuel, req.Limits.MaxGas)
	}

	store := wasmtime.NewStore(e.engine)
	if err := store.SetFuel(fuel); err != nil {
		return nil, &CallError{ModuleID: req.ModuleID, TraceID: req.TraceID, Code: CodeSandboxUnavailable, Detail: fmt.Sprintf("set fuel: %v", err)}
	}
	store.SetEpochDeadline(1)
	store.Limiter(int64(req.Limits.MaxMemBytes), -1, -1, -1, -1)

	linker := wasmtime.NewLinker(e.engine)
	instance, err := linker.Instantiate(store, module)
	if err != nil {
		return nil, &CallError{ModuleID: req.ModuleID, TraceID: req.TraceID, Code: CodeTrap, Detail: fmt.Sprintf("instantiate: %v", err)}
	}

	mem := instance.GetExport(store, "memory")
	alloc := instance.GetExport(store, "alloc")
	entry := instance.GetExport(store, req.Entrypoint)
	if mem == nil || mem.Memory() == nil || alloc == nil || alloc.Func() == nil || entry == nil || entry.Func() == nil {
		return nil, &CallError{ModuleID: req.ModuleID, TraceID: req.TraceID, Code: CodeInvalidOutput, Detail: "missing required export (memory/alloc/entrypoint)"}
	}

	watchdog := e.armWatchdog(req.Limits.MaxCallMillis)
	defer watchdog.cancel()

	start := time.Now()
	outBytes, callErr := e.invoke(store, instance, mem.Memory(), alloc.Func(), entry.Func(), req)
	elapsed := time.Since(start)
	if callErr != nil {
		return nil, callErr
	}
	if uint64(elapsed.Milliseconds()) > req.Limits.MaxCallMillis && req.Limits.MaxCallMillis > 0 {
		return nil, &CallError{ModuleID: req.ModuleID, TraceID: req.TraceID, Code: CodeTimeout, Detail: "call exceeded max_call_millis"}
	}

	if uint64(len(outBytes)) > req.Limits.MaxOutputBytes {
		return nil, &CallError{ModuleID: req.ModuleID, TraceID: req.TraceID, Code: CodeOutputTooLarge, Detail: "output exceeds limits.max_output_bytes"}
	}

	var out ModuleOutput
	if err := cbor.Unmarshal(outBytes, &out); err != nil {
		return nil, &CallError{ModuleID: req.ModuleID, TraceID: req.TraceID, Code: CodeInvalidOutput, Detail: fmt.Sprintf("cbor decode: %v", err)}
	}
	if req.Limits.MaxEffects > 0 && len(out.Effects) > req.Limits.MaxEffects {
		return nil, &CallError{ModuleID: req.ModuleID, TraceID: req.TraceID, Code: CodeEffectLimitExceeded, Detail: "effects exceed max_effects"}
	}
	if req.Limits.MaxEmits > 0 && len(out.Emits) > req.Limits.MaxEmits {
		return nil, &CallError{ModuleID: req.ModuleID, TraceID: req.TraceID, Code: CodeEmitLimitExceeded, Detail: "emits exceed max_emits"}
	}
	return &out, nil
}

func (e *Executor) compileOrCache(wasmHash string, wasmBytes []byte) (*wasmtime.Module, error) {
	art, err := e.artifacts.GetOrCompile(e.fingerprint, wasmHash, func() (*registry.CompiledArtifact, error) {
		m, err := wasmtime.NewModule(e.engine, wasmBytes)
		if err != nil {
			return nil, err
		}
		serialized, err := m.Serialize()
		if err != nil {
			return nil, err
		}
		return &registry.CompiledArtifact{EngineFingerprint: e.fingerprint, WasmHash: wasmHash, Bytes: serialized}, nil
	})
	if err != nil {
		return nil, err
	}
	return wasmtime.NewModuleDeserialize(e.engine, art.Bytes)
}

type watchdog struct {
	stop chan struct{}
}

// armWatchdog arms an epoch/preemption watchdog that fires after maxCallMillis by
// incrementing the engine's epoch; it is cancelled after the call completes
// (spec.md §4.4 step 2, §5 cancellation & timeouts).
func (e *Executor) armWatchdog(maxCallMillis uint64) *watchdog {
	w := &watchdog{stop: make(chan struct{})}
	if maxCallMillis == 0 {
		return w
	}
	go func() {
		timer := time.NewTimer(time.Duration(maxCallMillis) * time.Millisecond)
		defer timer.Stop()
		select {
		case <-timer.C:
			e.engine.IncrementEpoch()
		case <-w.stop:
		}
	}()
	return w
}

func (w *watchdog) cancel() {
	close(w.stop)
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

// invoke writes req's input bytes into guest memory via the alloc export, calls
// entry under one of the three ABI shapes spec.md §4.4 step 3 allows, and reads
// back the output bytes. Traps and out-of-fuel/out-of-memory conditions are
// classified into the FailureCode taxonomy of spec.md §7.
func (e *Executor) invoke(store *wasmtime.Store, instance *wasmtime.Instance, mem *wasmtime.Memory, allocFn, entryFn *wasmtime.Func, req ModuleCallRequest) ([]byte, *CallError) {
	inPtr, inErr := e.writeInput(store, mem, allocFn, req.InputBytes)
	if inErr != nil {
		return nil, classifyTrap(req, inErr)
	}

	shape := detectShape(entryFn)
	switch shape {
	case abiPtrLenPtrLen:
		results, err := entryFn.Call(store, inPtr, int32(len(req.InputBytes)))
		if err != nil {
			return nil, classifyTrap(req, err)
		}
		pair, ok := results.([]wasmtime.Val)
		if !ok || len(pair) != 2 {
			return nil, &CallError{ModuleID: req.ModuleID, TraceID: req.TraceID, Code: CodeInvalidOutput, Detail: "entrypoint did not return (ptr,len)"}
		}
		outPtr := pair[0].I32()
		outLen := pair[1].I32()
		return readMemory(mem, store, outPtr, outLen, req)

	case abiPtrLenPacked:
		result, err := entryFn.Call(store, inPtr, int32(len(req.InputBytes)))
		if err != nil {
			return nil, classifyTrap(req, err)
		}
		packed, ok := result.(int64)
		if !ok {
			return nil, &CallError{ModuleID: req.ModuleID, TraceID: req.TraceID, Code: CodeInvalidOutput, Detail: "entrypoint did not return packed i64"}
		}
		outPtr := int32(uint64(packed) & 0xffffffff)
		outLen := int32(uint64(packed) >> 32)
		return readMemory(mem, store, outPtr, outLen, req)

	default: // abiOutSlot
		outSlotPtr, slotErr := e.writeInput(store, mem, allocFn, make([]byte, 8))
		if slotErr != nil {
			return nil, classifyTrap(req, slotErr)
		}
		if _, err := entryFn.Call(store, inPtr, int32(len(req.InputBytes)), outSlotPtr); err != nil {
			return nil, classifyTrap(req, err)
		}
		slot := mem.UnsafeData(store)[outSlotPtr : outSlotPtr+8]
		outPtr := int32(le32(slot[0:4]))
		outLen := int32(le32(slot[4:8]))
		return readMemory(mem, store, outPtr, outLen, req)
	}
}

// writeInput allocates len(data) bytes via the guest's alloc export and copies
// data in, returning the guest pointer.
func (e *Executor) writeInput(store *wasmtime.Store, mem *wasmtime.Memory, allocFn *wasmtime.Func, data []byte) (int32, error) {
	res, err := allocFn.Call(store, int32(len(data)))
	if err != nil {
		return 0, err
	}
	ptr, ok := res.(int32)
	if !ok {
		return 0, fmt.Errorf("alloc did not return i32 pointer")
	}
	raw := mem.UnsafeData(store)
	if int(ptr)+len(data) > len(raw) {
		return 0, fmt.Errorf("alloc returned out-of-bounds pointer")
	}
	copy(raw[ptr:], data)
	return ptr, nil
}

func readMemory(mem *wasmtime.Memory, store *wasmtime.Store, ptr, length int32, req ModuleCallRequest) ([]byte, *CallError) {
	if ptr < 0 || length < 0 {
		return nil, &CallError{ModuleID: req.ModuleID, TraceID: req.TraceID, Code: CodeInvalidOutput, Detail: "negative output pointer or length"}
	}
	raw := mem.UnsafeData(store)
	if int(ptr)+int(length) > len(raw) {
		return nil, &CallError{ModuleID: req.ModuleID, TraceID: req.TraceID, Code: CodeInvalidOutput, Detail: "output slice out of bounds"}
	}
	out := make([]byte, length)
	copy(out, raw[ptr:int(ptr)+int(length)])
	return out, nil
}

// detectShape probes entryFn's exported type to pick the ABI shape of spec.md
// §4.4 step 3: two i32 results, one packed i64 result, or a three-argument
// out-slot void call.
func detectShape(entryFn *wasmtime.Func) abiShape {
	ty := entryFn.Type(nil)
	results := ty.Results()
	switch len(results) {
	case 2:
		return abiPtrLenPtrLen
	case 1:
		return abiPtrLenPacked
	default:
		return abiOutSlot
	}
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// classifyTrap maps a wasmtime call error into the FailureCode taxonomy of
// spec.md §7.
func classifyTrap(req ModuleCallRequest, err error) *CallError {
	if trap, ok := err.(*wasmtime.Trap); ok {
		code := trap.Code()
		if code != nil {
			switch *code {
			case wasmtime.OutOfFuel:
				return &CallError{ModuleID: req.ModuleID, TraceID: req.TraceID, Code: CodeOutOfFuel, Detail: trap.Message()}
			case wasmtime.Interrupt:
				return &CallError{ModuleID: req.ModuleID, TraceID: req.TraceID, Code: CodeInterrupted, Detail: trap.Message()}
			case wasmtime.MemoryOutOfBounds, wasmtime.TableOutOfBounds:
				return &CallError{ModuleID: req.ModuleID, TraceID: req.TraceID, Code: CodeOutOfMemory, Detail: trap.Message()}
			}
		}
		return &CallError{ModuleID: req.ModuleID, TraceID: req.TraceID, Code: CodeTrap, Detail: trap.Message()}
	}
	return &CallError{ModuleID: req.ModuleID, TraceID: req.TraceID, Code: CodeTrap, Detail: err.Error()}
}
