package orchestrator

// ExecutionHook computes the execution-layer bindings for a committed block.
// It is required when Role == RoleSequencer; Observer nodes may omit it and
// simply persist peer-supplied bindings (spec.md §4.8 step 3).
type ExecutionHook interface {
	// Execute runs the execution layer for actionRoot at height and returns
	// the resulting execution block hash and state root.
	Execute(worldID string, height uint64, actionRoot string) (executionBlockHash, executionStateRoot string, err error)
}
