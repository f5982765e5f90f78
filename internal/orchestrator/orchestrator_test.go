package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"worldsim/internal/pos"
	"worldsim/internal/replication"
	"worldsim/internal/world"
	"worldsim/internal/worldtypes"
)

type fakeReducer struct{}

func (fakeReducer) Reduce(state *worldtypes.State, action worldtypes.Action) (worldtypes.DomainEventBody, error) {
	return worldtypes.DomainEventBody{AgentID: action.AgentID, Kind: action.Kind + "_done"}, nil
}

type fakeExecutionHook struct{ calls int }

func (f *fakeExecutionHook) Execute(worldID string, height uint64, actionRoot string) (string, string, error) {
	f.calls++
	return "exec-" + actionRoot[:8], "state-" + actionRoot[:8], nil
}

func singleValidatorEngine(t *testing.T, nodeID string) *pos.Engine {
	t.Helper()
	e, err := pos.NewEngine("w1", pos.Config{
		Validators:       []pos.Validator{{ID: pos.ValidatorID(nodeID), Stake: 1}},
		Num:              2,
		Den:              3,
		EpochLengthSlots: 100,
	})
	require.NoError(t, err)
	return e
}

func newSequencerOrchestrator(t *testing.T) (*Orchestrator, *world.Runtime, *replication.Store, *fakeExecutionHook) {
	t.Helper()
	runtime := world.New(world.Config{Reducer: fakeReducer{}})
	runtime.State().Agents.Set("agent-1", worldtypes.AgentCell{})

	dir := t.TempDir()
	store, err := replication.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	engine := singleValidatorEngine(t, "node-1")
	hook := &fakeExecutionHook{}

	cfg := NodeConfig{
		NodeID:          "node-1",
		WorldID:         "w1",
		Role:            RoleSequencer,
		TickIntervalMs:  1000,
		ReplicationDir:  dir,
		RequireExecutionOnCommit: true,
	}
	orch, err := New(cfg, runtime, engine, store, nil, nil, hook, nil)
	require.NoError(t, err)
	return orch, runtime, store, hook
}

func TestConfigValidateRejectsNonPositiveTickInterval(t *testing.T) {
	cfg := NodeConfig{TickIntervalMs: 0}
	require.Error(t, cfg.Validate())
}

func TestConfigValidateRejectsEmptyGossipPeers(t *testing.T) {
	cfg := NodeConfig{TickIntervalMs: 1000, Gossip: &GossipConfig{Peers: nil}}
	require.Error(t, cfg.Validate())
}

func TestNewRejectsSequencerWithoutExecutionHook(t *testing.T) {
	runtime := world.New(world.Config{Reducer: fakeReducer{}})
	engine := singleValidatorEngine(t, "node-1")
	dir := t.TempDir()
	store, err := replication.Open(dir)
	require.NoError(t, err)
	defer store.Close()

	cfg := NodeConfig{NodeID: "node-1", WorldID: "w1", Role: RoleSequencer, TickIntervalMs: 1000, ReplicationDir: dir}
	_, err = New(cfg, runtime, engine, store, nil, nil, nil, nil)
	require.Error(t, err)
}

func TestTickProposesAndCommitsFreshEvents(t *testing.T) {
	orch, runtime, _, hook := newSequencerOrchestrator(t)

	_, err := runtime.SubmitAction("agent-1", "mine", nil)
	require.NoError(t, err)
	require.NoError(t, runtime.Step())

	require.NoError(t, orch.Tick(1000))
	require.Equal(t, 1, hook.calls)
	require.Equal(t, uint64(1), orch.engine.LatestCommittedHeight())

	rec, found, err := replication.LoadCommit(orch.cfg.ReplicationDir, 1)
	require.NoError(t, err)
	require.True(t, found)
	require.NotNil(t, rec.ExecutionBlockHash)
}

func TestTickNoopsWithoutFreshEvents(t *testing.T) {
	orch, _, _, hook := newSequencerOrchestrator(t)
	require.NoError(t, orch.Tick(1000))
	require.Equal(t, 0, hook.calls)
}

func TestPersistAndLoadPosStateRoundTrip(t *testing.T) {
	orch, runtime, _, _ := newSequencerOrchestrator(t)
	_, err := runtime.SubmitAction("agent-1", "mine", nil)
	require.NoError(t, err)
	require.NoError(t, runtime.Step())
	require.NoError(t, orch.Tick(1000))

	require.NoError(t, orch.PersistPosState(2000))
	state, err := LoadPosState(orch.cfg.ReplicationDir)
	require.NoError(t, err)
	require.Equal(t, uint64(1), state.CommittedHeight)
}

func TestPeerSetEvictsOldestBeyondCapacity(t *testing.T) {
	p := NewPeerSet(2, 0)
	p.Add("a", 1)
	p.Add("b", 2)
	p.Add("c", 3)
	active := p.Active(4)
	require.Len(t, active, 2)
	require.NotContains(t, active, "a")
}

func TestPeerSetExpiresByTTL(t *testing.T) {
	p := NewPeerSet(10, 100)
	p.Add("a", 0)
	active := p.Active(50)
	require.Contains(t, active, "a")
	active = p.Active(200)
	require.NotContains(t, active, "a")
}

type failingHook struct{}

func (failingHook) Execute(worldID string, height uint64, actionRoot string) (string, string, error) {
	return "", "", errors.New("execution failed")
}

// fakeCommitNetwork serves FetchCommit from an in-memory map, mirroring
// replication_test.go's fakeNetwork to exercise gap-sync from this package.
type fakeCommitNetwork struct {
	commits map[uint64]replication.CommitMessage
}

func (f *fakeCommitNetwork) FetchCommit(_ context.Context, _ string, req replication.FetchCommitRequest) (replication.FetchCommitResponse, error) {
	msg, ok := f.commits[req.Height]
	if !ok {
		return replication.FetchCommitResponse{Found: false}, nil
	}
	return replication.FetchCommitResponse{Found: true, Message: &msg}, nil
}

func (f *fakeCommitNetwork) FetchBlob(_ context.Context, _ string, _ replication.FetchBlobRequest) (replication.FetchBlobResponse, error) {
	return replication.FetchBlobResponse{Found: false}, nil
}

// TestObserverTickCatchesUpViaGapSync exercises spec.md §8 scenario S7: an
// Observer starting from committed_height 0 must advance by fetching
// missing heights rather than staying stuck.
func TestObserverTickCatchesUpViaGapSync(t *testing.T) {
	runtime := world.New(world.Config{Reducer: fakeReducer{}})
	dir := t.TempDir()
	store, err := replication.Open(dir)
	require.NoError(t, err)
	defer store.Close()

	engine, err := pos.NewEngine("w1", pos.Config{
		Validators:       []pos.Validator{{ID: "node-1", Stake: 1}},
		Num:              2,
		Den:              3,
		EpochLengthSlots: 100,
	})
	require.NoError(t, err)

	cfg := NodeConfig{NodeID: "node-2", WorldID: "w1", Role: RoleObserver, TickIntervalMs: 1000, ReplicationDir: dir}
	orch, err := New(cfg, runtime, engine, store, nil, nil, nil, nil)
	require.NoError(t, err)

	net := &fakeCommitNetwork{commits: make(map[uint64]replication.CommitMessage)}
	for h := uint64(1); h <= 2; h++ {
		rec := replication.CommitRecord{WorldID: "w1", NodeID: "node-1", Height: h, Slot: h - 1, BlockHash: "b", ActionRoot: "a"}
		payload, err := json.Marshal(rec)
		require.NoError(t, err)
		net.commits[h] = replication.CommitMessage{Payload: payload}
	}
	orch.SetGapSyncer(replication.NewGapSyncer(net, []string{"peer-1"}, dir, nil))

	require.NoError(t, orch.Tick(1000))
	require.Equal(t, uint64(2), orch.engine.LatestCommittedHeight())

	_, found, err := replication.LoadCommit(dir, 2)
	require.NoError(t, err)
	require.True(t, found)
}

func TestCommitPropagatesExecutionHookError(t *testing.T) {
	runtime := world.New(world.Config{Reducer: fakeReducer{}})
	runtime.State().Agents.Set("agent-1", worldtypes.AgentCell{})
	dir := t.TempDir()
	store, err := replication.Open(dir)
	require.NoError(t, err)
	defer store.Close()
	engine := singleValidatorEngine(t, "node-1")

	cfg := NodeConfig{NodeID: "node-1", WorldID: "w1", Role: RoleSequencer, TickIntervalMs: 1000, ReplicationDir: dir}
	orch, err := New(cfg, runtime, engine, store, nil, nil, failingHook{}, nil)
	require.NoError(t, err)

	_, err = runtime.SubmitAction("agent-1", "mine", nil)
	require.NoError(t, err)
	require.NoError(t, runtime.Step())

	err = orch.Tick(1000)
	require.Error(t, err)
}
