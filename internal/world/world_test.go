package world

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"worldsim/internal/worldtypes"
)

type fakeReducer struct {
	rejectKind string
}

func (f fakeReducer) Reduce(state *worldtypes.State, action worldtypes.Action) (worldtypes.DomainEventBody, error) {
	if action.Kind == f.rejectKind {
		return worldtypes.DomainEventBody{}, errors.New("rejected by policy of the test reducer")
	}
	return worldtypes.DomainEventBody{AgentID: action.AgentID, Kind: action.Kind + "_done"}, nil
}

func newTestRuntime() *Runtime {
	return New(Config{Reducer: fakeReducer{rejectKind: "explode"}})
}

func TestSubmitActionAndStepProducesDomainEvent(t *testing.T) {
	r := newTestRuntime()
	r.State().Agents.Set("agent-1", worldtypes.AgentCell{})

	_, err := r.SubmitAction("agent-1", "mine", nil)
	require.NoError(t, err)
	require.NoError(t, r.Step())

	require.Equal(t, 1, r.Journal().Len())
	ev := r.Journal().At(0)
	require.Equal(t, worldtypes.BodyDomainEvent, ev.Body.Kind)
	require.Equal(t, "mine_done", ev.Body.DomainEvent.Kind)

	cell, ok := r.State().Agents.Get("agent-1")
	require.True(t, ok)
	require.Len(t, cell.Mailbox, 1)
	require.Equal(t, "mine_done", cell.Mailbox[0].Kind)
}

func TestStepJournalsActionRejected(t *testing.T) {
	r := newTestRuntime()
	_, err := r.SubmitAction("agent-1", "explode", nil)
	require.NoError(t, err)
	require.NoError(t, r.Step())

	ev := r.Journal().At(0)
	require.Equal(t, worldtypes.BodyActionRejected, ev.Body.Kind)
	require.Equal(t, worldtypes.ActionID(0), ev.Body.ActionRejected.ActionID)
}

func TestEmitEffectCapabilityMissing(t *testing.T) {
	r := newTestRuntime()
	_, err := r.EmitEffect("spawn", nil, "cap-x", "test")
	require.Error(t, err)
	var capErr *CapabilityError
	require.ErrorAs(t, err, &capErr)
	require.Equal(t, worldtypes.CapabilityMissing, capErr.Status)
}

func TestEmitEffectAllowedQueuesIntent(t *testing.T) {
	r := newTestRuntime()
	r.GrantCapability(worldtypes.CapabilityGrant{Name: "cap-x", AllowedKinds: []string{"spawn"}})

	id, err := r.EmitEffect("spawn", nil, "cap-x", "test")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	intent, ok := r.TakeNextEffect()
	require.True(t, ok)
	require.Equal(t, id, intent.ID)

	_, ok = r.TakeNextEffect()
	require.False(t, ok)
}

func TestIngestReceiptUnknownIntentRejected(t *testing.T) {
	r := newTestRuntime()
	err := r.IngestReceipt(worldtypes.Receipt{IntentID: "intent-999", Outcome: "ok"})
	require.ErrorIs(t, err, ErrReceiptUnknownIntent)
}

func TestIngestReceiptRemovesFromQueues(t *testing.T) {
	r := newTestRuntime()
	r.GrantCapability(worldtypes.CapabilityGrant{Name: "cap-x", AllowedKinds: []string{"spawn"}})
	id, err := r.EmitEffect("spawn", nil, "cap-x", "test")
	require.NoError(t, err)
	_, _ = r.TakeNextEffect()

	require.NoError(t, r.IngestReceipt(worldtypes.Receipt{IntentID: id, Outcome: "ok"}))

	last := r.Journal().At(r.Journal().Len() - 1)
	require.Equal(t, worldtypes.BodyReceiptAppended, last.Body.Kind)
}

func TestScheduleNextRoundRobinsAndWraps(t *testing.T) {
	r := newTestRuntime()
	r.State().Agents.Set("a", worldtypes.AgentCell{Mailbox: []worldtypes.MailboxEvent{{Kind: "a1"}}})
	r.State().Agents.Set("b", worldtypes.AgentCell{Mailbox: []worldtypes.MailboxEvent{{Kind: "b1"}}})

	first, ok := r.ScheduleNext()
	require.True(t, ok)
	second, ok := r.ScheduleNext()
	require.True(t, ok)
	require.NotEqual(t, first.AgentID, second.AgentID)

	_, ok = r.ScheduleNext()
	require.False(t, ok)
}

func TestGovernanceProposeShadowApproveApply(t *testing.T) {
	r := newTestRuntime()
	manifest := worldtypes.Manifest{
		Modules: []worldtypes.ModuleManifest{{ModuleID: "econ", Version: "v1", WasmHash: "h1"}},
		Active:  map[worldtypes.ModuleID]string{"econ": "v1"},
	}
	id, err := r.ProposeManifestUpdate("author-1", "", manifest)
	require.NoError(t, err)

	hash, err := r.ShadowProposal(id)
	require.NoError(t, err)
	require.NotEmpty(t, hash)

	require.NoError(t, r.ApproveProposal(id, "approver-1"))
	require.NoError(t, r.ApplyProposal(id))

	version, ok := r.reg.ActiveVersion("econ")
	require.True(t, ok)
	require.Equal(t, "v1", version)
}

func TestRollbackToSnapshotReplaysTail(t *testing.T) {
	r := newTestRuntime()
	r.State().Agents.Set("agent-1", worldtypes.AgentCell{})
	_, err := r.SubmitAction("agent-1", "mine", nil)
	require.NoError(t, err)
	require.NoError(t, r.Step())

	snap := r.Snapshot()

	_, err = r.SubmitAction("agent-1", "mine", nil)
	require.NoError(t, err)
	require.NoError(t, r.Step())
	require.Equal(t, 2, r.Journal().Len())

	require.NoError(t, r.RollbackToSnapshot(snap, "test rollback"))

	last := r.Journal().At(r.Journal().Len() - 1)
	require.Equal(t, worldtypes.BodyRollbackApplied, last.Body.Kind)
	require.Equal(t, 2, last.Body.RollbackApplied.PriorJournalLen)
}
