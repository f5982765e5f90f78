package membership

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	fail      bool
	delivered []Alert
}

func (s *recordingSink) Deliver(alert Alert) error {
	if s.fail {
		return errors.New("sink unavailable")
	}
	s.delivered = append(s.delivered, alert)
	return nil
}

func testPolicy() Policy {
	return Policy{MaxPendingAlerts: 10, MaxRetryAttempts: 3, RetryBackoffMs: 1000}
}

func TestPolicyValidateRejectsZeroMaxPending(t *testing.T) {
	p := testPolicy()
	p.MaxPendingAlerts = 0
	require.Error(t, p.Validate())
}

func TestPipelineDeliversNewAlertsSuccessfully(t *testing.T) {
	sink := &recordingSink{}
	pipeline, err := NewPipeline(testPolicy(), sink, NewMemoryStore(), NewMemoryStore())
	require.NoError(t, err)

	metrics, err := pipeline.Run("w1", "n1", 1000, []Alert{{WorldID: "w1", NodeID: "n1", Reason: "revoked"}})
	require.NoError(t, err)
	require.Equal(t, uint64(1), metrics.Attempted)
	require.Equal(t, uint64(1), metrics.Succeeded)
	require.Len(t, sink.delivered, 1)
}

func TestPipelineRetriesOnSinkFailureThenArchivesAtLimit(t *testing.T) {
	sink := &recordingSink{fail: true}
	mem := NewMemoryStore()
	policy := Policy{MaxPendingAlerts: 10, MaxRetryAttempts: 2, RetryBackoffMs: 0}
	pipeline, err := NewPipeline(policy, sink, mem, mem)
	require.NoError(t, err)

	_, err = pipeline.Run("w1", "n1", 1000, []Alert{{WorldID: "w1", NodeID: "n1", Reason: "revoked"}})
	require.NoError(t, err)

	pending, err := mem.LoadPending("w1", "n1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, 1, pending[0].Attempt)

	metrics, err := pipeline.Run("w1", "n1", 2000, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(1), metrics.DeadLettered)

	dead, err := mem.LoadDeadLetters("w1", "n1")
	require.NoError(t, err)
	require.Len(t, dead, 1)
	require.Equal(t, ReasonRetryLimitExceeded, dead[0].Reason)

	pending, err = mem.LoadPending("w1", "n1")
	require.NoError(t, err)
	require.Len(t, pending, 0)
}

func TestPipelineEnforcesCapacityEviction(t *testing.T) {
	sink := &recordingSink{fail: true}
	mem := NewMemoryStore()
	policy := Policy{MaxPendingAlerts: 1, MaxRetryAttempts: 5, RetryBackoffMs: 10_000}
	pipeline, err := NewPipeline(policy, sink, mem, mem)
	require.NoError(t, err)

	_, err = pipeline.Run("w1", "n1", 1000, []Alert{
		{WorldID: "w1", NodeID: "n1", Reason: "a"},
		{WorldID: "w1", NodeID: "n1", Reason: "b"},
	})
	require.NoError(t, err)

	pending, err := mem.LoadPending("w1", "n1")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	dead, err := mem.LoadDeadLetters("w1", "n1")
	require.NoError(t, err)
	require.Len(t, dead, 1)
	require.Equal(t, ReasonCapacityEvicted, dead[0].Reason)
}

func TestReplayOrdersByPriorityThenAttemptThenDroppedAt(t *testing.T) {
	mem := NewMemoryStore()
	sink := &recordingSink{}
	pipeline, err := NewPipeline(testPolicy(), sink, mem, mem)
	require.NoError(t, err)

	dl1 := DeadLetterRecord{WorldID: "w1", NodeID: "n1", Reason: ReasonCapacityEvicted, DroppedAtMs: 100, PendingAlert: PendingAlert{Attempt: 1}, OriginalIndex: 0}
	dl2 := DeadLetterRecord{WorldID: "w1", NodeID: "n1", Reason: ReasonRetryLimitExceeded, DroppedAtMs: 200, PendingAlert: PendingAlert{Attempt: 4}, OriginalIndex: 1}
	dl3 := DeadLetterRecord{WorldID: "w1", NodeID: "n1", Reason: ReasonRetryLimitExceeded, DroppedAtMs: 150, PendingAlert: PendingAlert{Attempt: 3}, OriginalIndex: 2}
	require.NoError(t, mem.SaveDeadLetters("w1", "n1", []DeadLetterRecord{dl1, dl2, dl3}))

	replayed, err := pipeline.Replay("w1", "n1", 2)
	require.NoError(t, err)
	require.Equal(t, 2, replayed)

	pending, err := mem.LoadPending("w1", "n1")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, 4, pending[0].Attempt)
	require.Equal(t, 3, pending[1].Attempt)

	dead, err := mem.LoadDeadLetters("w1", "n1")
	require.NoError(t, err)
	require.Len(t, dead, 1)
	require.Equal(t, ReasonCapacityEvicted, dead[0].Reason)
}

func TestSchedulerCoordinatorRejectsConcurrentHolder(t *testing.T) {
	c := NewSchedulerCoordinator()
	ok, err := c.Acquire("w1", "n1", "holder-a", 1000, 5000)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c.Acquire("w1", "n1", "holder-b", 2000, 5000)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSchedulerCoordinatorRecyclesExpiredLease(t *testing.T) {
	c := NewSchedulerCoordinator()
	ok, err := c.Acquire("w1", "n1", "holder-a", 1000, 1000)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c.Acquire("w1", "n1", "holder-b", 3000, 1000)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRunLeasedReleasesAfterWork(t *testing.T) {
	c := NewSchedulerCoordinator()
	ran := false
	err := RunLeased(c, "w1", "n1", "holder-a", 1000, 5000, func() error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)

	ok, err := c.Acquire("w1", "n1", "holder-b", 1001, 5000)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRollbackGovernorEscalatesToStableThenEmergency(t *testing.T) {
	mem := NewMemoryStore()
	guard := RollbackGuard{MinAttempted: 1, FailureRatioPerMille: 100, DeadLetterRatioPerMille: 1000, RollbackCooldownMs: 0, RollbackWindowMs: 100_000, AlertCooldownMs: 0}
	escalation := EscalationPolicy{
		LevelOneRollbackStreak: 1,
		LevelTwoRollbackStreak: 2,
		LevelTwoEmergencyPolicy: Policy{MaxPendingAlerts: 1, MaxRetryAttempts: 1, RetryBackoffMs: 0},
	}
	governor := NewRollbackGovernor(guard, escalation, mem, mem, mem, mem, mem)

	failing := DeliveryMetrics{Attempted: 10, Failed: 5, Succeeded: 5}
	stable := testPolicy()

	rolledBack, err := governor.Evaluate("w1", failing, stable, 1000)
	require.NoError(t, err)
	require.True(t, rolledBack)
	govState, err := mem.LoadGovernanceState("w1")
	require.NoError(t, err)
	require.Equal(t, LevelStable, govState.LastLevel)

	rolledBack, err = governor.Evaluate("w1", failing, stable, 2000)
	require.NoError(t, err)
	require.True(t, rolledBack)
	govState, err = mem.LoadGovernanceState("w1")
	require.NoError(t, err)
	require.Equal(t, LevelEmergency, govState.LastLevel)

	activePolicy, err := mem.ActivePolicy("w1")
	require.NoError(t, err)
	require.Equal(t, escalation.LevelTwoEmergencyPolicy, activePolicy)
}

func TestRollbackGovernorSkipsWhenBelowThreshold(t *testing.T) {
	mem := NewMemoryStore()
	guard := RollbackGuard{MinAttempted: 1, FailureRatioPerMille: 500, DeadLetterRatioPerMille: 500}
	escalation := EscalationPolicy{LevelOneRollbackStreak: 1, LevelTwoRollbackStreak: 2}
	governor := NewRollbackGovernor(guard, escalation, mem, mem, mem, mem, mem)

	healthy := DeliveryMetrics{Attempted: 10, Failed: 1, Succeeded: 9}
	rolledBack, err := governor.Evaluate("w1", healthy, testPolicy(), 1000)
	require.NoError(t, err)
	require.False(t, rolledBack)
}

func TestRollbackGovernorRespectsCooldown(t *testing.T) {
	mem := NewMemoryStore()
	guard := RollbackGuard{MinAttempted: 1, FailureRatioPerMille: 100, DeadLetterRatioPerMille: 1000, RollbackCooldownMs: 10_000, RollbackWindowMs: 100_000}
	escalation := EscalationPolicy{LevelOneRollbackStreak: 5, LevelTwoRollbackStreak: 10}
	governor := NewRollbackGovernor(guard, escalation, mem, mem, mem, mem, mem)

	failing := DeliveryMetrics{Attempted: 10, Failed: 5, Succeeded: 5}
	rolledBack, err := governor.Evaluate("w1", failing, testPolicy(), 1000)
	require.NoError(t, err)
	require.True(t, rolledBack)

	rolledBack, err = governor.Evaluate("w1", failing, testPolicy(), 2000)
	require.NoError(t, err)
	require.False(t, rolledBack, "cooldown has not elapsed")
}
