package membership

// RollbackGuard defines the thresholds that decide whether recent delivery
// metrics warrant rolling the active replay policy back to the last stable
// one (spec.md §4.9 "Rollback guard and governance").
type RollbackGuard struct {
	MinAttempted           uint64
	FailureRatioPerMille   uint64
	DeadLetterRatioPerMille uint64
	RollbackCooldownMs     int64
	RollbackWindowMs       int64
	AlertCooldownMs        int64
}

// EscalationPolicy names the rollback-streak thresholds and the emergency
// policy override applied once the second threshold is reached.
type EscalationPolicy struct {
	LevelOneRollbackStreak int
	LevelTwoRollbackStreak int
	LevelTwoEmergencyPolicy Policy
}

// RollbackGovernor evaluates delivery metrics against a RollbackGuard each
// cycle, rolling back the active policy and escalating governance level on
// repeated rollbacks (spec.md §4.9).
type RollbackGovernor struct {
	guard      RollbackGuard
	escalation EscalationPolicy

	policies  PolicyStore
	audits    PolicyAuditStore
	alerts    RollbackAlertStore
	governance RollbackGovernanceStore
	govAudits GovernanceTransitionAuditAppender
}

// GovernanceTransitionAuditAppender is satisfied by RollbackGovernanceAuditStore;
// named separately so callers can pass the same store for both roles.
type GovernanceTransitionAuditAppender interface {
	AppendGovernanceTransition(record GovernanceTransitionAudit) error
}

func NewRollbackGovernor(guard RollbackGuard, escalation EscalationPolicy, policies PolicyStore, audits PolicyAuditStore, alerts RollbackAlertStore, governance RollbackGovernanceStore, govAudits GovernanceTransitionAuditAppender) *RollbackGovernor {
	return &RollbackGovernor{
		guard: guard, escalation: escalation,
		policies: policies, audits: audits, alerts: alerts, governance: governance, govAudits: govAudits,
	}
}

// Evaluate checks metrics against the guard thresholds; if they trip and the
// cooldown has elapsed, it rolls back to stablePolicy, records the
// transition, and returns whether a rollback occurred.
func (g *RollbackGovernor) Evaluate(worldID string, metrics DeliveryMetrics, stablePolicy Policy, nowMs int64) (rolledBack bool, err error) {
	if metrics.Attempted < g.guard.MinAttempted {
		return false, nil
	}

	failurePerMille := ratioPerMille(metrics.Failed, metrics.Attempted)
	deadLetterPerMille := ratioPerMille(metrics.DeadLettered, metrics.Attempted)
	if failurePerMille < g.guard.FailureRatioPerMille && deadLetterPerMille < g.guard.DeadLetterRatioPerMille {
		return false, nil
	}

	alertState, err := g.alerts.LoadRollbackAlertState(worldID)
	if err != nil {
		return false, err
	}

	if alertState.LastRollbackAtMs != 0 && nowMs-alertState.LastRollbackAtMs < g.guard.RollbackCooldownMs {
		return false, nil
	}

	if alertState.WindowStartAtMs == 0 || nowMs-alertState.WindowStartAtMs > g.guard.RollbackWindowMs {
		alertState.WindowStartAtMs = nowMs
		alertState.RollbacksInWindow = 0
	}
	alertState.LastRollbackAtMs = nowMs

	govState, err := g.governance.LoadGovernanceState(worldID)
	if err != nil {
		return false, err
	}

	if err := g.policies.SetActivePolicy(worldID, stablePolicy); err != nil {
		return false, err
	}
	if err := g.audits.AppendPolicyAdoption(PolicyAdoptionAudit{WorldID: worldID, Policy: stablePolicy, Reason: "rollback_guard_triggered", AtMs: nowMs}); err != nil {
		return false, err
	}

	alertState.RollbacksInWindow++
	if alertState.LastAlertAtMs == 0 || nowMs-alertState.LastAlertAtMs >= g.guard.AlertCooldownMs {
		alertState.LastAlertAtMs = nowMs
	}
	if err := g.alerts.SaveRollbackAlertState(worldID, alertState); err != nil {
		return false, err
	}

	if err := g.escalate(worldID, govState, nowMs); err != nil {
		return false, err
	}
	return true, nil
}

func ratioPerMille(numerator, denominator uint64) uint64 {
	if denominator == 0 {
		return 0
	}
	return numerator * 1000 / denominator
}

// escalate advances the governance streak/level per spec.md §4.9: reaching
// level_one moves to Stable; reaching level_two moves to Emergency and
// overrides the active policy to level_two_emergency_policy. Every
// transition appends one immutable audit record.
func (g *RollbackGovernor) escalate(worldID string, state GovernanceState, nowMs int64) error {
	from := state.LastLevel
	if from == "" {
		from = LevelNormal
	}
	state.RollbackStreak++

	to := from
	switch {
	case state.RollbackStreak >= g.escalation.LevelTwoRollbackStreak:
		to = LevelEmergency
	case state.RollbackStreak >= g.escalation.LevelOneRollbackStreak:
		to = LevelStable
	}

	if to != from {
		state.LastLevel = to
		state.LastLevelUpdatedAtMs = nowMs
		if err := g.governance.SaveGovernanceState(worldID, state); err != nil {
			return err
		}
		if err := g.govAudits.AppendGovernanceTransition(GovernanceTransitionAudit{
			WorldID: worldID, From: from, To: to, Streak: state.RollbackStreak, AtMs: nowMs,
		}); err != nil {
			return err
		}
		if to == LevelEmergency {
			if err := g.policies.SetActivePolicy(worldID, g.escalation.LevelTwoEmergencyPolicy); err != nil {
				return err
			}
			if err := g.audits.AppendPolicyAdoption(PolicyAdoptionAudit{
				WorldID: worldID, Policy: g.escalation.LevelTwoEmergencyPolicy, Reason: "emergency_escalation", AtMs: nowMs,
			}); err != nil {
				return err
			}
		}
		return nil
	}

	return g.governance.SaveGovernanceState(worldID, state)
}
