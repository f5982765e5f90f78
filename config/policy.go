package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"worldsim/internal/membership"
)

// RevocationPolicyDocument is the on-disk YAML form of a membership.Policy,
// matching the teacher's use of YAML for small seed/policy documents under
// ops/seeds.
type RevocationPolicyDocument struct {
	MaxPendingAlerts int   `yaml:"max_pending_alerts"`
	MaxRetryAttempts int   `yaml:"max_retry_attempts"`
	RetryBackoffMs   int64 `yaml:"retry_backoff_ms"`
}

func (d RevocationPolicyDocument) toPolicy() membership.Policy {
	return membership.Policy{
		MaxPendingAlerts: d.MaxPendingAlerts,
		MaxRetryAttempts: d.MaxRetryAttempts,
		RetryBackoffMs:   d.RetryBackoffMs,
	}
}

// LoadRevocationPolicy reads and validates a membership.Policy from a YAML
// file at path.
func LoadRevocationPolicy(path string) (membership.Policy, error) {
	var doc RevocationPolicyDocument
	data, err := os.ReadFile(path)
	if err != nil {
		return membership.Policy{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return membership.Policy{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	policy := doc.toPolicy()
	if err := policy.Validate(); err != nil {
		return membership.Policy{}, err
	}
	return policy, nil
}

// RollbackGovernancePolicyDocument is the on-disk YAML form of a
// membership.RollbackGuard plus membership.EscalationPolicy, bundled the way
// the teacher's governance policy documents bundle threshold and escalation
// knobs in one seed file.
type RollbackGovernancePolicyDocument struct {
	Guard struct {
		MinAttempted            uint64 `yaml:"min_attempted"`
		FailureRatioPerMille    uint64 `yaml:"failure_ratio_per_mille"`
		DeadLetterRatioPerMille uint64 `yaml:"dead_letter_ratio_per_mille"`
		RollbackCooldownMs      int64  `yaml:"rollback_cooldown_ms"`
		RollbackWindowMs        int64  `yaml:"rollback_window_ms"`
		AlertCooldownMs         int64  `yaml:"alert_cooldown_ms"`
	} `yaml:"guard"`
	Escalation struct {
		LevelOneRollbackStreak int                      `yaml:"level_one_rollback_streak"`
		LevelTwoRollbackStreak int                      `yaml:"level_two_rollback_streak"`
		LevelTwoEmergencyPolicy RevocationPolicyDocument `yaml:"level_two_emergency_policy"`
	} `yaml:"escalation"`
	StablePolicy RevocationPolicyDocument `yaml:"stable_policy"`
}

// LoadRollbackGovernancePolicy reads a membership.RollbackGuard and
// membership.EscalationPolicy pair, plus the stable replay policy to roll
// back to, from a YAML file at path.
func LoadRollbackGovernancePolicy(path string) (membership.RollbackGuard, membership.EscalationPolicy, membership.Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return membership.RollbackGuard{}, membership.EscalationPolicy{}, membership.Policy{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var doc RollbackGovernancePolicyDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return membership.RollbackGuard{}, membership.EscalationPolicy{}, membership.Policy{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	guard := membership.RollbackGuard{
		MinAttempted:            doc.Guard.MinAttempted,
		FailureRatioPerMille:    doc.Guard.FailureRatioPerMille,
		DeadLetterRatioPerMille: doc.Guard.DeadLetterRatioPerMille,
		RollbackCooldownMs:      doc.Guard.RollbackCooldownMs,
		RollbackWindowMs:        doc.Guard.RollbackWindowMs,
		AlertCooldownMs:         doc.Guard.AlertCooldownMs,
	}
	escalation := membership.EscalationPolicy{
		LevelOneRollbackStreak:  doc.Escalation.LevelOneRollbackStreak,
		LevelTwoRollbackStreak:  doc.Escalation.LevelTwoRollbackStreak,
		LevelTwoEmergencyPolicy: doc.Escalation.LevelTwoEmergencyPolicy.toPolicy(),
	}
	stable := doc.StablePolicy.toPolicy()
	if err := stable.Validate(); err != nil {
		return membership.RollbackGuard{}, membership.EscalationPolicy{}, membership.Policy{}, err
	}
	return guard, escalation, stable, nil
}
