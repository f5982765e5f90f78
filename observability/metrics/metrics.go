// Package metrics exposes the node's Prometheus instrumentation, mirroring the
// teacher's sync.Once-guarded metric-group pattern (see the original potso metrics).
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// RuntimeMetrics instruments the World Runtime (C5) and WASM sandbox (C4).
type RuntimeMetrics struct {
	EventsJournaled   *prometheus.CounterVec
	ModuleCalls       *prometheus.CounterVec
	ModuleCallSeconds *prometheus.HistogramVec
	EffectsQueued     prometheus.Counter
	PolicyDenials     *prometheus.CounterVec
}

var (
	runtimeOnce sync.Once
	runtime     *RuntimeMetrics
)

func Runtime() *RuntimeMetrics {
	runtimeOnce.Do(func() {
		runtime = &RuntimeMetrics{
			EventsJournaled: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "worldsim_events_journaled_total",
				Help: "Count of journaled events by body kind.",
			}, []string{"kind"}),
			ModuleCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "worldsim_module_calls_total",
				Help: "Count of sandbox module invocations by module and outcome.",
			}, []string{"module_id", "outcome"}),
			ModuleCallSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "worldsim_module_call_seconds",
				Help:    "Wall-clock duration of sandbox module invocations.",
				Buckets: prometheus.DefBuckets,
			}, []string{"module_id"}),
			EffectsQueued: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "worldsim_effects_queued_total",
				Help: "Count of effect intents admitted into the pending queue.",
			}),
			PolicyDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "worldsim_policy_denials_total",
				Help: "Count of policy-denied intents by kind.",
			}, []string{"kind"}),
		}
		prometheus.MustRegister(
			runtime.EventsJournaled,
			runtime.ModuleCalls,
			runtime.ModuleCallSeconds,
			runtime.EffectsQueued,
			runtime.PolicyDenials,
		)
	})
	return runtime
}

// ConsensusMetrics instruments the PoS engine (C6) and orchestrator (C8).
type ConsensusMetrics struct {
	ProposalsAccepted *prometheus.CounterVec
	AttestationsSeen  *prometheus.CounterVec
	SlashableVotes    *prometheus.CounterVec
	CommittedHeight   *prometheus.GaugeVec
}

var (
	consensusOnce sync.Once
	consensus     *ConsensusMetrics
)

func Consensus() *ConsensusMetrics {
	consensusOnce.Do(func() {
		consensus = &ConsensusMetrics{
			ProposalsAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "worldsim_pos_proposals_total",
				Help: "Count of accepted block proposals by world.",
			}, []string{"world_id"}),
			AttestationsSeen: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "worldsim_pos_attestations_total",
				Help: "Count of attestations processed by world and decision.",
			}, []string{"world_id", "approve"}),
			SlashableVotes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "worldsim_pos_slashable_votes_total",
				Help: "Count of rejected slashable attestations by kind.",
			}, []string{"world_id", "kind"}),
			CommittedHeight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "worldsim_pos_committed_height",
				Help: "Latest committed block height per world.",
			}, []string{"world_id"}),
		}
		prometheus.MustRegister(
			consensus.ProposalsAccepted,
			consensus.AttestationsSeen,
			consensus.SlashableVotes,
			consensus.CommittedHeight,
		)
	})
	return consensus
}

// MembershipMetrics instruments the revocation recovery pipeline (C9).
type MembershipMetrics struct {
	AlertsAttempted *prometheus.CounterVec
	AlertsSucceeded *prometheus.CounterVec
	AlertsFailed    *prometheus.CounterVec
	DeadLettered    *prometheus.CounterVec
	RollbacksTotal  *prometheus.CounterVec
	GovernanceLevel *prometheus.GaugeVec
}

var (
	membershipOnce sync.Once
	membership     *MembershipMetrics
)

func Membership() *MembershipMetrics {
	membershipOnce.Do(func() {
		membership = &MembershipMetrics{
			AlertsAttempted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "worldsim_revocation_alerts_attempted_total",
				Help: "Count of revocation alert delivery attempts.",
			}, []string{"world_id"}),
			AlertsSucceeded: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "worldsim_revocation_alerts_succeeded_total",
				Help: "Count of successfully delivered revocation alerts.",
			}, []string{"world_id"}),
			AlertsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "worldsim_revocation_alerts_failed_total",
				Help: "Count of failed revocation alert delivery attempts.",
			}, []string{"world_id"}),
			DeadLettered: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "worldsim_revocation_dead_lettered_total",
				Help: "Count of alerts archived to the dead-letter store by reason.",
			}, []string{"world_id", "reason"}),
			RollbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "worldsim_revocation_rollbacks_total",
				Help: "Count of replay-policy rollbacks triggered by the rollback guard.",
			}, []string{"world_id"}),
			GovernanceLevel: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "worldsim_revocation_governance_level",
				Help: "Current rollback governance level (0=Normal,1=Stable,2=Emergency).",
			}, []string{"world_id"}),
		}
		prometheus.MustRegister(
			membership.AlertsAttempted,
			membership.AlertsSucceeded,
			membership.AlertsFailed,
			membership.DeadLettered,
			membership.RollbacksTotal,
			membership.GovernanceLevel,
		)
	})
	return membership
}
