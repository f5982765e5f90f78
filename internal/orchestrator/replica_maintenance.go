package orchestrator

import (
	"sort"

	"worldsim/internal/replication"
)

// ProviderAnnouncer publishes "this node holds this content hash" to the
// wider replication network; a concrete implementation might be DHT-backed.
// Latency/uptime fields on a provider record are advisory (spec.md §9 open
// question (c)) and may be omitted without behavior change.
type ProviderAnnouncer interface {
	Announce(path string, hash replication.ContentHash)
}

// Repairer and Rebalancer are invoked, capped per round, when replica
// maintenance decides a path needs attention; concrete policies are wired at
// the orchestrator's construction site.
type Repairer interface {
	Repair(path string) error
}

type Rebalancer interface {
	Rebalance(path string) error
}

// replicaMaintenanceRound samples up to cfg.MaxContentHashSamplesPerRound
// paths from store, announces each, and runs up to the configured per-round
// caps of repairs/rebalances (spec.md §4.8 step 5). Sampling is deterministic
// (sorted path order) rather than random, so maintenance rounds are
// reproducible.
func replicaMaintenanceRound(store *replication.Store, cfg ReplicaMaintenanceConfig, announcer ProviderAnnouncer, repairer Repairer, rebalancer Rebalancer, needsRepair, needsRebalance func(path string) bool) error {
	paths := store.Paths()
	sort.Strings(paths)

	sampleCount := cfg.MaxContentHashSamplesPerRound
	if sampleCount > len(paths) {
		sampleCount = len(paths)
	}
	sampled := paths[:sampleCount]

	repairs, rebalances := 0, 0
	for _, path := range sampled {
		hash, ok := store.ResolvePath(path)
		if !ok {
			continue
		}
		if announcer != nil {
			announcer.Announce(path, hash)
		}
		if repairer != nil && repairs < cfg.MaxRepairsPerRound && needsRepair != nil && needsRepair(path) {
			if err := repairer.Repair(path); err != nil {
				return err
			}
			repairs++
		}
		if rebalancer != nil && rebalances < cfg.MaxRebalancesPerRound && needsRebalance != nil && needsRebalance(path) {
			if err := rebalancer.Rebalance(path); err != nil {
				return err
			}
			rebalances++
		}
	}
	return nil
}
