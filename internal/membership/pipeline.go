package membership

import "sort"

// Pipeline runs one atomic revocation-reconciliation cycle per call,
// partitioning pending alerts, delivering ready ones, accepting newly
// reconciled alerts, and enforcing capacity (spec.md §4.9 steps 1-4).
type Pipeline struct {
	policy  Policy
	sink    AlertSink
	pending RecoveryStore
	dead    DeadLetterStore
}

func NewPipeline(policy Policy, sink AlertSink, pending RecoveryStore, dead DeadLetterStore) (*Pipeline, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Pipeline{policy: policy, sink: sink, pending: pending, dead: dead}, nil
}

// Run executes one cycle for (worldID, nodeID): partition pending, emit
// ready items, emit newAlerts, then enforce capacity (spec.md §4.9).
func (p *Pipeline) Run(worldID, nodeID string, nowMs int64, newAlerts []Alert) (DeliveryMetrics, error) {
	var metrics DeliveryMetrics

	pending, err := p.pending.LoadPending(worldID, nodeID)
	if err != nil {
		return metrics, err
	}
	deadLetters, err := p.dead.LoadDeadLetters(worldID, nodeID)
	if err != nil {
		return metrics, err
	}
	nextIndex := len(deadLetters)

	ready, deferred, deadLetters, nextIndex, err := p.partitionPending(worldID, nodeID, pending, deadLetters, nextIndex, nowMs, &metrics)
	if err != nil {
		return metrics, err
	}

	transportFailed := false
	delivered := make([]PendingAlert, 0, len(ready))
	for _, item := range ready {
		if transportFailed {
			deferred = append(deferred, item)
			continue
		}
		if err := p.attemptDeliver(item.Alert, &metrics); err != nil {
			transportFailed = true
			item.Attempt++
			item.NextRetryAtMs = nowMs + p.policy.RetryBackoffMs
			item.LastError = err.Error()
			if item.Attempt >= p.policy.MaxRetryAttempts {
				deadLetters = append(deadLetters, p.archive(worldID, nodeID, item, ReasonRetryLimitExceeded, nowMs, nextIndex))
				nextIndex++
				if err := metrics.addDeadLettered(1); err != nil {
					return metrics, err
				}
			} else {
				deferred = append(deferred, item)
			}
			continue
		}
		delivered = append(delivered, item)
	}

	for _, alert := range newAlerts {
		item := PendingAlert{Alert: alert}
		if transportFailed {
			deferred = append(deferred, item)
			continue
		}
		if err := p.attemptDeliver(alert, &metrics); err != nil {
			transportFailed = true
			item.Attempt = 1
			item.NextRetryAtMs = nowMs + p.policy.RetryBackoffMs
			item.LastError = err.Error()
			if item.Attempt >= p.policy.MaxRetryAttempts {
				deadLetters = append(deadLetters, p.archive(worldID, nodeID, item, ReasonRetryLimitExceeded, nowMs, nextIndex))
				nextIndex++
				if err := metrics.addDeadLettered(1); err != nil {
					return metrics, err
				}
			} else {
				deferred = append(deferred, item)
			}
			continue
		}
	}

	buffered := deferred
	if p.policy.MaxPendingAlerts > 0 && len(buffered) > p.policy.MaxPendingAlerts {
		overflow := buffered[p.policy.MaxPendingAlerts:]
		buffered = buffered[:p.policy.MaxPendingAlerts]
		for _, item := range overflow {
			deadLetters = append(deadLetters, p.archive(worldID, nodeID, item, ReasonCapacityEvicted, nowMs, nextIndex))
			nextIndex++
			if err := metrics.addDeadLettered(1); err != nil {
				return metrics, err
			}
		}
	}

	if err := p.pending.SavePending(worldID, nodeID, buffered); err != nil {
		return metrics, err
	}
	if err := p.dead.SaveDeadLetters(worldID, nodeID, deadLetters); err != nil {
		return metrics, err
	}
	return metrics, nil
}

// partitionPending separates each pending item into ready-for-this-cycle or
// deferred, archiving any already past its retry limit (spec.md §4.9 step 1).
func (p *Pipeline) partitionPending(worldID, nodeID string, pending []PendingAlert, deadLetters []DeadLetterRecord, nextIndex int, nowMs int64, metrics *DeliveryMetrics) (ready, deferred []PendingAlert, outDead []DeadLetterRecord, outNextIndex int, err error) {
	for _, item := range pending {
		if item.Attempt >= p.policy.MaxRetryAttempts {
			deadLetters = append(deadLetters, p.archive(worldID, nodeID, item, ReasonRetryLimitExceeded, nowMs, nextIndex))
			nextIndex++
			if err := metrics.addDeadLettered(1); err != nil {
				return nil, nil, nil, 0, err
			}
			continue
		}
		if item.NextRetryAtMs > nowMs {
			deferred = append(deferred, item)
			continue
		}
		ready = append(ready, item)
	}
	return ready, deferred, deadLetters, nextIndex, nil
}

func (p *Pipeline) attemptDeliver(alert Alert, metrics *DeliveryMetrics) error {
	if err := metrics.addAttempted(1); err != nil {
		return err
	}
	if err := p.sink.Deliver(alert); err != nil {
		if ferr := metrics.addFailed(1); ferr != nil {
			return ferr
		}
		return err
	}
	return metrics.addSucceeded(1)
}

func (p *Pipeline) archive(worldID, nodeID string, item PendingAlert, reason DropReason, nowMs int64, index int) DeadLetterRecord {
	return DeadLetterRecord{
		WorldID:       worldID,
		NodeID:        nodeID,
		DroppedAtMs:   nowMs,
		Reason:        reason,
		PendingAlert:  item,
		OriginalIndex: index,
	}
}

// Replay sorts dead-letters by priority (reason DESC, attempt DESC,
// dropped_at_ms ASC, original_index ASC), moves the top min(len, maxReplay)
// back into the pending queue, and rewrites the dead-letter store with the
// remainder (spec.md §4.9 "Dead-letter replay").
func (p *Pipeline) Replay(worldID, nodeID string, maxReplay int) (replayed int, err error) {
	deadLetters, err := p.dead.LoadDeadLetters(worldID, nodeID)
	if err != nil {
		return 0, err
	}
	sort.SliceStable(deadLetters, func(i, j int) bool {
		a, b := deadLetters[i], deadLetters[j]
		if a.Reason.priority() != b.Reason.priority() {
			return a.Reason.priority() > b.Reason.priority()
		}
		if a.PendingAlert.Attempt != b.PendingAlert.Attempt {
			return a.PendingAlert.Attempt > b.PendingAlert.Attempt
		}
		if a.DroppedAtMs != b.DroppedAtMs {
			return a.DroppedAtMs < b.DroppedAtMs
		}
		return a.OriginalIndex < b.OriginalIndex
	})

	n := maxReplay
	if n > len(deadLetters) {
		n = len(deadLetters)
	}
	toReplay, remainder := deadLetters[:n], deadLetters[n:]

	pending, err := p.pending.LoadPending(worldID, nodeID)
	if err != nil {
		return 0, err
	}
	for _, dl := range toReplay {
		pending = append(pending, dl.PendingAlert)
	}
	if err := p.pending.SavePending(worldID, nodeID, pending); err != nil {
		return 0, err
	}
	if err := p.dead.SaveDeadLetters(worldID, nodeID, remainder); err != nil {
		return 0, err
	}
	return len(toReplay), nil
}
