package membership

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketPending    = []byte("pending")
	bucketDeadLetter = []byte("dead_letters")
	bucketPolicies   = []byte("policies")
	bucketAdoptions  = []byte("policy_adoptions")
	bucketAlertState = []byte("rollback_alert_state")
	bucketGovState   = []byte("rollback_governance_state")
	bucketGovAudits  = []byte("rollback_governance_audits")
)

// BoltStore is the filesystem-backed implementation of every membership
// store interface, round-tripping identical records across restarts
// (spec.md §4.9 "Audit append-only stores... filesystem implementations
// round-trip identical records").
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (creating if absent) a BoltDB file at path with every
// bucket this package needs.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("membership: open bolt store: %w", err)
	}
	buckets := [][]byte{bucketPending, bucketDeadLetter, bucketPolicies, bucketAdoptions, bucketAlertState, bucketGovState, bucketGovAudits}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, b := range buckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("membership: init buckets: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

func pairKey(worldID, nodeID string) []byte {
	return []byte(worldID + "::" + nodeID)
}

func (s *BoltStore) LoadPending(worldID, nodeID string) ([]PendingAlert, error) {
	var out []PendingAlert
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketPending).Get(pairKey(worldID, nodeID))
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, &out)
	})
	return out, err
}

func (s *BoltStore) SavePending(worldID, nodeID string, pending []PendingAlert) error {
	data, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("membership: marshal pending: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPending).Put(pairKey(worldID, nodeID), data)
	})
}

func (s *BoltStore) LoadDeadLetters(worldID, nodeID string) ([]DeadLetterRecord, error) {
	var out []DeadLetterRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketDeadLetter).Get(pairKey(worldID, nodeID))
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, &out)
	})
	return out, err
}

func (s *BoltStore) SaveDeadLetters(worldID, nodeID string, records []DeadLetterRecord) error {
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("membership: marshal dead letters: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDeadLetter).Put(pairKey(worldID, nodeID), data)
	})
}

func (s *BoltStore) ActivePolicy(worldID string) (Policy, error) {
	var p Policy
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketPolicies).Get([]byte(worldID))
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, &p)
	})
	return p, err
}

func (s *BoltStore) SetActivePolicy(worldID string, policy Policy) error {
	data, err := json.Marshal(policy)
	if err != nil {
		return fmt.Errorf("membership: marshal policy: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPolicies).Put([]byte(worldID), data)
	})
}

func (s *BoltStore) AppendPolicyAdoption(record PolicyAdoptionAudit) error {
	return s.appendAudit(bucketAdoptions, record)
}

func (s *BoltStore) LoadRollbackAlertState(worldID string) (RollbackAlertState, error) {
	var st RollbackAlertState
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketAlertState).Get([]byte(worldID))
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, &st)
	})
	return st, err
}

func (s *BoltStore) SaveRollbackAlertState(worldID string, state RollbackAlertState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("membership: marshal alert state: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAlertState).Put([]byte(worldID), data)
	})
}

func (s *BoltStore) LoadGovernanceState(worldID string) (GovernanceState, error) {
	var st GovernanceState
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketGovState).Get([]byte(worldID))
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, &st)
	})
	return st, err
}

func (s *BoltStore) SaveGovernanceState(worldID string, state GovernanceState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("membership: marshal governance state: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketGovState).Put([]byte(worldID), data)
	})
}

func (s *BoltStore) AppendGovernanceTransition(record GovernanceTransitionAudit) error {
	return s.appendAudit(bucketGovAudits, record)
}

// appendAudit appends record under a new key derived from the bucket's next
// sequence number, preserving append-only, immutable semantics: existing
// keys are never overwritten.
func (s *BoltStore) appendAudit(bucket []byte, record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("membership: marshal audit record: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put([]byte(fmt.Sprintf("%020d", seq)), data)
	})
}

// LoadPolicyAdoptions returns every recorded policy adoption in append order.
func (s *BoltStore) LoadPolicyAdoptions() ([]PolicyAdoptionAudit, error) {
	var out []PolicyAdoptionAudit
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAdoptions).ForEach(func(_, v []byte) error {
			var rec PolicyAdoptionAudit
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}

// LoadGovernanceTransitions returns every recorded transition in append order.
func (s *BoltStore) LoadGovernanceTransitions() ([]GovernanceTransitionAudit, error) {
	var out []GovernanceTransitionAudit
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketGovAudits).ForEach(func(_, v []byte) error {
			var rec GovernanceTransitionAudit
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}
