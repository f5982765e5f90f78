package membership

import "sync"

// key identifies a (world_id, node_id) pair for map storage.
type key struct{ worldID, nodeID string }

// MemoryStore is an in-process implementation of RecoveryStore,
// DeadLetterStore, PolicyStore, PolicyAuditStore, RollbackAlertStore,
// RollbackGovernanceStore, and RollbackGovernanceAuditStore, useful for tests
// and single-process deployments.
type MemoryStore struct {
	mu sync.Mutex

	pending     map[key][]PendingAlert
	deadLetters map[key][]DeadLetterRecord
	policies    map[string]Policy
	adoptions   []PolicyAdoptionAudit
	alertState  map[string]RollbackAlertState
	govState    map[string]GovernanceState
	govAudits   []GovernanceTransitionAudit
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pending:     make(map[key][]PendingAlert),
		deadLetters: make(map[key][]DeadLetterRecord),
		policies:    make(map[string]Policy),
		alertState:  make(map[string]RollbackAlertState),
		govState:    make(map[string]GovernanceState),
	}
}

func (m *MemoryStore) LoadPending(worldID, nodeID string) ([]PendingAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PendingAlert(nil), m.pending[key{worldID, nodeID}]...), nil
}

func (m *MemoryStore) SavePending(worldID, nodeID string, pending []PendingAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[key{worldID, nodeID}] = append([]PendingAlert(nil), pending...)
	return nil
}

func (m *MemoryStore) LoadDeadLetters(worldID, nodeID string) ([]DeadLetterRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]DeadLetterRecord(nil), m.deadLetters[key{worldID, nodeID}]...), nil
}

func (m *MemoryStore) SaveDeadLetters(worldID, nodeID string, records []DeadLetterRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadLetters[key{worldID, nodeID}] = append([]DeadLetterRecord(nil), records...)
	return nil
}

func (m *MemoryStore) ActivePolicy(worldID string) (Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.policies[worldID], nil
}

func (m *MemoryStore) SetActivePolicy(worldID string, policy Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[worldID] = policy
	return nil
}

func (m *MemoryStore) AppendPolicyAdoption(record PolicyAdoptionAudit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adoptions = append(m.adoptions, record)
	return nil
}

func (m *MemoryStore) PolicyAdoptions() []PolicyAdoptionAudit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PolicyAdoptionAudit(nil), m.adoptions...)
}

func (m *MemoryStore) LoadRollbackAlertState(worldID string) (RollbackAlertState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alertState[worldID], nil
}

func (m *MemoryStore) SaveRollbackAlertState(worldID string, state RollbackAlertState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alertState[worldID] = state
	return nil
}

func (m *MemoryStore) LoadGovernanceState(worldID string) (GovernanceState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.govState[worldID], nil
}

func (m *MemoryStore) SaveGovernanceState(worldID string, state GovernanceState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.govState[worldID] = state
	return nil
}

func (m *MemoryStore) AppendGovernanceTransition(record GovernanceTransitionAudit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.govAudits = append(m.govAudits, record)
	return nil
}

func (m *MemoryStore) GovernanceTransitions() []GovernanceTransitionAudit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]GovernanceTransitionAudit(nil), m.govAudits...)
}
