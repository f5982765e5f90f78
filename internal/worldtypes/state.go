package worldtypes

// ResourceStock is a non-negative material ledger balance. Refusal on would-be
// negative balances is reported by callers, never silently clamped (spec.md §3).
type ResourceStock struct {
	Amounts map[string]uint64 `json:"amounts"`
}

func NewResourceStock() ResourceStock {
	return ResourceStock{Amounts: make(map[string]uint64)}
}

// Credit increases the named resource; Debit reports ErrInsufficientStock instead of
// letting the balance go negative.
func (r *ResourceStock) Credit(name string, amount uint64) {
	if r.Amounts == nil {
		r.Amounts = make(map[string]uint64)
	}
	r.Amounts[name] += amount
}

func (r *ResourceStock) Debit(name string, amount uint64) error {
	have := r.Amounts[name]
	if have < amount {
		return ErrInsufficientStock
	}
	r.Amounts[name] = have - amount
	return nil
}

// KinematicState tracks an agent's position and in-flight movement.
type KinematicState struct {
	Pos              [2]float64  `json:"pos"`
	Speed            float64     `json:"speed"`
	MoveTargetLocID  *LocationID `json:"move_target_location_id,omitempty"`
	MoveETA          *Tick       `json:"move_eta,omitempty"`
}

// ThermalState and PowerState are opaque scalar gameplay fields the core carries but
// does not interpret.
type ThermalState struct {
	TemperatureMilliK int64 `json:"temperature_milli_k"`
}

type PowerState struct {
	StoredWh     uint64 `json:"stored_wh"`
	GenerationWh uint64 `json:"generation_wh"`
}

// MailboxEvent is an opaque domain event queued for an agent's scheduler mailbox.
type MailboxEvent struct {
	Kind    string `json:"kind"`
	Payload []byte `json:"payload,omitempty"`
}

// AgentCell is the per-agent state-machine record (spec.md §3).
type AgentCell struct {
	Stock        ResourceStock  `json:"stock"`
	Mailbox      []MailboxEvent `json:"mailbox"`
	Kinematics   KinematicState `json:"kinematics"`
	Thermal      ThermalState   `json:"thermal"`
	Power        PowerState     `json:"power"`
	LastActive   Tick           `json:"last_active"`
}

// Location is a geo-positioned world feature.
type Location struct {
	Pos                  [2]float64 `json:"pos"`
	RadiationEmissionRate float64   `json:"radiation_emission_rate"`
	MinedCompoundCount   *uint64    `json:"mined_compound_count,omitempty"`
}

// Factory carries a bounded durability counter, in parts-per-million.
type Factory struct {
	DurabilityPPM uint32 `json:"durability_ppm"`
}

// Valid reports whether DurabilityPPM is within [0, 1_000_000]; callers must reject
// an invalid value rather than clamp it (spec.md §3 invariant).
func (f Factory) Valid() bool {
	return f.DurabilityPPM <= 1_000_000
}

// State is the full deterministic, serializable World state (spec.md §3).
type State struct {
	Time            Tick                   `json:"time"`
	Agents          *OrderedMap[AgentCell] `json:"agents"`
	Locations       *OrderedMap[Location]  `json:"locations"`
	Factories       *OrderedMap[Factory]   `json:"factories"`
	ModuleStates    *OrderedMap[[]byte]    `json:"module_states"`
	SchedulerCursor string                 `json:"scheduler_cursor"`
}

func NewState() *State {
	return &State{
		Agents:       NewOrderedMap[AgentCell](),
		Locations:    NewOrderedMap[Location](),
		Factories:    NewOrderedMap[Factory](),
		ModuleStates: NewOrderedMap[[]byte](),
	}
}

// Clone returns a deep-enough copy for snapshotting: each agent cell and location is
// copied by value (slices within are re-sliced defensively for the mailbox only,
// matching the teacher's copy-on-snapshot idiom in storage/trie snapshots).
func (s *State) Clone() *State {
	out := NewState()
	out.Time = s.Time
	out.SchedulerCursor = s.SchedulerCursor
	s.Agents.Range(func(k string, v AgentCell) bool {
		cloned := v
		cloned.Mailbox = append([]MailboxEvent(nil), v.Mailbox...)
		out.Agents.Set(k, cloned)
		return true
	})
	s.Locations.Range(func(k string, v Location) bool {
		out.Locations.Set(k, v)
		return true
	})
	s.Factories.Range(func(k string, v Factory) bool {
		out.Factories.Set(k, v)
		return true
	})
	s.ModuleStates.Range(func(k string, v []byte) bool {
		out.ModuleStates.Set(k, append([]byte(nil), v...))
		return true
	})
	return out
}
