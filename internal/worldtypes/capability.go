package worldtypes

// CapabilityGrant authorizes a named capability to be used for a bounded set of
// effect kinds, optionally until an expiry tick (spec.md §3).
type CapabilityGrant struct {
	Name         string   `json:"name"`
	AllowedKinds []string `json:"allowed_kinds"`
	ExpiresAt    *Tick    `json:"expires_at,omitempty"`
}

// Allows reports whether this grant permits kind at the given time.
func (g CapabilityGrant) Allows(kind string, now Tick) bool {
	if g.ExpiresAt != nil && now >= *g.ExpiresAt {
		return false
	}
	for _, k := range g.AllowedKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// CapabilityStatus enumerates the three distinct failure kinds spec.md §4.2 requires,
// checked in order: presence, non-expiry, kind-membership.
type CapabilityStatus int

const (
	CapabilityOK CapabilityStatus = iota
	CapabilityMissing
	CapabilityExpired
	CapabilityNotAllowed
)

// CheckCapability evaluates a named grant from the given grant set against kind/now,
// in the order spec.md §4.2 mandates.
func CheckCapability(grants map[string]CapabilityGrant, capRef, kind string, now Tick) CapabilityStatus {
	grant, ok := grants[capRef]
	if !ok {
		return CapabilityMissing
	}
	if grant.ExpiresAt != nil && now >= *grant.ExpiresAt {
		return CapabilityExpired
	}
	for _, k := range grant.AllowedKinds {
		if k == kind {
			return CapabilityOK
		}
	}
	return CapabilityNotAllowed
}
