// Package policy implements the Policy & Capability Gate (C2): pure evaluation of
// whether a proposed effect intent is permitted given the current policy set, plus
// capability-grant presence/expiry/kind-membership checks (spec.md §4.2).
package policy

import (
	"encoding/json"

	"worldsim/internal/worldtypes"
)

// Gate evaluates intents against a PolicySet. It never reads state outside the
// intent plus the current policy set (spec.md §4.2).
type Gate struct {
	set worldtypes.PolicySet
}

func NewGate(set worldtypes.PolicySet) *Gate {
	return &Gate{set: set}
}

// SetPolicies replaces the active policy set (used when a governance proposal is applied).
func (g *Gate) SetPolicies(set worldtypes.PolicySet) {
	g.set = set
}

// Decide evaluates intent against the rule set in order; first match wins; default
// is Allow.
func (g *Gate) Decide(intent worldtypes.Intent) worldtypes.Decision {
	var params map[string]string
	if len(intent.Params) > 0 {
		_ = json.Unmarshal(intent.Params, &params)
	}
	for _, rule := range g.set.Rules {
		if rule.IntentKind != intent.Kind {
			continue
		}
		if !matches(rule.Predicate, params) {
			continue
		}
		return rule.Decision
	}
	return worldtypes.Decision{Kind: worldtypes.DecisionAllow}
}

func matches(pred worldtypes.PolicyPredicate, params map[string]string) bool {
	for k, v := range pred.ParamEquals {
		if params[k] != v {
			return false
		}
	}
	return true
}

// Allows enforces presence, non-expiry, then kind-membership, in that order
// (spec.md §4.2).
func Allows(grants map[string]worldtypes.CapabilityGrant, capRef, kind string, now worldtypes.Tick) worldtypes.CapabilityStatus {
	return worldtypes.CheckCapability(grants, capRef, kind, now)
}
