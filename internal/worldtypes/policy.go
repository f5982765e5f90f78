package worldtypes

// DecisionKind is the outcome of evaluating a PolicySet against an intent.
type DecisionKind string

const (
	DecisionAllow DecisionKind = "allow"
	DecisionDeny  DecisionKind = "deny"
)

// Decision is the pure result of Gate.Decide (spec.md §4.2).
type Decision struct {
	Kind   DecisionKind `json:"kind"`
	Reason string       `json:"reason,omitempty"`
}

// PolicyPredicate is a minimal param-matching predicate over an intent's raw params.
// An empty predicate matches unconditionally.
type PolicyPredicate struct {
	ParamEquals map[string]string `json:"param_equals,omitempty"`
}

// PolicyRule maps an (intent_kind, params-predicate) to Allow or Deny(reason). Rules
// are evaluated in order; first match wins; default is Allow (spec.md §3).
type PolicyRule struct {
	IntentKind string          `json:"intent_kind"`
	Predicate  PolicyPredicate `json:"predicate"`
	Decision   Decision        `json:"decision"`
}

// PolicySet is an ordered list of rules.
type PolicySet struct {
	Rules []PolicyRule `json:"rules"`
}
