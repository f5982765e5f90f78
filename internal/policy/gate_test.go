package policy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"worldsim/internal/worldtypes"
)

func TestGateDefaultAllow(t *testing.T) {
	g := NewGate(worldtypes.PolicySet{})
	d := g.Decide(worldtypes.Intent{Kind: "move"})
	require.Equal(t, worldtypes.DecisionAllow, d.Kind)
}

func TestGateFirstMatchWins(t *testing.T) {
	set := worldtypes.PolicySet{Rules: []worldtypes.PolicyRule{
		{IntentKind: "mine", Decision: worldtypes.Decision{Kind: worldtypes.DecisionDeny, Reason: "embargo"}},
		{IntentKind: "mine", Decision: worldtypes.Decision{Kind: worldtypes.DecisionAllow}},
	}}
	g := NewGate(set)
	d := g.Decide(worldtypes.Intent{Kind: "mine"})
	require.Equal(t, worldtypes.DecisionDeny, d.Kind)
	require.Equal(t, "embargo", d.Reason)
}

func TestAllowsCapabilityOrder(t *testing.T) {
	now := worldtypes.Tick(10)
	grants := map[string]worldtypes.CapabilityGrant{}
	require.Equal(t, worldtypes.CapabilityMissing, Allows(grants, "cap1", "move", now))

	expired := worldtypes.Tick(5)
	grants["cap1"] = worldtypes.CapabilityGrant{Name: "cap1", AllowedKinds: []string{"move"}, ExpiresAt: &expired}
	require.Equal(t, worldtypes.CapabilityExpired, Allows(grants, "cap1", "move", now))

	future := worldtypes.Tick(100)
	grants["cap1"] = worldtypes.CapabilityGrant{Name: "cap1", AllowedKinds: []string{"move"}, ExpiresAt: &future}
	require.Equal(t, worldtypes.CapabilityNotAllowed, Allows(grants, "cap1", "mine", now))
	require.Equal(t, worldtypes.CapabilityOK, Allows(grants, "cap1", "move", now))
}
