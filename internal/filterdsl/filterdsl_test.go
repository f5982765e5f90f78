package filterdsl

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustCompile(t *testing.T, raw string) *Filter {
	t.Helper()
	var f Filter
	require.NoError(t, json.Unmarshal([]byte(raw), &f))
	compiled, err := Compile(f)
	require.NoError(t, err)
	return compiled
}

func TestCompileRejectsMultipleOperators(t *testing.T) {
	var f Filter
	require.NoError(t, json.Unmarshal([]byte(`{"event":[{"path":"/kind","eq":"a","ne":"b"}]}`), &f))
	_, err := Compile(f)
	require.Error(t, err)
}

func TestCompileRejectsInvalidRegex(t *testing.T) {
	var f Filter
	require.NoError(t, json.Unmarshal([]byte(`{"event":[{"path":"/kind","re":"("}]}`), &f))
	_, err := Compile(f)
	require.Error(t, err)
}

func TestFlatRulesetIsImplicitAll(t *testing.T) {
	f := mustCompile(t, `{"event":[{"path":"/kind","eq":"mined"},{"path":"/amount","gte":10}]}`)
	require.True(t, f.MatchEvent(map[string]any{"kind": "mined", "amount": 12.0}))
	require.False(t, f.MatchEvent(map[string]any{"kind": "mined", "amount": 5.0}))
}

func TestAnyRuleset(t *testing.T) {
	f := mustCompile(t, `{"action":{"any":[{"path":"/kind","eq":"move"},{"path":"/kind","eq":"mine"}]}}`)
	require.True(t, f.MatchAction(map[string]any{"kind": "move"}))
	require.True(t, f.MatchAction(map[string]any{"kind": "mine"}))
	require.False(t, f.MatchAction(map[string]any{"kind": "idle"}))
}

func TestRegexOperator(t *testing.T) {
	f := mustCompile(t, `{"event":[{"path":"/kind","re":"^agent-.*"}]}`)
	require.True(t, f.MatchEvent(map[string]any{"kind": "agent-spawned"}))
	require.False(t, f.MatchEvent(map[string]any{"kind": "world-tick"}))
}

func TestJSONPointerEscapes(t *testing.T) {
	f := mustCompile(t, `{"event":[{"path":"/a~1b","eq":"x"}]}`)
	require.True(t, f.MatchEvent(map[string]any{"a/b": "x"}))
}

func TestNilRulesetMatchesNothing(t *testing.T) {
	f := &Filter{}
	require.False(t, f.MatchEvent(map[string]any{"kind": "anything"}))
	require.False(t, f.MatchAction(map[string]any{"kind": "anything"}))
}
