// Package filterdsl implements the subscription filter DSL of spec.md §4.5: a
// small JSON-pointer-addressed predicate language used to decide whether a
// journaled event or submitted action matches a module's subscription.
package filterdsl

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalidFilter is returned by Compile when a filter document is malformed.
var ErrInvalidFilter = errors.New("filterdsl: invalid filter")

// Filter is the top-level subscription filter document: {event?: Ruleset, action?: Ruleset}.
type Filter struct {
	Event  *Ruleset `json:"event,omitempty"`
	Action *Ruleset `json:"action,omitempty"`
}

// Ruleset is either a flat list of rules (implicit "all") or an explicit {all, any}.
type Ruleset struct {
	Rules []Rule   `json:"-"`
	All   []Rule   `json:"all,omitempty"`
	Any   []Rule   `json:"any,omitempty"`
	flat  bool
}

// Rule matches a single JSON-pointer path against exactly one comparison operator.
type Rule struct {
	Path string   `json:"path"`
	Eq   *Literal `json:"eq,omitempty"`
	Ne   *Literal `json:"ne,omitempty"`
	Gt   *float64 `json:"gt,omitempty"`
	Gte  *float64 `json:"gte,omitempty"`
	Lt   *float64 `json:"lt,omitempty"`
	Lte  *float64 `json:"lte,omitempty"`
	Re   *string  `json:"re,omitempty"`

	compiledRe *regexp.Regexp
}

// Literal is a JSON scalar compared for equality/inequality.
type Literal struct {
	raw json.RawMessage
}

func (l *Literal) UnmarshalJSON(data []byte) error {
	l.raw = append(json.RawMessage(nil), data...)
	return nil
}

func (l Literal) MarshalJSON() ([]byte, error) {
	if l.raw == nil {
		return []byte("null"), nil
	}
	return l.raw, nil
}

func (l Literal) equals(other any) bool {
	var lv any
	if err := json.Unmarshal(l.raw, &lv); err != nil {
		return false
	}
	rv, err := json.Marshal(other)
	if err != nil {
		return false
	}
	var rvDecoded any
	if err := json.Unmarshal(rv, &rvDecoded); err != nil {
		return false
	}
	lb, _ := json.Marshal(lv)
	rb, _ := json.Marshal(rvDecoded)
	return string(lb) == string(rb)
}

// UnmarshalJSON accepts either a bare array (flat "all") or an {all, any} object.
func (r *Ruleset) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var rules []Rule
		if err := json.Unmarshal(data, &rules); err != nil {
			return err
		}
		r.Rules = rules
		r.flat = true
		return nil
	}
	type alias Ruleset
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*r = Ruleset(a)
	return nil
}

func (r Ruleset) MarshalJSON() ([]byte, error) {
	if r.flat {
		return json.Marshal(r.Rules)
	}
	type alias Ruleset
	return json.Marshal(alias{All: r.All, Any: r.Any})
}

// Compile validates filter document f, rejecting malformed regexes and
// operator combinations per spec.md §4.5, and returns a ready-to-evaluate filter.
func Compile(f Filter) (*Filter, error) {
	if f.Event != nil {
		if err := compileRuleset(f.Event); err != nil {
			return nil, fmt.Errorf("%w: event: %v", ErrInvalidFilter, err)
		}
	}
	if f.Action != nil {
		if err := compileRuleset(f.Action); err != nil {
			return nil, fmt.Errorf("%w: action: %v", ErrInvalidFilter, err)
		}
	}
	return &f, nil
}

func compileRuleset(rs *Ruleset) error {
	sets := [][]Rule{rs.Rules, rs.All, rs.Any}
	for _, set := range sets {
		for i := range set {
			if err := compileRule(&set[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

func compileRule(r *Rule) error {
	if r.Path == "" {
		return fmt.Errorf("rule missing path")
	}
	count := 0
	if r.Eq != nil {
		count++
	}
	if r.Ne != nil {
		count++
	}
	if r.Gt != nil {
		count++
	}
	if r.Gte != nil {
		count++
	}
	if r.Lt != nil {
		count++
	}
	if r.Lte != nil {
		count++
	}
	if r.Re != nil {
		count++
	}
	if count != 1 {
		return fmt.Errorf("rule at %s must set exactly one operator, got %d", r.Path, count)
	}
	for _, numeric := range []*float64{r.Gt, r.Gte, r.Lt, r.Lte} {
		if numeric != nil && (math.IsNaN(*numeric) || math.IsInf(*numeric, 0)) {
			return fmt.Errorf("rule at %s: numeric operator requires a finite value", r.Path)
		}
	}
	if r.Re != nil {
		compiled, err := regexp.Compile(*r.Re)
		if err != nil {
			return fmt.Errorf("rule at %s: invalid regex: %w", r.Path, err)
		}
		r.compiledRe = compiled
	}
	return nil
}

// MatchEvent reports whether f's event ruleset matches doc (the event body, as a
// decoded JSON document). A nil event ruleset matches nothing.
func (f *Filter) MatchEvent(doc any) bool {
	if f == nil || f.Event == nil {
		return false
	}
	return matchRuleset(*f.Event, doc)
}

// MatchAction reports whether f's action ruleset matches doc. A nil action
// ruleset matches nothing.
func (f *Filter) MatchAction(doc any) bool {
	if f == nil || f.Action == nil {
		return false
	}
	return matchRuleset(*f.Action, doc)
}

func matchRuleset(rs Ruleset, doc any) bool {
	if rs.flat {
		return allMatch(rs.Rules, doc)
	}
	if len(rs.All) == 0 && len(rs.Any) == 0 {
		return true
	}
	if len(rs.All) > 0 && !allMatch(rs.All, doc) {
		return false
	}
	if len(rs.Any) > 0 && !anyMatch(rs.Any, doc) {
		return false
	}
	return true
}

func allMatch(rules []Rule, doc any) bool {
	for _, r := range rules {
		if !matchRule(r, doc) {
			return false
		}
	}
	return true
}

func anyMatch(rules []Rule, doc any) bool {
	for _, r := range rules {
		if matchRule(r, doc) {
			return true
		}
	}
	return false
}

func matchRule(r Rule, doc any) bool {
	val, ok := resolvePointer(doc, r.Path)
	switch {
	case r.Eq != nil:
		return ok && r.Eq.equals(val)
	case r.Ne != nil:
		return !ok || !r.Ne.equals(val)
	case r.Re != nil:
		s, isStr := val.(string)
		return ok && isStr && r.compiledRe.MatchString(s)
	case r.Gt != nil, r.Gte != nil, r.Lt != nil, r.Lte != nil:
		num, isNum := asFloat(val)
		if !ok || !isNum {
			return false
		}
		switch {
		case r.Gt != nil:
			return num > *r.Gt
		case r.Gte != nil:
			return num >= *r.Gte
		case r.Lt != nil:
			return num < *r.Lt
		default:
			return num <= *r.Lte
		}
	}
	return false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// resolvePointer walks an RFC-6901-style JSON pointer (leading "/" optional,
// "~1"/"~0" escapes honored) over a generically-decoded JSON document.
func resolvePointer(doc any, pointer string) (any, bool) {
	path := strings.TrimPrefix(pointer, "/")
	if path == "" {
		return doc, true
	}
	cur := doc
	for _, rawTok := range strings.Split(path, "/") {
		tok := strings.ReplaceAll(strings.ReplaceAll(rawTok, "~1", "/"), "~0", "~")
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[tok]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(tok)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}
