package worldtypes

import (
	"bytes"
	"encoding/json"
	"sort"
)

// OrderedMap is a deterministic, lexicographically-ordered map keyed by string.
// The world state model (spec agents/locations/module_states/...) relies on this
// instead of Go's randomized map iteration so that canonical serialization and
// replay are byte-identical across nodes.
type OrderedMap[V any] struct {
	keys   []string
	values map[string]V
}

func NewOrderedMap[V any]() *OrderedMap[V] {
	return &OrderedMap[V]{values: make(map[string]V)}
}

func (m *OrderedMap[V]) Get(key string) (V, bool) {
	v, ok := m.values[key]
	return v, ok
}

func (m *OrderedMap[V]) Set(key string, value V) {
	if _, exists := m.values[key]; !exists {
		idx := sort.SearchStrings(m.keys, key)
		m.keys = append(m.keys, "")
		copy(m.keys[idx+1:], m.keys[idx:])
		m.keys[idx] = key
	}
	m.values[key] = value
}

func (m *OrderedMap[V]) Delete(key string) {
	if _, exists := m.values[key]; !exists {
		return
	}
	delete(m.values, key)
	idx := sort.SearchStrings(m.keys, key)
	if idx < len(m.keys) && m.keys[idx] == key {
		m.keys = append(m.keys[:idx], m.keys[idx+1:]...)
	}
}

func (m *OrderedMap[V]) Len() int { return len(m.keys) }

// Keys returns the keys in lexicographic order.
func (m *OrderedMap[V]) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Range visits entries in lexicographic key order, stopping early if fn returns false.
func (m *OrderedMap[V]) Range(fn func(key string, value V) bool) {
	for _, k := range m.keys {
		if !fn(k, m.values[k]) {
			return
		}
	}
}

// MarshalJSON emits entries as a JSON object in lexicographic key order, so the
// canonical serialization used for hashing and replay is deterministic.
func (m *OrderedMap[V]) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')
		valBytes, err := json.Marshal(m.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(valBytes)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON restores an OrderedMap from its canonical JSON object, re-deriving
// lexicographic key order rather than trusting the wire order.
func (m *OrderedMap[V]) UnmarshalJSON(data []byte) error {
	raw := make(map[string]V)
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.values = make(map[string]V, len(raw))
	m.keys = m.keys[:0]
	for k, v := range raw {
		m.values[k] = v
	}
	for k := range raw {
		m.keys = append(m.keys, k)
	}
	sort.Strings(m.keys)
	return nil
}

// Clone performs a shallow copy; callers needing deep copies of V must clone V themselves.
func (m *OrderedMap[V]) Clone() *OrderedMap[V] {
	out := NewOrderedMap[V]()
	out.keys = append([]string(nil), m.keys...)
	out.values = make(map[string]V, len(m.values))
	for k, v := range m.values {
		out.values[k] = v
	}
	return out
}
