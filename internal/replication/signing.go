package replication

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"sort"
)

// canonicalJSON re-marshals v with object keys in ascending order, matching
// spec.md §6 "Signed message canonical payloads ... JSON with ascending key
// order; any field omission changes the signature." Every signing payload
// passed here must be a JSON object (map[string]any or a struct that
// marshals to one).
func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("replication: marshal signing payload: %w", err)
	}
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("replication: signing payload is not a JSON object: %w", err)
	}
	return marshalSorted(generic)
}

func marshalSorted(m map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := marshalValueSorted(m[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func marshalValueSorted(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		return marshalSorted(val)
	case []any:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			eb, err := marshalValueSorted(elem)
			if err != nil {
				return nil, err
			}
			buf.Write(eb)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	default:
		return json.Marshal(val)
	}
}

// SignPayload signs v's canonical JSON form with priv.
func SignPayload(priv ed25519.PrivateKey, v any) ([]byte, error) {
	data, err := canonicalJSON(v)
	if err != nil {
		return nil, err
	}
	return ed25519.Sign(priv, data), nil
}

// VerifyPayload reports whether sig is a valid Ed25519 signature over v's
// canonical JSON form under pub. Any single-byte tamper to any bound field
// changes the canonical bytes and invalidates the signature.
func VerifyPayload(pub ed25519.PublicKey, v any, sig []byte) bool {
	data, err := canonicalJSON(v)
	if err != nil {
		return false
	}
	return len(pub) == ed25519.PublicKeySize && ed25519.Verify(pub, data, sig)
}
