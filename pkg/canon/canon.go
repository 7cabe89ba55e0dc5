// Package canon implements the canonical JSON form of spec.md §4.5: object
// keys sorted lexicographically and numeric representation stabilized, so
// that two extractor return values that are structurally equal produce
// byte-identical output regardless of which executor produced them.
//
// This is deliberately built on encoding/json alone rather than a
// canonical-JSON ecosystem library: Go's json.Marshal already serializes
// map[string]interface{} with sorted keys, which is the one property this
// form needs beyond stable number formatting. See DESIGN.md.
package canon

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Marshal canonicalizes v (already a Go value, e.g. the return value of an
// extractor script) into its canonical JSON encoding.
func Marshal(v interface{}) ([]byte, error) {
	normalized, err := normalize(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(normalized)
}

// Canonicalize re-encodes an arbitrary JSON document into canonical form.
// A script emitting undefined/no value decodes to Go nil, which
// canonicalizes to JSON null per spec.md §8.
func Canonicalize(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return json.Marshal(nil)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("canon: decode: %w", err)
	}
	normalized, err := normalize(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(normalized)
}

// Equal reports whether two JSON documents are equal under canonicalization.
func Equal(a, b []byte) (bool, error) {
	ca, err := Canonicalize(a)
	if err != nil {
		return false, err
	}
	cb, err := Canonicalize(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(ca, cb), nil
}

// Pretty renders a canonical document indented, for diffing and for
// formatter script context.
func Pretty(data []byte) ([]byte, error) {
	canonical, err := Canonicalize(data)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, canonical, "", "  "); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// normalize stabilizes numeric representation (json.Number -> float64
// whenever it parses as one, digits beyond float64 precision included;
// only an out-of-range number is kept as its decimal text, encoded as a
// JSON string) and recurses
// into containers so that map key sorting (handled by json.Marshal itself
// for map[string]interface{}) applies uniformly.
func normalize(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return f, nil
		}
		return val.String(), nil
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, elem := range val {
			normalized, err := normalize(elem)
			if err != nil {
				return nil, err
			}
			out[k] = normalized
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, elem := range val {
			normalized, err := normalize(elem)
			if err != nil {
				return nil, err
			}
			out[i] = normalized
		}
		return out, nil
	default:
		return val, nil
	}
}
