// Package ruleset implements the structured policy ruleset model: the three
// inheritance merge modes, canonicalization and content hashing, field-path
// flattening, and the per-field comparison-policy table consulted by both
// the merger and the conflict detector.
package ruleset

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/gowebpki/jcs"
)

// Ruleset is a parsed JSON policy object. Values are the usual
// encoding/json shapes: map[string]any, []any, string, float64, bool, nil.
type Ruleset map[string]any

// ParseRuleset decodes raw JSON into a Ruleset. The input must be a JSON
// object; anything else is rejected.
func ParseRuleset(raw json.RawMessage) (Ruleset, error) {
	if len(raw) == 0 {
		return Ruleset{}, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("ParseRuleset: %w", err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("ParseRuleset: ruleset must be a JSON object")
	}
	return Ruleset(obj), nil
}

// Clone returns a deep copy. The merger never mutates its inputs.
func (rs Ruleset) Clone() Ruleset {
	return Ruleset(cloneValue(map[string]any(rs)).(map[string]any))
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneValue(val)
		}
		return out
	default:
		return t
	}
}

// Flatten returns leaf field paths (dotted) mapped to their values.
// Arrays and scalars are leaves; nested objects are descended into.
func (rs Ruleset) Flatten() map[string]any {
	out := make(map[string]any)
	flattenInto("", map[string]any(rs), out)
	return out
}

func flattenInto(prefix string, obj map[string]any, out map[string]any) {
	for k, v := range obj {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok {
			flattenInto(path, sub, out)
			continue
		}
		out[path] = v
	}
}

// FieldPaths returns the sorted leaf paths of the ruleset.
func (rs Ruleset) FieldPaths() []string {
	flat := rs.Flatten()
	paths := make([]string, 0, len(flat))
	for p := range flat {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// ValueEqual compares two JSON values by canonical encoding, so key order
// and numeric representation differences never produce a spurious mismatch.
func ValueEqual(a, b any) bool {
	return canonicalKey(a) == canonicalKey(b)
}

// canonicalKey renders a JSON value as its RFC 8785 canonical form, usable
// as a map key for duplicate elimination.
func canonicalKey(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("!unmarshalable:%v", v)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return string(raw)
	}
	return string(canon)
}
