// Package series holds the parameter mappings which describe a single measurement run, and the flattening that
// turns a compact multidimensional description into concrete runs.
package series

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
)

var ErrSpecification = errors.New("specification error")

// Well-known fields.
const (
	FieldTool         = "tool"
	FieldMode         = "mode"
	FieldID           = "id"
	FieldLabel        = "label"
	FieldRequirements = "requirements"
	FieldRW           = "rw"
	FieldRWDir        = "rw_dir"
	FieldRWOrder      = "rw_order"
)

// Series maps parameter names to a scalar or, before flattening, a list of scalars. The requirements field is a
// mapping of requirement names to scalars.
type Series map[string]any

// New copies m into a Series, normalizing numbers to float64 so that JSON and YAML inputs compare equal.
func New(m map[string]any) Series {
	return Series(normalize(m).(map[string]any))
}

func normalize(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = normalize(e)
		}
		return out
	case Series:
		return normalize(map[string]any(v))
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = normalize(e)
		}
		return out
	case []string:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = e
		}
		return out
	case []float64:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = e
		}
		return out
	case []int:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = float64(e)
		}
		return out
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case uint:
		return float64(v)
	case uint32:
		return float64(v)
	case uint64:
		return float64(v)
	case float32:
		return float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return v.String()
		}
		return f
	default:
		return v
	}
}

func (s Series) Clone() Series {
	return New(s)
}

// Without returns a copy of s with fields removed.
func (s Series) Without(fields ...string) Series {
	out := s.Clone()
	for _, f := range fields {
		delete(out, f)
	}
	return out
}

// With returns a copy of s with field set to v.
func (s Series) With(field string, v any) Series {
	out := s.Clone()
	out[field] = normalize(v)
	return out
}

// Key is the canonical structural key of s: equal content gives equal keys regardless of field order or numeric
// representation.
func (s Series) Key() string {
	return Key(map[string]any(s))
}

// Key hashes the canonical JSON encoding of v. encoding/json sorts map keys, which makes the encoding
// order-independent.
func Key(v any) string {
	buf, err := json.Marshal(normalize(v))
	if err != nil {
		// Series only ever hold JSON values.
		panic(fmt.Errorf("series: can't encode %v: %w", v, err))
	}
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])
}

func (s Series) String(field string) (string, bool) {
	v, ok := s[field].(string)
	return v, ok
}

func (s Series) Requirements() map[string]any {
	req, ok := s[FieldRequirements].(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return req
}

// ListFields returns the sorted names of the list-valued fields.
func (s Series) ListFields() []string {
	out := []string{}
	for _, k := range slices.Sorted(maps.Keys(s)) {
		if _, ok := s[k].([]any); ok {
			out = append(out, k)
		}
	}
	return out
}

func (s Series) IsFlat() bool {
	return len(s.ListFields()) == 0
}

// Equal compares two scalar values after normalization.
func Equal(a, b any) bool {
	return Key(a) == Key(b)
}

// Format renders a scalar the way it appears in labels and file names.
func Format(v any) string {
	switch v := normalize(v).(type) {
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Float converts a numeric scalar to float64.
func Float(v any) (float64, bool) {
	f, ok := normalize(v).(float64)
	return f, ok
}
