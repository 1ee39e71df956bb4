package series

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Expand returns the cartesian product of every list-valued field of every element of raw.
//
// The work list is processed front to back. An element holding no list is emitted as is; otherwise it is replaced,
// in place, by one copy per value of its first list-valued field (in sorted field order). Each replacement has one
// list-valued field fewer than the element it replaces, so the loop ends after at most ∏|list| expansions per
// element.
func Expand(raw []Series) ([]Series, error) {
	work := make([]Series, len(raw))
	for i, s := range raw {
		work[i] = s.Clone()
	}

	out := []Series{}
	for len(work) > 0 {
		s := work[0]
		work = work[1:]

		fields := s.ListFields()
		if len(fields) == 0 {
			out = append(out, s)
			continue
		}

		field := fields[0]
		values := s[field].([]any)
		if len(values) == 0 {
			return nil, fmt.Errorf("%w: field %q holds an empty list", ErrSpecification, field)
		}
		expanded := make([]Series, 0, len(values)+len(work))
		for _, v := range values {
			if _, ok := v.([]any); ok {
				return nil, fmt.Errorf("%w: field %q holds a nested list", ErrSpecification, field)
			}
			c := s.Clone()
			c[field] = v
			expanded = append(expanded, c)
		}
		work = append(expanded, work...)
	}
	return out, nil
}

// Flatten expands raw and resolves every resulting element.
func Flatten(raw []Series) ([]Series, error) {
	flat, err := Expand(raw)
	if err != nil {
		return nil, err
	}
	out := make([]Series, len(flat))
	for i, s := range flat {
		out[i], err = Resolve(s)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Resolve computes derived fields, fills in template fields from their siblings and validates the result. s must be
// flat. The returned series is a new record.
func Resolve(s Series) (Series, error) {
	if !s.IsFlat() {
		return nil, fmt.Errorf("%w: can't resolve a series with list fields %v", ErrSpecification, s.ListFields())
	}
	out := s.Clone()

	if rw, ok := out.String(FieldRW); ok {
		if _, set := out[FieldRWOrder]; !set {
			if strings.HasPrefix(rw, "rand") {
				out[FieldRWOrder] = "rand"
			} else {
				out[FieldRWOrder] = "seq"
			}
		}
	}

	err := resolveTemplates(out)
	if err != nil {
		return nil, err
	}

	err = validate(out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// IsMixed reports whether rw names a workload which produces both read and write results.
func IsMixed(rw string) bool {
	return rw == "rw" || rw == "randrw"
}

func validate(s Series) error {
	rw, ok := s.String(FieldRW)
	if !ok || !IsMixed(rw) {
		return nil
	}
	dir, ok := s.String(FieldRWDir)
	if !ok {
		return fmt.Errorf("%w: mixed workload rw=%s requires %q to select read or write results", ErrSpecification, rw, FieldRWDir)
	}
	if dir != "read" && dir != "write" {
		return fmt.Errorf("%w: %q must be read or write, got %q", ErrSpecification, FieldRWDir, dir)
	}
	return nil
}

func resolveTemplates(s Series) error {
	pending := []string{}
	for _, k := range slices.Sorted(maps.Keys(s)) {
		if v, ok := s[k].(string); ok && len(placeholders(v)) > 0 {
			pending = append(pending, k)
		}
	}

	// A template may reference another template, so resolve in passes until nothing changes.
	for len(pending) > 0 {
		progressed := false
		next := []string{}
		for _, k := range pending {
			tmpl := s[k].(string)
			ready := true
			for _, name := range placeholders(tmpl) {
				v, ok := s[name]
				if !ok {
					return fmt.Errorf("%w: field %q references unknown field %q", ErrSpecification, k, name)
				}
				if str, ok := v.(string); ok && slices.Contains(pending, name) && len(placeholders(str)) > 0 {
					ready = false
				}
			}
			if !ready {
				next = append(next, k)
				continue
			}
			s[k] = Template(tmpl, s)
			progressed = true
		}
		if !progressed {
			return fmt.Errorf("%w: template fields %v reference each other", ErrSpecification, next)
		}
		pending = next
	}
	return nil
}

// placeholders returns the field names referenced as {name} in tmpl. {{ and }} are escaped braces.
func placeholders(tmpl string) []string {
	out := []string{}
	for i := 0; i < len(tmpl); i++ {
		switch {
		case strings.HasPrefix(tmpl[i:], "{{"), strings.HasPrefix(tmpl[i:], "}}"):
			i++
		case tmpl[i] == '{':
			end := strings.IndexByte(tmpl[i:], '}')
			if end < 0 {
				return out
			}
			name := tmpl[i+1 : i+end]
			if isIdent(name) {
				out = append(out, name)
			}
			i += end
		}
	}
	return out
}

// Template substitutes every {name} in tmpl with the formatted value of fields[name]. Unknown names are left as is.
func Template(tmpl string, fields map[string]any) string {
	var sb strings.Builder
	for i := 0; i < len(tmpl); i++ {
		switch {
		case strings.HasPrefix(tmpl[i:], "{{"):
			sb.WriteByte('{')
			i++
		case strings.HasPrefix(tmpl[i:], "}}"):
			sb.WriteByte('}')
			i++
		case tmpl[i] == '{':
			end := strings.IndexByte(tmpl[i:], '}')
			if end < 0 {
				sb.WriteString(tmpl[i:])
				return sb.String()
			}
			name := tmpl[i+1 : i+end]
			v, ok := fields[name]
			if !isIdent(name) || !ok {
				sb.WriteString(tmpl[i : i+end+1])
			} else {
				sb.WriteString(Format(v))
			}
			i += end
		default:
			sb.WriteByte(tmpl[i])
		}
	}
	return sb.String()
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (i > 0 && r >= '0' && r <= '9') {
			continue
		}
		return false
	}
	return true
}
