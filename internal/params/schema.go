// Package params defines the instrument's parameter schema: typed
// definitions with defaults, and a value store that applies partial
// patches with clamping and validation.
package params

import "sort"

type Kind int

const (
	KindNumeric Kind = iota
	KindEnum
	KindToggle
)

// Def is a single parameter definition. Exactly one of the kind-specific
// field groups is meaningful, selected by Kind.
type Def struct {
	Key   string
	Group string
	Kind  Kind

	Min, Max, Step float64
	Default        float64

	Options       []string
	DefaultOption string

	DefaultOn bool
}

// Schema is an ordered set of parameter definitions.
type Schema struct {
	defs  map[string]Def
	order []string
}

func NewSchema() *Schema {
	return &Schema{defs: make(map[string]Def)}
}

func (s *Schema) add(d Def) {
	if _, exists := s.defs[d.Key]; !exists {
		s.order = append(s.order, d.Key)
	}
	s.defs[d.Key] = d
}

func (s *Schema) Numeric(key, group string, min, max, step, def float64) {
	s.add(Def{Key: key, Group: group, Kind: KindNumeric, Min: min, Max: max, Step: step, Default: def})
}

func (s *Schema) Enum(key, group string, options []string, def string) {
	s.add(Def{Key: key, Group: group, Kind: KindEnum, Options: options, DefaultOption: def})
}

func (s *Schema) Toggle(key, group string, def bool) {
	s.add(Def{Key: key, Group: group, Kind: KindToggle, DefaultOn: def})
}

// Def returns the definition for key.
func (s *Schema) Def(key string) (Def, bool) {
	d, ok := s.defs[key]
	return d, ok
}

// Keys returns all keys in definition order.
func (s *Schema) Keys() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Groups returns the distinct group ids, sorted.
func (s *Schema) Groups() []string {
	seen := make(map[string]bool)
	var out []string
	for _, k := range s.order {
		g := s.defs[k].Group
		if !seen[g] {
			seen[g] = true
			out = append(out, g)
		}
	}
	sort.Strings(out)
	return out
}

// Values is a live parameter store backed by a schema. Apply accepts
// partial patches: unknown keys are ignored, numerics are clamped into
// [min,max], enum values not in the option list are rejected.
type Values struct {
	schema *Schema
	vals   map[string]any
}

func (s *Schema) NewValues() *Values {
	v := &Values{schema: s, vals: make(map[string]any, len(s.order))}
	for _, k := range s.order {
		d := s.defs[k]
		switch d.Kind {
		case KindNumeric:
			v.vals[k] = d.Default
		case KindEnum:
			v.vals[k] = d.DefaultOption
		case KindToggle:
			v.vals[k] = d.DefaultOn
		}
	}
	return v
}

// Apply merges a patch and returns the keys that actually changed.
func (v *Values) Apply(patch map[string]any) []string {
	var changed []string
	for key, raw := range patch {
		d, ok := v.schema.defs[key]
		if !ok {
			continue
		}
		switch d.Kind {
		case KindNumeric:
			f, ok := toFloat(raw)
			if !ok {
				continue
			}
			if f < d.Min {
				f = d.Min
			}
			if f > d.Max {
				f = d.Max
			}
			if v.vals[key] != any(f) {
				v.vals[key] = f
				changed = append(changed, key)
			}
		case KindEnum:
			s, ok := raw.(string)
			if !ok || !contains(d.Options, s) {
				continue
			}
			if v.vals[key] != any(s) {
				v.vals[key] = s
				changed = append(changed, key)
			}
		case KindToggle:
			b, ok := toBool(raw)
			if !ok {
				continue
			}
			if v.vals[key] != any(b) {
				v.vals[key] = b
				changed = append(changed, key)
			}
		}
	}
	return changed
}

// Float returns the numeric value for key, or the schema default when the
// key is unknown.
func (v *Values) Float(key string) float64 {
	if f, ok := v.vals[key].(float64); ok {
		return f
	}
	if d, ok := v.schema.defs[key]; ok {
		return d.Default
	}
	return 0
}

func (v *Values) String(key string) string {
	if s, ok := v.vals[key].(string); ok {
		return s
	}
	if d, ok := v.schema.defs[key]; ok {
		return d.DefaultOption
	}
	return ""
}

func (v *Values) Bool(key string) bool {
	if b, ok := v.vals[key].(bool); ok {
		return b
	}
	if d, ok := v.schema.defs[key]; ok {
		return d.DefaultOn
	}
	return false
}

func (v *Values) Int(key string) int {
	return int(v.Float(key))
}

// Snapshot returns a full copy of the current values.
func (v *Values) Snapshot() map[string]any {
	out := make(map[string]any, len(v.vals))
	for k, val := range v.vals {
		out[k] = val
	}
	return out
}

func toFloat(raw any) (float64, bool) {
	switch x := raw.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	}
	return 0, false
}

func toBool(raw any) (bool, bool) {
	switch x := raw.(type) {
	case bool:
		return x, true
	case float64:
		return x != 0, true
	case int:
		return x != 0, true
	}
	return false, false
}

func contains(opts []string, s string) bool {
	for _, o := range opts {
		if o == s {
			return true
		}
	}
	return false
}
