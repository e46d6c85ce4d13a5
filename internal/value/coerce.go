package value

import (
	"encoding/json"
	"fmt"
)

// TypeDef describes a named structural type: a record of field name to
// declared Type, recursively validated.
type TypeDef struct {
	Name   string
	Fields map[string]Type
	Named  map[string]*TypeDef // nested named-type references, if any
}

// Registry resolves named structural types used by ValidateAndCoerce when
// declaredType is neither a primitive nor an array of one.
type Registry struct {
	defs map[string]*TypeDef
}

func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*TypeDef)}
}

func (r *Registry) Define(def *TypeDef) {
	r.defs[def.Name] = def
}

func (r *Registry) Lookup(name string) (*TypeDef, bool) {
	d, ok := r.defs[name]
	return d, ok
}

// ValidateAndCoerce implements the deterministic coercion table for
// the primitive and array types. Named-type validation is delegated to
// ValidateNamed, since it requires a Registry.
func ValidateAndCoerce(payload any, t Type) (any, error) {
	if elem, ok := t.ElementType(); ok {
		seq, ok := payload.([]any)
		if !ok {
			return nil, fmt.Errorf("expected array for type %s, got %T", t, payload)
		}
		out := make([]any, len(seq))
		for i, item := range seq {
			coerced, err := ValidateAndCoerce(item, elem)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = coerced
		}
		return out, nil
	}

	switch t {
	case TypeText:
		s, ok := payload.(string)
		if !ok {
			return nil, fmt.Errorf("expected text, got %T", payload)
		}
		return s, nil
	case TypeNumber:
		switch n := payload.(type) {
		case float64:
			if !isFiniteNumber(n) {
				return nil, fmt.Errorf("number must be finite, got %v", n)
			}
			return n, nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		default:
			return nil, fmt.Errorf("expected number, got %T", payload)
		}
	case TypeBoolean:
		b, ok := payload.(bool)
		if !ok {
			return nil, fmt.Errorf("expected boolean, got %T (truthy/falsy coercion is not permitted)", payload)
		}
		return b, nil
	case TypeJSON:
		switch p := payload.(type) {
		case string:
			var out any
			if err := json.Unmarshal([]byte(p), &out); err != nil {
				return nil, fmt.Errorf("parse json from text: %w", err)
			}
			if out == nil {
				return nil, fmt.Errorf("json value must not be null")
			}
			return out, nil
		case map[string]any, []any:
			return p, nil
		case nil:
			return nil, fmt.Errorf("json value must not be null")
		default:
			return p, nil
		}
	case TypeModel:
		rec, ok := payload.(Record)
		if !ok {
			if m, ok := payload.(map[string]any); ok {
				rec = Record(m)
			} else {
				return nil, fmt.Errorf("expected model record, got %T", payload)
			}
		}
		if _, ok := rec["name"]; !ok {
			return nil, fmt.Errorf("model record missing required field 'name'")
		}
		return rec, nil
	case TypeTool:
		rec, ok := payload.(Record)
		if !ok {
			if m, ok := payload.(map[string]any); ok {
				rec = Record(m)
			} else {
				return nil, fmt.Errorf("expected tool record, got %T", payload)
			}
		}
		return rec, nil
	case "":
		return payload, nil
	default:
		return nil, fmt.Errorf("unknown declared type %q (use ValidateNamed for structural types)", t)
	}
}

// ValidateNamed recursively validates payload against a named structural
// type from the Registry: it accepts a record whose fields satisfy the
// named structural type.
func ValidateNamed(reg *Registry, payload any, typeName string) (Record, error) {
	def, ok := reg.Lookup(typeName)
	if !ok {
		return nil, fmt.Errorf("undefined type %q", typeName)
	}
	var rec map[string]any
	switch p := payload.(type) {
	case Record:
		rec = p
	case map[string]any:
		rec = p
	default:
		return nil, fmt.Errorf("expected record for type %q, got %T", typeName, payload)
	}

	out := make(Record, len(def.Fields))
	for field, fieldType := range def.Fields {
		raw, present := rec[field]
		if !present {
			return nil, fmt.Errorf("type %q: missing field %q", typeName, field)
		}
		if nested, isNamed := def.Named[field]; isNamed {
			nestedVal, err := ValidateNamed(reg, raw, nested.Name)
			if err != nil {
				return nil, fmt.Errorf("type %q field %q: %w", typeName, field, err)
			}
			out[field] = nestedVal
			continue
		}
		coerced, err := ValidateAndCoerce(raw, fieldType)
		if err != nil {
			return nil, fmt.Errorf("type %q field %q: %w", typeName, field, err)
		}
		out[field] = coerced
	}
	return out, nil
}
