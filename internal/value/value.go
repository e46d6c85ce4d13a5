// Package value implements the runtime's wrapped-value model: every
// binding in a running program holds one of these instead of a bare
// Go value, so that origin, declared type, and error state travel
// with the data through every operation instead of unwinding as a Go
// error would.
package value

import (
	"fmt"
	"math"
)

// Source tags where a value's payload came from.
type Source string

const (
	SourceLiteral   Source = "literal"
	SourceAI        Source = "ai"
	SourceHostBlock Source = "host-block"
	SourceImported  Source = "imported-function"
	SourceUser      Source = "user"
)

// Type is a declared type tag. The zero value means "inferred" (absent).
type Type string

const (
	TypeText       Type = "text"
	TypeNumber     Type = "number"
	TypeBoolean    Type = "boolean"
	TypeJSON       Type = "json"
	TypeModel      Type = "model"
	TypeTool       Type = "tool"
	TypeTextArr    Type = "text[]"
	TypeNumberArr  Type = "number[]"
	TypeBooleanArr Type = "boolean[]"
	TypeJSONArr    Type = "json[]"
)

// ElementType strips a trailing "[]" from an array type, returning ("", false)
// for non-array types.
func (t Type) ElementType() (Type, bool) {
	s := string(t)
	if len(s) > 2 && s[len(s)-2:] == "[]" {
		return Type(s[:len(s)-2]), true
	}
	return "", false
}

func (t Type) IsArray() bool {
	_, ok := t.ElementType()
	return ok
}

// ErrDetail carries diagnostic information for an errored value.
type ErrDetail struct {
	Message  string `json:"message"`
	Type     string `json:"type,omitempty"`
	Location string `json:"location,omitempty"`

	// AILogContext preserves the message sequence and raw response of the
	// LM round that produced this error, for diagnostic files.
	AILogContext any `json:"aiLogContext,omitempty"`
}

// Record is a structured (JSON-like) payload: a mapping of names to
// either nested Values or raw Go primitives/maps/slices produced while
// decoding provider/tool output prior to validation.
type Record map[string]any

// ModelDescriptor is the payload carried by a Value with DeclaredType
// TypeModel.
type ModelDescriptor struct {
	Name          string           `json:"name"`
	APIKey        string           `json:"api_key"`
	URL           string           `json:"url,omitempty"`
	Provider      string           `json:"provider,omitempty"`
	Tools         []ToolDescriptor `json:"tools,omitempty"`
	ThinkingLevel string           `json:"thinking_level,omitempty"`
	ServerTools   []string         `json:"server_tools,omitempty"`
}

// ToolDescriptor is the payload carried by a Value with DeclaredType TypeTool.
type ToolDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Schema      Record `json:"schema,omitempty"`
}

// Value is the runtime's uniform wrapped-value representation.
//
// Invariant: Error == true implies Payload == nil. Callers must not set
// Payload directly on an errored value; use AsError to construct one.
type Value struct {
	Payload      any
	DeclaredType Type
	Source       Source
	Error        bool
	ErrDetail    *ErrDetail
	AsyncHandle  string // opaque scheduler op id; "" when not pending
	Const        bool
	Private      bool
}

// Pending reports whether this value is still bound to an unresolved
// async operation.
func (v Value) Pending() bool {
	return v.AsyncHandle != ""
}

// Wrap constructs a non-errored value, optionally validating/coercing
// Payload against declaredType. On coercion failure it returns an
// errored value instead (never a Go error).
func Wrap(payload any, source Source, declaredType Type) Value {
	v := Value{Payload: payload, Source: source, DeclaredType: declaredType}
	if declaredType == "" {
		return v
	}
	coerced, err := ValidateAndCoerce(payload, declaredType)
	if err != nil {
		return AsError(err.Error(), "TypeError", "")
	}
	v.Payload = coerced
	return v
}

// Null returns the canonical null literal value.
func Null() Value {
	return Value{Payload: nil, Source: SourceLiteral}
}

// AsError constructs an errored value.
func AsError(message, typeTag, location string) Value {
	return Value{
		Error: true,
		ErrDetail: &ErrDetail{
			Message:  message,
			Type:     typeTag,
			Location: location,
		},
	}
}

// AsErrorFrom returns an errored value carrying a copy of an existing
// ErrDetail with every field unchanged — used when an errored value's
// error is re-surfaced from a new operation identity.
func AsErrorFrom(detail ErrDetail) Value {
	d := detail
	return Value{Error: true, ErrDetail: &d}
}

// FieldAccess implements field-access contract for errored
// values: only "err" and "errDetails.*" pass through; everything else
// reads as null.
func (v Value) FieldAccess(name string) Value {
	if !v.Error {
		return Value{} // caller falls back to normal record/field lookup
	}
	switch name {
	case "err":
		return Wrap(true, SourceLiteral, TypeBoolean)
	case "errDetails":
		if v.ErrDetail == nil {
			return Null()
		}
		return Wrap(Record{
			"message":  v.ErrDetail.Message,
			"type":     v.ErrDetail.Type,
			"location": v.ErrDetail.Location,
		}, SourceLiteral, "")
	}
	return Null()
}

// ErrMessage returns the error message, or "" if the value is not errored.
func (v Value) ErrMessage() string {
	if !v.Error || v.ErrDetail == nil {
		return ""
	}
	return v.ErrDetail.Message
}

// IsNull reports whether the payload is the null literal (never errored).
func (v Value) IsNull() bool {
	return !v.Error && v.Payload == nil
}

// Bool extracts the boolean payload; the caller must already know
// DeclaredType is boolean or have validated truthiness is legal: equality
// with null is the only permitted truthiness check — every other
// conditional position demands a real boolean.
func (v Value) Bool() (bool, bool) {
	b, ok := v.Payload.(bool)
	return b, ok
}

func (v Value) Number() (float64, bool) {
	switch n := v.Payload.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func (v Value) Text() (string, bool) {
	s, ok := v.Payload.(string)
	return s, ok
}

func (v Value) String() string {
	if v.Error {
		return fmt.Sprintf("<error: %s>", v.ErrMessage())
	}
	return fmt.Sprint(v.Payload)
}

// isFiniteNumber rejects NaN/±Inf per the "number" coercion table.
func isFiniteNumber(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
