package ai

import (
	"context"

	"github.com/vibe-run/vibe/internal/value"
)

// ReturnToolName is the reserved tool the engine forces the model to
// call when a do/vibe expression declares a target type, turning
// "produce a value of this shape" into an ordinary tool call instead
// of asking the model to free-text a parseable blob ( structured
// return protocol).
const ReturnToolName = "__vibe_return_field"

// ToolInvoker executes a real tool call requested mid-round. It is
// implemented by the system tool registry (internal/tools) and passed
// into the engine rather than imported, so this package stays free of
// a dependency on the concrete tool set.
type ToolInvoker interface {
	Invoke(ctx context.Context, name string, args map[string]any) (value.Value, error)
}

// returnToolSchema builds the tool-call schema the reserved return tool
// exposes to the model: an object with one required property per
// destructured field when destructure is non-empty, otherwise a single
// required property named "value" typed from targetType (an empty
// targetType maps to a string schema, as jsonSchemaForType does).
func returnToolSchema(targetType value.Type, destructure []fieldSpec) ToolSpec {
	props := map[string]any{}
	required := []string{}
	if len(destructure) > 0 {
		for _, f := range destructure {
			props[f.Name] = jsonSchemaForType(f.Type)
			required = append(required, f.Name)
		}
	} else {
		props["value"] = jsonSchemaForType(targetType)
		required = append(required, "value")
	}
	return ToolSpec{
		Name:        ReturnToolName,
		Description: "Return the final result of this operation.",
		Schema: map[string]any{
			"type":       "object",
			"properties": props,
			"required":   required,
		},
	}
}

// fieldSpec names a multi-field destructured return target.
type fieldSpec struct {
	Name string
	Type value.Type
}

func jsonSchemaForType(t value.Type) map[string]any {
	if elem, ok := t.ElementType(); ok {
		return map[string]any{"type": "array", "items": jsonSchemaForType(elem)}
	}
	switch t {
	case value.TypeNumber:
		return map[string]any{"type": "number"}
	case value.TypeBoolean:
		return map[string]any{"type": "boolean"}
	case value.TypeJSON:
		return map[string]any{"type": "object"}
	case value.TypeText, "":
		return map[string]any{"type": "string"}
	default:
		return map[string]any{"type": "object"}
	}
}
