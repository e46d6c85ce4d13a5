package step

import (
	"fmt"
	"strings"

	"github.com/vibe-run/vibe/internal/program"
	"github.com/vibe-run/vibe/internal/state"
	"github.com/vibe-run/vibe/internal/value"
)

// callBuiltin evaluates a call node that appears nested inside a larger
// expression. Only the small fixed set of pure built-ins below is legal
// here; a call to a program-defined function must be let-bound or used
// as a bare statement (compile.go routes those through ICall, which can
// push a new frame and therefore suspend — something a nested
// expression position can't do without a full operand-stack unwind).
func callBuiltin(s *state.State, n *program.Node) (value.Value, error) {
	args := make([]value.Value, len(n.Children))
	for i, c := range n.Children {
		v, err := evalExprSync(s, c)
		if err != nil {
			return value.Value{}, err
		}
		args[i] = v
	}
	fn, ok := builtins[n.Text]
	if !ok {
		return value.AsError(fmt.Sprintf("%q is not a built-in; call it with a let-binding or as its own statement", n.Text), "TypeError", n.Loc.String()), nil
	}
	return fn(args), nil
}

var builtins = map[string]func([]value.Value) value.Value{
	"len":      builtinLen,
	"upper":    builtinUpper,
	"lower":    builtinLower,
	"trim":     builtinTrim,
	"contains": builtinContains,
	"keys":     builtinKeys,
}

func builtinLen(args []value.Value) value.Value {
	if len(args) != 1 {
		return value.AsError("len expects one argument", "TypeError", "")
	}
	return value.Propagate(args, func(in []value.Value) value.Value {
		switch p := in[0].Payload.(type) {
		case string:
			return value.Wrap(float64(len([]rune(p))), value.SourceLiteral, value.TypeNumber)
		case []any:
			return value.Wrap(float64(len(p)), value.SourceLiteral, value.TypeNumber)
		case value.Record:
			return value.Wrap(float64(len(p)), value.SourceLiteral, value.TypeNumber)
		case map[string]any:
			return value.Wrap(float64(len(p)), value.SourceLiteral, value.TypeNumber)
		default:
			return value.AsError(fmt.Sprintf("len: unsupported type %T", p), "TypeError", "")
		}
	})
}

func builtinUpper(args []value.Value) value.Value {
	return textUnary(args, strings.ToUpper)
}

func builtinLower(args []value.Value) value.Value {
	return textUnary(args, strings.ToLower)
}

func builtinTrim(args []value.Value) value.Value {
	return textUnary(args, strings.TrimSpace)
}

func textUnary(args []value.Value, f func(string) string) value.Value {
	if len(args) != 1 {
		return value.AsError("expects one text argument", "TypeError", "")
	}
	return value.Propagate(args, func(in []value.Value) value.Value {
		s, ok := in[0].Text()
		if !ok {
			return value.AsError("expected text", "TypeError", "")
		}
		return value.Wrap(f(s), value.SourceLiteral, value.TypeText)
	})
}

func builtinContains(args []value.Value) value.Value {
	if len(args) != 2 {
		return value.AsError("contains expects two arguments", "TypeError", "")
	}
	return value.Propagate(args, func(in []value.Value) value.Value {
		hay, ok1 := in[0].Text()
		needle, ok2 := in[1].Text()
		if !ok1 || !ok2 {
			return value.AsError("contains expects text arguments", "TypeError", "")
		}
		return value.Wrap(strings.Contains(hay, needle), value.SourceLiteral, value.TypeBoolean)
	})
}

func builtinKeys(args []value.Value) value.Value {
	if len(args) != 1 {
		return value.AsError("keys expects one argument", "TypeError", "")
	}
	return value.Propagate(args, func(in []value.Value) value.Value {
		rec, ok := in[0].Payload.(value.Record)
		if !ok {
			if m, ok2 := in[0].Payload.(map[string]any); ok2 {
				rec = value.Record(m)
			} else {
				return value.AsError("keys expects a json/record value", "TypeError", "")
			}
		}
		out := make([]any, 0, len(rec))
		for k := range rec {
			out = append(out, k)
		}
		return value.Wrap(out, value.SourceLiteral, value.TypeTextArr)
	})
}
