package step

import (
	"fmt"
	"strings"

	"github.com/vibe-run/vibe/internal/program"
	"github.com/vibe-run/vibe/internal/state"
	"github.com/vibe-run/vibe/internal/value"
)

// pendingJoin signals that evaluation hit a variable still bound to an
// unresolved async handle; the caller must suspend with StatusAwaitingAsync
// on these op ids and retry the same instruction once they resolve.
type pendingJoin struct{ opIDs []string }

func (p *pendingJoin) Error() string { return "awaiting async join" }

// evalExprSync evaluates an expression node without ever suspending on
// an LM/host/tool operation — those only ever appear as the full RHS of
// a declare/assign or as a bare statement (see compile.go), which is
// compiled directly to a suspend instruction instead of reaching here.
// The one suspend this CAN surface is an implicit async read-join,
// returned as a *pendingJoin error.
func evalExprSync(s *state.State, n *program.Node) (value.Value, error) {
	switch n.Kind {
	case program.NodeLiteral:
		return literalValue(n), nil

	case program.NodeIdentifier:
		return lookupIdentifier(s, n.Text)

	case program.NodeTemplateString:
		var b strings.Builder
		for _, c := range n.Children {
			v, err := evalExprSync(s, c)
			if err != nil {
				return value.Value{}, err
			}
			if v.Error {
				return v, nil
			}
			b.WriteString(v.String())
		}
		return value.Wrap(b.String(), value.SourceLiteral, value.TypeText), nil

	case program.NodeBinaryExpr:
		a, err := evalExprSync(s, n.Children[0])
		if err != nil {
			return value.Value{}, err
		}
		b, err := evalExprSync(s, n.Children[1])
		if err != nil {
			return value.Value{}, err
		}
		return value.BinaryOp(n.Op, a, b), nil

	case program.NodeUnaryExpr:
		a, err := evalExprSync(s, n.Children[0])
		if err != nil {
			return value.Value{}, err
		}
		if n.Op == "-" {
			return value.UnaryMinus(a), nil
		}
		if n.Op == "!" {
			b, ok := a.Bool()
			if !ok {
				return value.AsError("logical not requires a boolean", "TypeError", n.Loc.String()), nil
			}
			return value.Wrap(!b, value.SourceLiteral, value.TypeBoolean), nil
		}
		return value.AsError(fmt.Sprintf("unknown unary operator %q", n.Op), "SyntaxError", n.Loc.String()), nil

	case program.NodeCompareExpr:
		a, err := evalExprSync(s, n.Children[0])
		if err != nil {
			return value.Value{}, err
		}
		b, err := evalExprSync(s, n.Children[1])
		if err != nil {
			return value.Value{}, err
		}
		return value.Compare(n.Op, a, b), nil

	case program.NodeMemberAccess:
		base, err := evalExprSync(s, n.Children[0])
		if err != nil {
			return value.Value{}, err
		}
		if base.Error {
			return base.FieldAccess(n.Text), nil
		}
		return memberAccess(base, n.Text), nil

	case program.NodeIndexAccess:
		base, err := evalExprSync(s, n.Children[0])
		if err != nil {
			return value.Value{}, err
		}
		idx, err := evalExprSync(s, n.Children[1])
		if err != nil {
			return value.Value{}, err
		}
		return value.Propagate([]value.Value{base, idx}, func(in []value.Value) value.Value {
			return indexAccess(in[0], in[1])
		}), nil

	case program.NodeSlice:
		base, err := evalExprSync(s, n.Children[0])
		if err != nil {
			return value.Value{}, err
		}
		var from, to value.Value
		if n.Children[1] != nil {
			from, err = evalExprSync(s, n.Children[1])
			if err != nil {
				return value.Value{}, err
			}
		}
		if n.Children[2] != nil {
			to, err = evalExprSync(s, n.Children[2])
			if err != nil {
				return value.Value{}, err
			}
		}
		return sliceAccess(base, from, to), nil

	case program.NodeCall:
		return callBuiltin(s, n)

	default:
		return value.AsError(fmt.Sprintf("unsupported expression node kind %v in this position", n.Kind), "SyntaxError", n.Loc.String()), nil
	}
}

func literalValue(n *program.Node) value.Value {
	switch n.DeclaredType {
	case value.TypeNumber:
		return value.Wrap(n.Number, value.SourceLiteral, value.TypeNumber)
	case value.TypeBoolean:
		return value.Wrap(n.Bool, value.SourceLiteral, value.TypeBoolean)
	case value.TypeJSON:
		return value.Null()
	default:
		if n.Text == "" && n.Number == 0 && !n.Bool {
			return value.Null()
		}
		return value.Wrap(n.Text, value.SourceLiteral, value.TypeText)
	}
}

func lookupIdentifier(s *state.State, name string) (value.Value, error) {
	top := s.CurrentFrame()
	v, ok := top.Lookup(name)
	if !ok && top.ModulePath == "" && len(s.CallStack) > 1 {
		// Outer call frames are not in scope, but the program frame at
		// the bottom of the stack holds the program globals.
		v, ok = s.CallStack[0].Lookup(name)
	}
	if ok {
		if v.Pending() {
			return value.Value{}, &pendingJoin{opIDs: []string{v.AsyncHandle}}
		}
		return v, nil
	}
	if imp, ok := s.ImportedNames[name]; ok {
		return resolveImportedName(s, imp)
	}
	return value.Value{}, fmt.Errorf("undefined name %q", name)
}

func resolveImportedName(s *state.State, imp state.ImportedName) (value.Value, error) {
	switch imp.SourceType {
	case "vibe":
		if mod, ok := s.VibeModules[imp.Source]; ok {
			if v, ok := mod.Globals[imp.OriginalName]; ok {
				return v, nil
			}
		}
	}
	return value.Value{}, fmt.Errorf("unresolved import %q from %q", imp.OriginalName, imp.Source)
}

func memberAccess(base value.Value, field string) value.Value {
	rec, ok := base.Payload.(value.Record)
	if !ok {
		if m, ok := base.Payload.(map[string]any); ok {
			rec = value.Record(m)
		} else {
			return value.AsError(fmt.Sprintf("cannot access field %q on %T", field, base.Payload), "TypeError", "")
		}
	}
	raw, ok := rec[field]
	if !ok {
		return value.Null()
	}
	if v, ok := raw.(value.Value); ok {
		return v
	}
	return value.Wrap(raw, value.SourceLiteral, "")
}

func indexAccess(base, idx value.Value) value.Value {
	n, ok := idx.Number()
	if !ok {
		return value.AsError("index must be a number", "TypeError", "")
	}
	i := int(n)
	switch seq := base.Payload.(type) {
	case []any:
		if i < 0 || i >= len(seq) {
			return value.AsError("index out of range", "RangeError", "")
		}
		return value.Wrap(seq[i], value.SourceLiteral, "")
	case string:
		r := []rune(seq)
		if i < 0 || i >= len(r) {
			return value.AsError("index out of range", "RangeError", "")
		}
		return value.Wrap(string(r[i]), value.SourceLiteral, value.TypeText)
	default:
		return value.AsError(fmt.Sprintf("cannot index %T", base.Payload), "TypeError", "")
	}
}

func sliceAccess(base, from, to value.Value) value.Value {
	switch seq := base.Payload.(type) {
	case []any:
		f, t := sliceBounds(len(seq), from, to)
		return value.Wrap(append([]any(nil), seq[f:t]...), value.SourceLiteral, "")
	case string:
		r := []rune(seq)
		f, t := sliceBounds(len(r), from, to)
		return value.Wrap(string(r[f:t]), value.SourceLiteral, value.TypeText)
	default:
		return value.AsError(fmt.Sprintf("cannot slice %T", base.Payload), "TypeError", "")
	}
}

func sliceBounds(n int, from, to value.Value) (int, int) {
	f, t := 0, n
	if fv, ok := from.Number(); ok {
		f = clamp(int(fv), 0, n)
	}
	if tv, ok := to.Number(); ok {
		t = clamp(int(tv), 0, n)
	}
	if f > t {
		f = t
	}
	return f, t
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
