package value

import "fmt"

// Propagate implements propagate_errors: if any input is errored,
// the FIRST errored input's detail is carried forward under a new
// identity; otherwise op is applied to the validated inputs.
func Propagate(inputs []Value, op func([]Value) Value) Value {
	for _, in := range inputs {
		if in.Error {
			return AsErrorFrom(*in.ErrDetail)
		}
	}
	return op(inputs)
}

// BinaryOp applies one of the arithmetic/comparison/concat operators:
// an errored operand always wins, null is additively identity-less for
// arithmetic (errors) but empty text for concatenation.
func BinaryOp(op string, a, b Value) Value {
	if a.Error {
		return AsErrorFrom(*a.ErrDetail)
	}
	if b.Error {
		return AsErrorFrom(*b.ErrDetail)
	}

	if op == "+" {
		if _, aIsText := a.Payload.(string); aIsText {
			return concat(a, b)
		}
		if _, bIsText := b.Payload.(string); bIsText {
			return concat(a, b)
		}
	}

	an, aOK := a.Number()
	bn, bOK := b.Number()
	if !aOK || !bOK {
		if a.IsNull() || b.IsNull() {
			return AsError("arithmetic on null is not permitted", "TypeError", "")
		}
		return AsError(fmt.Sprintf("cannot apply %q to %T and %T", op, a.Payload, b.Payload), "TypeError", "")
	}

	var result float64
	switch op {
	case "+":
		result = an + bn
	case "-":
		result = an - bn
	case "*":
		result = an * bn
	case "/":
		if bn == 0 {
			return AsError("division by zero", "ArithmeticError", "")
		}
		result = an / bn
	case "%":
		if bn == 0 {
			return AsError("modulo by zero", "ArithmeticError", "")
		}
		result = float64(int64(an) % int64(bn))
	default:
		return AsError(fmt.Sprintf("unknown binary operator %q", op), "SyntaxError", "")
	}
	if !isFiniteNumber(result) {
		return AsError("arithmetic result is not finite", "ArithmeticError", "")
	}
	return Wrap(result, SourceLiteral, TypeNumber)
}

// concat treats null as empty text.
func concat(a, b Value) Value {
	as, aIsText := a.Payload.(string)
	if !aIsText {
		if a.IsNull() {
			as = ""
		} else {
			as = fmt.Sprint(a.Payload)
		}
	}
	bs, bIsText := b.Payload.(string)
	if !bIsText {
		if b.IsNull() {
			bs = ""
		} else {
			bs = fmt.Sprint(b.Payload)
		}
	}
	return Wrap(as+bs, SourceLiteral, TypeText)
}

// Compare implements equality/ordering. Equality with null is the only
// permitted truthiness check.
func Compare(op string, a, b Value) Value {
	if a.Error {
		return AsErrorFrom(*a.ErrDetail)
	}
	if b.Error {
		return AsErrorFrom(*b.ErrDetail)
	}
	switch op {
	case "==":
		return Wrap(deepEqual(a.Payload, b.Payload), SourceLiteral, TypeBoolean)
	case "!=":
		return Wrap(!deepEqual(a.Payload, b.Payload), SourceLiteral, TypeBoolean)
	}
	an, aOK := a.Number()
	bn, bOK := b.Number()
	if !aOK || !bOK {
		return AsError(fmt.Sprintf("cannot compare %T and %T with %q", a.Payload, b.Payload, op), "TypeError", "")
	}
	var result bool
	switch op {
	case "<":
		result = an < bn
	case "<=":
		result = an <= bn
	case ">":
		result = an > bn
	case ">=":
		result = an >= bn
	default:
		return AsError(fmt.Sprintf("unknown comparison operator %q", op), "SyntaxError", "")
	}
	return Wrap(result, SourceLiteral, TypeBoolean)
}

func deepEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return fmt.Sprint(a) == fmt.Sprint(b) // payloads are JSON-shaped primitives/maps/slices
}

// UnaryMinus implements unary minus; unary minus on null is an error.
func UnaryMinus(a Value) Value {
	if a.Error {
		return AsErrorFrom(*a.ErrDetail)
	}
	n, ok := a.Number()
	if !ok {
		return AsError("unary minus requires a number", "TypeError", "")
	}
	return Wrap(-n, SourceLiteral, TypeNumber)
}
