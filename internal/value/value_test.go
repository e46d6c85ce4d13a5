package value

import "testing"

func TestWrap_ValidCoercion(t *testing.T) {
	v := Wrap(float64(30), SourceLiteral, TypeNumber)
	if v.Error {
		t.Fatalf("expected non-errored value, got error: %v", v.ErrDetail)
	}
	n, ok := v.Number()
	if !ok || n != 30 {
		t.Errorf("expected payload 30, got %v", v.Payload)
	}
}

func TestWrap_InvalidCoercionBecomesErrored(t *testing.T) {
	v := Wrap("not-a-bool", SourceLiteral, TypeBoolean)
	if !v.Error {
		t.Fatalf("expected errored value for bad boolean coercion")
	}
	if v.Payload != nil {
		t.Errorf("errored value must have nil payload, got %v", v.Payload)
	}
}

func TestBinaryOp_ErroredOperandPropagates(t *testing.T) {
	errored := AsError("boom", "TypeError", "")
	ok := Wrap(float64(5), SourceLiteral, TypeNumber)

	r := BinaryOp("+", errored, ok)
	if !r.Error {
		t.Fatalf("expected errored result")
	}
	if r.ErrMessage() != "boom" {
		t.Errorf("expected propagated message 'boom', got %q", r.ErrMessage())
	}
}

func TestBinaryOp_ArithmeticOnNullErrors(t *testing.T) {
	n := Null()
	five := Wrap(float64(5), SourceLiteral, TypeNumber)
	r := BinaryOp("+", n, five)
	if !r.Error {
		t.Fatalf("expected errored result for null arithmetic")
	}
}

func TestBinaryOp_ConcatTreatsNullAsEmptyText(t *testing.T) {
	n := Null()
	hello := Wrap("hello", SourceLiteral, TypeText)
	r := BinaryOp("+", hello, n)
	if r.Error {
		t.Fatalf("unexpected error: %v", r.ErrDetail)
	}
	s, _ := r.Text()
	if s != "hello" {
		t.Errorf("expected 'hello', got %q", s)
	}
}

func TestBinaryOp_ErroredTransitivity(t *testing.T) {
	// (a + b) + c where a is errored equals errored with a's details.
	a := AsError("a failed", "TypeError", "loc-a")
	b := Wrap(float64(1), SourceLiteral, TypeNumber)
	c := Wrap(float64(2), SourceLiteral, TypeNumber)

	ab := BinaryOp("+", a, b)
	abc := BinaryOp("+", ab, c)

	if !abc.Error || abc.ErrMessage() != "a failed" {
		t.Errorf("expected transitive propagation of a's error, got %+v", abc)
	}
}

func TestUnaryMinus_OnNullErrors(t *testing.T) {
	r := UnaryMinus(Null())
	if !r.Error {
		t.Fatalf("expected error for unary minus on null")
	}
}

func TestFieldAccess_ErroredValue(t *testing.T) {
	e := AsError("bad thing", "TypeError", "")
	errField := e.FieldAccess("err")
	b, ok := errField.Bool()
	if !ok || !b {
		t.Errorf("expected .err to be true, got %+v", errField)
	}
	other := e.FieldAccess("whatever")
	if !other.IsNull() {
		t.Errorf("expected arbitrary field access on errored value to be null, got %+v", other)
	}
}
