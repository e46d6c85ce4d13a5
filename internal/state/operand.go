package state

import "github.com/vibe-run/vibe/internal/value"

// PushOperand, PopOperand and PeekOperand maintain State.OperandStack.
// The step engine's expression evaluator (evalExprSync) evaluates nodes
// recursively and does not use this stack.
func (s *State) PushOperand(v value.Value) {
	s.OperandStack = append(s.OperandStack, v)
}

func (s *State) PopOperand() value.Value {
	n := len(s.OperandStack)
	v := s.OperandStack[n-1]
	s.OperandStack = s.OperandStack[:n-1]
	return v
}

func (s *State) PeekOperand() value.Value {
	return s.OperandStack[len(s.OperandStack)-1]
}
