// Package state implements the runtime's activation frames, call stack,
// module registries, and overall RuntimeState, plus the mutators the
// step engine and driver use to advance it. Mutators such as PushFrame
// and PopFrame return a new *State with its own copy of the call-stack
// slice, the async bookkeeping maps/slices and the operand stack; the
// *Frame values are shared by pointer, so a write into a frame's scopes
// or Pending is visible through every *State holding that frame.
// CloneForIsolation gives an isolated async invocation its own clone of
// the program frame.
package state

import (
	"github.com/vibe-run/vibe/internal/program"
	"github.com/vibe-run/vibe/internal/value"
)

// Scope is one lexical block of locals; frames push/pop these on block
// entry/exit.
type Scope struct {
	Locals map[string]value.Value
}

func newScope() *Scope {
	return &Scope{Locals: make(map[string]value.Value)}
}

func (s *Scope) clone() *Scope {
	cp := newScope()
	for k, v := range s.Locals {
		cp.Locals[k] = v
	}
	return cp
}

// Frame is one activation record. Pending is this frame's own
// instruction continuation — the step engine treats CallStack as both
// the value-frame stack and the control stack, so a suspend inside a
// callee leaves the caller's remaining statements sitting untouched in
// its own Pending slice until the callee's frame is popped.
type Frame struct {
	Name       string
	Scopes     []*Scope // innermost last
	ModulePath string   // "" => resolves against program globals
	ReturnSlot *value.Value
	LoopStack  []LoopContext

	Pending   []*program.Instruction
	ResultVar string // caller-side variable to bind this frame's return value into ("" discards it)
}

// LoopContext names a loop variable and its iteration index. Nothing in
// the module appends to Frame.LoopStack: a for-loop's progress is kept on
// its loop_iter instruction (LoopItems/LoopIndex).
type LoopContext struct {
	VarName string
	Index   int
}

// NewFrame creates a frame with a single root scope.
func NewFrame(name, modulePath string) *Frame {
	return &Frame{Name: name, Scopes: []*Scope{newScope()}, ModulePath: modulePath}
}

func (f *Frame) clone() *Frame {
	cp := &Frame{
		Name:       f.Name,
		ModulePath: f.ModulePath,
		LoopStack:  append([]LoopContext(nil), f.LoopStack...),
		Pending:    append([]*program.Instruction(nil), f.Pending...),
		ResultVar:  f.ResultVar,
	}
	cp.Scopes = make([]*Scope, len(f.Scopes))
	for i, s := range f.Scopes {
		cp.Scopes[i] = s.clone()
	}
	if f.ReturnSlot != nil {
		v := *f.ReturnSlot
		cp.ReturnSlot = &v
	}
	return cp
}

// PushScope enters a new lexical block.
func (f *Frame) PushScope() {
	f.Scopes = append(f.Scopes, newScope())
}

// PopScope exits the innermost lexical block.
func (f *Frame) PopScope() {
	if len(f.Scopes) > 1 {
		f.Scopes = f.Scopes[:len(f.Scopes)-1]
	}
}

// Declare binds name in the innermost scope.
func (f *Frame) Declare(name string, v value.Value) {
	f.Scopes[len(f.Scopes)-1].Locals[name] = v
}

// Lookup resolves name against the frame's scopes only, innermost first.
func (f *Frame) Lookup(name string) (value.Value, bool) {
	for i := len(f.Scopes) - 1; i >= 0; i-- {
		if v, ok := f.Scopes[i].Locals[name]; ok {
			return v, true
		}
	}
	return value.Value{}, false
}

// Assign updates an existing binding in the nearest scope that declares
// it; returns false if the name is not bound in this frame.
func (f *Frame) Assign(name string, v value.Value) bool {
	for i := len(f.Scopes) - 1; i >= 0; i-- {
		if _, ok := f.Scopes[i].Locals[name]; ok {
			f.Scopes[i].Locals[name] = v
			return true
		}
	}
	return false
}
