package step

import (
	"fmt"

	"github.com/vibe-run/vibe/internal/program"
	"github.com/vibe-run/vibe/internal/state"
	"github.com/vibe-run/vibe/internal/value"
)

// Engine advances a State through synchronous instructions. It holds no
// state of its own; every run is driven by the *state.State passed in,
// so the same Engine value is safe to share across concurrently
// executing isolated async invocations.
type Engine struct{}

func New() *Engine { return &Engine{} }

// CompileBody exposes compileBlock to callers outside this package that
// need to build a fresh call frame directly — namely the async
// scheduler, which starts isolated vibe-function invocations without
// going through execCall's in-place frame push.
func CompileBody(body []*program.Node) []*program.Instruction {
	return compileBlock(body)
}

// LoadProgram seeds the root frame's instruction continuation from the
// parsed tree's top-level statements.
func (e *Engine) LoadProgram(s *state.State, tree *program.Tree) {
	s.CallStack[0].Pending = compileBlock(tree.Root.Body)
}

// Run advances s until it suspends into an awaiting_* status, completes,
// or errors; the driver owns dispatching the suspension itself.
func (e *Engine) Run(s *state.State) *state.State {
	for s.Status == state.StatusRunning {
		frame := s.CurrentFrame()
		if len(frame.Pending) == 0 {
			s = returnFromFrame(s, value.Null())
			continue
		}
		instr := frame.Pending[0]
		frame.Pending = frame.Pending[1:]
		var next *state.State
		next, _ = e.exec(s, frame, instr)
		s = next
	}
	return s
}

func (e *Engine) exec(s *state.State, frame *state.Frame, instr *program.Instruction) (*state.State, error) {
	switch instr.Kind {
	case program.INoop:
		return s, nil

	case program.IEvalNode:
		v, err := evalExprSync(s, instr.Node)
		if err != nil {
			return requeue(s, frame, instr, err)
		}
		s.LastResult = v
		return s, nil

	case program.IDeclareVar, program.IAssign:
		v, err := evalExprSync(s, instr.Node)
		if err != nil {
			return requeue(s, frame, instr, err)
		}
		bindLocal(frame, instr, v)
		s.LastResult = v
		return s, nil

	case program.IReturn:
		v := value.Null()
		if instr.Node != nil {
			var err error
			v, err = evalExprSync(s, instr.Node)
			if err != nil {
				return requeue(s, frame, instr, err)
			}
		}
		return returnFromFrame(s, v), nil

	case program.IThrow:
		v, err := evalExprSync(s, instr.Node)
		if err != nil {
			return requeue(s, frame, instr, err)
		}
		msg := v.String()
		if v.Error {
			msg = v.ErrMessage()
		}
		return s.Fail(value.ErrDetail{Message: msg, Type: "ThrownError", Location: instr.Loc.String()}), nil

	case program.IIfBranch:
		cond, err := evalExprSync(s, instr.Node)
		if err != nil {
			return requeue(s, frame, instr, err)
		}
		b, ok := cond.Bool()
		if cond.Error || !ok {
			return s.Fail(value.ErrDetail{Message: "if condition must evaluate to a boolean", Type: "TypeError", Location: instr.Loc.String()}), nil
		}
		branch := instr.Else
		if b {
			branch = instr.Then
		}
		frame.Pending = append(compileBlock(branch), frame.Pending...)
		return s, nil

	case program.ILoopIter:
		return execLoop(s, frame, instr), nil

	case program.ICall:
		return execCall(s, frame, instr)

	case program.IPendingAI:
		p := *instr.PendingAI
		s.PendingAI = &p
		s.Status = state.StatusAwaitingAI
		return s, nil

	case program.IPendingCompress:
		p := *instr.PendingAI
		s.PendingCompress = &p
		s.Status = state.StatusAwaitingCompress
		return s, nil

	case program.IPendingHostBlock:
		p := *instr.PendingHost
		bound := make([]value.Value, len(p.Params))
		for i, param := range p.Params {
			if param.Expr == nil {
				bound[i] = value.Null()
				continue
			}
			v, err := evalExprSync(s, param.Expr)
			if err != nil {
				return requeue(s, frame, instr, err)
			}
			bound[i] = v
		}
		p.BoundValues = bound
		s.PendingHost = &p
		s.Status = state.StatusAwaitingHost
		return s, nil

	case program.IPendingTool:
		p := *instr.PendingTool
		s.PendingTool = &p
		s.Status = state.StatusAwaitingTool
		return s, nil

	case program.IStartAsync:
		return execStartAsync(s, frame, instr), nil

	case program.IAwaitAsyncSet:
		ids := instr.PendingAsync.OpIDs
		if len(ids) == 0 {
			for id := range s.PendingAsyncIDs {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			return s, nil // nothing outstanding; await is a no-op
		}
		s.AwaitingAsyncIDs = ids
		s.Status = state.StatusAwaitingAsync
		return s, nil

	case program.IExitBlock:
		frame.PopScope()
		return s, nil

	case program.IPopFrame:
		return returnFromFrame(s, s.LastResult), nil

	default:
		return s.Fail(value.ErrDetail{Message: fmt.Sprintf("unhandled instruction kind %v", instr.Kind), Type: "InternalError", Location: instr.Loc.String()}), nil
	}
}

// requeue distinguishes an implicit async read-join (retry later) from a
// genuine evaluation failure (a scope/free-name error, which is fatal).
func requeue(s *state.State, frame *state.Frame, instr *program.Instruction, err error) (*state.State, error) {
	if pj, ok := err.(*pendingJoin); ok {
		frame.Pending = append([]*program.Instruction{instr}, frame.Pending...)
		s.AwaitingAsyncIDs = pj.opIDs
		s.Status = state.StatusAwaitingAsync
		return s, nil
	}
	return s.Fail(value.ErrDetail{Message: err.Error(), Type: "ScopeError", Location: instr.Loc.String()}), nil
}

func bindLocal(frame *state.Frame, instr *program.Instruction, v value.Value) {
	if len(instr.Destructure) > 0 {
		for _, d := range instr.Destructure {
			field := memberAccess(v, d.Name)
			if d.Type != "" && !field.Error {
				field = value.Wrap(field.Payload, field.Source, d.Type)
			}
			frame.Declare(d.Name, field)
		}
		return
	}
	if instr.DeclaredType != "" && !v.Error {
		v = value.Wrap(v.Payload, v.Source, instr.DeclaredType)
	}
	if instr.Kind == program.IAssign {
		frame.Assign(instr.Name, v)
		return
	}
	frame.Declare(instr.Name, v)
}

// returnFromFrame pops the innermost frame, binding its produced value
// into whatever the caller designated when it pushed this frame
// (Frame.ResultVar), or completing the run entirely if this was the
// program's root frame.
func returnFromFrame(s *state.State, v value.Value) *state.State {
	if len(s.CallStack) <= 1 {
		return s.Complete(v)
	}
	popped := s.CallStack[len(s.CallStack)-1]
	s2 := s.PopFrame()
	if popped.ResultVar != "" {
		if !s2.CurrentFrame().Assign(popped.ResultVar, v) {
			s2.CurrentFrame().Declare(popped.ResultVar, v)
		}
	}
	s2.LastResult = v
	return s2
}

func execLoop(s *state.State, frame *state.Frame, instr *program.Instruction) *state.State {
	if instr.LoopIndex < 0 {
		iterable, err := evalExprSync(s, instr.Node)
		if err != nil {
			r, _ := requeue(s, frame, instr, err)
			return r
		}
		items, ok := iterable.Payload.([]any)
		if !ok || iterable.Error {
			return s.Fail(value.ErrDetail{Message: "for-loop source must be an array", Type: "TypeError", Location: instr.Loc.String()})
		}
		wrapped := make([]value.Value, len(items))
		for i, it := range items {
			if v, ok := it.(value.Value); ok {
				wrapped[i] = v
			} else {
				wrapped[i] = value.Wrap(it, value.SourceLiteral, "")
			}
		}
		instr.LoopItems = wrapped
		instr.LoopIndex = 0
	}
	if instr.LoopIndex >= len(instr.LoopItems) {
		return s // loop exhausted; fall through to the rest of frame.Pending
	}
	item := instr.LoopItems[instr.LoopIndex]
	cont := *instr
	cont.LoopIndex = instr.LoopIndex + 1

	frame.PushScope()
	frame.Declare(instr.LoopVar, item)
	body := compileBlock(instr.LoopBody)
	body = append(body, &program.Instruction{Kind: program.IExitBlock})
	frame.Pending = append(append(append([]*program.Instruction(nil), body...), &cont), frame.Pending...)
	return s
}

func execStartAsync(s *state.State, frame *state.Frame, instr *program.Instruction) *state.State {
	opID := s.NextOpID("ts")
	desc := state.StartDescriptor{
		OpID:    opID,
		VarName: instr.AsyncVarName,
	}
	if instr.AsyncIsFunctionCall {
		desc.Kind = "vibe-function"
		desc.FuncName = instr.AsyncFuncName
		args := make([]value.Value, len(instr.AsyncFuncArgs))
		for i, a := range instr.AsyncFuncArgs {
			v, err := evalExprSync(s, a)
			if err != nil {
				r, _ := requeue(s, frame, instr, err)
				return r
			}
			args[i] = v
		}
		desc.FuncArgs = args
	} else if instr.AsyncExpr != nil && (instr.AsyncExpr.Kind == program.NodeDoExpr || instr.AsyncExpr.Kind == program.NodeVibeExpr) {
		desc.Kind = "ai"
		desc.Prompt = instr.AsyncExpr.Text
		if len(instr.AsyncExpr.Children) > 1 {
			desc.ModelVar = instr.AsyncExpr.Children[1].Text
		}
	} else if instr.AsyncExpr != nil {
		desc.Kind = "host-block"
		desc.Body = instr.AsyncExpr
	}
	s.PendingAsyncStarts = append(s.PendingAsyncStarts, desc)
	s.PendingAsyncIDs[opID] = true
	s.AsyncVarToOp[instr.AsyncVarName] = opID
	if instr.AsyncVarName != "" {
		frame.Declare(instr.AsyncVarName, value.Value{AsyncHandle: opID})
	}
	return s
}

func execCall(s *state.State, frame *state.Frame, instr *program.Instruction) (*state.State, error) {
	fn, ok := s.Functions[instr.CallTarget]
	if !ok {
		if b, ok := builtins[instr.CallTarget]; ok {
			args := make([]value.Value, len(instr.CallArgs))
			for i, a := range instr.CallArgs {
				v, err := evalExprSync(s, a)
				if err != nil {
					return requeue(s, frame, instr, err)
				}
				args[i] = v
			}
			v := b(args)
			if instr.Name != "" {
				frame.Declare(instr.Name, v)
			}
			s.LastResult = v
			return s, nil
		}
		return s.Fail(value.ErrDetail{Message: fmt.Sprintf("undefined function %q", instr.CallTarget), Type: "ScopeError", Location: instr.Loc.String()}), nil
	}

	args := make([]value.Value, len(instr.CallArgs))
	for i, a := range instr.CallArgs {
		v, err := evalExprSync(s, a)
		if err != nil {
			return requeue(s, frame, instr, err)
		}
		args[i] = v
	}

	newFrame := state.NewFrame(fn.Name, fn.ModulePath)
	newFrame.ResultVar = instr.Name
	for i, p := range fn.Params {
		if i < len(args) {
			newFrame.Declare(p.Name, args[i])
		} else {
			newFrame.Declare(p.Name, value.Null())
		}
	}
	newFrame.Pending = compileBlock(fn.Body)
	return s.PushFrame(newFrame), nil
}
