// Package step implements the table-driven instruction dispatcher that
// advances one State by zero or more synchronous instructions until it
// either suspends into an awaiting_* status, completes, or errors. It
// treats state.State's CallStack as both the value-frame stack and the
// control stack: each Frame owns its own remaining instruction
// continuation in Frame.Pending, so a suspend deep inside a callee
// leaves every caller's continuation untouched.
package step

import (
	"github.com/vibe-run/vibe/internal/program"
)

// compileBlock lowers a statement sequence into a flat instruction list
// in execution order. Control-flow nodes (if/for) compile to a single
// instruction that lazily expands its own body back onto the owning
// frame's Pending list when executed, so nested suspends resume into
// the right place without re-walking the tree.
func compileBlock(body []*program.Node) []*program.Instruction {
	out := make([]*program.Instruction, 0, len(body))
	for _, n := range body {
		out = append(out, compileStmt(n)...)
	}
	return out
}

func compileStmt(n *program.Node) []*program.Instruction {
	switch n.Kind {
	case program.NodeDeclareVar:
		return []*program.Instruction{declOrAssignInstr(program.IDeclareVar, n)}

	case program.NodeAssign:
		return []*program.Instruction{declOrAssignInstr(program.IAssign, n)}

	case program.NodeReturn:
		var expr *program.Node
		if len(n.Children) > 0 {
			expr = n.Children[0]
		}
		return []*program.Instruction{{Kind: program.IReturn, Loc: n.Loc, Node: expr}}

	case program.NodeThrow:
		return []*program.Instruction{{Kind: program.IThrow, Loc: n.Loc, Node: n.Children[0]}}

	case program.NodeIf:
		return []*program.Instruction{{
			Kind: program.IIfBranch, Loc: n.Loc,
			Node: n.Children[0], Then: n.Body, Else: n.Else,
		}}

	case program.NodeForRange:
		return []*program.Instruction{{
			Kind: program.ILoopIter, Loc: n.Loc,
			Node: n.Children[0], LoopVar: n.Text, LoopBody: n.Body, LoopIndex: -1,
		}}

	case program.NodeImport:
		return []*program.Instruction{{Kind: program.INoop, Loc: n.Loc, Name: n.ModulePath}}

	case program.NodeFunctionDecl:
		return nil // already registered in the tree/function table at load time

	case program.NodeDoExpr, program.NodeVibeExpr, program.NodeCompressExpr:
		return []*program.Instruction{suspendInstrFor(n, "")}

	case program.NodeHostBlock:
		return []*program.Instruction{hostBlockInstr(n, "")}

	case program.NodeStartAsync:
		return []*program.Instruction{startAsyncInstr(n)}

	case program.NodeAwaitAsync:
		ids := make([]string, len(n.Children))
		for i, c := range n.Children {
			ids[i] = c.Text
		}
		return []*program.Instruction{{Kind: program.IAwaitAsyncSet, Loc: n.Loc, PendingAsync: &program.PendingAsyncAwait{OpIDs: ids}}}

	case program.NodeCall:
		return []*program.Instruction{callInstr(n, "")}

	default:
		// Bare expression statement: evaluate for side effects/LastResult.
		return []*program.Instruction{{Kind: program.IEvalNode, Loc: n.Loc, Node: n}}
	}
}

// declOrAssignInstr handles the one RHS shape that can be a suspend
// point (do/vibe/compress/host-block/start_async) by routing straight
// to the matching pending-instruction constructor with ResultVarName
// set, instead of a plain synchronous evaluation.
func declOrAssignInstr(kind program.InstrKind, n *program.Node) *program.Instruction {
	name := n.Text
	rhs := n.Children[0]
	switch rhs.Kind {
	case program.NodeDoExpr, program.NodeVibeExpr, program.NodeCompressExpr:
		return suspendInstrFor(rhs, name)
	case program.NodeHostBlock:
		return hostBlockInstr(rhs, name)
	case program.NodeStartAsync:
		i := startAsyncInstr(rhs)
		i.AsyncVarName = name
		return i
	case program.NodeCall:
		return callInstr(rhs, name)
	default:
		return &program.Instruction{
			Kind: kind, Loc: n.Loc, Name: name,
			DeclaredType: n.DeclaredType, Destructure: n.DestructureFields, Node: rhs,
		}
	}
}

func suspendInstrFor(n *program.Node, resultVar string) *program.Instruction {
	op := "do"
	switch n.Kind {
	case program.NodeVibeExpr:
		op = "vibe"
	case program.NodeCompressExpr:
		op = "compress"
	}
	var modelVar string
	if len(n.Children) > 1 {
		modelVar = n.Children[1].Text
	}
	pa := &program.PendingAI{
		OperationType: op,
		ModelVarName:  modelVar,
		Prompt:        n.Text,
		TargetType:    n.DeclaredType,
		Destructure:   n.DestructureFields,
		ResultVarName: resultVar,
	}
	kind := program.IPendingAI
	if op == "compress" {
		kind = program.IPendingCompress
	}
	return &program.Instruction{Kind: kind, Loc: n.Loc, PendingAI: pa, Name: resultVar}
}

func hostBlockInstr(n *program.Node, resultVar string) *program.Instruction {
	bound := make([]string, len(n.Params))
	for i, p := range n.Params {
		bound[i] = p.Name
	}
	ph := &program.PendingHostBlock{
		Params:        n.Params,
		BoundNames:    bound,
		Body:          n.Text,
		Loc:           n.Loc,
		ResultVarName: resultVar,
	}
	return &program.Instruction{Kind: program.IPendingHostBlock, Loc: n.Loc, PendingHost: ph, Name: resultVar}
}

func startAsyncInstr(n *program.Node) *program.Instruction {
	i := &program.Instruction{Kind: program.IStartAsync, Loc: n.Loc, AsyncVarName: n.Text}
	body := n.Children[0]
	if body.Kind == program.NodeCall {
		i.AsyncIsFunctionCall = true
		i.AsyncFuncName = body.Text
		i.AsyncFuncArgs = body.Children
	} else {
		i.AsyncExpr = body
	}
	return i
}

func callInstr(n *program.Node, resultVar string) *program.Instruction {
	return &program.Instruction{
		Kind: program.ICall, Loc: n.Loc,
		CallTarget: n.Text, CallArgs: n.Children, Name: resultVar,
	}
}
