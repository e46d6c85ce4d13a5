package program

import "github.com/vibe-run/vibe/internal/value"

// InstrKind is the closed union of instruction kinds the step engine
// dispatches on (design note "tagged instruction variants").
type InstrKind int

const (
	IDeclareVar InstrKind = iota
	IAssign
	IBinaryOp
	IUnaryOp
	ICompareOp
	IMemberAccess
	IIndexAccess
	ISlice
	ICall
	IReturn
	IThrow
	IIfBranch
	ILoopIter
	IEnterBlock
	IExitBlock
	IPopFrame
	IPendingAI
	IPendingHostBlock
	IPendingImportedHostCall
	IPendingTool
	IPendingCompress
	IStartAsync
	IAwaitAsyncSet
	IPushValue // push a pre-evaluated value as the next operand
	IEvalNode // evaluate an arbitrary program.Node (control-flow entry point)
	INoop
)

func (k InstrKind) String() string {
	names := [...]string{
		"declare_var", "assign", "binary_op", "unary_op", "compare_op",
		"member_access", "index_access", "slice", "call", "return",
		"throw", "if_branch", "loop_iter", "enter_block", "exit_block",
		"pop_frame", "pending_ai", "pending_host_block",
		"pending_imported_host_call", "pending_tool", "pending_compress",
		"start_async", "await_async_set", "push_value", "eval_node", "noop",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return "unknown"
}

// Instruction is one unit of work on the instruction stack. Only the
// fields relevant to Kind are populated, a tagged-record shape (like
// internal/ai's unified Request) rather than one struct type per kind,
// so the step engine can dispatch from a flat table.
type Instruction struct {
	Kind InstrKind
	Loc Location

	// declare_var / assign / member/index targets.
	Name string
	DeclaredType value.Type
	Destructure []DestructureField

	// Node being evaluated, when this instruction lazily expands into
	// more instructions (e.g. IEvalNode for an arbitrary expression).
	Node *Node

	// Operator for binary_op / compare_op / unary_op.
	Op string

	// Loop iteration state for loop_iter: the bound variable name and
	// the remaining elements to iterate (already resolved to wrapped
	// values so for-loops over ranges/sequences share one code path).
	LoopVar string
	LoopItems []value.Value
	LoopIndex int
	LoopBody []*Node

	// if_branch arms.
	Then []*Node
	Else []*Node

	// Call target and argument expressions.
	CallTarget string
	CallArgs []*Node

	// Pending-operation descriptors (one populated per Kind).
	PendingAI *PendingAI
	PendingHost *PendingHostBlock
	PendingTool *PendingTool
	PendingAsync *PendingAsyncAwait

	// start_async target.
	AsyncVarName string
	AsyncExpr *Node
	AsyncIsFunctionCall bool
	AsyncFuncName string
	AsyncFuncArgs []*Node

	// A value already computed, for IPushValue.
	Value value.Value
}

// PendingAI describes a suspended LM operation (awaiting_ai).
type PendingAI struct {
	OperationType string // do | vibe | compress
	ModelVarName string
	Prompt string
	TargetType value.Type
	Destructure []DestructureField
	ResultVarName string
}

// PendingHostBlock describes a suspended host-block evaluation
// (awaiting_host / awaiting_imported_host).
type PendingHostBlock struct {
	Params []Param
	BoundValues []value.Value
	BoundNames []string
	Body string
	Loc Location
	Imported bool
	HostModule string
	HostFunction string
	ResultVarName string
}

// PendingTool describes a suspended direct tool invocation requested by
// the step engine outside of an LM tool-calling round (rare — most tool
// invocation happens inside the AI engine's tool loop).
type PendingTool struct {
	ToolName string
	Args map[string]any
	ResultVarName string
}

// PendingAsyncAwait names the op ids an await_async_set instruction is
// blocking on ( join points).
type PendingAsyncAwait struct {
	OpIDs []string
}
