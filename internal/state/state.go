package state

import (
	"github.com/vibe-run/vibe/internal/program"
	"github.com/vibe-run/vibe/internal/value"
)

// Status is the runtime's current disposition.
type Status string

const (
	StatusRunning          Status = "running"
	StatusAwaitingAI       Status = "awaiting_ai"
	StatusAwaitingHost     Status = "awaiting_host"
	StatusAwaitingTool     Status = "awaiting_tool"
	StatusAwaitingCompress Status = "awaiting_compress"
	StatusAwaitingUser     Status = "awaiting_user"
	StatusAwaitingAsync    Status = "awaiting_async"
	StatusCompleted        Status = "completed"
	StatusError            Status = "error"
)

// VibeModule is a loaded Vibe-language module.
type VibeModule struct {
	Globals   map[string]value.Value
	Exports   map[string]bool
	Functions map[string]*program.FunctionDef
}

// HostModule is a loaded host-language module.
type HostModule struct {
	Exports  map[string]HostFunction
	TypeDefs map[string]*value.TypeDef
}

// HostFunction is a callable exported from a host module, invoked via
// the host-function loader capability.
type HostFunction func(args []value.Value) (value.Value, error)

// ImportedName records where a free name resolves to when it isn't
// found in frame/module/program scope.
type ImportedName struct {
	Source       string // module path or "system/..."
	SourceType   string // "vibe" | "host" | "system"
	OriginalName string
}

// AsyncEntry tracks one scheduled/running/terminal async operation.
type AsyncEntry struct {
	OpID   string
	Kind   string // ai | host-block | imported-host | vibe-function
	Status string // scheduled | running | completed | failed
	Value  value.Value
	Err    error
}

// AIInteraction is one logged LM round, kept for diagnostics and for
// the verbose-log sink.
type AIInteraction struct {
	OperationType string
	Model         string
	Prompt        string
	Response      string
	Err           string
}

// PendingDestructure names a field awaiting multi-field return binding.
type PendingDestructure struct {
	Name string
	Type value.Type
}

// StartDescriptor is one scheduled-but-not-yet-started async operation.
type StartDescriptor struct {
	OpID         string
	VarName      string
	Kind         string
	Prompt       string // for ai-kind starts
	ModelVar     string
	Body         *program.Node // expression to evaluate for host-block/function starts
	FuncName     string
	FuncArgs     []value.Value
	DeclaredType value.Type
}

// State is the runtime's complete mutable picture. Methods that
// "mutate" return a new *State; see the package doc for the sharing
// contract.
type State struct {
	Status Status

	CallStack        []*Frame // top = innermost, last element
	InstructionStack []*program.Instruction
	ProgramTree      *program.Tree

	Functions     map[string]*program.FunctionDef
	VibeModules   map[string]*VibeModule
	HostModules   map[string]*HostModule
	ImportedNames map[string]ImportedName
	TypeDefs      *value.Registry

	AsyncOps           map[string]*AsyncEntry
	PendingAsyncIDs    map[string]bool
	AwaitingAsyncIDs   []string
	PendingAsyncStarts []StartDescriptor
	AsyncVarToOp       map[string]string

	PendingAI       *program.PendingAI
	PendingHost     *program.PendingHostBlock
	PendingTool     *program.PendingTool
	PendingCompress *program.PendingAI

	PendingDestructuring []PendingDestructure

	LastResult  value.Value
	ErrorObject *value.ErrDetail

	IsInAsyncIsolation bool
	RootDir            string
	MaxParallel        int

	AIInteractions []AIInteraction

	// OperandStack is the stack PushOperand/PopOperand/PeekOperand work
	// on (see operand.go); shallowClone copies it. The step engine's
	// expression evaluator does not use it.
	OperandStack []value.Value

	opSeq int
}

// CreateInitialState builds the root State for a fresh run.
func CreateInitialState(tree *program.Tree, rootDir string, maxParallel int) *State {
	if maxParallel <= 0 {
		maxParallel = 4
	}
	root := NewFrame("<program>", "")
	return &State{
		Status:          StatusRunning,
		CallStack:       []*Frame{root},
		ProgramTree:     tree,
		Functions:       tree.Functions,
		VibeModules:     make(map[string]*VibeModule),
		HostModules:     make(map[string]*HostModule),
		ImportedNames:   make(map[string]ImportedName),
		TypeDefs:        value.NewRegistry(),
		AsyncOps:        make(map[string]*AsyncEntry),
		PendingAsyncIDs: make(map[string]bool),
		AsyncVarToOp:    make(map[string]string),
		RootDir:         rootDir,
		MaxParallel:     maxParallel,
	}
}

// ResolveName looks up name against the innermost frame's scope chain,
// for callers outside the step engine (the LM engine resolving a model
// variable, the driver resolving a tool target) that need a read
// without the step engine's implicit-join suspend semantics.
func (s *State) ResolveName(name string) (value.Value, bool) {
	return s.CurrentFrame().Lookup(name)
}

// CurrentFrame returns the innermost (top) call frame.
func (s *State) CurrentFrame() *Frame {
	return s.CallStack[len(s.CallStack)-1]
}

// PushFrame enters a new activation frame, returning a new *State; the
// caller's frame is left untouched.
func (s *State) PushFrame(f *Frame) *State {
	cp := s.shallowClone()
	cp.CallStack = append(append([]*Frame(nil), s.CallStack...), f)
	return cp
}

// PopFrame leaves the innermost frame.
func (s *State) PopFrame() *State {
	cp := s.shallowClone()
	if len(cp.CallStack) > 1 {
		cp.CallStack = cp.CallStack[:len(cp.CallStack)-1]
	}
	return cp
}

// NextOpID allocates a monotonically increasing async operation handle.
func (s *State) NextOpID(prefix string) string {
	s.opSeq++
	return prefix + "-" + program.PadSeq(s.opSeq)
}

// shallowClone copies the State struct, the call-stack slice and the
// async bookkeeping maps/slices that mutators write through. The *Frame
// values in CallStack are shared with s, not cloned.
func (s *State) shallowClone() *State {
	cp := *s
	cp.CallStack = append([]*Frame(nil), s.CallStack...)
	cp.AsyncOps = cloneAsyncOps(s.AsyncOps)
	cp.PendingAsyncIDs = cloneBoolSet(s.PendingAsyncIDs)
	cp.AwaitingAsyncIDs = append([]string(nil), s.AwaitingAsyncIDs...)
	cp.PendingAsyncStarts = append([]StartDescriptor(nil), s.PendingAsyncStarts...)
	cp.AsyncVarToOp = cloneStringMap(s.AsyncVarToOp)
	cp.PendingDestructuring = append([]PendingDestructure(nil), s.PendingDestructuring...)
	cp.AIInteractions = s.AIInteractions // append-only log; sharing is safe
	cp.OperandStack = append([]value.Value(nil), s.OperandStack...)
	return &cp
}

func cloneAsyncOps(m map[string]*AsyncEntry) map[string]*AsyncEntry {
	cp := make(map[string]*AsyncEntry, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

func cloneBoolSet(m map[string]bool) map[string]bool {
	cp := make(map[string]bool, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

func cloneStringMap(m map[string]string) map[string]string {
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

// CloneForIsolation deep-clones the frame/locals subtree but resets all
// async-related fields, for an isolated async function invocation.
func (s *State) CloneForIsolation(newFrame *Frame) *State {
	cp := s.shallowClone()
	// Keep only the bottom (program) frame plus the fresh isolated frame;
	// an isolated invocation does not see its caller's inner call chain.
	cp.CallStack = []*Frame{s.CallStack[0].clone(), newFrame}
	cp.AsyncOps = make(map[string]*AsyncEntry)
	cp.PendingAsyncIDs = make(map[string]bool)
	cp.AwaitingAsyncIDs = nil
	cp.PendingAsyncStarts = nil
	cp.AsyncVarToOp = make(map[string]string)
	cp.IsInAsyncIsolation = true
	cp.Status = StatusRunning
	return cp
}
