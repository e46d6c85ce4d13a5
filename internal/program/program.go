// Package program defines the pre-parsed program tree and the tagged
// instruction records the step engine consumes. Parsing and semantic
// analysis are explicitly out of scope ; this package only shapes
// the artifact a Parser capability is expected to hand back.
package program

import "github.com/vibe-run/vibe/internal/value"

// Location identifies a source position for diagnostics.
type Location struct {
	File string
	Line int
	Col int
}

func (l Location) String() string {
	if l.File == "" {
		return ""
	}
	return l.File + ":" + itoa(l.Line) + ":" + itoa(l.Col)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Node is one node of the parsed program tree: a statement or
// expression, carrying its own source Location for diagnostics.
type Node struct {
	Kind NodeKind
	Loc Location

	// Literal / identifier payloads.
	Text string
	Number float64
	Bool bool

	// Structural children, reused across node kinds (e.g. Children[0] is
	// the left operand of a BinaryExpr, Children[1] the right).
	Children []*Node

	// Declared type annotation on declarations / typed returns.
	DeclaredType value.Type

	// Destructuring target field list, for multi-field declarations.
	DestructureFields []DestructureField

	// Operator for BinaryExpr/UnaryExpr/Compare nodes.
	Op string

	// Block body for control-flow nodes (If/For/FunctionDecl/...).
	Body []*Node
	Else []*Node

	// Parameter list for FunctionDecl and host-block parameter binding.
	Params []Param

	// Import path, module alias, for Import nodes.
	ModulePath string
}

type DestructureField struct {
	Name string
	Type value.Type
}

type Param struct {
	Name string
	Alias string // "alias=x" binding form 
	Expr *Node // the bound expression (identifier, dotted path, index, slice)
}

// NodeKind enumerates program-tree node shapes. This is a parser-facing
// concept distinct from the instruction kinds the step engine consumes
// (see instruction.go); compile lowers nodes to instructions, and several
// node kinds share one instruction kind.
type NodeKind int

const (
	NodeProgram NodeKind = iota
	NodeBlock
	NodeLiteral
	NodeIdentifier
	NodeDeclareVar
	NodeAssign
	NodeBinaryExpr
	NodeUnaryExpr
	NodeCompareExpr
	NodeMemberAccess
	NodeIndexAccess
	NodeSlice
	NodeCall
	NodeReturn
	NodeThrow
	NodeIf
	NodeForRange
	NodeFunctionDecl
	NodeImport
	NodeTemplateString
	NodeDoExpr // `do "prompt" model` — single-round LM operation
	NodeVibeExpr // `vibe "prompt" model` — multi-round LM operation
	NodeCompressExpr
	NodeHostBlock // embedded host-language snippet
	NodeStartAsync // `async let x =...`
	NodeAwaitAsync
)

// Tree is the parsed representation of one source file.
type Tree struct {
	Root *Node
	Path string
	Functions map[string]*FunctionDef
}

// FunctionDef is a top-level or module-level function declaration.
type FunctionDef struct {
	Name string
	Params []Param
	Body []*Node
	ModulePath string // "" for program-level functions
}
