package ast

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Source position
// ---------------------------------------------------------------------------

// Position represents a line/column pair in source code (1-based).
type Position struct {
	Line   int
	Column int
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// ---------------------------------------------------------------------------
// Types and annotations
// ---------------------------------------------------------------------------

// Type is a C-minus data type. Boolean only ever appears as the resolved
// type of a comparison; it cannot be declared.
type Type int

const (
	Void Type = iota
	Integer
	Boolean
)

var typeNames = [...]string{
	Void:    "void",
	Integer: "int",
	Boolean: "bool",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// ScopeID is a handle into the symbol table's scope arena.
// The zero value means the node has not been annotated yet.
type ScopeID int

const NoScope ScopeID = 0

// Annotation holds the fields the semantic analyzer fills in.
// Type is only meaningful on expressions.
type Annotation struct {
	Scope ScopeID
	Type  Type
}

// Annot returns the node's annotation for reading or writing.
func (a *Annotation) Annot() *Annotation { return a }

// ---------------------------------------------------------------------------
// Interfaces
// ---------------------------------------------------------------------------

// Node is implemented by every AST node.
type Node interface {
	GetPos() Position
	Annot() *Annotation
}

// Stmt is implemented by every statement node, including declarations.
type Stmt interface {
	Node
	stmtNode()
}

// Expr is implemented by every expression node.
type Expr interface {
	Node
	exprNode()
}

// ---------------------------------------------------------------------------
// Program (root)
// ---------------------------------------------------------------------------

// Program holds the top-level *VarDecl and *FuncDecl nodes in source order.
type Program struct {
	Decls []Stmt
	Pos   Position
}

func (n *Program) GetPos() Position { return n.Pos }

// Functions returns the function declarations of the program in source order.
func (n *Program) Functions() []*FuncDecl {
	var fns []*FuncDecl
	for _, d := range n.Decls {
		if fn, ok := d.(*FuncDecl); ok {
			fns = append(fns, fn)
		}
	}
	return fns
}

// ---------------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------------

// FuncDecl: <type> <name>(<params>) <body>
type FuncDecl struct {
	Annotation
	Name       string
	ReturnType Type
	Params     []*ParamDecl
	Body       *CompoundStmt
	Pos        Position
}

func (n *FuncDecl) GetPos() Position { return n.Pos }
func (n *FuncDecl) stmtNode()        {}

// ParamDecl: <type> <name> or <type> <name>[]
type ParamDecl struct {
	Annotation
	Name    string
	Type    Type
	IsArray bool
	Pos     Position
}

func (n *ParamDecl) GetPos() Position { return n.Pos }
func (n *ParamDecl) stmtNode()        {}

// VarDecl: <type> <name>; or <type> <name>[<size>];
type VarDecl struct {
	Annotation
	Name    string
	Type    Type
	IsArray bool
	Size    int // element count, 0 for scalars
	Pos     Position
}

func (n *VarDecl) GetPos() Position { return n.Pos }
func (n *VarDecl) stmtNode()        {}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// CompoundStmt is a brace-delimited block: local declarations, then statements.
type CompoundStmt struct {
	Annotation
	Decls []*VarDecl
	Stmts []Stmt
	Pos   Position
}

func (n *CompoundStmt) GetPos() Position { return n.Pos }
func (n *CompoundStmt) stmtNode()        {}

// IfStmt: if (<cond>) <then> [else <else>]
type IfStmt struct {
	Annotation
	Cond Expr
	Then Stmt
	Else Stmt // nil when there is no else branch
	Pos  Position
}

func (n *IfStmt) GetPos() Position { return n.Pos }
func (n *IfStmt) stmtNode()        {}

// WhileStmt: while (<cond>) <body>
type WhileStmt struct {
	Annotation
	Cond Expr
	Body Stmt
	Pos  Position
}

func (n *WhileStmt) GetPos() Position { return n.Pos }
func (n *WhileStmt) stmtNode()        {}

// ReturnStmt: return [<value>];
type ReturnStmt struct {
	Annotation
	Value Expr // nil for bare "return;"
	Pos   Position
}

func (n *ReturnStmt) GetPos() Position { return n.Pos }
func (n *ReturnStmt) stmtNode()        {}

// ExprStmt wraps a bare expression used as a statement. X is nil for ";".
type ExprStmt struct {
	Annotation
	X   Expr
	Pos Position
}

func (n *ExprStmt) GetPos() Position { return n.Pos }
func (n *ExprStmt) stmtNode()        {}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// IdentExpr is a variable reference, optionally indexed: x or a[i].
type IdentExpr struct {
	Annotation
	Name  string
	Index Expr // non-nil for an array element access
	Pos   Position
}

func (n *IdentExpr) GetPos() Position { return n.Pos }
func (n *IdentExpr) exprNode()        {}

// IsArray reports whether the reference selects an array element.
func (n *IdentExpr) IsArray() bool { return n.Index != nil }

// ConstExpr is an integer literal.
type ConstExpr struct {
	Annotation
	Value int
	Pos   Position
}

func (n *ConstExpr) GetPos() Position { return n.Pos }
func (n *ConstExpr) exprNode()        {}

// UnaryExpr: -<operand>
type UnaryExpr struct {
	Annotation
	Op      string
	Operand Expr
	Pos     Position
}

func (n *UnaryExpr) GetPos() Position { return n.Pos }
func (n *UnaryExpr) exprNode()        {}

// BinaryExpr: <left> <op> <right>
type BinaryExpr struct {
	Annotation
	Op    string
	Left  Expr
	Right Expr
	Pos   Position
}

func (n *BinaryExpr) GetPos() Position { return n.Pos }
func (n *BinaryExpr) exprNode()        {}

// IsComparison reports whether the operator yields a Boolean.
func (n *BinaryExpr) IsComparison() bool {
	switch n.Op {
	case "<", "<=", ">", ">=", "==", "!=":
		return true
	}
	return false
}

// CallExpr: <name>(<args>)
type CallExpr struct {
	Annotation
	Name string
	Args []Expr
	Pos  Position
}

func (n *CallExpr) GetPos() Position { return n.Pos }
func (n *CallExpr) exprNode()        {}

// AssignExpr: <target> = <value>
type AssignExpr struct {
	Annotation
	Target *IdentExpr
	Value  Expr
	Pos    Position
}

func (n *AssignExpr) GetPos() Position { return n.Pos }
func (n *AssignExpr) exprNode()        {}

// ---------------------------------------------------------------------------
// Debug printer: produces a human-readable tree representation
// ---------------------------------------------------------------------------

// DebugString returns a readable multi-line representation of the AST,
// including the analyzer's annotations where they have been filled in.
func DebugString(prog *Program) string {
	var b strings.Builder
	b.WriteString("Program\n")
	for _, d := range prog.Decls {
		debugStmt(&b, d, 1)
	}
	return b.String()
}

func writeIndent(b *strings.Builder, level int) {
	for i := 0; i < level; i++ {
		b.WriteString("  ")
	}
}

func writeScope(b *strings.Builder, n Node) {
	if s := n.Annot().Scope; s != NoScope {
		fmt.Fprintf(b, " @%d", s)
	}
	b.WriteString("\n")
}

func arraySuffix(isArray bool) string {
	if isArray {
		return "[]"
	}
	return ""
}

func debugStmt(b *strings.Builder, s Stmt, level int) {
	writeIndent(b, level)
	switch s := s.(type) {
	case *FuncDecl:
		params := make([]string, len(s.Params))
		for i, p := range s.Params {
			params[i] = p.Type.String() + " " + p.Name + arraySuffix(p.IsArray)
		}
		fmt.Fprintf(b, "FuncDecl %s %s(%s) line %d", s.ReturnType, s.Name, strings.Join(params, ", "), s.Pos.Line)
		writeScope(b, s)
		if s.Body != nil {
			debugStmt(b, s.Body, level+1)
		}
	case *ParamDecl:
		fmt.Fprintf(b, "ParamDecl %s %s%s line %d", s.Type, s.Name, arraySuffix(s.IsArray), s.Pos.Line)
		writeScope(b, s)
	case *VarDecl:
		if s.IsArray {
			fmt.Fprintf(b, "VarDecl %s %s[%d] line %d", s.Type, s.Name, s.Size, s.Pos.Line)
		} else {
			fmt.Fprintf(b, "VarDecl %s %s line %d", s.Type, s.Name, s.Pos.Line)
		}
		writeScope(b, s)
	case *CompoundStmt:
		fmt.Fprintf(b, "Compound [%d decls, %d statements]", len(s.Decls), len(s.Stmts))
		writeScope(b, s)
		for _, d := range s.Decls {
			debugStmt(b, d, level+1)
		}
		for _, st := range s.Stmts {
			debugStmt(b, st, level+1)
		}
	case *IfStmt:
		fmt.Fprintf(b, "If (%s)", ExprString(s.Cond))
		writeScope(b, s)
		debugStmt(b, s.Then, level+1)
		if s.Else != nil {
			writeIndent(b, level)
			b.WriteString("Else:\n")
			debugStmt(b, s.Else, level+1)
		}
	case *WhileStmt:
		fmt.Fprintf(b, "While (%s)", ExprString(s.Cond))
		writeScope(b, s)
		debugStmt(b, s.Body, level+1)
	case *ReturnStmt:
		if s.Value != nil {
			fmt.Fprintf(b, "Return %s", ExprString(s.Value))
		} else {
			b.WriteString("Return")
		}
		writeScope(b, s)
	case *ExprStmt:
		if s.X == nil {
			b.WriteString("Empty")
		} else {
			fmt.Fprintf(b, "Expr %s : %s", ExprString(s.X), s.X.Annot().Type)
		}
		writeScope(b, s)
	default:
		b.WriteString("<unknown stmt>\n")
	}
}

// ExprString returns a concise one-line representation of an expression.
func ExprString(e Expr) string {
	if e == nil {
		return "<nil>"
	}
	switch e := e.(type) {
	case *IdentExpr:
		if e.Index != nil {
			return fmt.Sprintf("%s[%s]", e.Name, ExprString(e.Index))
		}
		return e.Name
	case *ConstExpr:
		return fmt.Sprint(e.Value)
	case *UnaryExpr:
		return fmt.Sprintf("(%s%s)", e.Op, ExprString(e.Operand))
	case *BinaryExpr:
		return fmt.Sprintf("(%s %s %s)", ExprString(e.Left), e.Op, ExprString(e.Right))
	case *CallExpr:
		args := make([]string, len(e.Args))
		for i, a := range e.Args {
			args[i] = ExprString(a)
		}
		return fmt.Sprintf("%s(%s)", e.Name, strings.Join(args, ", "))
	case *AssignExpr:
		return fmt.Sprintf("%s = %s", ExprString(e.Target), ExprString(e.Value))
	default:
		return "<unknown expr>"
	}
}
