// Package semantic builds the symbol table for a C-minus program, assigns
// static memory offsets and type-checks expressions. It annotates every
// syntax tree node with its owning scope and every expression with its
// resolved type.
package semantic

import (
	"fmt"

	"github.com/rs/zerolog"

	"cminus/internal/ast"
	"cminus/internal/symtab"
)

// DefaultMaxMemory is the size of TM data memory the layout is computed for.
const DefaultMaxMemory = 1024

// Options configures an Analyzer.
type Options struct {
	MaxMemory int
	Logger    zerolog.Logger
}

// DefaultOptions returns options for the standard TM memory size with
// logging disabled.
func DefaultOptions() Options {
	return Options{MaxMemory: DefaultMaxMemory, Logger: zerolog.Nop()}
}

// ---------------------------------------------------------------------------
// Analyser
// ---------------------------------------------------------------------------

// Analyzer holds the state of one compilation's semantic analysis.
type Analyzer struct {
	opts        Options
	log         zerolog.Logger
	table       *symtab.Table
	diagnostics Diagnostics
	seen        map[Diagnostic]bool
	layout      layout
	compounds   int           // program-wide compound scope counter
	funcBody    bool          // the next compound is a function's own body
	currentFunc *ast.FuncDecl // the function we are currently inside
}

// New returns an analyzer. A zero MaxMemory selects DefaultMaxMemory.
func New(opts Options) *Analyzer {
	if opts.MaxMemory == 0 {
		opts.MaxMemory = DefaultMaxMemory
	}
	return &Analyzer{
		opts: opts,
		log:  opts.Logger.With().Str("phase", "analyze").Logger(),
		seen: make(map[Diagnostic]bool),
	}
}

// Analyze runs semantic analysis on the given program and returns the
// populated symbol table and all diagnostics. The diagnostics are empty
// when the program is semantically valid.
func Analyze(program *ast.Program, opts Options) (*symtab.Table, Diagnostics) {
	a := New(opts)
	return a.Analyze(program)
}

// Analyze checks for main, builds the symbol table and type-checks.
func (a *Analyzer) Analyze(program *ast.Program) (*symtab.Table, Diagnostics) {
	a.checkMain(program)
	a.BuildSymbolTable(program)
	a.TypeCheck(program)
	return a.table, a.diagnostics
}

// Table returns the symbol table built by the last BuildSymbolTable call.
func (a *Analyzer) Table() *symtab.Table { return a.table }

// Diagnostics returns everything reported so far.
func (a *Analyzer) Diagnostics() Diagnostics { return a.diagnostics }

// ---- helpers ----

// report records a diagnostic. An identical diagnostic is recorded once,
// so re-visiting a node never duplicates a report.
func (a *Analyzer) report(kind Kind, pos ast.Position, format string, args ...any) {
	d := Diagnostic{Kind: kind, Message: fmt.Sprintf(format, args...), Pos: pos}
	if a.seen[d] {
		return
	}
	a.seen[d] = true
	a.diagnostics = append(a.diagnostics, d)
	a.log.Debug().Stringer("kind", kind).Int("line", pos.Line).Msg(d.Message)
}

func (a *Analyzer) enterScope(name string) ast.ScopeID {
	id := a.table.EnterScope(name)
	a.log.Trace().Str("scope", name).Int("id", int(id)).Msg("enter scope")
	return id
}

func (a *Analyzer) exitScope() {
	a.log.Trace().Str("scope", a.table.CurrentScope().Name).Msg("exit scope")
	a.table.ExitScope()
}

// ---------------------------------------------------------------------------
// main check
// ---------------------------------------------------------------------------

func (a *Analyzer) checkMain(prog *ast.Program) {
	for _, fn := range prog.Functions() {
		if fn.Name == "main" {
			return
		}
	}
	a.report(MissingMain, ast.Position{}, "undefined reference to 'main'")
}

// ---------------------------------------------------------------------------
// Pass 1: symbol table construction
// ---------------------------------------------------------------------------

// BuildSymbolTable walks the program in source order, declaring every name
// and resolving every reference. It starts from a fresh table and fresh
// counters, so running it twice over the same tree yields the same table.
func (a *Analyzer) BuildSymbolTable(prog *ast.Program) *symtab.Table {
	a.table = symtab.New()
	a.layout = newLayout(a.opts.MaxMemory)
	a.compounds = 0
	a.funcBody = false
	a.currentFunc = nil

	a.declareBuiltins()
	for _, d := range prog.Decls {
		a.buildStmt(d)
	}
	a.currentFunc = nil
	a.log.Debug().Int("scopes", len(a.table.Scopes())).Msg("symbol table built")
	return a.table
}

// declareBuiltins pre-declares the two I/O functions.
func (a *Analyzer) declareBuiltins() {
	for _, b := range []struct {
		name string
		typ  ast.Type
	}{
		{"input", ast.Integer},
		{"output", ast.Void},
	} {
		a.table.DeclareOrRecordUse(symtab.Symbol{
			Name:   b.name,
			Type:   b.typ,
			Kind:   symtab.Function,
			Offset: a.layout.functionOffset(),
		}, 0)
	}
}

func (a *Analyzer) buildStmt(s ast.Stmt) {
	if s == nil {
		return
	}
	s.Annot().Scope = a.table.Current()

	switch s := s.(type) {
	case *ast.FuncDecl:
		a.buildFunc(s)
	case *ast.ParamDecl:
		a.buildParam(s)
	case *ast.VarDecl:
		a.buildVar(s)
	case *ast.CompoundStmt:
		a.buildCompound(s)
	case *ast.IfStmt:
		a.buildExpr(s.Cond)
		a.buildStmt(s.Then)
		a.buildStmt(s.Else)
	case *ast.WhileStmt:
		a.buildExpr(s.Cond)
		a.buildStmt(s.Body)
	case *ast.ReturnStmt:
		a.checkReturn(s)
		a.buildExpr(s.Value)
	case *ast.ExprStmt:
		a.buildExpr(s.X)
	}
}

func (a *Analyzer) buildFunc(fn *ast.FuncDecl) {
	a.funcBody = true
	a.layout.resetLocal()

	if _, ok := a.table.Lookup(fn.Name); ok {
		a.report(Redeclaration, fn.Pos, "'%s' was already declared", fn.Name)
	} else {
		a.table.Declare(symtab.Symbol{
			Name:   fn.Name,
			Type:   fn.ReturnType,
			Kind:   symtab.Function,
			Offset: a.layout.functionOffset(),
		}, fn.Pos.Line)
	}

	a.enterScope(fn.Name)
	a.currentFunc = fn
	for _, p := range fn.Params {
		a.buildStmt(p)
	}
	if fn.Body != nil {
		a.buildStmt(fn.Body)
	}
	a.exitScope()
	a.funcBody = false
}

// allocate assigns the offset for a new variable or parameter in the
// current scope.
func (a *Analyzer) allocate(size int) int {
	if a.table.InGlobal() {
		return a.layout.allocGlobal(size)
	}
	return a.layout.allocLocal(size)
}

func (a *Analyzer) buildParam(p *ast.ParamDecl) {
	if _, ok := a.table.LookupCurrent(p.Name); ok {
		a.report(Redeclaration, p.Pos, "'%s' was already declared as a variable", p.Name)
		return
	}
	a.table.Declare(symtab.Symbol{
		Name:    p.Name,
		Type:    p.Type,
		Kind:    symtab.Parameter,
		IsArray: p.IsArray,
		Offset:  a.allocate(0),
	}, p.Pos.Line)
}

func (a *Analyzer) buildVar(v *ast.VarDecl) {
	if v.Type == ast.Void {
		a.report(VoidVariable, v.Pos, "variable declared void")
		return
	}
	if sym, ok := a.table.Lookup(v.Name); ok && sym.Kind == symtab.Function {
		a.report(Redeclaration, v.Pos, "'%s' was already declared as a function", v.Name)
		return
	}
	if _, ok := a.table.LookupCurrent(v.Name); ok {
		a.report(Redeclaration, v.Pos, "'%s' was already declared as a variable", v.Name)
		return
	}

	kind, size := symtab.Variable, 0
	if v.IsArray {
		kind, size = symtab.Array, v.Size
	}
	a.table.Declare(symtab.Symbol{
		Name:    v.Name,
		Type:    v.Type,
		Kind:    kind,
		IsArray: v.IsArray,
		Offset:  a.allocate(size),
	}, v.Pos.Line)
}

func (a *Analyzer) buildCompound(c *ast.CompoundStmt) {
	pushed := false
	if a.funcBody || a.table.InGlobal() {
		// The function's scope already covers its own body.
		a.funcBody = false
	} else {
		a.compounds++
		c.Scope = a.enterScope(fmt.Sprintf("compound%d", a.compounds))
		pushed = true
	}

	for _, d := range c.Decls {
		a.buildStmt(d)
	}
	for _, s := range c.Stmts {
		a.buildStmt(s)
	}

	if pushed {
		a.exitScope()
	}
}

func (a *Analyzer) buildExpr(e ast.Expr) {
	if e == nil {
		return
	}
	e.Annot().Scope = a.table.Current()

	switch e := e.(type) {
	case *ast.IdentExpr:
		a.resolve(e.Name, e.Pos)
		a.buildExpr(e.Index)
	case *ast.CallExpr:
		a.resolve(e.Name, e.Pos)
		for _, arg := range e.Args {
			a.buildExpr(arg)
		}
	case *ast.BinaryExpr:
		a.buildExpr(e.Left)
		a.buildExpr(e.Right)
	case *ast.UnaryExpr:
		a.buildExpr(e.Operand)
	case *ast.AssignExpr:
		a.buildExpr(e.Target)
		a.buildExpr(e.Value)
	case *ast.ConstExpr:
	}
}

// resolve records a reference to name or reports that it is not visible.
func (a *Analyzer) resolve(name string, pos ast.Position) {
	if !a.table.AddReferenceLine(name, pos.Line) {
		a.report(UndeclaredReference, pos, "'%s' was not declared in this scope", name)
	}
}

func (a *Analyzer) checkReturn(r *ast.ReturnStmt) {
	if a.currentFunc == nil {
		return
	}
	if a.currentFunc.ReturnType != ast.Void && r.Value == nil {
		a.report(MissingReturnValue, r.Pos, "Missing return value in function returning non-void")
	}
}

// ---------------------------------------------------------------------------
// Pass 2: type checking
// ---------------------------------------------------------------------------

// TypeCheck resolves the type of every expression. It must run after
// BuildSymbolTable over the same tree.
func (a *Analyzer) TypeCheck(prog *ast.Program) {
	if a.table == nil {
		a.BuildSymbolTable(prog)
	}
	for _, d := range prog.Decls {
		a.checkStmt(d)
	}
	a.currentFunc = nil
}

func (a *Analyzer) checkStmt(s ast.Stmt) {
	switch s := s.(type) {
	case *ast.FuncDecl:
		a.currentFunc = s
		if s.Body != nil {
			a.checkStmt(s.Body)
		}
	case *ast.CompoundStmt:
		for _, st := range s.Stmts {
			a.checkStmt(st)
		}
	case *ast.IfStmt:
		a.checkExpr(s.Cond)
		a.checkStmt(s.Then)
		if s.Else != nil {
			a.checkStmt(s.Else)
		}
	case *ast.WhileStmt:
		a.checkExpr(s.Cond)
		a.checkStmt(s.Body)
	case *ast.ReturnStmt:
		if s.Value != nil {
			a.checkExpr(s.Value)
		}
		a.checkReturn(s)
	case *ast.ExprStmt:
		if s.X != nil {
			a.checkExpr(s.X)
		}
	}
}

func (a *Analyzer) lookup(name string, n ast.Node) (*symtab.Symbol, bool) {
	return a.table.LookupFrom(name, n.Annot().Scope)
}

// checkExpr resolves and records the type of e and its children.
func (a *Analyzer) checkExpr(e ast.Expr) ast.Type {
	t := a.exprType(e)
	e.Annot().Type = t
	return t
}

func (a *Analyzer) exprType(e ast.Expr) ast.Type {
	switch e := e.(type) {
	case *ast.IdentExpr:
		if e.Index != nil {
			a.checkExpr(e.Index)
		}
		if sym, ok := a.lookup(e.Name, e); ok {
			return sym.Type
		}
		return ast.Integer

	case *ast.ConstExpr:
		return ast.Integer

	case *ast.UnaryExpr:
		if a.checkExpr(e.Operand) != ast.Integer {
			a.report(TypeMismatch, e.Pos, "operand must be of type integer")
		}
		return ast.Integer

	case *ast.BinaryExpr:
		left, right := a.checkExpr(e.Left), a.checkExpr(e.Right)
		if left != ast.Integer || right != ast.Integer {
			a.report(TypeMismatch, e.Pos, "operands must be of type integer")
		}
		if e.IsComparison() {
			return ast.Boolean
		}
		return ast.Integer

	case *ast.CallExpr:
		for _, arg := range e.Args {
			a.checkExpr(arg)
		}
		if sym, ok := a.lookup(e.Name, e); ok {
			return sym.Type
		}
		return ast.Void

	case *ast.AssignExpr:
		a.checkExpr(e.Target)
		a.checkAssignValue(e)
		return ast.Integer
	}
	return ast.Void
}

// checkAssignValue requires the right-hand side of an assignment to
// produce an integer.
func (a *Analyzer) checkAssignValue(e *ast.AssignExpr) {
	t := a.checkExpr(e.Value)

	if call, ok := e.Value.(*ast.CallExpr); ok {
		sym, found := a.lookup(call.Name, call)
		if !found {
			return
		}
		if sym.Type != ast.Integer {
			a.report(TypeMismatch, e.Pos, "invalid use of void expression")
			return
		}
	}
	if t != ast.Integer {
		a.report(TypeMismatch, e.Pos, "invalid use of void expression")
		return
	}
	if id, ok := e.Value.(*ast.IdentExpr); ok {
		if _, found := a.lookup(id.Name, id); !found {
			a.report(UndeclaredReference, id.Pos, "'%s' was not declared in this scope", id.Name)
		}
	}
}
