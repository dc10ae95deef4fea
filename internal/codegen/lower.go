package codegen

import (
	"fmt"

	"github.com/rs/zerolog"

	"cminus/internal/ast"
	"cminus/internal/symtab"
	"cminus/internal/tm"
)

// initialTmp is the first free frame slot of every function: 0(fp) holds
// the caller's frame pointer and -1(fp) the return address.
const initialTmp = -2

// ---------------------------------------------------------------------------
// Lowerer: translates an annotated AST Program into TM instructions
// ---------------------------------------------------------------------------

// Lowerer walks the AST and emits TM code. Values flow through the
// accumulator; intermediate results are spilled to frame slots below the
// current temporary offset.
type Lowerer struct {
	code  *tm.Stream
	funcs *FuncTable
	table *symtab.Table
	max   int
	log   zerolog.Logger

	sourceName string

	// Next free frame-relative slot of the current function.
	tmp int

	// Slot reserved before the first function for the jump to main.
	mainJump *tm.Patch

	// inMain is set while main's body is lowered. haltJumps are main's
	// exits that stop the machine when main was not called.
	inMain    bool
	haltJumps []tm.Patch

	errs []error
}

func newLowerer(table *symtab.Table, opts *Options) *Lowerer {
	return &Lowerer{
		code:  tm.NewStream(),
		funcs: NewFuncTable(),
		table: table,
		max:   opts.MaxMemory,
		log:   opts.Logger.With().Str("phase", "codegen").Logger(),

		sourceName: opts.SourceName,
	}
}

func (l *Lowerer) fail(err error) {
	l.log.Error().Err(err).Msg("code generation")
	l.errs = append(l.errs, err)
}

func (l *Lowerer) comment(format string, args ...any) {
	l.code.Comment(fmt.Sprintf(format, args...))
}

// fill redeems a reserved slot, recording stream errors as internal errors.
func (l *Lowerer) fill(p tm.Patch, emit func()) {
	if err := l.code.Fill(p, emit); err != nil {
		l.fail(fmt.Errorf("%w: %w", ErrInternal, err))
	}
}

// symbol resolves name from the scope the analyzer recorded on n.
func (l *Lowerer) symbol(name string, n ast.Node) (*symtab.Symbol, bool) {
	sym, ok := l.table.LookupFrom(name, n.Annot().Scope)
	if !ok {
		l.fail(fmt.Errorf("%w: no symbol for %q at line %d", ErrInternal, name, n.GetPos().Line))
	}
	return sym, ok
}

// ---------------------------------------------------------------------------
// Program and declarations
// ---------------------------------------------------------------------------

func (l *Lowerer) lowerProgram(prog *ast.Program) {
	l.comment("C- Compilation to TM Code")
	if l.sourceName != "" {
		l.comment("File: %s", l.sourceName)
	}
	l.comment("Standard prelude:")
	l.code.EmitRM(tm.LD, tm.MP, 0, tm.AC, "load maxaddress from location 0")
	l.code.EmitRM(tm.LD, tm.FP, 0, tm.AC, "load maxaddress from location 0")
	l.code.EmitRM(tm.ST, tm.AC, 0, tm.AC, "clear location 0")
	l.comment("End of standard prelude.")

	for _, d := range prog.Decls {
		l.lowerStmt(d)
	}

	halt := l.code.Loc()
	for _, p := range l.haltJumps {
		l.fill(p, func() {
			l.code.EmitRMAbs(tm.JEQ, tm.AC2, halt, "main: halt at top level")
		})
	}
	l.comment("End of execution.")
	l.code.EmitRO(tm.HALT, 0, 0, 0, "")
}

func (l *Lowerer) lowerFunction(fn *ast.FuncDecl) {
	l.comment("-> Init Function (%s)", fn.Name)
	entry := l.code.Loc()
	if l.mainJump == nil {
		p := l.code.ReservePatch()
		l.mainJump = &p
		entry = p.Loc + 1
	}
	l.tmp = initialTmp

	// Registered before the body so recursive calls resolve.
	l.funcs.Register(fn.Name, entry)
	l.log.Trace().Str("func", fn.Name).Int("entry", entry).Msg("function entry")

	if fn.Name == "main" {
		l.fill(*l.mainJump, func() {
			l.code.EmitRMAbs(tm.LDA, tm.PC, entry, "jump to main")
		})
		// The top-level run of main starts with fp == mp and has no caller.
		l.code.EmitRO(tm.SUB, tm.AC2, tm.FP, tm.MP, "main: fp - mp")
		l.code.EmitRM(tm.JEQ, tm.AC2, 1, tm.PC, "main: no caller at top level")
		l.code.EmitRM(tm.ST, tm.AC, -1, tm.FP, "store return address")
		l.inMain = true
		l.lowerParams(fn)
		l.lowerStmt(fn.Body)
		l.exitMain()
		l.inMain = false
		l.comment("<- End Function")
		return
	}

	l.code.EmitRM(tm.ST, tm.AC, -1, tm.FP, "store return address")
	l.lowerParams(fn)
	l.lowerStmt(fn.Body)

	if fn.ReturnType == ast.Void {
		l.code.EmitRM(tm.LDA, tm.AC1, 0, tm.FP, "save current fp into ac1")
		l.code.EmitRM(tm.LD, tm.FP, 0, tm.FP, "make fp = ofp")
		l.code.EmitRM(tm.LD, tm.PC, -1, tm.AC1, "return to caller")
	}
	l.comment("<- End Function")
}

// exitMain halts when main is the top-level run and otherwise returns to
// the caller like any other function.
func (l *Lowerer) exitMain() {
	l.code.EmitRO(tm.SUB, tm.AC2, tm.FP, tm.MP, "main: fp - mp")
	l.haltJumps = append(l.haltJumps, l.code.ReservePatch())
	l.code.EmitRM(tm.LDA, tm.AC1, 0, tm.FP, "save current fp into ac1")
	l.code.EmitRM(tm.LD, tm.FP, 0, tm.FP, "make fp = ofp")
	l.code.EmitRM(tm.LD, tm.PC, -1, tm.AC1, "return to caller")
}

func (l *Lowerer) lowerParams(fn *ast.FuncDecl) {
	for _, p := range fn.Params {
		l.lowerStmt(p)
	}
}

func (l *Lowerer) lowerVarDecl(v *ast.VarDecl) {
	if !v.IsArray {
		l.comment("-> declare var")
		if v.Annot().Scope != symtab.GlobalID {
			l.tmp--
		}
		l.comment("<- declare var")
		return
	}

	l.comment("-> declare vector")
	defer l.comment("<- declare vector")
	sym, ok := l.symbol(v.Name, v)
	if !ok {
		return
	}
	if sym.IsGlobal() {
		// The descriptor holds its own address; elements sit just below it.
		l.code.EmitRM(tm.LDC, tm.AC, sym.Offset, tm.AC, "load global position to ac")
		l.code.EmitRM(tm.LDC, tm.GP, 0, tm.AC, "load 0")
		l.code.EmitRM(tm.ST, tm.AC, sym.Offset, tm.GP, "store global position")
		return
	}
	off := sym.Offset - l.max
	l.code.EmitRM(tm.LDA, tm.AC, off, tm.FP, "guard vector address")
	l.code.EmitRM(tm.ST, tm.AC, off, tm.FP, "store vector address")
	l.tmp -= v.Size + 1
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (l *Lowerer) lowerStmt(s ast.Stmt) {
	switch s := s.(type) {
	case nil:
	case *ast.FuncDecl:
		l.lowerFunction(s)
	case *ast.ParamDecl:
		if s.IsArray {
			l.comment("-> Param vector")
			l.tmp--
			l.comment("<- Param vector")
		} else {
			l.comment("-> Param")
			l.tmp--
			l.comment("<- Param")
		}
	case *ast.VarDecl:
		l.lowerVarDecl(s)
	case *ast.CompoundStmt:
		for _, d := range s.Decls {
			l.lowerVarDecl(d)
		}
		for _, st := range s.Stmts {
			l.lowerStmt(st)
		}
	case *ast.IfStmt:
		l.lowerIf(s)
	case *ast.WhileStmt:
		l.lowerWhile(s)
	case *ast.ReturnStmt:
		l.comment("-> return")
		if s.Value != nil {
			l.lowerExpr(s.Value)
		}
		if l.inMain {
			l.exitMain()
			l.comment("<- return")
			return
		}
		l.code.EmitRM(tm.LDA, tm.AC1, 0, tm.FP, "load return address")
		l.code.EmitRM(tm.LD, tm.FP, 0, tm.FP, "make fp = ofp")
		l.code.EmitRM(tm.LD, tm.PC, -1, tm.AC1, "return to caller")
		l.comment("<- return")
	case *ast.ExprStmt:
		if s.X != nil {
			l.lowerExpr(s.X)
		}
	default:
		l.fail(fmt.Errorf("%w: unexpected statement %T", ErrInternal, s))
	}
}

// lowerIf: a false (zero) condition jumps to the else branch; the end of
// the then branch jumps over it. Both jumps are patched once their targets
// are known.
func (l *Lowerer) lowerIf(s *ast.IfStmt) {
	l.comment("-> if")
	l.lowerExpr(s.Cond)
	toElse := l.code.ReservePatch()
	l.comment("if: jump to else belongs here")

	l.lowerStmt(s.Then)
	toEnd := l.code.ReservePatch()
	l.comment("if: jump to end belongs here")

	l.fill(toElse, func() {
		l.code.EmitRMAbs(tm.JEQ, tm.AC, toEnd.Loc+1, "if: jmp to else")
	})

	l.lowerStmt(s.Else)
	end := l.code.Loc()
	l.fill(toEnd, func() {
		l.code.EmitRMAbs(tm.LDA, tm.PC, end, "jmp to end")
	})
	l.comment("<- if")
}

func (l *Lowerer) lowerWhile(s *ast.WhileStmt) {
	l.comment("-> while")
	l.comment("repeat: jump after body comes back here")
	top := l.code.Loc()
	l.lowerExpr(s.Cond)
	exit := l.code.ReservePatch()

	l.lowerStmt(s.Body)
	l.code.EmitRMAbs(tm.LDA, tm.PC, top, "jump back to body")

	end := l.code.Loc()
	l.fill(exit, func() {
		l.code.EmitRMAbs(tm.JEQ, tm.AC, end, "repeat: jmp to end")
	})
	l.comment("<- while")
}

// ---------------------------------------------------------------------------
// Expressions: each leaves its value in ac
// ---------------------------------------------------------------------------

var arithOps = map[string]tm.Op{
	"+": tm.ADD,
	"-": tm.SUB,
	"*": tm.MUL,
	"/": tm.DIV,
}

var compareOps = map[string]tm.Op{
	"<":  tm.JLT,
	"<=": tm.JLE,
	">":  tm.JGT,
	">=": tm.JGE,
	"==": tm.JEQ,
	"!=": tm.JNE,
}

func (l *Lowerer) lowerExpr(e ast.Expr) {
	switch e := e.(type) {
	case *ast.ConstExpr:
		l.comment("-> Const")
		l.code.EmitRM(tm.LDC, tm.AC, e.Value, tm.AC, "load const")
		l.comment("<- Const")
	case *ast.IdentExpr:
		l.lowerIdent(e)
	case *ast.UnaryExpr:
		l.comment("-> Unary")
		l.lowerExpr(e.Operand)
		if e.Op == "-" {
			l.code.EmitRM(tm.LDC, tm.AC1, 0, tm.AC, "load constant 0")
			l.code.EmitRO(tm.SUB, tm.AC, tm.AC1, tm.AC, "unary -")
		}
		l.comment("<- Unary")
	case *ast.BinaryExpr:
		l.lowerBinary(e)
	case *ast.CallExpr:
		l.lowerCall(e)
	case *ast.AssignExpr:
		l.lowerAssign(e)
	default:
		l.fail(fmt.Errorf("%w: unexpected expression %T", ErrInternal, e))
	}
}

// push spills ac to a fresh temporary slot; pop reloads it into reg.
func (l *Lowerer) push(comment string) {
	l.code.EmitRM(tm.ST, tm.AC, l.tmp, tm.FP, comment)
	l.tmp--
}

func (l *Lowerer) pop(reg tm.Reg, comment string) {
	l.tmp++
	l.code.EmitRM(tm.LD, reg, l.tmp, tm.FP, comment)
}

func (l *Lowerer) lowerBinary(e *ast.BinaryExpr) {
	l.comment("-> Op")
	l.lowerExpr(e.Left)
	l.push("op: push left")
	l.lowerExpr(e.Right)
	l.pop(tm.AC1, "op: load left")

	if op, ok := arithOps[e.Op]; ok {
		l.code.EmitRO(op, tm.AC, tm.AC1, tm.AC, "op "+e.Op)
	} else if jump, ok := compareOps[e.Op]; ok {
		l.code.EmitRO(tm.SUB, tm.AC, tm.AC1, tm.AC, "op "+e.Op)
		l.code.EmitRM(jump, tm.AC, 2, tm.PC, "br if true")
		l.code.EmitRM(tm.LDC, tm.AC, 0, tm.AC, "false case")
		l.code.EmitRM(tm.LDA, tm.PC, 1, tm.PC, "unconditional jmp")
		l.code.EmitRM(tm.LDC, tm.AC, 1, tm.AC, "true case")
	} else {
		l.fail(fmt.Errorf("%w: unknown operator %q at line %d", ErrInternal, e.Op, e.Pos.Line))
	}
	l.comment("<- Op")
}

// loadSlot loads the word stored in sym's own slot into reg. For arrays
// that word is the base address held by the descriptor.
func (l *Lowerer) loadSlot(reg tm.Reg, sym *symtab.Symbol, comment string) {
	if sym.IsGlobal() {
		l.code.EmitRM(tm.LDC, tm.GP, 0, tm.AC, "load 0")
		l.code.EmitRM(tm.LD, reg, sym.Offset, tm.GP, comment)
		return
	}
	l.code.EmitRM(tm.LD, reg, sym.Offset-l.max, tm.FP, comment)
}

func (l *Lowerer) storeSlot(sym *symtab.Symbol, comment string) {
	if sym.IsGlobal() {
		l.code.EmitRM(tm.LDC, tm.GP, 0, tm.AC, "load 0")
		l.code.EmitRM(tm.ST, tm.AC, sym.Offset, tm.GP, comment)
		return
	}
	l.code.EmitRM(tm.ST, tm.AC, sym.Offset-l.max, tm.FP, comment)
}

// elementAddress leaves the address of element id.Index of sym in reg.
// Elements are stored below the base, so the address is base-(index+1).
// A non-constant index is evaluated first, which clobbers ac.
func (l *Lowerer) elementAddress(reg tm.Reg, id *ast.IdentExpr, sym *symtab.Symbol) {
	if c, ok := id.Index.(*ast.ConstExpr); ok {
		l.loadSlot(reg, sym, "get the address of the vector")
		l.code.EmitRM(tm.LDC, tm.IDX, c.Value, tm.AC, "get the value of the index")
	} else {
		l.lowerExpr(id.Index)
		l.code.EmitRM(tm.LDA, tm.IDX, 0, tm.AC, "move index to idx")
		l.loadSlot(reg, sym, "get the address of the vector")
	}
	l.code.EmitRM(tm.LDC, tm.AC2, 1, tm.AC, "load 1")
	l.code.EmitRO(tm.ADD, tm.IDX, tm.IDX, tm.AC2, "index + 1")
	l.code.EmitRO(tm.SUB, reg, reg, tm.IDX, "get the address")
}

func (l *Lowerer) lowerIdent(id *ast.IdentExpr) {
	l.comment("-> Id")
	defer l.comment("<- Id")
	sym, ok := l.symbol(id.Name, id)
	if !ok {
		return
	}
	if id.Index == nil {
		l.loadSlot(tm.AC, sym, "load id value")
		return
	}
	l.comment("-> Vector")
	l.elementAddress(tm.AC, id, sym)
	l.code.EmitRM(tm.LD, tm.AC, 0, tm.AC, "get the value of the vector")
	l.comment("<- Vector")
}

func (l *Lowerer) lowerAssign(e *ast.AssignExpr) {
	target := e.Target
	sym, ok := l.symbol(target.Name, target)
	if !ok {
		return
	}

	if target.Index == nil {
		l.comment("-> assign")
		l.lowerExpr(e.Value)
		l.storeSlot(sym, "store value")
		l.comment("<- assign")
		return
	}

	l.comment("-> assign vector")
	l.lowerExpr(e.Value)
	if _, constant := target.Index.(*ast.ConstExpr); constant {
		l.elementAddress(tm.AC1, target, sym)
	} else {
		l.push("assign: push value")
		l.elementAddress(tm.AC1, target, sym)
		l.pop(tm.AC, "assign: load value")
	}
	l.code.EmitRM(tm.ST, tm.AC, 0, tm.AC1, "store value in vector")
	l.comment("<- assign vector")
}

// lowerCall implements the calling convention: the caller saves its frame
// pointer at the first free slot, the arguments follow below the return
// address slot, and the new frame starts at the saved slot.
func (l *Lowerer) lowerCall(c *ast.CallExpr) {
	l.comment("-> Function Call (%s)", c.Name)
	defer l.comment("<- Function Call")

	switch c.Name {
	case "input":
		l.code.EmitRO(tm.IN, tm.AC, 0, 0, "read input")
		return
	case "output":
		for _, arg := range c.Args {
			l.lowerExpr(arg)
		}
		l.code.EmitRO(tm.OUT, tm.AC, 0, 0, "print value")
		return
	}

	frame := l.tmp
	l.code.EmitRM(tm.ST, tm.FP, frame, tm.FP, "guard fp")
	l.tmp -= 2
	for _, arg := range c.Args {
		l.lowerExpr(arg)
		l.code.EmitRM(tm.ST, tm.AC, l.tmp, tm.FP, "store arg value")
		l.tmp--
	}
	l.tmp = frame

	l.code.EmitRM(tm.LDA, tm.FP, frame, tm.FP, "change fp")
	here := l.code.Loc()
	l.code.EmitRM(tm.LDC, tm.AC, here+2, tm.AC, "load return address")

	target, ok := l.funcs.Lookup(c.Name)
	if !ok {
		target = -1
		l.fail(fmt.Errorf("%w: %q at line %d", ErrUnresolvedCall, c.Name, c.Pos.Line))
	}
	l.code.EmitRMAbs(tm.LDA, tm.PC, target, "jump to function")
}
