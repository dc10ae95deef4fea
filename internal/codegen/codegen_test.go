package codegen

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cminus/internal/ast"
	"cminus/internal/lexer"
	"cminus/internal/parser"
	"cminus/internal/semantic"
	"cminus/internal/symtab"
	"cminus/internal/tm"
)

// helper: parse source and run semantic analysis.
func analyze(t *testing.T, src string) (*ast.Program, *symtab.Table, semantic.Diagnostics) {
	t.Helper()
	tokens, lexErrs := lexer.Lex(src)
	require.Empty(t, lexErrs, "lex errors")
	prog, parseErrs := parser.Parse(tokens)
	require.Empty(t, parseErrs, "parse errors")
	table, diags := semantic.Analyze(prog, semantic.DefaultOptions())
	return prog, table, diags
}

// helper: analyze and generate, requiring both to succeed.
func mustGenerate(t *testing.T, src string) *Result {
	t.Helper()
	prog, table, diags := analyze(t, src)
	require.False(t, diags.HasErrors(), "semantic errors: %v", diags.Strings())
	res, err := Generate(prog, table, DefaultOptions())
	require.NoError(t, err)
	return res
}

type shape struct {
	op      tm.Op
	r, s, t int
}

func shapes(code *tm.Stream) []shape {
	var out []shape
	for _, in := range code.Instructions() {
		out = append(out, shape{in.Op, in.R, in.S, in.T})
	}
	return out
}

func findComment(code *tm.Stream, comment string) []tm.Instr {
	var out []tm.Instr
	for _, in := range code.Instructions() {
		if in.Comment == comment {
			out = append(out, in)
		}
	}
	return out
}

// target resolves a pc-relative jump to its absolute location.
func target(in tm.Instr) int { return in.Loc + 1 + in.S }

// ---------------------------------------------------------------------------
// Program shape
// ---------------------------------------------------------------------------

func TestPreludeAndHalt(t *testing.T) {
	res := mustGenerate(t, "void main(void) { }")
	got := shapes(res.Code)
	require.GreaterOrEqual(t, len(got), 5)

	assert.Equal(t, shape{tm.LD, int(tm.MP), 0, int(tm.AC)}, got[0])
	assert.Equal(t, shape{tm.LD, int(tm.FP), 0, int(tm.AC)}, got[1])
	assert.Equal(t, shape{tm.ST, int(tm.AC), 0, int(tm.AC)}, got[2])
	assert.Equal(t, tm.HALT, got[len(got)-1].op)
}

func TestMainFirstJumpsOverNothing(t *testing.T) {
	res := mustGenerate(t, "void main(void) { }")
	jump, ok := res.Code.At(3)
	require.True(t, ok)
	assert.Equal(t, tm.LDA, jump.Op)
	assert.Equal(t, int(tm.PC), jump.R)
	assert.Equal(t, 4, target(jump))

	entry, ok := res.Funcs.Lookup("main")
	require.True(t, ok)
	assert.Equal(t, 4, entry)
}

func TestCallingConvention(t *testing.T) {
	res := mustGenerate(t, `
int id(int n) { return n; }
void main(void) { output(id(7)); }
`)
	want := []shape{
		{tm.LD, 6, 0, 0},
		{tm.LD, 2, 0, 0},
		{tm.ST, 0, 0, 0},
		{tm.LDA, 7, 5, 7}, // jump to main at 9
		{tm.ST, 0, -1, 2}, // id: store return address
		{tm.LD, 0, -2, 2}, // n
		{tm.LDA, 1, 0, 2},
		{tm.LD, 2, 0, 2},
		{tm.LD, 7, -1, 1},
		{tm.SUB, 4, 2, 6}, // main: fp - mp
		{tm.JEQ, 4, 1, 7},
		{tm.ST, 0, -1, 2},
		{tm.ST, 2, -2, 2}, // guard fp
		{tm.LDC, 0, 7, 0},
		{tm.ST, 0, -4, 2}, // argument
		{tm.LDA, 2, -2, 2},
		{tm.LDC, 0, 18, 0}, // return address
		{tm.LDA, 7, -14, 7},
		{tm.OUT, 0, 0, 0},
		{tm.SUB, 4, 2, 6}, // main exit
		{tm.JEQ, 4, 3, 7}, // halt at top level
		{tm.LDA, 1, 0, 2},
		{tm.LD, 2, 0, 2},
		{tm.LD, 7, -1, 1},
		{tm.HALT, 0, 0, 0},
	}
	assert.Equal(t, want, shapes(res.Code))

	addr, ok := res.Funcs.Lookup("id")
	require.True(t, ok)
	assert.Equal(t, 4, addr)
	addr, ok = res.Funcs.Lookup("main")
	require.True(t, ok)
	assert.Equal(t, 9, addr)
}

func TestRecursiveCallTargetsOwnEntry(t *testing.T) {
	res := mustGenerate(t, `
int f(int n) { if (n == 0) return 0; else return f(n - 1); }
void main(void) { output(f(3)); }
`)
	entry, ok := res.Funcs.Lookup("f")
	require.True(t, ok)

	jumps := findComment(res.Code, "jump to function")
	require.Len(t, jumps, 2)
	for _, j := range jumps {
		assert.Equal(t, entry, target(j))
	}
}

func TestRecursiveMain(t *testing.T) {
	res := mustGenerate(t, `
void main(void) { int x; x = input(); if (x) main(); }
`)
	entry, ok := res.Funcs.Lookup("main")
	require.True(t, ok)

	jumps := findComment(res.Code, "jump to function")
	require.Len(t, jumps, 1)
	assert.Equal(t, entry, target(jumps[0]))
}

func TestLaterFunctionCallsMain(t *testing.T) {
	res := mustGenerate(t, `
void main(void) { output(1); }
void again(void) { main(); }
`)
	entry, ok := res.Funcs.Lookup("main")
	require.True(t, ok)
	jumps := findComment(res.Code, "jump to function")
	require.Len(t, jumps, 1)
	assert.Equal(t, entry, target(jumps[0]))
}

func TestMainHaltsBeforeLaterFunctions(t *testing.T) {
	res := mustGenerate(t, `
void main(void) { output(1); }
void later(void) { output(99); }
`)
	later, ok := res.Funcs.Lookup("later")
	require.True(t, ok)

	halts := findComment(res.Code, "main: halt at top level")
	require.Len(t, halts, 1)
	assert.Equal(t, tm.JEQ, halts[0].Op)
	assert.Less(t, halts[0].Loc, later, "main's exit comes before the later function")

	end, ok := res.Code.At(target(halts[0]))
	require.True(t, ok)
	assert.Equal(t, tm.HALT, end.Op)
	assert.Empty(t, res.Code.Outstanding())
}

func TestReturnInMainHalts(t *testing.T) {
	res := mustGenerate(t, `
void main(void) { output(1); return; }
`)
	halts := findComment(res.Code, "main: halt at top level")
	require.Len(t, halts, 2, "the return and the end of main")
	for _, h := range halts {
		end, ok := res.Code.At(target(h))
		require.True(t, ok)
		assert.Equal(t, tm.HALT, end.Op)
	}

	// the top-level run never stores a return address over the globals
	skip := findComment(res.Code, "main: no caller at top level")
	require.Len(t, skip, 1)
	stored, ok := res.Code.At(target(skip[0]) - 1)
	require.True(t, ok)
	assert.Equal(t, shape{tm.ST, int(tm.AC), -1, int(tm.FP)}, shape{stored.Op, stored.R, stored.S, stored.T})
}

func TestForwardCallIsUnresolved(t *testing.T) {
	prog, table, diags := analyze(t, `
void main(void) { g(); }
void g(void) { }
`)
	require.Equal(t, 1, diags.Count(semantic.UndeclaredReference))

	res, err := Generate(prog, table, DefaultOptions())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnresolvedCall))
	assert.False(t, errors.Is(err, ErrInternal))

	jumps := findComment(res.Code, "jump to function")
	require.Len(t, jumps, 1)
	assert.Equal(t, -1, target(jumps[0]))
}

// ---------------------------------------------------------------------------
// Control flow
// ---------------------------------------------------------------------------

func TestIfElsePatches(t *testing.T) {
	res := mustGenerate(t, `
void main(void) {
    int x;
    x = input();
    if (x) output(1); else output(2);
}
`)
	assert.Empty(t, res.Code.Outstanding())

	toElse := findComment(res.Code, "if: jmp to else")
	toEnd := findComment(res.Code, "jmp to end")
	require.Len(t, toElse, 1)
	require.Len(t, toEnd, 1)

	assert.Equal(t, tm.JEQ, toElse[0].Op)
	assert.Equal(t, toEnd[0].Loc+1, target(toElse[0]), "false branch starts after the then-branch exit")

	// the then-branch exit lands on main's exit
	end := target(toEnd[0])
	exit, ok := res.Code.At(end)
	require.True(t, ok)
	assert.Equal(t, "main: fp - mp", exit.Comment)
}

func TestIfWithoutElse(t *testing.T) {
	res := mustGenerate(t, `
void main(void) { int x; x = 1; if (x) output(x); }
`)
	toEnd := findComment(res.Code, "jmp to end")
	require.Len(t, toEnd, 1)
	assert.Equal(t, toEnd[0].Loc+1, target(toEnd[0]))
}

func TestWhileLoop(t *testing.T) {
	res := mustGenerate(t, `
void main(void) {
    int i;
    i = 3;
    while (i > 0) i = i - 1;
}
`)
	back := findComment(res.Code, "jump back to body")
	exit := findComment(res.Code, "repeat: jmp to end")
	require.Len(t, back, 1)
	require.Len(t, exit, 1)

	assert.Equal(t, back[0].Loc+1, target(exit[0]))
	assert.Less(t, target(back[0]), exit[0].Loc, "loop re-evaluates the condition")
	assert.Empty(t, res.Code.Outstanding())
}

// ---------------------------------------------------------------------------
// Memory
// ---------------------------------------------------------------------------

func TestArrayDescriptors(t *testing.T) {
	res := mustGenerate(t, `
int g[3];
void main(void) {
    int a[2];
    a[1] = 5;
    g[0] = a[1];
}
`)
	got := shapes(res.Code)

	// global descriptor at 1025 holds its own address
	assert.Contains(t, got, shape{tm.LDC, int(tm.AC), 1025, 0})
	assert.Contains(t, got, shape{tm.ST, int(tm.AC), 1025, int(tm.GP)})

	// local descriptor at 1022, i.e. -2 relative to fp
	assert.Contains(t, got, shape{tm.LDA, int(tm.AC), -2, int(tm.FP)})
	assert.Contains(t, got, shape{tm.ST, int(tm.AC), -2, int(tm.FP)})

	// element address is base-(index+1)
	assert.Contains(t, got, shape{tm.ADD, int(tm.IDX), int(tm.IDX), int(tm.AC2)})
	assert.Contains(t, got, shape{tm.SUB, int(tm.AC1), int(tm.AC1), int(tm.IDX)})
	assert.Contains(t, got, shape{tm.ST, int(tm.AC), 0, int(tm.AC1)})
}

func TestArrayElementWithVariableIndex(t *testing.T) {
	res := mustGenerate(t, `
void main(void) { int a[3]; int i; i = 1; a[i] = a[i - 1]; }
`)
	// a's descriptor is at -2, i at -6, the first temporary at -7
	want := []shape{
		{tm.LD, 0, -6, 2}, // i
		{tm.ST, 0, -7, 2},
		{tm.LDC, 0, 1, 0},
		{tm.LD, 1, -7, 2},
		{tm.SUB, 0, 1, 0}, // i - 1
		{tm.LDA, 3, 0, 0},
		{tm.LD, 0, -2, 2},
		{tm.LDC, 4, 1, 0},
		{tm.ADD, 3, 3, 4},
		{tm.SUB, 0, 0, 3},
		{tm.LD, 0, 0, 0}, // a[i-1]
		{tm.ST, 0, -7, 2}, // keep the value while the target is computed
		{tm.LD, 0, -6, 2},
		{tm.LDA, 3, 0, 0},
		{tm.LD, 1, -2, 2},
		{tm.LDC, 4, 1, 0},
		{tm.ADD, 3, 3, 4},
		{tm.SUB, 1, 1, 3},
		{tm.LD, 0, -7, 2},
		{tm.ST, 0, 0, 1}, // a[i] = value
	}
	got := shapes(res.Code)
	require.Greater(t, len(got), 31)
	assert.Equal(t, want, got[11:31])
}

func TestBinaryOpUsesTemporaries(t *testing.T) {
	res := mustGenerate(t, `
void main(void) { int x; x = 1 + 2; }
`)
	got := shapes(res.Code)
	// one local scalar moves the first free slot to -3
	assert.Contains(t, got, shape{tm.ST, int(tm.AC), -3, int(tm.FP)})
	assert.Contains(t, got, shape{tm.LD, int(tm.AC1), -3, int(tm.FP)})
	assert.Contains(t, got, shape{tm.ADD, int(tm.AC), int(tm.AC1), int(tm.AC)})
}

func TestComparisonMaterializesBoolean(t *testing.T) {
	res := mustGenerate(t, `
void main(void) { int x; x = input(); output(x < 10); }
`)
	instrs := res.Code.Instructions()
	at := -1
	for i, in := range instrs {
		if in.Op == tm.JLT {
			at = i
		}
	}
	require.NotEqual(t, -1, at)
	require.Less(t, at+3, len(instrs))
	assert.Equal(t, tm.SUB, instrs[at-1].Op)
	assert.Equal(t, shape{tm.LDC, 0, 0, 0}, shape{instrs[at+1].Op, instrs[at+1].R, instrs[at+1].S, instrs[at+1].T})
	assert.Equal(t, shape{tm.LDC, 0, 1, 0}, shape{instrs[at+3].Op, instrs[at+3].R, instrs[at+3].S, instrs[at+3].T})
}

func TestVoidFunctionEpilogue(t *testing.T) {
	res := mustGenerate(t, `
void p(void) { output(1); }
void main(void) { p(); }
`)
	got := shapes(res.Code)
	epilogue := []shape{
		{tm.LDA, int(tm.AC1), 0, int(tm.FP)},
		{tm.LD, int(tm.FP), 0, int(tm.FP)},
		{tm.LD, int(tm.PC), -1, int(tm.AC1)},
	}
	found := false
	for i := 0; i+len(epilogue) <= len(got); i++ {
		if assert.ObjectsAreEqual(epilogue, got[i:i+len(epilogue)]) {
			found = true
		}
	}
	assert.True(t, found, "void function returns to its caller")
}

// ---------------------------------------------------------------------------
// Output
// ---------------------------------------------------------------------------

func TestListingTrace(t *testing.T) {
	prog, table, _ := analyze(t, "void main(void) { output(1); }")
	opts := DefaultOptions()
	opts.SourceName = "one.cm"
	res, err := Generate(prog, table, opts)
	require.NoError(t, err)

	var plain, traced bytes.Buffer
	require.NoError(t, res.Code.WriteListing(&plain, false))
	require.NoError(t, res.Code.WriteListing(&traced, true))

	assert.NotContains(t, plain.String(), "*")
	assert.Contains(t, traced.String(), "* C- Compilation to TM Code\n* File: one.cm\n")
	assert.Contains(t, traced.String(), "* End of execution.\n")
	assert.Contains(t, traced.String(), "load maxaddress from location 0")
}

func TestArtifacts(t *testing.T) {
	res := mustGenerate(t, `
int sq(int x) { return x * x; }
void main(void) { output(sq(4)); }
`)
	fs := memfs.New()
	art := NewArtifacts(fs, "build", "sq")
	require.NoError(t, art.WriteListing(res.Code))
	require.NoError(t, art.WriteFuncTable(res.Funcs))

	listing, err := util.ReadFile(fs, art.TMFile)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(listing)), "\n")
	assert.Equal(t, res.Code.Len(), len(lines))
	assert.Contains(t, lines[len(lines)-1], "HALT")

	funcs, err := util.ReadFile(fs, art.FuncFile)
	require.NoError(t, err)
	assert.Equal(t, "main 13\nsq 4\n", string(funcs))
}
