package semantic_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cminus/internal/ast"
	"cminus/internal/lexer"
	"cminus/internal/parser"
	"cminus/internal/semantic"
	"cminus/internal/symtab"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func parse(t *testing.T, input string) *ast.Program {
	t.Helper()
	tokens, lexErrs := lexer.Lex(input)
	require.Empty(t, lexErrs, "lex errors")
	prog, parseErrs := parser.Parse(tokens)
	require.Empty(t, parseErrs, "parse errors")
	return prog
}

func analyze(t *testing.T, input string) (*symtab.Table, semantic.Diagnostics) {
	t.Helper()
	return semantic.Analyze(parse(t, input), semantic.DefaultOptions())
}

func expectNoDiagnostics(t *testing.T, diags semantic.Diagnostics) {
	t.Helper()
	assert.Empty(t, diags.Strings())
}

func symbol(t *testing.T, table *symtab.Table, scope, name string) *symtab.Symbol {
	t.Helper()
	for _, s := range table.Scopes() {
		if s.Name != scope {
			continue
		}
		if sym, ok := s.Get(name); ok {
			return sym
		}
	}
	require.Failf(t, "symbol not found", "%s in scope %s", name, scope)
	return nil
}

// ---------------------------------------------------------------------------
// Valid programs
// ---------------------------------------------------------------------------

func TestValidProgram(t *testing.T) {
	_, diags := analyze(t, `
int gcd(int u, int v)
{
    if (v == 0) return u;
    else return gcd(v, u - u / v * v);
}
void main(void)
{
    int x; int y;
    x = input(); y = input();
    output(gcd(x, y));
}
`)
	expectNoDiagnostics(t, diags)
}

func TestBuiltins(t *testing.T) {
	table, diags := analyze(t, "void main(void) { output(input()); }")
	expectNoDiagnostics(t, diags)

	in := symbol(t, table, symtab.GlobalName, "input")
	assert.Equal(t, symtab.Function, in.Kind)
	assert.Equal(t, ast.Integer, in.Type)
	assert.Equal(t, semantic.DefaultMaxMemory-1, in.Offset)
	assert.Equal(t, []int{1}, in.Lines, "builtins have no declaration line")

	out := symbol(t, table, symtab.GlobalName, "output")
	assert.Equal(t, ast.Void, out.Type)
}

// ---------------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------------

func TestMissingMain(t *testing.T) {
	_, diags := analyze(t, "int x;")
	require.Equal(t, 1, diags.Count(semantic.MissingMain))
	assert.Contains(t, diags.Strings(), "Semantic error: undefined reference to 'main'")
}

func TestRedeclarationKeepsFirstOffset(t *testing.T) {
	table, diags := analyze(t, `int x;
int y;
int x;
void main(void) { }
`)
	require.Len(t, diags, 1)
	assert.Equal(t, semantic.Redeclaration, diags[0].Kind)
	assert.Equal(t, "Semantic error at line 3: 'x' was already declared as a variable", diags[0].Error())

	x := symbol(t, table, symtab.GlobalName, "x")
	assert.Equal(t, semantic.DefaultMaxMemory-2, x.Offset)
	assert.Equal(t, []int{1}, x.Lines)
}

func TestRedeclaredFunction(t *testing.T) {
	table, diags := analyze(t, `void f(void) { }
int f(void) { return 1; }
void main(void) { }
`)
	require.Equal(t, 1, diags.Count(semantic.Redeclaration))
	assert.Equal(t, "Semantic error at line 2: 'f' was already declared", diags.Strings()[0])

	f := symbol(t, table, symtab.GlobalName, "f")
	assert.Equal(t, ast.Void, f.Type, "the first declaration wins")

	named := 0
	for _, s := range table.Scopes() {
		if s.Name == "f" {
			named++
		}
	}
	assert.Equal(t, 2, named, "both bodies get a scope")
}

func TestVariableShadowsFunction(t *testing.T) {
	_, diags := analyze(t, `void f(void) { }
void main(void) { int f; }
`)
	assert.Equal(t, []string{"Semantic error at line 2: 'f' was already declared as a function"}, diags.Strings())
}

func TestDuplicateParameter(t *testing.T) {
	_, diags := analyze(t, `void f(int a, int a) { }
void main(void) { }
`)
	assert.Equal(t, []string{"Semantic error at line 1: 'a' was already declared as a variable"}, diags.Strings())
}

func TestVoidVariable(t *testing.T) {
	_, diags := analyze(t, `void main(void) {
    void v;
}`)
	require.Equal(t, 1, diags.Count(semantic.VoidVariable))
	assert.Equal(t, "Semantic error at line 2: variable declared void", diags.Strings()[0])
}

func TestShadowingInNestedCompound(t *testing.T) {
	table, diags := analyze(t, `int x;
void main(void) {
    int x;
    { int x; x = 1; }
}
`)
	expectNoDiagnostics(t, diags)
	inner := symbol(t, table, "compound1", "x")
	assert.Equal(t, []int{4}, inner.Lines)
	outer := symbol(t, table, "main", "x")
	assert.Equal(t, []int{3}, outer.Lines)
}

// ---------------------------------------------------------------------------
// References
// ---------------------------------------------------------------------------

func TestUndeclaredReference(t *testing.T) {
	_, diags := analyze(t, `void main(void)
{
    y = 1;
}`)
	require.Len(t, diags, 1)
	assert.Equal(t, semantic.UndeclaredReference, diags[0].Kind)
	assert.Equal(t, 3, diags[0].Pos.Line)
	assert.Equal(t, "Semantic error at line 3: 'y' was not declared in this scope", diags[0].Error())
}

func TestUseBeforeDeclaration(t *testing.T) {
	_, diags := analyze(t, `void main(void) { f(); }
void f(void) { }
`)
	assert.Equal(t, []string{"Semantic error at line 1: 'f' was not declared in this scope"}, diags.Strings())
}

func TestReferenceLinesAreDistinct(t *testing.T) {
	table, diags := analyze(t, `int x;
void main(void)
{
    x = 1;
    x = x + 1;
}
`)
	expectNoDiagnostics(t, diags)
	assert.Equal(t, []int{1, 4, 5}, symbol(t, table, symtab.GlobalName, "x").Lines)
}

// ---------------------------------------------------------------------------
// Layout
// ---------------------------------------------------------------------------

func TestGlobalOffsetsGrowUpward(t *testing.T) {
	table, diags := analyze(t, `int b;
int a[5];
int c;
void main(void) { }
`)
	expectNoDiagnostics(t, diags)
	b := symbol(t, table, symtab.GlobalName, "b")
	a := symbol(t, table, symtab.GlobalName, "a")
	c := symbol(t, table, symtab.GlobalName, "c")

	assert.Equal(t, 1022, b.Offset)
	assert.Equal(t, 6, a.Offset-b.Offset, "five elements then the descriptor")
	assert.Equal(t, 1, c.Offset-a.Offset)
	assert.Equal(t, symtab.Array, a.Kind)
}

func TestLocalOffsetsGrowDownward(t *testing.T) {
	table, diags := analyze(t, `void main(void) {
    int c[5];
    int d;
}`)
	expectNoDiagnostics(t, diags)
	c := symbol(t, table, "main", "c")
	d := symbol(t, table, "main", "d")

	assert.Equal(t, 1022, c.Offset)
	assert.Equal(t, 6, c.Offset-d.Offset, "descriptor then five elements")
}

func TestLocalOffsetsRestartPerFunction(t *testing.T) {
	table, diags := analyze(t, `void f(int p) { int q; }
void main(void) { int r; }
`)
	expectNoDiagnostics(t, diags)
	assert.Equal(t, 1022, symbol(t, table, "f", "p").Offset)
	assert.Equal(t, 1021, symbol(t, table, "f", "q").Offset)
	assert.Equal(t, 1022, symbol(t, table, "main", "r").Offset)
	assert.Equal(t, 1023, symbol(t, table, symtab.GlobalName, "f").Offset)
}

func TestMaxMemoryOption(t *testing.T) {
	prog := parse(t, "int g; void main(void) { int l; }")
	table, diags := semantic.Analyze(prog, semantic.Options{MaxMemory: 2048})
	expectNoDiagnostics(t, diags)
	assert.Equal(t, 2046, symbol(t, table, symtab.GlobalName, "g").Offset)
	assert.Equal(t, 2046, symbol(t, table, "main", "l").Offset)
	assert.Equal(t, 2047, symbol(t, table, symtab.GlobalName, "main").Offset)
}

// ---------------------------------------------------------------------------
// Scopes
// ---------------------------------------------------------------------------

func TestCompoundScopeNamesAreUnique(t *testing.T) {
	table, diags := analyze(t, `void f(void) { { int a; } }
void main(void) {
    int x;
    x = 0;
    { int y; }
    while (x) { int z; }
}
`)
	expectNoDiagnostics(t, diags)

	var names []string
	for _, s := range table.Scopes() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"global", "f", "compound1", "main", "compound2", "compound3"}, names)
}

func TestAnnotations(t *testing.T) {
	prog := parse(t, `void main(void) { int x; x = input(); if (x < 3) output(x); }`)
	table, diags := semantic.Analyze(prog, semantic.DefaultOptions())
	expectNoDiagnostics(t, diags)

	main := prog.Functions()[0]
	body := main.Body
	assign := body.Stmts[0].(*ast.ExprStmt).X.(*ast.AssignExpr)
	assert.Equal(t, ast.Integer, assign.Type)
	assert.Equal(t, "main", table.Scope(assign.Scope).Name)

	cond := body.Stmts[1].(*ast.IfStmt).Cond
	assert.Equal(t, ast.Boolean, cond.Annot().Type)
	assert.Equal(t, symtab.GlobalID, main.Scope)
}

func TestBuildSymbolTableIsIdempotent(t *testing.T) {
	prog := parse(t, `int g[4];
int f(int a[], int n) { int i; i = n; return a[i]; }
void main(void) { int x; { int y; y = f(g, 2); } }
`)
	a := semantic.New(semantic.DefaultOptions())
	first := a.BuildSymbolTable(prog)
	second := a.BuildSymbolTable(prog)
	require.NotSame(t, first, second)

	require.Equal(t, len(first.Scopes()), len(second.Scopes()))
	for i, s := range first.Scopes() {
		other := second.Scopes()[i]
		assert.Equal(t, s.Name, other.Name)
		require.Equal(t, s.Len(), other.Len())
		for _, sym := range s.Symbols() {
			got, ok := other.Get(sym.Name)
			require.True(t, ok, sym.Name)
			assert.Equal(t, sym.Offset, got.Offset, sym.Name)
			assert.Equal(t, sym.Lines, got.Lines, sym.Name)
		}
	}
	assert.Empty(t, a.Diagnostics())
}

// ---------------------------------------------------------------------------
// Type checking
// ---------------------------------------------------------------------------

func TestTypeErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []string
	}{
		{
			name: "void operand",
			src:  "void main(void) { int x; x = 1 + output(2); }",
			want: []string{"Type error at line 1: operands must be of type integer"},
		},
		{
			name: "void assignment",
			src:  "void f(void) { }\nvoid main(void) { int x; x = f(); }",
			want: []string{"Type error at line 2: invalid use of void expression"},
		},
		{
			name: "comparison assigned",
			src:  "void main(void) {\n int x;\n x = 1 < 2;\n}",
			want: []string{"Type error at line 3: invalid use of void expression"},
		},
		{
			name: "void unary operand",
			src:  "void f(void) { }\nvoid main(void) { int x; x = -f(); }",
			want: []string{"Type error at line 2: operand must be of type integer"},
		},
		{
			name: "integer expressions",
			src:  "int f(void) { return 2; }\nvoid main(void) { int x; x = -f() * (3 - x); }",
			want: []string{},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, diags := analyze(t, tc.src)
			assert.Equal(t, tc.want, diags.Strings())
		})
	}
}

func TestVoidExpressionIsTypeMismatch(t *testing.T) {
	_, diags := analyze(t, "void f(void) { }\nvoid main(void) { int x;\n x = f(); }")
	require.Len(t, diags, 1)
	assert.Equal(t, semantic.TypeMismatch, diags[0].Kind)
	assert.Equal(t, 3, diags[0].Pos.Line)
	assert.Equal(t, "Type error at line 3: invalid use of void expression", diags[0].Error())
}

func TestMissingReturnValue(t *testing.T) {
	_, diags := analyze(t, `int f(void) { return; }
void main(void) { }
`)
	require.Equal(t, 1, diags.Count(semantic.MissingReturnValue), "reported once across both passes")
	assert.Equal(t, "Semantic error at line 1: Missing return value in function returning non-void", diags.Strings()[0])
}

func TestVoidReturnWithoutValue(t *testing.T) {
	_, diags := analyze(t, "void main(void) { return; }")
	expectNoDiagnostics(t, diags)
}
