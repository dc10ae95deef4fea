// Package symtab implements the scoped symbol table shared by the semantic
// analyzer and the code generator.
//
// Scopes live in an arena owned by the Table and are addressed by
// ast.ScopeID handles, so annotated syntax trees can refer to them without
// holding pointers. Scopes are never freed before the table is dropped.
package symtab

import (
	"fmt"

	"github.com/maruel/natural"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"cminus/internal/ast"
)

// GlobalName is the name of the outermost scope.
const GlobalName = "global"

// GlobalID is the handle of the outermost scope.
const GlobalID ast.ScopeID = 1

// Kind classifies a symbol.
type Kind int

const (
	Variable Kind = iota
	Array
	Parameter
	Function
)

var kindNames = [...]string{
	Variable:  "Variable",
	Array:     "Array",
	Parameter: "Parameter",
	Function:  "Function",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Symbol is the metadata for one declared name.
type Symbol struct {
	Name    string
	Type    ast.Type
	Kind    Kind
	IsArray bool
	Offset  int
	Scope   string      // name of the owning scope
	ScopeID ast.ScopeID // handle of the owning scope
	Lines   []int       // declaration line first, then distinct reference lines
}

// IsGlobal reports whether the symbol lives in the global segment.
func (s *Symbol) IsGlobal() bool { return s.ScopeID == GlobalID }

// addLine appends line unless it is already recorded.
func (s *Symbol) addLine(line int) {
	if slices.Contains(s.Lines, line) {
		return
	}
	s.Lines = append(s.Lines, line)
}

// Scope is one lexical region.
type Scope struct {
	ID      ast.ScopeID
	Name    string
	Parent  ast.ScopeID // ast.NoScope for the global scope
	symbols map[string]*Symbol
}

// Len returns the number of symbols declared in the scope.
func (s *Scope) Len() int { return len(s.symbols) }

// Get returns the symbol declared in this scope under name.
func (s *Scope) Get(name string) (*Symbol, bool) {
	sym, ok := s.symbols[name]
	return sym, ok
}

// Symbols returns the scope's symbols in natural name order.
func (s *Scope) Symbols() []*Symbol {
	names := maps.Keys(s.symbols)
	slices.SortFunc(names, func(a, b string) int {
		switch {
		case natural.Less(a, b):
			return -1
		case natural.Less(b, a):
			return 1
		}
		return 0
	})
	out := make([]*Symbol, len(names))
	for i, n := range names {
		out[i] = s.symbols[n]
	}
	return out
}

// Table owns every scope of one compilation.
type Table struct {
	scopes  []*Scope
	current ast.ScopeID
}

// New returns a table containing only the global scope, which is current.
func New() *Table {
	t := &Table{}
	t.current = t.push(GlobalName, ast.NoScope)
	return t
}

func (t *Table) push(name string, parent ast.ScopeID) ast.ScopeID {
	id := ast.ScopeID(len(t.scopes) + 1)
	t.scopes = append(t.scopes, &Scope{
		ID:      id,
		Name:    name,
		Parent:  parent,
		symbols: make(map[string]*Symbol),
	})
	return id
}

// Scope returns the scope behind id, or nil for an unknown handle.
func (t *Table) Scope(id ast.ScopeID) *Scope {
	i := int(id) - 1
	if i < 0 || i >= len(t.scopes) {
		return nil
	}
	return t.scopes[i]
}

// Scopes returns every scope in creation order.
func (t *Table) Scopes() []*Scope {
	return t.scopes
}

// Global returns the handle of the global scope.
func (t *Table) Global() ast.ScopeID { return GlobalID }

// Current returns the handle of the current scope.
func (t *Table) Current() ast.ScopeID { return t.current }

// CurrentScope returns the current scope.
func (t *Table) CurrentScope() *Scope { return t.Scope(t.current) }

// InGlobal reports whether the current scope is the global scope.
func (t *Table) InGlobal() bool { return t.current == t.Global() }

// EnterScope creates a scope nested in the current one and makes it current.
func (t *Table) EnterScope(name string) ast.ScopeID {
	t.current = t.push(name, t.current)
	return t.current
}

// ExitScope makes the parent of the current scope current. Exiting the
// global scope is a no-op.
func (t *Table) ExitScope() {
	if parent := t.CurrentScope().Parent; parent != ast.NoScope {
		t.current = parent
	}
}

// Declare inserts sym into the current scope. If the name is already
// declared there, the existing symbol is returned unchanged with ok false.
func (t *Table) Declare(sym Symbol, line int) (s *Symbol, ok bool) {
	scope := t.CurrentScope()
	if existing, found := scope.symbols[sym.Name]; found {
		return existing, false
	}
	s = &sym
	s.Scope = scope.Name
	s.ScopeID = scope.ID
	s.Lines = nil
	if line > 0 {
		s.Lines = []int{line}
	}
	scope.symbols[s.Name] = s
	return s, true
}

// DeclareOrRecordUse inserts sym into the current scope, or, if the name is
// already declared there, records line as a reference to the existing symbol.
func (t *Table) DeclareOrRecordUse(sym Symbol, line int) *Symbol {
	s, ok := t.Declare(sym, line)
	if !ok && line > 0 {
		s.addLine(line)
	}
	return s
}

// Lookup finds the nearest visible declaration of name from the current scope.
func (t *Table) Lookup(name string) (*Symbol, bool) {
	return t.LookupFrom(name, t.current)
}

// LookupCurrent searches the current scope only.
func (t *Table) LookupCurrent(name string) (*Symbol, bool) {
	return t.CurrentScope().Get(name)
}

// LookupFrom finds the nearest visible declaration of name starting at scope.
func (t *Table) LookupFrom(name string, scope ast.ScopeID) (*Symbol, bool) {
	for s := t.Scope(scope); s != nil; s = t.Scope(s.Parent) {
		if sym, ok := s.symbols[name]; ok {
			return sym, true
		}
	}
	return nil, false
}

// AddReferenceLine records line on the nearest visible declaration of name.
// It reports false if name is not visible.
func (t *Table) AddReferenceLine(name string, line int) bool {
	sym, ok := t.Lookup(name)
	if !ok {
		return false
	}
	sym.addLine(line)
	return true
}
