package semantic

import (
	"fmt"

	"cminus/internal/ast"
)

// ---------------------------------------------------------------------------
// Diagnostic kinds
// ---------------------------------------------------------------------------

// Kind classifies a semantic diagnostic.
type Kind int

const (
	Redeclaration Kind = iota
	UndeclaredReference
	VoidVariable
	TypeMismatch
	MissingReturnValue
	MissingMain
)

var kindNames = [...]string{
	Redeclaration:       "Redeclaration",
	UndeclaredReference: "UndeclaredReference",
	VoidVariable:        "VoidVariable",
	TypeMismatch:        "TypeMismatch",
	MissingReturnValue:  "MissingReturnValue",
	MissingMain:         "MissingMain",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// MarshalText lets diagnostics serialise with readable kinds.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ---------------------------------------------------------------------------
// Diagnostic
// ---------------------------------------------------------------------------

// Diagnostic is a single error found by the semantic analyser. Every
// diagnostic fails the compilation.
type Diagnostic struct {
	Kind    Kind         `json:"kind"`
	Message string       `json:"message"`
	Pos     ast.Position `json:"pos"`
}

func (d Diagnostic) Error() string {
	switch d.Kind {
	case MissingMain:
		return "Semantic error: " + d.Message
	case TypeMismatch:
		return fmt.Sprintf("Type error at line %d: %s", d.Pos.Line, d.Message)
	default:
		return fmt.Sprintf("Semantic error at line %d: %s", d.Pos.Line, d.Message)
	}
}

// Diagnostics is the ordered list of diagnostics from one analysis.
type Diagnostics []Diagnostic

// HasErrors returns true if any diagnostic was recorded.
func (d Diagnostics) HasErrors() bool { return len(d) > 0 }

// Count returns how many diagnostics have the given kind.
func (d Diagnostics) Count(kind Kind) int {
	n := 0
	for _, diag := range d {
		if diag.Kind == kind {
			n++
		}
	}
	return n
}

// Strings renders every diagnostic in report form.
func (d Diagnostics) Strings() []string {
	out := make([]string, len(d))
	for i, diag := range d {
		out[i] = diag.Error()
	}
	return out
}
