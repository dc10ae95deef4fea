package codegen

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"cminus/internal/ast"
	"cminus/internal/semantic"
	"cminus/internal/symtab"
	"cminus/internal/tm"
)

var (
	// ErrUnresolvedCall reports a call whose callee had no entry address
	// when the call was generated, i.e. it is declared after the caller.
	ErrUnresolvedCall = errors.New("codegen: unresolved call target")
	// ErrInternal reports an inconsistency between the annotated tree,
	// the symbol table and the instruction stream.
	ErrInternal = errors.New("codegen: internal error")
)

// ---------------------------------------------------------------------------
// Options controls the behaviour of the code-generation pipeline.
// ---------------------------------------------------------------------------

// Options configures the codegen pipeline.
type Options struct {
	// MaxMemory must match the value the analyzer laid memory out for.
	MaxMemory int

	// SourceName is written into the listing header.
	SourceName string

	Logger zerolog.Logger
}

// DefaultOptions returns options for the standard TM memory size.
func DefaultOptions() *Options {
	return &Options{
		MaxMemory: semantic.DefaultMaxMemory,
		Logger:    zerolog.Nop(),
	}
}

// ---------------------------------------------------------------------------
// Result is returned by Generate.
// ---------------------------------------------------------------------------

type Result struct {
	Code  *tm.Stream // emitted program
	Funcs *FuncTable // entry addresses of the generated functions
}

// ---------------------------------------------------------------------------
// Generate: the public entry point for code generation
//
// Pipeline: annotated AST + symbol table → TM instruction stream
// ---------------------------------------------------------------------------

// Generate lowers an analyzed program to TM code. The program must have
// passed semantic analysis with the same MaxMemory. Unresolved calls and
// internal inconsistencies are returned joined; the Result is still
// returned so the partial listing can be inspected.
func Generate(program *ast.Program, table *symtab.Table, opts *Options) (*Result, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.MaxMemory == 0 {
		opts.MaxMemory = semantic.DefaultMaxMemory
	}

	l := newLowerer(table, opts)
	l.lowerProgram(program)

	result := &Result{Code: l.code, Funcs: l.funcs}
	for _, loc := range l.code.Outstanding() {
		l.fail(fmt.Errorf("%w: reserved slot %d was never patched", ErrInternal, loc))
	}
	if len(l.errs) > 0 {
		return result, errors.Join(l.errs...)
	}

	l.log.Debug().
		Int("instructions", l.code.Len()).
		Int("functions", l.funcs.Len()).
		Msg("code generated")
	return result, nil
}
