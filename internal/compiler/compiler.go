// Package compiler runs the C-minus pipeline: lex, parse, analyze and
// generate TM code. Each phase runs only if every earlier phase was clean.
package compiler

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"cminus/internal/ast"
	"cminus/internal/codegen"
	"cminus/internal/lexer"
	"cminus/internal/parser"
	"cminus/internal/semantic"
	"cminus/internal/symtab"
)

// ErrCompilationFailed is returned when any phase recorded an error. The
// individual errors are available on the Result.
var ErrCompilationFailed = errors.New("compilation failed")

// Options configures a compilation.
type Options struct {
	MaxMemory int
	Logger    zerolog.Logger
}

// Phase names a pipeline stage.
type Phase string

const (
	PhaseLex      Phase = "lex"
	PhaseParse    Phase = "parse"
	PhaseAnalyze  Phase = "analyze"
	PhaseGenerate Phase = "generate"
)

// Result holds everything one compilation produced. Fields of phases that
// did not run are nil.
type Result struct {
	ID      ulid.ULID
	Name    string
	Reached Phase

	Program     *ast.Program
	LexErrors   []lexer.LexError
	ParseErrors []parser.ParseError
	Table       *symtab.Table
	Diagnostics semantic.Diagnostics
	Code        *codegen.Result
	CodeErr     error
}

// Errors renders every recorded error in phase order.
func (r *Result) Errors() []string {
	var out []string
	for _, e := range r.LexErrors {
		out = append(out, "Lexical error: "+e.Error())
	}
	for _, e := range r.ParseErrors {
		out = append(out, "Syntax error: "+e.Error())
	}
	out = append(out, r.Diagnostics.Strings()...)
	if r.CodeErr != nil {
		out = append(out, strings.Split(r.CodeErr.Error(), "\n")...)
	}
	return out
}

// OK reports whether code was generated without errors.
func (r *Result) OK() bool {
	return r.Reached == PhaseGenerate && r.CodeErr == nil
}

// Compile runs the pipeline over src. name is used in logs and in the
// listing header. A failed compilation returns its partial Result together
// with ErrCompilationFailed.
func Compile(name, src string, opts Options) (*Result, error) {
	if opts.MaxMemory == 0 {
		opts.MaxMemory = semantic.DefaultMaxMemory
	}
	res := &Result{ID: ulid.Make(), Name: name}
	log := opts.Logger.With().
		Str("compilation", res.ID.String()).
		Str("file", name).
		Logger()

	phase := func(p Phase) {
		res.Reached = p
		log.Debug().Str("phase", string(p)).Msg("phase start")
	}

	phase(PhaseLex)
	tokens, lexErrs := lexer.Lex(src)
	res.LexErrors = lexErrs
	if len(lexErrs) > 0 {
		return res, fail(log, PhaseLex, len(lexErrs))
	}

	phase(PhaseParse)
	prog, parseErrs := parser.Parse(tokens)
	res.Program, res.ParseErrors = prog, parseErrs
	if len(parseErrs) > 0 {
		return res, fail(log, PhaseParse, len(parseErrs))
	}

	phase(PhaseAnalyze)
	res.Table, res.Diagnostics = semantic.Analyze(prog, semantic.Options{
		MaxMemory: opts.MaxMemory,
		Logger:    log,
	})
	if res.Diagnostics.HasErrors() {
		return res, fail(log, PhaseAnalyze, len(res.Diagnostics))
	}

	phase(PhaseGenerate)
	res.Code, res.CodeErr = codegen.Generate(prog, res.Table, &codegen.Options{
		MaxMemory:  opts.MaxMemory,
		SourceName: filepath.Base(name),
		Logger:     log,
	})
	if res.CodeErr != nil {
		log.Error().Err(res.CodeErr).Msg("code generation failed")
		return res, fmt.Errorf("%w: %w", ErrCompilationFailed, res.CodeErr)
	}

	log.Debug().Int("instructions", res.Code.Code.Len()).Msg("compilation finished")
	return res, nil
}

func fail(log zerolog.Logger, p Phase, n int) error {
	log.Debug().Str("phase", string(p)).Int("errors", n).Msg("phase failed")
	return fmt.Errorf("%w: %d %s error(s)", ErrCompilationFailed, n, p)
}

// CompileFile reads path from fs and compiles it.
func CompileFile(fs billy.Filesystem, path string, opts Options) (*Result, error) {
	src, err := util.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}
	return Compile(path, string(src), opts)
}
