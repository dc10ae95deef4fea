package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/muesli/termenv"
	"github.com/posener/complete/v2/install"
	"github.com/rs/zerolog"

	"cminus/internal/ast"
	"cminus/internal/codegen"
	"cminus/internal/compiler"
	"cminus/internal/config"
	"cminus/internal/listing"
)

const (
	VERSION      = "0.2.0"
	COMMAND_NAME = "cminus"

	BUILD_SUBCMD                 = "build"
	CHECK_SUBCMD                 = "check"
	SYMTAB_SUBCMD                = "symtab"
	VERSION_SUBCMD               = "version"
	INSTALL_COMPLETIONS_SUBCMD   = "install-completions"
	UNINSTALL_COMPLETIONS_SUBCMD = "uninstall-completions"

	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2
)

const usage = `Usage: cminus <command> [flags] <file.cm>

commands:
  build     compile to TM code (-o out.tm -config f -trace -symtab -tree)
  check     report errors without writing output (-json)
  symtab    print the symbol table (-json)
  version   print the compiler version
  install-completions / uninstall-completions
`

func main() {
	completer.Complete(COMMAND_NAME)
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// env is what every subcommand shares once flags and config are read.
type env struct {
	fs      billy.Filesystem
	cfg     config.Config
	log     zerolog.Logger
	stdout  io.Writer
	stderr  io.Writer
	profile termenv.Profile
	source  string // absolute path of the input file
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return exitUsage
	}
	sub, rest := args[0], args[1:]

	switch sub {
	case VERSION_SUBCMD:
		fmt.Fprintln(stdout, "C-minus Compiler V"+VERSION)
		return exitOK
	case INSTALL_COMPLETIONS_SUBCMD:
		if err := install.Install(COMMAND_NAME); err != nil {
			fmt.Fprintln(stderr, err)
			return exitFailed
		}
		fmt.Fprintln(stdout, "installed")
		return exitOK
	case UNINSTALL_COMPLETIONS_SUBCMD:
		if err := install.Uninstall(COMMAND_NAME); err != nil {
			fmt.Fprintln(stderr, err)
			return exitFailed
		}
		fmt.Fprintln(stdout, "uninstalled")
		return exitOK
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return exitOK
	case BUILD_SUBCMD:
		return runBuild(rest, stdout, stderr)
	case CHECK_SUBCMD:
		return runCheck(rest, stdout, stderr)
	case SYMTAB_SUBCMD:
		return runSymtab(rest, stdout, stderr)
	}
	fmt.Fprintf(stderr, "unknown command %q\n\n%s", sub, usage)
	return exitUsage
}

// setup parses flags, loads the configuration and builds the logger.
func setup(fset *flag.FlagSet, args []string, stdout, stderr io.Writer) (*env, int) {
	configPath := fset.String("config", "", "configuration file (default: cminus.yaml next to the source)")
	fset.SetOutput(stderr)
	if err := fset.Parse(args); err != nil {
		return nil, exitUsage
	}
	if fset.NArg() != 1 {
		fmt.Fprintf(stderr, "%s: expected exactly one source file\n", fset.Name())
		return nil, exitUsage
	}

	source, err := filepath.Abs(fset.Arg(0))
	if err != nil {
		fmt.Fprintln(stderr, err)
		return nil, exitUsage
	}
	e := &env{fs: osfs.New("/"), stdout: stdout, stderr: stderr, source: source}

	path := *configPath
	if path == "" {
		path = filepath.Join(filepath.Dir(source), config.DefaultFile)
	} else if path, err = filepath.Abs(path); err != nil {
		fmt.Fprintln(stderr, err)
		return nil, exitUsage
	}
	e.cfg, err = config.Load(e.fs, path)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return nil, exitUsage
	}

	switch strings.ToLower(e.cfg.Color) {
	case "always":
		e.profile = termenv.ANSI256
	case "never":
		e.profile = termenv.Ascii
	default:
		e.profile = termenv.EnvColorProfile()
	}

	lvl, _ := e.cfg.Level()
	if strings.ToLower(e.cfg.Log.Format) == "json" {
		e.log = zerolog.New(stderr).Level(lvl).With().Timestamp().Logger()
	} else {
		e.log = zerolog.New(zerolog.ConsoleWriter{
			Out:        stderr,
			NoColor:    e.profile == termenv.Ascii,
			TimeFormat: time.Kitchen,
		}).Level(lvl).With().Timestamp().Logger()
	}
	return e, exitOK
}

func (e *env) compile() (*compiler.Result, error) {
	return compiler.CompileFile(e.fs, e.source, compiler.Options{
		MaxMemory: e.cfg.MaxMemory,
		Logger:    e.log,
	})
}

// report prints every error of res. It returns false if there were any.
func (e *env) report(res *compiler.Result) bool {
	errs := res.Errors()
	if len(errs) == 0 {
		return true
	}
	if res.Reached == compiler.PhaseAnalyze {
		listing.New(e.stderr, e.profile).Diagnostics(res.Diagnostics)
		return false
	}
	for _, line := range errs {
		fmt.Fprintln(e.stderr, line)
	}
	return false
}

// ---------------------------------------------------------------------------
// build
// ---------------------------------------------------------------------------

func runBuild(args []string, stdout, stderr io.Writer) int {
	start := time.Now()
	fset := flag.NewFlagSet(BUILD_SUBCMD, flag.ContinueOnError)
	output := fset.String("o", "", "output file (default: source name with .tm)")
	trace := fset.Bool("trace", false, "write trace comments into the listing")
	symtab := fset.Bool("symtab", false, "print the symbol table")
	tree := fset.Bool("tree", false, "print the annotated syntax tree")

	e, code := setup(fset, args, stdout, stderr)
	if e == nil {
		return code
	}
	*trace = *trace || e.cfg.Trace.Code
	*symtab = *symtab || e.cfg.Trace.Analyze
	*tree = *tree || e.cfg.Trace.Parse

	res, err := e.compile()
	if res == nil {
		fmt.Fprintln(stderr, "Error:", err)
		return exitFailed
	}
	if *tree && res.Program != nil {
		fmt.Fprintln(stdout, ast.DebugString(res.Program))
	}
	if *symtab && res.Table != nil {
		listing.New(stdout, e.profile).Symbols(res.Table)
	}
	if err != nil {
		e.report(res)
		return exitFailed
	}

	dir, base := outputLocation(e.source, *output, e.cfg.BuildDir)
	art, err := codegen.WriteArtifacts(e.fs, dir, base, res.Code, *trace)
	if err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return exitFailed
	}
	if *symtab {
		listing.New(stdout, e.profile).Funcs(res.Code.Funcs)
	}

	fmt.Fprintln(stdout, "Build artifacts:")
	fmt.Fprintf(stdout, "  Listing:   %s\n", art.TMFile)
	fmt.Fprintf(stdout, "  Functions: %s\n", art.FuncFile)
	fmt.Fprintf(stdout, "Compile time: %s\n", time.Since(start))
	return exitOK
}

// outputLocation splits the requested output path into a directory and a
// base name. Without -o the listing goes to buildDir, relative to the source.
func outputLocation(source, output, buildDir string) (dir, base string) {
	if output != "" {
		abs, err := filepath.Abs(output)
		if err == nil {
			output = abs
		}
		return filepath.Dir(output), strings.TrimSuffix(filepath.Base(output), ".tm")
	}
	dir = filepath.Dir(source)
	if buildDir != "" && buildDir != "." {
		if filepath.IsAbs(buildDir) {
			dir = buildDir
		} else {
			dir = filepath.Join(dir, buildDir)
		}
	}
	return dir, strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
}

// ---------------------------------------------------------------------------
// check
// ---------------------------------------------------------------------------

func runCheck(args []string, stdout, stderr io.Writer) int {
	fset := flag.NewFlagSet(CHECK_SUBCMD, flag.ContinueOnError)
	asJSON := fset.Bool("json", false, "print a JSON report")
	e, code := setup(fset, args, stdout, stderr)
	if e == nil {
		return code
	}

	res, err := e.compile()
	if res == nil {
		fmt.Fprintln(stderr, "Error:", err)
		return exitFailed
	}

	if *asJSON {
		rep := listing.Report{
			File:        e.source,
			ID:          res.ID.String(),
			OK:          err == nil,
			Phase:       string(res.Reached),
			Errors:      res.Errors(),
			Diagnostics: res.Diagnostics,
		}
		if encErr := listing.ReportJSON(stdout, rep); encErr != nil {
			fmt.Fprintln(stderr, encErr)
			return exitFailed
		}
	} else if e.report(res) {
		fmt.Fprintln(stdout, "ok")
	}

	if err != nil {
		return exitFailed
	}
	return exitOK
}

// ---------------------------------------------------------------------------
// symtab
// ---------------------------------------------------------------------------

func runSymtab(args []string, stdout, stderr io.Writer) int {
	fset := flag.NewFlagSet(SYMTAB_SUBCMD, flag.ContinueOnError)
	asJSON := fset.Bool("json", false, "print JSON")
	e, code := setup(fset, args, stdout, stderr)
	if e == nil {
		return code
	}

	res, err := e.compile()
	if res == nil || res.Table == nil {
		if res != nil {
			e.report(res)
		} else {
			fmt.Fprintln(stderr, "Error:", err)
		}
		return exitFailed
	}

	if *asJSON {
		err = listing.SymbolsJSON(stdout, res.Table)
	} else {
		err = listing.New(stdout, e.profile).Symbols(res.Table)
	}
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailed
	}
	if !e.report(res) {
		return exitFailed
	}
	return exitOK
}
