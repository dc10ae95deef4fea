package codegen

import (
	"bufio"
	"fmt"
	"path/filepath"

	"github.com/go-git/go-billy/v5"

	"cminus/internal/tm"
)

// ---------------------------------------------------------------------------
// Artifacts: output files of one compilation
// ---------------------------------------------------------------------------

// Artifacts describes where the outputs of a compilation are written.
type Artifacts struct {
	FS       billy.Filesystem
	BuildDir string
	TMFile   string // path to the TM listing
	FuncFile string // path to the function address table
	Trace    bool   // keep listing comments
}

// NewArtifacts places the outputs of baseName inside buildDir on fs.
func NewArtifacts(fs billy.Filesystem, buildDir, baseName string) *Artifacts {
	return &Artifacts{
		FS:       fs,
		BuildDir: buildDir,
		TMFile:   filepath.Join(buildDir, baseName+".tm"),
		FuncFile: filepath.Join(buildDir, baseName+".funcs"),
	}
}

func (a *Artifacts) ensureDir() error {
	if a.BuildDir == "" {
		return nil
	}
	if err := a.FS.MkdirAll(a.BuildDir, 0o755); err != nil {
		return fmt.Errorf("create build directory: %w", err)
	}
	return nil
}

// WriteListing writes the instruction stream to the .tm file.
func (a *Artifacts) WriteListing(code *tm.Stream) error {
	if err := a.ensureDir(); err != nil {
		return err
	}
	f, err := a.FS.Create(a.TMFile)
	if err != nil {
		return fmt.Errorf("create %s: %w", a.TMFile, err)
	}
	if err := code.WriteListing(f, a.Trace); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", a.TMFile, err)
	}
	return f.Close()
}

// WriteFuncTable writes one "name address" line per generated function.
func (a *Artifacts) WriteFuncTable(funcs *FuncTable) error {
	if err := a.ensureDir(); err != nil {
		return err
	}
	f, err := a.FS.Create(a.FuncFile)
	if err != nil {
		return fmt.Errorf("create %s: %w", a.FuncFile, err)
	}
	w := bufio.NewWriter(f)
	funcs.Each(func(name string, addr int) bool {
		fmt.Fprintf(w, "%s %d\n", name, addr)
		return true
	})
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", a.FuncFile, err)
	}
	return f.Close()
}

// WriteArtifacts writes the listing and function table of res into dir.
func WriteArtifacts(fs billy.Filesystem, dir, base string, res *Result, trace bool) (*Artifacts, error) {
	a := NewArtifacts(fs, dir, base)
	a.Trace = trace
	if err := a.WriteListing(res.Code); err != nil {
		return a, err
	}
	return a, a.WriteFuncTable(res.Funcs)
}
