// Package listing renders the compiler's human-readable and JSON reports:
// the symbol table, the function address table and diagnostics.
package listing

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"
	"github.com/muesli/termenv"

	"cminus/internal/codegen"
	"cminus/internal/semantic"
	"cminus/internal/symtab"
)

// Printer writes reports to one output with a fixed colour profile.
type Printer struct {
	out *termenv.Output
}

// New returns a printer for w. Use termenv.Ascii for uncoloured output.
func New(w io.Writer, profile termenv.Profile) *Printer {
	return &Printer{out: termenv.NewOutput(w, termenv.WithProfile(profile))}
}

func (p *Printer) header(s string) string {
	return p.out.String(s).Bold().Foreground(p.out.Color("12")).String()
}

func (p *Printer) faint(s string) string {
	return p.out.String(s).Faint().String()
}

// ---------------------------------------------------------------------------
// Symbol table
// ---------------------------------------------------------------------------

// Symbols writes one block per scope in creation order, symbols in natural
// name order. Empty scopes are skipped.
func (p *Printer) Symbols(table *symtab.Table) error {
	w := bufio.NewWriter(p.out)
	for _, scope := range table.Scopes() {
		if scope.Len() == 0 {
			continue
		}
		fmt.Fprintln(w, p.header("Scope: "+scope.Name))
		fmt.Fprintln(w, p.faint(fmt.Sprintf("%-14s %-10s %-9s %-8s %-8s %s",
			"Name", "Kind", "Type", "Array", "Location", "Lines")))
		for _, sym := range scope.Symbols() {
			fmt.Fprintf(w, "%-14s %-10s %-9s %-8s %-8d %s\n",
				sym.Name, sym.Kind, sym.Type, yesNo(sym.IsArray), sym.Offset, lines(sym.Lines))
		}
		fmt.Fprintln(w)
	}
	return w.Flush()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func lines(ls []int) string {
	parts := make([]string, len(ls))
	for i, l := range ls {
		parts[i] = fmt.Sprintf("%d", l)
	}
	return strings.Join(parts, " ")
}

type symbolJSON struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Type   string `json:"type"`
	Array  bool   `json:"array"`
	Offset int    `json:"offset"`
	Lines  []int  `json:"lines"`
}

type scopeJSON struct {
	Name    string       `json:"name"`
	Parent  string       `json:"parent,omitempty"`
	Symbols []symbolJSON `json:"symbols"`
}

// SymbolsJSON writes the symbol table as a JSON array of scopes.
func SymbolsJSON(w io.Writer, table *symtab.Table) error {
	scopes := make([]scopeJSON, 0, len(table.Scopes()))
	for _, scope := range table.Scopes() {
		s := scopeJSON{Name: scope.Name, Symbols: []symbolJSON{}}
		if parent := table.Scope(scope.Parent); parent != nil {
			s.Parent = parent.Name
		}
		for _, sym := range scope.Symbols() {
			ls := sym.Lines
			if ls == nil {
				ls = []int{}
			}
			s.Symbols = append(s.Symbols, symbolJSON{
				Name:   sym.Name,
				Kind:   sym.Kind.String(),
				Type:   sym.Type.String(),
				Array:  sym.IsArray,
				Offset: sym.Offset,
				Lines:  ls,
			})
		}
		scopes = append(scopes, s)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(scopes)
}

// ---------------------------------------------------------------------------
// Function address table
// ---------------------------------------------------------------------------

// Funcs writes the entry address of every generated function.
func (p *Printer) Funcs(funcs *codegen.FuncTable) error {
	w := bufio.NewWriter(p.out)
	fmt.Fprintln(w, p.header("Functions"))
	funcs.Each(func(name string, addr int) bool {
		fmt.Fprintf(w, "%-14s %d\n", name, addr)
		return true
	})
	return w.Flush()
}

// ---------------------------------------------------------------------------
// Diagnostics
// ---------------------------------------------------------------------------

// Diagnostics writes one line per diagnostic, the error label highlighted.
func (p *Printer) Diagnostics(diags semantic.Diagnostics) error {
	w := bufio.NewWriter(p.out)
	for _, d := range diags {
		msg := d.Error()
		label, rest, ok := strings.Cut(msg, ":")
		if !ok {
			fmt.Fprintln(w, msg)
			continue
		}
		fmt.Fprintf(w, "%s:%s\n", p.out.String(label).Foreground(p.out.Color("9")).Bold(), rest)
	}
	return w.Flush()
}

// Report is the machine-readable outcome of one compilation.
type Report struct {
	File        string               `json:"file"`
	ID          string               `json:"id"`
	OK          bool                 `json:"ok"`
	Phase       string               `json:"phase"`
	Errors      []string             `json:"errors"`
	Diagnostics semantic.Diagnostics `json:"diagnostics"`
}

// ReportJSON writes rep as indented JSON. Empty lists encode as [].
func ReportJSON(w io.Writer, rep Report) error {
	if rep.Errors == nil {
		rep.Errors = []string{}
	}
	if rep.Diagnostics == nil {
		rep.Diagnostics = semantic.Diagnostics{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}
