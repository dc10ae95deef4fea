// Package mdcase extracts compiler test cases from Markdown documents.
//
// A case starts at a heading of the form "Test: name". It holds exactly one
// ```cminus fence with the program and one or more expectation fences:
//
//	diagnostics  one rendered diagnostic per line, or empty for none
//	listing      the TM listing without comments
//	symbols      the symbol table in text form
//	funcs        "name address" lines of the function address table
package mdcase

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Kind names an expectation fence.
type Kind string

const (
	Diagnostics Kind = "diagnostics"
	Listing     Kind = "listing"
	Symbols     Kind = "symbols"
	Funcs       Kind = "funcs"
)

// InputFence is the language tag of the program fence.
const InputFence = "cminus"

// Expectation is one expectation fence.
type Expectation struct {
	Kind    Kind
	Content string
}

// Case is one test case.
type Case struct {
	Name   string
	Line   int // line of the heading
	Source string
	Expect []Expectation
}

// Get returns the expectation of kind k.
func (c Case) Get(k Kind) (string, bool) {
	for _, e := range c.Expect {
		if e.Kind == k {
			return e.Content, true
		}
	}
	return "", false
}

func isExpectation(lang string) bool {
	switch Kind(lang) {
	case Diagnostics, Listing, Symbols, Funcs:
		return true
	}
	return false
}

// Extract parses a Markdown document and returns its cases in order.
func Extract(doc []byte) ([]Case, error) {
	root := goldmark.New().Parser().Parse(text.NewReader(doc))

	var cases []Case
	var cur *Case
	finish := func() error {
		if cur == nil {
			return nil
		}
		if cur.Source == "" {
			return fmt.Errorf("test %q has no %s fence", cur.Name, InputFence)
		}
		if len(cur.Expect) == 0 {
			return fmt.Errorf("test %q has no expectation fences", cur.Name)
		}
		cases = append(cases, *cur)
		return nil
	}

	err := ast.Walk(root, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n := node.(type) {
		case *ast.Heading:
			title := headingText(n, doc)
			name, ok := strings.CutPrefix(title, "Test: ")
			if !ok {
				return ast.WalkSkipChildren, nil
			}
			if err := finish(); err != nil {
				return ast.WalkStop, err
			}
			cur = &Case{Name: strings.TrimSpace(name), Line: lineOf(n, doc)}
			return ast.WalkSkipChildren, nil

		case *ast.FencedCodeBlock:
			lang := string(n.Language(doc))
			line := lineOf(n, doc)
			if cur == nil {
				if lang == InputFence || isExpectation(lang) {
					return ast.WalkStop, fmt.Errorf("line %d: %s fence outside of a test", line, lang)
				}
				return ast.WalkContinue, nil
			}
			body := fenceBody(n, doc)
			switch {
			case lang == InputFence:
				if cur.Source != "" {
					return ast.WalkStop, fmt.Errorf("line %d: second %s fence in test %q", line, InputFence, cur.Name)
				}
				cur.Source = body
			case isExpectation(lang):
				if _, dup := cur.Get(Kind(lang)); dup {
					return ast.WalkStop, fmt.Errorf("line %d: second %s fence in test %q", line, lang, cur.Name)
				}
				cur.Expect = append(cur.Expect, Expectation{
					Kind:    Kind(lang),
					Content: strings.TrimRight(body, "\n"),
				})
			case lang != "":
				return ast.WalkStop, fmt.Errorf("line %d: unknown fence %q in test %q", line, lang, cur.Name)
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, err
	}
	if err := finish(); err != nil {
		return nil, err
	}
	return cases, nil
}

func headingText(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if t, ok := c.(*ast.Text); ok && entering {
			buf.Write(t.Segment.Value(src))
		}
		return ast.WalkContinue, nil
	})
	return buf.String()
}

func fenceBody(n *ast.FencedCodeBlock, src []byte) string {
	var buf bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		buf.Write(seg.Value(src))
	}
	return buf.String()
}

// lineOf returns the 1-based source line where n starts.
func lineOf(n ast.Node, src []byte) int {
	var start int
	switch {
	case n.Lines().Len() > 0:
		start = n.Lines().At(0).Start
	default:
		// empty fences and headings without text carry no segment
		if fc, ok := n.(*ast.FencedCodeBlock); ok && fc.Info != nil {
			start = fc.Info.Segment.Start
		}
	}
	return bytes.Count(src[:min(start, len(src))], []byte("\n")) + 1
}
