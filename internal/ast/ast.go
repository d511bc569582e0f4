// Package ast is the frontend-neutral syntax tree consumed by the scanner.
//
// Frontends (tree-sitter, clang) lower their native trees into Node values.
// The scanner relies on one structural contract: a call expression's first
// child is the callee and its remaining children are the arguments in
// order, each optionally wrapped in a single KindUnexposedExpr node
// standing for an implicit conversion.
package ast

import (
	"context"
	"fmt"

	"github.com/phobologic/zppscan/internal/model"
)

// Token is a lexical token covering part of a node's extent.
type Token struct {
	Kind     TokenKind
	Spelling string
}

// Node is one element of a translation unit's tree.
type Node struct {
	Kind     Kind
	Spelling string
	Location model.Location
	Tokens   []Token
	Children []*Node
}

// Child returns the i-th child, or nil when the node has fewer children.
func (n *Node) Child(i int) *Node {
	if n == nil || i < 0 || i >= len(n.Children) {
		return nil
	}
	return n.Children[i]
}

// Diagnostic is a message a frontend reported while parsing.
type Diagnostic struct {
	Severity Severity
	Location model.Location
	Message  string
}

// TranslationUnit is the parsed form of one source file. Nodes reachable
// from Root must not be used after Close.
type TranslationUnit struct {
	Path        string
	Root        *Node
	Diagnostics []Diagnostic

	release func()
}

// NewTranslationUnit wraps a root node. release, if non-nil, runs once on
// Close to free frontend state.
func NewTranslationUnit(path string, root *Node, diags []Diagnostic, release func()) *TranslationUnit {
	return &TranslationUnit{Path: path, Root: root, Diagnostics: diags, release: release}
}

// Close releases the unit. It is safe to call more than once.
func (tu *TranslationUnit) Close() {
	if tu == nil {
		return
	}
	if tu.release != nil {
		tu.release()
		tu.release = nil
	}
	tu.Root = nil
}

// Provider parses one source file under the given compiler arguments.
type Provider interface {
	Parse(ctx context.Context, path string, args []string) (*TranslationUnit, error)
}

// ParseError reports that a provider could not produce a translation unit.
type ParseError struct {
	Path        string
	Diagnostics []Diagnostic
	Err         error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parsing %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("parsing %s: %d diagnostics", e.Path, len(e.Diagnostics))
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
