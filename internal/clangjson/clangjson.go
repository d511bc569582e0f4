// Package clangjson is an AST provider backed by clang's JSON AST dump
// (clang -fsyntax-only -Xclang -ast-dump=json). Unlike tree-sitter it
// runs the preprocessor with the recorded flags, so PHP_FUNCTION and
// ZEND_NUM_ARGS are seen expanded.
package clangjson

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/phobologic/zppscan/internal/ast"
	"github.com/phobologic/zppscan/internal/model"
)

// DefaultClang is the compiler binary looked up in PATH.
const DefaultClang = "clang"

// Provider implements ast.Provider by running clang once per file.
type Provider struct {
	Clang  string
	logger *slog.Logger
}

// NewProvider returns a provider running the given clang binary.
func NewProvider(clang string, logger *slog.Logger) *Provider {
	if clang == "" {
		clang = DefaultClang
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{Clang: clang, logger: logger}
}

// Parse runs clang on file with args and lowers the dump.
func (p *Provider) Parse(ctx context.Context, file string, args []string) (*ast.TranslationUnit, error) {
	argv := make([]string, 0, len(args)+4)
	argv = append(argv, "-fsyntax-only", "-Xclang", "-ast-dump=json")
	argv = append(argv, args...)
	argv = append(argv, file)

	cmd := exec.CommandContext(ctx, p.Clang, argv...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &ast.ParseError{Path: file, Err: err}
	}

	p.logger.Debug("Running clang", slog.String("file", file), slog.String("args", strings.Join(argv, " ")))
	if err := cmd.Start(); err != nil {
		return nil, &ast.ParseError{Path: file, Err: fmt.Errorf("starting %s: %w", p.Clang, err)}
	}

	root, decodeErr := Decode(stdout, file)
	// Drain so clang never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, stdout)
	waitErr := cmd.Wait()

	diags := ParseDiagnostics(stderr.Bytes())
	if waitErr != nil {
		return nil, &ast.ParseError{Path: file, Diagnostics: diags, Err: fmt.Errorf("%s: %w", p.Clang, waitErr)}
	}
	if decodeErr != nil {
		return nil, &ast.ParseError{Path: file, Diagnostics: diags, Err: decodeErr}
	}
	return ast.NewTranslationUnit(file, root, diags, nil), nil
}

// node is a node from the Clang AST dump.
type node struct {
	Kind           string
	Loc            loc
	Range          struct{ Begin, End loc }
	Inner          []*node `json:",omitempty"`
	Name           string
	Value          json.RawMessage
	ReferencedDecl *node
	IsImplicit     bool
}

// loc is a location from the Clang AST dump.
type loc struct {
	File         string `json:",omitempty"`
	Line         int    `json:",omitempty"`
	Col          int    `json:",omitempty"`
	SpellingLoc  *loc   `json:",omitempty"`
	ExpansionLoc *loc   `json:",omitempty"`
}

// expansionLoc returns the expansion location of the given loc.
func (l loc) expansionLoc() loc {
	if l.ExpansionLoc != nil {
		return *l.ExpansionLoc
	}
	if l.SpellingLoc != nil {
		return *l.SpellingLoc
	}
	return l
}

type decompressCtx struct {
	file string
	line int
}

// decompress undoes the file and line elision of the JSON dumper, which
// only prints a field when it differs from the previously printed loc.
func (l *loc) decompress(last *decompressCtx) {
	if l == nil {
		return
	}
	l.SpellingLoc.decompress(last)
	l.ExpansionLoc.decompress(last)
	if l.SpellingLoc != nil || l.ExpansionLoc != nil {
		return
	}
	if l.Col == 0 && l.Line == 0 && l.File == "" {
		return
	}
	if l.File == "" {
		l.File = last.file
	} else {
		last.file = l.File
	}
	if l.Line == 0 {
		l.Line = last.line
	} else {
		last.line = l.Line
	}
}

func (n *node) decompressLocs(last *decompressCtx) {
	n.Loc.decompress(last)
	n.Range.Begin.decompress(last)
	n.Range.End.decompress(last)
	for _, child := range n.Inner {
		child.decompressLocs(last)
	}
}

// Decode reads one JSON AST dump and lowers it. file names the main source
// and is used for nodes whose location was never printed.
func Decode(r io.Reader, file string) (*ast.Node, error) {
	var root node
	if err := json.NewDecoder(bufio.NewReader(r)).Decode(&root); err != nil {
		return nil, fmt.Errorf("decoding clang AST: %w", err)
	}
	if root.Kind != "TranslationUnitDecl" {
		return nil, fmt.Errorf("decoding clang AST: root is %q, want TranslationUnitDecl", root.Kind)
	}
	root.decompressLocs(&decompressCtx{})

	tu := &ast.Node{
		Kind:     ast.KindTranslationUnit,
		Spelling: file,
		Location: model.Location{File: file, Line: 1, Column: 1},
	}
	for _, child := range root.Inner {
		if child.IsImplicit {
			continue
		}
		if n := lower(child); n != nil {
			tu.Children = append(tu.Children, n)
		}
	}
	return tu, nil
}

func location(l loc) model.Location {
	e := l.expansionLoc()
	file := e.File
	if file != "" {
		file = path.Clean(file)
	}
	return model.Location{File: file, Line: e.Line, Column: e.Col}
}

func lower(n *node) *ast.Node {
	kind, keep := mapKind(n.Kind)
	if !keep {
		return nil
	}

	// Chains of implicit casts (decay followed by a qualification
	// conversion) collapse into one wrapper.
	if n.Kind == "ImplicitCastExpr" {
		for len(n.Inner) == 1 && n.Inner[0].Kind == "ImplicitCastExpr" {
			n = n.Inner[0]
		}
	}

	out := &ast.Node{Kind: kind, Location: location(n.Loc)}
	switch n.Kind {
	case "DeclRefExpr":
		if n.ReferencedDecl != nil {
			out.Spelling = n.ReferencedDecl.Name
		}
		out.Tokens = []ast.Token{{Kind: ast.TokenIdentifier, Spelling: out.Spelling}}
	case "StringLiteral":
		if s, ok := rawString(n.Value); ok {
			out.Tokens = []ast.Token{{Kind: ast.TokenLiteral, Spelling: s}}
		}
	case "IntegerLiteral", "CharacterLiteral":
		if len(n.Value) > 0 {
			s, ok := rawString(n.Value)
			if !ok {
				s = string(n.Value)
			}
			out.Tokens = []ast.Token{{Kind: ast.TokenLiteral, Spelling: s}}
		}
	default:
		out.Spelling = n.Name
	}

	for _, child := range n.Inner {
		if c := lower(child); c != nil {
			out.Children = append(out.Children, c)
		}
	}
	return out
}

func rawString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || raw[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// mapKind translates a clang node kind. Types, attributes and comments are
// dropped.
func mapKind(kind string) (ast.Kind, bool) {
	switch kind {
	case "TranslationUnitDecl":
		return ast.KindTranslationUnit, true
	case "FunctionDecl", "CXXMethodDecl":
		return ast.KindFunctionDecl, true
	case "ParmVarDecl":
		return ast.KindParmDecl, true
	case "VarDecl":
		return ast.KindVarDecl, true
	case "CompoundStmt":
		return ast.KindCompoundStmt, true
	case "DeclStmt":
		return ast.KindDeclStmt, true
	case "ReturnStmt":
		return ast.KindReturnStmt, true
	case "IfStmt":
		return ast.KindIfStmt, true
	case "CallExpr", "CXXMemberCallExpr":
		return ast.KindCallExpr, true
	case "DeclRefExpr":
		return ast.KindDeclRefExpr, true
	case "MemberExpr":
		return ast.KindMemberRefExpr, true
	case "StringLiteral":
		return ast.KindStringLiteral, true
	case "IntegerLiteral":
		return ast.KindIntegerLiteral, true
	case "ParenExpr":
		return ast.KindParenExpr, true
	case "UnaryOperator":
		return ast.KindUnaryOperator, true
	case "BinaryOperator", "CompoundAssignOperator":
		return ast.KindBinaryOperator, true
	case "CStyleCastExpr":
		return ast.KindCStyleCastExpr, true
	case "ImplicitCastExpr":
		return ast.KindUnexposedExpr, true
	}
	switch {
	case strings.HasSuffix(kind, "Type"),
		strings.HasSuffix(kind, "Attr"),
		strings.HasSuffix(kind, "Comment"),
		kind == "":
		return ast.KindInvalid, false
	case strings.HasSuffix(kind, "Expr"), strings.HasSuffix(kind, "Operator"), strings.HasSuffix(kind, "Literal"):
		return ast.KindUnexposedExpr, true
	case strings.HasSuffix(kind, "Decl"):
		return ast.KindUnexposedDecl, true
	}
	return ast.KindUnexposedStmt, true
}

var diagLine = regexp.MustCompile(`^(.+?):(\d+):(\d+): (note|remark|warning|error|fatal error): (.*)$`)

// ParseDiagnostics extracts file:line:col diagnostics from clang stderr.
func ParseDiagnostics(stderr []byte) []ast.Diagnostic {
	var diags []ast.Diagnostic
	for _, line := range strings.Split(string(stderr), "\n") {
		m := diagLine.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			continue
		}
		lineNo, _ := strconv.Atoi(m[2])
		col, _ := strconv.Atoi(m[3])
		diags = append(diags, ast.Diagnostic{
			Severity: severity(m[4]),
			Location: model.Location{File: m[1], Line: lineNo, Column: col},
			Message:  m[5],
		})
	}
	return diags
}

func severity(s string) ast.Severity {
	switch s {
	case "note", "remark":
		return ast.SeverityNote
	case "warning":
		return ast.SeverityWarning
	case "error":
		return ast.SeverityError
	case "fatal error":
		return ast.SeverityFatal
	}
	return ast.SeverityIgnored
}
