// Package parse is the tree-sitter AST provider. It parses C and C++ files
// and lowers the concrete syntax tree into ast.Node values.
//
// Tree-sitter does not run the preprocessor, so compiler flags only select
// the grammar (-x c / -x c++) and macros are seen unexpanded. Functions
// inside #if blocks, extern "C" blocks and namespaces are hoisted to the
// top level of the translation unit.
package parse

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/zppscan/internal/ast"
	"github.com/phobologic/zppscan/internal/lang"
	"github.com/phobologic/zppscan/internal/model"
)

// Provider implements ast.Provider with tree-sitter. It is safe for
// concurrent use; parsers are pooled per language.
type Provider struct {
	logger *slog.Logger

	mu    sync.Mutex
	pools map[string]*sync.Pool
}

// NewProvider returns a tree-sitter provider.
func NewProvider(logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{logger: logger, pools: make(map[string]*sync.Pool)}
}

func (p *Provider) pool(l *lang.Language) *sync.Pool {
	p.mu.Lock()
	defer p.mu.Unlock()
	pl, ok := p.pools[l.Name]
	if !ok {
		pl = &sync.Pool{New: func() any { return l.NewParser() }}
		p.pools[l.Name] = pl
	}
	return pl
}

// Parse reads path and lowers its syntax tree. args may force the language
// with -x; everything else is ignored.
func (p *Provider) Parse(ctx context.Context, path string, args []string) (*ast.TranslationUnit, error) {
	l := languageFor(path, args)
	if l == nil {
		return nil, &ast.ParseError{Path: path, Err: fmt.Errorf("no tree-sitter grammar for %s", path)}
	}

	source, err := os.ReadFile(path)
	if err != nil {
		return nil, &ast.ParseError{Path: path, Err: err}
	}

	pl := p.pool(l)
	parser := pl.Get().(*sitter.Parser)
	defer pl.Put(parser)

	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, &ast.ParseError{Path: path, Err: err}
	}
	defer tree.Close()

	lw := &lowerer{lang: l, source: source, path: path}
	root := lw.translationUnit(tree.RootNode())
	if tree.RootNode().HasError() && len(lw.diags) == 0 {
		lw.diagnose(tree.RootNode(), "syntax error")
	}

	if len(lw.diags) > 0 {
		p.logger.Debug("Tree-sitter recovered from syntax errors",
			slog.String("file", path), slog.Int("count", len(lw.diags)))
	}
	return ast.NewTranslationUnit(path, root, lw.diags, nil), nil
}

// languageFor picks the grammar from an explicit -x flag, falling back to
// the file extension.
func languageFor(path string, args []string) *lang.Language {
	for i, a := range args {
		var x string
		switch {
		case a == "-x" && i+1 < len(args):
			x = args[i+1]
		case strings.HasPrefix(a, "-x") && len(a) > 2:
			x = a[2:]
		default:
			continue
		}
		switch x {
		case "c", "c-header":
			return lang.Languages["c"]
		case "c++", "c++-header":
			return lang.Languages["cpp"]
		}
	}
	return lang.ForPath(path)
}

// transparent node types whose children are hoisted into the enclosing
// translation unit.
var transparent = map[string]bool{
	"preproc_if":            true,
	"preproc_ifdef":         true,
	"preproc_elif":          true,
	"preproc_elifdef":       true,
	"preproc_else":          true,
	"linkage_specification": true,
	"declaration_list":      true,
	"namespace_definition":  true,
}

type lowerer struct {
	lang   *lang.Language
	source []byte
	path   string
	diags  []ast.Diagnostic
}

func (lw *lowerer) location(n *sitter.Node) model.Location {
	pt := n.StartPoint()
	return model.Location{File: lw.path, Line: int(pt.Row) + 1, Column: int(pt.Column) + 1}
}

func (lw *lowerer) text(n *sitter.Node) string {
	return lang.NodeText(n, lw.source)
}

func (lw *lowerer) translationUnit(root *sitter.Node) *ast.Node {
	tu := &ast.Node{
		Kind:     ast.KindTranslationUnit,
		Spelling: lw.path,
		Location: model.Location{File: lw.path, Line: 1, Column: 1},
	}
	lw.hoist(root, tu)
	return tu
}

func (lw *lowerer) hoist(container *sitter.Node, tu *ast.Node) {
	for i := 0; i < int(container.NamedChildCount()); i++ {
		child := container.NamedChild(i)
		if transparent[child.Type()] {
			lw.hoist(child, tu)
			continue
		}
		if n := lw.lower(child, true); n != nil {
			tu.Children = append(tu.Children, n)
		}
	}
}

// lower converts one node. top is set for direct children of the
// translation unit.
func (lw *lowerer) lower(n *sitter.Node, top bool) *ast.Node {
	if n == nil || n.IsNull() {
		return nil
	}
	typ := n.Type()
	if typ == "comment" {
		return nil
	}

	out := &ast.Node{Location: lw.location(n)}
	if n.IsMissing() {
		lw.diagnose(n, fmt.Sprintf("missing %s", typ))
	}

	switch typ {
	case "function_definition":
		out.Kind = ast.KindFunctionDecl
		out.Spelling = lw.lang.FunctionName(n, lw.source)
		if body := lw.lower(n.ChildByFieldName("body"), false); body != nil {
			out.Children = []*ast.Node{body}
		}
		return out

	case "call_expression":
		out.Kind = ast.KindCallExpr
		if callee := lw.lower(n.ChildByFieldName("function"), false); callee != nil {
			out.Children = append(out.Children, callee)
		}
		out.Children = append(out.Children, lw.lowerArguments(n.ChildByFieldName("arguments"))...)
		return out

	case "identifier":
		out.Kind = ast.KindDeclRefExpr
		out.Spelling = lw.text(n)
		out.Tokens = []ast.Token{{Kind: ast.TokenIdentifier, Spelling: out.Spelling}}
		return out

	case "field_expression":
		out.Kind = ast.KindMemberRefExpr
		if f := n.ChildByFieldName("field"); f != nil {
			out.Spelling = lw.text(f)
		}
		if arg := lw.lower(n.ChildByFieldName("argument"), false); arg != nil {
			out.Children = []*ast.Node{arg}
		}
		return out

	case "string_literal", "raw_string_literal":
		out.Kind = ast.KindStringLiteral
		out.Tokens = []ast.Token{{Kind: ast.TokenLiteral, Spelling: lw.text(n)}}
		return out

	case "concatenated_string":
		out.Kind = ast.KindStringLiteral
		for i := 0; i < int(n.NamedChildCount()); i++ {
			part := n.NamedChild(i)
			switch part.Type() {
			case "string_literal", "raw_string_literal":
				out.Tokens = append(out.Tokens, ast.Token{Kind: ast.TokenLiteral, Spelling: lw.text(part)})
			case "comment":
				out.Tokens = append(out.Tokens, ast.Token{Kind: ast.TokenComment, Spelling: lw.text(part)})
			default:
				// Macro pieces such as PRId64 cannot be resolved here.
				out.Tokens = append(out.Tokens, ast.Token{Kind: ast.TokenIdentifier, Spelling: lw.text(part)})
			}
		}
		return out

	case "number_literal":
		out.Kind = ast.KindIntegerLiteral
		out.Tokens = []ast.Token{{Kind: ast.TokenLiteral, Spelling: lw.text(n)}}
		return out

	case "cast_expression":
		out.Kind = ast.KindCStyleCastExpr
		if v := lw.lower(n.ChildByFieldName("value"), false); v != nil {
			out.Children = []*ast.Node{v}
		}
		return out

	case "ERROR":
		lw.diagnose(n, "syntax error")
		out.Kind = ast.KindUnexposedStmt
		out.Children = lw.lowerAll(n)
		return out
	}

	out.Kind = genericKind(typ, top)
	out.Children = lw.lowerAll(n)
	return out
}

func (lw *lowerer) lowerAll(n *sitter.Node) []*ast.Node {
	if n == nil || n.IsNull() {
		return nil
	}
	var out []*ast.Node
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if c := lw.lower(n.NamedChild(i), false); c != nil {
			out = append(out, c)
		}
	}
	return out
}

// lowerArguments lowers an argument_list. Unexpanded macros written after
// an argument without a comma (PHP 5's TSRMLS_CC) leave an ERROR node that
// holds only identifiers, or the argument followed by identifiers. Those
// suffixes are dropped so argument positions match the expanded call.
func (lw *lowerer) lowerArguments(n *sitter.Node) []*ast.Node {
	if n == nil || n.IsNull() {
		return nil
	}
	var out []*ast.Node
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if child.Type() == "ERROR" {
			if arg, ok := lw.macroSuffix(child, len(out) > 0); ok {
				if arg != nil {
					out = append(out, arg)
				}
				continue
			}
		}
		if c := lw.lower(child, false); c != nil {
			out = append(out, c)
		}
	}
	return out
}

// macroSuffix reports whether an ERROR node inside an argument list is an
// argument followed by bare identifiers, returning the lowered argument,
// or only bare identifiers following an earlier argument, returning nil.
func (lw *lowerer) macroSuffix(n *sitter.Node, afterArg bool) (*ast.Node, bool) {
	count := int(n.NamedChildCount())
	end := count
	for end > 0 && n.NamedChild(end-1).Type() == "identifier" {
		end--
	}
	switch {
	case end == count:
		return nil, false
	case end == 0 && afterArg:
		return nil, true
	case end == 1:
		return lw.lower(n.NamedChild(0), false), true
	}
	return nil, false
}

func (lw *lowerer) diagnose(n *sitter.Node, msg string) {
	lw.diags = append(lw.diags, ast.Diagnostic{
		Severity: ast.SeverityWarning,
		Location: lw.location(n),
		Message:  msg,
	})
}

// genericKind maps the remaining grammar node types by name.
func genericKind(typ string, top bool) ast.Kind {
	switch typ {
	case "compound_statement":
		return ast.KindCompoundStmt
	case "return_statement":
		return ast.KindReturnStmt
	case "if_statement":
		return ast.KindIfStmt
	case "parameter_declaration":
		return ast.KindParmDecl
	case "parenthesized_expression":
		return ast.KindParenExpr
	case "pointer_expression", "unary_expression":
		return ast.KindUnaryOperator
	case "binary_expression", "assignment_expression":
		return ast.KindBinaryOperator
	case "declaration":
		if top {
			return ast.KindUnexposedDecl
		}
		return ast.KindDeclStmt
	}
	switch {
	case strings.HasSuffix(typ, "_expression"):
		return ast.KindUnexposedExpr
	case strings.HasSuffix(typ, "_declaration"),
		strings.HasSuffix(typ, "_definition"),
		strings.HasSuffix(typ, "_specifier"):
		return ast.KindUnexposedDecl
	}
	return ast.KindUnexposedStmt
}
