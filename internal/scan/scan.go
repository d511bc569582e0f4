// Package scan locates sentinel calls inside function bodies and recovers
// their literal format-string argument.
package scan

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/phobologic/zppscan/internal/ast"
	"github.com/phobologic/zppscan/internal/model"
)

const (
	// DefaultSentinel is the function whose format argument is extracted.
	DefaultSentinel = "zend_parse_parameters"

	// DefaultExportedPrefix marks externally callable entry points; it is
	// what PHP_FUNCTION(name) expands to.
	DefaultExportedPrefix = "zif_"

	// formatArgIndex is the call child holding the format string: the
	// callee is child 0 and the argument count child 1.
	formatArgIndex = 2
)

// Policy decides what happens when one function uses several different
// format strings.
type Policy int

const (
	// Strict aborts the translation unit with an *AmbiguousFormatError.
	Strict Policy = iota
	// Lenient records every format string and continues.
	Lenient
)

// ParsePolicy maps a config value to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(s) {
	case "", "strict":
		return Strict, nil
	case "lenient":
		return Lenient, nil
	}
	return Strict, fmt.Errorf("unknown ambiguity policy %q", s)
}

func (p Policy) String() string {
	switch p {
	case Strict:
		return "strict"
	case Lenient:
		return "lenient"
	}
	return "unknown"
}

// AmbiguousFormatError reports a function that passes two or more
// different literal format strings to the sentinel.
type AmbiguousFormatError struct {
	Function string
	Location model.Location
	Sentinel string
	Formats  []string
}

func (e *AmbiguousFormatError) Error() string {
	return fmt.Sprintf("function %s in %s contains calls to %s with different format strings: %s",
		e.Function, e.Location, e.Sentinel, strings.Join(e.Formats, ", "))
}

// ArgKind classifies the format argument of one sentinel call.
type ArgKind int

const (
	// ArgLiteral is a string literal; Argument.Text holds its contents.
	ArgLiteral ArgKind = iota
	// ArgNonLiteral is any other expression, typically a variable.
	ArgNonLiteral
	// ArgAbsent means the call has no format argument in the expected slot.
	ArgAbsent
)

// Argument is the classified format argument of a sentinel call.
type Argument struct {
	Kind ArgKind
	Text string
}

// Options restrict which functions of a translation unit are scanned.
type Options struct {
	// FileFilter, when set, skips functions located in any other file,
	// such as definitions pulled in from headers.
	FileFilter string

	// ExportedOnly skips functions without the exported prefix.
	ExportedOnly bool
}

// Scanner walks translation units. It holds no per-run state and is safe
// for concurrent use.
type Scanner struct {
	Sentinel       string
	ExportedPrefix string
	Policy         Policy

	logger *slog.Logger
}

// New returns a Scanner for the default sentinel and prefix.
func New(logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		Sentinel:       DefaultSentinel,
		ExportedPrefix: DefaultExportedPrefix,
		Policy:         Strict,
		logger:         logger,
	}
}

// Scan enumerates the top-level function definitions under root and
// returns the format strings each one passes to the sentinel. Functions
// without a qualifying call are omitted. Definitions sharing a name, such
// as alternatives under #ifdef and #else, are merged into one function
// before the ambiguity check.
func (s *Scanner) Scan(root *ast.Node, opts Options) (*model.FileReport, error) {
	report := &model.FileReport{Path: opts.FileFilter}
	if root == nil {
		return report, nil
	}

	filter := ""
	if opts.FileFilter != "" {
		filter = filepath.Clean(opts.FileFilter)
	}

	var (
		order  []string
		merged = make(map[string]*definition)
	)
	for _, fn := range root.Children {
		if fn.Kind != ast.KindFunctionDecl {
			continue
		}
		if filter != "" && filepath.Clean(fn.Location.File) != filter {
			continue
		}
		if opts.ExportedOnly && !strings.HasPrefix(fn.Spelling, s.ExportedPrefix) {
			continue
		}

		s.logger.Debug("Processing function",
			slog.String("function", fn.Spelling),
			slog.String("location", fn.Location.String()))

		formats := s.collectFormats(fn, report)
		d, ok := merged[fn.Spelling]
		if !ok {
			d = &definition{fn: fn, formats: make(map[string]struct{})}
			merged[fn.Spelling] = d
			order = append(order, fn.Spelling)
		} else if len(d.fn.Children) == 0 {
			d.fn = fn
		}
		for f := range formats {
			d.formats[f] = struct{}{}
		}
	}

	for _, name := range order {
		fr, err := s.finish(merged[name])
		if err != nil {
			return nil, err
		}
		if fr == nil {
			s.logger.Debug("Function does not call sentinel",
				slog.String("function", name), slog.String("sentinel", s.Sentinel))
			continue
		}
		s.logger.Info("Function calls sentinel",
			slog.String("function", name),
			slog.String("sentinel", s.Sentinel),
			slog.String("formats", strings.Join(fr.Formats, " ")))
		report.Functions = append(report.Functions, *fr)
	}
	return report, nil
}

// definition is one function name and the literal formats found across
// all of its definitions. fn is the first one seen with a body.
type definition struct {
	fn      *ast.Node
	formats map[string]struct{}
}

// collectFormats runs a breadth-first search of fn and returns the
// distinct non-empty literals passed to the sentinel. Counters for
// variable and malformed arguments accumulate into report.
func (s *Scanner) collectFormats(fn *ast.Node, report *model.FileReport) map[string]struct{} {
	formats := make(map[string]struct{})
	queue := []*ast.Node{fn}

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]

		if n.Kind == ast.KindCallExpr && s.isSentinelCall(n) {
			arg := classifyFormatArg(n)
			switch arg.Kind {
			case ArgLiteral:
				if arg.Text != "" {
					formats[arg.Text] = struct{}{}
				}
			case ArgNonLiteral:
				report.VariableArgs++
				s.logger.Debug("Sentinel called with a non-literal format",
					slog.String("function", fn.Spelling),
					slog.String("location", n.Location.String()))
			case ArgAbsent:
				report.MalformedCalls++
				s.logger.Warn("Sentinel call has no format argument in the expected position",
					slog.String("function", fn.Spelling),
					slog.String("location", n.Location.String()),
					slog.Int("children", len(n.Children)))
			}
			// A sentinel call is terminal; its arguments are not searched.
			continue
		}

		queue = append(queue, n.Children...)
	}
	return formats
}

// finish applies the ambiguity policy to a merged definition.
func (s *Scanner) finish(d *definition) (*model.FunctionReport, error) {
	if len(d.formats) == 0 {
		return nil, nil
	}

	sorted := make([]string, 0, len(d.formats))
	for f := range d.formats {
		sorted = append(sorted, f)
	}
	sort.Strings(sorted)

	if len(sorted) > 1 {
		err := &AmbiguousFormatError{
			Function: d.fn.Spelling,
			Location: d.fn.Location,
			Sentinel: s.Sentinel,
			Formats:  sorted,
		}
		if s.Policy == Strict {
			s.logger.Error(err.Error())
			return nil, err
		}
		s.logger.Warn(err.Error())
	}

	return &model.FunctionReport{
		Name:     d.fn.Spelling,
		Location: d.fn.Location,
		Formats:  sorted,
	}, nil
}

func (s *Scanner) isSentinelCall(call *ast.Node) bool {
	callee := unwrapImplicit(call.Child(0))
	return callee != nil && callee.Spelling == s.Sentinel
}

// unwrapImplicit strips one implicit-conversion wrapper. Nodes that are
// not a single-child KindUnexposedExpr are returned as is, so frontends
// that do not materialize conversions work unchanged.
func unwrapImplicit(n *ast.Node) *ast.Node {
	if n != nil && n.Kind == ast.KindUnexposedExpr && len(n.Children) == 1 {
		return n.Children[0]
	}
	return n
}

// classifyFormatArg inspects the format slot of a sentinel call.
func classifyFormatArg(call *ast.Node) Argument {
	arg := unwrapImplicit(call.Child(formatArgIndex))
	if arg == nil {
		return Argument{Kind: ArgAbsent}
	}
	if arg.Kind != ast.KindStringLiteral {
		return Argument{Kind: ArgNonLiteral}
	}
	text, ok := literalText(arg)
	if !ok {
		return Argument{Kind: ArgAbsent}
	}
	return Argument{Kind: ArgLiteral, Text: text}
}

// literalText joins the contents of a literal's tokens with their quotes
// removed. Adjacent literals ("a" "b") therefore read as "ab".
func literalText(lit *ast.Node) (string, bool) {
	var b strings.Builder
	found := false
	for _, tok := range lit.Tokens {
		if tok.Kind != ast.TokenLiteral {
			continue
		}
		found = true
		b.WriteString(unquote(tok.Spelling))
	}
	return b.String(), found
}

// unquote drops the first and last characters, the quotes around a
// literal's spelling. Encoding prefixes (L, u8, ...) are dropped first.
func unquote(s string) string {
	if i := strings.IndexByte(s, '"'); i > 0 {
		s = s[i:]
	}
	if len(s) < 2 {
		return ""
	}
	return s[1 : len(s)-1]
}
