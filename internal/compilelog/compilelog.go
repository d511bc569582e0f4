// Package compilelog rebuilds per-file compiler arguments from a log of
// compiler invocations, one whitespace-separated argument vector per line.
package compilelog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
)

// Default classification sets.
var (
	DefaultSourceSuffixes = []string{".c", ".cpp"}
	DefaultIgnoredFlags   = []string{"-c", "-emit-ast", "-fsyntax-only"}
)

// DefaultOutputFlag consumes the token that follows it.
const DefaultOutputFlag = "-o"

// ArgSet is a deduplicated set of compiler arguments. Equality ignores
// order; Args keeps the order in which arguments were first seen so that
// split pairs such as "-I dir" stay adjacent when handed to a frontend.
type ArgSet struct {
	order []string
	seen  map[string]struct{}
}

// NewArgSet builds a set from args, dropping duplicates.
func NewArgSet(args ...string) ArgSet {
	s := ArgSet{seen: make(map[string]struct{}, len(args))}
	for _, a := range args {
		s.add(a)
	}
	return s
}

func (s *ArgSet) add(arg string) {
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	if _, ok := s.seen[arg]; ok {
		return
	}
	s.seen[arg] = struct{}{}
	s.order = append(s.order, arg)
}

// Args returns the arguments in first-seen order.
func (s ArgSet) Args() []string {
	return slices.Clone(s.order)
}

// Len returns the number of distinct arguments.
func (s ArgSet) Len() int {
	return len(s.order)
}

// Contains reports whether arg is in the set.
func (s ArgSet) Contains(arg string) bool {
	_, ok := s.seen[arg]
	return ok
}

// Equal reports whether both sets hold the same arguments.
func (s ArgSet) Equal(o ArgSet) bool {
	if len(s.order) != len(o.order) {
		return false
	}
	for _, a := range s.order {
		if !o.Contains(a) {
			return false
		}
	}
	return true
}

// String renders the set sorted, for messages.
func (s ArgSet) String() string {
	sorted := slices.Clone(s.order)
	sort.Strings(sorted)
	return "{" + strings.Join(sorted, " ") + "}"
}

// Records maps a source file, as written in the log, to its arguments.
type Records map[string]ArgSet

// Files returns the record keys sorted.
func (r Records) Files() []string {
	files := make([]string, 0, len(r))
	for f := range r {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// Warning is a non-fatal problem found while reading the log.
type Warning struct {
	Line    int
	Token   string
	Message string
}

func (w Warning) String() string {
	return fmt.Sprintf("line %d: %s: %s", w.Line, w.Token, w.Message)
}

// Result is the outcome of a successful parse.
type Result struct {
	Records  Records
	Warnings []Warning
}

// LoadError reports that the log could not be opened or read.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading compile log %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// ConflictError reports a source file derived with two different argument
// sets. The whole log is rejected when this happens.
type ConflictError struct {
	Source   string
	Line     int
	Previous ArgSet
	Current  ArgSet
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: compile arguments on line %d differ from an earlier invocation: %s != %s",
		e.Source, e.Line, e.Previous, e.Current)
}

// Parser classifies log tokens. The zero value is not usable; use New.
type Parser struct {
	// BaseDir resolves relative source paths for the existence check.
	BaseDir string

	suffixes   []string
	ignored    map[string]struct{}
	outputFlag string
	logger     *slog.Logger
}

// Option configures a Parser.
type Option func(*Parser)

// WithBaseDir sets the directory relative source paths are checked against.
func WithBaseDir(dir string) Option {
	return func(p *Parser) { p.BaseDir = dir }
}

// WithSourceSuffixes replaces the suffixes that mark a token as a source file.
func WithSourceSuffixes(suffixes ...string) Option {
	return func(p *Parser) { p.suffixes = slices.Clone(suffixes) }
}

// WithIgnoredFlags replaces the flags dropped from every argument set.
func WithIgnoredFlags(flags ...string) Option {
	return func(p *Parser) {
		p.ignored = make(map[string]struct{}, len(flags))
		for _, f := range flags {
			p.ignored[f] = struct{}{}
		}
	}
}

// WithOutputFlag replaces the flag whose following token is discarded.
func WithOutputFlag(flag string) Option {
	return func(p *Parser) { p.outputFlag = flag }
}

// WithLogger sets the logger used for per-token diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Parser) { p.logger = logger }
}

// New returns a Parser with the default classification sets.
func New(opts ...Option) *Parser {
	p := &Parser{
		BaseDir:    ".",
		outputFlag: DefaultOutputFlag,
		logger:     slog.Default(),
	}
	WithSourceSuffixes(DefaultSourceSuffixes...)(p)
	WithIgnoredFlags(DefaultIgnoredFlags...)(p)
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Load opens path and parses it.
func (p *Parser) Load(path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	defer f.Close()

	res, err := p.Parse(f)
	if err != nil {
		return nil, annotateLoad(path, err)
	}
	return res, nil
}

func annotateLoad(path string, err error) error {
	var le *LoadError
	if errors.As(err, &le) {
		le.Path = path
	}
	return err
}

// Parse reads a whole log. A conflicting re-derivation aborts with a
// *ConflictError and no records.
func (p *Parser) Parse(r io.Reader) (*Result, error) {
	res := &Result{Records: make(Records)}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		sources, args, warnings := p.parseLine(lineNo, sc.Text())
		res.Warnings = append(res.Warnings, warnings...)
		for _, src := range sources {
			if err := merge(res.Records, src, args, lineNo); err != nil {
				p.logger.Error("Conflicting compile arguments",
					slog.String("file", src),
					slog.Int("line", lineNo),
					slog.String("previous", err.Previous.String()),
					slog.String("current", err.Current.String()))
				return nil, err
			}
			p.logger.Debug("Compile args found", slog.String("file", src))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, &LoadError{Err: err}
	}
	return res, nil
}

// parseLine splits one invocation into its source files and the argument
// set they share.
func (p *Parser) parseLine(lineNo int, line string) ([]string, ArgSet, []Warning) {
	var (
		sources  []string
		seen     = make(map[string]struct{})
		args     = NewArgSet()
		warnings []Warning
		skipNext bool
	)

	for _, tok := range strings.Fields(line) {
		if skipNext {
			skipNext = false
			continue
		}

		switch {
		case p.isSource(tok):
			if !p.exists(tok) {
				p.logger.Warn("Found a reference to a source file that does not exist",
					slog.String("file", tok), slog.Int("line", lineNo))
				warnings = append(warnings, Warning{Line: lineNo, Token: tok, Message: "source file does not exist"})
				continue
			}
			if _, dup := seen[tok]; !dup {
				seen[tok] = struct{}{}
				sources = append(sources, tok)
			}
		case p.isIgnored(tok):
		case tok == p.outputFlag:
			skipNext = true
		default:
			args.add(tok)
		}
	}
	return sources, args, warnings
}

func (p *Parser) isSource(tok string) bool {
	for _, s := range p.suffixes {
		if strings.HasSuffix(tok, s) {
			return true
		}
	}
	return false
}

func (p *Parser) isIgnored(tok string) bool {
	_, ok := p.ignored[tok]
	return ok
}

func (p *Parser) exists(path string) bool {
	if !filepath.IsAbs(path) {
		path = filepath.Join(p.BaseDir, path)
	}
	_, err := os.Stat(path)
	return err == nil
}

func merge(records Records, src string, args ArgSet, lineNo int) *ConflictError {
	prev, ok := records[src]
	if !ok {
		records[src] = args
		return nil
	}
	if prev.Equal(args) {
		return nil
	}
	return &ConflictError{Source: src, Line: lineNo, Previous: prev, Current: args}
}
