package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/zppscan/internal/ast"
	"github.com/phobologic/zppscan/internal/compilelog"
	"github.com/phobologic/zppscan/internal/model"
	"github.com/phobologic/zppscan/internal/report"
	"github.com/phobologic/zppscan/internal/scan"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeProvider serves canned function bodies keyed by path.
type fakeProvider struct {
	// formats maps path -> function name -> format literals passed to the
	// sentinel in that function.
	formats map[string]map[string][]string
	fail    map[string]error

	mu     sync.Mutex
	args   map[string][]string
	closed atomic.Int64
	delay  time.Duration
}

func (p *fakeProvider) Parse(ctx context.Context, path string, args []string) (*ast.TranslationUnit, error) {
	p.mu.Lock()
	if p.args == nil {
		p.args = make(map[string][]string)
	}
	p.args[path] = args
	p.mu.Unlock()

	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := p.fail[path]; err != nil {
		return nil, &ast.ParseError{Path: path, Err: err}
	}

	loc := model.Location{File: path, Line: 1, Column: 1}
	root := &ast.Node{Kind: ast.KindTranslationUnit, Location: loc}
	for name, formats := range p.formats[path] {
		body := &ast.Node{Kind: ast.KindCompoundStmt, Location: loc}
		for _, f := range formats {
			body.Children = append(body.Children, &ast.Node{
				Kind:     ast.KindCallExpr,
				Location: loc,
				Children: []*ast.Node{
					{Kind: ast.KindDeclRefExpr, Spelling: scan.DefaultSentinel},
					{Kind: ast.KindIntegerLiteral},
					{Kind: ast.KindStringLiteral, Tokens: []ast.Token{{Kind: ast.TokenLiteral, Spelling: `"` + f + `"`}}},
				},
			})
		}
		root.Children = append(root.Children, &ast.Node{
			Kind:     ast.KindFunctionDecl,
			Spelling: name,
			Location: loc,
			Children: []*ast.Node{body},
		})
	}
	return ast.NewTranslationUnit(path, root, nil, func() { p.closed.Add(1) }), nil
}

func records(files ...string) compilelog.Records {
	r := make(compilelog.Records)
	for _, f := range files {
		r[f] = compilelog.NewArgSet("-I/php", "-DZTS")
	}
	return r
}

func newRunner(p ast.Provider, workers int) *Runner {
	return &Runner{
		Provider:   p,
		Scanner:    scan.New(quiet()),
		Aggregator: report.NewAggregator(quiet()),
		Workers:    workers,
		Logger:     quiet(),
	}
}

func TestRunOne(t *testing.T) {
	p := &fakeProvider{formats: map[string]map[string][]string{
		"ext/a.c": {"zif_a": {"s"}, "helper": {"l"}},
	}}
	r := newRunner(p, 1)
	r.ExportedOnly = true

	require.NoError(t, r.RunOne(context.Background(), records("ext/a.c", "ext/b.c"), "ext/a.c"))

	reports := r.Aggregator.Reports()
	require.Len(t, reports, 1)
	assert.Equal(t, "ext/a.c", reports[0].Path)
	require.Len(t, reports[0].Functions, 1)
	assert.Equal(t, "zif_a", reports[0].Functions[0].Name)
	assert.Equal(t, []string{"-I/php", "-DZTS"}, p.args["ext/a.c"])
	assert.Equal(t, int64(1), p.closed.Load())
}

func TestRunOneCleansPath(t *testing.T) {
	p := &fakeProvider{formats: map[string]map[string][]string{"ext/a.c": {"zif_a": {"s"}}}}
	r := newRunner(p, 1)

	require.NoError(t, r.RunOne(context.Background(), records("ext/a.c"), "ext/./a.c"))
	assert.Len(t, r.Aggregator.Reports(), 1)
}

func TestRunOneUnknownFile(t *testing.T) {
	r := newRunner(&fakeProvider{}, 1)

	err := r.RunOne(context.Background(), records("ext/standard/string.c", "main/main.c"), "ext/standard/strings.c")
	var ue *UnknownFileError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, "ext/standard/string.c", ue.Suggestion)
	assert.Contains(t, err.Error(), "did you mean ext/standard/string.c")
}

func TestRunOneUnknownFileNoSuggestion(t *testing.T) {
	r := newRunner(&fakeProvider{}, 1)

	err := r.RunOne(context.Background(), records("ext/standard/string.c"), "zz.cpp")
	var ue *UnknownFileError
	require.True(t, errors.As(err, &ue))
	assert.Empty(t, ue.Suggestion)
	assert.NotContains(t, err.Error(), "did you mean")
}

func TestRunOneFailuresAreFatal(t *testing.T) {
	p := &fakeProvider{
		formats: map[string]map[string][]string{"ext/amb.c": {"zif_x": {"s", "l"}}},
		fail:    map[string]error{"ext/bad.c": errors.New("boom")},
	}
	r := newRunner(p, 1)
	recs := records("ext/amb.c", "ext/bad.c")

	err := r.RunOne(context.Background(), recs, "ext/bad.c")
	var pe *ast.ParseError
	assert.True(t, errors.As(err, &pe))

	err = r.RunOne(context.Background(), recs, "ext/amb.c")
	var ae *scan.AmbiguousFormatError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, []string{"l", "s"}, ae.Formats)
	assert.Equal(t, int64(1), p.closed.Load(), "scanned unit is closed even on error")
	assert.Empty(t, r.Aggregator.Reports())
}

func TestRunAllSkipsFailures(t *testing.T) {
	p := &fakeProvider{
		formats: map[string]map[string][]string{
			"ext/a.c":   {"zif_a": {"s"}},
			"ext/b.c":   {"zif_b": {"l|b"}},
			"ext/amb.c": {"zif_x": {"s", "l"}},
		},
		fail: map[string]error{"ext/bad.c": errors.New("boom")},
	}
	r := newRunner(p, 4)
	recs := records("ext/a.c", "ext/b.c", "ext/amb.c", "ext/bad.c")

	require.NoError(t, r.RunAll(context.Background(), recs, recs.Files()))

	reports := r.Aggregator.Reports()
	require.Len(t, reports, 2)
	assert.Equal(t, "ext/a.c", reports[0].Path)
	assert.Equal(t, "ext/b.c", reports[1].Path)

	s := r.Aggregator.Counters().Snapshot()
	assert.Equal(t, int64(2), s.FilesProcessed)
	assert.Equal(t, int64(2), s.FilesFailed)
	assert.Equal(t, int64(3), p.closed.Load())
}

func TestRunAllMany(t *testing.T) {
	p := &fakeProvider{formats: make(map[string]map[string][]string)}
	var files []string
	for i := range 40 {
		f := fmt.Sprintf("ext/f%02d.c", i)
		files = append(files, f)
		p.formats[f] = map[string][]string{"zif_f": {"s"}}
	}
	r := newRunner(p, 3)

	require.NoError(t, r.RunAll(context.Background(), records(files...), files))
	assert.Len(t, r.Aggregator.Reports(), 40)
	assert.Equal(t, int64(40), p.closed.Load())
}

func TestRunAllCancel(t *testing.T) {
	p := &fakeProvider{delay: time.Second}
	files := []string{"a.c", "b.c", "c.c", "d.c"}
	r := newRunner(p, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := r.RunAll(ctx, records(files...), files)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, r.Aggregator.Reports())
}

func TestClosest(t *testing.T) {
	t.Parallel()

	candidates := []string{"ext/json/json.c", "ext/standard/string.c", "main/main.c"}
	assert.Equal(t, "ext/json/json.c", closest("ext/json/jsn.c", candidates))
	assert.Equal(t, "main/main.c", closest("main/mian.c", candidates))
	assert.Empty(t, closest("x", candidates))
	assert.Empty(t, closest("ext/json/json.c", nil))
}
