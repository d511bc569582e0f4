// Package report accumulates per-file scan results and serializes them.
package report

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/phobologic/zppscan/internal/model"
)

// Formats accepted by Encode.
const (
	FormatText = "text"
	FormatTOON = "toon"
)

// Failure records a file that could not be processed.
type Failure struct {
	Path string
	Err  error
}

// Aggregator collects FileReports from concurrent workers. The zero value
// is not usable; call NewAggregator.
type Aggregator struct {
	logger   *slog.Logger
	counters *model.RunCounters

	mu       sync.Mutex
	files    map[string]*model.FileReport
	failures []Failure
}

// NewAggregator returns an empty aggregator.
func NewAggregator(logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		logger:   logger,
		counters: &model.RunCounters{},
		files:    make(map[string]*model.FileReport),
	}
}

// Record stores a file's results. Each path is expected once; a repeat
// replaces the stored report but still counts.
func (a *Aggregator) Record(r *model.FileReport) {
	if r == nil {
		return
	}
	a.counters.FilesProcessed.Add(1)
	a.counters.FunctionsMatched.Add(int64(len(r.Functions)))
	a.counters.VariableArgs.Add(int64(r.VariableArgs))
	a.counters.MalformedCalls.Add(int64(r.MalformedCalls))

	a.mu.Lock()
	a.files[r.Path] = r
	a.mu.Unlock()
}

// RecordFailure notes a file that was skipped.
func (a *Aggregator) RecordFailure(path string, err error) {
	a.counters.FilesFailed.Add(1)
	a.mu.Lock()
	a.failures = append(a.failures, Failure{Path: path, Err: err})
	a.mu.Unlock()
}

// Counters returns the live run counters.
func (a *Aggregator) Counters() *model.RunCounters {
	return a.counters
}

// Failures returns the skipped files sorted by path.
func (a *Aggregator) Failures() []Failure {
	a.mu.Lock()
	out := append([]Failure(nil), a.failures...)
	a.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Reports returns the files with at least one match, sorted by path, each
// with its functions sorted by name.
func (a *Aggregator) Reports() []model.FileReport {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]model.FileReport, 0, len(a.files))
	for _, r := range a.files {
		if len(r.Functions) == 0 {
			continue
		}
		c := *r
		c.Functions = append([]model.FunctionReport(nil), r.Functions...)
		sort.SliceStable(c.Functions, func(i, j int) bool {
			return c.Functions[i].Name < c.Functions[j].Name
		})
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Encode writes the accumulated results in the given format.
func (a *Aggregator) Encode(w io.Writer, format string) error {
	reports := a.Reports()
	var out string
	switch format {
	case FormatText, "":
		out = EncodeText(reports)
	case FormatTOON:
		out = EncodeTOON(reports)
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
	if out == "" {
		return nil
	}
	_, err := io.WriteString(w, out)
	return err
}

// WriteFile appends the encoded results to path, creating it if needed.
// Existing content is never truncated.
func (a *Aggregator) WriteFile(path, format string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("opening report: %w", err)
	}
	bw := bufio.NewWriter(f)
	if err := a.Encode(bw, format); err != nil {
		_ = f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing report: %w", err)
	}
	return f.Close()
}

// LogSummary logs the run counters at info level.
func (a *Aggregator) LogSummary() {
	s := a.counters.Snapshot()
	a.logger.Info("Scan finished",
		slog.Int64("files_processed", s.FilesProcessed),
		slog.Int64("files_failed", s.FilesFailed),
		slog.Int64("functions_matched", s.FunctionsMatched),
		slog.Int64("variable_args", s.VariableArgs),
		slog.Int64("malformed_calls", s.MalformedCalls),
	)
	for _, f := range a.Failures() {
		a.logger.Warn("File skipped", slog.String("file", f.Path), slog.Any("error", f.Err))
	}
}

// EncodeText renders reports as
//
//	# <path>
//	<function> <fmt> <fmt> ...
//
// one block per file.
func EncodeText(reports []model.FileReport) string {
	var b strings.Builder
	for i := range reports {
		r := &reports[i]
		fmt.Fprintf(&b, "# %s\n", r.Path)
		for _, fn := range r.Functions {
			b.WriteString(fn.Name)
			for _, f := range fn.Formats {
				b.WriteByte(' ')
				b.WriteString(f)
			}
			b.WriteByte('\n')
		}
	}
	return b.String()
}
