// Package extract drives the per-file pipeline: parse a logged source with
// its recorded arguments, scan the tree, and hand the result to the
// aggregator.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"

	"github.com/hbollon/go-edlib"
	"golang.org/x/sync/errgroup"

	"github.com/phobologic/zppscan/internal/ast"
	"github.com/phobologic/zppscan/internal/compilelog"
	"github.com/phobologic/zppscan/internal/report"
	"github.com/phobologic/zppscan/internal/scan"
)

// UnknownFileError is returned when a requested file has no log record.
type UnknownFileError struct {
	File string
	// Suggestion is the closest recorded path, if any.
	Suggestion string
}

func (e *UnknownFileError) Error() string {
	msg := fmt.Sprintf("could not find compile args for %s", e.File)
	if e.Suggestion != "" {
		msg += fmt.Sprintf(" (did you mean %s?)", e.Suggestion)
	}
	return msg
}

// Runner processes logged source files. Provider, Scanner and Aggregator
// are required.
type Runner struct {
	Provider   ast.Provider
	Scanner    *scan.Scanner
	Aggregator *report.Aggregator

	// Workers bounds concurrent files. Zero means GOMAXPROCS.
	Workers int
	// BaseDir resolves relative logged paths before parsing.
	BaseDir string
	// ExportedOnly restricts scanning to exported entry points.
	ExportedOnly bool

	Logger *slog.Logger
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

func (r *Runner) workers() int {
	if r.Workers > 0 {
		return r.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// RunOne processes a single logged file. Every failure is returned.
func (r *Runner) RunOne(ctx context.Context, records compilelog.Records, file string) error {
	args, ok := records[file]
	if !ok {
		if cleaned := filepath.Clean(file); cleaned != file {
			args, ok = records[cleaned]
			file = cleaned
		}
	}
	if !ok {
		return &UnknownFileError{File: file, Suggestion: closest(file, records.Files())}
	}
	return r.process(ctx, file, args)
}

// RunAll processes files concurrently. A file that fails to parse or scan
// is logged and recorded as a failure; only cancellation stops the run.
func (r *Runner) RunAll(ctx context.Context, records compilelog.Records, files []string) error {
	var g errgroup.Group
	g.SetLimit(r.workers())

	for _, file := range files {
		if ctx.Err() != nil {
			break
		}
		args, ok := records[file]
		if !ok {
			r.Aggregator.RecordFailure(file, &UnknownFileError{File: file})
			continue
		}
		g.Go(func() error {
			err := r.process(ctx, file, args)
			if err == nil {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger().Error("Skipping file", slog.String("file", file), slog.Any("error", err))
			r.Aggregator.RecordFailure(file, err)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (r *Runner) process(ctx context.Context, file string, args compilelog.ArgSet) error {
	path := file
	if r.BaseDir != "" && !filepath.IsAbs(path) {
		path = filepath.Join(r.BaseDir, path)
	}

	log := r.logger().With(slog.String("file", file))
	log.Info("Processing file", slog.Int("args", args.Len()))

	tu, err := r.Provider.Parse(ctx, path, args.Args())
	if err != nil {
		var pe *ast.ParseError
		if errors.As(err, &pe) {
			for _, d := range pe.Diagnostics {
				log.Warn("Diagnostic", slog.String("severity", d.Severity.String()),
					slog.String("location", d.Location.String()), slog.String("message", d.Message))
			}
		}
		return err
	}
	defer tu.Close()

	for _, d := range tu.Diagnostics {
		if d.Severity >= ast.SeverityWarning {
			log.Debug("Diagnostic", slog.String("severity", d.Severity.String()),
				slog.String("location", d.Location.String()), slog.String("message", d.Message))
		}
	}

	fr, err := r.Scanner.Scan(tu.Root, scan.Options{FileFilter: path, ExportedOnly: r.ExportedOnly})
	if err != nil {
		return fmt.Errorf("%s: %w", file, err)
	}
	fr.Path = file
	r.Aggregator.Record(fr)
	return nil
}

// closest returns the candidate with the highest Levenshtein similarity to
// target, or "" when nothing is reasonably close.
func closest(target string, candidates []string) string {
	const minSimilarity = 0.5

	best, bestScore := "", float32(0)
	for _, c := range candidates {
		score, err := edlib.StringsSimilarity(target, c, edlib.Levenshtein)
		if err != nil {
			continue
		}
		if score > bestScore {
			best, bestScore = c, score
		}
	}
	if bestScore < minSimilarity {
		return ""
	}
	return best
}
