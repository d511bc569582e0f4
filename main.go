// zppscan extracts the zend_parse_parameters format strings of a PHP
// extension from its compile log.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/phobologic/zppscan/internal/ast"
	"github.com/phobologic/zppscan/internal/clangjson"
	"github.com/phobologic/zppscan/internal/compilelog"
	"github.com/phobologic/zppscan/internal/config"
	"github.com/phobologic/zppscan/internal/discover"
	"github.com/phobologic/zppscan/internal/extract"
	"github.com/phobologic/zppscan/internal/metrics"
	"github.com/phobologic/zppscan/internal/parse"
	"github.com/phobologic/zppscan/internal/report"
	"github.com/phobologic/zppscan/internal/scan"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err == nil {
		return
	}
	var ee *exitError
	if errors.As(err, &ee) {
		os.Exit(ee.code)
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cmd := rootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	return cmd.ExecuteContext(ctx)
}

// scanOptions holds the root command's flags.
type scanOptions struct {
	file         string
	exportedOnly bool
	configPath   string
	frontend     string
	clang        string
	workers      int
	include      []string
	exclude      []string
	format       string
	metricsFile  string
	logLevel     string
}

func rootCmd() *cobra.Command {
	var opts scanOptions

	cmd := &cobra.Command{
		Use:   "zppscan [flags] <compile-log> <output-report>",
		Short: "Extract zend_parse_parameters format strings from a PHP extension",
		Long: `zppscan reads a compile log of "<compiler args>" lines, parses every
logged source file with the arguments it was compiled with, and writes the
format string each function passes to zend_parse_parameters.

Record a log by building with "zppscan wrap" as the compiler.

Report lines are appended to <output-report>:

  # <source file>
  <function> <format> ...`,
		Args:          cobra.ExactArgs(2),
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, opts, args[0], args[1])
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.file, "file", "f", "", "process only this logged source file")
	f.BoolVarP(&opts.exportedOnly, "exported-only", "e", false, "only functions with the exported prefix")
	f.StringVarP(&opts.configPath, "config", "c", "", "YAML config file")
	f.StringVar(&opts.frontend, "frontend", "", "AST frontend: treesitter or clang")
	f.StringVar(&opts.clang, "clang", "", "clang binary for the clang frontend")
	f.IntVarP(&opts.workers, "workers", "j", 0, "files processed in parallel (0 means GOMAXPROCS)")
	f.StringSliceVar(&opts.include, "include", nil, "doublestar globs a source file must match")
	f.StringSliceVar(&opts.exclude, "exclude", nil, "gitignore-style patterns of source files to skip")
	f.StringVar(&opts.format, "format", "", "report format: text or toon")
	f.StringVar(&opts.metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile on exit")
	f.StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	cmd.AddCommand(wrapCmd(), &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "zppscan %s\n", version)
		},
	})
	return cmd
}

func newLogger(w io.Writer, level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// loadConfig reads the config file, if any, and applies flags that were
// set explicitly on the command line.
func loadConfig(cmd *cobra.Command, opts scanOptions) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.LoadFromFile(opts.configPath); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}

	f := cmd.Flags()
	if f.Changed("frontend") {
		cfg.Parse.Frontend = opts.frontend
	}
	if f.Changed("clang") {
		cfg.Parse.Clang = opts.clang
	}
	if f.Changed("workers") {
		cfg.Workers = opts.workers
	}
	if f.Changed("include") {
		cfg.Select.Include = opts.include
	}
	if f.Changed("exclude") {
		cfg.Select.Exclude = opts.exclude
	}
	if f.Changed("format") {
		cfg.Output.Format = opts.format
	}
	if f.Changed("metrics-file") {
		cfg.Output.MetricsFile = opts.metricsFile
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newProvider(cfg *config.Config, logger *slog.Logger) ast.Provider {
	if cfg.Parse.Frontend == config.FrontendClang {
		return clangjson.NewProvider(cfg.Parse.Clang, logger)
	}
	return parse.NewProvider(logger)
}

func runScan(cmd *cobra.Command, opts scanOptions, logPath, outPath string) error {
	ctx := cmd.Context()
	logger := newLogger(cmd.ErrOrStderr(), opts.logLevel).With(slog.String("run", uuid.NewString()))

	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}

	parser := compilelog.New(
		compilelog.WithSourceSuffixes(cfg.Log.SourceSuffixes...),
		compilelog.WithIgnoredFlags(cfg.Log.IgnoredFlags...),
		compilelog.WithOutputFlag(cfg.Log.OutputFlag),
		compilelog.WithLogger(logger),
	)
	res, err := parser.Load(logPath)
	if err != nil {
		return err
	}
	logger.Info("Compile log loaded",
		slog.String("path", logPath),
		slog.Int("files", len(res.Records)),
		slog.Int("warnings", len(res.Warnings)))

	scanner := scan.New(logger)
	scanner.Sentinel = cfg.Scan.Sentinel
	scanner.ExportedPrefix = cfg.Scan.ExportedPrefix
	scanner.Policy = cfg.Policy()

	agg := report.NewAggregator(logger)
	runner := &extract.Runner{
		Provider:     newProvider(cfg, logger),
		Scanner:      scanner,
		Aggregator:   agg,
		Workers:      cfg.Workers,
		ExportedOnly: opts.exportedOnly,
		Logger:       logger,
	}

	if opts.file != "" {
		err = runner.RunOne(ctx, res.Records, opts.file)
	} else {
		var sel *discover.Selector
		if sel, err = discover.New(cfg.Select.Include, cfg.Select.Exclude); err != nil {
			return err
		}
		files := sel.Files(res.Records)
		logger.Info("Processing all files", slog.Int("selected", len(files)), slog.Int("workers", cfg.Workers))
		err = runner.RunAll(ctx, res.Records, files)
	}
	if err != nil {
		return err
	}

	if err := agg.WriteFile(outPath, cfg.Output.Format); err != nil {
		return err
	}
	agg.LogSummary()

	if cfg.Output.MetricsFile != "" {
		if err := metrics.New(agg.Counters()).WriteTextfile(cfg.Output.MetricsFile); err != nil {
			return err
		}
	}
	return nil
}
