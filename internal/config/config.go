// Package config provides configuration loading for zppscan.
package config

import (
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/phobologic/zppscan/internal/compilelog"
	"github.com/phobologic/zppscan/internal/scan"
)

// Frontends understood by the Frontend field.
const (
	FrontendTreeSitter = "treesitter"
	FrontendClang      = "clang"
)

// Output formats understood by the Format field.
const (
	FormatText = "text"
	FormatTOON = "toon"
)

// Config is the complete zppscan configuration.
type Config struct {
	Log     LogConfig    `yaml:"log"`
	Scan    ScanConfig   `yaml:"scan"`
	Parse   ParseConfig  `yaml:"parse"`
	Select  SelectConfig `yaml:"select"`
	Output  OutputConfig `yaml:"output"`
	Workers int          `yaml:"workers"`
}

// LogConfig configures how the compile log is classified.
type LogConfig struct {
	// SourceSuffixes mark a token as a source file.
	SourceSuffixes []string `yaml:"source_suffixes"`
	// IgnoredFlags are dropped from every argument set.
	IgnoredFlags []string `yaml:"ignored_flags"`
	// OutputFlag is dropped together with the token after it.
	OutputFlag string `yaml:"output_flag"`
}

// ScanConfig configures call-site extraction.
type ScanConfig struct {
	Sentinel       string `yaml:"sentinel"`
	ExportedPrefix string `yaml:"exported_prefix"`
	// Ambiguity is "strict" or "lenient".
	Ambiguity string `yaml:"ambiguity"`
}

// ParseConfig selects the AST provider.
type ParseConfig struct {
	// Frontend is "treesitter" or "clang".
	Frontend string `yaml:"frontend"`
	// Clang is the binary used by the clang frontend.
	Clang string `yaml:"clang"`
}

// SelectConfig restricts which logged files are processed.
type SelectConfig struct {
	// Include holds doublestar globs; empty means everything.
	Include []string `yaml:"include"`
	// Exclude holds gitignore-style patterns.
	Exclude []string `yaml:"exclude"`
}

// OutputConfig configures the report.
type OutputConfig struct {
	Format      string `yaml:"format"`
	MetricsFile string `yaml:"metrics_file"`
}

// DefaultConfig returns a Config with the stock PHP settings.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			SourceSuffixes: append([]string(nil), compilelog.DefaultSourceSuffixes...),
			IgnoredFlags:   append([]string(nil), compilelog.DefaultIgnoredFlags...),
			OutputFlag:     compilelog.DefaultOutputFlag,
		},
		Scan: ScanConfig{
			Sentinel:       scan.DefaultSentinel,
			ExportedPrefix: scan.DefaultExportedPrefix,
			Ambiguity:      scan.Strict.String(),
		},
		Parse: ParseConfig{
			Frontend: FrontendTreeSitter,
			Clang:    "clang",
		},
		Output: OutputConfig{
			Format: FormatText,
		},
		Workers: runtime.GOMAXPROCS(0),
	}
}

// LoadFromFile reads a YAML file on top of the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Normalize resolves zero values that stand for a default. Workers of 0
// means GOMAXPROCS.
func (c *Config) Normalize() {
	if c.Workers == 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if len(c.Log.SourceSuffixes) == 0 {
		return fmt.Errorf("log.source_suffixes must not be empty")
	}
	if c.Log.OutputFlag == "" {
		return fmt.Errorf("log.output_flag is required")
	}
	if c.Scan.Sentinel == "" {
		return fmt.Errorf("scan.sentinel is required")
	}
	if _, err := scan.ParsePolicy(c.Scan.Ambiguity); err != nil {
		return fmt.Errorf("scan.ambiguity: %w", err)
	}
	switch c.Parse.Frontend {
	case FrontendTreeSitter:
	case FrontendClang:
		if c.Parse.Clang == "" {
			return fmt.Errorf("parse.clang is required for the clang frontend")
		}
	default:
		return fmt.Errorf("parse.frontend must be %q or %q, got %q", FrontendTreeSitter, FrontendClang, c.Parse.Frontend)
	}
	switch c.Output.Format {
	case FormatText, FormatTOON:
	default:
		return fmt.Errorf("output.format must be %q or %q, got %q", FormatText, FormatTOON, c.Output.Format)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	return nil
}

// Policy returns the parsed ambiguity policy. Call Validate first.
func (c *Config) Policy() scan.Policy {
	p, _ := scan.ParsePolicy(c.Scan.Ambiguity)
	return p
}
