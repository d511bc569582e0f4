// Package metrics exposes run counters as Prometheus metrics.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/phobologic/zppscan/internal/model"
)

const namespace = "zppscan"

// Registry holds the collectors for one run.
type Registry struct {
	reg *prometheus.Registry
}

// New registers counter functions reading from c.
func New(c *model.RunCounters) *Registry {
	reg := prometheus.NewRegistry()
	counter := func(name, help string, load func() int64) prometheus.CounterFunc {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(load()) })
	}
	reg.MustRegister(
		counter("files_processed_total", "Source files scanned.", c.FilesProcessed.Load),
		counter("files_failed_total", "Source files skipped after a parse or scan failure.", c.FilesFailed.Load),
		counter("functions_matched_total", "Functions with at least one format string.", c.FunctionsMatched.Load),
		counter("variable_args_total", "Sentinel calls with a non-literal format argument.", c.VariableArgs.Load),
		counter("malformed_calls_total", "Sentinel calls without a format argument.", c.MalformedCalls.Load),
	)
	return &Registry{reg: reg}
}

// Gatherer returns the underlying gatherer.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// WriteTextfile writes all metrics in the node_exporter textfile format.
func (r *Registry) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("writing metrics: %w", err)
	}
	return nil
}
