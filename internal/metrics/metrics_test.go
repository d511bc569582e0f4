package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/zppscan/internal/model"
)

func TestCountersFollowRun(t *testing.T) {
	var c model.RunCounters
	r := New(&c)

	c.FilesProcessed.Add(3)
	c.FunctionsMatched.Add(7)
	c.FilesFailed.Add(1)

	expected := `
# HELP zppscan_files_processed_total Source files scanned.
# TYPE zppscan_files_processed_total counter
zppscan_files_processed_total 3
# HELP zppscan_functions_matched_total Functions with at least one format string.
# TYPE zppscan_functions_matched_total counter
zppscan_functions_matched_total 7
# HELP zppscan_files_failed_total Source files skipped after a parse or scan failure.
# TYPE zppscan_files_failed_total counter
zppscan_files_failed_total 1
`
	err := testutil.GatherAndCompare(r.Gatherer(), strings.NewReader(expected),
		"zppscan_files_processed_total", "zppscan_functions_matched_total", "zppscan_files_failed_total")
	require.NoError(t, err)

	n, err := testutil.GatherAndCount(r.Gatherer())
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestWriteTextfile(t *testing.T) {
	var c model.RunCounters
	c.VariableArgs.Add(2)

	path := filepath.Join(t.TempDir(), "zppscan.prom")
	require.NoError(t, New(&c).WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "zppscan_variable_args_total 2")
	assert.Contains(t, string(data), "zppscan_malformed_calls_total 0")
}

func TestWriteTextfileBadPath(t *testing.T) {
	var c model.RunCounters
	err := New(&c).WriteTextfile(filepath.Join(t.TempDir(), "missing", "x.prom"))
	assert.ErrorContains(t, err, "writing metrics")
}
