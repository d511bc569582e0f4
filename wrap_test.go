package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/phobologic/zppscan/internal/compilelog"
)

// fakeCompiler writes a shell script that echoes its arguments and exits
// with the given status.
func fakeCompiler(t *testing.T, status string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script compiler needs a POSIX shell")
	}
	return writeTestFile(t, t.TempDir(), "cc", "#!/bin/sh\necho \"cc $*\"\necho oops >&2\nexit "+status+"\n")
}

func chmodExec(t *testing.T, path string) {
	t.Helper()
	if err := os.Chmod(path, 0o755); err != nil {
		t.Fatal(err)
	}
}

func TestAppendInvocation(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "compile_args.log")

	if err := appendInvocation(path, []string{"-DZTS", "-c", "a.c", "-o", "a.o"}); err != nil {
		t.Fatal(err)
	}
	if err := appendInvocation(path, []string{"-c", "b.c"}); err != nil {
		t.Fatal(err)
	}

	want := "-DZTS -c a.c -o a.o\n-c b.c\n"
	if got := readFile(t, path); got != want {
		t.Errorf("log = %q, want %q", got, want)
	}
}

func TestAppendInvocationBadPath(t *testing.T) {
	t.Parallel()

	err := appendInvocation(filepath.Join(t.TempDir(), "missing", "log"), []string{"a.c"})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestWrapRunsCompiler(t *testing.T) {
	cc := fakeCompiler(t, "0")
	chmodExec(t, cc)
	log := filepath.Join(t.TempDir(), "args.log")
	t.Setenv(envWrapCC, cc)
	t.Setenv(envWrapLog, log)

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"wrap", "-I/php", "-c", "a.c", "-o", "a.o"}, &stdout, &stderr)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	if got := stdout.String(); got != "cc -I/php -c a.c -o a.o\n" {
		t.Errorf("stdout = %q", got)
	}
	if got := stderr.String(); got != "oops\n" {
		t.Errorf("stderr = %q", got)
	}
	if got := readFile(t, log); got != "-I/php -c a.c -o a.o\n" {
		t.Errorf("log = %q", got)
	}
}

func TestWrapForwardsExitStatus(t *testing.T) {
	cc := fakeCompiler(t, "3")
	chmodExec(t, cc)
	t.Setenv(envWrapCC, cc)
	t.Setenv(envWrapLog, filepath.Join(t.TempDir(), "args.log"))

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"wrap", "--", "-c", "a.c"}, &stdout, &stderr)
	var ee *exitError
	if !errors.As(err, &ee) {
		t.Fatalf("expected exitError, got %v", err)
	}
	if ee.code != 3 {
		t.Errorf("code = %d, want 3", ee.code)
	}
}

func TestWrapMissingCompiler(t *testing.T) {
	t.Setenv(envWrapCC, filepath.Join(t.TempDir(), "no-such-cc"))
	t.Setenv(envWrapLog, filepath.Join(t.TempDir(), "args.log"))

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"wrap", "-c", "a.c"}, &stdout, &stderr)
	if err == nil || !strings.Contains(err.Error(), "running") {
		t.Errorf("error = %v", err)
	}
}

func TestWrapNoArgs(t *testing.T) {
	t.Setenv(envWrapLog, filepath.Join(t.TempDir(), "args.log"))

	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), []string{"wrap"}, &stdout, &stderr); err == nil {
		t.Error("expected error for empty invocation")
	}
}

// TestWrapLogFeedsScan records a build through the wrapper and scans the
// resulting log.
func TestWrapLogFeedsScan(t *testing.T) {
	cc := fakeCompiler(t, "0")
	chmodExec(t, cc)
	dir := t.TempDir()
	log := filepath.Join(dir, "compile_args.log")
	src := writeTestFile(t, dir, "ext/standard/array.c", arrayC)
	t.Setenv(envWrapCC, cc)
	t.Setenv(envWrapLog, log)

	var stdout, stderr bytes.Buffer
	for _, obj := range []string{"array.o", "array.lo"} {
		if err := run(context.Background(), []string{"wrap", "-DHAVE_CONFIG_H", "-c", src, "-o", obj}, &stdout, &stderr); err != nil {
			t.Fatalf("wrap: %v", err)
		}
	}

	res, err := compilelog.New().Load(log)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := res.Records[src].Args(); len(got) != 1 || got[0] != "-DHAVE_CONFIG_H" {
		t.Errorf("args = %v", got)
	}

	out := filepath.Join(dir, "report.txt")
	if _, err := runCLI(t, log, out, "--log-level", "error"); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if got := readFile(t, out); got != "# "+src+"\nzif_count a|l\n" {
		t.Errorf("report = %q", got)
	}
}
