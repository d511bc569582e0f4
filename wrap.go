package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"
)

const (
	envWrapLog = "ZPPSCAN_LOG"
	envWrapCC  = "ZPPSCAN_CC"

	defaultWrapLog = "compile_args.log"
	defaultWrapCC  = "clang"
)

// exitError carries a child process exit status through to main.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func wrapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wrap <compiler args...>",
		Short: "Record compiler arguments, then run the real compiler",
		Long: `wrap appends its arguments as one line to $` + envWrapLog + ` (default
` + defaultWrapLog + `) and runs $` + envWrapCC + ` (default ` + defaultWrapCC + `) with the same
arguments, forwarding stdio and the exit status.

Use it as CC when building an extension:

  make CC="zppscan wrap"`,
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrap(cmd.Context(), args, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
}

func runWrap(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	if len(args) > 0 && args[0] == "--" {
		args = args[1:]
	}
	if len(args) == 0 {
		return fmt.Errorf("wrap: no compiler arguments")
	}

	if err := appendInvocation(envOr(envWrapLog, defaultWrapLog), args); err != nil {
		return err
	}

	cc := envOr(envWrapCC, defaultWrapCC)
	c := exec.CommandContext(ctx, cc, args...)
	c.Stdin = stdin
	c.Stdout = stdout
	c.Stderr = stderr
	if err := c.Run(); err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			code := ee.ExitCode()
			if code < 0 {
				code = 1
			}
			return &exitError{code: code}
		}
		return fmt.Errorf("running %s: %w", cc, err)
	}
	return nil
}

// appendInvocation writes args as a single line with one write call so
// parallel compiler invocations do not interleave.
func appendInvocation(path string, args []string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	if _, err := f.WriteString(strings.Join(args, " ") + "\n"); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
