// Package shell runs external tools. Every invocation gets an explicit
// environment overlay; the orchestrator's own environment is never modified.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"os/exec"
	"slices"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Command describes a single process invocation.
type Command struct {
	Name string
	Args []string
	Dir  string
	// Env is layered on top of the inherited process environment.
	Env    map[string]string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	// Interactive keeps the child in the foreground process group so it can
	// own the terminal.
	Interactive bool
}

// String renders the command line in a copy-pasteable form.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + Quote(c.Args)
}

// Runner executes commands.
type Runner interface {
	// Run streams output to the command's writers (stdout/stderr by default).
	Run(ctx context.Context, cmd Command) error
	// Output captures and returns stdout.
	Output(ctx context.Context, cmd Command) (string, error)
}

// ExitError reports a process that ran and exited non-zero.
type ExitError struct {
	Command string
	Code    int
	// Output is the captured stderr, or stdout and stderr for Output calls.
	Output string
	Err    error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command failed (exit=%d): %s", e.Code, e.Command)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// Exec runs commands as child processes in their own process group.
type Exec struct {
	Logger *slog.Logger
	// GracePeriod between SIGTERM and SIGKILL on cancellation.
	GracePeriod time.Duration
}

var _ Runner = (*Exec)(nil)

func (e *Exec) logger() *slog.Logger {
	if e != nil && e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Run implements Runner.
func (e *Exec) Run(ctx context.Context, command Command) error {
	var stderr tailBuffer
	cmd := e.prepare(ctx, command)
	cmd.Stdout = orDefault(command.Stdout, os.Stdout)
	cmd.Stderr = io.MultiWriter(orDefault(command.Stderr, os.Stderr), &stderr)

	e.logger().Debug("running command", "command", command.String(), "dir", command.Dir)
	return e.wait(ctx, command, cmd.Run(), stderr.String())
}

// Output implements Runner.
func (e *Exec) Output(ctx context.Context, command Command) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := e.prepare(ctx, command)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if command.Stderr != nil {
		cmd.Stderr = io.MultiWriter(command.Stderr, &stderr)
	}

	e.logger().Debug("running command", "command", command.String(), "dir", command.Dir, "capture", true)
	err := e.wait(ctx, command, cmd.Run(), stdout.String()+stderr.String())
	return stdout.String(), err
}

func (e *Exec) prepare(ctx context.Context, command Command) *exec.Cmd {
	cmd := exec.CommandContext(ctx, command.Name, command.Args...)
	cmd.Dir = command.Dir
	cmd.Stdin = command.Stdin
	cmd.Env = Environ(os.Environ(), command.Env)

	if command.Interactive {
		return cmd
	}

	// Signals must reach the whole tree, including grandchildren started by
	// build tools or the container runtime.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	grace := e.GracePeriod
	cmd.Cancel = func() error {
		group := -cmd.Process.Pid
		if grace <= 0 {
			return unix.Kill(group, unix.SIGKILL)
		}
		if err := unix.Kill(group, unix.SIGTERM); err != nil {
			return unix.Kill(group, unix.SIGKILL)
		}
		go func() {
			time.Sleep(grace)
			_ = unix.Kill(group, unix.SIGKILL)
		}()
		return nil
	}
	if grace > 0 {
		cmd.WaitDelay = 2 * grace
	}
	return cmd
}

func (e *Exec) wait(ctx context.Context, command Command, err error, output string) error {
	if err == nil {
		return nil
	}
	line := command.String()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", line, ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{Command: line, Code: exitErr.ExitCode(), Output: strings.TrimSpace(output), Err: err}
	}
	if errors.Is(err, exec.ErrNotFound) {
		return fmt.Errorf("executable %q not found: %w", command.Name, err)
	}
	return fmt.Errorf("failed to run command: %s: %w", line, err)
}

// Environ overlays extra on top of base (KEY=VALUE entries). Keys in extra
// replace matching entries in base; the result is sorted for stable output.
func Environ(base []string, extra map[string]string) []string {
	merged := make(map[string]string, len(base)+len(extra))
	for _, entry := range base {
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		merged[key] = value
	}
	maps.Copy(merged, extra)

	out := make([]string, 0, len(merged))
	for _, key := range slices.Sorted(maps.Keys(merged)) {
		out = append(out, key+"="+merged[key])
	}
	return out
}

// Quote returns a printable, shell-safe representation of args.
func Quote(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		if a == "" || strings.ContainsAny(a, " \t\n\"'`$\\*?[]{}()<>|&;") {
			a = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
		}
		quoted[i] = a
	}
	return strings.Join(quoted, " ")
}

// LookPath resolves an executable on PATH.
func LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

func orDefault(w io.Writer, fallback io.Writer) io.Writer {
	if w != nil {
		return w
	}
	return fallback
}

const tailLimit = 64 << 10

// tailBuffer keeps the last tailLimit bytes written to it.
type tailBuffer struct {
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - tailLimit; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return string(t.buf)
}
