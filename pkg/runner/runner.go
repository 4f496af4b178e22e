// Package runner executes local tools such as node, npm and docker on behalf
// of the checker and the builder.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/rzbill/lambdeploy/pkg/log"
)

// Options describes one command invocation.
type Options struct {
	Command    []string
	WorkingDir string
	Env        map[string]string
	// Stdout and Stderr receive the live output when set; the tail of
	// stderr is always captured for error messages.
	Stdout io.Writer
	Stderr io.Writer
}

// Result is the outcome of a finished command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Runner resolves and runs executables.
type Runner interface {
	LookPath(name string) (string, error)
	Run(ctx context.Context, opts Options) (Result, error)
}

// ExitError is returned when the command ran but exited non-zero.
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Command, e.ExitCode)
	if tail := lastLines(e.Stderr, 5); tail != "" {
		msg += ": " + tail
	}
	return msg
}

// Exec runs commands with os/exec.
type Exec struct {
	logger log.Logger
}

// NewExec creates a Runner backed by the host's processes.
func NewExec(logger log.Logger) *Exec {
	if logger == nil {
		return &Exec{logger: log.WithComponent("runner")}
	}
	return &Exec{logger: logger.WithComponent("runner")}
}

// LookPath finds name on PATH.
func (r *Exec) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// Run starts the command and waits for it. A non-zero exit is reported as
// *ExitError; a cancelled context is returned as ctx.Err().
func (r *Exec) Run(ctx context.Context, opts Options) (Result, error) {
	if len(opts.Command) == 0 {
		return Result{}, errors.New("command cannot be empty")
	}

	cmd := exec.CommandContext(ctx, opts.Command[0], opts.Command[1:]...)
	cmd.Dir = opts.WorkingDir
	if len(opts.Env) > 0 {
		env := os.Environ()
		for k, v := range opts.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = tee(&stdout, opts.Stdout)
	cmd.Stderr = tee(&stderr, opts.Stderr)

	r.logger.Debug("Starting command",
		log.Str("cmd", strings.Join(opts.Command, " ")),
		log.Str("dir", opts.WorkingDir))

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return res, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, &ExitError{Command: opts.Command[0], ExitCode: res.ExitCode, Stderr: res.Stderr}
	}
	return res, fmt.Errorf("failed to start %s: %w", opts.Command[0], err)
}

func tee(buf *bytes.Buffer, w io.Writer) io.Writer {
	if w == nil {
		return buf
	}
	return io.MultiWriter(buf, w)
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, " | "))
}
