package transcoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// maxStderr bounds how much tool output a ToolError keeps.
const maxStderr = 4096

// Runner executes the media tool. The exit status is the only success
// signal.
type Runner interface {
	Run(ctx context.Context, name string, args []string) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, name string, args []string) error

func (f RunnerFunc) Run(ctx context.Context, name string, args []string) error {
	return f(ctx, name, args)
}

// ToolError reports a failed tool invocation.
type ToolError struct {
	Tool     string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s exited with status %d", e.Tool, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// ExecRunner runs the tool as a child process with an argument list; no
// shell is involved.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args []string) error {
	cmd := exec.CommandContext(ctx, name, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	code := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	}

	out := strings.TrimSpace(stderr.String())
	if len(out) > maxStderr {
		out = out[len(out)-maxStderr:]
	}

	return &ToolError{Tool: name, ExitCode: code, Stderr: out, Err: err}
}
