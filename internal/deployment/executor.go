package deployment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"sitehook/pkg/cmdutil"
)

// Executor runs the deploy command as a child process with a timeout.
type Executor struct {
	Command []string
	Timeout time.Duration
	Logger  *slog.Logger

	// Redact lists values scrubbed from captured output before it is
	// logged or returned.
	Redact []string
}

// NewExecutor creates a new executor
func NewExecutor(command []string, timeout time.Duration, logger *slog.Logger, redact ...string) *Executor {
	return &Executor{
		Command: command,
		Timeout: timeout,
		Logger:  logger,
		Redact:  redact,
	}
}

// Deploy runs the command once.
//   - exit 0: success, Output is stdout
//   - non-zero exit: failure, Output is stderr
//   - timeout: failure, the process group is killed, Output is a timeout message
//   - launch failure: failure, Output is the underlying error
func (e *Executor) Deploy(ctx context.Context) *Result {
	command := cmdutil.FormatCommand(e.Command)
	e.Logger.Info("Running deployment command", "command", command, "timeout", e.Timeout.String())

	res, err := cmdutil.Run(ctx, cmdutil.ExecOptions{Timeout: e.Timeout}, e.Command)
	if res == nil {
		e.Logger.Error("Deployment error", "error", err)
		return &Result{ExitCode: -1, Output: err.Error()}
	}

	result := &Result{
		ExitCode: res.ExitCode,
		Duration: res.Duration,
		TimedOut: res.TimedOut,
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		result.Success = true
		result.Output = e.sanitize(res.Stdout)
		e.Logger.Info("Deployment successful", "duration_ms", res.Duration.Milliseconds(), "output", result.Output)

	case res.TimedOut:
		result.Output = TimeoutMessage(e.Timeout)
		e.Logger.Error("Deployment timed out", "timeout", e.Timeout.String(), "partial_stderr", e.sanitize(res.Stderr))

	case errors.As(err, &exitErr):
		result.Output = e.sanitize(res.Stderr)
		if result.Output == "" {
			result.Output = fmt.Sprintf("Deployment command exited with code %d", res.ExitCode)
		}
		e.Logger.Error("Deployment failed", "exit_code", res.ExitCode, "stderr", result.Output)

	default:
		cause := err
		if inner := errors.Unwrap(err); inner != nil {
			cause = inner
		}
		result.Output = e.sanitize([]byte(cause.Error()))
		e.Logger.Error("Deployment error", "command", command, "error", result.Output)
	}

	return result
}

func (e *Executor) sanitize(output []byte) string {
	return string(cmdutil.SanitizeOutput(output, e.Redact))
}

// TimeoutMessage is the failure output reported when the deploy command
// exceeds its timeout.
func TimeoutMessage(timeout time.Duration) string {
	if timeout > 0 && timeout%time.Minute == 0 {
		minutes := int(timeout / time.Minute)
		if minutes == 1 {
			return "Deployment timed out after 1 minute"
		}
		return fmt.Sprintf("Deployment timed out after %d minutes", minutes)
	}
	return fmt.Sprintf("Deployment timed out after %s", timeout)
}
