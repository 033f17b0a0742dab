// Package deployment runs the external deploy command for accepted pushes.
package deployment

import (
	"context"
	"time"
)

// Result is the outcome of a single deployment. Output holds stdout on
// success and stderr or a diagnostic on failure.
type Result struct {
	Success  bool
	Output   string
	ExitCode int
	Duration time.Duration
	TimedOut bool
}

// Deployer performs one deployment. Implementations always return a
// non-nil Result; failures are reported through it rather than as errors.
type Deployer interface {
	Deploy(ctx context.Context) *Result
}

// DeployerFunc adapts a function to the Deployer interface.
type DeployerFunc func(ctx context.Context) *Result

// Deploy calls f(ctx).
func (f DeployerFunc) Deploy(ctx context.Context) *Result {
	return f(ctx)
}
