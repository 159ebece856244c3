// Package runner executes external collaborator binaries (acme.sh,
// nginx) on the local host.
package runner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// Runner abstracts process execution so the pipeline can be tested
// against fakes.
type Runner interface {
	// Execute runs a command and returns its combined output
	Execute(ctx context.Context, name string, args ...string) (string, error)
	// ExecuteEnv runs a command with extra environment variables
	// overlaid on the current process environment, scoped to this
	// single invocation.
	ExecuteEnv(ctx context.Context, env []string, name string, args ...string) (string, error)
}

// Local runs commands on the local host
type Local struct {
	// Timeout bounds each command when the context carries no
	// deadline of its own
	Timeout time.Duration
}

// NewLocal creates a runner with a sane default command timeout
func NewLocal() *Local {
	return &Local{Timeout: 10 * time.Minute}
}

// Execute implements Runner
func (l *Local) Execute(ctx context.Context, name string, args ...string) (string, error) {
	return l.ExecuteEnv(ctx, nil, name, args...)
}

// ExecuteEnv implements Runner
func (l *Local) ExecuteEnv(ctx context.Context, env []string, name string, args ...string) (string, error) {
	if _, ok := ctx.Deadline(); !ok && l.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}

	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("%s failed: %w", name, err)
	}
	return string(out), nil
}

// LookPath resolves a binary on PATH
func LookPath(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%s not found on PATH: %w", name, err)
	}
	return path, nil
}
