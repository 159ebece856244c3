package nginx

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/certpilot/certpilot-cli/pkg/resilience"
	"github.com/certpilot/certpilot-cli/pkg/runner"
)

// serverCandidates are the web-server binaries probed in order
var serverCandidates = []string{"nginx", "openresty"}

// Server controls the installed web server. Reload is only ever
// attempted after a successful configuration test.
type Server struct {
	name string
	bin  string
	run  runner.Runner
}

// DetectServer locates an installed web server binary on PATH
func DetectServer(run runner.Runner) (*Server, error) {
	for _, name := range serverCandidates {
		if bin, err := runner.LookPath(name); err == nil {
			return &Server{name: name, bin: bin, run: run}, nil
		}
	}
	return nil, fmt.Errorf("no web server found (tried %v)", serverCandidates)
}

// NewServer builds a Server for a known binary; used by tests and by
// explicit --server-bin overrides.
func NewServer(name, bin string, run runner.Runner) *Server {
	return &Server{name: name, bin: bin, run: run}
}

// Name returns the detected server name
func (s *Server) Name() string {
	return s.name
}

// TestConfig runs the server's configuration syntax check
func (s *Server) TestConfig(ctx context.Context) error {
	out, err := s.run.Execute(ctx, s.bin, "-t")
	if err != nil {
		return fmt.Errorf("%s config test failed: %w\n%s", s.name, err, out)
	}
	return nil
}

// Reload signals the server to reload its configuration. Transient
// failures (a reload racing a previous one) are retried briefly.
func (s *Server) Reload(ctx context.Context) error {
	cfg := resilience.RetryConfig{MaxAttempts: 2, InitialDelay: resilience.DefaultRetryConfig().InitialDelay}
	err := resilience.Retry(ctx, cfg, func() error {
		_, err := s.run.Execute(ctx, s.bin, "-s", "reload")
		// A vanished binary will not come back between attempts.
		if errors.Is(err, exec.ErrNotFound) {
			return resilience.Permanent(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("%s reload failed: %w", s.name, err)
	}
	return nil
}
