// Package acme wraps the external ACME client (acme.sh). The tool is
// a collaborator, not a library: certpilot drives it per domain and
// re-verifies its artifacts, since a tool that exits 0 but prints a
// textual failure must still count as failed.
package acme

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/certpilot/certpilot-cli/pkg/credentials"
	"github.com/certpilot/certpilot-cli/pkg/domain"
	"github.com/certpilot/certpilot-cli/pkg/resilience"
	"github.com/certpilot/certpilot-cli/pkg/runner"
)

// IssueError means certificate issuance failed for one domain; the
// batch continues with the next domain.
type IssueError struct {
	Domain string
	Output string
	Err    error
}

// Error implements the error interface
func (e *IssueError) Error() string {
	return fmt.Sprintf("issuance failed for %s: %v", e.Domain, e.Err)
}

// Unwrap returns the underlying error
func (e *IssueError) Unwrap() error { return e.Err }

// InstallError means copying an issued certificate into the stable
// certificate directory failed; the domain is skipped.
type InstallError struct {
	Domain string
	Err    error
}

// Error implements the error interface
func (e *InstallError) Error() string {
	return fmt.Sprintf("install failed for %s: %v", e.Domain, e.Err)
}

// Unwrap returns the underlying error
func (e *InstallError) Unwrap() error { return e.Err }

// notDueMarkers are acme.sh outputs that mean "certificate already
// current", which is a success for a renewal-oriented run.
var notDueMarkers = []string{
	"Domains not changed",
	"Skipping. Next renewal time is",
	"Skip, Next renewal time is",
}

// Client invokes the acme.sh binary
type Client struct {
	bin     string
	home    string // acme.sh data directory holding issued certificates
	ca      string // CA server shortname passed via --server
	run     runner.Runner
	breaker *resilience.Breaker
}

// Detect locates the acme.sh installation: PATH first, then the
// conventional ~/.acme.sh/acme.sh location.
func Detect() (string, error) {
	if bin, err := runner.LookPath("acme.sh"); err == nil {
		return bin, nil
	}
	home, err := os.UserHomeDir()
	if err == nil {
		candidate := filepath.Join(home, ".acme.sh", "acme.sh")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("acme.sh not found on PATH or in ~/.acme.sh")
}

// NewClient creates a client for an acme.sh binary. An empty home
// falls back to ~/.acme.sh.
func NewClient(bin, home, ca string, run runner.Runner) *Client {
	if home == "" {
		if userHome, err := os.UserHomeDir(); err == nil {
			home = filepath.Join(userHome, ".acme.sh")
		}
	}
	return &Client{
		bin:     bin,
		home:    home,
		ca:      ca,
		run:     run,
		breaker: resilience.NewBreaker("acme"),
	}
}

// Issue requests a certificate for one domain via the DNS-01
// challenge. The credential set is overlaid on the environment of this
// single invocation only and never exported process-wide. Success
// requires a clean exit (or a not-yet-due marker) AND the expected
// artifact files on disk.
func (c *Client) Issue(ctx context.Context, spec *domain.Spec, creds *credentials.Set, dnsSleep int) error {
	args := []string{"--issue", "--dns", spec.Provider, "-d", spec.MainDomain}
	if spec.IsWildcard {
		args = append(args, "-d", "*."+spec.MainDomain)
	}
	args = append(args, "--dnssleep", strconv.Itoa(dnsSleep))
	if c.ca != "" {
		args = append(args, "--server", c.ca)
	}

	if c.breaker.IsOpen() {
		return &IssueError{
			Domain: spec.CertName(),
			Err:    fmt.Errorf("%s circuit open after repeated failures, not attempting", c.breaker.Name()),
		}
	}

	out, err := c.breaker.Execute(func() (string, error) {
		return c.run.ExecuteEnv(ctx, creds.Environ(), c.bin, args...)
	})
	if err != nil && !containsAny(out, notDueMarkers) {
		return &IssueError{Domain: spec.CertName(), Output: out, Err: err}
	}

	// Some tools return before flushing, so give the filesystem a
	// moment before declaring the artifacts missing.
	verify := func() error { return c.verifyArtifacts(spec.MainDomain) }
	if err := resilience.Retry(ctx, resilience.RetryConfig{MaxAttempts: 3, InitialDelay: resilience.DefaultRetryConfig().InitialDelay}, verify); err != nil {
		return &IssueError{
			Domain: spec.CertName(),
			Output: out,
			Err:    fmt.Errorf("issuance reported success but artifacts are missing: %w", err),
		}
	}
	return nil
}

// verifyArtifacts checks that acme.sh produced the certificate files
// it claims to have issued. Both the plain and the _ecc layout are
// accepted.
func (c *Client) verifyArtifacts(mainDomain string) error {
	for _, dir := range []string{mainDomain + "_ecc", mainDomain} {
		certFile := filepath.Join(c.home, dir, "fullchain.cer")
		keyFile := filepath.Join(c.home, dir, mainDomain+".key")
		if fileNonEmpty(certFile) && fileNonEmpty(keyFile) {
			return nil
		}
	}
	return fmt.Errorf("no certificate artifacts for %s under %s", mainDomain, c.home)
}

// Install copies the issued certificate and key into the stable
// certificate directory and verifies the destinations are non-empty.
func (c *Client) Install(ctx context.Context, mainDomain, keyDest, certDest string) error {
	if err := os.MkdirAll(filepath.Dir(certDest), 0o755); err != nil {
		return &InstallError{Domain: mainDomain, Err: err}
	}

	args := []string{
		"--install-cert", "-d", mainDomain,
		"--key-file", keyDest,
		"--fullchain-file", certDest,
	}
	if _, err := c.run.Execute(ctx, c.bin, args...); err != nil {
		return &InstallError{Domain: mainDomain, Err: err}
	}

	if !fileNonEmpty(certDest) || !fileNonEmpty(keyDest) {
		return &InstallError{
			Domain: mainDomain,
			Err:    fmt.Errorf("installed files are missing or empty (%s, %s)", certDest, keyDest),
		}
	}
	return nil
}

func fileNonEmpty(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
