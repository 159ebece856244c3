package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/certpilot/certpilot-cli/pkg/acme"
	"github.com/certpilot/certpilot-cli/pkg/credentials"
	"github.com/certpilot/certpilot-cli/pkg/nginx"
	"github.com/certpilot/certpilot-cli/pkg/orchestrator"
	"github.com/certpilot/certpilot-cli/pkg/runner"
	"github.com/certpilot/certpilot-cli/pkg/telemetry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Issue certificates and update web server configuration",
	Long: `Processes every domain in the domains file sequentially: resolves DNS
provider credentials, issues the certificate through acme.sh, installs it
into the certificate store, rewrites matching web server configuration
files and reloads the server once all updates succeed.

A malformed domain line aborts the run before any certificate is
requested. Per-domain issuance failures skip that domain and continue;
a credential failure stops the run.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	out := output()

	cfg, err := loadRunConfig(out)
	if err != nil {
		return err
	}
	if len(cfg.Domains()) == 0 && len(cfg.Prevalidate()) == 0 {
		out.Warning("no domains configured in %s", domainsFilePath())
		return nil
	}
	if cfg.Options.CredentialsFile == "" {
		return fmt.Errorf("no credentials file configured: set DNS_CREDENTIALS_FILE in %s", domainsFilePath())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if telemetry.IsEnabled() {
		out.Verbose("tracing enabled")
	}
	ctx, span := telemetry.Tracer().Start(ctx, "certpilot.run")
	defer span.End()

	out.Step("processing %d domain(s) from %s", len(cfg.Domains()), domainsFilePath())

	run := runner.NewLocal()

	bin := viper.GetString("acme_bin")
	if bin == "" {
		bin, err = acme.Detect()
		if err != nil {
			return err
		}
	}
	out.Verbose("using acme.sh at %s", bin)

	client := acme.NewClient(bin, viper.GetString("acme_home"), cfg.Options.CAProvider, run)

	server, err := nginx.DetectServer(run)
	if err != nil {
		out.Warning("no web server detected; configuration files will be updated but not reloaded")
		server = nil
	} else {
		out.Verbose("detected web server: %s", server.Name())
	}

	rewriter := nginx.NewRewriter(cfg.Options.ConfDir)
	defer rewriter.Cleanup()

	orch := orchestrator.New(orchestrator.Options{
		Config: cfg,
		Issuer: client,
		Credentials: &credentials.Resolver{
			Path: cfg.Options.CredentialsFile,
			Warn: func(format string, args ...interface{}) { out.Warning(format, args...) },
		},
		Rewriter:      rewriter,
		Server:        webServer(server),
		Output:        out,
		Audit:         newAuditLogger(out),
		CertDir:       certDir(),
		PromptTimeout: promptTimeout(),
		AutoConfirm:   autoYes || viper.GetBool("yes"),
	})

	summary, err := orch.Run(ctx)
	printSummary(out, summary)
	pruneBackups(out, cfg.Options.ConfDir)
	return err
}

// webServer keeps a typed-nil *nginx.Server from masquerading as a
// non-nil WebServer interface value.
func webServer(s *nginx.Server) orchestrator.WebServer {
	if s == nil {
		return nil
	}
	return s
}
