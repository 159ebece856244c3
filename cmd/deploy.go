package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/certpilot/certpilot-cli/pkg/nginx"
	"github.com/certpilot/certpilot-cli/pkg/orchestrator"
	"github.com/certpilot/certpilot-cli/pkg/runner"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Rewrite configuration and reload for already-issued certificates",
	Long: `Skips issuance entirely: for every domain in the domains file whose
certificate and key already exist in the certificate store, rewrites the
matching web server configuration files and reloads the server if
anything changed. Useful after editing vhost files by hand or restoring
from backup.`,
	RunE: runDeploy,
}

func init() {
	rootCmd.AddCommand(deployCmd)
}

func runDeploy(cmd *cobra.Command, args []string) error {
	out := output()

	cfg, err := loadRunConfig(out)
	if err != nil {
		return err
	}
	if bad := cfg.Prevalidate(); len(bad) > 0 {
		for _, entry := range bad {
			out.Error("line %d: %v", entry.LineNumber, entry.Err)
		}
		return fmt.Errorf("%d malformed domain line(s)", len(bad))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	run := runner.NewLocal()
	server, err := nginx.DetectServer(run)
	if err != nil {
		out.Warning("no web server detected; configuration files will be updated but not reloaded")
		server = nil
	}

	rewriter := nginx.NewRewriter(cfg.Options.ConfDir)
	defer rewriter.Cleanup()

	orch := orchestrator.New(orchestrator.Options{
		Config:        cfg,
		Rewriter:      rewriter,
		Server:        webServer(server),
		Output:        out,
		Audit:         newAuditLogger(out),
		CertDir:       certDir(),
		PromptTimeout: promptTimeout(),
		AutoConfirm:   autoYes || viper.GetBool("yes"),
	})

	seen := make(map[string]bool)
	var records []orchestrator.SuccessRecord
	for _, spec := range cfg.Domains() {
		if seen[spec.MainDomain] {
			continue
		}
		seen[spec.MainDomain] = true

		certPath, keyPath := orch.CertPaths(spec.MainDomain)
		if !fileExists(certPath) || !fileExists(keyPath) {
			out.Warning("no installed certificate for %s, skipping (run 'certpilot run' first)", spec.MainDomain)
			continue
		}
		records = append(records, orchestrator.SuccessRecord{
			Domain:     spec.CertName(),
			MainDomain: spec.MainDomain,
		})
	}

	if len(records) == 0 {
		out.Warning("nothing to deploy: no installed certificates found in %s", certDir())
		return nil
	}

	out.Step("deploying %d installed certificate(s)", len(records))

	summary := &orchestrator.Summary{}
	orch.Deploy(ctx, records, summary)
	printSummary(out, summary)
	pruneBackups(out, cfg.Options.ConfDir)
	return nil
}
