package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/certpilot/certpilot-cli/pkg/audit"
	"github.com/certpilot/certpilot-cli/pkg/backup"
	"github.com/certpilot/certpilot-cli/pkg/config"
	"github.com/certpilot/certpilot-cli/pkg/formatter"
	"github.com/certpilot/certpilot-cli/pkg/orchestrator"
	"github.com/spf13/viper"
)

// output builds the terminal formatter from the global flags
func output() *formatter.Output {
	return formatter.New(verbose || viper.GetBool("verbose"), noColor)
}

// loadRunConfig loads the domains configuration file and surfaces its
// non-fatal warnings.
func loadRunConfig(out *formatter.Output) (*config.Config, error) {
	path := domainsFilePath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	for _, w := range cfg.Warnings {
		out.Warning("%s: %s", path, w)
	}
	return cfg, nil
}

// certDir resolves the certificate store directory: the
// CERTPILOT_CERT_DIR override wins, then the built-in default.
func certDir() string {
	if dir := viper.GetString("cert_dir"); dir != "" {
		return dir
	}
	return config.DefaultCertDir
}

// newAuditLogger falls back to a no-op logger rather than failing the
// run over a bookkeeping problem.
func newAuditLogger(out *formatter.Output) audit.Logger {
	logger, err := audit.NewFileLogger("")
	if err != nil {
		out.Verbose("audit logging disabled: %v", err)
		return audit.NewNoOpLogger()
	}
	return logger
}

// pruneBackups removes expired configuration backups after a run
func pruneBackups(out *formatter.Output, confDir string) {
	if confDir == "" {
		return
	}
	retention := viper.GetInt("backup_retention_days")
	removed, err := backup.NewManager(confDir).Prune(retention)
	if err != nil {
		out.Verbose("backup pruning failed: %v", err)
		return
	}
	if removed > 0 {
		out.Verbose("pruned %d expired backup(s)", removed)
	}
}

// printSummary renders the run bookkeeping
func printSummary(out *formatter.Output, summary *orchestrator.Summary) {
	if summary == nil {
		return
	}

	out.Section("Summary")
	out.KeyValue("Issued", strconv.Itoa(len(summary.Succeeded)))
	out.KeyValue("Skipped", strconv.Itoa(len(summary.Skipped)))
	out.KeyValue("Configs updated", strconv.Itoa(len(summary.Rewritten)))
	out.KeyValue("Reloaded", fmt.Sprintf("%v", summary.Reloaded))

	if len(summary.Skipped) > 0 {
		rows := make([][]string, 0, len(summary.Skipped))
		for _, s := range summary.Skipped {
			rows = append(rows, []string{s.Domain, s.Stage, s.Reason})
		}
		out.Plain("")
		out.Table([]string{"Domain", "Stage", "Reason"}, rows)
	}

	if len(summary.Warnings) > 0 {
		out.Divider()
		for _, w := range summary.Warnings {
			out.Warning("%s", w)
		}
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}
