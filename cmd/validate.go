package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the domains file without issuing anything",
	Long: `Parses the domains file and reports every malformed line, exactly as
the run command would before aborting. Exits non-zero when any line is
invalid.`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := output()

	cfg, err := loadRunConfig(out)
	if err != nil {
		return err
	}

	specs := cfg.Domains()
	if len(specs) > 0 {
		rows := make([][]string, 0, len(specs))
		for _, spec := range specs {
			account := spec.Account
			if account == "" {
				account = "default"
			}
			rows = append(rows, []string{spec.CertName(), spec.Provider, account})
		}
		out.Table([]string{"Certificate", "Provider", "Account"}, rows)
	}

	bad := cfg.Prevalidate()
	for _, entry := range bad {
		out.Error("line %d: %s", entry.LineNumber, entry.Err)
		out.Verbose("  %s", entry.Raw)
	}

	if len(bad) > 0 {
		return fmt.Errorf("%d malformed domain line(s)", len(bad))
	}
	out.Success("%d domain(s) valid", len(specs))
	return nil
}
