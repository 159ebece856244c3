package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/certpilot/certpilot-cli/pkg/telemetry"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool
	noColor bool
	autoYes bool
	// Version, GitCommit, and BuildTime are set via ldflags during build
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "certpilot",
	Short: "Issue, renew, and deploy TLS certificates for your nginx vhosts",
	Long: `Certpilot automates the full certificate lifecycle for a configured
list of domains: it resolves DNS provider credentials, drives acme.sh
through the DNS-01 challenge, installs issued certificates into a stable
certificate store, rewrites the matching nginx vhost files with backups,
and reloads nginx once the new configuration passes a syntax check.

Domains are processed strictly one at a time to stay inside CA rate
limits.`,
	Version: Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := telemetry.Init(telemetry.DefaultConfig()); err != nil {
		fmt.Fprintln(os.Stderr, "Warning: telemetry init failed:", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = telemetry.Shutdown(ctx)
	}()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.SetVersionTemplate(fmt.Sprintf(`Certpilot {{.Version}}
Commit:  %s
Built:   %s
`, GitCommit, BuildTime))

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "domains configuration file (default ./domains.conf)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&autoYes, "yes", "y", false, "skip confirmation prompts (non-interactive mode)")

	// Bind flags to viper
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("yes", rootCmd.PersistentFlags().Lookup("yes"))
}

// findEnvFile searches for .env file in current directory and parent directories
func findEnvFile() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for i := 0; i < 10; i++ {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// initConfig reads in ENV variables and optional overrides
func initConfig() {
	if envFile := findEnvFile(); envFile != "" {
		_ = godotenv.Load(envFile)
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("CERTPILOT")

	// Overridable settings with their defaults
	viper.SetDefault("domains_file", "./domains.conf")
	viper.SetDefault("cert_dir", "")
	viper.SetDefault("acme_bin", "")
	viper.SetDefault("acme_home", "")
	viper.SetDefault("prompt_timeout", 30)
	viper.SetDefault("backup_retention_days", 7)
}

// domainsFilePath returns the configuration file path from the flag or
// viper settings.
func domainsFilePath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return viper.GetString("domains_file")
}

func promptTimeout() time.Duration {
	return time.Duration(viper.GetInt("prompt_timeout")) * time.Second
}
