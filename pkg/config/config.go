// Package config loads the certpilot run configuration: a line-oriented
// file mixing global KEY=value options with domain|provider[|account]
// entries, as consumed by the issuance pipeline.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/certpilot/certpilot-cli/pkg/domain"
)

// Defaults applied when the configuration file does not set an option
const (
	DefaultDNSSleep      = 120
	DefaultCAProvider    = "letsencrypt"
	DefaultCertDir       = "/etc/nginx/ssl"
	DefaultPromptSeconds = 30
)

// Options holds the global options recognized in the configuration file
type Options struct {
	ConfDir         string // NGINX_CONF_DIR
	CAProvider      string // CA_PROVIDER
	CredentialsFile string // DNS_CREDENTIALS_FILE
	DNSSleep        int    // DNS_SLEEP (seconds to wait for DNS propagation)
}

// Entry is one domain line from the configuration file. Exactly one of
// Spec and Err is set.
type Entry struct {
	LineNumber int
	Raw        string
	Spec       *domain.Spec
	Err        error
}

// Config is the parsed configuration file
type Config struct {
	Path     string
	Options  Options
	Entries  []Entry
	Warnings []string
}

// Load reads and parses the configuration file. Malformed domain lines
// are collected per entry rather than failing the load; callers decide
// fatality via Prevalidate.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open configuration file: %w", err)
	}
	defer file.Close()

	cfg := &Config{
		Path: path,
		Options: Options{
			CAProvider: DefaultCAProvider,
			DNSSleep:   DefaultDNSSleep,
		},
	}

	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Global options carry '=' and never the domain separator.
		if strings.Contains(line, "=") && !strings.Contains(line, "|") {
			cfg.setOption(lineNum, line)
			continue
		}

		entry := Entry{LineNumber: lineNum, Raw: line}
		entry.Spec, entry.Err = domain.Parse(line)
		cfg.Entries = append(cfg.Entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	return cfg, nil
}

// setOption applies one KEY=value line, recording a warning for
// unrecognized keys instead of failing.
func (c *Config) setOption(lineNum int, line string) {
	parts := strings.SplitN(line, "=", 2)
	key := strings.TrimSpace(parts[0])
	value := strings.TrimSpace(parts[1])

	switch key {
	case "NGINX_CONF_DIR":
		c.Options.ConfDir = value
	case "CA_PROVIDER":
		if value != "" {
			c.Options.CAProvider = value
		}
	case "DNS_CREDENTIALS_FILE":
		c.Options.CredentialsFile = value
	case "DNS_SLEEP":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			c.Warnings = append(c.Warnings,
				fmt.Sprintf("line %d: invalid DNS_SLEEP %q, keeping %d", lineNum, value, c.Options.DNSSleep))
			return
		}
		c.Options.DNSSleep = n
	default:
		c.Warnings = append(c.Warnings,
			fmt.Sprintf("line %d: unknown option %q ignored", lineNum, key))
	}
}

// Prevalidate is the all-or-nothing gate run before any issuance: it
// returns every malformed domain entry so a half-validated run never
// starts.
func (c *Config) Prevalidate() []Entry {
	var bad []Entry
	for _, e := range c.Entries {
		if e.Err != nil {
			bad = append(bad, e)
		}
	}
	return bad
}

// Domains returns the successfully parsed domain specs in file order
func (c *Config) Domains() []*domain.Spec {
	specs := make([]*domain.Spec, 0, len(c.Entries))
	for _, e := range c.Entries {
		if e.Spec != nil {
			specs = append(specs, e.Spec)
		}
	}
	return specs
}
