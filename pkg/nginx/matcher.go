// Package nginx locates and rewrites web-server vhost configuration
// for issued certificates, and drives the server's test/reload cycle.
package nginx

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/certpilot/certpilot-cli/pkg/backup"
)

// MatchError reports that no configuration files could be located for
// a domain. It is informational: a domain without vhost files simply
// has nothing to deploy to.
type MatchError struct {
	MainDomain string
	ConfDir    string
	Reason     string
}

// Error implements the error interface
func (e *MatchError) Error() string {
	return fmt.Sprintf("no configuration match for %s: %s", e.MainDomain, e.Reason)
}

// MatchConfigs walks confDir for *.conf files belonging to mainDomain:
// the basename (without extension) either equals the main domain or
// ends with ".<mainDomain>". The same predicate serves wildcard and
// literal entries because the wildcard prefix was already absorbed
// into the main domain.
//
// The backup subdirectory is excluded from the walk. Results are
// sorted for stable output.
func MatchConfigs(confDir, mainDomain string) ([]string, error) {
	if confDir == "" {
		return nil, &MatchError{MainDomain: mainDomain, Reason: "configuration directory is not set"}
	}
	if _, err := os.Stat(confDir); err != nil {
		return nil, &MatchError{
			MainDomain: mainDomain,
			ConfDir:    confDir,
			Reason:     fmt.Sprintf("configuration directory unavailable: %v", err),
		}
	}

	var matches []string
	err := filepath.WalkDir(confDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == backup.DirName {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".conf") {
			return nil
		}
		base := strings.TrimSuffix(d.Name(), ".conf")
		if base == mainDomain || strings.HasSuffix(base, "."+mainDomain) {
			abs, err := filepath.Abs(path)
			if err != nil {
				abs = path
			}
			matches = append(matches, abs)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", confDir, err)
	}

	sort.Strings(matches)
	return matches, nil
}
