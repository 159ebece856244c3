// Package backup preserves web-server configuration files before
// certpilot rewrites them.
package backup

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// DirName is the backup subdirectory created under the conf directory
	DirName = "backup"

	// DefaultRetentionDays is how long pruning keeps old backups
	DefaultRetentionDays = 7

	stampFormat = "20060102-150405"
)

// Manager stores timestamped copies of configuration files under
// {confDir}/backup.
type Manager struct {
	dir string
}

// NewManager creates a backup manager rooted at confDir
func NewManager(confDir string) *Manager {
	return &Manager{dir: filepath.Join(confDir, DirName)}
}

// Dir returns the backup directory path
func (m *Manager) Dir() string {
	return m.dir
}

// Backup copies a file into the backup directory as
// {name}.backup.{timestamp} and returns the backup path.
func (m *Manager) Backup(file string) (string, error) {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	stamp := time.Now().Format(stampFormat)
	dest := filepath.Join(m.dir, fmt.Sprintf("%s.backup.%s", filepath.Base(file), stamp))

	if err := copyFile(file, dest); err != nil {
		return "", fmt.Errorf("failed to back up %s: %w", file, err)
	}
	return dest, nil
}

// Remove deletes a backup previously created by this manager. Paths
// outside the backup directory are refused.
func (m *Manager) Remove(backupPath string) error {
	if filepath.Dir(backupPath) != m.dir {
		return fmt.Errorf("refusing to remove %s: not inside %s", backupPath, m.dir)
	}
	if err := os.Remove(backupPath); err != nil {
		return fmt.Errorf("failed to remove backup: %w", err)
	}
	return nil
}

// Prune removes backups older than retentionDays and returns how many
// were deleted. A missing backup directory is not an error.
func (m *Manager) Prune(retentionDays int) (int, error) {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read backup directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.Contains(entry.Name(), ".backup.") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(m.dir, entry.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
