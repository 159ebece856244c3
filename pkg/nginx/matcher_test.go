package nginx

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touchFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("server {}\n"), 0o644))
	}
}

func basenames(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = filepath.Base(p)
	}
	return out
}

func TestMatchConfigsCompleteness(t *testing.T) {
	confDir := t.TempDir()
	touchFiles(t, confDir, "a.com.conf", "x.a.com.conf", "b.com.conf")

	// The same predicate serves wildcard and literal entries: both
	// resolve to main domain "a.com".
	matches, err := MatchConfigs(confDir, "a.com")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.com.conf", "x.a.com.conf"}, basenames(matches))
}

func TestMatchConfigsRecursesSubdirectories(t *testing.T) {
	confDir := t.TempDir()
	touchFiles(t, confDir,
		"sites/api.example.com.conf",
		"example.com.conf",
		"sites/other.org.conf",
		"notes.txt",
	)

	matches, err := MatchConfigs(confDir, "example.com")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"example.com.conf", "api.example.com.conf"}, basenames(matches))
}

func TestMatchConfigsNoDottedSuffixFalsePositive(t *testing.T) {
	confDir := t.TempDir()
	// "notexample.com" must not match "example.com": the suffix rule
	// requires a dot boundary.
	touchFiles(t, confDir, "notexample.com.conf")

	matches, err := MatchConfigs(confDir, "example.com")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestMatchConfigsSkipsBackupDir(t *testing.T) {
	confDir := t.TempDir()
	touchFiles(t, confDir, "example.com.conf", "backup/example.com.conf")

	matches, err := MatchConfigs(confDir, "example.com")
	require.NoError(t, err)
	require.Len(t, matches, 1)
}

func TestMatchConfigsUnsetDir(t *testing.T) {
	_, err := MatchConfigs("", "example.com")
	var merr *MatchError
	require.ErrorAs(t, err, &merr)
}

func TestMatchConfigsMissingDir(t *testing.T) {
	_, err := MatchConfigs(filepath.Join(t.TempDir(), "nope"), "example.com")
	var merr *MatchError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, "example.com", merr.MainDomain)
}
