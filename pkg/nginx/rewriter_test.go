package nginx

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const vhost = `server {
    listen 443 ssl;
    server_name api.example.com;
    ssl_certificate /old/a.pem;
    ssl_certificate_key /old/a.key;
}
`

func writeVhost(t *testing.T, confDir, name, content string) string {
	t.Helper()
	path := filepath.Join(confDir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func listBackups(t *testing.T, confDir string) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(confDir, "backup"))
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	return entries
}

func TestRewriteReplacesDirectivesWithBackup(t *testing.T) {
	confDir := t.TempDir()
	file := writeVhost(t, confDir, "api.example.com.conf", vhost)

	r := NewRewriter(confDir)
	res, err := r.Rewrite(file, "/etc/nginx/ssl/example.com.pem", "/etc/nginx/ssl/example.com.key")
	require.NoError(t, err)

	assert.True(t, res.Modified)
	require.NotEmpty(t, res.BackupPath)

	updated, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(updated), "ssl_certificate /etc/nginx/ssl/example.com.pem;")
	assert.Contains(t, string(updated), "ssl_certificate_key /etc/nginx/ssl/example.com.key;")
	assert.NotContains(t, string(updated), "/old/a.pem")

	// Backup holds the pre-rewrite content.
	saved, err := os.ReadFile(res.BackupPath)
	require.NoError(t, err)
	assert.Equal(t, vhost, string(saved))
}

func TestRewriteIdempotent(t *testing.T) {
	confDir := t.TempDir()
	file := writeVhost(t, confDir, "api.example.com.conf", vhost)

	r := NewRewriter(confDir)
	first, err := r.Rewrite(file, "/new/c.pem", "/new/c.key")
	require.NoError(t, err)
	require.True(t, first.Modified)

	second, err := r.Rewrite(file, "/new/c.pem", "/new/c.key")
	require.NoError(t, err)
	assert.False(t, second.Modified)
	assert.Empty(t, second.BackupPath)

	// No second backup was left behind.
	assert.Len(t, listBackups(t, confDir), 1)
}

func TestRewriteNormalizesExistingValues(t *testing.T) {
	confDir := t.TempDir()
	content := `ssl_certificate "/new/c.pem/";
ssl_certificate_key '/new/c.key';
`
	file := writeVhost(t, confDir, "example.com.conf", content)

	r := NewRewriter(confDir)
	res, err := r.Rewrite(file, "/new/c.pem", "/new/c.key")
	require.NoError(t, err)
	assert.False(t, res.Modified)
	assert.Empty(t, listBackups(t, confDir))
}

func TestRewriteSkipsFilesWithoutDirectives(t *testing.T) {
	confDir := t.TempDir()
	file := writeVhost(t, confDir, "plain.example.com.conf", "server { listen 80; }\n")

	r := NewRewriter(confDir)
	res, err := r.Rewrite(file, "/new/c.pem", "/new/c.key")
	require.NoError(t, err)
	assert.False(t, res.Modified)
	assert.Empty(t, listBackups(t, confDir))
}

func TestRewriteRejectsUnsafePaths(t *testing.T) {
	confDir := t.TempDir()
	file := writeVhost(t, confDir, "example.com.conf", vhost)

	r := NewRewriter(confDir)
	for _, bad := range []string{"/p/$(whoami).pem", "/p/a;rm.pem", "", "/p/`x`.pem"} {
		_, err := r.Rewrite(file, bad, "/new/c.key")
		var rerr *RewriteError
		require.ErrorAs(t, err, &rerr, bad)
		assert.Equal(t, OpVerify, rerr.Op)
	}

	// Untouched and no backup.
	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, vhost, string(data))
	assert.Empty(t, listBackups(t, confDir))
}

func TestRewriteKeyDirectiveNotMistakenForCert(t *testing.T) {
	confDir := t.TempDir()
	content := "ssl_certificate_key /old/a.key;\nssl_certificate /old/a.pem;\n"
	file := writeVhost(t, confDir, "example.com.conf", content)

	r := NewRewriter(confDir)
	res, err := r.Rewrite(file, "/new/c.pem", "/new/c.key")
	require.NoError(t, err)
	require.True(t, res.Modified)

	updated, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "ssl_certificate_key /new/c.key;\nssl_certificate /new/c.pem;\n", string(updated))
}

func TestRewriteReadError(t *testing.T) {
	confDir := t.TempDir()
	r := NewRewriter(confDir)
	_, err := r.Rewrite(filepath.Join(confDir, "missing.conf"), "/new/c.pem", "/new/c.key")
	var rerr *RewriteError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, OpRead, rerr.Op)
}

func TestCleanupRemovesPendingTempFiles(t *testing.T) {
	confDir := t.TempDir()
	r := NewRewriter(confDir)

	tmp := filepath.Join(confDir, ".example.com.conf.tmp-123")
	require.NoError(t, os.WriteFile(tmp, []byte("partial"), 0o600))
	r.trackPending(tmp)

	r.Cleanup()
	assert.NoFileExists(t, tmp)
}
