package nginx

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/certpilot/certpilot-cli/pkg/backup"
)

// RewriteResult describes the outcome of one file rewrite. A backup
// exists if and only if the file's certificate directives changed.
type RewriteResult struct {
	File       string
	BackupPath string // empty when no modification occurred
	Modified   bool
	CertPath   string
	KeyPath    string
}

// RewriteOp identifies which step of the rewrite protocol failed
type RewriteOp string

const (
	OpRead   RewriteOp = "read"
	OpBackup RewriteOp = "backup"
	OpWrite  RewriteOp = "write"
	OpRename RewriteOp = "rename"
	OpVerify RewriteOp = "verify"
)

// RewriteError is a per-file rewrite failure; the batch continues with
// the remaining files.
type RewriteError struct {
	Op   RewriteOp
	File string
	Err  error
}

// Error implements the error interface
func (e *RewriteError) Error() string {
	return fmt.Sprintf("rewrite %s: %s failed: %v", e.File, e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *RewriteError) Unwrap() error {
	return e.Err
}

var (
	certDirectiveRe = regexp.MustCompile(`(?m)^(\s*ssl_certificate\s+)([^;]+)(;)`)
	keyDirectiveRe  = regexp.MustCompile(`(?m)^(\s*ssl_certificate_key\s+)([^;]+)(;)`)
)

// Rewriter updates ssl_certificate / ssl_certificate_key directives
// with backup and atomic-rename semantics.
type Rewriter struct {
	backups *backup.Manager

	mu      sync.Mutex
	pending map[string]struct{} // temp files awaiting rename
}

// NewRewriter creates a rewriter whose backups go to confDir/backup
func NewRewriter(confDir string) *Rewriter {
	return &Rewriter{
		backups: backup.NewManager(confDir),
		pending: make(map[string]struct{}),
	}
}

// Rewrite points the certificate directives of confFile at certPath
// and keyPath. The protocol is inspect, compare, back up, write a
// temp sibling, rename. Files without certificate directives and files
// already pointing at the targets are skipped without a write.
func (r *Rewriter) Rewrite(confFile, certPath, keyPath string) (*RewriteResult, error) {
	result := &RewriteResult{File: confFile, CertPath: certPath, KeyPath: keyPath}

	// Malformed domain-derived filenames must never reach the config.
	if unsafePath(certPath) || unsafePath(keyPath) {
		return nil, &RewriteError{
			Op:   OpVerify,
			File: confFile,
			Err:  fmt.Errorf("certificate path contains unsafe characters"),
		}
	}

	data, err := os.ReadFile(confFile)
	if err != nil {
		return nil, &RewriteError{Op: OpRead, File: confFile, Err: err}
	}
	content := string(data)

	certMatch := certDirectiveRe.FindStringSubmatch(content)
	keyMatch := keyDirectiveRe.FindStringSubmatch(content)
	if certMatch == nil && keyMatch == nil {
		// Nothing to manage in this file.
		return result, nil
	}

	// Idempotence: both directives already point at the targets.
	if certMatch != nil && keyMatch != nil &&
		normalizePath(certMatch[2]) == normalizePath(certPath) &&
		normalizePath(keyMatch[2]) == normalizePath(keyPath) {
		return result, nil
	}

	backupPath, err := r.backups.Backup(confFile)
	if err != nil {
		return nil, &RewriteError{Op: OpBackup, File: confFile, Err: err}
	}

	updated := certDirectiveRe.ReplaceAllString(content, "${1}"+certPath+"${3}")
	updated = keyDirectiveRe.ReplaceAllString(updated, "${1}"+keyPath+"${3}")

	// Substitution was a byte-level no-op; there is nothing to keep.
	if updated == content {
		_ = r.backups.Remove(backupPath)
		return result, nil
	}

	if err := r.replaceAtomically(confFile, updated, data); err != nil {
		// The original is intact, so the invariant says no backup.
		_ = r.backups.Remove(backupPath)
		return nil, err
	}

	result.Modified = true
	result.BackupPath = backupPath
	return result, nil
}

// replaceAtomically writes content to a temp file in the target's
// directory and renames it over the original, so the swap is atomic
// on the same filesystem.
func (r *Rewriter) replaceAtomically(confFile, content string, original []byte) error {
	mode := os.FileMode(0o644)
	if info, err := os.Stat(confFile); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(confFile), "."+filepath.Base(confFile)+".tmp-*")
	if err != nil {
		return &RewriteError{Op: OpWrite, File: confFile, Err: err}
	}
	tmpName := tmp.Name()
	r.trackPending(tmpName)

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		r.discardPending(tmpName)
		return &RewriteError{Op: OpWrite, File: confFile, Err: err}
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		r.discardPending(tmpName)
		return &RewriteError{Op: OpWrite, File: confFile, Err: err}
	}
	if err := tmp.Close(); err != nil {
		r.discardPending(tmpName)
		return &RewriteError{Op: OpWrite, File: confFile, Err: err}
	}

	if err := os.Rename(tmpName, confFile); err != nil {
		r.discardPending(tmpName)
		return &RewriteError{Op: OpRename, File: confFile, Err: err}
	}

	r.untrackPending(tmpName)
	return nil
}

func (r *Rewriter) trackPending(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[name] = struct{}{}
}

func (r *Rewriter) untrackPending(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, name)
}

func (r *Rewriter) discardPending(name string) {
	r.untrackPending(name)
	_ = os.Remove(name)
}

// Cleanup removes any temp files left behind by an interrupted run.
// Commands register it for every exit path, including signals.
func (r *Rewriter) Cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name := range r.pending {
		_ = os.Remove(name)
		delete(r.pending, name)
	}
}

// normalizePath trims whitespace, surrounding quotes, and a trailing
// slash so path comparison ignores cosmetic differences.
func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	p = strings.Trim(p, `"'`)
	p = strings.TrimSuffix(p, "/")
	return p
}

func unsafePath(p string) bool {
	return p == "" || strings.ContainsAny(p, "`$();|&<>\n")
}
