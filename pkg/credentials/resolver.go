// Package credentials resolves DNS provider API credentials for the
// external ACME client. A single credentials file can serve multiple
// accounts of the same provider: default variables are declared under
// their base name, alternates carry an account suffix.
package credentials

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

// Error is a credential resolution failure. The pipeline treats it as
// fatal to the whole run: a broken credentials file means the rest of
// the configuration cannot be trusted either.
type Error struct {
	Provider string
	Account  string
	Reason   string
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Account != "" {
		return fmt.Sprintf("credentials for %s (account %s): %s", e.Provider, e.Account, e.Reason)
	}
	return fmt.Sprintf("credentials for %s: %s", e.Provider, e.Reason)
}

// Set holds the resolved credential variables for one provider account
type Set struct {
	Account string // "" for the default/unsuffixed set
	Vars    map[string]string
}

// Environ renders the set as KEY=value pairs suitable for an exec env
// overlay, sorted for deterministic command construction.
func (s *Set) Environ() []string {
	keys := make([]string, 0, len(s.Vars))
	for k := range s.Vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+s.Vars[k])
	}
	return env
}

var (
	validName       = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	accountSuffixRe = regexp.MustCompile(`_account[A-Za-z0-9]+$`)
)

// credentialWords are trailing segments that belong to standard
// provider variable names (Ali_Key, CF_Token, DP_Id, ...) rather than
// account suffixes.
var credentialWords = map[string]bool{
	"Key":      true,
	"Secret":   true,
	"Token":    true,
	"Id":       true,
	"ID":       true,
	"Email":    true,
	"User":     true,
	"Password": true,
	"Api":      true,
	"API":      true,
	"KEY":      true,
	"SECRET":   true,
	"TOKEN":    true,
	"EMAIL":    true,
	"USER":     true,
	"PASSWORD": true,
}

// Resolver reads a credentials file per domain processed
type Resolver struct {
	Path string
	// Warn receives skip notices (rejected values, suspicious names);
	// nil means silent.
	Warn func(format string, args ...interface{})
}

func (r *Resolver) warnf(format string, args ...interface{}) {
	if r.Warn != nil {
		r.Warn(format, args...)
	}
}

// Resolve builds the credential set for one provider and optional
// account. Default-pass variables are collected first, then (if an
// account is given) suffixed variables are re-exported under their
// base name, overriding the defaults. Resolution fails hard when both
// passes come up empty.
//
// Files named *.yaml or *.yml use the structured format instead (see
// resolveYAML), which needs no name heuristics.
func (r *Resolver) Resolve(provider, account string) (*Set, error) {
	if strings.HasSuffix(r.Path, ".yaml") || strings.HasSuffix(r.Path, ".yml") {
		return r.resolveYAML(provider, account)
	}

	decls, err := r.readDeclarations()
	if err != nil {
		return nil, &Error{Provider: provider, Account: account, Reason: err.Error()}
	}

	set := &Set{Account: account, Vars: make(map[string]string)}

	// Default pass: every unsuffixed declaration.
	for _, d := range decls {
		if isAccountSuffixed(d.name) {
			continue
		}
		if hasShellMeta(d.value) {
			r.warnf("skipping %s: value contains shell metacharacters", d.name)
			continue
		}
		set.Vars[d.name] = d.value
	}

	// Account pass: suffixed declarations re-exported under the base
	// name, overriding the default pass.
	if account != "" {
		for _, d := range decls {
			base, ok := stripAccountSuffix(d.name, account)
			if !ok {
				continue
			}
			if hasShellMeta(d.value) {
				r.warnf("skipping %s: value contains shell metacharacters", d.name)
				continue
			}
			set.Vars[base] = d.value
		}
	}

	if len(set.Vars) == 0 {
		return nil, &Error{
			Provider: provider,
			Account:  account,
			Reason:   fmt.Sprintf("no credential variables found in %s", r.Path),
		}
	}
	return set, nil
}

type declaration struct {
	name  string
	value string
}

// readDeclarations collects the export-style declarations from the
// credentials file; everything else (comments, blanks, stray lines)
// is skipped.
func (r *Resolver) readDeclarations() ([]declaration, error) {
	file, err := os.Open(r.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open credentials file: %w", err)
	}
	defer file.Close()

	var decls []declaration
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "export ") {
			continue
		}
		kv := strings.TrimSpace(strings.TrimPrefix(line, "export "))
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimSpace(parts[0])
		if !validName.MatchString(name) {
			r.warnf("skipping declaration with invalid name %q", name)
			continue
		}
		decls = append(decls, declaration{name: name, value: unquote(strings.TrimSpace(parts[1]))})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}
	return decls, nil
}

// isAccountSuffixed reports whether a variable name carries an account
// suffix and therefore does not belong to the default set.
//
// The rule is heuristic and known to be ambiguous for exotic names: a
// trailing _token marks a suffix unless that token is a standard
// credential word (Ali_Key is a default variable, Ali_Key_account1 is
// not). The structured YAML format avoids the heuristic entirely.
func isAccountSuffixed(name string) bool {
	if accountSuffixRe.MatchString(name) {
		return true
	}
	i := strings.LastIndex(name, "_")
	if i <= 0 || i == len(name)-1 {
		return false
	}
	return !credentialWords[name[i+1:]]
}

// stripAccountSuffix returns the base name if name targets the given
// account, via either the _account<id> or bare _<id> suffix form.
func stripAccountSuffix(name, account string) (string, bool) {
	for _, suffix := range []string{"_account" + account, "_" + account} {
		base, found := strings.CutSuffix(name, suffix)
		if found && validName.MatchString(base) {
			return base, true
		}
	}
	return "", false
}

// hasShellMeta reports whether a value contains characters that could
// enable injection when the variable reaches a shell-adjacent tool.
func hasShellMeta(v string) bool {
	return strings.ContainsAny(v, "`$();")
}

func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}
