// Package domain parses and validates entries from the certpilot domain list.
package domain

import (
	"fmt"
	"strings"
)

// ParseErrorKind classifies why a domain line was rejected
type ParseErrorKind string

const (
	// MissingProvider means the line has no '|' separator at all
	MissingProvider ParseErrorKind = "missing-provider"
	// InvalidDomain means the domain part failed format validation
	InvalidDomain ParseErrorKind = "invalid-domain"
	// InvalidProvider means the provider part is empty or not dns_-prefixed
	InvalidProvider ParseErrorKind = "invalid-provider"
)

// ParseError describes a rejected domain line
type ParseError struct {
	Kind   ParseErrorKind
	Line   string
	Reason string
}

// Error implements the error interface
func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid domain line %q: %s", e.Line, e.Reason)
}

// Spec is one validated entry from the domain list. It is immutable
// after Parse returns it.
type Spec struct {
	Raw        string // original line as configured
	IsWildcard bool   // true if the domain begins with "*."
	MainDomain string // domain with any wildcard prefix stripped
	Provider   string // DNS provider plugin name (dns_*)
	Account    string // optional credential account suffix
}

// CertName returns the domain string passed to the ACME client,
// i.e. the wildcard form when the entry is a wildcard.
func (s *Spec) CertName() string {
	if s.IsWildcard {
		return "*." + s.MainDomain
	}
	return s.MainDomain
}

// Parse parses a single domain line of the form
// "domain|provider" or "domain|provider|account".
func Parse(line string) (*Spec, error) {
	raw := strings.TrimSpace(line)

	if !strings.Contains(raw, "|") {
		return nil, &ParseError{
			Kind:   MissingProvider,
			Line:   raw,
			Reason: "no DNS provider declared (expected domain|provider)",
		}
	}

	fields := strings.SplitN(raw, "|", 3)
	name := strings.TrimSpace(fields[0])
	provider := strings.TrimSpace(fields[1])
	account := ""
	if len(fields) == 3 {
		account = strings.TrimSpace(fields[2])
	}

	isWildcard := strings.HasPrefix(name, "*.")
	main := strings.TrimPrefix(name, "*.")

	if reason := validateMainDomain(main); reason != "" {
		return nil, &ParseError{Kind: InvalidDomain, Line: raw, Reason: reason}
	}

	if provider == "" {
		return nil, &ParseError{
			Kind:   InvalidProvider,
			Line:   raw,
			Reason: "empty DNS provider",
		}
	}
	if !strings.HasPrefix(provider, "dns_") {
		return nil, &ParseError{
			Kind:   InvalidProvider,
			Line:   raw,
			Reason: fmt.Sprintf("provider %q must start with dns_", provider),
		}
	}

	return &Spec{
		Raw:        raw,
		IsWildcard: isWildcard,
		MainDomain: main,
		Provider:   provider,
		Account:    account,
	}, nil
}

// validateMainDomain checks the de-wildcarded domain and returns a
// human-readable reason when it is malformed, or "" when it is valid.
//
// Underscores are allowed in non-TLD labels; some CAs reject them, but
// that is the CA's call, not ours.
func validateMainDomain(main string) string {
	if main == "" {
		return "empty domain"
	}
	if strings.HasSuffix(main, ".conf") {
		return "domain must not carry a .conf suffix"
	}
	for _, r := range main {
		if !isDomainChar(r) {
			return fmt.Sprintf("illegal character %q in domain", r)
		}
	}
	// A wildcard prefix is the only place '*' is meaningful.
	if strings.Contains(main, "*") {
		return "wildcard is only allowed as a leading *. prefix"
	}
	if strings.HasPrefix(main, ".") || strings.HasSuffix(main, ".") {
		return "domain must not start or end with a dot"
	}
	if strings.Contains(main, "..") {
		return "domain contains consecutive dots"
	}

	labels := strings.Split(main, ".")
	if len(labels) < 2 {
		return "domain needs at least two labels"
	}
	for _, label := range labels {
		if len(label) < 1 || len(label) > 63 {
			return fmt.Sprintf("label %q must be 1-63 characters", label)
		}
		if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return fmt.Sprintf("label %q must not start or end with a hyphen", label)
		}
	}

	tld := labels[len(labels)-1]
	for _, r := range tld {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')) {
			return fmt.Sprintf("top-level domain %q must be alphabetic", tld)
		}
	}

	return ""
}

func isDomainChar(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') ||
		r == '.' || r == '_' || r == '*' || r == '-'
}
