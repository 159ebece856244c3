// Package orchestrator drives the per-domain certificate pipeline:
// prevalidate, issue, install, rewrite matched configuration, reload.
// Processing is strictly sequential by design; certificate authorities
// rate-limit aggressively and concurrent runs would also race on the
// backup directory.
package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/certpilot/certpilot-cli/pkg/audit"
	"github.com/certpilot/certpilot-cli/pkg/config"
	"github.com/certpilot/certpilot-cli/pkg/credentials"
	"github.com/certpilot/certpilot-cli/pkg/domain"
	"github.com/certpilot/certpilot-cli/pkg/formatter"
	"github.com/certpilot/certpilot-cli/pkg/nginx"
	"github.com/certpilot/certpilot-cli/pkg/prompt"
	"github.com/certpilot/certpilot-cli/pkg/resilience"
	"github.com/certpilot/certpilot-cli/pkg/telemetry"
)

// Issuer is the external ACME client collaborator
type Issuer interface {
	Issue(ctx context.Context, spec *domain.Spec, creds *credentials.Set, dnsSleep int) error
	Install(ctx context.Context, mainDomain, keyDest, certDest string) error
}

// CredentialSource resolves provider credentials per domain
type CredentialSource interface {
	Resolve(provider, account string) (*credentials.Set, error)
}

// ConfigRewriter mutates matched configuration files
type ConfigRewriter interface {
	Rewrite(confFile, certPath, keyPath string) (*nginx.RewriteResult, error)
	Cleanup()
}

// WebServer is the reload collaborator
type WebServer interface {
	Name() string
	TestConfig(ctx context.Context) error
	Reload(ctx context.Context) error
}

// PrevalidationError aborts the run before any issuance: a single
// malformed domain line means no side effects at all.
type PrevalidationError struct {
	Entries []config.Entry
}

// Error implements the error interface
func (e *PrevalidationError) Error() string {
	return fmt.Sprintf("%d malformed domain line(s); aborting before issuance", len(e.Entries))
}

// SuccessRecord is one domain whose issuance and install both
// succeeded; it drives the configuration-update phase.
type SuccessRecord struct {
	Domain     string
	MainDomain string
}

// SkipRecord is one domain dropped from the batch with its reason
type SkipRecord struct {
	Domain string
	Stage  string
	Reason string
}

// Summary is the bookkeeping for one run. Per-domain failures live
// here; only top-level fatal conditions surface as errors from Run.
type Summary struct {
	Succeeded     []SuccessRecord
	Skipped       []SkipRecord
	Rewritten     []*nginx.RewriteResult
	RewriteErrors []error
	Reloaded      bool
	Warnings      []string
}

// Options configures an Orchestrator
type Options struct {
	Config        *config.Config
	Issuer        Issuer
	Credentials   CredentialSource
	Rewriter      ConfigRewriter
	Server        WebServer // nil when no web server was detected
	Output        *formatter.Output
	Audit         audit.Logger
	CertDir       string
	PromptTimeout time.Duration
	AutoConfirm   bool
}

// Orchestrator ties the pipeline components together
type Orchestrator struct {
	opts Options
	out  *formatter.Output
	log  audit.Logger
}

// New creates an orchestrator, filling in inert defaults for optional
// collaborators.
func New(opts Options) *Orchestrator {
	if opts.Output == nil {
		opts.Output = formatter.New(false, false)
	}
	if opts.Audit == nil {
		opts.Audit = audit.NewNoOpLogger()
	}
	if opts.Rewriter == nil {
		confDir := ""
		if opts.Config != nil {
			confDir = opts.Config.Options.ConfDir
		}
		opts.Rewriter = nginx.NewRewriter(confDir)
	}
	if opts.CertDir == "" {
		opts.CertDir = config.DefaultCertDir
	}
	if opts.PromptTimeout <= 0 {
		opts.PromptTimeout = prompt.DefaultTimeout
	}
	return &Orchestrator{opts: opts, out: opts.Output, log: opts.Audit}
}

// CertPaths returns the stable certificate store layout for a domain
func (o *Orchestrator) CertPaths(mainDomain string) (certPath, keyPath string) {
	return filepath.Join(o.opts.CertDir, mainDomain+".pem"),
		filepath.Join(o.opts.CertDir, mainDomain+".key")
}

// Run executes the full pipeline. The returned error is a top-level
// fatal condition (prevalidation or credential failure); everything
// else is recorded in the summary.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	defer o.opts.Rewriter.Cleanup()

	o.audit(&audit.Activity{Type: audit.ActivityRunStarted})

	if bad := o.opts.Config.Prevalidate(); len(bad) > 0 {
		for _, entry := range bad {
			o.out.Error("line %d: %v", entry.LineNumber, entry.Err)
		}
		o.audit(&audit.Activity{
			Type:  audit.ActivityRunAborted,
			Error: fmt.Sprintf("%d malformed domain line(s)", len(bad)),
		})
		return nil, &PrevalidationError{Entries: bad}
	}

	summary := &Summary{}
	specs := o.opts.Config.Domains()

	for i, spec := range specs {
		o.out.Progress(i+1, len(specs), "processing %s", spec.CertName())

		record, err := o.processDomain(ctx, spec, summary)
		if err != nil {
			// Broken credentials or a cancelled context would fail
			// every remaining domain; stop instead of chewing through
			// the rest of the batch.
			o.audit(&audit.Activity{
				Type:   audit.ActivityRunAborted,
				Domain: spec.CertName(),
				Error:  err.Error(),
			})
			return summary, err
		}
		if record != nil {
			summary.Succeeded = append(summary.Succeeded, *record)
		}
	}

	o.Deploy(ctx, summary.Succeeded, summary)

	o.audit(&audit.Activity{
		Type: audit.ActivityRunCompleted,
		Metadata: map[string]interface{}{
			"succeeded": len(summary.Succeeded),
			"skipped":   len(summary.Skipped),
			"rewritten": len(summary.Rewritten),
			"reloaded":  summary.Reloaded,
		},
	})
	return summary, nil
}

// processDomain runs issuance and install for one domain. A nil
// record with nil error means the domain was skipped.
func (o *Orchestrator) processDomain(ctx context.Context, spec *domain.Spec, summary *Summary) (*SuccessRecord, error) {
	creds, err := o.opts.Credentials.Resolve(spec.Provider, spec.Account)
	if err != nil {
		return nil, err
	}

	issueCtx, span := telemetry.TraceIssue(ctx, spec.CertName(), spec.Provider)
	start := time.Now()
	err = o.opts.Issuer.Issue(issueCtx, spec, creds, o.opts.Config.Options.DNSSleep)
	if err != nil {
		telemetry.RecordError(issueCtx, err)
	}
	span.End()

	if err != nil {
		// A cancelled context would fail every remaining domain the
		// same way; abort instead of recording a skip per domain.
		if resilience.IsContextErr(err) {
			return nil, err
		}
		o.skip(summary, spec.CertName(), "issue", err)
		return nil, nil
	}
	o.audit(&audit.Activity{
		Type:     audit.ActivityCertIssued,
		Domain:   spec.CertName(),
		Duration: time.Since(start),
	})

	certPath, keyPath := o.CertPaths(spec.MainDomain)
	installCtx, span := telemetry.TraceInstall(ctx, spec.MainDomain)
	err = o.opts.Issuer.Install(installCtx, spec.MainDomain, keyPath, certPath)
	if err != nil {
		telemetry.RecordError(installCtx, err)
	}
	span.End()

	if err != nil {
		if resilience.IsContextErr(err) {
			return nil, err
		}
		o.skip(summary, spec.CertName(), "install", err)
		return nil, nil
	}
	o.audit(&audit.Activity{Type: audit.ActivityCertInstalled, Domain: spec.CertName()})

	o.out.Success("%s issued and installed", spec.CertName())
	return &SuccessRecord{Domain: spec.CertName(), MainDomain: spec.MainDomain}, nil
}

// Deploy rewrites the matched configuration files for already-issued
// certificates and reloads the web server when anything changed.
func (o *Orchestrator) Deploy(ctx context.Context, records []SuccessRecord, summary *Summary) {
	for _, record := range records {
		o.deployDomain(ctx, record, summary)
	}

	if len(summary.Rewritten) == 0 {
		o.out.Verbose("no configuration files changed, skipping reload")
		return
	}
	o.reload(ctx, summary)
}

func (o *Orchestrator) deployDomain(ctx context.Context, record SuccessRecord, summary *Summary) {
	matches, err := nginx.MatchConfigs(o.opts.Config.Options.ConfDir, record.MainDomain)
	if err != nil {
		// Informational: a domain without vhost files has nothing to
		// deploy to.
		o.out.Info("%v", err)
		summary.Warnings = append(summary.Warnings, err.Error())
		return
	}
	if len(matches) == 0 {
		o.out.Info("no configuration files match %s", record.MainDomain)
		return
	}

	if !o.opts.AutoConfirm {
		question := fmt.Sprintf("Update %d configuration file(s) for %s?", len(matches), record.Domain)
		if !prompt.Confirm(question, true, o.opts.PromptTimeout) {
			o.out.Warning("skipping configuration update for %s", record.Domain)
			return
		}
	}

	certPath, keyPath := o.CertPaths(record.MainDomain)
	for _, file := range matches {
		rewriteCtx, span := telemetry.TraceRewrite(ctx, file)
		res, err := o.opts.Rewriter.Rewrite(file, certPath, keyPath)
		if err != nil {
			telemetry.RecordError(rewriteCtx, err)
			span.End()
			o.out.Error("%v", err)
			summary.RewriteErrors = append(summary.RewriteErrors, err)
			continue
		}
		span.End()

		if res.Modified {
			o.out.Success("updated %s", file)
			summary.Rewritten = append(summary.Rewritten, res)
			o.audit(&audit.Activity{
				Type:   audit.ActivityConfigRewritten,
				Domain: record.Domain,
				File:   file,
			})
		} else {
			o.out.Verbose("%s already current", file)
		}
	}
}

// reload tests then reloads the web server. A failure here is a
// warning only: the rewritten configuration already passed whatever
// checks we could run and stays on disk for manual inspection.
func (o *Orchestrator) reload(ctx context.Context, summary *Summary) {
	if o.opts.Server == nil {
		summary.Warnings = append(summary.Warnings, "no web server detected; reload skipped")
		o.out.Warning("no web server detected; reload skipped")
		return
	}

	reloadCtx, span := telemetry.TraceReload(ctx, o.opts.Server.Name())
	defer span.End()

	if err := o.opts.Server.TestConfig(reloadCtx); err != nil {
		telemetry.RecordError(reloadCtx, err)
		msg := fmt.Sprintf("config test failed, reload not attempted: %v", err)
		summary.Warnings = append(summary.Warnings, msg)
		o.out.Warning("%s", msg)
		o.audit(&audit.Activity{Type: audit.ActivityReloadFailed, Error: err.Error()})
		return
	}

	if err := o.opts.Server.Reload(reloadCtx); err != nil {
		telemetry.RecordError(reloadCtx, err)
		msg := fmt.Sprintf("reload failed, new configuration left in place: %v", err)
		summary.Warnings = append(summary.Warnings, msg)
		o.out.Warning("%s", msg)
		o.audit(&audit.Activity{Type: audit.ActivityReloadFailed, Error: err.Error()})
		return
	}

	summary.Reloaded = true
	o.out.Success("%s reloaded", o.opts.Server.Name())
	o.audit(&audit.Activity{Type: audit.ActivityServerReloaded})
}

func (o *Orchestrator) skip(summary *Summary, domainName, stage string, err error) {
	o.out.Error("skipping %s: %v", domainName, err)
	summary.Skipped = append(summary.Skipped, SkipRecord{
		Domain: domainName,
		Stage:  stage,
		Reason: err.Error(),
	})
	o.audit(&audit.Activity{
		Type:   audit.ActivityDomainSkipped,
		Domain: domainName,
		Error:  err.Error(),
		Metadata: map[string]interface{}{
			"stage": stage,
		},
	})
}

func (o *Orchestrator) audit(activity *audit.Activity) {
	if err := o.log.Log(activity); err != nil {
		o.out.Verbose("audit log write failed: %v", err)
	}
}
