// Package publisher uploads the source maps of a finished build to the
// monitoring service and removes the ones the service accepted.
//
// A run never fails the build: configuration problems abort the run before the
// output tree is touched, and every candidate is resolved independently.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/splax/sourcemap-publisher/internal/metrics"
	"github.com/splax/sourcemap-publisher/internal/sourcemap"
	"github.com/splax/sourcemap-publisher/internal/workspace"
	"github.com/splax/sourcemap-publisher/pkg/monitor"
	"github.com/splax/sourcemap-publisher/pkg/newrelic"
)

// Uploader is the remote publish operation.
type Uploader interface {
	Publish(ctx context.Context, req newrelic.PublishRequest) (newrelic.Sourcemap, error)
}

// Options configures a Publisher.
type Options struct {
	Enabled           bool
	DryRun            bool
	BuildDir          string
	JavaScriptURLBase string
	Suffix            string
	Credentials       newrelic.Credentials
	ReleaseName       string
	ReleaseID         string
	MetricsFile       string
}

// Publisher runs the publish-and-cleanup pipeline over a build output tree.
type Publisher struct {
	opts     Options
	uploader Uploader
	logger   *slog.Logger
	metrics  *metrics.Recorder
	reporter monitor.Reporter
	staging  *workspace.Manager
	remove   func(string) error
	now      func() time.Time
	newID    func() string
}

// Option customises a Publisher.
type Option func(*Publisher)

// WithMetrics records outcomes on m.
func WithMetrics(m *metrics.Recorder) Option {
	return func(p *Publisher) { p.metrics = m }
}

// WithReporter forwards failures and run traces to r.
func WithReporter(r monitor.Reporter) Option {
	return func(p *Publisher) { p.reporter = r }
}

// WithStaging copies each candidate into a run directory under m before
// uploading it.
func WithStaging(m *workspace.Manager) Option {
	return func(p *Publisher) { p.staging = m }
}

// New creates a Publisher.
func New(uploader Uploader, logger *slog.Logger, opts Options, options ...Option) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Suffix == "" {
		opts.Suffix = sourcemap.DefaultSuffix
	}
	p := &Publisher{
		opts:     opts,
		uploader: uploader,
		logger:   logger,
		remove:   os.Remove,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

// Run executes one publish pass. Once started it runs to completion: the
// caller's cancellation is not propagated to uploads.
func (p *Publisher) Run(ctx context.Context) Report {
	ctx = context.WithoutCancel(ctx)
	report := Report{RunID: p.newID(), Started: p.now(), DryRun: p.opts.DryRun}
	log := p.logger.With("run_id", report.RunID)

	if !p.opts.Enabled {
		log.Info("sourcemap publishing disabled")
		report.Skipped = true
		report.Finished = p.now()
		return report
	}
	if p.reporter != nil {
		p.reporter.SetAttribute("run_id", report.RunID)
	}

	err := monitor.Contain(ctx, p.reporter, "sourcemap-publisher", func(ctx context.Context) error {
		if p.opts.DryRun {
			return p.plan(log, &report)
		}
		return p.publishAll(ctx, log, &report)
	})
	if err != nil {
		report.Err = err
		log.Error("sourcemap publishing aborted", "error", err)
	}
	report.Finished = p.now()

	p.metrics.ObserveRun(report.Candidates, report.Finished)
	if err := p.metrics.WriteTextfile(p.opts.MetricsFile); err != nil {
		log.Warn("metrics export failed", "path", p.opts.MetricsFile, "error", err)
	}
	if p.reporter != nil {
		p.reporter.RecordTrace(ctx, "sourcemap.publish", report.Started, report.Finished, "build", "hook")
	}
	return report
}

func (p *Publisher) root() (string, error) {
	dir := p.opts.BuildDir
	if strings.TrimSpace(dir) == "" {
		dir = "dist"
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("%w: resolve build dir: %w", ErrTraversal, err)
	}
	return abs, nil
}

func (p *Publisher) scanner(log *slog.Logger) sourcemap.Scanner {
	sc := sourcemap.Scanner{Suffix: p.opts.Suffix, Logger: log}
	if p.staging != nil {
		sc.Exclude = []string{p.staging.Root()}
	}
	return sc
}

func (p *Publisher) plan(log *slog.Logger, report *Report) error {
	root, err := p.root()
	if err != nil {
		return err
	}
	records, err := p.scanner(log).Collect(root, p.opts.JavaScriptURLBase)
	if err != nil && !errors.Is(err, sourcemap.ErrRootNotFound) {
		return fmt.Errorf("%w: %w", ErrTraversal, err)
	}
	report.Candidates = len(records)
	report.Planned = records
	for _, rec := range records {
		if verr := rec.Validate(); verr != nil {
			log.Warn("dry run: sourcemap would be rejected", "path", rec.LocalPath, "error", verr)
			continue
		}
		log.Info("dry run: sourcemap would be published", "path", rec.RelativeJSPath, "javascript_url", rec.PublicURL)
	}
	if len(records) == 0 {
		log.Warn("no sourcemap files found in build output; make sure sourcemaps are enabled in the bundler configuration", "dir", root)
	}
	return nil
}

func (p *Publisher) publishAll(ctx context.Context, log *slog.Logger, report *Report) error {
	if err := p.opts.Credentials.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if p.uploader == nil {
		return fmt.Errorf("%w: no uploader configured", ErrConfiguration)
	}
	root, err := p.root()
	if err != nil {
		return err
	}

	releaseID := strings.TrimSpace(p.opts.ReleaseID)
	if releaseID == "" && strings.TrimSpace(p.opts.ReleaseName) != "" {
		releaseID = p.newID()
	}

	var stageDir string
	if p.staging != nil {
		stageDir, err = p.staging.Prepare(report.RunID)
		if err != nil {
			return fmt.Errorf("%w: prepare staging: %w", ErrTraversal, err)
		}
		defer func() {
			if err := p.staging.Cleanup(stageDir); err != nil {
				log.Warn("staging cleanup failed", "dir", stageDir, "error", err)
			}
			if err := p.staging.Close(); err != nil {
				log.Warn("staging root cleanup failed", "dir", p.staging.Root(), "error", err)
			}
		}()
	}

	c := candidate{root: root, stageDir: stageDir, releaseID: releaseID}
	n, err := p.scanner(log).Scan(root, func(path string) error {
		report.Results = append(report.Results, p.processContained(ctx, log, c, path))
		return nil
	})
	report.Candidates = n
	if errors.Is(err, sourcemap.ErrRootNotFound) {
		report.Warnings = append(report.Warnings, fmt.Errorf("%w: %w", ErrTraversal, err))
		log.Warn("build output directory not found", "dir", root)
	} else if err != nil {
		return fmt.Errorf("%w: %w", ErrTraversal, err)
	}

	for _, res := range report.Results {
		if res.Outcome.Succeeded() && res.Err != nil {
			report.Warnings = append(report.Warnings, res.Err)
		}
	}
	if n == 0 {
		log.Warn("no sourcemap files found in build output; make sure sourcemaps are enabled in the bundler configuration", "dir", root)
		return nil
	}
	log.Info("sourcemap publishing completed",
		"candidates", n,
		"published", report.Count(OutcomePublished),
		"already_published", report.Count(OutcomeAlreadyPublished),
		"failed", report.Count(OutcomeFailed),
	)
	return nil
}

type candidate struct {
	root      string
	stageDir  string
	releaseID string
}

// processContained runs process and turns a panic into a Failed result so the
// remaining candidates are still processed.
func (p *Publisher) processContained(ctx context.Context, log *slog.Logger, c candidate, path string) Result {
	var res Result
	err := monitor.Contain(ctx, p.reporter, "sourcemap-upload", func(ctx context.Context) error {
		res = p.process(ctx, log, c, path)
		return nil
	})
	if err == nil {
		return res
	}
	rec, _ := sourcemap.Derive(c.root, path, p.opts.Suffix, p.opts.JavaScriptURLBase)
	log.Error("failed to publish sourcemap", "path", rec.RelativeJSPath, "javascript_url", rec.PublicURL, "error", err)
	p.metrics.ObserveOutcome(string(OutcomeFailed), 0)
	return Result{Record: rec, Outcome: OutcomeFailed, Err: fmt.Errorf("%w: %w", ErrUpload, err)}
}

// process takes one map file from Discovered to a terminal outcome and
// removes it when the service accepted it.
func (p *Publisher) process(ctx context.Context, log *slog.Logger, c candidate, path string) Result {
	rec, err := sourcemap.Derive(c.root, path, p.opts.Suffix, p.opts.JavaScriptURLBase)
	if err == nil {
		err = rec.Validate()
	}
	if err != nil {
		res := Result{Record: rec, Outcome: OutcomeFailed, Err: fmt.Errorf("%w: %w", ErrValidation, err)}
		log.Error("invalid sourcemap candidate", "path", path, "relative_path", rec.RelativeJSPath, "javascript_url", rec.PublicURL, "error", err)
		p.metrics.ObserveOutcome(string(OutcomeFailed), 0)
		return res
	}

	uploadPath := rec.LocalPath
	if c.stageDir != "" {
		staged, err := p.staging.Stage(c.stageDir, rec.LocalPath, rec.RelativeJSPath+p.opts.Suffix)
		if err != nil {
			res := Result{Record: rec, Outcome: OutcomeFailed, Err: fmt.Errorf("%w: %w", ErrUpload, err)}
			log.Error("failed to stage sourcemap", "path", rec.RelativeJSPath, "error", err)
			p.metrics.ObserveOutcome(string(OutcomeFailed), 0)
			return res
		}
		uploadPath = staged
	}

	started := p.now()
	sm, err := p.uploader.Publish(ctx, newrelic.PublishRequest{
		Credentials:   p.opts.Credentials,
		SourcemapPath: uploadPath,
		JavaScriptURL: rec.PublicURL,
		ReleaseName:   p.opts.ReleaseName,
		ReleaseID:     c.releaseID,
	})
	took := p.now().Sub(started)

	res := Result{Record: rec}
	switch {
	case err == nil:
		res.Outcome = OutcomePublished
	case errors.Is(err, newrelic.ErrAlreadyPublished):
		res.Outcome = OutcomeAlreadyPublished
	default:
		res.Outcome = OutcomeFailed
		res.Err = fmt.Errorf("%w: %w", ErrUpload, err)
	}
	p.metrics.ObserveOutcome(string(res.Outcome), took)

	if res.Outcome == OutcomeFailed {
		args := append([]any{"path", rec.RelativeJSPath, "javascript_url", rec.PublicURL}, errorDetail(err)...)
		log.Error("failed to publish sourcemap", args...)
		if p.reporter != nil {
			p.reporter.ReportError(ctx, res.Err, map[string]any{"path": rec.RelativeJSPath, "javascript_url": rec.PublicURL})
		}
		return res
	}

	msg := "sourcemap published"
	if res.Outcome == OutcomeAlreadyPublished {
		msg = "sourcemap already published"
	}
	if err := p.remove(rec.LocalPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		res.Err = fmt.Errorf("%w: %s: %w", ErrCleanup, rec.LocalPath, err)
		log.Warn(msg+"; local file not removed", "path", rec.RelativeJSPath, "javascript_url", rec.PublicURL, "error", err)
		return res
	}
	res.Deleted = true
	log.Info(msg, "path", rec.RelativeJSPath, "javascript_url", rec.PublicURL, "sourcemap_id", sm.ID, "duration", took)
	return res
}

func errorDetail(err error) []any {
	var apiErr newrelic.APIError
	if errors.As(err, &apiErr) {
		return []any{"status", apiErr.Status, "code", apiErr.Code, "error", apiErr.Message}
	}
	return []any{"error", err}
}
