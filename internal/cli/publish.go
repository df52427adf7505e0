package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/splax/sourcemap-publisher/internal/metrics"
	"github.com/splax/sourcemap-publisher/internal/publisher"
	"github.com/splax/sourcemap-publisher/internal/workspace"
	"github.com/splax/sourcemap-publisher/pkg/config"
	"github.com/splax/sourcemap-publisher/pkg/monitor"
	"github.com/splax/sourcemap-publisher/pkg/newrelic"
)

// ErrRunFailed is returned in strict mode when any candidate failed.
var ErrRunFailed = errors.New("sourcemap publishing reported failures")

// runFlags are the per-run overrides shared by publish and watch.
type runFlags struct {
	dir         string
	baseURL     string
	suffix      string
	dryRun      bool
	strict      bool
	force       bool
	stageDir    string
	releaseName string
	releaseID   string
	metricsFile string
}

func (f *runFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVarP(&f.dir, "dir", "d", "", "build output directory (default $SOURCEMAP_BUILD_DIR or dist)")
	fs.StringVar(&f.baseURL, "base-url", "", "public URL base for JavaScript files")
	fs.StringVar(&f.suffix, "suffix", "", "source map file suffix (default .map)")
	fs.BoolVar(&f.dryRun, "dry-run", false, "list what would be published without uploading or deleting")
	fs.BoolVar(&f.strict, "strict", false, "exit non-zero when any sourcemap failed to publish")
	fs.BoolVar(&f.force, "force", false, "run even when NEWRELIC_ENABLED is false")
	fs.StringVar(&f.stageDir, "stage-dir", "", "copy maps into this staging directory before upload")
	fs.StringVar(&f.releaseName, "release-name", "", "release name attached to uploads")
	fs.StringVar(&f.releaseID, "release-id", "", "release id attached to uploads")
	fs.StringVar(&f.metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile")
}

func (f *runFlags) apply(cmd *cobra.Command, cfg *config.PublisherConfig) {
	fs := cmd.Flags()
	if fs.Changed("dir") {
		cfg.BuildDir = f.dir
	}
	if fs.Changed("base-url") {
		cfg.JavaScriptURLBase = f.baseURL
	}
	if fs.Changed("suffix") {
		cfg.MapSuffix = f.suffix
	}
	if fs.Changed("dry-run") {
		cfg.DryRun = f.dryRun
	}
	if fs.Changed("strict") {
		cfg.Strict = f.strict
	}
	if f.force {
		cfg.Enabled = true
	}
	if fs.Changed("stage-dir") {
		cfg.StageDir = f.stageDir
	}
	if fs.Changed("release-name") {
		cfg.ReleaseName = f.releaseName
	}
	if fs.Changed("release-id") {
		cfg.ReleaseID = f.releaseID
	}
	if fs.Changed("metrics-file") {
		cfg.MetricsFile = f.metricsFile
	}
}

// NewPublishCommand creates the publish command, the post-build hook.
func NewPublishCommand(rootOpts *RootOptions) *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish sourcemaps from the build output and delete the accepted ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			flags.apply(cmd, &cfg)
			log := newLogger(cmd.ErrOrStderr(), cfg)

			pub, err := buildPublisher(cfg, log)
			if err != nil {
				// A broken setup must not break the build.
				log.Error("sourcemap publisher setup failed", "error", err)
				if cfg.Strict {
					return err
				}
				return nil
			}
			report := pub.Run(cmd.Context())
			if cfg.Strict && report.Failed() {
				return fmt.Errorf("%w: %d failed, run error: %v", ErrRunFailed, report.Count(publisher.OutcomeFailed), report.Err)
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func buildPublisher(cfg config.PublisherConfig, log *slog.Logger) (*publisher.Publisher, error) {
	apiURL := strings.TrimSpace(cfg.APIBaseURL)
	if apiURL == "" {
		apiURL = newrelic.BaseURLForRegion(cfg.Region)
	}
	client, err := newrelic.New(apiURL, newrelic.WithTimeout(cfg.HTTPTimeout))
	if err != nil {
		return nil, err
	}

	var sink monitor.Sink
	if strings.TrimSpace(cfg.TelemetryURL) != "" {
		emitter, err := monitor.NewEmitter(cfg.TelemetryURL, cfg.TelemetryToken, &http.Client{Timeout: cfg.HTTPTimeout})
		if err != nil {
			return nil, err
		}
		sink = emitter
	}
	reporter := monitor.NewClient(sink, log)
	reporter.SetAttribute("service", serviceName)
	if cfg.ReleaseName != "" {
		reporter.SetAttribute("release_name", cfg.ReleaseName)
	}

	options := []publisher.Option{
		publisher.WithMetrics(metrics.New()),
		publisher.WithReporter(reporter),
	}
	if strings.TrimSpace(cfg.StageDir) != "" {
		ws, err := workspace.New(cfg.StageDir)
		if err != nil {
			return nil, err
		}
		options = append(options, publisher.WithStaging(ws))
	}

	return publisher.New(client, log, publisher.Options{
		Enabled:           cfg.Enabled,
		DryRun:            cfg.DryRun,
		BuildDir:          cfg.BuildDir,
		JavaScriptURLBase: cfg.JavaScriptURLBase,
		Suffix:            cfg.MapSuffix,
		Credentials: newrelic.Credentials{
			ApplicationID: cfg.ApplicationID,
			APIKey:        cfg.APIKey,
		},
		ReleaseName: cfg.ReleaseName,
		ReleaseID:   cfg.ReleaseID,
		MetricsFile: cfg.MetricsFile,
	}, options...), nil
}
