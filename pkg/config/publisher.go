package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// PublisherConfig holds runtime configuration for the sourcemap publisher.
type PublisherConfig struct {
	Enabled           bool
	DryRun            bool
	Strict            bool
	ApplicationID     string
	APIKey            string
	Region            string
	APIBaseURL        string
	JavaScriptURLBase string
	BuildDir          string
	MapSuffix         string
	ReleaseName       string
	ReleaseID         string
	StageDir          string
	HTTPTimeout       time.Duration
	MetricsFile       string
	TelemetryURL      string
	TelemetryToken    string
	LogLevel          string
	WatchDebounce     time.Duration
}

// LoadPublisherConfig constructs a PublisherConfig from environment variables.
func LoadPublisherConfig() PublisherConfig {
	return PublisherConfig{
		Enabled:           GetBool("NEWRELIC_ENABLED", false),
		DryRun:            GetBool("SOURCEMAP_DRY_RUN", false),
		Strict:            GetBool("SOURCEMAP_STRICT", false),
		ApplicationID:     strings.TrimSpace(GetString("NEWRELIC_APPLICATION_ID", "")),
		APIKey:            strings.TrimSpace(GetString("NEWRELIC_API_KEY", "")),
		Region:            GetString("NEWRELIC_REGION", "us"),
		APIBaseURL:        GetString("NEWRELIC_SOURCEMAP_URL", ""),
		JavaScriptURLBase: GetString("VITE_PLUGIN_JAVASCRIPTURL_BASE", ""),
		BuildDir:          GetString("SOURCEMAP_BUILD_DIR", "dist"),
		MapSuffix:         GetString("SOURCEMAP_SUFFIX", ".map"),
		ReleaseName:       GetString("SOURCEMAP_RELEASE_NAME", ""),
		ReleaseID:         GetString("SOURCEMAP_RELEASE_ID", ""),
		StageDir:          GetString("SOURCEMAP_STAGE_DIR", ""),
		HTTPTimeout:       GetSeconds("SOURCEMAP_HTTP_TIMEOUT_SECONDS", 30*time.Second),
		MetricsFile:       GetString("SOURCEMAP_METRICS_FILE", ""),
		TelemetryURL:      GetString("SOURCEMAP_TELEMETRY_URL", ""),
		TelemetryToken:    GetString("SOURCEMAP_TELEMETRY_TOKEN", ""),
		LogLevel:          GetString("LOG_LEVEL", "info"),
		WatchDebounce:     time.Duration(GetInt("SOURCEMAP_WATCH_DEBOUNCE_MS", 500)) * time.Millisecond,
	}
}

// fileConfig mirrors PublisherConfig for YAML overlays. Pointer fields
// distinguish "absent" from the zero value.
type fileConfig struct {
	Enabled           *bool   `yaml:"enabled"`
	DryRun            *bool   `yaml:"dry_run"`
	Strict            *bool   `yaml:"strict"`
	ApplicationID     *string `yaml:"application_id"`
	APIKey            *string `yaml:"api_key"`
	Region            *string `yaml:"region"`
	APIBaseURL        *string `yaml:"api_base_url"`
	JavaScriptURLBase *string `yaml:"javascript_url_base"`
	BuildDir          *string `yaml:"build_dir"`
	MapSuffix         *string `yaml:"map_suffix"`
	ReleaseName       *string `yaml:"release_name"`
	ReleaseID         *string `yaml:"release_id"`
	StageDir          *string `yaml:"stage_dir"`
	HTTPTimeoutSecs   *int    `yaml:"http_timeout_seconds"`
	MetricsFile       *string `yaml:"metrics_file"`
	TelemetryURL      *string `yaml:"telemetry_url"`
	TelemetryToken    *string `yaml:"telemetry_token"`
	LogLevel          *string `yaml:"log_level"`
}

// ApplyFile overlays the YAML document at path onto cfg. Keys present in the
// file take precedence over values loaded from the environment.
func ApplyFile(cfg *PublisherConfig, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	setBool(&cfg.Enabled, fc.Enabled)
	setBool(&cfg.DryRun, fc.DryRun)
	setBool(&cfg.Strict, fc.Strict)
	setString(&cfg.ApplicationID, fc.ApplicationID)
	setString(&cfg.APIKey, fc.APIKey)
	setString(&cfg.Region, fc.Region)
	setString(&cfg.APIBaseURL, fc.APIBaseURL)
	setString(&cfg.JavaScriptURLBase, fc.JavaScriptURLBase)
	setString(&cfg.BuildDir, fc.BuildDir)
	setString(&cfg.MapSuffix, fc.MapSuffix)
	setString(&cfg.ReleaseName, fc.ReleaseName)
	setString(&cfg.ReleaseID, fc.ReleaseID)
	setString(&cfg.StageDir, fc.StageDir)
	setString(&cfg.MetricsFile, fc.MetricsFile)
	setString(&cfg.TelemetryURL, fc.TelemetryURL)
	setString(&cfg.TelemetryToken, fc.TelemetryToken)
	setString(&cfg.LogLevel, fc.LogLevel)
	if fc.HTTPTimeoutSecs != nil && *fc.HTTPTimeoutSecs >= 0 {
		cfg.HTTPTimeout = time.Duration(*fc.HTTPTimeoutSecs) * time.Second
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
