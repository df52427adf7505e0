// Package cli wires configuration, the vendor client and the publisher into
// the sourcemap-publisher command line.
package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/splax/sourcemap-publisher/pkg/config"
	"github.com/splax/sourcemap-publisher/pkg/logger"
)

// Version is stamped at build time with -ldflags.
var Version = "dev"

const serviceName = "sourcemap-publisher"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigFile string
	EnvFile    string
	LogLevel   string
}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "sourcemap-publisher",
		Short: "Upload build sourcemaps to New Relic and remove them from the build output",
		Long: `sourcemap-publisher runs after a production build has been written to disk.
It uploads every source map in the build output to the New Relic browser
sourcemap API and deletes the local copies the service accepted, so that
maps never ship with the public bundle.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "YAML config file (overrides environment)")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", "", "dotenv file to load (default .env if present)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error)")

	cmd.AddCommand(NewPublishCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// loadConfig resolves configuration in increasing precedence: dotenv file,
// process environment, YAML file.
func loadConfig(opts *RootOptions) (config.PublisherConfig, error) {
	if err := config.LoadEnvFile(opts.EnvFile); err != nil {
		return config.PublisherConfig{}, err
	}
	cfg := config.LoadPublisherConfig()
	if opts.ConfigFile != "" {
		if err := config.ApplyFile(&cfg, opts.ConfigFile); err != nil {
			return config.PublisherConfig{}, err
		}
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	return cfg, nil
}

func newLogger(w io.Writer, cfg config.PublisherConfig) *slog.Logger {
	return logger.NewWithWriter(w, serviceName, logger.ParseLevel(cfg.LogLevel))
}

// NewVersionCommand prints the build version.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", serviceName, Version)
			return err
		},
	}
}
