package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/splax/sourcemap-publisher/internal/watch"
)

// NewWatchCommand creates the watch command for bundlers running in watch mode.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Publish sourcemaps each time the build output changes",
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
				return err
			}
			w := watch.New(cfg.BuildDir, cfg.MapSuffix, cfg.WatchDebounce, log, func(ctx context.Context) {
				pub.Run(ctx)
			})
			return w.Run(cmd.Context())
		},
	}
	flags.register(cmd)
	return cmd
}
