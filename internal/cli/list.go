package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/splax/sourcemap-publisher/pkg/newrelic"
)

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sourcemaps already registered for the application",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "text" && format != "json" {
				return fmt.Errorf("invalid format %q: must be text or json", format)
			}
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			apiURL := strings.TrimSpace(cfg.APIBaseURL)
			if apiURL == "" {
				apiURL = newrelic.BaseURLForRegion(cfg.Region)
			}
			client, err := newrelic.New(apiURL, newrelic.WithTimeout(cfg.HTTPTimeout))
			if err != nil {
				return err
			}
			maps, err := client.List(cmd.Context(), newrelic.Credentials{
				ApplicationID: cfg.ApplicationID,
				APIKey:        cfg.APIKey,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if format == "json" {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(maps)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tJAVASCRIPT URL\tRELEASE")
			for _, sm := range maps {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", sm.ID, sm.JavaScriptURL, sm.ReleaseName)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "output format (text|json)")
	return cmd
}
