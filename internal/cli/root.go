// Package cli defines the possync command tree.
package cli

import (
	"github.com/spf13/cobra"
)

// RootOptions holds flags shared by every subcommand.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
}

// NewRootCommand creates the possync root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "possync",
		Short:         "Offline resilience daemon for point-of-sale terminals",
		Long:          "possync keeps a POS terminal operational across network outages: it queues transactions locally, replays them when the backend is reachable, and authenticates operators against cached credentials while offline.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))

	return cmd
}
