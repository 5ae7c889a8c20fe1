package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/pos-offline/internal/config"
	"github.com/example/pos-offline/internal/store/sqlite"
)

// NewMigrateCommand creates the migrate command, which applies pending schema
// migrations and exits.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending local store migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

			cfg, err := config.Load(rootOpts.ConfigPath)
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}

			pool, err := sqlite.Open(cfg.SQLiteDSN)
			if err != nil {
				return fmt.Errorf("open local store: %w", err)
			}
			defer pool.Close()

			if err := pool.Migrate(cmd.Context(), logger); err != nil {
				return fmt.Errorf("apply migrations: %w", err)
			}

			version, err := pool.SchemaVersion(cmd.Context())
			if err != nil {
				return fmt.Errorf("read schema version: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema up to date at version %s\n", version)
			return nil
		},
	}
}
