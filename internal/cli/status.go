package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// NewStatusCommand creates the status command, which queries a running
// daemon over its loopback API.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show reachability and sync status of a running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := &http.Client{Timeout: 5 * time.Second}
			resp, err := client.Get(addr + "/status")
			if err != nil {
				return fmt.Errorf("daemon unreachable at %s: %w", addr, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("daemon answered %s", resp.Status)
			}

			var status struct {
				Reachable    bool   `json:"reachable"`
				SyncState    string `json:"sync_state"`
				PendingCount int    `json:"pending_count"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
				return fmt.Errorf("decode status response: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "reachable:  %t\n", status.Reachable)
			fmt.Fprintf(cmd.OutOrStdout(), "sync state: %s\n", status.SyncState)
			fmt.Fprintf(cmd.OutOrStdout(), "pending:    %d\n", status.PendingCount)
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "http://127.0.0.1:7345", "daemon base URL")

	return cmd
}
