package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	statusadapter "github.com/bnema/clawstat/internal/adapters/render/status"
	snapshotfile "github.com/bnema/clawstat/internal/adapters/snapshot/file"
	"github.com/bnema/clawstat/internal/domain"
	"github.com/spf13/cobra"
)

func newStatusCmd(app *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the last collected snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := app.snapshotStore()
			if err != nil {
				return err
			}
			snapshot, err := store.Load(cmd.Context())
			if err != nil {
				return err
			}
			return writeSnapshotOutput(cmd, app, snapshot, app.cfg.GetDuration(keyStaleAfter), asJSON)
		},
	}

	cmd.Flags().String("file", snapshotfile.DefaultPath, "Snapshot file to read")
	cmd.Flags().Duration("stale-after", 10*time.Minute, "Mark the snapshot stale after this age")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the snapshot as JSON")

	return cmd
}

func writeSnapshotOutput(cmd *cobra.Command, app *app, snapshot domain.Snapshot, staleAfter time.Duration, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(snapshot)
	}

	rendered, err := app.statusRenderer(snapshot, statusadapter.RenderOptions{
		Now:        app.now(),
		StaleAfter: staleAfter,
	})
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
	return err
}
