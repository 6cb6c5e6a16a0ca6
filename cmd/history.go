package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/bnema/clawstat/internal/domain"
	"github.com/spf13/cobra"
)

const defaultHistoryRows = 20

func newHistoryCmd(app *app) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent collect runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if app.cfg.GetString(keyHistoryDB) == "" {
				return fmt.Errorf("%w: run history is disabled (set --history-db or history.db)", domain.ErrConfiguration)
			}
			history, err := app.openHistory(cmd.Context())
			if err != nil {
				return err
			}
			defer func() {
				_ = history.Close()
			}()

			runs, err := history.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(runs)
			}
			return writeRunTable(cmd, runs)
		},
	}

	cmd.Flags().String("history-db", "", "SQLite database recording collect runs")
	cmd.Flags().IntVar(&limit, "limit", defaultHistoryRows, "Number of runs to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print runs as JSON")

	return cmd
}

func writeRunTable(cmd *cobra.Command, runs []domain.RunRecord) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tDURATION\tOUTCOME\tAGENTS\tTASKS\tMISSING\tUPLOADED\tCOOLDOWN")
	for _, run := range runs {
		outcome := string(run.Outcome)
		if run.Error != "" {
			outcome += ": " + run.Error
		}
		cooldown := strings.Join(run.CooldownProviders, ",")
		if cooldown == "" {
			cooldown = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%t\t%s\n",
			run.StartedAt.Local().Format(time.DateTime),
			run.Duration().Round(time.Millisecond),
			outcome,
			run.AgentCount,
			run.TaskCount,
			run.MissingCalls,
			run.Uploaded,
			cooldown,
		)
	}
	return tw.Flush()
}
