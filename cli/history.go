package cli

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"listings-etl/apperr"
	"listings-etl/runstore"
)

func newHistoryCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer a.close()
			ctx := cmd.Context()

			runs, err := runstore.Open(ctx, a.cfg.Paths.StateDB)
			if err != nil {
				return apperr.Retryable(apperr.StageLedger, err)
			}
			defer runs.Close()

			list, err := runs.ListRuns(ctx, limit)
			if err != nil {
				return apperr.Retryable(apperr.StageLedger, err)
			}

			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "No runs recorded.")
				return nil
			}

			t := table.NewWriter()
			t.SetOutputMirror(out)
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Run", "Status", "Started", "Duration", "New", "Done", "Error"})
			for _, r := range list {
				duration := "-"
				if r.CompletedAt != nil {
					duration = r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
				}
				t.AppendRow(table.Row{r.ID, r.Status, r.StartedAt.Format(time.RFC3339), duration, r.FilesNew, r.FilesDone, r.Error})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	return cmd
}
