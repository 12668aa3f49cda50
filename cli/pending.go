package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"listings-etl/apperr"
	"listings-etl/ledger"
)

func newPendingCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List input files not yet processed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer a.close()

			processed, err := ledger.New(a.cfg.Paths.Ledger).Processed()
			if err != nil {
				return apperr.Retryable(apperr.StageLedger, err)
			}
			files, err := ledger.NewFiles(a.cfg.Paths.InputDir, processed)
			if err != nil {
				return apperr.Retryable(apperr.StageDiscover, err)
			}

			out := cmd.OutOrStdout()
			if len(files) == 0 {
				fmt.Fprintln(out, "No new files to process.")
				return nil
			}
			for _, f := range files {
				fmt.Fprintln(out, f)
			}
			return nil
		},
	}
}
