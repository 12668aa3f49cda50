package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"listings-etl/apperr"
	"listings-etl/metrics"
	"listings-etl/pipeline"
	"listings-etl/runstore"
	"listings-etl/storage"
	"listings-etl/warehouse"
)

const lockName = "listings-etl.lock"

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Process every new input file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer a.close()
			return a.run(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func (a *app) run(ctx context.Context, out io.Writer) error {
	cfg := a.cfg
	logger := a.logger

	lock, err := acquireLock(filepath.Join(filepath.Dir(cfg.Paths.StateDB), lockName))
	if err != nil {
		return apperr.Retryable(apperr.StageDiscover, err)
	}
	defer func() {
		if rerr := lock.release(); rerr != nil {
			logger.Warn("releasing run lock", "error", rerr)
		}
	}()

	runs, err := runstore.Open(ctx, cfg.Paths.StateDB)
	if err != nil {
		return apperr.Retryable(apperr.StageLedger, err)
	}
	defer runs.Close()

	opts := pipeline.Options{
		Config:  cfg,
		Logger:  logger,
		Runs:    runs,
		Metrics: metrics.New(),
	}

	store, err := storage.FromConfig(ctx, cfg.Publish)
	if err != nil {
		return apperr.Permanent(apperr.StagePublish, err)
	}
	if store != nil {
		opts.Publisher = storage.NewPublisher(store, logger.With("component", "publish"))
	}

	if cfg.Warehouse.Enabled {
		sink, err := warehouse.Connect(ctx, cfg.Warehouse, cfg.Quality.CriticalColumns, logger.With("component", "warehouse"))
		if err != nil {
			return apperr.Retryable(apperr.StageWarehouse, err)
		}
		defer sink.Close(context.WithoutCancel(ctx))
		opts.Warehouse = sink
	}

	p, err := pipeline.New(opts)
	if err != nil {
		return apperr.Retryable(apperr.StageReport, err)
	}
	defer p.Close()

	res, runErr := p.Run(ctx)
	if res != nil {
		printRun(out, res)
	}
	return runErr
}

func printRun(out io.Writer, res *pipeline.RunResult) {
	if res.Skipped() {
		fmt.Fprintln(out, "No new files to process.")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"File", "Rows in", "Rows out", "Quality", "Canonical", "Status"})
	for _, f := range res.Files {
		quality := "passed"
		if !f.Quality.Passed() {
			quality = fmt.Sprintf("%d failed", len(f.Quality.Failures()))
		}
		canonical, status := "-", "processed"
		if f.Merge != nil {
			canonical = fmt.Sprint(f.Merge.Total)
		}
		if f.Err != nil {
			status = string(apperr.KindOf(f.Err))
			quality = "-"
		}
		t.AppendRow(table.Row{f.Name, f.Stats.Input, f.Stats.Output, quality, canonical, status})
	}
	t.Render()

	if n := len(res.Pending) - len(res.Files); n > 0 {
		fmt.Fprintf(out, "%d file(s) left for the next run.\n", n)
	}
}
