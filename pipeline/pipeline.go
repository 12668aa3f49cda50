// Package pipeline runs new input files through the listings batch job:
// read, transform, quality check, report, partition, merge, and optionally
// publish and load into the warehouse. A file is recorded in the ledger only
// after every fatal stage for it succeeded.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"listings-etl/apperr"
	"listings-etl/config"
	"listings-etl/ledger"
	"listings-etl/logging"
	"listings-etl/metrics"
	"listings-etl/partition"
	"listings-etl/quality"
	"listings-etl/report"
	"listings-etl/runstore"
	"listings-etl/schema"
	"listings-etl/storage"
	"listings-etl/table"
	"listings-etl/transform"
)

// Warehouse is the optional downstream database sink.
type Warehouse interface {
	EnsureTable(ctx context.Context) error
	Load(ctx context.Context, listings []schema.Listing) (int64, error)
	Verify(ctx context.Context, expected int) (quality.Report, error)
}

type Options struct {
	Config    *config.Config
	Logger    *slog.Logger
	Runs      *runstore.Store    // optional run history
	Metrics   *metrics.Metrics   // created when nil
	Publisher *storage.Publisher // optional mirror
	Warehouse Warehouse          // optional
}

type Pipeline struct {
	cfg         *config.Config
	logger      *slog.Logger
	ledger      *ledger.Ledger
	transformer *transform.Transformer
	checker     *quality.Checker
	reporter    *report.Reporter
	partitioner *partition.Partitioner
	table       *table.Table
	runs        *runstore.Store
	metrics     *metrics.Metrics
	publisher   *storage.Publisher
	warehouse   Warehouse
}

// FileResult is the outcome of one input file.
type FileResult struct {
	Name        string
	Fingerprint string
	Stats       transform.Stats
	Quality     quality.Report
	Reports     []report.Result
	Partitions  []partition.Partition
	Merge       *table.MergeResult
	Published   int
	Err         error
}

// RunResult is the outcome of one invocation.
type RunResult struct {
	RunID   string
	Pending []string
	Files   []FileResult
}

// Skipped reports whether there was nothing to do.
func (r *RunResult) Skipped() bool {
	return len(r.Pending) == 0
}

func New(opts Options) (*Pipeline, error) {
	if opts.Config == nil {
		return nil, errors.New("pipeline: config is required")
	}
	cfg := opts.Config
	logger := logging.OrDiscard(opts.Logger)

	reporter, err := report.New(cfg.Paths.WorkDir, logger.With("component", "report"))
	if err != nil {
		return nil, fmt.Errorf("creating reporter: %w", err)
	}

	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}

	return &Pipeline{
		cfg:         cfg,
		logger:      logger,
		ledger:      ledger.New(cfg.Paths.Ledger),
		transformer: transform.New(logger.With("component", "transform")),
		checker:     quality.New(logger.With("component", "quality"), cfg.Quality.CriticalColumns),
		reporter:    reporter,
		partitioner: partition.New(cfg.Paths.Partitioned, logger.With("component", "partition")),
		table:       table.New(cfg.Paths.Merged, cfg.Table.RetainSnapshots, logger.With("component", "table")),
		runs:        opts.Runs,
		metrics:     m,
		publisher:   opts.Publisher,
		warehouse:   opts.Warehouse,
	}, nil
}

func (p *Pipeline) Close() error {
	return p.reporter.Close()
}

// Pending lists input files not yet in the ledger, in processing order.
func (p *Pipeline) Pending() ([]string, error) {
	processed, err := p.ledger.Processed()
	if err != nil {
		return nil, apperr.Retryable(apperr.StageLedger, err)
	}
	files, err := ledger.NewFiles(p.cfg.Paths.InputDir, processed)
	if err != nil {
		return nil, apperr.Retryable(apperr.StageDiscover, err)
	}
	return files, nil
}

// Run processes every pending file in order. The first fatal failure stops
// the run; files before it stay recorded, the failed file and the rest are
// picked up by the next run.
func (p *Pipeline) Run(ctx context.Context) (*RunResult, error) {
	res := &RunResult{}
	if p.runs != nil {
		run, err := p.runs.CreateRun(ctx)
		if err != nil {
			return nil, apperr.Retryable(apperr.StageLedger, err)
		}
		res.RunID = run.ID
	}

	err := p.run(ctx, res)
	p.finish(ctx, res, err)
	return res, err
}

func (p *Pipeline) run(ctx context.Context, res *RunResult) error {
	start := time.Now()
	pending, err := p.Pending()
	p.metrics.ObserveStep(apperr.StageDiscover, start, err)
	if err != nil {
		p.logger.Error("discovering input files", "error", err)
		return err
	}
	res.Pending = pending

	if len(pending) == 0 {
		p.logger.Info("No new files to process. Skipping.", "input_dir", p.cfg.Paths.InputDir)
		return nil
	}
	p.logger.Info("found new files", "count", len(pending), "files", pending)

	for _, name := range pending {
		if err := ctx.Err(); err != nil {
			return apperr.Retryable(apperr.StageDiscover, err)
		}

		fr := p.processFile(ctx, name)
		res.Files = append(res.Files, fr)
		p.record(ctx, res.RunID, fr)

		if fr.Err != nil {
			p.metrics.File(string(runstore.FileStatusFailed))
			p.logger.Error("file failed; stopping run",
				"file", name,
				"kind", apperr.KindOf(fr.Err),
				"error", fr.Err,
			)
			return fr.Err
		}
		p.metrics.File(string(runstore.FileStatusProcessed))
		p.logger.Info("file processed",
			"file", name,
			"rows_in", fr.Stats.Input,
			"rows_out", fr.Stats.Output,
			"canonical_total", fr.Merge.Total,
		)
	}
	return nil
}

func (p *Pipeline) processFile(ctx context.Context, name string) (fr FileResult) {
	fr.Name = name
	path := filepath.Join(p.cfg.Paths.InputDir, name)
	logger := p.logger.With("file", name)

	fail := func(stage string, err error) FileResult {
		fr.Err = apperr.Classify(stage, err).WithFile(name)
		return fr
	}

	var listings []schema.Listing
	err := p.step(apperr.StageRead, func() error {
		var err error
		if fr.Fingerprint, err = ledger.Fingerprint(path); err != nil {
			return err
		}
		listings, err = schema.ReadFile(path)
		return err
	})
	if err != nil {
		return fail(apperr.StageRead, err)
	}
	logger.Info("read input file", "records", len(listings), "fingerprint", fr.Fingerprint)
	p.metrics.AddRecords("read", len(listings))
	p.warnDuplicateContent(ctx, logger, fr.Fingerprint)

	start := time.Now()
	out := p.transformer.Transform(listings)
	p.metrics.ObserveStep(apperr.StageTransform, start, nil)
	fr.Stats = out.Stats
	p.metrics.AddRecords("dropped_price", out.Stats.DroppedPrice)
	p.metrics.AddRecords("dropped_geo", out.Stats.DroppedGeo)
	p.metrics.AddRecords("output", out.Stats.Output)

	expected := out.Stats.Expected()
	if p.cfg.Quality.ExpectedRows > 0 {
		expected = p.cfg.Quality.ExpectedRows
	}
	fr.Quality = p.checker.Check(out.Listings, expected)
	for _, c := range fr.Quality.Failures() {
		p.metrics.QualityFailure(c.Name)
	}

	err = p.step(apperr.StageReport, func() error {
		var err error
		fr.Reports, err = p.reporter.Run(ctx, out.Listings)
		return err
	})
	if err != nil {
		return fail(apperr.StageReport, err)
	}

	err = p.step(apperr.StagePartition, func() error {
		parts, err := p.partitioner.Write(ctx, out.Listings)
		if err != nil {
			return err
		}
		fr.Partitions = parts.Partitions
		return nil
	})
	if err != nil {
		return fail(apperr.StagePartition, err)
	}

	// merged in input order so the later of two rows with one id wins
	err = p.step(apperr.StageMerge, func() error {
		var err error
		fr.Merge, err = p.table.Merge(ctx, out.Listings)
		return err
	})
	if err != nil {
		return fail(apperr.StageMerge, err)
	}
	p.metrics.AddRecords("merged", fr.Merge.Incoming)

	if p.publisher != nil {
		err = p.step(apperr.StagePublish, func() error {
			var err error
			fr.Published, err = p.publish(ctx)
			return err
		})
		if err != nil {
			return fail(apperr.StagePublish, err)
		}
	}

	if p.warehouse != nil {
		err = p.step(apperr.StageWarehouse, func() error {
			return p.loadWarehouse(ctx, logger, out.Listings, fr.Merge.Total)
		})
		if err != nil {
			return fail(apperr.StageWarehouse, err)
		}
	}

	err = p.step(apperr.StageLedger, func() error {
		return p.ledger.Append(name)
	})
	if err != nil {
		return fail(apperr.StageLedger, err)
	}
	return fr
}

func (p *Pipeline) step(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	p.metrics.ObserveStep(name, start, err)
	return err
}

func (p *Pipeline) publish(ctx context.Context) (int, error) {
	tableFiles, err := p.table.Files()
	if err != nil {
		return 0, err
	}
	partFiles, err := p.partitioner.Files()
	if err != nil {
		return 0, err
	}
	return p.publisher.Publish(ctx,
		storage.FileSet{Prefix: "merged", Root: p.table.Location(), Files: tableFiles},
		storage.FileSet{Prefix: "partitioned", Root: p.cfg.Paths.Partitioned, Files: partFiles},
	)
}

// loadWarehouse upserts the batch. The post-load checks only log.
func (p *Pipeline) loadWarehouse(ctx context.Context, logger *slog.Logger, batch []schema.Listing, canonical int) error {
	if err := p.warehouse.EnsureTable(ctx); err != nil {
		return err
	}
	if _, err := p.warehouse.Load(ctx, batch); err != nil {
		return err
	}
	rep, err := p.warehouse.Verify(ctx, canonical)
	if err != nil {
		logger.Error("warehouse checks failed to run", "error", err)
		return nil
	}
	for _, c := range rep.Failures() {
		p.metrics.QualityFailure(c.Name)
	}
	return nil
}

func (p *Pipeline) warnDuplicateContent(ctx context.Context, logger *slog.Logger, fingerprint string) {
	if p.runs == nil || fingerprint == "" {
		return
	}
	names, err := p.runs.FindFingerprint(ctx, fingerprint)
	if err != nil {
		logger.Warn("looking up fingerprint", "error", err)
		return
	}
	if len(names) > 0 {
		logger.Warn("identical content was processed before", "previous_files", names)
	}
}

func (p *Pipeline) record(ctx context.Context, runID string, fr FileResult) {
	if p.runs == nil {
		return
	}
	rec := runstore.FileRun{
		RunID:         runID,
		FileName:      fr.Name,
		Fingerprint:   fr.Fingerprint,
		Status:        runstore.FileStatusProcessed,
		RowsIn:        fr.Stats.Input,
		RowsOut:       fr.Stats.Output,
		QualityPassed: fr.Quality.Passed(),
	}
	if fr.Merge != nil {
		rec.CanonicalTotal = fr.Merge.Total
		if fr.Merge.Snapshot != nil {
			rec.SnapshotID = fr.Merge.Snapshot.SnapshotID
		}
	}
	if fr.Err != nil {
		rec.Status = runstore.FileStatusFailed
		rec.Error = fr.Err.Error()
	}
	if err := p.runs.RecordFile(context.WithoutCancel(ctx), rec); err != nil {
		p.logger.Warn("recording file outcome", "file", fr.Name, "error", err)
	}
}

// finish closes the run history entry and pushes metrics. Neither can fail
// the run.
func (p *Pipeline) finish(ctx context.Context, res *RunResult, runErr error) {
	if p.runs != nil && res.RunID != "" {
		status := runstore.RunStatusSucceeded
		switch {
		case runErr != nil:
			status = runstore.RunStatusFailed
		case res.Skipped():
			status = runstore.RunStatusSkipped
		}
		done := 0
		for _, f := range res.Files {
			if f.Err == nil {
				done++
			}
		}
		// history is written even when ctx was cancelled mid-run
		if err := p.runs.CompleteRun(context.WithoutCancel(ctx), res.RunID, status, len(res.Pending), done, runErr); err != nil {
			p.logger.Warn("completing run record", "run_id", res.RunID, "error", err)
		}
	}

	if url := p.cfg.Metrics.PushgatewayURL; url != "" {
		if err := p.metrics.Push(url, p.cfg.Metrics.Job); err != nil {
			p.logger.Warn("pushing metrics", "error", err)
		}
	}
}
