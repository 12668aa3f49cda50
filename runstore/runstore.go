// Package runstore keeps the history of pipeline runs and per-file outcomes
// in SQLite.
package runstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusSkipped   RunStatus = "skipped"
)

type FileStatus string

const (
	FileStatusProcessed FileStatus = "processed"
	FileStatusFailed    FileStatus = "failed"
)

type Run struct {
	ID          string
	Status      RunStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	FilesNew    int
	FilesDone   int
	Error       string
}

type FileRun struct {
	RunID          string
	FileName       string
	Fingerprint    string
	Status         FileStatus
	RowsIn         int
	RowsOut        int
	QualityPassed  bool
	CanonicalTotal int
	SnapshotID     int64
	Error          string
	RecordedAt     time.Time
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens the database at path, creating it and applying migrations.
// Use ":memory:" for a private in-memory store.
func Open(ctx context.Context, path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating state directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening run store: %w", err)
	}
	// a second connection to :memory: would be a different database
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging run store: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, now: time.Now}, nil
}

func migrate(db *sql.DB) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite"); err != nil {
		return fmt.Errorf("setting migration dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// CreateRun starts a new run in the running state.
func (s *Store) CreateRun(ctx context.Context) (*Run, error) {
	run := &Run{
		ID:        uuid.New().String(),
		Status:    RunStatusRunning,
		StartedAt: s.now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, status, started_at) VALUES (?, ?, ?)`,
		run.ID, run.Status, run.StartedAt.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating run: %w", err)
	}
	return run, nil
}

// RecordFile stores the outcome of one file within a run.
func (s *Store) RecordFile(ctx context.Context, fr FileRun) error {
	if fr.RecordedAt.IsZero() {
		fr.RecordedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO file_runs (run_id, file_name, fingerprint, status, rows_in, rows_out,
			quality_passed, canonical_total, snapshot_id, error, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, file_name) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			status = excluded.status,
			rows_in = excluded.rows_in,
			rows_out = excluded.rows_out,
			quality_passed = excluded.quality_passed,
			canonical_total = excluded.canonical_total,
			snapshot_id = excluded.snapshot_id,
			error = excluded.error,
			recorded_at = excluded.recorded_at`,
		fr.RunID, fr.FileName, fr.Fingerprint, fr.Status, fr.RowsIn, fr.RowsOut,
		fr.QualityPassed, fr.CanonicalTotal, fr.SnapshotID, nullString(fr.Error), fr.RecordedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("recording file %s: %w", fr.FileName, err)
	}
	return nil
}

// CompleteRun closes a run with its final status and counters.
func (s *Store) CompleteRun(ctx context.Context, id string, status RunStatus, filesNew, filesDone int, runErr error) error {
	var errMsg string
	if runErr != nil {
		errMsg = runErr.Error()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, completed_at = ?, files_new = ?, files_done = ?, error = ? WHERE id = ?`,
		status, s.now().UTC().UnixMilli(), filesNew, filesDone, nullString(errMsg), id,
	)
	if err != nil {
		return fmt.Errorf("completing run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run not found: %s", id)
	}
	return nil
}

// GetRun returns a run by id.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, started_at, completed_at, files_new, files_done, error FROM runs WHERE id = ?`,
		id,
	)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	return run, err
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status, started_at, completed_at, files_new, files_done, error
		FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListFiles returns the file outcomes of a run in recording order.
func (s *Store) ListFiles(ctx context.Context, runID string) ([]FileRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, file_name, fingerprint, status, rows_in, rows_out, quality_passed,
			canonical_total, snapshot_id, error, recorded_at
		FROM file_runs WHERE run_id = ? ORDER BY recorded_at, rowid`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}
	defer rows.Close()

	var files []FileRun
	for rows.Next() {
		var (
			fr         FileRun
			errMsg     sql.NullString
			recordedAt int64
		)
		if err := rows.Scan(&fr.RunID, &fr.FileName, &fr.Fingerprint, &fr.Status, &fr.RowsIn, &fr.RowsOut,
			&fr.QualityPassed, &fr.CanonicalTotal, &fr.SnapshotID, &errMsg, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning file run: %w", err)
		}
		fr.Error = errMsg.String
		fr.RecordedAt = time.UnixMilli(recordedAt).UTC()
		files = append(files, fr)
	}
	return files, rows.Err()
}

// FindFingerprint returns the files processed earlier with the same content.
func (s *Store) FindFingerprint(ctx context.Context, fingerprint string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT file_name FROM file_runs WHERE fingerprint = ? AND status = ? ORDER BY file_name`,
		fingerprint, FileStatusProcessed,
	)
	if err != nil {
		return nil, fmt.Errorf("looking up fingerprint: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		run         Run
		startedAt   int64
		completedAt sql.NullInt64
		errMsg      sql.NullString
	)
	if err := row.Scan(&run.ID, &run.Status, &startedAt, &completedAt, &run.FilesNew, &run.FilesDone, &errMsg); err != nil {
		return nil, err
	}
	run.StartedAt = time.UnixMilli(startedAt).UTC()
	if completedAt.Valid {
		t := time.UnixMilli(completedAt.Int64).UTC()
		run.CompletedAt = &t
	}
	run.Error = errMsg.String
	return &run, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
