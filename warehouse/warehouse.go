// Package warehouse loads merged listings into a Postgres table and runs
// post-load checks against it.
package warehouse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"listings-etl/config"
	"listings-etl/logging"
	"listings-etl/quality"
	"listings-etl/schema"
	"listings-etl/table"
)

const stagingTable = "listings_staging"

type Sink struct {
	conn     *pgx.Conn
	table    string
	critical []string
	logger   *slog.Logger
}

// Connect opens a connection to the warehouse database.
func Connect(ctx context.Context, cfg config.WarehouseConfig, critical []string, logger *slog.Logger) (*Sink, error) {
	conn, err := pgx.Connect(ctx, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if len(critical) == 0 {
		critical = quality.DefaultCriticalColumns
	}
	return &Sink{
		conn:     conn,
		table:    cfg.Table,
		critical: critical,
		logger:   logging.OrDiscard(logger),
	}, nil
}

func (s *Sink) Close(ctx context.Context) error {
	return s.conn.Close(ctx)
}

// EnsureTable creates the target table when it does not exist.
func (s *Sink) EnsureTable(ctx context.Context) error {
	if _, err := s.conn.Exec(ctx, CreateTableSQL(s.table)); err != nil {
		return fmt.Errorf("creating table %s: %w", s.table, err)
	}
	return nil
}

// Load upserts listings by id in one transaction: the batch is copied into
// a temporary table, then merged into the target. Later rows for an id win.
func (s *Sink) Load(ctx context.Context, listings []schema.Listing) (int64, error) {
	rows, _ := table.Dedup(nil, listings)
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning load: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, CreateStagingSQL(s.table)); err != nil {
		return 0, fmt.Errorf("creating staging table: %w", err)
	}

	copied, err := tx.CopyFrom(ctx, pgx.Identifier{stagingTable}, schema.Listings.Names(), pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
		return schema.Listings.Row(&rows[i]), nil
	}))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Detail != "" {
			return 0, fmt.Errorf("copying into staging: %s (%s): %w", pgErr.Detail, pgErr.SQLState(), err)
		}
		return 0, fmt.Errorf("copying into staging: %w", err)
	}

	tag, err := tx.Exec(ctx, UpsertSQL(s.table))
	if err != nil {
		return 0, fmt.Errorf("upserting into %s: %w", s.table, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing load: %w", err)
	}

	s.logger.Info("loaded warehouse table",
		"table", s.table,
		"copied", copied,
		"upserted", tag.RowsAffected(),
	)
	return tag.RowsAffected(), nil
}

// Verify compares the table's row count with expected and counts nulls in
// the critical columns. Failures are logged and returned, never raised.
func (s *Sink) Verify(ctx context.Context, expected int) (quality.Report, error) {
	report := quality.Report{Expected: expected}

	var count int64
	if err := s.conn.QueryRow(ctx, CountSQL(s.table)).Scan(&count); err != nil {
		return report, fmt.Errorf("counting %s: %w", s.table, err)
	}
	report.Actual = int(count)
	if report.Actual != expected {
		msg := fmt.Sprintf("Record count mismatch: expected %d, got %d", expected, report.Actual)
		s.logger.Error(msg, "table", s.table)
		report.Checks = append(report.Checks, quality.CheckResult{Name: "warehouse_row_count", Message: msg})
	} else {
		report.Checks = append(report.Checks, quality.CheckResult{Name: "warehouse_row_count", Passed: true})
	}

	for _, col := range s.critical {
		var nulls int64
		if err := s.conn.QueryRow(ctx, NullCountSQL(s.table, col)).Scan(&nulls); err != nil {
			return report, fmt.Errorf("counting nulls in %s: %w", col, err)
		}
		check := quality.CheckResult{Name: "warehouse_nulls:" + col, Passed: nulls == 0}
		if nulls > 0 {
			check.Message = fmt.Sprintf("NULL values found in column %s: %d NULL values", col, nulls)
			s.logger.Error(check.Message, "table", s.table)
		}
		report.Checks = append(report.Checks, check)
	}

	if report.Passed() {
		s.logger.Info("Data quality checks passed.", "table", s.table)
	}
	return report, nil
}

func CreateTableSQL(tableName string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", quoteFQN(tableName))
	for i, c := range schema.Listings.Columns {
		fmt.Fprintf(&b, "    %s %s", quoteIdent(c.Name), c.Type)
		if c.Name == "id" {
			b.WriteString(" PRIMARY KEY")
		}
		if i < len(schema.Listings.Columns)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString(")")
	return b.String()
}

func CreateStagingSQL(tableName string) string {
	return fmt.Sprintf("CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		quoteIdent(stagingTable), quoteFQN(tableName))
}

func UpsertSQL(tableName string) string {
	cols := schema.Listings.Names()
	quoted := make([]string, len(cols))
	var sets []string
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
		if c != "id" {
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", quoted[i], quoted[i]))
		}
	}
	list := strings.Join(quoted, ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) DO UPDATE SET %s",
		quoteFQN(tableName), list, list, quoteIdent(stagingTable), quoteIdent("id"), strings.Join(sets, ", "))
}

func CountSQL(tableName string) string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteFQN(tableName))
}

func NullCountSQL(tableName, column string) string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s IS NULL", quoteFQN(tableName), quoteIdent(column))
}

func quoteIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// quoteFQN quotes a possibly schema-qualified name.
func quoteFQN(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = quoteIdent(p)
	}
	return strings.Join(parts, ".")
}
