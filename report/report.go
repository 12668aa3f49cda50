// Package report runs the fixed observability queries over a batch with an
// embedded DuckDB and writes the result tables to the log.
package report

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	_ "github.com/marcboeker/go-duckdb"

	"listings-etl/logging"
	"listings-etl/schema"
	parquettable "listings-etl/table"
)

// View is the name the batch is queried under.
const View = "listings"

type Query struct {
	Title string
	SQL   string
}

// Queries are run in order for every batch.
var Queries = []Query{
	{
		Title: "Listings by Neighborhood Group",
		SQL: `
			SELECT neighbourhood_group, COUNT(*) AS num_listings
			FROM listings
			GROUP BY neighbourhood_group
			ORDER BY num_listings DESC, neighbourhood_group`,
	},
	{
		Title: "Top 10 Most Expensive Listings",
		SQL: `
			SELECT id, name, neighbourhood_group, room_type, price, price_range
			FROM listings
			ORDER BY price DESC, id
			LIMIT 10`,
	},
	{
		Title: "Average Price by Room Type",
		SQL: `
			SELECT neighbourhood_group, room_type, AVG(price) AS avg_price
			FROM listings
			GROUP BY neighbourhood_group, room_type
			ORDER BY neighbourhood_group, room_type`,
	},
}

type Result struct {
	Title   string
	Columns []string
	Rows    [][]any
}

// Render formats the result as a text table.
func (r Result) Render() string {
	var b strings.Builder
	t := table.NewWriter()
	t.SetOutputMirror(&b)
	t.SetStyle(table.StyleLight)

	header := make(table.Row, len(r.Columns))
	for i, c := range r.Columns {
		header[i] = c
	}
	t.AppendHeader(header)

	for _, row := range r.Rows {
		out := make(table.Row, len(row))
		for i, v := range row {
			out[i] = formatValue(v)
		}
		t.AppendRow(out)
	}
	t.Render()
	fmt.Fprintf(&b, "(%d rows)\n", len(r.Rows))
	return b.String()
}

type Reporter struct {
	db      *sql.DB
	workDir string
	logger  *slog.Logger
}

// New opens an in-memory DuckDB. Batches are staged as Parquet under workDir.
func New(workDir string, logger *slog.Logger) (*Reporter, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("opening duckdb: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging duckdb: %w", err)
	}

	return &Reporter{
		db:      db,
		workDir: workDir,
		logger:  logging.OrDiscard(logger),
	}, nil
}

func (r *Reporter) Close() error {
	return r.db.Close()
}

// Run stages the batch, runs every query and logs each result table. The
// results are also returned. Any failure aborts the report.
func (r *Reporter) Run(ctx context.Context, listings []schema.Listing) ([]Result, error) {
	staged := filepath.Join(r.workDir, fmt.Sprintf("report-%s.parquet", uuid.New().String()))
	if _, err := parquettable.WriteParquet(staged, listings); err != nil {
		return nil, fmt.Errorf("staging batch: %w", err)
	}
	defer os.Remove(staged)

	view := fmt.Sprintf("CREATE OR REPLACE VIEW %s AS SELECT * FROM read_parquet('%s')",
		View, strings.ReplaceAll(staged, "'", "''"))
	if _, err := r.db.ExecContext(ctx, view); err != nil {
		return nil, fmt.Errorf("creating view: %w", err)
	}
	defer r.db.Exec("DROP VIEW IF EXISTS " + View)

	r.logger.Info("Processing SQL queries...", "records", len(listings))

	results := make([]Result, 0, len(Queries))
	for _, q := range Queries {
		res, err := r.query(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("query %q: %w", q.Title, err)
		}
		r.logger.Info(q.Title+":\n"+res.Render(), "query", q.Title, "rows", len(res.Rows))
		results = append(results, res)
	}
	return results, nil
}

func (r *Reporter) query(ctx context.Context, q Query) (Result, error) {
	rows, err := r.db.QueryContext(ctx, q.SQL)
	if err != nil {
		return Result{}, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return Result{}, err
	}

	res := Result{Title: q.Title, Columns: columns}

	values := make([]any, len(columns))
	scanArgs := make([]any, len(columns))
	for i := range values {
		scanArgs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(scanArgs...); err != nil {
			return Result{}, err
		}
		row := make([]any, len(values))
		copy(row, values)
		res.Rows = append(res.Rows, row)
	}

	if err := rows.Err(); err != nil {
		return Result{}, err
	}
	return res, nil
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(val)
	case float64:
		return fmt.Sprintf("%.2f", val)
	case float32:
		return fmt.Sprintf("%.2f", val)
	case time.Time:
		return val.Format(time.DateOnly)
	default:
		return fmt.Sprintf("%v", val)
	}
}
