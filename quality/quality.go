// Package quality runs observational checks on a transformed batch. Failed
// checks are logged at error level and reported back; they never stop the
// pipeline.
package quality

import (
	"fmt"
	"log/slog"

	"listings-etl/logging"
	"listings-etl/schema"
)

// DefaultCriticalColumns must contain no nulls after transformation.
var DefaultCriticalColumns = []string{"price", "minimum_nights", "availability_365"}

type CheckResult struct {
	Name    string
	Passed  bool
	Message string
}

type Report struct {
	Expected int
	Actual   int
	Checks   []CheckResult
}

// Passed reports whether every check passed.
func (r Report) Passed() bool {
	for _, c := range r.Checks {
		if !c.Passed {
			return false
		}
	}
	return true
}

// Failures returns the failed checks.
func (r Report) Failures() []CheckResult {
	var out []CheckResult
	for _, c := range r.Checks {
		if !c.Passed {
			out = append(out, c)
		}
	}
	return out
}

type Checker struct {
	logger   *slog.Logger
	critical []string
}

// New returns a checker for the given critical columns, or the defaults
// when none are given.
func New(logger *slog.Logger, critical []string) *Checker {
	if len(critical) == 0 {
		critical = DefaultCriticalColumns
	}
	return &Checker{logger: logging.OrDiscard(logger), critical: critical}
}

// Check evaluates the row count against expected and null counts of every
// critical column. All checks run regardless of earlier failures.
func (c *Checker) Check(listings []schema.Listing, expected int) Report {
	report := Report{Expected: expected, Actual: len(listings)}

	if report.Actual != expected {
		report.add(c.fail("row_count",
			fmt.Sprintf("Row count validation failed: expected %d, found %d", expected, report.Actual),
			"expected", expected, "actual", report.Actual))
	} else {
		report.add(c.pass("row_count",
			fmt.Sprintf("Row count validation passed: %d records", report.Actual)))
	}

	for _, name := range c.critical {
		col, ok := schema.Listings.Column(name)
		if !ok {
			report.add(c.fail("nulls:"+name,
				fmt.Sprintf("Unknown critical column %q", name), "column", name))
			continue
		}

		nulls := 0
		for i := range listings {
			if col.Value(&listings[i]) == nil {
				nulls++
			}
		}
		if nulls > 0 {
			report.add(c.fail("nulls:"+name,
				fmt.Sprintf("NULL values found in column '%s': %d records", name, nulls),
				"column", name, "nulls", nulls))
		} else {
			report.add(c.pass("nulls:"+name, fmt.Sprintf("No NULL values in column '%s'", name)))
		}
	}

	return report
}

func (r *Report) add(res CheckResult) {
	r.Checks = append(r.Checks, res)
}

func (c *Checker) pass(name, msg string) CheckResult {
	c.logger.Info(msg, "check", name)
	return CheckResult{Name: name, Passed: true, Message: msg}
}

func (c *Checker) fail(name, msg string, attrs ...any) CheckResult {
	c.logger.Error(msg, append([]any{"check", name}, attrs...)...)
	return CheckResult{Name: name, Passed: false, Message: msg}
}
