package quality

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listings-etl/schema"
	"listings-etl/testutil"
)

func clean(n int) []schema.Listing {
	out := make([]schema.Listing, n)
	for i := range out {
		out[i] = schema.Listing{
			ID:              int64(i + 1),
			Price:           testutil.Ptr(100.0),
			MinimumNights:   testutil.Ptr(int64(1)),
			Availability365: testutil.Ptr(int64(200)),
		}
	}
	return out
}

func TestCheck_Passes(t *testing.T) {
	logger, buf := testutil.CaptureLogger()
	report := New(logger, nil).Check(clean(5), 5)

	assert.True(t, report.Passed())
	assert.Len(t, report.Checks, 4)
	assert.Empty(t, report.Failures())
	assert.NotContains(t, buf.String(), "level=ERROR")
	assert.Contains(t, buf.String(), "Row count validation passed: 5 records")
}

func TestCheck_RowCountMismatchLogsError(t *testing.T) {
	logger, buf := testutil.CaptureLogger()
	report := New(logger, nil).Check(clean(95), 100)

	assert.False(t, report.Passed())
	require.Len(t, report.Failures(), 1)
	assert.Equal(t, "row_count", report.Failures()[0].Name)
	assert.Equal(t, 100, report.Expected)
	assert.Equal(t, 95, report.Actual)
	assert.Contains(t, buf.String(), "level=ERROR")
	assert.Contains(t, buf.String(), "expected 100, found 95")
}

func TestCheck_AllChecksEvaluated(t *testing.T) {
	listings := clean(3)
	listings[0].MinimumNights = nil
	listings[1].Availability365 = nil
	listings[2].Availability365 = nil

	logger, buf := testutil.CaptureLogger()
	report := New(logger, nil).Check(listings, 4)

	failures := report.Failures()
	require.Len(t, failures, 3)
	assert.Equal(t, "row_count", failures[0].Name)
	assert.Equal(t, "nulls:minimum_nights", failures[1].Name)
	assert.Equal(t, "nulls:availability_365", failures[2].Name)
	assert.Contains(t, buf.String(), "NULL values found in column 'availability_365': 2 records")
	assert.Contains(t, buf.String(), "No NULL values in column 'price'")
}

func TestCheck_UnknownColumn(t *testing.T) {
	report := New(nil, []string{"bogus"}).Check(clean(1), 1)
	require.Len(t, report.Failures(), 1)
	assert.Equal(t, "nulls:bogus", report.Failures()[0].Name)
}
