package table

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listings-etl/schema"
	"listings-etl/testutil"
)

func listing(id int64, name string) schema.Listing {
	d := time.Date(2019, 7, 1, 0, 0, 0, 0, time.UTC)
	return schema.Listing{
		ID:                 id,
		Name:               name,
		NeighbourhoodGroup: "Queens",
		Latitude:           testutil.Ptr(40.7),
		Longitude:          testutil.Ptr(-73.8),
		Price:              testutil.Ptr(80.0),
		LastReview:         &d,
		ReviewsPerMonth:    testutil.Ptr(0.5),
		MinimumNights:      testutil.Ptr(int64(2)),
		PriceRange:         schema.PriceBudget,
		PricePerReview:     160,
	}
}

func ids(listings []schema.Listing) []int64 {
	out := make([]int64, len(listings))
	for i, l := range listings {
		out[i] = l.ID
	}
	return out
}

func TestRead_NoTable(t *testing.T) {
	tbl := New(filepath.Join(t.TempDir(), "merged"), 2, testutil.NewLogger(t))
	_, err := tbl.Read(context.Background())
	assert.True(t, errors.Is(err, ErrNoTable))
}

func TestMerge_FirstRunWritesBatch(t *testing.T) {
	ctx := context.Background()
	tbl := New(filepath.Join(t.TempDir(), "merged"), 2, testutil.NewLogger(t))

	res, err := tbl.Merge(ctx, []schema.Listing{listing(2, "b"), listing(1, "a")})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, OpCreate, res.Snapshot.Operation)

	got, err := tbl.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids(got))

	first := got[0]
	assert.Equal(t, "a", first.Name)
	require.NotNil(t, first.LastReview)
	assert.True(t, first.LastReview.Equal(time.Date(2019, 7, 1, 0, 0, 0, 0, time.UTC)))
	require.NotNil(t, first.MinimumNights)
	assert.Equal(t, int64(2), *first.MinimumNights)
	assert.Nil(t, first.HostID)
	assert.Nil(t, first.Availability365)
	assert.Equal(t, 160.0, first.PricePerReview)
}

func TestMerge_Dedup(t *testing.T) {
	ctx := context.Background()
	tbl := New(filepath.Join(t.TempDir(), "merged"), 2, nil)

	_, err := tbl.Merge(ctx, []schema.Listing{listing(1, "a"), listing(2, "b"), listing(3, "old")})
	require.NoError(t, err)

	res, err := tbl.Merge(ctx, []schema.Listing{listing(3, "new"), listing(4, "d")})
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, 3, res.Existing)
	assert.Equal(t, 2, res.Incoming)
	assert.Equal(t, 1, res.Replaced)
	assert.Equal(t, 4, res.Total)

	got, err := tbl.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4}, ids(got))
	assert.Equal(t, "new", got[2].Name, "incoming rows win")
}

func TestMerge_Idempotent(t *testing.T) {
	ctx := context.Background()
	tbl := New(filepath.Join(t.TempDir(), "merged"), 3, nil)
	batch := []schema.Listing{listing(5, "e"), listing(6, "f")}

	_, err := tbl.Merge(ctx, []schema.Listing{listing(1, "a"), listing(5, "old")})
	require.NoError(t, err)

	_, err = tbl.Merge(ctx, batch)
	require.NoError(t, err)
	once, err := tbl.Read(ctx)
	require.NoError(t, err)

	_, err = tbl.Merge(ctx, batch)
	require.NoError(t, err)
	twice, err := tbl.Read(ctx)
	require.NoError(t, err)

	assert.Equal(t, ids(once), ids(twice))
	for i := range once {
		assert.Equal(t, once[i].Name, twice[i].Name)
	}
}

func TestOverwrite_RetainsSnapshotsAndExpiresFiles(t *testing.T) {
	ctx := context.Background()
	loc := filepath.Join(t.TempDir(), "merged")
	tbl := New(loc, 2, nil)

	// stray file from a commit that never reached the metadata swap
	require.NoError(t, os.MkdirAll(filepath.Join(loc, dataDir), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(loc, dataDir, "1-orphan.parquet"), []byte("x"), 0o644))

	var last *Snapshot
	for i := 0; i < 4; i++ {
		snap, err := tbl.Overwrite(ctx, []schema.Listing{listing(int64(i), "x")}, OpMerge, nil)
		require.NoError(t, err)
		if last != nil {
			assert.Greater(t, snap.SnapshotID, last.SnapshotID)
			assert.Equal(t, last.SnapshotID, snap.ParentSnapshotID)
			assert.Equal(t, last.SequenceNumber+1, snap.SequenceNumber)
		}
		last = snap
	}

	md, err := tbl.Metadata()
	require.NoError(t, err)
	assert.Len(t, md.Snapshots, 2)
	assert.Equal(t, last.SnapshotID, md.CurrentSnapshotID)
	assert.Equal(t, "1", md.CurrentSnapshot().Summary["total-records"])
	assert.Equal(t, "id", md.Schema.Key)

	entries, err := os.ReadDir(filepath.Join(loc, dataDir))
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	metaEntries, err := os.ReadDir(filepath.Join(loc, metadataDir))
	require.NoError(t, err)
	for _, e := range metaEntries {
		assert.False(t, strings.Contains(e.Name(), ".tmp-"), "temporary metadata left behind: %s", e.Name())
	}

	files, err := tbl.Files()
	require.NoError(t, err)
	assert.Len(t, files, 2)
	assert.Contains(t, files, filepath.Join(metadataDir, metadataFile))
}

func TestDedup(t *testing.T) {
	existing := []schema.Listing{listing(3, "e3"), listing(1, "e1")}
	incoming := []schema.Listing{listing(2, "i2"), listing(3, "i3"), listing(2, "i2-later")}

	out, replaced := Dedup(existing, incoming)
	assert.Equal(t, []int64{1, 2, 3}, ids(out))
	assert.Equal(t, "i2-later", out[1].Name)
	assert.Equal(t, "i3", out[2].Name)
	assert.Equal(t, 2, replaced)

	out, replaced = Dedup(nil, nil)
	assert.Empty(t, out)
	assert.Zero(t, replaced)
}

func TestWriteParquet_Stats(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x", "batch.parquet")
	l := listing(1, "a")
	l.Latitude = nil

	df, err := WriteParquet(path, []schema.Listing{l, listing(2, "b")})
	require.NoError(t, err)
	assert.Equal(t, int64(2), df.RecordCount)
	assert.Greater(t, df.FileSizeBytes, int64(0))
	assert.Equal(t, int64(1), df.NullValueCounts["latitude"])

	got, err := ReadParquet(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Nil(t, got[0].Latitude)
	assert.Equal(t, "", got[0].RawLastReview)
}

func TestWriteParquet_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.parquet")
	reviewed := time.Date(2019, 5, 21, 0, 0, 0, 0, time.UTC)

	l := listing(7, "reviewed")
	l.LastReview = &reviewed
	l.ReviewsPerMonth = testutil.Ptr(0.38)
	l.PriceRange = schema.PriceMidrange
	l.PricePerReview = 394.74

	_, err := WriteParquet(path, []schema.Listing{l})
	require.NoError(t, err)

	got, err := ReadParquet(path)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].LastReview)
	assert.True(t, reviewed.Equal(*got[0].LastReview), "last_review = %v", *got[0].LastReview)
	assert.Equal(t, int64(7), got[0].ID)
	assert.Equal(t, "reviewed", got[0].Name)
	assert.InDelta(t, 0.38, *got[0].ReviewsPerMonth, 1e-9)
	assert.Equal(t, schema.PriceMidrange, got[0].PriceRange)
	assert.InDelta(t, 394.74, got[0].PricePerReview, 1e-9)
}
