// Package table stores the canonical listings dataset as a snapshot table: a
// directory of Parquet data files plus a metadata document naming the
// current one. Commits replace the metadata document by rename, so readers
// see either the old snapshot or the new one.
package table

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"listings-etl/logging"
	"listings-etl/schema"
)

// ErrNoTable is returned when the table has never been committed.
var ErrNoTable = errors.New("table does not exist")

const (
	dataDir      = "data"
	metadataDir  = "metadata"
	metadataFile = "metadata.json"
)

type Table struct {
	location string
	retain   int
	logger   *slog.Logger
	now      func() time.Time
}

// New returns a handle on the table at location. retain is the number of
// snapshots whose data files are kept; it is at least 1.
func New(location string, retain int, logger *slog.Logger) *Table {
	if retain < 1 {
		retain = 1
	}
	return &Table{
		location: location,
		retain:   retain,
		logger:   logging.OrDiscard(logger),
		now:      time.Now,
	}
}

// Location is the table's root directory.
func (t *Table) Location() string {
	return t.location
}

func (t *Table) metadataPath() string {
	return filepath.Join(t.location, metadataDir, metadataFile)
}

// Metadata loads the committed metadata, or ErrNoTable.
func (t *Table) Metadata() (*TableMetadata, error) {
	file, err := os.Open(t.metadataPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoTable
	} else if err != nil {
		return nil, fmt.Errorf("opening metadata: %w", err)
	}
	defer file.Close()

	var metadata TableMetadata
	if err := json.NewDecoder(file).Decode(&metadata); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}
	return &metadata, nil
}

// Read returns the listings of the current snapshot, or ErrNoTable.
func (t *Table) Read(ctx context.Context) ([]schema.Listing, error) {
	metadata, err := t.Metadata()
	if err != nil {
		return nil, err
	}
	snap := metadata.CurrentSnapshot()
	if snap == nil {
		return nil, ErrNoTable
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ReadParquet(filepath.Join(t.location, snap.DataFile.FilePath))
}

// Overwrite commits listings as the table's new current snapshot.
func (t *Table) Overwrite(ctx context.Context, listings []schema.Listing, op string, summary map[string]string) (*Snapshot, error) {
	metadata, err := t.Metadata()
	if errors.Is(err, ErrNoTable) {
		metadata = &TableMetadata{
			FormatVersion: 2,
			TableUUID:     uuid.New().String(),
			Location:      t.location,
			Schema:        listingSchema(),
			Properties:    map[string]string{"format": "parquet"},
			Snapshots:     []*Snapshot{},
		}
	} else if err != nil {
		return nil, err
	}

	now := t.now()
	snap := &Snapshot{
		SnapshotID:  now.UnixMilli(),
		TimestampMs: now.UnixMilli(),
		Operation:   op,
		Summary:     map[string]string{},
	}
	if parent := metadata.CurrentSnapshot(); parent != nil {
		snap.ParentSnapshotID = parent.SnapshotID
		snap.SequenceNumber = parent.SequenceNumber + 1
		// snapshot ids must stay unique and increasing even for commits within the same millisecond
		if snap.SnapshotID <= parent.SnapshotID {
			snap.SnapshotID = parent.SnapshotID + 1
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rel := filepath.Join(dataDir, fmt.Sprintf("%d-%s.parquet", snap.SnapshotID, uuid.New().String()))
	df, err := WriteParquet(filepath.Join(t.location, rel), listings)
	if err != nil {
		return nil, fmt.Errorf("writing data file: %w", err)
	}
	df.FilePath = rel
	snap.DataFile = df

	for k, v := range summary {
		snap.Summary[k] = v
	}
	snap.Summary["total-records"] = strconv.FormatInt(df.RecordCount, 10)

	metadata.LastUpdated = now.UnixMilli()
	metadata.CurrentSnapshotID = snap.SnapshotID
	metadata.Snapshots = append(metadata.Snapshots, snap)
	if len(metadata.Snapshots) > t.retain {
		metadata.Snapshots = metadata.Snapshots[len(metadata.Snapshots)-t.retain:]
	}

	if err := t.writeMetadata(metadata); err != nil {
		return nil, fmt.Errorf("committing snapshot %d: %w", snap.SnapshotID, err)
	}

	t.logger.Info("committed snapshot",
		"table", t.location,
		"snapshot_id", snap.SnapshotID,
		"operation", op,
		"records", df.RecordCount,
	)

	t.expireDataFiles(metadata)
	return snap, nil
}

// writeMetadata replaces the metadata document atomically: the new content
// is written and synced under a temporary name, then renamed over the old.
func (t *Table) writeMetadata(metadata *TableMetadata) error {
	metadataPath := t.metadataPath()
	if err := os.MkdirAll(filepath.Dir(metadataPath), 0755); err != nil {
		return fmt.Errorf("creating metadata directory: %w", err)
	}

	tmp := metadataPath + ".tmp-" + uuid.New().String()
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating metadata file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(metadata); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("encoding metadata: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("syncing metadata: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing metadata: %w", err)
	}

	if err := os.Rename(tmp, metadataPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("swapping metadata: %w", err)
	}
	return syncDir(filepath.Dir(metadataPath))
}

// expireDataFiles deletes data files no retained snapshot references,
// including leftovers of commits that never reached the metadata swap.
// Failures are logged; the commit already succeeded.
func (t *Table) expireDataFiles(metadata *TableMetadata) {
	live := make(map[string]struct{}, len(metadata.Snapshots))
	for _, s := range metadata.Snapshots {
		live[filepath.Base(s.DataFile.FilePath)] = struct{}{}
	}

	dir := filepath.Join(t.location, dataDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.logger.Warn("listing data files", "dir", dir, "error", err)
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".parquet") {
			continue
		}
		if _, ok := live[e.Name()]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			t.logger.Warn("removing expired data file", "file", e.Name(), "error", err)
			continue
		}
		t.logger.Debug("removed expired data file", "file", e.Name())
	}
}

// Files lists the table files of the current snapshot relative to the table
// location: its data file and the metadata document.
func (t *Table) Files() ([]string, error) {
	metadata, err := t.Metadata()
	if err != nil {
		return nil, err
	}
	files := []string{filepath.Join(metadataDir, metadataFile)}
	if snap := metadata.CurrentSnapshot(); snap != nil {
		files = append(files, snap.DataFile.FilePath)
	}
	sort.Strings(files)
	return files, nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("opening %s: %w", dir, err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", dir, err)
	}
	return nil
}
