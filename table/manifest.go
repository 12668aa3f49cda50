package table

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"

	"listings-etl/schema"
)

// DataFile describes one Parquet file of listings.
type DataFile struct {
	FilePath        string           `json:"file-path"` // relative to the table location
	FileFormat      string           `json:"file-format"`
	RecordCount     int64            `json:"record-count"`
	FileSizeBytes   int64            `json:"file-size-in-bytes"`
	NullValueCounts map[string]int64 `json:"null-value-counts,omitempty"`
}

// WriteParquet writes listings to path, creating parent directories, and
// returns the file's stats with FilePath set to path.
func WriteParquet(path string, listings []schema.Listing) (DataFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return DataFile{}, fmt.Errorf("creating directories: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return DataFile{}, fmt.Errorf("creating parquet file: %w", err)
	}
	defer file.Close()

	pw := parquet.NewGenericWriter[schema.Listing](file)
	if _, err := pw.Write(listings); err != nil {
		return DataFile{}, fmt.Errorf("writing records: %w", err)
	}
	if err := pw.Close(); err != nil {
		return DataFile{}, fmt.Errorf("closing parquet writer: %w", err)
	}
	if err := file.Sync(); err != nil {
		return DataFile{}, fmt.Errorf("syncing parquet file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		return DataFile{}, fmt.Errorf("getting file size: %w", err)
	}

	return DataFile{
		FilePath:        path,
		FileFormat:      "PARQUET",
		RecordCount:     int64(len(listings)),
		FileSizeBytes:   info.Size(),
		NullValueCounts: nullCounts(listings),
	}, nil
}

// ReadParquet reads every listing stored in the file at path.
func ReadParquet(path string) ([]schema.Listing, error) {
	rows, err := parquet.ReadFile[schema.Listing](path)
	if err != nil {
		return nil, fmt.Errorf("reading parquet file %s: %w", path, err)
	}
	return rows, nil
}

func nullCounts(listings []schema.Listing) map[string]int64 {
	counts := make(map[string]int64)
	for _, col := range schema.Listings.Columns {
		if !col.Nullable {
			continue
		}
		var n int64
		for i := range listings {
			if col.Value(&listings[i]) == nil {
				n++
			}
		}
		if n > 0 {
			counts[col.Name] = n
		}
	}
	return counts
}
