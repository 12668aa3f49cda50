package table

import (
	"listings-etl/schema"
)

// TableMetadata is the pointer document of a table. The snapshot it names as
// current is the table's content; replacing this file is the commit.
type TableMetadata struct {
	FormatVersion     int               `json:"format-version"`
	TableUUID         string            `json:"table-uuid"`
	Location          string            `json:"location"`
	LastUpdated       int64             `json:"last-updated-ms"`
	Schema            Schema            `json:"schema"`
	Properties        map[string]string `json:"properties"`
	CurrentSnapshotID int64             `json:"current-snapshot-id"`
	Snapshots         []*Snapshot       `json:"snapshots"`
}

type Schema struct {
	Key    string  `json:"identifier-field"`
	Fields []Field `json:"fields"`
}

type Field struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

type Snapshot struct {
	SnapshotID       int64             `json:"snapshot-id"`
	ParentSnapshotID int64             `json:"parent-snapshot-id,omitempty"`
	SequenceNumber   int64             `json:"sequence-number"`
	TimestampMs      int64             `json:"timestamp-ms"`
	Operation        string            `json:"operation"`
	DataFile         DataFile          `json:"data-file"`
	Summary          map[string]string `json:"summary"`
}

// Snapshot operations.
const (
	OpCreate = "create"
	OpMerge  = "merge"
)

// CurrentSnapshot returns the live snapshot, nil for an empty table.
func (m *TableMetadata) CurrentSnapshot() *Snapshot {
	for _, s := range m.Snapshots {
		if s.SnapshotID == m.CurrentSnapshotID {
			return s
		}
	}
	return nil
}

func listingSchema() Schema {
	s := Schema{Key: "id", Fields: make([]Field, 0, len(schema.Listings.Columns))}
	for i, col := range schema.Listings.Columns {
		s.Fields = append(s.Fields, Field{
			ID:       i + 1,
			Name:     col.Name,
			Type:     col.Type,
			Required: !col.Nullable,
		})
	}
	return s
}
