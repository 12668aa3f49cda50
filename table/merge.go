package table

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"listings-etl/schema"
)

// MergeResult describes one merge into the canonical table.
type MergeResult struct {
	Created  bool // first commit of the table
	Existing int
	Incoming int
	Replaced int // incoming rows that superseded a row with the same id
	Total    int
	Snapshot *Snapshot
}

// Merge unions batch into the table, keeping one row per id. Rows from batch
// win over rows already in the table, and later batch rows win over earlier
// ones. A table that does not exist yet is created from the batch.
func (t *Table) Merge(ctx context.Context, batch []schema.Listing) (*MergeResult, error) {
	existing, err := t.Read(ctx)
	created := errors.Is(err, ErrNoTable)
	if err != nil && !created {
		return nil, fmt.Errorf("reading existing table: %w", err)
	}

	merged, replaced := Dedup(existing, batch)
	res := &MergeResult{
		Created:  created,
		Existing: len(existing),
		Incoming: len(batch),
		Replaced: replaced,
		Total:    len(merged),
	}

	op := OpMerge
	if created {
		op = OpCreate
	}
	snap, err := t.Overwrite(ctx, merged, op, map[string]string{
		"existing-records": strconv.Itoa(res.Existing),
		"added-records":    strconv.Itoa(res.Incoming),
		"replaced-records": strconv.Itoa(res.Replaced),
	})
	if err != nil {
		return nil, err
	}
	res.Snapshot = snap

	t.logger.Info("merged batch into canonical table",
		"created", res.Created,
		"existing", res.Existing,
		"incoming", res.Incoming,
		"replaced", res.Replaced,
		"total", res.Total,
	)
	return res, nil
}

// Dedup returns the union of existing and incoming with one row per id,
// sorted by id. incoming rows take precedence. The second result counts
// incoming rows that replaced an earlier row.
func Dedup(existing, incoming []schema.Listing) ([]schema.Listing, int) {
	byID := make(map[int64]schema.Listing, len(existing)+len(incoming))
	for _, l := range existing {
		byID[l.ID] = l
	}
	replaced := 0
	for _, l := range incoming {
		if _, ok := byID[l.ID]; ok {
			replaced++
		}
		byID[l.ID] = l
	}

	out := make([]schema.Listing, 0, len(byID))
	for _, l := range byID {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, replaced
}
