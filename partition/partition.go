// Package partition writes a batch as a Hive-style directory tree keyed by
// neighbourhood group, replacing whatever a previous run wrote.
package partition

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"

	"listings-etl/logging"
	"listings-etl/schema"
	"listings-etl/table"
)

const (
	// Key is the partition column.
	Key = "neighbourhood_group"
	// DefaultPartition holds rows whose key is empty.
	DefaultPartition = "__HIVE_DEFAULT_PARTITION__"

	partFile = "part-00000.parquet"
)

type Partition struct {
	Value string // key value, "" for the default partition
	Dir   string // directory name, e.g. neighbourhood_group=Brooklyn
	Rows  int
}

type Result struct {
	// Listings is the batch regrouped in partition order.
	Listings   []schema.Listing
	Partitions []Partition
}

type Partitioner struct {
	root        string
	concurrency int
	logger      *slog.Logger
}

// New returns a partitioner writing under root.
func New(root string, logger *slog.Logger) *Partitioner {
	return &Partitioner{root: root, concurrency: 4, logger: logging.OrDiscard(logger)}
}

// Write regroups listings by neighbourhood group and writes one Parquet file
// per group. The tree is built in a staging directory next to root and then
// swapped in, so root always holds one complete run's output.
func (p *Partitioner) Write(ctx context.Context, listings []schema.Listing) (*Result, error) {
	groups := make(map[string][]schema.Listing)
	for _, l := range listings {
		k := normalize(l.NeighbourhoodGroup)
		groups[k] = append(groups[k], l)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	res := &Result{Listings: make([]schema.Listing, 0, len(listings))}
	for _, k := range keys {
		res.Listings = append(res.Listings, groups[k]...)
		res.Partitions = append(res.Partitions, Partition{Value: k, Dir: DirName(k), Rows: len(groups[k])})
	}

	staging := fmt.Sprintf("%s.staging-%s", filepath.Clean(p.root), uuid.New().String())
	if err := os.MkdirAll(staging, 0755); err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, part := range res.Partitions {
		rows := groups[part.Value]
		path := filepath.Join(staging, part.Dir, partFile)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if _, err := table.WriteParquet(path, rows); err != nil {
				return fmt.Errorf("writing partition %s: %w", part.Dir, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		os.RemoveAll(staging)
		return nil, err
	}

	if err := p.swap(staging); err != nil {
		os.RemoveAll(staging)
		return nil, err
	}

	p.logger.Info("wrote partitioned batch",
		"root", p.root,
		"partitions", len(res.Partitions),
		"records", len(res.Listings),
	)
	return res, nil
}

// swap moves staging into root's place. The previous tree is renamed aside
// first and removed only after the new one is in place.
func (p *Partitioner) swap(staging string) error {
	old := fmt.Sprintf("%s.old-%s", filepath.Clean(p.root), uuid.New().String())
	hadOld := true
	if err := os.Rename(p.root, old); errors.Is(err, fs.ErrNotExist) {
		hadOld = false
	} else if err != nil {
		return fmt.Errorf("moving previous partitions aside: %w", err)
	}

	if err := os.Rename(staging, p.root); err != nil {
		if hadOld {
			os.Rename(old, p.root)
		}
		return fmt.Errorf("installing partitions: %w", err)
	}

	if hadOld {
		if err := os.RemoveAll(old); err != nil {
			p.logger.Warn("removing previous partitions", "dir", old, "error", err)
		}
	}
	return nil
}

// Files lists the Parquet files under root relative to it.
func (p *Partitioner) Files() ([]string, error) {
	var files []string
	err := filepath.WalkDir(p.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".parquet") {
			return nil
		}
		rel, err := filepath.Rel(p.root, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing partitions: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// DirName is the directory for a key value.
func DirName(value string) string {
	if value == "" {
		return Key + "=" + DefaultPartition
	}
	return Key + "=" + url.PathEscape(value)
}

func normalize(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
