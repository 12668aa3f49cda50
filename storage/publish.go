package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"listings-etl/logging"
)

// FileSet is a group of files under Root mirrored beneath Prefix.
type FileSet struct {
	Prefix string
	Root   string
	Files  []string
}

// Publisher copies committed output into a Storage.
type Publisher struct {
	store       Storage
	logger      *slog.Logger
	concurrency int
}

func NewPublisher(store Storage, logger *slog.Logger) *Publisher {
	return &Publisher{
		store:       store,
		logger:      logging.OrDiscard(logger),
		concurrency: 4,
	}
}

// Publish uploads every file of every set and returns the number uploaded.
// Metadata documents are uploaded after the data files of their set, so a
// reader of the mirror never sees metadata naming a missing file. Each set
// is then listed back, and its metadata read back, before the next starts.
func (p *Publisher) Publish(ctx context.Context, sets ...FileSet) (int, error) {
	uploaded := 0
	for _, set := range sets {
		var data, meta []string
		for _, f := range set.Files {
			if filepath.Ext(f) == ".json" {
				meta = append(meta, f)
			} else {
				data = append(data, f)
			}
		}
		for _, batch := range [][]string{data, meta} {
			if err := p.upload(ctx, set, batch); err != nil {
				return uploaded, err
			}
			uploaded += len(batch)
		}
		if err := p.verify(ctx, set, meta); err != nil {
			return uploaded, err
		}
	}
	p.logger.Info("published output", "files", uploaded)
	return uploaded, nil
}

func (p *Publisher) upload(ctx context.Context, set FileSet, files []string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, f := range files {
		g.Go(func() error {
			file, err := os.Open(filepath.Join(set.Root, f))
			if err != nil {
				return fmt.Errorf("opening %s: %w", f, err)
			}
			defer file.Close()

			key := path.Join(set.Prefix, filepath.ToSlash(f))
			if err := p.store.Write(ctx, key, file); err != nil {
				return fmt.Errorf("uploading %s: %w", key, err)
			}
			p.logger.Debug("uploaded file", "key", key)
			return nil
		})
	}
	return g.Wait()
}

// verify checks that every key of set is listed in the store and that the
// stored metadata documents match the local copies byte for byte.
func (p *Publisher) verify(ctx context.Context, set FileSet, meta []string) error {
	listed, err := p.store.List(ctx, set.Prefix)
	if err != nil {
		return fmt.Errorf("listing %s: %w", set.Prefix, err)
	}
	present := make(map[string]bool, len(listed))
	for _, k := range listed {
		present[k] = true
	}
	var missing []string
	for _, f := range set.Files {
		if key := path.Join(set.Prefix, filepath.ToSlash(f)); !present[key] {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("published objects missing from %s: %v", set.Prefix, missing)
	}

	for _, f := range meta {
		key := path.Join(set.Prefix, filepath.ToSlash(f))
		local, err := os.ReadFile(filepath.Join(set.Root, f))
		if err != nil {
			return fmt.Errorf("reading %s: %w", f, err)
		}
		rc, err := p.store.Read(ctx, key)
		if err != nil {
			return fmt.Errorf("reading back %s: %w", key, err)
		}
		remote, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("reading back %s: %w", key, err)
		}
		if !bytes.Equal(local, remote) {
			return fmt.Errorf("published %s differs from local copy", key)
		}
	}
	p.logger.Debug("verified published set", "prefix", set.Prefix, "files", len(set.Files))
	return nil
}
