// Package storage mirrors committed pipeline output to a second location.
package storage

import (
	"context"
	"fmt"
	"io"

	"listings-etl/config"
)

// Storage is a flat key space of objects. Keys use forward slashes.
type Storage interface {
	Write(ctx context.Context, key string, data io.Reader) error
	Read(ctx context.Context, key string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// FromConfig builds the configured mirror target. It returns nil when
// publishing is disabled.
func FromConfig(ctx context.Context, cfg config.PublishConfig) (Storage, error) {
	switch cfg.Kind {
	case "":
		return nil, nil
	case "local":
		return NewLocalStorage(cfg.LocalDir), nil
	case "s3":
		return NewS3StorageFromConfig(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown publish kind %q", cfg.Kind)
	}
}
