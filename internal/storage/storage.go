// Package storage keeps uploaded plans, CSV files and materialized plans as
// opaque objects addressed by key.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/parm-bits/stress-admin-ui/internal/config"
	"go.uber.org/zap"
)

// ErrObjectNotFound is returned by Get when no object exists under the key.
var ErrObjectNotFound = errors.New("object not found")

var errEmptyKey = errors.New("storage key is required")

// ObjectStorage is implemented by every artifact backend.
type ObjectStorage interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	// Delete removes the object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error
}

// New builds the backend selected by cfg.Driver. For S3 the bucket is
// created when it does not exist yet.
func New(ctx context.Context, cfg *config.StorageConfig, logger *zap.Logger) (ObjectStorage, error) {
	if cfg == nil {
		return nil, errors.New("storage configuration is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Driver {
	case config.StorageDriverFS, "":
		return NewFileObjectStorage(cfg.RootDir)
	case config.StorageDriverS3:
		s, err := NewS3ObjectStorage(cfg, WithLogger(logger))
		if err != nil {
			return nil, err
		}
		if err := s.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
