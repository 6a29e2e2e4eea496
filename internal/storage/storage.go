package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/vn-engine/internal/config"
)

// BlobStore abstracts recording and note file storage backends.
type BlobStore interface {
	// Save stores a blob. key format: {voices|notes}/{YYYY/MM/DD}/{filename}
	Save(ctx context.Context, key string, data []byte, contentType string) error

	// LocalPath returns the local filesystem path if the blob exists on disk.
	// Returns "" if not available locally.
	LocalPath(key string) string

	// Open returns a reader for the blob.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists checks if a blob exists in any backend.
	Exists(ctx context.Context, key string) bool

	// Delete removes a blob from all backends.
	Delete(ctx context.Context, key string) error

	// Type returns "local", "tiered".
	Type() string
}

// New creates a BlobStore based on config. Local disk is always the primary
// home (ffmpeg needs real paths); when S3 is configured the store becomes
// tiered with S3 as the durability backup.
func New(cfg config.S3Config, dataDir string, log zerolog.Logger) (BlobStore, error) {
	local := NewLocalStore(dataDir)
	if !cfg.Enabled() {
		return local, nil
	}

	s3store, err := NewS3Store(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("S3 init failed: %w", err)
	}

	// Startup validation: verify credentials and bucket access
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s3store.HeadBucket(ctx); err != nil {
		return nil, fmt.Errorf("S3 startup check failed (bucket=%q endpoint=%q): %w",
			cfg.Bucket, cfg.Endpoint, err)
	}
	log.Info().Str("bucket", cfg.Bucket).Str("endpoint", cfg.Endpoint).Msg("S3 connection verified")

	return NewTieredStore(s3store, local, log), nil
}
