// Package blob checks any gocloud.dev bucket (gs://, s3://, file://, mem://)
// for previously exported objects.
package blob

import (
	"context"
	"fmt"
	"strings"

	gcblob "gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// driver
	_ "gocloud.dev/blob/gcsblob"  // gs:// driver
	_ "gocloud.dev/blob/memblob"  // mem:// driver
	_ "gocloud.dev/blob/s3blob"   // s3:// driver
)

// Config selects the bucket by URL.
type Config struct {
	URL    string `mapstructure:"url"`
	Prefix string `mapstructure:"prefix"`
}

// Guard reports whether an export object already exists in a bucket.
type Guard struct {
	bucket *gcblob.Bucket
	prefix string
}

// Open opens the bucket named by cfg.URL.
func Open(ctx context.Context, cfg Config) (*Guard, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("bucket url is required")
	}
	bucket, err := gcblob.OpenBucket(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", cfg.URL, err)
	}
	return New(bucket, cfg.Prefix), nil
}

// New wraps an already open bucket.
func New(bucket *gcblob.Bucket, prefix string) *Guard {
	return &Guard{bucket: bucket, prefix: prefix}
}

// Exists reports whether path is present. A missing object is not an error.
func (g *Guard) Exists(ctx context.Context, path string) (bool, error) {
	if strings.TrimSpace(path) == "" {
		return false, fmt.Errorf("path is required")
	}
	ok, err := g.bucket.Exists(ctx, g.prefix+path)
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", g.prefix+path, err)
	}
	return ok, nil
}

// Close releases the bucket.
func (g *Guard) Close() error {
	if err := g.bucket.Close(); err != nil {
		return fmt.Errorf("close bucket: %w", err)
	}
	return nil
}
