// Package gcs checks Google Cloud Storage for previously exported objects.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the bucket probed by the guard.
type Config struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// Guard reports whether an export object already exists in a bucket.
type Guard struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed existence guard.
func New(client *storage.Client, cfg Config) (*Guard, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Guard{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// Exists probes the object metadata. A missing object is not an error.
func (g *Guard) Exists(ctx context.Context, path string) (bool, error) {
	if strings.TrimSpace(path) == "" {
		return false, fmt.Errorf("path is required")
	}
	name := g.prefix + path
	_, err := g.client.Bucket(g.bucket).Object(name).Attrs(ctx)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrObjectNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat gs://%s/%s: %w", g.bucket, name, err)
	}
}

// URI returns the gs:// location of path.
func (g *Guard) URI(path string) string {
	return fmt.Sprintf("gs://%s/%s%s", g.bucket, g.prefix, path)
}
