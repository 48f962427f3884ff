package blob

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/memblob"
)

func TestGuardMemBucket(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	bucket := memblob.OpenBucket(nil)
	require.NoError(t, bucket.WriteAll(ctx, "exports/train/Fire/cuba_p1.tif", []byte("tif"), nil))

	guard := New(bucket, "exports/")
	defer func() { require.NoError(t, guard.Close()) }()

	ok, err := guard.Exists(ctx, "train/Fire/cuba_p1.tif")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = guard.Exists(ctx, "train/Fire/cuba_p2.tif")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = guard.Exists(ctx, "")
	require.Error(t, err)
}

func TestOpenFileBucket(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "val", "No_Fire"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "val", "No_Fire", "chile_p3.tif"), []byte("x"), 0o600))

	guard, err := Open(context.Background(), Config{URL: "file://" + filepath.ToSlash(dir)})
	require.NoError(t, err)
	defer func() { require.NoError(t, guard.Close()) }()

	ok, err := guard.Exists(context.Background(), "val/No_Fire/chile_p3.tif")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestOpenRequiresURL(t *testing.T) {
	t.Parallel()
	_, err := Open(context.Background(), Config{})
	require.Error(t, err)
	_, err = Open(context.Background(), Config{URL: "nosuch://bucket"})
	require.Error(t, err)
}
