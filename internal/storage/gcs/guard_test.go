package gcs

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

// newTestGuard points a guard at a fake JSON API serving the given objects.
func newTestGuard(t *testing.T, objects map[string]bool, status int) *Guard {
	t.Helper()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, name, ok := strings.Cut(r.URL.Path, "/b/test-bucket/o/")
		if !ok {
			http.NotFound(w, r)
			return
		}
		if status != 0 {
			w.WriteHeader(status)
			fmt.Fprint(w, `{"error":{"code":500,"message":"backend error"}}`)
			return
		}
		if !objects[name] {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":{"code":404,"message":"No such object"}}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"bucket":"test-bucket","name":%q,"size":"42"}`, name)
	})
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(server.URL),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	guard, err := New(client, Config{Bucket: "test-bucket", Prefix: "exports/"})
	require.NoError(t, err)
	return guard
}

func TestNewValidates(t *testing.T) {
	t.Parallel()
	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()
	_, err = New(client, Config{})
	require.Error(t, err)
}

func TestGuardExists(t *testing.T) {
	t.Parallel()
	guard := newTestGuard(t, map[string]bool{"exports/train/Fire/uruguay_p1.tif": true}, 0)

	ok, err := guard.Exists(context.Background(), "train/Fire/uruguay_p1.tif")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = guard.Exists(context.Background(), "train/Fire/uruguay_p2.tif")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = guard.Exists(context.Background(), " ")
	require.Error(t, err)
	require.Equal(t, "gs://test-bucket/exports/a.tif", guard.URI("a.tif"))
}

func TestGuardPropagatesErrors(t *testing.T) {
	t.Parallel()
	guard := newTestGuard(t, nil, http.StatusForbidden)
	ok, err := guard.Exists(context.Background(), "val/Fire/x.tif")
	require.Error(t, err)
	require.False(t, ok)
}
