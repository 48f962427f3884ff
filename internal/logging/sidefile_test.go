package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestSideFileWritesBareLines(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	sf := NewSideFile(zapcore.AddSync(&buf))
	sf.Record("fire_uruguay_point_1.png")
	sf.Record("fire_chile_point_2.png")
	require.NoError(t, sf.Close())
	require.Equal(t, "fire_uruguay_point_1.png\nfire_chile_point_2.png\n", buf.String())
}

func TestOpenSideFileAppendsConcurrently(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "logs", "submitted.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("earlier\n"), 0o600))

	sf, err := OpenSideFile(path)
	require.NoError(t, err)
	var wg sync.WaitGroup
	for _, line := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sf.Record(line)
		}()
	}
	wg.Wait()
	require.NoError(t, sf.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	sort.Strings(lines)
	require.Equal(t, []string{"a", "b", "c", "d", "earlier"}, lines)
}

func TestDiscardSideFile(t *testing.T) {
	t.Parallel()
	sf := DiscardSideFile()
	sf.Record("ignored")
	require.NoError(t, sf.Close())
}
