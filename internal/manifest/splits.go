package manifest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/JakeFAU/wildfire-harvester/internal/split"
)

// FilenameColumn is the column listing basenames in a split manifest.
const FilenameColumn = "filename"

// SplitFile names the manifest listing one partition's basenames.
type SplitFile struct {
	Partition string `mapstructure:"partition"`
	Path      string `mapstructure:"path"`
}

// LoadSplitIndex builds a split.Index from the given files, registering
// partitions in slice order.
func LoadSplitIndex(files []SplitFile) (*split.Index, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("at least one split manifest is required")
	}
	ix := split.New()
	for _, f := range files {
		names, err := LoadFilenames(f.Path)
		if err != nil {
			return nil, fmt.Errorf("load %s split: %w", f.Partition, err)
		}
		ix.Add(f.Partition, names)
	}
	return ix, nil
}

// LoadFilenames reads the filename column from the CSV at path.
func LoadFilenames(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open split manifest: %w", err)
	}
	defer func() { _ = f.Close() }()
	return ReadFilenames(f)
}

// ReadFilenames reads the filename column from CSV content.
func ReadFilenames(src io.Reader) ([]string, error) {
	reader := csv.NewReader(src)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read split header: %w", err)
	}
	col := -1
	for i, name := range header {
		if strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")) == FilenameColumn {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("split manifest missing %q column", FilenameColumn)
	}

	var names []string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read split row: %w", err)
		}
		if col >= len(record) {
			continue
		}
		if name := strings.TrimSpace(record[col]); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}
