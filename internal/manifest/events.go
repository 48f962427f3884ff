// Package manifest reads the detection event manifest and the per-partition
// split manifests.
package manifest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/relvacode/iso8601"

	"github.com/JakeFAU/wildfire-harvester/internal/harvest"
)

// ErrMalformedRow marks a row whose required fields could not be parsed.
var ErrMalformedRow = errors.New("malformed manifest row")

// Columns names the manifest columns holding each event attribute.
type Columns struct {
	Latitude  string `mapstructure:"latitude"`
	Longitude string `mapstructure:"longitude"`
	Timestamp string `mapstructure:"timestamp"`
	Region    string `mapstructure:"region"`
	Thumbnail string `mapstructure:"thumbnail"`
}

// DefaultColumns matches the merged detection feature manifest.
func DefaultColumns() Columns {
	return Columns{
		Latitude:  "latitude",
		Longitude: "longitude",
		Timestamp: "image_date",
		Region:    "country",
		Thumbnail: "thumbnail_file",
	}
}

// EventReader streams events from a CSV manifest.
type EventReader struct {
	csv    *csv.Reader
	closer io.Closer
	idx    columnIndex
	row    int
}

type columnIndex struct {
	lat, lon, ts, region, thumb int
}

// Open opens the manifest at path.
func Open(path string, cols Columns) (*EventReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	r, err := NewEventReader(f, cols)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// NewEventReader reads the header from src and prepares to stream events.
func NewEventReader(src io.Reader, cols Columns) (*EventReader, error) {
	reader := csv.NewReader(src)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read manifest header: %w", err)
	}
	positions := make(map[string]int, len(header))
	for i, name := range header {
		positions[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	find := func(name string) (int, error) {
		i, ok := positions[name]
		if !ok {
			return 0, fmt.Errorf("manifest missing required column %q", name)
		}
		return i, nil
	}

	var idx columnIndex
	for _, c := range []struct {
		dst  *int
		name string
	}{
		{&idx.lat, cols.Latitude},
		{&idx.lon, cols.Longitude},
		{&idx.ts, cols.Timestamp},
		{&idx.region, cols.Region},
		{&idx.thumb, cols.Thumbnail},
	} {
		if *c.dst, err = find(c.name); err != nil {
			return nil, err
		}
	}
	return &EventReader{csv: reader, idx: idx}, nil
}

// Next returns the next event. It returns io.EOF after the last row. A row that
// fails to parse yields an error wrapping ErrMalformedRow; the reader stays
// usable and the following call moves on to the next row. Any other read error
// is returned as is and the reader should not be used again.
func (r *EventReader) Next() (harvest.Event, error) {
	record, err := r.csv.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return harvest.Event{}, io.EOF
		}
		var parseErr *csv.ParseError
		if !errors.As(err, &parseErr) {
			return harvest.Event{}, fmt.Errorf("read manifest row %d: %w", r.row, err)
		}
		row := r.row
		r.row++
		return harvest.Event{Row: row}, fmt.Errorf("%w: row %d: %w", ErrMalformedRow, row, err)
	}
	row := r.row
	r.row++
	event, err := r.parse(row, record)
	if err != nil {
		return harvest.Event{Row: row}, fmt.Errorf("%w: row %d: %w", ErrMalformedRow, row, err)
	}
	return event, nil
}

// Close releases the underlying file, if any.
func (r *EventReader) Close() error {
	if r.closer == nil {
		return nil
	}
	if err := r.closer.Close(); err != nil {
		return fmt.Errorf("close manifest: %w", err)
	}
	return nil
}

func (r *EventReader) parse(row int, record []string) (harvest.Event, error) {
	field := func(i int) string {
		if i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}
	lat, err := strconv.ParseFloat(field(r.idx.lat), 64)
	if err != nil {
		return harvest.Event{}, fmt.Errorf("latitude: %w", err)
	}
	lon, err := strconv.ParseFloat(field(r.idx.lon), 64)
	if err != nil {
		return harvest.Event{}, fmt.Errorf("longitude: %w", err)
	}
	ts, err := ParseTimestamp(field(r.idx.ts))
	if err != nil {
		return harvest.Event{}, fmt.Errorf("timestamp: %w", err)
	}
	thumb := field(r.idx.thumb)
	pointID := strings.TrimSuffix(thumb, filepath.Ext(thumb))
	if pointID == "" {
		return harvest.Event{}, fmt.Errorf("empty thumbnail filename")
	}
	return harvest.Event{
		Row:       row,
		Point:     harvest.Point{Lat: lat, Lon: lon},
		Timestamp: ts,
		Region:    field(r.idx.region),
		PointID:   pointID,
	}, nil
}

// ParseTimestamp parses an ISO-8601 time with an optional UTC marker. Blank and
// NaN-like values yield the zero time, meaning the row has no reference time.
func ParseTimestamp(raw string) (time.Time, error) {
	switch strings.ToLower(raw) {
	case "", "nan", "nat", "null", "none":
		return time.Time{}, nil
	}
	if len(raw) > 10 && raw[10] == ' ' {
		raw = raw[:10] + "T" + raw[11:]
	}
	ts, err := iso8601.ParseString(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %q: %w", raw, err)
	}
	return ts.UTC(), nil
}

// CountRows returns the number of data rows in the manifest at path.
func CountRows(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open manifest: %w", err)
	}
	defer func() { _ = f.Close() }()

	reader := csv.NewReader(f)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true
	n := -1
	for {
		if _, err := reader.Read(); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			var parseErr *csv.ParseError
			if !errors.As(err, &parseErr) {
				return 0, fmt.Errorf("count manifest rows: %w", err)
			}
		}
		n++
	}
	if n < 0 {
		n = 0
	}
	return n, nil
}
