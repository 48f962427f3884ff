package harvest

import (
	"context"
	"time"
)

// CatalogQuery selects images covering a point within a time range.
type CatalogQuery struct {
	Collection string
	Point      Point
	Start      time.Time
	End        time.Time
	Bands      []string
}

// Catalog lists images matching a query, ordered by acquisition time ascending.
type Catalog interface {
	Query(ctx context.Context, q CatalogQuery) ([]Image, error)
}

// ExportRequest describes one image crop export to cloud storage.
type ExportRequest struct {
	Image          Image
	Bands          []string
	Bucket         string
	OutputPrefix   string
	Description    string
	Region         Polygon
	CRS            string
	Scale          float64
	MaxPixels      float64
	CloudOptimized bool
}

// Exporter starts remote export jobs. StartExport returns once the job is
// accepted; it does not wait for completion.
type Exporter interface {
	StartExport(ctx context.Context, req ExportRequest) (ExportJob, error)
}

// ExportJob is a handle to a started remote export.
type ExportJob interface {
	ID() string
	Status(ctx context.Context) (JobState, error)
}

// ExistenceChecker probes the destination store for an object.
type ExistenceChecker interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// CheckpointStore persists the index of the last handled manifest row.
type CheckpointStore interface {
	Load(ctx context.Context) (int, error)
	Save(ctx context.Context, row int) error
}

// Publisher pushes submission notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}
