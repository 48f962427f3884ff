package harvest

import (
	"fmt"
	"math"
	"slices"
	"time"
)

// Class names the dataset class an export belongs to.
type Class string

// Dataset classes written by the harvester.
const (
	ClassFire   Class = "Fire"
	ClassNoFire Class = "No_Fire"
)

// BasenamePrefix returns the prefix used by split manifest filenames for the class.
func (c Class) BasenamePrefix() string {
	if c == ClassNoFire {
		return "no_fire"
	}
	return "fire"
}

// Valid reports whether c is a known class.
func (c Class) Valid() bool {
	return c == ClassFire || c == ClassNoFire
}

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Event is one geocoded detection row from the input manifest.
type Event struct {
	Row       int       `json:"row"`
	Point     Point     `json:"point"`
	Timestamp time.Time `json:"timestamp"`
	Region    string    `json:"region"`
	PointID   string    `json:"point_id"`
}

// HasTimestamp reports whether the manifest supplied a reference time.
func (e Event) HasTimestamp() bool {
	return !e.Timestamp.IsZero()
}

// Destination is the resolved storage location for one event's export.
type Destination struct {
	Partition string `json:"partition"`
	Class     Class  `json:"class"`
	Region    string `json:"region"`
	PointID   string `json:"point_id"`
}

// Key is the export output prefix, e.g. "train/Fire/uruguay_point_12".
func (d Destination) Key() string {
	return fmt.Sprintf("%s/%s/%s_%s", d.Partition, d.Class, d.Region, d.PointID)
}

// ObjectPath is the object written by a successful GeoTIFF export of Key.
func (d Destination) ObjectPath() string {
	return d.Key() + ".tif"
}

// Band describes one image band and the grid it is stored on.
type Band struct {
	ID  string `json:"id"`
	CRS string `json:"crs"`
}

// Image is a catalog entry returned by a Catalog query.
type Image struct {
	ID       string    `json:"id"`
	Acquired time.Time `json:"acquired"`
	Bands    []Band    `json:"bands"`
	CloudPct *float64  `json:"cloud_pct,omitempty"`
}

// HasBands reports whether every required band is present on the image.
func (img Image) HasBands(required []string) bool {
	for _, name := range required {
		if !slices.ContainsFunc(img.Bands, func(b Band) bool { return b.ID == name }) {
			return false
		}
	}
	return true
}

// CRS returns the native CRS of the reference band, falling back to the first
// band with a CRS when the reference band is absent.
func (img Image) CRS(referenceBand string) string {
	for _, b := range img.Bands {
		if b.ID == referenceBand && b.CRS != "" {
			return b.CRS
		}
	}
	for _, b := range img.Bands {
		if b.CRS != "" {
			return b.CRS
		}
	}
	return ""
}

// Polygon is a closed ring of [lon, lat] pairs.
type Polygon [][2]float64

const earthRadiusMeters = 6371008.8

// Buffer approximates a circle of radius meters around p as a closed polygon.
func Buffer(p Point, meters float64, segments int) Polygon {
	if segments < 8 {
		segments = 8
	}
	ring := make(Polygon, 0, segments+1)
	lat := p.Lat * math.Pi / 180
	lon := p.Lon * math.Pi / 180
	d := meters / earthRadiusMeters
	for i := 0; i < segments; i++ {
		bearing := 2 * math.Pi * float64(i) / float64(segments)
		lat2 := math.Asin(math.Sin(lat)*math.Cos(d) + math.Cos(lat)*math.Sin(d)*math.Cos(bearing))
		lon2 := lon + math.Atan2(
			math.Sin(bearing)*math.Sin(d)*math.Cos(lat),
			math.Cos(d)-math.Sin(lat)*math.Sin(lat2),
		)
		ring = append(ring, [2]float64{lon2 * 180 / math.Pi, lat2 * 180 / math.Pi})
	}
	return append(ring, ring[0])
}

// JobState is the lifecycle state of a remote export job.
type JobState string

// Remote export job states.
const (
	JobSubmitted JobState = "submitted"
	JobActive    JobState = "active"
	JobFinished  JobState = "finished"
	JobFailed    JobState = "failed"
	JobUnknown   JobState = "unknown"
)

// Pending reports whether the job still counts against the remote backlog.
func (s JobState) Pending() bool {
	return s == JobSubmitted || s == JobActive
}
