// Package imagery picks the catalog image used for one event export.
package imagery

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/wildfire-harvester/internal/harvest"
)

// Mode selects how candidates are chosen.
type Mode string

// Resolution modes.
const (
	// ModeStrict filters candidates and returns the one closest to the target.
	ModeStrict Mode = "strict"
	// ModeFirst returns the first catalog result without checks.
	ModeFirst Mode = "first"
)

// Config controls image resolution.
type Config struct {
	Collection    string        `mapstructure:"collection"`
	Mode          Mode          `mapstructure:"mode"`
	Before        time.Duration `mapstructure:"before"`
	After         time.Duration `mapstructure:"after"`
	RequiredBands []string      `mapstructure:"required_bands"`
	MaxCloudPct   float64       `mapstructure:"max_cloud_pct"`
}

// Resolver queries a catalog and selects one image per event.
type Resolver struct {
	catalog harvest.Catalog
	cfg     Config
	logger  *zap.Logger
}

// New validates cfg and returns a resolver backed by catalog.
func New(catalog harvest.Catalog, cfg Config, logger *zap.Logger) (*Resolver, error) {
	if catalog == nil {
		return nil, errors.New("imagery: catalog is required")
	}
	if cfg.Collection == "" {
		return nil, errors.New("imagery: collection is required")
	}
	switch cfg.Mode {
	case "":
		cfg.Mode = ModeStrict
	case ModeStrict, ModeFirst:
	default:
		return nil, fmt.Errorf("imagery: unknown mode %q", cfg.Mode)
	}
	if cfg.Before < 0 || cfg.After < 0 {
		return nil, errors.New("imagery: window bounds must be non-negative")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{catalog: catalog, cfg: cfg, logger: logger.Named("imagery")}, nil
}

// Window returns the configured search window around target.
func (r *Resolver) Window() (before, after time.Duration) {
	return r.cfg.Before, r.cfg.After
}

// Resolve returns the best image for point within [target-before, target+after].
// It returns (nil, nil) when no suitable image exists.
func (r *Resolver) Resolve(ctx context.Context, point harvest.Point, target time.Time, before, after time.Duration) (*harvest.Image, error) {
	start, end := target.Add(-before), target.Add(after)
	images, err := r.catalog.Query(ctx, harvest.CatalogQuery{
		Collection: r.cfg.Collection,
		Point:      point,
		Start:      start,
		End:        end,
		Bands:      r.cfg.RequiredBands,
	})
	if err != nil {
		return nil, fmt.Errorf("query catalog: %w", err)
	}
	if len(images) == 0 {
		return nil, nil
	}
	if r.cfg.Mode == ModeFirst {
		img := images[0]
		return &img, nil
	}

	var (
		best     *harvest.Image
		bestDiff time.Duration
	)
	for i := range images {
		img := images[i]
		if img.Acquired.Before(start) || img.Acquired.After(end) {
			continue
		}
		if !img.HasBands(r.cfg.RequiredBands) {
			continue
		}
		if r.cfg.MaxCloudPct > 0 && img.CloudPct != nil && *img.CloudPct > r.cfg.MaxCloudPct {
			continue
		}
		diff := absDuration(img.Acquired.Sub(target))
		if best == nil || diff < bestDiff || (diff == bestDiff && img.Acquired.Before(best.Acquired)) {
			best, bestDiff = &img, diff
		}
	}
	if best == nil {
		r.logger.Debug("no candidate passed filters",
			zap.Int("candidates", len(images)),
			zap.Time("target", target),
		)
	}
	return best, nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		if d == math.MinInt64 {
			return math.MaxInt64
		}
		return -d
	}
	return d
}
