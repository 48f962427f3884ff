// Package destination derives the canonical output key for an event and looks
// up its dataset partition.
package destination

import (
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/wildfire-harvester/internal/harvest"
)

// ErrUnassigned is returned when an event's basename is absent from every split.
var ErrUnassigned = errors.New("event not present in any split manifest")

// BasenameExt is the extension carried by split manifest filenames.
const BasenameExt = ".png"

// Lookuper resolves a basename to a partition.
type Lookuper interface {
	Lookup(basename string) (string, bool)
}

// Config controls key derivation.
type Config struct {
	Class harvest.Class
	// PrefixedRegions lists regions (case-insensitive) whose tag gets RegionPrefix.
	PrefixedRegions []string
	RegionPrefix    string
}

// Resolver computes destinations from events.
type Resolver struct {
	index    Lookuper
	class    harvest.Class
	prefix   string
	prefixed map[string]struct{}
}

// New builds a Resolver over the given split index.
func New(index Lookuper, cfg Config) (*Resolver, error) {
	if index == nil {
		return nil, fmt.Errorf("split index is required")
	}
	if cfg.Class == "" {
		cfg.Class = harvest.ClassFire
	}
	if !cfg.Class.Valid() {
		return nil, fmt.Errorf("unknown dataset class %q", cfg.Class)
	}
	prefixed := make(map[string]struct{}, len(cfg.PrefixedRegions))
	for _, region := range cfg.PrefixedRegions {
		prefixed[strings.ToLower(strings.TrimSpace(region))] = struct{}{}
	}
	return &Resolver{
		index:    index,
		class:    cfg.Class,
		prefix:   cfg.RegionPrefix,
		prefixed: prefixed,
	}, nil
}

// Region returns the canonical region tag for a raw manifest value.
func (r *Resolver) Region(raw string) string {
	if r.prefix == "" {
		return raw
	}
	if _, ok := r.prefixed[strings.ToLower(raw)]; ok {
		return r.prefix + raw
	}
	return raw
}

// Basename returns the split-manifest filename for the event.
func (r *Resolver) Basename(e harvest.Event) string {
	return fmt.Sprintf("%s_%s_%s%s", r.class.BasenamePrefix(), r.Region(e.Region), e.PointID, BasenameExt)
}

// Resolve returns the event's destination, or ErrUnassigned when no partition
// lists its basename.
func (r *Resolver) Resolve(e harvest.Event) (harvest.Destination, error) {
	basename := r.Basename(e)
	partition, ok := r.index.Lookup(basename)
	if !ok {
		return harvest.Destination{}, fmt.Errorf("%w: %s", ErrUnassigned, basename)
	}
	return harvest.Destination{
		Partition: partition,
		Class:     r.class,
		Region:    r.Region(e.Region),
		PointID:   e.PointID,
	}, nil
}
