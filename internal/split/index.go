// Package split maps output basenames to dataset partitions (train/val/test).
package split

import (
	"sort"
	"strings"
)

// DefaultPartitions is the lookup order used when none is configured.
var DefaultPartitions = []string{"train", "val", "test"}

// Index is a read-only mapping from basename to partition. Partitions are
// consulted in registration order and the first containing set wins.
type Index struct {
	order []string
	sets  map[string]map[string]struct{}
}

// Overlap counts basenames shared by two partitions.
type Overlap struct {
	Left  string
	Right string
	Count int
}

// New creates an empty Index.
func New() *Index {
	return &Index{sets: make(map[string]map[string]struct{})}
}

// Add registers names under partition. Adding to an existing partition merges
// into its set without changing lookup order.
func (ix *Index) Add(partition string, names []string) {
	set, ok := ix.sets[partition]
	if !ok {
		set = make(map[string]struct{}, len(names))
		ix.sets[partition] = set
		ix.order = append(ix.order, partition)
	}
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		set[name] = struct{}{}
	}
}

// Lookup returns the first partition whose set contains basename.
func (ix *Index) Lookup(basename string) (string, bool) {
	for _, partition := range ix.order {
		if _, ok := ix.sets[partition][basename]; ok {
			return partition, true
		}
	}
	return "", false
}

// Partitions returns partition names in lookup order.
func (ix *Index) Partitions() []string {
	out := make([]string, len(ix.order))
	copy(out, ix.order)
	return out
}

// Size returns the number of basenames registered under partition.
func (ix *Index) Size(partition string) int {
	return len(ix.sets[partition])
}

// Overlaps reports every partition pair that shares at least one basename.
func (ix *Index) Overlaps() []Overlap {
	var out []Overlap
	for i := 0; i < len(ix.order); i++ {
		for j := i + 1; j < len(ix.order); j++ {
			left, right := ix.sets[ix.order[i]], ix.sets[ix.order[j]]
			if len(right) < len(left) {
				left, right = right, left
			}
			count := 0
			for name := range left {
				if _, ok := right[name]; ok {
					count++
				}
			}
			if count > 0 {
				out = append(out, Overlap{Left: ix.order[i], Right: ix.order[j], Count: count})
			}
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Count > out[b].Count })
	return out
}
