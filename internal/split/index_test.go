package split

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIndexLookup(t *testing.T) {
	t.Parallel()

	ix := New()
	ix.Add("train", []string{"fire_uruguay_1.png", "fire_uruguay_2.png"})
	ix.Add("val", []string{"fire_uruguay_3.png"})
	ix.Add("test", []string{" fire_uruguay_4.png ", ""})

	tests := []struct {
		name      string
		basename  string
		partition string
		found     bool
	}{
		{"train hit", "fire_uruguay_1.png", "train", true},
		{"val hit", "fire_uruguay_3.png", "val", true},
		{"trimmed test hit", "fire_uruguay_4.png", "test", true},
		{"absent", "fire_uruguay_9.png", "", false},
		{"empty", "", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			partition, ok := ix.Lookup(tc.basename)
			require.Equal(t, tc.found, ok)
			require.Equal(t, tc.partition, partition)
		})
	}
	require.Equal(t, 1, ix.Size("test"))
}

func TestIndexFirstMatchWins(t *testing.T) {
	t.Parallel()

	ix := New()
	ix.Add("val", []string{"shared.png"})
	ix.Add("train", []string{"shared.png"})

	partition, ok := ix.Lookup("shared.png")
	require.True(t, ok)
	require.Equal(t, "val", partition)
	require.Equal(t, []string{"val", "train"}, ix.Partitions())
}

func TestIndexAddMergesWithoutReordering(t *testing.T) {
	t.Parallel()

	ix := New()
	ix.Add("train", []string{"a.png"})
	ix.Add("val", []string{"b.png"})
	ix.Add("train", []string{"c.png"})

	require.Equal(t, []string{"train", "val"}, ix.Partitions())
	require.Equal(t, 2, ix.Size("train"))
}

func TestIndexOverlaps(t *testing.T) {
	t.Parallel()

	ix := New()
	ix.Add("train", []string{"a.png", "b.png", "c.png"})
	ix.Add("val", []string{"c.png"})
	ix.Add("test", []string{"a.png", "b.png", "z.png"})

	require.Equal(t, []Overlap{
		{Left: "train", Right: "test", Count: 2},
		{Left: "train", Right: "val", Count: 1},
	}, ix.Overlaps())
}
