package destination

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/wildfire-harvester/internal/harvest"
	"github.com/JakeFAU/wildfire-harvester/internal/split"
)

func newIndex() *split.Index {
	ix := split.New()
	ix.Add("train", []string{"fire_modis_Uruguay_point_1.png", "no_fire_Chile_point_7.png"})
	ix.Add("val", []string{"fire_Chile_point_2.png"})
	return ix
}

func TestResolveAssignsPartitionAndKey(t *testing.T) {
	t.Parallel()

	r, err := New(newIndex(), Config{
		Class:           harvest.ClassFire,
		PrefixedRegions: []string{"uruguay", "cuba"},
		RegionPrefix:    "modis_",
	})
	require.NoError(t, err)

	dest, err := r.Resolve(harvest.Event{Region: "Uruguay", PointID: "point_1"})
	require.NoError(t, err)
	require.Equal(t, "train", dest.Partition)
	require.Equal(t, "train/Fire/modis_Uruguay_point_1", dest.Key())

	dest, err = r.Resolve(harvest.Event{Region: "Chile", PointID: "point_2"})
	require.NoError(t, err)
	require.Equal(t, "val/Fire/Chile_point_2.tif", dest.ObjectPath())
}

func TestResolveUnassigned(t *testing.T) {
	t.Parallel()

	r, err := New(newIndex(), Config{Class: harvest.ClassFire})
	require.NoError(t, err)

	_, err = r.Resolve(harvest.Event{Region: "Uruguay", PointID: "point_1"})
	require.ErrorIs(t, err, ErrUnassigned)
	require.Contains(t, err.Error(), "fire_Uruguay_point_1.png")
}

func TestResolveNoFireClass(t *testing.T) {
	t.Parallel()

	r, err := New(newIndex(), Config{Class: harvest.ClassNoFire})
	require.NoError(t, err)

	event := harvest.Event{Region: "Chile", PointID: "point_7"}
	require.Equal(t, "no_fire_Chile_point_7.png", r.Basename(event))

	dest, err := r.Resolve(event)
	require.NoError(t, err)
	require.Equal(t, "train/No_Fire/Chile_point_7", dest.Key())
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{})
	require.Error(t, err)

	_, err = New(newIndex(), Config{Class: "Smoke"})
	require.Error(t, err)

	r, err := New(newIndex(), Config{})
	require.NoError(t, err)
	require.Equal(t, "fire_x_1.png", r.Basename(harvest.Event{Region: "x", PointID: "1"}))
}
