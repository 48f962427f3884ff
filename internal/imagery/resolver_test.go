package imagery

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/wildfire-harvester/internal/harvest"
)

type fakeCatalog struct {
	images []harvest.Image
	err    error
	last   harvest.CatalogQuery
}

func (f *fakeCatalog) Query(_ context.Context, q harvest.CatalogQuery) ([]harvest.Image, error) {
	f.last = q
	return f.images, f.err
}

var target = time.Date(2022, 1, 10, 12, 0, 0, 0, time.UTC)

func image(id string, offset time.Duration, bands ...string) harvest.Image {
	img := harvest.Image{ID: id, Acquired: target.Add(offset)}
	for _, b := range bands {
		img.Bands = append(img.Bands, harvest.Band{ID: b, CRS: "EPSG:32721"})
	}
	return img
}

func pct(v float64) *float64 { return &v }

func newResolver(t *testing.T, cat harvest.Catalog, cfg Config) *Resolver {
	t.Helper()
	if cfg.Collection == "" {
		cfg.Collection = "COPERNICUS/S2_SR_HARMONIZED"
	}
	r, err := New(cat, cfg, nil)
	require.NoError(t, err)
	return r
}

func TestNewValidates(t *testing.T) {
	t.Parallel()
	_, err := New(nil, Config{Collection: "c"}, nil)
	require.Error(t, err)
	_, err = New(&fakeCatalog{}, Config{}, nil)
	require.Error(t, err)
	_, err = New(&fakeCatalog{}, Config{Collection: "c", Mode: "closest"}, nil)
	require.Error(t, err)
	_, err = New(&fakeCatalog{}, Config{Collection: "c", Before: -time.Hour}, nil)
	require.Error(t, err)

	r, err := New(&fakeCatalog{}, Config{Collection: "c"}, nil)
	require.NoError(t, err)
	require.Equal(t, ModeStrict, r.cfg.Mode)
}

func TestResolvePicksClosestInWindow(t *testing.T) {
	t.Parallel()
	cat := &fakeCatalog{images: []harvest.Image{
		image("far-before", -20*time.Hour, "B2"),
		image("before", -3*time.Hour, "B2"),
		image("after", 2*time.Hour, "B2"),
		image("outside", 13*time.Hour, "B2"),
	}}
	r := newResolver(t, cat, Config{RequiredBands: []string{"B2"}})

	img, err := r.Resolve(context.Background(), harvest.Point{Lat: 1, Lon: 2}, target, 12*time.Hour, 12*time.Hour)
	require.NoError(t, err)
	require.NotNil(t, img)
	require.Equal(t, "after", img.ID)

	require.Equal(t, target.Add(-12*time.Hour), cat.last.Start)
	require.Equal(t, target.Add(12*time.Hour), cat.last.End)
	require.Equal(t, harvest.Point{Lat: 1, Lon: 2}, cat.last.Point)
}

func TestResolveWindowCorrectness(t *testing.T) {
	t.Parallel()
	cat := &fakeCatalog{images: []harvest.Image{
		image("too-early", -12*time.Hour-time.Second, "B2"),
		image("too-late", 12*time.Hour+time.Second, "B2"),
	}}
	r := newResolver(t, cat, Config{})

	img, err := r.Resolve(context.Background(), harvest.Point{}, target, 12*time.Hour, 12*time.Hour)
	require.NoError(t, err)
	require.Nil(t, img)

	cat.images = append(cat.images, image("edge", 12*time.Hour, "B2"))
	img, err = r.Resolve(context.Background(), harvest.Point{}, target, 12*time.Hour, 12*time.Hour)
	require.NoError(t, err)
	require.Equal(t, "edge", img.ID)
	require.False(t, img.Acquired.Before(target.Add(-12*time.Hour)))
	require.False(t, img.Acquired.After(target.Add(12*time.Hour)))
}

func TestResolveTiesGoToEarliest(t *testing.T) {
	t.Parallel()
	cat := &fakeCatalog{images: []harvest.Image{
		image("before", -time.Hour),
		image("after", time.Hour),
	}}
	r := newResolver(t, cat, Config{})

	img, err := r.Resolve(context.Background(), harvest.Point{}, target, 12*time.Hour, 12*time.Hour)
	require.NoError(t, err)
	require.Equal(t, "before", img.ID)
}

func TestResolveStrictFilters(t *testing.T) {
	t.Parallel()
	cloudy := image("cloudy", 0, "B2", "B3", "B4", "B8")
	cloudy.CloudPct = pct(80)
	partial := image("partial", 0, "B2", "B3")
	sunny := image("clear", 5*time.Hour, "B2", "B3", "B4", "B8")
	sunny.CloudPct = pct(5)

	cat := &fakeCatalog{images: []harvest.Image{cloudy, partial, sunny}}
	r := newResolver(t, cat, Config{
		RequiredBands: []string{"B2", "B3", "B4", "B8"},
		MaxCloudPct:   20,
	})

	img, err := r.Resolve(context.Background(), harvest.Point{}, target, 12*time.Hour, 12*time.Hour)
	require.NoError(t, err)
	require.Equal(t, "clear", img.ID)
}

func TestResolveFirstModeIsUnchecked(t *testing.T) {
	t.Parallel()
	cat := &fakeCatalog{images: []harvest.Image{
		image("no-bands", 11*time.Hour),
		image("good", 0, "B2"),
	}}
	r := newResolver(t, cat, Config{Mode: ModeFirst, RequiredBands: []string{"B2"}})

	img, err := r.Resolve(context.Background(), harvest.Point{}, target, 12*time.Hour, 12*time.Hour)
	require.NoError(t, err)
	require.Equal(t, "no-bands", img.ID)
}

func TestResolveEmptyAndErrors(t *testing.T) {
	t.Parallel()
	cat := &fakeCatalog{}
	r := newResolver(t, cat, Config{})

	img, err := r.Resolve(context.Background(), harvest.Point{}, target, time.Hour, time.Hour)
	require.NoError(t, err)
	require.Nil(t, img)

	boom := errors.New("quota")
	cat.err = boom
	_, err = r.Resolve(context.Background(), harvest.Point{}, target, time.Hour, time.Hour)
	require.ErrorIs(t, err, boom)
}

func TestPastShiftRange(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewPCG(1, 2))
	for range 500 {
		shifted := PastShift(target, rng)
		days := int(target.Sub(shifted).Hours() / 24)
		require.GreaterOrEqual(t, days, 30)
		require.LessOrEqual(t, days, 30*13+5*30)
		require.Zero(t, days%5)
	}
}

func TestShifterIsDeterministic(t *testing.T) {
	t.Parallel()
	a, b := NewShifter(42), NewShifter(42)
	for range 20 {
		require.Equal(t, a.Shift(target), b.Shift(target))
	}
}
