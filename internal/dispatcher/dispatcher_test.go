package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/wildfire-harvester/internal/harvest"
	"github.com/JakeFAU/wildfire-harvester/internal/policy/admission"
)

type fakeJob struct {
	id    string
	mu    sync.Mutex
	state harvest.JobState
	err   error
}

func (j *fakeJob) ID() string { return j.id }

func (j *fakeJob) Status(context.Context) (harvest.JobState, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state, j.err
}

func (j *fakeJob) set(state harvest.JobState, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state, j.err = state, err
}

type fakeExporter struct {
	mu       sync.Mutex
	requests []harvest.ExportRequest
	jobs     []*fakeJob
	err      error
}

func (f *fakeExporter) StartExport(_ context.Context, req harvest.ExportRequest) (harvest.ExportJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.requests = append(f.requests, req)
	job := &fakeJob{id: fmt.Sprintf("op-%d", len(f.jobs)), state: harvest.JobSubmitted}
	f.jobs = append(f.jobs, job)
	return job, nil
}

func (f *fakeExporter) snapshot() []*fakeJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeJob(nil), f.jobs...)
}

func newDispatcher(t *testing.T, exp harvest.Exporter, cfg Config, clock clockwork.Clock) *Dispatcher {
	t.Helper()
	if cfg.Bucket == "" {
		cfg.Bucket = "fire-bucket"
	}
	d, err := New(exp, admission.New(admission.Config{}, nil), cfg, clock, zap.NewNop())
	require.NoError(t, err)
	return d
}

var (
	testImage = harvest.Image{
		ID:       "COPERNICUS/S2/img",
		Acquired: time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC),
		Bands:    []harvest.Band{{ID: "B1", CRS: "EPSG:4326"}, {ID: "B2", CRS: "EPSG:32721"}},
	}
	testDest = harvest.Destination{Partition: "train", Class: harvest.ClassFire, Region: "modis_uruguay", PointID: "point_7"}
)

func TestNewValidates(t *testing.T) {
	t.Parallel()
	gate := admission.New(admission.Config{}, nil)
	_, err := New(nil, gate, Config{Bucket: "b"}, nil, nil)
	require.Error(t, err)
	_, err = New(&fakeExporter{}, nil, Config{Bucket: "b"}, nil, nil)
	require.Error(t, err)
	_, err = New(&fakeExporter{}, gate, Config{}, nil, nil)
	require.Error(t, err)
	_, err = New(&fakeExporter{}, gate, Config{Bucket: "b", PollInterval: -time.Second}, nil, nil)
	require.Error(t, err)
}

func TestSubmitBuildsRequest(t *testing.T) {
	t.Parallel()
	exp := &fakeExporter{}
	d := newDispatcher(t, exp, Config{Bands: []string{"B2", "B3"}, CloudOptimized: true}, nil)

	region := d.Region(harvest.Point{Lat: -34, Lon: -56})
	job, err := d.Submit(context.Background(), testImage, testDest, region)
	require.NoError(t, err)
	require.Equal(t, "op-0", job.ID())

	require.Len(t, exp.requests, 1)
	req := exp.requests[0]
	require.Equal(t, "train/Fire/modis_uruguay_point_7", req.OutputPrefix)
	require.Equal(t, "fire-bucket", req.Bucket)
	require.Equal(t, "EPSG:32721", req.CRS)
	require.Equal(t, []string{"B2", "B3"}, req.Bands)
	require.Equal(t, float64(DefaultScale), req.Scale)
	require.Equal(t, float64(DefaultMaxPixels), req.MaxPixels)
	require.True(t, req.CloudOptimized)
	require.Equal(t, "fire_modis_uruguay_point_7", req.Description)
	require.Len(t, req.Region, DefaultBufferSegments+1)

	// Tracking is off by default.
	require.Zero(t, d.Pending())
}

func TestSubmitFailureIsReturned(t *testing.T) {
	t.Parallel()
	boom := errors.New("too many tasks")
	d := newDispatcher(t, &fakeExporter{err: boom}, Config{TrackBacklog: true}, nil)
	_, err := d.Submit(context.Background(), testImage, testDest, nil)
	require.ErrorIs(t, err, boom)
	require.Zero(t, d.Pending())
}

func TestPruneKeepsPendingAndUnqueryable(t *testing.T) {
	t.Parallel()
	exp := &fakeExporter{}
	d := newDispatcher(t, exp, Config{TrackBacklog: true}, nil)
	for range 5 {
		_, err := d.Submit(context.Background(), testImage, testDest, nil)
		require.NoError(t, err)
	}
	jobs := exp.snapshot()
	jobs[0].set(harvest.JobFinished, nil)
	jobs[1].set(harvest.JobFailed, nil)
	jobs[2].set(harvest.JobActive, nil)
	jobs[3].set(harvest.JobUnknown, errors.New("status unavailable"))
	// jobs[4] stays submitted.

	require.Equal(t, 3, d.Prune(context.Background()))
	require.Equal(t, 3, d.Pending())

	jobs[3].set(harvest.JobFinished, nil)
	require.Equal(t, 2, d.Prune(context.Background()))
}

func TestWaitForSlotDisabled(t *testing.T) {
	t.Parallel()
	d := newDispatcher(t, &fakeExporter{}, Config{TrackBacklog: true}, nil)
	require.NoError(t, d.WaitForSlot(context.Background(), 0))
}

func TestWaitForSlotPollsUntilPruned(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClock()
	exp := &fakeExporter{}
	d := newDispatcher(t, exp, Config{TrackBacklog: true, PollInterval: 2 * time.Second}, clock)

	_, err := d.Submit(context.Background(), testImage, testDest, nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- d.WaitForSlot(context.Background(), 1) }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	select {
	case <-done:
		t.Fatal("WaitForSlot returned while backlog was full")
	default:
	}

	exp.snapshot()[0].set(harvest.JobFinished, nil)
	clock.Advance(2 * time.Second)
	require.NoError(t, <-done)
	require.Zero(t, d.Pending())
}

func TestWaitForSlotHonoursContext(t *testing.T) {
	t.Parallel()
	exp := &fakeExporter{}
	d := newDispatcher(t, exp, Config{TrackBacklog: true, PollInterval: time.Hour}, clockwork.NewFakeClock())
	_, err := d.Submit(context.Background(), testImage, testDest, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, d.WaitForSlot(ctx, 1), context.Canceled)
}

func TestBacklogNeverExceedsMaxPending(t *testing.T) {
	t.Parallel()
	const maxPending = 3
	exp := &fakeExporter{}
	d := newDispatcher(t, exp, Config{TrackBacklog: true}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var peak atomic.Int64
	stop := make(chan struct{})
	finisher := make(chan struct{})
	// Completes jobs slowly so workers keep hitting the ceiling.
	go func() {
		defer close(finisher)
		for {
			select {
			case <-stop:
				return
			case <-time.After(2 * time.Millisecond):
			}
			for _, job := range exp.snapshot() {
				if s, _ := job.Status(ctx); s == harvest.JobSubmitted {
					job.set(harvest.JobFinished, nil)
					break
				}
			}
		}
	}()

	var wg sync.WaitGroup
	for w := range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 5 {
				if err := d.WaitForSlot(ctx, maxPending); err != nil {
					t.Errorf("worker %d: %v", w, err)
					return
				}
				if _, err := d.Submit(ctx, testImage, testDest, nil); err != nil {
					t.Errorf("worker %d: %v", w, err)
					return
				}
				if n := int64(d.Pending()); n > peak.Load() {
					peak.Store(n)
				}
			}
		}()
	}
	wg.Wait()
	close(stop)
	<-finisher

	require.LessOrEqual(t, peak.Load(), int64(maxPending))
	require.Len(t, exp.snapshot(), 30)
}

func TestDescriptionSanitizes(t *testing.T) {
	t.Parallel()
	dest := harvest.Destination{Class: harvest.ClassNoFire, Region: "new zealand", PointID: "pt.9"}
	require.Equal(t, "no_fire_new_zealand_pt_9", Description(dest))

	long := harvest.Destination{Class: harvest.ClassFire, Region: strings.Repeat("r", 200), PointID: "p"}
	require.Len(t, Description(long), maxDescriptionLen)
}
