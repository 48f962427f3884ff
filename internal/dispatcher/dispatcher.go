// Package dispatcher submits export jobs behind the admission gate and keeps
// the backlog of pending remote jobs used for backpressure.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/JakeFAU/wildfire-harvester/internal/harvest"
	"github.com/JakeFAU/wildfire-harvester/internal/metrics"
	"github.com/JakeFAU/wildfire-harvester/internal/policy/admission"
)

// Defaults applied by New for zero config values.
const (
	DefaultReferenceBand  = "B2"
	DefaultScale          = 10
	DefaultMaxPixels      = 1e13
	DefaultBufferMeters   = 2000
	DefaultBufferSegments = 32
	DefaultPollInterval   = 2 * time.Second

	maxDescriptionLen = 100
)

// Config controls export request construction and backlog tracking.
type Config struct {
	Bucket         string        `mapstructure:"bucket"`
	Bands          []string      `mapstructure:"bands"`
	ReferenceBand  string        `mapstructure:"reference_band"`
	Scale          float64       `mapstructure:"scale"`
	MaxPixels      float64       `mapstructure:"max_pixels"`
	BufferMeters   float64       `mapstructure:"buffer_meters"`
	BufferSegments int           `mapstructure:"buffer_segments"`
	CloudOptimized bool          `mapstructure:"cloud_optimized"`
	TrackBacklog   bool          `mapstructure:"track_backlog"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
}

// Dispatcher serializes export creation and tracks in-flight jobs.
type Dispatcher struct {
	exporter harvest.Exporter
	gate     *admission.Gate
	clock    clockwork.Clock
	cfg      Config
	logger   *zap.Logger

	mu       sync.Mutex
	backlog  []harvest.ExportJob
	reserved int

	pruneMu sync.Mutex
}

// New creates a Dispatcher. A nil clock uses the real clock.
func New(exporter harvest.Exporter, gate *admission.Gate, cfg Config, clock clockwork.Clock, logger *zap.Logger) (*Dispatcher, error) {
	if exporter == nil {
		return nil, errors.New("dispatcher: exporter is required")
	}
	if gate == nil {
		return nil, errors.New("dispatcher: admission gate is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("dispatcher: bucket is required")
	}
	if cfg.PollInterval < 0 {
		return nil, errors.New("dispatcher: poll interval must be non-negative")
	}
	if cfg.ReferenceBand == "" {
		cfg.ReferenceBand = DefaultReferenceBand
	}
	if cfg.Scale <= 0 {
		cfg.Scale = DefaultScale
	}
	if cfg.MaxPixels <= 0 {
		cfg.MaxPixels = DefaultMaxPixels
	}
	if cfg.BufferMeters <= 0 {
		cfg.BufferMeters = DefaultBufferMeters
	}
	if cfg.BufferSegments <= 0 {
		cfg.BufferSegments = DefaultBufferSegments
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		exporter: exporter,
		gate:     gate,
		clock:    clock,
		cfg:      cfg,
		logger:   logger.Named("dispatcher"),
	}, nil
}

// Region returns the export region around p.
func (d *Dispatcher) Region(p harvest.Point) harvest.Polygon {
	return harvest.Buffer(p, d.cfg.BufferMeters, d.cfg.BufferSegments)
}

// Submit starts one export for image into dest, clipped to region. It holds the
// admission permit for the start call plus the jittered delay, and records the
// job in the backlog when tracking is enabled. A slot reserved by WaitForSlot is
// consumed whether or not the submission succeeds.
func (d *Dispatcher) Submit(ctx context.Context, image harvest.Image, dest harvest.Destination, region harvest.Polygon) (harvest.ExportJob, error) {
	defer d.consumeReservation()

	req := harvest.ExportRequest{
		Image:          image,
		Bands:          d.cfg.Bands,
		Bucket:         d.cfg.Bucket,
		OutputPrefix:   dest.Key(),
		Description:    Description(dest),
		Region:         region,
		CRS:            image.CRS(d.cfg.ReferenceBand),
		Scale:          d.cfg.Scale,
		MaxPixels:      d.cfg.MaxPixels,
		CloudOptimized: d.cfg.CloudOptimized,
	}

	var job harvest.ExportJob
	err := d.gate.Do(ctx, func(ctx context.Context) error {
		var err error
		job, err = d.exporter.StartExport(ctx, req)
		return err
	})
	metrics.ObserveSubmission(err)
	if err != nil {
		return nil, fmt.Errorf("start export %s: %w", req.OutputPrefix, err)
	}

	if d.cfg.TrackBacklog {
		d.mu.Lock()
		d.backlog = append(d.backlog, job)
		n := len(d.backlog)
		d.mu.Unlock()
		metrics.SetBacklog(n)
	}
	d.logger.Info("export submitted",
		zap.String("key", req.OutputPrefix),
		zap.String("image", image.ID),
		zap.String("job", job.ID()),
		zap.String("crs", req.CRS),
	)
	return job, nil
}

func (d *Dispatcher) consumeReservation() {
	d.mu.Lock()
	if d.reserved > 0 {
		d.reserved--
	}
	d.mu.Unlock()
}

// Pending returns the number of tracked jobs.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.backlog)
}

// Prune drops finished and failed jobs from the backlog and returns how many
// remain. Jobs whose status cannot be queried are kept.
func (d *Dispatcher) Prune(ctx context.Context) int {
	d.pruneMu.Lock()
	defer d.pruneMu.Unlock()

	d.mu.Lock()
	snapshot := append([]harvest.ExportJob(nil), d.backlog...)
	d.mu.Unlock()

	drop := make(map[string]struct{})
	for _, job := range snapshot {
		if ctx.Err() != nil {
			break
		}
		state, err := job.Status(ctx)
		if err != nil {
			d.logger.Warn("job status query failed; keeping job", zap.String("job", job.ID()), zap.Error(err))
			continue
		}
		if state == harvest.JobFinished || state == harvest.JobFailed {
			drop[job.ID()] = struct{}{}
			if state == harvest.JobFailed {
				d.logger.Warn("export job failed", zap.String("job", job.ID()))
			}
		}
	}

	d.mu.Lock()
	kept := d.backlog[:0]
	for _, job := range d.backlog {
		if _, ok := drop[job.ID()]; !ok {
			kept = append(kept, job)
		}
	}
	clear(d.backlog[len(kept):])
	d.backlog = kept
	n := len(d.backlog)
	d.mu.Unlock()

	metrics.SetBacklog(n)
	return n
}

// WaitForSlot blocks until the backlog plus outstanding reservations is below
// maxPending, pruning on every iteration and sleeping PollInterval between
// attempts. On success it reserves one slot for the caller's next Submit.
// maxPending <= 0 disables the check.
func (d *Dispatcher) WaitForSlot(ctx context.Context, maxPending int) error {
	if maxPending <= 0 {
		return nil
	}
	for {
		if d.tryReserve(maxPending) {
			return nil
		}
		remaining := d.Prune(ctx)
		if d.tryReserve(maxPending) {
			return nil
		}
		d.logger.Debug("backlog full; waiting",
			zap.Int("pending", remaining),
			zap.Int("max_pending", maxPending),
		)
		if err := d.sleep(ctx); err != nil {
			return err
		}
	}
}

func (d *Dispatcher) tryReserve(maxPending int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.backlog)+d.reserved < maxPending {
		d.reserved++
		return true
	}
	return false
}

func (d *Dispatcher) sleep(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("wait for slot: %w", err)
	}
	if d.cfg.PollInterval == 0 {
		return nil
	}
	timer := d.clock.NewTimer(d.cfg.PollInterval)
	defer timer.Stop()
	select {
	case <-timer.Chan():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for slot: %w", ctx.Err())
	}
}

// Description derives the remote task description for dest. The service
// accepts at most 100 characters from a restricted set.
func Description(dest harvest.Destination) string {
	raw := fmt.Sprintf("%s_%s_%s", dest.Class.BasenamePrefix(), dest.Region, dest.PointID)
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
		if b.Len() >= maxDescriptionLen {
			break
		}
	}
	return b.String()
}
