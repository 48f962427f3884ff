// Package pipeline drives manifest rows through destination resolution, the
// existence guard, image resolution and export dispatch on a worker pool.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/wildfire-harvester/internal/destination"
	"github.com/JakeFAU/wildfire-harvester/internal/harvest"
	"github.com/JakeFAU/wildfire-harvester/internal/manifest"
	"github.com/JakeFAU/wildfire-harvester/internal/metrics"
	"github.com/JakeFAU/wildfire-harvester/internal/progress"
	"github.com/JakeFAU/wildfire-harvester/internal/telemetry"
)

// ErrCheckpoint marks a failed checkpoint write. It aborts the run.
var ErrCheckpoint = errors.New("checkpoint save failed")

// ErrNotRunning is reported by Ready outside of Run.
var ErrNotRunning = errors.New("pipeline not running")

// DefaultWorkers is the pool size used when Config.Workers is unset.
const DefaultWorkers = 8

// Source yields manifest events in row order and io.EOF when exhausted.
type Source interface {
	Next() (harvest.Event, error)
}

// DestinationResolver maps an event to its partitioned output key.
type DestinationResolver interface {
	Resolve(e harvest.Event) (harvest.Destination, error)
	Basename(e harvest.Event) string
}

// ImageResolver picks the image to export for a point and time.
type ImageResolver interface {
	Resolve(ctx context.Context, point harvest.Point, target time.Time, before, after time.Duration) (*harvest.Image, error)
}

// Dispatcher submits exports behind the admission gate and backlog bound.
type Dispatcher interface {
	Region(p harvest.Point) harvest.Polygon
	WaitForSlot(ctx context.Context, maxPending int) error
	Submit(ctx context.Context, image harvest.Image, dest harvest.Destination, region harvest.Polygon) (harvest.ExportJob, error)
}

// Recorder appends one line to a side file.
type Recorder interface {
	Record(line string)
}

// Shifter moves a target time, used to sample imagery away from the event.
type Shifter interface {
	Shift(t time.Time) time.Time
}

// SideFiles receive one line per row reaching the matching outcome. Nil
// recorders are skipped.
type SideFiles struct {
	MissingSplit    Recorder
	AlreadyExported Recorder
	Submitted       Recorder
}

// Config controls the driver.
type Config struct {
	Workers int `mapstructure:"workers"`
	// MaxPending bounds the tracked export backlog. Zero disables backpressure.
	MaxPending int `mapstructure:"max_pending"`
	// AdvanceOnDrop also checkpoints unassigned, no-image and malformed rows.
	AdvanceOnDrop bool `mapstructure:"advance_on_drop"`
	// ShiftTargets applies the Shifter to every event timestamp.
	ShiftTargets bool `mapstructure:"shift_targets"`
	// Before and After bound the image search around the target time.
	Before time.Duration `mapstructure:"-"`
	After  time.Duration `mapstructure:"-"`
	// Topic receives one notification per dispatched export when a Publisher is set.
	Topic string `mapstructure:"-"`
	// ExpectedRows sizes progress reporting. Zero means unknown.
	ExpectedRows int64 `mapstructure:"-"`
}

// Deps are the collaborators a Driver coordinates. Publisher, Progress and
// Shifter are optional.
type Deps struct {
	Source       Source
	Destinations DestinationResolver
	Guard        harvest.ExistenceChecker
	Images       ImageResolver
	Dispatcher   Dispatcher
	Checkpoint   harvest.CheckpointStore
	Publisher    harvest.Publisher
	Progress     progress.Emitter
	Shifter      Shifter
	SideFiles    SideFiles
	Logger       *zap.Logger
}

// Summary counts row outcomes for one run.
type Summary struct {
	RunID      uuid.UUID `json:"run_id"`
	StartRow   int       `json:"start_row"`
	Rows       int       `json:"rows"`
	Dispatched int       `json:"dispatched"`
	Skipped    int       `json:"skipped"`
	Unassigned int       `json:"unassigned"`
	NoImage    int       `json:"no_image"`
	Malformed  int       `json:"malformed"`
	Failed     int       `json:"failed"`
	// Checkpoint is the last row written to the store, or -1 when none was.
	Checkpoint int `json:"checkpoint"`
}

// Notification is published for every dispatched export.
type Notification struct {
	RunID       string    `json:"run_id"`
	Row         int       `json:"row"`
	Key         string    `json:"key"`
	Partition   string    `json:"partition"`
	Class       string    `json:"class"`
	Region      string    `json:"region"`
	PointID     string    `json:"point_id"`
	ImageID     string    `json:"image_id"`
	JobID       string    `json:"job_id"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Driver runs the per-row state machine over a Source.
type Driver struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger

	saveMu  sync.Mutex
	running atomic.Bool

	sumMu   sync.Mutex
	summary Summary
}

// New validates deps and returns a Driver.
func New(deps Deps, cfg Config) (*Driver, error) {
	switch {
	case deps.Source == nil:
		return nil, fmt.Errorf("source is required")
	case deps.Destinations == nil:
		return nil, fmt.Errorf("destination resolver is required")
	case deps.Guard == nil:
		return nil, fmt.Errorf("existence guard is required")
	case deps.Images == nil:
		return nil, fmt.Errorf("image resolver is required")
	case deps.Dispatcher == nil:
		return nil, fmt.Errorf("dispatcher is required")
	case deps.Checkpoint == nil:
		return nil, fmt.Errorf("checkpoint store is required")
	case cfg.ShiftTargets && deps.Shifter == nil:
		return nil, fmt.Errorf("shift_targets requires a shifter")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.MaxPending < 0 {
		return nil, fmt.Errorf("max_pending must be >= 0, got %d", cfg.MaxPending)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{deps: deps, cfg: cfg, logger: logger.Named("pipeline")}, nil
}

// Run processes every row at or after startRow until the source is exhausted,
// ctx is cancelled, or a checkpoint write fails. Row failures are logged and
// counted without stopping the run.
func (d *Driver) Run(ctx context.Context, startRow int) (Summary, error) {
	if startRow < 0 {
		return Summary{}, fmt.Errorf("start row must be >= 0, got %d", startRow)
	}
	runID := uuid.New()
	d.running.Store(true)
	defer d.running.Store(false)
	d.sumMu.Lock()
	d.summary = Summary{RunID: runID, StartRow: startRow, Checkpoint: -1}
	d.sumMu.Unlock()

	d.emit(progress.Event{RunID: runID, Stage: progress.StageRunStart, Row: startRow, Total: d.cfg.ExpectedRows})
	d.logger.Info("run starting",
		zap.String("run_id", runID.String()),
		zap.Int("start_row", startRow),
		zap.Int("workers", d.cfg.Workers),
		zap.Int("max_pending", d.cfg.MaxPending),
		zap.Bool("advance_on_drop", d.cfg.AdvanceOnDrop),
	)

	g, gctx := errgroup.WithContext(ctx)
	rows := make(chan harvest.Event, d.cfg.Workers)

	g.Go(func() error {
		defer close(rows)
		return d.read(gctx, runID, startRow, rows)
	})
	for range d.cfg.Workers {
		g.Go(func() error {
			metrics.IncActiveWorkers()
			defer metrics.DecActiveWorkers()
			for event := range rows {
				if err := d.process(gctx, runID, event); err != nil {
					return err
				}
			}
			return nil
		})
	}
	err := g.Wait()

	summary := d.Summary()
	d.emit(progress.Event{RunID: runID, Stage: progress.StageRunDone, Row: summary.Checkpoint, Note: errText(err)})
	d.logger.Info("run finished",
		zap.String("run_id", runID.String()),
		zap.Int("rows", summary.Rows),
		zap.Int("dispatched", summary.Dispatched),
		zap.Int("skipped", summary.Skipped),
		zap.Int("unassigned", summary.Unassigned),
		zap.Int("no_image", summary.NoImage),
		zap.Int("malformed", summary.Malformed),
		zap.Int("failed", summary.Failed),
		zap.Int("checkpoint", summary.Checkpoint),
		zap.Error(err),
	)
	if err != nil {
		return summary, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return summary, fmt.Errorf("run interrupted: %w", ctxErr)
	}
	return summary, nil
}

// Ready returns nil while Run is in progress.
func (d *Driver) Ready() error {
	if !d.running.Load() {
		return ErrNotRunning
	}
	return nil
}

// Summary returns the counters of the current or last run.
func (d *Driver) Summary() Summary {
	d.sumMu.Lock()
	defer d.sumMu.Unlock()
	return d.summary
}

// read feeds rows at or after startRow to the workers. Malformed rows are
// handled here since they never produce an event.
func (d *Driver) read(ctx context.Context, runID uuid.UUID, startRow int, rows chan<- harvest.Event) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		event, err := d.deps.Source.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil && !errors.Is(err, manifest.ErrMalformedRow) {
			return fmt.Errorf("read manifest: %w", err)
		}
		if event.Row < startRow {
			continue
		}
		if err != nil {
			d.logger.Warn("malformed manifest row", zap.Int("row", event.Row), zap.Error(err))
			if err := d.finish(ctx, runID, event.Row, "", metrics.OutcomeMalformed, err.Error(), d.cfg.AdvanceOnDrop); err != nil {
				return err
			}
			continue
		}
		select {
		case rows <- event:
		case <-ctx.Done():
			return nil
		}
	}
}

// process walks one row through the state machine. Only checkpoint failures
// are returned.
func (d *Driver) process(ctx context.Context, runID uuid.UUID, event harvest.Event) error {
	if ctx.Err() != nil {
		return nil
	}
	ctx, span := telemetry.Tracer().Start(ctx, "harvest.row", trace.WithAttributes(
		attribute.Int("row", event.Row),
		attribute.String("region", event.Region),
	))
	defer span.End()
	logger := d.logger.With(zap.Int("row", event.Row), zap.String("region", event.Region), zap.String("point", event.PointID))

	dest, err := d.deps.Destinations.Resolve(event)
	if errors.Is(err, destination.ErrUnassigned) {
		basename := d.deps.Destinations.Basename(event)
		logger.Info("event not in any split", zap.String("basename", basename))
		record(d.deps.SideFiles.MissingSplit, basename)
		return d.finish(ctx, runID, event.Row, "", metrics.OutcomeUnassigned, basename, d.cfg.AdvanceOnDrop)
	}
	if err != nil {
		logger.Error("resolve destination failed", zap.Error(err))
		return d.finish(ctx, runID, event.Row, "", metrics.OutcomeError, err.Error(), false)
	}
	key := dest.Key()
	logger = logger.With(zap.String("key", key), zap.String("partition", dest.Partition))

	exists, err := d.deps.Guard.Exists(ctx, dest.ObjectPath())
	if err != nil {
		logger.Error("existence check failed", zap.Error(err))
		return d.finish(ctx, runID, event.Row, key, metrics.OutcomeError, err.Error(), false)
	}
	if exists {
		logger.Debug("already exported")
		record(d.deps.SideFiles.AlreadyExported, key)
		return d.finish(ctx, runID, event.Row, key, metrics.OutcomeSkipped, "", true)
	}

	if !event.HasTimestamp() {
		logger.Info("event has no timestamp")
		return d.finish(ctx, runID, event.Row, key, metrics.OutcomeNoImage, "missing timestamp", d.cfg.AdvanceOnDrop)
	}
	target := event.Timestamp
	if d.cfg.ShiftTargets {
		target = d.deps.Shifter.Shift(target)
	}
	image, err := d.deps.Images.Resolve(ctx, event.Point, target, d.cfg.Before, d.cfg.After)
	if err != nil {
		logger.Error("image lookup failed", zap.Error(err))
		return d.finish(ctx, runID, event.Row, key, metrics.OutcomeError, err.Error(), false)
	}
	if image == nil {
		logger.Info("no suitable image", zap.Time("target", target))
		return d.finish(ctx, runID, event.Row, key, metrics.OutcomeNoImage, "no suitable image", d.cfg.AdvanceOnDrop)
	}

	if err := d.deps.Dispatcher.WaitForSlot(ctx, d.cfg.MaxPending); err != nil {
		logger.Warn("gave up waiting for backlog slot", zap.Error(err))
		return d.finish(ctx, runID, event.Row, key, metrics.OutcomeError, err.Error(), false)
	}
	job, err := d.deps.Dispatcher.Submit(ctx, *image, dest, d.deps.Dispatcher.Region(event.Point))
	if err != nil {
		logger.Error("export submission failed", zap.String("image", image.ID), zap.Error(err))
		return d.finish(ctx, runID, event.Row, key, metrics.OutcomeError, err.Error(), false)
	}
	record(d.deps.SideFiles.Submitted, key)
	d.notify(ctx, logger, Notification{
		RunID:       runID.String(),
		Row:         event.Row,
		Key:         key,
		Partition:   dest.Partition,
		Class:       string(dest.Class),
		Region:      dest.Region,
		PointID:     dest.PointID,
		ImageID:     image.ID,
		JobID:       job.ID(),
		SubmittedAt: time.Now().UTC(),
	})
	return d.finish(ctx, runID, event.Row, key, metrics.OutcomeDispatched, "", true)
}

// finish records a terminal outcome and, when advance is set, checkpoints the
// row. The save is detached from ctx so a cancelled run still persists rows
// it completed.
func (d *Driver) finish(ctx context.Context, runID uuid.UUID, row int, key, outcome, note string, advance bool) error {
	metrics.ObserveRow(outcome)
	d.count(outcome)
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("outcome", outcome), attribute.String("key", key))
	if outcome == metrics.OutcomeError {
		span.SetStatus(codes.Error, note)
	}
	d.emit(progress.Event{RunID: runID, Stage: progress.StageRow, Row: row, Outcome: outcome, Key: key, Note: note})
	if !advance {
		return nil
	}

	d.saveMu.Lock()
	defer d.saveMu.Unlock()
	if err := d.deps.Checkpoint.Save(context.WithoutCancel(ctx), row); err != nil {
		d.logger.Error("checkpoint save failed", zap.Int("row", row), zap.Error(err))
		return fmt.Errorf("%w: row %d: %w", ErrCheckpoint, row, err)
	}
	metrics.SetCheckpoint(row)
	d.sumMu.Lock()
	d.summary.Checkpoint = row
	d.sumMu.Unlock()
	return nil
}

func (d *Driver) count(outcome string) {
	d.sumMu.Lock()
	defer d.sumMu.Unlock()
	d.summary.Rows++
	switch outcome {
	case metrics.OutcomeDispatched:
		d.summary.Dispatched++
	case metrics.OutcomeSkipped:
		d.summary.Skipped++
	case metrics.OutcomeUnassigned:
		d.summary.Unassigned++
	case metrics.OutcomeNoImage:
		d.summary.NoImage++
	case metrics.OutcomeMalformed:
		d.summary.Malformed++
	default:
		d.summary.Failed++
	}
}

func (d *Driver) notify(ctx context.Context, logger *zap.Logger, n Notification) {
	if d.deps.Publisher == nil || d.cfg.Topic == "" {
		return
	}
	id, err := d.deps.Publisher.Publish(ctx, d.cfg.Topic, n)
	if err != nil {
		logger.Warn("publish notification failed", zap.String("topic", d.cfg.Topic), zap.Error(err))
		return
	}
	logger.Debug("notification published", zap.String("message_id", id))
}

func (d *Driver) emit(evt progress.Event) {
	if d.deps.Progress == nil {
		return
	}
	evt.TS = time.Now().UTC()
	d.deps.Progress.Emit(evt)
}

func record(r Recorder, line string) {
	if r != nil {
		r.Record(line)
	}
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
