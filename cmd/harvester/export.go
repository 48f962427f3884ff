package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/wildfire-harvester/internal/api"
	"github.com/JakeFAU/wildfire-harvester/internal/checkpoint"
	"github.com/JakeFAU/wildfire-harvester/internal/config"
	"github.com/JakeFAU/wildfire-harvester/internal/destination"
	"github.com/JakeFAU/wildfire-harvester/internal/dispatcher"
	"github.com/JakeFAU/wildfire-harvester/internal/earthengine"
	"github.com/JakeFAU/wildfire-harvester/internal/harvest"
	"github.com/JakeFAU/wildfire-harvester/internal/imagery"
	"github.com/JakeFAU/wildfire-harvester/internal/logging"
	"github.com/JakeFAU/wildfire-harvester/internal/manifest"
	"github.com/JakeFAU/wildfire-harvester/internal/pipeline"
	"github.com/JakeFAU/wildfire-harvester/internal/policy/admission"
	"github.com/JakeFAU/wildfire-harvester/internal/progress"
	"github.com/JakeFAU/wildfire-harvester/internal/progress/sinks"
	"github.com/JakeFAU/wildfire-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/wildfire-harvester/internal/storage/blob"
	"github.com/JakeFAU/wildfire-harvester/internal/storage/gcs"
	"github.com/JakeFAU/wildfire-harvester/internal/telemetry"
)

const closeTimeout = 15 * time.Second

func newExportCmd(v *viper.Viper) *cobra.Command {
	var startRow int
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Submit one export per manifest row",
		Long: `Walks the event manifest from the checkpoint (or --start-row), skips rows
whose export already exists in the bucket and submits the rest to Earth Engine.
Exits 10 when nothing new was submitted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			return runExport(cmd.Context(), e, startRow, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&startRow, "start-row", 0, "first manifest row to process; overrides the checkpoint when > 0")
	flags.Int("workers", 0, "worker pool size")
	flags.Int("max-pending", 0, "tracked export backlog ceiling (0 disables backpressure)")
	flags.Bool("advance-on-drop", false, "checkpoint unassigned and no-image rows too")
	flags.String("mode", "", "image selection mode (strict or first)")
	flags.Bool("progress", false, "render a terminal progress bar")
	bindFlag(v, cmd, "pipeline.workers", "workers")
	bindFlag(v, cmd, "pipeline.max_pending", "max-pending")
	bindFlag(v, cmd, "pipeline.advance_on_drop", "advance-on-drop")
	bindFlag(v, cmd, "imagery.mode", "mode")
	bindFlag(v, cmd, "progress.bar", "progress")
	return cmd
}

// cleanups runs registered closers in reverse order.
type cleanups struct {
	logger *zap.Logger
	fns    []func(context.Context) error
	names  []string
}

func (c *cleanups) add(name string, fn func(context.Context) error) {
	c.names = append(c.names, name)
	c.fns = append(c.fns, fn)
}

func (c *cleanups) run() {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	for i := len(c.fns) - 1; i >= 0; i-- {
		if err := c.fns[i](ctx); err != nil {
			c.logger.Warn("close failed", zap.String("component", c.names[i]), zap.Error(err))
		}
	}
}

func runExport(ctx context.Context, e *env, startRow int, out io.Writer) error {
	cfg, logger := e.cfg, e.logger
	if err := cfg.ValidateExport(); err != nil {
		return err
	}
	if startRow < 0 {
		return fmt.Errorf("--start-row must be >= 0")
	}

	closers := &cleanups{logger: logger}
	defer closers.run()

	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	closers.add("telemetry", shutdownTracing)

	index, err := manifest.LoadSplitIndex(cfg.Splits.Files)
	if err != nil {
		return fmt.Errorf("load split manifests: %w", err)
	}
	for _, o := range index.Overlaps() {
		logger.Warn("split manifests overlap; first partition wins",
			zap.String("left", o.Left), zap.String("right", o.Right), zap.Int("shared", o.Count))
	}
	resolver, err := destination.New(index, destination.Config{
		Class:           cfg.Input.Class,
		PrefixedRegions: cfg.Input.PrefixedRegions,
		RegionPrefix:    cfg.Input.RegionPrefix,
	})
	if err != nil {
		return fmt.Errorf("init destination resolver: %w", err)
	}

	ee, err := earthengine.NewDefault(ctx, cfg.EarthEngine, logger)
	if err != nil {
		return fmt.Errorf("init earth engine client: %w", err)
	}
	images, err := imagery.New(ee, cfg.Imagery.Config, logger)
	if err != nil {
		return fmt.Errorf("init image resolver: %w", err)
	}

	clock := clockwork.NewRealClock()
	gate := admission.New(cfg.Export.Admission, clock)
	disp, err := dispatcher.New(ee, gate, cfg.Export.Config, clock, logger)
	if err != nil {
		return fmt.Errorf("init dispatcher: %w", err)
	}

	guard, err := openGuard(ctx, cfg, closers)
	if err != nil {
		return err
	}

	store, err := checkpoint.Open(ctx, cfg.Checkpoint)
	if err != nil {
		return fmt.Errorf("open checkpoint: %w", err)
	}
	closers.add("checkpoint", func(context.Context) error { return store.Close() })
	if startRow == 0 {
		if startRow, err = checkpoint.Resume(ctx, store); err != nil {
			return fmt.Errorf("load checkpoint: %w", err)
		}
	}

	total, err := manifest.CountRows(cfg.Input.Manifest)
	if err != nil {
		return fmt.Errorf("count manifest rows: %w", err)
	}
	source, err := manifest.Open(cfg.Input.Manifest, cfg.Input.Columns)
	if err != nil {
		return fmt.Errorf("open manifest: %w", err)
	}
	closers.add("manifest", func(context.Context) error { return source.Close() })

	sideFiles, err := openSideFiles(cfg.SideFiles, closers)
	if err != nil {
		return err
	}

	var publisher harvest.Publisher
	if cfg.PubSub.Enabled {
		pub, err := pubsub.Open(ctx, cfg.PubSub.Config)
		if err != nil {
			return fmt.Errorf("open pubsub: %w", err)
		}
		closers.add("pubsub", func(context.Context) error { return pub.Close() })
		publisher = pub
	}

	tracker := progress.NewTracker()
	hubSinks := []progress.Sink{tracker, sinks.NewLogSink(logger)}
	if cfg.Progress.Bar {
		hubSinks = append(hubSinks, sinks.NewBarSink(os.Stderr))
	}
	hub := progress.NewHub(progress.Config{Logger: logger}, hubSinks...)
	closers.add("progress", hub.Close)

	seed := cfg.Imagery.ShiftSeed
	if seed == 0 {
		seed = rand.Uint64()
	}

	pcfg := cfg.Pipeline
	pcfg.ExpectedRows = int64(max(total-startRow, 0))
	driver, err := pipeline.New(pipeline.Deps{
		Source:       source,
		Destinations: resolver,
		Guard:        guard,
		Images:       images,
		Dispatcher:   disp,
		Checkpoint:   store,
		Publisher:    publisher,
		Progress:     hub,
		Shifter:      imagery.NewShifter(seed),
		SideFiles:    sideFiles,
		Logger:       logger,
	}, pcfg)
	if err != nil {
		return fmt.Errorf("init pipeline: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	runCtx, stopServer := context.WithCancel(gctx)
	if cfg.Server.Enabled {
		server := api.NewServer(api.Options{
			Status:  tracker,
			Backlog: disp,
			Ready:   driver.Ready,
			APIKey:  cfg.Server.APIKey,
			Logger:  logger,
		})
		g.Go(func() error {
			return server.ListenAndServe(runCtx, cfg.Server.Addr, cfg.Server.ShutdownTimeout)
		})
	}

	logger.Info("export starting",
		zap.String("manifest", cfg.Input.Manifest),
		zap.String("class", string(cfg.Input.Class)),
		zap.Int("start_row", startRow),
		zap.Int("rows", total),
		zap.String("mode", string(cfg.Imagery.Mode)),
		zap.String("bucket", cfg.Export.Bucket),
	)
	var summary pipeline.Summary
	g.Go(func() error {
		defer stopServer()
		var err error
		summary, err = driver.Run(runCtx, startRow)
		return err
	})
	err = g.Wait()
	stopServer()

	fmt.Fprintf(out, "rows=%d dispatched=%d skipped=%d unassigned=%d no_image=%d malformed=%d failed=%d checkpoint=%d\n",
		summary.Rows, summary.Dispatched, summary.Skipped, summary.Unassigned,
		summary.NoImage, summary.Malformed, summary.Failed, summary.Checkpoint)

	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("export interrupted; resume from the checkpoint", zap.Int("checkpoint", summary.Checkpoint))
		}
		return fmt.Errorf("export run: %w", err)
	}
	if summary.Dispatched == 0 {
		logger.Info("no new exports submitted")
		return &exitError{code: ExitNothingSubmitted}
	}
	return nil
}

func openGuard(ctx context.Context, cfg config.Config, closers *cleanups) (harvest.ExistenceChecker, error) {
	switch cfg.Storage.Backend {
	case config.StorageBlob:
		g, err := blob.Open(ctx, cfg.Storage.Blob)
		if err != nil {
			return nil, fmt.Errorf("open blob guard: %w", err)
		}
		closers.add("blob", func(context.Context) error { return g.Close() })
		return g, nil
	default:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		closers.add("gcs", func(context.Context) error { return client.Close() })
		g, err := gcs.New(client, cfg.Storage.GCS)
		if err != nil {
			return nil, fmt.Errorf("init gcs guard: %w", err)
		}
		return g, nil
	}
}

func openSideFiles(cfg config.SideFilesConfig, closers *cleanups) (pipeline.SideFiles, error) {
	open := func(path string) (*logging.SideFile, error) {
		if path == "" {
			return logging.DiscardSideFile(), nil
		}
		sf, err := logging.OpenSideFile(path)
		if err != nil {
			return nil, err
		}
		closers.add(path, func(context.Context) error { return sf.Close() })
		return sf, nil
	}
	missing, err := open(cfg.MissingSplit)
	if err != nil {
		return pipeline.SideFiles{}, err
	}
	exported, err := open(cfg.AlreadyExported)
	if err != nil {
		return pipeline.SideFiles{}, err
	}
	submitted, err := open(cfg.Submitted)
	if err != nil {
		return pipeline.SideFiles{}, err
	}
	return pipeline.SideFiles{MissingSplit: missing, AlreadyExported: exported, Submitted: submitted}, nil
}
