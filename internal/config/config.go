// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/wildfire-harvester/internal/checkpoint"
	"github.com/JakeFAU/wildfire-harvester/internal/dispatcher"
	"github.com/JakeFAU/wildfire-harvester/internal/earthengine"
	"github.com/JakeFAU/wildfire-harvester/internal/harvest"
	"github.com/JakeFAU/wildfire-harvester/internal/imagery"
	"github.com/JakeFAU/wildfire-harvester/internal/logging"
	"github.com/JakeFAU/wildfire-harvester/internal/manifest"
	"github.com/JakeFAU/wildfire-harvester/internal/pipeline"
	"github.com/JakeFAU/wildfire-harvester/internal/policy/admission"
	"github.com/JakeFAU/wildfire-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/wildfire-harvester/internal/storage/blob"
	"github.com/JakeFAU/wildfire-harvester/internal/storage/gcs"
	"github.com/JakeFAU/wildfire-harvester/internal/telemetry"
)

// EnvPrefix prefixes every environment override, e.g. HARVESTER_PIPELINE_WORKERS.
const EnvPrefix = "HARVESTER"

// Storage backends for the existence guard.
const (
	StorageGCS  = "gcs"
	StorageBlob = "blob"
)

// Band subsets exported per dataset class.
var (
	FireBands   = []string{"B1", "B2", "B3", "B4", "B5", "B6", "B7", "B8", "B8A", "B9", "B11", "B12"}
	NoFireBands = []string{"B2", "B3", "B4", "B8", "B11", "B12"}
)

// Config captures all harvester configuration loaded via Viper.
type Config struct {
	Logging     logging.Config     `mapstructure:"logging"`
	Input       InputConfig        `mapstructure:"input"`
	Splits      SplitsConfig       `mapstructure:"splits"`
	Pipeline    pipeline.Config    `mapstructure:"pipeline"`
	Imagery     ImageryConfig      `mapstructure:"imagery"`
	Export      ExportConfig       `mapstructure:"export"`
	EarthEngine earthengine.Config `mapstructure:"earthengine"`
	Storage     StorageConfig      `mapstructure:"storage"`
	Checkpoint  checkpoint.Config  `mapstructure:"checkpoint"`
	PubSub      PubSubConfig       `mapstructure:"pubsub"`
	Server      ServerConfig       `mapstructure:"server"`
	Telemetry   telemetry.Config   `mapstructure:"telemetry"`
	SideFiles   SideFilesConfig    `mapstructure:"side_files"`
	Progress    ProgressConfig     `mapstructure:"progress"`
}

// InputConfig locates the event manifest and controls key derivation.
type InputConfig struct {
	Manifest        string           `mapstructure:"manifest"`
	Columns         manifest.Columns `mapstructure:"columns"`
	Class           harvest.Class    `mapstructure:"class"`
	RegionPrefix    string           `mapstructure:"region_prefix"`
	PrefixedRegions []string         `mapstructure:"prefixed_regions"`
}

// SplitsConfig lists split manifests in lookup order.
type SplitsConfig struct {
	Files []manifest.SplitFile `mapstructure:"files"`
}

// ImageryConfig selects the collection and candidate filter.
type ImageryConfig struct {
	imagery.Config `mapstructure:",squash"`
	// ShiftSeed seeds the no-fire date shift. Zero picks a random seed.
	ShiftSeed uint64 `mapstructure:"shift_seed"`
}

// ExportConfig shapes export requests and the admission gate.
type ExportConfig struct {
	dispatcher.Config `mapstructure:",squash"`
	Admission         admission.Config `mapstructure:"admission"`
}

// StorageConfig picks the existence guard backend.
type StorageConfig struct {
	Backend string      `mapstructure:"backend"`
	GCS     gcs.Config  `mapstructure:"gcs"`
	Blob    blob.Config `mapstructure:"blob"`
}

// PubSubConfig enables dispatch notifications.
type PubSubConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	pubsub.Config `mapstructure:",squash"`
}

// ServerConfig controls the optional ops HTTP server.
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// APIKey guards the /v1 routes when set.
	APIKey string `mapstructure:"api_key"`
}

// SideFilesConfig names the append-only outcome lists. Empty paths disable a list.
type SideFilesConfig struct {
	MissingSplit    string `mapstructure:"missing_split"`
	AlreadyExported string `mapstructure:"already_exported"`
	Submitted       string `mapstructure:"submitted"`
}

// ProgressConfig toggles the terminal progress bar.
type ProgressConfig struct {
	Bar bool `mapstructure:"bar"`
}

// Load builds a Config from disk/environment. Flags already bound to v take
// precedence over both.
func Load(v *viper.Viper, path string) (Config, error) {
	if v == nil {
		v = viper.New()
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.applyDerived()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")

	cols := manifest.DefaultColumns()
	v.SetDefault("input.columns.latitude", cols.Latitude)
	v.SetDefault("input.columns.longitude", cols.Longitude)
	v.SetDefault("input.columns.timestamp", cols.Timestamp)
	v.SetDefault("input.columns.region", cols.Region)
	v.SetDefault("input.columns.thumbnail", cols.Thumbnail)
	v.SetDefault("input.class", string(harvest.ClassFire))
	v.SetDefault("input.region_prefix", "modis_")
	v.SetDefault("input.prefixed_regions", []string{"uruguay", "new_zealand", "ireland", "france", "finland", "cuba"})

	v.SetDefault("splits.files", []map[string]any{
		{"partition": "train", "path": "splits/train.csv"},
		{"partition": "val", "path": "splits/val.csv"},
		{"partition": "test", "path": "splits/test.csv"},
	})

	v.SetDefault("pipeline.workers", pipeline.DefaultWorkers)
	v.SetDefault("pipeline.max_pending", 500)
	v.SetDefault("pipeline.advance_on_drop", false)
	v.SetDefault("pipeline.shift_targets", false)

	v.SetDefault("imagery.collection", "COPERNICUS/S2_SR_HARMONIZED")
	v.SetDefault("imagery.mode", string(imagery.ModeStrict))
	v.SetDefault("imagery.before", "12h")
	v.SetDefault("imagery.after", "12h")
	v.SetDefault("imagery.required_bands", []string{"B2", "B3", "B4", "B8"})
	v.SetDefault("imagery.max_cloud_pct", 0)
	v.SetDefault("imagery.shift_seed", 0)

	v.SetDefault("export.bucket", "fire_model_dataset")
	v.SetDefault("export.bands", []string{})
	v.SetDefault("export.reference_band", dispatcher.DefaultReferenceBand)
	v.SetDefault("export.scale", dispatcher.DefaultScale)
	v.SetDefault("export.max_pixels", dispatcher.DefaultMaxPixels)
	v.SetDefault("export.buffer_meters", dispatcher.DefaultBufferMeters)
	v.SetDefault("export.buffer_segments", dispatcher.DefaultBufferSegments)
	v.SetDefault("export.cloud_optimized", true)
	v.SetDefault("export.track_backlog", true)
	v.SetDefault("export.poll_interval", dispatcher.DefaultPollInterval)
	v.SetDefault("export.admission.base_delay", admission.DefaultBaseDelay)
	v.SetDefault("export.admission.jitter", admission.DefaultJitter)
	v.SetDefault("export.admission.max_submissions_per_second", 0)

	v.SetDefault("earthengine.project", "")
	v.SetDefault("earthengine.catalog_project", earthengine.DefaultCatalogProject)
	v.SetDefault("earthengine.base_url", earthengine.DefaultBaseURL)
	v.SetDefault("earthengine.page_size", earthengine.DefaultPageSize)
	v.SetDefault("earthengine.timeout", earthengine.DefaultTimeout)
	v.SetDefault("earthengine.retry_count", 3)
	v.SetDefault("earthengine.cloud_property", earthengine.DefaultCloudProperty)

	v.SetDefault("storage.backend", StorageGCS)
	v.SetDefault("storage.gcs.bucket", "")
	v.SetDefault("storage.gcs.prefix", "")
	v.SetDefault("storage.blob.url", "")
	v.SetDefault("storage.blob.prefix", "")

	v.SetDefault("checkpoint.backend", checkpoint.BackendFile)
	v.SetDefault("checkpoint.path", checkpoint.DefaultPath)
	v.SetDefault("checkpoint.postgres.dsn", "")
	v.SetDefault("checkpoint.postgres.table", "harvester_checkpoints")
	v.SetDefault("checkpoint.postgres.name", "default")
	v.SetDefault("checkpoint.postgres.max_conns", 4)
	v.SetDefault("checkpoint.postgres.max_conn_lifetime", "30m")

	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "harvester-exports")

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.addr", ":9090")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.api_key", "")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "wildfire-harvester")
	v.SetDefault("telemetry.version", "dev")
	v.SetDefault("telemetry.project_id", "")
	v.SetDefault("telemetry.sample_ratio", 1.0)

	v.SetDefault("side_files.missing_split", "missing_split.txt")
	v.SetDefault("side_files.already_exported", "already_exported.txt")
	v.SetDefault("side_files.submitted", "submitted.txt")

	v.SetDefault("progress.bar", false)
}

// applyDerived fills values that depend on other settings.
func (c *Config) applyDerived() {
	if len(c.Export.Bands) == 0 {
		c.Export.Bands = c.ClassBands()
	}
	if c.Storage.GCS.Bucket == "" {
		c.Storage.GCS.Bucket = c.Export.Bucket
	}
	if c.Storage.Blob.URL == "" && c.Export.Bucket != "" {
		c.Storage.Blob.URL = "gs://" + c.Export.Bucket
	}
	c.Pipeline.Before = c.Imagery.Before
	c.Pipeline.After = c.Imagery.After
	if c.PubSub.Enabled {
		c.Pipeline.Topic = c.PubSub.Topic
	}
	if c.Input.Class == harvest.ClassNoFire && !c.Pipeline.ShiftTargets {
		c.Pipeline.ShiftTargets = true
	}
}

// ClassBands returns the band subset exported for the configured class.
func (c Config) ClassBands() []string {
	if c.Input.Class == harvest.ClassNoFire {
		return append([]string(nil), NoFireBands...)
	}
	return append([]string(nil), FireBands...)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if !c.Input.Class.Valid() {
		return fmt.Errorf("input.class must be %q or %q", harvest.ClassFire, harvest.ClassNoFire)
	}
	if len(c.Splits.Files) == 0 {
		return fmt.Errorf("splits.files must list at least one partition")
	}
	for i, f := range c.Splits.Files {
		if f.Partition == "" || f.Path == "" {
			return fmt.Errorf("splits.files[%d] needs partition and path", i)
		}
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be > 0")
	}
	if c.Pipeline.MaxPending < 0 {
		return fmt.Errorf("pipeline.max_pending must be >= 0")
	}
	if c.Imagery.Before < 0 || c.Imagery.After < 0 {
		return fmt.Errorf("imagery.before and imagery.after must be >= 0")
	}
	switch c.Imagery.Mode {
	case imagery.ModeStrict, imagery.ModeFirst:
	default:
		return fmt.Errorf("imagery.mode must be %q or %q", imagery.ModeStrict, imagery.ModeFirst)
	}
	if c.Imagery.MaxCloudPct < 0 || c.Imagery.MaxCloudPct > 100 {
		return fmt.Errorf("imagery.max_cloud_pct must be within [0, 100]")
	}
	if c.Export.Bucket == "" {
		return fmt.Errorf("export.bucket is required")
	}
	if c.Export.Scale <= 0 {
		return fmt.Errorf("export.scale must be > 0")
	}
	if c.Export.PollInterval < 0 {
		return fmt.Errorf("export.poll_interval must be >= 0")
	}
	if c.Export.Admission.BaseDelay < 0 || c.Export.Admission.Jitter < 0 {
		return fmt.Errorf("export.admission delays must be >= 0")
	}
	switch c.Storage.Backend {
	case StorageGCS, StorageBlob:
	default:
		return fmt.Errorf("storage.backend must be %q or %q", StorageGCS, StorageBlob)
	}
	switch c.Checkpoint.Backend {
	case checkpoint.BackendFile, checkpoint.BackendNone:
	case checkpoint.BackendPostgres:
		if c.Checkpoint.Postgres.DSN == "" {
			return fmt.Errorf("checkpoint.postgres.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown checkpoint.backend %q", c.Checkpoint.Backend)
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.Topic == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic must be set when pubsub is enabled")
	}
	if c.Server.Enabled && c.Server.Addr == "" {
		return fmt.Errorf("server.addr must be set when the server is enabled")
	}
	return nil
}

// ValidateExport checks what the export command needs beyond Validate.
func (c Config) ValidateExport() error {
	if c.Input.Manifest == "" {
		return fmt.Errorf("input.manifest is required")
	}
	if c.EarthEngine.Project == "" {
		return fmt.Errorf("earthengine.project is required")
	}
	return nil
}
