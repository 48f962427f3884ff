// Package checkpoint persists the index of the last manifest row that reached
// a terminal outcome, so interrupted runs can resume.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoCheckpoint is returned by Load when nothing has been saved yet.
	ErrNoCheckpoint = errors.New("no checkpoint found")
	// ErrLocked is returned when another process holds the checkpoint.
	ErrLocked = errors.New("checkpoint is locked by another process")
)

// Backends selectable through Config.Backend.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendNone     = "none"
)

// Store reads and writes the checkpoint. Implementations are safe for
// concurrent use.
type Store interface {
	Load(ctx context.Context) (int, error)
	Save(ctx context.Context, row int) error
	Close() error
}

// Config selects and configures the checkpoint backend.
type Config struct {
	Backend  string         `mapstructure:"backend"`
	Path     string         `mapstructure:"path"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig controls the Postgres backend.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	Name            string        `mapstructure:"name"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// Open builds the store selected by cfg.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", BackendFile:
		return NewFileStore(cfg.Path)
	case BackendPostgres:
		return NewPostgresStore(ctx, cfg.Postgres)
	case BackendNone:
		return Noop{}, nil
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Backend)
	}
}

// Resume returns the saved row, or 0 when no checkpoint exists.
func Resume(ctx context.Context, s Store) (int, error) {
	row, err := s.Load(ctx)
	if errors.Is(err, ErrNoCheckpoint) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return row, nil
}

// Noop discards saves and never has a checkpoint.
type Noop struct{}

// Load always reports ErrNoCheckpoint.
func (Noop) Load(context.Context) (int, error) { return 0, ErrNoCheckpoint }

// Save does nothing.
func (Noop) Save(context.Context, int) error { return nil }

// Close does nothing.
func (Noop) Close() error { return nil }
