package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// DefaultPath is used when the file backend has no path configured.
const DefaultPath = "progress.json"

type fileRecord struct {
	LastRow   int       `json:"last_row"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// FileStore keeps the checkpoint in a JSON file. Writes go to a temp file that
// is renamed over the target. An advisory lock next to the file keeps other
// processes out for the lifetime of the store.
type FileStore struct {
	path string
	lock *flock.Flock
	now  func() time.Time

	mu sync.Mutex
}

// NewFileStore opens the store at path and takes its advisory lock.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory: %w", err)
	}
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock checkpoint %q: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("lock checkpoint %q: %w", path, ErrLocked)
	}
	return &FileStore{path: path, lock: lock, now: time.Now}, nil
}

// Path returns the checkpoint file location.
func (s *FileStore) Path() string { return s.path }

// Load reads the saved row.
func (s *FileStore) Load(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, ErrNoCheckpoint
		}
		return 0, fmt.Errorf("read checkpoint file: %w", err)
	}
	var rec fileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return 0, fmt.Errorf("parse checkpoint file: %w", err)
	}
	return rec.LastRow, nil
}

// Save overwrites the checkpoint with row.
func (s *FileStore) Save(_ context.Context, row int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(fileRecord{LastRow: row, UpdatedAt: s.now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create checkpoint temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write checkpoint temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close checkpoint temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace checkpoint file: %w", err)
	}
	return nil
}

// Close releases the advisory lock. The lock file stays on disk so every
// process contends on the same inode.
func (s *FileStore) Close() error {
	if err := s.lock.Unlock(); err != nil {
		return fmt.Errorf("unlock checkpoint: %w", err)
	}
	return nil
}
