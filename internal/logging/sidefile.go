package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// SideFile appends one bare line per record to a shared text file. Writes from
// concurrent goroutines are serialized.
type SideFile struct {
	logger *zap.Logger
	closer func() error
}

// OpenSideFile opens path for appending, creating it when missing.
func OpenSideFile(path string) (*SideFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create side file directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open side file %q: %w", path, err)
	}
	sf := NewSideFile(f)
	sf.closer = func() error {
		if err := f.Sync(); err != nil {
			_ = f.Close()
			return fmt.Errorf("sync side file %q: %w", path, err)
		}
		return f.Close()
	}
	return sf, nil
}

// NewSideFile writes records to ws.
func NewSideFile(ws zapcore.WriteSyncer) *SideFile {
	enc := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		MessageKey: "msg",
		LineEnding: zapcore.DefaultLineEnding,
	})
	core := zapcore.NewCore(enc, zapcore.Lock(ws), zapcore.DebugLevel)
	return &SideFile{logger: zap.New(core), closer: func() error { return nil }}
}

// DiscardSideFile drops every record.
func DiscardSideFile() *SideFile {
	return &SideFile{logger: zap.NewNop(), closer: func() error { return nil }}
}

// Record appends line.
func (s *SideFile) Record(line string) {
	s.logger.Info(line)
}

// Close flushes and closes the underlying file.
func (s *SideFile) Close() error {
	_ = s.logger.Sync()
	return s.closer()
}
