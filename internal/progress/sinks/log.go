package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/wildfire-harvester/internal/progress"
)

// LogSink writes each event at debug level and run boundaries at info.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunID.String()),
			zap.String("stage", string(evt.Stage)),
			zap.Int("row", evt.Row),
		}
		switch evt.Stage {
		case progress.StageRow:
			fields = append(fields, zap.String("outcome", evt.Outcome), zap.String("key", evt.Key))
			if evt.Note != "" {
				fields = append(fields, zap.String("note", evt.Note))
			}
			s.logger.Debug("row handled", fields...)
		default:
			s.logger.Info("run progress", fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
