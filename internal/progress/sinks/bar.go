package sinks

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/JakeFAU/wildfire-harvester/internal/progress"
)

// BarSink renders a terminal progress bar over the manifest rows.
type BarSink struct {
	out io.Writer
	bar *progressbar.ProgressBar
}

// NewBarSink draws to out. The bar is sized by the RUN_START event total.
func NewBarSink(out io.Writer) *BarSink {
	return &BarSink{out: out}
}

// Consume advances the bar by the number of row events.
func (s *BarSink) Consume(_ context.Context, batch []progress.Event) error {
	rows := 0
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			total := evt.Total
			if total <= 0 {
				total = -1
			}
			s.bar = progressbar.NewOptions64(total,
				progressbar.OptionSetWriter(s.out),
				progressbar.OptionSetDescription("harvesting rows"),
				progressbar.OptionShowCount(),
				progressbar.OptionShowIts(),
				progressbar.OptionSetItsString("rows"),
				progressbar.OptionThrottle(200*time.Millisecond),
				progressbar.OptionClearOnFinish(),
			)
		case progress.StageRow:
			rows++
		}
	}
	if s.bar == nil || rows == 0 {
		return nil
	}
	if err := s.bar.Add(rows); err != nil {
		return fmt.Errorf("advance progress bar: %w", err)
	}
	return nil
}

// Close finishes the bar.
func (s *BarSink) Close(context.Context) error {
	if s.bar == nil {
		return nil
	}
	if err := s.bar.Finish(); err != nil {
		return fmt.Errorf("finish progress bar: %w", err)
	}
	return nil
}

// Current reports rows counted so far.
func (s *BarSink) Current() int64 {
	if s.bar == nil {
		return 0
	}
	return s.bar.State().CurrentNum
}
