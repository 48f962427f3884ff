package progress

import (
	"context"
	"maps"
	"sync"
	"time"
)

// Run states reported by Snapshot.
const (
	RunIdle    = "idle"
	RunRunning = "running"
	RunDone    = "done"
)

// Snapshot is the aggregated view of the current run.
type Snapshot struct {
	RunID     string           `json:"run_id,omitempty"`
	State     string           `json:"state"`
	StartedAt time.Time        `json:"started_at,omitzero"`
	UpdatedAt time.Time        `json:"updated_at,omitzero"`
	StartRow  int              `json:"start_row"`
	LastRow   int              `json:"last_row"`
	Rows      int64            `json:"rows"`
	Total     int64            `json:"total,omitempty"`
	Outcomes  map[string]int64 `json:"outcomes"`
	LastNote  string           `json:"last_note,omitempty"`
}

// Tracker is a Sink that folds events into a Snapshot for status queries.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker returns an idle tracker.
func NewTracker() *Tracker {
	return &Tracker{snap: Snapshot{State: RunIdle, Outcomes: map[string]int64{}}}
}

// Consume applies a batch of events.
func (t *Tracker) Consume(_ context.Context, batch []Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, evt := range batch {
		t.snap.UpdatedAt = evt.TS
		switch evt.Stage {
		case StageRunStart:
			t.snap = Snapshot{
				RunID:     evt.RunID.String(),
				State:     RunRunning,
				StartedAt: evt.TS,
				UpdatedAt: evt.TS,
				StartRow:  evt.Row,
				LastRow:   evt.Row,
				Total:     evt.Total,
				Outcomes:  map[string]int64{},
			}
		case StageRow:
			t.snap.Rows++
			t.snap.Outcomes[evt.Outcome]++
			if evt.Row > t.snap.LastRow {
				t.snap.LastRow = evt.Row
			}
			if evt.Note != "" {
				t.snap.LastNote = evt.Note
			}
		case StageRunDone:
			t.snap.State = RunDone
		}
	}
	return nil
}

// Close implements Sink.
func (t *Tracker) Close(context.Context) error { return nil }

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := t.snap
	out.Outcomes = maps.Clone(t.snap.Outcomes)
	return out
}
