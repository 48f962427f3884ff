package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart Stage = "RUN_START"
	StageRow      Stage = "ROW"
	StageRunDone  Stage = "RUN_DONE"
)

// Event captures one harvest milestone.
type Event struct {
	// RunID identifies the harvest run.
	RunID uuid.UUID
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// Row is the manifest row index for row events, or the start row for RUN_START.
	Row int
	// Outcome is the terminal state the row reached.
	Outcome string
	// Key is the destination key when one was resolved.
	Key string
	// Total is the number of rows the run expects to visit, when known.
	Total int64
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == uuid.Nil {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone:
	case StageRow:
		if e.Outcome == "" {
			return errors.New("row event requires an outcome")
		}
		if e.Row < 0 {
			return errors.New("row index must be >= 0")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	return nil
}
