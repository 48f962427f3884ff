package sinks

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/wildfire-harvester/internal/progress"
)

func TestLogSink(t *testing.T) {
	t.Parallel()
	core, logs := observer.New(zap.DebugLevel)
	sink := NewLogSink(zap.New(core))

	id := uuid.New()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: id, TS: time.Now(), Stage: progress.StageRunStart},
		{RunID: id, TS: time.Now(), Stage: progress.StageRow, Row: 4, Outcome: "unassigned", Note: "no split"},
	}))
	require.NoError(t, sink.Close(context.Background()))

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, "run progress", entries[0].Message)
	require.Equal(t, "row handled", entries[1].Message)
	require.Equal(t, "unassigned", entries[1].ContextMap()["outcome"])
	require.Equal(t, "no split", entries[1].ContextMap()["note"])
}

func TestBarSinkCountsRows(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	sink := NewBarSink(&out)

	id := uuid.New()
	// Rows before the run starts have no bar to advance.
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: id, TS: time.Now(), Stage: progress.StageRow, Outcome: "skipped"},
	}))
	require.Zero(t, sink.Current())

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: id, TS: time.Now(), Stage: progress.StageRunStart, Total: 10},
		{RunID: id, TS: time.Now(), Stage: progress.StageRow, Outcome: "skipped"},
		{RunID: id, TS: time.Now(), Stage: progress.StageRow, Outcome: "dispatched"},
	}))
	require.EqualValues(t, 2, sink.Current())
	require.NoError(t, sink.Close(context.Background()))
}
