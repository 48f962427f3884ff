package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if rowsTotal == nil || submissionsTotal == nil || backlogJobs == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveRow(t *testing.T) {
	before := testutil.ToFloat64(rowsTotalFor(OutcomeSkipped))
	ObserveRow(OutcomeSkipped)
	ObserveRow(OutcomeSkipped)
	if got := testutil.ToFloat64(rowsTotalFor(OutcomeSkipped)) - before; got != 2 {
		t.Errorf("expected 2 skipped rows, got %f", got)
	}
}

func TestObserveSubmission(t *testing.T) {
	Init()
	ok := testutil.ToFloat64(submissionsTotal)
	failed := testutil.ToFloat64(submitFailuresTotal)

	ObserveSubmission(nil)
	ObserveSubmission(errors.New("quota exceeded"))

	if got := testutil.ToFloat64(submissionsTotal) - ok; got != 1 {
		t.Errorf("expected 1 submission, got %f", got)
	}
	if got := testutil.ToFloat64(submitFailuresTotal) - failed; got != 1 {
		t.Errorf("expected 1 failure, got %f", got)
	}
}

func TestGauges(t *testing.T) {
	SetBacklog(7)
	if got := testutil.ToFloat64(backlogJobs); got != 7 {
		t.Errorf("backlog gauge = %f, want 7", got)
	}
	SetCheckpoint(1234)
	if got := testutil.ToFloat64(checkpointRow); got != 1234 {
		t.Errorf("checkpoint gauge = %f, want 1234", got)
	}
	ObserveAdmissionWait(150 * time.Millisecond)
	if n := testutil.CollectAndCount(admissionWaitSeconds); n != 1 {
		t.Errorf("expected admission histogram to be collected once, got %d", n)
	}
}

func rowsTotalFor(outcome string) prometheus.Counter {
	Init()
	return rowsTotal.WithLabelValues(outcome)
}
