package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/ibeckermayer/newsdigest/internal/logging"
	"github.com/ibeckermayer/newsdigest/internal/store"
	"github.com/ibeckermayer/newsdigest/internal/types"
)

// Outcome summarizes a finished run, one entry per stage in graph order.
type Outcome struct {
	RunID    string        `json:"run_id"`
	Slot     types.Slot    `json:"slot"`
	Started  time.Time     `json:"started"`
	Finished time.Time     `json:"finished"`
	Stages   []StageResult `json:"stages"`
}

// Stage returns the result for name.
func (o Outcome) Stage(name string) (StageResult, bool) {
	for _, s := range o.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return StageResult{}, false
}

// Failed returns the stages that ended failed.
func (o Outcome) Failed() []StageResult {
	var out []StageResult
	for _, s := range o.Stages {
		if s.Status == StatusFailed {
			out = append(out, s)
		}
	}
	return out
}

// Succeeded reports whether no stage failed.
func (o Outcome) Succeeded() bool {
	return len(o.Failed()) == 0
}

// Counts tallies stages per status.
func (o Outcome) Counts() map[Status]int {
	counts := map[Status]int{}
	for _, s := range o.Stages {
		counts[s.Status]++
	}
	return counts
}

// OutcomeSink receives the outcome of every run exactly once.
type OutcomeSink interface {
	RecordOutcome(ctx context.Context, o Outcome) error
}

// LogSink writes the outcome as one structured log record.
type LogSink struct {
	Logger *slog.Logger
}

// RecordOutcome logs o.
func (s LogSink) RecordOutcome(ctx context.Context, o Outcome) error {
	attrs := []any{
		"run_id", o.RunID,
		"slot", o.Slot,
		"duration", o.Finished.Sub(o.Started).Round(time.Millisecond),
	}
	for _, st := range o.Stages {
		attrs = append(attrs, st.Name, string(st.Status))
	}

	log := logging.Component(s.Logger, "pipeline")
	if o.Succeeded() {
		log.InfoContext(ctx, "run outcome", attrs...)
	} else {
		log.ErrorContext(ctx, "run outcome", attrs...)
	}
	return nil
}

// BlobSink writes the outcome as JSON under runs/<date>/<run_id>.json.
type BlobSink struct {
	Blobs    *store.BlobStore
	Location *time.Location
}

// RecordOutcome saves o.
func (s BlobSink) RecordOutcome(_ context.Context, o Outcome) error {
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	_, err := store.SaveJSON(s.Blobs, "runs/"+o.Started.In(loc).Format("2006-01-02"), o.RunID, o)
	return err
}
