package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ibeckermayer/newsdigest/internal/logging"
	"github.com/ibeckermayer/newsdigest/internal/types"
)

// ErrRunActive is returned when a run is requested while another is active.
var ErrRunActive = errors.New("a run is already active")

// GraphBuilder constructs the stage graph for one run.
type GraphBuilder func(slot types.Slot) (*Graph, error)

// Runner admits one run at a time and hands every outcome to its sinks.
type Runner struct {
	engine     *Engine
	build      GraphBuilder
	sinks      []OutcomeSink
	runTimeout time.Duration
	logger     *slog.Logger
	newID      func() string
	now        func() time.Time

	active atomic.Bool
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithSinks adds outcome sinks.
func WithSinks(sinks ...OutcomeSink) RunnerOption {
	return func(r *Runner) { r.sinks = append(r.sinks, sinks...) }
}

// WithRunTimeout bounds a whole run.
func WithRunTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) { r.runTimeout = d }
}

// WithRunnerLogger sets the logger.
func WithRunnerLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = logging.Component(l, "pipeline") }
}

// WithIDs replaces the run ID generator, for tests.
func WithIDs(newID func() string) RunnerOption {
	return func(r *Runner) { r.newID = newID }
}

// NewRunner creates a runner. The graph is built anew for every run.
func NewRunner(engine *Engine, build GraphBuilder, opts ...RunnerOption) *Runner {
	r := &Runner{
		engine: engine,
		build:  build,
		logger: logging.Component(nil, "pipeline"),
		newID:  uuid.NewString,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Active reports whether a run is in progress.
func (r *Runner) Active() bool {
	return r.active.Load()
}

// Run executes one run for slot. It returns ErrRunActive without queueing
// if another run holds the active flag.
func (r *Runner) Run(ctx context.Context, slot types.Slot) (Outcome, error) {
	if !r.active.CompareAndSwap(false, true) {
		r.logger.Warn("run rejected: another run is active", "slot", slot)
		return Outcome{}, ErrRunActive
	}
	defer r.active.Store(false)

	g, err := r.build(slot)
	if err != nil {
		return Outcome{}, fmt.Errorf("build graph: %w", err)
	}

	meta := RunMeta{ID: r.newID(), Slot: slot, Started: r.now()}
	log := r.logger.With("run_id", meta.ID, "slot", slot)
	log.Info("run started", "stages", g.Len())

	runCtx := ctx
	if r.runTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.runTimeout)
		defer cancel()
	}

	out := r.engine.Execute(runCtx, g, meta)

	sinkCtx := context.WithoutCancel(ctx)
	for _, sink := range r.sinks {
		if err := sink.RecordOutcome(sinkCtx, out); err != nil {
			log.Error("failed to record run outcome", "sink", fmt.Sprintf("%T", sink), "error", err)
		}
	}
	return out, nil
}
