package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ibeckermayer/newsdigest/internal/errs"
	"github.com/ibeckermayer/newsdigest/internal/logging"
	"github.com/ibeckermayer/newsdigest/internal/types"
)

// Status is the lifecycle state of a stage within a run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusSkipped
}

// StageResult is the final record of one stage.
type StageResult struct {
	Name     string    `json:"name"`
	Status   Status    `json:"status"`
	Attempts int       `json:"attempts"`
	Kind     errs.Kind `json:"kind,omitempty"`
	Error    string    `json:"error,omitempty"`
	Started  time.Time `json:"started,omitzero"`
	Finished time.Time `json:"finished,omitzero"`
	Err      error     `json:"-"`
}

// RunMeta identifies the run a graph executes for.
type RunMeta struct {
	ID      string
	Slot    types.Slot
	Started time.Time
}

// Inputs is what a stage sees when it starts: its dependencies' outputs and
// the status of every stage at that moment.
type Inputs struct {
	RunID   string
	Slot    types.Slot
	Started time.Time

	outputs map[string]any
	results []StageResult
}

// Output returns the output of dependency name, if it succeeded.
func (in Inputs) Output(name string) (any, bool) {
	v, ok := in.outputs[name]
	return v, ok
}

// Output returns the typed output of dependency name. ok is false if the
// dependency produced nothing or a value of another type.
func Output[T any](in Inputs, name string) (T, bool) {
	v, ok := in.outputs[name]
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// Results returns a snapshot of every stage result in graph order.
func (in Inputs) Results() []StageResult {
	return append([]StageResult(nil), in.results...)
}

// Engine executes graphs.
type Engine struct {
	maxParallel int
	logger      *slog.Logger
	now         func() time.Time
	sleep       func(context.Context, time.Duration) error
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithMaxParallel bounds how many stages run at once. Zero means unbounded.
func WithMaxParallel(n int) EngineOption {
	return func(e *Engine) { e.maxParallel = n }
}

// WithEngineLogger sets the logger.
func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = logging.Component(l, "pipeline") }
}

// WithSleep replaces the retry delay, for tests.
func WithSleep(sleep func(context.Context, time.Duration) error) EngineOption {
	return func(e *Engine) { e.sleep = sleep }
}

// NewEngine creates an engine.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		logger: logging.Component(nil, "pipeline"),
		now:    time.Now,
		sleep:  sleepCtx,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type completion struct {
	result StageResult
	output any
}

// Execute runs g to completion and returns the outcome. Every stage ends
// terminal: a stage whose trigger rule is not met is skipped, and failures
// never stop sibling stages.
func (e *Engine) Execute(ctx context.Context, g *Graph, meta RunMeta) Outcome {
	if meta.Started.IsZero() {
		meta.Started = e.now()
	}
	log := e.logger.With("run_id", meta.ID, "slot", meta.Slot)

	results := make(map[string]*StageResult, g.Len())
	for _, name := range g.order {
		results[name] = &StageResult{Name: name, Status: StatusPending}
	}
	outputs := make(map[string]any)
	done := make(chan completion, g.Len())

	var wg sync.WaitGroup
	running := 0

	for {
		for changed := true; changed; {
			changed = false
			for _, name := range g.order {
				res := results[name]
				if res.Status != StatusPending {
					continue
				}
				stage, _ := g.Stage(name)
				ready, run := evaluate(stage, results)
				if !ready {
					continue
				}
				if !run {
					res.Status = StatusSkipped
					res.Finished = e.now()
					log.Info("stage skipped", "stage", name, "trigger", stage.Trigger.String())
					changed = true
					continue
				}
				if e.maxParallel > 0 && running >= e.maxParallel {
					continue
				}

				res.Status = StatusRunning
				in := e.inputs(meta, stage, outputs, results, g.order)
				running++
				changed = true
				wg.Add(1)
				go func() {
					defer wg.Done()
					done <- e.runStage(ctx, meta, stage, in)
				}()
			}
		}

		if running == 0 {
			break
		}
		c := <-done
		running--
		*results[c.result.Name] = c.result
		if c.result.Status == StatusSucceeded {
			outputs[c.result.Name] = c.output
		}
	}
	wg.Wait()

	out := Outcome{
		RunID:    meta.ID,
		Slot:     meta.Slot,
		Started:  meta.Started,
		Finished: e.now(),
		Stages:   make([]StageResult, 0, len(g.order)),
	}
	for _, name := range g.order {
		out.Stages = append(out.Stages, *results[name])
	}
	return out
}

// evaluate reports whether the stage's dependencies are all terminal and,
// if so, whether its trigger rule says to run it.
func evaluate(stage Stage, results map[string]*StageResult) (ready, run bool) {
	succeeded, failed := 0, 0
	for _, dep := range stage.DependsOn {
		switch results[dep].Status {
		case StatusSucceeded:
			succeeded++
		case StatusFailed:
			failed++
		case StatusSkipped:
		default:
			return false, false
		}
	}

	switch stage.Trigger {
	case AllDone:
		return true, true
	case OneFailed:
		return true, failed > 0
	default:
		return true, succeeded == len(stage.DependsOn)
	}
}

func (e *Engine) inputs(meta RunMeta, stage Stage, outputs map[string]any, results map[string]*StageResult, order []string) Inputs {
	in := Inputs{
		RunID:   meta.ID,
		Slot:    meta.Slot,
		Started: meta.Started,
		outputs: make(map[string]any, len(stage.DependsOn)),
		results: make([]StageResult, 0, len(order)),
	}
	for _, dep := range stage.DependsOn {
		if v, ok := outputs[dep]; ok {
			in.outputs[dep] = v
		}
	}
	for _, name := range order {
		in.results = append(in.results, *results[name])
	}
	return in
}

func (e *Engine) runStage(ctx context.Context, meta RunMeta, stage Stage, in Inputs) completion {
	log := e.logger.With("run_id", meta.ID, "stage", stage.Name)
	res := StageResult{Name: stage.Name, Status: StatusRunning, Started: e.now()}

	for {
		res.Attempts++
		log.Debug("stage attempt started", "attempt", res.Attempts)

		out, err := e.attempt(ctx, stage, in)
		if err == nil {
			res.Status = StatusSucceeded
			res.Finished = e.now()
			log.Info("stage succeeded", "attempts", res.Attempts, "duration", res.Finished.Sub(res.Started))
			return completion{result: res, output: out}
		}

		if !errs.Retryable(err) || res.Attempts > stage.Retry.Retries || ctx.Err() != nil {
			return completion{result: e.fail(log, res, err)}
		}

		log.Warn("stage attempt failed, retrying",
			"attempt", res.Attempts,
			"retries", stage.Retry.Retries,
			"delay", stage.Retry.Delay,
			"error", err)
		if serr := e.sleep(ctx, stage.Retry.Delay); serr != nil {
			return completion{result: e.fail(log, res, err)}
		}
	}
}

func (e *Engine) fail(log *slog.Logger, res StageResult, err error) StageResult {
	res.Status = StatusFailed
	res.Finished = e.now()
	res.Err = err
	res.Error = err.Error()
	res.Kind = errs.KindOf(err)
	log.Error("stage failed", "attempts", res.Attempts, "kind", res.Kind, "error", err)
	return res
}

// attempt runs the stage once. An attempt that overruns its own timeout is
// transient; a panic is a permanent failure.
func (e *Engine) attempt(ctx context.Context, stage Stage, in Inputs) (out any, err error) {
	actx := ctx
	if stage.Timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, stage.Timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = errs.Permanent(stage.Name, fmt.Errorf("panic: %v", r))
		}
	}()

	out, err = stage.Run(actx, in)
	if err != nil && errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		err = errs.Transient(stage.Name, fmt.Errorf("attempt timed out after %s: %w", stage.Timeout, err))
	}
	return out, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
