package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ibeckermayer/newsdigest/internal/errs"
)

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func ok(v any) StageFunc {
	return func(context.Context, Inputs) (any, error) { return v, nil }
}

func failing(err error) StageFunc {
	return func(context.Context, Inputs) (any, error) { return nil, err }
}

func mustGraph(t *testing.T, stages ...Stage) *Graph {
	t.Helper()
	g, err := NewGraph(stages...)
	if err != nil {
		t.Fatalf("NewGraph() error = %v", err)
	}
	return g
}

func execute(t *testing.T, g *Graph, opts ...EngineOption) Outcome {
	t.Helper()
	opts = append([]EngineOption{WithSleep(noSleep)}, opts...)
	return NewEngine(opts...).Execute(context.Background(), g, RunMeta{ID: "run-1", Slot: "morning"})
}

func status(t *testing.T, o Outcome, name string) StageResult {
	t.Helper()
	r, found := o.Stage(name)
	if !found {
		t.Fatalf("stage %s missing from outcome", name)
	}
	return r
}

func TestNewGraphRejectsBadDefinitions(t *testing.T) {
	t.Parallel()
	run := ok(nil)
	tests := []struct {
		name   string
		stages []Stage
	}{
		{"unnamed", []Stage{{Run: run}}},
		{"no run", []Stage{{Name: "a"}}},
		{"duplicate", []Stage{{Name: "a", Run: run}, {Name: "a", Run: run}}},
		{"unknown dep", []Stage{{Name: "a", DependsOn: []string{"b"}, Run: run}}},
		{"self dep", []Stage{{Name: "a", DependsOn: []string{"a"}, Run: run}}},
		{"cycle", []Stage{
			{Name: "a", DependsOn: []string{"b"}, Run: run},
			{Name: "b", DependsOn: []string{"a"}, Run: run},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := NewGraph(tt.stages...); err == nil {
				t.Fatal("NewGraph() error = nil, want error")
			}
		})
	}
}

func TestGraphOrderIsStable(t *testing.T) {
	t.Parallel()
	g := mustGraph(t,
		Stage{Name: "c", DependsOn: []string{"a", "b"}, Run: ok(nil)},
		Stage{Name: "a", Run: ok(nil)},
		Stage{Name: "b", Run: ok(nil)},
		Stage{Name: "alert", Trigger: OneFailed, Run: ok(nil)},
	)
	got := g.Order()
	want := []string{"a", "b", "c", "alert"}
	if len(got) != len(want) {
		t.Fatalf("Order() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Order() = %v, want %v", got, want)
		}
	}
	alert, _ := g.Stage("alert")
	if len(alert.DependsOn) != 3 {
		t.Fatalf("alert deps = %v, want every other stage", alert.DependsOn)
	}
}

func TestRetriesOnlyTransientErrors(t *testing.T) {
	t.Parallel()
	var transientCalls, permanentCalls atomic.Int32
	g := mustGraph(t,
		Stage{
			Name:  "flaky",
			Retry: RetryPolicy{Retries: 2, Delay: time.Second},
			Run: func(context.Context, Inputs) (any, error) {
				if transientCalls.Add(1) < 3 {
					return nil, errs.Transient("flaky", errors.New("timeout"))
				}
				return "done", nil
			},
		},
		Stage{
			Name:  "broken",
			Retry: RetryPolicy{Retries: 5},
			Run: func(context.Context, Inputs) (any, error) {
				permanentCalls.Add(1)
				return nil, errs.Permanent("broken", errors.New("bad credentials"))
			},
		},
	)

	var sleeps []time.Duration
	var mu sync.Mutex
	out := execute(t, g, WithSleep(func(_ context.Context, d time.Duration) error {
		mu.Lock()
		sleeps = append(sleeps, d)
		mu.Unlock()
		return nil
	}))

	flaky := status(t, out, "flaky")
	if flaky.Status != StatusSucceeded || flaky.Attempts != 3 {
		t.Fatalf("flaky = %+v, want succeeded after 3 attempts", flaky)
	}
	broken := status(t, out, "broken")
	if broken.Status != StatusFailed || broken.Attempts != 1 || broken.Kind != errs.KindPermanent {
		t.Fatalf("broken = %+v, want one permanent failure", broken)
	}
	if permanentCalls.Load() != 1 {
		t.Fatalf("permanent stage ran %d times", permanentCalls.Load())
	}
	if len(sleeps) != 2 || sleeps[0] != time.Second {
		t.Fatalf("sleeps = %v, want two fixed delays", sleeps)
	}
}

func TestRetryBudgetExhausted(t *testing.T) {
	t.Parallel()
	g := mustGraph(t, Stage{
		Name:  "down",
		Retry: RetryPolicy{Retries: 2},
		Run:   failing(errs.Transient("down", errors.New("503"))),
	})
	out := execute(t, g)
	r := status(t, out, "down")
	if r.Status != StatusFailed || r.Attempts != 3 || r.Kind != errs.KindTransient {
		t.Fatalf("down = %+v, want failed after 3 transient attempts", r)
	}
}

func TestTriggerRules(t *testing.T) {
	t.Parallel()
	g := mustGraph(t,
		Stage{Name: "good", Run: ok(1)},
		Stage{Name: "bad", Run: failing(errors.New("boom"))},
		Stage{Name: "needs_both", DependsOn: []string{"good", "bad"}, Run: ok(nil)},
		Stage{Name: "downstream", DependsOn: []string{"needs_both"}, Run: ok(nil)},
		Stage{Name: "always", DependsOn: []string{"needs_both"}, Trigger: AllDone, Run: ok(nil)},
		Stage{Name: "on_fail", DependsOn: []string{"good", "bad"}, Trigger: OneFailed, Run: ok(nil)},
		Stage{Name: "on_good_fail", DependsOn: []string{"good"}, Trigger: OneFailed, Run: ok(nil)},
	)
	out := execute(t, g)

	want := map[string]Status{
		"good":         StatusSucceeded,
		"bad":          StatusFailed,
		"needs_both":   StatusSkipped,
		"downstream":   StatusSkipped,
		"always":       StatusSucceeded,
		"on_fail":      StatusSucceeded,
		"on_good_fail": StatusSkipped,
	}
	for name, st := range want {
		if got := status(t, out, name).Status; got != st {
			t.Errorf("%s = %s, want %s", name, got, st)
		}
	}
	for _, r := range out.Stages {
		if !r.Status.Terminal() {
			t.Errorf("%s ended %s", r.Name, r.Status)
		}
	}
}

func TestOutputsFlowToDependents(t *testing.T) {
	t.Parallel()
	var got int
	g := mustGraph(t,
		Stage{Name: "a", Run: ok(21)},
		Stage{Name: "b", DependsOn: []string{"a"}, Run: func(_ context.Context, in Inputs) (any, error) {
			v, found := Output[int](in, "a")
			if !found {
				return nil, errors.New("missing input")
			}
			got = v * 2
			return got, nil
		}},
	)
	out := execute(t, g)
	if !out.Succeeded() || got != 42 {
		t.Fatalf("outcome = %+v, got %d", out, got)
	}
}

func TestPanicIsPermanentFailure(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	g := mustGraph(t, Stage{
		Name:  "panics",
		Retry: RetryPolicy{Retries: 3},
		Run: func(context.Context, Inputs) (any, error) {
			calls.Add(1)
			panic("nil map")
		},
	})
	out := execute(t, g)
	r := status(t, out, "panics")
	if r.Status != StatusFailed || r.Kind != errs.KindPermanent || calls.Load() != 1 {
		t.Fatalf("panics = %+v after %d calls", r, calls.Load())
	}
}

func TestAttemptTimeoutIsTransient(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	g := mustGraph(t, Stage{
		Name:    "slow",
		Timeout: 20 * time.Millisecond,
		Retry:   RetryPolicy{Retries: 1},
		Run: func(ctx context.Context, _ Inputs) (any, error) {
			if calls.Add(1) == 1 {
				<-ctx.Done()
				return nil, ctx.Err()
			}
			return "fast enough", nil
		},
	})
	out := execute(t, g)
	r := status(t, out, "slow")
	if r.Status != StatusSucceeded || r.Attempts != 2 {
		t.Fatalf("slow = %+v, want success on second attempt", r)
	}
}

func TestMaxParallelBoundsConcurrency(t *testing.T) {
	t.Parallel()
	var current, peak atomic.Int32
	work := func(context.Context, Inputs) (any, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		current.Add(-1)
		return nil, nil
	}
	var stages []Stage
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		stages = append(stages, Stage{Name: name, Run: work})
	}
	out := execute(t, mustGraph(t, stages...), WithMaxParallel(2))
	if !out.Succeeded() {
		t.Fatalf("outcome failed: %+v", out.Failed())
	}
	if peak.Load() > 2 {
		t.Fatalf("peak concurrency = %d, want <= 2", peak.Load())
	}
}

func TestExecuteWaitsForStageGoroutines(t *testing.T) {
	t.Parallel()
	var running atomic.Int32
	work := func(context.Context, Inputs) (any, error) {
		running.Add(1)
		defer running.Add(-1)
		time.Sleep(5 * time.Millisecond)
		return nil, nil
	}
	stages := []Stage{
		{Name: "a", Run: work},
		{Name: "b", Run: work},
		{Name: "c", Run: func(context.Context, Inputs) (any, error) { panic("boom") }},
		{Name: "d", DependsOn: []string{"a", "b"}, Run: work},
	}
	out := execute(t, mustGraph(t, stages...))
	if n := running.Load(); n != 0 {
		t.Fatalf("%d stages still running after Execute returned", n)
	}
	if got := status(t, out, "d").Status; got != StatusSucceeded {
		t.Fatalf("d status = %s, want succeeded", got)
	}
	if got := status(t, out, "c").Status; got != StatusFailed {
		t.Fatalf("c status = %s, want failed", got)
	}
}

func TestCancelledRunStopsRetrying(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	g := mustGraph(t,
		Stage{
			Name:  "first",
			Retry: RetryPolicy{Retries: 10},
			Run: func(context.Context, Inputs) (any, error) {
				calls.Add(1)
				cancel()
				return nil, errs.Transient("first", errors.New("unavailable"))
			},
		},
		Stage{Name: "second", DependsOn: []string{"first"}, Run: ok(nil)},
	)
	out := NewEngine(WithSleep(noSleep)).Execute(ctx, g, RunMeta{ID: "run-1"})
	if calls.Load() != 1 {
		t.Fatalf("first ran %d times after cancel", calls.Load())
	}
	if status(t, out, "first").Status != StatusFailed || status(t, out, "second").Status != StatusSkipped {
		t.Fatalf("unexpected outcome %+v", out.Stages)
	}
}
