package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ibeckermayer/newsdigest/internal/collector"
	"github.com/ibeckermayer/newsdigest/internal/config"
	"github.com/ibeckermayer/newsdigest/internal/pipeline"
	"github.com/ibeckermayer/newsdigest/internal/summarizer"
	"github.com/ibeckermayer/newsdigest/internal/types"
	"github.com/ibeckermayer/newsdigest/internal/web"
)

type fakeCollector struct{}

func (fakeCollector) Name() string { return "wire" }

func (fakeCollector) Collect(context.Context) ([]types.RawItem, error) {
	return []types.RawItem{{
		URL:    "https://wire.example/story",
		Title:  "Rates held",
		Body:   strings.Repeat("The central bank kept rates unchanged. ", 5),
		Source: "wire",
	}}, nil
}

type fakeSummarizer struct{}

func (fakeSummarizer) Summarize(_ context.Context, items []types.ContentItem, _ string) (summarizer.Result, error) {
	return summarizer.Result{Title: "Rates", Text: "## Economy\n\n" + items[0].Title}, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (n *fakeNotifier) Send(_ context.Context, to string, _ types.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, to)
	return nil
}

func testConfig(t *testing.T) (*config.Config, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Store.DBPath = filepath.Join(dir, "news.db")
	cfg.Store.BlobDir = filepath.Join(dir, "blobs")
	cfg.Token.Secret = "app-secret"
	cfg.Schedule.Timezone = "UTC"
	cfg.Recipients.AllowList = []string{"reader@example.com"}
	cfg.Pipeline.RetryDelay = 0
	return cfg, filepath.Join(dir, "config.toml")
}

func newTestApp(t *testing.T, cfg *config.Config, path string, n *fakeNotifier) *App {
	t.Helper()
	reg := collector.NewRegistry()
	reg.Register(fakeCollector{})
	a, err := New(cfg, path, Options{Collectors: reg, Summarizer: fakeSummarizer{}, Notifier: n})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestRunSlotDeliversDigest(t *testing.T) {
	t.Parallel()
	cfg, path := testConfig(t)
	n := &fakeNotifier{}
	a := newTestApp(t, cfg, path, n)

	out, err := a.RunSlot(context.Background(), "morning")
	if err != nil {
		t.Fatalf("RunSlot() error = %v", err)
	}
	if !out.Succeeded() {
		t.Fatalf("run failed: %+v", out.Failed())
	}
	if len(n.sent) != 1 || n.sent[0] != "reader@example.com" {
		t.Fatalf("sent = %v", n.sent)
	}

	if _, err := a.RunSlot(context.Background(), "midnight"); err == nil {
		t.Fatal("RunSlot() error = nil for unknown slot")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	cfg, path := testConfig(t)
	cfg.Token.Secret = ""
	if _, err := New(cfg, path, Options{}); err == nil {
		t.Fatal("New() error = nil without token secret")
	}
}

func TestReloadConfigSwapsSnapshot(t *testing.T) {
	t.Parallel()
	cfg, path := testConfig(t)
	n := &fakeNotifier{}
	a := newTestApp(t, cfg, path, n)
	if err := a.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	oldLink := a.Links().Preferences("reader@example.com")

	updated := *cfg
	updated.Token.Secret = "rotated-secret"
	updated.Email.Enabled = false
	updated.Schedule.Slots = []config.SlotConfig{{Name: "morning", Time: "06:30"}}
	if err := updated.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if err := a.ReloadConfig(); err != nil {
		t.Fatalf("ReloadConfig() error = %v", err)
	}
	if a.Config().Email.Enabled {
		t.Fatal("reloaded config still has email enabled")
	}
	if a.Links().Preferences("reader@example.com") == oldLink {
		t.Fatal("links still use the old secret")
	}
	jobs := a.sched.ListJobs()
	if len(jobs) != 1 || jobs[0].Name != "morning" || jobs[0].NextRun.Minute() != 30 {
		t.Fatalf("jobs after reload = %+v", jobs)
	}

	if _, err := a.RunSlot(context.Background(), "evening"); err == nil {
		t.Fatal("evening slot still accepted after reload")
	}
	out, err := a.RunSlot(context.Background(), "morning")
	if err != nil || !out.Succeeded() {
		t.Fatalf("RunSlot() = %+v, %v", out.Failed(), err)
	}
	if len(n.sent) != 0 {
		t.Fatalf("sent %v with email disabled", n.sent)
	}
}

func TestReloadConfigMovesDefaultSlot(t *testing.T) {
	t.Parallel()
	cfg, path := testConfig(t)
	a := newTestApp(t, cfg, path, &fakeNotifier{})
	ctx := context.Background()
	const reader = "reader@example.com"

	updated := *cfg
	updated.Schedule.Slots = []config.SlotConfig{
		{Name: "late", Time: "21:00"},
		{Name: "evening", Time: "18:00"},
	}
	if err := updated.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := a.ReloadConfig(); err != nil {
		t.Fatalf("ReloadConfig() error = %v", err)
	}

	resolver := a.getSnapshot().resolver
	if got, err := resolver.Resolve(ctx, "evening"); err != nil || !slices.Equal(got, []string{reader}) {
		t.Fatalf("evening recipients before visit = %v, %v", got, err)
	}
	p, err := a.Store().EnsurePreference(ctx, reader)
	if err != nil {
		t.Fatalf("EnsurePreference() error = %v", err)
	}
	if p.PreferredSlot != "evening" {
		t.Fatalf("lazily created slot = %q, want evening", p.PreferredSlot)
	}
	if got, err := resolver.Resolve(ctx, "evening"); err != nil || !slices.Equal(got, []string{reader}) {
		t.Fatalf("evening recipients after visit = %v, %v", got, err)
	}

	srv := web.New(reloadingAuthorizer{a}, a.Store(), reloadingSlots{a}, nil)
	form := url.Values{
		"email":      {reader},
		"token":      {a.getSnapshot().tokens.Issue(reader)},
		"slot":       {"late"},
		"subscribed": {"on"},
	}
	req := httptest.NewRequest(http.MethodPost, "/preferences", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("POST /preferences with reloaded slot = %d, body %s", w.Code, w.Body.String())
	}
	if got, _ := resolver.Resolve(ctx, "late"); !slices.Equal(got, []string{reader}) {
		t.Fatalf("late recipients = %v", got)
	}
}

func TestRunSlotRejectsOverlap(t *testing.T) {
	t.Parallel()
	cfg, path := testConfig(t)
	a := newTestApp(t, cfg, path, &fakeNotifier{})

	block := make(chan struct{})
	started := make(chan struct{})
	reg := collector.NewRegistry()
	reg.Register(blockingCollector{started: started, release: block})
	a.opts.Collectors = reg
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := a.ReloadConfig(); err != nil {
		t.Fatalf("ReloadConfig() error = %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := a.RunSlot(context.Background(), "morning")
		done <- err
	}()
	<-started
	if _, err := a.RunSlot(context.Background(), "evening"); !errors.Is(err, pipeline.ErrRunActive) {
		t.Fatalf("overlapping RunSlot() error = %v, want ErrRunActive", err)
	}
	close(block)
	if err := <-done; err != nil {
		t.Fatalf("RunSlot() error = %v", err)
	}
}

type blockingCollector struct {
	started chan struct{}
	release chan struct{}
}

func (blockingCollector) Name() string { return "slow" }

func (c blockingCollector) Collect(ctx context.Context) ([]types.RawItem, error) {
	close(c.started)
	select {
	case <-c.release:
	case <-ctx.Done():
	}
	return nil, nil
}

func TestNewsConfigStageOverrides(t *testing.T) {
	t.Parallel()
	cfg, _ := testConfig(t)
	zero := 0
	delay := 30 * time.Second
	cfg.Pipeline.Stages = map[string]config.StageOverride{
		"summarize": {Retries: &zero},
		"collect":   {RetryDelay: &delay},
	}

	nc := newsConfig(cfg, time.UTC)
	if nc.Retry.Retries != 2 {
		t.Fatalf("default retries = %d", nc.Retry.Retries)
	}
	if p := nc.Overrides["summarize"]; p.Retries != 0 || p.Delay != cfg.Pipeline.RetryDelay {
		t.Fatalf("summarize override = %+v", p)
	}
	if p := nc.Overrides["collect"]; p.Retries != 2 || p.Delay != delay {
		t.Fatalf("collect override = %+v", p)
	}
}
