// Package app wires configuration into a running news digest service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ibeckermayer/newsdigest/internal/collector"
	"github.com/ibeckermayer/newsdigest/internal/config"
	"github.com/ibeckermayer/newsdigest/internal/digest"
	"github.com/ibeckermayer/newsdigest/internal/logging"
	"github.com/ibeckermayer/newsdigest/internal/notifier"
	"github.com/ibeckermayer/newsdigest/internal/pipeline"
	"github.com/ibeckermayer/newsdigest/internal/recipients"
	"github.com/ibeckermayer/newsdigest/internal/scheduler"
	"github.com/ibeckermayer/newsdigest/internal/store"
	"github.com/ibeckermayer/newsdigest/internal/summarizer"
	"github.com/ibeckermayer/newsdigest/internal/token"
	"github.com/ibeckermayer/newsdigest/internal/types"
	"github.com/ibeckermayer/newsdigest/internal/validate"
	"github.com/ibeckermayer/newsdigest/internal/web"
)

// App holds the application state.
type App struct {
	configPath string
	opts       Options
	logger     *slog.Logger

	// Immutable after creation. The store and blob paths, the timezone, the
	// engine limits and the web listener take effect on restart only.
	store  *store.Store
	blobs  *store.BlobStore
	runner *pipeline.Runner
	sched  *scheduler.Scheduler

	// Mutable fields - use getSnapshot() for concurrent access.
	mu   sync.RWMutex
	snap snapshot
}

// snapshot holds fields that may be replaced by ReloadConfig.
type snapshot struct {
	config   *config.Config
	tokens   *token.Service
	links    digest.Links
	resolver *recipients.Resolver
	graph    pipeline.GraphBuilder
}

// getSnapshot returns a snapshot of mutable fields under read lock.
func (a *App) getSnapshot() snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snap
}

// Options overrides collaborators, for tests and the CLI.
type Options struct {
	// Collectors replaces the registry built from the source catalog.
	Collectors *collector.Registry
	Summarizer summarizer.Summarizer
	Notifier   notifier.Notifier
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// New opens the store and builds every component from cfg.
func New(cfg *config.Config, configPath string, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := logging.Component(opts.Logger, "app")

	st, err := store.New(cfg.Store.DBPath,
		store.WithDefaultSlot(cfg.DefaultSlot()),
		store.WithLogger(opts.Logger))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	blobs, err := store.NewBlobStore(cfg.Store.BlobDir)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	sched, err := scheduler.New(cfg.Schedule.Timezone,
		scheduler.WithJobTimeout(cfg.Pipeline.RunTimeout+time.Minute),
		scheduler.WithLogger(opts.Logger))
	if err != nil {
		st.Close()
		return nil, err
	}

	a := &App{
		configPath: configPath,
		opts:       opts,
		logger:     logger,
		store:      st,
		blobs:      blobs,
		sched:      sched,
	}

	snap, err := a.build(cfg, opts)
	if err != nil {
		st.Close()
		return nil, err
	}
	a.snap = snap

	loc, _ := time.LoadLocation(cfg.Schedule.Timezone)
	engine := pipeline.NewEngine(
		pipeline.WithMaxParallel(cfg.Pipeline.MaxParallel),
		pipeline.WithEngineLogger(opts.Logger))
	a.runner = pipeline.NewRunner(engine,
		func(slot types.Slot) (*pipeline.Graph, error) {
			return a.getSnapshot().graph(slot)
		},
		pipeline.WithRunTimeout(cfg.Pipeline.RunTimeout),
		pipeline.WithRunnerLogger(opts.Logger),
		pipeline.WithSinks(
			pipeline.LogSink{Logger: opts.Logger},
			pipeline.BlobSink{Blobs: blobs, Location: loc},
		))

	return a, nil
}

// build constructs the reloadable components.
func (a *App) build(cfg *config.Config, opts Options) (snapshot, error) {
	loc, err := time.LoadLocation(cfg.Schedule.Timezone)
	if err != nil {
		return snapshot{}, err
	}

	tokens, err := token.New([]byte(cfg.Token.Secret))
	if err != nil {
		return snapshot{}, err
	}
	links := digest.NewLinks(cfg.Web.BaseURL, tokens)
	renderer, err := digest.New(links, loc, cfg.Email.FromName)
	if err != nil {
		return snapshot{}, err
	}

	collectors := opts.Collectors
	if collectors == nil {
		if cfg.Collectors.SourcesFile == "" {
			return snapshot{}, errors.New("collectors.sources_file is required")
		}
		cat, err := collector.LoadCatalog(cfg.Collectors.SourcesFile)
		if err != nil {
			return snapshot{}, err
		}
		collectors, err = collector.BuildRegistry(cat, collector.BuildOptions{
			HTTPClient: opts.HTTPClient,
			UserAgent:  cfg.Collectors.UserAgent,
			Headless:   cfg.Collectors.Headless,
			Logger:     opts.Logger,
		})
		if err != nil {
			return snapshot{}, err
		}
	}

	sum := opts.Summarizer
	if sum == nil {
		var rec summarizer.Recorder
		if cfg.Summarizer.Record {
			rec = summarizer.BlobRecorder{Blobs: a.blobs}
		}
		if sum, err = summarizer.New(cfg.Summarizer, rec, opts.Logger); err != nil {
			return snapshot{}, err
		}
	}

	sender := opts.Notifier
	if sender == nil {
		if sender, err = notifier.NewFromConfig(cfg.Email, opts.Logger); err != nil {
			return snapshot{}, err
		}
	}

	resolver := recipients.NewResolver(cfg.Recipients.AllowList, cfg.DefaultSlot(), a.store)

	deps := pipeline.NewsDeps{
		Collectors: collectors,
		Validator: validate.New(validate.Config{
			MinBodyLength:   cfg.Validation.MinBodyLength,
			PermissiveDates: cfg.Validation.PermissiveDates,
		}),
		Store:      a.store,
		Blobs:      a.blobs,
		Summarizer: sum,
		Recipients: resolver,
		Renderer:   renderer,
		Notifier:   sender,
		Logger:     opts.Logger,
	}

	return snapshot{
		config:   cfg,
		tokens:   tokens,
		links:    links,
		resolver: resolver,
		graph:    pipeline.NewsGraph(deps, newsConfig(cfg, loc)),
	}, nil
}

func newsConfig(cfg *config.Config, loc *time.Location) pipeline.NewsConfig {
	def := pipeline.RetryPolicy{Retries: cfg.Pipeline.Retries, Delay: cfg.Pipeline.RetryDelay}
	overrides := make(map[string]pipeline.RetryPolicy, len(cfg.Pipeline.Stages))
	for name, o := range cfg.Pipeline.Stages {
		p := def
		if o.Retries != nil {
			p.Retries = *o.Retries
		}
		if o.RetryDelay != nil {
			p.Delay = *o.RetryDelay
		}
		overrides[name] = p
	}

	return pipeline.NewsConfig{
		Retry:            def,
		Overrides:        overrides,
		CollectTimeout:   cfg.Pipeline.CollectTimeout,
		SummarizeTimeout: cfg.Pipeline.SummarizeTimeout,
		NotifyTimeout:    cfg.Pipeline.NotifyTimeout,
		FreshnessWindow:  cfg.Store.FreshnessWindow,
		MaxItems:         cfg.Store.MaxItems,
		Theme:            cfg.Summarizer.Theme,
		Location:         loc,
		EmailEnabled:     cfg.Email.Enabled,
		SendParallel:     cfg.Pipeline.SendParallel,
		AlertsEnabled:    cfg.Alerts.Enabled,
		AlertRecipients:  cfg.Alerts.Recipients,
	}
}

// Config returns the active configuration.
func (a *App) Config() *config.Config {
	return a.getSnapshot().config
}

// Store returns the content store.
func (a *App) Store() *store.Store {
	return a.store
}

// Links returns the preference link builder.
func (a *App) Links() digest.Links {
	return a.getSnapshot().links
}

// RunSlot performs one run for slot now. It returns pipeline.ErrRunActive
// if a run is already in progress.
func (a *App) RunSlot(ctx context.Context, slot types.Slot) (pipeline.Outcome, error) {
	s := a.getSnapshot()
	if !s.config.HasSlot(slot) {
		return pipeline.Outcome{}, fmt.Errorf("unknown slot %q", slot)
	}
	return a.runner.Run(ctx, slot)
}

// Start registers slot jobs and starts the scheduler.
func (a *App) Start() error {
	if err := a.scheduleSlots(a.getSnapshot().config); err != nil {
		return err
	}
	a.sched.Start()
	for _, j := range a.sched.ListJobs() {
		a.logger.Info("slot scheduled", "slot", j.Name, "next_run", j.NextRun)
	}
	return nil
}

func (a *App) scheduleSlots(cfg *config.Config) error {
	for _, j := range a.sched.ListJobs() {
		if !cfg.HasSlot(types.Slot(j.Name)) {
			a.sched.RemoveJob(j.Name)
		}
	}
	for _, s := range cfg.Slots() {
		slot := s.Slot
		err := a.sched.AddSlotJob(slot, s.At, func(ctx context.Context) error {
			_, err := a.runner.Run(ctx, slot)
			if errors.Is(err, pipeline.ErrRunActive) {
				a.logger.Warn("slot trigger dropped, previous run still active", "slot", slot)
				return nil
			}
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Serve runs the preference site until ctx is done.
func (a *App) Serve(ctx context.Context) error {
	s := a.getSnapshot()
	if !s.config.Web.Enabled {
		<-ctx.Done()
		return nil
	}
	srv := web.New(reloadingAuthorizer{a}, a.store, reloadingSlots{a}, a.opts.Logger)
	return srv.ListenAndServe(ctx, s.config.Web.Listen)
}

// reloadingSlots lists the slots of the current configuration.
type reloadingSlots struct {
	a *App
}

func (r reloadingSlots) Slots() []types.Slot {
	cfg := r.a.getSnapshot().config
	slots := make([]types.Slot, 0, len(cfg.Schedule.Slots))
	for _, st := range cfg.Slots() {
		slots = append(slots, st.Slot)
	}
	return slots
}

// reloadingAuthorizer verifies against the current token secret.
type reloadingAuthorizer struct {
	a *App
}

func (r reloadingAuthorizer) Authorize(identity, tok string) error {
	return r.a.getSnapshot().tokens.Authorize(identity, tok)
}

// ReloadConfig reloads the configuration from disk.
func (a *App) ReloadConfig() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	snap, err := a.build(cfg, a.opts)
	if err != nil {
		return err
	}
	if err := a.scheduleSlots(cfg); err != nil {
		return err
	}

	a.mu.Lock()
	a.snap = snap
	a.store.SetDefaultSlot(cfg.DefaultSlot())
	a.mu.Unlock()

	a.logger.Info("configuration reloaded")
	return nil
}

// Close stops the scheduler, waits for a running job, and closes the store.
func (a *App) Close() error {
	<-a.sched.Stop().Done()
	return a.store.Close()
}
