package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ibeckermayer/newsdigest/internal/collector"
	"github.com/ibeckermayer/newsdigest/internal/digest"
	"github.com/ibeckermayer/newsdigest/internal/errs"
	"github.com/ibeckermayer/newsdigest/internal/logging"
	"github.com/ibeckermayer/newsdigest/internal/notifier"
	"github.com/ibeckermayer/newsdigest/internal/store"
	"github.com/ibeckermayer/newsdigest/internal/summarizer"
	"github.com/ibeckermayer/newsdigest/internal/types"
	"github.com/ibeckermayer/newsdigest/internal/validate"
)

// Stage names of the news graph.
const (
	StageValidate  = "validate"
	StagePersist   = "persist"
	StageSummarize = "summarize"
	StageResolve   = "resolve_recipients"
	StageNotify    = "notify"
	StageLog       = "log_outcome"
	StageAlert     = "alert_on_failure"

	// collectKey is the retry override key shared by all collect stages.
	collectKey = "collect"
)

// CollectStage is the stage name for a source's collector.
func CollectStage(source string) string {
	return "collect[" + source + "]"
}

// ContentStore is the subset of the store the stages write through.
type ContentStore interface {
	ItemExists(ctx context.Context, url string) (bool, error)
	PutItem(ctx context.Context, item types.ContentItem) (store.PutResult, error)
	GetRecentItems(ctx context.Context, maxAge time.Duration, limit int) ([]types.ContentItem, error)
	PutSummary(ctx context.Context, sum types.Summary) (types.Summary, error)
	MarkProcessed(ctx context.Context, ids []int64) error
	RecordDelivery(ctx context.Context, rec types.DeliveryRecord) (types.DeliveryRecord, error)
	Delivered(ctx context.Context, summaryID int64, identity string) (bool, error)
}

// BlobWriter stores raw payloads. Failures never fail a stage.
type BlobWriter interface {
	PutHTML(source, url, html string) (string, error)
	PutSummary(date string, slot types.Slot, text string) (string, error)
}

// RecipientResolver computes the delivery set for a slot.
type RecipientResolver interface {
	Resolve(ctx context.Context, slot types.Slot) ([]string, error)
	AllowList() []string
}

// MessageRenderer renders digests and alerts.
type MessageRenderer interface {
	Render(sum types.Summary, identity string) (types.Message, error)
	RenderAlert(a digest.Alert) (types.Message, error)
}

// NewsDeps are the collaborators of the news graph.
type NewsDeps struct {
	Collectors *collector.Registry
	Validator  *validate.Validator
	Store      ContentStore
	Blobs      BlobWriter // optional
	Summarizer summarizer.Summarizer
	Recipients RecipientResolver
	Renderer   MessageRenderer
	Notifier   notifier.Notifier
	Logger     *slog.Logger
}

// NewsConfig holds the stage policies of the news graph.
type NewsConfig struct {
	Retry RetryPolicy
	// Overrides replace Retry per stage name; "collect" covers every
	// collect stage.
	Overrides map[string]RetryPolicy

	CollectTimeout   time.Duration
	SummarizeTimeout time.Duration
	NotifyTimeout    time.Duration

	FreshnessWindow time.Duration
	MaxItems        int
	Theme           string
	Location        *time.Location

	EmailEnabled    bool
	SendParallel    int
	AlertsEnabled   bool
	AlertRecipients []string
}

// PersistResult counts what persist wrote.
type PersistResult struct {
	Inserted       int
	AlreadyPresent int
}

// SummarizeResult is the output of summarize. Summary is nil when there
// was nothing to summarize.
type SummarizeResult struct {
	Summary *types.Summary
	Items   int
	Usage   summarizer.Usage
}

// NotifyResult counts delivery attempts.
type NotifyResult struct {
	Sent    int
	Skipped int
	Failed  int
}

// AlertResult counts alert messages sent.
type AlertResult struct {
	Sent int
}

// NewsGraph returns a GraphBuilder for the news pipeline. Every call builds
// fresh stage closures, so state memoised across a stage's attempts never
// leaks into the next run.
func NewsGraph(deps NewsDeps, cfg NewsConfig) GraphBuilder {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.SendParallel <= 0 {
		cfg.SendParallel = 1
	}
	return func(slot types.Slot) (*Graph, error) {
		n := &newsRun{
			deps:   deps,
			cfg:    cfg,
			logger: logging.Component(deps.Logger, "pipeline").With("slot", slot),
			now:    time.Now,
		}
		return n.graph()
	}
}

type newsRun struct {
	deps   NewsDeps
	cfg    NewsConfig
	logger *slog.Logger
	now    func() time.Time

	// summarize memo, reused across attempts of the same run
	items   []types.ContentItem
	result  *summarizer.Result
	summary *types.Summary
}

func (n *newsRun) retry(name string) RetryPolicy {
	if p, ok := n.cfg.Overrides[name]; ok {
		return p
	}
	return n.cfg.Retry
}

func (n *newsRun) graph() (*Graph, error) {
	if n.deps.Collectors == nil || n.deps.Collectors.Len() == 0 {
		return nil, errors.New("no collectors registered")
	}

	sources := n.deps.Collectors.Names()
	collectNames := make([]string, 0, len(sources))
	var stages []Stage

	for _, source := range sources {
		c, err := n.deps.Collectors.Resolve(source)
		if err != nil {
			return nil, err
		}
		name := CollectStage(source)
		collectNames = append(collectNames, name)

		policy := n.retry(collectKey)
		if p, ok := n.cfg.Overrides[name]; ok {
			policy = p
		}
		stages = append(stages, Stage{
			Name:    name,
			Retry:   policy,
			Timeout: n.cfg.CollectTimeout,
			Run: func(ctx context.Context, _ Inputs) (any, error) {
				items, err := c.Collect(ctx)
				if err != nil {
					return nil, err
				}
				return items, nil
			},
		})
	}

	stages = append(stages,
		Stage{
			Name:      StageValidate,
			DependsOn: collectNames,
			Trigger:   AllDone,
			Retry:     n.retry(StageValidate),
			Run: func(ctx context.Context, in Inputs) (any, error) {
				return n.validate(collectNames, in), nil
			},
		},
		Stage{
			Name:      StagePersist,
			DependsOn: []string{StageValidate},
			Retry:     n.retry(StagePersist),
			Run:       n.persist,
		},
		Stage{
			Name:      StageSummarize,
			DependsOn: []string{StagePersist},
			Retry:     n.retry(StageSummarize),
			Timeout:   n.cfg.SummarizeTimeout,
			Run:       n.summarize,
		},
		Stage{
			Name:      StageResolve,
			DependsOn: []string{StageSummarize},
			Retry:     n.retry(StageResolve),
			Run: func(ctx context.Context, in Inputs) (any, error) {
				ids, err := n.deps.Recipients.Resolve(ctx, in.Slot)
				if err != nil {
					return nil, errs.Transient(StageResolve, err)
				}
				n.logger.Info("recipients resolved", "count", len(ids))
				return ids, nil
			},
		},
		Stage{
			Name:      StageNotify,
			DependsOn: []string{StageSummarize, StageResolve},
			Retry:     n.retry(StageNotify),
			Timeout:   n.cfg.NotifyTimeout,
			Run:       n.notify,
		},
		Stage{
			Name:      StageLog,
			DependsOn: []string{StageNotify},
			Trigger:   AllDone,
			Retry:     n.retry(StageLog),
			Run:       n.logOutcome,
		},
		Stage{
			Name:    StageAlert,
			Trigger: OneFailed,
			Retry:   n.retry(StageAlert),
			Run:     n.alert,
		},
	)

	return NewGraph(stages...)
}

// validate merges collector outputs in source order. Failed collectors
// contribute nothing.
func (n *newsRun) validate(collectNames []string, in Inputs) validate.Result {
	var raw []types.RawItem
	missing := 0
	for _, name := range collectNames {
		items, ok := Output[[]types.RawItem](in, name)
		if !ok {
			missing++
			continue
		}
		raw = append(raw, items...)
	}

	res := n.deps.Validator.Validate(raw, n.now())
	attrs := []any{
		"candidates", res.Total,
		"accepted", len(res.Accepted),
		"rejected", res.RejectedCount(),
		"failed_sources", missing,
	}
	for _, reason := range res.Reasons() {
		attrs = append(attrs, "rejected_"+string(reason), res.Rejected[reason])
	}
	n.logger.Info("batch validated", attrs...)
	return res
}

func (n *newsRun) persist(ctx context.Context, in Inputs) (any, error) {
	batch, ok := Output[validate.Result](in, StageValidate)
	if !ok {
		return nil, errs.Permanent(StagePersist, errors.New("validate produced no batch"))
	}

	var res PersistResult
	for _, item := range batch.Accepted {
		exists, err := n.deps.Store.ItemExists(ctx, item.URL)
		if err != nil {
			return nil, errs.Transient(StagePersist, err)
		}
		if exists {
			res.AlreadyPresent++
			continue
		}

		if n.deps.Blobs != nil && item.HTML != "" {
			key, err := n.deps.Blobs.PutHTML(item.Source, item.URL, item.HTML)
			if err != nil {
				n.logger.Warn("failed to store raw page", "url", item.URL, "error", err)
			} else {
				item.BlobRef = key
			}
		}

		put, err := n.deps.Store.PutItem(ctx, item)
		if err != nil {
			if errs.KindOf(err) == errs.KindValidation {
				n.logger.Warn("item rejected by store", "url", item.URL, "error", err)
				continue
			}
			return nil, errs.Transient(StagePersist, err)
		}
		if put == store.AlreadyPresent {
			res.AlreadyPresent++
		} else {
			res.Inserted++
		}
	}

	n.logger.Info("items persisted", "inserted", res.Inserted, "already_present", res.AlreadyPresent)
	return res, nil
}

func (n *newsRun) summaryDate(in Inputs) string {
	return in.Started.In(n.cfg.Location).Format("2006-01-02")
}

// summarize is safe to retry: the item batch, the model's answer and the
// stored summary are memoised so a later attempt only redoes what failed.
func (n *newsRun) summarize(ctx context.Context, in Inputs) (any, error) {
	if n.summary == nil {
		if n.items == nil {
			items, err := n.deps.Store.GetRecentItems(ctx, n.cfg.FreshnessWindow, n.cfg.MaxItems)
			if err != nil {
				return nil, errs.Transient(StageSummarize, err)
			}
			if len(items) == 0 {
				n.logger.Info("no new items to summarize")
				return SummarizeResult{}, nil
			}
			n.items = items
		}

		if n.result == nil {
			res, err := n.deps.Summarizer.Summarize(ctx, n.items, n.cfg.Theme)
			if err != nil {
				return nil, err
			}
			n.result = &res
		}

		sum := types.Summary{
			Date:      n.summaryDate(in),
			Slot:      in.Slot,
			Title:     n.result.Title,
			Text:      n.result.Text,
			ItemCount: len(n.items),
			Theme:     n.cfg.Theme,
		}
		if n.deps.Blobs != nil {
			if key, err := n.deps.Blobs.PutSummary(sum.Date, sum.Slot, sum.Text); err != nil {
				n.logger.Warn("failed to store summary text", "error", err)
			} else {
				sum.BlobRef = key
			}
		}

		stored, err := n.deps.Store.PutSummary(ctx, sum)
		if err != nil {
			if errs.KindOf(err) == errs.KindConflict {
				return nil, err
			}
			return nil, errs.Transient(StageSummarize, err)
		}
		n.summary = &stored
	}

	ids := make([]int64, len(n.items))
	for i, it := range n.items {
		ids[i] = it.ID
	}
	if err := n.deps.Store.MarkProcessed(ctx, ids); err != nil {
		return nil, errs.Transient(StageSummarize, err)
	}

	sum := *n.summary
	n.logger.Info("summary stored",
		"summary_id", sum.ID,
		"date", sum.Date,
		"items", sum.ItemCount,
		"title", sum.Title)
	return SummarizeResult{Summary: &sum, Items: len(n.items), Usage: n.result.Usage}, nil
}

func (n *newsRun) notify(ctx context.Context, in Inputs) (any, error) {
	summarized, _ := Output[SummarizeResult](in, StageSummarize)
	identities, _ := Output[[]string](in, StageResolve)

	if !n.cfg.EmailEnabled {
		n.logger.Info("email disabled, not sending", "recipients", len(identities))
		return NotifyResult{}, nil
	}
	if summarized.Summary == nil {
		n.logger.Info("no summary this run, nothing to send")
		return NotifyResult{}, nil
	}
	sum := *summarized.Summary

	var (
		mu        sync.Mutex
		res       NotifyResult
		transient bool
		lastErr   error
	)
	var group errgroup.Group
	group.SetLimit(n.cfg.SendParallel)

	for _, identity := range identities {
		group.Go(func() error {
			outcome, err := n.deliver(ctx, sum, identity)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				res.Failed++
				lastErr = err
				transient = transient || errs.Retryable(err)
			case outcome == deliverySkipped:
				res.Skipped++
			default:
				res.Sent++
			}
			return nil
		})
	}
	_ = group.Wait()

	n.logger.Info("deliveries attempted", "sent", res.Sent, "skipped", res.Skipped, "failed", res.Failed)
	if res.Failed > 0 {
		err := fmt.Errorf("%d of %d deliveries failed, last: %w", res.Failed, len(identities), lastErr)
		if transient {
			return nil, errs.Transient(StageNotify, err)
		}
		return nil, errs.Permanent(StageNotify, err)
	}
	return res, nil
}

type deliveryOutcome int

const (
	deliverySent deliveryOutcome = iota
	deliverySkipped
)

// deliver sends to one recipient unless a delivered record already exists,
// and appends a record for the attempt.
func (n *newsRun) deliver(ctx context.Context, sum types.Summary, identity string) (deliveryOutcome, error) {
	done, err := n.deps.Store.Delivered(ctx, sum.ID, identity)
	if err != nil {
		return 0, errs.Transient(StageNotify, err)
	}
	if done {
		return deliverySkipped, nil
	}

	msg, err := n.deps.Renderer.Render(sum, identity)
	if err == nil {
		err = n.deps.Notifier.Send(ctx, identity, msg)
	}

	rec := types.DeliveryRecord{SummaryID: sum.ID, Identity: identity, Outcome: types.Delivered}
	if err != nil {
		rec.Outcome = types.Failed
		rec.Detail = err.Error()
		n.logger.Warn("delivery failed", "to", identity, "kind", errs.KindOf(err), "error", err)
	}
	if _, rerr := n.deps.Store.RecordDelivery(context.WithoutCancel(ctx), rec); rerr != nil {
		n.logger.Error("failed to record delivery", "to", identity, "error", rerr)
	}
	return deliverySent, err
}

func (n *newsRun) logOutcome(ctx context.Context, in Inputs) (any, error) {
	if sent, ok := Output[NotifyResult](in, StageNotify); ok {
		n.logger.InfoContext(ctx, "delivery outcome",
			"sent", sent.Sent, "skipped", sent.Skipped, "failed", sent.Failed)
		return nil, nil
	}
	for _, r := range in.Results() {
		if r.Name == StageNotify {
			n.logger.WarnContext(ctx, "delivery outcome", "notify", string(r.Status), "error", r.Error)
		}
	}
	return nil, nil
}

func (n *newsRun) alert(ctx context.Context, in Inputs) (any, error) {
	a := digest.Alert{RunID: in.RunID, Slot: in.Slot, Started: in.Started, Finished: n.now()}
	for _, r := range in.Results() {
		switch r.Status {
		case StatusFailed:
			a.Failed = append(a.Failed, digest.StageFailure{
				Name:     r.Name,
				Attempts: r.Attempts,
				Error:    fmt.Sprintf("[%s] %s", r.Kind, r.Error),
			})
		case StatusSkipped:
			a.Skipped = append(a.Skipped, r.Name)
		}
	}
	sort.Strings(a.Skipped)

	names := make([]string, len(a.Failed))
	for i, f := range a.Failed {
		names[i] = f.Name
	}
	n.logger.ErrorContext(ctx, "run has failed stages", "failed", names)

	if !n.cfg.AlertsEnabled || !n.cfg.EmailEnabled {
		return AlertResult{}, nil
	}
	to := n.cfg.AlertRecipients
	if len(to) == 0 {
		to = n.deps.Recipients.AllowList()
	}
	if len(to) == 0 {
		n.logger.Warn("no alert recipients configured")
		return AlertResult{}, nil
	}

	msg, err := n.deps.Renderer.RenderAlert(a)
	if err != nil {
		return nil, errs.Permanent(StageAlert, err)
	}

	// The run context may already be spent; alerts still go out.
	sendCtx := context.WithoutCancel(ctx)
	if n.cfg.NotifyTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(sendCtx, n.cfg.NotifyTimeout)
		defer cancel()
	}

	var res AlertResult
	var lastErr error
	for _, addr := range to {
		if err := n.deps.Notifier.Send(sendCtx, addr, msg); err != nil {
			n.logger.Error("failed to send alert", "to", addr, "error", err)
			lastErr = err
			continue
		}
		res.Sent++
	}
	if res.Sent == 0 && lastErr != nil {
		return nil, lastErr
	}
	return res, nil
}
