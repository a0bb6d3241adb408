package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ibeckermayer/newsdigest/internal/errs"
	"github.com/ibeckermayer/newsdigest/internal/types"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T) (*Store, *clock) {
	t.Helper()
	c := &clock{now: time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)}
	s, err := New(filepath.Join(t.TempDir(), "test.db"), WithDefaultSlot("morning"), WithClock(c.Now))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, c
}

func item(url string) types.ContentItem {
	return types.ContentItem{URL: url, Source: "test", Title: "Title " + url, Body: "body"}
}

func TestPutItemIsIdempotentOnURL(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	ctx := context.Background()

	res, err := s.PutItem(ctx, item("https://a.example/1"))
	if err != nil || res != Inserted {
		t.Fatalf("first put: %v %v", res, err)
	}
	dup := item("https://a.example/1")
	dup.Title = "changed"
	res, err = s.PutItem(ctx, dup)
	if err != nil || res != AlreadyPresent {
		t.Fatalf("second put: %v %v", res, err)
	}

	got, err := s.GetItemByURL(ctx, "https://a.example/1")
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if got.Title != "Title https://a.example/1" {
		t.Fatalf("duplicate put overwrote row: %q", got.Title)
	}
}

func TestPutItemConcurrent(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	ctx := context.Background()

	const workers = 8
	results := make([]PutResult, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := s.PutItem(ctx, item("https://a.example/same"))
			if err != nil {
				t.Errorf("put %d: %v", i, err)
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	inserted := 0
	for _, r := range results {
		if r == Inserted {
			inserted++
		}
	}
	if inserted != 1 {
		t.Fatalf("expected exactly one insert, got %d (%v)", inserted, results)
	}
	if n, _ := s.CountItems(ctx); n != 1 {
		t.Fatalf("expected one row, got %d", n)
	}
}

func TestPutItemRequiresURL(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	if _, err := s.PutItem(context.Background(), types.ContentItem{}); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestGetRecentItems(t *testing.T) {
	t.Parallel()
	s, c := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := s.PutItem(ctx, item(fmt.Sprintf("https://a.example/%d", i))); err != nil {
			t.Fatalf("put: %v", err)
		}
		c.Advance(time.Hour)
	}
	// item 0 is now 5h old; window of 4h30m keeps items 1..4
	items, err := s.GetRecentItems(ctx, 4*time.Hour+30*time.Minute, 3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	for i, want := range []string{"https://a.example/1", "https://a.example/2", "https://a.example/3"} {
		if items[i].URL != want {
			t.Fatalf("item %d: expected %s, got %s", i, want, items[i].URL)
		}
	}

	if err := s.MarkProcessed(ctx, []int64{items[0].ID}); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	items, err = s.GetRecentItems(ctx, 0, 0)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(items) != 4 {
		t.Fatalf("expected 4 unprocessed items, got %d", len(items))
	}
	for _, it := range items {
		if it.URL == "https://a.example/1" {
			t.Fatal("processed item returned")
		}
	}
}

func TestPutSummaryConflict(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	ctx := context.Background()

	first, err := s.PutSummary(ctx, types.Summary{Date: "2026-03-02", Slot: "morning", Text: "original", ItemCount: 3})
	if err != nil {
		t.Fatalf("first put: %v", err)
	}
	if first.ID == 0 {
		t.Fatal("expected summary id")
	}

	_, err = s.PutSummary(ctx, types.Summary{Date: "2026-03-02", Slot: "morning", Text: "replacement", ItemCount: 9})
	if !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	got, ok, err := s.GetSummary(ctx, "2026-03-02", "morning")
	if err != nil || !ok {
		t.Fatalf("get summary: %v %v", ok, err)
	}
	if got.Text != "original" || got.ItemCount != 3 {
		t.Fatalf("summary changed: %+v", got)
	}

	if _, err := s.PutSummary(ctx, types.Summary{Date: "2026-03-02", Slot: "evening", Text: "other"}); err != nil {
		t.Fatalf("other slot: %v", err)
	}
}

func TestPreferences(t *testing.T) {
	t.Parallel()
	s, c := newTestStore(t)
	ctx := context.Background()

	p, err := s.GetPreference(ctx, "A@x.com")
	if err != nil {
		t.Fatalf("get default: %v", err)
	}
	if !p.Subscribed || p.PreferredSlot != "morning" || !p.CreatedAt.IsZero() {
		t.Fatalf("unexpected default: %+v", p)
	}
	if got, _ := s.LookupPreferences(ctx, []string{"a@x.com"}); len(got) != 0 {
		t.Fatalf("default must not be persisted: %v", got)
	}

	p, err = s.EnsurePreference(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	created := p.CreatedAt
	if created.IsZero() {
		t.Fatal("expected created_at")
	}

	c.Advance(time.Minute)
	evening := types.Slot("evening")
	p, err = s.UpsertPreference(ctx, "a@x.com", PreferenceUpdate{PreferredSlot: &evening})
	if err != nil {
		t.Fatalf("upsert slot: %v", err)
	}
	if p.PreferredSlot != "evening" || !p.Subscribed || !p.CreatedAt.Equal(created) || !p.UpdatedAt.After(created) {
		t.Fatalf("unexpected after slot update: %+v", p)
	}

	off := false
	p, err = s.UpsertPreference(ctx, "a@x.com", PreferenceUpdate{Subscribed: &off})
	if err != nil {
		t.Fatalf("upsert subscribed: %v", err)
	}
	if p.Subscribed || p.PreferredSlot != "evening" {
		t.Fatalf("unexpected after unsubscribe: %+v", p)
	}

	p, err = s.UpsertPreference(ctx, "new@x.com", PreferenceUpdate{Subscribed: &off})
	if err != nil {
		t.Fatalf("upsert new: %v", err)
	}
	if p.Subscribed || p.PreferredSlot != "morning" {
		t.Fatalf("unexpected new row: %+v", p)
	}
}

func TestSetDefaultSlotAppliesToNewRows(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := s.EnsurePreference(ctx, "old@x.com"); err != nil {
		t.Fatalf("ensure old: %v", err)
	}
	s.SetDefaultSlot("evening")
	s.SetDefaultSlot("")
	if got := s.DefaultSlot(); got != "evening" {
		t.Fatalf("DefaultSlot() = %q, want evening", got)
	}

	p, err := s.GetPreference(ctx, "fresh@x.com")
	if err != nil || p.PreferredSlot != "evening" {
		t.Fatalf("default preference = %+v, %v", p, err)
	}
	p, err = s.EnsurePreference(ctx, "fresh@x.com")
	if err != nil || p.PreferredSlot != "evening" {
		t.Fatalf("ensured preference = %+v, %v", p, err)
	}
	off := false
	p, err = s.UpsertPreference(ctx, "other@x.com", PreferenceUpdate{Subscribed: &off})
	if err != nil || p.PreferredSlot != "evening" {
		t.Fatalf("upserted preference = %+v, %v", p, err)
	}
	p, err = s.EnsurePreference(ctx, "old@x.com")
	if err != nil || p.PreferredSlot != "morning" {
		t.Fatalf("existing preference = %+v, %v", p, err)
	}
}

func TestDeliveryRecordsAppendOnly(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	ctx := context.Background()

	sum, err := s.PutSummary(ctx, types.Summary{Date: "2026-03-02", Slot: "morning", Text: "x"})
	if err != nil {
		t.Fatalf("put summary: %v", err)
	}

	if _, err := s.RecordDelivery(ctx, types.DeliveryRecord{SummaryID: sum.ID, Identity: "a@x.com", Outcome: types.Failed, Detail: "timeout"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if ok, _ := s.Delivered(ctx, sum.ID, "a@x.com"); ok {
		t.Fatal("failed attempt must not count as delivered")
	}
	if _, err := s.RecordDelivery(ctx, types.DeliveryRecord{SummaryID: sum.ID, Identity: "A@x.com", Outcome: types.Delivered}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if ok, _ := s.Delivered(ctx, sum.ID, "a@x.com"); !ok {
		t.Fatal("expected delivered")
	}

	recs, err := s.ListDeliveries(ctx, sum.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 2 || recs[0].Outcome != types.Failed || recs[1].Outcome != types.Delivered {
		t.Fatalf("unexpected records: %+v", recs)
	}
}

func TestReopenKeepsData(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "reopen.db")
	s, err := New(path)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := s.PutItem(context.Background(), item("https://a.example/keep")); err != nil {
		t.Fatalf("put: %v", err)
	}
	s.Close()

	s, err = New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if ok, _ := s.ItemExists(context.Background(), "https://a.example/keep"); !ok {
		t.Fatal("expected item after reopen")
	}
}
