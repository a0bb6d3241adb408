package validate

import (
	"strings"
	"testing"
	"time"

	"github.com/ibeckermayer/newsdigest/internal/types"
)

var collected = time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)

func good(url string) types.RawItem {
	return types.RawItem{
		URL:    url,
		Title:  "Markets rally",
		Body:   strings.Repeat("a", 120),
		Source: "test",
	}
}

func TestValidateFiltersAndCounts(t *testing.T) {
	t.Parallel()
	v := New(Config{MinBodyLength: 100})

	short := good("https://a.example/short")
	short.Body = "too short"
	noTitle := good("https://a.example/notitle")
	noTitle.Title = "   "
	noBody := good("https://a.example/nobody")
	noBody.Body = ""
	badURL := good("ftp://a.example/file")
	relative := good("/relative/path")

	raw := []types.RawItem{good("https://a.example/1"), short, noTitle, noBody, badURL, relative, good("http://b.example/2")}
	res := v.Validate(raw, collected)

	if res.Total != 7 || len(res.Accepted) != 2 || res.RejectedCount() != 5 {
		t.Fatalf("unexpected counts: total=%d accepted=%d rejected=%d", res.Total, len(res.Accepted), res.RejectedCount())
	}
	want := map[Reason]int{ShortBody: 1, MissingTitle: 1, MissingBody: 1, BadURL: 2}
	for reason, n := range want {
		if res.Rejected[reason] != n {
			t.Fatalf("reason %s: expected %d, got %d", reason, n, res.Rejected[reason])
		}
	}
	if got := res.Reasons(); len(got) != 4 || got[0] != BadURL {
		t.Fatalf("unexpected reasons order: %v", got)
	}
}

func TestAcceptedItemsPassThroughUnchanged(t *testing.T) {
	t.Parallel()
	v := New(Config{MinBodyLength: 10})
	in := good("https://a.example/1")
	in.Title = "  Spaced title "
	in.HTML = "<p>raw</p>"

	res := v.Validate([]types.RawItem{in}, collected)
	if len(res.Accepted) != 1 {
		t.Fatalf("expected 1 accepted, got %d", len(res.Accepted))
	}
	got := res.Accepted[0]
	if got.Title != in.Title || got.Body != in.Body || got.URL != in.URL || got.HTML != in.HTML || got.Source != in.Source {
		t.Fatalf("item changed: %+v", got)
	}
	if !got.CollectedAt.Equal(collected) || !got.PublishedAt.Equal(collected) {
		t.Fatalf("expected collection time stamps, got %+v", got)
	}
}

func TestPublishedDatePolicy(t *testing.T) {
	t.Parallel()

	parsed := good("https://a.example/parsed")
	parsed.PublishedAt = "2026-03-01T10:30:00-03:00"
	broken := good("https://a.example/broken")
	broken.PublishedAt = "yesterday-ish"
	raw := []types.RawItem{parsed, broken}

	strict := New(Config{MinBodyLength: 10}).Validate(raw, collected)
	if len(strict.Accepted) != 1 || strict.Rejected[BadPublished] != 1 {
		t.Fatalf("strict: unexpected result %+v", strict.Rejected)
	}
	if !strict.Accepted[0].PublishedAt.Equal(time.Date(2026, 3, 1, 13, 30, 0, 0, time.UTC)) {
		t.Fatalf("unexpected parsed time %v", strict.Accepted[0].PublishedAt)
	}

	permissive := New(Config{MinBodyLength: 10, PermissiveDates: true}).Validate(raw, collected)
	if len(permissive.Accepted) != 2 {
		t.Fatalf("permissive: expected 2 accepted, got %d", len(permissive.Accepted))
	}
	if !permissive.Accepted[1].PublishedAt.Equal(collected) {
		t.Fatalf("expected fallback to collection time, got %v", permissive.Accepted[1].PublishedAt)
	}
}

func TestBodyLengthCountsRunes(t *testing.T) {
	t.Parallel()
	it := good("https://a.example/utf8")
	it.Body = strings.Repeat("ç", 100)
	res := New(Config{MinBodyLength: 100}).Validate([]types.RawItem{it}, collected)
	if len(res.Accepted) != 1 {
		t.Fatalf("expected rune-length body to pass, rejected: %v", res.Rejected)
	}
}

func TestParseTime(t *testing.T) {
	t.Parallel()
	cases := []string{
		"2026-03-02T07:00:00Z",
		"Mon, 02 Mar 2026 07:00:00 -0300",
		"2026-03-02 07:00:00",
		"02/03/2026 07h00",
		"02/03/2026  às 07:00",
	}
	for _, c := range cases {
		if _, ok := ParseTime(c); !ok {
			t.Fatalf("expected %q to parse", c)
		}
	}
	if _, ok := ParseTime("not a date"); ok {
		t.Fatal("expected failure")
	}
}
