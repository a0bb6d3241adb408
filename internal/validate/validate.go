// Package validate filters collected candidates before they are persisted.
package validate

import (
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ibeckermayer/newsdigest/internal/types"
)

// Reason names why an item was rejected.
type Reason string

const (
	MissingTitle Reason = "missing_title"
	MissingBody  Reason = "missing_body"
	ShortBody    Reason = "short_body"
	BadURL       Reason = "bad_url"
	BadPublished Reason = "bad_published"
)

// Config controls validation policy.
type Config struct {
	MinBodyLength int
	// PermissiveDates replaces an unparseable publication time with the
	// collection time instead of rejecting the item.
	PermissiveDates bool
}

// Result is the outcome of validating one batch.
type Result struct {
	Accepted []types.ContentItem
	Rejected map[Reason]int
	Total    int
}

// RejectedCount is the number of items dropped.
func (r Result) RejectedCount() int {
	n := 0
	for _, c := range r.Rejected {
		n += c
	}
	return n
}

// Reasons returns the rejection reasons in a stable order.
func (r Result) Reasons() []Reason {
	out := make([]Reason, 0, len(r.Rejected))
	for k := range r.Rejected {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Validator applies Config to candidate items.
type Validator struct {
	cfg Config
}

// New creates a Validator.
func New(cfg Config) *Validator {
	return &Validator{cfg: cfg}
}

// Validate checks every item and converts the accepted ones. collectedAt
// stamps accepted items and is the fallback publication time. The input
// slice is not modified.
func (v *Validator) Validate(raw []types.RawItem, collectedAt time.Time) Result {
	res := Result{
		Accepted: make([]types.ContentItem, 0, len(raw)),
		Rejected: map[Reason]int{},
		Total:    len(raw),
	}

	for _, it := range raw {
		item, reason := v.check(it, collectedAt)
		if reason != "" {
			res.Rejected[reason]++
			continue
		}
		res.Accepted = append(res.Accepted, item)
	}

	return res
}

func (v *Validator) check(it types.RawItem, collectedAt time.Time) (types.ContentItem, Reason) {
	if strings.TrimSpace(it.Title) == "" {
		return types.ContentItem{}, MissingTitle
	}
	if strings.TrimSpace(it.Body) == "" {
		return types.ContentItem{}, MissingBody
	}
	if utf8.RuneCountInString(it.Body) < v.cfg.MinBodyLength {
		return types.ContentItem{}, ShortBody
	}
	if !validURL(it.URL) {
		return types.ContentItem{}, BadURL
	}

	published := collectedAt
	if strings.TrimSpace(it.PublishedAt) != "" {
		t, ok := ParseTime(it.PublishedAt)
		switch {
		case ok:
			published = t
		case !v.cfg.PermissiveDates:
			return types.ContentItem{}, BadPublished
		}
	}

	return types.ContentItem{
		URL:         it.URL,
		Source:      it.Source,
		Title:       it.Title,
		Body:        it.Body,
		PublishedAt: published,
		CollectedAt: collectedAt,
		HTML:        it.HTML,
	}, ""
}

func validURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

var layouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"02/01/2006 15:04",
	"02/01/2006 15h04",
	"02/01/2006 às 15:04",
	"02/01/2006 às 15h04",
	"02/01/2006",
}

// ParseTime tries the publication formats seen on news sites. Times
// without a zone are read as UTC.
func ParseTime(value string) (time.Time, bool) {
	value = strings.Join(strings.Fields(value), " ")
	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
