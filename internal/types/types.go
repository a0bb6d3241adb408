package types

import (
	"sort"
	"strings"
	"time"
)

// Slot is a named delivery window such as "morning" or "evening".
type Slot string

// RawItem is a candidate item as produced by a collector, before validation.
type RawItem struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	PublishedAt string `json:"published_at,omitempty"` // source text, parsed by the validator
	Source      string `json:"source"`
	HTML        string `json:"-"` // raw page, stored as a blob
}

// ContentItem is a validated item keyed by URL.
type ContentItem struct {
	ID          int64     `json:"id"`
	URL         string    `json:"url"`
	Source      string    `json:"source"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	PublishedAt time.Time `json:"published_at"`
	CollectedAt time.Time `json:"collected_at"`
	Processed   bool      `json:"processed"`
	BlobRef     string    `json:"blob_ref,omitempty"`
	HTML        string    `json:"-"`
}

// Summary is the text produced for one (date, slot).
type Summary struct {
	ID        int64     `json:"id"`
	Date      string    `json:"date"` // YYYY-MM-DD
	Slot      Slot      `json:"slot"`
	Title     string    `json:"title"`
	Text      string    `json:"text"`
	ItemCount int       `json:"item_count"`
	Theme     string    `json:"theme"`
	BlobRef   string    `json:"blob_ref,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Preference is a recipient's delivery choice.
type Preference struct {
	Identity      string    `json:"identity"`
	Subscribed    bool      `json:"subscribed"`
	PreferredSlot Slot      `json:"preferred_slot"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// DeliveryOutcome is the result of one delivery attempt.
type DeliveryOutcome string

const (
	Delivered DeliveryOutcome = "delivered"
	Failed    DeliveryOutcome = "failed"
)

// DeliveryRecord is an append-only audit entry for one attempt.
type DeliveryRecord struct {
	ID          int64           `json:"id"`
	SummaryID   int64           `json:"summary_id"`
	Identity    string          `json:"identity"`
	Outcome     DeliveryOutcome `json:"outcome"`
	Detail      string          `json:"detail,omitempty"`
	AttemptedAt time.Time       `json:"attempted_at"`
}

// Message is a rendered outbound message.
type Message struct {
	Subject   string
	HTMLBody  string
	PlainBody string
}

// NormalizeIdentity canonicalises a recipient identity (an email address).
func NormalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

// SlotTime pairs a slot with its local trigger time ("15:04").
type SlotTime struct {
	Slot Slot
	At   string
}

// EarliestSlot returns the slot with the earliest trigger time.
// Times that do not parse sort last.
func EarliestSlot(slots []SlotTime) Slot {
	if len(slots) == 0 {
		return ""
	}
	sorted := make([]SlotTime, len(slots))
	copy(sorted, slots)
	sort.SliceStable(sorted, func(i, j int) bool {
		return minuteOfDay(sorted[i].At) < minuteOfDay(sorted[j].At)
	})
	return sorted[0].Slot
}

func minuteOfDay(at string) int {
	t, err := time.Parse("15:04", at)
	if err != nil {
		return 24 * 60
	}
	return t.Hour()*60 + t.Minute()
}
