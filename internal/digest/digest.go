// Package digest renders summaries and failure alerts into email messages.
package digest

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/ibeckermayer/newsdigest/internal/types"
)

// Renderer creates digest emails from stored summaries
type Renderer struct {
	links    Links
	loc      *time.Location
	digest   *template.Template
	alert    *template.Template
	fromName string
}

// New creates a renderer. A nil loc renders dates in UTC.
func New(links Links, loc *time.Location, fromName string) (*Renderer, error) {
	if loc == nil {
		loc = time.UTC
	}
	digestTmpl, err := template.New("digest").Parse(digestTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse digest template: %w", err)
	}
	alertTmpl, err := template.New("alert").Parse(alertTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse alert template: %w", err)
	}
	return &Renderer{
		links:    links,
		loc:      loc,
		digest:   digestTmpl,
		alert:    alertTmpl,
		fromName: fromName,
	}, nil
}

// digestData is the template data structure
type digestData struct {
	Title          string
	Date           string
	Slot           string
	Theme          string
	Blocks         []Block
	ItemCount      int
	Sender         string
	PreferencesURL string
	UnsubscribeURL string
}

// Render builds the message for one recipient. Links embed the recipient's
// capability token, so every recipient gets a distinct body.
func (r *Renderer) Render(sum types.Summary, identity string) (types.Message, error) {
	if strings.TrimSpace(sum.Text) == "" {
		return types.Message{}, fmt.Errorf("summary %s/%s has no text", sum.Date, sum.Slot)
	}

	title := sum.Title
	if title == "" {
		title = "Daily News Summary"
	}
	data := digestData{
		Title:          title,
		Date:           r.displayDate(sum.Date),
		Slot:           capitalize(string(sum.Slot)),
		Theme:          sum.Theme,
		Blocks:         ParseBlocks(sum.Text),
		ItemCount:      sum.ItemCount,
		Sender:         r.fromName,
		PreferencesURL: r.links.Preferences(identity),
		UnsubscribeURL: r.links.Unsubscribe(identity),
	}

	var htmlBuf bytes.Buffer
	if err := r.digest.Execute(&htmlBuf, data); err != nil {
		return types.Message{}, fmt.Errorf("failed to render template: %w", err)
	}

	return types.Message{
		Subject:   fmt.Sprintf("%s | %s %s", title, data.Slot, data.Date),
		HTMLBody:  htmlBuf.String(),
		PlainBody: buildPlainText(data, sum.Text),
	}, nil
}

// StageFailure describes one failed stage in an alert.
type StageFailure struct {
	Name     string
	Attempts int
	Error    string
}

// Alert is the content of a run failure notification.
type Alert struct {
	RunID    string
	Slot     types.Slot
	Started  time.Time
	Finished time.Time
	Failed   []StageFailure
	Skipped  []string
}

// RenderAlert builds the operator message for a failed run.
func (r *Renderer) RenderAlert(a Alert) (types.Message, error) {
	var htmlBuf bytes.Buffer
	if err := r.alert.Execute(&htmlBuf, struct {
		Alert
		StartedAt string
		Duration  string
	}{
		Alert:     a,
		StartedAt: a.Started.In(r.loc).Format("2006-01-02 15:04:05 MST"),
		Duration:  a.Finished.Sub(a.Started).Round(time.Second).String(),
	}); err != nil {
		return types.Message{}, fmt.Errorf("failed to render alert: %w", err)
	}

	var plain strings.Builder
	fmt.Fprintf(&plain, "Run %s for slot %s failed.\n", a.RunID, a.Slot)
	fmt.Fprintf(&plain, "Started: %s\n\n", a.Started.In(r.loc).Format("2006-01-02 15:04:05 MST"))
	for _, f := range a.Failed {
		fmt.Fprintf(&plain, "- %s (%d attempts): %s\n", f.Name, f.Attempts, f.Error)
	}
	if len(a.Skipped) > 0 {
		fmt.Fprintf(&plain, "\nSkipped: %s\n", strings.Join(a.Skipped, ", "))
	}

	return types.Message{
		Subject:   fmt.Sprintf("[news digest] %s run failed (%d stages)", a.Slot, len(a.Failed)),
		HTMLBody:  htmlBuf.String(),
		PlainBody: plain.String(),
	}, nil
}

func (r *Renderer) displayDate(date string) string {
	t, err := time.ParseInLocation("2006-01-02", date, r.loc)
	if err != nil {
		return date
	}
	return t.Format("Monday, January 2")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func buildPlainText(data digestData, text string) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s\n%s · %s\n\n", data.Title, data.Slot, data.Date)
	buf.WriteString(strings.TrimSpace(text))
	buf.WriteString("\n\n--\n")
	fmt.Fprintf(&buf, "Manage your preferences: %s\n", data.PreferencesURL)
	fmt.Fprintf(&buf, "Unsubscribe: %s\n", data.UnsubscribeURL)
	return buf.String()
}
