package summarizer

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ibeckermayer/newsdigest/internal/types"
)

const (
	maxArticleChars = 500
	titlePrefix     = "TITLE:"
	systemPrompt    = "You are an assistant that writes concise executive news briefings."
)

// BuildPrompt constructs the LLM prompt from up to maxItems articles, most
// recently published first.
func BuildPrompt(items []types.ContentItem, theme string, maxItems int) string {
	if maxItems > 0 && len(items) > maxItems {
		items = items[:maxItems]
	}
	sorted := make([]types.ContentItem, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return effectiveTime(sorted[i]).After(effectiveTime(sorted[j]))
	})

	var sb strings.Builder

	sb.WriteString("You are analyzing today's news for executives and managers.\n\n")
	sb.WriteString(fmt.Sprintf("Write an executive summary of the main stories on the theme: %s.\n\n", theme))

	sb.WriteString("## Articles\n\n")
	for i, it := range sorted {
		if i > 0 {
			sb.WriteString("---\n")
		}
		sb.WriteString(fmt.Sprintf("[Article %d]\n", i+1))
		sb.WriteString(fmt.Sprintf("Source: %s\n", it.Source))
		sb.WriteString(fmt.Sprintf("Date: %s\n", effectiveTime(it).Format("2006-01-02 15:04")))
		sb.WriteString(fmt.Sprintf("Title: %s\n", it.Title))
		sb.WriteString(fmt.Sprintf("Content: %s\n", truncate(it.Body, maxArticleChars)))
	}

	sb.WriteString("\n## Task\n\n")
	sb.WriteString("1. First, write a short catchy title (at most 60 characters) capturing the main topic of the day.\n")
	sb.WriteString("2. Group the stories by topic and highlight what matters and why.\n")
	sb.WriteString("3. Use bullet points, keep an objective tone and stay within 500-700 words.\n")
	sb.WriteString("4. Write in the language of the articles.\n\n")

	sb.WriteString("IMPORTANT: The first line must be the title in the form \"TITLE: <title>\". ")
	sb.WriteString("The summary follows on the next lines as markdown with these sections:\n")
	sb.WriteString("## Highlights\n## <Topic>\n## Implications and Trends\n")

	return sb.String()
}

// ParseResponse splits the model output into title and body. Output that
// does not start with a title line keeps DefaultTitle and the full text.
func ParseResponse(raw string) Result {
	raw = strings.TrimSpace(raw)
	res := Result{Title: DefaultTitle, Text: raw}
	if raw == "" {
		return res
	}

	first, rest, _ := strings.Cut(raw, "\n")
	clean := strings.TrimSpace(strings.ReplaceAll(first, "*", ""))
	upper := strings.ToUpper(clean)
	if !strings.HasPrefix(upper, titlePrefix) && !strings.HasPrefix(upper, "TÍTULO:") {
		return res
	}

	_, title, _ := strings.Cut(clean, ":")
	title = strings.Trim(strings.TrimSpace(title), `"`)
	if utf8.RuneCountInString(title) > 3 {
		res.Title = title
	}
	res.Text = strings.TrimSpace(rest)
	return res
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}

func effectiveTime(it types.ContentItem) time.Time {
	if !it.PublishedAt.IsZero() {
		return it.PublishedAt
	}
	return it.CollectedAt
}
