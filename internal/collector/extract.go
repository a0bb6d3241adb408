package collector

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/ibeckermayer/newsdigest/internal/types"
)

var (
	spaceRun  = regexp.MustCompile(`[ \t\r\f\v]+`)
	blankRun  = regexp.MustCompile(`\n\s*\n+`)
	blockTags = "p, div, br, li, h1, h2, h3, h4, h5, h6, tr, blockquote"
)

// Extract pulls a raw item out of an article page. Configured selectors win;
// readability fills in whatever they miss. Validation of the result is left
// to the validate stage.
func Extract(page Page, src Source) (types.RawItem, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return types.RawItem{}, fmt.Errorf("parse %s: %w", page.URL, err)
	}

	item := types.RawItem{
		URL:         page.URL,
		Source:      src.Name,
		Title:       selectText(doc, src.TitleSelector),
		Body:        selectBlocks(doc, src.BodySelector),
		PublishedAt: publishedAt(doc, src),
		HTML:        page.HTML,
	}

	if item.Title == "" {
		item.Title = metaContent(doc, `meta[property="og:title"]`)
	}
	if item.Title == "" || item.Body == "" {
		if title, body, err := readable(page); err == nil {
			if item.Title == "" {
				item.Title = title
			}
			if item.Body == "" {
				item.Body = body
			}
		}
	}
	if item.Title == "" {
		item.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	if item.Title == "" && item.Body == "" {
		return types.RawItem{}, errors.New("no article content found")
	}
	return item, nil
}

func readable(page Page) (string, string, error) {
	u, err := url.Parse(page.URL)
	if err != nil {
		return "", "", err
	}
	article, err := readability.FromReader(strings.NewReader(page.HTML), u)
	if err != nil {
		return "", "", err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(article.Content))
	if err != nil {
		return "", "", err
	}
	return strings.TrimSpace(article.Title), blockText(doc.Selection), nil
}

func selectText(doc *goquery.Document, selector string) string {
	if selector == "" {
		return ""
	}
	return normalizeSpace(doc.Find(selector).First().Text())
}

// selectBlocks joins the text of every match as separate paragraphs.
func selectBlocks(doc *goquery.Document, selector string) string {
	if selector == "" {
		return ""
	}
	var parts []string
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		if text := blockText(s); text != "" {
			parts = append(parts, text)
		}
	})
	return strings.Join(parts, "\n\n")
}

// blockText renders a selection as text with line breaks between block
// elements, so paragraphs do not run together.
func blockText(s *goquery.Selection) string {
	s = s.Clone()
	s.Find("script, style, noscript, figure, aside").Remove()
	s.Find(blockTags).Each(func(_ int, b *goquery.Selection) {
		b.AppendHtml("\n\n")
	})
	text := spaceRun.ReplaceAllString(s.Text(), " ")
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	text = strings.Join(lines, "\n")
	text = blankRun.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func publishedAt(doc *goquery.Document, src Source) string {
	if src.DateSelector != "" {
		sel := doc.Find(src.DateSelector).First()
		if src.DateAttr != "" {
			if v, ok := sel.Attr(src.DateAttr); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
		if v := normalizeSpace(sel.Text()); v != "" {
			return v
		}
	}
	if v := metaContent(doc, `meta[property="article:published_time"]`); v != "" {
		return v
	}
	if v, ok := doc.Find("time[datetime]").First().Attr("datetime"); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func metaContent(doc *goquery.Document, selector string) string {
	v, _ := doc.Find(selector).First().Attr("content")
	return strings.TrimSpace(v)
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
