package collector

import (
	"context"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/ibeckermayer/newsdigest/internal/errs"
	"github.com/ibeckermayer/newsdigest/internal/logging"
	"github.com/ibeckermayer/newsdigest/internal/types"
)

// SiteCollector collects articles from one news site: it reads the listing
// pages, follows matching links and extracts each article.
type SiteCollector struct {
	src     Source
	fetcher Fetcher
	robots  *RobotsPolicy
	pattern *regexp.Regexp
	logger  *slog.Logger
}

// NewSiteCollector creates a collector for src. A nil robots policy allows
// every URL.
func NewSiteCollector(src Source, fetcher Fetcher, robots *RobotsPolicy, logger *slog.Logger) (*SiteCollector, error) {
	if err := src.validate(); err != nil {
		return nil, err
	}
	c := &SiteCollector{
		src:     src,
		fetcher: fetcher,
		robots:  robots,
		logger:  logging.Component(logger, "collector").With("source", src.Name),
	}
	if src.LinkPattern != "" {
		c.pattern = regexp.MustCompile(src.LinkPattern)
	}
	return c, nil
}

// Name returns the source name.
func (c *SiteCollector) Name() string { return c.src.Name }

// Collect fetches the listing pages and every linked article. Individual
// article failures are logged and skipped; the call fails only when nothing
// could be collected and an error occurred.
func (c *SiteCollector) Collect(ctx context.Context) ([]types.RawItem, error) {
	links, err := c.links(ctx)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("links discovered", "count", len(links))

	var items []types.RawItem
	var lastErr error
	for i, link := range links {
		if i > 0 && c.src.Delay > 0 {
			if err := sleep(ctx, c.src.Delay); err != nil {
				return nil, errs.Permanent("collect", err)
			}
		}
		if !c.robots.Allowed(ctx, link) {
			c.logger.Debug("disallowed by robots.txt", "url", link)
			continue
		}

		page, err := c.fetcher.Fetch(ctx, link)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			c.logger.Warn("article fetch failed", "url", link, "error", err)
			lastErr = err
			continue
		}

		item, err := Extract(page, c.src)
		if err != nil {
			c.logger.Warn("article extraction failed", "url", link, "error", err)
			continue
		}
		items = append(items, item)
	}

	if len(items) == 0 && lastErr != nil {
		return nil, lastErr
	}
	c.logger.Info("source collected", "items", len(items))
	return items, nil
}

// links returns the deduplicated article links found on the listing pages,
// capped at MaxItems. It fails only if every listing page failed.
func (c *SiteCollector) links(ctx context.Context) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	var lastErr error
	failures := 0

	for _, listing := range c.src.ListingURLs {
		if !c.robots.Allowed(ctx, listing) {
			c.logger.Warn("listing disallowed by robots.txt", "url", listing)
			failures++
			continue
		}
		page, err := c.fetcher.Fetch(ctx, listing)
		if err != nil {
			c.logger.Warn("listing fetch failed", "url", listing, "error", err)
			lastErr = err
			failures++
			continue
		}

		for _, link := range c.extractLinks(page) {
			if seen[link] {
				continue
			}
			seen[link] = true
			out = append(out, link)
			if c.src.MaxItems > 0 && len(out) >= c.src.MaxItems {
				return out, nil
			}
		}
	}

	if failures == len(c.src.ListingURLs) && lastErr != nil {
		return nil, lastErr
	}
	return out, nil
}

func (c *SiteCollector) extractLinks(page Page) []string {
	base, err := url.Parse(page.URL)
	if err != nil {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return nil
	}

	var links []string
	doc.Find(c.src.LinkSelector).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		link, ok := resolveLink(base, href)
		if !ok {
			return
		}
		if c.pattern != nil && !c.pattern.MatchString(link) {
			return
		}
		links = append(links, link)
	})
	return links
}

func resolveLink(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	u := base.ResolveReference(ref)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	u.Fragment = ""
	return u.String(), true
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
