package collector

import (
	"context"
	"errors"

	"github.com/ibeckermayer/newsdigest/internal/browser"
	"github.com/ibeckermayer/newsdigest/internal/errs"
)

// BrowserFetcher renders pages with headless Chrome for sites whose
// listings are built client-side.
type BrowserFetcher struct {
	renderer     browser.Renderer
	waitSelector string
}

// NewBrowserFetcher creates a fetcher that waits for waitSelector before
// reading the DOM.
func NewBrowserFetcher(headless bool, userAgent, waitSelector string) *BrowserFetcher {
	return &BrowserFetcher{
		renderer:     browser.Renderer{Headless: headless, UserAgent: userAgent},
		waitSelector: waitSelector,
	}
}

// Fetch renders url. Browser failures are treated as transient since they
// are almost always navigation timeouts or crashed renderers.
func (f *BrowserFetcher) Fetch(ctx context.Context, url string) (Page, error) {
	html, err := f.renderer.Render(ctx, url, f.waitSelector)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Page{}, errs.Permanent("render", err)
		}
		return Page{}, errs.Transient("render", err)
	}
	return Page{URL: url, HTML: html}, nil
}
