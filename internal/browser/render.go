package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/chromedp"
)

// Renderer loads pages in a fresh browser and returns the resulting DOM.
type Renderer struct {
	Headless  bool
	UserAgent string
}

// Render navigates to url, waits for waitSelector when given (otherwise for
// body), and returns the outer HTML of the document.
func (r Renderer) Render(ctx context.Context, url, waitSelector string) (string, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, Options(r.Headless, r.UserAgent)...)
	defer allocCancel()

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()

	if waitSelector == "" {
		waitSelector = "body"
	}

	var html string
	if err := chromedp.Run(browserCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady(waitSelector, chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return "", fmt.Errorf("render %s: %w", url, err)
	}
	return html, nil
}
