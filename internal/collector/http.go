package collector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/ibeckermayer/newsdigest/internal/browser"
	"github.com/ibeckermayer/newsdigest/internal/errs"
)

const maxPageBytes = 5 << 20

// HTTPFetcher downloads pages with a plain HTTP client and decodes them to
// UTF-8.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
}

// NewHTTPFetcher creates a fetcher. A nil client gets a 30s timeout client.
func NewHTTPFetcher(client *http.Client, userAgent string) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if userAgent == "" {
		userAgent = browser.DefaultUserAgent
	}
	return &HTTPFetcher{client: client, userAgent: userAgent}
}

// Fetch downloads url. Network failures, 408, 429 and 5xx are transient;
// other non-200 statuses are permanent.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (Page, error) {
	const op = "fetch"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Page{}, errs.Permanent(op, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return Page{}, classifyNetError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Page{}, classifyStatus(op, resp.StatusCode, url)
	}

	body, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		body = resp.Body
	}
	data, err := io.ReadAll(io.LimitReader(body, maxPageBytes))
	if err != nil {
		return Page{}, classifyNetError(op, err)
	}

	return Page{URL: resp.Request.URL.String(), HTML: string(data)}, nil
}

func classifyStatus(op string, code int, url string) error {
	err := fmt.Errorf("%s: HTTP %d", url, code)
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout, code >= 500:
		return errs.Transient(op, err)
	default:
		return errs.Permanent(op, err)
	}
}

func classifyNetError(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return errs.Permanent(op, err)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return errs.Transient(op, err)
	}
	return errs.Permanent(op, err)
}
