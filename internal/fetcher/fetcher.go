// Package fetcher downloads recent posts of a public channel.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"
)

const (
	userAgent    = "DigestBot/1.0"
	maxBodyBytes = 5 * 1024 * 1024
)

// Fetcher kinds accepted by New.
const (
	KindTelegram = "telegram"
	KindRSS      = "rss"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Post is a candidate item as reported by the source.
type Post struct {
	Text        string
	PublishedAt time.Time
}

// Fetcher returns the candidate posts of a source. Implementations may
// return posts older than since; callers apply the window themselves.
type Fetcher interface {
	Fetch(ctx context.Context, handle string, since time.Time) ([]Post, error)
}

// Options configures New.
type Options struct {
	Kind        string
	BaseURL     string
	URLTemplate string
	Timeout     time.Duration
	// Rate is the maximum number of requests per second, Burst how many
	// may start at once. A zero Rate disables throttling.
	Rate  float64
	Burst int
}

// New builds the fetcher of the given kind with its own HTTP client and
// rate limiter.
func New(opts Options) (Fetcher, error) {
	client := &http.Client{Timeout: opts.Timeout}
	var limiter *rate.Limiter
	if opts.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.Rate), max(opts.Burst, 1))
	}

	switch opts.Kind {
	case KindTelegram, "":
		return NewTelegram(client, opts.BaseURL, limiter), nil
	case KindRSS:
		return NewFeed(client, opts.URLTemplate, limiter), nil
	default:
		return nil, fmt.Errorf("unsupported fetcher kind %q", opts.Kind)
	}
}

// FetchError reports a transport, status or parse failure for one source.
// A timeout unwraps to context.DeadlineExceeded.
type FetchError struct {
	Handle string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Handle, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// getter performs throttled GET requests.
type getter struct {
	client  HTTPClient
	limiter *rate.Limiter
}

func (g getter) get(ctx context.Context, url string) ([]byte, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// selectionText returns the visible text of sel with line breaks kept.
func selectionText(sel *goquery.Selection) string {
	sel.Find("br").ReplaceWithHtml("\n")
	return strings.TrimSpace(sel.Text())
}

// htmlText strips markup from an HTML fragment.
func htmlText(fragment string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.TrimSpace(fragment)
	}
	return selectionText(doc.Selection)
}
