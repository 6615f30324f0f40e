package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"
)

// DefaultTelegramBaseURL is the public web preview of a channel.
const DefaultTelegramBaseURL = "https://t.me/s/"

// Telegram scrapes the public web preview of a Telegram channel.
type Telegram struct {
	getter
	baseURL string
}

// NewTelegram creates a Telegram fetcher. A nil limiter disables throttling.
func NewTelegram(client HTTPClient, baseURL string, limiter *rate.Limiter) *Telegram {
	if baseURL == "" {
		baseURL = DefaultTelegramBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Telegram{
		getter:  getter{client: client, limiter: limiter},
		baseURL: baseURL,
	}
}

// Fetch downloads the channel page and extracts every dated message.
// Messages without text are returned with an empty Text.
func (t *Telegram) Fetch(ctx context.Context, handle string, _ time.Time) ([]Post, error) {
	body, err := t.get(ctx, t.baseURL+handle)
	if err != nil {
		return nil, &FetchError{Handle: handle, Err: err}
	}

	posts, err := ParseChannelPage(body)
	if err != nil {
		return nil, &FetchError{Handle: handle, Err: err}
	}
	return posts, nil
}

// ParseChannelPage extracts posts from a t.me/s/<handle> page.
func ParseChannelPage(page []byte) ([]Post, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}

	var posts []Post
	doc.Find(".tgme_widget_message").Each(func(_ int, msg *goquery.Selection) {
		raw, ok := msg.Find(".tgme_widget_message_date time").First().Attr("datetime")
		if !ok {
			return
		}
		published, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return
		}
		posts = append(posts, Post{
			Text:        selectionText(msg.Find(".tgme_widget_message_text").First()),
			PublishedAt: published,
		})
	})
	return posts, nil
}
