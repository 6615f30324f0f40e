package fetcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/time/rate"
)

// DefaultFeedURLTemplate points at an RSS bridge that republishes channels.
const DefaultFeedURLTemplate = "https://rsshub.app/telegram/channel/%s"

// Feed reads a channel through an RSS/Atom bridge.
type Feed struct {
	getter
	urlTemplate string
}

// NewFeed creates a Feed fetcher. urlTemplate must contain one %s for the handle.
func NewFeed(client HTTPClient, urlTemplate string, limiter *rate.Limiter) *Feed {
	if urlTemplate == "" {
		urlTemplate = DefaultFeedURLTemplate
	}
	return &Feed{
		getter:      getter{client: client, limiter: limiter},
		urlTemplate: urlTemplate,
	}
}

// Fetch downloads and parses the bridge feed of handle.
func (f *Feed) Fetch(ctx context.Context, handle string, _ time.Time) ([]Post, error) {
	body, err := f.get(ctx, fmt.Sprintf(f.urlTemplate, handle))
	if err != nil {
		return nil, &FetchError{Handle: handle, Err: err}
	}

	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, &FetchError{Handle: handle, Err: fmt.Errorf("parse feed: %w", err)}
	}
	return FeedPosts(feed.Items), nil
}

// FeedPosts converts feed items to posts. Items without a date are dropped.
func FeedPosts(items []*gofeed.Item) []Post {
	var posts []Post
	for _, item := range items {
		published := item.PublishedParsed
		if published == nil {
			published = item.UpdatedParsed
		}
		if published == nil {
			continue
		}
		posts = append(posts, Post{
			Text:        itemText(item),
			PublishedAt: *published,
		})
	}
	return posts
}

func itemText(item *gofeed.Item) string {
	for _, candidate := range []string{item.Description, item.Content} {
		if text := htmlText(candidate); text != "" {
			return text
		}
	}
	return strings.TrimSpace(item.Title)
}
