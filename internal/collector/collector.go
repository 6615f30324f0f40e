// Package collector harvests recent posts of sources into storage.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"digest_bot/internal/fetcher"
	"digest_bot/internal/model"
	"digest_bot/internal/storage"
	"digest_bot/internal/topic"
)

// Defaults used when Options leave a field zero.
const (
	DefaultWindow      = 12 * time.Hour
	DefaultTimeout     = 10 * time.Second
	DefaultConcurrency = 4
)

// Options configures a Service.
type Options struct {
	Window      time.Duration
	Timeout     time.Duration
	Concurrency int
}

// Result is the outcome of collecting one source.
type Result struct {
	Handle string
	Added  int
	Err    error
}

// Service fetches posts, filters them to the collection window and stores
// the ones not seen before.
type Service struct {
	store   storage.Storage
	fetcher fetcher.Fetcher
	log     *slog.Logger
	opts    Options
	now     func() time.Time
}

// New creates a Service.
func New(store storage.Storage, f fetcher.Fetcher, opts Options, log *slog.Logger) *Service {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Service{
		store:   store,
		fetcher: f,
		log:     log,
		opts:    opts,
		now:     time.Now,
	}
}

// Collect harvests handle over the configured window ending now and returns
// the number of newly stored items.
func (s *Service) Collect(ctx context.Context, handle string) (int, error) {
	return s.CollectSince(ctx, handle, s.now().Add(-s.opts.Window))
}

// CollectSince harvests handle keeping posts published at or after since.
// Re-running it never stores an item twice.
func (s *Service) CollectSince(ctx context.Context, handle string, since time.Time) (int, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	posts, err := s.fetcher.Fetch(fetchCtx, handle, since)
	cancel()
	if err != nil {
		var fe *fetcher.FetchError
		if !errors.As(err, &fe) {
			err = &fetcher.FetchError{Handle: handle, Err: err}
		}
		return 0, err
	}

	src, err := s.store.EnsureSource(ctx, handle)
	if err != nil {
		return 0, fmt.Errorf("ensure source: %w", err)
	}

	topics, err := s.store.ListTopics(ctx)
	if err != nil {
		return 0, fmt.Errorf("list topics: %w", err)
	}

	added := 0
	for _, p := range Filter(posts, since) {
		exists, err := s.store.ItemExists(ctx, src.ID, p.Text, p.PublishedAt)
		if err != nil {
			return added, fmt.Errorf("check item: %w", err)
		}
		if exists {
			continue
		}

		item := &model.Item{
			SourceID:    src.ID,
			Text:        p.Text,
			PublishedAt: p.PublishedAt,
			Topics:      topic.Match(p.Text, topics),
		}
		// The unique constraint decides when another collector got there first.
		inserted, err := s.store.AddItem(ctx, item)
		if err != nil {
			return added, fmt.Errorf("add item: %w", err)
		}
		if inserted {
			added++
		}
	}
	return added, nil
}

// CollectMany harvests every handle, at most Concurrency at a time.
// A failing source does not stop the others; results keep input order.
func (s *Service) CollectMany(ctx context.Context, handles []string) []Result {
	results := make([]Result, len(handles))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for i, h := range handles {
		g.Go(func() error {
			added, err := s.Collect(gctx, h)
			results[i] = Result{Handle: h, Added: added, Err: err}
			if err != nil {
				s.log.Error("collect source", "handle", h, "error", err)
			} else {
				s.log.Info("collected source", "handle", h, "added", added)
			}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// Filter keeps posts with non-empty text published at or after since.
func Filter(posts []fetcher.Post, since time.Time) []fetcher.Post {
	var kept []fetcher.Post
	for _, p := range posts {
		if p.Text == "" || p.PublishedAt.Before(since) {
			continue
		}
		kept = append(kept, p)
	}
	return kept
}
