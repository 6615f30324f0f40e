// Package digest assembles a group's stored items and summarizes them.
package digest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"digest_bot/internal/model"
	"digest_bot/internal/storage"
	"digest_bot/internal/summarizer"
)

// DefaultTimeout bounds a single summarizer call.
const DefaultTimeout = 60 * time.Second

// ErrNothingToSummarize is returned when a group has no stored items.
var ErrNothingToSummarize = errors.New("nothing to summarize")

// Composer builds digests for digest groups.
type Composer struct {
	store      storage.Storage
	summarizer summarizer.Summarizer
	log        *slog.Logger
	timeout    time.Duration
	lookback   time.Duration
	now        func() time.Time
}

// NewComposer creates a Composer. A zero lookback includes every stored
// item; otherwise only items newer than now-lookback are used.
func NewComposer(store storage.Storage, s summarizer.Summarizer, timeout, lookback time.Duration, log *slog.Logger) *Composer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Composer{
		store:      store,
		summarizer: s,
		log:        log,
		timeout:    timeout,
		lookback:   lookback,
		now:        time.Now,
	}
}

// Texts returns the group's item texts ordered by source attachment, then
// by publication time.
func (c *Composer) Texts(ctx context.Context, group *model.DigestGroup) ([]string, error) {
	sources, err := c.store.ListGroupSources(ctx, group.ID)
	if err != nil {
		return nil, fmt.Errorf("list group sources: %w", err)
	}

	var since time.Time
	if c.lookback > 0 {
		since = c.now().Add(-c.lookback)
	}

	var texts []string
	for _, src := range sources {
		items, err := c.store.ListItems(ctx, src.ID, since)
		if err != nil {
			return nil, fmt.Errorf("list items of %s: %w", src.Handle, err)
		}
		for _, it := range items {
			texts = append(texts, it.Text)
		}
	}
	return texts, nil
}

// Compose summarizes the group's items. It returns ErrNothingToSummarize
// without calling the summarizer when there are none, and a
// *summarizer.SummarizationError when the summarizer fails. It never retries.
func (c *Composer) Compose(ctx context.Context, group *model.DigestGroup) (string, error) {
	texts, err := c.Texts(ctx, group)
	if err != nil {
		return "", err
	}
	if len(texts) == 0 {
		return "", ErrNothingToSummarize
	}

	c.log.Debug("composing digest", "group_id", group.ID, "group", group.Name, "items", len(texts))

	sctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	digest, err := c.summarizer.Summarize(sctx, texts)
	if err != nil {
		var se *summarizer.SummarizationError
		if !errors.As(err, &se) {
			err = &summarizer.SummarizationError{Err: err}
		}
		return "", err
	}
	return digest, nil
}
