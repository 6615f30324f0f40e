// Package scheduler runs periodic collection and digest delivery.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"digest_bot/internal/collector"
	"digest_bot/internal/digest"
	"digest_bot/internal/model"
	"digest_bot/internal/storage"
)

// Sender is the interface for sending Telegram messages.
type Sender interface {
	SendMessage(chatID int64, text string)
}

// Collector harvests a batch of sources.
type Collector interface {
	CollectMany(ctx context.Context, handles []string) []collector.Result
}

// Composer builds the digest of a group.
type Composer interface {
	Compose(ctx context.Context, group *model.DigestGroup) (string, error)
}

// Options configures the scheduled jobs. An empty schedule disables its job.
type Options struct {
	CollectSchedule string
	DigestSchedule  string
	// CollectOnStart runs one collection before the first scheduled one.
	CollectOnStart bool
}

// Scheduler collects every attached source and optionally delivers digests
// to group owners on cron schedules.
type Scheduler struct {
	store     storage.Storage
	collector Collector
	composer  Composer
	sender    Sender
	log       *slog.Logger
	opts      Options
}

// New creates a Scheduler. composer and sender may be nil when no digest
// schedule is set.
func New(store storage.Storage, c Collector, composer Composer, sender Sender, opts Options, log *slog.Logger) *Scheduler {
	return &Scheduler{
		store:     store,
		collector: c,
		composer:  composer,
		sender:    sender,
		log:       log,
		opts:      opts,
	}
}

// Run starts the cron jobs, blocking until ctx is cancelled. Jobs in
// progress are waited for before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	if s.opts.CollectSchedule != "" {
		if _, err := c.AddFunc(s.opts.CollectSchedule, func() { s.CollectAll(ctx) }); err != nil {
			return fmt.Errorf("schedule collection %q: %w", s.opts.CollectSchedule, err)
		}
		s.log.Info("collection scheduled", "schedule", s.opts.CollectSchedule)
	}
	if s.opts.DigestSchedule != "" {
		if s.composer == nil || s.sender == nil {
			return errors.New("digest schedule needs a composer and a sender")
		}
		if _, err := c.AddFunc(s.opts.DigestSchedule, func() { s.DeliverDigests(ctx) }); err != nil {
			return fmt.Errorf("schedule digests %q: %w", s.opts.DigestSchedule, err)
		}
		s.log.Info("digest delivery scheduled", "schedule", s.opts.DigestSchedule)
	}

	if s.opts.CollectOnStart {
		s.CollectAll(ctx)
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// CollectAll harvests every source attached to at least one group.
func (s *Scheduler) CollectAll(ctx context.Context) []collector.Result {
	sources, err := s.store.ListAttachedSources(ctx)
	if err != nil {
		s.log.Error("list attached sources", "error", err)
		return nil
	}
	if len(sources) == 0 {
		return nil
	}

	handles := make([]string, len(sources))
	for i, src := range sources {
		handles[i] = src.Handle
	}

	results := s.collector.CollectMany(ctx, handles)
	added, failed := 0, 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			continue
		}
		added += r.Added
	}
	s.log.Info("collection finished", "sources", len(handles), "added", added, "failed", failed)
	return results
}

// DeliverDigests sends the digest of every group to its owner and returns
// how many were sent. Groups with nothing to summarize are skipped.
func (s *Scheduler) DeliverDigests(ctx context.Context) int {
	groups, err := s.store.ListAllGroups(ctx)
	if err != nil {
		s.log.Error("list groups", "error", err)
		return 0
	}

	sent := 0
	for _, g := range groups {
		if ctx.Err() != nil {
			break
		}
		text, err := s.composer.Compose(ctx, &g)
		if err != nil {
			if errors.Is(err, digest.ErrNothingToSummarize) {
				s.log.Debug("nothing to summarize", "account_id", g.AccountID, "group", g.Name)
				continue
			}
			s.log.Error("compose digest", "account_id", g.AccountID, "group", g.Name, "error", err)
			continue
		}
		s.sender.SendMessage(g.AccountID, fmt.Sprintf("Digest of %q:\n\n%s", g.Name, text))
		sent++
	}

	s.log.Info("digests delivered", "groups", len(groups), "sent", sent)
	return sent
}
