package dialog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"digest_bot/internal/collector"
	"digest_bot/internal/model"
	"digest_bot/internal/storage"
)

// DefaultTimeout is how long a pending dialogue survives without events.
const DefaultTimeout = 15 * time.Minute

// Collector refreshes sources before a digest is composed.
type Collector interface {
	CollectMany(ctx context.Context, handles []string) []collector.Result
}

// Composer builds the digest of a group.
type Composer interface {
	Compose(ctx context.Context, group *model.DigestGroup) (string, error)
}

// Options configures an Engine.
type Options struct {
	// Timeout is the idle timeout of a pending dialogue.
	Timeout time.Duration
	// Refresh collects a group's sources before composing its digest.
	Refresh bool
}

type session struct {
	mu      sync.Mutex
	dialog  Dialog
	removed bool
}

// Engine drives every account's dialogue. Events of one account are handled
// one at a time; different accounts proceed in parallel.
type Engine struct {
	store     storage.Storage
	collector Collector
	composer  Composer
	log       *slog.Logger
	opts      Options
	now       func() time.Time

	mu       sync.Mutex
	sessions map[int64]*session
}

// New creates an Engine. collector may be nil, which disables refreshing.
func New(store storage.Storage, c Collector, composer Composer, opts Options, log *slog.Logger) *Engine {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Engine{
		store:     store,
		collector: c,
		composer:  composer,
		log:       log,
		opts:      opts,
		now:       time.Now,
		sessions:  make(map[int64]*session),
	}
}

// Handle processes one event and returns the reply. The account is created
// or refreshed on every event.
func (e *Engine) Handle(ctx context.Context, ev Event) Response {
	s := e.acquire(ev.AccountID)
	defer e.release(ev.AccountID, s)

	if err := e.store.UpsertAccount(ctx, &model.Account{ID: ev.AccountID, DisplayName: ev.DisplayName}); err != nil {
		e.log.Error("upsert account", "account_id", ev.AccountID, "error", err)
		return Response{Text: msgInternal}
	}

	current := s.dialog
	if current.State != StateIdle && e.now().Sub(current.UpdatedAt) > e.opts.Timeout {
		e.log.Debug("dialog expired", "account_id", ev.AccountID, "state", current.State)
		current = Dialog{}
	}

	next, resp := e.step(ctx, ev, current)
	if next.State == StateIdle {
		next = Dialog{}
	}
	next.UpdatedAt = e.now()
	s.dialog = next

	e.log.Debug("dialog event",
		"account_id", ev.AccountID,
		"action", ev.Action,
		"from", current.State,
		"to", next.State,
	)
	return resp
}

// Current returns the account's dialogue; an absent or expired one is IDLE.
func (e *Engine) Current(accountID int64) Dialog {
	s := e.acquire(accountID)
	defer e.release(accountID, s)
	if s.dialog.State != StateIdle && e.now().Sub(s.dialog.UpdatedAt) > e.opts.Timeout {
		s.dialog = Dialog{}
	}
	return s.dialog
}

// Sweep drops expired dialogues and returns how many were dropped.
// Sessions busy with an event are skipped.
func (e *Engine) Sweep() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	dropped := 0
	now := e.now()
	for id, s := range e.sessions {
		if !s.mu.TryLock() {
			continue
		}
		if s.dialog.State == StateIdle || now.Sub(s.dialog.UpdatedAt) > e.opts.Timeout {
			s.removed = true
			delete(e.sessions, id)
			dropped++
		}
		s.mu.Unlock()
	}
	return dropped
}

// Pending returns the number of accounts with a dialogue in progress.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

// acquire returns the account's session locked.
func (e *Engine) acquire(accountID int64) *session {
	for {
		e.mu.Lock()
		s, ok := e.sessions[accountID]
		if !ok {
			s = &session{}
			e.sessions[accountID] = s
		}
		e.mu.Unlock()

		s.mu.Lock()
		if !s.removed {
			return s
		}
		s.mu.Unlock()
	}
}

// release unlocks the session, forgetting it once the dialogue is back to IDLE.
func (e *Engine) release(accountID int64, s *session) {
	if s.dialog.State == StateIdle {
		e.mu.Lock()
		if e.sessions[accountID] == s {
			delete(e.sessions, accountID)
		}
		e.mu.Unlock()
		s.removed = true
	}
	s.mu.Unlock()
}
