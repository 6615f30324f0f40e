package digest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"digest_bot/internal/model"
	"digest_bot/internal/storage"
	"digest_bot/internal/summarizer"
)

type fakeSummarizer struct {
	calls int
	texts []string
	reply string
	err   error
	block bool
}

func (f *fakeSummarizer) Summarize(ctx context.Context, texts []string) (string, error) {
	f.calls++
	f.texts = texts
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.reply, f.err
}

type fixture struct {
	store *storage.SQLite
	group *model.DigestGroup
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.UpsertAccount(ctx, &model.Account{ID: 1}); err != nil {
		t.Fatalf("account: %v", err)
	}
	g := &model.DigestGroup{AccountID: 1, Name: "Morning News"}
	if err := store.CreateGroup(ctx, g); err != nil {
		t.Fatalf("group: %v", err)
	}
	return fixture{store: store, group: g}
}

func (f fixture) attach(t *testing.T, handle string, items ...model.Item) {
	t.Helper()
	ctx := context.Background()
	src, _, err := f.store.AttachSource(ctx, f.group.ID, handle)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	for i := range items {
		items[i].SourceID = src.ID
		if _, err := f.store.AddItem(ctx, &items[i]); err != nil {
			t.Fatalf("add item: %v", err)
		}
	}
}

func newTestComposer(store storage.Storage, s summarizer.Summarizer, timeout, lookback time.Duration) *Composer {
	return NewComposer(store, s, timeout, lookback, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

var base = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func TestComposeOrdersBySourceThenTime(t *testing.T) {
	f := newFixture(t)
	f.attach(t, "second_attached_first",
		model.Item{Text: "z-late", PublishedAt: base.Add(5 * time.Hour)},
		model.Item{Text: "z-early", PublishedAt: base.Add(1 * time.Hour)},
	)
	f.attach(t, "another",
		model.Item{Text: "a-mid", PublishedAt: base.Add(3 * time.Hour)},
		model.Item{Text: "a-first", PublishedAt: base},
	)

	s := &fakeSummarizer{reply: "the digest"}
	c := newTestComposer(f.store, s, time.Second, 0)

	got, err := c.Compose(context.Background(), f.group)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if got != "the digest" {
		t.Errorf("digest = %q", got)
	}
	want := []string{"z-early", "z-late", "a-first", "a-mid"}
	if diff := cmp.Diff(want, s.texts); diff != "" {
		t.Errorf("summarizer input mismatch (-want +got):\n%s", diff)
	}
}

func TestComposeNothingToSummarize(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, f fixture)
	}{
		{name: "no sources", setup: func(*testing.T, fixture) {}},
		{name: "sources without items", setup: func(t *testing.T, f fixture) {
			f.attach(t, "empty_one")
			f.attach(t, "empty_two")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(t, f)
			s := &fakeSummarizer{reply: "unused"}
			c := newTestComposer(f.store, s, time.Second, 0)

			_, err := c.Compose(context.Background(), f.group)
			if !errors.Is(err, ErrNothingToSummarize) {
				t.Fatalf("expected ErrNothingToSummarize, got %v", err)
			}
			if s.calls != 0 {
				t.Errorf("summarizer called %d times", s.calls)
			}
		})
	}
}

func TestComposeLookback(t *testing.T) {
	f := newFixture(t)
	f.attach(t, "chan",
		model.Item{Text: "old", PublishedAt: base.Add(-48 * time.Hour)},
		model.Item{Text: "recent", PublishedAt: base.Add(-time.Hour)},
	)
	s := &fakeSummarizer{reply: "ok"}
	c := newTestComposer(f.store, s, time.Second, 24*time.Hour)
	c.now = func() time.Time { return base }

	if _, err := c.Compose(context.Background(), f.group); err != nil {
		t.Fatalf("compose: %v", err)
	}
	if diff := cmp.Diff([]string{"recent"}, s.texts); diff != "" {
		t.Errorf("summarizer input mismatch (-want +got):\n%s", diff)
	}
}

func TestComposeSummarizerFailure(t *testing.T) {
	tests := []struct {
		name  string
		s     *fakeSummarizer
		isErr error
	}{
		{name: "plain error is wrapped", s: &fakeSummarizer{err: errors.New("503")}},
		{name: "typed error passes through", s: &fakeSummarizer{err: &summarizer.SummarizationError{Err: errors.New("bad key")}}},
		{name: "timeout", s: &fakeSummarizer{block: true}, isErr: context.DeadlineExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.attach(t, "chan", model.Item{Text: "x", PublishedAt: base})
			c := newTestComposer(f.store, tt.s, 20*time.Millisecond, 0)

			_, err := c.Compose(context.Background(), f.group)
			var se *summarizer.SummarizationError
			if !errors.As(err, &se) {
				t.Fatalf("expected *SummarizationError, got %v", err)
			}
			if tt.isErr != nil && !errors.Is(err, tt.isErr) {
				t.Errorf("expected %v in chain, got %v", tt.isErr, err)
			}
			if tt.s.calls != 1 {
				t.Errorf("summarizer called %d times, want exactly 1", tt.s.calls)
			}
		})
	}
}
