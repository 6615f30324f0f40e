package summarizer

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/tmc/langchaingo/llms"
)

type fakeModel struct {
	reply    string
	choices  int
	err      error
	messages []llms.MessageContent
	opts     llms.CallOptions
}

func (f *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	for _, o := range options {
		o(&f.opts)
	}
	if f.err != nil {
		return nil, f.err
	}
	resp := &llms.ContentResponse{}
	for range f.choices {
		resp.Choices = append(resp.Choices, &llms.ContentChoice{Content: f.reply})
	}
	return resp, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func textOf(t *testing.T, m llms.MessageContent) string {
	t.Helper()
	if len(m.Parts) != 1 {
		t.Fatalf("expected 1 part, got %d", len(m.Parts))
	}
	tc, ok := m.Parts[0].(llms.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", m.Parts[0])
	}
	return tc.Text
}

func TestSummarize(t *testing.T) {
	model := &fakeModel{reply: "  Digest of the day \n", choices: 1}
	s := NewWithModel(model, 0.7)

	got, err := s.Summarize(context.Background(), []string{"first post", "second post"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff("Digest of the day", got); diff != "" {
		t.Errorf("digest mismatch (-want +got):\n%s", diff)
	}

	if len(model.messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(model.messages))
	}
	if model.messages[0].Role != llms.ChatMessageTypeSystem {
		t.Errorf("first message role = %s", model.messages[0].Role)
	}
	wantPrompt := userPrompt + "first post\n\nsecond post"
	if diff := cmp.Diff(wantPrompt, textOf(t, model.messages[1])); diff != "" {
		t.Errorf("prompt mismatch (-want +got):\n%s", diff)
	}
	if model.opts.Temperature != 0.7 {
		t.Errorf("temperature = %v, want 0.7", model.opts.Temperature)
	}
}

func TestSummarizeErrors(t *testing.T) {
	tests := []struct {
		name  string
		model *fakeModel
		texts []string
		isErr error
	}{
		{
			name:  "backend failure",
			model: &fakeModel{err: errors.New("502 bad gateway")},
			texts: []string{"x"},
		},
		{
			name:  "timeout",
			model: &fakeModel{err: context.DeadlineExceeded},
			texts: []string{"x"},
			isErr: context.DeadlineExceeded,
		},
		{
			name:  "no choices",
			model: &fakeModel{},
			texts: []string{"x"},
		},
		{
			name:  "blank digest",
			model: &fakeModel{reply: "   ", choices: 1},
			texts: []string{"x"},
		},
		{
			name:  "no texts",
			model: &fakeModel{reply: "never", choices: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewWithModel(tt.model, 0).Summarize(context.Background(), tt.texts)
			var se *SummarizationError
			if !errors.As(err, &se) {
				t.Fatalf("expected *SummarizationError, got %v", err)
			}
			if tt.isErr != nil && !errors.Is(err, tt.isErr) {
				t.Errorf("expected %v in chain, got %v", tt.isErr, err)
			}
		})
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("expected error without api key")
	}
}

func TestNewWithKey(t *testing.T) {
	s, err := New(Options{APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.model == nil {
		t.Fatal("model is nil")
	}
}
