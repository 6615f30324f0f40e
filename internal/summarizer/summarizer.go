// Package summarizer turns a list of post texts into one digest text.
package summarizer

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// Defaults target DeepSeek's OpenAI-compatible API.
const (
	DefaultBaseURL     = "https://api.deepseek.com/v1"
	DefaultModel       = "deepseek-chat"
	DefaultTemperature = 0.7

	systemPrompt = "You are a journalist who writes concise morning news digests."
	userPrompt   = "Write a short, informative digest of the following news posts:\n\n"
)

// Summarizer produces a digest from ordered post texts.
type Summarizer interface {
	Summarize(ctx context.Context, texts []string) (string, error)
}

// SummarizationError reports a backend, transport or timeout failure.
// A timeout unwraps to context.DeadlineExceeded.
type SummarizationError struct {
	Err error
}

func (e *SummarizationError) Error() string {
	return fmt.Sprintf("summarize: %v", e.Err)
}

func (e *SummarizationError) Unwrap() error {
	return e.Err
}

// Options configures an LLM summarizer.
type Options struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
}

// LLM summarizes through a chat-completion model.
type LLM struct {
	model       llms.Model
	temperature float64
}

// New creates an LLM summarizer backed by an OpenAI-compatible endpoint.
func New(opts Options) (*LLM, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("summarizer api key is required")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}

	model, err := openai.New(
		openai.WithToken(opts.APIKey),
		openai.WithBaseURL(opts.BaseURL),
		openai.WithModel(opts.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}
	return NewWithModel(model, opts.Temperature), nil
}

// NewWithModel wraps an existing model (useful for testing).
func NewWithModel(model llms.Model, temperature float64) *LLM {
	return &LLM{model: model, temperature: temperature}
}

// Summarize sends the texts, joined by blank lines, to the model.
func (l *LLM) Summarize(ctx context.Context, texts []string) (string, error) {
	if len(texts) == 0 {
		return "", &SummarizationError{Err: fmt.Errorf("no texts")}
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, BuildPrompt(texts)),
	}

	resp, err := l.model.GenerateContent(ctx, messages, llms.WithTemperature(l.temperature))
	if err != nil {
		return "", &SummarizationError{Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &SummarizationError{Err: fmt.Errorf("empty response")}
	}

	digest := strings.TrimSpace(resp.Choices[0].Content)
	if digest == "" {
		return "", &SummarizationError{Err: fmt.Errorf("empty digest")}
	}
	return digest, nil
}

// BuildPrompt renders the user prompt for texts.
func BuildPrompt(texts []string) string {
	return userPrompt + strings.Join(texts, "\n\n")
}
