package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"digest_bot/internal/fetcher"
)

var allKeys = []string{
	"CONFIG_FILE", "TELEGRAM_BOT_TOKEN", "DATABASE_PATH", "LOG_LEVEL", "ALLOWED_USERS", "DIALOG_TIMEOUT",
	"FETCHER", "FETCH_BASE_URL", "RSS_URL_TEMPLATE", "FETCH_TIMEOUT", "FETCH_RATE",
	"COLLECT_WINDOW", "COLLECT_CONCURRENCY", "COLLECT_SCHEDULE",
	"DIGEST_SCHEDULE", "DIGEST_REFRESH", "DIGEST_LOOKBACK",
	"SUMMARIZER_API_KEY", "DEEPSEEK_API_KEY", "SUMMARIZER_BASE_URL", "SUMMARIZER_MODEL",
	"SUMMARIZER_TEMPERATURE", "SUMMARIZER_TIMEOUT", "TOPICS",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range allKeys {
		t.Setenv(key, "")
	}
}

func defaults() *Config {
	return &Config{
		TelegramBotToken:      "tok",
		DatabasePath:          "./data/bot.db",
		LogLevel:              "info",
		DialogTimeout:         15 * time.Minute,
		Fetcher:               FetcherTelegram,
		FetchBaseURL:          "https://t.me/s/",
		RSSURLTemplate:        "https://rsshub.app/telegram/channel/%s",
		FetchTimeout:          10 * time.Second,
		FetchRate:             1,
		CollectWindow:         12 * time.Hour,
		CollectConcurrency:    4,
		CollectSchedule:       "@every 1h",
		DigestSchedule:        ScheduleOff,
		DigestRefresh:         true,
		SummarizerAPIKey:      "key",
		SummarizerBaseURL:     "https://api.deepseek.com/v1",
		SummarizerModel:       "deepseek-chat",
		SummarizerTemperature: 0.7,
		SummarizerTimeout:     60 * time.Second,
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		want    func() *Config
		wantErr bool
	}{
		{
			name:    "missing token",
			env:     map[string]string{"SUMMARIZER_API_KEY": "key"},
			wantErr: true,
		},
		{
			name:    "missing summarizer key",
			env:     map[string]string{"TELEGRAM_BOT_TOKEN": "tok"},
			wantErr: true,
		},
		{
			name: "required only, defaults applied",
			env:  map[string]string{"TELEGRAM_BOT_TOKEN": "tok", "SUMMARIZER_API_KEY": "key"},
			want: defaults,
		},
		{
			name: "deepseek key fallback",
			env:  map[string]string{"TELEGRAM_BOT_TOKEN": "tok", "DEEPSEEK_API_KEY": "key"},
			want: defaults,
		},
		{
			name: "all values set",
			env: map[string]string{
				"TELEGRAM_BOT_TOKEN":     "tok",
				"DATABASE_PATH":          "/tmp/bot.db",
				"LOG_LEVEL":              "debug",
				"ALLOWED_USERS":          " 10 , 20 , ",
				"DIALOG_TIMEOUT":         "5m",
				"FETCHER":                "rss",
				"RSS_URL_TEMPLATE":       "https://bridge.example.com/%s.xml",
				"FETCH_TIMEOUT":          "3s",
				"FETCH_RATE":             "0.5",
				"COLLECT_WINDOW":         "24h",
				"COLLECT_CONCURRENCY":    "8",
				"COLLECT_SCHEDULE":       "off",
				"DIGEST_SCHEDULE":        "0 8 * * *",
				"DIGEST_REFRESH":         "false",
				"DIGEST_LOOKBACK":        "48h",
				"SUMMARIZER_API_KEY":     "key",
				"SUMMARIZER_MODEL":       "deepseek-reasoner",
				"SUMMARIZER_TEMPERATURE": "0.2",
				"SUMMARIZER_TIMEOUT":     "2m",
				"TOPICS":                 "oil, elections,,",
			},
			want: func() *Config {
				c := defaults()
				c.DatabasePath = "/tmp/bot.db"
				c.LogLevel = "debug"
				c.AllowedUsers = []int64{10, 20}
				c.DialogTimeout = 5 * time.Minute
				c.Fetcher = FetcherRSS
				c.RSSURLTemplate = "https://bridge.example.com/%s.xml"
				c.FetchTimeout = 3 * time.Second
				c.FetchRate = 0.5
				c.CollectWindow = 24 * time.Hour
				c.CollectConcurrency = 8
				c.CollectSchedule = "off"
				c.DigestSchedule = "0 8 * * *"
				c.DigestRefresh = false
				c.DigestLookback = 48 * time.Hour
				c.SummarizerModel = "deepseek-reasoner"
				c.SummarizerTemperature = 0.2
				c.SummarizerTimeout = 2 * time.Minute
				c.Topics = []string{"oil", "elections"}
				return c
			},
		},
		{
			name:    "invalid user id",
			env:     map[string]string{"TELEGRAM_BOT_TOKEN": "tok", "SUMMARIZER_API_KEY": "key", "ALLOWED_USERS": "123,abc"},
			wantErr: true,
		},
		{
			name:    "invalid duration",
			env:     map[string]string{"TELEGRAM_BOT_TOKEN": "tok", "SUMMARIZER_API_KEY": "key", "FETCH_TIMEOUT": "soon"},
			wantErr: true,
		},
		{
			name:    "negative duration",
			env:     map[string]string{"TELEGRAM_BOT_TOKEN": "tok", "SUMMARIZER_API_KEY": "key", "COLLECT_WINDOW": "-1h"},
			wantErr: true,
		},
		{
			name:    "unknown fetcher",
			env:     map[string]string{"TELEGRAM_BOT_TOKEN": "tok", "SUMMARIZER_API_KEY": "key", "FETCHER": "scraper"},
			wantErr: true,
		},
		{
			name:    "zero concurrency",
			env:     map[string]string{"TELEGRAM_BOT_TOKEN": "tok", "SUMMARIZER_API_KEY": "key", "COLLECT_CONCURRENCY": "0"},
			wantErr: true,
		},
		{
			name:    "invalid schedule",
			env:     map[string]string{"TELEGRAM_BOT_TOKEN": "tok", "SUMMARIZER_API_KEY": "key", "DIGEST_SCHEDULE": "every morning"},
			wantErr: true,
		},
		{
			name:    "invalid bool",
			env:     map[string]string{"TELEGRAM_BOT_TOKEN": "tok", "SUMMARIZER_API_KEY": "key", "DIGEST_REFRESH": "maybe"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			got, err := Load()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want(), got); diff != "" {
				t.Errorf("Load() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoadCollectorNeedsNoCredentials(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadCollector()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.CollectWindow != 12*time.Hour {
		t.Errorf("CollectWindow = %v", cfg.CollectWindow)
	}
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("BOT_SECRET", "from-env")

	path := filepath.Join(t.TempDir(), "bot.yaml")
	content := `telegram_bot_token: ${BOT_SECRET}
summarizer_api_key: file-key
database_path: /var/lib/bot.db
allowed_users: [1, 2]
topics:
  - oil
  - gas
collect_concurrency: 2
summarizer_temperature: 0.3
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	// Environment wins over the file.
	t.Setenv("DATABASE_PATH", "/env/bot.db")

	got, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := defaults()
	want.TelegramBotToken = "from-env"
	want.SummarizerAPIKey = "file-key"
	want.DatabasePath = "/env/bot.db"
	want.AllowedUsers = []int64{1, 2}
	want.Topics = []string{"oil", "gas"}
	want.CollectConcurrency = 2
	want.SummarizerTemperature = 0.3
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFromMissingFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
	if _, err := LoadCollector(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestEnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_VAR", "expanded_value")
	if got := expandEnvVars("value: ${TEST_VAR}"); got != "value: expanded_value" {
		t.Errorf("got %q", got)
	}

	input := "value: ${UNSET_VAR_12345}"
	if got := expandEnvVars(input); got != input {
		t.Errorf("expected unset var to remain as-is, got %q", got)
	}
}

func TestScheduleEnabled(t *testing.T) {
	tests := map[string]bool{
		"":          false,
		"off":       false,
		"OFF":       false,
		"@every 1h": true,
		"0 8 * * *": true,
	}
	for spec, want := range tests {
		if got := ScheduleEnabled(spec); got != want {
			t.Errorf("ScheduleEnabled(%q) = %v, want %v", spec, got, want)
		}
	}
}

func TestIsUserAllowed(t *testing.T) {
	tests := []struct {
		name    string
		allowed []int64
		userID  int64
		want    bool
	}{
		{name: "empty list allows everyone", allowed: nil, userID: 999, want: true},
		{name: "user in list", allowed: []int64{1, 2, 3}, userID: 2, want: true},
		{name: "user not in list", allowed: []int64{1, 2, 3}, userID: 4, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{AllowedUsers: tt.allowed}
			if got := cfg.IsUserAllowed(tt.userID); got != tt.want {
				t.Errorf("IsUserAllowed(%d) = %v, want %v", tt.userID, got, tt.want)
			}
		})
	}
}

func TestFetcherOptions(t *testing.T) {
	clearEnv(t)
	t.Setenv("FETCHER", "rss")
	t.Setenv("RSS_URL_TEMPLATE", "https://bridge.example/%s")
	t.Setenv("FETCH_RATE", "2.5")
	t.Setenv("COLLECT_CONCURRENCY", "8")

	cfg, err := LoadCollector()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := fetcher.Options{
		Kind:        fetcher.KindRSS,
		BaseURL:     "https://t.me/s/",
		URLTemplate: "https://bridge.example/%s",
		Timeout:     10 * time.Second,
		Rate:        2.5,
		Burst:       8,
	}
	if diff := cmp.Diff(want, cfg.FetcherOptions()); diff != "" {
		t.Errorf("options mismatch (-want +got):\n%s", diff)
	}
	if _, err := fetcher.New(cfg.FetcherOptions()); err != nil {
		t.Errorf("fetcher.New: %v", err)
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{level: "debug", want: slog.LevelDebug},
		{level: "INFO", want: slog.LevelInfo},
		{level: "warn", want: slog.LevelWarn},
		{level: "error", want: slog.LevelError},
		{level: "verbose", want: slog.LevelInfo},
	}
	ctx := context.Background()
	for _, tt := range tests {
		log := NewLogger(tt.level, io.Discard)
		if !log.Enabled(ctx, tt.want) {
			t.Errorf("NewLogger(%q) disables %s", tt.level, tt.want)
		}
		if log.Enabled(ctx, tt.want-1) {
			t.Errorf("NewLogger(%q) enables below %s", tt.level, tt.want)
		}
	}
}
