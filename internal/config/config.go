// Package config handles application configuration from environment variables
// and an optional YAML file.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"digest_bot/internal/fetcher"
)

// Fetcher kinds.
const (
	FetcherTelegram = fetcher.KindTelegram
	FetcherRSS      = fetcher.KindRSS
)

// ScheduleOff disables a scheduled job.
const ScheduleOff = "off"

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string
	DatabasePath     string
	LogLevel         string
	AllowedUsers     []int64
	DialogTimeout    time.Duration

	Fetcher        string
	FetchBaseURL   string
	RSSURLTemplate string
	FetchTimeout   time.Duration
	FetchRate      float64

	CollectWindow      time.Duration
	CollectConcurrency int
	CollectSchedule    string

	DigestSchedule string
	DigestRefresh  bool
	DigestLookback time.Duration

	SummarizerAPIKey      string
	SummarizerBaseURL     string
	SummarizerModel       string
	SummarizerTemperature float64
	SummarizerTimeout     time.Duration

	Topics []string
}

// Load reads the configuration of the bot process. The Telegram token and
// the summarizer key are required.
func Load() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	if cfg.TelegramBotToken == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	if cfg.SummarizerAPIKey == "" {
		return nil, fmt.Errorf("SUMMARIZER_API_KEY (or DEEPSEEK_API_KEY) is required")
	}
	return cfg, nil
}

// LoadCollector reads the configuration needed for collection only.
func LoadCollector() (*Config, error) {
	return load()
}

func load() (*Config, error) {
	src, err := newSource(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		TelegramBotToken:  src.get("TELEGRAM_BOT_TOKEN"),
		DatabasePath:      src.getOr("DATABASE_PATH", "./data/bot.db"),
		LogLevel:          src.getOr("LOG_LEVEL", "info"),
		Fetcher:           src.getOr("FETCHER", FetcherTelegram),
		FetchBaseURL:      src.getOr("FETCH_BASE_URL", "https://t.me/s/"),
		RSSURLTemplate:    src.getOr("RSS_URL_TEMPLATE", "https://rsshub.app/telegram/channel/%s"),
		CollectSchedule:   src.getOr("COLLECT_SCHEDULE", "@every 1h"),
		DigestSchedule:    src.getOr("DIGEST_SCHEDULE", ScheduleOff),
		SummarizerAPIKey:  src.getOr("SUMMARIZER_API_KEY", src.get("DEEPSEEK_API_KEY")),
		SummarizerBaseURL: src.getOr("SUMMARIZER_BASE_URL", "https://api.deepseek.com/v1"),
		SummarizerModel:   src.getOr("SUMMARIZER_MODEL", "deepseek-chat"),
		Topics:            splitList(src.get("TOPICS")),
	}

	p := parser{src: src}
	cfg.DialogTimeout = p.getDuration("DIALOG_TIMEOUT", 15*time.Minute)
	cfg.FetchTimeout = p.getDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.FetchRate = p.getFloat("FETCH_RATE", 1)
	cfg.CollectWindow = p.getDuration("COLLECT_WINDOW", 12*time.Hour)
	cfg.CollectConcurrency = p.getInt("COLLECT_CONCURRENCY", 4)
	cfg.DigestRefresh = p.getBool("DIGEST_REFRESH", true)
	cfg.DigestLookback = p.getDuration("DIGEST_LOOKBACK", 0)
	cfg.SummarizerTemperature = p.getFloat("SUMMARIZER_TEMPERATURE", 0.7)
	cfg.SummarizerTimeout = p.getDuration("SUMMARIZER_TIMEOUT", 60*time.Second)
	if p.err != nil {
		return nil, p.err
	}

	for _, s := range splitList(src.get("ALLOWED_USERS")) {
		uid, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user ID %q in ALLOWED_USERS: %w", s, err)
		}
		cfg.AllowedUsers = append(cfg.AllowedUsers, uid)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	switch cfg.Fetcher {
	case FetcherTelegram, FetcherRSS:
	default:
		return fmt.Errorf("unsupported FETCHER %q (supported: %s, %s)", cfg.Fetcher, FetcherTelegram, FetcherRSS)
	}
	if cfg.Fetcher == FetcherRSS && !strings.Contains(cfg.RSSURLTemplate, "%s") {
		return fmt.Errorf("RSS_URL_TEMPLATE must contain %%s")
	}
	if cfg.CollectConcurrency < 1 {
		return fmt.Errorf("COLLECT_CONCURRENCY must be at least 1")
	}
	if cfg.FetchRate <= 0 {
		return fmt.Errorf("FETCH_RATE must be positive")
	}
	for key, spec := range map[string]string{"COLLECT_SCHEDULE": cfg.CollectSchedule, "DIGEST_SCHEDULE": cfg.DigestSchedule} {
		if !ScheduleEnabled(spec) {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, spec, err)
		}
	}
	return nil
}

// ScheduleEnabled reports whether a cron spec turns its job on.
func ScheduleEnabled(spec string) bool {
	return spec != "" && !strings.EqualFold(spec, ScheduleOff)
}

// FetcherOptions returns the settings of the configured source fetcher.
// Up to CollectConcurrency requests may start at once.
func (c *Config) FetcherOptions() fetcher.Options {
	return fetcher.Options{
		Kind:        c.Fetcher,
		BaseURL:     c.FetchBaseURL,
		URLTemplate: c.RSSURLTemplate,
		Timeout:     c.FetchTimeout,
		Rate:        c.FetchRate,
		Burst:       c.CollectConcurrency,
	}
}

// NewLogger returns a text logger writing to w at the given level
// (debug, info, warn or error; anything else means info).
func NewLogger(level string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	for _, id := range c.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}

// source resolves keys from the environment first, then the config file.
type source struct {
	file map[string]string
}

func newSource(path string) (*source, error) {
	s := &source{file: map[string]string{}}
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
		case []any:
			parts := make([]string, len(val))
			for i, p := range val {
				parts[i] = fmt.Sprint(p)
			}
			s.file[strings.ToUpper(k)] = strings.Join(parts, ",")
		default:
			s.file[strings.ToUpper(k)] = fmt.Sprint(val)
		}
	}
	return s, nil
}

func (s *source) get(key string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return strings.TrimSpace(s.file[key])
}

func (s *source) getOr(key, def string) string {
	if v := s.get(key); v != "" {
		return v
	}
	return def
}

// parser converts typed values, keeping the first error.
type parser struct {
	src *source
	err error
}

func (p *parser) raw(key string) (string, bool) {
	if p.err != nil {
		return "", false
	}
	v := p.src.get(key)
	return v, v != ""
}

func (p *parser) fail(key, v string, err error) {
	p.err = fmt.Errorf("invalid %s %q: %w", key, v, err)
}

func (p *parser) getDuration(key string, def time.Duration) time.Duration {
	v, ok := p.raw(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err == nil && d < 0 {
		err = fmt.Errorf("must not be negative")
	}
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return d
}

func (p *parser) getInt(key string, def int) int {
	v, ok := p.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return n
}

func (p *parser) getFloat(key string, def float64) float64 {
	v, ok := p.raw(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return f
}

func (p *parser) getBool(key string, def bool) bool {
	v, ok := p.raw(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return b
}

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with environment variable values.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
