package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"digest_bot/internal/bot"
	"digest_bot/internal/collector"
	"digest_bot/internal/config"
	"digest_bot/internal/dialog"
	"digest_bot/internal/digest"
	"digest_bot/internal/fetcher"
	"digest_bot/internal/scheduler"
	"digest_bot/internal/storage"
	"digest_bot/internal/summarizer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := config.NewLogger(cfg.LogLevel, os.Stderr)

	store, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	for _, name := range cfg.Topics {
		if _, err := store.EnsureTopic(ctx, name); err != nil {
			log.Error("seed topic", "topic", name, "error", err)
			os.Exit(1)
		}
	}

	f, err := fetcher.New(cfg.FetcherOptions())
	if err != nil {
		log.Error("create fetcher", "error", err)
		os.Exit(1)
	}
	coll := collector.New(store, f, collector.Options{
		Window:      cfg.CollectWindow,
		Timeout:     cfg.FetchTimeout,
		Concurrency: cfg.CollectConcurrency,
	}, log)

	summ, err := summarizer.New(summarizer.Options{
		APIKey:      cfg.SummarizerAPIKey,
		BaseURL:     cfg.SummarizerBaseURL,
		Model:       cfg.SummarizerModel,
		Temperature: cfg.SummarizerTemperature,
	})
	if err != nil {
		log.Error("create summarizer", "error", err)
		os.Exit(1)
	}
	composer := digest.NewComposer(store, summ, cfg.SummarizerTimeout, cfg.DigestLookback, log)

	engine := dialog.New(store, coll, composer, dialog.Options{
		Timeout: cfg.DialogTimeout,
		Refresh: cfg.DigestRefresh,
	}, log)

	b, err := bot.New(cfg.TelegramBotToken, engine, cfg, log)
	if err != nil {
		log.Error("create bot", "error", err)
		os.Exit(1)
	}

	sched := scheduler.New(store, coll, composer, b, scheduler.Options{
		CollectSchedule: schedule(cfg.CollectSchedule),
		DigestSchedule:  schedule(cfg.DigestSchedule),
		CollectOnStart:  config.ScheduleEnabled(cfg.CollectSchedule),
	}, log)

	log.Info("starting bot", "fetcher", cfg.Fetcher, "model", cfg.SummarizerModel)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		b.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return sched.Run(ctx)
	})
	if err := g.Wait(); err != nil {
		log.Error("scheduler stopped", "error", err)
		os.Exit(1)
	}

	log.Info("bot stopped")
}

func schedule(spec string) string {
	if !config.ScheduleEnabled(spec) {
		return ""
	}
	return spec
}
