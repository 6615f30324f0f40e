// Command collect harvests posts once and exits. With no arguments it
// collects every source attached to a group.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"digest_bot/internal/collector"
	"digest_bot/internal/config"
	"digest_bot/internal/dialog"
	"digest_bot/internal/fetcher"
	"digest_bot/internal/storage"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: collect [handle ...]")
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.LoadCollector()
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

	handles, err := targets(ctx, store, flag.Args())
	if err != nil {
		log.Error("resolve sources", "error", err)
		os.Exit(1)
	}
	if len(handles) == 0 {
		fmt.Println("nothing to collect")
		return
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

	failed := 0
	for _, r := range coll.CollectMany(ctx, handles) {
		if r.Err != nil {
			failed++
			fmt.Printf("@%s: error: %v\n", r.Handle, r.Err)
			continue
		}
		fmt.Printf("@%s: %d new\n", r.Handle, r.Added)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func targets(ctx context.Context, store storage.Storage, args []string) ([]string, error) {
	if len(args) == 0 {
		sources, err := store.ListAttachedSources(ctx)
		if err != nil {
			return nil, err
		}
		handles := make([]string, len(sources))
		for i, s := range sources {
			handles[i] = s.Handle
		}
		return handles, nil
	}

	handles := make([]string, 0, len(args))
	for _, a := range args {
		h, err := dialog.NormalizeHandle(a)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", a, err)
		}
		handles = append(handles, h)
	}
	return handles, nil
}
