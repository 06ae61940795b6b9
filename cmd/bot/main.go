package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"

	"chatwatch/internal/config"
	"chatwatch/internal/model"
	"chatwatch/internal/notify"
	"chatwatch/internal/pipeline"
	"chatwatch/internal/rules"
	"chatwatch/internal/sourcekey"
	"chatwatch/internal/storage"
	"chatwatch/internal/sweeper"
	"chatwatch/internal/telegram"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	watch, err := config.LoadWatch(cfg.WatchConfigPath)
	if err != nil {
		log.Error("load watch config", "error", err)
		os.Exit(1)
	}

	compiled, err := rules.Compile(ruleSpecs(watch.Rules))
	if err != nil {
		log.Error("compile rules", "error", err)
		os.Exit(1)
	}
	sources := watchSources(watch.Sources)
	log.Info("configuration loaded", "sources", len(sources), "rules", len(compiled))

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	api, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		log.Error("create bot api", "error", err)
		os.Exit(1)
	}

	notifier := notify.NewTelegram(api, watch.Notify.ChatID, notify.Aliases(sources), log)
	resolver := sourcekey.NewResolver(sources)
	processor := pipeline.NewProcessor(
		resolver, compiled, store, notifier,
		watch.Dedup, watch.Notify.SnippetChars, log,
	)
	lanes := pipeline.NewLanes(processor, log)
	watcher := telegram.NewWatcher(api, lanes, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var sweep *sweeper.Sweeper
	if watch.Dedup.Mode != "off" {
		sweep, err = sweeper.New(store, watch.Dedup, log)
		if err != nil {
			log.Error("create sweeper", "error", err)
			os.Exit(1)
		}
		sweep.RunOnce(ctx)
		sweep.Start()
		defer sweep.Stop()
	}

	// Catch-up runs before live consumption starts; lanes created held here
	// buffer anything that arrives mid-replay.
	reconciler := pipeline.NewReconciler(store, processor, watcher, lanes, watch.Catchup, log)
	if err := reconciler.Run(ctx, sources); err != nil {
		log.Error("catch-up failed", "error", err)
		os.Exit(1)
	}

	log.Info("starting watcher")
	watcher.Run(ctx)

	// In-flight messages complete their durable writes before exit.
	lanes.Close()
	log.Info("watcher stopped")
}

func ruleSpecs(configured []config.RuleConfig) []rules.Spec {
	specs := make([]rules.Spec, 0, len(configured))
	for _, r := range configured {
		specs = append(specs, rules.Spec{
			Name:            r.Name,
			Keywords:        r.Keywords,
			Regex:           r.Regex,
			ExcludeKeywords: r.ExcludeKeywords,
			Enabled:         r.IsEnabled(),
		})
	}
	return specs
}

func watchSources(configured []config.SourceConfig) []model.Source {
	sources := make([]model.Source, 0, len(configured))
	for _, s := range configured {
		sources = append(sources, model.Source{
			Key:     s.Key,
			Alias:   s.Alias,
			Enabled: s.IsEnabled(),
		})
	}
	return sources
}

func newLogger(level string) *slog.Logger {
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
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
