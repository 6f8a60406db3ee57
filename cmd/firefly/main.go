// Command firefly runs the matching engine: the HTTP surface, the
// matcher worker pool, the embedding store and the push notifier, all
// wired in one composition root.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	gormlogger "gorm.io/gorm/logger"

	"github.com/asnar00/firefly/internal/config"
	db "github.com/asnar00/firefly/internal/db/gorm"
	"github.com/asnar00/firefly/internal/embedding"
	"github.com/asnar00/firefly/internal/judge"
	"github.com/asnar00/firefly/internal/matcher"
	"github.com/asnar00/firefly/internal/notify"
	"github.com/asnar00/firefly/internal/server"
	"github.com/asnar00/firefly/internal/telemetry"
	"github.com/asnar00/firefly/internal/watcher"
)

const matcherWorkers = 4

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()
	log.Logger = logger

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("Load configuration failed")
	}

	telemetry.Init()

	store, err := db.NewStore(db.Config{
		DSN:            cfg.DSN,
		SQLitePath:     cfg.SQLitePath,
		MaxConns:       cfg.MaxConns,
		LogLevel:       gormlogger.Warn,
		RestartCommand: cfg.RestartCommand,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Open database failed")
	}
	defer store.Close()

	posts := db.NewPostStore(store)
	users := db.NewUserStore(store)
	matches := db.NewMatchStore(store)
	promptCache := db.NewPromptCache(store)

	model := embedding.NewLazy(func() (embedding.EmbeddingModel, error) {
		return embedding.NewRESTModel(embedding.RESTConfig{
			BaseURL: cfg.EmbeddingBaseURL,
			APIKey:  cfg.EmbeddingAPIKey,
			Model:   cfg.EmbeddingModel,
			Timeout: cfg.EmbeddingTimeout,
		})
	})
	embeddings, err := embedding.NewStore(cfg.EmbeddingsDir(), model)
	if err != nil {
		logger.Fatal().Err(err).Msg("Open embedding store failed")
	}

	relevance, err := judge.New(judge.Config{
		APIKey:  cfg.AnthropicAPIKey,
		Model:   cfg.JudgeModel,
		Timeout: cfg.JudgeTimeout,
		Cache:   promptCache,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Create judge failed")
	}

	m := matcher.New(posts, matches, embeddings, relevance)
	pool := matcher.NewPool(m, matcherWorkers)
	defer pool.Stop()

	pusher := notify.NewAPNSClient(notify.APNSConfig{
		BundleID:   cfg.APNSBundleID,
		AuthToken:  cfg.APNSAuthToken,
		UseSandbox: cfg.APNSUseSandbox,
	})
	notifier := notify.New(users, posts, embeddings, pusher)

	srv := server.New(server.Deps{
		Config:     cfg,
		Store:      store,
		Posts:      posts,
		Users:      users,
		Matches:    matches,
		Embeddings: embeddings,
		Model:      model,
		Pool:       pool,
		Matcher:    m,
		Notifier:   notifier,
		Logger:     logger,
	})

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	// A settings-file edit cannot be applied to a running process, so
	// exit cleanly and let the supervisor restart with the new settings.
	if cw, err := watcher.New(config.SettingsPath, func() {
		logger.Info().Str("path", config.SettingsPath).
			Msg("Settings file changed, exiting for restart")
		select {
		case done <- syscall.SIGTERM:
		default:
		}
	}); err == nil {
		if err := cw.Start(); err == nil {
			defer cw.Stop()
		}
	}

	// A previous unclean exit leaves no marker; note it, then clear the
	// marker for this run.
	if _, err := os.Stat(cfg.ShutdownMarkerPath()); err == nil {
		os.Remove(cfg.ShutdownMarkerPath())
	} else {
		logger.Info().Msg("No clean-shutdown marker from previous run")
	}

	go func() {
		logger.Info().Int("port", cfg.Port).Msg("Server listening")
		if err := srv.Start(); err != nil {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-done
	logger.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Graceful shutdown failed")
	}

	if err := os.WriteFile(cfg.ShutdownMarkerPath(), []byte(time.Now().UTC().Format(time.RFC3339)+"\n"), 0o644); err != nil {
		logger.Warn().Err(err).Msg("Write shutdown marker failed")
	}
}
