package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"blueballs/internal/api"
	"blueballs/internal/auth"
	"blueballs/internal/billing"
	"blueballs/internal/config"
	"blueballs/internal/db"
	"blueballs/internal/game"
	"blueballs/internal/notify"
	"blueballs/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if cfg.MigrateOnStart {
		if err := db.Migrate(ctx, pool); err != nil {
			logger.Error("migrate failed", "err", err)
			os.Exit(1)
		}
	}

	var announcer notify.Announcer
	if cfg.DiscordBotToken != "" {
		discord, err := notify.NewDiscordAnnouncer(cfg.DiscordBotToken, cfg.DiscordChannelID)
		if err != nil {
			logger.Error("discord init failed", "err", err)
			os.Exit(1)
		}
		announcer = discord
	}

	records := store.NewPostgres(pool)
	notes := notify.NewStore(pool)
	dispatcher := notify.NewDispatcher(notes, records, announcer, logger)
	authClient := auth.NewSupabaseClient(cfg.SupabaseURL, cfg.SupabaseAnonKey)
	gameSvc := game.NewService(records, logger,
		game.WithNotifier(dispatcher),
		game.WithRetry(cfg.SubmitMaxAttempts, game.DefaultRetryDelay),
	)

	server := api.New(cfg, logger, authClient, gameSvc, records, notes, billing.NewPostgres(pool))
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("blueballs api listening", "addr", cfg.Addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
