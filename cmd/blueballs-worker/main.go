package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"blueballs/internal/billing"
	"blueballs/internal/config"
	"blueballs/internal/db"
	"blueballs/internal/game"
	"blueballs/internal/notify"
	"blueballs/internal/store"

	"github.com/lib/pq"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWorkerFromEnv()
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

	records := store.NewPostgres(pool)
	dispatcher := notify.NewDispatcher(notify.NewStore(pool), records, nil, logger)
	svc := game.NewService(records, logger)
	inbox := billing.NewPostgres(pool)
	reconciler := billing.NewReconciler(inbox, inbox, svc, dispatcher, logger)

	if cfg.RunOnce {
		if _, err := drain(ctx, reconciler, cfg.BatchSize); err != nil {
			logger.Error("billing drain failed", "err", err)
			os.Exit(1)
		}
		logger.Info("worker run-once completed")
		return
	}

	listener := pq.NewListener(cfg.DatabaseURL, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Warn("billing listener event", "event", int(ev), "err", err)
		}
	})
	defer listener.Close()
	if err := listener.Listen(billing.NotifyChannel); err != nil {
		logger.Error("listen failed", "channel", billing.NotifyChannel, "err", err)
		os.Exit(1)
	}

	ticker := time.NewTicker(cfg.PollEvery)
	defer ticker.Stop()

	logger.Info("worker started", "poll_every", cfg.PollEvery.String(), "batch", cfg.BatchSize)
	if _, err := drain(ctx, reconciler, cfg.BatchSize); err != nil {
		logger.Error("billing drain failed", "err", err)
	}
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutdown")
			return
		case n := <-listener.Notify:
			// A nil notification means the connection was re-established and
			// events may have been missed.
			if n != nil {
				logger.Debug("billing event notified", "event_id", n.Extra)
			}
		case <-ticker.C:
			if err := listener.Ping(); err != nil {
				logger.Warn("billing listener ping failed", "err", err)
			}
		}
		if _, err := drain(ctx, reconciler, cfg.BatchSize); err != nil {
			logger.Error("billing drain failed", "err", err)
		}
	}
}

// drain keeps claiming full batches until the inbox is caught up.
func drain(ctx context.Context, r *billing.Reconciler, batch int) (billing.Stats, error) {
	var total billing.Stats
	for {
		stats, err := r.RunOnce(ctx, batch)
		total.Claimed += stats.Claimed
		total.Processed += stats.Processed
		total.Failed += stats.Failed
		if err != nil {
			return total, err
		}
		if stats.Claimed < batch || stats.Processed == 0 {
			return total, nil
		}
	}
}
