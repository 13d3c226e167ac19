package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"puborch/internal/config"
	"puborch/internal/infra/postgres"
	"puborch/internal/infra/ratelimit"
	"puborch/internal/notifier"
	"puborch/internal/platform"
	"puborch/internal/usecase"
	"puborch/pkg/backoff"
)

// Run starts the periodic coordinator: the due, retry, stale, checkback and
// webhook-retry sweeps on independent tickers. Multiple workers may run
// concurrently; all coordination happens through the store claims.
func Run(cfg *config.Config, adapters *platform.Registry) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(cfg.Database)
	if err != nil {
		return err
	}

	queue := postgres.NewQueueStore(db)
	checkbackStore := postgres.NewCheckbackStore(db)
	webhookStore := postgres.NewWebhookStore(db)

	notif := notifier.New(webhookStore, cfg.Webhook)
	defer notif.Close()

	checkbacks := &usecase.CheckbackScheduler{
		Store:          checkbackStore,
		Queue:          queue,
		Adapters:       adapters,
		Notifier:       notif,
		AdapterTimeout: cfg.Publisher.AdapterTimeout,
	}

	dispatcher := &usecase.Dispatcher{
		Queue:          queue,
		Checkbacks:     checkbacks,
		Adapters:       adapters,
		Notifier:       notif,
		Limiter:        ratelimit.New(cfg.Redis),
		AdapterTimeout: cfg.Publisher.AdapterTimeout,
		Ladder:         backoff.Publish,
	}

	hostname, _ := os.Hostname()
	sweeper := &usecase.Sweeper{
		Queue:      queue,
		Dispatcher: dispatcher,
		WorkerID:   fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8]),
		ClaimLimit: cfg.Publisher.ClaimLimit,
		PoolSize:   cfg.Publisher.PoolSize,
		StaleAfter: cfg.Publisher.StaleAfter,
	}

	if names := adapters.Names(); len(names) == 0 {
		log.Warn().Msg("no platform adapters registered, dispatch will fail every item")
	} else {
		log.Info().Strs("platforms", names).Msg("platform adapters registered")
	}
	log.Info().Str("worker_id", sweeper.WorkerID).Msg("worker starting")

	go loop(ctx, "due", cfg.Publisher.DueInterval, func(ctx context.Context, now time.Time) (int, error) {
		return sweeper.SweepDue(ctx, now)
	})
	go loop(ctx, "retries", cfg.Publisher.RetryInterval, func(ctx context.Context, now time.Time) (int, error) {
		return sweeper.SweepRetries(ctx, now)
	})
	go loop(ctx, "stale", cfg.Publisher.StaleInterval, func(ctx context.Context, now time.Time) (int, error) {
		return sweeper.SweepStale(ctx, now)
	})
	go loop(ctx, "checkbacks", cfg.Publisher.CheckbackInterval, func(ctx context.Context, now time.Time) (int, error) {
		return checkbacks.SweepDue(ctx, now, cfg.Publisher.ClaimLimit)
	})
	go loop(ctx, "webhook_retries", cfg.Webhook.RetryInterval, func(ctx context.Context, now time.Time) (int, error) {
		return notif.SweepRetries(ctx, now)
	})

	<-ctx.Done()
	log.Info().Msg("worker shutting down")
	return nil
}

// loop runs one sweep on a fixed ticker until the context ends. A sweep
// error is logged and skipped, never fatal: a single storage hiccup must not
// take the whole coordinator down.
func loop(ctx context.Context, name string, interval time.Duration, sweep func(context.Context, time.Time) (int, error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sweep(ctx, time.Now())
			if err != nil {
				log.Error().Err(err).Str("sweep", name).Msg("sweep failed")
				continue
			}
			if n > 0 {
				log.Info().Str("sweep", name).Int("processed", n).Msg("sweep completed")
			}
		}
	}
}
