package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"contractwatch/internal/config"
	"contractwatch/internal/domain"
	"contractwatch/internal/infrastructure/clock"
	"contractwatch/internal/infrastructure/esi"
	"contractwatch/internal/infrastructure/scheduler"
	"contractwatch/internal/infrastructure/storage"
	"contractwatch/internal/infrastructure/telegram"
	"contractwatch/internal/logging"
	"contractwatch/internal/ports"
	"contractwatch/internal/schedule"
	"contractwatch/internal/usecase"
)

// Application wires config to the pipelines and owns their lifecycle.
type Application struct {
	cfg         config.Config
	logger      *slog.Logger
	store       *storage.Store
	queue       *clock.DelayQueue
	driver      ports.Scheduler
	planner     *schedule.Planner
	discovery   *usecase.Discovery
	revalidator *usecase.Revalidator
}

// New builds a runnable application instance.
func New(cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	store, err := storage.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	httpClient := &http.Client{Timeout: time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second}
	fetcher := esi.NewClient(cfg.Upstream.BaseURL, httpClient, cfg.Upstream.UserAgent)
	planner := schedule.NewPlanner(cfg.Downtime.Hour, cfg.Downtime.Minutes)
	queue := clock.New()

	var notifier ports.Notifier
	if cfg.Notifications.Telegram.BotToken != "" && cfg.Notifications.Telegram.ChatID != "" {
		notifier = telegram.NewNotifier(cfg.Notifications.Telegram.BotToken, cfg.Notifications.Telegram.ChatID)
	}

	enhancer := usecase.NewEnhancer(fetcher, baseLogger.With("component", "enhancer"))
	discovery := usecase.NewDiscovery(usecase.DiscoveryDeps{
		Fetcher:   fetcher,
		Contracts: store,
		Tags:      store,
		Watermark: store,
		Clock:     queue,
		Enhancer:  enhancer,
		Planner:   planner,
		Logger:    baseLogger.With("component", "discovery"),
		Config:    cfg.Discovery,
	})
	revalidator := usecase.NewRevalidator(usecase.RevalidatorDeps{
		Fetcher:   fetcher,
		Contracts: store,
		Clock:     queue,
		Planner:   planner,
		Notifier:  notifier,
		Logger:    baseLogger.With("component", "revalidator"),
		Config:    cfg.Revalidation,
	})

	return &Application{
		cfg:         cfg,
		logger:      baseLogger,
		store:       store,
		queue:       queue,
		driver:      scheduler.NewInterval(time.Duration(cfg.Discovery.IntervalMinutes) * time.Minute),
		planner:     planner,
		discovery:   discovery,
		revalidator: revalidator,
	}, nil
}

// Run starts the clock consumer and the periodic discovery driver, then
// blocks until the context is cancelled. With rearm set, every stored
// contract gets a fresh short-delay entry first; clock entries are not
// durable across restarts.
func (a *Application) Run(ctx context.Context, rearm bool) error {
	if rearm {
		if err := a.Rearm(ctx); err != nil {
			return err
		}
	}

	if err := a.queue.Start(ctx, func(batch []domain.ClockEvent) {
		a.revalidator.Process(ctx, batch)
	}); err != nil {
		return fmt.Errorf("start clock: %w", err)
	}

	if err := a.driver.Start(ctx, func(time.Time) {
		if err := a.discovery.Run(ctx, usecase.DiscoveryOptions{}); err != nil {
			a.logger.Error("discovery pass failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("start discovery driver: %w", err)
	}

	<-ctx.Done()

	_ = a.driver.Stop(context.Background())
	_ = a.queue.Stop(context.Background())
	return nil
}

// Discover executes a single discovery pass.
func (a *Application) Discover(ctx context.Context, opts usecase.DiscoveryOptions) error {
	return a.discovery.Run(ctx, opts)
}

// Rearm schedules a short-delay check for every tracked contract.
func (a *Application) Rearm(ctx context.Context) error {
	ids, err := a.store.IDs(ctx)
	if err != nil {
		return fmt.Errorf("list contracts: %w", err)
	}
	for _, id := range ids {
		a.queue.Arm(id, a.planner.Short())
	}
	a.logger.Info("rearmed stored contracts", "count", len(ids))
	return nil
}

// Close releases the store.
func (a *Application) Close() error {
	return a.store.Close()
}
