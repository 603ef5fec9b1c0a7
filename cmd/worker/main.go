package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"

	"github.com/annacash/annacash/internal/app"
	jobmetrics "github.com/annacash/annacash/internal/jobs"
	"github.com/annacash/annacash/internal/observability"
	"github.com/annacash/annacash/internal/platform/cache"
	"github.com/annacash/annacash/internal/platform/db"
	"github.com/annacash/annacash/internal/shared"
	"github.com/annacash/annacash/internal/wakala"
	"github.com/annacash/annacash/jobs"
)

const alertRetention = 90 * 24 * time.Hour

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		return 1
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		return 1
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		return 1
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	statusCache := shared.NewStatusCache(redisClient, cfg.StatusCacheTTL)
	balancing := wakala.NewBalancingService(wakala.NewRepository(pool), shared.NewRoleStore(pool), statusCache, logger)
	balancing.SetCurrency(cfg.Currency)

	claims := shared.NewIdempotencyStore(pool)
	if purged, err := claims.Purge(ctx, shared.IdempotencyDiscrepancyAlert, alertRetention); err != nil {
		logger.Warn("purge alert claims", slog.Any("error", err))
	} else if purged > 0 {
		logger.Info("purged alert claims", slog.Int64("count", purged))
	}

	metrics := observability.NewMetrics()
	scanJob := jobs.NewDiscrepancyScanJob(balancing, claims, redislock.New(redisClient), logger, jobmetrics.NewMetrics(metrics.Registerer()))

	opsServer := &http.Server{
		Addr: cfg.OpsAddr,
		Handler: observability.NewRouter(observability.RouterConfig{
			Metrics:     metrics,
			Middlewares: app.OpsMiddleware(cfg, logger),
			Alerts:      balancing,
			Checks: map[string]observability.HealthCheck{
				"postgres": pool.Ping,
				"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
			},
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("ops endpoint listening", slog.String("addr", cfg.OpsAddr))
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops endpoint", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := opsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("ops endpoint shutdown", slog.Any("error", err))
		}
	}()

	scanTask, err := jobs.NewDiscrepancyScanTask(cfg.DiscrepancyWindowDays)
	if err != nil {
		logger.Error("build discrepancy scan task", slog.Any("error", err))
		return 1
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskWakalaDiscrepancyScan, Handler: scanJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.DiscrepancyScanCron, Task: scanTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		return 1
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		return 1
	}
	return 0
}
