package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/annacash/annacash/cmd/annacash/cli"
	"github.com/annacash/annacash/internal/app"
	"github.com/annacash/annacash/internal/audit"
	"github.com/annacash/annacash/internal/fees"
	"github.com/annacash/annacash/internal/mchezo"
	"github.com/annacash/annacash/internal/platform/cache"
	"github.com/annacash/annacash/internal/platform/db"
	"github.com/annacash/annacash/internal/shared"
	"github.com/annacash/annacash/internal/wakala"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping ops cli")
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
		logger.Warn("redis unavailable, status cache disabled", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()
	var statusCache *shared.StatusCache
	if err == nil {
		statusCache = shared.NewStatusCache(redisClient, cfg.StatusCacheTTL)
	}

	roles := shared.NewRoleStore(pool)

	wakalaRepo := wakala.NewRepository(pool)
	balancing := wakala.NewBalancingService(wakalaRepo, roles, statusCache, logger)
	balancing.SetCurrency(cfg.Currency)
	recorder := wakala.NewTransactionService(wakalaRepo, roles, statusCache, logger)
	recorder.SetCurrency(cfg.Currency)
	evaluator, err := fees.NewRepository(pool).LoadEvaluator(ctx)
	if err != nil {
		logger.Warn("load fee rules", slog.Any("error", err))
	} else {
		recorder.SetFeeEvaluator(evaluator)
	}

	cycles := mchezo.NewService(mchezo.NewRepository(pool), roles, statusCache, logger)
	cycles.SetCurrency(cfg.Currency)

	jobsCLI := cli.NewJobsCLI(cfg.RedisAddr)
	defer func() {
		if err := jobsCLI.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	ops := &cli.OpsCLI{
		Days:   balancing,
		Txns:   recorder,
		Cycles: cycles,
		Groups: cycles,
		Jobs:   jobsCLI,
		Audit:  audit.NewService(audit.NewRepository(pool)),
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
	return ops.Run(ctx, os.Args[1:])
}
