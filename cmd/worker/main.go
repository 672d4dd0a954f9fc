package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/expenseflow/expenseflow/internal/app"
	"github.com/expenseflow/expenseflow/internal/company"
	"github.com/expenseflow/expenseflow/internal/expenses"
	"github.com/expenseflow/expenseflow/internal/flow"
	"github.com/expenseflow/expenseflow/internal/fx"
	"github.com/expenseflow/expenseflow/internal/identity"
	"github.com/expenseflow/expenseflow/internal/platform/cache"
	"github.com/expenseflow/expenseflow/internal/platform/db"
	"github.com/expenseflow/expenseflow/internal/rules"
	"github.com/expenseflow/expenseflow/internal/shared"
	"github.com/expenseflow/expenseflow/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	decisionRecorder := shared.NewDecisionRecorder(pool, logger)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	var rateSource fx.Source = fx.StaticSource{Table: fx.DevTable()}
	if cfg.RatesEndpoint != "" {
		rateSource = &fx.HTTPSource{Endpoint: cfg.RatesEndpoint, Client: &http.Client{Timeout: 10 * time.Second}}
	}
	cachedRates := fx.NewCachedSource(rateSource, redisClient, cfg.RatesCacheTTL)

	companyRepo := company.NewRepository(pool)
	identityRepo := identity.NewRepository(pool, companyRepo)
	rulesRepo := rules.NewRepository(pool)
	rulesService := rules.NewService(rulesRepo, companyRepo, nil)
	expenseRepo := expenses.NewRepository(pool)
	flowRepo := flow.NewRepository(pool)

	// The sweep escalates in-process; decision notifications still go
	// through the queue so delivery retries independently.
	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()
	notifier := jobs.NewNotifier(jobsClient)

	flowService := flow.NewService(flowRepo, rulesService, identityRepo, expenseRepo, notifier, decisionRecorder, logger)

	sweepTask, err := jobs.NewEscalationSweepTask(time.Now())
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}
	ratesTask, err := jobs.NewRatesRefreshTask(fx.DevTable().Base)
	if err != nil {
		logger.Error("build rates task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskDecisionNotify, Handler: jobs.NewDecisionNotifyHandler(logger, expenseRepo, identityRepo)},
			{Type: jobs.TaskEscalationSweep, Handler: jobs.NewEscalationSweepHandler(flowService, cfg.EscalationAfter, logger)},
			{Type: jobs.TaskRatesRefresh, Handler: jobs.NewRatesRefreshHandler(cachedRates, logger)},
			{Type: jobs.TaskIdempotencyCleanup, Handler: jobs.NewIdempotencyCleanupHandler(idempotencyStore, 24*time.Hour, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 * * * *", Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 0 * * *", Task: ratesTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "45 0 * * *", Task: jobs.NewIdempotencyCleanupTask(), Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
