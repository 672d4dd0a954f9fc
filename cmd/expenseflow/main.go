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
	"github.com/expenseflow/expenseflow/internal/rbac"
	"github.com/expenseflow/expenseflow/internal/rules"
	"github.com/expenseflow/expenseflow/internal/shared"
	"github.com/expenseflow/expenseflow/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	sessionManager := shared.NewSessionManager(redisClient, cfg.SessionCookie, cfg.SessionTTL, cfg.IsProduction())
	rbacMiddleware := rbac.Middleware{Logger: logger}

	auditLogger := shared.NewAuditLogger(pool)
	decisionRecorder := shared.NewDecisionRecorder(pool, logger)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	var rateSource fx.Source = fx.StaticSource{Table: fx.DevTable()}
	if cfg.RatesEndpoint != "" {
		rateSource = &fx.HTTPSource{Endpoint: cfg.RatesEndpoint, Client: &http.Client{Timeout: 10 * time.Second}}
	}
	cachedRates := fx.NewCachedSource(rateSource, redisClient, cfg.RatesCacheTTL)

	companyRepo := company.NewRepository(pool)
	companyService := company.NewService(companyRepo, auditLogger)

	identityRepo := identity.NewRepository(pool, companyRepo)
	identityService := identity.NewService(identityRepo, auditLogger)

	rulesRepo := rules.NewRepository(pool)
	rulesService := rules.NewService(rulesRepo, companyRepo, auditLogger)

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

	expenseRepo := expenses.NewRepository(pool)
	flowRepo := flow.NewRepository(pool)
	flowService := flow.NewService(flowRepo, rulesService, identityRepo, expenseRepo, notifier, decisionRecorder, logger)
	expenseService := expenses.NewService(expenseRepo, cachedRates, flowService, companyRepo, decisionRecorder, logger)

	identityHandler := identity.NewHandler(logger, identityService, sessionManager, rbacMiddleware)
	companyHandler := company.NewHandler(logger, companyService, rbacMiddleware)
	expenseHandler := expenses.NewHandler(logger, expenseService, idempotencyStore, rbacMiddleware)
	rulesHandler := rules.NewHandler(logger, rulesService, rbacMiddleware)
	flowHandler := flow.NewHandler(logger, flowService, rbacMiddleware)
	fxHandler := fx.NewHandler(logger, cachedRates, "USD", rbacMiddleware)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		SessionManager:  sessionManager,
		IdentityHandler: identityHandler,
		CompanyHandler:  companyHandler,
		ExpenseHandler:  expenseHandler,
		RulesHandler:    rulesHandler,
		FlowHandler:     flowHandler,
		FXHandler:       fxHandler,
		JobHandler:      jobHandler,
		Pool:            pool,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
