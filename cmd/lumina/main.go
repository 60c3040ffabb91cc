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

	"github.com/lumina-pos/lumina-pos/internal/app"
	"github.com/lumina-pos/lumina-pos/internal/ledger"
	"github.com/lumina-pos/lumina-pos/internal/observability"
	"github.com/lumina-pos/lumina-pos/internal/platform/cache"
	"github.com/lumina-pos/lumina-pos/internal/platform/db"
	"github.com/lumina-pos/lumina-pos/internal/purchase"
	"github.com/lumina-pos/lumina-pos/internal/supplier"
	"github.com/lumina-pos/lumina-pos/jobs"
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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

	metrics := observability.NewMetrics()
	ledgerMetrics := observability.NewLedgerMetrics(metrics.Registerer())

	supplierRepo := supplier.NewRepository(dbpool)
	supplierService := supplier.NewService(supplierRepo)
	supplierHandler := supplier.NewHandler(logger, supplierService)

	ledgerRepo := ledger.NewRepository(dbpool, purchase.DebtLineUpdater)
	balanceCache := ledger.NewRedisBalanceCache(redisClient, cfg.BalanceCacheTTL, logger)
	ledgerService := ledger.NewService(ledgerRepo, balanceCache, ledgerMetrics, logger)
	operatorGuard := app.RequireOperator(logger, cfg.OperatorTokenHash)
	ledgerHandler := ledger.NewHandler(logger, ledgerService, operatorGuard)

	purchaseRepo := purchase.NewRepository(dbpool)
	purchaseService := purchase.NewService(purchaseRepo, supplierService, ledgerService)
	purchaseHandler := purchase.NewHandler(logger, purchaseService)

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
		LedgerHandler:   ledgerHandler,
		SupplierHandler: supplierHandler,
		PurchaseHandler: purchaseHandler,
		JobHandler:      jobHandler,
		Metrics:         metrics,
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
