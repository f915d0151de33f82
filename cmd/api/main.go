package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/packfinderz-serials/api/routes"
	"github.com/angelmondragon/packfinderz-serials/internal/locks"
	"github.com/angelmondragon/packfinderz-serials/internal/orderclient"
	product "github.com/angelmondragon/packfinderz-serials/internal/products"
	"github.com/angelmondragon/packfinderz-serials/internal/serials"
	"github.com/angelmondragon/packfinderz-serials/internal/stock"
	"github.com/angelmondragon/packfinderz-serials/pkg/config"
	"github.com/angelmondragon/packfinderz-serials/pkg/db"
	"github.com/angelmondragon/packfinderz-serials/pkg/logger"
	"github.com/angelmondragon/packfinderz-serials/pkg/metrics"
	"github.com/angelmondragon/packfinderz-serials/pkg/migrate"
	"github.com/angelmondragon/packfinderz-serials/pkg/outbox"
	"github.com/angelmondragon/packfinderz-serials/pkg/redis"
)

const (
	orderItemLockScope = "order-item"
	shutdownTimeout    = 15 * time.Second
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient, err = redis.New(context.Background(), cfg.Redis, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap redis", err)
			os.Exit(1)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}()
	}

	var locker locks.Locker = locks.NewLocalLocker(cfg.Allocation.LockWait)
	if cfg.FeatureFlags.DistributedLocks {
		redisLocker, err := locks.NewRedisLocker(redisClient, orderItemLockScope, cfg.Allocation.LockTTL, cfg.Allocation.LockWait)
		if err != nil {
			logg.Error(context.Background(), "failed to create order item locker", err)
			os.Exit(1)
		}
		locker = redisLocker
	}

	orders, err := orderclient.New(cfg.OrderService, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create order service client", err)
		os.Exit(1)
	}

	serialMetrics := metrics.NewSerialMetrics(prometheus.DefaultRegisterer)
	products := product.NewRepository(dbClient.DB())
	aggregator, err := stock.NewAggregator(stock.AggregatorParams{
		DB:       dbClient,
		Products: products,
		Logger:   logg,
		Metrics:  serialMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create stock aggregator", err)
		os.Exit(1)
	}

	outboxRepo := outbox.NewRepository(dbClient.DB())
	serialService, err := serials.NewService(serials.ServiceParams{
		DB:              dbClient,
		Repository:      serials.NewRepository(dbClient.DB()),
		Products:        products,
		Stock:           aggregator,
		Orders:          orders,
		Locker:          locker,
		Outbox:          outbox.NewService(outboxRepo, logg),
		Logger:          logg,
		Metrics:         serialMetrics,
		LifecycleEvents: cfg.FeatureFlags.LifecycleEvents,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create serial service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":               cfg.App.Env,
		"addr":              addr,
		"distributed_locks": cfg.FeatureFlags.DistributedLocks,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, dbClient, redisClient, serialService, aggregator, outboxRepo, outbox.NewDLQRepository(dbClient.DB())),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-sigCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
		logg.Info(ctx, "api server stopped")
	}
}
