package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/packfinderz-serials/internal/cron"
	"github.com/angelmondragon/packfinderz-serials/internal/locks"
	product "github.com/angelmondragon/packfinderz-serials/internal/products"
	"github.com/angelmondragon/packfinderz-serials/internal/stock"
	"github.com/angelmondragon/packfinderz-serials/pkg/config"
	"github.com/angelmondragon/packfinderz-serials/pkg/db"
	"github.com/angelmondragon/packfinderz-serials/pkg/instance"
	"github.com/angelmondragon/packfinderz-serials/pkg/logger"
	"github.com/angelmondragon/packfinderz-serials/pkg/metrics"
	"github.com/angelmondragon/packfinderz-serials/pkg/migrate"
	"github.com/angelmondragon/packfinderz-serials/pkg/outbox"
	"github.com/angelmondragon/packfinderz-serials/pkg/redis"
)

const serviceKind = "cron-worker"

func main() {
	once := flag.String("once", "", "comma-separated job names to run once and exit, e.g. stock-reconcile")
	flag.Parse()

	bootCtx := context.Background()
	logg := logger.New(logger.Options{ServiceName: serviceKind})
	if err := godotenv.Load(); err != nil {
		logg.Warn(bootCtx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	exitOn(bootCtx, logg, "failed to load config", err)
	cfg.Service.Kind = serviceKind
	logg = logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(bootCtx, cfg.DB, logg)
	exitOn(bootCtx, logg, "failed to bootstrap database", err)
	defer closeWith(logg, "database", dbClient.Close)
	exitOn(bootCtx, logg, "failed to run dev migrations", migrate.MaybeRunDev(bootCtx, cfg, logg, dbClient))

	var lock cron.Lock = &cron.ProcessLock{}
	if cfg.Redis.Enabled() {
		redisClient, err := redis.New(bootCtx, cfg.Redis, logg)
		exitOn(bootCtx, logg, "failed to bootstrap redis", err)
		defer closeWith(logg, "redis", redisClient.Close)

		// The lease outlives one interval so a crashed worker frees it by the next tick.
		redisLock, err := locks.NewRedisLock(redisClient, redisClient.LockKey(serviceKind, cfg.App.Env), cfg.Cron.Interval)
		exitOn(bootCtx, logg, "failed to create cron lock", err)
		lock = redisLock
	}

	registry, err := buildJobs(cfg, logg, dbClient)
	exitOn(bootCtx, logg, "failed to register cron jobs", err)

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	exitOn(bootCtx, logg, "failed to create cron service", err)

	ctx, stop := signal.NotifyContext(bootCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"instance":    instance.GetID(),
		"serviceKind": serviceKind,
	})

	if *once != "" {
		names := strings.Split(*once, ",")
		logg.Info(logg.WithField(ctx, "jobs", names), "running cron jobs once")
		exitOn(ctx, logg, "cron jobs failed", service.RunOnce(ctx, names...))
		return
	}

	logg.Info(ctx, "starting cron worker")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		exitOn(ctx, logg, "cron worker stopped unexpectedly", err)
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
}

// buildJobs wires the stock reconciliation and outbox retention jobs.
func buildJobs(cfg *config.Config, logg *logger.Logger, dbClient *db.Client) (*cron.Registry, error) {
	aggregator, err := stock.NewAggregator(stock.AggregatorParams{
		DB:       dbClient,
		Products: product.NewRepository(dbClient.DB()),
		Logger:   logg,
		Metrics:  metrics.NewSerialMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		return nil, err
	}
	reconcile, err := cron.NewStockReconcileJob(cron.StockReconcileJobParams{
		Logger:     logg,
		Aggregator: aggregator,
	})
	if err != nil {
		return nil, err
	}
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:        logg,
		DB:            dbClient,
		Repository:    outbox.NewRepository(dbClient.DB()),
		RetentionDays: cfg.Cron.OutboxRetentionDays,
		MaxAttempts:   cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}
	return cron.NewRegistry(reconcile, retention)
}

func exitOn(ctx context.Context, logg *logger.Logger, msg string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, msg, err)
	os.Exit(1)
}

func closeWith(logg *logger.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(context.Background(), "error closing "+name, err)
	}
}
