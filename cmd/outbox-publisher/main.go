package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/packfinderz-serials/internal/orderclient"
	"github.com/angelmondragon/packfinderz-serials/pkg/config"
	"github.com/angelmondragon/packfinderz-serials/pkg/db"
	"github.com/angelmondragon/packfinderz-serials/pkg/instance"
	"github.com/angelmondragon/packfinderz-serials/pkg/logger"
	"github.com/angelmondragon/packfinderz-serials/pkg/metrics"
	"github.com/angelmondragon/packfinderz-serials/pkg/migrate"
	"github.com/angelmondragon/packfinderz-serials/pkg/outbox"
	"github.com/angelmondragon/packfinderz-serials/pkg/outbox/idempotency"
	"github.com/angelmondragon/packfinderz-serials/pkg/outbox/registry"
	"github.com/angelmondragon/packfinderz-serials/pkg/pubsub"
	"github.com/angelmondragon/packfinderz-serials/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "outbox-publisher"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "outbox-publisher"

	logg = logger.New(logger.Options{
		ServiceName: "outbox-publisher",
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

	pubsubCfg := cfg.PubSub
	if strings.TrimSpace(cfg.GCP.ProjectID) == "" {
		// Without a project only order-item completions are delivered.
		pubsubCfg.LifecycleTopic = ""
	}
	eventRegistry, err := registry.NewEventRegistry(pubsubCfg)
	if err != nil {
		logg.Error(context.Background(), "failed to build event registry", err)
		os.Exit(1)
	}

	orders, err := orderclient.New(cfg.OrderService, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create order service client", err)
		os.Exit(1)
	}

	deps := map[string]pinger{}
	var guard deliveryGuard
	if cfg.Redis.Enabled() {
		redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap redis", err)
			os.Exit(1)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}()
		g, err := idempotency.NewGuard(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
		if err != nil {
			logg.Error(context.Background(), "failed to create delivery guard", err)
			os.Exit(1)
		}
		guard = g
		deps["redis"] = redisClient
	}

	orderSink, err := newOrderServiceSink(orders, guard, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create order service sink", err)
		os.Exit(1)
	}
	sinks := map[registry.Sink]sink{registry.SinkOrderService: orderSink}

	if topics := eventRegistry.Topics(); len(topics) > 0 {
		pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, topics, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap pubsub", err)
			os.Exit(1)
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing pubsub client", err)
			}
		}()
		sinks[registry.SinkPubSub] = newPubSubSink(pubsubClient)
		deps["pubsub"] = pubsubClient
	}

	service, err := NewService(ServiceParams{
		Config:        cfg,
		Logger:        logg,
		DB:            dbClient,
		Repository:    outbox.NewRepository(dbClient.DB()),
		Registry:      eventRegistry,
		DLQRepository: outbox.NewDLQRepository(dbClient.DB()),
		Sinks:         sinks,
		Metrics:       metrics.NewSerialMetrics(prometheus.DefaultRegisterer),
		Dependencies:  deps,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox publisher", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"instance":    instance.GetID(),
		"serviceKind": "outbox-publisher",
		"guarded":     guard != nil,
	})
	logg.Info(ctx, "starting outbox publisher")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "outbox publisher stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "outbox publisher shutting down gracefully")
}
