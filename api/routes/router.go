package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/packfinderz-serials/api/controllers"
	"github.com/angelmondragon/packfinderz-serials/api/middleware"
	"github.com/angelmondragon/packfinderz-serials/internal/stock"
	"github.com/angelmondragon/packfinderz-serials/pkg/config"
	"github.com/angelmondragon/packfinderz-serials/pkg/logger"
	"github.com/angelmondragon/packfinderz-serials/pkg/outbox"
	"github.com/angelmondragon/packfinderz-serials/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP controllers.Pinger,
	redisClient *redis.Client,
	serialService controllers.SerialService,
	aggregator *stock.Aggregator,
	outboxRepo *outbox.Repository,
	dlqRepo *outbox.DLQRepository,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	readiness := map[string]controllers.Pinger{"db": dbP, "redis": nil}
	var idempotencyStore redis.IdempotencyStore
	if redisClient != nil {
		readiness["redis"] = redisClient
		idempotencyStore = redisClient
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readiness))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Idempotency(idempotencyStore, logg))

		r.Route("/serials", func(r chi.Router) {
			r.Get("/", controllers.SerialList(serialService, logg))
			r.Post("/", controllers.SerialCreate(serialService, logg))
			r.Post("/bulk", controllers.SerialBulkCreate(serialService, logg))
			r.Post("/bulk-delete", controllers.SerialBulkDelete(serialService, logg))
			r.Post("/assign", controllers.SerialAssign(serialService, logg))
			r.Post("/allocate", controllers.SerialAllocate(serialService, logg))
			r.Get("/by-serial/{serial}", controllers.SerialGetBySerial(serialService, logg))
			r.Post("/by-serial/{serial}/sell", controllers.SerialSell(serialService, logg))
			r.Get("/{unitId}", controllers.SerialGet(serialService, logg))
			r.Delete("/{unitId}", controllers.SerialDelete(serialService, logg))
			r.Post("/{unitId}/unassign", controllers.SerialUnassign(serialService, logg))
		})

		r.Get("/products/{productId}/stock", controllers.ProductStock(aggregator, logg))
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Idempotency(idempotencyStore, logg))
		r.Post("/serials/{unitId}/override", controllers.AdminSerialOverride(serialService, logg))
		r.Post("/stock/recompute", controllers.AdminStockRecompute(aggregator, logg))
		r.Get("/outbox/dlq", controllers.AdminOutboxDLQ(dlqRepo, logg))
		r.Get("/outbox/pending", controllers.AdminOutboxPending(outboxRepo, cfg.Outbox.MaxAttempts, logg))
	})

	return r
}
