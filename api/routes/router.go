package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/tradepost/api/controllers"
	commissionctl "github.com/angelmondragon/tradepost/api/controllers/commissions"
	orderctl "github.com/angelmondragon/tradepost/api/controllers/orders"
	payoutctl "github.com/angelmondragon/tradepost/api/controllers/payouts"
	refundctl "github.com/angelmondragon/tradepost/api/controllers/refunds"
	"github.com/angelmondragon/tradepost/api/middleware"
	"github.com/angelmondragon/tradepost/internal/orders"
	"github.com/angelmondragon/tradepost/internal/refunds"
	"github.com/angelmondragon/tradepost/internal/settlement"
	"github.com/angelmondragon/tradepost/pkg/config"
	"github.com/angelmondragon/tradepost/pkg/enums"
	"github.com/angelmondragon/tradepost/pkg/logger"
	pkgredis "github.com/angelmondragon/tradepost/pkg/redis"
)

// Deps carries what the router mounts. Idempotency is optional; without a
// store the Idempotency-Key header is ignored.
type Deps struct {
	DB          controllers.Pinger
	Redis       controllers.Pinger
	Idempotency pkgredis.IdempotencyStore
	Metrics     prometheus.Gatherer
	Orders      orders.Service
	Refunds     *refunds.Service
	Ledger      *settlement.Service
}

// NewRouter builds the HTTP router.
func NewRouter(cfg *config.Config, logg *logger.Logger, deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer(logg))
	r.Use(middleware.RequestID(logg))
	r.Use(middleware.Logging(logg))
	r.Use(middleware.CORS(cfg.App.CORSOrigins))

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readinessDeps(deps)))
	})

	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Metrics, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(deps.Idempotency, cfg.Redis.IdempotencyTTL, logg))

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", orderctl.Create(deps.Orders, logg))
			r.Get("/", orderctl.List(deps.Orders, logg))

			r.Route("/{orderId}", func(r chi.Router) {
				r.Get("/", orderctl.Detail(deps.Orders, logg))
				r.Post("/coupon", orderctl.ApplyCoupon(deps.Orders, logg))
				r.Post("/confirm", orderctl.Confirm(deps.Orders, logg))
				r.Post("/status", orderctl.UpdateStatus(deps.Orders, logg))
				r.Post("/items/{itemId}/status", orderctl.UpdateItemStatus(deps.Orders, logg))
				r.Post("/refunds", refundctl.Request(deps.Orders, deps.Refunds, logg))
				r.Get("/refunds", refundctl.ListForOrder(deps.Orders, deps.Refunds, logg))
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.MemberRoleAdmin))

			r.Get("/refunds/{refundId}", refundctl.Detail(deps.Refunds, logg))
			r.Post("/refunds/{refundId}/approve", refundctl.Approve(deps.Refunds, logg))
			r.Post("/refunds/{refundId}/reject", refundctl.Reject(deps.Refunds, logg))
			r.Post("/refunds/{refundId}/processed", refundctl.Processed(deps.Refunds, logg))

			r.Post("/commissions/{commissionId}/clear", commissionctl.Clear(deps.Ledger, logg))
			r.Post("/commissions/{commissionId}/dispute", commissionctl.Dispute(deps.Ledger, logg))
			r.Post("/commissions/{commissionId}/resolve", commissionctl.Resolve(deps.Ledger, logg))

			r.Post("/shops/{shopId}/payouts", payoutctl.Build(deps.Ledger, logg))
			r.Post("/payouts/{payoutId}/processing", payoutctl.Processing(deps.Ledger, logg))
			r.Post("/payouts/{payoutId}/complete", payoutctl.Complete(deps.Ledger, logg))
			r.Post("/payouts/{payoutId}/fail", payoutctl.Fail(deps.Ledger, logg))
		})

		r.With(middleware.RequireRole(logg, enums.MemberRoleAdmin, enums.MemberRoleShopOwner)).
			Get("/payouts/{payoutId}", payoutctl.Detail(deps.Ledger, logg))
	})

	return r
}

func readinessDeps(deps Deps) map[string]controllers.Pinger {
	out := map[string]controllers.Pinger{}
	if deps.DB != nil {
		out["database"] = deps.DB
	}
	if deps.Redis != nil {
		out["redis"] = deps.Redis
	}
	return out
}
