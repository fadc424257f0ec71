// Package app assembles the financial core shared by the API and the cron
// worker.
package app

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/tradepost/internal/catalog"
	"github.com/angelmondragon/tradepost/internal/commissions"
	"github.com/angelmondragon/tradepost/internal/discounts"
	"github.com/angelmondragon/tradepost/internal/notifications"
	"github.com/angelmondragon/tradepost/internal/orders"
	"github.com/angelmondragon/tradepost/internal/refunds"
	"github.com/angelmondragon/tradepost/internal/settlement"
	"github.com/angelmondragon/tradepost/pkg/config"
	"github.com/angelmondragon/tradepost/pkg/db"
	"github.com/angelmondragon/tradepost/pkg/identity"
	"github.com/angelmondragon/tradepost/pkg/inventory"
	"github.com/angelmondragon/tradepost/pkg/logger"
	"github.com/angelmondragon/tradepost/pkg/metrics"
	"github.com/angelmondragon/tradepost/pkg/outbox"
	"github.com/angelmondragon/tradepost/pkg/retry"
)

// Services is the wired set of domain services.
type Services struct {
	Orders     orders.Service
	OrdersRepo orders.Repository
	Refunds    *refunds.Service
	Ledger     *settlement.Service
	OutboxRepo *outbox.Repository
}

// Build wires every domain service on top of the database client. Ledger
// metrics register on reg; a nil reg disables them.
func Build(cfg *config.Config, logg *logger.Logger, client *db.Client, reg prometheus.Registerer) (*Services, error) {
	conn := client.DB()
	outboxRepo := outbox.NewRepository(conn)
	emitter := outbox.NewService(outboxRepo, logg)
	notifier := notifications.NewDispatcher(emitter)
	ledgerMetrics := metrics.NewLedgerMetrics(reg)
	policy := retry.FromConfig(cfg.Retry)

	fee, err := commissions.FeeFromConfig(cfg.Settlement)
	if err != nil {
		return nil, fmt.Errorf("platform fee: %w", err)
	}
	catalogRepo := catalog.NewRepository(conn)
	calculator, err := commissions.NewCalculator(catalogRepo, fee)
	if err != nil {
		return nil, fmt.Errorf("commission calculator: %w", err)
	}

	ledger, err := settlement.NewService(settlement.Deps{
		Tx:         client,
		Repo:       settlement.NewRepository(conn),
		Calculator: calculator,
		Shops:      catalogRepo,
		Outbox:     emitter,
		Notifier:   notifier,
		Metrics:    ledgerMetrics,
		Logger:     logg,
	}, settlement.Config{
		ClearingPeriod: cfg.Settlement.ClearingPeriod,
		PayoutMethod:   cfg.Settlement.PayoutMethod,
		Retry:          policy,
	})
	if err != nil {
		return nil, fmt.Errorf("settlement service: %w", err)
	}

	discountSvc, err := discounts.NewService(discounts.NewRepository(conn), emitter, logg)
	if err != nil {
		return nil, fmt.Errorf("discount service: %w", err)
	}

	stock, err := inventory.NewClient(cfg.Inventory, logg)
	if err != nil {
		return nil, fmt.Errorf("inventory client: %w", err)
	}
	directory, err := identity.NewClient(cfg.Identity, logg)
	if err != nil {
		return nil, fmt.Errorf("identity client: %w", err)
	}

	ordersRepo := orders.NewRepository(conn)
	orderSvc, err := orders.NewService(orders.Deps{
		Tx:        client,
		Repo:      ordersRepo,
		Catalog:   catalogRepo,
		Rates:     calculator,
		Discounts: discountSvc,
		Ledger:    ledger,
		Inventory: stock,
		Identity:  directory,
		Outbox:    emitter,
		Notifier:  notifier,
		Metrics:   ledgerMetrics,
		Logger:    logg,
	}, orders.Config{Retry: policy})
	if err != nil {
		return nil, fmt.Errorf("order service: %w", err)
	}

	refundSvc, err := refunds.NewService(refunds.Deps{
		Tx:       client,
		Repo:     refunds.NewRepository(conn),
		Orders:   orderSvc,
		Ledger:   ledger,
		Outbox:   emitter,
		Notifier: notifier,
		Metrics:  ledgerMetrics,
		Logger:   logg,
	}, refunds.Config{Retry: policy})
	if err != nil {
		return nil, fmt.Errorf("refund service: %w", err)
	}

	return &Services{
		Orders:     orderSvc,
		OrdersRepo: ordersRepo,
		Refunds:    refundSvc,
		Ledger:     ledger,
		OutboxRepo: outboxRepo,
	}, nil
}
