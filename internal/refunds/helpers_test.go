package refunds

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradepost/internal/catalog"
	"github.com/angelmondragon/tradepost/internal/catalog/catalogtest"
	"github.com/angelmondragon/tradepost/internal/commissions"
	"github.com/angelmondragon/tradepost/internal/discounts"
	"github.com/angelmondragon/tradepost/internal/notifications"
	"github.com/angelmondragon/tradepost/internal/orders"
	"github.com/angelmondragon/tradepost/internal/settlement"
	"github.com/angelmondragon/tradepost/pkg/db/dbtest"
	"github.com/angelmondragon/tradepost/pkg/db/models"
	"github.com/angelmondragon/tradepost/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradepost/pkg/errors"
	"github.com/angelmondragon/tradepost/pkg/identity"
	"github.com/angelmondragon/tradepost/pkg/inventory"
	"github.com/angelmondragon/tradepost/pkg/logger"
	"github.com/angelmondragon/tradepost/pkg/metrics"
	"github.com/angelmondragon/tradepost/pkg/money"
	"github.com/angelmondragon/tradepost/pkg/outbox"
	"github.com/angelmondragon/tradepost/pkg/retry"
)

type noopInventory struct{}

func (noopInventory) CheckAvailability(context.Context, []inventory.Line) error { return nil }
func (noopInventory) Commit(context.Context, uuid.UUID, []inventory.Line) error { return nil }
func (noopInventory) Release(context.Context, uuid.UUID) error                  { return nil }

type directory struct{}

func (directory) GetUser(_ context.Context, id string) (*identity.User, error) {
	return &identity.User{ID: id, Active: true}, nil
}

type fixture struct {
	conn     *gorm.DB
	orders   orders.Service
	ledger   *settlement.Service
	svc      *Service
	shop     models.Shop
	category models.Category
	now      *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client := dbtest.Open(t)
	conn := client.DB()
	emitter := outbox.NewService(outbox.NewRepository(conn), logger.Nop())
	notifier := notifications.NewDispatcher(emitter)
	ledgerMetrics := metrics.NewLedgerMetrics(prometheus.NewRegistry())

	now := catalogtest.Epoch
	clock := func() time.Time { return now }

	catalogRepo := catalog.NewRepository(conn)
	calc, err := commissions.NewCalculator(catalogRepo, commissions.PlatformFee{
		Type:  enums.FeeTypeFlat,
		Value: decimal.RequireFromString("1.00"),
	})
	require.NoError(t, err)

	ledger, err := settlement.NewService(settlement.Deps{
		Tx:         client,
		Repo:       settlement.NewRepository(conn),
		Calculator: calc,
		Shops:      catalogRepo,
		Outbox:     emitter,
		Notifier:   notifier,
		Metrics:    ledgerMetrics,
		Logger:     logger.Nop(),
	}, settlement.Config{ClearingPeriod: 7 * 24 * time.Hour, Retry: retry.Policy{MaxAttempts: 1}})
	require.NoError(t, err)
	ledger.WithClock(clock)

	discountSvc, err := discounts.NewService(discounts.NewRepository(conn), emitter, logger.Nop())
	require.NoError(t, err)

	orderSvc, err := orders.NewService(orders.Deps{
		Tx:        client,
		Repo:      orders.NewRepository(conn),
		Catalog:   catalogRepo,
		Rates:     calc,
		Discounts: discountSvc.WithClock(clock),
		Ledger:    ledger,
		Inventory: noopInventory{},
		Identity:  directory{},
		Outbox:    emitter,
		Notifier:  notifier,
		Metrics:   ledgerMetrics,
		Logger:    logger.Nop(),
	}, orders.Config{Retry: retry.Policy{MaxAttempts: 1}}, orders.WithClock(clock))
	require.NoError(t, err)

	svc, err := NewService(Deps{
		Tx:       client,
		Repo:     NewRepository(conn),
		Orders:   orderSvc,
		Ledger:   ledger,
		Outbox:   emitter,
		Notifier: notifier,
		Metrics:  ledgerMetrics,
		Logger:   logger.Nop(),
	}, Config{Retry: retry.Policy{MaxAttempts: 1}})
	require.NoError(t, err)
	svc.WithClock(clock)

	return &fixture{
		conn:     conn,
		orders:   orderSvc,
		ledger:   ledger,
		svc:      svc,
		shop:     catalogtest.Shop(t, conn),
		category: catalogtest.Category(t, conn, nil, ""),
		now:      &now,
	}
}

func (f *fixture) advance(d time.Duration) {
	*f.now = f.now.Add(d)
}

// input orders one unit of a new variant per price for cus_1.
func (f *fixture) input(t *testing.T, prices ...string) orders.CreateOrderInput {
	t.Helper()
	in := orders.CreateOrderInput{
		CustomerID: "cus_1",
		Currency:   enums.CurrencyUSD,
		Addresses: []orders.AddressInput{{
			Type: enums.AddressTypeShipping, Recipient: "Ada", Line1: "1 Market St",
			City: "Springfield", PostalCode: "12345", Country: "US",
		}},
	}
	for _, p := range prices {
		v := catalogtest.Variant(t, f.conn, f.shop.ID, f.category.ID, p, enums.CurrencyUSD)
		in.Items = append(in.Items, orders.ItemInput{VariantID: v.ID, Quantity: 1})
	}
	return in
}

func (f *fixture) confirmed(t *testing.T, prices ...string) *models.Order {
	t.Helper()
	order, err := f.orders.CreateOrder(context.Background(), f.input(t, prices...))
	require.NoError(t, err)
	res, err := f.orders.ConfirmOrder(context.Background(), order.ID, "admin_1")
	require.NoError(t, err)
	return res.Order
}

func (f *fixture) deliver(t *testing.T, orderID uuid.UUID) {
	t.Helper()
	for _, target := range []enums.OrderStatus{enums.OrderStatusShipped, enums.OrderStatusDelivered} {
		_, err := f.orders.UpdateStatus(context.Background(), orders.StatusChangeInput{
			OrderID: orderID, Target: target, Actor: "shop_1",
		})
		require.NoError(t, err)
	}
}

func (f *fixture) request(t *testing.T, orderID uuid.UUID, itemID *uuid.UUID, amount string) *models.OrderRefund {
	t.Helper()
	refund, err := f.svc.RequestRefund(context.Background(), RequestInput{
		OrderID: orderID,
		ItemID:  itemID,
		Amount:  usd(amount),
		Reason:  "damaged",
		Actor:   "cus_1",
	})
	require.NoError(t, err)
	return refund
}

func (f *fixture) commission(t *testing.T, itemID uuid.UUID) models.Commission {
	t.Helper()
	var c models.Commission
	require.NoError(t, f.conn.First(&c, "order_item_id = ?", itemID).Error)
	return c
}

func (f *fixture) countEvents(t *testing.T, event enums.OutboxEventType) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", event).Count(&n).Error)
	return n
}

func usd(raw string) money.Money {
	return money.MustParse(raw, enums.CurrencyUSD)
}

func requireCode(t *testing.T, err error, code pkgerrors.Code) {
	t.Helper()
	require.Error(t, err)
	require.Truef(t, pkgerrors.IsCode(err, code), "expected %s, got %v", code, err)
}
