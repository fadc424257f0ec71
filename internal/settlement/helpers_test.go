package settlement

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
	"github.com/angelmondragon/tradepost/internal/notifications"
	"github.com/angelmondragon/tradepost/pkg/db"
	"github.com/angelmondragon/tradepost/pkg/db/dbtest"
	"github.com/angelmondragon/tradepost/pkg/db/models"
	"github.com/angelmondragon/tradepost/pkg/enums"
	"github.com/angelmondragon/tradepost/pkg/logger"
	"github.com/angelmondragon/tradepost/pkg/metrics"
	"github.com/angelmondragon/tradepost/pkg/outbox"
	"github.com/angelmondragon/tradepost/pkg/retry"
)

type fixture struct {
	client   *db.Client
	conn     *gorm.DB
	svc      *Service
	shop     models.Shop
	category models.Category
	now      *time.Time
	registry *prometheus.Registry
}

func newFixture(t *testing.T, shopOpts ...catalogtest.ShopOption) *fixture {
	t.Helper()
	client := dbtest.Open(t)
	conn := client.DB()
	emitter := outbox.NewService(outbox.NewRepository(conn), logger.Nop())

	calc, err := commissions.NewCalculator(catalog.NewRepository(conn), commissions.PlatformFee{
		Type:  enums.FeeTypeFlat,
		Value: decimal.RequireFromString("1.00"),
	})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	svc, err := NewService(Deps{
		Tx:         client,
		Repo:       NewRepository(conn),
		Calculator: calc,
		Shops:      catalog.NewRepository(conn),
		Outbox:     emitter,
		Notifier:   notifications.NewDispatcher(emitter),
		Metrics:    metrics.NewLedgerMetrics(reg),
		Logger:     logger.Nop(),
	}, Config{
		ClearingPeriod: 7 * 24 * time.Hour,
		Retry:          retry.Policy{MaxAttempts: 1},
	})
	require.NoError(t, err)

	now := catalogtest.Epoch
	svc.WithClock(func() time.Time { return now })

	return &fixture{
		client:   client,
		conn:     conn,
		svc:      svc,
		shop:     catalogtest.Shop(t, conn, shopOpts...),
		category: catalogtest.Category(t, conn, nil, ""),
		now:      &now,
		registry: reg,
	}
}

func (f *fixture) advance(d time.Duration) {
	*f.now = f.now.Add(d)
}

// order inserts a processing order for f.shop with one item per gross amount.
func (f *fixture) order(t *testing.T, grossMinor ...int64) (models.Order, []models.OrderItem) {
	t.Helper()
	var subtotal int64
	for _, g := range grossMinor {
		subtotal += g
	}
	order := models.Order{
		ID:            uuid.New(),
		OrderNumber:   "TP-" + uuid.NewString()[:10],
		CustomerID:    "cus_1",
		Status:        enums.OrderStatusProcessing,
		Currency:      enums.CurrencyUSD,
		SubtotalMinor: subtotal,
		TotalMinor:    subtotal,
	}
	require.NoError(t, f.conn.Omit("Items", "Addresses").Create(&order).Error)

	items := make([]models.OrderItem, len(grossMinor))
	for i, g := range grossMinor {
		variant := catalogtest.Variant(t, f.conn, f.shop.ID, f.category.ID, "1.00", enums.CurrencyUSD)
		items[i] = models.OrderItem{
			ID:              uuid.New(),
			OrderID:         order.ID,
			ProductID:       variant.ProductID,
			VariantID:       variant.ID,
			ShopID:          f.shop.ID,
			CategoryID:      f.category.ID,
			Position:        i,
			Quantity:        1,
			UnitPriceMinor:  g,
			TotalPriceMinor: g,
			CommissionRate:  f.shop.CommissionRate,
			Status:          enums.OrderItemStatusPending,
		}
	}
	require.NoError(t, f.conn.Create(&items).Error)
	return order, items
}

func (f *fixture) confirm(t *testing.T, order models.Order, items []models.OrderItem) []models.Commission {
	t.Helper()
	var out []models.Commission
	require.NoError(t, f.client.WithTx(context.Background(), func(tx *gorm.DB) error {
		var err error
		out, err = f.svc.CreateCommissions(context.Background(), tx, &order, items)
		return err
	}))
	return out
}

func (f *fixture) deliver(t *testing.T, items []models.OrderItem, at time.Time) {
	t.Helper()
	for _, item := range items {
		require.NoError(t, f.conn.Model(&models.OrderItem{}).Where("id = ?", item.ID).
			Updates(map[string]any{"status": enums.OrderItemStatusDelivered, "delivered_at": at}).Error)
	}
}

// cleared creates an order with cleared commissions for each gross amount.
func (f *fixture) cleared(t *testing.T, grossMinor ...int64) []models.Commission {
	t.Helper()
	order, items := f.order(t, grossMinor...)
	created := f.confirm(t, order, items)
	for _, c := range created {
		_, err := f.svc.ClearCommission(context.Background(), c.ID)
		require.NoError(t, err)
	}
	return created
}

func (f *fixture) refund(t *testing.T, orderID uuid.UUID, amountMinor int64) *models.OrderRefund {
	t.Helper()
	r := &models.OrderRefund{
		ID:                uuid.New(),
		OrderID:           orderID,
		RefundAmountMinor: amountMinor,
		Currency:          enums.CurrencyUSD,
		Reason:            "damaged",
		Status:            enums.RefundStatusApproved,
		RequestedBy:       "cus_1",
	}
	require.NoError(t, f.conn.Create(r).Error)
	return r
}

func (f *fixture) commission(t *testing.T, id uuid.UUID) models.Commission {
	t.Helper()
	var c models.Commission
	require.NoError(t, f.conn.First(&c, "id = ?", id).Error)
	return c
}

func (f *fixture) countEvents(t *testing.T, event enums.OutboxEventType) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", event).Count(&n).Error)
	return n
}

// liveTransactions counts the payouts that have not failed and list the
// commission.
func (f *fixture) liveTransactions(t *testing.T, commissionID uuid.UUID) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.conn.Model(&models.PayoutTransaction{}).
		Joins("JOIN payouts ON payouts.id = payout_transactions.payout_id").
		Where("payout_transactions.commission_id = ? AND payouts.status <> ?", commissionID, enums.PayoutStatusFailed).
		Count(&n).Error)
	return n
}
