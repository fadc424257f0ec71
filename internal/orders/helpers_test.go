package orders

import (
	"context"
	"sync"
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
	"github.com/angelmondragon/tradepost/internal/settlement"
	"github.com/angelmondragon/tradepost/pkg/db"
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

type stubInventory struct {
	mu       sync.Mutex
	shortage error
	checked  [][]inventory.Line
	commits  map[uuid.UUID][]inventory.Line
	released []uuid.UUID
}

func (s *stubInventory) CheckAvailability(_ context.Context, lines []inventory.Line) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checked = append(s.checked, lines)
	return s.shortage
}

func (s *stubInventory) Commit(_ context.Context, orderID uuid.UUID, lines []inventory.Line) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commits == nil {
		s.commits = map[uuid.UUID][]inventory.Line{}
	}
	s.commits[orderID] = lines
	return nil
}

func (s *stubInventory) Release(_ context.Context, orderID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.commits, orderID)
	s.released = append(s.released, orderID)
	return nil
}

type stubDirectory map[string]*identity.User

func (d stubDirectory) GetUser(_ context.Context, id string) (*identity.User, error) {
	if u, ok := d[id]; ok {
		return u, nil
	}
	return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "user %s not found", id)
}

type fixture struct {
	client    *db.Client
	conn      *gorm.DB
	svc       Service
	repo      Repository
	ledger    *settlement.Service
	inventory *stubInventory
	users     stubDirectory
	shop      models.Shop
	category  models.Category
	now       *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client := dbtest.Open(t)
	conn := client.DB()
	emitter := outbox.NewService(outbox.NewRepository(conn), logger.Nop())
	notifier := notifications.NewDispatcher(emitter)
	reg := prometheus.NewRegistry()
	ledgerMetrics := metrics.NewLedgerMetrics(reg)

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
	discountSvc.WithClock(clock)

	inv := &stubInventory{}
	users := stubDirectory{
		"cus_1": {ID: "cus_1", Email: "cus_1@example.com", Role: "customer", Active: true},
	}
	repo := NewRepository(conn)
	svc, err := NewService(Deps{
		Tx:        client,
		Repo:      repo,
		Catalog:   catalogRepo,
		Rates:     calc,
		Discounts: discountSvc,
		Ledger:    ledger,
		Inventory: inv,
		Identity:  users,
		Outbox:    emitter,
		Notifier:  notifier,
		Metrics:   ledgerMetrics,
		Logger:    logger.Nop(),
	}, Config{Retry: retry.Policy{MaxAttempts: 1}}, WithClock(clock))
	require.NoError(t, err)

	return &fixture{
		client:    client,
		conn:      conn,
		svc:       svc,
		repo:      repo,
		ledger:    ledger,
		inventory: inv,
		users:     users,
		shop:      catalogtest.Shop(t, conn),
		category:  catalogtest.Category(t, conn, nil, ""),
		now:       &now,
	}
}

func (f *fixture) advance(d time.Duration) {
	*f.now = f.now.Add(d)
}

func (f *fixture) variant(t *testing.T, price string) models.ProductVariant {
	t.Helper()
	return catalogtest.Variant(t, f.conn, f.shop.ID, f.category.ID, price, enums.CurrencyUSD)
}

func shippingAddress() AddressInput {
	return AddressInput{
		Type:       enums.AddressTypeShipping,
		Recipient:  "Ada Buyer",
		Line1:      "1 Market St",
		City:       "Springfield",
		PostalCode: "12345",
		Country:    "us",
	}
}

func usd(raw string) money.Money {
	return money.MustParse(raw, enums.CurrencyUSD)
}

// input orders one unit of each variant for cus_1.
func input(variants ...models.ProductVariant) CreateOrderInput {
	items := make([]ItemInput, len(variants))
	for i, v := range variants {
		items[i] = ItemInput{VariantID: v.ID, Quantity: 1}
	}
	return CreateOrderInput{
		CustomerID: "cus_1",
		Currency:   enums.CurrencyUSD,
		Items:      items,
		Addresses:  []AddressInput{shippingAddress()},
	}
}

func (f *fixture) create(t *testing.T, prices ...string) *models.Order {
	t.Helper()
	variants := make([]models.ProductVariant, len(prices))
	for i, p := range prices {
		variants[i] = f.variant(t, p)
	}
	order, err := f.svc.CreateOrder(context.Background(), input(variants...))
	require.NoError(t, err)
	return order
}

func (f *fixture) confirmed(t *testing.T, prices ...string) *models.Order {
	t.Helper()
	order := f.create(t, prices...)
	res, err := f.svc.ConfirmOrder(context.Background(), order.ID, "admin_1")
	require.NoError(t, err)
	return res.Order
}

func (f *fixture) commissions(t *testing.T, orderID uuid.UUID) []models.Commission {
	t.Helper()
	var rows []models.Commission
	require.NoError(t, f.conn.Where("order_id = ?", orderID).Order("calculated_at, id").Find(&rows).Error)
	return rows
}

func (f *fixture) countEvents(t *testing.T, event enums.OutboxEventType) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", event).Count(&n).Error)
	return n
}

func (f *fixture) reload(t *testing.T, id uuid.UUID) *models.Order {
	t.Helper()
	order, err := f.svc.GetOrder(context.Background(), id)
	require.NoError(t, err)
	return order
}

func requireCode(t *testing.T, err error, code pkgerrors.Code) {
	t.Helper()
	require.Error(t, err)
	require.Truef(t, pkgerrors.IsCode(err, code), "expected %s, got %v", code, err)
}
