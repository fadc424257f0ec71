package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradepost/internal/commissions"
	"github.com/angelmondragon/tradepost/internal/discounts"
	"github.com/angelmondragon/tradepost/pkg/db/models"
	"github.com/angelmondragon/tradepost/pkg/enums"
	"github.com/angelmondragon/tradepost/pkg/money"
	"github.com/angelmondragon/tradepost/pkg/pagination"
)

// Repository defines persistence operations for orders and their children.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateOrder(ctx context.Context, order *models.Order) error
	FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	LockOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	ListCustomerOrders(ctx context.Context, customerID string, params pagination.Params) (*OrderList, error)
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
	UpdateOrder(ctx context.Context, id uuid.UUID, updates map[string]any) error
	SaveDiscount(ctx context.Context, order *models.Order) error
	UpdateItems(ctx context.Context, orderID uuid.UUID, itemIDs []uuid.UUID, from []enums.OrderItemStatus, updates map[string]any) (int64, error)
	AppendHistory(ctx context.Context, row *models.OrderStatusHistory) error
	ListHistory(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusHistory, error)
}

// Service is the order aggregate. Every operation runs in one transaction.
type Service interface {
	CreateOrder(ctx context.Context, input CreateOrderInput) (*models.Order, error)
	GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	ListOrders(ctx context.Context, customerID string, params pagination.Params) (*OrderList, error)
	ApplyCoupon(ctx context.Context, orderID uuid.UUID, code string) (*CouponResult, error)
	ConfirmOrder(ctx context.Context, orderID uuid.UUID, actor string) (*ConfirmResult, error)
	UpdateStatus(ctx context.Context, input StatusChangeInput) (*models.Order, error)
	UpdateItemStatus(ctx context.Context, input ItemStatusChangeInput) (*models.Order, error)
	ApplyRefund(ctx context.Context, tx *gorm.DB, input RefundApplication) (*models.Order, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// CatalogReader loads purchasable variants with their product and the shops
// selling them.
type CatalogReader interface {
	FindVariants(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.ProductVariant, error)
	FindShops(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Shop, error)
}

// RateResolver resolves and applies commission rates.
type RateResolver interface {
	RateFor(ctx context.Context, shopID, categoryID uuid.UUID) (decimal.Decimal, error)
	Calculate(gross money.Money, rate decimal.Decimal) (commissions.Breakdown, error)
}

// DiscountEvaluator is the part of the discount engine orders use.
type DiscountEvaluator interface {
	EvaluateCode(ctx context.Context, tx *gorm.DB, code string, snap discounts.OrderSnapshot) (discounts.Decision, error)
	EvaluateAutomatic(ctx context.Context, tx *gorm.DB, snap discounts.OrderSnapshot) (discounts.Decision, error)
	RecordUsage(ctx context.Context, tx *gorm.DB, order *models.Order) error
}

// CommissionLedger writes and voids commissions on behalf of orders.
type CommissionLedger interface {
	CreateCommissions(ctx context.Context, tx *gorm.DB, order *models.Order, items []models.OrderItem) ([]models.Commission, error)
	ListOrderCommissions(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) ([]models.Commission, error)
	VoidForOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (int64, error)
	VoidForItems(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, itemIDs []uuid.UUID) (int64, error)
}
