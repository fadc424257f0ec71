package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/tradepost/pkg/db"
	"github.com/angelmondragon/tradepost/pkg/db/models"
	"github.com/angelmondragon/tradepost/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradepost/pkg/errors"
	"github.com/angelmondragon/tradepost/pkg/pagination"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(conn *gorm.DB) Repository {
	return &repository{db: conn}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func itemsInOrder(q *gorm.DB) *gorm.DB {
	return q.Order("position ASC")
}

func (r *repository) CreateOrder(ctx context.Context, order *models.Order) error {
	items, addresses := order.Items, order.Addresses
	conn := r.db.WithContext(ctx)
	if err := conn.Omit("Items", "Addresses").Create(order).Error; err != nil {
		return db.ConflictOnUnique(err, "insert order")
	}
	if len(items) > 0 {
		if err := conn.Create(&items).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert order items")
		}
	}
	if len(addresses) > 0 {
		if err := conn.Create(&addresses).Error; err != nil {
			return db.ConflictOnUnique(err, "insert order addresses")
		}
	}
	order.Items, order.Addresses = items, addresses
	return nil
}

func (r *repository) FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return r.find(r.db.WithContext(ctx), id, "load order")
}

// LockOrder loads the order FOR UPDATE. Its items are read in the same
// transaction, so the order row lock covers them.
func (r *repository) LockOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return r.find(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE", Table: clause.Table{Name: "orders"}}), id, "lock order")
}

func (r *repository) find(q *gorm.DB, id uuid.UUID, op string) (*models.Order, error) {
	var order models.Order
	err := q.Preload("Items", itemsInOrder).
		Preload("Addresses", func(q *gorm.DB) *gorm.DB { return q.Order("address_type ASC") }).
		First(&order, "orders.id = ?", id).Error
	if db.IsNotFound(err) {
		return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "order %s not found", id)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, op)
	}
	return &order, nil
}

func (r *repository) ListCustomerOrders(ctx context.Context, customerID string, params pagination.Params) (*OrderList, error) {
	cursor, err := params.Decode()
	if err != nil {
		return nil, err
	}

	query := r.db.WithContext(ctx).Model(&models.Order{}).Where("customer_id = ?", customerID)
	if cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
	}
	var rows []models.Order
	if err := query.Preload("Items", itemsInOrder).
		Order("created_at DESC, id DESC").
		Limit(params.Fetch()).
		Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}

	rows, next := pagination.Trim(rows, params, func(o models.Order) pagination.Key {
		return pagination.Key{CreatedAt: o.CreatedAt, ID: o.ID}
	})
	list := &OrderList{Orders: make([]OrderSummary, 0, len(rows)), NextCursor: next}
	for _, o := range rows {
		list.Orders = append(list.Orders, OrderSummary{
			ID:          o.ID,
			OrderNumber: o.OrderNumber,
			Status:      o.Status,
			Currency:    o.Currency,
			TotalMinor:  o.TotalMinor,
			ItemCount:   len(o.Items),
			CreatedAt:   o.CreatedAt,
		})
	}
	return list, nil
}

func (r *repository) UpdateOrder(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	if err := r.db.WithContext(ctx).Model(&models.Order{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order")
	}
	return nil
}

// ListPendingBefore returns up to limit ids of pending orders created before
// cutoff, oldest first.
func (r *repository) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("status = ? AND created_at < ?", enums.OrderStatusPending, cutoff).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Pluck("id", &ids).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stale pending orders")
	}
	return ids, nil
}

// SaveDiscount writes the discount fields and total of order.
func (r *repository) SaveDiscount(ctx context.Context, order *models.Order) error {
	if err := r.db.WithContext(ctx).Model(&models.Order{ID: order.ID}).
		Select("discount_minor", "total_minor", "coupon_id", "discount_sources", "updated_at").
		Updates(order).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save order discount")
	}
	return nil
}

// UpdateItems updates the order's items currently in one of the from
// statuses, limited to itemIDs when any are given.
func (r *repository) UpdateItems(ctx context.Context, orderID uuid.UUID, itemIDs []uuid.UUID, from []enums.OrderItemStatus, updates map[string]any) (int64, error) {
	q := r.db.WithContext(ctx).Model(&models.OrderItem{}).Where("order_id = ? AND status IN ?", orderID, from)
	if len(itemIDs) > 0 {
		q = q.Where("id IN ?", itemIDs)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "update order items")
	}
	return res.RowsAffected, nil
}

func (r *repository) AppendHistory(ctx context.Context, row *models.OrderStatusHistory) error {
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append order status history")
	}
	return nil
}

func (r *repository) ListHistory(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusHistory, error) {
	var rows []models.OrderStatusHistory
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list order status history")
	}
	return rows, nil
}
