package refunds

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/tradepost/pkg/db"
	"github.com/angelmondragon/tradepost/pkg/db/models"
	"github.com/angelmondragon/tradepost/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradepost/pkg/errors"
)

// openStatuses count against the refundable balance of an order.
var openStatuses = []enums.RefundStatus{
	enums.RefundStatusPending,
	enums.RefundStatusApproved,
	enums.RefundStatusProcessed,
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(conn *gorm.DB) *Repository {
	return &Repository{db: conn}
}

func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// LockOrder loads the order FOR UPDATE with its items, serializing refund
// requests against the same order.
func (r *Repository) LockOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE", Table: clause.Table{Name: "orders"}}).
		Preload("Items", func(q *gorm.DB) *gorm.DB { return q.Order("position ASC") }).
		First(&order, "orders.id = ?", id).Error
	if db.IsNotFound(err) {
		return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "order %s not found", id)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock order for refund")
	}
	return &order, nil
}

func (r *Repository) Create(ctx context.Context, refund *models.OrderRefund) error {
	if err := r.db.WithContext(ctx).Create(refund).Error; err != nil {
		return db.ConflictOnUnique(err, "insert refund")
	}
	return nil
}

func (r *Repository) Find(ctx context.Context, id uuid.UUID) (*models.OrderRefund, error) {
	return r.find(r.db.WithContext(ctx), id, "load refund")
}

func (r *Repository) Lock(ctx context.Context, id uuid.UUID) (*models.OrderRefund, error) {
	return r.find(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), id, "lock refund")
}

func (r *Repository) find(q *gorm.DB, id uuid.UUID, op string) (*models.OrderRefund, error) {
	var refund models.OrderRefund
	err := q.First(&refund, "id = ?", id).Error
	if db.IsNotFound(err) {
		return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "refund %s not found", id)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, op)
	}
	return &refund, nil
}

// ListByOrder returns an order's refunds oldest first.
func (r *Repository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.OrderRefund, error) {
	var rows []models.OrderRefund
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list refunds")
	}
	return rows, nil
}

// OpenAmount sums refunds that are not rejected, for the whole order or, with
// itemID set, for one item.
func (r *Repository) OpenAmount(ctx context.Context, orderID uuid.UUID, itemID *uuid.UUID) (int64, error) {
	q := r.db.WithContext(ctx).Model(&models.OrderRefund{}).
		Where("order_id = ? AND status IN ?", orderID, openStatuses)
	if itemID != nil {
		q = q.Where("order_item_id = ?", *itemID)
	}
	var total int64
	if err := q.Select("COALESCE(SUM(refund_amount_minor), 0)").Scan(&total).Error; err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum open refunds")
	}
	return total, nil
}

// Transition applies updates when the refund is still in one of from.
func (r *Repository) Transition(ctx context.Context, id uuid.UUID, from []enums.RefundStatus, updates map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.OrderRefund{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "update refund")
	}
	return res.RowsAffected == 1, nil
}
