package settlement

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
)

// Repository handles commission, payout and adjustment persistence.
type Repository struct {
	db *gorm.DB
}

func NewRepository(conn *gorm.DB) *Repository {
	return &Repository{db: conn}
}

// WithTx returns a repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

func (r *Repository) locked(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"})
}

// LockCommission loads a commission FOR UPDATE.
func (r *Repository) LockCommission(ctx context.Context, id uuid.UUID) (*models.Commission, error) {
	var c models.Commission
	if err := r.locked(ctx).First(&c, "id = ?", id).Error; err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "commission %s not found", id)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock commission")
	}
	return &c, nil
}

// LockCommissionByItem loads the commission of an order item FOR UPDATE, or nil.
func (r *Repository) LockCommissionByItem(ctx context.Context, itemID uuid.UUID) (*models.Commission, error) {
	var c models.Commission
	err := r.locked(ctx).Take(&c, "order_item_id = ?", itemID).Error
	if db.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock item commission")
	}
	return &c, nil
}

// ListByOrder returns an order's commissions in item order.
func (r *Repository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Commission, error) {
	var rows []models.Commission
	if err := r.db.WithContext(ctx).
		Joins("JOIN order_items oi ON oi.id = commissions.order_item_id").
		Where("commissions.order_id = ?", orderID).
		Order("oi.position ASC").
		Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list order commissions")
	}
	return rows, nil
}

// CreateCommissions inserts new commission rows.
func (r *Repository) CreateCommissions(ctx context.Context, rows []models.Commission) error {
	if len(rows) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return db.ConflictOnUnique(err, "insert commissions")
	}
	return nil
}

// TransitionCommission moves a commission from one status to another,
// reporting whether the row was still in from.
func (r *Repository) TransitionCommission(ctx context.Context, id uuid.UUID, from []enums.CommissionStatus, updates map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Commission{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "update commission")
	}
	return res.RowsAffected == 1, nil
}

// ClearableCommissions lists pending unclaimed commissions whose item was
// delivered at or before deliveredBefore.
func (r *Repository) ClearableCommissions(ctx context.Context, deliveredBefore time.Time, limit int) ([]models.Commission, error) {
	var rows []models.Commission
	if err := r.db.WithContext(ctx).
		Joins("JOIN order_items oi ON oi.id = commissions.order_item_id").
		Where("commissions.status = ? AND commissions.payout_id IS NULL", enums.CommissionStatusPending).
		Where("oi.status = ? AND oi.delivered_at IS NOT NULL AND oi.delivered_at <= ?", enums.OrderItemStatusDelivered, deliveredBefore).
		Order("commissions.calculated_at ASC, commissions.id ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list clearable commissions")
	}
	return rows, nil
}

// PayableCommissions selects the cleared, unclaimed commissions of a shop
// calculated at or before cutoff.
func (r *Repository) PayableCommissions(ctx context.Context, shopID uuid.UUID, currency enums.Currency, cutoff time.Time) ([]models.Commission, error) {
	var rows []models.Commission
	if err := r.db.WithContext(ctx).
		Where("shop_id = ? AND currency = ? AND status = ? AND payout_id IS NULL AND calculated_at <= ?",
			shopID, currency, enums.CommissionStatusCleared, cutoff).
		Order("calculated_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "select payable commissions")
	}
	return rows, nil
}

// ShopsWithPayables lists shops holding cleared unclaimed commissions.
func (r *Repository) ShopsWithPayables(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := r.db.WithContext(ctx).
		Model(&models.Commission{}).
		Where("status = ? AND payout_id IS NULL AND calculated_at <= ?", enums.CommissionStatusCleared, cutoff).
		Distinct().
		Pluck("shop_id", &ids).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list shops with payables")
	}
	return ids, nil
}

// ClaimCommission attaches a commission to a payout only if no other payout
// holds it. A false result means another build won the race.
func (r *Repository) ClaimCommission(ctx context.Context, commissionID, payoutID uuid.UUID, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Commission{}).
		Where("id = ? AND payout_id IS NULL AND status = ?", commissionID, enums.CommissionStatusCleared).
		Updates(map[string]any{"payout_id": payoutID, "updated_at": now})
	if res.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "claim commission")
	}
	return res.RowsAffected == 1, nil
}

// PendingAdjustments lists a shop's unabsorbed offsets in creation order.
func (r *Repository) PendingAdjustments(ctx context.Context, shopID uuid.UUID, currency enums.Currency) ([]models.CommissionAdjustment, error) {
	var rows []models.CommissionAdjustment
	if err := r.db.WithContext(ctx).
		Where("shop_id = ? AND currency = ? AND status = ? AND payout_id IS NULL", shopID, currency, enums.AdjustmentStatusPendingOffset).
		Order("created_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list pending adjustments")
	}
	return rows, nil
}

// ClaimAdjustment attaches an unabsorbed adjustment to a payout.
func (r *Repository) ClaimAdjustment(ctx context.Context, adjustmentID, payoutID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.CommissionAdjustment{}).
		Where("id = ? AND payout_id IS NULL AND status = ?", adjustmentID, enums.AdjustmentStatusPendingOffset).
		Update("payout_id", payoutID)
	if res.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "claim adjustment")
	}
	return res.RowsAffected == 1, nil
}

// FindAdjustment returns the adjustment for (commission, refund), or nil.
func (r *Repository) FindAdjustment(ctx context.Context, commissionID, refundID uuid.UUID) (*models.CommissionAdjustment, error) {
	var adj models.CommissionAdjustment
	err := r.db.WithContext(ctx).Take(&adj, "commission_id = ? AND refund_id = ?", commissionID, refundID).Error
	if db.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load adjustment")
	}
	return &adj, nil
}

// CreateAdjustment inserts a negative offset entry.
func (r *Repository) CreateAdjustment(ctx context.Context, adj *models.CommissionAdjustment) error {
	if err := r.db.WithContext(ctx).Create(adj).Error; err != nil {
		return db.ConflictOnUnique(err, "insert commission adjustment")
	}
	return nil
}

// CreatePayout inserts the payout with its transactions.
func (r *Repository) CreatePayout(ctx context.Context, payout *models.Payout) error {
	txs := payout.Transactions
	payout.Transactions = nil
	if err := r.db.WithContext(ctx).Create(payout).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert payout")
	}
	payout.Transactions = txs
	return nil
}

// CreatePayoutTransactions inserts the per-commission payout rows.
func (r *Repository) CreatePayoutTransactions(ctx context.Context, rows []models.PayoutTransaction) error {
	if len(rows) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return db.ConflictOnUnique(err, "insert payout transactions")
	}
	return nil
}

// LockPayout loads a payout FOR UPDATE.
func (r *Repository) LockPayout(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	var p models.Payout
	if err := r.locked(ctx).First(&p, "id = ?", id).Error; err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "payout %s not found", id)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock payout")
	}
	return &p, nil
}

// FindPayout loads a payout with its transactions.
func (r *Repository) FindPayout(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	var p models.Payout
	if err := r.db.WithContext(ctx).
		Preload("Transactions", func(q *gorm.DB) *gorm.DB { return q.Order("created_at ASC, id ASC") }).
		First(&p, "id = ?", id).Error; err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "payout %s not found", id)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payout")
	}
	return &p, nil
}

// UpdatePayout applies column updates to a payout.
func (r *Repository) UpdatePayout(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	if err := r.db.WithContext(ctx).Model(&models.Payout{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payout")
	}
	return nil
}

// CountPayoutTransactions counts the commissions a payout carries.
func (r *Repository) CountPayoutTransactions(ctx context.Context, payoutID uuid.UUID) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.PayoutTransaction{}).Where("payout_id = ?", payoutID).Count(&n).Error; err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count payout transactions")
	}
	return n, nil
}

// PayClaimedCommissions moves every cleared commission held by payoutID to paid_out.
func (r *Repository) PayClaimedCommissions(ctx context.Context, payoutID uuid.UUID, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Commission{}).
		Where("payout_id = ? AND status = ?", payoutID, enums.CommissionStatusCleared).
		Updates(map[string]any{"status": enums.CommissionStatusPaidOut, "paid_out_at": now, "updated_at": now})
	if res.Error != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "mark commissions paid out")
	}
	return res.RowsAffected, nil
}

// OffsetClaimedAdjustments marks the adjustments absorbed by payoutID as offset.
func (r *Repository) OffsetClaimedAdjustments(ctx context.Context, payoutID uuid.UUID, now time.Time) error {
	if err := r.db.WithContext(ctx).
		Model(&models.CommissionAdjustment{}).
		Where("payout_id = ? AND status = ?", payoutID, enums.AdjustmentStatusPendingOffset).
		Updates(map[string]any{"status": enums.AdjustmentStatusOffset, "offset_at": now}).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "offset adjustments")
	}
	return nil
}

// ReleaseClaims detaches commissions and adjustments from a failed payout.
func (r *Repository) ReleaseClaims(ctx context.Context, payoutID uuid.UUID, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Commission{}).
		Where("payout_id = ? AND status = ?", payoutID, enums.CommissionStatusCleared).
		Updates(map[string]any{"payout_id": nil, "updated_at": now})
	if res.Error != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "release commission claims")
	}
	if err := r.db.WithContext(ctx).
		Model(&models.CommissionAdjustment{}).
		Where("payout_id = ? AND status = ?", payoutID, enums.AdjustmentStatusPendingOffset).
		Update("payout_id", nil).Error; err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release adjustment claims")
	}
	return res.RowsAffected, nil
}

// VoidOrderCommissions voids the unclaimed pending or cleared commissions of
// an order, limited to itemIDs when any are given.
func (r *Repository) VoidOrderCommissions(ctx context.Context, orderID uuid.UUID, itemIDs []uuid.UUID, now time.Time) (int64, error) {
	q := r.db.WithContext(ctx).
		Model(&models.Commission{}).
		Where("order_id = ? AND status IN ? AND payout_id IS NULL", orderID,
			[]enums.CommissionStatus{enums.CommissionStatusPending, enums.CommissionStatusCleared})
	if len(itemIDs) > 0 {
		q = q.Where("order_item_id IN ?", itemIDs)
	}
	res := q.Updates(map[string]any{"status": enums.CommissionStatusVoided, "voided_at": now, "updated_at": now})
	if res.Error != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "void order commissions")
	}
	return res.RowsAffected, nil
}
