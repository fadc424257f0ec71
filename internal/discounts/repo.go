package discounts

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/tradepost/pkg/db"
	"github.com/angelmondragon/tradepost/pkg/db/models"
	pkgerrors "github.com/angelmondragon/tradepost/pkg/errors"
)

// Repository handles coupon, policy and usage persistence.
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

// NormalizeCode canonicalizes user-entered coupon codes.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// FindCouponByCode loads a coupon by its unique code.
func (r *Repository) FindCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	var coupon models.Coupon
	if err := r.db.WithContext(ctx).First(&coupon, "coupon_code = ?", NormalizeCode(code)).Error; err != nil {
		if db.IsNotFound(err) {
			return nil, couponError(pkgerrors.CodeCouponInvalid, ReasonUnknownCode, "coupon code not recognized")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load coupon")
	}
	return &coupon, nil
}

// LockCoupon loads the coupon row FOR UPDATE so usage checks and the usage
// insert serialize per coupon.
func (r *Repository) LockCoupon(ctx context.Context, id uuid.UUID) (*models.Coupon, error) {
	var coupon models.Coupon
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&coupon, "id = ?", id).Error; err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "coupon %s not found", id)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock coupon")
	}
	return &coupon, nil
}

// CountUsage derives usage counts from CouponUsage, ignoring excludeOrder.
func (r *Repository) CountUsage(ctx context.Context, couponID uuid.UUID, customerID string, excludeOrder uuid.UUID) (UsageCounts, error) {
	var counts UsageCounts
	base := func() *gorm.DB {
		return r.db.WithContext(ctx).
			Model(&models.CouponUsage{}).
			Where("coupon_id = ? AND order_id <> ?", couponID, excludeOrder)
	}
	if err := base().Count(&counts.Total).Error; err != nil {
		return UsageCounts{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count coupon usage")
	}
	if err := base().Where("customer_id = ?", customerID).Count(&counts.Customer).Error; err != nil {
		return UsageCounts{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count customer coupon usage")
	}
	return counts, nil
}

// FindUsage returns the usage row of (coupon, order), or nil.
func (r *Repository) FindUsage(ctx context.Context, couponID, orderID uuid.UUID) (*models.CouponUsage, error) {
	var usage models.CouponUsage
	err := r.db.WithContext(ctx).
		Where("coupon_id = ? AND order_id = ?", couponID, orderID).
		Take(&usage).Error
	if db.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load coupon usage")
	}
	return &usage, nil
}

// InsertUsage writes the immutable usage row.
func (r *Repository) InsertUsage(ctx context.Context, usage *models.CouponUsage) error {
	if usage.ID == uuid.Nil {
		usage.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(usage).Error; err != nil {
		return db.ConflictOnUnique(err, "insert coupon usage")
	}
	return nil
}

// IncrementDaily upserts the per-day redemption aggregate.
func (r *Repository) IncrementDaily(ctx context.Context, usage models.CouponUsage) error {
	row := models.DiscountUsageDaily{
		CouponID:            usage.CouponID,
		UsageDate:           usage.UsedAt.UTC().Format(time.DateOnly),
		Currency:            usage.Currency,
		Redemptions:         1,
		DiscountAmountMinor: usage.DiscountAmountMinor,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "coupon_id"}, {Name: "usage_date"}},
		DoUpdates: clause.Assignments(map[string]any{
			"redemptions":           gorm.Expr("discount_usage_daily.redemptions + 1"),
			"discount_amount_minor": gorm.Expr("discount_usage_daily.discount_amount_minor + ?", usage.DiscountAmountMinor),
			"updated_at":            time.Now().UTC(),
		}),
	}).Create(&row).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upsert daily coupon usage")
	}
	return nil
}

// ActivePolicies returns the active policies of the given shops.
func (r *Repository) ActivePolicies(ctx context.Context, shopIDs []uuid.UUID) ([]models.DiscountPolicy, error) {
	if len(shopIDs) == 0 {
		return nil, nil
	}
	var policies []models.DiscountPolicy
	if err := r.db.WithContext(ctx).
		Where("shop_id IN ? AND is_active = ?", shopIDs, true).
		Order("priority DESC, created_at ASC").
		Find(&policies).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load discount policies")
	}
	return policies, nil
}
