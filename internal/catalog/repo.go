// Package catalog reads the shop, category and product records the order and
// settlement flows depend on. It never writes catalog data.
package catalog

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/tradepost/internal/commissions"
	"github.com/angelmondragon/tradepost/pkg/db"
	"github.com/angelmondragon/tradepost/pkg/db/models"
	pkgerrors "github.com/angelmondragon/tradepost/pkg/errors"
)

// maxCategoryDepth stops the parent walk on malformed trees.
const maxCategoryDepth = 32

// Repository handles catalog lookups.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds a GORM DB to catalog reads.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

// FindVariants loads variants with their products, keyed by variant id.
// Missing ids are simply absent from the result.
func (r *Repository) FindVariants(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.ProductVariant, error) {
	out := make(map[uuid.UUID]models.ProductVariant, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var variants []models.ProductVariant
	if err := r.db.WithContext(ctx).
		Preload("Product").
		Where("id IN ?", ids).
		Find(&variants).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product variants")
	}
	for _, v := range variants {
		out[v.ID] = v
	}
	return out, nil
}

// FindShops loads shops keyed by id.
func (r *Repository) FindShops(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Shop, error) {
	out := make(map[uuid.UUID]models.Shop, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var shops []models.Shop
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&shops).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shops")
	}
	for _, s := range shops {
		out[s.ID] = s
	}
	return out, nil
}

// FindShop loads a shop by id.
func (r *Repository) FindShop(ctx context.Context, id uuid.UUID) (*models.Shop, error) {
	return r.findShop(ctx, id, false)
}

// LockShop loads the shop row FOR UPDATE. Payout builds serialize on it.
func (r *Repository) LockShop(ctx context.Context, id uuid.UUID) (*models.Shop, error) {
	return r.findShop(ctx, id, true)
}

func (r *Repository) findShop(ctx context.Context, id uuid.UUID, lock bool) (*models.Shop, error) {
	q := r.db.WithContext(ctx)
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var shop models.Shop
	if err := q.First(&shop, "id = ?", id).Error; err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "shop %s not found", id)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shop")
	}
	return &shop, nil
}

// ShopCategoryOverrides returns the non-null overrides of every shop category
// the shop is assigned to.
func (r *Repository) ShopCategoryOverrides(ctx context.Context, shopID uuid.UUID) ([]decimal.Decimal, error) {
	var rows []models.ShopCategory
	if err := r.db.WithContext(ctx).
		Joins("JOIN shop_category_assignments sca ON sca.shop_category_id = shop_categories.id").
		Where("sca.shop_id = ? AND shop_categories.commission_rate_override IS NOT NULL", shopID).
		Order("shop_categories.name").
		Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shop category overrides")
	}
	out := make([]decimal.Decimal, 0, len(rows))
	for _, row := range rows {
		if row.CommissionRateOverride != nil {
			out = append(out, *row.CommissionRateOverride)
		}
	}
	return out, nil
}

// CategoryChain returns the category and its ancestors, nearest first.
func (r *Repository) CategoryChain(ctx context.Context, categoryID uuid.UUID) ([]models.Category, error) {
	var chain []models.Category
	seen := map[uuid.UUID]struct{}{}
	next := &categoryID
	for next != nil {
		if _, ok := seen[*next]; ok || len(chain) >= maxCategoryDepth {
			return nil, pkgerrors.Newf(pkgerrors.CodeInternal, "category %s has a cyclic or too deep parent chain", categoryID)
		}
		seen[*next] = struct{}{}

		var category models.Category
		if err := r.db.WithContext(ctx).First(&category, "id = ?", *next).Error; err != nil {
			if db.IsNotFound(err) {
				return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "category %s not found", *next)
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load category")
		}
		chain = append(chain, category)
		next = category.ParentID
	}
	return chain, nil
}

// RateInputs gathers every override that applies to an item sold by shopID in categoryID.
func (r *Repository) RateInputs(ctx context.Context, shopID, categoryID uuid.UUID) (commissions.RateInputs, error) {
	shop, err := r.FindShop(ctx, shopID)
	if err != nil {
		return commissions.RateInputs{}, err
	}
	shopOverrides, err := r.ShopCategoryOverrides(ctx, shopID)
	if err != nil {
		return commissions.RateInputs{}, err
	}
	chain, err := r.CategoryChain(ctx, categoryID)
	if err != nil {
		return commissions.RateInputs{}, fmt.Errorf("resolve rate for category %s: %w", categoryID, err)
	}
	categoryOverrides := make([]*decimal.Decimal, len(chain))
	for i := range chain {
		categoryOverrides[i] = chain[i].CommissionRateOverride
	}
	return commissions.RateInputs{
		ShopCategoryOverrides: shopOverrides,
		CategoryOverrides:     categoryOverrides,
		ShopBase:              shop.CommissionRate,
	}, nil
}
