// Package catalogtest seeds catalog rows for package tests.
package catalogtest

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradepost/pkg/db/models"
	"github.com/angelmondragon/tradepost/pkg/enums"
)

// Epoch is a whole-second UTC instant tests build their clocks from.
var Epoch = time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

// ShopOption tweaks a seeded shop.
type ShopOption func(*models.Shop)

func WithRate(rate string) ShopOption {
	return func(s *models.Shop) { s.CommissionRate = decimal.RequireFromString(rate) }
}

func WithMinimumPayout(minor int64) ShopOption {
	return func(s *models.Shop) { s.MinimumPayoutMinor = minor }
}

// Shop inserts an approved USD shop with a 10.00 rate.
func Shop(t *testing.T, conn *gorm.DB, opts ...ShopOption) models.Shop {
	t.Helper()
	shop := models.Shop{
		ID:             uuid.New(),
		OwnerID:        "owner_" + uuid.NewString()[:8],
		Name:           "shop",
		Status:         enums.ShopStatusApproved,
		CommissionRate: decimal.RequireFromString("10.00"),
		PayoutCurrency: enums.CurrencyUSD,
	}
	for _, opt := range opts {
		opt(&shop)
	}
	require.NoError(t, conn.Create(&shop).Error)
	return shop
}

// Category inserts a category under parent with an optional override.
func Category(t *testing.T, conn *gorm.DB, parent *uuid.UUID, override string) models.Category {
	t.Helper()
	category := models.Category{ID: uuid.New(), ParentID: parent, Name: "category"}
	if override != "" {
		rate := decimal.RequireFromString(override)
		category.CommissionRateOverride = &rate
	}
	require.NoError(t, conn.Create(&category).Error)
	return category
}

// AssignShopCategory creates a shop category with override and assigns shop to it.
func AssignShopCategory(t *testing.T, conn *gorm.DB, shopID uuid.UUID, name, override string) models.ShopCategory {
	t.Helper()
	sc := models.ShopCategory{ID: uuid.New(), Name: name}
	if override != "" {
		rate := decimal.RequireFromString(override)
		sc.CommissionRateOverride = &rate
	}
	require.NoError(t, conn.Create(&sc).Error)
	require.NoError(t, conn.Create(&models.ShopCategoryAssignment{ShopID: shopID, ShopCategoryID: sc.ID}).Error)
	return sc
}

// Variant inserts an active product and variant priced in major units.
func Variant(t *testing.T, conn *gorm.DB, shopID, categoryID uuid.UUID, price string, currency enums.Currency) models.ProductVariant {
	t.Helper()
	product := models.Product{
		ID:         uuid.New(),
		ShopID:     shopID,
		CategoryID: categoryID,
		Name:       "product",
		Status:     enums.ProductStatusActive,
	}
	require.NoError(t, conn.Create(&product).Error)

	minor := decimal.RequireFromString(price).Shift(currency.MinorUnits()).IntPart()
	variant := models.ProductVariant{
		ID:         uuid.New(),
		ProductID:  product.ID,
		SKU:        "sku-" + uuid.NewString()[:12],
		PriceMinor: minor,
		Currency:   currency,
		IsActive:   true,
	}
	require.NoError(t, conn.Omit("Product").Create(&variant).Error)
	variant.Product = &product
	return variant
}
