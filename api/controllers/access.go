package controllers

import (
	"context"

	"github.com/angelmondragon/tradepost/api/middleware"
	"github.com/angelmondragon/tradepost/pkg/db/models"
	"github.com/angelmondragon/tradepost/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradepost/pkg/errors"
)

// OrderAccess describes how the caller relates to an order.
type OrderAccess struct {
	Admin    bool
	Customer bool
	// Shop is set when the caller owns a shop selling at least one item.
	Shop bool
}

// Any reports whether the caller may see the order at all.
func (a OrderAccess) Any() bool {
	return a.Admin || a.Customer || a.Shop
}

// AccessFor resolves the caller's relation to order from the request context.
func AccessFor(ctx context.Context, order *models.Order) OrderAccess {
	var access OrderAccess
	if order == nil {
		return access
	}
	switch middleware.RoleFromContext(ctx) {
	case enums.MemberRoleAdmin, enums.MemberRoleSystem:
		access.Admin = true
	case enums.MemberRoleCustomer:
		access.Customer = order.CustomerID == middleware.UserIDFromContext(ctx)
	case enums.MemberRoleShopOwner:
		access.Shop = SellsIn(middleware.ShopIDFromContext(ctx), order)
	}
	return access
}

// SellsIn reports whether shopID sells at least one item of order.
func SellsIn(shopID string, order *models.Order) bool {
	if shopID == "" || order == nil {
		return false
	}
	for _, item := range order.Items {
		if item.ShopID.String() == shopID {
			return true
		}
	}
	return false
}

// RequireOrderAccess returns NotFound when the caller may not see the order,
// so order ids are not confirmed to outsiders.
func RequireOrderAccess(ctx context.Context, order *models.Order) (OrderAccess, error) {
	access := AccessFor(ctx, order)
	if !access.Any() {
		return access, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return access, nil
}
