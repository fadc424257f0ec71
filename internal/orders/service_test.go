package orders

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradepost/internal/catalog/catalogtest"
	"github.com/angelmondragon/tradepost/pkg/db/models"
	"github.com/angelmondragon/tradepost/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradepost/pkg/errors"
	"github.com/angelmondragon/tradepost/pkg/identity"
	"github.com/angelmondragon/tradepost/pkg/money"
	"github.com/angelmondragon/tradepost/pkg/pagination"
)

func seedCoupon(t *testing.T, conn *gorm.DB) models.Coupon {
	t.Helper()
	maxDiscount := decimal.RequireFromString("15")
	c := models.Coupon{
		ID:                    uuid.New(),
		Code:                  "SPRING10",
		Name:                  "spring",
		DiscountType:          enums.DiscountTypePercentage,
		DiscountValue:         decimal.RequireFromString("10"),
		MinimumOrderAmount:    decimal.Zero,
		MaximumDiscountAmount: &maxDiscount,
		IsActive:              true,
		StartsAt:              catalogtest.Epoch.Add(-24 * time.Hour),
	}
	require.NoError(t, conn.Create(&c).Error)
	return c
}

func TestCreateOrderSnapshotsPricesAndRates(t *testing.T) {
	f := newFixture(t)
	v := f.variant(t, "25.00")

	in := input(v)
	in.Items[0].Quantity = 2
	in.Tax = usd("4.00")
	order, err := f.svc.CreateOrder(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, enums.OrderStatusPending, order.Status)
	assert.Regexp(t, `^TP-20260302-[0-9A-F]{10}$`, order.OrderNumber)
	assert.Equal(t, int64(5000), order.SubtotalMinor)
	assert.Equal(t, int64(400), order.TaxMinor)
	assert.Equal(t, int64(5400), order.TotalMinor)

	require.Len(t, order.Items, 1)
	item := order.Items[0]
	assert.Equal(t, int64(2500), item.UnitPriceMinor)
	assert.Equal(t, int64(5000), item.TotalPriceMinor)
	assert.True(t, item.CommissionRate.Equal(decimal.RequireFromString("10")))
	assert.Equal(t, int64(500), item.CommissionAmountMinor)
	assert.Equal(t, f.shop.ID, item.ShopID)

	stored := f.reload(t, order.ID)
	require.Len(t, stored.Addresses, 1)
	assert.Equal(t, "US", stored.Addresses[0].Country)

	history, err := f.repo.ListHistory(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Nil(t, history[0].FromStatus)
	assert.Equal(t, enums.OrderStatusPending, history[0].ToStatus)

	require.Len(t, f.inventory.checked, 1)
	assert.Equal(t, 2, f.inventory.checked[0][0].Quantity)
	assert.Equal(t, int64(1), f.countEvents(t, enums.EventOrderCreated))
}

func TestCreateOrderValidation(t *testing.T) {
	f := newFixture(t)
	v := f.variant(t, "10.00")

	cases := map[string]struct {
		mutate func(*CreateOrderInput)
		code   pkgerrors.Code
	}{
		"no items":         {func(in *CreateOrderInput) { in.Items = nil }, pkgerrors.CodeValidation},
		"zero quantity":    {func(in *CreateOrderInput) { in.Items[0].Quantity = 0 }, pkgerrors.CodeValidation},
		"missing customer": {func(in *CreateOrderInput) { in.CustomerID = " " }, pkgerrors.CodeValidation},
		"bad currency":     {func(in *CreateOrderInput) { in.Currency = "XXX" }, pkgerrors.CodeValidation},
		"no shipping address": {func(in *CreateOrderInput) {
			in.Addresses = nil
		}, pkgerrors.CodeValidation},
		"incomplete address": {func(in *CreateOrderInput) { in.Addresses[0].City = "" }, pkgerrors.CodeValidation},
		"tax currency": {func(in *CreateOrderInput) {
			in.Tax = money.MustParse("1.00", enums.CurrencyEUR)
		}, pkgerrors.CodeCurrencyMismatch},
		"negative shipping": {func(in *CreateOrderInput) { in.Shipping = usd("-1.00") }, pkgerrors.CodeValidation},
		"unknown variant": {func(in *CreateOrderInput) {
			in.Items[0].VariantID = uuid.New()
		}, pkgerrors.CodeValidation},
		"unknown customer": {func(in *CreateOrderInput) { in.CustomerID = "cus_missing" }, pkgerrors.CodeNotFound},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			in := input(v)
			tc.mutate(&in)
			_, err := f.svc.CreateOrder(context.Background(), in)
			requireCode(t, err, tc.code)
		})
	}

	var n int64
	require.NoError(t, f.conn.Model(&models.Order{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestCreateOrderRejectsUnsellableLines(t *testing.T) {
	f := newFixture(t)

	eur := catalogtest.Variant(t, f.conn, f.shop.ID, f.category.ID, "10.00", enums.CurrencyEUR)
	_, err := f.svc.CreateOrder(context.Background(), input(eur))
	requireCode(t, err, pkgerrors.CodeCurrencyMismatch)

	inactive := f.variant(t, "10.00")
	require.NoError(t, f.conn.Model(&models.ProductVariant{}).Where("id = ?", inactive.ID).Update("is_active", false).Error)
	_, err = f.svc.CreateOrder(context.Background(), input(inactive))
	requireCode(t, err, pkgerrors.CodeValidation)

	suspended := catalogtest.Shop(t, f.conn, func(s *models.Shop) { s.Status = enums.ShopStatusSuspended })
	closed := catalogtest.Variant(t, f.conn, suspended.ID, f.category.ID, "10.00", enums.CurrencyUSD)
	_, err = f.svc.CreateOrder(context.Background(), input(closed))
	requireCode(t, err, pkgerrors.CodeValidation)

	f.users["cus_1"].Active = false
	_, err = f.svc.CreateOrder(context.Background(), input(f.variant(t, "10.00")))
	requireCode(t, err, pkgerrors.CodeValidation)
}

func TestCreateOrderStopsOnInventoryShortage(t *testing.T) {
	f := newFixture(t)
	f.inventory.shortage = pkgerrors.New(pkgerrors.CodeInventoryUnavailable, "insufficient stock")

	_, err := f.svc.CreateOrder(context.Background(), input(f.variant(t, "10.00")))
	requireCode(t, err, pkgerrors.CodeInventoryUnavailable)
	assert.Zero(t, f.countEvents(t, enums.EventOrderCreated))
}

func TestCreateOrderAppliesAutomaticPolicies(t *testing.T) {
	f := newFixture(t)
	policy := models.DiscountPolicy{
		ID:         uuid.New(),
		ShopID:     f.shop.ID,
		Name:       "members",
		PolicyType: enums.PolicyTypeCustomerGroup,
		Conditions: models.PolicyConditions{CustomerGroups: []string{"vip"}},
		Discount:   models.PolicyDiscount{Type: enums.DiscountTypePercentage, Value: decimal.RequireFromString("5")},
		Priority:   10,
		IsActive:   true,
	}
	require.NoError(t, f.conn.Create(&policy).Error)

	plain := f.create(t, "100.00")
	assert.Zero(t, plain.DiscountMinor)

	f.users["cus_1"].Groups = []string{"vip"}
	vip := f.create(t, "100.00")
	assert.Equal(t, int64(500), vip.DiscountMinor)
	assert.Equal(t, int64(9500), vip.TotalMinor)
	assert.Nil(t, vip.CouponID)
	require.Len(t, vip.DiscountSources, 1)
	assert.Equal(t, policy.ID, vip.DiscountSources[0].ID)

	stored := f.reload(t, vip.ID)
	require.Len(t, stored.DiscountSources, 1)
	assert.Equal(t, int64(500), stored.DiscountSources[0].Amount)
}

func TestCheckoutWithCouponTaxAndShipping(t *testing.T) {
	f := newFixture(t)
	coupon := seedCoupon(t, f.conn)

	in := input(f.variant(t, "100.00"))
	in.Tax = usd("8.00")
	in.Shipping = usd("5.00")
	order, err := f.svc.CreateOrder(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, int64(11300), order.TotalMinor)

	res, err := f.svc.ApplyCoupon(context.Background(), order.ID, " spring10 ")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), res.Decision.Amount.Minor())
	assert.Equal(t, int64(1000), res.Order.DiscountMinor)
	assert.Equal(t, "103.00 USD", res.Order.Total().String())
	require.NotNil(t, res.Order.CouponID)
	assert.Equal(t, coupon.ID, *res.Order.CouponID)

	stored := f.reload(t, order.ID)
	assert.Equal(t, int64(10300), stored.TotalMinor)
	require.NotNil(t, stored.CouponID)
	assert.Equal(t, int64(1), f.countEvents(t, enums.EventOrderDiscountApplied))

	confirmed, err := f.svc.ConfirmOrder(context.Background(), order.ID, "admin_1")
	require.NoError(t, err)
	require.Len(t, confirmed.Commissions, 1)
	c := confirmed.Commissions[0]
	assert.Equal(t, int64(10000), c.GrossMinor)
	assert.Equal(t, int64(1000), c.CommissionMinor)
	assert.Equal(t, int64(100), c.PlatformFeeMinor)
	assert.Equal(t, int64(8900), c.NetMinor)

	var usage int64
	require.NoError(t, f.conn.Model(&models.CouponUsage{}).Where("order_id = ?", order.ID).Count(&usage).Error)
	assert.Equal(t, int64(1), usage)
}

func TestApplyCouponCapsDiscount(t *testing.T) {
	f := newFixture(t)
	seedCoupon(t, f.conn)
	order := f.create(t, "200.00")

	res, err := f.svc.ApplyCoupon(context.Background(), order.ID, "SPRING10")
	require.NoError(t, err)
	assert.Equal(t, int64(1500), res.Order.DiscountMinor)
	assert.Equal(t, int64(18500), res.Order.TotalMinor)
}

func TestApplyCouponRequiresPendingOrder(t *testing.T) {
	f := newFixture(t)
	seedCoupon(t, f.conn)
	order := f.confirmed(t, "100.00")

	_, err := f.svc.ApplyCoupon(context.Background(), order.ID, "SPRING10")
	requireCode(t, err, pkgerrors.CodeInvalidState)

	_, err = f.svc.ApplyCoupon(context.Background(), f.create(t, "10.00").ID, "NOPE")
	requireCode(t, err, pkgerrors.CodeCouponInvalid)
}

func TestConfirmOrderIsIdempotent(t *testing.T) {
	f := newFixture(t)
	seedCoupon(t, f.conn)
	order := f.create(t, "30.00", "20.00")
	_, err := f.svc.ApplyCoupon(context.Background(), order.ID, "SPRING10")
	require.NoError(t, err)

	first, err := f.svc.ConfirmOrder(context.Background(), order.ID, "admin_1")
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusProcessing, first.Order.Status)
	require.NotNil(t, first.Order.ConfirmedAt)
	require.Len(t, first.Commissions, 2)
	require.Contains(t, f.inventory.commits, order.ID)

	f.advance(time.Minute)
	second, err := f.svc.ConfirmOrder(context.Background(), order.ID, "admin_1")
	require.NoError(t, err)
	require.Len(t, second.Commissions, 2)
	assert.ElementsMatch(t,
		[]uuid.UUID{first.Commissions[0].ID, first.Commissions[1].ID},
		[]uuid.UUID{second.Commissions[0].ID, second.Commissions[1].ID})
	assert.True(t, second.Order.ConfirmedAt.Equal(*first.Order.ConfirmedAt))

	var usage int64
	require.NoError(t, f.conn.Model(&models.CouponUsage{}).Where("order_id = ?", order.ID).Count(&usage).Error)
	assert.Equal(t, int64(1), usage)
	assert.Equal(t, int64(1), f.countEvents(t, enums.EventOrderConfirmed))
	assert.Equal(t, int64(1), f.countEvents(t, enums.EventCommissionsCreated))
}

func TestConfirmOrderRejectsCancelledOrder(t *testing.T) {
	f := newFixture(t)
	order := f.create(t, "10.00")
	_, err := f.svc.UpdateStatus(context.Background(), StatusChangeInput{
		OrderID: order.ID, Target: enums.OrderStatusCancelled, Actor: "cus_1",
	})
	require.NoError(t, err)

	_, err = f.svc.ConfirmOrder(context.Background(), order.ID, "admin_1")
	requireCode(t, err, pkgerrors.CodeInvalidTransition)
	assert.Empty(t, f.inventory.commits)

	_, err = f.svc.ConfirmOrder(context.Background(), uuid.New(), "admin_1")
	requireCode(t, err, pkgerrors.CodeNotFound)
}

func TestConfirmOrderReleasesInventoryWhenCouponIsExhausted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	coupon := seedCoupon(t, f.conn)
	require.NoError(t, f.conn.Model(&models.Coupon{}).Where("id = ?", coupon.ID).Update("usage_limit", 1).Error)

	first, second := f.create(t, "40.00"), f.create(t, "60.00")
	for _, id := range []uuid.UUID{first.ID, second.ID} {
		_, err := f.svc.ApplyCoupon(ctx, id, "SPRING10")
		require.NoError(t, err)
	}

	_, err := f.svc.ConfirmOrder(ctx, first.ID, "admin_1")
	require.NoError(t, err)
	_, err = f.svc.ConfirmOrder(ctx, second.ID, "admin_1")
	requireCode(t, err, pkgerrors.CodeCouponInvalid)

	stored := f.reload(t, second.ID)
	assert.Equal(t, enums.OrderStatusPending, stored.Status)
	assert.Nil(t, stored.ConfirmedAt)
	assert.Empty(t, f.commissions(t, second.ID))
	assert.Contains(t, f.inventory.commits, first.ID)
	assert.NotContains(t, f.inventory.commits, second.ID)
	assert.Equal(t, []uuid.UUID{second.ID}, f.inventory.released)
	assert.Equal(t, int64(1), f.countEvents(t, enums.EventOrderConfirmed))
}

func TestConfirmOrderRefusesCouponSwitchedOffAfterApply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	coupon := seedCoupon(t, f.conn)
	order := f.create(t, "50.00")
	_, err := f.svc.ApplyCoupon(ctx, order.ID, "SPRING10")
	require.NoError(t, err)

	require.NoError(t, f.conn.Model(&models.Coupon{}).Where("id = ?", coupon.ID).Update("is_active", false).Error)
	_, err = f.svc.ConfirmOrder(ctx, order.ID, "admin_1")
	requireCode(t, err, pkgerrors.CodeCouponInvalid)

	assert.Equal(t, enums.OrderStatusPending, f.reload(t, order.ID).Status)
	assert.NotContains(t, f.inventory.commits, order.ID)
	var usage int64
	require.NoError(t, f.conn.Model(&models.CouponUsage{}).Count(&usage).Error)
	assert.Zero(t, usage)
}

func TestConcurrentConfirmationsCreateOneCommissionSet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedCoupon(t, f.conn)
	order := f.create(t, "30.00", "20.00")
	_, err := f.svc.ApplyCoupon(ctx, order.ID, "SPRING10")
	require.NoError(t, err)

	const callers = 4
	results := make([]*ConfirmResult, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.ConfirmOrder(ctx, order.ID, "admin_1")
		}(i)
	}
	wg.Wait()

	ids := map[uuid.UUID]struct{}{}
	for i := range results {
		require.NoError(t, errs[i])
		require.Len(t, results[i].Commissions, 2)
		for _, c := range results[i].Commissions {
			ids[c.ID] = struct{}{}
		}
	}
	assert.Len(t, ids, 2)
	assert.Len(t, f.commissions(t, order.ID), 2)

	var usage int64
	require.NoError(t, f.conn.Model(&models.CouponUsage{}).Where("order_id = ?", order.ID).Count(&usage).Error)
	assert.Equal(t, int64(1), usage)
	assert.Equal(t, int64(1), f.countEvents(t, enums.EventOrderConfirmed))
	assert.Empty(t, f.inventory.released)
}

func TestApplyingSameCouponTwiceDiscountsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedCoupon(t, f.conn)
	order := f.create(t, "100.00")

	for i := 0; i < 2; i++ {
		res, err := f.svc.ApplyCoupon(ctx, order.ID, "SPRING10")
		require.NoError(t, err)
		assert.Equal(t, int64(1000), res.Order.DiscountMinor)
		assert.Equal(t, int64(9000), res.Order.TotalMinor)
	}

	stored := f.reload(t, order.ID)
	assert.Equal(t, int64(1000), stored.DiscountMinor)
	assert.Equal(t, int64(9000), stored.TotalMinor)
	assert.Len(t, stored.DiscountSources, 1)

	confirmed, err := f.svc.ConfirmOrder(ctx, order.ID, "admin_1")
	require.NoError(t, err)
	assert.Equal(t, int64(9000), confirmed.Order.TotalMinor)
	var usage int64
	require.NoError(t, f.conn.Model(&models.CouponUsage{}).Where("order_id = ?", order.ID).Count(&usage).Error)
	assert.Equal(t, int64(1), usage)
}

func TestUpdateStatusFollowsFulfilmentGraph(t *testing.T) {
	f := newFixture(t)
	order := f.confirmed(t, "10.00", "15.00")
	ctx := context.Background()

	shipped, err := f.svc.UpdateStatus(ctx, StatusChangeInput{OrderID: order.ID, Target: enums.OrderStatusShipped, Actor: "shop_1"})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusShipped, shipped.Status)
	require.NotNil(t, shipped.ShippedAt)
	for _, item := range f.reload(t, order.ID).Items {
		assert.Equal(t, enums.OrderItemStatusShipped, item.Status)
		assert.NotNil(t, item.ShippedAt)
	}

	_, err = f.svc.UpdateStatus(ctx, StatusChangeInput{OrderID: order.ID, Target: enums.OrderStatusCancelled, Actor: "shop_1"})
	requireCode(t, err, pkgerrors.CodeInvalidTransition)

	f.advance(time.Hour)
	delivered, err := f.svc.UpdateStatus(ctx, StatusChangeInput{OrderID: order.ID, Target: enums.OrderStatusDelivered, Actor: "shop_1"})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusDelivered, delivered.Status)
	for _, item := range f.reload(t, order.ID).Items {
		assert.Equal(t, enums.OrderItemStatusDelivered, item.Status)
	}

	again, err := f.svc.UpdateStatus(ctx, StatusChangeInput{OrderID: order.ID, Target: enums.OrderStatusDelivered, Actor: "shop_1"})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusDelivered, again.Status)

	_, err = f.svc.UpdateStatus(ctx, StatusChangeInput{OrderID: order.ID, Target: enums.OrderStatusRefunded, Actor: "admin_1"})
	requireCode(t, err, pkgerrors.CodeInvalidTransition)
	_, err = f.svc.UpdateStatus(ctx, StatusChangeInput{OrderID: order.ID, Target: enums.OrderStatusProcessing, Actor: "admin_1"})
	requireCode(t, err, pkgerrors.CodeInvalidTransition)

	history, err := f.repo.ListHistory(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, history, 4)
	assert.Equal(t, int64(2), f.countEvents(t, enums.EventOrderStatusChanged))
}

func TestCancellingProcessingOrderVoidsCommissions(t *testing.T) {
	f := newFixture(t)
	order := f.confirmed(t, "10.00", "15.00")

	cancelled, err := f.svc.UpdateStatus(context.Background(), StatusChangeInput{
		OrderID: order.ID, Target: enums.OrderStatusCancelled, Actor: "admin_1",
	})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)

	for _, c := range f.commissions(t, order.ID) {
		assert.Equal(t, enums.CommissionStatusVoided, c.Status)
	}
	for _, item := range f.reload(t, order.ID).Items {
		assert.Equal(t, enums.OrderItemStatusCancelled, item.Status)
	}
	assert.NotContains(t, f.inventory.commits, order.ID)
	assert.Equal(t, []uuid.UUID{order.ID}, f.inventory.released)
}

func TestCancellingLeavesShippedItemsAndTheirCommissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.confirmed(t, "10.00", "15.00")
	shipped, pending := order.Items[0], order.Items[1]

	_, err := f.svc.UpdateItemStatus(ctx, ItemStatusChangeInput{OrderID: order.ID, ItemID: shipped.ID, Target: enums.OrderItemStatusShipped, Actor: "shop_1"})
	require.NoError(t, err)

	cancelled, err := f.svc.UpdateStatus(ctx, StatusChangeInput{OrderID: order.ID, Target: enums.OrderStatusCancelled, Actor: "admin_1"})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, cancelled.Status)

	items := map[uuid.UUID]enums.OrderItemStatus{}
	for _, item := range f.reload(t, order.ID).Items {
		items[item.ID] = item.Status
	}
	assert.Equal(t, enums.OrderItemStatusShipped, items[shipped.ID])
	assert.Equal(t, enums.OrderItemStatusCancelled, items[pending.ID])

	byItem := map[uuid.UUID]enums.CommissionStatus{}
	for _, c := range f.commissions(t, order.ID) {
		byItem[c.OrderItemID] = c.Status
	}
	assert.Equal(t, enums.CommissionStatusPending, byItem[shipped.ID])
	assert.Equal(t, enums.CommissionStatusVoided, byItem[pending.ID])
}

func TestPendingOrderCanFail(t *testing.T) {
	f := newFixture(t)
	order := f.create(t, "10.00")

	failed, err := f.svc.UpdateStatus(context.Background(), StatusChangeInput{
		OrderID: order.ID, Target: enums.OrderStatusFailed, Actor: "system",
	})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusFailed, failed.Status)
	require.NotNil(t, failed.FailedAt)
	assert.Empty(t, f.inventory.released)
}

func TestItemStatusRollsUpToOrder(t *testing.T) {
	f := newFixture(t)
	order := f.confirmed(t, "10.00", "15.00")
	ctx := context.Background()
	first, second := order.Items[0].ID, order.Items[1].ID

	out, err := f.svc.UpdateItemStatus(ctx, ItemStatusChangeInput{OrderID: order.ID, ItemID: first, Target: enums.OrderItemStatusShipped, Actor: "shop_1"})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusProcessing, out.Status)

	out, err = f.svc.UpdateItemStatus(ctx, ItemStatusChangeInput{OrderID: order.ID, ItemID: second, Target: enums.OrderItemStatusShipped, Actor: "shop_1"})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusShipped, out.Status)

	f.advance(time.Hour)
	out, err = f.svc.UpdateItemStatus(ctx, ItemStatusChangeInput{OrderID: order.ID, ItemID: first, Target: enums.OrderItemStatusDelivered, Actor: "shop_1"})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusShipped, out.Status)

	out, err = f.svc.UpdateItemStatus(ctx, ItemStatusChangeInput{OrderID: order.ID, ItemID: second, Target: enums.OrderItemStatusDelivered, Actor: "shop_1"})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusDelivered, out.Status)

	stored := f.reload(t, order.ID)
	assert.Equal(t, enums.OrderStatusDelivered, stored.Status)
	for _, item := range stored.Items {
		require.NotNil(t, item.DeliveredAt)
		assert.True(t, item.DeliveredAt.Equal(f.now.UTC()))
	}

	_, err = f.svc.UpdateItemStatus(ctx, ItemStatusChangeInput{OrderID: order.ID, ItemID: first, Target: enums.OrderItemStatusRefunded, Actor: "shop_1"})
	requireCode(t, err, pkgerrors.CodeInvalidTransition)
}

func TestCancellingItemsVoidsTheirCommissions(t *testing.T) {
	f := newFixture(t)
	order := f.confirmed(t, "10.00", "15.00")
	ctx := context.Background()
	first, second := order.Items[0], order.Items[1]

	out, err := f.svc.UpdateItemStatus(ctx, ItemStatusChangeInput{OrderID: order.ID, ItemID: first.ID, Target: enums.OrderItemStatusCancelled, Actor: "shop_1"})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusProcessing, out.Status)

	byItem := map[uuid.UUID]models.Commission{}
	for _, c := range f.commissions(t, order.ID) {
		byItem[c.OrderItemID] = c
	}
	assert.Equal(t, enums.CommissionStatusVoided, byItem[first.ID].Status)
	assert.Equal(t, enums.CommissionStatusPending, byItem[second.ID].Status)

	out, err = f.svc.UpdateItemStatus(ctx, ItemStatusChangeInput{OrderID: order.ID, ItemID: second.ID, Target: enums.OrderItemStatusCancelled, Actor: "shop_1"})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, out.Status)
	for _, c := range f.commissions(t, order.ID) {
		assert.Equal(t, enums.CommissionStatusVoided, c.Status)
	}
}

func TestItemFulfilmentRequiresConfirmation(t *testing.T) {
	f := newFixture(t)
	order := f.create(t, "10.00")

	_, err := f.svc.UpdateItemStatus(context.Background(), ItemStatusChangeInput{
		OrderID: order.ID, ItemID: order.Items[0].ID, Target: enums.OrderItemStatusShipped, Actor: "shop_1",
	})
	requireCode(t, err, pkgerrors.CodeInvalidState)

	_, err = f.svc.UpdateItemStatus(context.Background(), ItemStatusChangeInput{
		OrderID: order.ID, ItemID: uuid.New(), Target: enums.OrderItemStatusCancelled, Actor: "shop_1",
	})
	requireCode(t, err, pkgerrors.CodeNotFound)
}

func TestApplyRefundMarksItemsAndOrder(t *testing.T) {
	f := newFixture(t)
	order := f.confirmed(t, "10.00", "15.00")
	ctx := context.Background()
	_, err := f.svc.UpdateStatus(ctx, StatusChangeInput{OrderID: order.ID, Target: enums.OrderStatusShipped, Actor: "shop_1"})
	require.NoError(t, err)

	var out *models.Order
	require.NoError(t, f.client.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		out, err = f.svc.ApplyRefund(ctx, tx, RefundApplication{
			OrderID: order.ID, RefundID: uuid.New(), ItemIDs: []uuid.UUID{order.Items[0].ID}, Actor: "admin_1",
		})
		return err
	}))
	assert.Equal(t, enums.OrderStatusShipped, out.Status)
	stored := f.reload(t, order.ID)
	assert.Equal(t, enums.OrderItemStatusRefunded, stored.Items[0].Status)
	assert.NotNil(t, stored.Items[0].RefundedAt)
	assert.Equal(t, enums.OrderItemStatusShipped, stored.Items[1].Status)

	require.NoError(t, f.client.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		out, err = f.svc.ApplyRefund(ctx, tx, RefundApplication{
			OrderID: order.ID, RefundID: uuid.New(), ItemIDs: []uuid.UUID{order.Items[1].ID}, Actor: "admin_1",
		})
		return err
	}))
	assert.Equal(t, enums.OrderStatusRefunded, out.Status)
	assert.NotNil(t, f.reload(t, order.ID).RefundedAt)
}

func TestApplyRefundWholeOrder(t *testing.T) {
	f := newFixture(t)
	order := f.confirmed(t, "10.00", "15.00")
	ctx := context.Background()

	apply := func() (*models.Order, error) {
		var out *models.Order
		err := f.client.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			out, err = f.svc.ApplyRefund(ctx, tx, RefundApplication{OrderID: order.ID, RefundID: uuid.New(), WholeOrder: true, Actor: "admin_1"})
			return err
		})
		return out, err
	}

	out, err := apply()
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusRefunded, out.Status)
	for _, item := range f.reload(t, order.ID).Items {
		assert.Equal(t, enums.OrderItemStatusRefunded, item.Status)
	}

	out, err = apply()
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusRefunded, out.Status)

	cancelled := f.create(t, "5.00")
	_, err = f.svc.UpdateStatus(ctx, StatusChangeInput{OrderID: cancelled.ID, Target: enums.OrderStatusCancelled, Actor: "cus_1"})
	require.NoError(t, err)
	err = f.client.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := f.svc.ApplyRefund(ctx, tx, RefundApplication{OrderID: cancelled.ID, RefundID: uuid.New(), WholeOrder: true, Actor: "admin_1"})
		return err
	})
	requireCode(t, err, pkgerrors.CodeInvalidTransition)
}

func TestListOrdersPagesNewestFirst(t *testing.T) {
	f := newFixture(t)
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		ids = append(ids, f.create(t, "10.00").ID)
		f.advance(time.Second)
	}
	f.users["cus_2"] = &identity.User{ID: "cus_2", Active: true}
	other := input(f.variant(t, "10.00"))
	other.CustomerID = "cus_2"
	_, err := f.svc.CreateOrder(context.Background(), other)
	require.NoError(t, err)

	page, err := f.svc.ListOrders(context.Background(), "cus_1", pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Orders, 2)
	assert.Equal(t, ids[2], page.Orders[0].ID)
	assert.Equal(t, ids[1], page.Orders[1].ID)
	assert.Equal(t, 1, page.Orders[0].ItemCount)
	require.NotEmpty(t, page.NextCursor)

	next, err := f.svc.ListOrders(context.Background(), "cus_1", pagination.Params{Limit: 2, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, next.Orders, 1)
	assert.Equal(t, ids[0], next.Orders[0].ID)
	assert.Empty(t, next.NextCursor)

	_, err = f.svc.ListOrders(context.Background(), "cus_1", pagination.Params{Cursor: "%%%"})
	requireCode(t, err, pkgerrors.CodeValidation)
	_, err = f.svc.ListOrders(context.Background(), "", pagination.Params{})
	requireCode(t, err, pkgerrors.CodeValidation)
}
