package settlement

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradepost/internal/catalog/catalogtest"
	"github.com/angelmondragon/tradepost/pkg/db/models"
	"github.com/angelmondragon/tradepost/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradepost/pkg/errors"
	"github.com/angelmondragon/tradepost/pkg/money"
)

func TestCreateCommissionsUsesItemRateSnapshot(t *testing.T) {
	f := newFixture(t)
	order, items := f.order(t, 5000)

	created := f.confirm(t, order, items)
	require.Len(t, created, 1)
	c := created[0]
	assert.Equal(t, enums.CommissionStatusPending, c.Status)
	assert.Equal(t, int64(5000), c.GrossMinor)
	assert.Equal(t, int64(500), c.CommissionMinor)
	assert.Equal(t, int64(100), c.PlatformFeeMinor)
	assert.Equal(t, int64(4400), c.NetMinor)
	assert.Equal(t, f.shop.ID, c.ShopID)
	assert.True(t, c.CalculatedAt.Equal(catalogtest.Epoch))

	// The shop rate changing later does not touch the snapshot on the item.
	require.NoError(t, f.conn.Model(&models.Shop{}).Where("id = ?", f.shop.ID).Update("commission_rate", "20.00").Error)

	again := f.confirm(t, order, items)
	require.Len(t, again, 1)
	assert.Equal(t, c.ID, again[0].ID)
	assert.Equal(t, int64(500), again[0].CommissionMinor)

	var n int64
	require.NoError(t, f.conn.Model(&models.Commission{}).Where("order_id = ?", order.ID).Count(&n).Error)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, int64(1), f.countEvents(t, enums.EventCommissionsCreated))
}

func TestCreateCommissionsSkipsCancelledItems(t *testing.T) {
	f := newFixture(t)
	order, items := f.order(t, 1000, 2000)
	items[1].Status = enums.OrderItemStatusCancelled

	created := f.confirm(t, order, items)
	require.Len(t, created, 1)
	assert.Equal(t, items[0].ID, created[0].OrderItemID)
}

func TestClearEligibleHonoursClearingPeriod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, items := f.order(t, 5000, 3000)
	f.confirm(t, order, items)
	f.deliver(t, items[:1], catalogtest.Epoch)

	n, err := f.svc.ClearEligible(ctx, catalogtest.Epoch.Add(7*24*time.Hour-time.Second))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = f.svc.ClearEligible(ctx, catalogtest.Epoch.Add(7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows, err := f.svc.ListOrderCommissions(ctx, f.conn, order.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, enums.CommissionStatusCleared, rows[0].Status)
	require.NotNil(t, rows[0].ClearedAt)
	assert.Equal(t, enums.CommissionStatusPending, rows[1].Status, "undelivered item stays pending")

	n, err = f.svc.ClearEligible(ctx, catalogtest.Epoch.Add(30*24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCommissionTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, items := f.order(t, 5000)
	c := f.confirm(t, order, items)[0]

	_, err := f.svc.ResolveDispute(ctx, c.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidTransition))

	_, err = f.svc.DisputeCommission(ctx, c.ID, "")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	disputed, err := f.svc.DisputeCommission(ctx, c.ID, "chargeback")
	require.NoError(t, err)
	assert.Equal(t, enums.CommissionStatusDisputed, disputed.Status)

	_, err = f.svc.ClearCommission(ctx, c.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidTransition))

	resolved, err := f.svc.ResolveDispute(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.CommissionStatusCleared, resolved.Status)

	again, err := f.svc.ClearCommission(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.CommissionStatusCleared, again.Status)

	_, err = f.svc.ClearCommission(ctx, uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestBuildPayoutBatchesClearedCommissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cleared := f.cleared(t, 5000, 10000)
	order, items := f.order(t, 7000)
	pending := f.confirm(t, order, items)[0]

	p, err := f.svc.BuildPayout(ctx, BuildPayoutInput{ShopID: f.shop.ID, Cutoff: catalogtest.Epoch})
	require.NoError(t, err)
	assert.Equal(t, enums.PayoutStatusPending, p.Status)
	assert.Equal(t, enums.CurrencyUSD, p.Currency)
	// 44.00 + 89.00
	assert.Equal(t, int64(13300), p.PayoutMinor)
	assert.Equal(t, int64(13300), p.GrossMinor)
	assert.Zero(t, p.AdjustmentMinor)
	require.Len(t, p.Transactions, 2)

	for _, c := range cleared {
		got := f.commission(t, c.ID)
		require.NotNil(t, got.PayoutID)
		assert.Equal(t, p.ID, *got.PayoutID)
		assert.Equal(t, enums.CommissionStatusCleared, got.Status)
	}
	assert.Nil(t, f.commission(t, pending.ID).PayoutID)

	_, err = f.svc.BuildPayout(ctx, BuildPayoutInput{ShopID: f.shop.ID, Cutoff: catalogtest.Epoch})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNothingToPayout))
	assert.Equal(t, int64(1), f.countEvents(t, enums.EventPayoutCreated))
}

func TestBuildPayoutRespectsCutoff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.cleared(t, 5000)
	f.advance(time.Hour)
	late := f.cleared(t, 3000)[0]

	p, err := f.svc.BuildPayout(ctx, BuildPayoutInput{ShopID: f.shop.ID, Cutoff: catalogtest.Epoch.Add(30 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, p.Transactions, 1)
	assert.Equal(t, int64(4400), p.PayoutMinor)
	assert.Nil(t, f.commission(t, late.ID).PayoutID)
}

func TestBuildPayoutEnforcesMinimum(t *testing.T) {
	f := newFixture(t, catalogtest.WithMinimumPayout(5000))
	ctx := context.Background()
	f.cleared(t, 5000)

	_, err := f.svc.BuildPayout(ctx, BuildPayoutInput{ShopID: f.shop.ID, Cutoff: catalogtest.Epoch})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNothingToPayout))

	var n int64
	require.NoError(t, f.conn.Model(&models.Payout{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestBuildPayoutValidatesInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.BuildPayout(ctx, BuildPayoutInput{Cutoff: catalogtest.Epoch})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	_, err = f.svc.BuildPayout(ctx, BuildPayoutInput{ShopID: f.shop.ID})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	_, err = f.svc.BuildPayout(ctx, BuildPayoutInput{ShopID: f.shop.ID, Cutoff: catalogtest.Epoch, Currency: "XXX"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	_, err = f.svc.BuildPayout(ctx, BuildPayoutInput{ShopID: uuid.New(), Cutoff: catalogtest.Epoch})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestClaimCommissionIsExclusive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.cleared(t, 5000)[0]
	repo := NewRepository(f.conn)

	first := &models.Payout{ID: uuid.New(), ShopID: f.shop.ID, Currency: enums.CurrencyUSD, Status: enums.PayoutStatusPending,
		PayoutMethod: "bank_transfer", CutoffAt: catalogtest.Epoch, RequestedAt: catalogtest.Epoch}
	second := &models.Payout{ID: uuid.New(), ShopID: f.shop.ID, Currency: enums.CurrencyUSD, Status: enums.PayoutStatusPending,
		PayoutMethod: "bank_transfer", CutoffAt: catalogtest.Epoch, RequestedAt: catalogtest.Epoch}
	require.NoError(t, repo.CreatePayout(ctx, first))
	require.NoError(t, repo.CreatePayout(ctx, second))

	ok, err := repo.ClaimCommission(ctx, c.ID, first.ID, catalogtest.Epoch)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.ClaimCommission(ctx, c.ID, second.ID, catalogtest.Epoch)
	require.NoError(t, err)
	assert.False(t, ok, "a claimed commission cannot join a second payout")
	assert.Equal(t, first.ID, *f.commission(t, c.ID).PayoutID)
}

func TestConcurrentBuildsNeverShareACommission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cleared := f.cleared(t, 5000, 10000, 2000)

	const builders = 4
	payouts := make([]*models.Payout, builders)
	errs := make([]error, builders)
	var wg sync.WaitGroup
	for i := 0; i < builders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payouts[i], errs[i] = f.svc.BuildPayout(ctx, BuildPayoutInput{ShopID: f.shop.ID, Cutoff: catalogtest.Epoch})
		}(i)
	}
	wg.Wait()

	built := 0
	for i, err := range errs {
		if err != nil {
			assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNothingToPayout) || pkgerrors.IsCode(err, pkgerrors.CodeConcurrencyConflict), "unexpected error %v", err)
			continue
		}
		built++
		assert.Len(t, payouts[i].Transactions, len(cleared))
	}
	assert.Equal(t, 1, built)
	for _, c := range cleared {
		assert.Equal(t, int64(1), f.liveTransactions(t, c.ID))
	}
	assert.Equal(t, int64(1), f.countEvents(t, enums.EventPayoutCreated))
}

func TestMarkPayoutCompletedPaysEveryLinkedCommission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cleared := f.cleared(t, 5000, 10000)

	p, err := f.svc.BuildPayout(ctx, BuildPayoutInput{ShopID: f.shop.ID, Cutoff: catalogtest.Epoch})
	require.NoError(t, err)

	processing, err := f.svc.MarkPayoutProcessing(ctx, p.ID, "ref-1")
	require.NoError(t, err)
	assert.Equal(t, enums.PayoutStatusProcessing, processing.Status)

	f.advance(time.Hour)
	done, err := f.svc.MarkPayoutCompleted(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PayoutStatusCompleted, done.Status)
	require.NotNil(t, done.ProcessedAt)

	for _, c := range cleared {
		got := f.commission(t, c.ID)
		assert.Equal(t, enums.CommissionStatusPaidOut, got.Status)
		require.NotNil(t, got.PaidOutAt)
	}

	again, err := f.svc.MarkPayoutCompleted(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PayoutStatusCompleted, again.Status)
	assert.Equal(t, int64(1), f.countEvents(t, enums.EventPayoutCompleted))
	assert.Equal(t, int64(1), f.countEvents(t, enums.EventNotificationRequested))

	_, err = f.svc.MarkPayoutFailed(ctx, p.ID, "bank rejected")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidTransition))

	loaded, err := f.svc.GetPayout(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, loaded.Transactions, 2)
}

func TestMarkPayoutCompletedRejectsIncompletePayout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cleared := f.cleared(t, 5000, 10000)

	p, err := f.svc.BuildPayout(ctx, BuildPayoutInput{ShopID: f.shop.ID, Cutoff: catalogtest.Epoch})
	require.NoError(t, err)

	// Simulate a linked commission drifting out of cleared behind the ledger's back.
	require.NoError(t, f.conn.Model(&models.Commission{}).Where("id = ?", cleared[1].ID).
		Update("status", enums.CommissionStatusDisputed).Error)

	_, err = f.svc.MarkPayoutCompleted(ctx, p.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidState))
	assert.Equal(t, enums.CommissionStatusCleared, f.commission(t, cleared[0].ID).Status, "completion rolled back")
}

func TestMarkPayoutFailedReleasesClaims(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.cleared(t, 5000)[0]

	first, err := f.svc.BuildPayout(ctx, BuildPayoutInput{ShopID: f.shop.ID, Cutoff: catalogtest.Epoch})
	require.NoError(t, err)

	_, err = f.svc.MarkPayoutFailed(ctx, first.ID, "")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	failed, err := f.svc.MarkPayoutFailed(ctx, first.ID, "account closed")
	require.NoError(t, err)
	assert.Equal(t, enums.PayoutStatusFailed, failed.Status)
	require.NotNil(t, failed.FailureReason)
	assert.Equal(t, "account closed", *failed.FailureReason)

	got := f.commission(t, c.ID)
	assert.Equal(t, enums.CommissionStatusCleared, got.Status)
	assert.Nil(t, got.PayoutID)

	second, err := f.svc.BuildPayout(ctx, BuildPayoutInput{ShopID: f.shop.ID, Cutoff: catalogtest.Epoch})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, int64(4400), second.PayoutMinor)

	_, err = f.svc.MarkPayoutCompleted(ctx, first.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidTransition))

	var history int64
	require.NoError(t, f.conn.Model(&models.PayoutTransaction{}).Where("commission_id = ?", c.ID).Count(&history).Error)
	assert.Equal(t, int64(2), history)
	assert.Equal(t, int64(1), f.liveTransactions(t, c.ID))
}

func TestBuildDuePayoutsSkipsShopsBelowMinimum(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.cleared(t, 5000)

	small := catalogtest.Shop(t, f.conn, catalogtest.WithMinimumPayout(100000))
	order := models.Order{ID: uuid.New(), OrderNumber: "TP-SMALL", CustomerID: "cus_2", Status: enums.OrderStatusProcessing, Currency: enums.CurrencyUSD}
	require.NoError(t, f.conn.Omit("Items", "Addresses").Create(&order).Error)
	variant := catalogtest.Variant(t, f.conn, small.ID, f.category.ID, "10.00", enums.CurrencyUSD)
	item := models.OrderItem{ID: uuid.New(), OrderID: order.ID, ProductID: variant.ProductID, VariantID: variant.ID, ShopID: small.ID,
		CategoryID: f.category.ID, Quantity: 1, UnitPriceMinor: 1000, TotalPriceMinor: 1000, CommissionRate: small.CommissionRate,
		Status: enums.OrderItemStatusPending}
	require.NoError(t, f.conn.Create(&item).Error)
	c := f.confirm(t, order, []models.OrderItem{item})[0]
	_, err := f.svc.ClearCommission(ctx, c.ID)
	require.NoError(t, err)

	built, err := f.svc.BuildDuePayouts(ctx, catalogtest.Epoch)
	require.NoError(t, err)
	require.Len(t, built, 1)
	assert.Equal(t, f.shop.ID, built[0].ShopID)
}

func TestReverseForRefundRefundsUnpaidCommission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, items := f.order(t, 5000)
	c := f.confirm(t, order, items)[0]
	refund := f.refund(t, order.ID, 5000)

	var revs []Reversal
	require.NoError(t, f.client.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		revs, err = f.svc.ReverseForRefund(ctx, tx, refund, []ItemRefund{{ItemID: items[0].ID, Amount: money.New(5000, enums.CurrencyUSD)}})
		return err
	}))
	require.Len(t, revs, 1)
	assert.Equal(t, ReversalRefunded, revs[0].Kind)
	assert.Nil(t, revs[0].Adjustment)

	got := f.commission(t, c.ID)
	assert.Equal(t, enums.CommissionStatusRefunded, got.Status)
	require.NotNil(t, got.RefundedAt)

	_, err := f.svc.ClearCommission(ctx, c.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidTransition))
	_, err = f.svc.BuildPayout(ctx, BuildPayoutInput{ShopID: f.shop.ID, Cutoff: catalogtest.Epoch})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNothingToPayout))
}

func TestReverseForRefundAdjustsPaidOutCommission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, items := f.order(t, 5000)
	c := f.confirm(t, order, items)[0]
	_, err := f.svc.ClearCommission(ctx, c.ID)
	require.NoError(t, err)
	p, err := f.svc.BuildPayout(ctx, BuildPayoutInput{ShopID: f.shop.ID, Cutoff: catalogtest.Epoch})
	require.NoError(t, err)
	_, err = f.svc.MarkPayoutCompleted(ctx, p.ID)
	require.NoError(t, err)
	paid := f.commission(t, c.ID)

	refund := f.refund(t, order.ID, 2500)
	reverse := func() []Reversal {
		var revs []Reversal
		require.NoError(t, f.client.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			revs, err = f.svc.ReverseForRefund(ctx, tx, refund, []ItemRefund{{ItemID: items[0].ID, Amount: money.New(2500, enums.CurrencyUSD)}})
			return err
		}))
		return revs
	}

	revs := reverse()
	require.Len(t, revs, 1)
	assert.Equal(t, ReversalAdjusted, revs[0].Kind)
	require.NotNil(t, revs[0].Adjustment)
	adj := revs[0].Adjustment
	// -(44.00 * 25.00 / 50.00)
	assert.Equal(t, int64(-2200), adj.AmountMinor)
	assert.Equal(t, enums.AdjustmentStatusPendingOffset, adj.Status)
	assert.Equal(t, "damaged", adj.Reason)

	after := f.commission(t, c.ID)
	assert.Equal(t, enums.CommissionStatusPaidOut, after.Status)
	assert.Equal(t, paid.NetMinor, after.NetMinor)
	require.NotNil(t, after.PaidOutAt)
	assert.True(t, paid.PaidOutAt.Equal(*after.PaidOutAt))

	again := reverse()
	assert.Equal(t, adj.ID, again[0].Adjustment.ID)
	var n int64
	require.NoError(t, f.conn.Model(&models.CommissionAdjustment{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)

	// The next payout nets the offset: 89.00 - 22.00.
	f.advance(time.Hour)
	f.cleared(t, 10000)
	next, err := f.svc.BuildPayout(ctx, BuildPayoutInput{ShopID: f.shop.ID, Cutoff: *f.now})
	require.NoError(t, err)
	assert.Equal(t, int64(8900), next.GrossMinor)
	assert.Equal(t, int64(-2200), next.AdjustmentMinor)
	assert.Equal(t, int64(6700), next.PayoutMinor)

	_, err = f.svc.MarkPayoutCompleted(ctx, next.ID)
	require.NoError(t, err)
	var offset models.CommissionAdjustment
	require.NoError(t, f.conn.First(&offset, "id = ?", adj.ID).Error)
	assert.Equal(t, enums.AdjustmentStatusOffset, offset.Status)
	require.NotNil(t, offset.PayoutID)
	assert.Equal(t, next.ID, *offset.PayoutID)
}

func TestAdjustmentLargerThanPayoutIsDeferred(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, items := f.order(t, 5000)
	c := f.confirm(t, order, items)[0]
	_, err := f.svc.ClearCommission(ctx, c.ID)
	require.NoError(t, err)
	p, err := f.svc.BuildPayout(ctx, BuildPayoutInput{ShopID: f.shop.ID, Cutoff: catalogtest.Epoch})
	require.NoError(t, err)
	_, err = f.svc.MarkPayoutCompleted(ctx, p.ID)
	require.NoError(t, err)

	refund := f.refund(t, order.ID, 5000)
	require.NoError(t, f.client.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := f.svc.ReverseForRefund(ctx, tx, refund, []ItemRefund{{ItemID: items[0].ID, Amount: money.New(5000, enums.CurrencyUSD)}})
		return err
	}))

	// 20.00 gross nets 17.00, which cannot absorb -44.00.
	f.advance(time.Hour)
	f.cleared(t, 2000)
	next, err := f.svc.BuildPayout(ctx, BuildPayoutInput{ShopID: f.shop.ID, Cutoff: *f.now})
	require.NoError(t, err)
	assert.Equal(t, int64(1700), next.PayoutMinor)
	assert.Zero(t, next.AdjustmentMinor)

	var adj models.CommissionAdjustment
	require.NoError(t, f.conn.First(&adj, "commission_id = ?", c.ID).Error)
	assert.Nil(t, adj.PayoutID)
	assert.Equal(t, enums.AdjustmentStatusPendingOffset, adj.Status)
}

func TestReverseForRefundAdjustsCommissionHeldByOpenPayout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, items := f.order(t, 5000)
	c := f.confirm(t, order, items)[0]
	_, err := f.svc.ClearCommission(ctx, c.ID)
	require.NoError(t, err)
	_, err = f.svc.BuildPayout(ctx, BuildPayoutInput{ShopID: f.shop.ID, Cutoff: catalogtest.Epoch})
	require.NoError(t, err)

	refund := f.refund(t, order.ID, 5000)
	var revs []Reversal
	require.NoError(t, f.client.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		revs, err = f.svc.ReverseForRefund(ctx, tx, refund, []ItemRefund{{ItemID: items[0].ID, Amount: money.New(5000, enums.CurrencyUSD)}})
		return err
	}))
	assert.Equal(t, ReversalAdjusted, revs[0].Kind)
	assert.Equal(t, enums.CommissionStatusCleared, f.commission(t, c.ID).Status)

	_, err = f.svc.DisputeCommission(ctx, c.ID, "fraud")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidState))
}

func TestReverseForRefundRejectsCurrencyMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, items := f.order(t, 5000)
	f.confirm(t, order, items)
	refund := f.refund(t, order.ID, 5000)

	err := f.client.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := f.svc.ReverseForRefund(ctx, tx, refund, []ItemRefund{{ItemID: items[0].ID, Amount: money.New(5000, enums.CurrencyEUR)}})
		return err
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeCurrencyMismatch))
}

func TestVoidForOrderVoidsOpenCommissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, items := f.order(t, 5000, 3000)
	created := f.confirm(t, order, items)

	var n int64
	require.NoError(t, f.client.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		n, err = f.svc.VoidForOrder(ctx, tx, order.ID)
		return err
	}))
	assert.Equal(t, int64(2), n)
	for _, c := range created {
		got := f.commission(t, c.ID)
		assert.Equal(t, enums.CommissionStatusVoided, got.Status)
		require.NotNil(t, got.VoidedAt)
	}
}

func TestVoidForItemsOnlyTouchesNamedItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, items := f.order(t, 5000, 3000)
	created := f.confirm(t, order, items)

	require.NoError(t, f.client.WithTx(ctx, func(tx *gorm.DB) error {
		n, err := f.svc.VoidForItems(ctx, tx, order.ID, []uuid.UUID{items[1].ID})
		assert.Equal(t, int64(1), n)
		return err
	}))
	assert.Equal(t, enums.CommissionStatusPending, f.commission(t, created[0].ID).Status)
	assert.Equal(t, enums.CommissionStatusVoided, f.commission(t, created[1].ID).Status)
}
