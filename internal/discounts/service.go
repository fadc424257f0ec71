package discounts

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradepost/pkg/db/models"
	"github.com/angelmondragon/tradepost/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradepost/pkg/errors"
	"github.com/angelmondragon/tradepost/pkg/logger"
	"github.com/angelmondragon/tradepost/pkg/outbox"
	"github.com/angelmondragon/tradepost/pkg/outbox/payloads"
)

// Service loads coupons and policies and records redemptions. Every method
// runs on the caller's transaction.
type Service struct {
	repo   *Repository
	outbox outbox.Emitter
	logg   *logger.Logger
	now    func() time.Time
}

// NewService builds a discount service.
func NewService(repo *Repository, emitter outbox.Emitter, logg *logger.Logger) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("discount repository required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	return &Service{repo: repo, outbox: emitter, logg: logg, now: time.Now}, nil
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// EvaluateCode resolves code and evaluates it against snap. Usage counts
// exclude snap.OrderID so re-applying to the same order is stable.
func (s *Service) EvaluateCode(ctx context.Context, tx *gorm.DB, code string, snap OrderSnapshot) (Decision, error) {
	repo := s.repo.WithTx(tx)
	coupon, err := repo.FindCouponByCode(ctx, code)
	if err != nil {
		return Decision{}, err
	}
	usage, err := repo.CountUsage(ctx, coupon.ID, snap.CustomerID, snap.OrderID)
	if err != nil {
		return Decision{}, err
	}
	return EvaluateCoupon(*coupon, snap, usage, s.now().UTC())
}

// EvaluateAutomatic evaluates the policies of every shop in the snapshot.
func (s *Service) EvaluateAutomatic(ctx context.Context, tx *gorm.DB, snap OrderSnapshot) (Decision, error) {
	seen := map[uuid.UUID]struct{}{}
	shopIDs := make([]uuid.UUID, 0, len(snap.Lines))
	for _, line := range snap.Lines {
		if _, ok := seen[line.ShopID]; ok {
			continue
		}
		seen[line.ShopID] = struct{}{}
		shopIDs = append(shopIDs, line.ShopID)
	}
	policies, err := s.repo.WithTx(tx).ActivePolicies(ctx, shopIDs)
	if err != nil {
		return Decision{}, err
	}
	return EvaluatePolicies(policies, snap, s.now().UTC())
}

// RecordUsage writes the CouponUsage row for a confirming order. The coupon
// row is locked, its window rechecked and usage recounted first, so a coupon
// switched off after it was applied is refused and concurrent checkouts
// cannot over-redeem. A second call for the same order is a no-op.
func (s *Service) RecordUsage(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	if order == nil || order.CouponID == nil {
		return nil
	}
	repo := s.repo.WithTx(tx)
	coupon, err := repo.LockCoupon(ctx, *order.CouponID)
	if err != nil {
		return err
	}
	existing, err := repo.FindUsage(ctx, coupon.ID, order.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	if err := checkCouponWindow(*coupon, s.now().UTC()); err != nil {
		return err
	}

	counts, err := repo.CountUsage(ctx, coupon.ID, order.CustomerID, order.ID)
	if err != nil {
		return err
	}
	if coupon.UsageLimit != nil && counts.Total >= int64(*coupon.UsageLimit) {
		return couponError(pkgerrors.CodeCouponInvalid, ReasonUsageExhausted, "coupon usage limit reached")
	}
	if coupon.UsageLimitPerCustomer != nil && counts.Customer >= int64(*coupon.UsageLimitPerCustomer) {
		return couponError(pkgerrors.CodeCouponInvalid, ReasonCustomerLimit, "coupon already used the maximum number of times by this customer")
	}

	usage := models.CouponUsage{
		ID:                  uuid.New(),
		CouponID:            coupon.ID,
		CustomerID:          order.CustomerID,
		OrderID:             order.ID,
		DiscountAmountMinor: couponAmount(order, coupon.ID),
		Currency:            order.Currency,
		UsedAt:              s.now().UTC(),
	}
	if err := repo.InsertUsage(ctx, &usage); err != nil {
		return err
	}
	if err := repo.IncrementDaily(ctx, usage); err != nil {
		return err
	}

	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventCouponRedeemed,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Data: payloads.CouponRedeemedEvent{
			CouponID:      coupon.ID,
			OrderID:       order.ID,
			CustomerID:    order.CustomerID,
			Currency:      order.Currency,
			DiscountMinor: usage.DiscountAmountMinor,
		},
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit coupon redeemed")
	}

	ctx = s.logg.WithFields(ctx, map[string]any{"coupon_id": coupon.ID.String(), "order_id": order.ID.String()})
	s.logg.Info(ctx, "coupon redeemed")
	return nil
}

// couponAmount is the part of the order discount the coupon contributed.
func couponAmount(order *models.Order, couponID uuid.UUID) int64 {
	for _, src := range order.DiscountSources {
		if src.Kind == SourceCoupon && src.ID == couponID {
			return src.Amount
		}
	}
	return order.DiscountMinor
}
