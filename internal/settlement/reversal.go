package settlement

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradepost/pkg/db/models"
	"github.com/angelmondragon/tradepost/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradepost/pkg/errors"
	"github.com/angelmondragon/tradepost/pkg/money"
)

// ItemRefund is the share of a refund attributed to one order item.
type ItemRefund struct {
	ItemID uuid.UUID
	Amount money.Money
}

// ReversalKind tells how a commission was reversed.
type ReversalKind string

const (
	// ReversalRefunded moved an unpaid commission straight to refunded.
	ReversalRefunded ReversalKind = "refunded"
	// ReversalAdjusted left the commission untouched and booked a negative
	// adjustment against the shop's next payout.
	ReversalAdjusted ReversalKind = "adjusted"
	// ReversalNone means the item had no commission left to reverse.
	ReversalNone ReversalKind = "none"
)

// Reversal reports what happened to one item's commission.
type Reversal struct {
	ItemID       uuid.UUID
	CommissionID *uuid.UUID
	Kind         ReversalKind
	Adjustment   *models.CommissionAdjustment
}

// ReverseForRefund reverses the commissions of refunded items inside the
// refund's transaction. Unpaid commissions become refunded and drop out of
// payout selection. Commissions already paid out, or held by an open payout,
// are never mutated; they get a prorated negative adjustment of
// -(net * item refund / gross) instead, never more than the net itself. Running it again for the same refund
// returns the existing adjustments.
func (s *Service) ReverseForRefund(ctx context.Context, tx *gorm.DB, refund *models.OrderRefund, items []ItemRefund) ([]Reversal, error) {
	repo := s.repo.WithTx(tx)
	now := s.clock()
	out := make([]Reversal, 0, len(items))
	refunded, adjusted := 0, 0

	for _, item := range items {
		if item.Amount.Currency() != refund.Currency {
			return nil, pkgerrors.Newf(pkgerrors.CodeCurrencyMismatch, "refund in %s cannot reverse %s", refund.Currency, item.Amount.Currency())
		}
		c, err := repo.LockCommissionByItem(ctx, item.ItemID)
		if err != nil {
			return nil, err
		}
		if c == nil {
			out = append(out, Reversal{ItemID: item.ItemID, Kind: ReversalNone})
			continue
		}
		id := c.ID
		rev := Reversal{ItemID: item.ItemID, CommissionID: &id}

		switch {
		case c.Status == enums.CommissionStatusPaidOut || (c.Status == enums.CommissionStatusCleared && c.PayoutID != nil):
			adj, err := s.adjust(ctx, repo, c, refund, item.Amount)
			if err != nil {
				return nil, err
			}
			rev.Kind = ReversalAdjusted
			rev.Adjustment = adj
			if adj != nil {
				adjusted++
			}
		case c.Status.IsReversible():
			ok, err := repo.TransitionCommission(ctx, c.ID,
				[]enums.CommissionStatus{c.Status},
				map[string]any{"status": enums.CommissionStatusRefunded, "refunded_at": now, "updated_at": now})
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, pkgerrors.Newf(pkgerrors.CodeConcurrencyConflict, "commission %s changed while refunding", c.ID)
			}
			rev.Kind = ReversalRefunded
			refunded++
		default:
			rev.Kind = ReversalNone
		}
		out = append(out, rev)
	}

	s.metrics.CommissionTransition(string(enums.CommissionStatusRefunded), refunded)
	if adjusted > 0 {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"refund_id":   refund.ID.String(),
			"adjustments": adjusted,
		}), "paid out commissions adjusted for refund")
	}
	return out, nil
}

func (s *Service) adjust(ctx context.Context, repo *Repository, c *models.Commission, refund *models.OrderRefund, amount money.Money) (*models.CommissionAdjustment, error) {
	existing, err := repo.FindAdjustment(ctx, c.ID, refund.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	if c.GrossMinor <= 0 {
		return nil, nil
	}
	share, err := c.Net().Prorate(min(amount.Minor(), c.GrossMinor), c.GrossMinor)
	if err != nil {
		return nil, err
	}
	if share.Minor() > c.NetMinor {
		share = c.Net()
	}
	adj := &models.CommissionAdjustment{
		ID:           uuid.New(),
		CommissionID: c.ID,
		RefundID:     refund.ID,
		ShopID:       c.ShopID,
		Currency:     c.Currency,
		AmountMinor:  share.Negate().Minor(),
		Reason:       refund.Reason,
		Status:       enums.AdjustmentStatusPendingOffset,
		CreatedAt:    s.clock(),
	}
	if err := repo.CreateAdjustment(ctx, adj); err != nil {
		return nil, err
	}
	return adj, nil
}
