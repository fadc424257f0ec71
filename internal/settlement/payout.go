package settlement

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradepost/internal/notifications"
	"github.com/angelmondragon/tradepost/pkg/db/models"
	"github.com/angelmondragon/tradepost/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradepost/pkg/errors"
	"github.com/angelmondragon/tradepost/pkg/outbox"
	"github.com/angelmondragon/tradepost/pkg/outbox/payloads"
	"github.com/angelmondragon/tradepost/pkg/retry"
)

// BuildPayoutInput selects what a payout batches. Currency defaults to the
// shop's payout currency.
type BuildPayoutInput struct {
	ShopID   uuid.UUID
	Cutoff   time.Time
	Currency enums.Currency
}

// BuildPayout batches a shop's cleared, unclaimed commissions calculated at
// or before the cutoff into a pending payout. Each commission is claimed with
// a compare-and-swap so concurrent builds can never share one. Pending
// refund offsets are netted in creation order while the amount stays
// non-negative. NothingToPayout is returned when the selection is empty or
// below the shop minimum.
func (s *Service) BuildPayout(ctx context.Context, in BuildPayoutInput) (*models.Payout, error) {
	if in.ShopID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shop id is required")
	}
	if in.Cutoff.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cutoff is required")
	}
	if in.Currency != "" && !in.Currency.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "unsupported currency %q", in.Currency)
	}

	var payout *models.Payout
	err := retry.Do(ctx, s.cfg.Retry, func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			p, err := s.buildPayout(ctx, tx, in)
			if err != nil {
				return err
			}
			payout = p
			return nil
		})
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeConcurrencyConflict) {
			s.metrics.Conflict("build_payout")
		}
		return nil, err
	}

	s.metrics.PayoutTransition(string(enums.PayoutStatusPending))
	ctx = s.logg.WithFields(ctx, map[string]any{
		"payout_id":   payout.ID.String(),
		"shop_id":     payout.ShopID.String(),
		"commissions": len(payout.Transactions),
		"amount":      payout.Amount().String(),
	})
	s.logg.Info(ctx, "payout built")
	return payout, nil
}

func (s *Service) buildPayout(ctx context.Context, tx *gorm.DB, in BuildPayoutInput) (*models.Payout, error) {
	shop, err := s.shops.WithTx(tx).LockShop(ctx, in.ShopID)
	if err != nil {
		return nil, err
	}
	currency := in.Currency
	if currency == "" {
		currency = shop.PayoutCurrency
	}
	cutoff := in.Cutoff.UTC()

	repo := s.repo.WithTx(tx)
	selected, err := repo.PayableCommissions(ctx, shop.ID, currency, cutoff)
	if err != nil {
		return nil, err
	}
	if len(selected) == 0 {
		return nil, pkgerrors.Newf(pkgerrors.CodeNothingToPayout, "shop %s has no cleared commissions up to %s", shop.ID, cutoff.Format(time.RFC3339))
	}

	var gross int64
	for _, c := range selected {
		gross += c.NetMinor
	}
	adjustments, err := repo.PendingAdjustments(ctx, shop.ID, currency)
	if err != nil {
		return nil, err
	}
	var absorbed []models.CommissionAdjustment
	var offset int64
	for _, adj := range adjustments {
		if gross+offset+adj.AmountMinor < 0 {
			break
		}
		offset += adj.AmountMinor
		absorbed = append(absorbed, adj)
	}
	total := gross + offset
	if total < shop.MinimumPayoutMinor {
		return nil, pkgerrors.Newf(pkgerrors.CodeNothingToPayout, "payout of %d is below the shop minimum of %d", total, shop.MinimumPayoutMinor)
	}

	now := s.clock()
	payout := &models.Payout{
		ID:              uuid.New(),
		ShopID:          shop.ID,
		Currency:        currency,
		PayoutMinor:     total,
		GrossMinor:      gross,
		AdjustmentMinor: offset,
		Status:          enums.PayoutStatusPending,
		PayoutMethod:    s.cfg.PayoutMethod,
		CutoffAt:        cutoff,
		RequestedAt:     now,
	}
	if err := repo.CreatePayout(ctx, payout); err != nil {
		return nil, err
	}

	txs := make([]models.PayoutTransaction, 0, len(selected))
	for _, c := range selected {
		claimed, err := repo.ClaimCommission(ctx, c.ID, payout.ID, now)
		if err != nil {
			return nil, err
		}
		if !claimed {
			return nil, pkgerrors.Newf(pkgerrors.CodeConcurrencyConflict, "commission %s was claimed by another payout", c.ID)
		}
		txs = append(txs, models.PayoutTransaction{
			ID:           uuid.New(),
			PayoutID:     payout.ID,
			CommissionID: c.ID,
			AmountMinor:  c.NetMinor,
			CreatedAt:    now,
		})
	}
	if err := repo.CreatePayoutTransactions(ctx, txs); err != nil {
		return nil, err
	}
	for _, adj := range absorbed {
		claimed, err := repo.ClaimAdjustment(ctx, adj.ID, payout.ID)
		if err != nil {
			return nil, err
		}
		if !claimed {
			return nil, pkgerrors.Newf(pkgerrors.CodeConcurrencyConflict, "adjustment %s was claimed by another payout", adj.ID)
		}
	}
	payout.Transactions = txs

	if err := s.emitPayout(ctx, tx, payout, enums.EventPayoutCreated, ""); err != nil {
		return nil, err
	}
	return payout, nil
}

// BuildDuePayouts builds a payout for every shop holding payable commissions.
// Shops with nothing to pay out are skipped.
func (s *Service) BuildDuePayouts(ctx context.Context, cutoff time.Time) ([]models.Payout, error) {
	var shopIDs []uuid.UUID
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ids, err := s.repo.WithTx(tx).ShopsWithPayables(ctx, cutoff.UTC())
		shopIDs = ids
		return err
	})
	if err != nil {
		return nil, err
	}

	var built []models.Payout
	for _, shopID := range shopIDs {
		p, err := s.BuildPayout(ctx, BuildPayoutInput{ShopID: shopID, Cutoff: cutoff})
		if pkgerrors.IsCode(err, pkgerrors.CodeNothingToPayout) {
			continue
		}
		if err != nil {
			return built, err
		}
		built = append(built, *p)
	}
	return built, nil
}

// GetPayout loads a payout with its transactions.
func (s *Service) GetPayout(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	var p *models.Payout
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		found, err := s.repo.WithTx(tx).FindPayout(ctx, id)
		p = found
		return err
	})
	return p, err
}

// MarkPayoutProcessing records that the disbursement was handed to the rail.
func (s *Service) MarkPayoutProcessing(ctx context.Context, id uuid.UUID, reference string) (*models.Payout, error) {
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reference number is required")
	}
	var out *models.Payout
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		p, err := repo.LockPayout(ctx, id)
		if err != nil {
			return err
		}
		if p.Status == enums.PayoutStatusProcessing && p.ReferenceNumber != nil && *p.ReferenceNumber == reference {
			out = p
			return nil
		}
		if p.Status != enums.PayoutStatusPending {
			return invalidPayoutTransition(p, enums.PayoutStatusProcessing)
		}
		if err := repo.UpdatePayout(ctx, p.ID, map[string]any{
			"status":           enums.PayoutStatusProcessing,
			"reference_number": reference,
			"updated_at":       s.clock(),
		}); err != nil {
			return err
		}
		p.Status = enums.PayoutStatusProcessing
		p.ReferenceNumber = &reference
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.PayoutTransition(string(enums.PayoutStatusProcessing))
	return out, nil
}

// MarkPayoutCompleted completes a pending or processing payout. Every linked
// commission moves cleared to paid_out and every absorbed adjustment to
// offset in the same transaction. Completing a completed payout is a no-op.
func (s *Service) MarkPayoutCompleted(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	var out *models.Payout
	completedNow := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		p, err := repo.LockPayout(ctx, id)
		if err != nil {
			return err
		}
		if p.Status == enums.PayoutStatusCompleted {
			out = p
			return nil
		}
		if p.Status != enums.PayoutStatusPending && p.Status != enums.PayoutStatusProcessing {
			return invalidPayoutTransition(p, enums.PayoutStatusCompleted)
		}

		now := s.clock()
		expected, err := repo.CountPayoutTransactions(ctx, p.ID)
		if err != nil {
			return err
		}
		paid, err := repo.PayClaimedCommissions(ctx, p.ID, now)
		if err != nil {
			return err
		}
		if paid != expected {
			return pkgerrors.Newf(pkgerrors.CodeInvalidState, "payout %s links %d commissions but only %d are payable", p.ID, expected, paid).
				WithDetails(map[string]any{"expected": expected, "payable": paid})
		}
		if err := repo.OffsetClaimedAdjustments(ctx, p.ID, now); err != nil {
			return err
		}
		if err := repo.UpdatePayout(ctx, p.ID, map[string]any{
			"status":       enums.PayoutStatusCompleted,
			"processed_at": now,
			"updated_at":   now,
		}); err != nil {
			return err
		}
		p.Status = enums.PayoutStatusCompleted
		p.ProcessedAt = &now

		if err := s.emitPayout(ctx, tx, p, enums.EventPayoutCompleted, ""); err != nil {
			return err
		}
		if err := s.notifyShop(ctx, tx, p, enums.NotificationTypePayoutCompleted, enums.NotificationPriorityNormal,
			"Payout of "+p.Amount().String()+" completed"); err != nil {
			return err
		}
		out = p
		completedNow = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if completedNow {
		s.metrics.PayoutTransition(string(enums.PayoutStatusCompleted))
		s.metrics.PayoutPaid(string(out.Currency), out.PayoutMinor)
		s.logg.Info(s.logg.WithField(ctx, "payout_id", out.ID.String()), "payout completed")
	}
	return out, nil
}

// MarkPayoutFailed fails a pending or processing payout and releases its
// commission and adjustment claims so a later build selects them again. The
// payout transactions stay as history, so a commission can be listed by one
// failed payout and by the payout that later carries it. Among payouts that
// have not failed it is listed at most once.
func (s *Service) MarkPayoutFailed(ctx context.Context, id uuid.UUID, reason string) (*models.Payout, error) {
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "failure reason is required")
	}
	var out *models.Payout
	failedNow := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		p, err := repo.LockPayout(ctx, id)
		if err != nil {
			return err
		}
		if p.Status == enums.PayoutStatusFailed {
			out = p
			return nil
		}
		if p.Status != enums.PayoutStatusPending && p.Status != enums.PayoutStatusProcessing {
			return invalidPayoutTransition(p, enums.PayoutStatusFailed)
		}
		now := s.clock()
		if _, err := repo.ReleaseClaims(ctx, p.ID, now); err != nil {
			return err
		}
		if err := repo.UpdatePayout(ctx, p.ID, map[string]any{
			"status":         enums.PayoutStatusFailed,
			"failed_at":      now,
			"failure_reason": reason,
			"updated_at":     now,
		}); err != nil {
			return err
		}
		p.Status = enums.PayoutStatusFailed
		p.FailedAt = &now
		p.FailureReason = &reason

		if err := s.emitPayout(ctx, tx, p, enums.EventPayoutFailed, reason); err != nil {
			return err
		}
		if err := s.notifyShop(ctx, tx, p, enums.NotificationTypePayoutFailed, enums.NotificationPriorityHigh,
			"Payout of "+p.Amount().String()+" failed: "+reason); err != nil {
			return err
		}
		out = p
		failedNow = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if failedNow {
		s.metrics.PayoutTransition(string(enums.PayoutStatusFailed))
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{"payout_id": out.ID.String(), "reason": reason}), "payout failed")
	}
	return out, nil
}

func (s *Service) emitPayout(ctx context.Context, tx *gorm.DB, p *models.Payout, event enums.OutboxEventType, reason string) error {
	count := len(p.Transactions)
	if count == 0 {
		n, err := s.repo.WithTx(tx).CountPayoutTransactions(ctx, p.ID)
		if err != nil {
			return err
		}
		count = int(n)
	}
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     event,
		AggregateType: enums.AggregatePayout,
		AggregateID:   p.ID,
		Data: payloads.PayoutEvent{
			PayoutID:        p.ID,
			ShopID:          p.ShopID,
			Currency:        p.Currency,
			AmountMinor:     p.PayoutMinor,
			Status:          p.Status,
			CommissionCount: count,
			Reason:          reason,
		},
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit payout event")
	}
	return nil
}

func (s *Service) notifyShop(ctx context.Context, tx *gorm.DB, p *models.Payout, kind enums.NotificationType, priority enums.NotificationPriority, message string) error {
	shop, err := s.shops.WithTx(tx).FindShop(ctx, p.ShopID)
	if err != nil {
		return err
	}
	payoutID, shopID := p.ID, p.ShopID
	if err := s.notifier.Request(ctx, tx, notifications.Request{
		Type:        kind,
		Priority:    priority,
		RecipientID: shop.OwnerID,
		Subject:     p.ID.String(),
		PayoutID:    &payoutID,
		ShopID:      &shopID,
		Message:     message,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "request payout notification")
	}
	return nil
}

func invalidPayoutTransition(p *models.Payout, target enums.PayoutStatus) error {
	return pkgerrors.Newf(pkgerrors.CodeInvalidTransition, "payout %s cannot move from %s to %s", p.ID, p.Status, target).
		WithDetails(map[string]any{"from": p.Status, "to": target})
}
