// Package refunds coordinates refund requests with the order aggregate and the
// settlement ledger so a refund, its commission reversals and the order state
// change commit together.
package refunds

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradepost/internal/notifications"
	"github.com/angelmondragon/tradepost/internal/orders"
	"github.com/angelmondragon/tradepost/internal/settlement"
	"github.com/angelmondragon/tradepost/pkg/db/models"
	"github.com/angelmondragon/tradepost/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradepost/pkg/errors"
	"github.com/angelmondragon/tradepost/pkg/logger"
	"github.com/angelmondragon/tradepost/pkg/metrics"
	"github.com/angelmondragon/tradepost/pkg/money"
	"github.com/angelmondragon/tradepost/pkg/outbox"
	"github.com/angelmondragon/tradepost/pkg/outbox/payloads"
	"github.com/angelmondragon/tradepost/pkg/retry"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// OrderRefunder applies an approved refund to the order aggregate.
type OrderRefunder interface {
	ApplyRefund(ctx context.Context, tx *gorm.DB, input orders.RefundApplication) (*models.Order, error)
}

// CommissionReverser reverses the commissions of refunded items.
type CommissionReverser interface {
	ReverseForRefund(ctx context.Context, tx *gorm.DB, refund *models.OrderRefund, items []settlement.ItemRefund) ([]settlement.Reversal, error)
}

// RequestInput opens a refund. A nil ItemID refunds against the whole order.
type RequestInput struct {
	OrderID uuid.UUID
	ItemID  *uuid.UUID
	Amount  money.Money
	Reason  string
	Actor   string
	Notes   *string
}

// Approval is the outcome of ApproveRefund.
type Approval struct {
	Refund    *models.OrderRefund
	Order     *models.Order
	Reversals []settlement.Reversal
}

type Deps struct {
	Tx       txRunner
	Repo     *Repository
	Orders   OrderRefunder
	Ledger   CommissionReverser
	Outbox   outbox.Emitter
	Notifier *notifications.Dispatcher
	Metrics  *metrics.LedgerMetrics
	Logger   *logger.Logger
}

type Config struct {
	Retry retry.Policy
}

type Service struct {
	tx       txRunner
	repo     *Repository
	orders   OrderRefunder
	ledger   CommissionReverser
	outbox   outbox.Emitter
	notifier *notifications.Dispatcher
	metrics  *metrics.LedgerMetrics
	logg     *logger.Logger
	cfg      Config
	now      func() time.Time
}

func NewService(deps Deps, cfg Config) (*Service, error) {
	switch {
	case deps.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case deps.Repo == nil:
		return nil, fmt.Errorf("refunds repository required")
	case deps.Orders == nil:
		return nil, fmt.Errorf("order refunder required")
	case deps.Ledger == nil:
		return nil, fmt.Errorf("commission reverser required")
	case deps.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	case deps.Notifier == nil:
		return nil, fmt.Errorf("notification dispatcher required")
	}
	return &Service{
		tx:       deps.Tx,
		repo:     deps.Repo,
		orders:   deps.Orders,
		ledger:   deps.Ledger,
		outbox:   deps.Outbox,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		logg:     deps.Logger,
		cfg:      cfg,
		now:      time.Now,
	}, nil
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

func (s *Service) GetRefund(ctx context.Context, id uuid.UUID) (*models.OrderRefund, error) {
	return s.repo.Find(ctx, id)
}

func (s *Service) ListRefunds(ctx context.Context, orderID uuid.UUID) ([]models.OrderRefund, error) {
	return s.repo.ListByOrder(ctx, orderID)
}

// RequestRefund records a pending refund. The amount may not exceed what is
// left to refund on the item, or on the order for whole-order refunds, after
// every refund that has not been rejected.
func (s *Service) RequestRefund(ctx context.Context, in RequestInput) (*models.OrderRefund, error) {
	in.Reason = strings.TrimSpace(in.Reason)
	switch {
	case in.Reason == "":
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund reason is required")
	case strings.TrimSpace(in.Actor) == "":
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "actor is required")
	case !in.Amount.IsPositive():
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}

	var out *models.OrderRefund
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.LockOrder(ctx, in.OrderID)
		if err != nil {
			return err
		}
		if order.ConfirmedAt == nil || (order.Status.IsTerminal() && order.Status != enums.OrderStatusDelivered) {
			return pkgerrors.Newf(pkgerrors.CodeInvalidState, "order %s is %s and cannot be refunded", order.ID, order.Status).
				WithDetails(map[string]any{"status": order.Status})
		}
		if in.Amount.Currency() != order.Currency {
			return pkgerrors.Newf(pkgerrors.CodeCurrencyMismatch, "refund in %s for an order in %s", in.Amount.Currency(), order.Currency)
		}

		limit, err := s.refundable(ctx, repo, order, in.ItemID)
		if err != nil {
			return err
		}
		if in.Amount.Minor() > limit.Minor() {
			return pkgerrors.Newf(pkgerrors.CodeValidation, "refund %s exceeds refundable %s", in.Amount, limit).
				WithDetails(map[string]any{"refundable_minor": limit.Minor()})
		}

		refund := &models.OrderRefund{
			ID:                uuid.New(),
			OrderID:           order.ID,
			OrderItemID:       in.ItemID,
			RefundAmountMinor: in.Amount.Minor(),
			Currency:          order.Currency,
			Reason:            in.Reason,
			Status:            enums.RefundStatusPending,
			RequestedBy:       in.Actor,
			Notes:             in.Notes,
			CreatedAt:         s.clock(),
		}
		if err := repo.Create(ctx, refund); err != nil {
			return err
		}
		if err := s.emit(ctx, tx, refund, enums.EventRefundRequested, in.Actor); err != nil {
			return err
		}
		out = refund
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RefundTransition(string(enums.RefundStatusPending))
	s.logg.Info(s.logg.WithFields(s.logg.WithOrderID(ctx, out.OrderID.String()), map[string]any{
		"refund_id": out.ID.String(),
		"amount":    out.Amount().String(),
	}), "refund requested")
	return out, nil
}

// refundable is the amount still open for refund on the order or item.
func (s *Service) refundable(ctx context.Context, repo *Repository, order *models.Order, itemID *uuid.UUID) (money.Money, error) {
	open, err := repo.OpenAmount(ctx, order.ID, nil)
	if err != nil {
		return money.Money{}, err
	}
	limit, err := order.Total().Sub(money.New(open, order.Currency))
	if err != nil {
		return money.Money{}, err
	}
	if itemID == nil {
		return limit, nil
	}

	var item *models.OrderItem
	for i := range order.Items {
		if order.Items[i].ID == *itemID {
			item = &order.Items[i]
		}
	}
	if item == nil {
		return money.Money{}, pkgerrors.Newf(pkgerrors.CodeNotFound, "item %s not found on order %s", *itemID, order.ID)
	}
	if item.Status == enums.OrderItemStatusCancelled || item.Status == enums.OrderItemStatusRefunded {
		return money.Money{}, pkgerrors.Newf(pkgerrors.CodeInvalidState, "item %s is %s", item.ID, item.Status).
			WithDetails(map[string]any{"status": item.Status})
	}
	itemOpen, err := repo.OpenAmount(ctx, order.ID, itemID)
	if err != nil {
		return money.Money{}, err
	}
	itemLimit := money.New(item.TotalPriceMinor-itemOpen, order.Currency)
	return itemLimit.Min(limit)
}

// ApproveRefund reverses commissions, marks the refunded items (and the order
// for whole-order refunds) and approves the refund in one transaction.
// Approving an approved or processed refund returns it unchanged.
func (s *Service) ApproveRefund(ctx context.Context, id uuid.UUID, actor string) (*Approval, error) {
	if strings.TrimSpace(actor) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "actor is required")
	}

	var out *Approval
	approvedNow := false
	err := retry.Do(ctx, s.cfg.Retry, func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			refund, err := repo.Lock(ctx, id)
			if err != nil {
				return err
			}
			switch refund.Status {
			case enums.RefundStatusApproved, enums.RefundStatusProcessed:
				out = &Approval{Refund: refund}
				return nil
			case enums.RefundStatusRejected:
				return invalidTransition(refund, enums.RefundStatusApproved)
			}

			order, err := repo.LockOrder(ctx, refund.OrderID)
			if err != nil {
				return err
			}
			shares, err := allocate(refund, order)
			if err != nil {
				return err
			}
			reversals, err := s.ledger.ReverseForRefund(ctx, tx, refund, shares)
			if err != nil {
				return err
			}

			itemIDs := make([]uuid.UUID, len(shares))
			for i, share := range shares {
				itemIDs[i] = share.ItemID
			}
			updated, err := s.orders.ApplyRefund(ctx, tx, orders.RefundApplication{
				OrderID:    order.ID,
				RefundID:   refund.ID,
				ItemIDs:    itemIDs,
				WholeOrder: refund.OrderItemID == nil,
				Actor:      actor,
			})
			if err != nil {
				return err
			}

			now := s.clock()
			ok, err := repo.Transition(ctx, refund.ID, []enums.RefundStatus{enums.RefundStatusPending}, map[string]any{
				"status":       enums.RefundStatusApproved,
				"approved_at":  now,
				"processed_by": actor,
				"updated_at":   now,
			})
			if err != nil {
				return err
			}
			if !ok {
				return pkgerrors.Newf(pkgerrors.CodeConcurrencyConflict, "refund %s changed while approving", refund.ID)
			}
			refund.Status = enums.RefundStatusApproved
			refund.ApprovedAt = &now
			refund.ProcessedBy = &actor

			if err := s.emit(ctx, tx, refund, enums.EventRefundApproved, actor); err != nil {
				return err
			}
			if err := s.notify(ctx, tx, refund, order.CustomerID, enums.NotificationTypeRefundApproved,
				fmt.Sprintf("Your refund of %s was approved", refund.Amount())); err != nil {
				return err
			}
			out = &Approval{Refund: refund, Order: updated, Reversals: reversals}
			approvedNow = true
			return nil
		})
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeConcurrencyConflict) {
			s.metrics.Conflict("approve_refund")
		}
		return nil, err
	}

	if approvedNow {
		s.metrics.RefundTransition(string(enums.RefundStatusApproved))
		s.logg.Info(s.logg.WithFields(s.logg.WithOrderID(ctx, out.Refund.OrderID.String()), map[string]any{
			"refund_id": out.Refund.ID.String(),
			"reversals": len(out.Reversals),
			"actor":     actor,
		}), "refund approved")
	}
	return out, nil
}

// allocate attributes the refund to items. Whole-order refunds are split over
// the items not yet refunded or cancelled, weighted by their total price. No
// item is attributed more than its own total; the remainder covers tax and
// shipping, which carry no commission.
func allocate(refund *models.OrderRefund, order *models.Order) ([]settlement.ItemRefund, error) {
	if refund.OrderItemID != nil {
		return []settlement.ItemRefund{{ItemID: *refund.OrderItemID, Amount: refund.Amount()}}, nil
	}

	var candidates []models.OrderItem
	for _, item := range order.Items {
		if item.Status == enums.OrderItemStatusCancelled || item.Status == enums.OrderItemStatusRefunded {
			continue
		}
		candidates = append(candidates, item)
	}
	if len(candidates) == 0 {
		return nil, pkgerrors.Newf(pkgerrors.CodeInvalidState, "order %s has no refundable items", order.ID)
	}
	weights := make([]int64, len(candidates))
	for i, item := range candidates {
		weights[i] = item.TotalPriceMinor
	}
	parts, err := refund.Amount().Split(weights)
	if err != nil {
		return nil, err
	}
	shares := make([]settlement.ItemRefund, len(candidates))
	for i, item := range candidates {
		share := parts[i]
		if share.Minor() > item.TotalPriceMinor {
			share = money.New(item.TotalPriceMinor, share.Currency())
		}
		shares[i] = settlement.ItemRefund{ItemID: item.ID, Amount: share}
	}
	return shares, nil
}

// RejectRefund closes a pending refund without touching the order or ledger.
func (s *Service) RejectRefund(ctx context.Context, id uuid.UUID, actor, reason string) (*models.OrderRefund, error) {
	if strings.TrimSpace(actor) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "actor is required")
	}

	var out *models.OrderRefund
	changed := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		refund, err := repo.Lock(ctx, id)
		if err != nil {
			return err
		}
		out = refund
		switch refund.Status {
		case enums.RefundStatusRejected:
			return nil
		case enums.RefundStatusPending:
		default:
			return invalidTransition(refund, enums.RefundStatusRejected)
		}

		now := s.clock()
		updates := map[string]any{
			"status":       enums.RefundStatusRejected,
			"processed_by": actor,
			"processed_at": now,
			"updated_at":   now,
		}
		if reason = strings.TrimSpace(reason); reason != "" {
			updates["notes"] = reason
			refund.Notes = &reason
		}
		ok, err := repo.Transition(ctx, refund.ID, []enums.RefundStatus{enums.RefundStatusPending}, updates)
		if err != nil {
			return err
		}
		if !ok {
			return pkgerrors.Newf(pkgerrors.CodeConcurrencyConflict, "refund %s changed while rejecting", refund.ID)
		}
		refund.Status = enums.RefundStatusRejected
		refund.ProcessedBy = &actor
		refund.ProcessedAt = &now

		if err := s.emit(ctx, tx, refund, enums.EventRefundRejected, actor); err != nil {
			return err
		}
		var customerID string
		if err := tx.WithContext(ctx).Model(&models.Order{}).Where("id = ?", refund.OrderID).
			Pluck("customer_id", &customerID).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load refund customer")
		}
		if err := s.notify(ctx, tx, refund, customerID, enums.NotificationTypeRefundRejected,
			"Your refund request was declined"); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.metrics.RefundTransition(string(enums.RefundStatusRejected))
		s.logg.Info(s.logg.WithField(ctx, "refund_id", out.ID.String()), "refund rejected")
	}
	return out, nil
}

// MarkRefundProcessed records that the payment provider returned the money.
func (s *Service) MarkRefundProcessed(ctx context.Context, id uuid.UUID, actor string) (*models.OrderRefund, error) {
	if strings.TrimSpace(actor) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "actor is required")
	}

	var out *models.OrderRefund
	changed := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		refund, err := repo.Lock(ctx, id)
		if err != nil {
			return err
		}
		out = refund
		switch refund.Status {
		case enums.RefundStatusProcessed:
			return nil
		case enums.RefundStatusApproved:
		default:
			return invalidTransition(refund, enums.RefundStatusProcessed)
		}

		now := s.clock()
		ok, err := repo.Transition(ctx, refund.ID, []enums.RefundStatus{enums.RefundStatusApproved}, map[string]any{
			"status":       enums.RefundStatusProcessed,
			"processed_by": actor,
			"processed_at": now,
			"updated_at":   now,
		})
		if err != nil {
			return err
		}
		if !ok {
			return pkgerrors.Newf(pkgerrors.CodeConcurrencyConflict, "refund %s changed while processing", refund.ID)
		}
		refund.Status = enums.RefundStatusProcessed
		refund.ProcessedBy = &actor
		refund.ProcessedAt = &now
		changed = true
		return s.emit(ctx, tx, refund, enums.EventRefundProcessed, actor)
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.metrics.RefundTransition(string(enums.RefundStatusProcessed))
	}
	return out, nil
}

func (s *Service) emit(ctx context.Context, tx *gorm.DB, refund *models.OrderRefund, event enums.OutboxEventType, actor string) error {
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     event,
		AggregateType: enums.AggregateRefund,
		AggregateID:   refund.ID,
		Actor:         actor,
		Data: payloads.RefundEvent{
			RefundID:    refund.ID,
			OrderID:     refund.OrderID,
			OrderItemID: refund.OrderItemID,
			Currency:    refund.Currency,
			AmountMinor: refund.RefundAmountMinor,
			Status:      refund.Status,
		},
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit "+string(event))
	}
	return nil
}

func (s *Service) notify(ctx context.Context, tx *gorm.DB, refund *models.OrderRefund, recipient string, kind enums.NotificationType, message string) error {
	refundID, orderID := refund.ID, refund.OrderID
	if err := s.notifier.Request(ctx, tx, notifications.Request{
		Type:        kind,
		Priority:    enums.NotificationPriorityHigh,
		RecipientID: recipient,
		Subject:     refund.ID.String(),
		OrderID:     &orderID,
		RefundID:    &refundID,
		Message:     message,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "request refund notification")
	}
	return nil
}

func invalidTransition(refund *models.OrderRefund, to enums.RefundStatus) error {
	return pkgerrors.Newf(pkgerrors.CodeInvalidTransition, "refund %s cannot move from %s to %s", refund.ID, refund.Status, to).
		WithDetails(map[string]any{"from": refund.Status, "to": to})
}
