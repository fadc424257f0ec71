// Package settlement is the only writer of commission and payout state. It
// creates commissions at order confirmation, clears them, batches them into
// payouts and reverses them for refunds.
package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradepost/internal/catalog"
	"github.com/angelmondragon/tradepost/internal/commissions"
	"github.com/angelmondragon/tradepost/internal/notifications"
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

const clearBatchSize = 500

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Breakdowns splits a gross amount at a snapshotted rate.
type Breakdowns interface {
	Calculate(gross money.Money, rate decimal.Decimal) (commissions.Breakdown, error)
}

// Config holds the ledger's tunables.
type Config struct {
	ClearingPeriod time.Duration
	PayoutMethod   string
	Retry          retry.Policy
}

// Service owns commission and payout transitions.
type Service struct {
	tx         txRunner
	repo       *Repository
	calculator Breakdowns
	shops      *catalog.Repository
	outbox     outbox.Emitter
	notifier   *notifications.Dispatcher
	metrics    *metrics.LedgerMetrics
	logg       *logger.Logger
	cfg        Config
	now        func() time.Time
}

// Deps groups the collaborators of NewService.
type Deps struct {
	Tx         txRunner
	Repo       *Repository
	Calculator Breakdowns
	Shops      *catalog.Repository
	Outbox     outbox.Emitter
	Notifier   *notifications.Dispatcher
	Metrics    *metrics.LedgerMetrics
	Logger     *logger.Logger
}

func NewService(deps Deps, cfg Config) (*Service, error) {
	switch {
	case deps.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case deps.Repo == nil:
		return nil, fmt.Errorf("settlement repository required")
	case deps.Calculator == nil:
		return nil, fmt.Errorf("commission calculator required")
	case deps.Shops == nil:
		return nil, fmt.Errorf("catalog repository required")
	case deps.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	case deps.Notifier == nil:
		return nil, fmt.Errorf("notification dispatcher required")
	}
	if cfg.PayoutMethod == "" {
		cfg.PayoutMethod = "bank_transfer"
	}
	return &Service{
		tx:         deps.Tx,
		repo:       deps.Repo,
		calculator: deps.Calculator,
		shops:      deps.Shops,
		outbox:     deps.Outbox,
		notifier:   deps.Notifier,
		metrics:    deps.Metrics,
		logg:       deps.Logger,
		cfg:        cfg,
		now:        time.Now,
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

// CreateCommissions writes one pending commission per non-cancelled item of a
// confirming order, using the rate snapshotted on the item. Items that already
// have a commission keep it, so a retried confirmation creates nothing new.
func (s *Service) CreateCommissions(ctx context.Context, tx *gorm.DB, order *models.Order, items []models.OrderItem) ([]models.Commission, error) {
	repo := s.repo.WithTx(tx)
	existing, err := repo.ListByOrder(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	byItem := make(map[uuid.UUID]models.Commission, len(existing))
	for _, c := range existing {
		byItem[c.OrderItemID] = c
	}

	now := s.clock()
	var created []models.Commission
	out := make([]models.Commission, 0, len(items))
	shopSeen := map[uuid.UUID]struct{}{}
	var shopIDs []uuid.UUID
	for _, item := range items {
		if c, ok := byItem[item.ID]; ok {
			out = append(out, c)
			continue
		}
		if item.Status == enums.OrderItemStatusCancelled {
			continue
		}
		b, err := s.calculator.Calculate(money.New(item.TotalPriceMinor, order.Currency), item.CommissionRate)
		if err != nil {
			return nil, err
		}
		c := models.Commission{
			ID:               uuid.New(),
			OrderID:          order.ID,
			OrderItemID:      item.ID,
			ShopID:           item.ShopID,
			Currency:         order.Currency,
			CommissionRate:   item.CommissionRate,
			GrossMinor:       b.Gross.Minor(),
			CommissionMinor:  b.Commission.Minor(),
			PlatformFeeMinor: b.PlatformFee.Minor(),
			NetMinor:         b.Net.Minor(),
			Status:           enums.CommissionStatusPending,
			CalculatedAt:     now,
		}
		created = append(created, c)
		out = append(out, c)
		if _, ok := shopSeen[item.ShopID]; !ok {
			shopSeen[item.ShopID] = struct{}{}
			shopIDs = append(shopIDs, item.ShopID)
		}
	}
	if len(created) == 0 {
		return out, nil
	}
	if err := repo.CreateCommissions(ctx, created); err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, len(created))
	for i := range created {
		ids[i] = created[i].ID
	}
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventCommissionsCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Data: payloads.CommissionsCreatedEvent{
			OrderID:       order.ID,
			CommissionIDs: ids,
			ShopIDs:       shopIDs,
		},
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit commissions created")
	}
	s.metrics.CommissionTransition(string(enums.CommissionStatusPending), len(created))
	return out, nil
}

// ClearCommission releases a pending commission for payout. Clearing an
// already cleared commission returns it unchanged.
func (s *Service) ClearCommission(ctx context.Context, id uuid.UUID) (*models.Commission, error) {
	var out *models.Commission
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		c, err := repo.LockCommission(ctx, id)
		if err != nil {
			return err
		}
		if c.Status == enums.CommissionStatusCleared {
			out = c
			return nil
		}
		if c.Status != enums.CommissionStatusPending {
			return invalidCommissionTransition(c, enums.CommissionStatusCleared)
		}
		if err := s.clear(ctx, tx, c); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) clear(ctx context.Context, tx *gorm.DB, c *models.Commission) error {
	now := s.clock()
	ok, err := s.repo.WithTx(tx).TransitionCommission(ctx, c.ID,
		[]enums.CommissionStatus{enums.CommissionStatusPending},
		map[string]any{"status": enums.CommissionStatusCleared, "cleared_at": now, "updated_at": now})
	if err != nil {
		return err
	}
	if !ok {
		return pkgerrors.Newf(pkgerrors.CodeConcurrencyConflict, "commission %s changed while clearing", c.ID)
	}
	c.Status = enums.CommissionStatusCleared
	c.ClearedAt = &now
	if err := s.emitCommissionStatus(ctx, tx, c, enums.EventCommissionCleared, ""); err != nil {
		return err
	}
	s.metrics.CommissionTransition(string(enums.CommissionStatusCleared), 1)
	return nil
}

// ClearEligible clears every pending commission whose item was delivered at
// least one clearing period before now. It returns how many were cleared.
func (s *Service) ClearEligible(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.UTC().Add(-s.cfg.ClearingPeriod)
	cleared := 0
	for {
		var batch int
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			rows, err := s.repo.WithTx(tx).ClearableCommissions(ctx, cutoff, clearBatchSize)
			if err != nil {
				return err
			}
			for i := range rows {
				if err := s.clear(ctx, tx, &rows[i]); err != nil {
					return err
				}
			}
			batch = len(rows)
			return nil
		})
		if err != nil {
			return cleared, err
		}
		cleared += batch
		if batch < clearBatchSize {
			break
		}
	}
	if cleared > 0 {
		s.logg.Info(s.logg.WithField(ctx, "cleared", cleared), "commissions cleared")
	}
	return cleared, nil
}

// DisputeCommission puts a pending or cleared commission on manual hold.
// Commissions held by an open payout cannot be disputed.
func (s *Service) DisputeCommission(ctx context.Context, id uuid.UUID, reason string) (*models.Commission, error) {
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "dispute reason is required")
	}
	var out *models.Commission
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		c, err := repo.LockCommission(ctx, id)
		if err != nil {
			return err
		}
		if c.Status != enums.CommissionStatusPending && c.Status != enums.CommissionStatusCleared {
			return invalidCommissionTransition(c, enums.CommissionStatusDisputed)
		}
		if c.PayoutID != nil {
			return pkgerrors.Newf(pkgerrors.CodeInvalidState, "commission %s is held by payout %s", c.ID, *c.PayoutID).
				WithDetails(map[string]any{"payout_id": c.PayoutID.String()})
		}
		now := s.clock()
		ok, err := repo.TransitionCommission(ctx, c.ID,
			[]enums.CommissionStatus{c.Status},
			map[string]any{"status": enums.CommissionStatusDisputed, "dispute_reason": reason, "disputed_at": now, "updated_at": now})
		if err != nil {
			return err
		}
		if !ok {
			return pkgerrors.Newf(pkgerrors.CodeConcurrencyConflict, "commission %s changed while disputing", c.ID)
		}
		c.Status = enums.CommissionStatusDisputed
		c.DisputeReason = &reason
		c.DisputedAt = &now
		if err := s.emitCommissionStatus(ctx, tx, c, enums.EventCommissionDisputed, reason); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.CommissionTransition(string(enums.CommissionStatusDisputed), 1)
	return out, nil
}

// ResolveDispute returns a disputed commission to cleared.
func (s *Service) ResolveDispute(ctx context.Context, id uuid.UUID) (*models.Commission, error) {
	var out *models.Commission
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		c, err := repo.LockCommission(ctx, id)
		if err != nil {
			return err
		}
		if c.Status != enums.CommissionStatusDisputed {
			return invalidCommissionTransition(c, enums.CommissionStatusCleared)
		}
		now := s.clock()
		ok, err := repo.TransitionCommission(ctx, c.ID,
			[]enums.CommissionStatus{enums.CommissionStatusDisputed},
			map[string]any{"status": enums.CommissionStatusCleared, "cleared_at": now, "updated_at": now})
		if err != nil {
			return err
		}
		if !ok {
			return pkgerrors.Newf(pkgerrors.CodeConcurrencyConflict, "commission %s changed while resolving", c.ID)
		}
		c.Status = enums.CommissionStatusCleared
		c.ClearedAt = &now
		if err := s.emitCommissionStatus(ctx, tx, c, enums.EventCommissionCleared, ""); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.CommissionTransition(string(enums.CommissionStatusCleared), 1)
	return out, nil
}

// VoidForOrder voids the unclaimed commissions of a cancelled order.
func (s *Service) VoidForOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (int64, error) {
	return s.void(ctx, tx, orderID, nil)
}

// VoidForItems voids the unclaimed commissions of cancelled items.
func (s *Service) VoidForItems(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, itemIDs []uuid.UUID) (int64, error) {
	if len(itemIDs) == 0 {
		return 0, nil
	}
	return s.void(ctx, tx, orderID, itemIDs)
}

func (s *Service) void(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, itemIDs []uuid.UUID) (int64, error) {
	n, err := s.repo.WithTx(tx).VoidOrderCommissions(ctx, orderID, itemIDs, s.clock())
	if err != nil {
		return 0, err
	}
	s.metrics.CommissionTransition(string(enums.CommissionStatusVoided), int(n))
	return n, nil
}

// ListOrderCommissions returns the commissions of an order.
func (s *Service) ListOrderCommissions(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) ([]models.Commission, error) {
	return s.repo.WithTx(tx).ListByOrder(ctx, orderID)
}

func (s *Service) emitCommissionStatus(ctx context.Context, tx *gorm.DB, c *models.Commission, event enums.OutboxEventType, reason string) error {
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     event,
		AggregateType: enums.AggregateCommission,
		AggregateID:   c.ID,
		Data: payloads.CommissionStatusEvent{
			CommissionID: c.ID,
			ShopID:       c.ShopID,
			Status:       c.Status,
			Reason:       reason,
		},
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit commission status")
	}
	return nil
}

func invalidCommissionTransition(c *models.Commission, target enums.CommissionStatus) error {
	return pkgerrors.Newf(pkgerrors.CodeInvalidTransition, "commission %s cannot move from %s to %s", c.ID, c.Status, target).
		WithDetails(map[string]any{"from": c.Status, "to": target})
}
