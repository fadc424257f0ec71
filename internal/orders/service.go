// Package orders is the order aggregate: creation, discounts before the
// totals freeze, confirmation and the fulfilment lifecycle.
package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradepost/internal/notifications"
	"github.com/angelmondragon/tradepost/pkg/db/models"
	"github.com/angelmondragon/tradepost/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradepost/pkg/errors"
	"github.com/angelmondragon/tradepost/pkg/identity"
	"github.com/angelmondragon/tradepost/pkg/inventory"
	"github.com/angelmondragon/tradepost/pkg/logger"
	"github.com/angelmondragon/tradepost/pkg/metrics"
	"github.com/angelmondragon/tradepost/pkg/money"
	"github.com/angelmondragon/tradepost/pkg/outbox"
	"github.com/angelmondragon/tradepost/pkg/outbox/payloads"
	"github.com/angelmondragon/tradepost/pkg/pagination"
	"github.com/angelmondragon/tradepost/pkg/retry"
)

// Deps groups the collaborators of NewService.
type Deps struct {
	Tx        txRunner
	Repo      Repository
	Catalog   CatalogReader
	Rates     RateResolver
	Discounts DiscountEvaluator
	Ledger    CommissionLedger
	Inventory inventory.Checker
	Identity  identity.Directory
	Outbox    outbox.Emitter
	Notifier  *notifications.Dispatcher
	Metrics   *metrics.LedgerMetrics
	Logger    *logger.Logger
}

// Config holds the aggregate's tunables.
type Config struct {
	Retry retry.Policy
}

// Option customises the service.
type Option func(*service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

type service struct {
	tx        txRunner
	repo      Repository
	catalog   CatalogReader
	rates     RateResolver
	discounts DiscountEvaluator
	ledger    CommissionLedger
	inventory inventory.Checker
	identity  identity.Directory
	outbox    outbox.Emitter
	notifier  *notifications.Dispatcher
	metrics   *metrics.LedgerMetrics
	logg      *logger.Logger
	cfg       Config
	now       func() time.Time
}

// NewService builds the order aggregate with the required dependencies.
func NewService(deps Deps, cfg Config, opts ...Option) (Service, error) {
	switch {
	case deps.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case deps.Repo == nil:
		return nil, fmt.Errorf("orders repository required")
	case deps.Catalog == nil:
		return nil, fmt.Errorf("catalog reader required")
	case deps.Rates == nil:
		return nil, fmt.Errorf("rate resolver required")
	case deps.Discounts == nil:
		return nil, fmt.Errorf("discount evaluator required")
	case deps.Ledger == nil:
		return nil, fmt.Errorf("commission ledger required")
	case deps.Inventory == nil:
		return nil, fmt.Errorf("inventory checker required")
	case deps.Identity == nil:
		return nil, fmt.Errorf("identity directory required")
	case deps.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	case deps.Notifier == nil:
		return nil, fmt.Errorf("notification dispatcher required")
	}
	s := &service{
		tx:        deps.Tx,
		repo:      deps.Repo,
		catalog:   deps.Catalog,
		rates:     deps.Rates,
		discounts: deps.Discounts,
		ledger:    deps.Ledger,
		inventory: deps.Inventory,
		identity:  deps.Identity,
		outbox:    deps.Outbox,
		notifier:  deps.Notifier,
		metrics:   deps.Metrics,
		logg:      deps.Logger,
		cfg:       cfg,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *service) clock() time.Time {
	return s.now().UTC()
}

// CreateOrder validates the request against identity, catalog and inventory,
// snapshots prices and commission rates, applies automatic shop policies and
// persists a pending order. External lookups happen before the transaction
// opens.
func (s *service) CreateOrder(ctx context.Context, input CreateOrderInput) (*models.Order, error) {
	tax, shipping, err := validateCreate(&input)
	if err != nil {
		return nil, err
	}

	user, err := s.identity.GetUser(ctx, input.CustomerID)
	if err != nil {
		return nil, err
	}
	if !user.Active {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "customer %s is not active", input.CustomerID)
	}

	items, lines, err := s.priceItems(ctx, input)
	if err != nil {
		return nil, err
	}
	if err := s.inventory.CheckAvailability(ctx, lines); err != nil {
		return nil, err
	}

	subtotal := money.Zero(input.Currency)
	for _, item := range items {
		if subtotal, err = subtotal.Add(money.New(item.TotalPriceMinor, input.Currency)); err != nil {
			return nil, err
		}
	}

	var order *models.Order
	err = retry.Do(ctx, s.cfg.Retry, func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			now := s.clock()
			o := &models.Order{
				ID:            uuid.New(),
				OrderNumber:   orderNumber(now),
				CustomerID:    input.CustomerID,
				Status:        enums.OrderStatusPending,
				Currency:      input.Currency,
				SubtotalMinor: subtotal.Minor(),
				TaxMinor:      tax.Minor(),
				ShippingMinor: shipping.Minor(),
				Notes:         input.Notes,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			o.Items = make([]models.OrderItem, len(items))
			for i, item := range items {
				item.ID = uuid.New()
				item.OrderID = o.ID
				item.CreatedAt, item.UpdatedAt = now, now
				o.Items[i] = item
			}
			o.Addresses = buildAddresses(o.ID, input.Addresses, now)

			decision, err := s.discounts.EvaluateAutomatic(ctx, tx, snapshotOf(o, user.Groups))
			if err != nil {
				return err
			}
			if err := applyDecision(o, decision); err != nil {
				return err
			}

			repo := s.repo.WithTx(tx)
			if err := repo.CreateOrder(ctx, o); err != nil {
				return err
			}
			if err := s.appendHistory(ctx, repo, o.ID, nil, enums.OrderStatusPending, input.CustomerID, nil, now); err != nil {
				return err
			}
			if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventOrderCreated,
				AggregateType: enums.AggregateOrder,
				AggregateID:   o.ID,
				Actor:         input.CustomerID,
				Data: payloads.OrderCreatedEvent{
					OrderID:     o.ID,
					OrderNumber: o.OrderNumber,
					CustomerID:  o.CustomerID,
					Currency:    o.Currency,
					TotalMinor:  o.TotalMinor,
					ItemCount:   len(o.Items),
				},
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order created")
			}
			order = o
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithFields(s.logg.WithOrderID(ctx, order.ID.String()), map[string]any{
		"order_number": order.OrderNumber,
		"total":        order.Total().String(),
	})
	s.logg.Info(ctx, "order created")
	return order, nil
}

type rateKey struct {
	shop     uuid.UUID
	category uuid.UUID
}

// priceItems turns requested lines into order items with price and rate
// snapshots, and the inventory lines to check.
func (s *service) priceItems(ctx context.Context, input CreateOrderInput) ([]models.OrderItem, []inventory.Line, error) {
	ids := make([]uuid.UUID, 0, len(input.Items))
	for _, req := range input.Items {
		ids = append(ids, req.VariantID)
	}
	variants, err := s.catalog.FindVariants(ctx, ids)
	if err != nil {
		return nil, nil, err
	}

	shopIDs := make([]uuid.UUID, 0, len(variants))
	for _, v := range variants {
		if v.Product != nil {
			shopIDs = append(shopIDs, v.Product.ShopID)
		}
	}
	shops, err := s.catalog.FindShops(ctx, shopIDs)
	if err != nil {
		return nil, nil, err
	}

	rates := map[rateKey]decimal.Decimal{}
	items := make([]models.OrderItem, 0, len(input.Items))
	quantities := map[uuid.UUID]int{}
	var lineOrder []uuid.UUID
	for i, req := range input.Items {
		v, ok := variants[req.VariantID]
		if !ok || v.Product == nil {
			return nil, nil, pkgerrors.Newf(pkgerrors.CodeValidation, "variant %s does not exist", req.VariantID).
				WithDetails(map[string]any{"variant_id": req.VariantID.String()})
		}
		if !v.IsActive || v.Product.Status != enums.ProductStatusActive {
			return nil, nil, pkgerrors.Newf(pkgerrors.CodeValidation, "variant %s is not for sale", req.VariantID).
				WithDetails(map[string]any{"variant_id": req.VariantID.String()})
		}
		if shop, ok := shops[v.Product.ShopID]; !ok || shop.Status != enums.ShopStatusApproved {
			return nil, nil, pkgerrors.Newf(pkgerrors.CodeValidation, "shop %s is not accepting orders", v.Product.ShopID).
				WithDetails(map[string]any{"shop_id": v.Product.ShopID.String()})
		}
		if v.Currency != input.Currency {
			return nil, nil, pkgerrors.Newf(pkgerrors.CodeCurrencyMismatch, "variant %s is priced in %s, order is in %s", v.ID, v.Currency, input.Currency)
		}

		total := money.New(v.PriceMinor, v.Currency).Times(int64(req.Quantity))
		key := rateKey{shop: v.Product.ShopID, category: v.Product.CategoryID}
		rate, ok := rates[key]
		if !ok {
			if rate, err = s.rates.RateFor(ctx, key.shop, key.category); err != nil {
				return nil, nil, err
			}
			rates[key] = rate
		}
		breakdown, err := s.rates.Calculate(total, rate)
		if err != nil {
			return nil, nil, err
		}

		items = append(items, models.OrderItem{
			ProductID:             v.ProductID,
			VariantID:             v.ID,
			ShopID:                key.shop,
			CategoryID:            key.category,
			Position:              i,
			Quantity:              req.Quantity,
			UnitPriceMinor:        v.PriceMinor,
			TotalPriceMinor:       total.Minor(),
			CommissionRate:        rate,
			CommissionAmountMinor: breakdown.Commission.Minor(),
			Status:                enums.OrderItemStatusPending,
		})
		if _, seen := quantities[v.ID]; !seen {
			lineOrder = append(lineOrder, v.ID)
		}
		quantities[v.ID] += req.Quantity
	}

	lines := make([]inventory.Line, len(lineOrder))
	for i, id := range lineOrder {
		lines[i] = inventory.Line{VariantID: id, Quantity: quantities[id]}
	}
	return items, lines, nil
}

func (s *service) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return s.repo.FindOrder(ctx, id)
}

func (s *service) ListOrders(ctx context.Context, customerID string, params pagination.Params) (*OrderList, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}
	return s.repo.ListCustomerOrders(ctx, customerID, params)
}

// ApplyCoupon evaluates code against a pending order and replaces the order
// discount with the decision. The automatic policy discount does not stack
// with a coupon.
func (s *service) ApplyCoupon(ctx context.Context, orderID uuid.UUID, code string) (*CouponResult, error) {
	if strings.TrimSpace(code) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "coupon code is required")
	}
	var result *CouponResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != enums.OrderStatusPending {
			return pkgerrors.Newf(pkgerrors.CodeInvalidState, "coupons can only be applied to pending orders, order %s is %s", order.ID, order.Status).
				WithDetails(map[string]any{"status": order.Status})
		}

		decision, err := s.discounts.EvaluateCode(ctx, tx, code, snapshotOf(order, nil))
		if err != nil {
			return err
		}
		if err := applyDecision(order, decision); err != nil {
			return err
		}
		order.UpdatedAt = s.clock()
		if err := repo.SaveDiscount(ctx, order); err != nil {
			return err
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderDiscountApplied,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: payloads.OrderDiscountAppliedEvent{
				OrderID:       order.ID,
				CouponID:      order.CouponID,
				DiscountMinor: order.DiscountMinor,
				TotalMinor:    order.TotalMinor,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit discount applied")
		}
		result = &CouponResult{Order: order, Decision: decision}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ConfirmOrder moves a pending order to processing. Inventory is committed
// while the order row is locked, so concurrent confirmations serialize on it;
// the status change, coupon usage, commissions, event and notification then
// commit together. If anything after the inventory commit fails, the stock is
// released before the error is returned. Confirming a confirmed order returns
// it with its existing commissions.
func (s *service) ConfirmOrder(ctx context.Context, orderID uuid.UUID, actor string) (*ConfirmResult, error) {
	if strings.TrimSpace(actor) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "actor is required")
	}

	var result *ConfirmResult
	confirmedNow := false
	committed := false
	err := retry.Do(ctx, s.cfg.Retry, func(ctx context.Context) error {
		committed, confirmedNow = false, false
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) (err error) {
			repo := s.repo.WithTx(tx)
			order, err := repo.LockOrder(ctx, orderID)
			if err != nil {
				return err
			}
			if order.ConfirmedAt != nil {
				rows, err := s.ledger.ListOrderCommissions(ctx, tx, order.ID)
				if err != nil {
					return err
				}
				result = &ConfirmResult{Order: order, Commissions: rows}
				return nil
			}
			if order.Status != enums.OrderStatusPending {
				return invalidTransition(order, enums.OrderStatusProcessing)
			}

			if err := s.inventory.Commit(ctx, order.ID, inventoryLines(order.Items)); err != nil {
				return err
			}
			committed = true
			defer func() {
				if err != nil {
					s.releaseInventory(ctx, order.ID, "confirmation failed")
					committed = false
				}
			}()

			now := s.clock()
			from := order.Status
			if err := repo.UpdateOrder(ctx, order.ID, map[string]any{
				"status":       enums.OrderStatusProcessing,
				"confirmed_at": now,
				"updated_at":   now,
			}); err != nil {
				return err
			}
			order.Status = enums.OrderStatusProcessing
			order.ConfirmedAt = &now
			if err := s.appendHistory(ctx, repo, order.ID, &from, order.Status, actor, nil, now); err != nil {
				return err
			}

			if err := s.discounts.RecordUsage(ctx, tx, order); err != nil {
				return err
			}
			rows, err := s.ledger.CreateCommissions(ctx, tx, order, order.Items)
			if err != nil {
				return err
			}

			ids := make([]uuid.UUID, len(rows))
			for i := range rows {
				ids[i] = rows[i].ID
			}
			if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventOrderConfirmed,
				AggregateType: enums.AggregateOrder,
				AggregateID:   order.ID,
				Data: payloads.OrderConfirmedEvent{
					OrderID:       order.ID,
					OrderNumber:   order.OrderNumber,
					CustomerID:    order.CustomerID,
					Currency:      order.Currency,
					TotalMinor:    order.TotalMinor,
					CommissionIDs: ids,
					ConfirmedAt:   now,
				},
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order confirmed")
			}

			orderRef := order.ID
			if err := s.notifier.Request(ctx, tx, notifications.Request{
				Type:        enums.NotificationTypeOrderConfirmed,
				Priority:    enums.NotificationPriorityNormal,
				RecipientID: order.CustomerID,
				Subject:     order.ID.String(),
				OrderID:     &orderRef,
				Message:     fmt.Sprintf("Order %s confirmed, total %s", order.OrderNumber, order.Total()),
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "request confirmation notification")
			}

			result = &ConfirmResult{Order: order, Commissions: rows}
			confirmedNow = true
			return nil
		})
		if err != nil && committed {
			s.releaseInventory(ctx, orderID, "confirmation failed")
		}
		return err
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeConcurrencyConflict) {
			s.metrics.Conflict("confirm_order")
		}
		return nil, err
	}

	if confirmedNow {
		s.metrics.OrderConfirmed(string(result.Order.Currency))
		ctx = s.logg.WithFields(s.logg.WithOrderID(ctx, result.Order.ID.String()), map[string]any{
			"commissions": len(result.Commissions),
			"actor":       actor,
		})
		s.logg.Info(ctx, "order confirmed")
	}
	return result, nil
}

// UpdateStatus moves an order along the fulfilment graph. Confirmation and
// refunds have their own operations and are rejected here.
func (s *service) UpdateStatus(ctx context.Context, input StatusChangeInput) (*models.Order, error) {
	if !input.Target.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "unknown order status %q", input.Target)
	}
	if strings.TrimSpace(input.Actor) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "actor is required")
	}
	switch input.Target {
	case enums.OrderStatusProcessing:
		return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition, "orders move to processing through confirmation").
			WithDetails(map[string]any{"to": input.Target})
	case enums.OrderStatusRefunded:
		return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition, "orders are refunded through an approved refund").
			WithDetails(map[string]any{"to": input.Target})
	}

	var out *models.Order
	changed := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.repo.WithTx(tx).LockOrder(ctx, input.OrderID)
		if err != nil {
			return err
		}
		out = order
		if order.Status == input.Target {
			return nil
		}
		if !CanTransition(order.Status, input.Target) {
			return invalidTransition(order, input.Target)
		}
		if err := s.transition(ctx, tx, order, input.Target, input.Actor, input.Note); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		stopped := input.Target == enums.OrderStatusCancelled || input.Target == enums.OrderStatusFailed
		if stopped && out.ConfirmedAt != nil {
			s.releaseInventory(ctx, out.ID, string(input.Target))
		}
		s.logg.Info(s.logg.WithFields(s.logg.WithOrderID(ctx, out.ID.String()), map[string]any{
			"status": out.Status,
			"actor":  input.Actor,
		}), "order status changed")
	}
	return out, nil
}

// releaseInventory hands committed stock back. It outlives a cancelled
// request; failures are logged and left to inventory reconciliation.
func (s *service) releaseInventory(ctx context.Context, orderID uuid.UUID, reason string) {
	if err := s.inventory.Release(context.WithoutCancel(ctx), orderID); err != nil {
		s.logg.Error(s.logg.WithFields(s.logg.WithOrderID(ctx, orderID.String()), map[string]any{
			"reason": reason,
		}), "inventory release failed", err)
	}
}

// UpdateItemStatus moves one item along its own graph. The order follows when
// every remaining item has shipped or been delivered, and is cancelled when no
// item is left to fulfil.
func (s *service) UpdateItemStatus(ctx context.Context, input ItemStatusChangeInput) (*models.Order, error) {
	if !input.Target.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "unknown item status %q", input.Target)
	}
	if strings.TrimSpace(input.Actor) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "actor is required")
	}
	if input.Target == enums.OrderItemStatusRefunded {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition, "items are refunded through an approved refund").
			WithDetails(map[string]any{"to": input.Target})
	}

	var out *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.LockOrder(ctx, input.OrderID)
		if err != nil {
			return err
		}
		out = order
		item := findItem(order, input.ItemID)
		if item == nil {
			return pkgerrors.Newf(pkgerrors.CodeNotFound, "item %s not found on order %s", input.ItemID, order.ID)
		}
		if item.Status == input.Target {
			return nil
		}
		if order.Status.IsTerminal() {
			return pkgerrors.Newf(pkgerrors.CodeInvalidState, "order %s is %s", order.ID, order.Status).
				WithDetails(map[string]any{"status": order.Status})
		}
		if !CanTransitionItem(item.Status, input.Target) {
			return invalidItemTransition(item, input.Target)
		}
		if input.Target != enums.OrderItemStatusCancelled && order.Status == enums.OrderStatusPending {
			return pkgerrors.Newf(pkgerrors.CodeInvalidState, "order %s must be confirmed before fulfilment", order.ID).
				WithDetails(map[string]any{"status": order.Status})
		}

		now := s.clock()
		updates := map[string]any{"status": input.Target, "updated_at": now}
		if col := itemTimestamp(input.Target); col != "" {
			updates[col] = now
		}
		n, err := repo.UpdateItems(ctx, order.ID, []uuid.UUID{item.ID}, []enums.OrderItemStatus{item.Status}, updates)
		if err != nil {
			return err
		}
		if n != 1 {
			return pkgerrors.Newf(pkgerrors.CodeConcurrencyConflict, "item %s changed concurrently", item.ID)
		}
		setItemStatus(item, input.Target, now)

		if input.Target == enums.OrderItemStatusCancelled {
			if _, err := s.ledger.VoidForItems(ctx, tx, order.ID, []uuid.UUID{item.ID}); err != nil {
				return err
			}
		}
		return s.rollUp(ctx, tx, order, input.Actor)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// rollUp advances the order once its items allow it.
func (s *service) rollUp(ctx context.Context, tx *gorm.DB, order *models.Order, actor string) error {
	active, shipped, delivered := 0, 0, 0
	for _, item := range order.Items {
		switch item.Status {
		case enums.OrderItemStatusCancelled, enums.OrderItemStatusRefunded:
			continue
		case enums.OrderItemStatusShipped:
			shipped++
		case enums.OrderItemStatusDelivered:
			delivered++
		}
		active++
	}

	if active == 0 {
		if CanTransition(order.Status, enums.OrderStatusCancelled) {
			return s.transition(ctx, tx, order, enums.OrderStatusCancelled, actor, nil)
		}
		return nil
	}
	if order.Status == enums.OrderStatusProcessing && shipped+delivered == active {
		if err := s.transition(ctx, tx, order, enums.OrderStatusShipped, actor, nil); err != nil {
			return err
		}
	}
	if order.Status == enums.OrderStatusShipped && delivered == active {
		return s.transition(ctx, tx, order, enums.OrderStatusDelivered, actor, nil)
	}
	return nil
}

// ApplyRefund marks refunded items inside the refund's transaction and moves
// the order to refunded when the whole order is refunded or nothing active
// remains.
func (s *service) ApplyRefund(ctx context.Context, tx *gorm.DB, input RefundApplication) (*models.Order, error) {
	repo := s.repo.WithTx(tx)
	order, err := repo.LockOrder(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	if order.Status == enums.OrderStatusRefunded {
		return order, nil
	}
	if !CanTransition(order.Status, enums.OrderStatusRefunded) {
		return nil, invalidTransition(order, enums.OrderStatusRefunded)
	}

	now := s.clock()
	var ids []uuid.UUID
	if !input.WholeOrder {
		if len(input.ItemIDs) == 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "refunded items are required")
		}
		ids = input.ItemIDs
	}
	refundable := []enums.OrderItemStatus{enums.OrderItemStatusPending, enums.OrderItemStatusShipped, enums.OrderItemStatusDelivered}
	if _, err := repo.UpdateItems(ctx, order.ID, ids, refundable, map[string]any{
		"status":      enums.OrderItemStatusRefunded,
		"refunded_at": now,
		"updated_at":  now,
	}); err != nil {
		return nil, err
	}

	active := 0
	for i := range order.Items {
		item := &order.Items[i]
		hit := input.WholeOrder || containsID(ids, item.ID)
		if hit && CanTransitionItem(item.Status, enums.OrderItemStatusRefunded) {
			setItemStatus(item, enums.OrderItemStatusRefunded, now)
		}
		if item.Status != enums.OrderItemStatusCancelled && item.Status != enums.OrderItemStatusRefunded {
			active++
		}
	}

	if input.WholeOrder || active == 0 {
		note := "refund " + input.RefundID.String()
		if err := s.transition(ctx, tx, order, enums.OrderStatusRefunded, input.Actor, &note); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// transition writes an order status change with its item side effects,
// history row, event and customer notification.
func (s *service) transition(ctx context.Context, tx *gorm.DB, order *models.Order, to enums.OrderStatus, actor string, note *string) error {
	repo := s.repo.WithTx(tx)
	now := s.clock()
	from := order.Status

	updates := map[string]any{"status": to, "updated_at": now}
	if col := statusTimestamp(to); col != "" {
		updates[col] = now
	}
	if err := repo.UpdateOrder(ctx, order.ID, updates); err != nil {
		return err
	}
	order.Status = to
	stampOrder(order, to, now)

	var moved []uuid.UUID
	if fromItems, target, ok := itemFollow(to); ok {
		itemUpdates := map[string]any{"status": target, "updated_at": now}
		if col := itemTimestamp(target); col != "" {
			itemUpdates[col] = now
		}
		if _, err := repo.UpdateItems(ctx, order.ID, nil, fromItems, itemUpdates); err != nil {
			return err
		}
		for i := range order.Items {
			if containsStatus(fromItems, order.Items[i].Status) {
				setItemStatus(&order.Items[i], target, now)
				moved = append(moved, order.Items[i].ID)
			}
		}
	}
	if to == enums.OrderStatusCancelled || to == enums.OrderStatusFailed {
		// Items already shipped or delivered keep their commission.
		var err error
		if hasFulfilled(order.Items) {
			_, err = s.ledger.VoidForItems(ctx, tx, order.ID, moved)
		} else {
			_, err = s.ledger.VoidForOrder(ctx, tx, order.ID)
		}
		if err != nil {
			return err
		}
	}

	if err := s.appendHistory(ctx, repo, order.ID, &from, to, actor, note, now); err != nil {
		return err
	}
	noteText := ""
	if note != nil {
		noteText = *note
	}
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actor,
		Data: payloads.OrderStatusChangedEvent{
			OrderID:   order.ID,
			From:      from,
			To:        to,
			ChangedBy: actor,
			Note:      noteText,
		},
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order status changed")
	}

	orderRef := order.ID
	if err := s.notifier.Request(ctx, tx, notifications.Request{
		Type:        enums.NotificationTypeOrderStatus,
		Priority:    enums.NotificationPriorityNormal,
		RecipientID: order.CustomerID,
		Subject:     order.ID.String() + ":" + string(to),
		OrderID:     &orderRef,
		Message:     fmt.Sprintf("Order %s is now %s", order.OrderNumber, to),
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "request status notification")
	}
	return nil
}

func (s *service) appendHistory(ctx context.Context, repo Repository, orderID uuid.UUID, from *enums.OrderStatus, to enums.OrderStatus, actor string, note *string, now time.Time) error {
	return repo.AppendHistory(ctx, &models.OrderStatusHistory{
		ID:         uuid.New(),
		OrderID:    orderID,
		FromStatus: from,
		ToStatus:   to,
		ChangedBy:  actor,
		Note:       note,
		CreatedAt:  now,
	})
}
