package orders

import (
	"slices"

	"github.com/angelmondragon/tradepost/pkg/db/models"
	"github.com/angelmondragon/tradepost/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradepost/pkg/errors"
)

var orderTransitions = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusPending:    {enums.OrderStatusProcessing, enums.OrderStatusCancelled, enums.OrderStatusFailed, enums.OrderStatusRefunded},
	enums.OrderStatusProcessing: {enums.OrderStatusShipped, enums.OrderStatusCancelled, enums.OrderStatusRefunded},
	enums.OrderStatusShipped:    {enums.OrderStatusDelivered, enums.OrderStatusRefunded},
	enums.OrderStatusDelivered:  {enums.OrderStatusRefunded},
}

var itemTransitions = map[enums.OrderItemStatus][]enums.OrderItemStatus{
	enums.OrderItemStatusPending:   {enums.OrderItemStatusShipped, enums.OrderItemStatusCancelled, enums.OrderItemStatusRefunded},
	enums.OrderItemStatusShipped:   {enums.OrderItemStatusDelivered, enums.OrderItemStatusRefunded},
	enums.OrderItemStatusDelivered: {enums.OrderItemStatusRefunded},
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to enums.OrderStatus) bool {
	return slices.Contains(orderTransitions[from], to)
}

// CanTransitionItem reports whether an order item may move between statuses.
func CanTransitionItem(from, to enums.OrderItemStatus) bool {
	return slices.Contains(itemTransitions[from], to)
}

func invalidTransition(order *models.Order, to enums.OrderStatus) error {
	return pkgerrors.Newf(pkgerrors.CodeInvalidTransition, "order %s cannot move from %s to %s", order.ID, order.Status, to).
		WithDetails(map[string]any{"from": order.Status, "to": to})
}

func invalidItemTransition(item *models.OrderItem, to enums.OrderItemStatus) error {
	return pkgerrors.Newf(pkgerrors.CodeInvalidTransition, "order item %s cannot move from %s to %s", item.ID, item.Status, to).
		WithDetails(map[string]any{"from": item.Status, "to": to})
}

// itemFollow lists the item statuses that move along with an order status.
// Cancelling or failing an order only takes pending items with it; shipped
// and delivered items stay where they are.
func itemFollow(to enums.OrderStatus) (from []enums.OrderItemStatus, target enums.OrderItemStatus, ok bool) {
	switch to {
	case enums.OrderStatusShipped:
		return []enums.OrderItemStatus{enums.OrderItemStatusPending}, enums.OrderItemStatusShipped, true
	case enums.OrderStatusDelivered:
		return []enums.OrderItemStatus{enums.OrderItemStatusPending, enums.OrderItemStatusShipped}, enums.OrderItemStatusDelivered, true
	case enums.OrderStatusCancelled, enums.OrderStatusFailed:
		return []enums.OrderItemStatus{enums.OrderItemStatusPending}, enums.OrderItemStatusCancelled, true
	}
	return nil, "", false
}

// statusTimestamp names the order column stamped when entering a status.
func statusTimestamp(to enums.OrderStatus) string {
	switch to {
	case enums.OrderStatusProcessing:
		return "confirmed_at"
	case enums.OrderStatusShipped:
		return "shipped_at"
	case enums.OrderStatusDelivered:
		return "delivered_at"
	case enums.OrderStatusCancelled:
		return "cancelled_at"
	case enums.OrderStatusRefunded:
		return "refunded_at"
	case enums.OrderStatusFailed:
		return "failed_at"
	}
	return ""
}

func itemTimestamp(to enums.OrderItemStatus) string {
	switch to {
	case enums.OrderItemStatusShipped:
		return "shipped_at"
	case enums.OrderItemStatusDelivered:
		return "delivered_at"
	case enums.OrderItemStatusRefunded:
		return "refunded_at"
	}
	return ""
}
