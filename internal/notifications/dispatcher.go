// Package notifications queues notification requests for the external
// delivery gateway through the outbox.
package notifications

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradepost/pkg/enums"
	"github.com/angelmondragon/tradepost/pkg/outbox"
	"github.com/angelmondragon/tradepost/pkg/outbox/payloads"
)

// namespace seeds deterministic notification ids.
var namespace = uuid.MustParse("6f1c2a4e-8d3b-5f70-9a61-2b7e4c0d9f13")

// Request describes one notification. Subject identifies what the
// notification is about; the same (type, subject) pair is queued once.
type Request struct {
	Type        enums.NotificationType
	Priority    enums.NotificationPriority
	RecipientID string
	Subject     string
	OrderID     *uuid.UUID
	RefundID    *uuid.UUID
	PayoutID    *uuid.UUID
	ShopID      *uuid.UUID
	Message     string
}

// ID returns the deterministic notification id for a request.
func ID(kind enums.NotificationType, subject string) uuid.UUID {
	return uuid.NewSHA1(namespace, []byte(string(kind)+":"+subject))
}

// Dispatcher writes notification_requested outbox rows.
type Dispatcher struct {
	outbox outbox.Emitter
}

func NewDispatcher(emitter outbox.Emitter) *Dispatcher {
	return &Dispatcher{outbox: emitter}
}

// Request queues req inside tx. Repeated requests for the same notification
// id are dropped, so delivery stays at-least-once and idempotent downstream.
func (d *Dispatcher) Request(ctx context.Context, tx *gorm.DB, req Request) error {
	if !req.Type.IsValid() {
		return fmt.Errorf("invalid notification type %q", req.Type)
	}
	if req.RecipientID == "" || req.Subject == "" {
		return fmt.Errorf("notification recipient and subject required")
	}
	if req.Priority == "" {
		req.Priority = enums.NotificationPriorityNormal
	}
	id := ID(req.Type, req.Subject)
	return d.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventNotificationRequested,
		AggregateType: enums.AggregateNotification,
		AggregateID:   id,
		Data: payloads.NotificationRequestedEvent{
			NotificationID: id,
			Type:           req.Type,
			Priority:       req.Priority,
			RecipientID:    req.RecipientID,
			OrderID:        req.OrderID,
			RefundID:       req.RefundID,
			PayoutID:       req.PayoutID,
			ShopID:         req.ShopID,
			Message:        req.Message,
		},
	})
}
