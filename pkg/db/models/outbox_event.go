package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tradepost/pkg/enums"
)

// OutboxEvent is a queued domain event. Payload holds the JSON envelope the
// publisher forwards unchanged.
type OutboxEvent struct {
	ID            uuid.UUID                 `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	EventType     enums.OutboxEventType     `gorm:"column:event_type;not null"`
	AggregateType enums.OutboxAggregateType `gorm:"column:aggregate_type;not null"`
	AggregateID   uuid.UUID                 `gorm:"column:aggregate_id;type:uuid;not null"`
	Payload       json.RawMessage           `gorm:"column:payload;type:jsonb;not null"`
	CreatedAt     time.Time                 `gorm:"column:created_at;autoCreateTime"`
	PublishedAt   *time.Time                `gorm:"column:published_at"`
	AttemptCount  int                       `gorm:"column:attempt_count;not null"`
	LastError     *string                   `gorm:"column:last_error"`
	LastAttemptAt *time.Time                `gorm:"column:last_attempt_at"`
}

// Parked reports whether the publisher has given up on the row.
func (e OutboxEvent) Parked(maxAttempts int) bool {
	return e.PublishedAt == nil && maxAttempts > 0 && e.AttemptCount >= maxAttempts
}
