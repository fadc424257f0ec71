package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/tradepost/internal/orders"
	"github.com/angelmondragon/tradepost/pkg/db/models"
	"github.com/angelmondragon/tradepost/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradepost/pkg/errors"
	"github.com/angelmondragon/tradepost/pkg/logger"
)

const (
	defaultPendingTTL = 72 * time.Hour
	expiryBatchSize   = 200
	expiryActor       = "system:order-expiry"
)

type stalePendingReader interface {
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
}

type orderStatusUpdater interface {
	UpdateStatus(ctx context.Context, input orders.StatusChangeInput) (*models.Order, error)
}

type OrderExpiryJobParams struct {
	Logger *logger.Logger
	Reader stalePendingReader
	Orders orderStatusUpdater
	TTL    time.Duration
}

// NewOrderExpiryJob fails orders left pending longer than the TTL so their
// discount and inventory intents do not linger.
func NewOrderExpiryJob(params OrderExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reader == nil {
		return nil, fmt.Errorf("pending order reader required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("order service required")
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = defaultPendingTTL
	}
	return &orderExpiryJob{
		logg:   params.Logger,
		reader: params.Reader,
		orders: params.Orders,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

type orderExpiryJob struct {
	logg   *logger.Logger
	reader stalePendingReader
	orders orderStatusUpdater
	ttl    time.Duration
	now    func() time.Time
}

func (j *orderExpiryJob) Name() string { return "pending-order-expiry" }

func (j *orderExpiryJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.ttl)
	ids, err := j.reader.ListPendingBefore(ctx, cutoff, expiryBatchSize)
	if err != nil {
		return fmt.Errorf("query stale pending orders: %w", err)
	}

	note := fmt.Sprintf("pending longer than %s", j.ttl)
	var errs error
	expired := 0
	for _, id := range ids {
		_, err := j.orders.UpdateStatus(ctx, orders.StatusChangeInput{
			OrderID: id,
			Target:  enums.OrderStatusFailed,
			Actor:   expiryActor,
			Note:    &note,
		})
		switch {
		case err == nil:
			expired++
		case pkgerrors.IsCode(err, pkgerrors.CodeInvalidTransition):
			// confirmed or cancelled since the query ran
		default:
			errs = multierr.Append(errs, fmt.Errorf("expire order %s: %w", id, err))
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":  cutoff,
		"stale":   len(ids),
		"expired": expired,
	}), "pending order expiry complete")
	return errs
}
