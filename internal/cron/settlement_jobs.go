package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/tradepost/pkg/db/models"
	"github.com/angelmondragon/tradepost/pkg/logger"
)

type commissionClearer interface {
	ClearEligible(ctx context.Context, now time.Time) (int, error)
}

// NewClearingJob clears pending commissions whose items were delivered more
// than the clearing period ago.
func NewClearingJob(logg *logger.Logger, ledger commissionClearer) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("settlement ledger required")
	}
	return &clearingJob{logg: logg, ledger: ledger, now: time.Now}, nil
}

type clearingJob struct {
	logg   *logger.Logger
	ledger commissionClearer
	now    func() time.Time
}

func (j *clearingJob) Name() string { return "commission-clearing" }

func (j *clearingJob) Run(ctx context.Context) error {
	cleared, err := j.ledger.ClearEligible(ctx, j.now().UTC())
	if err != nil {
		return fmt.Errorf("clear commissions: %w", err)
	}
	j.logg.Info(j.logg.WithField(ctx, "cleared", cleared), "commission clearing complete")
	return nil
}

type payoutBuilder interface {
	BuildDuePayouts(ctx context.Context, cutoff time.Time) ([]models.Payout, error)
}

// NewPayoutJob batches cleared commissions into one payout per shop. Delay
// holds back commissions cleared in the last delay window.
func NewPayoutJob(logg *logger.Logger, ledger payoutBuilder, delay time.Duration) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("settlement ledger required")
	}
	if delay < 0 {
		return nil, fmt.Errorf("payout delay must not be negative")
	}
	return &payoutJob{logg: logg, ledger: ledger, delay: delay, now: time.Now}, nil
}

type payoutJob struct {
	logg   *logger.Logger
	ledger payoutBuilder
	delay  time.Duration
	now    func() time.Time
}

func (j *payoutJob) Name() string { return "payout-batching" }

func (j *payoutJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.delay)
	payouts, err := j.ledger.BuildDuePayouts(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("build payouts: %w", err)
	}
	var total int64
	for _, p := range payouts {
		total += p.PayoutMinor
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"payouts":      len(payouts),
		"amount_minor": total,
	}), "payout batching complete")
	return nil
}
