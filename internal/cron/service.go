// Package cron runs the ledger's scheduled work: clearing matured
// commissions, batching payouts, failing abandoned checkouts and pruning the
// outbox.
package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/tradepost/pkg/logger"
	"github.com/angelmondragon/tradepost/pkg/metrics"
)

const defaultInterval = 15 * time.Minute

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
}

// Service runs every registered job once per interval. Each job takes its
// own lock so replicas can split the work of a cycle.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	lock     Lock
	metrics  *metrics.CronJobMetrics
	interval time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	registry := params.Registry
	if registry == nil {
		registry, _ = NewRegistry()
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Service{
		logg:     params.Logger,
		registry: registry,
		lock:     params.Lock,
		metrics:  params.Metrics,
		interval: interval,
	}, nil
}

// Run executes a cycle immediately and then on every tick until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	s.runCycle(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service context canceled")
			return ctx.Err()
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

func (s *Service) runCycle(ctx context.Context) {
	for _, job := range s.registry.Jobs() {
		if ctx.Err() != nil {
			return
		}
		s.runLocked(ctx, job)
	}
}

func (s *Service) runLocked(ctx context.Context, job Job) {
	jobCtx := s.logg.WithFields(ctx, map[string]any{"job": job.Name(), "event": "cron.job"})
	locked, err := s.lock.Acquire(ctx, job.Name())
	if err != nil {
		s.logg.Error(jobCtx, "job lock acquire failed", err)
		s.metrics.Observe(job.Name(), metrics.JobFailed, 0)
		return
	}
	if !locked {
		s.logg.Info(jobCtx, "job held by another worker; skipping")
		s.metrics.Observe(job.Name(), metrics.JobSkipped, 0)
		return
	}
	defer func() {
		if err := s.lock.Release(context.WithoutCancel(ctx), job.Name()); err != nil {
			s.logg.Error(jobCtx, "failed to release job lock", err)
		}
	}()

	start := time.Now()
	err = job.Run(jobCtx)
	duration := time.Since(start)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", duration.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		s.metrics.Observe(job.Name(), metrics.JobFailed, duration)
		return
	}
	s.logg.Info(jobCtx, "job completed")
	s.metrics.Observe(job.Name(), metrics.JobSucceeded, duration)
}
