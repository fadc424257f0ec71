package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	goretry "github.com/sethvargo/go-retry"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradepost/pkg/config"
	"github.com/angelmondragon/tradepost/pkg/db/models"
	"github.com/angelmondragon/tradepost/pkg/logger"
	"github.com/angelmondragon/tradepost/pkg/metrics"
	"github.com/angelmondragon/tradepost/pkg/outbox"
	"github.com/angelmondragon/tradepost/pkg/outbox/registry"
)

const (
	defaultBatchSize    = 50
	defaultPollMs       = 500
	defaultMaxAttempts  = 10
	batchPublishTimeout = 15 * time.Second
	maxBackoff          = 10 * time.Second
	jitterWindow        = 250 * time.Millisecond
)

// parkReason says why a row stopped being retried.
type parkReason string

const (
	parkNonRetryable parkReason = "non_retryable"
	parkMaxAttempts  parkReason = "max_attempts"
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(topic string) *gcppubsub.Publisher
	Ordered() bool
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type publisherFactory func(topic string) publisher

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
	// ResumePublish lets an ordering key publish again after a failure.
	ResumePublish(orderingKey string)
}

type publishResult interface {
	Get(context.Context) (string, error)
}

type ServiceParams struct {
	Config           *config.Config
	Logger           *logger.Logger
	DB               dbClient
	PubSub           pubSubClient
	Repository       outboxRepository
	Registry         registryResolver
	PublisherFactory publisherFactory
	Metrics          *metrics.OutboxMetrics
}

// Service drains the outbox table to Pub/Sub. Rows are delivered at least
// once; consumers dedupe on the envelope event id. With ordered delivery the
// events of one order, commission, payout or refund keep their commit order.
type Service struct {
	logg             *logger.Logger
	db               dbClient
	repo             outboxRepository
	pubsub           pubSubClient
	registry         registryResolver
	publisherFactory publisherFactory
	metrics          *metrics.OutboxMetrics
	batchSize        int
	maxAttempts      int
	pollInterval     time.Duration
	ordered          bool
}

func NewService(params ServiceParams) (*Service, error) {
	var err error
	for _, dep := range []struct {
		name    string
		missing bool
	}{
		{"config", params.Config == nil},
		{"logger", params.Logger == nil},
		{"database client", params.DB == nil},
		{"pubsub client", params.PubSub == nil},
		{"outbox repository", params.Repository == nil},
		{"event registry", params.Registry == nil},
	} {
		if dep.missing {
			err = multierr.Append(err, fmt.Errorf("%s is required", dep.name))
		}
	}
	if err != nil {
		return nil, err
	}

	factory := params.PublisherFactory
	if factory == nil {
		factory = func(topic string) publisher {
			p := params.PubSub.Publisher(topic)
			if p == nil {
				return nil
			}
			return &gcpPublisher{Publisher: p}
		}
	}

	batch, poll, maxAttempts := outboxSettings(params.Config.Outbox)
	return &Service{
		logg:             params.Logger,
		db:               params.DB,
		repo:             params.Repository,
		pubsub:           params.PubSub,
		registry:         params.Registry,
		publisherFactory: factory,
		metrics:          params.Metrics,
		batchSize:        batch,
		maxAttempts:      maxAttempts,
		pollInterval:     poll,
		ordered:          params.PubSub.Ordered(),
	}, nil
}

func outboxSettings(cfg config.OutboxConfig) (batch int, poll time.Duration, maxAttempts int) {
	batch, pollMs, maxAttempts := cfg.BatchSize, cfg.PollIntervalMS, cfg.MaxAttempts
	if batch <= 0 {
		batch = defaultBatchSize
	}
	if pollMs <= 0 {
		pollMs = defaultPollMs
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return batch, time.Duration(pollMs) * time.Millisecond, maxAttempts
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	if err := pingDependency(ctx, s.logg, "database", s.db.Ping); err != nil {
		return err
	}
	return pingDependency(ctx, s.logg, "pubsub", s.pubsub.Ping)
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

// Run polls until ctx ends. Failed batches back off exponentially up to
// maxBackoff; an empty batch waits one poll interval.
func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	backoff := s.newBackoff()
	for {
		if err := ctx.Err(); err != nil {
			s.logg.Info(ctx, "outbox publisher stopping")
			return err
		}

		wait := s.pollInterval
		processed, err := s.processBatch(ctx)
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox batch failed", err)
			wait, _ = backoff.Next()
		case processed:
			backoff = s.newBackoff()
			continue
		default:
			backoff = s.newBackoff()
		}
		if err := s.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (s *Service) newBackoff() goretry.Backoff {
	b := goretry.NewExponential(s.pollInterval)
	b = goretry.WithCappedDuration(maxBackoff, b)
	return goretry.WithJitter(jitterWindow, b)
}

// inFlight is a row whose message has been handed to a publisher but whose
// result has not been read yet.
type inFlight struct {
	event  models.OutboxEvent
	pub    publisher
	key    string
	result publishResult
	fields map[string]any
}

// processBatch publishes one batch inside a transaction that holds the
// fetched rows. Every message is handed to its publisher before any result
// is awaited, so one batch costs one round of publish latency. It reports
// whether any rows were fetched.
func (s *Service) processBatch(ctx context.Context) (bool, error) {
	processed := false
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return err
		}
		s.metrics.Batch(len(events))
		if len(events) == 0 {
			return nil
		}
		processed = true

		publishCtx, cancel := context.WithTimeout(ctx, batchPublishTimeout)
		defer cancel()

		flights := make([]*inFlight, 0, len(events))
		for _, event := range events {
			f, err := s.send(publishCtx, tx, event)
			if err != nil {
				return err
			}
			if f != nil {
				flights = append(flights, f)
			}
		}
		for _, f := range flights {
			if err := s.settle(publishCtx, tx, f); err != nil {
				return err
			}
		}
		return nil
	})
	return processed, err
}

// send resolves a row and hands its message to the topic publisher. Rows
// that can never be published are parked and yield no flight.
func (s *Service) send(ctx context.Context, tx *gorm.DB, event models.OutboxEvent) (*inFlight, error) {
	resolved, err := s.registry.Resolve(event)
	if err != nil {
		return nil, s.park(ctx, tx, event, parkNonRetryable, err, nil)
	}
	topic := resolved.Descriptor.Topic
	f := &inFlight{event: event, fields: s.eventFields(event, resolved.Envelope, topic)}

	f.pub = s.publisherFactory(topic)
	if f.pub == nil {
		return nil, s.park(ctx, tx, event, parkNonRetryable, fmt.Errorf("publisher not configured for topic %s", topic), f.fields)
	}
	msg := s.message(event, resolved.Envelope)
	f.key = msg.OrderingKey
	f.result = f.pub.Publish(ctx, msg)
	if f.result == nil {
		return nil, s.park(ctx, tx, event, parkNonRetryable, fmt.Errorf("publisher returned no result for topic %s", topic), f.fields)
	}
	return f, nil
}

// settle waits for one publish result and records it on the row. Only
// bookkeeping failures are returned.
func (s *Service) settle(ctx context.Context, tx *gorm.DB, f *inFlight) error {
	_, err := f.result.Get(ctx)
	if err == nil {
		if markErr := s.repo.MarkPublishedTx(tx, f.event.ID); markErr != nil {
			return fmt.Errorf("mark published %s: %w", f.event.ID, markErr)
		}
		s.metrics.Published(string(f.event.EventType))
		s.logg.Info(s.logg.WithFields(ctx, f.fields), "outbox event published")
		return nil
	}

	// A failed key rejects later messages until resumed; the retried rows
	// come back in commit order on the next batch.
	if f.key != "" {
		f.pub.ResumePublish(f.key)
	}
	var nonRetry registry.NonRetryableError
	if errors.As(err, &nonRetry) {
		return s.park(ctx, tx, f.event, parkNonRetryable, err, f.fields)
	}
	attempts := f.event.AttemptCount + 1
	f.fields["attempt_count"] = attempts
	if attempts >= s.maxAttempts {
		return s.park(ctx, tx, f.event, parkMaxAttempts, fmt.Errorf("max publish attempts reached: %w", err), f.fields)
	}

	s.logg.Warn(s.logg.WithField(s.logg.WithFields(ctx, f.fields), "error", err.Error()), "outbox publish failed")
	if markErr := s.repo.MarkFailedTx(tx, f.event.ID, err); markErr != nil {
		return fmt.Errorf("mark failure %s: %w", f.event.ID, markErr)
	}
	s.metrics.Failed(string(f.event.EventType))
	return nil
}

// park stops retrying a row by raising its attempt count to the ceiling. The
// retention job prunes parked rows with the published ones.
func (s *Service) park(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, reason parkReason, err error, fields map[string]any) error {
	if fields == nil {
		fields = s.eventFields(event, outbox.PayloadEnvelope{}, "")
	}
	fields["park_reason"] = string(reason)
	s.logg.Warn(s.logg.WithField(s.logg.WithFields(ctx, fields), "error", err.Error()), "outbox event parked")

	if markErr := s.repo.MarkTerminalTx(tx, event.ID, err, s.maxAttempts); markErr != nil {
		return fmt.Errorf("mark terminal %s: %w", event.ID, markErr)
	}
	s.metrics.Parked(string(event.EventType))
	return nil
}

// message builds the Pub/Sub message for a row. With ordered delivery the
// events of one aggregate share an ordering key.
func (s *Service) message(event models.OutboxEvent, env outbox.PayloadEnvelope) *gcppubsub.Message {
	attrs := map[string]string{
		"event_id":       env.EventID,
		"event_type":     string(event.EventType),
		"aggregate_type": string(event.AggregateType),
		"aggregate_id":   event.AggregateID.String(),
		"schema_version": strconv.Itoa(env.Version),
		"created_at":     event.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if env.Source != "" {
		attrs["source"] = env.Source
	}
	msg := &gcppubsub.Message{Data: event.Payload, Attributes: attrs}
	if s.ordered {
		msg.OrderingKey = orderingKey(event)
	}
	return msg
}

func orderingKey(event models.OutboxEvent) string {
	return string(event.AggregateType) + ":" + event.AggregateID.String()
}

func (s *Service) eventFields(event models.OutboxEvent, envelope outbox.PayloadEnvelope, topic string) map[string]any {
	fields := map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
		"attempt_count":  event.AttemptCount,
	}
	if envelope.EventID != "" {
		fields["event_id"] = envelope.EventID
		fields["occurred_at"] = envelope.OccurredAt.Format(time.RFC3339Nano)
	}
	if topic != "" {
		fields["topic"] = topic
	}
	if event.LastError != nil {
		fields["last_error"] = *event.LastError
	}
	return fields
}

func (s *Service) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// gcpPublisher adapts the client publisher to the interfaces above.
type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	res := p.Publisher.Publish(ctx, msg)
	if res == nil {
		return nil
	}
	return res
}
