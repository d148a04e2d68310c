package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/bookswap-backend/pkg/config"
	"github.com/angelmondragon/bookswap-backend/pkg/db/models"
	"github.com/angelmondragon/bookswap-backend/pkg/enums"
	"github.com/angelmondragon/bookswap-backend/pkg/logger"
	"github.com/angelmondragon/bookswap-backend/pkg/metrics"
	"github.com/angelmondragon/bookswap-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollInterval   = 500 * time.Millisecond
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	maxBackoff            = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type publisherFactory func(topic string) publisher

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
	ResumePublish(orderingKey string)
}

type publishResult interface {
	Get(context.Context) (string, error)
}

type ServiceParams struct {
	Outbox           config.OutboxConfig
	Logger           *logger.Logger
	DB               dbClient
	PubSub           pubSubClient
	Repository       outboxRepository
	Registry         registryResolver
	PublisherFactory publisherFactory
	DLQRepository    dlqRepository
	// DLQPublisher mirrors parked events to a topic. Optional.
	DLQPublisher publisher
	Metrics      *metrics.OutboxMetrics
	Now          func() time.Time
}

// Service relays committed outbox rows to Pub/Sub. Rows for one aggregate
// are published in creation order: once a row fails, later rows for the
// same order wait for the next batch.
type Service struct {
	logg             *logger.Logger
	db               dbClient
	repo             outboxRepository
	pubsub           pubSubClient
	registry         registryResolver
	dlq              dlqRepository
	dlqPublisher     publisher
	publisherFactory publisherFactory
	metrics          *metrics.OutboxMetrics
	now              func() time.Time

	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.PubSub == nil:
		return nil, errors.New("pubsub client is required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository is required")
	case params.Registry == nil:
		return nil, errors.New("event registry is required")
	case params.DLQRepository == nil:
		return nil, errors.New("dlq repository is required")
	}

	factory := params.PublisherFactory
	if factory == nil {
		factory = func(topic string) publisher {
			return newGCPPublisher(params.PubSub.Publisher(topic))
		}
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}

	s := &Service{
		logg:             params.Logger,
		db:               params.DB,
		repo:             params.Repository,
		pubsub:           params.PubSub,
		registry:         params.Registry,
		dlq:              params.DLQRepository,
		dlqPublisher:     params.DLQPublisher,
		publisherFactory: factory,
		metrics:          params.Metrics,
		now:              now,
		batchSize:        params.Outbox.BatchSize,
		maxAttempts:      params.Outbox.MaxAttempts,
		pollInterval:     time.Duration(params.Outbox.PollIntervalMS) * time.Millisecond,
	}
	if s.batchSize <= 0 {
		s.batchSize = defaultBatchSize
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = defaultMaxAttempts
	}
	if s.pollInterval <= 0 {
		s.pollInterval = defaultPollInterval
	}
	return s, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	deps := []struct {
		name string
		ping func(context.Context) error
	}{
		{"database", s.db.Ping},
		{"pubsub", s.pubsub.Ping},
	}
	for _, dep := range deps {
		if err := dep.ping(ctx); err != nil {
			s.logg.Error(ctx, dep.name+" ping failed", err)
			return fmt.Errorf("%s ping failed: %w", dep.name, err)
		}
	}
	return nil
}

// Run polls until ctx is cancelled. A full, clean batch is followed
// immediately by the next one; anything else waits for the poll interval,
// and batch errors back off exponentially.
func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	pace := newPacer(s.pollInterval, maxBackoff)
	for {
		if err := ctx.Err(); err != nil {
			s.logg.Info(ctx, "outbox publisher context canceled")
			return err
		}

		stats, err := s.processBatch(ctx)
		var wait time.Duration
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox publisher batch error", err)
			wait = pace.failure()
		case stats.drained(s.batchSize):
			pace.reset()
			continue
		default:
			wait = pace.idle()
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}
}

type batchStats struct {
	claimed   int
	published int
	retried   int
	parked    int
	held      int
}

// drained reports whether the batch was full and nothing is waiting on a
// retry, meaning more rows are likely ready right now.
func (b batchStats) drained(batchSize int) bool {
	return b.claimed >= batchSize && b.retried == 0 && b.held == 0
}

type outcome int

const (
	outcomePublished outcome = iota
	outcomeRetried
	outcomeParked
)

func (s *Service) processBatch(ctx context.Context) (batchStats, error) {
	var stats batchStats
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		stats = batchStats{}
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return err
		}
		stats.claimed = len(events)
		if stats.claimed == 0 {
			return nil
		}
		s.metrics.SetBatchSize(stats.claimed)

		blocked := map[uuid.UUID]struct{}{}
		for _, event := range events {
			if _, ok := blocked[event.AggregateID]; ok {
				stats.held++
				continue
			}
			result, err := s.dispatch(ctx, tx, event)
			if err != nil {
				return err
			}
			switch result {
			case outcomePublished:
				stats.published++
			case outcomeParked:
				stats.parked++
			case outcomeRetried:
				stats.retried++
				blocked[event.AggregateID] = struct{}{}
			}
		}
		return nil
	})
	if err == nil && stats.claimed > 0 {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"claimed":   stats.claimed,
			"published": stats.published,
			"retried":   stats.retried,
			"parked":    stats.parked,
			"held":      stats.held,
		}), "outbox batch complete")
	}
	return stats, err
}

// dispatch publishes a single row and records the outcome on it. Only
// database errors are returned; publish failures become retries or DLQ
// entries.
func (s *Service) dispatch(ctx context.Context, tx *gorm.DB, event models.OutboxEvent) (outcome, error) {
	fields := eventFields(event)

	resolved, err := s.registry.Resolve(event)
	if err != nil {
		return outcomeParked, s.park(ctx, tx, event, "", enums.OutboxDLQReasonNonRetryable, err, fields)
	}
	topic := resolved.Descriptor.Topic
	fields["topic"] = topic
	fields["event_id"] = resolved.Envelope.EventID

	err = s.publish(ctx, topic, resolved.Envelope.EventID, event)
	if err == nil {
		if markErr := s.repo.MarkPublishedTx(tx, event.ID); markErr != nil {
			return outcomePublished, fmt.Errorf("mark published %s: %w", event.ID, markErr)
		}
		s.metrics.IncPublish(topic, metrics.PublishSucceeded)
		s.logg.Info(s.logg.WithFields(ctx, fields), "outbox event published")
		return outcomePublished, nil
	}

	var nonRetry registry.NonRetryableError
	if errors.As(err, &nonRetry) {
		return outcomeParked, s.park(ctx, tx, event, topic, enums.OutboxDLQReasonNonRetryable, err, fields)
	}

	attempt := event.AttemptCount + 1
	fields["attempt_count"] = attempt
	if attempt >= s.maxAttempts {
		terminal := fmt.Errorf("max publish attempts reached: %w", err)
		return outcomeParked, s.park(ctx, tx, event, topic, enums.OutboxDLQReasonMaxAttempts, terminal, fields)
	}

	s.metrics.IncPublish(topic, metrics.PublishRetried)
	s.logg.WarnErr(s.logg.WithFields(ctx, fields), "outbox publish failed", err)
	if markErr := s.repo.MarkFailedTx(tx, event.ID, err); markErr != nil {
		return outcomeRetried, fmt.Errorf("mark failure %s: %w", event.ID, markErr)
	}
	return outcomeRetried, nil
}

func (s *Service) publish(ctx context.Context, topic, eventID string, event models.OutboxEvent) error {
	pub := s.publisherFactory(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher not configured for topic %s", topic))
	}

	msg := outboxMessage(event, eventID)
	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()

	result := pub.Publish(publishCtx, msg)
	if result == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher returned nil for topic %s", topic))
	}
	if _, err := result.Get(publishCtx); err != nil {
		// An ordered publisher pauses the key after a failure.
		pub.ResumePublish(msg.OrderingKey)
		return err
	}
	return nil
}

// park moves a row to the DLQ table and exhausts its attempts. The DLQ topic
// copy is best effort.
func (s *Service) park(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, topic string, reason enums.OutboxDLQErrorReason, cause error, fields map[string]any) error {
	fields["error_reason"] = reason
	logCtx := s.logg.WithFields(ctx, fields)
	s.logg.WarnErr(logCtx, "outbox event will not be retried", cause)
	s.metrics.IncPublish(topic, metrics.PublishParked)

	message := cause.Error()
	entry := models.OutboxDLQ{
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &message,
		AttemptCount:  event.AttemptCount,
		FailedAt:      s.now().UTC(),
	}
	if err := s.dlq.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dlq %s: %w", event.ID, err)
	}
	if err := s.repo.MarkTerminalTx(tx, event.ID, cause, s.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}

	if s.dlqPublisher != nil {
		msg := outboxMessage(event, event.ID.String())
		msg.Attributes["error_reason"] = string(reason)
		dlqCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
		defer cancel()
		if result := s.dlqPublisher.Publish(dlqCtx, msg); result != nil {
			if _, err := result.Get(dlqCtx); err != nil {
				s.dlqPublisher.ResumePublish(msg.OrderingKey)
				s.logg.WarnErr(logCtx, "dlq topic publish failed", err)
			}
		}
	}
	return nil
}

func outboxMessage(event models.OutboxEvent, eventID string) *gcppubsub.Message {
	aggregateID := event.AggregateID.String()
	return &gcppubsub.Message{
		Data:        event.Payload,
		OrderingKey: aggregateID,
		Attributes: map[string]string{
			"event_id":       eventID,
			"event_type":     string(event.EventType),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   aggregateID,
			"created_at":     event.CreatedAt.Format(time.RFC3339Nano),
		},
	}
}

func eventFields(event models.OutboxEvent) map[string]any {
	fields := map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
		"attempt_count":  event.AttemptCount,
	}
	if event.LastError != nil {
		fields["last_error"] = *event.LastError
	}
	return fields
}

// pacer tracks the wait between polls.
type pacer struct {
	base    time.Duration
	max     time.Duration
	current time.Duration
	rng     *rand.Rand
}

func newPacer(base, ceiling time.Duration) *pacer {
	return &pacer{
		base:    base,
		max:     ceiling,
		current: base,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (p *pacer) reset() { p.current = p.base }

func (p *pacer) idle() time.Duration {
	p.reset()
	return p.jitter(p.base)
}

// failure doubles the wait up to max.
func (p *pacer) failure() time.Duration {
	p.current *= 2
	if p.current > p.max {
		p.current = p.max
	}
	return p.jitter(p.current)
}

func (p *pacer) jitter(d time.Duration) time.Duration {
	return d + time.Duration(p.rng.Int63n(int64(jitterWindow)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func newGCPPublisher(p *gcppubsub.Publisher) publisher {
	if p == nil {
		return nil
	}
	return &gcpPublisher{Publisher: p}
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return p.Publisher.Publish(ctx, msg)
}
