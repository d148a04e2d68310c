package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/bookswap-backend/pkg/config"
	"github.com/angelmondragon/bookswap-backend/pkg/db/models"
	"github.com/angelmondragon/bookswap-backend/pkg/enums"
	"github.com/angelmondragon/bookswap-backend/pkg/logger"
	"github.com/angelmondragon/bookswap-backend/pkg/metrics"
	"github.com/angelmondragon/bookswap-backend/pkg/outbox"
	"github.com/angelmondragon/bookswap-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/bookswap-backend/pkg/outbox/registry"
)

var fixedNow = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

func orderRow(t *testing.T, orderID uuid.UUID, eventType enums.OutboxEventType) models.OutboxEvent {
	t.Helper()
	payload, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: fixedNow,
		Data:       json.RawMessage(`{}`),
	})
	require.NoError(t, err)
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		Payload:       payload,
		CreatedAt:     fixedNow,
	}
}

func TestProcessBatchContinuesAfterFailure(t *testing.T) {
	first := orderRow(t, uuid.New(), enums.EventOrderCreated)
	second := orderRow(t, uuid.New(), enums.EventOrderCreated)
	repo := &fakeRepo{events: []models.OutboxEvent{first, second}}
	pub := &fakePublisher{errs: []error{errors.New("transient"), nil}}
	svc := newTestService(t, repo, pub, ordersTopicRegistry(), &fakeDLQRepo{}, nil)

	stats, err := svc.processBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, batchStats{claimed: 2, published: 1, retried: 1}, stats)
	assert.Equal(t, []uuid.UUID{first.ID}, repo.failed)
	assert.Equal(t, []uuid.UUID{second.ID}, repo.published)
	assert.Equal(t, []string{first.AggregateID.String()}, pub.resumed)
}

func TestProcessBatchHoldsLaterEventsForSameOrder(t *testing.T) {
	orderID := uuid.New()
	created := orderRow(t, orderID, enums.EventOrderCreated)
	paid := orderRow(t, orderID, enums.EventOrderPaid)
	other := orderRow(t, uuid.New(), enums.EventOrderCreated)
	repo := &fakeRepo{events: []models.OutboxEvent{created, paid, other}}
	pub := &fakePublisher{errs: []error{errors.New("transient"), nil}}
	svc := newTestService(t, repo, pub, ordersTopicRegistry(), &fakeDLQRepo{}, nil)

	stats, err := svc.processBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.held)
	assert.Equal(t, []uuid.UUID{created.ID}, repo.failed)
	assert.Equal(t, []uuid.UUID{other.ID}, repo.published)
	require.Len(t, pub.sent, 2)
	assert.Equal(t, orderID.String(), pub.sent[0].OrderingKey)
	assert.False(t, stats.drained(3))
}

func TestProcessBatchSetsMessageAttributes(t *testing.T) {
	row := orderRow(t, uuid.New(), enums.EventOrderCommitted)
	pub := &fakePublisher{}
	svc := newTestService(t, &fakeRepo{events: []models.OutboxEvent{row}}, pub, ordersTopicRegistry(), &fakeDLQRepo{}, nil)

	_, err := svc.processBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, pub.sent, 1)
	msg := pub.sent[0]
	assert.Equal(t, row.AggregateID.String(), msg.OrderingKey)
	assert.Equal(t, row.ID.String(), msg.Attributes["event_id"])
	assert.Equal(t, string(enums.EventOrderCommitted), msg.Attributes["event_type"])
	assert.Equal(t, string(enums.AggregateOrder), msg.Attributes["aggregate_type"])
	assert.Equal(t, fixedNow.Format(time.RFC3339Nano), msg.Attributes["created_at"])
	assert.JSONEq(t, string(row.Payload), string(msg.Data))
}

func TestProcessBatchRecordsPublishMetrics(t *testing.T) {
	repo := &fakeRepo{events: []models.OutboxEvent{
		orderRow(t, uuid.New(), enums.EventOrderCancelled),
		orderRow(t, uuid.New(), enums.EventOrderDeclined),
	}}
	pub := &fakePublisher{errs: []error{nil, errors.New("transient")}}
	reg := prometheus.NewRegistry()
	svc := newTestService(t, repo, pub, &fakeRegistry{topic: "notification-topic"}, &fakeDLQRepo{}, nil)
	svc.metrics = metrics.NewOutboxMetrics(reg)

	_, err := svc.processBatch(context.Background())
	require.NoError(t, err)

	expected := `
# HELP bookswap_outbox_publish_total Outbox publish attempts by topic and outcome.
# TYPE bookswap_outbox_publish_total counter
bookswap_outbox_publish_total{outcome="published",topic="notification-topic"} 1
bookswap_outbox_publish_total{outcome="retried",topic="notification-topic"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "bookswap_outbox_publish_total"))
}

func TestProcessBatchParksUnresolvableEvent(t *testing.T) {
	row := orderRow(t, uuid.New(), enums.EventOrderCreated)
	repo := &fakeRepo{events: []models.OutboxEvent{row}}
	dlqRepo := &fakeDLQRepo{}
	dlqTopic := &fakePublisher{}
	svc := newTestService(t, repo, &fakePublisher{}, &fakeRegistry{err: registry.NewNonRetryableError(errors.New("invalid payload"))}, dlqRepo, nil)
	svc.dlqPublisher = dlqTopic

	stats, err := svc.processBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.parked)

	require.Len(t, dlqRepo.entries, 1)
	entry := dlqRepo.entries[0]
	assert.Equal(t, row.ID, entry.EventID)
	assert.Equal(t, []byte(row.Payload), []byte(entry.Payload))
	assert.Equal(t, enums.OutboxDLQReasonNonRetryable, entry.ErrorReason)
	assert.Equal(t, fixedNow, entry.FailedAt)
	assert.Equal(t, []uuid.UUID{row.ID}, repo.terminal)

	require.Len(t, dlqTopic.sent, 1)
	assert.Equal(t, string(enums.OutboxDLQReasonNonRetryable), dlqTopic.sent[0].Attributes["error_reason"])
}

func TestProcessBatchParksAfterMaxAttempts(t *testing.T) {
	row := orderRow(t, uuid.New(), enums.EventOrderCreated)
	row.AttemptCount = 1
	repo := &fakeRepo{events: []models.OutboxEvent{row}}
	dlqRepo := &fakeDLQRepo{}
	pub := &fakePublisher{errs: []error{errors.New("transient")}}
	svc := newTestService(t, repo, pub, ordersTopicRegistry(), dlqRepo, &config.OutboxConfig{
		BatchSize:      1,
		PollIntervalMS: 100,
		MaxAttempts:    2,
	})

	_, err := svc.processBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, dlqRepo.entries, 1)
	assert.Equal(t, enums.OutboxDLQReasonMaxAttempts, dlqRepo.entries[0].ErrorReason)
	assert.Empty(t, repo.failed)
	assert.Equal(t, []uuid.UUID{row.ID}, repo.terminal)
}

func TestProcessBatchParksWhenTopicHasNoPublisher(t *testing.T) {
	row := orderRow(t, uuid.New(), enums.EventOrderCreated)
	repo := &fakeRepo{events: []models.OutboxEvent{row}}
	dlqRepo := &fakeDLQRepo{}
	svc := newTestService(t, repo, nil, ordersTopicRegistry(), dlqRepo, nil)

	_, err := svc.processBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, dlqRepo.entries, 1)
	assert.Equal(t, enums.OutboxDLQReasonNonRetryable, dlqRepo.entries[0].ErrorReason)
}

func TestBatchStatsDrained(t *testing.T) {
	assert.True(t, batchStats{claimed: 5, published: 5}.drained(5))
	assert.False(t, batchStats{claimed: 4, published: 4}.drained(5))
	assert.False(t, batchStats{claimed: 5, published: 4, retried: 1}.drained(5))
}

func TestPacerBacksOffToCeiling(t *testing.T) {
	p := newPacer(100*time.Millisecond, 300*time.Millisecond)

	first := p.failure()
	assert.GreaterOrEqual(t, first, 200*time.Millisecond)
	assert.Less(t, first, 200*time.Millisecond+jitterWindow)

	p.failure()
	assert.Equal(t, 300*time.Millisecond, p.current)

	idle := p.idle()
	assert.Equal(t, 100*time.Millisecond, p.current)
	assert.Less(t, idle, 100*time.Millisecond+jitterWindow)
}

func newTestService(t *testing.T, repo outboxRepository, pub *fakePublisher, reg registryResolver, dlq dlqRepository, override *config.OutboxConfig) *Service {
	t.Helper()
	outboxCfg := config.OutboxConfig{BatchSize: 3, PollIntervalMS: 100, MaxAttempts: 5}
	if override != nil {
		outboxCfg = *override
	}
	svc, err := NewService(ServiceParams{
		Outbox:     outboxCfg,
		Logger:     logger.New(logger.Options{ServiceName: "outbox-publisher-test", Output: io.Discard}),
		DB:         &fakeDB{},
		PubSub:     &fakePubSubClient{},
		Repository: repo,
		Registry:   reg,
		PublisherFactory: func(string) publisher {
			if pub == nil {
				return nil
			}
			return pub
		},
		DLQRepository: dlq,
		Now:           func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return svc
}

func ordersTopicRegistry() *fakeRegistry {
	return &fakeRegistry{topic: "orders-topic"}
}

type fakeRepo struct {
	events    []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
	terminal  []uuid.UUID
}

func (f *fakeRepo) FetchUnpublishedForPublish(*gorm.DB, int, int) ([]models.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeRepo) MarkPublishedTx(_ *gorm.DB, id uuid.UUID) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailedTx(_ *gorm.DB, id uuid.UUID, _ error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) MarkTerminalTx(_ *gorm.DB, id uuid.UUID, _ error, _ int) error {
	f.terminal = append(f.terminal, id)
	return nil
}

type fakeDB struct{}

func (fakeDB) Ping(context.Context) error { return nil }

func (fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error { return fn(nil) }

type fakePubSubClient struct{}

func (fakePubSubClient) Ping(context.Context) error { return nil }

func (fakePubSubClient) Publisher(string) *gcppubsub.Publisher { return nil }

// fakePublisher fails publishes in the order given by errs; once errs is
// exhausted every publish succeeds.
type fakePublisher struct {
	errs    []error
	sent    []*gcppubsub.Message
	resumed []string
}

func (f *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	f.sent = append(f.sent, msg)
	var err error
	if len(f.errs) > 0 {
		err, f.errs = f.errs[0], f.errs[1:]
	}
	return fakePublishResult{err: err}
}

func (f *fakePublisher) ResumePublish(key string) {
	f.resumed = append(f.resumed, key)
}

type fakePublishResult struct {
	err error
}

func (f fakePublishResult) Get(context.Context) (string, error) {
	return "server-id", f.err
}

type fakeRegistry struct {
	topic string
	err   error
}

func (f *fakeRegistry) Resolve(event models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{
			EventType:     event.EventType,
			AggregateType: event.AggregateType,
			Topic:         f.topic,
		},
		Envelope: outbox.PayloadEnvelope{EventID: event.ID.String(), OccurredAt: fixedNow},
		Payload:  &payloads.OrderEvent{},
	}, nil
}

type fakeDLQRepo struct {
	entries []models.OutboxDLQ
}

func (f *fakeDLQRepo) InsertTx(_ *gorm.DB, entry models.OutboxDLQ) error {
	f.entries = append(f.entries, entry)
	return nil
}
