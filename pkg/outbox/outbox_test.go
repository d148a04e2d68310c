package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/bookswap-backend/pkg/db/models"
	"github.com/angelmondragon/bookswap-backend/pkg/enums"
	"github.com/angelmondragon/bookswap-backend/pkg/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:outbox_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true, Logger: gormlogger.Discard})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.OutboxEvent{}, &models.OutboxDLQ{}))
	return db
}

func quietLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func TestEmitWrapsPayload(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(NewRepository(db), quietLogger())
	fixed := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	orderID := uuid.New()
	actor := &ActorRef{UserID: uuid.New(), Role: "user"}
	err := svc.Emit(context.Background(), db, DomainEvent{
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		Actor:         actor,
		Data:          map[string]string{"title": "Calculus"},
	})
	require.NoError(t, err)

	var rows []models.OutboxEvent
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, orderID, rows[0].AggregateID)
	assert.Nil(t, rows[0].PublishedAt)

	var env PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &env))
	assert.Equal(t, CurrentVersion, env.Version)
	assert.True(t, fixed.Equal(env.OccurredAt))
	assert.Equal(t, actor.UserID, env.Actor.UserID)
	_, err = uuid.Parse(env.EventID)
	require.NoError(t, err)

	var data map[string]string
	require.NoError(t, env.DecodeData(&data))
	assert.Equal(t, "Calculus", data["title"])
}

func TestEmitRejectsUnknownTypes(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(NewRepository(db), nil)
	ctx := context.Background()

	err := svc.Emit(ctx, nil, DomainEvent{EventType: enums.EventOrderPaid, AggregateType: enums.AggregateOrder})
	require.Error(t, err)

	err = svc.Emit(ctx, db, DomainEvent{EventType: "order_teleported", AggregateType: enums.AggregateOrder})
	require.Error(t, err)

	err = svc.Emit(ctx, db, DomainEvent{EventType: enums.EventOrderPaid, AggregateType: "shelf"})
	require.Error(t, err)
}

func TestFetchSkipsPublishedAndExhausted(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	published := base

	rows := []models.OutboxEvent{
		{EventType: enums.EventOrderPaid, AggregateType: enums.AggregateOrder, AggregateID: uuid.New(), Payload: []byte(`{}`), CreatedAt: base.Add(2 * time.Minute)},
		{EventType: enums.EventOrderPaid, AggregateType: enums.AggregateOrder, AggregateID: uuid.New(), Payload: []byte(`{}`), CreatedAt: base.Add(time.Minute)},
		{EventType: enums.EventOrderPaid, AggregateType: enums.AggregateOrder, AggregateID: uuid.New(), Payload: []byte(`{}`), CreatedAt: base, PublishedAt: &published},
		{EventType: enums.EventOrderPaid, AggregateType: enums.AggregateOrder, AggregateID: uuid.New(), Payload: []byte(`{}`), CreatedAt: base, AttemptCount: 5},
	}
	for _, row := range rows {
		require.NoError(t, repo.Insert(db, row))
	}

	got, err := repo.FetchUnpublishedForPublish(db, 10, 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, rows[1].AggregateID, got[0].AggregateID, "oldest first")
	assert.Equal(t, rows[0].AggregateID, got[1].AggregateID)
}

func TestMarkTransitions(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	fixed := time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return fixed }

	row := models.OutboxEvent{ID: uuid.New(), EventType: enums.EventOrderShipped, AggregateType: enums.AggregateOrder, AggregateID: uuid.New(), Payload: []byte(`{}`)}
	require.NoError(t, repo.Insert(db, row))

	require.NoError(t, repo.MarkFailedTx(db, row.ID, errors.New("pubsub unavailable")))
	require.NoError(t, repo.MarkFailedTx(db, row.ID, errors.New("pubsub unavailable")))

	var stored models.OutboxEvent
	require.NoError(t, db.First(&stored, "id = ?", row.ID).Error)
	assert.Equal(t, 2, stored.AttemptCount)
	require.NotNil(t, stored.LastError)

	require.NoError(t, repo.MarkPublishedTx(db, row.ID))
	require.NoError(t, db.First(&stored, "id = ?", row.ID).Error)
	require.NotNil(t, stored.PublishedAt)
	assert.True(t, fixed.Equal(*stored.PublishedAt))
	assert.Nil(t, stored.LastError)

	require.Error(t, repo.MarkPublishedTx(nil, row.ID))
}

func TestDeletePublishedBeforeKeepsPending(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Insert(db, models.OutboxEvent{EventType: enums.EventOrderPaid, AggregateType: enums.AggregateOrder, AggregateID: uuid.New(), Payload: []byte(`{}`), CreatedAt: old, PublishedAt: &old}))
	require.NoError(t, repo.Insert(db, models.OutboxEvent{EventType: enums.EventOrderPaid, AggregateType: enums.AggregateOrder, AggregateID: uuid.New(), Payload: []byte(`{}`), CreatedAt: old}))

	deleted, err := repo.DeletePublishedBefore(context.Background(), old.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	var remaining int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).Count(&remaining).Error)
	assert.Equal(t, int64(1), remaining)
}

func TestDLQInsertClipsErrorAndPrunes(t *testing.T) {
	db := newTestDB(t)
	dlq := NewDLQRepository(db)
	long := strings.Repeat("x", maxDLQErrorLen+50)
	failedAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	entry := models.OutboxDLQ{
		EventID:       uuid.New(),
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       []byte(`{}`),
		ErrorReason:   enums.OutboxDLQReasonMaxAttempts,
		ErrorMessage:  &long,
		FailedAt:      failedAt,
	}
	require.NoError(t, dlq.InsertTx(db, entry))
	require.Error(t, dlq.InsertTx(nil, entry))

	var stored models.OutboxDLQ
	require.NoError(t, db.First(&stored).Error)
	require.NotNil(t, stored.ErrorMessage)
	assert.Len(t, *stored.ErrorMessage, maxDLQErrorLen)

	deleted, err := dlq.DeleteBefore(context.Background(), failedAt.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}
