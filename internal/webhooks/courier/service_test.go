package courierwebhook

import (
	"bytes"
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/bookswap-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/bookswap-backend/pkg/errors"
	"github.com/angelmondragon/bookswap-backend/pkg/logger"
)

type stubOrders struct {
	err      error
	tracking []string
	statuses []string
}

func (s *stubOrders) UpdateDeliveryStatus(ctx context.Context, trackingNumber, status string) (*models.Order, error) {
	s.tracking = append(s.tracking, trackingNumber)
	s.statuses = append(s.statuses, status)
	if s.err != nil {
		return nil, s.err
	}
	return &models.Order{ID: uuid.New()}, nil
}

func newTestService(t *testing.T, orders *stubOrders) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Orders: orders,
		Logger: logger.New(logger.Options{ServiceName: "test", Output: &bytes.Buffer{}}),
	})
	require.NoError(t, err)
	return svc
}

func TestHandleEventForwardsStatus(t *testing.T) {
	orders := &stubOrders{}
	svc := newTestService(t, orders)

	err := svc.HandleEvent(context.Background(), &TrackingEvent{TrackingReference: "TCG123", Status: "delivered"})
	require.NoError(t, err)
	assert.Equal(t, []string{"TCG123"}, orders.tracking)
	assert.Equal(t, []string{"delivered"}, orders.statuses)
}

func TestHandleEventRequiresFields(t *testing.T) {
	svc := newTestService(t, &stubOrders{})
	err := svc.HandleEvent(context.Background(), &TrackingEvent{TrackingReference: "TCG123"})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
	err = svc.HandleEvent(context.Background(), nil)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

func TestHandleEventAcknowledgesUnknownShipments(t *testing.T) {
	svc := newTestService(t, &stubOrders{err: pkgerrors.New(pkgerrors.CodeNotFound, "no order for tracking number")})
	assert.NoError(t, svc.HandleEvent(context.Background(), &TrackingEvent{TrackingReference: "X", Status: "in_transit"}))
}

func TestHandleEventReturnsDependencyErrors(t *testing.T) {
	svc := newTestService(t, &stubOrders{err: pkgerrors.New(pkgerrors.CodeDependency, "db down")})
	err := svc.HandleEvent(context.Background(), &TrackingEvent{TrackingReference: "X", Status: "delivered"})
	assert.Equal(t, pkgerrors.CodeDependency, pkgerrors.CodeOf(err))
}

func TestTrackingEventID(t *testing.T) {
	assert.Equal(t, "evt-9", TrackingEvent{EventID: " evt-9 "}.ID())
	assert.Equal(t, "TCG1:delivered", TrackingEvent{TrackingReference: "TCG1", Status: "Delivered"}.ID())
}
