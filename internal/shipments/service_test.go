package shipments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/bookswap-backend/internal/rates"
	"github.com/angelmondragon/bookswap-backend/internal/users"
	"github.com/angelmondragon/bookswap-backend/pkg/courier"
	dbpkg "github.com/angelmondragon/bookswap-backend/pkg/db"
	"github.com/angelmondragon/bookswap-backend/pkg/db/models"
	"github.com/angelmondragon/bookswap-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bookswap-backend/pkg/errors"
	"github.com/angelmondragon/bookswap-backend/pkg/logger"
	"github.com/angelmondragon/bookswap-backend/pkg/outbox"
	"github.com/angelmondragon/bookswap-backend/pkg/types"
)

type stubCourier struct {
	createFn func(ctx context.Context, req courier.ShipmentRequest) (*courier.Shipment, error)
	cancelFn func(ctx context.Context, ref, reason string) error
	requests []courier.ShipmentRequest
}

func (s *stubCourier) CreateShipment(ctx context.Context, req courier.ShipmentRequest) (*courier.Shipment, error) {
	s.requests = append(s.requests, req)
	return s.createFn(ctx, req)
}

func (s *stubCourier) CancelShipment(ctx context.Context, ref, reason string) error {
	if s.cancelFn == nil {
		return nil
	}
	return s.cancelFn(ctx, ref, reason)
}

var fixedNow = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

type harness struct {
	db     *gorm.DB
	buyer  models.User
	seller models.User
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dsn := fmt.Sprintf("file:shipments_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true, Logger: gormlogger.Discard})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Order{}, &models.OutboxEvent{}))

	phone := "0821234567"
	h := &harness{
		db:     db,
		buyer:  models.User{ID: uuid.New(), Email: "buyer@uni.ac.za", DisplayName: "Thandi"},
		seller: models.User{ID: uuid.New(), Email: "seller@uni.ac.za", DisplayName: "Pieter", Phone: &phone},
	}
	require.NoError(t, db.Create(&h.buyer).Error)
	require.NoError(t, db.Create(&h.seller).Error)
	return h
}

func (h *harness) service(t *testing.T, c courierClient) Service {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	params := ServiceParams{
		Repo:     NewRepository(h.db),
		Users:    users.NewRepository(h.db),
		Outbox:   outbox.NewService(outbox.NewRepository(h.db), logg),
		TxRunner: dbpkg.FromConn(h.db),
		Settings: Settings{
			CourierSlug:      "tcg",
			PlaceholderLabel: "https://labels.test/simulated.pdf",
			SimulatedETADays: 3,
			DefaultParcel: rates.Parcel{
				WeightKG: decimal.NewFromInt(1),
				LengthCM: decimal.NewFromInt(30),
				WidthCM:  decimal.NewFromInt(25),
				HeightCM: decimal.NewFromInt(5),
			},
		},
		Logger: logg,
		Now:    func() time.Time { return fixedNow },
	}
	if c != nil {
		params.Courier = c
	}
	svc, err := NewService(params)
	require.NoError(t, err)
	return svc
}

func (h *harness) seedOrder(t *testing.T, status enums.OrderStatus) models.Order {
	t.Helper()
	order := models.Order{
		ID:       uuid.MustParse("a1b2c3d4-0000-4000-8000-000000000001"),
		BuyerID:  h.buyer.ID,
		SellerID: h.seller.ID,
		BookID:   uuid.New(),
		Item: types.BookSnapshot{
			Title:    "Organic Chemistry",
			Price:    decimal.NewFromInt(420),
			WeightKG: decimal.RequireFromString("1.8"),
		},
		Amount:      decimal.NewFromInt(505),
		PickupPoint: types.LockerPoint("LKR-12", "pudo"),
		DeliveryPoint: types.AddressPoint(types.Address{
			StreetAddress: "5 Library Rd",
			City:          "Stellenbosch",
			Province:      "Western Cape",
			PostalCode:    "7600",
		}),
		Status: status,
	}
	require.NoError(t, h.db.Create(&order).Error)
	return order
}

func (h *harness) outboxEvents(t *testing.T) []models.OutboxEvent {
	t.Helper()
	var rows []models.OutboxEvent
	require.NoError(t, h.db.Find(&rows).Error)
	return rows
}

func TestCreateShipmentWithCourier(t *testing.T) {
	h := newHarness(t)
	order := h.seedOrder(t, enums.OrderStatusCommitted)
	stub := &stubCourier{createFn: func(context.Context, courier.ShipmentRequest) (*courier.Shipment, error) {
		return &courier.Shipment{ID: 901, TrackingReference: "TCG901", Status: "submitted", Rate: decimal.NewFromInt(85)}, nil
	}}
	svc := h.service(t, stub)

	res, err := svc.CreateShipment(context.Background(), order.ID, rates.Quote{ServiceLevelCode: "ECO", Cost: decimal.NewFromInt(100)})
	require.NoError(t, err)
	assert.False(t, res.Simulated)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, "TCG901", res.TrackingNumber)
	assert.Equal(t, enums.OrderStatusShipped, res.Order.Status)
	require.NotNil(t, res.Order.Shipment.ShipmentID)
	assert.Equal(t, "901", *res.Order.Shipment.ShipmentID)

	require.Len(t, stub.requests, 1)
	req := stub.requests[0]
	assert.Nil(t, req.CollectionAddress)
	assert.Equal(t, "LKR-12", req.CollectionPickupPointID)
	require.NotNil(t, req.DeliveryAddress)
	assert.Equal(t, "WC", req.DeliveryAddress.Zone)
	assert.Empty(t, req.DeliveryPickupPointID)
	assert.Equal(t, "Pieter", req.CollectionContact.Name)
	assert.Equal(t, "0821234567", req.CollectionContact.MobileNumber)
	assert.Equal(t, 1.8, req.Parcels[0].SubmittedWeightKG)
	assert.Equal(t, float64(30), req.Parcels[0].SubmittedLengthCM)

	events := h.outboxEvents(t)
	require.Len(t, events, 1)
	assert.Equal(t, enums.EventOrderShipped, events[0].EventType)
}

func TestCreateShipmentSimulatesOnCourierFailure(t *testing.T) {
	h := newHarness(t)
	order := h.seedOrder(t, enums.OrderStatusCommitted)
	stub := &stubCourier{createFn: func(context.Context, courier.ShipmentRequest) (*courier.Shipment, error) {
		return nil, pkgerrors.New(pkgerrors.CodeShipmentProviderError, "status 503")
	}}
	svc := h.service(t, stub)

	res, err := svc.CreateShipment(context.Background(), order.ID, rates.Quote{ServiceLevelCode: "ECO", Cost: decimal.NewFromInt(100)})
	require.NoError(t, err)
	assert.True(t, res.Simulated)
	assert.Equal(t, "SIM-A1B2C3D4-20260302", res.TrackingNumber)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, pkgerrors.CodeShipmentProviderError, res.Warnings[0].Code)

	got := res.Order
	assert.Equal(t, enums.OrderStatusShipped, got.Status)
	assert.True(t, got.Shipment.Simulated)
	require.NotNil(t, got.Shipment.LabelURL)
	assert.Equal(t, "https://labels.test/simulated.pdf", *got.Shipment.LabelURL)
	require.NotNil(t, got.Shipment.DeliveryETA)
	assert.True(t, got.Shipment.DeliveryETA.Equal(fixedNow.AddDate(0, 0, 3)))
	assert.Len(t, h.outboxEvents(t), 1)
}

func TestCreateShipmentWithoutCourierIsSimulated(t *testing.T) {
	h := newHarness(t)
	order := h.seedOrder(t, enums.OrderStatusCommitted)
	svc := h.service(t, nil)

	res, err := svc.CreateShipment(context.Background(), order.ID, rates.Quote{ServiceLevelCode: "SIM-STD", Simulated: true})
	require.NoError(t, err)
	assert.True(t, res.Simulated)
	assert.True(t, res.Warnings.Has(stepCreate))
}

func TestCreateShipmentRequiresCommitted(t *testing.T) {
	h := newHarness(t)
	order := h.seedOrder(t, enums.OrderStatusPaid)
	svc := h.service(t, nil)

	_, err := svc.CreateShipment(context.Background(), order.ID, rates.Quote{})
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err))
	assert.Empty(t, h.outboxEvents(t))
}

func TestCreateShipmentUnknownOrder(t *testing.T) {
	h := newHarness(t)
	svc := h.service(t, nil)

	_, err := svc.CreateShipment(context.Background(), uuid.New(), rates.Quote{})
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
}

func TestReplaceSimulated(t *testing.T) {
	h := newHarness(t)
	order := h.seedOrder(t, enums.OrderStatusCommitted)
	_, err := h.service(t, nil).CreateShipment(context.Background(), order.ID, rates.Quote{Simulated: true})
	require.NoError(t, err)

	stub := &stubCourier{createFn: func(context.Context, courier.ShipmentRequest) (*courier.Shipment, error) {
		return &courier.Shipment{ID: 77, TrackingReference: "TCG77", Status: "submitted"}, nil
	}}
	res, err := h.service(t, stub).ReplaceSimulated(context.Background(), order.ID, rates.Quote{ServiceLevelCode: "ECO", Cost: decimal.NewFromInt(95)})
	require.NoError(t, err)
	assert.Equal(t, "TCG77", res.TrackingNumber)
	assert.False(t, res.Order.Shipment.Simulated)
	assert.Equal(t, enums.OrderStatusShipped, res.Order.Status)
	assert.Len(t, h.outboxEvents(t), 2)

	_, err = h.service(t, stub).ReplaceSimulated(context.Background(), order.ID, rates.Quote{ServiceLevelCode: "ECO"})
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err))
}

func TestCancelShipment(t *testing.T) {
	h := newHarness(t)
	var cancelled string
	stub := &stubCourier{cancelFn: func(_ context.Context, ref, _ string) error {
		cancelled = ref
		return nil
	}}
	svc := h.service(t, stub)

	require.NoError(t, svc.CancelShipment(context.Background(), "SIM-ABCDEF12-20260101", "x"))
	assert.Empty(t, cancelled)

	require.NoError(t, svc.CancelShipment(context.Background(), "TCG55", "buyer cancelled"))
	assert.Equal(t, "TCG55", cancelled)

	stub.cancelFn = func(context.Context, string, string) error { return errors.New("already collected") }
	assert.Error(t, svc.CancelShipment(context.Background(), "TCG55", ""))

	assert.Error(t, h.service(t, nil).CancelShipment(context.Background(), "TCG55", ""))
}

func TestSimulatedTrackingNumber(t *testing.T) {
	id := uuid.MustParse("0f9e8d7c-6b5a-4000-8000-000000000000")
	assert.Equal(t, "SIM-0F9E8D7C-20261231", SimulatedTrackingNumber(id, time.Date(2026, 12, 31, 23, 0, 0, 0, time.UTC)))
	assert.True(t, IsSimulatedTracking("SIM-0F9E8D7C-20261231"))
	assert.False(t, IsSimulatedTracking("TCG123"))
}
