package shipments

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/bookswap-backend/internal/rates"
	"github.com/angelmondragon/bookswap-backend/pkg/courier"
	"github.com/angelmondragon/bookswap-backend/pkg/db/models"
	"github.com/angelmondragon/bookswap-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bookswap-backend/pkg/errors"
	"github.com/angelmondragon/bookswap-backend/pkg/logger"
	"github.com/angelmondragon/bookswap-backend/pkg/metrics"
	"github.com/angelmondragon/bookswap-backend/pkg/outbox"
	"github.com/angelmondragon/bookswap-backend/pkg/outbox/payloads"
)

const (
	stepCreate = "courier_create_shipment"
	stepCancel = "courier_cancel_shipment"

	simulatedPrefix = "SIM-"
	statusSimulated = "simulated"
)

var (
	errCourierNotConfigured = errors.New("courier credentials not configured")
	errSimulatedQuote       = errors.New("quote was simulated; no courier service level to book")
)

// Result describes the shipment attached to an order.
type Result struct {
	Order          *models.Order      `json:"order"`
	TrackingNumber string             `json:"tracking_number"`
	Simulated      bool               `json:"simulated"`
	Warnings       pkgerrors.Warnings `json:"warnings,omitempty"`
}

// Service books and cancels courier shipments for committed orders.
type Service interface {
	CreateShipment(ctx context.Context, orderID uuid.UUID, quote rates.Quote) (*Result, error)
	ReplaceSimulated(ctx context.Context, orderID uuid.UUID, quote rates.Quote) (*Result, error)
	CancelShipment(ctx context.Context, trackingNumber, reason string) error
}

type courierClient interface {
	CreateShipment(ctx context.Context, req courier.ShipmentRequest) (*courier.Shipment, error)
	CancelShipment(ctx context.Context, trackingReference, reason string) error
}

type userLookup interface {
	FindByIDs(ctx context.Context, ids ...uuid.UUID) (map[uuid.UUID]models.User, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Settings controls the simulated fallback.
type Settings struct {
	CourierSlug      string
	PlaceholderLabel string
	SimulatedETADays int
	DefaultParcel    rates.Parcel
}

type ServiceParams struct {
	// Courier may be nil; every shipment is then simulated.
	Courier  courierClient
	Repo     *Repository
	Users    userLookup
	Outbox   outbox.Emitter
	TxRunner txRunner
	Settings Settings
	Metrics  *metrics.SagaMetrics
	Logger   *logger.Logger
	Now      func() time.Time
}

type service struct {
	courier  courierClient
	repo     *Repository
	users    userLookup
	outbox   outbox.Emitter
	tx       txRunner
	settings Settings
	metrics  *metrics.SagaMetrics
	logg     *logger.Logger
	now      func() time.Time
}

// NewService wires the shipment orchestrator.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("shipments repository required")
	}
	if params.Users == nil {
		return nil, fmt.Errorf("users lookup required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.TxRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Settings.SimulatedETADays <= 0 {
		params.Settings.SimulatedETADays = 3
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		courier:  params.Courier,
		repo:     params.Repo,
		users:    params.Users,
		outbox:   params.Outbox,
		tx:       params.TxRunner,
		settings: params.Settings,
		metrics:  params.Metrics,
		logg:     params.Logger,
		now:      now,
	}, nil
}

func (s *service) CreateShipment(ctx context.Context, orderID uuid.UUID, quote rates.Quote) (*Result, error) {
	ctx = s.logg.WithOrderID(ctx, orderID.String())
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != enums.OrderStatusCommitted {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order is %s; only committed orders can be shipped", order.Status))
	}

	booked, warnings := s.book(ctx, order, quote)
	updates := shipmentUpdates(booked)

	var applied bool
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var txErr error
		applied, txErr = s.repo.ApplyShipment(ctx, tx, order.ID, updates)
		if txErr != nil || !applied {
			return txErr
		}
		return s.emitShipped(ctx, tx, order, booked)
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record shipment")
	}
	if !applied {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order changed state while the shipment was being booked")
	}
	if booked.simulated {
		s.metrics.IncSimulatedShipment()
	}

	updated, err := s.loadOrder(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	return &Result{
		Order:          updated,
		TrackingNumber: booked.trackingNumber,
		Simulated:      booked.simulated,
		Warnings:       warnings,
	}, nil
}

// ReplaceSimulated books a real shipment for an order that shipped on a
// simulated one. A failed booking leaves the simulated shipment in place.
func (s *service) ReplaceSimulated(ctx context.Context, orderID uuid.UUID, quote rates.Quote) (*Result, error) {
	ctx = s.logg.WithOrderID(ctx, orderID.String())
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != enums.OrderStatusShipped || !order.Shipment.Simulated {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order has no simulated shipment to replace")
	}
	if s.courier == nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeShipmentProviderError, errCourierNotConfigured, "replace simulated shipment")
	}
	if quote.Simulated {
		return nil, pkgerrors.Wrap(pkgerrors.CodeShipmentProviderError, errSimulatedQuote, "replace simulated shipment")
	}

	req, err := s.buildRequest(ctx, order, quote)
	if err != nil {
		return nil, err
	}
	shipment, err := s.courier.CreateShipment(ctx, req)
	if err != nil {
		return nil, err
	}
	booked := s.fromCourier(shipment, quote)
	updates := shipmentUpdates(booked)

	var applied bool
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var txErr error
		applied, txErr = s.repo.ReplaceSimulated(ctx, tx, order.ID, updates)
		if txErr != nil || !applied {
			return txErr
		}
		return s.emitShipped(ctx, tx, order, booked)
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record replacement shipment")
	}
	if !applied {
		if cancelErr := s.courier.CancelShipment(ctx, booked.trackingNumber, "duplicate booking"); cancelErr != nil {
			s.logg.WarnErr(ctx, "failed to cancel duplicate courier booking", cancelErr)
		}
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "simulated shipment was already replaced")
	}

	updated, err := s.loadOrder(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	return &Result{Order: updated, TrackingNumber: booked.trackingNumber}, nil
}

func (s *service) CancelShipment(ctx context.Context, trackingNumber, reason string) error {
	trimmed := strings.TrimSpace(trackingNumber)
	if trimmed == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "tracking number is required")
	}
	if IsSimulatedTracking(trimmed) {
		return nil
	}
	if s.courier == nil {
		return pkgerrors.Wrap(pkgerrors.CodeShipmentProviderError, errCourierNotConfigured, "cancel shipment")
	}
	if err := s.courier.CancelShipment(ctx, trimmed, reason); err != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{"step": stepCancel, "tracking_number": trimmed})
		s.logg.WarnErr(logCtx, "courier cancel failed", err)
		return err
	}
	return nil
}

type bookedShipment struct {
	trackingNumber   string
	shipmentID       string
	courierSlug      string
	serviceLevelCode string
	cost             decimal.Decimal
	collectionETA    *time.Time
	deliveryETA      *time.Time
	labelURL         string
	status           string
	simulated        bool
}

// book calls the courier and falls back to a simulated shipment on any
// failure. It never returns an error.
func (s *service) book(ctx context.Context, order *models.Order, quote rates.Quote) (bookedShipment, pkgerrors.Warnings) {
	var warnings pkgerrors.Warnings
	var cause error
	switch {
	case s.courier == nil:
		cause = errCourierNotConfigured
	case quote.Simulated:
		cause = errSimulatedQuote
	default:
		req, err := s.buildRequest(ctx, order, quote)
		if err != nil {
			cause = err
			break
		}
		shipment, err := s.courier.CreateShipment(ctx, req)
		if err == nil {
			return s.fromCourier(shipment, quote), nil
		}
		cause = err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{"step": stepCreate})
	s.logg.WarnErr(logCtx, "courier booking unavailable, recording simulated shipment", cause)
	warnings.Add(pkgerrors.CodeShipmentProviderError, stepCreate, cause)
	return s.simulate(order, quote), warnings
}

func (s *service) buildRequest(ctx context.Context, order *models.Order, quote rates.Quote) (courier.ShipmentRequest, error) {
	parties, err := s.users.FindByIDs(ctx, order.SellerID, order.BuyerID)
	if err != nil {
		return courier.ShipmentRequest{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shipment contacts")
	}
	parcel := s.settings.DefaultParcel
	if order.Item.WeightKG.IsPositive() {
		parcel.WeightKG = order.Item.WeightKG
	}
	return courier.ShipmentRequest{
		Endpoints:         rates.BuildEndpoints(order.PickupPoint, order.DeliveryPoint),
		CollectionContact: contactFor(parties[order.SellerID]),
		DeliveryContact:   contactFor(parties[order.BuyerID]),
		Parcels:           []courier.Parcel{rates.CourierParcel(parcel)},
		ServiceLevelCode:  quote.ServiceLevelCode,
		CustomerReference: order.ID.String(),
		DeclaredValue:     order.Item.Price.InexactFloat64(),
	}, nil
}

func contactFor(user models.User) courier.Contact {
	c := courier.Contact{Name: user.DisplayName, Email: user.Email}
	if user.Phone != nil {
		c.MobileNumber = *user.Phone
	}
	return c
}

func (s *service) fromCourier(shipment *courier.Shipment, quote rates.Quote) bookedShipment {
	cost := shipment.Rate
	if cost.IsZero() {
		cost = quote.Cost
	}
	slug := quote.CourierSlug
	if slug == "" {
		slug = s.settings.CourierSlug
	}
	level := shipment.ServiceLevelCode
	if level == "" {
		level = quote.ServiceLevelCode
	}
	return bookedShipment{
		trackingNumber:   shipment.TrackingReference,
		shipmentID:       strconv.FormatInt(shipment.ID, 10),
		courierSlug:      slug,
		serviceLevelCode: level,
		cost:             cost,
		collectionETA:    courier.ParseDate(shipment.EstimatedCollection),
		deliveryETA:      courier.ParseDate(shipment.EstimatedDeliveryTo),
		labelURL:         shipment.LabelURL,
		status:           shipment.Status,
	}
}

func (s *service) simulate(order *models.Order, quote rates.Quote) bookedShipment {
	now := s.now().UTC()
	eta := now.AddDate(0, 0, s.settings.SimulatedETADays)
	slug := quote.CourierSlug
	if slug == "" {
		slug = s.settings.CourierSlug
	}
	return bookedShipment{
		trackingNumber:   SimulatedTrackingNumber(order.ID, now),
		courierSlug:      slug,
		serviceLevelCode: quote.ServiceLevelCode,
		cost:             quote.Cost,
		deliveryETA:      &eta,
		labelURL:         s.settings.PlaceholderLabel,
		status:           statusSimulated,
		simulated:        true,
	}
}

// SimulatedTrackingNumber is SIM-<first 8 hex of the order id>-<yyyymmdd>.
func SimulatedTrackingNumber(orderID uuid.UUID, at time.Time) string {
	hex := strings.ToUpper(strings.ReplaceAll(orderID.String(), "-", ""))
	return fmt.Sprintf("%s%s-%s", simulatedPrefix, hex[:8], at.UTC().Format("20060102"))
}

// IsSimulatedTracking reports whether a tracking number was synthesized
// locally rather than issued by the courier.
func IsSimulatedTracking(tracking string) bool {
	return strings.HasPrefix(strings.TrimSpace(tracking), simulatedPrefix)
}

func shipmentUpdates(b bookedShipment) map[string]any {
	updates := map[string]any{
		"tracking_number":    b.trackingNumber,
		"courier_slug":       b.courierSlug,
		"service_level_code": b.serviceLevelCode,
		"shipping_cost":      b.cost,
		"collection_eta":     b.collectionETA,
		"delivery_eta":       b.deliveryETA,
		"label_url":          b.labelURL,
		"shipment_status":    b.status,
		"shipment_simulated": b.simulated,
	}
	if b.shipmentID != "" {
		updates["shipment_id"] = b.shipmentID
	} else {
		updates["shipment_id"] = nil
	}
	return updates
}

func (s *service) emitShipped(ctx context.Context, tx *gorm.DB, order *models.Order, b bookedShipment) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderShipped,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Data: payloads.OrderShippedEvent{
			OrderEvent: payloads.OrderEvent{
				OrderID:    order.ID,
				BookID:     order.BookID,
				BuyerID:    order.BuyerID,
				SellerID:   order.SellerID,
				Title:      order.Item.Title,
				Status:     enums.OrderStatusShipped,
				Amount:     order.Amount,
				Recipients: []uuid.UUID{order.BuyerID},
			},
			TrackingNumber: b.trackingNumber,
			CourierSlug:    b.courierSlug,
			DeliveryETA:    b.deliveryETA,
			Simulated:      b.simulated,
		},
	})
}

func (s *service) loadOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindOrder(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}
