package courierwebhook

import (
	"context"
	"strings"

	"github.com/angelmondragon/bookswap-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/bookswap-backend/pkg/errors"
	"github.com/angelmondragon/bookswap-backend/pkg/logger"
)

type deliveryUpdater interface {
	UpdateDeliveryStatus(ctx context.Context, trackingNumber, status string) (*models.Order, error)
}

type ServiceParams struct {
	Orders deliveryUpdater
	Logger *logger.Logger
}

// Service forwards courier tracking callbacks to the order state machine.
type Service struct {
	orders deliveryUpdater
	logg   *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders service required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{orders: params.Orders, logg: params.Logger}, nil
}

// TrackingEvent is the courier's tracking callback body.
type TrackingEvent struct {
	EventID           string `json:"event_id"`
	TrackingReference string `json:"tracking_reference"`
	Status            string `json:"status"`
}

// ID falls back to reference plus status for couriers that omit event ids.
func (e TrackingEvent) ID() string {
	if id := strings.TrimSpace(e.EventID); id != "" {
		return id
	}
	return strings.TrimSpace(e.TrackingReference) + ":" + strings.ToLower(strings.TrimSpace(e.Status))
}

// HandleEvent stores the delivery status. Unknown tracking numbers are
// acknowledged so the courier stops retrying them.
func (s *Service) HandleEvent(ctx context.Context, event *TrackingEvent) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "tracking event required")
	}
	if strings.TrimSpace(event.TrackingReference) == "" || strings.TrimSpace(event.Status) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "tracking_reference and status are required")
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"tracking_number": event.TrackingReference,
		"courier_status":  event.Status,
	})
	order, err := s.orders.UpdateDeliveryStatus(ctx, event.TrackingReference, event.Status)
	if err != nil {
		switch pkgerrors.CodeOf(err) {
		case pkgerrors.CodeNotFound:
			s.logg.Warn(ctx, "tracking update for unknown shipment ignored")
			return nil
		case pkgerrors.CodeStateConflict:
			s.logg.WarnErr(ctx, "tracking update did not apply", err)
			return nil
		default:
			return err
		}
	}
	s.logg.Info(s.logg.WithOrderID(ctx, order.ID.String()), "tracking update applied")
	return nil
}
