package squarewebhook

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/bookswap-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/bookswap-backend/pkg/errors"
	"github.com/angelmondragon/bookswap-backend/pkg/logger"
)

const paymentStatusCompleted = "COMPLETED"

type paymentRecorder interface {
	MarkPaid(ctx context.Context, orderID uuid.UUID, paymentReference string) (*models.Order, error)
}

type ServiceParams struct {
	Orders paymentRecorder
	Logger *logger.Logger
}

// Service applies Square payment notifications to orders. Checkout sets the
// payment's reference_id to the order id.
type Service struct {
	orders paymentRecorder
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

type SquareWebhookEvent struct {
	EventID string            `json:"event_id"`
	Type    string            `json:"type"`
	Data    SquareWebhookData `json:"data"`
}

type SquareWebhookData struct {
	Type   string              `json:"type"`
	ID     string              `json:"id"`
	Object SquareWebhookObject `json:"object"`
}

type SquareWebhookObject struct {
	Payment *SquarePayment `json:"payment,omitempty"`
}

type SquarePayment struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	ReferenceID string `json:"reference_id"`
	OrderID     string `json:"order_id"`
}

// HandleEvent marks the referenced order paid once Square reports the
// payment completed. Other event types are acknowledged and ignored.
func (s *Service) HandleEvent(ctx context.Context, event *SquareWebhookEvent) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "square event required")
	}

	switch strings.ToLower(event.Type) {
	case "payment.created", "payment.updated":
		payment := event.Data.Object.Payment
		if payment == nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "payment payload missing")
		}
		return s.applyPayment(ctx, payment)
	default:
		return nil
	}
}

func (s *Service) applyPayment(ctx context.Context, payment *SquarePayment) error {
	if !strings.EqualFold(payment.Status, paymentStatusCompleted) {
		return nil
	}
	if strings.TrimSpace(payment.ID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment id missing")
	}
	orderID, err := uuid.Parse(strings.TrimSpace(payment.ReferenceID))
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "payment_id", payment.ID), "square payment without an order reference ignored")
		return nil
	}

	ctx = s.logg.WithOrderID(ctx, orderID.String())
	if _, err := s.orders.MarkPaid(ctx, orderID, payment.ID); err != nil {
		switch pkgerrors.CodeOf(err) {
		case pkgerrors.CodeStateConflict, pkgerrors.CodeNotFound:
			// cancelled, expired or unknown orders cannot become paid; the
			// payment is settled by the refund flow instead.
			s.logg.WarnErr(ctx, "square payment not applied", err)
			return nil
		default:
			return err
		}
	}
	s.logg.Info(s.logg.WithField(ctx, "payment_id", payment.ID), "order marked paid from square")
	return nil
}
