package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/bookswap-backend/internal/rates"
	"github.com/angelmondragon/bookswap-backend/pkg/db"
	"github.com/angelmondragon/bookswap-backend/pkg/db/models"
	"github.com/angelmondragon/bookswap-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bookswap-backend/pkg/errors"
	"github.com/angelmondragon/bookswap-backend/pkg/outbox"
	"github.com/angelmondragon/bookswap-backend/pkg/outbox/payloads"
)

// transition describes one state-machine step.
type transition struct {
	to        enums.OrderStatus
	updates   map[string]any
	authorize func(order *models.Order) error
	// prepare may adjust updates from the locked row; returning done=true
	// means the order is already in the target state.
	prepare func(order *models.Order, updates map[string]any) (done bool, err error)
	event   func(order *models.Order) outbox.DomainEvent
}

// apply locks the order, checks the state machine, writes the new status and
// queues the event in a single transaction.
func (s *service) apply(ctx context.Context, orderID uuid.UUID, t transition) (*models.Order, error) {
	ctx = s.logg.WithOrderID(ctx, orderID.String())
	updates := t.updates
	if updates == nil {
		updates = map[string]any{}
	}
	updates["status"] = t.to

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByIDForUpdate(ctx, orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if t.authorize != nil {
			if err := t.authorize(order); err != nil {
				return err
			}
		}
		if t.prepare != nil {
			done, err := t.prepare(order, updates)
			if err != nil || done {
				return err
			}
		}
		if !order.Status.CanTransition(t.to) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order cannot move from %s to %s", order.Status, t.to)).
				WithDetails(map[string]any{"from": order.Status, "to": t.to})
		}
		applied, err := repo.UpdateIfStatus(ctx, order.ID, []enums.OrderStatus{order.Status}, updates)
		if err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "payment reference already used")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
		}
		if !applied {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order changed state concurrently")
		}
		order.Status = t.to
		if t.event == nil {
			return nil
		}
		return s.outbox.Emit(ctx, tx, t.event(order))
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply order transition")
	}
	s.logg.Info(ctx, fmt.Sprintf("order moved to %s", t.to))
	return s.loadOrder(ctx, orderID)
}

// MarkPaid records the captured payment. Calling it again with the same
// reference is a no-op.
func (s *service) MarkPaid(ctx context.Context, orderID uuid.UUID, paymentReference string) (*models.Order, error) {
	ref := strings.TrimSpace(paymentReference)
	if ref == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment reference is required")
	}
	return s.apply(ctx, orderID, transition{
		to: enums.OrderStatusPaid,
		prepare: func(order *models.Order, updates map[string]any) (bool, error) {
			if order.PaymentReference != nil && *order.PaymentReference != ref {
				return false, pkgerrors.New(pkgerrors.CodeConflict, "order was placed with a different payment reference")
			}
			if order.Status == enums.OrderStatusPaid {
				return true, nil
			}
			if order.PaymentReference == nil {
				updates["payment_reference"] = ref
			}
			return false, nil
		},
		event: func(order *models.Order) outbox.DomainEvent {
			return s.orderEvent(order, enums.EventOrderPaid, enums.OrderStatusPaid, order.BuyerID)
		},
	})
}

// RequestCommit asks the seller to confirm they can ship.
func (s *service) RequestCommit(ctx context.Context, orderID uuid.UUID, actor Actor) (*models.Order, error) {
	return s.apply(ctx, orderID, transition{
		to: enums.OrderStatusPendingCommit,
		authorize: func(order *models.Order) error {
			if actor.IsAdmin() || actor.UserID == order.BuyerID {
				return nil
			}
			return pkgerrors.New(pkgerrors.CodeForbidden, "only the buyer or an admin can request a commit")
		},
		event: func(order *models.Order) outbox.DomainEvent {
			return s.orderEvent(order, enums.EventOrderCommitRequested, enums.OrderStatusPendingCommit, order.SellerID)
		},
	})
}

// CommitOrder records the seller's commitment and books the shipment. A
// committed order whose shipment was never recorded can be committed again
// to retry the booking.
func (s *service) CommitOrder(ctx context.Context, input CommitInput) (*CommitResult, error) {
	order, err := s.apply(ctx, input.OrderID, transition{
		to: enums.OrderStatusCommitted,
		authorize: func(order *models.Order) error {
			if input.SellerID != uuid.Nil && input.SellerID == order.SellerID {
				return nil
			}
			return pkgerrors.New(pkgerrors.CodeForbidden, "only the seller can commit this order")
		},
		prepare: func(order *models.Order, _ map[string]any) (bool, error) {
			return order.Status == enums.OrderStatusCommitted, nil
		},
		event: func(order *models.Order) outbox.DomainEvent {
			return s.orderEvent(order, enums.EventOrderCommitted, enums.OrderStatusCommitted, order.BuyerID)
		},
	})
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithOrderID(ctx, order.ID.String())

	quote, warnings, err := s.commitQuote(ctx, order, input.Quote)
	if err != nil {
		return nil, err
	}
	shipment, err := s.shipments.CreateShipment(ctx, order.ID, quote)
	if err != nil {
		return nil, err
	}
	warnings = append(warnings, shipment.Warnings...)
	return &CommitResult{Order: shipment.Order, Shipment: shipment, Warnings: warnings}, nil
}

// commitQuote uses the caller's quote, or the cheapest live quote for the
// order's route.
func (s *service) commitQuote(ctx context.Context, order *models.Order, chosen *rates.Quote) (rates.Quote, pkgerrors.Warnings, error) {
	if chosen != nil {
		return *chosen, nil, nil
	}
	if s.quotes == nil {
		return rates.Quote{}, nil, pkgerrors.New(pkgerrors.CodeValidation, "a shipping quote is required")
	}
	result, err := s.quotes.GetQuotes(ctx, rates.QuoteRequest{
		Collection:    order.PickupPoint,
		Delivery:      order.DeliveryPoint,
		Parcel:        rates.Parcel{WeightKG: order.Item.WeightKG},
		DeclaredValue: order.Item.Price,
	})
	if err != nil {
		return rates.Quote{}, nil, err
	}
	if len(result.Quotes) == 0 {
		return rates.Quote{}, nil, pkgerrors.New(pkgerrors.CodeInternal, "no quotes available")
	}
	return result.Quotes[0], result.Warnings, nil
}

// MarkDelivered closes a shipped order.
func (s *service) MarkDelivered(ctx context.Context, orderID uuid.UUID, actor Actor) (*models.Order, error) {
	return s.apply(ctx, orderID, transition{
		to: enums.OrderStatusDelivered,
		authorize: func(order *models.Order) error {
			if actor.IsAdmin() || actor.UserID == order.BuyerID {
				return nil
			}
			return pkgerrors.New(pkgerrors.CodeForbidden, "only the buyer or an admin can confirm delivery")
		},
		updates: map[string]any{
			"delivery_status": enums.DeliveryStatusDelivered,
			"delivered_at":    s.now().UTC(),
		},
		event: s.deliveredEvent,
	})
}

// UpdateDeliveryStatus stores a courier tracking update. A delivered update
// on a shipped order also closes the order.
func (s *service) UpdateDeliveryStatus(ctx context.Context, trackingNumber, status string) (*models.Order, error) {
	tracking := strings.TrimSpace(trackingNumber)
	normalized := enums.NormalizeDeliveryStatus(status)
	if tracking == "" || normalized == enums.DeliveryStatusNone {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tracking number and status are required")
	}

	order, err := s.repo.FindByTrackingNumber(ctx, tracking)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no order for tracking number")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup order by tracking number")
	}
	ctx = s.logg.WithOrderID(ctx, order.ID.String())

	if normalized == enums.DeliveryStatusDelivered && order.Status == enums.OrderStatusShipped {
		return s.apply(ctx, order.ID, transition{
			to: enums.OrderStatusDelivered,
			updates: map[string]any{
				"delivery_status": normalized,
				"shipment_status": status,
				"delivered_at":    s.now().UTC(),
			},
			event: s.deliveredEvent,
		})
	}

	if err := s.repo.Update(ctx, order.ID, map[string]any{
		"delivery_status": normalized,
		"shipment_status": status,
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store delivery status")
	}
	s.logg.Info(s.logg.WithField(ctx, "delivery_status", string(normalized)), "delivery status updated")
	return s.loadOrder(ctx, order.ID)
}

func (s *service) deliveredEvent(order *models.Order) outbox.DomainEvent {
	return s.orderEvent(order, enums.EventOrderDelivered, enums.OrderStatusDelivered, order.BuyerID, order.SellerID)
}

func (s *service) orderEvent(order *models.Order, eventType enums.OutboxEventType, status enums.OrderStatus, recipients ...uuid.UUID) outbox.DomainEvent {
	return outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		OccurredAt:    s.now().UTC(),
		Data:          orderPayload(order, status, recipients...),
	}
}

func orderPayload(order *models.Order, status enums.OrderStatus, recipients ...uuid.UUID) payloads.OrderEvent {
	return payloads.OrderEvent{
		OrderID:    order.ID,
		BookID:     order.BookID,
		BuyerID:    order.BuyerID,
		SellerID:   order.SellerID,
		Title:      order.Item.Title,
		Status:     status,
		Amount:     order.Amount,
		Recipients: recipients,
	}
}
