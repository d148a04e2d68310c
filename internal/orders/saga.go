package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/bookswap-backend/internal/payments"
	"github.com/angelmondragon/bookswap-backend/pkg/db/models"
	"github.com/angelmondragon/bookswap-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bookswap-backend/pkg/errors"
	"github.com/angelmondragon/bookswap-backend/pkg/metrics"
	"github.com/angelmondragon/bookswap-backend/pkg/outbox"
	"github.com/angelmondragon/bookswap-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/bookswap-backend/pkg/types"
)

const maxReasonLength = 500

// CancelOrderWithRefund runs the cancellation saga: courier cancel (best
// effort), refund (fatal), status update, inventory release and
// notifications (best effort).
func (s *service) CancelOrderWithRefund(ctx context.Context, input CancelInput) (*SagaResult, error) {
	ctx = s.logg.WithOrderID(ctx, input.OrderID.String())
	ctx = s.logg.WithActorRole(ctx, string(input.Actor.Role))
	order, err := s.loadOrder(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	if !canView(input.Actor, order) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the buyer, the seller or an admin can cancel this order")
	}
	if err := ensureCancellable(order); err != nil {
		return nil, err
	}
	reason := normalizeReason(input.Reason)

	var warnings pkgerrors.Warnings
	if order.Shipment.HasTracking() {
		if err := s.shipments.CancelShipment(ctx, *order.Shipment.TrackingNumber, reason); err != nil {
			warnings.Add(pkgerrors.CodeShipmentProviderError, stepCourierCancel, err)
			msg := truncate(err.Error(), maxReasonLength)
			if updateErr := s.repo.Update(ctx, order.ID, map[string]any{"shipment_cancel_error": msg}); updateErr != nil {
				s.logg.Error(ctx, "failed to record shipment cancel error", updateErr)
			}
			order.ShipmentCancelError = &msg
		}
	}

	refund, err := s.refund(ctx, order, reason)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	updates := map[string]any{
		"status":              enums.OrderStatusCancelled,
		"cancellation_reason": nullableString(reason),
		"cancelled_at":        now,
	}
	if input.Actor.UserID != uuid.Nil {
		updates["cancelled_by"] = input.Actor.UserID
	}
	applyRefundUpdates(updates, refund)

	event := s.cancelledEvent(order, enums.EventOrderCancelled, enums.OrderStatusCancelled, reason, refund, now, order.BuyerID, order.SellerID)
	event.Actor = &outbox.ActorRef{UserID: input.Actor.UserID, Role: string(input.Actor.Role)}
	return s.closeOrder(ctx, order, cancellableStatuses(), updates, event, refund, warnings)
}

// DeclineCommit lets the seller refuse a pending order. The buyer is
// refunded and the book is released back to the catalog.
func (s *service) DeclineCommit(ctx context.Context, input DeclineInput) (*SagaResult, error) {
	ctx = s.logg.WithOrderID(ctx, input.OrderID.String())
	order, err := s.loadOrder(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	if input.SellerID == uuid.Nil || order.SellerID != input.SellerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the seller can decline this order")
	}
	if order.Status != enums.OrderStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeOrderNotCancellable, fmt.Sprintf("order is %s; only pending orders can be declined", order.Status)).
			WithDetails(map[string]any{"status": order.Status})
	}
	reason := normalizeReason(input.Reason)

	refund, err := s.refund(ctx, order, reason)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	updates := map[string]any{
		"status":         enums.OrderStatusDeclined,
		"decline_reason": nullableString(reason),
		"declined_at":    now,
	}
	applyRefundUpdates(updates, refund)

	event := s.cancelledEvent(order, enums.EventOrderDeclined, enums.OrderStatusDeclined, reason, refund, now, order.BuyerID)
	event.Actor = &outbox.ActorRef{UserID: input.SellerID, Role: string(enums.ActorRoleUser)}
	return s.closeOrder(ctx, order, []enums.OrderStatus{enums.OrderStatusPending}, updates, event, refund, nil)
}

// ExpireOrder cancels a stale pending order. Orders that carry a payment
// reference go through the refund saga; unpaid ones are closed directly.
func (s *service) ExpireOrder(ctx context.Context, orderID uuid.UUID, reason string) (*SagaResult, error) {
	ctx = s.logg.WithOrderID(ctx, orderID.String())
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != enums.OrderStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order is %s; only pending orders expire", order.Status))
	}
	if order.PaymentReference != nil {
		return s.CancelOrderWithRefund(ctx, CancelInput{
			OrderID: orderID,
			Actor:   Actor{Role: enums.ActorRoleSystem},
			Reason:  reason,
		})
	}

	reason = normalizeReason(reason)
	now := s.now().UTC()
	updates := map[string]any{
		"status":              enums.OrderStatusCancelled,
		"cancellation_reason": nullableString(reason),
		"cancelled_at":        now,
	}
	event := s.cancelledEvent(order, enums.EventOrderExpired, enums.OrderStatusCancelled, reason, payments.RefundResult{}, now, order.BuyerID, order.SellerID)
	event.Actor = &outbox.ActorRef{Role: string(enums.ActorRoleSystem)}
	return s.closeOrder(ctx, order, []enums.OrderStatus{enums.OrderStatusPending}, updates, event, payments.RefundResult{}, nil)
}

// closeOrder writes the terminal status and queues the notification, then
// releases the reserved book.
func (s *service) closeOrder(ctx context.Context, order *models.Order, from []enums.OrderStatus, updates map[string]any, event outbox.DomainEvent, refund payments.RefundResult, warnings pkgerrors.Warnings) (*SagaResult, error) {
	var applied bool
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var txErr error
		applied, txErr = s.repo.WithTx(tx).UpdateIfStatus(ctx, order.ID, from, updates)
		if txErr != nil || !applied {
			return txErr
		}
		return s.emitBestEffort(ctx, tx, event, &warnings)
	})
	if err != nil {
		if refund.RefundID != "" {
			s.logg.Error(s.logg.WithField(ctx, "refund_id", refund.RefundID), "refund issued but order status was not recorded", err)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record order closure")
	}
	if !applied {
		if refund.RefundID != "" {
			s.logg.Error(s.logg.WithField(ctx, "refund_id", refund.RefundID), "refund issued but order changed state concurrently", nil)
		}
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order changed state during the saga").
			WithDetails(map[string]any{"refund_id": refund.RefundID})
	}

	if err := s.releaseReservation(ctx, order); err != nil {
		warnings.Add(pkgerrors.CodeOf(err), stepRelease, err)
	}

	updated, err := s.loadOrder(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	s.logg.Info(ctx, fmt.Sprintf("order %s", updated.Status))
	return &SagaResult{Order: updated, RefundID: refund.RefundID, Warnings: warnings}, nil
}

// refund calls the processor. Orders never charged have nothing to refund.
func (s *service) refund(ctx context.Context, order *models.Order, reason string) (payments.RefundResult, error) {
	if order.PaymentReference == nil {
		return payments.RefundResult{}, nil
	}
	if order.RefundStatus == enums.RefundStatusCompleted && order.RefundReference != nil {
		return payments.RefundResult{RefundID: *order.RefundReference, Amount: order.Amount, Status: string(enums.RefundStatusCompleted)}, nil
	}

	result, err := s.refunds.Refund(ctx, *order, reason)
	if err != nil {
		s.metrics.IncRefund(metrics.RefundFailed)
		if updateErr := s.repo.Update(ctx, order.ID, map[string]any{"refund_status": enums.RefundStatusFailed}); updateErr != nil {
			s.logg.WarnErr(s.logg.WithField(ctx, "step", stepRefundRecord), "failed to record refund failure", updateErr)
		}
		s.logg.Error(ctx, "refund failed", err)
		if pkgerrors.Is(err, pkgerrors.CodeRefundFailed) {
			return payments.RefundResult{}, err
		}
		return payments.RefundResult{}, pkgerrors.Wrap(pkgerrors.CodeRefundFailed, err, "refund payment")
	}
	s.metrics.IncRefund(metrics.RefundSucceeded)

	// Persist the refund id before touching status so a retried saga does
	// not refund twice.
	updates := map[string]any{"refund_status": enums.RefundStatusCompleted, "refund_reference": result.RefundID}
	if err := s.repo.Update(ctx, order.ID, updates); err != nil {
		s.logg.WarnErr(s.logg.WithField(ctx, "step", stepRefundRecord), "failed to record refund", err)
	}
	return result, nil
}

func applyRefundUpdates(updates map[string]any, refund payments.RefundResult) {
	if refund.RefundID == "" {
		return
	}
	updates["refund_status"] = enums.RefundStatusCompleted
	updates["refund_reference"] = refund.RefundID
}

// releaseReservation puts the book back on sale. Failures are reported to
// operators through an inventory_release_failed event.
func (s *service) releaseReservation(ctx context.Context, order *models.Order) error {
	previous, err := s.reservationFor(ctx, order)
	if err != nil {
		s.recordReleaseFailure(ctx, &order.ID, order.BookID, types.InventorySnapshot{}, err)
		return err
	}
	if err := s.inventory.Release(ctx, nil, order.BookID, previous); err != nil {
		s.recordReleaseFailure(ctx, &order.ID, order.BookID, previous, err)
		return err
	}
	s.metrics.IncCompensation(stepRelease)
	return nil
}

// reservationFor returns the counters captured at reservation time, or the
// inverse of one reservation against the current counters for orders
// created before snapshots were stored.
func (s *service) reservationFor(ctx context.Context, order *models.Order) (types.InventorySnapshot, error) {
	if order.Reservation != nil {
		return *order.Reservation, nil
	}
	book, err := s.inventory.FindBook(ctx, nil, order.BookID)
	if err != nil {
		return types.InventorySnapshot{}, err
	}
	if book.SoldQuantity < 1 {
		return types.InventorySnapshot{}, pkgerrors.New(pkgerrors.CodeConflict, "book has no reserved unit to release")
	}
	return types.InventorySnapshot{
		AvailableQuantity: book.AvailableQuantity + 1,
		SoldQuantity:      book.SoldQuantity - 1,
		Sold:              false,
	}, nil
}

// compensateReservation undoes a reservation whose order was never
// recorded.
func (s *service) compensateReservation(ctx context.Context, orderID *uuid.UUID, bookID uuid.UUID, previous types.InventorySnapshot) {
	if err := s.inventory.Release(ctx, nil, bookID, previous); err != nil {
		s.recordReleaseFailure(ctx, orderID, bookID, previous, err)
		return
	}
	s.metrics.IncCompensation(stepRelease)
}

func (s *service) recordReleaseFailure(ctx context.Context, orderID *uuid.UUID, bookID uuid.UUID, previous types.InventorySnapshot, cause error) {
	logCtx := s.logg.WithFields(ctx, map[string]any{"step": stepReleaseFailed, "book_id": bookID.String()})
	s.logg.Error(logCtx, "inventory release failed", cause)
	s.metrics.IncCompensation(stepReleaseFailed)

	event := outbox.DomainEvent{
		EventType:     enums.EventInventoryReleaseFailed,
		AggregateType: enums.AggregateBook,
		AggregateID:   bookID,
		Actor:         &outbox.ActorRef{Role: string(enums.ActorRoleSystem)},
		Data: payloads.InventoryReleaseFailedEvent{
			OrderID:  orderID,
			BookID:   bookID,
			Snapshot: previous,
			Error:    cause.Error(),
		},
	}
	if err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.outbox.Emit(ctx, tx, event)
	}); err != nil {
		s.logg.Error(logCtx, "failed to queue inventory reconciliation event", err)
	}
}

// emitBestEffort queues event inside a savepoint so a failed insert rolls
// back only the event, not the surrounding status change.
func (s *service) emitBestEffort(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent, warnings *pkgerrors.Warnings) error {
	const savepoint = "order_notify"
	if err := tx.SavePoint(savepoint).Error; err != nil {
		return err
	}
	err := s.outbox.Emit(ctx, tx, event)
	if err == nil {
		return nil
	}
	if rbErr := tx.RollbackTo(savepoint).Error; rbErr != nil {
		return errors.Join(err, rbErr)
	}
	s.logg.WarnErr(s.logg.WithField(ctx, "step", stepNotify), "failed to queue notification", err)
	warnings.Add(pkgerrors.CodeDependency, stepNotify, err)
	return nil
}

func ensureCancellable(order *models.Order) error {
	if order.DeliveryStatus.IsHandedOff() {
		return pkgerrors.New(pkgerrors.CodeOrderNotCancellable, "parcel has already been handed to the courier").
			WithDetails(map[string]any{"delivery_status": order.DeliveryStatus})
	}
	if !order.Status.CanTransition(enums.OrderStatusCancelled) {
		return pkgerrors.New(pkgerrors.CodeOrderNotCancellable, fmt.Sprintf("order is %s and can no longer be cancelled", order.Status)).
			WithDetails(map[string]any{"status": order.Status})
	}
	return nil
}

func cancellableStatuses() []enums.OrderStatus {
	out := make([]enums.OrderStatus, 0, len(enums.ActiveOrderStatuses))
	for _, status := range enums.ActiveOrderStatuses {
		if status.CanTransition(enums.OrderStatusCancelled) {
			out = append(out, status)
		}
	}
	return out
}

func (s *service) cancelledEvent(order *models.Order, eventType enums.OutboxEventType, status enums.OrderStatus, reason string, refund payments.RefundResult, at time.Time, recipients ...uuid.UUID) outbox.DomainEvent {
	amount := refund.Amount
	if refund.RefundID == "" {
		amount = decimal.Zero
	}
	return outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		OccurredAt:    at,
		Data: payloads.OrderCancelledEvent{
			OrderEvent:   orderPayload(order, status, recipients...),
			Reason:       reason,
			RefundID:     refund.RefundID,
			RefundAmount: amount,
			CancelledAt:  at,
		},
	}
}

func normalizeReason(reason string) string {
	return truncate(strings.TrimSpace(reason), maxReasonLength)
}

func truncate(value string, max int) string {
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	return string(runes[:max])
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
