package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/bookswap-backend/internal/analytics/types"
	analyticswriter "github.com/angelmondragon/bookswap-backend/internal/analytics/writer"
	"github.com/angelmondragon/bookswap-backend/pkg/logger"
	"github.com/angelmondragon/bookswap-backend/pkg/outbox/payloads"
)

// rowHandler writes one order_events row per payload of type T.
type rowHandler[T any] struct {
	writer Writer
	logg   *logger.Logger
	fill   func(*types.OrderEventRow, *T)
}

func (h *rowHandler[T]) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	ctx = h.logg.WithFields(ctx, map[string]any{
		"event_type":   envelope.EventType,
		"aggregate_id": envelope.AggregateID,
	})

	p, ok := payload.(*T)
	if !ok {
		return fmt.Errorf("payload %T does not match %s", payload, envelope.EventType)
	}
	encoded, err := analyticswriter.EncodeJSON(p)
	if err != nil {
		return fmt.Errorf("encode payload json: %w", err)
	}
	row := types.OrderEventRow{
		EventID:    envelope.EventID,
		EventType:  string(envelope.EventType),
		OccurredAt: envelope.OccurredAt,
		Payload:    encoded,
	}
	h.fill(&row, p)

	if err := h.writer.InsertOrderEvent(ctx, row); err != nil {
		h.logg.Error(ctx, "failed to insert order event row", err)
		return err
	}
	return nil
}

func fillOrder(row *types.OrderEventRow, e *payloads.OrderEvent) {
	row.OrderID = idString(e.OrderID)
	row.BookID = idString(e.BookID)
	row.BuyerID = idString(e.BuyerID)
	row.SellerID = idString(e.SellerID)
	row.Status = nonEmpty(string(e.Status))
	row.AmountCents = cents(e.Amount)
}

func fillShipped(row *types.OrderEventRow, e *payloads.OrderShippedEvent) {
	fillOrder(row, &e.OrderEvent)
	row.TrackingNumber = nonEmpty(e.TrackingNumber)
	row.CourierSlug = nonEmpty(e.CourierSlug)
	row.Simulated = &e.Simulated
}

// fillTermination covers cancel, decline and expiry. RefundCents is zero
// when nothing was charged.
func fillTermination(row *types.OrderEventRow, e *payloads.OrderCancelledEvent) {
	fillOrder(row, &e.OrderEvent)
	row.RefundCents = cents(e.RefundAmount)
	row.Reason = nonEmpty(e.Reason)
	if !e.CancelledAt.IsZero() {
		row.OccurredAt = e.CancelledAt.UTC()
	}
}

func fillReleaseFailed(row *types.OrderEventRow, e *payloads.InventoryReleaseFailedEvent) {
	row.BookID = idString(e.BookID)
	if e.OrderID != nil {
		row.OrderID = idString(*e.OrderID)
	}
	row.Reason = nonEmpty(e.Error)
}

func nonEmpty(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func idString(id uuid.UUID) *string {
	if id == uuid.Nil {
		return nil
	}
	s := id.String()
	return &s
}

// cents rounds half away from zero.
func cents(amount decimal.Decimal) *int64 {
	c := amount.Shift(2).Round(0).IntPart()
	return &c
}
