package notifications

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/bookswap-backend/pkg/db/models"
	"github.com/angelmondragon/bookswap-backend/pkg/enums"
	"github.com/angelmondragon/bookswap-backend/pkg/outbox/payloads"
)

// Build turns an order event into one notification per recipient. Event
// types without an in-app message yield nil.
func Build(eventType enums.OutboxEventType, data json.RawMessage) ([]models.Notification, error) {
	switch eventType {
	case enums.EventOrderCommitRequested:
		var p payloads.OrderEvent
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return fanOut(p, enums.NotificationTypeCommitRequest,
			"Confirm your sale",
			fmt.Sprintf("%q has been paid for. Confirm you can ship it.", p.Title)), nil
	case enums.EventOrderShipped:
		var p payloads.OrderShippedEvent
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		msg := fmt.Sprintf("%q is on its way. Tracking number %s.", p.Title, p.TrackingNumber)
		if p.DeliveryETA != nil {
			msg = fmt.Sprintf("%s Expected by %s.", msg, p.DeliveryETA.Format("2 Jan 2006"))
		}
		return fanOut(p.OrderEvent, enums.NotificationTypeOrderShipped, "Your book has shipped", msg), nil
	case enums.EventOrderDelivered:
		var p payloads.OrderEvent
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return fanOut(p, enums.NotificationTypeOrderDelivered,
			"Order delivered",
			fmt.Sprintf("%q was delivered.", p.Title)), nil
	case enums.EventOrderCancelled:
		var p payloads.OrderCancelledEvent
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return fanOut(p.OrderEvent, enums.NotificationTypeOrderCancelled,
			"Order cancelled",
			withRefund(fmt.Sprintf("The order for %q was cancelled.", p.Title), p)), nil
	case enums.EventOrderDeclined:
		var p payloads.OrderCancelledEvent
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return fanOut(p.OrderEvent, enums.NotificationTypeOrderDeclined,
			"Seller declined your order",
			withRefund(fmt.Sprintf("The seller could not fulfil %q.", p.Title), p)), nil
	default:
		return nil, nil
	}
}

func withRefund(msg string, p payloads.OrderCancelledEvent) string {
	if p.Reason != "" {
		msg = fmt.Sprintf("%s Reason: %s.", msg, strings.TrimSuffix(p.Reason, "."))
	}
	if p.RefundID != "" {
		msg = fmt.Sprintf("%s R%s has been refunded.", msg, p.RefundAmount.StringFixed(2))
	}
	return msg
}

func fanOut(p payloads.OrderEvent, kind enums.NotificationType, title, message string) []models.Notification {
	orderID := p.OrderID
	link := fmt.Sprintf("/orders/%s", p.OrderID)
	seen := make(map[uuid.UUID]struct{}, len(p.Recipients))
	out := make([]models.Notification, 0, len(p.Recipients))
	for _, recipient := range p.Recipients {
		if recipient == uuid.Nil {
			continue
		}
		if _, dup := seen[recipient]; dup {
			continue
		}
		seen[recipient] = struct{}{}
		out = append(out, models.Notification{
			UserID:  recipient,
			OrderID: &orderID,
			Type:    kind,
			Title:   title,
			Message: message,
			Link:    stringPtr(link),
		})
	}
	return out
}

func stringPtr(value string) *string {
	return &value
}
