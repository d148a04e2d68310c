package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/bookswap-backend/pkg/enums"
	"github.com/angelmondragon/bookswap-backend/pkg/types"
)

// OrderEvent is the shared payload for order lifecycle events. Recipients
// lists who should be notified.
type OrderEvent struct {
	OrderID    uuid.UUID         `json:"order_id"`
	BookID     uuid.UUID         `json:"book_id"`
	BuyerID    uuid.UUID         `json:"buyer_id"`
	SellerID   uuid.UUID         `json:"seller_id"`
	Title      string            `json:"title"`
	Status     enums.OrderStatus `json:"status"`
	Amount     decimal.Decimal   `json:"amount"`
	Recipients []uuid.UUID       `json:"recipients"`
}

// OrderShippedEvent carries the tracking details sent to the buyer.
type OrderShippedEvent struct {
	OrderEvent
	TrackingNumber string     `json:"tracking_number"`
	CourierSlug    string     `json:"courier_slug,omitempty"`
	DeliveryETA    *time.Time `json:"delivery_eta,omitempty"`
	Simulated      bool       `json:"simulated"`
}

// OrderCancelledEvent is emitted when an order is cancelled or declined.
type OrderCancelledEvent struct {
	OrderEvent
	Reason       string          `json:"reason,omitempty"`
	RefundID     string          `json:"refund_id,omitempty"`
	RefundAmount decimal.Decimal `json:"refund_amount"`
	CancelledAt  time.Time       `json:"cancelled_at"`
}

// InventoryReleaseFailedEvent records a compensation that could not be
// written so operators can restore the book by hand.
type InventoryReleaseFailedEvent struct {
	OrderID  *uuid.UUID              `json:"order_id,omitempty"`
	BookID   uuid.UUID               `json:"book_id"`
	Snapshot types.InventorySnapshot `json:"snapshot"`
	Error    string                  `json:"error"`
}
