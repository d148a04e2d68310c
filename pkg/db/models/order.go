package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/bookswap-backend/pkg/enums"
	"github.com/angelmondragon/bookswap-backend/pkg/types"
)

// Order is the saga's source of truth. Rows are never deleted.
type Order struct {
	ID               uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	PaymentReference *string               `gorm:"column:payment_reference;uniqueIndex"`
	BuyerID          uuid.UUID             `gorm:"column:buyer_id;type:uuid;not null;index"`
	SellerID         uuid.UUID             `gorm:"column:seller_id;type:uuid;not null;index"`
	BookID           uuid.UUID             `gorm:"column:book_id;type:uuid;not null;index"`
	Item             types.BookSnapshot    `gorm:"column:item_snapshot;type:jsonb;serializer:json;not null"`
	Amount           decimal.Decimal       `gorm:"column:amount;type:numeric(12,2);not null"`
	PickupPoint      types.CollectionPoint `gorm:"column:pickup_point;type:jsonb;serializer:json;not null"`
	DeliveryPoint    types.CollectionPoint `gorm:"column:delivery_point;type:jsonb;serializer:json;not null"`
	Status           enums.OrderStatus     `gorm:"column:status;type:text;not null;default:'pending'"`
	DeliveryStatus   enums.DeliveryStatus  `gorm:"column:delivery_status;type:text;not null;default:''"`

	// Reservation holds the book counters from before this order reserved it.
	Reservation *types.InventorySnapshot `gorm:"column:inventory_snapshot;type:jsonb;serializer:json"`

	Shipment ShipmentInfo `gorm:"embedded"`

	CancellationReason  *string            `gorm:"column:cancellation_reason"`
	CancelledAt         *time.Time         `gorm:"column:cancelled_at"`
	CancelledBy         *uuid.UUID         `gorm:"column:cancelled_by;type:uuid"`
	RefundStatus        enums.RefundStatus `gorm:"column:refund_status;type:text;not null;default:'none'"`
	RefundReference     *string            `gorm:"column:refund_reference"`
	ShipmentCancelError *string            `gorm:"column:shipment_cancel_error"`
	DeclineReason       *string            `gorm:"column:decline_reason"`
	DeclinedAt          *time.Time         `gorm:"column:declined_at"`
	DeliveredAt         *time.Time         `gorm:"column:delivered_at"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// ShipmentInfo is populated once a shipment (real or simulated) exists.
type ShipmentInfo struct {
	TrackingNumber   *string          `gorm:"column:tracking_number;index"`
	ShipmentID       *string          `gorm:"column:shipment_id"`
	CourierSlug      *string          `gorm:"column:courier_slug"`
	ServiceLevelCode *string          `gorm:"column:service_level_code"`
	ShippingCost     *decimal.Decimal `gorm:"column:shipping_cost;type:numeric(12,2)"`
	CollectionETA    *time.Time       `gorm:"column:collection_eta"`
	DeliveryETA      *time.Time       `gorm:"column:delivery_eta"`
	LabelURL         *string          `gorm:"column:label_url"`
	ShipmentStatus   *string          `gorm:"column:shipment_status"`
	Simulated        bool             `gorm:"column:shipment_simulated;not null;default:false"`
}

// HasTracking reports whether a courier tracking number was recorded.
func (s ShipmentInfo) HasTracking() bool {
	return s.TrackingNumber != nil && *s.TrackingNumber != ""
}
