package types

import (
	"time"

	cbigquery "cloud.google.com/go/bigquery"
)

// OrderEventRow mirrors the order_events BigQuery schema. One row is written
// per order lifecycle event; money columns are in minor units.
type OrderEventRow struct {
	EventID        string             `bigquery:"event_id"`
	EventType      string             `bigquery:"event_type"`
	OccurredAt     time.Time          `bigquery:"occurred_at"`
	OrderID        *string            `bigquery:"order_id"`
	BookID         *string            `bigquery:"book_id"`
	BuyerID        *string            `bigquery:"buyer_id"`
	SellerID       *string            `bigquery:"seller_id"`
	Status         *string            `bigquery:"status"`
	AmountCents    *int64             `bigquery:"amount_cents"`
	RefundCents    *int64             `bigquery:"refund_cents"`
	TrackingNumber *string            `bigquery:"tracking_number"`
	CourierSlug    *string            `bigquery:"courier_slug"`
	Simulated      *bool              `bigquery:"shipment_simulated"`
	Reason         *string            `bigquery:"reason"`
	Payload        cbigquery.NullJSON `bigquery:"payload"`
}
