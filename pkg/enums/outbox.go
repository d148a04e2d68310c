package enums

import "slices"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateOrder OutboxAggregateType = "order"
	AggregateBook  OutboxAggregateType = "book"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregateBook,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	return slices.Contains(validAggregateTypes, a)
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	return parse("aggregate type", value, validAggregateTypes)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventOrderCreated           OutboxEventType = "order_created"
	EventOrderPaid              OutboxEventType = "order_paid"
	EventOrderCommitRequested   OutboxEventType = "order_commit_requested"
	EventOrderCommitted         OutboxEventType = "order_committed"
	EventOrderShipped           OutboxEventType = "order_shipped"
	EventOrderDelivered         OutboxEventType = "order_delivered"
	EventOrderCancelled         OutboxEventType = "order_cancelled"
	EventOrderDeclined          OutboxEventType = "order_declined"
	EventOrderExpired           OutboxEventType = "order_expired"
	EventInventoryReleaseFailed OutboxEventType = "inventory_release_failed"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderCreated,
	EventOrderPaid,
	EventOrderCommitRequested,
	EventOrderCommitted,
	EventOrderShipped,
	EventOrderDelivered,
	EventOrderCancelled,
	EventOrderDeclined,
	EventOrderExpired,
	EventInventoryReleaseFailed,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	return slices.Contains(validOutboxEventTypes, e)
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	return parse("event type", value, validOutboxEventTypes)
}
