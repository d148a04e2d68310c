package enums

import "slices"

// OrderStatus maps to the order_status enum in Postgres.
type OrderStatus string

const (
	OrderStatusPending       OrderStatus = "pending"
	OrderStatusPaid          OrderStatus = "paid"
	OrderStatusPendingCommit OrderStatus = "pending_commit"
	OrderStatusCommitted     OrderStatus = "committed"
	OrderStatusShipped       OrderStatus = "shipped"
	OrderStatusDelivered     OrderStatus = "delivered"
	OrderStatusCancelled     OrderStatus = "cancelled"
	OrderStatusDeclined      OrderStatus = "declined"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusPaid,
	OrderStatusPendingCommit,
	OrderStatusCommitted,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusDeclined,
}

// ActiveOrderStatuses are the statuses counted by the (buyer, seller, book)
// duplicate check.
var ActiveOrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusPaid,
	OrderStatusPendingCommit,
	OrderStatusCommitted,
	OrderStatusShipped,
}

// A shipped order may still cancel until the courier collects the parcel;
// callers gate that on DeliveryStatus.IsHandedOff.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:       {OrderStatusPaid, OrderStatusCancelled, OrderStatusDeclined},
	OrderStatusPaid:          {OrderStatusPendingCommit, OrderStatusCancelled},
	OrderStatusPendingCommit: {OrderStatusCommitted, OrderStatusCancelled},
	OrderStatusCommitted:     {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:       {OrderStatusDelivered, OrderStatusCancelled},
}

// String implements fmt.Stringer.
func (s OrderStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known OrderStatus.
func (s OrderStatus) IsValid() bool {
	return slices.Contains(validOrderStatuses, s)
}

// IsActive reports whether the order still occupies its book.
func (s OrderStatus) IsActive() bool {
	return slices.Contains(ActiveOrderStatuses, s)
}

// IsTerminal reports whether no further transition is allowed.
func (s OrderStatus) IsTerminal() bool {
	return len(orderTransitions[s]) == 0
}

// CanTransition reports whether the state machine allows from -> to.
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	return slices.Contains(orderTransitions[s], to)
}

// ParseOrderStatus converts raw input into an OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	return parse("order status", value, validOrderStatuses)
}
