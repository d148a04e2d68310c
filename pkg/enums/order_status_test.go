package enums

import "testing"

func TestOrderStatusTransitions(t *testing.T) {
	cases := []struct {
		from OrderStatus
		to   OrderStatus
		want bool
	}{
		{OrderStatusPending, OrderStatusPaid, true},
		{OrderStatusPaid, OrderStatusPendingCommit, true},
		{OrderStatusPendingCommit, OrderStatusCommitted, true},
		{OrderStatusCommitted, OrderStatusShipped, true},
		{OrderStatusShipped, OrderStatusDelivered, true},
		{OrderStatusPending, OrderStatusCancelled, true},
		{OrderStatusPaid, OrderStatusCancelled, true},
		{OrderStatusPendingCommit, OrderStatusCancelled, true},
		{OrderStatusCommitted, OrderStatusCancelled, true},
		{OrderStatusPending, OrderStatusDeclined, true},
		{OrderStatusPaid, OrderStatusDeclined, false},
		{OrderStatusShipped, OrderStatusCancelled, true},
		{OrderStatusShipped, OrderStatusDeclined, false},
		{OrderStatusDelivered, OrderStatusCancelled, false},
		{OrderStatusCancelled, OrderStatusPending, false},
		{OrderStatusPending, OrderStatusShipped, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.want {
			t.Fatalf("%s -> %s: expected %v got %v", tc.from, tc.to, tc.want, got)
		}
	}
}

func TestOrderStatusTerminal(t *testing.T) {
	for _, status := range []OrderStatus{OrderStatusDelivered, OrderStatusCancelled, OrderStatusDeclined} {
		if !status.IsTerminal() {
			t.Fatalf("expected %s to be terminal", status)
		}
		if status.IsActive() {
			t.Fatalf("expected %s to be inactive", status)
		}
	}
	if OrderStatusPending.IsTerminal() {
		t.Fatal("pending must not be terminal")
	}
}

func TestParseOrderStatus(t *testing.T) {
	if _, err := ParseOrderStatus("pending_commit"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ParseOrderStatus("lost"); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestDeliveryStatusHandedOff(t *testing.T) {
	for _, raw := range []string{"collected", "In Transit", "in-transit", "OUT FOR DELIVERY", "delivered"} {
		if !DeliveryStatus(raw).IsHandedOff() {
			t.Fatalf("expected %q to be handed off", raw)
		}
	}
	for _, raw := range []string{"", "submitted", "cancelled"} {
		if DeliveryStatus(raw).IsHandedOff() {
			t.Fatalf("expected %q not to be handed off", raw)
		}
	}
}
