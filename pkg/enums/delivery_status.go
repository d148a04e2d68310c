package enums

import (
	"slices"
	"strings"
)

// DeliveryStatus is the courier-reported tracking state of a shipment.
// Values arrive from the courier as free text ("In Transit", "in-transit"),
// so they are normalized before comparison.
type DeliveryStatus string

const (
	DeliveryStatusNone           DeliveryStatus = ""
	DeliveryStatusSubmitted      DeliveryStatus = "submitted"
	DeliveryStatusCollected      DeliveryStatus = "collected"
	DeliveryStatusInTransit      DeliveryStatus = "in_transit"
	DeliveryStatusOutForDelivery DeliveryStatus = "out_for_delivery"
	DeliveryStatusDelivered      DeliveryStatus = "delivered"
	DeliveryStatusCancelled      DeliveryStatus = "cancelled"
)

var handedOffStatuses = []DeliveryStatus{
	DeliveryStatusCollected,
	DeliveryStatusInTransit,
	DeliveryStatusOutForDelivery,
	DeliveryStatusDelivered,
}

// NormalizeDeliveryStatus lower-cases the value and folds spaces and dashes
// into underscores.
func NormalizeDeliveryStatus(value string) DeliveryStatus {
	v := strings.ToLower(strings.TrimSpace(value))
	v = strings.NewReplacer(" ", "_", "-", "_").Replace(v)
	return DeliveryStatus(v)
}

// String implements fmt.Stringer.
func (d DeliveryStatus) String() string {
	return string(d)
}

// IsHandedOff reports whether the parcel has physically left the seller.
func (d DeliveryStatus) IsHandedOff() bool {
	n := NormalizeDeliveryStatus(string(d))
	return slices.Contains(handedOffStatuses, n)
}
