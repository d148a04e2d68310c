package enums

import "slices"

// FulfillmentType is how a parcel leaves the seller or reaches the buyer.
type FulfillmentType string

const (
	FulfillmentDoor   FulfillmentType = "door"
	FulfillmentLocker FulfillmentType = "locker"
)

var validFulfillmentTypes = []FulfillmentType{
	FulfillmentDoor,
	FulfillmentLocker,
}

func (f FulfillmentType) String() string {
	return string(f)
}

func (f FulfillmentType) IsValid() bool {
	return slices.Contains(validFulfillmentTypes, f)
}
