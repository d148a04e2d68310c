package types

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/angelmondragon/bookswap-backend/pkg/enums"
)

var (
	ErrPointEmpty     = errors.New("collection point needs an address or a locker")
	ErrPointAmbiguous = errors.New("collection point cannot have both an address and a locker")
)

// Locker identifies a parcel-locker pickup point at a specific provider.
type Locker struct {
	LocationID   string `json:"location_id" validate:"required"`
	ProviderSlug string `json:"provider_slug" validate:"required"`
	Name         string `json:"name,omitempty"`
}

// CollectionPoint is one side of a shipment: either a door address or a
// locker. The zero value is invalid; build one with AddressPoint or
// LockerPoint.
type CollectionPoint struct {
	kind    enums.FulfillmentType
	address *Address
	locker  *Locker
}

// AddressPoint returns a door-to-door collection point.
func AddressPoint(addr Address) CollectionPoint {
	return CollectionPoint{kind: enums.FulfillmentDoor, address: &addr}
}

// LockerPoint returns a locker collection point.
func LockerPoint(locationID, providerSlug string) CollectionPoint {
	return CollectionPoint{
		kind: enums.FulfillmentLocker,
		locker: &Locker{
			LocationID:   strings.TrimSpace(locationID),
			ProviderSlug: strings.TrimSpace(providerSlug),
		},
	}
}

// NewCollectionPoint resolves optional request fields into a point, failing
// when both or neither are set.
func NewCollectionPoint(addr *Address, locker *Locker) (CollectionPoint, error) {
	switch {
	case addr != nil && locker != nil:
		return CollectionPoint{}, ErrPointAmbiguous
	case addr != nil:
		if err := addr.Validate(); err != nil {
			return CollectionPoint{}, err
		}
		return AddressPoint(*addr), nil
	case locker != nil:
		p := LockerPoint(locker.LocationID, locker.ProviderSlug)
		p.locker.Name = locker.Name
		if err := p.Validate(); err != nil {
			return CollectionPoint{}, err
		}
		return p, nil
	default:
		return CollectionPoint{}, ErrPointEmpty
	}
}

func (p CollectionPoint) Kind() enums.FulfillmentType { return p.kind }

func (p CollectionPoint) IsLocker() bool { return p.kind == enums.FulfillmentLocker }

func (p CollectionPoint) IsZero() bool { return p.kind == "" }

// Address returns the door address when the point is a door point.
func (p CollectionPoint) Address() (Address, bool) {
	if p.kind != enums.FulfillmentDoor || p.address == nil {
		return Address{}, false
	}
	return *p.address, true
}

// Locker returns the locker when the point is a locker point.
func (p CollectionPoint) Locker() (Locker, bool) {
	if p.kind != enums.FulfillmentLocker || p.locker == nil {
		return Locker{}, false
	}
	return *p.locker, true
}

// Validate enforces that exactly one variant is populated.
func (p CollectionPoint) Validate() error {
	switch p.kind {
	case enums.FulfillmentDoor:
		if p.locker != nil {
			return ErrPointAmbiguous
		}
		if p.address == nil {
			return ErrPointEmpty
		}
		return p.address.Validate()
	case enums.FulfillmentLocker:
		if p.address != nil {
			return ErrPointAmbiguous
		}
		if p.locker == nil || p.locker.LocationID == "" {
			return fmt.Errorf("locker: missing location_id")
		}
		if p.locker.ProviderSlug == "" {
			return fmt.Errorf("locker: missing provider_slug")
		}
		return nil
	default:
		return ErrPointEmpty
	}
}

type collectionPointJSON struct {
	Type    enums.FulfillmentType `json:"type"`
	Address *Address              `json:"address,omitempty"`
	Locker  *Locker               `json:"locker,omitempty"`
}

func (p CollectionPoint) MarshalJSON() ([]byte, error) {
	if p.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(collectionPointJSON{Type: p.kind, Address: p.address, Locker: p.locker})
}

func (p *CollectionPoint) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*p = CollectionPoint{}
		return nil
	}
	var raw collectionPointJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	decoded := CollectionPoint{kind: raw.Type, address: raw.Address, locker: raw.Locker}
	if err := decoded.Validate(); err != nil {
		return err
	}
	*p = decoded
	return nil
}

// Value serializes the point to JSON for a jsonb column.
func (p CollectionPoint) Value() (driver.Value, error) {
	if p.IsZero() {
		return nil, nil
	}
	b, err := p.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan decodes a jsonb column into the point.
func (p *CollectionPoint) Scan(value interface{}) error {
	if value == nil {
		*p = CollectionPoint{}
		return nil
	}
	raw, err := asJSON(value)
	if err != nil {
		return err
	}
	return p.UnmarshalJSON(raw)
}
