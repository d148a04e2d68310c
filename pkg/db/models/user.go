package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/bookswap-backend/pkg/types"
)

// User is the marketplace profile of a buyer or seller. Identity lives in
// the auth service; this row only carries fulfillment preferences.
type User struct {
	ID              uuid.UUID      `gorm:"column:id;type:uuid;primaryKey"`
	Email           string         `gorm:"column:email;not null"`
	DisplayName     string         `gorm:"column:display_name;not null"`
	Phone           *string        `gorm:"column:phone"`
	ShippingAddress *types.Address `gorm:"column:shipping_address;type:jsonb;serializer:json"`
	PickupAddress   *types.Address `gorm:"column:pickup_address;type:jsonb;serializer:json"`
	PreferredLocker *types.Locker  `gorm:"column:preferred_locker;type:jsonb;serializer:json"`
	CreatedAt       time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}
