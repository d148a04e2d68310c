package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/bookswap-backend/pkg/enums"
)

// Book is a textbook listing. The fulfillment saga only touches the three
// inventory counters.
type Book struct {
	ID                uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	SellerID          uuid.UUID           `gorm:"column:seller_id;type:uuid;not null;index"`
	Title             string              `gorm:"column:title;not null"`
	ISBN              *string             `gorm:"column:isbn"`
	Price             decimal.Decimal     `gorm:"column:price;type:numeric(12,2);not null"`
	Condition         enums.BookCondition `gorm:"column:condition;type:text;not null;default:'good'"`
	WeightKG          decimal.Decimal     `gorm:"column:weight_kg;type:numeric(8,3);not null;default:1"`
	AvailableQuantity int                 `gorm:"column:available_quantity;not null;default:1"`
	SoldQuantity      int                 `gorm:"column:sold_quantity;not null;default:0"`
	Sold              bool                `gorm:"column:sold;not null;default:false"`
	CreatedAt         time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
