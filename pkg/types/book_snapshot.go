package types

import (
	"database/sql/driver"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BookSnapshot freezes the listing as it was when the order was placed.
type BookSnapshot struct {
	ID        uuid.UUID       `json:"id"`
	Title     string          `json:"title"`
	Price     decimal.Decimal `json:"price"`
	Condition string          `json:"condition"`
	WeightKG  decimal.Decimal `json:"weight_kg"`
}

// Value serializes the snapshot to JSON.
func (b BookSnapshot) Value() (driver.Value, error) {
	out, err := json.Marshal(b)
	if err != nil {
		return nil, err
	}
	return string(out), nil
}

// Scan decodes JSONB into the snapshot.
func (b *BookSnapshot) Scan(value interface{}) error {
	if value == nil {
		*b = BookSnapshot{}
		return nil
	}
	raw, err := asJSON(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, b)
}
