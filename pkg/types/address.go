package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// Address is a South African street address as captured at checkout.
type Address struct {
	Company       string  `json:"company,omitempty"`
	StreetAddress string  `json:"street_address" validate:"required"`
	LocalArea     string  `json:"local_area,omitempty"`
	City          string  `json:"city" validate:"required"`
	Province      string  `json:"province" validate:"required"`
	PostalCode    string  `json:"postal_code" validate:"required"`
	Country       string  `json:"country,omitempty"`
	Lat           float64 `json:"lat,omitempty"`
	Lng           float64 `json:"lng,omitempty"`
}

// Validate checks the fields the courier rejects when absent.
func (a Address) Validate() error {
	if strings.TrimSpace(a.StreetAddress) == "" {
		return fmt.Errorf("address: missing street_address")
	}
	if strings.TrimSpace(a.City) == "" {
		return fmt.Errorf("address: missing city")
	}
	if strings.TrimSpace(a.Province) == "" {
		return fmt.Errorf("address: missing province")
	}
	if strings.TrimSpace(a.PostalCode) == "" {
		return fmt.Errorf("address: missing postal_code")
	}
	return nil
}

// CountryCode defaults to ZA.
func (a Address) CountryCode() string {
	if c := strings.TrimSpace(a.Country); c != "" {
		return strings.ToUpper(c)
	}
	return "ZA"
}

// Value serializes the address to JSON.
func (a *Address) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	return json.Marshal(a)
}

// Scan decodes JSONB into the address.
func (a *Address) Scan(value interface{}) error {
	if value == nil {
		*a = Address{}
		return nil
	}
	raw, err := asJSON(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, a)
}
