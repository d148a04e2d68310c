package courier

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Address is the courier's structured address body.
type Address struct {
	Type          string  `json:"type,omitempty"`
	Company       string  `json:"company,omitempty"`
	StreetAddress string  `json:"street_address"`
	LocalArea     string  `json:"local_area,omitempty"`
	City          string  `json:"city"`
	Zone          string  `json:"zone"`
	Country       string  `json:"country"`
	Code          string  `json:"code"`
	Lat           float64 `json:"lat,omitempty"`
	Lng           float64 `json:"lng,omitempty"`
}

// Endpoints carries both sides of a shipment. A side is either an address or
// a pickup point; when a pickup point is set the address for that side is
// nil and omitted from the body.
type Endpoints struct {
	CollectionAddress             *Address `json:"collection_address,omitempty"`
	CollectionPickupPointID       string   `json:"collection_pickup_point_id,omitempty"`
	CollectionPickupPointProvider string   `json:"collection_pickup_point_provider,omitempty"`
	DeliveryAddress               *Address `json:"delivery_address,omitempty"`
	DeliveryPickupPointID         string   `json:"delivery_pickup_point_id,omitempty"`
	DeliveryPickupPointProvider   string   `json:"delivery_pickup_point_provider,omitempty"`
}

type Parcel struct {
	SubmittedLengthCM float64 `json:"submitted_length_cm"`
	SubmittedWidthCM  float64 `json:"submitted_width_cm"`
	SubmittedHeightCM float64 `json:"submitted_height_cm"`
	SubmittedWeightKG float64 `json:"submitted_weight_kg"`
}

type RatesRequest struct {
	Endpoints
	Parcels       []Parcel `json:"parcels"`
	DeclaredValue float64  `json:"declared_value"`
}

type ServiceLevel struct {
	ID                   int64    `json:"id"`
	Code                 string   `json:"code"`
	Name                 string   `json:"name"`
	Description          string   `json:"description,omitempty"`
	DeliveryDateFrom     string   `json:"delivery_date_from,omitempty"`
	DeliveryDateTo       string   `json:"delivery_date_to,omitempty"`
	CollectionDate       string   `json:"collection_date,omitempty"`
	CollectionCutOffTime string   `json:"collection_cut_off_time,omitempty"`
	Features             []string `json:"features,omitempty"`
}

// Rate is one priced service level returned by the quoting endpoint.
type Rate struct {
	Rate             decimal.Decimal `json:"rate"`
	RateExcludingVAT decimal.Decimal `json:"rate_excluding_vat"`
	ServiceLevel     ServiceLevel    `json:"service_level"`
}

type Contact struct {
	Name         string `json:"name"`
	MobileNumber string `json:"mobile_number,omitempty"`
	Email        string `json:"email,omitempty"`
}

type ShipmentRequest struct {
	Endpoints
	CollectionContact Contact  `json:"collection_contact"`
	DeliveryContact   Contact  `json:"delivery_contact"`
	Parcels           []Parcel `json:"parcels"`
	ServiceLevelCode  string   `json:"service_level_code"`
	CustomerReference string   `json:"customer_reference"`
	DeclaredValue     float64  `json:"declared_value"`
}

// Shipment is the courier's acknowledgement of a created shipment.
type Shipment struct {
	ID                    int64           `json:"id"`
	TrackingReference     string          `json:"short_tracking_reference"`
	Status                string          `json:"status"`
	ServiceLevelCode      string          `json:"service_level_code"`
	Rate                  decimal.Decimal `json:"rate"`
	EstimatedCollection   string          `json:"estimated_collection,omitempty"`
	EstimatedDeliveryFrom string          `json:"estimated_delivery_from,omitempty"`
	EstimatedDeliveryTo   string          `json:"estimated_delivery_to,omitempty"`
	LabelURL              string          `json:"label_url,omitempty"`
}

type CancelRequest struct {
	TrackingReference string `json:"tracking_reference"`
	Reason            string `json:"reason,omitempty"`
}

// ParseDate accepts the RFC3339 timestamps and bare dates the courier mixes
// across endpoints. An empty or unparseable value yields nil.
func ParseDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
