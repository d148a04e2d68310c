package rates

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/bookswap-backend/pkg/errors"
	"github.com/angelmondragon/bookswap-backend/pkg/types"
)

// Parcel dimensions for a single book shipment.
type Parcel struct {
	WeightKG decimal.Decimal `json:"weight_kg"`
	LengthCM decimal.Decimal `json:"length_cm"`
	WidthCM  decimal.Decimal `json:"width_cm"`
	HeightCM decimal.Decimal `json:"height_cm"`
}

type QuoteRequest struct {
	Collection    types.CollectionPoint `json:"collection"`
	Delivery      types.CollectionPoint `json:"delivery"`
	Parcel        Parcel                `json:"parcel"`
	DeclaredValue decimal.Decimal       `json:"declared_value"`
}

// Quote is a normalized, marked-up delivery price. Quotes are never stored;
// the chosen one is passed back when the shipment is created.
type Quote struct {
	ServiceLevelCode  string          `json:"service_level_code"`
	ServiceName       string          `json:"service_name"`
	CourierSlug       string          `json:"courier_slug"`
	Cost              decimal.Decimal `json:"cost"`
	ProviderCost      decimal.Decimal `json:"provider_cost"`
	TransitDaysMin    int             `json:"transit_days_min"`
	TransitDaysMax    int             `json:"transit_days_max"`
	EstimatedDelivery *time.Time      `json:"estimated_delivery,omitempty"`
	CollectionCutoff  string          `json:"collection_cutoff,omitempty"`
	Features          []string        `json:"features,omitempty"`
	Simulated         bool            `json:"simulated"`
}

// QuoteResult is never empty; Warnings explains a simulated fallback.
type QuoteResult struct {
	Quotes   []Quote            `json:"quotes"`
	Warnings pkgerrors.Warnings `json:"warnings,omitempty"`
}

// Validate checks both sides and rejects locker-to-locker across providers.
func (r QuoteRequest) Validate() error {
	if err := r.Collection.Validate(); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid collection point")
	}
	if err := r.Delivery.Validate(); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid delivery point")
	}
	from, fromLocker := r.Collection.Locker()
	to, toLocker := r.Delivery.Locker()
	if fromLocker && toLocker && !strings.EqualFold(from.ProviderSlug, to.ProviderSlug) {
		return pkgerrors.New(pkgerrors.CodeProviderMismatch, "locker-to-locker shipments must use a single provider").
			WithDetails(map[string]string{
				"collection_provider": from.ProviderSlug,
				"delivery_provider":   to.ProviderSlug,
			})
	}
	if r.Parcel.WeightKG.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeValidation, "parcel weight cannot be negative")
	}
	return nil
}

// ParseDimensions reads an "LxWxH" centimetre string.
func ParseDimensions(raw string) (length, width, height decimal.Decimal, err error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(raw)), "x")
	if len(parts) != 3 {
		return decimal.Zero, decimal.Zero, decimal.Zero, fmt.Errorf("dimensions %q must look like LxWxH", raw)
	}
	vals := make([]decimal.Decimal, 3)
	for i, part := range parts {
		v, perr := decimal.NewFromString(strings.TrimSpace(part))
		if perr != nil {
			return decimal.Zero, decimal.Zero, decimal.Zero, fmt.Errorf("dimensions %q: %w", raw, perr)
		}
		vals[i] = v
	}
	return vals[0], vals[1], vals[2], nil
}
