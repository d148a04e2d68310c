package rates

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/bookswap-backend/pkg/config"
	"github.com/angelmondragon/bookswap-backend/pkg/courier"
	pkgerrors "github.com/angelmondragon/bookswap-backend/pkg/errors"
	"github.com/angelmondragon/bookswap-backend/pkg/logger"
	"github.com/angelmondragon/bookswap-backend/pkg/metrics"
)

const (
	stepQuote = "courier_quote"

	fallbackServiceCode = "SIM-STD"
	fallbackServiceName = "Standard delivery (estimated)"
	fallbackTransitMin  = 2
	fallbackTransitMax  = 3
)

var errCourierNotConfigured = errors.New("courier credentials not configured")

// Service prices deliveries between two collection points.
type Service interface {
	GetQuotes(ctx context.Context, req QuoteRequest) (QuoteResult, error)
}

type courierClient interface {
	Rates(ctx context.Context, req courier.RatesRequest) ([]courier.Rate, error)
}

// Pricing holds the constants applied on top of courier rates.
type Pricing struct {
	Markup          decimal.Decimal
	FallbackPerKG   decimal.Decimal
	FallbackMinimum decimal.Decimal
	DefaultWeightKG decimal.Decimal
	DefaultLengthCM decimal.Decimal
	DefaultWidthCM  decimal.Decimal
	DefaultHeightCM decimal.Decimal
}

// PricingFromConfig parses the fulfillment pricing settings.
func PricingFromConfig(cfg config.FulfillmentConfig) (Pricing, error) {
	var p Pricing
	var err error
	for _, field := range []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"markup", cfg.MarkupAmount, &p.Markup},
		{"fallback rate per kg", cfg.FallbackRatePerKG, &p.FallbackPerKG},
		{"fallback minimum", cfg.FallbackMinimum, &p.FallbackMinimum},
		{"default parcel weight", cfg.DefaultParcelKG, &p.DefaultWeightKG},
	} {
		if *field.dst, err = decimal.NewFromString(strings.TrimSpace(field.raw)); err != nil {
			return Pricing{}, fmt.Errorf("parse %s: %w", field.name, err)
		}
	}
	p.DefaultLengthCM, p.DefaultWidthCM, p.DefaultHeightCM, err = ParseDimensions(cfg.DefaultParcelSizes)
	if err != nil {
		return Pricing{}, err
	}
	return p, nil
}

// FallbackCost is the simulated price for a parcel: max(minimum, weight*rate).
func (p Pricing) FallbackCost(weightKG decimal.Decimal) decimal.Decimal {
	return decimal.Max(p.FallbackMinimum, weightKG.Mul(p.FallbackPerKG))
}

type ServiceParams struct {
	// Courier may be nil when no credential is configured; every request is
	// then answered with the fallback quote.
	Courier     courierClient
	Pricing     Pricing
	CourierSlug string
	Metrics     *metrics.SagaMetrics
	Logger      *logger.Logger
	Now         func() time.Time
}

type service struct {
	courier     courierClient
	pricing     Pricing
	courierSlug string
	metrics     *metrics.SagaMetrics
	logg        *logger.Logger
	now         func() time.Time
}

// NewService wires the rate aggregator.
func NewService(params ServiceParams) (Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Pricing.FallbackPerKG.IsZero() && params.Pricing.FallbackMinimum.IsZero() {
		return nil, fmt.Errorf("fallback pricing required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		courier:     params.Courier,
		pricing:     params.Pricing,
		courierSlug: params.CourierSlug,
		metrics:     params.Metrics,
		logg:        params.Logger,
		now:         now,
	}, nil
}

func (s *service) GetQuotes(ctx context.Context, req QuoteRequest) (QuoteResult, error) {
	if err := req.Validate(); err != nil {
		return QuoteResult{}, err
	}
	parcel := s.withDefaults(req.Parcel)

	if s.courier == nil {
		return s.fallback(ctx, parcel, errCourierNotConfigured), nil
	}

	rates, err := s.courier.Rates(ctx, courier.RatesRequest{
		Endpoints:     BuildEndpoints(req.Collection, req.Delivery),
		Parcels:       []courier.Parcel{CourierParcel(parcel)},
		DeclaredValue: req.DeclaredValue.InexactFloat64(),
	})
	if err != nil {
		return s.fallback(ctx, parcel, err), nil
	}
	if len(rates) == 0 {
		return s.fallback(ctx, parcel, errors.New("courier returned no rates")), nil
	}

	quotes := make([]Quote, 0, len(rates))
	for _, rate := range rates {
		quotes = append(quotes, s.normalize(rate))
	}
	sortQuotes(quotes)
	return QuoteResult{Quotes: quotes}, nil
}

func (s *service) withDefaults(p Parcel) Parcel {
	if !p.WeightKG.IsPositive() {
		p.WeightKG = s.pricing.DefaultWeightKG
	}
	if !p.LengthCM.IsPositive() || !p.WidthCM.IsPositive() || !p.HeightCM.IsPositive() {
		p.LengthCM = s.pricing.DefaultLengthCM
		p.WidthCM = s.pricing.DefaultWidthCM
		p.HeightCM = s.pricing.DefaultHeightCM
	}
	return p
}

func (s *service) fallback(ctx context.Context, parcel Parcel, cause error) QuoteResult {
	s.metrics.IncQuoteFallback()
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"step":      stepQuote,
		"weight_kg": parcel.WeightKG.String(),
	})
	s.logg.WarnErr(logCtx, "courier quote unavailable, using simulated rate", cause)

	var warnings pkgerrors.Warnings
	warnings.Add(pkgerrors.CodeShipmentProviderError, stepQuote, cause)

	eta := s.now().UTC().AddDate(0, 0, fallbackTransitMax)
	return QuoteResult{
		Quotes: []Quote{{
			ServiceLevelCode:  fallbackServiceCode,
			ServiceName:       fallbackServiceName,
			CourierSlug:       s.courierSlug,
			Cost:              s.pricing.FallbackCost(parcel.WeightKG),
			ProviderCost:      decimal.Zero,
			TransitDaysMin:    fallbackTransitMin,
			TransitDaysMax:    fallbackTransitMax,
			EstimatedDelivery: &eta,
			Simulated:         true,
		}},
		Warnings: warnings,
	}
}

func (s *service) normalize(rate courier.Rate) Quote {
	level := rate.ServiceLevel
	q := Quote{
		ServiceLevelCode: level.Code,
		ServiceName:      level.Name,
		CourierSlug:      s.courierSlug,
		Cost:             rate.Rate.Add(s.pricing.Markup),
		ProviderCost:     rate.Rate,
		CollectionCutoff: level.CollectionCutOffTime,
		Features:         level.Features,
	}
	q.TransitDaysMin, q.TransitDaysMax, q.EstimatedDelivery = s.transitWindow(level)
	return q
}

// transitWindow converts the courier's delivery dates into whole days from
// today. Missing dates fall back to the simulated window.
func (s *service) transitWindow(level courier.ServiceLevel) (int, int, *time.Time) {
	from := courier.ParseDate(level.DeliveryDateFrom)
	to := courier.ParseDate(level.DeliveryDateTo)
	if from == nil {
		from = to
	}
	if to == nil {
		to = from
	}
	if from == nil {
		return fallbackTransitMin, fallbackTransitMax, nil
	}
	today := truncateDay(s.now().UTC())
	minDays := daysBetween(today, *from)
	maxDays := daysBetween(today, *to)
	if maxDays < minDays {
		maxDays = minDays
	}
	return minDays, maxDays, to
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func daysBetween(start, end time.Time) int {
	days := int(truncateDay(end).Sub(start).Hours() / 24)
	if days < 1 {
		return 1
	}
	return days
}

func sortQuotes(quotes []Quote) {
	sort.SliceStable(quotes, func(i, j int) bool {
		if c := quotes[i].Cost.Cmp(quotes[j].Cost); c != 0 {
			return c < 0
		}
		return quotes[i].ServiceLevelCode < quotes[j].ServiceLevelCode
	})
}
