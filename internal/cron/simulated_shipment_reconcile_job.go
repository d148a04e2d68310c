package cron

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/bookswap-backend/internal/rates"
	"github.com/angelmondragon/bookswap-backend/internal/shipments"
	"github.com/angelmondragon/bookswap-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/bookswap-backend/pkg/errors"
	"github.com/angelmondragon/bookswap-backend/pkg/logger"
)

const defaultReconcileBatch = 25

type simulatedShipmentLister interface {
	ListSimulatedShipments(ctx context.Context, limit int) ([]models.Order, error)
}

type quoteSource interface {
	GetQuotes(ctx context.Context, req rates.QuoteRequest) (rates.QuoteResult, error)
}

type simulatedReplacer interface {
	ReplaceSimulated(ctx context.Context, orderID uuid.UUID, quote rates.Quote) (*shipments.Result, error)
}

type SimulatedShipmentReconcileJobParams struct {
	Logger    *logger.Logger
	Orders    simulatedShipmentLister
	Quotes    quoteSource
	Shipments simulatedReplacer
	BatchSize int
}

// NewSimulatedShipmentReconcileJob books real shipments for orders that
// shipped on a simulated one. Only register it when courier credentials are
// configured.
func NewSimulatedShipmentReconcileJob(params SimulatedShipmentReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Quotes == nil {
		return nil, fmt.Errorf("quote source required")
	}
	if params.Shipments == nil {
		return nil, fmt.Errorf("shipments service required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultReconcileBatch
	}
	return &simulatedShipmentReconcileJob{
		logg:      params.Logger,
		orders:    params.Orders,
		quotes:    params.Quotes,
		shipments: params.Shipments,
		batch:     batch,
	}, nil
}

type simulatedShipmentReconcileJob struct {
	logg      *logger.Logger
	orders    simulatedShipmentLister
	quotes    quoteSource
	shipments simulatedReplacer
	batch     int
}

func (j *simulatedShipmentReconcileJob) Name() string { return "simulated_shipment_reconcile" }

func (j *simulatedShipmentReconcileJob) Run(ctx context.Context) error {
	pending, err := j.orders.ListSimulatedShipments(ctx, j.batch)
	if err != nil {
		return fmt.Errorf("list simulated shipments: %w", err)
	}

	var (
		errs     error
		replaced int
		deferred int
	)
	for i := range pending {
		order := &pending[i]
		orderCtx := j.logg.WithOrderID(ctx, order.ID.String())
		quote, ok, err := j.liveQuote(orderCtx, order)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("quote order %s: %w", order.ID, err))
			continue
		}
		if !ok {
			deferred++
			j.logg.Warn(orderCtx, "courier still returning simulated quotes; shipment left simulated")
			continue
		}
		result, err := j.shipments.ReplaceSimulated(orderCtx, order.ID, quote)
		if err != nil {
			if pkgerrors.Is(err, pkgerrors.CodeStateConflict) {
				continue
			}
			errs = multierr.Append(errs, fmt.Errorf("replace shipment for order %s: %w", order.ID, err))
			continue
		}
		replaced++
		j.logg.Info(j.logg.WithField(orderCtx, "tracking_number", result.TrackingNumber), "simulated shipment replaced")
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"scanned":  len(pending),
		"replaced": replaced,
		"deferred": deferred,
	})
	j.logg.Info(logCtx, "simulated shipment reconcile complete")
	return errs
}

// liveQuote returns the cheapest courier quote for the order's route. ok is
// false when the rate lookup fell back to a simulated price.
func (j *simulatedShipmentReconcileJob) liveQuote(ctx context.Context, order *models.Order) (rates.Quote, bool, error) {
	result, err := j.quotes.GetQuotes(ctx, rates.QuoteRequest{
		Collection:    order.PickupPoint,
		Delivery:      order.DeliveryPoint,
		Parcel:        rates.Parcel{WeightKG: order.Item.WeightKG},
		DeclaredValue: order.Item.Price,
	})
	if err != nil {
		return rates.Quote{}, false, err
	}
	for _, quote := range result.Quotes {
		if !quote.Simulated {
			return quote, true, nil
		}
	}
	return rates.Quote{}, false, nil
}
