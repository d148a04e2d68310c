package controllers

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/bookswap-backend/api/responses"
	"github.com/angelmondragon/bookswap-backend/api/validators"
	"github.com/angelmondragon/bookswap-backend/internal/rates"
	pkgerrors "github.com/angelmondragon/bookswap-backend/pkg/errors"
	"github.com/angelmondragon/bookswap-backend/pkg/logger"
	"github.com/angelmondragon/bookswap-backend/pkg/types"
)

// PointRequest is one side of a shipment in a request body: exactly one of
// Address or Locker.
type PointRequest struct {
	Address *types.Address `json:"address,omitempty"`
	Locker  *types.Locker  `json:"locker,omitempty"`
}

// Point converts the request into a collection point.
func (p PointRequest) Point(field string) (types.CollectionPoint, error) {
	point, err := types.NewCollectionPoint(p.Address, p.Locker)
	if err != nil {
		return types.CollectionPoint{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+field).
			WithDetails(map[string]string{field: err.Error()})
	}
	return point, nil
}

type parcelRequest struct {
	WeightKG decimal.Decimal `json:"weight_kg"`
	LengthCM decimal.Decimal `json:"length_cm"`
	WidthCM  decimal.Decimal `json:"width_cm"`
	HeightCM decimal.Decimal `json:"height_cm"`
}

type quoteRequest struct {
	Collection    PointRequest    `json:"collection"`
	Delivery      PointRequest    `json:"delivery"`
	Parcel        parcelRequest   `json:"parcel"`
	DeclaredValue decimal.Decimal `json:"declared_value"`
}

// Quotes returns marked-up delivery quotes for a collection/delivery pair.
// The response is never empty; a simulated quote carries warnings.
func Quotes(svc rates.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body quoteRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		collection, err := body.Collection.Point("collection")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		delivery, err := body.Delivery.Point("delivery")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.GetQuotes(r.Context(), rates.QuoteRequest{
			Collection: collection,
			Delivery:   delivery,
			Parcel: rates.Parcel{
				WeightKG: body.Parcel.WeightKG,
				LengthCM: body.Parcel.LengthCM,
				WidthCM:  body.Parcel.WidthCM,
				HeightCM: body.Parcel.HeightCM,
			},
			DeclaredValue: body.DeclaredValue,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessWithWarnings(w, http.StatusOK, result.Quotes, result.Warnings)
	}
}
