package orders

import (
	"net/http"

	"github.com/angelmondragon/bookswap-backend/api/responses"
	"github.com/angelmondragon/bookswap-backend/api/validators"
	internalorders "github.com/angelmondragon/bookswap-backend/internal/orders"
	"github.com/angelmondragon/bookswap-backend/pkg/logger"
)

// AdminMarkPaid records a captured payment against a pending order.
func AdminMarkPaid(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body markPaidRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := svc.MarkPaid(r.Context(), orderID, body.PaymentReference)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// AdminExpire cancels a stale pending order ahead of the cron sweep.
func AdminExpire(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body reasonRequest
		if err := decodeOptionalBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.ExpireOrder(r.Context(), orderID, validators.SanitizeString(body.Reason, maxReasonLength))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessWithWarnings(w, http.StatusOK, result, result.Warnings)
	}
}
