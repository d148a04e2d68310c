package webhooks

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/angelmondragon/bookswap-backend/api/responses"
	"github.com/angelmondragon/bookswap-backend/api/validators"
	courierwebhook "github.com/angelmondragon/bookswap-backend/internal/webhooks/courier"
	pkgerrors "github.com/angelmondragon/bookswap-backend/pkg/errors"
	"github.com/angelmondragon/bookswap-backend/pkg/logger"
)

const courierSecretHeader = "X-Courier-Webhook-Secret"

type CourierWebhookService interface {
	HandleEvent(ctx context.Context, event *courierwebhook.TrackingEvent) error
}

type trackingUpdateRequest struct {
	EventID           string `json:"event_id,omitempty"`
	TrackingReference string `json:"tracking_reference" validate:"notblank,max=128"`
	Status            string `json:"status" validate:"required,max=64"`
}

// CourierWebhook accepts tracking callbacks authenticated by a shared secret.
// An empty secret disables the endpoint.
func CourierWebhook(svc CourierWebhookService, secret string, guard eventGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil || guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		provided := r.Header.Get(courierSecretHeader)
		if secret == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid webhook secret"))
			return
		}

		var body trackingUpdateRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		event := &courierwebhook.TrackingEvent{
			EventID:           body.EventID,
			TrackingReference: body.TrackingReference,
			Status:            body.Status,
		}
		eventID := event.ID()

		claimed, err := guard.Claim(ctx, eventID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim webhook event"))
			return
		}
		if !claimed {
			responses.WriteSuccess(w, nil)
			return
		}

		if err := svc.HandleEvent(ctx, event); err != nil {
			if relErr := guard.Release(ctx, eventID); relErr != nil {
				logg.WarnErr(ctx, "failed to release webhook claim", relErr)
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, nil)
	}
}
