package orders

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/bookswap-backend/api/validators"
	internalorders "github.com/angelmondragon/bookswap-backend/internal/orders"
	"github.com/angelmondragon/bookswap-backend/internal/rates"
	"github.com/angelmondragon/bookswap-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bookswap-backend/pkg/errors"
	"github.com/angelmondragon/bookswap-backend/pkg/types"
)

const maxReasonLength = 500

type createOrderRequest struct {
	SellerID         uuid.UUID        `json:"seller_id" validate:"required"`
	BookID           uuid.UUID        `json:"book_id" validate:"required"`
	PaymentReference *string          `json:"payment_reference,omitempty"`
	DeliveryType     string           `json:"delivery_type,omitempty" validate:"omitempty,oneof=door locker"`
	DeliveryAddress  *types.Address   `json:"delivery_address,omitempty"`
	DeliveryLocker   *types.Locker    `json:"delivery_locker,omitempty"`
	PickupType       string           `json:"pickup_type,omitempty" validate:"omitempty,oneof=door locker"`
	PickupLocker     *types.Locker    `json:"pickup_locker,omitempty"`
	ShippingCost     *decimal.Decimal `json:"shipping_cost,omitempty"`
}

func (req createOrderRequest) input(buyerID uuid.UUID) internalorders.CreateOrderInput {
	return internalorders.CreateOrderInput{
		BuyerID:          buyerID,
		SellerID:         req.SellerID,
		BookID:           req.BookID,
		PaymentReference: req.PaymentReference,
		DeliveryType:     enums.FulfillmentType(req.DeliveryType),
		DeliveryAddress:  req.DeliveryAddress,
		DeliveryLocker:   req.DeliveryLocker,
		PickupType:       enums.FulfillmentType(req.PickupType),
		PickupLocker:     req.PickupLocker,
		ShippingCost:     req.ShippingCost,
	}
}

type reasonRequest struct {
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

type commitRequest struct {
	Quote *rates.Quote `json:"quote,omitempty"`
}

type markPaidRequest struct {
	PaymentReference string `json:"payment_reference" validate:"notblank,max=255"`
}

// decodeOptionalBody accepts an empty body for endpoints whose fields are
// all optional.
func decodeOptionalBody(r *http.Request, dest any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := validators.DecodeJSONBody(r, dest); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

func parseListFilters(r *http.Request) (internalorders.ListFilters, error) {
	var filters internalorders.ListFilters
	query := r.URL.Query()
	switch role := internalorders.ListRole(strings.ToLower(strings.TrimSpace(query.Get("role")))); role {
	case internalorders.ListRoleAny, internalorders.ListRoleBuyer, internalorders.ListRoleSeller:
		filters.Role = role
	default:
		return filters, pkgerrors.New(pkgerrors.CodeValidation, "role must be buyer or seller")
	}
	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		status, err := enums.ParseOrderStatus(raw)
		if err != nil {
			return filters, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter")
		}
		filters.Status = &status
	}
	return filters, nil
}
