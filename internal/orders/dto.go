package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/bookswap-backend/internal/rates"
	"github.com/angelmondragon/bookswap-backend/internal/shipments"
	"github.com/angelmondragon/bookswap-backend/pkg/db/models"
	"github.com/angelmondragon/bookswap-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bookswap-backend/pkg/errors"
	"github.com/angelmondragon/bookswap-backend/pkg/pagination"
	"github.com/angelmondragon/bookswap-backend/pkg/types"
)

// ListRole restricts a listing to one side of the order.
type ListRole string

const (
	ListRoleAny    ListRole = ""
	ListRoleBuyer  ListRole = "buyer"
	ListRoleSeller ListRole = "seller"
)

// ListFilters narrows ListForUser.
type ListFilters struct {
	Role   ListRole
	Status *enums.OrderStatus
}

// OrderSummary is the list projection of an order.
type OrderSummary struct {
	ID             uuid.UUID            `json:"id"`
	BookID         uuid.UUID            `json:"book_id"`
	Title          string               `json:"title"`
	Amount         decimal.Decimal      `json:"amount"`
	Status         enums.OrderStatus    `json:"status"`
	DeliveryStatus enums.DeliveryStatus `json:"delivery_status,omitempty"`
	BuyerID        uuid.UUID            `json:"buyer_id"`
	SellerID       uuid.UUID            `json:"seller_id"`
	TrackingNumber *string              `json:"tracking_number,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
}

// OrderList is a cursor page of summaries.
type OrderList = pagination.Page[OrderSummary]

func summarize(o models.Order) OrderSummary {
	return OrderSummary{
		ID:             o.ID,
		BookID:         o.BookID,
		Title:          o.Item.Title,
		Amount:         o.Amount,
		Status:         o.Status,
		DeliveryStatus: o.DeliveryStatus,
		BuyerID:        o.BuyerID,
		SellerID:       o.SellerID,
		TrackingNumber: o.Shipment.TrackingNumber,
		CreatedAt:      o.CreatedAt,
	}
}

// Actor is the authenticated caller of a saga operation.
type Actor struct {
	UserID uuid.UUID
	Role   enums.ActorRole
}

// IsAdmin reports whether the actor has platform-wide rights.
func (a Actor) IsAdmin() bool {
	return a.Role == enums.ActorRoleAdmin || a.Role == enums.ActorRoleSystem
}

// CreateOrderInput is the checkout request after authentication.
type CreateOrderInput struct {
	BuyerID          uuid.UUID
	SellerID         uuid.UUID
	BookID           uuid.UUID
	PaymentReference *string
	DeliveryType     enums.FulfillmentType
	DeliveryAddress  *types.Address
	DeliveryLocker   *types.Locker
	PickupType       enums.FulfillmentType
	PickupLocker     *types.Locker
	ShippingCost     *decimal.Decimal
}

// CreateOrderResult is returned by CreateOrder. Replayed is true when an
// existing order satisfied the request.
type CreateOrderResult struct {
	Order    *models.Order      `json:"order"`
	Replayed bool               `json:"replayed"`
	Warnings pkgerrors.Warnings `json:"warnings,omitempty"`
}

// CancelInput drives CancelOrderWithRefund.
type CancelInput struct {
	OrderID uuid.UUID
	Actor   Actor
	Reason  string
}

// DeclineInput drives DeclineCommit.
type DeclineInput struct {
	OrderID  uuid.UUID
	SellerID uuid.UUID
	Reason   string
}

// SagaResult is the outcome of a compensating saga. Warnings list the
// best-effort steps that failed without aborting the saga.
type SagaResult struct {
	Order    *models.Order      `json:"order"`
	RefundID string             `json:"refund_id,omitempty"`
	Warnings pkgerrors.Warnings `json:"warnings,omitempty"`
}

// CommitInput drives CommitOrder. A nil Quote books the cheapest quote for
// the order's route.
type CommitInput struct {
	OrderID  uuid.UUID
	SellerID uuid.UUID
	Quote    *rates.Quote
}

// CommitResult carries the committed order and its shipment.
type CommitResult struct {
	Order    *models.Order      `json:"order"`
	Shipment *shipments.Result  `json:"shipment"`
	Warnings pkgerrors.Warnings `json:"warnings,omitempty"`
}
