package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	sq "github.com/square/square-go-sdk"

	"github.com/angelmondragon/bookswap-backend/pkg/db/models"
	"github.com/angelmondragon/bookswap-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bookswap-backend/pkg/errors"
	"github.com/angelmondragon/bookswap-backend/pkg/square"
)

// RefundResult is what the saga records after a successful refund.
type RefundResult struct {
	RefundID string          `json:"refund_id"`
	Amount   decimal.Decimal `json:"amount"`
	Status   string          `json:"status"`
}

// Refunder returns an order's payment to the buyer. Any error means the
// money did not move and the caller must not advance the order.
type Refunder interface {
	Refund(ctx context.Context, order models.Order, reason string) (RefundResult, error)
}

type squareClient interface {
	RefundPayment(ctx context.Context, params square.RefundParams) (*sq.PaymentRefund, error)
}

type squareRefunder struct {
	client   squareClient
	currency enums.Currency
}

// NewSquareRefunder refunds orders through Square.
func NewSquareRefunder(client squareClient, currency string) (Refunder, error) {
	if client == nil {
		return nil, fmt.Errorf("square client required")
	}
	parsed, err := enums.ParseCurrency(currency)
	if err != nil {
		return nil, err
	}
	return &squareRefunder{client: client, currency: parsed}, nil
}

func (r *squareRefunder) Refund(ctx context.Context, order models.Order, reason string) (RefundResult, error) {
	if order.PaymentReference == nil || strings.TrimSpace(*order.PaymentReference) == "" {
		return RefundResult{}, pkgerrors.New(pkgerrors.CodeRefundFailed, "order has no payment reference to refund")
	}
	cents := MinorUnits(order.Amount)
	if cents <= 0 {
		return RefundResult{}, pkgerrors.New(pkgerrors.CodeRefundFailed, "order amount must be positive to refund")
	}

	refund, err := r.client.RefundPayment(ctx, square.RefundParams{
		PaymentID:      *order.PaymentReference,
		AmountCents:    cents,
		Currency:       r.currency.String(),
		Reason:         reason,
		IdempotencyKey: IdempotencyKey("refund", order.ID.String()),
	})
	if err != nil {
		return RefundResult{}, pkgerrors.Wrap(pkgerrors.CodeRefundFailed, err, "refund payment").
			WithDetails(map[string]string{"payment_reference": *order.PaymentReference})
	}

	status := ""
	if refund.GetStatus() != nil {
		status = *refund.GetStatus()
	}
	if strings.EqualFold(status, "REJECTED") || strings.EqualFold(status, "FAILED") {
		return RefundResult{}, pkgerrors.New(pkgerrors.CodeRefundFailed, fmt.Sprintf("refund %s", strings.ToLower(status))).
			WithDetails(map[string]string{"refund_id": refund.GetID()})
	}
	return RefundResult{
		RefundID: refund.GetID(),
		Amount:   order.Amount,
		Status:   status,
	}, nil
}

// MinorUnits converts a rand amount to cents, rounding half away from zero.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// IdempotencyKey derives a stable processor key for an order operation so a
// retried refund is never applied twice.
func IdempotencyKey(op, orderID string) string {
	return op + "-" + orderID
}

var errNotConfigured = errors.New("payment processor not configured")

type unconfigured struct{}

// Unconfigured is used when no processor credentials are present. Every
// refund fails, which keeps orders in their current state.
func Unconfigured() Refunder {
	return unconfigured{}
}

func (unconfigured) Refund(context.Context, models.Order, string) (RefundResult, error) {
	return RefundResult{}, pkgerrors.Wrap(pkgerrors.CodeRefundFailed, errNotConfigured, "refund payment")
}
