package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	sq "github.com/square/square-go-sdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/bookswap-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/bookswap-backend/pkg/errors"
	"github.com/angelmondragon/bookswap-backend/pkg/square"
)

type stubSquare struct {
	refundFn func(ctx context.Context, params square.RefundParams) (*sq.PaymentRefund, error)
	last     square.RefundParams
}

func (s *stubSquare) RefundPayment(ctx context.Context, params square.RefundParams) (*sq.PaymentRefund, error) {
	s.last = params
	return s.refundFn(ctx, params)
}

func paidOrder(amount string) models.Order {
	ref := "pay_abc"
	return models.Order{
		ID:               uuid.MustParse("11111111-2222-3333-4444-555555555555"),
		PaymentReference: &ref,
		Amount:           decimal.RequireFromString(amount),
	}
}

func TestSquareRefunderSuccess(t *testing.T) {
	status := "PENDING"
	stub := &stubSquare{refundFn: func(context.Context, square.RefundParams) (*sq.PaymentRefund, error) {
		return &sq.PaymentRefund{ID: "rf_1", Status: &status}, nil
	}}
	refunder, err := NewSquareRefunder(stub, "ZAR")
	require.NoError(t, err)

	res, err := refunder.Refund(context.Background(), paidOrder("265.00"), "buyer cancelled")
	require.NoError(t, err)
	assert.Equal(t, "rf_1", res.RefundID)
	assert.Equal(t, "PENDING", res.Status)
	assert.Equal(t, int64(26500), stub.last.AmountCents)
	assert.Equal(t, "pay_abc", stub.last.PaymentID)
	assert.Equal(t, "refund-11111111-2222-3333-4444-555555555555", stub.last.IdempotencyKey)
}

func TestSquareRefunderFailureIsRefundFailed(t *testing.T) {
	stub := &stubSquare{refundFn: func(context.Context, square.RefundParams) (*sq.PaymentRefund, error) {
		return nil, errors.New("gateway down")
	}}
	refunder, err := NewSquareRefunder(stub, "ZAR")
	require.NoError(t, err)

	_, err = refunder.Refund(context.Background(), paidOrder("100"), "")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeRefundFailed, pkgerrors.CodeOf(err))
}

func TestSquareRefunderRejectedStatus(t *testing.T) {
	status := "REJECTED"
	stub := &stubSquare{refundFn: func(context.Context, square.RefundParams) (*sq.PaymentRefund, error) {
		return &sq.PaymentRefund{ID: "rf_2", Status: &status}, nil
	}}
	refunder, err := NewSquareRefunder(stub, "ZAR")
	require.NoError(t, err)

	_, err = refunder.Refund(context.Background(), paidOrder("100"), "")
	assert.Equal(t, pkgerrors.CodeRefundFailed, pkgerrors.CodeOf(err))
}

func TestSquareRefunderRequiresPaymentReference(t *testing.T) {
	stub := &stubSquare{}
	refunder, err := NewSquareRefunder(stub, "ZAR")
	require.NoError(t, err)

	order := paidOrder("100")
	order.PaymentReference = nil
	_, err = refunder.Refund(context.Background(), order, "")
	assert.Equal(t, pkgerrors.CodeRefundFailed, pkgerrors.CodeOf(err))
}

func TestNewSquareRefunderCurrency(t *testing.T) {
	refunder, err := NewSquareRefunder(&stubSquare{}, "zar")
	require.NoError(t, err)
	assert.Equal(t, "ZAR", refunder.(*squareRefunder).currency.String())

	_, err = NewSquareRefunder(&stubSquare{}, "BTC")
	require.Error(t, err)
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(12345), MinorUnits(decimal.RequireFromString("123.45")))
	assert.Equal(t, int64(1001), MinorUnits(decimal.RequireFromString("10.005")))
	assert.Equal(t, int64(5000), MinorUnits(decimal.NewFromInt(50)))
}

func TestUnconfiguredAlwaysFails(t *testing.T) {
	_, err := Unconfigured().Refund(context.Background(), paidOrder("1"), "")
	assert.Equal(t, pkgerrors.CodeRefundFailed, pkgerrors.CodeOf(err))
}
