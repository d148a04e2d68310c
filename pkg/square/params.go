package square

import (
	"errors"
	"strings"
	"unicode/utf8"

	sq "github.com/square/square-go-sdk"
)

// maxReasonLen is Square's limit on refund reasons.
const maxReasonLen = 192

// RefundParams describes a refund against a captured Square payment.
type RefundParams struct {
	PaymentID      string
	AmountCents    int64
	Currency       string
	Reason         string
	IdempotencyKey string
}

func (p RefundParams) validate() error {
	var errs []error
	if strings.TrimSpace(p.PaymentID) == "" {
		errs = append(errs, errors.New("payment id is required"))
	}
	if p.AmountCents <= 0 {
		errs = append(errs, errors.New("refund amount must be positive"))
	}
	if strings.TrimSpace(p.IdempotencyKey) == "" {
		errs = append(errs, errors.New("idempotency key is required"))
	}
	return errors.Join(errs...)
}

func (p RefundParams) request() *sq.RefundPaymentRequest {
	paymentID := strings.TrimSpace(p.PaymentID)
	amount := p.AmountCents
	currency := sq.Currency(strings.ToUpper(strings.TrimSpace(p.Currency)))

	req := &sq.RefundPaymentRequest{
		IdempotencyKey: strings.TrimSpace(p.IdempotencyKey),
		PaymentID:      &paymentID,
		AmountMoney:    &sq.Money{Amount: &amount, Currency: &currency},
	}
	if reason := clip(strings.TrimSpace(p.Reason), maxReasonLen); reason != "" {
		req.Reason = &reason
	}
	return req
}

// clip shortens s to at most n bytes without splitting a rune.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
