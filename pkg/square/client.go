// Package square wraps the Square SDK calls the marketplace makes: refunds
// against payments captured at checkout.
package square

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	sq "github.com/square/square-go-sdk"
	sqclient "github.com/square/square-go-sdk/client"
	sqcore "github.com/square/square-go-sdk/core"
	sqoption "github.com/square/square-go-sdk/option"

	"github.com/angelmondragon/bookswap-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/bookswap-backend/pkg/errors"
	"github.com/angelmondragon/bookswap-backend/pkg/logger"
)

var baseURLs = map[string]string{
	"sandbox":    "https://connect.squareupsandbox.com",
	"production": "https://connect.squareup.com",
}

type Client struct {
	sdk      *sqclient.Client
	env      string
	currency string
	logger   *logger.Logger
}

// NewClient builds an authenticated client. It does not call Square.
func NewClient(ctx context.Context, cfg config.SquareConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errors.New("square logger is required")
	}
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return nil, errors.New("square access token is required")
	}
	env := cfg.Environment()
	baseURL, ok := baseURLs[env]
	if !ok {
		return nil, fmt.Errorf("square environment %q must be sandbox or production", env)
	}

	c := &Client{
		sdk: sqclient.NewClient(
			sqoption.WithBaseURL(baseURL),
			sqoption.WithToken(token),
		),
		env:      env,
		currency: strings.TrimSpace(cfg.Currency),
		logger:   logg,
	}
	logg.Info(logg.WithField(ctx, "square_env", env), "square client initialized")
	return c, nil
}

// RefundPayment refunds part or all of a captured payment. A reused
// idempotency key with the same parameters returns the original refund.
func (c *Client) RefundPayment(ctx context.Context, params RefundParams) (*sq.PaymentRefund, error) {
	if params.Currency == "" {
		params.Currency = c.currency
	}
	if err := params.validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid square refund")
	}

	ctx = c.logger.WithFields(ctx, map[string]any{
		"square_env":   c.env,
		"payment_id":   strings.TrimSpace(params.PaymentID),
		"amount_cents": params.AmountCents,
	})
	resp, err := c.sdk.Refunds.RefundPayment(ctx, params.request())
	if err != nil {
		mapped := mapError(err, "refund payment")
		c.logger.Error(ctx, "square refund failed", mapped)
		return nil, mapped
	}

	refund := resp.GetRefund()
	if refund == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "square refund payment returned no refund")
	}
	status := ""
	if s := refund.GetStatus(); s != nil {
		status = *s
	}
	c.logger.Info(c.logger.WithFields(ctx, map[string]any{
		"refund_id":     refund.GetID(),
		"refund_status": status,
	}), "square refund accepted")
	return refund, nil
}

// mapError converts SDK failures into domain errors. Square error codes take
// precedence over the HTTP status.
func mapError(err error, op string) error {
	msg := "square " + op + " failed"
	var apiErr *sqcore.APIError
	if !errors.As(err, &apiErr) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
	}
	code := codeForStatus(apiErr.StatusCode)
	for _, e := range squareErrors(apiErr) {
		switch {
		case e.Code == sq.ErrorCodeIdempotencyKeyReused:
			return pkgerrors.Wrap(pkgerrors.CodeIdempotency, err, msg)
		case e.Category == sq.ErrorCategoryAuthenticationError:
			code = pkgerrors.CodeUnauthorized
		}
	}
	return pkgerrors.Wrap(code, err, msg)
}

// squareErrors decodes the {"errors": [...]} body the SDK keeps as the
// wrapped error text.
func squareErrors(apiErr *sqcore.APIError) []sq.Error {
	inner := apiErr.Unwrap()
	if inner == nil {
		return nil
	}
	var body struct {
		Errors []sq.Error `json:"errors"`
	}
	if json.Unmarshal([]byte(inner.Error()), &body) != nil {
		return nil
	}
	return body.Errors
}

func codeForStatus(status int) pkgerrors.Code {
	switch status {
	case http.StatusBadRequest:
		return pkgerrors.CodeValidation
	case http.StatusUnauthorized:
		return pkgerrors.CodeUnauthorized
	case http.StatusForbidden:
		return pkgerrors.CodeForbidden
	case http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case http.StatusConflict:
		return pkgerrors.CodeConflict
	case http.StatusUnprocessableEntity:
		return pkgerrors.CodeStateConflict
	case http.StatusTooManyRequests:
		return pkgerrors.CodeRateLimit
	}
	if status >= 400 && status < 500 {
		return pkgerrors.CodeValidation
	}
	return pkgerrors.CodeDependency
}
