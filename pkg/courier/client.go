package courier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/bookswap-backend/pkg/errors"
)

const (
	defaultBaseURL              = "https://api.shiplogic.com/v2"
	defaultTimeout              = 10 * time.Second
	responseBodyReadLimit int64 = 1024
)

var errAPIKeyRequired = errors.New("courier api key is required")

// Client wraps the courier rates, shipments and cancellation endpoints.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the configured API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// WithTimeout sets the per-request timeout on the default HTTP client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient = &http.Client{Timeout: timeout}
		}
	}
}

// NewClient builds the courier client given an API key.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	trimmedKey := strings.TrimSpace(apiKey)
	if trimmedKey == "" {
		return nil, errAPIKeyRequired
	}

	client := &Client{
		apiKey:     trimmedKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// Rates asks the courier to price a parcel between two endpoints.
func (c *Client) Rates(ctx context.Context, req RatesRequest) ([]Rate, error) {
	var resp struct {
		Rates []Rate `json:"rates"`
	}
	if err := c.do(ctx, http.MethodPost, "rates", req, &resp); err != nil {
		return nil, err
	}
	return resp.Rates, nil
}

// CreateShipment books a collection with the courier.
func (c *Client) CreateShipment(ctx context.Context, req ShipmentRequest) (*Shipment, error) {
	var shipment Shipment
	if err := c.do(ctx, http.MethodPost, "shipments", req, &shipment); err != nil {
		return nil, err
	}
	if strings.TrimSpace(shipment.TrackingReference) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeShipmentProviderError, "courier returned a shipment without a tracking reference")
	}
	return &shipment, nil
}

// CancelShipment cancels a booked shipment by tracking reference.
func (c *Client) CancelShipment(ctx context.Context, trackingReference, reason string) error {
	trimmed := strings.TrimSpace(trackingReference)
	if trimmed == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "tracking reference is required")
	}
	return c.do(ctx, http.MethodPost, "shipments/cancel", CancelRequest{
		TrackingReference: trimmed,
		Reason:            reason,
	}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if c == nil {
		return pkgerrors.New(pkgerrors.CodeShipmentProviderError, "courier client not configured")
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal courier request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.buildURL(path), bytes.NewReader(payload))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeShipmentProviderError, err, "build courier request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeShipmentProviderError, err, fmt.Sprintf("courier %s request failed", path))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return pkgerrors.Wrap(
			pkgerrors.CodeShipmentProviderError,
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))),
			fmt.Sprintf("courier %s request failed", path),
		).WithDetails(map[string]any{"status": resp.StatusCode})
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeShipmentProviderError, err, fmt.Sprintf("decode courier %s response", path))
	}
	return nil
}

func (c *Client) buildURL(path string) string {
	trimmed := strings.TrimRight(c.baseURL, "/")
	path = strings.TrimLeft(path, "/")
	return fmt.Sprintf("%s/%s", trimmed, path)
}
