// Package router dispatches analytics envelopes to per event type handlers.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/angelmondragon/bookswap-backend/internal/analytics/types"
	"github.com/angelmondragon/bookswap-backend/pkg/enums"
	"github.com/angelmondragon/bookswap-backend/pkg/logger"
)

var ErrUnsupportedEventType = errors.New("unsupported analytics event type")

// Writer receives the rows built from events.
type Writer interface {
	InsertOrderEvent(ctx context.Context, row types.OrderEventRow) error
}

// Handler receives an envelope plus its decoded payload.
type Handler interface {
	Handle(ctx context.Context, envelope types.Envelope, payload any) error
}

type route struct {
	decode  func(json.RawMessage) (any, error)
	handler Handler
}

type Router struct {
	routes map[enums.OutboxEventType]route
}

// NewRouter registers a BigQuery row handler for every order event.
// overrides replace the handler of known event types and are ignored for
// unknown ones.
func NewRouter(writer Writer, logg *logger.Logger, overrides map[enums.OutboxEventType]Handler) (*Router, error) {
	if writer == nil {
		return nil, errors.New("writer is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}

	lifecycle := rowRoute(writer, logg, fillOrder)
	terminated := rowRoute(writer, logg, fillTermination)
	routes := map[enums.OutboxEventType]route{
		enums.EventOrderCreated:           lifecycle,
		enums.EventOrderPaid:              lifecycle,
		enums.EventOrderCommitRequested:   lifecycle,
		enums.EventOrderCommitted:         lifecycle,
		enums.EventOrderDelivered:         lifecycle,
		enums.EventOrderShipped:           rowRoute(writer, logg, fillShipped),
		enums.EventOrderCancelled:         terminated,
		enums.EventOrderDeclined:          terminated,
		enums.EventOrderExpired:           terminated,
		enums.EventInventoryReleaseFailed: rowRoute(writer, logg, fillReleaseFailed),
	}
	for eventType, h := range overrides {
		if r, ok := routes[eventType]; ok && h != nil {
			r.handler = h
			routes[eventType] = r
		}
	}
	return &Router{routes: routes}, nil
}

// Handle decodes the payload for the envelope's event type and runs its
// handler.
func (r *Router) Handle(ctx context.Context, envelope types.Envelope) error {
	rt, ok := r.routes[envelope.EventType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedEventType, envelope.EventType)
	}
	if len(envelope.Payload) == 0 {
		return fmt.Errorf("empty payload for %s", envelope.EventType)
	}
	payload, err := rt.decode(envelope.Payload)
	if err != nil {
		return fmt.Errorf("decode %s payload: %w", envelope.EventType, err)
	}
	return rt.handler.Handle(ctx, envelope, payload)
}

func rowRoute[T any](writer Writer, logg *logger.Logger, fill func(*types.OrderEventRow, *T)) route {
	return route{
		decode: func(raw json.RawMessage) (any, error) {
			p := new(T)
			if err := json.Unmarshal(raw, p); err != nil {
				return nil, err
			}
			return p, nil
		},
		handler: &rowHandler[T]{writer: writer, logg: logg, fill: fill},
	}
}
