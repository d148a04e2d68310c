// Package registry maps outbox event types to the Pub/Sub topic they are
// published on and the payload schema they must decode into.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/angelmondragon/bookswap-backend/pkg/config"
	"github.com/angelmondragon/bookswap-backend/pkg/db/models"
	"github.com/angelmondragon/bookswap-backend/pkg/enums"
	"github.com/angelmondragon/bookswap-backend/pkg/outbox"
	"github.com/angelmondragon/bookswap-backend/pkg/outbox/payloads"
)

type EventDescriptor struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string

	decode func(json.RawMessage) (any, error)
}

// ResolvedEvent is a validated outbox row with its envelope and typed
// payload.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError marks rows that will never publish and should be parked.
type NonRetryableError struct {
	Err error
}

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

func decoderFor[T any]() func(json.RawMessage) (any, error) {
	return func(raw json.RawMessage) (any, error) {
		dst := new(T)
		if err := json.Unmarshal(raw, dst); err != nil {
			return nil, err
		}
		return dst, nil
	}
}

// NewEventRegistry wires every publishable event. Lifecycle events that only
// feed analytics go to the orders topic; events that also fan out into
// buyer or seller notifications go to the notification topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	var missing []error
	if cfg.OrdersTopic == "" {
		missing = append(missing, errors.New("orders topic is required"))
	}
	if cfg.NotificationTopic == "" {
		missing = append(missing, errors.New("notification topic is required"))
	}
	if err := errors.Join(missing...); err != nil {
		return nil, err
	}

	order := decoderFor[payloads.OrderEvent]()
	cancelled := decoderFor[payloads.OrderCancelledEvent]()

	reg := &EventRegistry{entries: map[enums.OutboxEventType]EventDescriptor{}}
	reg.add(enums.AggregateOrder, cfg.OrdersTopic, order,
		enums.EventOrderCreated, enums.EventOrderPaid, enums.EventOrderCommitted)
	reg.add(enums.AggregateOrder, cfg.OrdersTopic, cancelled, enums.EventOrderExpired)
	reg.add(enums.AggregateOrder, cfg.NotificationTopic, order,
		enums.EventOrderCommitRequested, enums.EventOrderDelivered)
	reg.add(enums.AggregateOrder, cfg.NotificationTopic, decoderFor[payloads.OrderShippedEvent](), enums.EventOrderShipped)
	reg.add(enums.AggregateOrder, cfg.NotificationTopic, cancelled,
		enums.EventOrderCancelled, enums.EventOrderDeclined)
	reg.add(enums.AggregateBook, cfg.OrdersTopic, decoderFor[payloads.InventoryReleaseFailedEvent](), enums.EventInventoryReleaseFailed)
	return reg, nil
}

func (r *EventRegistry) add(aggregate enums.OutboxAggregateType, topic string, decode func(json.RawMessage) (any, error), types ...enums.OutboxEventType) {
	for _, t := range types {
		r.entries[t] = EventDescriptor{EventType: t, AggregateType: aggregate, Topic: topic, decode: decode}
	}
}

// Topics lists the distinct topics in sorted order.
func (r *EventRegistry) Topics() []string {
	var topics []string
	for _, desc := range r.entries {
		topics = append(topics, desc.Topic)
	}
	slices.Sort(topics)
	return slices.Compact(topics)
}

// Resolve validates the row against its descriptor and decodes the payload.
// Every failure is non-retryable: the row itself is malformed.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	resolved, err := r.resolve(event)
	if err != nil {
		return nil, NewNonRetryableError(err)
	}
	return resolved, nil
}

func (r *EventRegistry) resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	if !ok {
		return nil, fmt.Errorf("unsupported event type %s", event.EventType)
	}
	if desc.AggregateType != event.AggregateType {
		return nil, fmt.Errorf("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType)
	}
	if event.AggregateID == uuid.Nil {
		return nil, errors.New("missing aggregate_id")
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	data := bytes.TrimSpace(envelope.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, fmt.Errorf("payload missing for %s", event.EventType)
	}
	payload, err := desc.decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", event.EventType, err)
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
