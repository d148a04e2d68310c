// Package worker consumes order events from Pub/Sub and feeds them to the
// analytics router.
package worker

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/bookswap-backend/internal/analytics/router"
	"github.com/angelmondragon/bookswap-backend/internal/analytics/types"
	"github.com/angelmondragon/bookswap-backend/pkg/enums"
	"github.com/angelmondragon/bookswap-backend/pkg/logger"
	"github.com/angelmondragon/bookswap-backend/pkg/outbox"
)

// ConsumerName scopes the worker's idempotency claims.
const ConsumerName = "analytics"

type Handler interface {
	Handle(ctx context.Context, envelope types.Envelope) error
}

type claimer interface {
	Claim(ctx context.Context, id string) (bool, error)
	Release(ctx context.Context, id string) error
}

// Service receives from every analytics subscription concurrently. A failed
// subscription stops the others.
type Service struct {
	subscriptions []*gcppubsub.Subscriber
	handler       Handler
	manager       claimer
	logg          *logger.Logger
}

func NewService(subscriptions []*gcppubsub.Subscriber, handler Handler, manager claimer, logg *logger.Logger) (*Service, error) {
	var errs []error
	if len(subscriptions) == 0 {
		errs = append(errs, errors.New("at least one analytics subscription is required"))
	}
	if handler == nil {
		errs = append(errs, errors.New("analytics handler is required"))
	}
	if manager == nil {
		errs = append(errs, errors.New("idempotency manager is required"))
	}
	if logg == nil {
		errs = append(errs, errors.New("logger is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &Service{subscriptions: subscriptions, handler: handler, manager: manager, logg: logg}, nil
}

func (s *Service) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, sub := range s.subscriptions {
		g.Go(func() error {
			return sub.Receive(gctx, func(ctx context.Context, msg *gcppubsub.Message) {
				if s.process(ctx, msg) == redeliver {
					msg.Nack()
					return
				}
				msg.Ack()
			})
		})
	}
	return g.Wait()
}

type disposition int

const (
	done disposition = iota
	redeliver
)

func (s *Service) process(ctx context.Context, msg *gcppubsub.Message) disposition {
	ctx = s.logg.WithField(ctx, "message_id", msg.ID)

	envelope, err := buildEnvelope(msg)
	if err != nil {
		s.logg.WarnErr(ctx, "invalid analytics envelope", err)
		return done
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"event_id":     envelope.EventID,
		"event_type":   envelope.EventType,
		"aggregate_id": envelope.AggregateID,
	})
	if _, err := uuid.Parse(envelope.EventID); err != nil {
		s.logg.WarnErr(ctx, "invalid event id", err)
		return done
	}

	claimed, err := s.manager.Claim(ctx, envelope.EventID)
	switch {
	case err != nil:
		s.logg.Error(ctx, "idempotency check failed", err)
		return redeliver
	case !claimed:
		s.logg.Info(ctx, "event already processed")
		return done
	}

	err = s.handler.Handle(ctx, *envelope)
	switch {
	case err == nil:
		s.logg.Debug(ctx, "analytics event handled")
		return done
	case errors.Is(err, router.ErrUnsupportedEventType):
		s.logg.Info(ctx, "event type not recorded in analytics")
		return done
	}

	s.logg.Error(ctx, "analytics handler failed", err)
	if relErr := s.manager.Release(ctx, envelope.EventID); relErr != nil {
		s.logg.WarnErr(ctx, "failed to release idempotency claim", relErr)
	}
	return redeliver
}

// buildEnvelope merges the stored outbox envelope with the message
// attributes. The envelope's event id and timestamp win; attributes fill
// gaps left by older publishers.
func buildEnvelope(msg *gcppubsub.Message) (*types.Envelope, error) {
	var stored outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &stored); err != nil {
		return nil, fmt.Errorf("decode payload envelope: %w", err)
	}
	attr := func(key string) string { return strings.TrimSpace(msg.Attributes[key]) }

	eventType, err := enums.ParseOutboxEventType(attr("event_type"))
	if err != nil {
		return nil, fmt.Errorf("event_type: %w", err)
	}
	aggregateType, err := enums.ParseOutboxAggregateType(attr("aggregate_type"))
	if err != nil {
		return nil, fmt.Errorf("aggregate_type: %w", err)
	}

	env := &types.Envelope{
		EventID:       cmp.Or(strings.TrimSpace(stored.EventID), attr("event_id")),
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   attr("aggregate_id"),
		OccurredAt:    stored.OccurredAt,
		Payload:       stored.Data,
	}
	if env.AggregateID == "" {
		return nil, errors.New("aggregate_id missing")
	}
	if env.EventID == "" {
		return nil, errors.New("event_id missing")
	}
	if env.OccurredAt.IsZero() {
		if t, err := time.Parse(time.RFC3339Nano, attr("created_at")); err == nil {
			env.OccurredAt = t
		}
	}
	env.OccurredAt = env.OccurredAt.UTC()
	return env, nil
}

