package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/bookswap-backend/pkg/db/models"
	"github.com/angelmondragon/bookswap-backend/pkg/enums"
	"github.com/angelmondragon/bookswap-backend/pkg/logger"
	"github.com/angelmondragon/bookswap-backend/pkg/outbox"
)

// ConsumerName scopes the consumer's idempotency claims.
const ConsumerName = "notifications-worker"

type repository interface {
	CreateBatch(ctx context.Context, notifications []models.Notification) error
}

type claimer interface {
	Claim(ctx context.Context, id string) (bool, error)
	Release(ctx context.Context, id string) error
}

// Consumer turns order events from the notification topic into in-app
// notifications for buyers and sellers. Delivery is at least once; event ids
// are claimed before writing so redeliveries are dropped.
type Consumer struct {
	repo         repository
	subscription *pubsub.Subscriber
	claims       claimer
	logg         *logger.Logger
}

func NewConsumer(repo repository, subscription *pubsub.Subscriber, claims claimer, logg *logger.Logger) (*Consumer, error) {
	var errs []error
	if repo == nil {
		errs = append(errs, errors.New("notifications repository required"))
	}
	if subscription == nil {
		errs = append(errs, errors.New("notification subscription required"))
	}
	if claims == nil {
		errs = append(errs, errors.New("idempotency manager required"))
	}
	if logg == nil {
		errs = append(errs, errors.New("logger required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &Consumer{repo: repo, subscription: subscription, claims: claims, logg: logg}, nil
}

// Run receives until ctx is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.process(ctx, msg) == redeliver {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type disposition int

const (
	done disposition = iota
	redeliver
)

type orderMessage struct {
	eventType enums.OutboxEventType
	eventID   string
	data      json.RawMessage
}

// decode rejects messages that can never be processed.
func decode(msg *pubsub.Message) (orderMessage, error) {
	eventType := enums.OutboxEventType(msg.Attributes["event_type"])
	if !eventType.IsValid() {
		return orderMessage{}, fmt.Errorf("unknown event type %q", eventType)
	}
	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		return orderMessage{}, fmt.Errorf("decode envelope: %w", err)
	}
	id, err := uuid.Parse(envelope.EventID)
	if err != nil {
		return orderMessage{}, fmt.Errorf("invalid event id: %w", err)
	}
	return orderMessage{eventType: eventType, eventID: id.String(), data: envelope.Data}, nil
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) disposition {
	ctx = c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": msg.Attributes["event_type"],
	})

	m, err := decode(msg)
	if err != nil {
		c.logg.WarnErr(ctx, "dropping undecodable message", err)
		return done
	}
	ctx = c.logg.WithField(ctx, "event_id", m.eventID)

	rows, err := Build(m.eventType, m.data)
	if err != nil {
		c.logg.WarnErr(ctx, "dropping event with unreadable payload", err)
		return done
	}
	if len(rows) == 0 {
		c.logg.Debug(ctx, "event has no recipients")
		return done
	}

	claimed, err := c.claims.Claim(ctx, m.eventID)
	if err != nil {
		c.logg.Error(ctx, "idempotency check failed", err)
		return redeliver
	}
	if !claimed {
		c.logg.Info(ctx, "event already processed")
		return done
	}

	if err := c.repo.CreateBatch(ctx, rows); err != nil {
		c.logg.Error(ctx, "notification persistence failed", err)
		if relErr := c.claims.Release(ctx, m.eventID); relErr != nil {
			c.logg.WarnErr(ctx, "failed to release idempotency claim", relErr)
		}
		return redeliver
	}

	c.logg.Info(c.logg.WithField(ctx, "recipients", len(rows)), "order notifications stored")
	return done
}
