// Package types holds the shapes shared by the analytics worker stages.
package types

import (
	"encoding/json"
	"time"

	"github.com/angelmondragon/bookswap-backend/pkg/enums"
)

// Envelope is one order event after the worker has merged the stored outbox
// envelope with the routing attributes of its Pub/Sub message.
type Envelope struct {
	EventID       string
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   string
	OccurredAt    time.Time
	Payload       json.RawMessage
}
