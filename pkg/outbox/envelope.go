package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// CurrentVersion is stamped on envelopes that do not set one.
const CurrentVersion = 1

// ActorRef names the user or system role that caused the event. UserID is
// zero for system actors such as the cron worker.
type ActorRef struct {
	UserID uuid.UUID `json:"userId"`
	Role   string    `json:"role,omitempty"`
}

// PayloadEnvelope wraps every outbox payload. Consumers dedupe on EventID
// and decode Data by the message's event_type attribute.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// DecodeData unmarshals the inner payload into dst.
func (e PayloadEnvelope) DecodeData(dst any) error {
	return json.Unmarshal(e.Data, dst)
}
