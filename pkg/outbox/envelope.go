package outbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/orderdesk/pkg/enums"
)

// Message attribute names set by the outbox publisher. Consumers filter and
// route on these without decoding the body.
const (
	AttrEventID       = "event_id"
	AttrEventType     = "event_type"
	AttrAggregateType = "aggregate_type"
	AttrAggregateID   = "aggregate_id"
	AttrCreatedAt     = "created_at"
	AttrOrderVersion  = "order_version"
	AttrBusinessType  = "business_type"
)

// ActorRef identifies who produced the event. UserID is nil for the system actor.
type ActorRef struct {
	UserID *uuid.UUID `json:"userId,omitempty"`
	Role   string     `json:"role"`
}

// PayloadEnvelope is the stable payload structure stored in outbox_events and
// published verbatim as the message body.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// Delivery is a published outbox event as seen by a subscriber: the body
// envelope merged with the routing attributes.
type Delivery struct {
	EventID       uuid.UUID
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   string
	Version       int
	OccurredAt    time.Time
	Actor         *ActorRef
	Data          json.RawMessage
}

// ErrMalformedDelivery marks messages that can never be processed. Consumers
// ack them instead of letting Pub/Sub redeliver forever.
var ErrMalformedDelivery = errors.New("malformed outbox delivery")

// DecodeDelivery parses a message body and attributes. The event id comes
// from the body, falling back to the attribute; occurred_at falls back to the
// row's created_at attribute.
func DecodeDelivery(attrs map[string]string, body []byte) (*Delivery, error) {
	var env PayloadEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: decode envelope: %v", ErrMalformedDelivery, err)
	}

	attr := func(name string) string { return strings.TrimSpace(attrs[name]) }

	rawID := strings.TrimSpace(env.EventID)
	if rawID == "" {
		rawID = attr(AttrEventID)
	}
	eventID, err := uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("%w: event_id %q", ErrMalformedDelivery, rawID)
	}
	eventType, err := enums.ParseOutboxEventType(attr(AttrEventType))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDelivery, err)
	}
	aggregateType, err := enums.ParseOutboxAggregateType(attr(AttrAggregateType))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDelivery, err)
	}
	aggregateID := attr(AttrAggregateID)
	if aggregateID == "" {
		return nil, fmt.Errorf("%w: aggregate_id missing", ErrMalformedDelivery)
	}

	occurredAt := env.OccurredAt
	if occurredAt.IsZero() {
		if parsed, err := time.Parse(time.RFC3339Nano, attr(AttrCreatedAt)); err == nil {
			occurredAt = parsed
		}
	}

	return &Delivery{
		EventID:       eventID,
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Version:       env.Version,
		OccurredAt:    occurredAt.UTC(),
		Actor:         env.Actor,
		Data:          env.Data,
	}, nil
}
