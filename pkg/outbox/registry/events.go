package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/angelmondragon/orderdesk/pkg/config"
	"github.com/angelmondragon/orderdesk/pkg/db/models"
	"github.com/angelmondragon/orderdesk/pkg/enums"
	"github.com/angelmondragon/orderdesk/pkg/outbox"
	"github.com/angelmondragon/orderdesk/pkg/outbox/payloads"
)

// OrderLifecycleEventTypes lists the events carrying an OrderLifecycleEvent payload.
var OrderLifecycleEventTypes = []enums.OutboxEventType{
	enums.EventOrderCreated,
	enums.EventOrderStatusChanged,
	enums.EventOrderQuotationSent,
	enums.EventOrderPaid,
	enums.EventOrderCompleted,
	enums.EventOrderCancelled,
}

// NonRetryableError marks a row that will never publish; the dispatcher
// dead-letters it instead of bumping the attempt count.
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable"
	}
	return "non-retryable: " + e.Err.Error()
}

func (e *NonRetryableError) Unwrap() error { return e.Err }

func NewNonRetryableError(err error) error {
	return &NonRetryableError{Err: err}
}

func nonRetryablef(format string, args ...any) error {
	return NewNonRetryableError(fmt.Errorf(format, args...))
}

// IsNonRetryable reports whether err, or anything it wraps, is a NonRetryableError.
func IsNonRetryable(err error) bool {
	var target *NonRetryableError
	return errors.As(err, &target)
}

type validatable interface {
	Validate() error
}

// EventDescriptor binds an event type to its aggregate, its topic and the
// payload shape it must decode into.
type EventDescriptor struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string

	decode func(data json.RawMessage) (validatable, error)
	// aggregateOf names the payload field the row's aggregate_id must echo.
	aggregateOf func(payload validatable) uuid.UUID
}

// ResolvedEvent is an outbox row whose payload decoded and validated.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    interface{}
}

// EventRegistry is the publisher-side catalogue of events allowed onto the bus.
type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

func decodeInto[T any, P interface {
	*T
	validatable
}](data json.RawMessage) (validatable, error) {
	var payload T
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&payload); err != nil {
		return nil, err
	}
	return P(&payload), nil
}

// NewEventRegistry builds the registry with the configured topic names.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if cfg.OrdersTopic == "" {
		return nil, errors.New("orders topic is required")
	}

	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor, len(OrderLifecycleEventTypes)+1)}
	for _, eventType := range OrderLifecycleEventTypes {
		reg.entries[eventType] = EventDescriptor{
			EventType:     eventType,
			AggregateType: enums.AggregateOrder,
			Topic:         cfg.OrdersTopic,
			decode:        decodeInto[payloads.OrderLifecycleEvent],
			aggregateOf: func(p validatable) uuid.UUID {
				return p.(*payloads.OrderLifecycleEvent).OrderID
			},
		}
	}
	reg.entries[enums.EventPaymentRejected] = EventDescriptor{
		EventType:     enums.EventPaymentRejected,
		AggregateType: enums.AggregatePaymentIntent,
		Topic:         cfg.OrdersTopic,
		decode:        decodeInto[payloads.PaymentRejectedEvent],
		aggregateOf: func(p validatable) uuid.UUID {
			return p.(*payloads.PaymentRejectedEvent).PaymentIntentID
		},
	}
	return reg, nil
}

// Topics returns every topic some registered event publishes to.
func (r *EventRegistry) Topics() []string {
	seen := map[string]struct{}{}
	var topics []string
	for _, desc := range r.entries {
		if _, ok := seen[desc.Topic]; ok {
			continue
		}
		seen[desc.Topic] = struct{}{}
		topics = append(topics, desc.Topic)
	}
	slices.Sort(topics)
	return topics
}

// Resolve decodes an outbox row and checks it is publishable. Every failure
// is a NonRetryableError: a row that is malformed now stays malformed.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	if !ok {
		return nil, nonRetryablef("unsupported event type %s", event.EventType)
	}
	if desc.AggregateType != event.AggregateType {
		return nil, nonRetryablef("%s belongs to %s aggregates, row says %s", event.EventType, desc.AggregateType, event.AggregateType)
	}
	if event.AggregateID == uuid.Nil {
		return nil, nonRetryablef("missing aggregate_id")
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, nonRetryablef("decode envelope: %w", err)
	}
	if envelope.EventID == "" {
		return nil, nonRetryablef("envelope has no event_id")
	}
	if _, err := uuid.Parse(envelope.EventID); err != nil {
		return nil, nonRetryablef("envelope event_id: %w", err)
	}

	data := bytes.TrimSpace(envelope.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nonRetryablef("payload missing for %s", event.EventType)
	}

	payload, err := desc.decode(data)
	if err != nil {
		return nil, nonRetryablef("decode %s payload: %w", event.EventType, err)
	}
	if err := payload.Validate(); err != nil {
		return nil, nonRetryablef("invalid %s payload: %w", event.EventType, err)
	}
	if owner := desc.aggregateOf(payload); owner != event.AggregateID {
		return nil, nonRetryablef("payload names %s %s but row aggregate is %s", desc.AggregateType, owner, event.AggregateID)
	}

	return &ResolvedEvent{
		Descriptor: desc,
		Envelope:   envelope,
		Payload:    payload,
	}, nil
}
