package registry

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/angelmondragon/orderdesk/pkg/enums"
	"github.com/angelmondragon/orderdesk/pkg/outbox/payloads"
)

// ErrNoDecoder is returned by Decode for an unregistered type and version.
var ErrNoDecoder = errors.New("no decoder registered")

type decoderKey struct {
	eventType enums.OutboxEventType
	version   int
}

// Decoder resolves consumer payloads to T by event type and envelope version.
// Register everything before sharing it between goroutines.
type Decoder[T any] struct {
	byKey map[decoderKey]func(json.RawMessage) (T, error)
}

func NewDecoder[T any]() *Decoder[T] {
	return &Decoder[T]{byKey: make(map[decoderKey]func(json.RawMessage) (T, error))}
}

func (d *Decoder[T]) Register(eventType enums.OutboxEventType, version int, fn func(json.RawMessage) (T, error)) *Decoder[T] {
	d.byKey[decoderKey{eventType, version}] = fn
	return d
}

func (d *Decoder[T]) Supports(eventType enums.OutboxEventType, version int) bool {
	_, ok := d.byKey[decoderKey{eventType, version}]
	return ok
}

func (d *Decoder[T]) Decode(eventType enums.OutboxEventType, version int, payload json.RawMessage) (T, error) {
	fn, ok := d.byKey[decoderKey{eventType, version}]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s@v%d", ErrNoDecoder, eventType, version)
	}
	return fn(payload)
}

// NewLifecycleDecoder accepts every order lifecycle event at envelope v1.
// Unknown fields are tolerated so producers can add fields ahead of consumers.
func NewLifecycleDecoder() *Decoder[payloads.OrderLifecycleEvent] {
	d := NewDecoder[payloads.OrderLifecycleEvent]()
	for _, eventType := range OrderLifecycleEventTypes {
		d.Register(eventType, 1, decodeLifecycle)
	}
	return d
}

func decodeLifecycle(payload json.RawMessage) (payloads.OrderLifecycleEvent, error) {
	var event payloads.OrderLifecycleEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return event, err
	}
	return event, event.Validate()
}
