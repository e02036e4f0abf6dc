package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/orderdesk/pkg/db/models"
	"github.com/angelmondragon/orderdesk/pkg/outbox"
	"github.com/angelmondragon/orderdesk/pkg/outbox/payloads"
	"github.com/angelmondragon/orderdesk/pkg/outbox/registry"
)

type publisherFactory func(topic string) publisher

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
	// ResumePublish unblocks an ordering key after a failed publish.
	ResumePublish(orderingKey string)
}

type publishResult interface {
	Get(context.Context) (string, error)
}

// cachedPublishers opens one ordered publisher per topic on first use.
func cachedPublishers(client pubSubClient) publisherFactory {
	open := map[string]publisher{}
	return func(topic string) publisher {
		if pub, ok := open[topic]; ok {
			return pub
		}
		p := client.Publisher(topic)
		if p == nil {
			return nil
		}
		p.EnableMessageOrdering = true
		pub := &gcpPublisher{Publisher: p}
		open[topic] = pub
		return pub
	}
}

func (s *Service) publish(ctx context.Context, event models.OutboxEvent, resolved *registry.ResolvedEvent, key string) error {
	topic := resolved.Descriptor.Topic
	pub := s.publishers(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher not configured for topic %s", topic))
	}

	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	result := pub.Publish(publishCtx, buildMessage(event, resolved, key))
	if result == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher returned nil for topic %s", topic))
	}
	if _, err := result.Get(publishCtx); err != nil {
		pub.ResumePublish(key)
		return err
	}
	return nil
}

// buildMessage carries the stored envelope verbatim; routing metadata goes in
// attributes so subscribers can filter without decoding the body.
func buildMessage(event models.OutboxEvent, resolved *registry.ResolvedEvent, key string) *gcppubsub.Message {
	attrs := map[string]string{
		outbox.AttrEventID:       resolved.Envelope.EventID,
		outbox.AttrEventType:     string(event.EventType),
		outbox.AttrAggregateType: string(event.AggregateType),
		outbox.AttrAggregateID:   event.AggregateID.String(),
		outbox.AttrCreatedAt:     event.CreatedAt.Format(time.RFC3339Nano),
	}
	if lifecycle, ok := resolved.Payload.(*payloads.OrderLifecycleEvent); ok {
		attrs[outbox.AttrOrderVersion] = strconv.FormatInt(lifecycle.Version, 10)
		if lifecycle.BusinessType != "" {
			attrs[outbox.AttrBusinessType] = lifecycle.BusinessType
		}
	}
	return &gcppubsub.Message{
		Data:        event.Payload,
		Attributes:  attrs,
		OrderingKey: key,
	}
}

// orderingKey groups every event of one order, including payment events that
// are stored against their intent.
func orderingKey(event models.OutboxEvent, resolved *registry.ResolvedEvent) string {
	switch payload := resolved.Payload.(type) {
	case *payloads.OrderLifecycleEvent:
		return payload.OrderID.String()
	case *payloads.PaymentRejectedEvent:
		return payload.OrderID.String()
	}
	return event.AggregateID.String()
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return &gcpPublishResult{PublishResult: p.Publisher.Publish(ctx, msg)}
}

type gcpPublishResult struct {
	*gcppubsub.PublishResult
}

func (r *gcpPublishResult) Get(ctx context.Context) (string, error) {
	if r.PublishResult == nil {
		return "", errors.New("publish result is nil")
	}
	return r.PublishResult.Get(ctx)
}
