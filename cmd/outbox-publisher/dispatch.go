package main

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/orderdesk/pkg/db/models"
	"github.com/angelmondragon/orderdesk/pkg/enums"
	"github.com/angelmondragon/orderdesk/pkg/metrics"
	"github.com/angelmondragon/orderdesk/pkg/outbox/registry"
)

type batchStats struct {
	published    int
	retried      int
	held         int
	deadLettered int
}

// progressed is true when some row left the pending set.
func (b batchStats) progressed() bool {
	return b.published+b.deadLettered > 0
}

func (b *batchStats) add(outcome string) {
	switch outcome {
	case metrics.OutboxPublished:
		b.published++
	case metrics.OutboxRetried:
		b.retried++
	case metrics.OutboxHeld:
		b.held++
	case metrics.OutboxDeadLettered:
		b.deadLettered++
	}
}

func (s *Service) processBatch(ctx context.Context) (batchStats, error) {
	var stats batchStats
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return fmt.Errorf("fetch outbox batch: %w", err)
		}

		blocked := map[string]struct{}{}
		for _, event := range events {
			outcome, err := s.dispatch(ctx, tx, event, blocked)
			if err != nil {
				return err
			}
			stats.add(outcome)
			s.metrics.Observe(string(event.EventType), outcome)
		}
		return nil
	})
	if err == nil && len(stats.summary()) > 0 {
		s.logg.Debug(s.logg.WithFields(ctx, stats.summary()), "outbox batch dispatched")
	}
	return stats, err
}

func (b batchStats) summary() map[string]any {
	if b == (batchStats{}) {
		return nil
	}
	return map[string]any{
		"published":     b.published,
		"retried":       b.retried,
		"held":          b.held,
		"dead_lettered": b.deadLettered,
	}
}

// dispatch publishes one row and settles it. The error return is reserved for
// bookkeeping failures that must abort the transaction.
func (s *Service) dispatch(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, blocked map[string]struct{}) (string, error) {
	resolved, err := s.registry.Resolve(event)
	if err != nil {
		return metrics.OutboxDeadLettered, s.deadLetter(ctx, tx, event, enums.OutboxDLQReasonUnroutable, err, rowFields(event, nil))
	}

	key := orderingKey(event, resolved)
	fields := rowFields(event, resolved)
	fields["ordering_key"] = key
	if _, ok := blocked[key]; ok {
		s.logg.Debug(s.logg.WithFields(ctx, fields), "outbox event held behind failed predecessor")
		return metrics.OutboxHeld, nil
	}

	publishErr := s.publish(ctx, event, resolved, key)
	if publishErr == nil {
		if err := s.repo.MarkPublishedTx(tx, event.ID); err != nil {
			return "", fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		s.metrics.ObserveLag(event.CreatedAt, s.now())
		s.logg.Info(s.logg.WithFields(ctx, fields), "outbox event published")
		return metrics.OutboxPublished, nil
	}

	if registry.IsNonRetryable(publishErr) {
		return metrics.OutboxDeadLettered, s.deadLetter(ctx, tx, event, enums.OutboxDLQReasonNonRetryable, publishErr, fields)
	}

	attempt := event.AttemptCount + 1
	fields["attempt_count"] = attempt
	if attempt >= s.maxAttempts {
		fields["terminal_reason"] = "max_attempts"
		return metrics.OutboxDeadLettered, s.deadLetter(ctx, tx, event, enums.OutboxDLQReasonMaxAttempts,
			fmt.Errorf("max publish attempts reached: %w", publishErr), fields)
	}

	blocked[key] = struct{}{}
	s.logg.Warn(s.logg.WithField(s.logg.WithFields(ctx, fields), "error", publishErr.Error()), "outbox publish failed")
	if err := s.repo.MarkFailedTx(tx, event.ID, publishErr); err != nil {
		return "", fmt.Errorf("mark failure %s: %w", event.ID, err)
	}
	return metrics.OutboxRetried, nil
}

// deadLetter copies the row into outbox_dlq and retires it in the same
// transaction.
func (s *Service) deadLetter(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error, fields map[string]any) error {
	fields["error_reason"] = reason
	s.logg.Warn(s.logg.WithField(s.logg.WithFields(ctx, fields), "error", cause.Error()), "outbox event will not be retried")

	msg := cause.Error()
	if err := s.dlq.InsertTx(tx, models.OutboxDLQ{
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  event.AttemptCount,
		FailedAt:      s.now().UTC(),
	}); err != nil {
		return fmt.Errorf("insert dlq %s: %w", event.ID, err)
	}
	if err := s.repo.MarkTerminalTx(tx, event.ID, cause, s.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}
	return nil
}

func rowFields(event models.OutboxEvent, resolved *registry.ResolvedEvent) map[string]any {
	fields := map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
		"attempt_count":  event.AttemptCount,
	}
	if event.LastError != nil {
		fields["last_error"] = *event.LastError
	}
	if resolved != nil {
		fields["topic"] = resolved.Descriptor.Topic
		fields["event_id"] = resolved.Envelope.EventID
		fields["occurred_at"] = resolved.Envelope.OccurredAt.Format(time.RFC3339Nano)
	}
	return fields
}
