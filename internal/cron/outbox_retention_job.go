package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/orderdesk/pkg/logger"
	"github.com/angelmondragon/orderdesk/pkg/metrics"
	"github.com/angelmondragon/orderdesk/pkg/outbox"
)

const defaultOutboxRetention = 30 * 24 * time.Hour

type OutboxRetentionJobParams struct {
	Logger     *logger.Logger
	Repository outboxRetentionRepo
	DLQ        dlqCounter
	Metrics    *metrics.CronJobMetrics
	Retention  time.Duration
}

type outboxRetentionRepo interface {
	DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type dlqCounter interface {
	TallySince(ctx context.Context, since time.Time) (outbox.DLQTally, error)
}

// NewOutboxRetentionJob deletes published outbox rows past retention and
// reports how many events dead-lettered since the previous cutoff window.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	if params.DLQ == nil {
		return nil, fmt.Errorf("outbox dlq repository required")
	}
	return &outboxRetentionJob{
		logg:      params.Logger,
		repo:      params.Repository,
		dlq:       params.DLQ,
		metrics:   params.Metrics,
		retention: orDefault(params.Retention, defaultOutboxRetention),
		now:       time.Now,
	}, nil
}

type outboxRetentionJob struct {
	logg      *logger.Logger
	repo      outboxRetentionRepo
	dlq       dlqCounter
	metrics   *metrics.CronJobMetrics
	retention time.Duration
	now       func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	cutoff := now.Add(-j.retention)

	var errs error
	deleted, err := j.repo.DeletePublishedBefore(ctx, cutoff)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("delete published: %w", err))
	}
	j.metrics.AddAffected(j.Name(), deleted)

	tally, err := j.dlq.TallySince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("count dlq: %w", err))
	}

	fields := map[string]any{
		"cutoff":       cutoff,
		"retention":    j.retention.String(),
		"rows_deleted": deleted,
		"dlq_last_24h": tally.Total(),
	}
	for reason, n := range tally {
		fields["dlq_"+string(reason)] = n
	}
	logCtx := j.logg.WithFields(ctx, fields)
	if errs != nil {
		return fmt.Errorf("outbox retention: %w", errs)
	}
	if tally.Total() > 0 {
		j.logg.Warn(logCtx, "outbox events dead-lettered in the last 24h")
	}
	j.logg.Info(logCtx, "outbox retention cleanup complete")
	return nil
}
