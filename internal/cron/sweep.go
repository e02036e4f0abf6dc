package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/orderdesk/pkg/logger"
	"github.com/angelmondragon/orderdesk/pkg/metrics"
)

const (
	defaultIntentTTL             = 24 * time.Hour
	defaultNotificationRetention = 90 * 24 * time.Hour
)

// sweepJob runs one bulk statement over rows older than now minus age.
type sweepJob struct {
	name    string
	field   string
	age     time.Duration
	sweep   func(ctx context.Context, cutoff time.Time) (int64, error)
	logg    *logger.Logger
	metrics *metrics.CronJobMetrics
	now     func() time.Time
}

func (j *sweepJob) Name() string { return j.name }

func (j *sweepJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.age)
	n, err := j.sweep(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("%s: %w", j.name, err)
	}
	j.metrics.AddAffected(j.name, n)
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff": cutoff,
		j.field:  n,
	}), "sweep complete")
	return nil
}

type IntentExpiryJobParams struct {
	Logger     *logger.Logger
	Repository interface {
		ExpireCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	}
	Metrics *metrics.CronJobMetrics
	TTL     time.Duration
}

// NewIntentExpiryJob marks payment intents that never received a callback as
// expired. Expired intents still accept a late verified callback.
func NewIntentExpiryJob(params IntentExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("payment intent repository required")
	}
	return &sweepJob{
		name:    "payment-intent-expiry",
		field:   "intents_expired",
		age:     orDefault(params.TTL, defaultIntentTTL),
		sweep:   params.Repository.ExpireCreatedBefore,
		logg:    params.Logger,
		metrics: params.Metrics,
		now:     time.Now,
	}, nil
}

type NotificationCleanupJobParams struct {
	Logger     *logger.Logger
	Repository interface {
		DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error)
	}
	Metrics   *metrics.CronJobMetrics
	Retention time.Duration
}

// NewNotificationCleanupJob purges notifications read more than Retention ago.
// Unread notifications are never removed.
func NewNotificationCleanupJob(params NotificationCleanupJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	return &sweepJob{
		name:    "notification-cleanup",
		field:   "rows_deleted",
		age:     orDefault(params.Retention, defaultNotificationRetention),
		sweep:   params.Repository.DeleteReadBefore,
		logg:    params.Logger,
		metrics: params.Metrics,
		now:     time.Now,
	}, nil
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
