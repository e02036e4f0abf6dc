package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderdesk/pkg/config"
	"github.com/angelmondragon/orderdesk/pkg/db/models"
	"github.com/angelmondragon/orderdesk/pkg/enums"
	"github.com/angelmondragon/orderdesk/pkg/logger"
	"github.com/angelmondragon/orderdesk/pkg/metrics"
	"github.com/angelmondragon/orderdesk/pkg/outbox"
	"github.com/angelmondragon/orderdesk/pkg/outbox/payloads"
	"github.com/angelmondragon/orderdesk/pkg/outbox/registry"
)

type harness struct {
	svc     *Service
	repo    *fakeRepo
	pub     *fakePublisher
	dlq     *fakeDLQRepo
	metrics *metrics.OutboxMetrics
	reg     *prometheus.Registry
}

type harnessOption func(*ServiceParams)

func withResolver(r registryResolver) harnessOption {
	return func(p *ServiceParams) { p.Registry = r }
}

func withMaxAttempts(n int) harnessOption {
	return func(p *ServiceParams) { p.Config.Outbox.MaxAttempts = n }
}

func newHarness(t *testing.T, events []models.OutboxEvent, results []publishResult, opts ...harnessOption) *harness {
	t.Helper()
	eventRegistry, err := registry.NewEventRegistry(config.PubSubConfig{OrdersTopic: "orders-topic"})
	require.NoError(t, err)

	h := &harness{
		repo: &fakeRepo{events: events},
		pub:  &fakePublisher{results: results},
		dlq:  &fakeDLQRepo{},
		reg:  prometheus.NewRegistry(),
	}
	h.metrics = metrics.NewOutboxMetrics(h.reg)

	params := ServiceParams{
		Config: &config.Config{Outbox: config.OutboxConfig{BatchSize: 10, PollIntervalMS: 100, MaxAttempts: 5}},
		Logger: logger.New(logger.Options{
			ServiceName: "outbox-publisher-test",
			Output:      io.Discard,
		}),
		DB:               fakeDB{},
		PubSub:           fakePubSubClient{},
		Repository:       h.repo,
		Registry:         eventRegistry,
		DLQRepository:    h.dlq,
		Metrics:          h.metrics,
		PublisherFactory: func(string) publisher { return h.pub },
	}
	for _, opt := range opts {
		opt(&params)
	}
	h.svc, err = NewService(params)
	require.NoError(t, err)
	return h
}

func TestProcessBatchPublishesAndMarksRows(t *testing.T) {
	orderID := uuid.New()
	event := orderEvent(t, orderID, 0)
	h := newHarness(t, []models.OutboxEvent{event}, []publishResult{fakePublishResult{}})

	stats, err := h.svc.processBatch(context.Background())
	require.NoError(t, err)
	assert.True(t, stats.progressed())
	assert.Equal(t, []uuid.UUID{event.ID}, h.repo.published)

	require.Len(t, h.pub.messages, 1)
	msg := h.pub.messages[0]
	assert.Equal(t, orderID.String(), msg.OrderingKey)
	assert.Equal(t, "3", msg.Attributes[outbox.AttrOrderVersion])
	assert.Equal(t, string(enums.EventOrderStatusChanged), msg.Attributes[outbox.AttrEventType])
	assert.Equal(t, []byte(event.Payload), msg.Data, "message data must be the stored envelope")
	_, hasBusinessType := msg.Attributes[outbox.AttrBusinessType]
	assert.False(t, hasBusinessType, "empty business type is not sent")

	assert.Equal(t, 1.0, h.counter(t, enums.EventOrderStatusChanged, metrics.OutboxPublished))
}

func TestProcessBatchContinuesPastOtherOrdersFailure(t *testing.T) {
	events := []models.OutboxEvent{orderEvent(t, uuid.New(), 0), orderEvent(t, uuid.New(), 0)}
	h := newHarness(t, events, []publishResult{
		fakePublishResult{err: errors.New("transient")},
		fakePublishResult{},
	})

	stats, err := h.svc.processBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, batchStats{published: 1, retried: 1}, stats)
	assert.Equal(t, []uuid.UUID{events[0].ID}, h.repo.failed)
	assert.Equal(t, []uuid.UUID{events[1].ID}, h.repo.published)
	assert.Equal(t, []string{events[0].AggregateID.String()}, h.pub.resumed, "ordering key resumed after failure")
}

func TestProcessBatchHoldsLaterEventsOfSameOrder(t *testing.T) {
	orderID := uuid.New()
	events := []models.OutboxEvent{orderEvent(t, orderID, 0), orderEvent(t, orderID, 0)}
	h := newHarness(t, events, []publishResult{fakePublishResult{err: errors.New("transient")}})

	stats, err := h.svc.processBatch(context.Background())
	require.NoError(t, err)
	assert.False(t, stats.progressed(), "a batch with only failures must not report progress")
	assert.Equal(t, batchStats{retried: 1, held: 1}, stats)
	assert.Len(t, h.pub.messages, 1, "second event must not be published before the first")
	assert.Empty(t, h.repo.published)
	assert.Equal(t, []uuid.UUID{events[0].ID}, h.repo.failed, "held rows keep their attempt count")
}

func TestProcessBatchDeadLettersUnresolvableRows(t *testing.T) {
	event := orderEvent(t, uuid.New(), 0)
	h := newHarness(t, []models.OutboxEvent{event}, nil,
		withResolver(stubResolver{err: registry.NewNonRetryableError(errors.New("invalid payload"))}))

	stats, err := h.svc.processBatch(context.Background())
	require.NoError(t, err)
	assert.True(t, stats.progressed())
	assert.Empty(t, h.pub.messages)

	require.Len(t, h.dlq.entries, 1)
	entry := h.dlq.entries[0]
	assert.Equal(t, event.ID, entry.EventID)
	assert.Equal(t, []byte(event.Payload), []byte(entry.Payload))
	assert.Equal(t, enums.OutboxDLQReasonUnroutable, entry.ErrorReason)
	require.NotNil(t, entry.ErrorMessage)
	assert.Contains(t, *entry.ErrorMessage, "invalid payload")
	assert.Equal(t, []uuid.UUID{event.ID}, h.repo.terminal)
}

func TestProcessBatchDeadLettersRowsTheRegistryRejects(t *testing.T) {
	event := orderEvent(t, uuid.New(), 0)
	event.AggregateID = uuid.New()
	h := newHarness(t, []models.OutboxEvent{event}, nil)

	_, err := h.svc.processBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, h.dlq.entries, 1)
	assert.Equal(t, enums.OutboxDLQReasonUnroutable, h.dlq.entries[0].ErrorReason)
	assert.Contains(t, *h.dlq.entries[0].ErrorMessage, "row aggregate")
}

func TestProcessBatchDeadLettersOnMaxAttempts(t *testing.T) {
	event := orderEvent(t, uuid.New(), 1)
	h := newHarness(t, []models.OutboxEvent{event},
		[]publishResult{fakePublishResult{err: errors.New("transient")}},
		withMaxAttempts(2))

	stats, err := h.svc.processBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, batchStats{deadLettered: 1}, stats)
	require.Len(t, h.dlq.entries, 1)
	assert.Equal(t, enums.OutboxDLQReasonMaxAttempts, h.dlq.entries[0].ErrorReason)
	assert.Equal(t, []uuid.UUID{event.ID}, h.repo.terminal)
	assert.Empty(t, h.repo.failed)
}

func TestProcessBatchAbortsOnBookkeepingFailure(t *testing.T) {
	event := orderEvent(t, uuid.New(), 0)
	h := newHarness(t, []models.OutboxEvent{event}, []publishResult{fakePublishResult{}})
	h.repo.markErr = errors.New("connection reset")

	_, err := h.svc.processBatch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mark published")
}

func TestPaymentEventsShareTheOrderOrderingKey(t *testing.T) {
	orderID := uuid.New()
	event := models.OutboxEvent{ID: uuid.New(), AggregateType: enums.AggregatePaymentIntent, AggregateID: uuid.New()}
	resolved := &registry.ResolvedEvent{Payload: &payloads.PaymentRejectedEvent{OrderID: orderID}}

	assert.Equal(t, orderID.String(), orderingKey(event, resolved))
}

func TestPauseAfterBacksOffAndCaps(t *testing.T) {
	h := newHarness(t, nil, nil)

	idle := h.svc.pauseAfter(0)
	assert.GreaterOrEqual(t, idle, 100*time.Millisecond)
	assert.Less(t, idle, 100*time.Millisecond+jitterWindow)

	second := h.svc.pauseAfter(2)
	assert.GreaterOrEqual(t, second, 400*time.Millisecond)

	capped := h.svc.pauseAfter(50)
	assert.GreaterOrEqual(t, capped, maxIdleBackoff)
	assert.Less(t, capped, maxIdleBackoff+jitterWindow)
}

func TestRunStopsWhenDependencyIsDown(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.svc.pubsub = fakePubSubClient{pingErr: errors.New("unavailable")}

	err := h.svc.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pubsub ping failed")
}

func (h *harness) counter(t *testing.T, eventType enums.OutboxEventType, outcome string) float64 {
	t.Helper()
	families, err := h.reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != "orderdesk_outbox_events_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			if labelsMatch(metric, map[string]string{"event_type": string(eventType), "outcome": outcome}) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func labelsMatch(metric *dto.Metric, want map[string]string) bool {
	matched := 0
	for _, pair := range metric.GetLabel() {
		if v, ok := want[pair.GetName()]; ok && v == pair.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}

func orderEvent(tb testing.TB, orderID uuid.UUID, attempts int) models.OutboxEvent {
	tb.Helper()
	data, err := json.Marshal(payloads.OrderLifecycleEvent{
		OrderID:  orderID,
		ToStatus: enums.OrderStatusQuotationSent,
		Version:  3,
	})
	require.NoError(tb, err)
	id := uuid.New()
	payload, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    id.String(),
		OccurredAt: time.Now(),
		Data:       data,
	})
	require.NoError(tb, err)
	return models.OutboxEvent{
		ID:            id,
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		Payload:       payload,
		AttemptCount:  attempts,
		CreatedAt:     time.Now().Add(-time.Second),
	}
}

type fakeRepo struct {
	events    []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
	terminal  []uuid.UUID
	markErr   error
}

func (f *fakeRepo) FetchUnpublishedForPublish(*gorm.DB, int, int) ([]models.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeRepo) MarkPublishedTx(_ *gorm.DB, id uuid.UUID) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailedTx(_ *gorm.DB, id uuid.UUID, _ error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) MarkTerminalTx(_ *gorm.DB, id uuid.UUID, _ error, _ int) error {
	f.terminal = append(f.terminal, id)
	return nil
}

type fakeDB struct{}

func (fakeDB) Ping(context.Context) error { return nil }

func (fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error { return fn(nil) }

type fakePubSubClient struct {
	pingErr error
}

func (f fakePubSubClient) Ping(context.Context) error { return f.pingErr }

func (fakePubSubClient) Publisher(string) *gcppubsub.Publisher { return nil }

type fakePublisher struct {
	results  []publishResult
	messages []*gcppubsub.Message
	resumed  []string
}

func (f *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	f.messages = append(f.messages, msg)
	if len(f.results) == 0 {
		return nil
	}
	result := f.results[0]
	f.results = f.results[1:]
	return result
}

func (f *fakePublisher) ResumePublish(key string) {
	f.resumed = append(f.resumed, key)
}

type fakePublishResult struct {
	err error
}

func (f fakePublishResult) Get(context.Context) (string, error) {
	return "server-id", f.err
}

type stubResolver struct {
	err error
}

func (s stubResolver) Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error) {
	return nil, s.err
}

type fakeDLQRepo struct {
	entries []models.OutboxDLQ
}

func (f *fakeDLQRepo) InsertTx(_ *gorm.DB, entry models.OutboxDLQ) error {
	f.entries = append(f.entries, entry)
	return nil
}
