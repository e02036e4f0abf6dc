package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/orderdesk/pkg/redis"
)

// Manager claims keys in Redis with SETNX so a delivery is handled at most once
// per consumer. Processed events live under `od:idempotency:evt:<consumer>:<event_id>`.
type Manager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

// NewManager builds a guard whose claims expire after ttl. A zero ttl keeps claims forever.
func NewManager(store redis.IdempotencyStore, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Manager{store: store, ttl: ttl}, nil
}

// CheckAndMarkProcessed reports whether the outbox event was already seen by consumer.
// On first sight the event is marked and false is returned.
func (m *Manager) CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error) {
	if eventID == uuid.Nil {
		return false, errors.New("event id is required")
	}
	return m.Seen(ctx, "evt:"+strings.TrimSpace(consumer), eventID.String())
}

// Delete releases a processed marker so the event can be handled again.
func (m *Manager) Delete(ctx context.Context, consumer string, eventID uuid.UUID) error {
	if eventID == uuid.Nil {
		return errors.New("event id is required")
	}
	return m.Release(ctx, "evt:"+strings.TrimSpace(consumer), eventID.String())
}

// Seen claims an arbitrary key (a gateway event id, a request key) inside scope.
func (m *Manager) Seen(ctx context.Context, scope, id string) (bool, error) {
	key, err := m.key(scope, id)
	if err != nil {
		return false, err
	}
	set, err := m.store.SetNX(ctx, key, "1", m.ttl)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return !set, nil
}

// Release drops the claim for id inside scope.
func (m *Manager) Release(ctx context.Context, scope, id string) error {
	key, err := m.key(scope, id)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

func (m *Manager) key(scope, id string) (string, error) {
	scope = strings.TrimSpace(scope)
	id = strings.TrimSpace(id)
	if scope == "" || scope == "evt:" {
		return "", errors.New("consumer name is required")
	}
	if id == "" {
		return "", errors.New("idempotency id is required")
	}
	return m.store.IdempotencyKey(scope, id), nil
}
