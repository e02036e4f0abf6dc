package orders

import (
	"context"
	"fmt"
)

const orderNumberSequence = "order_number"

type sequencer interface {
	NextSequence(ctx context.Context, name string) (int64, error)
}

// RedisNumberAllocator draws order numbers from a shared redis counter.
type RedisNumberAllocator struct {
	seq sequencer
}

// NewRedisNumberAllocator wraps a sequence source such as *redis.Client.
func NewRedisNumberAllocator(seq sequencer) (*RedisNumberAllocator, error) {
	if seq == nil {
		return nil, fmt.Errorf("sequence source required")
	}
	return &RedisNumberAllocator{seq: seq}, nil
}

func (a *RedisNumberAllocator) NextOrderNumber(ctx context.Context) (int64, error) {
	return a.seq.NextSequence(ctx, orderNumberSequence)
}
