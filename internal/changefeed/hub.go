package changefeed

import (
	"context"
	"errors"
	"sync"

	"github.com/angelmondragon/orderdesk/pkg/logger"
	"github.com/angelmondragon/orderdesk/pkg/metrics"
)

var (
	// ErrLagged closes a subscription whose buffer overflowed. The viewer must re-fetch.
	ErrLagged = errors.New("changefeed: subscriber lagged")
	// ErrResync closes every subscription after the source reconnected and may have missed changes.
	ErrResync = errors.New("changefeed: source reconnected, resync required")
	// ErrHubClosed is returned by Subscribe after Close.
	ErrHubClosed = errors.New("changefeed: hub closed")
)

const defaultBuffer = 64

// Source produces committed changes in commit order. It calls resync whenever
// changes may have been lost.
type Source interface {
	Run(ctx context.Context, emit func(Change), resync func()) error
}

// HubOptions configures a Hub.
type HubOptions struct {
	Buffer  int
	Metrics *metrics.OrderMetrics
	Logger  *logger.Logger
}

// Hub fans changes out to subscriptions. Publish never blocks on a slow viewer.
type Hub struct {
	mu      sync.RWMutex
	subs    map[uint64]*Subscription
	nextID  uint64
	buffer  int
	closed  bool
	metrics *metrics.OrderMetrics
	logg    *logger.Logger
}

func NewHub(opts HubOptions) *Hub {
	if opts.Buffer <= 0 {
		opts.Buffer = defaultBuffer
	}
	return &Hub{
		subs:    make(map[uint64]*Subscription),
		buffer:  opts.Buffer,
		metrics: opts.Metrics,
		logg:    opts.Logger,
	}
}

// Subscribe registers a live subscription. Callers must Close it.
func (h *Hub) Subscribe(filter Filter) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}
	h.nextID++
	sub := &Subscription{
		id:     h.nextID,
		hub:    h,
		filter: filter,
		ch:     make(chan Change, h.buffer),
	}
	h.subs[sub.id] = sub
	h.metrics.SubscriberOpened()
	return sub, nil
}

// Publish delivers c to every matching subscription.
func (h *Hub) Publish(c Change) {
	h.mu.RLock()
	var lagged []*Subscription
	for _, sub := range h.subs {
		if !matches(sub.filter, c) {
			continue
		}
		if !sub.offer(c) {
			lagged = append(lagged, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range lagged {
		h.metrics.IncLagged()
		if h.logg != nil {
			h.logg.Warn(h.logg.WithField(context.Background(), "subscription_id", sub.id), "change feed subscriber lagged")
		}
		sub.closeWith(ErrLagged)
	}
}

// Resync closes every subscription with ErrResync.
func (h *Hub) Resync() {
	for _, sub := range h.snapshot() {
		sub.closeWith(ErrResync)
	}
}

// Run feeds the hub from src until ctx ends or the source fails.
func (h *Hub) Run(ctx context.Context, src Source) error {
	return src.Run(ctx, h.Publish, h.Resync)
}

// Close releases every subscription and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	for _, sub := range h.snapshot() {
		sub.closeWith(ErrHubClosed)
	}
}

// Len reports the number of open subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) snapshot() []*Subscription {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		out = append(out, sub)
	}
	return out
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	_, ok := h.subs[id]
	delete(h.subs, id)
	h.mu.Unlock()
	if ok {
		h.metrics.SubscriberClosed()
	}
}

// Subscription is one viewer's stream of changes.
type Subscription struct {
	id     uint64
	hub    *Hub
	filter Filter
	ch     chan Change

	mu     sync.Mutex
	closed bool
	err    error
}

// Changes is closed when the subscription ends; Err then tells why.
func (s *Subscription) Changes() <-chan Change {
	return s.ch
}

// Err is nil while open and after Close; otherwise ErrLagged, ErrResync or ErrHubClosed.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close is idempotent.
func (s *Subscription) Close() {
	s.closeWith(nil)
}

func (s *Subscription) offer(c Change) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- c:
		return true
	default:
		return false
	}
}

func (s *Subscription) closeWith(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.err = err
	close(s.ch)
	s.mu.Unlock()
	s.hub.remove(s.id)
}
