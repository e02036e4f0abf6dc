package changefeed

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/angelmondragon/orderdesk/pkg/db/models"
	"github.com/angelmondragon/orderdesk/pkg/enums"
)

// OrderView is the displayed state of one order. Changes at or below the
// displayed version are echoes and are ignored.
type OrderView struct {
	mu    sync.RWMutex
	order models.Order
}

// NewOrderView seeds the view from the initial fetch.
func NewOrderView(order models.Order) *OrderView {
	return &OrderView{order: order}
}

// Apply folds c into the view.
func (v *OrderView) Apply(c Change) (applied, statusChanged bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if c.New.ID != v.order.ID || c.New.Version <= v.order.Version {
		return false, false
	}
	statusChanged = c.New.Status != v.order.Status
	v.order = keepNotes(c.New, v.order)
	return true, statusChanged
}

// keepNotes carries notes over from prev. Change payloads never include them
// and they do not change after checkout.
func keepNotes(next, prev models.Order) models.Order {
	if next.Notes == nil {
		next.Notes = prev.Notes
	}
	return next
}

// Reset replaces the view after a re-fetch.
func (v *OrderView) Reset(order models.Order) {
	v.mu.Lock()
	v.order = order
	v.mu.Unlock()
}

// Order returns the displayed row.
func (v *OrderView) Order() models.Order {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.order
}

// BoardView buckets the orders passing a filter by status.
type BoardView struct {
	mu     sync.RWMutex
	filter Filter
	orders map[uuid.UUID]models.Order
}

func NewBoardView(filter Filter) *BoardView {
	return &BoardView{filter: filter, orders: make(map[uuid.UUID]models.Order)}
}

// Seed loads the initial fetch, replacing anything shown before.
func (b *BoardView) Seed(orders []models.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orders = make(map[uuid.UUID]models.Order, len(orders))
	for _, o := range orders {
		if b.filter == nil || b.filter.Match(o) {
			b.orders[o.ID] = o
		}
	}
}

// Apply re-buckets the changed order, drops it when it left the filter and
// ignores stale versions. It reports whether the board changed.
func (b *BoardView) Apply(c Change) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	current, shown := b.orders[c.New.ID]
	if shown && c.New.Version <= current.Version {
		return false
	}
	if b.filter != nil && !b.filter.Match(c.New) {
		if !shown {
			return false
		}
		delete(b.orders, c.New.ID)
		return true
	}
	b.orders[c.New.ID] = keepNotes(c.New, current)
	return true
}

// Order returns the displayed row for id.
func (b *BoardView) Order(id uuid.UUID) (models.Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.orders[id]
	return o, ok
}

// Bucket lists the orders in status, newest first.
func (b *BoardView) Bucket(status enums.OrderStatus) []models.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []models.Order
	for _, o := range b.orders {
		if o.Status == status {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() > out[j].ID.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Counts returns the number of orders per status.
func (b *BoardView) Counts() map[enums.OrderStatus]int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[enums.OrderStatus]int)
	for _, o := range b.orders {
		out[o.Status]++
	}
	return out
}
