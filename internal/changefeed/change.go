// Package changefeed fans committed order row changes out to live viewers.
package changefeed

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/orderdesk/pkg/db/models"
)

// Change is one committed write to an order row. Old is nil for inserts.
type Change struct {
	Old *models.Order `json:"old"`
	New models.Order  `json:"new"`
}

// StatusChanged reports whether the write moved the order to another status.
func (c Change) StatusChanged() bool {
	return c.Old == nil || c.Old.Status != c.New.Status
}

// ErrChangeOmitted is returned for a row the trigger could not fit in a
// notification. Only the order id reached the listener.
var ErrChangeOmitted = errors.New("changefeed: change too large to notify")

type triggerPayload struct {
	Change
	Resync bool `json:"resync"`
}

// DecodeChange parses the order_changes trigger payload.
func DecodeChange(payload []byte) (Change, error) {
	var p triggerPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return Change{}, fmt.Errorf("decode order change: %w", err)
	}
	if p.Resync {
		return Change{}, ErrChangeOmitted
	}
	c := p.Change
	if c.New.ID == uuid.Nil {
		return Change{}, errors.New("order change without new row")
	}
	return c, nil
}

// Filter selects the changes a subscription receives.
type Filter interface {
	Match(order models.Order) bool
}

// FilterFunc adapts a predicate to Filter.
type FilterFunc func(order models.Order) bool

func (f FilterFunc) Match(order models.Order) bool { return f(order) }

// OrderID matches a single order.
func OrderID(id uuid.UUID) Filter {
	return FilterFunc(func(o models.Order) bool { return o.ID == id })
}

// BusinessType matches every order of one business type.
func BusinessType(businessType string) Filter {
	return FilterFunc(func(o models.Order) bool { return o.BusinessType == businessType })
}

// Predicate matches with an arbitrary function.
func Predicate(fn func(models.Order) bool) Filter {
	return FilterFunc(fn)
}

// matches is true when the new or the old row passes, so a board sees an
// order leave its filter.
func matches(f Filter, c Change) bool {
	if f == nil {
		return true
	}
	if f.Match(c.New) {
		return true
	}
	return c.Old != nil && f.Match(*c.Old)
}
