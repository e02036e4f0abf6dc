package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderdesk/api/controllers/orders"
	"github.com/angelmondragon/orderdesk/api/middleware"
	"github.com/angelmondragon/orderdesk/api/responses"
	"github.com/angelmondragon/orderdesk/internal/changefeed"
	"github.com/angelmondragon/orderdesk/internal/lifecycle"
	internalorders "github.com/angelmondragon/orderdesk/internal/orders"
	"github.com/angelmondragon/orderdesk/pkg/db/models"
	pkgerrors "github.com/angelmondragon/orderdesk/pkg/errors"
	"github.com/angelmondragon/orderdesk/pkg/logger"
	"github.com/angelmondragon/orderdesk/pkg/pagination"
)

const (
	EventSnapshot = "snapshot"
	EventOrder    = "order"
	EventRemoved  = "removed"
	EventResync   = "resync"
)

// DefaultHeartbeat keeps idle connections open through proxies.
const DefaultHeartbeat = 25 * time.Second

// Subscriber is the part of the change feed hub the streams use.
type Subscriber interface {
	Subscribe(filter changefeed.Filter) (*changefeed.Subscription, error)
}

// OrderReader loads the rows a stream starts from.
type OrderReader interface {
	FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	ListOrders(ctx context.Context, filter internalorders.ListFilter, params pagination.Params) (*internalorders.OrderPage, error)
}

// Options tunes the streams.
type Options struct {
	Heartbeat time.Duration
}

type orderEvent struct {
	Order         internalorders.OrderDTO `json:"order"`
	StatusChanged bool                    `json:"status_changed"`
}

type removedEvent struct {
	OrderID uuid.UUID `json:"order_id"`
}

type resyncEvent struct {
	Reason string `json:"reason"`
}

type boardSnapshot struct {
	BusinessType string                    `json:"business_type"`
	Orders       []internalorders.OrderDTO `json:"orders"`
	Counts       map[string]int            `json:"counts"`
}

// OrderEvents streams one order's changes as Server-Sent Events. The first
// event is the current order; later events carry only newer versions.
func OrderEvents(hub Subscriber, reader OrderReader, opts Options, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if hub == nil || reader == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "change feed unavailable"))
			return
		}
		actor, ok := middleware.ActorFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
			return
		}
		orderID, err := orders.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "streaming unsupported"))
			return
		}

		// subscribe before the fetch so nothing committed in between is lost
		sub, err := hub.Subscribe(changefeed.OrderID(orderID))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "subscribe to order changes"))
			return
		}
		defer sub.Close()

		order, err := reader.FindOrder(ctx, orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "order not found"))
				return
			}
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order"))
			return
		}
		if !internalorders.Visible(*order, actor) {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "order not found"))
			return
		}

		view := changefeed.NewOrderView(*order)
		stream := newStream(w, flusher)
		if err := stream.send(EventSnapshot, orderEvent{Order: internalorders.ProjectOrder(*order, actor)}); err != nil {
			return
		}

		ctx = logg.WithOrderID(ctx, orderID.String())
		pump(ctx, sub, opts, stream, logg, func(c changefeed.Change) error {
			applied, statusChanged := view.Apply(c)
			if !applied {
				return nil
			}
			return stream.send(EventOrder, orderEvent{
				Order:         internalorders.ProjectOrder(view.Order(), actor),
				StatusChanged: statusChanged,
			})
		})
	}
}

// BoardEvents streams the staff board for one business type: a snapshot of
// the active orders, then per-order updates and removals.
func BoardEvents(hub Subscriber, reader OrderReader, opts Options, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if hub == nil || reader == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "change feed unavailable"))
			return
		}
		actor, ok := middleware.ActorFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
			return
		}
		if !actor.IsStaff() {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "board is staff only"))
			return
		}
		businessType := strings.TrimSpace(r.URL.Query().Get("business_type"))
		if businessType == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "business_type is required"))
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "streaming unsupported"))
			return
		}

		filter := boardFilter(actor, businessType)
		sub, err := hub.Subscribe(filter)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "subscribe to board changes"))
			return
		}
		defer sub.Close()

		page, err := reader.ListOrders(ctx, internalorders.ListFilter{
			BusinessID:   actor.BusinessID,
			BusinessType: businessType,
		}, pagination.Params{Limit: pagination.MaxLimit})
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load board"))
			return
		}

		board := changefeed.NewBoardView(filter)
		board.Seed(page.Orders)

		stream := newStream(w, flusher)
		snapshot := boardSnapshot{
			BusinessType: businessType,
			Orders:       make([]internalorders.OrderDTO, 0, len(page.Orders)),
			Counts:       make(map[string]int),
		}
		for _, o := range page.Orders {
			snapshot.Orders = append(snapshot.Orders, internalorders.ProjectOrder(o, actor))
		}
		for status, n := range board.Counts() {
			snapshot.Counts[string(status)] = n
		}
		if err := stream.send(EventSnapshot, snapshot); err != nil {
			return
		}

		ctx = logg.WithField(ctx, "business_type", businessType)
		pump(ctx, sub, opts, stream, logg, func(c changefeed.Change) error {
			if !board.Apply(c) {
				return nil
			}
			shown, ok := board.Order(c.New.ID)
			if !ok {
				return stream.send(EventRemoved, removedEvent{OrderID: c.New.ID})
			}
			return stream.send(EventOrder, orderEvent{
				Order:         internalorders.ProjectOrder(shown, actor),
				StatusChanged: c.StatusChanged(),
			})
		})
	}
}

func boardFilter(actor lifecycle.Actor, businessType string) changefeed.Filter {
	if actor.BusinessID == nil {
		return changefeed.BusinessType(businessType)
	}
	businessID := *actor.BusinessID
	return changefeed.Predicate(func(o models.Order) bool {
		return o.BusinessType == businessType && o.BusinessID == businessID
	})
}

// pump forwards changes until the request ends or the subscription closes.
// A lagged or resynced subscription gets a resync event so the viewer re-fetches.
func pump(ctx context.Context, sub *changefeed.Subscription, opts Options, stream *stream, logg *logger.Logger, handle func(changefeed.Change) error) {
	heartbeat := opts.Heartbeat
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := stream.comment("ping"); err != nil {
				return
			}
		case c, ok := <-sub.Changes():
			if !ok {
				reason := "closed"
				switch err := sub.Err(); {
				case errors.Is(err, changefeed.ErrLagged):
					reason = "lagged"
				case errors.Is(err, changefeed.ErrResync):
					reason = "reconnected"
				}
				logg.Info(ctx, "change feed stream ended: "+reason)
				_ = stream.send(EventResync, resyncEvent{Reason: reason})
				return
			}
			if err := handle(c); err != nil {
				logg.Warn(ctx, "change feed write failed")
				return
			}
		}
	}
}

type stream struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newStream(w http.ResponseWriter, flusher http.Flusher) *stream {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &stream{w: w, flusher: flusher}
}

func (s *stream) send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *stream) comment(text string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
