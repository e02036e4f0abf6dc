package feed

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderdesk/api/middleware"
	"github.com/angelmondragon/orderdesk/internal/changefeed"
	"github.com/angelmondragon/orderdesk/internal/lifecycle"
	internalorders "github.com/angelmondragon/orderdesk/internal/orders"
	"github.com/angelmondragon/orderdesk/pkg/db/models"
	"github.com/angelmondragon/orderdesk/pkg/enums"
	"github.com/angelmondragon/orderdesk/pkg/logger"
	"github.com/angelmondragon/orderdesk/pkg/pagination"
)

type stubReader struct {
	orders map[uuid.UUID]models.Order
	list   []models.Order
}

func (s *stubReader) FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &o, nil
}

func (s *stubReader) ListOrders(ctx context.Context, filter internalorders.ListFilter, params pagination.Params) (*internalorders.OrderPage, error) {
	return &internalorders.OrderPage{Orders: s.list}, nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "feed-test", Output: io.Discard})
}

func serve(t *testing.T, handler http.HandlerFunc, req *http.Request) (*httptest.ResponseRecorder, <-chan struct{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		handler.ServeHTTP(rec, req)
	}()
	return rec, done
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end")
	}
}

func TestOrderEventsStreamsNewerVersionsThenResync(t *testing.T) {
	customerID := uuid.New()
	order := models.Order{
		ID:           uuid.New(),
		CustomerID:   customerID,
		BusinessType: "bakery",
		Status:       enums.OrderStatusPending,
		Version:      1,
	}
	reader := &stubReader{orders: map[uuid.UUID]models.Order{order.ID: order}}
	hub := changefeed.NewHub(changefeed.HubOptions{Buffer: 8})
	t.Cleanup(hub.Close)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/"+order.ID.String()+"/events", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("orderId", order.ID.String())
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	ctx = middleware.WithActor(ctx, lifecycle.Customer(customerID))

	rec, done := serve(t, OrderEvents(hub, reader, Options{Heartbeat: time.Minute}, testLogger()), req.WithContext(ctx))
	require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 5*time.Millisecond)

	echo := order
	hub.Publish(changefeed.Change{Old: &order, New: echo})

	quoted := order
	quoted.Status = enums.OrderStatusQuotationSent
	quoted.Version = 2
	hub.Publish(changefeed.Change{Old: &order, New: quoted})

	hub.Resync()
	waitDone(t, done)

	body := rec.Body.String()
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, 1, strings.Count(body, "event: "+EventSnapshot))
	assert.Equal(t, 1, strings.Count(body, "event: "+EventOrder), "echo of the displayed version must be skipped")
	assert.Contains(t, body, `"status":"quotation_sent"`)
	assert.Contains(t, body, `"status_changed":true`)
	assert.Contains(t, body, "event: "+EventResync)
	assert.Contains(t, body, `"reason":"reconnected"`)
	assert.Equal(t, 0, hub.Len())
}

func TestOrderEventsHidesOtherCustomersOrders(t *testing.T) {
	order := models.Order{ID: uuid.New(), CustomerID: uuid.New(), Version: 1}
	reader := &stubReader{orders: map[uuid.UUID]models.Order{order.ID: order}}
	hub := changefeed.NewHub(changefeed.HubOptions{})
	t.Cleanup(hub.Close)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("orderId", order.ID.String())
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	ctx = middleware.WithActor(ctx, lifecycle.Customer(uuid.New()))
	rec := httptest.NewRecorder()

	OrderEvents(hub, reader, Options{}, testLogger()).ServeHTTP(rec, req.WithContext(ctx))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 0, hub.Len(), "subscription must be released")
}

func TestOrderEventsClosesOnContextEnd(t *testing.T) {
	customerID := uuid.New()
	order := models.Order{ID: uuid.New(), CustomerID: customerID, Version: 1}
	reader := &stubReader{orders: map[uuid.UUID]models.Order{order.ID: order}}
	hub := changefeed.NewHub(changefeed.HubOptions{})
	t.Cleanup(hub.Close)

	base, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("orderId", order.ID.String())
	ctx := context.WithValue(base, chi.RouteCtxKey, rctx)
	ctx = middleware.WithActor(ctx, lifecycle.Customer(customerID))

	_, done := serve(t, OrderEvents(hub, reader, Options{Heartbeat: time.Minute}, testLogger()), req.WithContext(ctx))
	require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	waitDone(t, done)
	assert.Equal(t, 0, hub.Len())
}

func TestBoardEventsSnapshotUpdatesAndRemovals(t *testing.T) {
	staffID := uuid.New()
	businessID := uuid.New()
	pending := models.Order{
		ID:           uuid.New(),
		BusinessID:   businessID,
		BusinessType: "bakery",
		Status:       enums.OrderStatusPending,
		Version:      1,
	}
	reader := &stubReader{list: []models.Order{pending}}
	hub := changefeed.NewHub(changefeed.HubOptions{Buffer: 8})
	t.Cleanup(hub.Close)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/board/events?business_type=bakery", nil)
	ctx := middleware.WithActor(req.Context(), lifecycle.Staff(staffID, businessID))

	rec, done := serve(t, BoardEvents(hub, reader, Options{Heartbeat: time.Minute}, testLogger()), req.WithContext(ctx))
	require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 5*time.Millisecond)

	fresh := models.Order{
		ID:           uuid.New(),
		BusinessID:   businessID,
		BusinessType: "bakery",
		Status:       enums.OrderStatusPending,
		Version:      1,
	}
	hub.Publish(changefeed.Change{New: fresh})

	moved := pending
	moved.BusinessType = "florist"
	moved.Version = 2
	hub.Publish(changefeed.Change{Old: &pending, New: moved})

	otherBusiness := fresh
	otherBusiness.ID = uuid.New()
	otherBusiness.BusinessID = uuid.New()
	hub.Publish(changefeed.Change{New: otherBusiness})

	hub.Resync()
	waitDone(t, done)

	body := rec.Body.String()
	assert.Contains(t, body, "event: "+EventSnapshot)
	assert.Contains(t, body, `"counts":{"pending":1}`)
	assert.Equal(t, 1, strings.Count(body, "event: "+EventOrder))
	assert.Contains(t, body, fresh.ID.String())
	assert.Contains(t, body, "event: "+EventRemoved)
	assert.NotContains(t, body, otherBusiness.ID.String())
}

func TestBoardEventsRequiresStaff(t *testing.T) {
	hub := changefeed.NewHub(changefeed.HubOptions{})
	t.Cleanup(hub.Close)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/board/events?business_type=bakery", nil)
	ctx := middleware.WithActor(req.Context(), lifecycle.Customer(uuid.New()))
	rec := httptest.NewRecorder()

	BoardEvents(hub, &stubReader{}, Options{}, testLogger()).ServeHTTP(rec, req.WithContext(ctx))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestBoardEventsRequiresBusinessType(t *testing.T) {
	hub := changefeed.NewHub(changefeed.HubOptions{})
	t.Cleanup(hub.Close)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/board/events", nil)
	ctx := middleware.WithActor(req.Context(), lifecycle.Staff(uuid.New(), uuid.New()))
	rec := httptest.NewRecorder()

	BoardEvents(hub, &stubReader{}, Options{}, testLogger()).ServeHTTP(rec, req.WithContext(ctx))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
