package controllers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/orderdesk/api/middleware"
	"github.com/angelmondragon/orderdesk/internal/lifecycle"
	"github.com/angelmondragon/orderdesk/internal/notifications"
	pkgerrors "github.com/angelmondragon/orderdesk/pkg/errors"
	"github.com/angelmondragon/orderdesk/pkg/logger"
)

type inboxStub struct {
	listed     *notifications.ListParams
	marked     []uuid.UUID
	allOrderID *uuid.UUID
	markErr    error
}

func (s *inboxStub) List(ctx context.Context, params notifications.ListParams) (*notifications.ListResult, error) {
	s.listed = &params
	return &notifications.ListResult{Items: []notifications.NotificationDTO{}, UnreadCount: 3}, nil
}

func (s *inboxStub) MarkRead(ctx context.Context, customerID, notificationID uuid.UUID) (*notifications.NotificationDTO, error) {
	if s.markErr != nil {
		return nil, s.markErr
	}
	s.marked = append(s.marked, customerID, notificationID)
	return &notifications.NotificationDTO{ID: notificationID, Read: true}, nil
}

func (s *inboxStub) MarkAllRead(ctx context.Context, customerID uuid.UUID, orderID *uuid.UUID) (int64, error) {
	s.allOrderID = orderID
	return 5, nil
}

func inboxLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "notifications-test", Output: io.Discard})
}

func inboxRequest(method, target string, actor *lifecycle.Actor, notificationID string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	if actor != nil {
		req = req.WithContext(middleware.WithActor(req.Context(), *actor))
	}
	if notificationID != "" {
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("notificationId", notificationID)
		req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	}
	return req
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, into any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, into))
}

func TestListNotificationsParsesFilters(t *testing.T) {
	customer := lifecycle.Customer(uuid.New())
	orderID := uuid.New()
	svc := &inboxStub{}

	rec := httptest.NewRecorder()
	ListNotifications(svc, inboxLogger())(rec, inboxRequest(http.MethodGet,
		"/api/v1/notifications?limit=5&unreadOnly=true&cursor=abc&orderId="+orderID.String(), &customer, ""))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(t, svc.listed)
	assert.Equal(t, *customer.UserID, svc.listed.CustomerID)
	assert.Equal(t, 5, svc.listed.Page.Limit)
	assert.Equal(t, "abc", svc.listed.Page.Cursor)
	assert.True(t, svc.listed.UnreadOnly)
	require.NotNil(t, svc.listed.OrderID)
	assert.Equal(t, orderID, *svc.listed.OrderID)

	var body notifications.ListResult
	decodeData(t, rec, &body)
	assert.EqualValues(t, 3, body.UnreadCount)
}

func TestListNotificationsRejectsBadQuery(t *testing.T) {
	customer := lifecycle.Customer(uuid.New())
	for _, target := range []string{
		"/api/v1/notifications?limit=0",
		"/api/v1/notifications?unreadOnly=sometimes",
		"/api/v1/notifications?orderId=nope",
	} {
		svc := &inboxStub{}
		rec := httptest.NewRecorder()
		ListNotifications(svc, inboxLogger())(rec, inboxRequest(http.MethodGet, target, &customer, ""))
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		assert.Nil(t, svc.listed, target)
	}
}

func TestMarkNotificationReadReturnsNotification(t *testing.T) {
	customer := lifecycle.Customer(uuid.New())
	notificationID := uuid.New()
	svc := &inboxStub{}

	rec := httptest.NewRecorder()
	MarkNotificationRead(svc, inboxLogger())(rec, inboxRequest(http.MethodPost, "/", &customer, notificationID.String()))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []uuid.UUID{*customer.UserID, notificationID}, svc.marked)
	var body notifications.NotificationDTO
	decodeData(t, rec, &body)
	assert.Equal(t, notificationID, body.ID)
	assert.True(t, body.Read)
}

func TestMarkNotificationReadErrors(t *testing.T) {
	customer := lifecycle.Customer(uuid.New())
	staff := lifecycle.Staff(uuid.New(), uuid.New())

	cases := []struct {
		name   string
		actor  *lifecycle.Actor
		id     string
		svc    notifications.Service
		status int
	}{
		{name: "anonymous", id: uuid.NewString(), svc: &inboxStub{}, status: http.StatusUnauthorized},
		{name: "staff", actor: &staff, id: uuid.NewString(), svc: &inboxStub{}, status: http.StatusForbidden},
		{name: "bad id", actor: &customer, id: "invalid", svc: &inboxStub{}, status: http.StatusBadRequest},
		{name: "not found", actor: &customer, id: uuid.NewString(), svc: &inboxStub{markErr: pkgerrors.New(pkgerrors.CodeNotFound, "notification not found")}, status: http.StatusNotFound},
		{name: "no service", actor: &customer, id: uuid.NewString(), status: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			MarkNotificationRead(tc.svc, inboxLogger())(rec, inboxRequest(http.MethodPost, "/", tc.actor, tc.id))
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestMarkAllNotificationsReadScopesToOrder(t *testing.T) {
	customer := lifecycle.Customer(uuid.New())
	orderID := uuid.New()

	svc := &inboxStub{}
	rec := httptest.NewRecorder()
	MarkAllNotificationsRead(svc, inboxLogger())(rec, inboxRequest(http.MethodPost, "/api/v1/notifications/read-all?orderId="+orderID.String(), &customer, ""))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(t, svc.allOrderID)
	assert.Equal(t, orderID, *svc.allOrderID)

	var body map[string]int64
	decodeData(t, rec, &body)
	assert.EqualValues(t, 5, body["updated"])

	svc = &inboxStub{}
	rec = httptest.NewRecorder()
	MarkAllNotificationsRead(svc, inboxLogger())(rec, inboxRequest(http.MethodPost, "/api/v1/notifications/read-all", &customer, ""))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, svc.allOrderID)
}
