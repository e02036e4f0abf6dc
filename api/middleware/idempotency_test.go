package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/orderdesk/pkg/errors"
	"github.com/angelmondragon/orderdesk/pkg/redis"
	"github.com/angelmondragon/orderdesk/pkg/types"
)

func newIdempotencyStore(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewWithClient(goredis.NewClient(&goredis.Options{Addr: srv.Addr()}))
	t.Cleanup(func() { _ = client.Close() })
	return client, srv
}

func postOrder(key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(body))
	if key != "" {
		req.Header.Set(idempotencyHeader, key)
	}
	return req
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env types.ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env.Error.Code
}

func TestRouteTTLSelection(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		pattern string
		want    time.Duration
		ok      bool
	}{
		{"create order", http.MethodPost, "/api/v1/orders/", defaultIdempotencyTTL, true},
		{"order cancel pattern", http.MethodPost, "/api/v1/orders/{orderId}/cancel", criticalIdempotencyTTL, true},
		{"order cancel path", http.MethodPost, "/api/v1/orders/4b8e/cancel", criticalIdempotencyTTL, true},
		{"transition", http.MethodPost, "/api/v1/orders/{orderId}/transitions", defaultIdempotencyTTL, true},
		{"item price", http.MethodPatch, "/api/v1/orders/{orderId}/items/{itemId}", defaultIdempotencyTTL, true},
		{"read all", http.MethodPost, "/api/v1/notifications/read-all", defaultIdempotencyTTL, true},
		{"gateway callback", http.MethodPost, "/api/v1/payments/callback", 0, false},
		{"list orders", http.MethodGet, "/api/v1/orders", 0, false},
		{"order events", http.MethodPost, "/api/v1/orders/{orderId}/events", 0, false},
		{"empty", http.MethodPost, "", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ttl, ok := routeTTL(tt.method, tt.pattern)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, ttl)
		})
	}
}

func TestIdempotencyRequiresHeader(t *testing.T) {
	store, _ := newIdempotencyStore(t)
	called := false
	h := Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, postOrder("", `{}`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, called)
}

func TestIdempotencyReplaysRecordedResponse(t *testing.T) {
	store, _ := newIdempotencyStore(t)
	var calls int
	h := Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"order_number":"A-0001"}}`))
	}))

	first := httptest.NewRecorder()
	h.ServeHTTP(first, postOrder("abc", `{"items":[]}`))
	require.Equal(t, http.StatusCreated, first.Code)
	assert.Empty(t, first.Header().Get(replayedHeader))

	replay := httptest.NewRecorder()
	h.ServeHTTP(replay, postOrder("abc", `{"items":[]}`))

	assert.Equal(t, http.StatusCreated, replay.Code)
	assert.Equal(t, "application/json", replay.Header().Get("Content-Type"))
	assert.Equal(t, "true", replay.Header().Get(replayedHeader))
	assert.Equal(t, first.Body.String(), replay.Body.String())
	assert.Equal(t, 1, calls)
}

func TestIdempotencyRejectsDifferentBody(t *testing.T) {
	store, _ := newIdempotencyStore(t)
	h := Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	h.ServeHTTP(httptest.NewRecorder(), postOrder("xyz", `{"a":1}`))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, postOrder("xyz", `{"a":2}`))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(pkgerrors.CodeIdempotency), errorCode(t, rec))
}

func TestIdempotencyRejectsConcurrentDuplicate(t *testing.T) {
	store, _ := newIdempotencyStore(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	h := Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		w.WriteHeader(http.StatusOK)
	}))

	var wg sync.WaitGroup
	first := httptest.NewRecorder()
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.ServeHTTP(first, postOrder("dup", `{}`))
	}()
	<-entered

	second := httptest.NewRecorder()
	h.ServeHTTP(second, postOrder("dup", `{}`))
	close(release)
	wg.Wait()

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusConflict, second.Code)
	assert.Equal(t, string(pkgerrors.CodeConflict), errorCode(t, second))
}

func TestIdempotencyReleasesKeyOnServerError(t *testing.T) {
	store, srv := newIdempotencyStore(t)
	var calls int
	h := Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	for i := 0; i < 2; i++ {
		h.ServeHTTP(httptest.NewRecorder(), postOrder("retry-me", `{}`))
	}

	assert.Equal(t, 2, calls)
	assert.Empty(t, srv.Keys())
}

func TestIdempotencyRecordsClientErrorsWithRouteTTL(t *testing.T) {
	store, srv := newIdempotencyStore(t)
	h := Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))

	h.ServeHTTP(httptest.NewRecorder(), postOrder("k-422", `{}`))

	keys := srv.Keys()
	require.Len(t, keys, 1)
	assert.Equal(t, defaultIdempotencyTTL, srv.TTL(keys[0]))
}

func TestIdempotencyIgnoresUnlistedRoutes(t *testing.T) {
	var calls int
	h := Idempotency(nil, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil))
	h.ServeHTTP(httptest.NewRecorder(), postOrder("", `{}`))

	assert.Equal(t, 2, calls)
}
