package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/orderdesk/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderdesk/pkg/errors"
)

type lineRequest struct {
	Name     string `json:"name" validate:"required,max=5"`
	Quantity int    `json:"quantity" validate:"required,min=1"`
}

type sampleRequest struct {
	Status   string        `json:"status" validate:"required,order_status"`
	Method   string        `json:"method,omitempty" validate:"omitempty,payment_method"`
	Currency string        `json:"currency,omitempty" validate:"omitempty,currency"`
	Items    []lineRequest `json:"items" validate:"required,min=1,dive"`
}

func decode(t *testing.T, body string) (*sampleRequest, *pkgerrors.Error) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	var dest sampleRequest
	err := DecodeJSONBody(req, &dest)
	if err == nil {
		return &dest, nil
	}
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
	return nil, typed
}

func TestDecodeJSONBodyAcceptsValidPayload(t *testing.T) {
	got, err := decode(t, `{"status":"quote_approved","method":"cash","currency":"USD","items":[{"name":"tea","quantity":2}]}`)
	require.Nil(t, err)
	assert.Equal(t, "quote_approved", got.Status)
	assert.Len(t, got.Items, 1)
}

func TestDecodeJSONBodyReportsFieldPaths(t *testing.T) {
	_, err := decode(t, `{"status":"shipped","currency":"US1","items":[{"name":"toolong","quantity":0}]}`)
	require.NotNil(t, err)

	details, ok := err.Details().(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "must be a known order status", details["status"])
	assert.Equal(t, "must be a three letter currency code", details["currency"])
	assert.Equal(t, "must be at most 5 characters", details["items[0].name"])
	assert.Equal(t, "is required", details["items[0].quantity"])
}

func TestDecodeJSONBodyEmptyItems(t *testing.T) {
	_, err := decode(t, `{"status":"pending","method":"cheque","items":[]}`)
	require.NotNil(t, err)

	details := err.Details().(map[string]string)
	assert.Equal(t, "must contain at least 1 entries", details["items"])
	assert.Equal(t, "must be a known payment method", details["method"])
}

func TestDecodeJSONBodyRejectsMalformedInput(t *testing.T) {
	cases := map[string]struct {
		body    string
		message string
	}{
		"empty":         {body: ``, message: "request body is required"},
		"trailing data": {body: `{"status":"pending","items":[{"name":"a","quantity":1}]} {}`, message: "request body must contain a single JSON object"},
		"unknown field": {body: `{"status":"pending","colour":"red"}`, message: "invalid request body"},
		"wrong type":    {body: `{"status":"pending","items":"many"}`, message: "invalid request body"},
		"too large":     {body: `{"status":"` + strings.Repeat("x", MaxBodyBytes) + `"}`, message: "request body too large"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := decode(t, tc.body)
			require.NotNil(t, err)
			assert.Equal(t, tc.message, err.Message())
		})
	}
}

func TestParseQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=20&bad=x&big=500", nil)

	v, err := ParseQueryInt(req, "limit", 10, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 20, v)

	v, err = ParseQueryInt(req, "missing", 10, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 10, v)

	_, err = ParseQueryInt(req, "bad", 10, 1, 100)
	assert.Error(t, err)
	_, err = ParseQueryInt(req, "big", 10, 1, 100)
	assert.Error(t, err)
}

func TestParseQueryListSplitsAndDedupes(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?status=pending,quote_approved&status=pending&status=%20", nil)

	got, err := ParseQueryList(req, "status", enums.ParseOrderStatus)
	require.NoError(t, err)
	assert.Equal(t, []enums.OrderStatus{enums.OrderStatusPending, enums.OrderStatusQuoteApproved}, got)

	empty, err := ParseQueryList(httptest.NewRequest(http.MethodGet, "/", nil), "status", enums.ParseOrderStatus)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestParseQueryListRejectsUnknownValue(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?status=pending,shipped", nil)

	_, err := ParseQueryList(req, "status", enums.ParseOrderStatus)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
	assert.Equal(t, map[string]any{"field": "status", "value": "shipped"}, typed.Details())
}

func TestParseQueryBoolAndUUID(t *testing.T) {
	id := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/?unread=true&junk=maybe&order="+id.String()+"&bad=nope", nil)

	b, err := ParseQueryBool(req, "unread")
	require.NoError(t, err)
	assert.True(t, b)
	b, err = ParseQueryBool(req, "missing")
	require.NoError(t, err)
	assert.False(t, b)
	_, err = ParseQueryBool(req, "junk")
	assert.Error(t, err)

	got, err := ParseQueryUUID(req, "order")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, id, *got)
	got, err = ParseQueryUUID(req, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
	_, err = ParseQueryUUID(req, "bad")
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}
