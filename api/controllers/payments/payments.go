package payments

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/orderdesk/api/controllers/orders"
	"github.com/angelmondragon/orderdesk/api/middleware"
	"github.com/angelmondragon/orderdesk/api/responses"
	"github.com/angelmondragon/orderdesk/api/validators"
	internalpayments "github.com/angelmondragon/orderdesk/internal/payments"
	pkgerrors "github.com/angelmondragon/orderdesk/pkg/errors"
	"github.com/angelmondragon/orderdesk/pkg/logger"
)

// SignatureHeader may carry the callback signature instead of the body field.
const SignatureHeader = "X-Gateway-Signature"

type createIntentRequest struct {
	AmountCents *int64 `json:"amount_cents,omitempty" validate:"omitempty,min=1"`
	Currency    string `json:"currency,omitempty" validate:"omitempty,currency"`
}

type callbackRequest struct {
	IntentID  string `json:"intent_id" validate:"required"`
	PaymentID string `json:"payment_id" validate:"required"`
	Signature string `json:"signature,omitempty"`
}

// CreateIntent opens a gateway payment for the order and returns the client
// token the browser confirms with. Order status is not touched.
func CreateIntent(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
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

		var req createIntentRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		ctx = logg.WithOrderID(ctx, orderID.String())
		intent, err := svc.CreateIntent(ctx, internalpayments.CreateIntentInput{
			OrderID:     orderID,
			AmountCents: req.AmountCents,
			Currency:    strings.TrimSpace(req.Currency),
			Actor:       actor,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, intent)
	}
}

// Callback receives the signed gateway confirmation. Repeated deliveries
// return the same order projection with already_applied set.
func Callback(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		var req callbackRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		signature := strings.TrimSpace(req.Signature)
		if signature == "" {
			signature = strings.TrimSpace(r.Header.Get(SignatureHeader))
		}

		result, err := svc.HandleCallback(ctx, internalpayments.Callback{
			ExternalIntentID:  strings.TrimSpace(req.IntentID),
			ExternalPaymentID: strings.TrimSpace(req.PaymentID),
			Signature:         signature,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
