package orders

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/orderdesk/api/middleware"
	"github.com/angelmondragon/orderdesk/api/responses"
	"github.com/angelmondragon/orderdesk/api/validators"
	"github.com/angelmondragon/orderdesk/internal/lifecycle"
	internalorders "github.com/angelmondragon/orderdesk/internal/orders"
	"github.com/angelmondragon/orderdesk/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderdesk/pkg/errors"
	"github.com/angelmondragon/orderdesk/pkg/logger"
	"github.com/angelmondragon/orderdesk/pkg/pagination"
)

type createItemRequest struct {
	Name           string  `json:"name" validate:"required,max=200"`
	Quantity       int     `json:"quantity" validate:"required,min=1"`
	UnitPriceCents *int64  `json:"unit_price_cents,omitempty" validate:"omitempty,min=0"`
	Notes          *string `json:"notes,omitempty" validate:"omitempty,max=500"`
}

type createOrderRequest struct {
	BusinessID   uuid.UUID           `json:"business_id" validate:"required"`
	BusinessType string              `json:"business_type" validate:"required,max=64"`
	Currency     string              `json:"currency,omitempty" validate:"omitempty,currency"`
	Notes        *string             `json:"notes,omitempty" validate:"omitempty,max=2000"`
	Items        []createItemRequest `json:"items" validate:"required,min=1,dive"`
}

type paymentRequest struct {
	Method      string  `json:"method" validate:"required,payment_method"`
	AmountCents *int64  `json:"amount_cents,omitempty" validate:"omitempty,min=0"`
	Reference   *string `json:"reference,omitempty" validate:"omitempty,max=200"`
}

type transitionRequest struct {
	Status  string          `json:"status" validate:"required,order_status"`
	Payment *paymentRequest `json:"payment,omitempty"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type itemPriceRequest struct {
	Quantity       *int  `json:"quantity,omitempty" validate:"omitempty,min=1"`
	UnitPriceCents int64 `json:"unit_price_cents" validate:"min=0"`
}

// transitionResponse carries the order as the caller may see it and whether
// the request changed anything.
type transitionResponse struct {
	Order internalorders.OrderDTO `json:"order"`
	NoOp  bool                    `json:"no_op"`
}

// Create places a pending order for the authenticated customer.
func Create(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var req createOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		items := make([]internalorders.CreateItemInput, 0, len(req.Items))
		for _, item := range req.Items {
			items = append(items, internalorders.CreateItemInput{
				Name:           strings.TrimSpace(item.Name),
				Quantity:       item.Quantity,
				UnitPriceCents: item.UnitPriceCents,
				Notes:          item.Notes,
			})
		}

		order, err := svc.CreateOrder(ctx, internalorders.CreateOrderInput{
			Actor:        actor,
			BusinessID:   req.BusinessID,
			BusinessType: strings.TrimSpace(req.BusinessType),
			Currency:     strings.TrimSpace(req.Currency),
			Notes:        req.Notes,
			Items:        items,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, order)
	}
}

// List returns a page of orders visible to the caller. Staff may filter by
// business type and one or more statuses for the board's initial fetch.
func List(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		statuses, err := validators.ParseQueryList(r, "status", enums.ParseOrderStatus)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		list, err := svc.List(ctx, actor, internalorders.ListInput{
			BusinessType: strings.TrimSpace(r.URL.Query().Get("business_type")),
			Statuses:     statuses,
			Page: pagination.Params{
				Limit:  limit,
				Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
			},
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// Detail returns one order projected for the caller.
func Detail(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		orderID, err := ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		order, err := svc.Detail(ctx, actor, orderID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// Transition requests a status change for the order. Payment context is
// required when the target is payment_received.
func Transition(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		orderID, err := ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var req transitionRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		status, err := enums.ParseOrderStatus(strings.TrimSpace(req.Status))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
			return
		}

		transition := internalorders.TransitionRequest{
			OrderID: orderID,
			Status:  status,
			Actor:   actor,
		}
		if req.Payment != nil {
			method, err := enums.ParsePaymentMethod(strings.TrimSpace(req.Payment.Method))
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment method"))
				return
			}
			transition.Payment = &internalorders.PaymentDetails{
				Method:      method,
				AmountCents: req.Payment.AmountCents,
				Reference:   req.Payment.Reference,
			}
		}

		ctx = logg.WithOrderID(ctx, orderID.String())
		result, err := svc.RequestTransition(ctx, transition)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, transitionResponse{
			Order: internalorders.ProjectOrder(result.Order, actor),
			NoOp:  result.NoOp,
		})
	}
}

// Cancel cancels the order with a reason. Repeating the call on a cancelled
// order succeeds and keeps the first reason.
func Cancel(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		orderID, err := ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var req cancelRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		ctx = logg.WithOrderID(ctx, orderID.String())
		result, err := svc.RequestCancellation(ctx, internalorders.CancellationRequest{
			OrderID: orderID,
			Actor:   actor,
			Reason:  strings.TrimSpace(req.Reason),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, transitionResponse{
			Order: internalorders.ProjectOrder(result.Order, actor),
			NoOp:  result.NoOp,
		})
	}
}

// UpdateItemPrice quotes a single line item.
func UpdateItemPrice(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		orderID, err := ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		itemID, err := ParseUUIDParam(r, "itemId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var req itemPriceRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		order, err := svc.UpdateItemPrice(ctx, internalorders.ItemPriceInput{
			Actor:          actor,
			OrderID:        orderID,
			ItemID:         itemID,
			Quantity:       req.Quantity,
			UnitPriceCents: req.UnitPriceCents,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// ParseUUIDParam reads a required uuid path parameter.
func ParseUUIDParam(r *http.Request, name string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, name+" is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+name)
	}
	return id, nil
}

func requireActor(r *http.Request) (lifecycle.Actor, error) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		return lifecycle.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	return actor, nil
}
