package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderdesk/internal/lifecycle"
	"github.com/angelmondragon/orderdesk/pkg/db/models"
	"github.com/angelmondragon/orderdesk/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderdesk/pkg/errors"
	"github.com/angelmondragon/orderdesk/pkg/logger"
	"github.com/angelmondragon/orderdesk/pkg/metrics"
	"github.com/angelmondragon/orderdesk/pkg/outbox"
	"github.com/angelmondragon/orderdesk/pkg/outbox/payloads"
	"github.com/angelmondragon/orderdesk/pkg/pagination"
)

// maxWriteAttempts bounds the read → decide → conditional write loop.
const maxWriteAttempts = 3

// Free-text limits, in characters.
const (
	maxOrderNotes       = 2000
	maxItemNotes        = 500
	maxPaymentReference = 200
)

func tooLong(s *string, limit int) bool {
	return s != nil && utf8.RuneCountInString(*s) > limit
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, events ...outbox.DomainEvent) error
}

// NumberAllocator hands out human-facing order numbers.
type NumberAllocator interface {
	NextOrderNumber(ctx context.Context) (int64, error)
}

// IntentSuperseder closes open payment intents when staff record a payment by hand.
type IntentSuperseder interface {
	SupersedeOpenIntents(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (int64, error)
}

// AfterWriteHook runs inside the transaction that applied (or no-op'd) a
// transition, after the order row reflects the request.
type AfterWriteHook func(ctx context.Context, tx *gorm.DB, order models.Order, applied lifecycle.AppliedTransition) error

// Service orchestrates the lifecycle engine and the store adapter.
type Service interface {
	CreateOrder(ctx context.Context, input CreateOrderInput) (*OrderDTO, error)
	Detail(ctx context.Context, actor lifecycle.Actor, orderID uuid.UUID) (*OrderDTO, error)
	List(ctx context.Context, actor lifecycle.Actor, input ListInput) (*OrderListDTO, error)
	RequestTransition(ctx context.Context, req TransitionRequest) (*TransitionResult, error)
	RequestCancellation(ctx context.Context, req CancellationRequest) (*TransitionResult, error)
	UpdateItemPrice(ctx context.Context, input ItemPriceInput) (*OrderDTO, error)
}

// ServiceParams wires the orders service.
type ServiceParams struct {
	Repo       Repository
	Tx         txRunner
	Outbox     outboxPublisher
	Numbers    NumberAllocator
	Superseder IntentSuperseder
	Engine     *lifecycle.Engine
	Metrics    *metrics.OrderMetrics
	Logger     *logger.Logger
	Now        func() time.Time
}

type service struct {
	repo       Repository
	tx         txRunner
	outbox     outboxPublisher
	numbers    NumberAllocator
	superseder IntentSuperseder
	engine     *lifecycle.Engine
	metrics    *metrics.OrderMetrics
	logg       *logger.Logger
	now        func() time.Time
}

// NewService validates the dependencies and builds the orders service.
func NewService(p ServiceParams) (Service, error) {
	if p.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if p.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if p.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if p.Numbers == nil {
		return nil, fmt.Errorf("order number allocator required")
	}
	if p.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if p.Engine == nil {
		p.Engine = lifecycle.NewEngine(p.Now)
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	return &service{
		repo:       p.Repo,
		tx:         p.Tx,
		outbox:     p.Outbox,
		numbers:    p.Numbers,
		superseder: p.Superseder,
		engine:     p.Engine,
		metrics:    p.Metrics,
		logg:       p.Logger,
		now:        p.Now,
	}, nil
}

// CreateOrderInput is a customer checkout.
type CreateOrderInput struct {
	Actor        lifecycle.Actor
	BusinessID   uuid.UUID
	BusinessType string
	Currency     string
	Notes        *string
	Items        []CreateItemInput
}

// CreateItemInput is one requested line. The price may be unknown until quoted.
type CreateItemInput struct {
	Name           string
	Quantity       int
	UnitPriceCents *int64
	Notes          *string
}

// ListInput filters the order list.
type ListInput struct {
	BusinessType string
	Statuses     []enums.OrderStatus
	Page         pagination.Params
}

// TransitionRequest asks for a status change on behalf of Actor.
type TransitionRequest struct {
	OrderID uuid.UUID
	Status  enums.OrderStatus
	Actor   lifecycle.Actor
	// Payment is required context for payment_received; ignored otherwise.
	Payment    *PaymentDetails
	AfterWrite AfterWriteHook
}

// PaymentDetails describes how the order was paid.
type PaymentDetails struct {
	Method      enums.PaymentMethod
	AmountCents *int64
	Reference   *string
}

// CancellationRequest asks to cancel an order.
type CancellationRequest struct {
	OrderID uuid.UUID
	Actor   lifecycle.Actor
	Reason  string
}

// ItemPriceInput is a staff edit of one line item.
type ItemPriceInput struct {
	Actor          lifecycle.Actor
	OrderID        uuid.UUID
	ItemID         uuid.UUID
	Quantity       *int
	UnitPriceCents int64
}

// TransitionResult is the post-commit order plus whether anything was written.
type TransitionResult struct {
	Order models.Order
	// NoOp is true when the order already reflected the request.
	NoOp bool
}

func (s *service) CreateOrder(ctx context.Context, input CreateOrderInput) (*OrderDTO, error) {
	if err := input.Actor.Validate(); err != nil {
		return nil, err
	}
	if !input.Actor.IsCustomer() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only customers can place orders")
	}
	if input.BusinessID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "business id required")
	}
	businessType := strings.TrimSpace(input.BusinessType)
	if businessType == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "business type required")
	}
	if len(input.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one item is required")
	}
	if tooLong(input.Notes, maxOrderNotes) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "notes too long").
			WithDetails(map[string]any{"max_length": maxOrderNotes})
	}
	currency := strings.ToLower(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = "usd"
	}

	number, err := s.numbers.NextOrderNumber(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "allocate order number")
	}

	now := s.now().UTC()
	order := models.Order{
		ID:           uuid.New(),
		OrderNumber:  number,
		BusinessID:   input.BusinessID,
		BusinessType: businessType,
		CustomerID:   input.Actor.ID(),
		Status:       enums.OrderStatusPending,
		Version:      1,
		Currency:     currency,
		Notes:        input.Notes,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	items := make([]models.OrderLineItem, 0, len(input.Items))
	for i, in := range input.Items {
		name := strings.TrimSpace(in.Name)
		if name == "" || in.Quantity <= 0 || tooLong(in.Notes, maxItemNotes) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid item").
				WithDetails(map[string]any{"index": i})
		}
		item := models.OrderLineItem{
			ID:        uuid.New(),
			OrderID:   order.ID,
			Name:      name,
			Quantity:  in.Quantity,
			Notes:     in.Notes,
			CreatedAt: now.Add(time.Duration(i) * time.Microsecond),
			UpdatedAt: now,
		}
		if in.UnitPriceCents != nil {
			if *in.UnitPriceCents < 0 {
				return nil, pkgerrors.New(pkgerrors.CodeValidation, "unit price must not be negative").
					WithDetails(map[string]any{"index": i})
			}
			price := *in.UnitPriceCents
			total := int64(in.Quantity) * price
			item.UnitPriceCents = &price
			item.LineTotalCents = &total
			order.TotalCents += total
		}
		items = append(items, item)
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.CreateOrder(ctx, &order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}
		if err := repo.CreateOrderItems(ctx, items); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order items")
		}
		return s.emit(ctx, tx, enums.EventOrderCreated, order, "", input.Actor, "")
	})
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithOrderID(ctx, order.ID.String())
	s.logg.Info(ctx, "order created")

	order.Items = items
	dto := ProjectOrder(order, input.Actor)
	return &dto, nil
}

func (s *service) Detail(ctx context.Context, actor lifecycle.Actor, orderID uuid.UUID) (*OrderDTO, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	order, err := s.loadVisible(ctx, s.repo, orderID, actor)
	if err != nil {
		return nil, err
	}
	items, err := s.repo.FindOrderItems(ctx, order.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order items")
	}
	order.Items = items
	dto := ProjectOrder(*order, actor)
	return &dto, nil
}

func (s *service) List(ctx context.Context, actor lifecycle.Actor, input ListInput) (*OrderListDTO, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	filter := ListFilter{BusinessType: strings.TrimSpace(input.BusinessType)}
	for _, status := range input.Statuses {
		if !status.IsValid() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown order status").
				WithDetails(map[string]any{"status": status})
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	switch {
	case actor.IsCustomer():
		id := actor.ID()
		filter.CustomerID = &id
	case actor.IsStaff():
		filter.BusinessID = actor.BusinessID
	default:
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "actor cannot list orders")
	}

	page, err := s.repo.ListOrders(ctx, filter, input.Page)
	if errors.Is(err, pagination.ErrInvalidCursor) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	out := &OrderListDTO{Orders: make([]OrderDTO, 0, len(page.Orders)), NextCursor: page.NextCursor}
	for _, order := range page.Orders {
		out.Orders = append(out.Orders, ProjectOrder(order, actor))
	}
	return out, nil
}

// RequestTransition runs read → engine → conditional write, re-reading when
// another writer committed in between.
func (s *service) RequestTransition(ctx context.Context, req TransitionRequest) (*TransitionResult, error) {
	if req.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	return s.retry(ctx, req.OrderID, func() (*TransitionResult, error) {
		return s.attemptTransition(ctx, req)
	})
}

// RequestCancellation applies the cancellation policy and writes the terminal state.
func (s *service) RequestCancellation(ctx context.Context, req CancellationRequest) (*TransitionResult, error) {
	if req.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	return s.retry(ctx, req.OrderID, func() (*TransitionResult, error) {
		return s.attemptCancellation(ctx, req)
	})
}

func (s *service) retry(ctx context.Context, orderID uuid.UUID, attempt func() (*TransitionResult, error)) (*TransitionResult, error) {
	for i := 0; i < maxWriteAttempts; i++ {
		result, err := attempt()
		if !errors.Is(err, ErrStaleVersion) {
			return result, err
		}
		s.metrics.IncConflict()
		s.logg.Debug(s.logg.WithFields(ctx, map[string]any{"order_id": orderID.String(), "attempt": i + 1}), "order version moved, re-evaluating")
	}
	return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order changed concurrently, please retry")
}

func (s *service) attemptTransition(ctx context.Context, req TransitionRequest) (*TransitionResult, error) {
	var (
		result  TransitionResult
		applied lifecycle.AppliedTransition
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.loadVisible(ctx, repo, req.OrderID, req.Actor)
		if err != nil {
			return err
		}

		applied, err = s.engine.Transition(*order, req.Status, req.Actor)
		if err != nil {
			return err
		}
		if applied.NoOp {
			result = TransitionResult{Order: *order, NoOp: true}
			if req.AfterWrite != nil {
				return req.AfterWrite(ctx, tx, *order, applied)
			}
			return nil
		}

		write := TransitionWrite{Status: applied.To, Stamps: applied.Stamps}
		if applied.To == enums.OrderStatusPaymentReceived {
			payment, err := paymentWrite(req, *order)
			if err != nil {
				return err
			}
			write.Payment = payment
		}

		if err := repo.ApplyTransition(ctx, order.ID, order.Version, write); err != nil {
			if errors.Is(err, ErrStaleVersion) {
				return err
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write order transition")
		}

		updated, err := repo.FindOrder(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
		}

		if applied.To == enums.OrderStatusPaymentReceived && req.Actor.IsStaff() && s.superseder != nil {
			if _, err := s.superseder.SupersedeOpenIntents(ctx, tx, order.ID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "supersede payment intents")
			}
		}

		if err := s.emit(ctx, tx, eventFor(applied), *updated, applied.From, req.Actor, ""); err != nil {
			return err
		}
		if req.AfterWrite != nil {
			if err := req.AfterWrite(ctx, tx, *updated, applied); err != nil {
				return err
			}
		}
		result = TransitionResult{Order: *updated}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.NoOp {
		s.metrics.ObserveTransition(string(applied.From), string(applied.To), string(req.Actor.Role))
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"order_id":   result.Order.ID.String(),
			"from":       applied.From,
			"to":         applied.To,
			"version":    result.Order.Version,
			"actor_role": req.Actor.Role,
		})
		s.logg.Info(logCtx, "order status changed")
	}
	return &result, nil
}

func paymentWrite(req TransitionRequest, order models.Order) (*PaymentWrite, error) {
	details := req.Payment
	if details == nil {
		if req.Actor.IsSystem() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment details required")
		}
		details = &PaymentDetails{Method: enums.PaymentMethodCash}
	}
	if !details.Method.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown payment method")
	}
	if req.Actor.IsStaff() && details.Method == enums.PaymentMethodOnline {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "online payments are recorded by the gateway")
	}
	if tooLong(details.Reference, maxPaymentReference) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment reference too long")
	}
	amount := order.TotalCents
	if details.AmountCents != nil {
		if *details.AmountCents <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment amount must be positive")
		}
		amount = *details.AmountCents
	}
	return &PaymentWrite{Method: details.Method, AmountCents: amount, Reference: details.Reference}, nil
}

func (s *service) attemptCancellation(ctx context.Context, req CancellationRequest) (*TransitionResult, error) {
	var (
		result TransitionResult
		cancel lifecycle.Cancellation
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.loadVisible(ctx, repo, req.OrderID, req.Actor)
		if err != nil {
			return err
		}

		cancel, err = s.engine.Cancel(*order, req.Actor, req.Reason)
		if err != nil {
			return err
		}
		if cancel.NoOp {
			result = TransitionResult{Order: *order, NoOp: true}
			return nil
		}

		if err := repo.ApplyCancellation(ctx, order.ID, order.Version, CancellationWrite{
			Reason: cancel.Reason,
			Role:   cancel.Role,
			By:     cancel.By,
			At:     cancel.At,
		}); err != nil {
			if errors.Is(err, ErrStaleVersion) {
				return err
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write cancellation")
		}

		updated, err := repo.FindOrder(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
		}
		if err := s.emit(ctx, tx, enums.EventOrderCancelled, *updated, cancel.From, req.Actor, cancel.Reason); err != nil {
			return err
		}
		result = TransitionResult{Order: *updated}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.NoOp {
		s.metrics.ObserveTransition(string(cancel.From), string(enums.OrderStatusCancelled), string(req.Actor.Role))
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"order_id":   result.Order.ID.String(),
			"from":       cancel.From,
			"actor_role": req.Actor.Role,
		})
		s.logg.Info(logCtx, "order cancelled")
	}
	return &result, nil
}

func (s *service) UpdateItemPrice(ctx context.Context, input ItemPriceInput) (*OrderDTO, error) {
	if err := input.Actor.Validate(); err != nil {
		return nil, err
	}
	if !input.Actor.IsStaff() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only staff can price items")
	}
	if input.UnitPriceCents < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unit price must not be negative")
	}
	if input.Quantity != nil && *input.Quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}

	var out OrderDTO
	_, err := s.retry(ctx, input.OrderID, func() (*TransitionResult, error) {
		return nil, s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			order, err := s.loadVisible(ctx, repo, input.OrderID, input.Actor)
			if err != nil {
				return err
			}
			if order.IsCancelled || order.Status == enums.OrderStatusCompleted || order.IsPaid() {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "order can no longer be repriced").
					WithDetails(map[string]any{"status": order.Status})
			}

			item, err := repo.FindOrderItem(ctx, input.ItemID)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return pkgerrors.New(pkgerrors.CodeNotFound, "line item not found")
				}
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load line item")
			}
			if item.OrderID != order.ID {
				return pkgerrors.New(pkgerrors.CodeNotFound, "line item not found")
			}

			write := ItemPriceWrite{Quantity: item.Quantity, UnitPriceCents: input.UnitPriceCents}
			if input.Quantity != nil {
				write.Quantity = *input.Quantity
			}
			if err := repo.UpdateOrderItemPrice(ctx, item.ID, write); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update line item")
			}
			if err := repo.RefreshOrderTotal(ctx, order.ID, order.Version); err != nil {
				if errors.Is(err, ErrStaleVersion) {
					return err
				}
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "refresh order total")
			}

			updated, err := repo.FindOrder(ctx, order.ID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
			}
			items, err := repo.FindOrderItems(ctx, order.ID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload line items")
			}
			updated.Items = items
			out = ProjectOrder(*updated, input.Actor)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// loadVisible reads the order and hides it from actors outside its scope.
func (s *service) loadVisible(ctx context.Context, repo Repository, orderID uuid.UUID, actor lifecycle.Actor) (*models.Order, error) {
	order, err := repo.FindOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if !Visible(*order, actor) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return order, nil
}

// Visible reports whether actor may see order: customers their own orders,
// staff the orders of their business, the system everything.
func Visible(order models.Order, actor lifecycle.Actor) bool {
	switch actor.Role {
	case enums.ActorRoleSystem:
		return true
	case enums.ActorRoleCustomer:
		return actor.UserID != nil && *actor.UserID == order.CustomerID
	case enums.ActorRoleStaff:
		return actor.BusinessID == nil || *actor.BusinessID == order.BusinessID
	default:
		return false
	}
}

func eventFor(applied lifecycle.AppliedTransition) enums.OutboxEventType {
	switch applied.Trigger {
	case enums.NotificationTypeQuotationSent:
		return enums.EventOrderQuotationSent
	case enums.NotificationTypePaymentReceived:
		return enums.EventOrderPaid
	case enums.NotificationTypeOrderCompleted:
		return enums.EventOrderCompleted
	default:
		return enums.EventOrderStatusChanged
	}
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, order models.Order, from enums.OrderStatus, actor lifecycle.Actor, reason string) error {
	event := outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         &outbox.ActorRef{UserID: actor.UserID, Role: string(actor.Role)},
		Data: payloads.OrderLifecycleEvent{
			OrderID:            order.ID,
			OrderNumber:        order.OrderNumber,
			CustomerID:         order.CustomerID,
			BusinessID:         order.BusinessID,
			BusinessType:       order.BusinessType,
			FromStatus:         from,
			ToStatus:           order.Status,
			Version:            order.Version,
			ActorRole:          actor.Role,
			TotalCents:         order.TotalCents,
			Currency:           order.Currency,
			PaymentMethod:      order.PaymentMethod,
			PaymentAmountCents: order.PaymentAmountCents,
			CancellationReason: reason,
			OccurredAt:         s.now().UTC(),
		},
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit outbox event")
	}
	return nil
}
