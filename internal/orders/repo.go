package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderdesk/internal/lifecycle"
	"github.com/angelmondragon/orderdesk/pkg/db/models"
	"github.com/angelmondragon/orderdesk/pkg/enums"
	"github.com/angelmondragon/orderdesk/pkg/pagination"
)

// ErrStaleVersion means a conditional write matched no row: somebody else
// committed first and the caller must re-read.
var ErrStaleVersion = errors.New("order version is stale")

// PaymentWrite carries the payment columns recorded with payment_received.
type PaymentWrite struct {
	Method      enums.PaymentMethod
	AmountCents int64
	Reference   *string
}

// TransitionWrite is the status change plus its stamps, written in one statement.
type TransitionWrite struct {
	Status  enums.OrderStatus
	Stamps  []lifecycle.Stamp
	Payment *PaymentWrite
}

// CancellationWrite is the terminal cancellation write.
type CancellationWrite struct {
	Reason string
	Role   enums.ActorRole
	By     *uuid.UUID
	At     time.Time
}

// ItemPriceWrite sets quantity, price and the derived line total of one item.
type ItemPriceWrite struct {
	Quantity       int
	UnitPriceCents int64
}

// LineTotal is quantity × unit price.
func (w ItemPriceWrite) LineTotal() int64 {
	return int64(w.Quantity) * w.UnitPriceCents
}

// ListFilter narrows ListOrders. Zero values mean no filter.
type ListFilter struct {
	CustomerID   *uuid.UUID
	BusinessID   *uuid.UUID
	BusinessType string
	Statuses     []enums.OrderStatus
}

// OrderPage is one cursor page of orders, newest first.
type OrderPage struct {
	Orders     []models.Order
	NextCursor string
}

// Repository is the narrow store adapter for orders and their line items. It
// holds no business rules.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateOrder(ctx context.Context, order *models.Order) error
	CreateOrderItems(ctx context.Context, items []models.OrderLineItem) error
	FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindOrderItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderLineItem, error)
	FindOrderItem(ctx context.Context, itemID uuid.UUID) (*models.OrderLineItem, error)
	ApplyTransition(ctx context.Context, id uuid.UUID, expectedVersion int64, w TransitionWrite) error
	ApplyCancellation(ctx context.Context, id uuid.UUID, expectedVersion int64, w CancellationWrite) error
	UpdateOrderItemPrice(ctx context.Context, itemID uuid.UUID, w ItemPriceWrite) error
	RefreshOrderTotal(ctx context.Context, orderID uuid.UUID, expectedVersion int64) error
	ListOrders(ctx context.Context, filter ListFilter, params pagination.Params) (*OrderPage, error)
}

type repository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db, now: time.Now}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx, now: r.now}
}

func (r *repository) CreateOrder(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Omit("Items").Create(order).Error
}

func (r *repository) CreateOrderItems(ctx context.Context, items []models.OrderLineItem) error {
	if len(items) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&items).Error
}

func (r *repository) FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindOrderItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderLineItem, error) {
	var items []models.OrderLineItem
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&items).Error
	return items, err
}

func (r *repository) FindOrderItem(ctx context.Context, itemID uuid.UUID) (*models.OrderLineItem, error) {
	var item models.OrderLineItem
	if err := r.db.WithContext(ctx).Where("id = ?", itemID).First(&item).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

type stampColumns struct {
	at, by, role string
}

var milestoneColumns = map[lifecycle.Milestone]stampColumns{
	lifecycle.MilestoneQuotationSent:   {at: "quotation_sent_at", by: "quotation_sent_by"},
	lifecycle.MilestoneQuoteApproved:   {at: "quote_approved_at", by: "quote_approved_by"},
	lifecycle.MilestonePaymentReceived: {at: "payment_received_at", by: "payment_received_by", role: "payment_received_by_role"},
	lifecycle.MilestoneCompleted:       {at: "completed_at", by: "completed_by"},
}

func coalesce(column string, value any) any {
	return gorm.Expr(fmt.Sprintf("COALESCE(%s, ?)", column), value)
}

// ApplyTransition writes status, stamps and payment fields in one conditional
// UPDATE. Stamps never overwrite an existing value.
func (r *repository) ApplyTransition(ctx context.Context, id uuid.UUID, expectedVersion int64, w TransitionWrite) error {
	if !w.Status.IsValid() || w.Status == enums.OrderStatusCancelled {
		return fmt.Errorf("invalid transition status %q", w.Status)
	}
	updates := map[string]any{
		"status":     w.Status,
		"version":    gorm.Expr("version + 1"),
		"updated_at": r.now().UTC(),
	}
	for _, stamp := range w.Stamps {
		cols, ok := milestoneColumns[stamp.Milestone]
		if !ok {
			return fmt.Errorf("unknown milestone %q", stamp.Milestone)
		}
		updates[cols.at] = coalesce(cols.at, stamp.At)
		if stamp.By != nil {
			updates[cols.by] = coalesce(cols.by, *stamp.By)
		}
		if cols.role != "" && stamp.Role != "" {
			updates[cols.role] = coalesce(cols.role, stamp.Role)
		}
	}
	if p := w.Payment; p != nil {
		updates["payment_method"] = coalesce("payment_method", p.Method)
		updates["payment_amount_cents"] = coalesce("payment_amount_cents", p.AmountCents)
		if p.Reference != nil {
			updates["payment_reference"] = coalesce("payment_reference", *p.Reference)
		}
	}
	return r.conditionalUpdate(ctx, id, expectedVersion, updates)
}

// ApplyCancellation writes status and is_cancelled together so the two never diverge.
func (r *repository) ApplyCancellation(ctx context.Context, id uuid.UUID, expectedVersion int64, w CancellationWrite) error {
	if w.Reason == "" {
		return errors.New("cancellation reason required")
	}
	updates := map[string]any{
		"status":              enums.OrderStatusCancelled,
		"is_cancelled":        true,
		"cancellation_reason": coalesce("cancellation_reason", w.Reason),
		"cancelled_by_role":   coalesce("cancelled_by_role", w.Role),
		"cancelled_at":        coalesce("cancelled_at", w.At),
		"version":             gorm.Expr("version + 1"),
		"updated_at":          r.now().UTC(),
	}
	if w.By != nil {
		updates["cancelled_by"] = coalesce("cancelled_by", *w.By)
	}
	return r.conditionalUpdate(ctx, id, expectedVersion, updates)
}

func (r *repository) conditionalUpdate(ctx context.Context, id uuid.UUID, expectedVersion int64, updates map[string]any) error {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND version = ?", id, expectedVersion).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleVersion
	}
	return nil
}

func (r *repository) UpdateOrderItemPrice(ctx context.Context, itemID uuid.UUID, w ItemPriceWrite) error {
	if w.Quantity <= 0 {
		return errors.New("quantity must be positive")
	}
	if w.UnitPriceCents < 0 {
		return errors.New("unit price must not be negative")
	}
	res := r.db.WithContext(ctx).
		Model(&models.OrderLineItem{}).
		Where("id = ?", itemID).
		Updates(map[string]any{
			"quantity":         w.Quantity,
			"unit_price_cents": w.UnitPriceCents,
			"line_total_cents": w.LineTotal(),
			"updated_at":       r.now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// RefreshOrderTotal recomputes total_cents from the line totals and bumps the
// version so viewers pick up the new total.
func (r *repository) RefreshOrderTotal(ctx context.Context, orderID uuid.UUID, expectedVersion int64) error {
	total := r.db.Session(&gorm.Session{NewDB: true}).
		Model(&models.OrderLineItem{}).
		Select("COALESCE(SUM(line_total_cents), 0)").
		Where("order_id = ?", orderID)
	return r.conditionalUpdate(ctx, orderID, expectedVersion, map[string]any{
		"total_cents": total,
		"version":     gorm.Expr("version + 1"),
		"updated_at":  r.now().UTC(),
	})
}

func (r *repository) ListOrders(ctx context.Context, filter ListFilter, params pagination.Params) (*OrderPage, error) {
	query := r.db.WithContext(ctx).Model(&models.Order{})
	if filter.CustomerID != nil {
		query = query.Where("customer_id = ?", *filter.CustomerID)
	}
	if filter.BusinessID != nil {
		query = query.Where("business_id = ?", *filter.BusinessID)
	}
	if filter.BusinessType != "" {
		query = query.Where("business_type = ?", filter.BusinessType)
	}
	if len(filter.Statuses) > 0 {
		query = query.Where("status IN ?", filter.Statuses)
	}

	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, err
	}
	if cursor != nil {
		clause, args := cursor.Predicate()
		query = query.Where(clause, args...)
	}

	var rows []models.Order
	if err := query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit)).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	page := &OrderPage{}
	page.Orders, page.NextCursor = pagination.Trim(rows, params.Limit, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	})
	return page, nil
}
