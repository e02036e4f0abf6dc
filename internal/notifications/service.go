package notifications

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/orderdesk/pkg/db/models"
	"github.com/angelmondragon/orderdesk/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderdesk/pkg/errors"
	"github.com/angelmondragon/orderdesk/pkg/pagination"
)

// Service is the customer-facing inbox: list, mark one read, mark all read.
type Service interface {
	List(ctx context.Context, params ListParams) (*ListResult, error)
	MarkRead(ctx context.Context, customerID, notificationID uuid.UUID) (*NotificationDTO, error)
	MarkAllRead(ctx context.Context, customerID uuid.UUID, orderID *uuid.UUID) (int64, error)
}

type ListParams struct {
	CustomerID uuid.UUID
	OrderID    *uuid.UUID
	UnreadOnly bool
	Page       pagination.Params
}

type ListResult struct {
	Items       []NotificationDTO `json:"items"`
	Cursor      string            `json:"cursor,omitempty"`
	UnreadCount int64             `json:"unread_count"`
}

type NotificationDTO struct {
	ID        uuid.UUID              `json:"id"`
	OrderID   uuid.UUID              `json:"order_id"`
	Type      enums.NotificationType `json:"type"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Read      bool                   `json:"read"`
	ReadAt    *time.Time             `json:"read_at,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

func toDTO(n models.Notification) NotificationDTO {
	return NotificationDTO{
		ID:        n.ID,
		OrderID:   n.OrderID,
		Type:      n.Type,
		Title:     n.Title,
		Message:   n.Message,
		Read:      n.ReadAt != nil,
		ReadAt:    n.ReadAt,
		CreatedAt: n.CreatedAt,
	}
}

type service struct {
	repo Repository
	now  func() time.Time
}

type Option func(*service)

// WithClock overrides the read_at timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

func NewService(repo Repository, opts ...Option) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notifications repository required")
	}
	s := &service{repo: repo, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func requireCustomer(id uuid.UUID) error {
	if id == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "customer id required")
	}
	return nil
}

func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	if err := requireCustomer(params.CustomerID); err != nil {
		return nil, err
	}
	after, err := pagination.ParseCursor(params.Page.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	rows, err := s.repo.List(ctx, Query{
		CustomerID: params.CustomerID,
		OrderID:    params.OrderID,
		UnreadOnly: params.UnreadOnly,
		After:      after,
		Limit:      pagination.LimitWithBuffer(params.Page.Limit),
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list notifications")
	}
	unread, err := s.repo.CountUnread(ctx, params.CustomerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count unread notifications")
	}

	page, cursor := pagination.Trim(rows, params.Page.Limit, func(n models.Notification) pagination.Cursor {
		return pagination.Cursor{CreatedAt: n.CreatedAt, ID: n.ID}
	})
	items := make([]NotificationDTO, 0, len(page))
	for _, n := range page {
		items = append(items, toDTO(n))
	}
	return &ListResult{Items: items, Cursor: cursor, UnreadCount: unread}, nil
}

// MarkRead is idempotent: marking an already read notification returns it
// unchanged. Another customer's notification is reported as not found.
func (s *service) MarkRead(ctx context.Context, customerID, notificationID uuid.UUID) (*NotificationDTO, error) {
	if err := requireCustomer(customerID); err != nil {
		return nil, err
	}
	if notificationID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "notification id required")
	}

	if _, err := s.repo.MarkRead(ctx, customerID, notificationID, s.now().UTC()); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notification read")
	}
	row, err := s.repo.Get(ctx, customerID, notificationID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load notification")
	}
	if row == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "notification not found")
	}
	dto := toDTO(*row)
	return &dto, nil
}

// MarkAllRead marks the customer's unread notifications read, optionally only
// those about one order, and returns how many changed.
func (s *service) MarkAllRead(ctx context.Context, customerID uuid.UUID, orderID *uuid.UUID) (int64, error) {
	if err := requireCustomer(customerID); err != nil {
		return 0, err
	}
	n, err := s.repo.MarkAllRead(ctx, customerID, orderID, s.now().UTC())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notifications read")
	}
	return n, nil
}
