package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/velora-commerce/storefront-backend/pkg/db/models"
	"github.com/velora-commerce/storefront-backend/pkg/enums"
	pkgerrors "github.com/velora-commerce/storefront-backend/pkg/errors"
	"github.com/velora-commerce/storefront-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type stockRestorer interface {
	IncrementStock(ctx context.Context, id uuid.UUID, qty int) error
}

// Actor identifies who is asking for an order operation.
type Actor struct {
	UserID uuid.UUID
	Role   enums.UserRole
}

// IsAdmin reports whether the actor holds back-office privileges.
func (a Actor) IsAdmin() bool {
	return a.Role == enums.UserRoleAdmin
}

// UpdateStatusInput is the privileged status mutation payload.
type UpdateStatusInput struct {
	Status         enums.OrderStatus
	TrackingNumber *string
}

// Service exposes order reads and the status state machine.
type Service interface {
	GetOrder(ctx context.Context, orderID uuid.UUID, actor Actor) (*models.Order, error)
	ListUserOrders(ctx context.Context, userID uuid.UUID, params pagination.Params) (*OrderList, error)
	ListOrders(ctx context.Context, params pagination.Params, filters ListFilters) (*OrderList, error)
	CancelOrder(ctx context.Context, orderID uuid.UUID, actor Actor) (*models.Order, error)
	UpdateStatus(ctx context.Context, orderID uuid.UUID, input UpdateStatusInput) (*models.Order, error)
	Stats(ctx context.Context, from, to *time.Time) (*Stats, error)
}

type service struct {
	repo    Repository
	tx      txRunner
	catalog stockRestorer
}

// NewService builds the orders service.
func NewService(repo Repository, tx txRunner, catalog stockRestorer) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if catalog == nil {
		return nil, fmt.Errorf("catalog stock restorer required")
	}
	return &service{repo: repo, tx: tx, catalog: catalog}, nil
}

// GetOrder returns an order visible to the actor. Customers only see
// their own orders.
func (s *service) GetOrder(ctx context.Context, orderID uuid.UUID, actor Actor) (*models.Order, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != actor.UserID && !actor.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another user")
	}
	return order, nil
}

// ListUserOrders pages the actor's own orders newest first.
func (s *service) ListUserOrders(ctx context.Context, userID uuid.UUID, params pagination.Params) (*OrderList, error) {
	list, err := s.repo.List(ctx, params, ListFilters{UserID: &userID})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list user orders")
	}
	return list, nil
}

// ListOrders is the admin listing with optional status filters.
func (s *service) ListOrders(ctx context.Context, params pagination.Params, filters ListFilters) (*OrderList, error) {
	list, err := s.repo.List(ctx, params, filters)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	return list, nil
}

// CancelOrder moves the order to cancelled and restores catalog stock
// for every line. Only the owner or an admin may cancel.
func (s *service) CancelOrder(ctx context.Context, orderID uuid.UUID, actor Actor) (*models.Order, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != actor.UserID && !actor.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the order owner or an admin can cancel")
	}
	switch order.OrderStatus {
	case enums.OrderStatusDelivered:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order has already been delivered")
	case enums.OrderStatusCancelled:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is already cancelled")
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		// re-checked in the UPDATE itself; the load above may be stale
		applied, err := txRepo.TransitionStatus(ctx, order.ID, map[string]any{
			"order_status": enums.OrderStatusCancelled,
		}, enums.OrderStatusDelivered, enums.OrderStatusCancelled)
		if err != nil {
			return err
		}
		if !applied {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order can no longer be cancelled")
		}
		for _, item := range order.Items {
			if err := s.catalog.IncrementStock(ctx, item.ProductID, item.Quantity); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel order")
	}
	return s.load(ctx, orderID)
}

// UpdateStatus applies a privileged status transition. Delivered stamps
// the delivery time; a tracking number is stored whenever provided.
func (s *service) UpdateStatus(ctx context.Context, orderID uuid.UUID, input UpdateStatusInput) (*models.Order, error) {
	if !input.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown order status %q", input.Status))
	}
	order, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	switch order.OrderStatus {
	case enums.OrderStatusDelivered, enums.OrderStatusCancelled:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order is already %s", order.OrderStatus))
	}

	updates := map[string]any{"order_status": input.Status}
	if input.Status == enums.OrderStatusDelivered {
		updates["delivered_at"] = time.Now().UTC()
	}
	if input.TrackingNumber != nil {
		updates["tracking_number"] = *input.TrackingNumber
	}

	applied, err := s.repo.TransitionStatus(ctx, orderID, updates,
		enums.OrderStatusDelivered, enums.OrderStatusCancelled)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
	}
	if !applied {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order status changed underneath this update")
	}
	return s.load(ctx, orderID)
}

// Stats reports order aggregates over an optional window.
func (s *service) Stats(ctx context.Context, from, to *time.Time) (*Stats, error) {
	if from != nil && to != nil && to.Before(*from) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "date range end precedes start")
	}
	stats, err := s.repo.Stats(ctx, from, to)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "order stats")
	}
	return stats, nil
}

func (s *service) load(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}
