package orders

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/velora-commerce/storefront-backend/pkg/db/models"
	"github.com/velora-commerce/storefront-backend/pkg/enums"
	"github.com/velora-commerce/storefront-backend/pkg/pagination"
)

// ListFilters narrows admin order listings.
type ListFilters struct {
	UserID        *uuid.UUID
	Status        *enums.OrderStatus
	PaymentStatus *enums.PaymentStatus
}

// OrderList is a cursor page of orders, newest first.
type OrderList struct {
	Items      []models.Order
	NextCursor string
}

// Stats aggregates order reporting figures over an optional date range.
type Stats struct {
	OrderCount        int64                         `json:"order_count"`
	Revenue           decimal.Decimal               `json:"revenue"`
	AverageOrderValue decimal.Decimal               `json:"average_order_value"`
	ByStatus          map[enums.OrderStatus]int64   `json:"by_status"`
	ByPaymentMethod   map[enums.PaymentMethod]int64 `json:"by_payment_method"`
}

// Repository defines persistence operations for orders.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) (*models.Order, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	List(ctx context.Context, params pagination.Params, filters ListFilters) (*OrderList, error)
	UpdateFields(ctx context.Context, id uuid.UUID, updates map[string]any) error
	TransitionStatus(ctx context.Context, id uuid.UUID, updates map[string]any, blocked ...enums.OrderStatus) (bool, error)
	Stats(ctx context.Context, from, to *time.Time) (*Stats, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Create persists the order row and its item snapshots atomically.
func (r *repository) Create(ctx context.Context, order *models.Order) (*models.Order, error) {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	for i := range order.Items {
		if order.Items[i].ID == uuid.Nil {
			order.Items[i].ID = uuid.New()
		}
		order.Items[i].OrderID = order.ID
	}
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		return nil, err
	}
	return order, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) List(ctx context.Context, params pagination.Params, filters ListFilters) (*OrderList, error) {
	pageSize := pagination.NormalizeLimit(params.Limit)
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, err
	}

	qb := r.db.WithContext(ctx).Model(&models.Order{}).Preload("Items")
	if filters.UserID != nil {
		qb = qb.Where("user_id = ?", *filters.UserID)
	}
	if filters.Status != nil {
		qb = qb.Where("order_status = ?", *filters.Status)
	}
	if filters.PaymentStatus != nil {
		qb = qb.Where("payment_status = ?", *filters.PaymentStatus)
	}
	if cursor != nil {
		qb = qb.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var orders []models.Order
	err = qb.Order("created_at DESC").Order("id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit)).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}

	list := &OrderList{Items: orders}
	if len(orders) > pageSize {
		list.Items = orders[:pageSize]
		last := list.Items[len(list.Items)-1]
		list.NextCursor = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return list, nil
}

func (r *repository) UpdateFields(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	result := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// TransitionStatus writes a status change only while the stored status is
// outside the blocked set. The current state is re-checked in the UPDATE
// itself, so a transition raced by another writer affects zero rows.
func (r *repository) TransitionStatus(ctx context.Context, id uuid.UUID, updates map[string]any, blocked ...enums.OrderStatus) (bool, error) {
	qb := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id)
	if len(blocked) > 0 {
		qb = qb.Where("order_status NOT IN ?", blocked)
	}
	result := qb.Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Stats runs the reporting aggregates. Reads only.
func (r *repository) Stats(ctx context.Context, from, to *time.Time) (*Stats, error) {
	scope := func() *gorm.DB {
		qb := r.db.WithContext(ctx).Model(&models.Order{})
		if from != nil {
			qb = qb.Where("created_at >= ?", *from)
		}
		if to != nil {
			qb = qb.Where("created_at < ?", *to)
		}
		return qb
	}

	var totals struct {
		OrderCount int64
		Revenue    decimal.Decimal
	}
	err := scope().
		Select("COUNT(*) AS order_count, COALESCE(SUM(total), 0) AS revenue").
		Scan(&totals).Error
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		OrderCount:      totals.OrderCount,
		Revenue:         totals.Revenue,
		ByStatus:        map[enums.OrderStatus]int64{},
		ByPaymentMethod: map[enums.PaymentMethod]int64{},
	}
	if totals.OrderCount > 0 {
		stats.AverageOrderValue = totals.Revenue.Div(decimal.NewFromInt(totals.OrderCount)).Round(2)
	} else {
		stats.AverageOrderValue = decimal.Zero
	}

	var statusRows []struct {
		OrderStatus enums.OrderStatus
		Count       int64
	}
	err = scope().
		Select("order_status, COUNT(*) AS count").
		Group("order_status").
		Scan(&statusRows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range statusRows {
		stats.ByStatus[row.OrderStatus] = row.Count
	}

	var methodRows []struct {
		PaymentMethod enums.PaymentMethod
		Count         int64
	}
	err = scope().
		Select("payment_method, COUNT(*) AS count").
		Group("payment_method").
		Scan(&methodRows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range methodRows {
		stats.ByPaymentMethod[row.PaymentMethod] = row.Count
	}

	return stats, nil
}

// NewOrderNumber mints a unique human-readable order reference.
func NewOrderNumber(now time.Time) string {
	suffix := make([]byte, 3)
	if _, err := rand.Read(suffix); err != nil {
		// fall back to the uuid entropy pool
		copy(suffix, uuid.New().NodeID())
	}
	return fmt.Sprintf("ORD-%d-%s", now.Unix(), strings.ToUpper(hex.EncodeToString(suffix)))
}
