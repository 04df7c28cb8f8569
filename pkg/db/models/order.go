package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/velora-commerce/storefront-backend/pkg/enums"
	"github.com/velora-commerce/storefront-backend/pkg/types"
)

// Order is the immutable-core record of a completed checkout. Only
// PaymentStatus, OrderStatus, TrackingNumber and DeliveredAt change after
// creation; every money field and item snapshot is frozen.
type Order struct {
	ID                uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderNumber       string                `gorm:"column:order_number;not null;uniqueIndex"`
	UserID            uuid.UUID             `gorm:"column:user_id;type:uuid;not null;index"`
	Items             []OrderItem           `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	ShippingAddress   types.Address         `gorm:"column:shipping_address;type:jsonb;serializer:json"`
	BillingAddress    *types.Address        `gorm:"column:billing_address;type:jsonb;serializer:json"`
	PaymentMethod     enums.PaymentMethod   `gorm:"column:payment_method;not null"`
	Subtotal          decimal.Decimal       `gorm:"column:subtotal;type:numeric(12,2);not null"`
	Discount          decimal.Decimal       `gorm:"column:discount;type:numeric(12,2);not null;default:0"`
	Tax               decimal.Decimal       `gorm:"column:tax;type:numeric(12,2);not null;default:0"`
	Shipping          decimal.Decimal       `gorm:"column:shipping;type:numeric(12,2);not null;default:0"`
	Total             decimal.Decimal       `gorm:"column:total;type:numeric(12,2);not null"`
	Coupon            *types.CouponSnapshot `gorm:"column:coupon;type:jsonb;serializer:json"`
	PaymentStatus     enums.PaymentStatus   `gorm:"column:payment_status;not null;default:'pending'"`
	OrderStatus       enums.OrderStatus     `gorm:"column:order_status;not null;default:'pending'"`
	PaymentIntentID   *string               `gorm:"column:payment_intent_id"`
	TrackingNumber    *string               `gorm:"column:tracking_number"`
	EstimatedDelivery time.Time             `gorm:"column:estimated_delivery;not null"`
	DeliveredAt       *time.Time            `gorm:"column:delivered_at"`
	CreatedAt         time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}
