package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/velora-commerce/storefront-backend/pkg/enums"
)

// Cart is the single mutable pre-order container per user. The row is
// created lazily on first add and survives checkout (items are emptied,
// the row stays).
type Cart struct {
	ID                  uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID              uuid.UUID           `gorm:"column:user_id;type:uuid;not null;uniqueIndex"`
	CouponCode          *string             `gorm:"column:coupon_code"`
	CouponDiscountValue *decimal.Decimal    `gorm:"column:coupon_discount_value;type:numeric(12,2)"`
	CouponDiscountType  *enums.DiscountType `gorm:"column:coupon_discount_type"`
	Items               []CartItem          `gorm:"foreignKey:CartID;constraint:OnDelete:CASCADE"`
	CreatedAt           time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// HasCoupon reports whether a coupon is currently applied.
func (c *Cart) HasCoupon() bool {
	return c != nil && c.CouponCode != nil && c.CouponDiscountValue != nil && c.CouponDiscountType != nil
}
