package types

import (
	"github.com/shopspring/decimal"

	"github.com/velora-commerce/storefront-backend/pkg/enums"
)

// CouponSnapshot freezes the coupon applied to a cart into the order record.
type CouponSnapshot struct {
	Code          string             `json:"code"`
	DiscountValue decimal.Decimal    `json:"discount_value"`
	DiscountType  enums.DiscountType `json:"discount_type"`
}
