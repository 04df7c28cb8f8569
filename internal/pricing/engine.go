package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/velora-commerce/storefront-backend/pkg/config"
	"github.com/velora-commerce/storefront-backend/pkg/enums"
	"github.com/velora-commerce/storefront-backend/pkg/types"
)

// Line is one cart row priced at its snapshot.
type Line struct {
	UnitPrice decimal.Decimal
	Quantity  int
}

// Quote is the full price breakdown for a cart.
type Quote struct {
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Tax      decimal.Decimal
	Shipping decimal.Decimal
	Total    decimal.Decimal
}

// Engine derives order totals from cart lines and an optional coupon.
type Engine struct {
	taxRate               decimal.Decimal
	shippingFee           decimal.Decimal
	freeShippingThreshold decimal.Decimal
	currency              string
}

// NewEngine parses the configured pricing policy into an engine.
func NewEngine(cfg config.PricingConfig) (*Engine, error) {
	taxRate, err := decimal.NewFromString(cfg.TaxRate)
	if err != nil {
		return nil, fmt.Errorf("parsing tax rate %q: %w", cfg.TaxRate, err)
	}
	shippingFee, err := decimal.NewFromString(cfg.ShippingFee)
	if err != nil {
		return nil, fmt.Errorf("parsing shipping fee %q: %w", cfg.ShippingFee, err)
	}
	threshold, err := decimal.NewFromString(cfg.FreeShippingThreshold)
	if err != nil {
		return nil, fmt.Errorf("parsing free shipping threshold %q: %w", cfg.FreeShippingThreshold, err)
	}
	return &Engine{
		taxRate:               taxRate,
		shippingFee:           shippingFee,
		freeShippingThreshold: threshold,
		currency:              cfg.Currency,
	}, nil
}

// Currency reports the configured settlement currency code.
func (e *Engine) Currency() string {
	return e.currency
}

// Quote computes the breakdown for the given lines and coupon.
//
// Tax applies to the pre-discount subtotal, and shipping is waived only
// when the subtotal strictly exceeds the free-shipping threshold. A
// percentage coupon larger than 100 can push the total negative, so the
// final amount clamps at zero.
func (e *Engine) Quote(lines []Line, coupon *types.CouponSnapshot) Quote {
	subtotal := decimal.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}

	discount := e.discountFor(subtotal, coupon)
	tax := subtotal.Mul(e.taxRate).Round(2)
	shipping := e.shippingFee
	if subtotal.GreaterThan(e.freeShippingThreshold) {
		shipping = decimal.Zero
	}

	total := subtotal.Sub(discount).Add(tax).Add(shipping)
	if total.IsNegative() {
		total = decimal.Zero
	}

	return Quote{
		Subtotal: subtotal,
		Discount: discount,
		Tax:      tax,
		Shipping: shipping,
		Total:    total,
	}
}

func (e *Engine) discountFor(subtotal decimal.Decimal, coupon *types.CouponSnapshot) decimal.Decimal {
	if coupon == nil {
		return decimal.Zero
	}
	switch coupon.DiscountType {
	case enums.DiscountTypePercentage:
		return subtotal.Mul(coupon.DiscountValue).Div(decimal.NewFromInt(100)).Round(2)
	case enums.DiscountTypeFixed:
		if coupon.DiscountValue.GreaterThan(subtotal) {
			return subtotal
		}
		return coupon.DiscountValue
	default:
		return decimal.Zero
	}
}
