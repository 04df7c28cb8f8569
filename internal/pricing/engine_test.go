package pricing

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/velora-commerce/storefront-backend/pkg/config"
	"github.com/velora-commerce/storefront-backend/pkg/enums"
	"github.com/velora-commerce/storefront-backend/pkg/types"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(config.PricingConfig{
		TaxRate:               "0.18",
		ShippingFee:           "100",
		FreeShippingThreshold: "1000",
		Currency:              "inr",
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine
}

func dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func assertAmount(t *testing.T, label string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(dec(want)) {
		t.Fatalf("%s: expected %s, got %s", label, want, got)
	}
}

func TestQuotePercentageCouponAboveFreeShipping(t *testing.T) {
	t.Parallel()
	engine := newTestEngine(t)

	quote := engine.Quote([]Line{
		{UnitPrice: dec("600"), Quantity: 2},
		{UnitPrice: dec("50"), Quantity: 1},
	}, &types.CouponSnapshot{
		Code:          "SAVE10",
		DiscountValue: dec("10"),
		DiscountType:  enums.DiscountTypePercentage,
	})

	assertAmount(t, "subtotal", quote.Subtotal, "1250")
	assertAmount(t, "discount", quote.Discount, "125")
	assertAmount(t, "tax", quote.Tax, "225")
	assertAmount(t, "shipping", quote.Shipping, "0")
	assertAmount(t, "total", quote.Total, "1350")
}

func TestQuoteFixedCouponCappedAtSubtotal(t *testing.T) {
	t.Parallel()
	engine := newTestEngine(t)

	quote := engine.Quote([]Line{
		{UnitPrice: dec("500"), Quantity: 1},
	}, &types.CouponSnapshot{
		Code:          "FLAT2000",
		DiscountValue: dec("2000"),
		DiscountType:  enums.DiscountTypeFixed,
	})

	assertAmount(t, "subtotal", quote.Subtotal, "500")
	assertAmount(t, "discount", quote.Discount, "500")
	// tax 90 still applies and shipping is charged below the threshold
	assertAmount(t, "tax", quote.Tax, "90")
	assertAmount(t, "shipping", quote.Shipping, "100")
	assertAmount(t, "total", quote.Total, "190")
}

func TestQuoteTaxAppliesToPreDiscountSubtotal(t *testing.T) {
	t.Parallel()
	engine := newTestEngine(t)

	quote := engine.Quote([]Line{
		{UnitPrice: dec("1000"), Quantity: 1},
	}, &types.CouponSnapshot{
		Code:          "HALF",
		DiscountValue: dec("50"),
		DiscountType:  enums.DiscountTypePercentage,
	})

	assertAmount(t, "discount", quote.Discount, "500")
	assertAmount(t, "tax", quote.Tax, "180")
	// subtotal of exactly 1000 does not clear the strict threshold
	assertAmount(t, "shipping", quote.Shipping, "100")
	assertAmount(t, "total", quote.Total, "780")
}

func TestQuotePercentageOverHundredClampsTotal(t *testing.T) {
	t.Parallel()
	engine := newTestEngine(t)

	quote := engine.Quote([]Line{
		{UnitPrice: dec("100"), Quantity: 1},
	}, &types.CouponSnapshot{
		Code:          "BROKEN",
		DiscountValue: dec("500"),
		DiscountType:  enums.DiscountTypePercentage,
	})

	assertAmount(t, "discount", quote.Discount, "500")
	assertAmount(t, "total", quote.Total, "0")
}

func TestQuoteEmptyCart(t *testing.T) {
	t.Parallel()
	engine := newTestEngine(t)

	quote := engine.Quote(nil, nil)

	assertAmount(t, "subtotal", quote.Subtotal, "0")
	assertAmount(t, "discount", quote.Discount, "0")
	assertAmount(t, "tax", quote.Tax, "0")
	assertAmount(t, "shipping", quote.Shipping, "100")
	assertAmount(t, "total", quote.Total, "100")
}

func TestNewEngineRejectsMalformedRates(t *testing.T) {
	t.Parallel()
	_, err := NewEngine(config.PricingConfig{
		TaxRate:               "eighteen",
		ShippingFee:           "100",
		FreeShippingThreshold: "1000",
	})
	if err == nil {
		t.Fatal("expected parse error")
	}
}
