package checkout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/velora-commerce/storefront-backend/internal/cart"
	"github.com/velora-commerce/storefront-backend/internal/notifications"
	"github.com/velora-commerce/storefront-backend/internal/orders"
	"github.com/velora-commerce/storefront-backend/internal/pricing"
	product "github.com/velora-commerce/storefront-backend/internal/products"
	"github.com/velora-commerce/storefront-backend/pkg/config"
	"github.com/velora-commerce/storefront-backend/pkg/db/models"
	"github.com/velora-commerce/storefront-backend/pkg/enums"
	pkgerrors "github.com/velora-commerce/storefront-backend/pkg/errors"
	"github.com/velora-commerce/storefront-backend/pkg/stripe"
	"github.com/velora-commerce/storefront-backend/pkg/types"
)

var checkoutTables = []string{
	`CREATE TABLE IF NOT EXISTS products (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  description TEXT,
  price NUMERIC NOT NULL,
  image_url TEXT,
  is_active INTEGER NOT NULL DEFAULT 1,
  stock INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS carts (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL UNIQUE,
  coupon_code TEXT,
  coupon_discount_value NUMERIC,
  coupon_discount_type TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS cart_items (
  id TEXT PRIMARY KEY,
  cart_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  quantity INTEGER NOT NULL,
  price_snapshot NUMERIC NOT NULL,
  created_at DATETIME,
  updated_at DATETIME,
  UNIQUE (cart_id, product_id)
);`,
	`CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  order_number TEXT NOT NULL UNIQUE,
  user_id TEXT NOT NULL,
  shipping_address TEXT NOT NULL,
  billing_address TEXT,
  payment_method TEXT NOT NULL,
  subtotal NUMERIC NOT NULL,
  discount NUMERIC NOT NULL DEFAULT 0,
  tax NUMERIC NOT NULL DEFAULT 0,
  shipping NUMERIC NOT NULL DEFAULT 0,
  total NUMERIC NOT NULL,
  coupon TEXT,
  payment_status TEXT NOT NULL DEFAULT 'pending',
  order_status TEXT NOT NULL DEFAULT 'pending',
  payment_intent_id TEXT,
  tracking_number TEXT,
  estimated_delivery DATETIME NOT NULL,
  delivered_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS order_items (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  name TEXT NOT NULL,
  image_url TEXT,
  unit_price NUMERIC NOT NULL,
  quantity INTEGER NOT NULL,
  line_total NUMERIC NOT NULL,
  created_at DATETIME
);`,
}

func setupCheckoutTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	for _, stmt := range checkoutTables {
		require.NoError(t, db.Exec(stmt).Error)
	}
	t.Cleanup(func() {
		for _, table := range []string{"order_items", "orders", "cart_items", "carts", "products"} {
			db.Exec("DELETE FROM " + table)
		}
	})
	return db
}

type stubTxRunner struct {
	db *gorm.DB
}

func (s *stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

type stubBuyerLoader struct {
	users map[uuid.UUID]*models.User
}

func (s *stubBuyerLoader) FindByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	user, ok := s.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return user, nil
}

type stubGateway struct {
	created  []stripe.Intent
	statuses map[string]string
	fail     bool
}

func (s *stubGateway) CreateIntent(_ context.Context, amount decimal.Decimal, currency string, metadata map[string]string) (*stripe.Intent, error) {
	if s.fail {
		return nil, errors.New("gateway unavailable")
	}
	intent := stripe.Intent{
		ID:           "pi_" + uuid.NewString()[:8],
		ClientSecret: "secret_" + uuid.NewString()[:8],
		Status:       "requires_payment_method",
		AmountMinor:  amount.Mul(decimal.NewFromInt(100)).IntPart(),
		Currency:     currency,
	}
	s.created = append(s.created, intent)
	return &intent, nil
}

func (s *stubGateway) RetrieveIntent(_ context.Context, id string) (*stripe.Intent, error) {
	status, ok := s.statuses[id]
	if !ok {
		return nil, errors.New("no such intent")
	}
	return &stripe.Intent{ID: id, Status: status}, nil
}

type recordingSink struct {
	confirmations []notifications.OrderConfirmation
	err           error
}

func (r *recordingSink) SendOrderConfirmation(_ context.Context, msg notifications.OrderConfirmation) error {
	r.confirmations = append(r.confirmations, msg)
	return r.err
}

func (r *recordingSink) SendNewsletterWelcome(context.Context, string) error { return nil }

type checkoutFixture struct {
	svc      Service
	db       *gorm.DB
	cartRepo cart.Repository
	products product.Repository
	orders   orders.Repository
	gateway  *stubGateway
	sink     *recordingSink
	buyer    *models.User
}

func newCheckoutFixture(t *testing.T) *checkoutFixture {
	t.Helper()

	db := setupCheckoutTestDB(t)
	engine, err := pricing.NewEngine(config.PricingConfig{
		TaxRate:               "0.18",
		ShippingFee:           "100",
		FreeShippingThreshold: "1000",
		Currency:              "inr",
	})
	require.NoError(t, err)

	buyer := &models.User{
		ID:        uuid.New(),
		Email:     "shopper@example.com",
		FirstName: "Asha",
		LastName:  "Rao",
		Role:      enums.UserRoleCustomer,
		IsActive:  true,
	}
	gateway := &stubGateway{statuses: map[string]string{}}
	sink := &recordingSink{}
	cartRepo := cart.NewRepository(db)
	productRepo := product.NewRepository(db)
	ordersRepo := orders.NewRepository(db)

	svc, err := NewService(
		&stubTxRunner{db: db},
		cartRepo,
		ordersRepo,
		productRepo,
		&stubBuyerLoader{users: map[uuid.UUID]*models.User{buyer.ID: buyer}},
		engine,
		gateway,
		sink,
		nil,
		config.CheckoutConfig{MaxLineQuantity: 10, EstimatedDeliveryDays: 5},
	)
	require.NoError(t, err)

	return &checkoutFixture{
		svc:      svc,
		db:       db,
		cartRepo: cartRepo,
		products: productRepo,
		orders:   ordersRepo,
		gateway:  gateway,
		sink:     sink,
		buyer:    buyer,
	}
}

func (f *checkoutFixture) seedProduct(t *testing.T, price int64, stock int, active bool) *models.Product {
	t.Helper()
	p := &models.Product{
		ID:        uuid.New(),
		Name:      "Product " + uuid.NewString()[:8],
		Price:     decimal.NewFromInt(price),
		IsActive:  active,
		Stock:     stock,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, f.db.Create(p).Error)
	return p
}

func (f *checkoutFixture) seedCart(t *testing.T, items map[uuid.UUID]int, coupon *types.CouponSnapshot) {
	t.Helper()
	record := &models.Cart{ID: uuid.New(), UserID: f.buyer.ID}
	if coupon != nil {
		record.CouponCode = &coupon.Code
		record.CouponDiscountValue = &coupon.DiscountValue
		record.CouponDiscountType = &coupon.DiscountType
	}
	require.NoError(t, f.db.Create(record).Error)
	for productID, qty := range items {
		var p models.Product
		require.NoError(t, f.db.First(&p, "id = ?", productID).Error)
		require.NoError(t, f.db.Create(&models.CartItem{
			ID:            uuid.New(),
			CartID:        record.ID,
			ProductID:     productID,
			Quantity:      qty,
			PriceSnapshot: p.Price,
		}).Error)
	}
}

func shippingAddr() types.Address {
	return types.Address{
		Name: "Asha Rao", Line1: "12 Hill Rd", City: "Pune",
		State: "MH", PostalCode: "411001", Country: "IN",
	}
}

func assertCode(t *testing.T, err error, code pkgerrors.Code) {
	t.Helper()
	require.Error(t, err)
	coded := pkgerrors.As(err)
	require.NotNil(t, coded, "expected coded error, got %v", err)
	assert.Equal(t, code, coded.Code())
}

func TestCreateOrderPrepaidHappyPath(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()

	p1 := f.seedProduct(t, 600, 5, true)
	p2 := f.seedProduct(t, 50, 5, true)
	coupon := &types.CouponSnapshot{
		Code:          "SAVE10",
		DiscountValue: decimal.NewFromInt(10),
		DiscountType:  enums.DiscountTypePercentage,
	}
	f.seedCart(t, map[uuid.UUID]int{p1.ID: 2, p2.ID: 1}, coupon)

	result, err := f.svc.CreateOrder(ctx, f.buyer.ID, CreateOrderInput{
		ShippingAddress: shippingAddr(),
		PaymentMethod:   enums.PaymentMethodUPI,
	})
	require.NoError(t, err)

	order := result.Order
	assert.True(t, order.Subtotal.Equal(decimal.NewFromInt(1250)), "subtotal %s", order.Subtotal)
	assert.True(t, order.Discount.Equal(decimal.NewFromInt(125)))
	assert.True(t, order.Tax.Equal(decimal.NewFromInt(225)))
	assert.True(t, order.Shipping.IsZero())
	assert.True(t, order.Total.Equal(decimal.NewFromInt(1350)))
	assert.Equal(t, enums.PaymentStatusCompleted, order.PaymentStatus, "prepaid settles immediately")
	assert.Equal(t, enums.OrderStatusPending, order.OrderStatus)
	assert.Empty(t, result.ClientSecret)
	require.NotNil(t, order.Coupon)
	assert.Equal(t, "SAVE10", order.Coupon.Code)

	// stock charged
	reloaded, err := f.products.FindByID(ctx, p1.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, reloaded.Stock)

	// cart emptied, coupon dropped
	cartRow, err := f.cartRepo.FindByUserID(ctx, f.buyer.ID)
	require.NoError(t, err)
	assert.Empty(t, cartRow.Items)
	assert.False(t, cartRow.HasCoupon())

	// confirmation went out
	require.Len(t, f.sink.confirmations, 1)
	assert.Equal(t, "shopper@example.com", f.sink.confirmations[0].To)
	assert.Equal(t, order.OrderNumber, f.sink.confirmations[0].OrderNumber)
}

func TestCreateOrderCardRequestsIntent(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()

	p := f.seedProduct(t, 500, 5, true)
	f.seedCart(t, map[uuid.UUID]int{p.ID: 1}, nil)

	result, err := f.svc.CreateOrder(ctx, f.buyer.ID, CreateOrderInput{
		ShippingAddress: shippingAddr(),
		PaymentMethod:   enums.PaymentMethodCard,
	})
	require.NoError(t, err)

	assert.Equal(t, enums.PaymentStatusPending, result.Order.PaymentStatus)
	assert.NotEmpty(t, result.ClientSecret)
	require.NotNil(t, result.Order.PaymentIntentID)

	require.Len(t, f.gateway.created, 1)
	// 500 + 90 tax + 100 shipping = 690, in minor units
	assert.Equal(t, int64(69000), f.gateway.created[0].AmountMinor)
	assert.Equal(t, "inr", f.gateway.created[0].Currency)
}

func TestCreateOrderCODStaysPending(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()

	p := f.seedProduct(t, 200, 5, true)
	f.seedCart(t, map[uuid.UUID]int{p.ID: 1}, nil)

	result, err := f.svc.CreateOrder(ctx, f.buyer.ID, CreateOrderInput{
		ShippingAddress: shippingAddr(),
		PaymentMethod:   enums.PaymentMethodCOD,
	})
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPending, result.Order.PaymentStatus)
	assert.Empty(t, result.ClientSecret)
}

func TestCreateOrderFailsClosedOnStock(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()

	p := f.seedProduct(t, 100, 1, true)
	f.seedCart(t, map[uuid.UUID]int{p.ID: 3}, nil)

	_, err := f.svc.CreateOrder(ctx, f.buyer.ID, CreateOrderInput{
		ShippingAddress: shippingAddr(),
		PaymentMethod:   enums.PaymentMethodUPI,
	})
	assertCode(t, err, pkgerrors.CodeInsufficientStock)

	// nothing was written and nothing was decremented
	reloaded, err := f.products.FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.Stock)

	var count int64
	require.NoError(t, f.db.Table("orders").Count(&count).Error)
	assert.Zero(t, count)

	cartRow, err := f.cartRepo.FindByUserID(ctx, f.buyer.ID)
	require.NoError(t, err)
	assert.Len(t, cartRow.Items, 1, "cart survives a failed checkout")
}

func TestCreateOrderRejectsInactiveProduct(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()

	p := f.seedProduct(t, 100, 5, false)
	f.seedCart(t, map[uuid.UUID]int{p.ID: 1}, nil)

	_, err := f.svc.CreateOrder(ctx, f.buyer.ID, CreateOrderInput{
		ShippingAddress: shippingAddr(),
		PaymentMethod:   enums.PaymentMethodUPI,
	})
	assertCode(t, err, pkgerrors.CodeProductUnavailable)
}

func TestCreateOrderKeepsPendingOrderWhenGatewayFails(t *testing.T) {
	f := newCheckoutFixture(t)
	f.gateway.fail = true
	ctx := context.Background()

	p := f.seedProduct(t, 100, 5, true)
	f.seedCart(t, map[uuid.UUID]int{p.ID: 1}, nil)

	_, err := f.svc.CreateOrder(ctx, f.buyer.ID, CreateOrderInput{
		ShippingAddress: shippingAddr(),
		PaymentMethod:   enums.PaymentMethodCard,
	})
	assertCode(t, err, pkgerrors.CodePaymentFailed)

	// the pending order survives so the buyer can retry payment
	var saved models.Order
	require.NoError(t, f.db.First(&saved, "user_id = ?", f.buyer.ID).Error)
	assert.Equal(t, enums.PaymentStatusPending, saved.PaymentStatus)
	assert.Equal(t, enums.OrderStatusPending, saved.OrderStatus)
	assert.Nil(t, saved.PaymentIntentID)

	// stock and cart are held back until a charge is actually underway
	reloaded, err := f.products.FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, reloaded.Stock)

	cartRow, err := f.cartRepo.FindByUserID(ctx, f.buyer.ID)
	require.NoError(t, err)
	assert.Len(t, cartRow.Items, 1)

	assert.Empty(t, f.sink.confirmations, "no confirmation for an uncharged order")
}

func TestCreateOrderEmptyCart(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()

	f.seedCart(t, nil, nil)
	_, err := f.svc.CreateOrder(ctx, f.buyer.ID, CreateOrderInput{
		ShippingAddress: shippingAddr(),
		PaymentMethod:   enums.PaymentMethodUPI,
	})
	assertCode(t, err, pkgerrors.CodeValidation)
}

func TestCreateOrderMissingCart(t *testing.T) {
	f := newCheckoutFixture(t)

	_, err := f.svc.CreateOrder(context.Background(), f.buyer.ID, CreateOrderInput{
		ShippingAddress: shippingAddr(),
		PaymentMethod:   enums.PaymentMethodUPI,
	})
	assertCode(t, err, pkgerrors.CodeNotFound)
}

func TestCreateOrderNotificationFailureDoesNotFailCheckout(t *testing.T) {
	f := newCheckoutFixture(t)
	f.sink.err = errors.New("smtp down")
	ctx := context.Background()

	p := f.seedProduct(t, 300, 5, true)
	f.seedCart(t, map[uuid.UUID]int{p.ID: 1}, nil)

	result, err := f.svc.CreateOrder(ctx, f.buyer.ID, CreateOrderInput{
		ShippingAddress: shippingAddr(),
		PaymentMethod:   enums.PaymentMethodWallet,
	})
	require.NoError(t, err)
	assert.NotNil(t, result.Order)
}

func TestConfirmPaymentSucceededIsIdempotent(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()

	p := f.seedProduct(t, 500, 5, true)
	f.seedCart(t, map[uuid.UUID]int{p.ID: 1}, nil)

	result, err := f.svc.CreateOrder(ctx, f.buyer.ID, CreateOrderInput{
		ShippingAddress: shippingAddr(),
		PaymentMethod:   enums.PaymentMethodCard,
	})
	require.NoError(t, err)
	intentID := *result.Order.PaymentIntentID
	f.gateway.statuses[intentID] = "succeeded"

	sinkBefore := len(f.sink.confirmations)

	order, err := f.svc.ConfirmPayment(ctx, result.Order.ID, intentID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusCompleted, order.PaymentStatus)
	assert.Len(t, f.sink.confirmations, sinkBefore+1)

	// second confirmation is a quiet no-op
	again, err := f.svc.ConfirmPayment(ctx, result.Order.ID, intentID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusCompleted, again.PaymentStatus)
	assert.Len(t, f.sink.confirmations, sinkBefore+1)
}

func TestConfirmPaymentFailedIntentDoesNotMutate(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()

	p := f.seedProduct(t, 500, 5, true)
	f.seedCart(t, map[uuid.UUID]int{p.ID: 1}, nil)

	result, err := f.svc.CreateOrder(ctx, f.buyer.ID, CreateOrderInput{
		ShippingAddress: shippingAddr(),
		PaymentMethod:   enums.PaymentMethodCard,
	})
	require.NoError(t, err)
	intentID := *result.Order.PaymentIntentID
	f.gateway.statuses[intentID] = "requires_payment_method"

	_, err = f.svc.ConfirmPayment(ctx, result.Order.ID, intentID)
	assertCode(t, err, pkgerrors.CodePaymentFailed)

	reloaded, err := f.orders.FindByID(ctx, result.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPending, reloaded.PaymentStatus)
}

func TestConfirmPaymentMismatchedIntent(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()

	p := f.seedProduct(t, 500, 5, true)
	f.seedCart(t, map[uuid.UUID]int{p.ID: 1}, nil)

	result, err := f.svc.CreateOrder(ctx, f.buyer.ID, CreateOrderInput{
		ShippingAddress: shippingAddr(),
		PaymentMethod:   enums.PaymentMethodCard,
	})
	require.NoError(t, err)

	_, err = f.svc.ConfirmPayment(ctx, result.Order.ID, "pi_someone_elses")
	assertCode(t, err, pkgerrors.CodeValidation)
}
