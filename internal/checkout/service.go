package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
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
	"github.com/velora-commerce/storefront-backend/pkg/metrics"
	"github.com/velora-commerce/storefront-backend/pkg/stripe"
	"github.com/velora-commerce/storefront-backend/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type buyerLoader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// CreateOrderInput is the validated checkout payload.
type CreateOrderInput struct {
	ShippingAddress types.Address
	BillingAddress  *types.Address
	PaymentMethod   enums.PaymentMethod
}

// Result is the checkout outcome. ClientSecret is set only for card
// payments, where the client completes the charge against the gateway.
type Result struct {
	Order        *models.Order
	ClientSecret string
}

// Service drives the order state machine from cart to placed order.
type Service interface {
	CreateOrder(ctx context.Context, userID uuid.UUID, input CreateOrderInput) (*Result, error)
	ConfirmPayment(ctx context.Context, orderID uuid.UUID, paymentIntentID string) (*models.Order, error)
}

type service struct {
	tx          txRunner
	cartRepo    cart.Repository
	ordersRepo  orders.Repository
	productRepo product.Repository
	users       buyerLoader
	engine      *pricing.Engine
	gateway     stripe.Gateway
	notifier    notifications.Sink
	metrics     *metrics.CheckoutMetrics
	cfg         config.CheckoutConfig
}

// NewService builds the checkout coordinator.
func NewService(
	tx txRunner,
	cartRepo cart.Repository,
	ordersRepo orders.Repository,
	productRepo product.Repository,
	users buyerLoader,
	engine *pricing.Engine,
	gateway stripe.Gateway,
	notifier notifications.Sink,
	checkoutMetrics *metrics.CheckoutMetrics,
	cfg config.CheckoutConfig,
) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if cartRepo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if ordersRepo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if productRepo == nil {
		return nil, fmt.Errorf("product repository required")
	}
	if users == nil {
		return nil, fmt.Errorf("user loader required")
	}
	if engine == nil {
		return nil, fmt.Errorf("pricing engine required")
	}
	if notifier == nil {
		notifier = notifications.NoopSink{}
	}
	return &service{
		tx:          tx,
		cartRepo:    cartRepo,
		ordersRepo:  ordersRepo,
		productRepo: productRepo,
		users:       users,
		engine:      engine,
		gateway:     gateway,
		notifier:    notifier,
		metrics:     checkoutMetrics,
		cfg:         cfg,
	}, nil
}

// CreateOrder validates the cart against live catalog state, then freezes
// the order, charges stock, and clears the cart in a single transaction.
// Stock comes off only after the order row is written, so a failed write
// never leaks inventory. When the payment gateway refuses an intent the
// pending order still commits, stock and cart untouched, so the buyer can
// retry payment against the same order.
func (s *service) CreateOrder(ctx context.Context, userID uuid.UUID, input CreateOrderInput) (*Result, error) {
	started := time.Now()

	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if !input.PaymentMethod.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown payment method %q", input.PaymentMethod))
	}
	if err := input.ShippingAddress.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "shipping address")
	}
	if input.BillingAddress != nil {
		if err := input.BillingAddress.Validate(); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "billing address")
		}
	}

	buyer, err := s.loadBuyer(ctx, userID)
	if err != nil {
		return nil, err
	}

	var result *Result
	var intentErr error
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		cartRepo := s.cartRepo.WithTx(tx)
		ordersRepo := s.ordersRepo.WithTx(tx)
		productRepo := s.productRepo.WithTx(tx)

		record, err := cartRepo.FindByUserID(ctx, userID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
			}
			return err
		}
		if len(record.Items) == 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "cart contains no items")
		}

		// the advisory cart-time checks have gone stale by now; this
		// pass against live rows is the one that counts
		lines := make([]pricing.Line, 0, len(record.Items))
		items := make([]models.OrderItem, 0, len(record.Items))
		for _, line := range record.Items {
			p, err := productRepo.FindByID(ctx, line.ProductID)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return pkgerrors.New(pkgerrors.CodeProductUnavailable, "a cart item is no longer sold")
				}
				return err
			}
			if !p.IsActive {
				return pkgerrors.New(pkgerrors.CodeProductUnavailable, fmt.Sprintf("%s is no longer available", p.Name))
			}
			if line.Quantity > p.Stock {
				return pkgerrors.New(pkgerrors.CodeInsufficientStock, fmt.Sprintf("only %d of %s left", p.Stock, p.Name))
			}
			lines = append(lines, pricing.Line{UnitPrice: p.Price, Quantity: line.Quantity})
			items = append(items, models.OrderItem{
				ProductID: p.ID,
				Name:      p.Name,
				ImageURL:  p.ImageURL,
				UnitPrice: p.Price,
				Quantity:  line.Quantity,
				LineTotal: p.Price.Mul(decimalFromInt(line.Quantity)),
			})
		}

		coupon := cart.CouponSnapshot(record)
		quote := s.engine.Quote(lines, coupon)

		now := time.Now().UTC()
		order := &models.Order{
			OrderNumber:       orders.NewOrderNumber(now),
			UserID:            userID,
			Items:             items,
			ShippingAddress:   input.ShippingAddress,
			BillingAddress:    input.BillingAddress,
			PaymentMethod:     input.PaymentMethod,
			Subtotal:          quote.Subtotal,
			Discount:          quote.Discount,
			Tax:               quote.Tax,
			Shipping:          quote.Shipping,
			Total:             quote.Total,
			Coupon:            coupon,
			PaymentStatus:     initialPaymentStatus(input.PaymentMethod),
			OrderStatus:       enums.OrderStatusPending,
			EstimatedDelivery: now.AddDate(0, 0, s.deliveryDays()),
		}

		created, err := ordersRepo.Create(ctx, order)
		if err != nil {
			return err
		}

		clientSecret := ""
		if input.PaymentMethod == enums.PaymentMethodCard {
			if s.gateway == nil {
				return pkgerrors.New(pkgerrors.CodeDependency, "card payments are not configured")
			}
			intent, err := s.gateway.CreateIntent(ctx, quote.Total, s.engine.Currency(), map[string]string{
				"order_id":     created.ID.String(),
				"order_number": created.OrderNumber,
			})
			if err != nil {
				// commit the pending order anyway; the buyer retries
				// payment against it instead of building a new cart
				intentErr = pkgerrors.Wrap(pkgerrors.CodePaymentFailed, err, "create payment intent")
				result = &Result{Order: created}
				return nil
			}
			clientSecret = intent.ClientSecret
			created.PaymentIntentID = &intent.ID
			if err := ordersRepo.UpdateFields(ctx, created.ID, map[string]any{
				"payment_intent_id": intent.ID,
			}); err != nil {
				return err
			}
		}

		for _, item := range items {
			ok, err := productRepo.DecrementStock(ctx, item.ProductID, item.Quantity)
			if err != nil {
				return err
			}
			if !ok {
				return pkgerrors.New(pkgerrors.CodeInsufficientStock, fmt.Sprintf("%s sold out while checking out", item.Name))
			}
		}

		if err := cartRepo.DeleteItems(ctx, record.ID); err != nil {
			return err
		}
		if err := cartRepo.UpdateCoupon(ctx, record.ID, map[string]any{
			"coupon_code":           nil,
			"coupon_discount_value": nil,
			"coupon_discount_type":  nil,
		}); err != nil {
			return err
		}

		result = &Result{Order: created, ClientSecret: clientSecret}
		return nil
	})
	if err != nil {
		s.recordFailure(err)
		return nil, err
	}
	if intentErr != nil {
		s.recordFailure(intentErr)
		return nil, intentErr
	}

	s.metrics.IncCreated(result.Order.PaymentMethod.String())
	s.metrics.ObserveDuration(result.Order.PaymentMethod.String(), time.Since(started))

	// best-effort; the order stands even if the mail never leaves
	_ = s.notifier.SendOrderConfirmation(ctx, notifications.OrderConfirmation{
		To:          buyer.Email,
		Name:        buyer.FirstName,
		OrderNumber: result.Order.OrderNumber,
		Total:       result.Order.Total,
		Currency:    s.engine.Currency(),
	})

	return result, nil
}

// ConfirmPayment checks the gateway and marks the order paid. Calling it
// again for an already-completed order is a no-op success.
func (s *service) ConfirmPayment(ctx context.Context, orderID uuid.UUID, paymentIntentID string) (*models.Order, error) {
	if paymentIntentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment intent id required")
	}

	order, err := s.ordersRepo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order.PaymentIntentID == nil || *order.PaymentIntentID != paymentIntentID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment intent does not match this order")
	}
	if order.PaymentStatus == enums.PaymentStatusCompleted {
		return order, nil
	}
	if s.gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "card payments are not configured")
	}

	intent, err := s.gateway.RetrieveIntent(ctx, paymentIntentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "retrieve payment intent")
	}
	if !intent.Succeeded() {
		return nil, pkgerrors.New(pkgerrors.CodePaymentFailed, fmt.Sprintf("payment intent is %s", intent.Status))
	}

	if err := s.ordersRepo.UpdateFields(ctx, order.ID, map[string]any{
		"payment_status": enums.PaymentStatusCompleted,
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order paid")
	}
	order.PaymentStatus = enums.PaymentStatusCompleted

	if buyer, err := s.loadBuyer(ctx, order.UserID); err == nil {
		_ = s.notifier.SendOrderConfirmation(ctx, notifications.OrderConfirmation{
			To:          buyer.Email,
			Name:        buyer.FirstName,
			OrderNumber: order.OrderNumber,
			Total:       order.Total,
			Currency:    s.engine.Currency(),
		})
	}

	return order, nil
}

func (s *service) loadBuyer(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	buyer, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user")
	}
	return buyer, nil
}

func (s *service) deliveryDays() int {
	if s.cfg.EstimatedDeliveryDays > 0 {
		return s.cfg.EstimatedDeliveryDays
	}
	return 5
}

func (s *service) recordFailure(err error) {
	reason := "internal"
	if coded := pkgerrors.As(err); coded != nil {
		reason = string(coded.Code())
	}
	s.metrics.IncFailure(reason)
}

func decimalFromInt(v int) decimal.Decimal {
	return decimal.NewFromInt(int64(v))
}

// initialPaymentStatus mirrors how each method settles: prepaid rails
// settle immediately, card waits for the gateway, cash on delivery waits
// for the doorstep.
func initialPaymentStatus(method enums.PaymentMethod) enums.PaymentStatus {
	if method.IsPrepaid() {
		return enums.PaymentStatusCompleted
	}
	return enums.PaymentStatusPending
}
