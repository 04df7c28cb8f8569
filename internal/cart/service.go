package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/velora-commerce/storefront-backend/internal/pricing"
	"github.com/velora-commerce/storefront-backend/pkg/db/models"
	"github.com/velora-commerce/storefront-backend/pkg/enums"
	pkgerrors "github.com/velora-commerce/storefront-backend/pkg/errors"
	"github.com/velora-commerce/storefront-backend/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type catalogReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Product, error)
}

// View is a cart plus its current price breakdown.
type View struct {
	Cart  *models.Cart
	Quote pricing.Quote
}

// CouponInput is the validated coupon payload.
type CouponInput struct {
	Code          string
	DiscountValue decimal.Decimal
	DiscountType  enums.DiscountType
}

// Service exposes per-user cart mutations. Every mutation re-reads the
// catalog so the stored price snapshots never go stale.
type Service interface {
	GetCart(ctx context.Context, userID uuid.UUID) (*View, error)
	AddItem(ctx context.Context, userID, productID uuid.UUID, qty int) (*View, error)
	UpdateQuantity(ctx context.Context, userID, productID uuid.UUID, qty int) (*View, error)
	RemoveItem(ctx context.Context, userID, productID uuid.UUID) (*View, error)
	Clear(ctx context.Context, userID uuid.UUID) error
	ApplyCoupon(ctx context.Context, userID uuid.UUID, input CouponInput) (*View, error)
}

type service struct {
	repo       Repository
	tx         txRunner
	catalog    catalogReader
	engine     *pricing.Engine
	maxLineQty int
}

// NewService builds a cart service backed by the provided stack.
func NewService(repo Repository, tx txRunner, catalog catalogReader, engine *pricing.Engine, maxLineQty int) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if catalog == nil {
		return nil, fmt.Errorf("catalog reader required")
	}
	if engine == nil {
		return nil, fmt.Errorf("pricing engine required")
	}
	if maxLineQty <= 0 {
		maxLineQty = 10
	}
	return &service{
		repo:       repo,
		tx:         tx,
		catalog:    catalog,
		engine:     engine,
		maxLineQty: maxLineQty,
	}, nil
}

// GetCart returns the user's cart, or an empty view when none exists yet.
func (s *service) GetCart(ctx context.Context, userID uuid.UUID) (*View, error) {
	cart, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			empty := &models.Cart{UserID: userID}
			return &View{Cart: empty, Quote: s.quoteFor(empty)}, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	return &View{Cart: cart, Quote: s.quoteFor(cart)}, nil
}

// AddItem appends qty of the product, merging into an existing line.
func (s *service) AddItem(ctx context.Context, userID, productID uuid.UUID, qty int) (*View, error) {
	if qty < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
	}
	if qty > s.maxLineQty {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("quantity cannot exceed %d per item", s.maxLineQty))
	}

	product, err := s.loadSellableProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)

		cart, err := txRepo.FindByUserID(ctx, userID)
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			cart, err = txRepo.Create(ctx, &models.Cart{UserID: userID})
			if err != nil {
				return err
			}
		}

		line := findLine(cart, productID)
		newQty := qty
		if line != nil {
			newQty = line.Quantity + qty
		}
		if newQty > s.maxLineQty {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("quantity cannot exceed %d per item", s.maxLineQty))
		}
		if newQty > product.Stock {
			return pkgerrors.New(pkgerrors.CodeInsufficientStock, fmt.Sprintf("only %d left in stock", product.Stock))
		}

		if line == nil {
			line = &models.CartItem{CartID: cart.ID, ProductID: productID}
		}
		line.Quantity = newQty
		line.PriceSnapshot = product.Price
		if err := txRepo.SaveItem(ctx, line); err != nil {
			return err
		}
		return s.refreshPrices(ctx, txRepo, cart.ID, userID)
	})
	if err != nil {
		return nil, wrapCartErr(err, "add cart item")
	}
	return s.GetCart(ctx, userID)
}

// UpdateQuantity overwrites a line's quantity. Zero removes the line.
func (s *service) UpdateQuantity(ctx context.Context, userID, productID uuid.UUID, qty int) (*View, error) {
	if qty == 0 {
		return s.RemoveItem(ctx, userID, productID)
	}
	if qty < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity cannot be negative")
	}
	if qty > s.maxLineQty {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("quantity cannot exceed %d per item", s.maxLineQty))
	}

	product, err := s.loadSellableProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if qty > product.Stock {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientStock, fmt.Sprintf("only %d left in stock", product.Stock))
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)

		cart, err := txRepo.FindByUserID(ctx, userID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
			}
			return err
		}
		line := findLine(cart, productID)
		if line == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "item not in cart")
		}

		line.Quantity = qty
		line.PriceSnapshot = product.Price
		if err := txRepo.SaveItem(ctx, line); err != nil {
			return err
		}
		return s.refreshPrices(ctx, txRepo, cart.ID, userID)
	})
	if err != nil {
		return nil, wrapCartErr(err, "update cart item")
	}
	return s.GetCart(ctx, userID)
}

// RemoveItem deletes a line. A missing cart is an error, not a no-op.
func (s *service) RemoveItem(ctx context.Context, userID, productID uuid.UUID) (*View, error) {
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)

		cart, err := txRepo.FindByUserID(ctx, userID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
			}
			return err
		}
		removed, err := txRepo.DeleteItem(ctx, cart.ID, productID)
		if err != nil {
			return err
		}
		if !removed {
			return pkgerrors.New(pkgerrors.CodeNotFound, "item not in cart")
		}
		return s.refreshPrices(ctx, txRepo, cart.ID, userID)
	})
	if err != nil {
		return nil, wrapCartErr(err, "remove cart item")
	}
	return s.GetCart(ctx, userID)
}

// Clear empties the cart and drops any coupon. A missing cart is an error.
func (s *service) Clear(ctx context.Context, userID uuid.UUID) error {
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)

		cart, err := txRepo.FindByUserID(ctx, userID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
			}
			return err
		}
		if err := txRepo.DeleteItems(ctx, cart.ID); err != nil {
			return err
		}
		return txRepo.UpdateCoupon(ctx, cart.ID, map[string]any{
			"coupon_code":           nil,
			"coupon_discount_value": nil,
			"coupon_discount_type":  nil,
		})
	})
	return wrapCartErr(err, "clear cart")
}

// ApplyCoupon overwrites the cart's coupon. No stacking.
func (s *service) ApplyCoupon(ctx context.Context, userID uuid.UUID, input CouponInput) (*View, error) {
	if input.Code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "coupon code is required")
	}
	if !input.DiscountType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "discount type must be percentage or fixed")
	}
	if input.DiscountValue.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "discount value cannot be negative")
	}
	if input.DiscountType == enums.DiscountTypePercentage && input.DiscountValue.GreaterThan(decimal.NewFromInt(100)) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "percentage discount cannot exceed 100")
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)

		cart, err := txRepo.FindByUserID(ctx, userID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
			}
			return err
		}
		if err := txRepo.UpdateCoupon(ctx, cart.ID, map[string]any{
			"coupon_code":           input.Code,
			"coupon_discount_value": input.DiscountValue,
			"coupon_discount_type":  input.DiscountType,
		}); err != nil {
			return err
		}
		return s.refreshPrices(ctx, txRepo, cart.ID, userID)
	})
	if err != nil {
		return nil, wrapCartErr(err, "apply coupon")
	}
	return s.GetCart(ctx, userID)
}

// refreshPrices re-reads every line's product. Inactive or deleted
// products drop out of the cart silently; live ones get their snapshot
// updated to the current price.
func (s *service) refreshPrices(ctx context.Context, txRepo Repository, cartID, userID uuid.UUID) error {
	cart, err := txRepo.FindByUserID(ctx, userID)
	if err != nil {
		return err
	}
	for i := range cart.Items {
		line := &cart.Items[i]
		product, err := s.catalog.FindByID(ctx, line.ProductID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				if _, err := txRepo.DeleteItem(ctx, cartID, line.ProductID); err != nil {
					return err
				}
				continue
			}
			return err
		}
		if !product.IsActive {
			if _, err := txRepo.DeleteItem(ctx, cartID, line.ProductID); err != nil {
				return err
			}
			continue
		}
		if !line.PriceSnapshot.Equal(product.Price) {
			line.PriceSnapshot = product.Price
			if err := txRepo.SaveItem(ctx, line); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *service) loadSellableProduct(ctx context.Context, productID uuid.UUID) (*models.Product, error) {
	product, err := s.catalog.FindByID(ctx, productID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}
	if !product.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeProductUnavailable, "product is no longer available")
	}
	return product, nil
}

func (s *service) quoteFor(cart *models.Cart) pricing.Quote {
	lines := make([]pricing.Line, 0, len(cart.Items))
	for _, item := range cart.Items {
		lines = append(lines, pricing.Line{UnitPrice: item.PriceSnapshot, Quantity: item.Quantity})
	}
	return s.engine.Quote(lines, CouponSnapshot(cart))
}

// CouponSnapshot freezes the cart's coupon columns into a value object.
func CouponSnapshot(cart *models.Cart) *types.CouponSnapshot {
	if !cart.HasCoupon() {
		return nil
	}
	return &types.CouponSnapshot{
		Code:          *cart.CouponCode,
		DiscountValue: *cart.CouponDiscountValue,
		DiscountType:  *cart.CouponDiscountType,
	}
}

func findLine(cart *models.Cart, productID uuid.UUID) *models.CartItem {
	for i := range cart.Items {
		if cart.Items[i].ProductID == productID {
			return &cart.Items[i]
		}
	}
	return nil
}

func wrapCartErr(err error, op string) error {
	if err == nil {
		return nil
	}
	var coded *pkgerrors.Error
	if errors.As(err, &coded) {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, op)
}
