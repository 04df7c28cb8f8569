package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/velora-commerce/storefront-backend/api/middleware"
	"github.com/velora-commerce/storefront-backend/api/responses"
	"github.com/velora-commerce/storefront-backend/api/validators"
	cartsvc "github.com/velora-commerce/storefront-backend/internal/cart"
	"github.com/velora-commerce/storefront-backend/pkg/enums"
	pkgerrors "github.com/velora-commerce/storefront-backend/pkg/errors"
	"github.com/velora-commerce/storefront-backend/pkg/logger"
)

type cartItemResponse struct {
	ProductID     uuid.UUID       `json:"product_id"`
	Quantity      int             `json:"quantity"`
	PriceSnapshot decimal.Decimal `json:"price_snapshot"`
	LineTotal     decimal.Decimal `json:"line_total"`
	AddedAt       time.Time       `json:"added_at"`
}

type cartCouponResponse struct {
	Code          string          `json:"code"`
	DiscountValue decimal.Decimal `json:"discount_value"`
	DiscountType  string          `json:"discount_type"`
}

type cartResponse struct {
	Items    []cartItemResponse  `json:"items"`
	Coupon   *cartCouponResponse `json:"coupon,omitempty"`
	Subtotal decimal.Decimal     `json:"subtotal"`
	Discount decimal.Decimal     `json:"discount"`
	Tax      decimal.Decimal     `json:"tax"`
	Shipping decimal.Decimal     `json:"shipping"`
	Total    decimal.Decimal     `json:"total"`
}

func newCartResponse(view *cartsvc.View) cartResponse {
	out := cartResponse{
		Items:    []cartItemResponse{},
		Subtotal: view.Quote.Subtotal,
		Discount: view.Quote.Discount,
		Tax:      view.Quote.Tax,
		Shipping: view.Quote.Shipping,
		Total:    view.Quote.Total,
	}
	if view.Cart == nil {
		return out
	}
	for _, item := range view.Cart.Items {
		out.Items = append(out.Items, cartItemResponse{
			ProductID:     item.ProductID,
			Quantity:      item.Quantity,
			PriceSnapshot: item.PriceSnapshot,
			LineTotal:     item.PriceSnapshot.Mul(decimal.NewFromInt(int64(item.Quantity))),
			AddedAt:       item.CreatedAt,
		})
	}
	if view.Cart.HasCoupon() {
		out.Coupon = &cartCouponResponse{
			Code:          *view.Cart.CouponCode,
			DiscountValue: *view.Cart.CouponDiscountValue,
			DiscountType:  string(*view.Cart.CouponDiscountType),
		}
	}
	return out
}

func requireUserID(r *http.Request) (uuid.UUID, error) {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user id")
	}
	return id, nil
}

func GetCart(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := requireUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		view, err := svc.GetCart(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCartResponse(view))
	}
}

type addItemRequest struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int       `json:"quantity" validate:"required,min=1"`
}

func AddCartItem(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := requireUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload addItemRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		view, err := svc.AddItem(r.Context(), userID, payload.ProductID, payload.Quantity)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCartResponse(view))
	}
}

type updateQuantityRequest struct {
	Quantity *int `json:"quantity" validate:"required,min=0"`
}

// UpdateCartItem sets the quantity for one line. Zero removes the line.
func UpdateCartItem(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := requireUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		productID, err := uuid.Parse(chi.URLParam(r, "productId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid product id"))
			return
		}

		var payload updateQuantityRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		view, err := svc.UpdateQuantity(r.Context(), userID, productID, *payload.Quantity)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCartResponse(view))
	}
}

func RemoveCartItem(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := requireUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		productID, err := uuid.Parse(chi.URLParam(r, "productId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid product id"))
			return
		}

		view, err := svc.RemoveItem(r.Context(), userID, productID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCartResponse(view))
	}
}

func ClearCart(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := requireUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.Clear(r.Context(), userID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "cleared"})
	}
}

type applyCouponRequest struct {
	Code          string          `json:"code" validate:"required"`
	DiscountValue decimal.Decimal `json:"discount_value" validate:"required"`
	DiscountType  string          `json:"discount_type" validate:"required"`
}

func ApplyCoupon(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := requireUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload applyCouponRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		discountType, err := enums.ParseDiscountType(payload.DiscountType)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid discount type"))
			return
		}

		view, err := svc.ApplyCoupon(r.Context(), userID, cartsvc.CouponInput{
			Code:          payload.Code,
			DiscountValue: payload.DiscountValue,
			DiscountType:  discountType,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCartResponse(view))
	}
}
