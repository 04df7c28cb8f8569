package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/velora-commerce/storefront-backend/api/middleware"
	"github.com/velora-commerce/storefront-backend/api/responses"
	"github.com/velora-commerce/storefront-backend/api/validators"
	checkoutsvc "github.com/velora-commerce/storefront-backend/internal/checkout"
	ordersvc "github.com/velora-commerce/storefront-backend/internal/orders"
	"github.com/velora-commerce/storefront-backend/pkg/db/models"
	"github.com/velora-commerce/storefront-backend/pkg/enums"
	pkgerrors "github.com/velora-commerce/storefront-backend/pkg/errors"
	"github.com/velora-commerce/storefront-backend/pkg/logger"
	"github.com/velora-commerce/storefront-backend/pkg/pagination"
	"github.com/velora-commerce/storefront-backend/pkg/types"
)

type orderItemResponse struct {
	ProductID uuid.UUID       `json:"product_id"`
	Name      string          `json:"name"`
	ImageURL  *string         `json:"image_url,omitempty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type orderResponse struct {
	ID                uuid.UUID             `json:"id"`
	OrderNumber       string                `json:"order_number"`
	Items             []orderItemResponse   `json:"items"`
	ShippingAddress   types.Address         `json:"shipping_address"`
	BillingAddress    *types.Address        `json:"billing_address,omitempty"`
	PaymentMethod     enums.PaymentMethod   `json:"payment_method"`
	Subtotal          decimal.Decimal       `json:"subtotal"`
	Discount          decimal.Decimal       `json:"discount"`
	Tax               decimal.Decimal       `json:"tax"`
	Shipping          decimal.Decimal       `json:"shipping"`
	Total             decimal.Decimal       `json:"total"`
	Coupon            *types.CouponSnapshot `json:"coupon,omitempty"`
	PaymentStatus     enums.PaymentStatus   `json:"payment_status"`
	OrderStatus       enums.OrderStatus     `json:"order_status"`
	TrackingNumber    *string               `json:"tracking_number,omitempty"`
	EstimatedDelivery time.Time             `json:"estimated_delivery"`
	DeliveredAt       *time.Time            `json:"delivered_at,omitempty"`
	CreatedAt         time.Time             `json:"created_at"`
}

type orderListResponse struct {
	Orders     []orderResponse `json:"orders"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func newOrderResponse(order *models.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemResponse{
			ProductID: item.ProductID,
			Name:      item.Name,
			ImageURL:  item.ImageURL,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			LineTotal: item.LineTotal,
		})
	}
	return orderResponse{
		ID:                order.ID,
		OrderNumber:       order.OrderNumber,
		Items:             items,
		ShippingAddress:   order.ShippingAddress,
		BillingAddress:    order.BillingAddress,
		PaymentMethod:     order.PaymentMethod,
		Subtotal:          order.Subtotal,
		Discount:          order.Discount,
		Tax:               order.Tax,
		Shipping:          order.Shipping,
		Total:             order.Total,
		Coupon:            order.Coupon,
		PaymentStatus:     order.PaymentStatus,
		OrderStatus:       order.OrderStatus,
		TrackingNumber:    order.TrackingNumber,
		EstimatedDelivery: order.EstimatedDelivery,
		DeliveredAt:       order.DeliveredAt,
		CreatedAt:         order.CreatedAt,
	}
}

func newOrderListResponse(list *ordersvc.OrderList) orderListResponse {
	out := orderListResponse{
		Orders:     make([]orderResponse, 0, len(list.Items)),
		NextCursor: list.NextCursor,
	}
	for i := range list.Items {
		out.Orders = append(out.Orders, newOrderResponse(&list.Items[i]))
	}
	return out
}

func actorFromContext(r *http.Request) (ordersvc.Actor, error) {
	userID, err := requireUserID(r)
	if err != nil {
		return ordersvc.Actor{}, err
	}
	role, err := enums.ParseUserRole(middleware.RoleFromContext(r.Context()))
	if err != nil {
		return ordersvc.Actor{}, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid role")
	}
	return ordersvc.Actor{UserID: userID, Role: role}, nil
}

func orderIDFromPath(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "orderId"))
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id")
	}
	return id, nil
}

type createOrderRequest struct {
	ShippingAddress types.Address  `json:"shipping_address" validate:"required"`
	BillingAddress  *types.Address `json:"billing_address,omitempty"`
	PaymentMethod   string         `json:"payment_method" validate:"required"`
}

type createOrderResponse struct {
	Order        orderResponse `json:"order"`
	ClientSecret string        `json:"client_secret,omitempty"`
}

// CreateOrder places an order from the caller's cart.
func CreateOrder(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		userID, err := requireUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload createOrderRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		method, err := enums.ParsePaymentMethod(payload.PaymentMethod)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment method"))
			return
		}

		result, err := svc.CreateOrder(r.Context(), userID, checkoutsvc.CreateOrderInput{
			ShippingAddress: payload.ShippingAddress,
			BillingAddress:  payload.BillingAddress,
			PaymentMethod:   method,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, createOrderResponse{
			Order:        newOrderResponse(result.Order),
			ClientSecret: result.ClientSecret,
		})
	}
}

type confirmPaymentRequest struct {
	PaymentIntentID string `json:"payment_intent_id" validate:"required"`
}

// ConfirmPayment marks a card order paid once the gateway reports success.
func ConfirmPayment(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		orderID, err := orderIDFromPath(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload confirmPaymentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.ConfirmPayment(r.Context(), orderID, payload.PaymentIntentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

func GetOrder(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		orderID, err := orderIDFromPath(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.GetOrder(r.Context(), orderID, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

func ListMyOrders(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := requireUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.ListUserOrders(r.Context(), userID, pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderListResponse(list))
	}
}

func CancelOrder(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		orderID, err := orderIDFromPath(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.CancelOrder(r.Context(), orderID, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

// AdminListOrders lists every order, optionally filtered by status.
func AdminListOrders(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		filters := ordersvc.ListFilters{}
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			status, err := enums.ParseOrderStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter"))
				return
			}
			filters.Status = &status
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("payment_status")); raw != "" {
			status, err := enums.ParsePaymentStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment status filter"))
				return
			}
			filters.PaymentStatus = &status
		}

		list, err := svc.ListOrders(r.Context(), pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		}, filters)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderListResponse(list))
	}
}

type updateStatusRequest struct {
	Status         string  `json:"status" validate:"required"`
	TrackingNumber *string `json:"tracking_number,omitempty"`
}

// AdminUpdateStatus moves an order through the fulfilment pipeline.
func AdminUpdateStatus(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := orderIDFromPath(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload updateStatusRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status, err := enums.ParseOrderStatus(payload.Status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order status"))
			return
		}

		order, err := svc.UpdateStatus(r.Context(), orderID, ordersvc.UpdateStatusInput{
			Status:         status,
			TrackingNumber: payload.TrackingNumber,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

// AdminOrderStats reports aggregates over an optional date range.
func AdminOrderStats(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var from, to *time.Time
		if t, err := validators.ParseQueryDate(r, "from"); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		} else if !t.IsZero() {
			from = &t
		}
		if t, err := validators.ParseQueryDate(r, "to"); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		} else if !t.IsZero() {
			to = &t
		}

		stats, err := svc.Stats(r.Context(), from, to)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, stats)
	}
}
