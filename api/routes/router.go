package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/velora-commerce/storefront-backend/api/controllers"
	"github.com/velora-commerce/storefront-backend/api/middleware"
	authsvc "github.com/velora-commerce/storefront-backend/internal/auth"
	cartsvc "github.com/velora-commerce/storefront-backend/internal/cart"
	checkoutsvc "github.com/velora-commerce/storefront-backend/internal/checkout"
	newslettersvc "github.com/velora-commerce/storefront-backend/internal/newsletter"
	ordersvc "github.com/velora-commerce/storefront-backend/internal/orders"
	product "github.com/velora-commerce/storefront-backend/internal/products"
	"github.com/velora-commerce/storefront-backend/pkg/config"
	"github.com/velora-commerce/storefront-backend/pkg/db"
	"github.com/velora-commerce/storefront-backend/pkg/enums"
	"github.com/velora-commerce/storefront-backend/pkg/logger"
	pkgredis "github.com/velora-commerce/storefront-backend/pkg/redis"
)

// Services bundles everything the router mounts.
type Services struct {
	Auth       authsvc.Service
	Products   product.Service
	Cart       cartsvc.Service
	Checkout   checkoutsvc.Service
	Orders     ordersvc.Service
	Newsletter newslettersvc.Service
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	database *db.Client,
	redisClient *pkgredis.Client,
	svcs Services,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	loginPolicy := middleware.NewAuthRateLimitPolicy(
		"login",
		cfg.AuthRateLimit.LoginWindow,
		cfg.AuthRateLimit.LoginIPLimit,
		cfg.AuthRateLimit.LoginEmailLimit,
	)
	registerPolicy := middleware.NewAuthRateLimitPolicy(
		"register",
		cfg.AuthRateLimit.RegisterWindow,
		cfg.AuthRateLimit.RegisterIPLimit,
		cfg.AuthRateLimit.RegisterEmailLimit,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, database, redisClient, logg))
	})

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.With(
			middleware.AuthRateLimit(registerPolicy, redisClient, logg),
			middleware.Idempotency(redisClient, logg),
		).Post("/register", controllers.Register(svcs.Auth, logg))
		r.With(middleware.AuthRateLimit(loginPolicy, redisClient, logg)).Post("/login", controllers.Login(svcs.Auth, logg))
	})

	r.Route("/api/v1/products", func(r chi.Router) {
		r.Get("/", controllers.ListProducts(svcs.Products, logg))
		r.Get("/{productId}", controllers.GetProduct(svcs.Products, logg))
	})

	r.Route("/api/v1/newsletter", func(r chi.Router) {
		r.Post("/subscribe", controllers.NewsletterSubscribe(svcs.Newsletter, logg))
		r.Delete("/subscribe", controllers.NewsletterUnsubscribe(svcs.Newsletter, logg))
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(redisClient, logg))

		r.Route("/api/v1/cart", func(r chi.Router) {
			r.Get("/", controllers.GetCart(svcs.Cart, logg))
			r.Delete("/", controllers.ClearCart(svcs.Cart, logg))
			r.Post("/items", controllers.AddCartItem(svcs.Cart, logg))
			r.Put("/items/{productId}", controllers.UpdateCartItem(svcs.Cart, logg))
			r.Delete("/items/{productId}", controllers.RemoveCartItem(svcs.Cart, logg))
			r.Post("/coupon", controllers.ApplyCoupon(svcs.Cart, logg))
		})

		r.Route("/api/v1/orders", func(r chi.Router) {
			r.Post("/", controllers.CreateOrder(svcs.Checkout, logg))
			r.Get("/", controllers.ListMyOrders(svcs.Orders, logg))
			r.Get("/{orderId}", controllers.GetOrder(svcs.Orders, logg))
			r.Post("/{orderId}/payment", controllers.ConfirmPayment(svcs.Checkout, logg))
			r.Put("/{orderId}/cancel", controllers.CancelOrder(svcs.Orders, logg))
		})

		r.Route("/api/admin/v1/orders", func(r chi.Router) {
			r.Use(middleware.RequireRole(string(enums.UserRoleAdmin), logg))
			r.Get("/", controllers.AdminListOrders(svcs.Orders, logg))
			r.Get("/stats", controllers.AdminOrderStats(svcs.Orders, logg))
			r.Put("/{orderId}/status", controllers.AdminUpdateStatus(svcs.Orders, logg))
		})

		r.Route("/api/admin/v1/products", func(r chi.Router) {
			r.Use(middleware.RequireRole(string(enums.UserRoleAdmin), logg))
			r.Post("/", controllers.AdminCreateProduct(svcs.Products, logg))
			r.Put("/{productId}", controllers.AdminUpdateProduct(svcs.Products, logg))
		})
	})

	return r
}
