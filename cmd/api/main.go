package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/velora-commerce/storefront-backend/api/routes"
	"github.com/velora-commerce/storefront-backend/internal/auth"
	"github.com/velora-commerce/storefront-backend/internal/cart"
	"github.com/velora-commerce/storefront-backend/internal/checkout"
	"github.com/velora-commerce/storefront-backend/internal/newsletter"
	"github.com/velora-commerce/storefront-backend/internal/notifications"
	"github.com/velora-commerce/storefront-backend/internal/orders"
	"github.com/velora-commerce/storefront-backend/internal/pricing"
	product "github.com/velora-commerce/storefront-backend/internal/products"
	"github.com/velora-commerce/storefront-backend/internal/users"
	"github.com/velora-commerce/storefront-backend/pkg/config"
	"github.com/velora-commerce/storefront-backend/pkg/db"
	"github.com/velora-commerce/storefront-backend/pkg/logger"
	"github.com/velora-commerce/storefront-backend/pkg/metrics"
	"github.com/velora-commerce/storefront-backend/pkg/migrate"
	"github.com/velora-commerce/storefront-backend/pkg/redis"
	"github.com/velora-commerce/storefront-backend/pkg/stripe"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	stripeClient, err := stripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe", err)
		os.Exit(1)
	}
	gateway := stripe.NewGateway(stripeClient)

	var sink notifications.Sink = notifications.NoopSink{}
	if cfg.Email.APIKey != "" {
		emailSink, err := notifications.NewEmailSink(cfg.Email, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to create email sink", err)
			os.Exit(1)
		}
		sink = notifications.NewAsyncSink(emailSink, logg)
	}

	checkoutMetrics := metrics.NewCheckoutMetrics(prometheus.DefaultRegisterer)

	userRepo := users.NewRepository(dbClient.DB())
	productRepo := product.NewRepository(dbClient.DB())
	cartRepo := cart.NewRepository(dbClient.DB())
	ordersRepo := orders.NewRepository(dbClient.DB())
	newsletterRepo := newsletter.NewRepository(dbClient.DB())

	engine, err := pricing.NewEngine(cfg.Pricing)
	if err != nil {
		logg.Error(context.Background(), "failed to create pricing engine", err)
		os.Exit(1)
	}

	authService, err := auth.NewService(auth.ServiceParams{
		UserRepo:       userRepo,
		SessionStore:   redisClient,
		JWTConfig:      cfg.JWT,
		PasswordConfig: cfg.Password,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create auth service", err)
		os.Exit(1)
	}

	productService, err := product.NewService(productRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create product service", err)
		os.Exit(1)
	}

	cartService, err := cart.NewService(cartRepo, dbClient, productRepo, engine, cfg.Checkout.MaxLineQuantity)
	if err != nil {
		logg.Error(context.Background(), "failed to create cart service", err)
		os.Exit(1)
	}

	ordersService, err := orders.NewService(ordersRepo, dbClient, productRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	checkoutService, err := checkout.NewService(
		dbClient,
		cartRepo,
		ordersRepo,
		productRepo,
		userRepo,
		engine,
		gateway,
		sink,
		checkoutMetrics,
		cfg.Checkout,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
		os.Exit(1)
	}

	newsletterService, err := newsletter.NewService(newsletterRepo, sink)
	if err != nil {
		logg.Error(context.Background(), "failed to create newsletter service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(cfg, logg, dbClient, redisClient, routes.Services{
			Auth:       authService,
			Products:   productService,
			Cart:       cartService,
			Checkout:   checkoutService,
			Orders:     ordersService,
			Newsletter: newsletterService,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
