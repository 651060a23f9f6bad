// internal/router/router.go
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/coinshop/coinshop-backend/internal/config"
	"github.com/coinshop/coinshop-backend/internal/handlers"
	"github.com/coinshop/coinshop-backend/internal/middleware"
	"github.com/coinshop/coinshop-backend/internal/services"
	"github.com/coinshop/coinshop-backend/internal/utils"
	"github.com/coinshop/coinshop-backend/internal/wallet"
)

// Services bundles the service graph so the HTTP layer and the
// background jobs share the same instances.
type Services struct {
	Invoices      *services.InvoiceService
	Orders        *services.OrderService
	Subscriptions *services.SubscriptionService
	Reconciler    *services.ReconcileService
}

// BuildServices wires the service graph from its leaves up.
func BuildServices(db *gorm.DB, cfg *config.Config) *Services {
	deriver := wallet.NewDeriver(cfg.Crypto.MasterSeed)
	walletService := services.NewWalletService(db, deriver)
	priceService := services.NewPriceService(cfg)
	chainReader := services.NewHTTPChainReader(cfg)
	notificationService := services.NewNotificationService(cfg)

	invoiceService := services.NewInvoiceService(db, cfg, walletService, priceService, chainReader)
	orderService := services.NewOrderService(db, cfg)
	subscriptionService := services.NewSubscriptionService(db)
	reconcileService := services.NewReconcileService(db, cfg, invoiceService,
		orderService, subscriptionService, notificationService, chainReader)

	return &Services{
		Invoices:      invoiceService,
		Orders:        orderService,
		Subscriptions: subscriptionService,
		Reconciler:    reconcileService,
	}
}

func Initialize(db *gorm.DB, cfg *config.Config, svc *Services) *gin.Engine {
	paymentHandler := handlers.NewPaymentHandler(svc.Invoices, svc.Reconciler, cfg)
	orderHandler := handlers.NewOrderHandler(svc.Orders)
	subscriptionHandler := handlers.NewSubscriptionHandler(svc.Subscriptions)

	utils.SetJWTSecret(cfg.JWT.SecretKey)

	r := gin.New()

	// Global middleware
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.CORS())
	r.Use(middleware.GeneralRateLimit())

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"version": "1.0.0",
		})
	})

	// API v1 routes
	v1 := r.Group("/v1")
	{
		// Webhook ingestion is authenticated by its own shared-secret
		// token, not by a user session.
		v1.POST("/webhooks/crypto", middleware.WebhookRateLimit(), paymentHandler.Webhook)

		// Payment routes
		payments := v1.Group("")
		payments.Use(middleware.AuthRequired())
		{
			payments.POST("/invoices", middleware.InvoiceRateLimit(), paymentHandler.CreateInvoice)
			payments.GET("/payments/status", paymentHandler.GetPaymentStatus)
		}

		// Order routes
		orders := v1.Group("/orders")
		orders.Use(middleware.AuthRequired())
		{
			orders.POST("", orderHandler.CreateOrder)
			orders.GET("", orderHandler.ListOrders)
			orders.GET("/:id", orderHandler.GetOrder)
			orders.POST("/:id/cancel", orderHandler.CancelOrder)
		}

		// Subscription routes
		subscriptions := v1.Group("/subscriptions")
		subscriptions.Use(middleware.AuthRequired())
		{
			subscriptions.POST("", subscriptionHandler.CreateSubscription)
			subscriptions.GET("/:id", subscriptionHandler.GetSubscription)
		}

		// Admin routes
		admin := v1.Group("/admin")
		admin.Use(middleware.AuthRequired(), middleware.AdminRequired())
		{
			admin.POST("/reconcile/poll", paymentHandler.TriggerPoll)
			admin.POST("/orders/:id/ship", orderHandler.ShipOrder)
			admin.POST("/orders/:id/deliver", orderHandler.DeliverOrder)
		}
	}

	return r
}
