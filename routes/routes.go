// Package routes assembles the HTTP surface.
package routes

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/yourusername/gpay-checkout/cache"
	"github.com/yourusername/gpay-checkout/handlers"
	"github.com/yourusername/gpay-checkout/middleware"
	"github.com/yourusername/gpay-checkout/models"
	"go.uber.org/zap"
)

type Handlers struct {
	Checkout     *handlers.CheckoutHandler
	Webhooks     *handlers.WebhookHandler
	Refunds      *handlers.RefundHandler
	Transactions *handlers.TransactionHandler
	Auth         *handlers.AuthHandler
}

type Options struct {
	JWTSecret     string
	CORSOrigins   []string
	Cache         cache.Store
	WebhookLimit  int
	WebhookWindow time.Duration
	Logger        *zap.Logger
}

func NewRouter(h Handlers, opts Options) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(opts.Logger))
	r.Use(cors.New(corsConfig(opts.CORSOrigins)))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "gpay-checkout",
		})
	})

	hooks := r.Group("/webhooks")
	hooks.Use(middleware.WebhookRateLimit(opts.Cache, opts.WebhookLimit, opts.WebhookWindow, opts.Logger))
	{
		hooks.POST("/card", h.Webhooks.Card)
		hooks.POST("/eft", h.Webhooks.EFT)
	}

	api := r.Group("/api/v1")
	{
		api.POST("/checkout", h.Checkout.Start)

		auth := api.Group("/auth")
		auth.POST("/login", h.Auth.Login)
		auth.POST("/refresh", h.Auth.Refresh)

		ops := api.Group("/transactions")
		ops.Use(middleware.JwtAuthMiddleware(opts.JWTSecret))
		ops.GET("", h.Transactions.FindByReference)
		ops.GET("/:id", h.Transactions.Get)
		ops.POST("/:id/refund", middleware.RequireRole(models.RoleAdmin, models.RoleFinance), h.Refunds.Refund)
		ops.POST("/:id/manual", middleware.RequireRole(models.RoleAdmin), h.Transactions.SettleManual)
	}

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowOrigins = nil
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
	}
	return cfg
}
