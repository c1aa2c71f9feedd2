package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/newrelic"

	"duka/internal/callback"
	"duka/internal/config"
	"duka/internal/handler"
	"duka/internal/middleware"
	"duka/internal/redis"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	OrderHandler    *handler.OrderHandler
	PaymentHandler  *handler.PaymentHandler
	AdminHandler    *handler.AdminHandler
	DeliveryHandler *handler.DeliveryHandler
	PromoHandler    *handler.PromoHandler
	Signer          *callback.Signer
	CacheStore      redis.CacheStoreInterface
	RateLimiter     *middleware.RateLimiter
	NewRelicApp     *newrelic.Application
	Config          *config.Config
	Log             *slog.Logger
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) (*gin.Engine, error) {
	router := gin.New()

	// Global middleware.
	router.Use(gin.Recovery())
	router.Use(gin.Logger())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     deps.Config.Server.AllowedOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Idempotency-Key"},
		ExposeHeaders:    []string{"Idempotent-Replayed", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
	router.Use(middleware.NewRelicMiddleware(deps.NewRelicApp))
	router.Use(middleware.NewRelicContext())

	callbackAuth, err := middleware.CallbackAuth(deps.Signer, deps.Config.Callback.AllowedCIDRs, deps.Log)
	if err != nil {
		return nil, err
	}

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Gateway callbacks are neither rate limited nor idempotency-keyed: the gateway
	// retries on its own schedule and the reconciler is idempotent.
	router.POST(callback.Path, callbackAuth, deps.PaymentHandler.MpesaCallback)

	// API v1 routes.
	v1 := router.Group("/v1")
	v1.Use(middleware.RateLimitMiddleware(deps.RateLimiter))
	{
		// Delivery routes.
		delivery := v1.Group("/delivery")
		{
			delivery.GET("/locations", deps.DeliveryHandler.ListLocations)
			delivery.GET("/locations/:id", deps.DeliveryHandler.GetLocation)
		}

		// Promo routes.
		v1.POST("/promos/validate", deps.PromoHandler.Validate)

		// Order routes.
		orders := v1.Group("/orders")
		orders.Use(middleware.IdempotencyMiddleware(deps.CacheStore))
		{
			orders.POST("", deps.OrderHandler.CreateOrder)
			orders.GET("/:ref/status", deps.OrderHandler.GetStatus)
			orders.POST("/:ref/payments", deps.OrderHandler.InitiatePayment)
		}

		// Admin routes.
		admin := v1.Group("/admin")
		admin.Use(middleware.AdminAuth(deps.Config.Admin.JWTSecret))
		{
			admin.GET("/orders/review", deps.AdminHandler.ListForReview)
			admin.GET("/orders/:ref", deps.AdminHandler.GetOrder)
			admin.POST("/orders/:ref/status", deps.AdminHandler.TransitionOrder)
			admin.POST("/payments/:id/poll", deps.AdminHandler.PollPayment)
			admin.POST("/payments/:id/refund", deps.AdminHandler.RefundPayment)
		}
	}

	return router, nil
}
