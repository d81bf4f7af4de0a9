package server

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/chungtau/ledger-payments/internal/auth"
	"github.com/chungtau/ledger-payments/internal/config"
	"github.com/chungtau/ledger-payments/internal/handler"
	"github.com/chungtau/ledger-payments/internal/middleware"
	"github.com/chungtau/ledger-payments/internal/workflow"
)

// Store is everything the service needs from a storage backend.
type Store interface {
	workflow.Repository
	handler.AccountStore
	Ping(ctx context.Context) error
	Close() error
}

// Dependencies are the collaborators SetupRouter wires into handlers.
type Dependencies struct {
	Config    *config.Config
	Logger    *zap.Logger
	Store     Store
	Transfers *workflow.TransferWorkflow
	Payments  *workflow.PaymentWorkflow
	Resolver  auth.Resolver
	Redis     *redis.Client
	// Optional checks show up in readiness output without gating it.
	Optional  map[string]handler.Pinger
}

// SetupRouter creates and configures the Gin router
func SetupRouter(d Dependencies) *gin.Engine {
	cfg := d.Config
	if cfg.DevMode {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.Recovery(d.Logger))
	router.Use(middleware.Logging(d.Logger))

	healthHandler := handler.NewHealthHandler(d.Store, d.Redis)
	for name, p := range d.Optional {
		healthHandler.WithOptional(name, p)
	}
	paymentHandler := handler.NewPaymentHandler(d.Transfers, d.Payments, d.Transfers)
	accountHandler := handler.NewAccountHandler(d.Store)
	balanceHandler := handler.NewBalanceHandler(d.Store)
	authHandler := handler.NewAuthHandler(cfg.JWTSecret, cfg.DevMode)

	// Health check endpoints (no auth required)
	router.GET("/health", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	if cfg.DevMode {
		router.POST("/auth/dev/token", authHandler.GenerateDevToken)
	}

	v1 := router.Group("/v1")
	{
		v1.Use(middleware.Auth(d.Resolver))

		// Rate limiting and idempotency need Redis
		create := func(h gin.HandlerFunc) []gin.HandlerFunc { return []gin.HandlerFunc{h} }
		if d.Redis != nil {
			rateLimiter := middleware.NewRateLimiter(d.Redis, d.Logger, cfg.RateLimitRPS, cfg.RateLimitBurst)
			v1.Use(rateLimiter.Middleware())

			idempotency := middleware.Idempotency(d.Redis, d.Logger, cfg.IdempotencyTTL)
			create = func(h gin.HandlerFunc) []gin.HandlerFunc { return []gin.HandlerFunc{idempotency, h} }
		}

		payments := v1.Group("/payments")
		{
			payments.POST("/transfer", create(paymentHandler.CreateTransfer)...)
			payments.POST("/confirm-transfer/:id", paymentHandler.ConfirmTransfer)
			payments.POST("/payment", create(paymentHandler.CreatePayment)...)
			payments.POST("/confirm-payment/:id", paymentHandler.ConfirmPayment)
			payments.GET("/:id", paymentHandler.Get)
		}

		accounts := v1.Group("/accounts")
		{
			accounts.POST("", create(accountHandler.Create)...)
			accounts.GET("", accountHandler.List)
			accounts.GET("/:ref/balance", balanceHandler.Get)
		}
	}

	return router
}
