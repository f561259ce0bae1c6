package routes

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/rail-service/cctp_transfer/internal/api/handlers"
	"github.com/rail-service/cctp_transfer/internal/api/middleware"
	"github.com/rail-service/cctp_transfer/internal/infrastructure/di"
	"github.com/rail-service/cctp_transfer/pkg/idempotency"
	"github.com/rail-service/cctp_transfer/pkg/tracing"
)

// SetupRoutes configures all application routes
func SetupRoutes(container *di.Container, version string) (*gin.Engine, error) {
	if err := handlers.RegisterValidators(); err != nil {
		return nil, err
	}

	router := gin.New()
	cfg := container.Config

	// Global middleware - order matters
	router.Use(tracing.Middleware())
	router.Use(middleware.RequestID())
	router.Use(middleware.Metrics(container.Metrics))
	router.Use(middleware.RequestSizeLimit())
	router.Use(middleware.Logger(container.Logger))
	router.Use(middleware.Recovery(container.Logger))
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	router.Use(middleware.RateLimit(cfg.Server.RateLimitPerMin))
	router.Use(middleware.SecurityHeaders())

	coreHandlers := handlers.NewCoreHandlers(container.HealthChecks(), container.Metrics, version, container.Logger)
	transferHandlers := handlers.NewTransferHandlers(container.TransferService, container.JournalReader(), container.Logger)
	chainHandlers := handlers.NewChainHandlers(container.TransferService, container.Logger)

	// Health checks
	router.GET("/health", coreHandlers.Health)
	router.GET("/live", coreHandlers.Health)
	router.GET("/ready", coreHandlers.Ready)
	router.GET("/metrics", coreHandlers.Metrics())

	// Swagger documentation (development only)
	if !cfg.IsProduction() {
		router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	v1 := router.Group("/api/v1")
	{
		v1.GET("/chains", chainHandlers.ListChains)
		v1.GET("/fees", chainHandlers.GetFees)

		transfer := v1.Group("/transfer")
		transfer.Use(middleware.Session(container.Sessions, middleware.SessionOptions{
			CookieName: cfg.Session.CookieName,
			TTL:        cfg.Session.TTL,
			Secure:     cfg.Session.SecureCookie || cfg.IsProduction(),
		}, container.Logger))
		transfer.Use(idempotency.Middleware(container.Idempotency, idempotency.Options{
			TTL:      cfg.Session.IdempotencyTTL,
			ScopeKey: middleware.SessionIDContextKey,
		}, container.ZapLog.Named("idempotency")))
		{
			transfer.GET("", transferHandlers.GetTransfer)
			transfer.DELETE("", transferHandlers.Reset)
			transfer.GET("/history", transferHandlers.History)
			transfer.POST("/setup", transferHandlers.Setup)
			transfer.POST("/wallets", transferHandlers.CreateWallet)
			transfer.POST("/approve", transferHandlers.Approve)
			transfer.POST("/burn", transferHandlers.Burn)
			transfer.POST("/attestation", transferHandlers.ReceiveAttestation)
			transfer.POST("/mint", transferHandlers.Mint)
		}
	}

	return router, nil
}
