package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rail-service/cctp_transfer/internal/api/routes"
	"github.com/rail-service/cctp_transfer/internal/infrastructure/config"
	"github.com/rail-service/cctp_transfer/internal/infrastructure/di"
	"github.com/rail-service/cctp_transfer/pkg/graceful"
	"github.com/rail-service/cctp_transfer/pkg/logger"
	"github.com/rail-service/cctp_transfer/pkg/tracing"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "dev"

// @title CCTP Transfer Service API
// @version 1.0
// @description Step-by-step USDC transfers between chains over Circle's Cross-Chain Transfer Protocol using developer-controlled wallets.

// @contact.name API Support

// @license.name Apache 2.0
// @license.url http://www.apache.org/licenses/LICENSE-2.0.html

// @host localhost:8080
// @BasePath /api/v1

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Initialize logger
	log := logger.New(cfg.LogLevel, cfg.Environment)
	defer func() { _ = log.Sync() }()

	// Initialize OpenTelemetry tracing
	tracingConfig := tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		CollectorURL: cfg.Tracing.CollectorURL,
		Environment:  cfg.Environment,
		SampleRate:   cfg.Tracing.SampleRate,
		Insecure:     cfg.Tracing.Insecure,
	}
	tracingShutdown, err := tracing.InitTracer(context.Background(), tracingConfig, log.Zap())
	if err != nil {
		log.Fatal("Failed to initialize tracing", "error", err)
	}
	defer func() {
		if err := tracingShutdown(context.Background()); err != nil {
			log.Warn("Failed to flush traces", "error", err)
		}
	}()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	container, err := di.NewContainer(cfg, log)
	if err != nil {
		log.Fatal("Failed to create DI container", "error", err)
	}

	router, err := routes.SetupRoutes(container, version)
	if err != nil {
		log.Fatal("Failed to set up routes", "error", err)
	}

	if container.Sweeper != nil {
		if err := container.Sweeper.Start(); err != nil {
			log.Fatal("Failed to start transfer sweeper", "error", err)
		}
		log.Info("Transfer sweeper started", "schedule", cfg.Sweeper.Schedule)
	}

	server := &http.Server{
		Addr:           fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	go func() {
		log.Info("Starting server",
			"addr", server.Addr,
			"environment", cfg.Environment,
			"circle_environment", cfg.Circle.Environment,
			"version", version,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", "error", err)
		}
	}()

	// In-flight steps may still be polling; give them as long as a write may take
	shutdown := graceful.NewShutdownManager(server, time.Duration(cfg.Server.WriteTimeout)*time.Second, log)
	shutdown.Register(container)
	shutdown.WaitForShutdown()
}
