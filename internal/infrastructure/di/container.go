package di

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/rail-service/cctp_transfer/internal/api/handlers"
	"github.com/rail-service/cctp_transfer/internal/domain/entities"
	"github.com/rail-service/cctp_transfer/internal/domain/services/transfer"
	"github.com/rail-service/cctp_transfer/internal/infrastructure/adapters/cctp"
	"github.com/rail-service/cctp_transfer/internal/infrastructure/cache"
	"github.com/rail-service/cctp_transfer/internal/infrastructure/circle"
	"github.com/rail-service/cctp_transfer/internal/infrastructure/config"
	"github.com/rail-service/cctp_transfer/internal/infrastructure/database"
	"github.com/rail-service/cctp_transfer/internal/infrastructure/repositories"
	"github.com/rail-service/cctp_transfer/internal/infrastructure/session"
	"github.com/rail-service/cctp_transfer/internal/workers/transfer_sweeper"
	"github.com/rail-service/cctp_transfer/pkg/idempotency"
	"github.com/rail-service/cctp_transfer/pkg/logger"
	"github.com/rail-service/cctp_transfer/pkg/metrics"
	"github.com/rail-service/cctp_transfer/pkg/security"
)

// Container holds all application dependencies
type Container struct {
	Config  *config.Config
	Logger  *logger.Logger
	ZapLog  *zap.Logger
	Metrics *metrics.Registry

	// Redis is nil when sessions are kept in memory
	Redis       cache.RedisClient
	Sessions    session.Store
	Idempotency idempotency.Store

	// DB and Journal are nil when no database URL is configured
	DB      *sqlx.DB
	Journal *repositories.TransferJournalRepository

	CircleClient *circle.Client
	IrisClient   *cctp.Client
	Chains       entities.ChainRegistry

	TransferService *transfer.Service
	Sweeper         *transfer_sweeper.Worker

	closers []func() error
}

// NewContainer wires every dependency from configuration
func NewContainer(cfg *config.Config, log *logger.Logger) (*Container, error) {
	c := &Container{
		Config:  cfg,
		Logger:  log,
		ZapLog:  log.Zap(),
		Metrics: metrics.New(),
		Chains:  entities.NewChainRegistry(cfg.CCTP.Chains),
	}

	if err := c.initializeSessionStore(); err != nil {
		c.Close()
		return nil, err
	}
	if err := c.initializeJournal(); err != nil {
		c.Close()
		return nil, err
	}
	c.initializeClients()
	c.initializeTransferService()
	c.initializeSweeper()

	c.ZapLog.Info("Container initialized",
		zap.String("sessionStore", cfg.Session.Store),
		zap.Bool("journal", c.Journal != nil),
		zap.Bool("sweeper", c.Sweeper != nil),
		zap.Int("chains", len(c.Chains)))
	return c, nil
}

func (c *Container) initializeSessionStore() error {
	switch c.Config.Session.Store {
	case "memory":
		store := session.NewMemoryStore(c.Config.Session.TTL)
		c.Sessions = store
		c.closers = append(c.closers, store.Close)
		replay := idempotency.NewMemoryStore()
		c.Idempotency = replay
		c.closers = append(c.closers, replay.Close)
	case "redis", "":
		client, err := cache.NewRedisClient(&c.Config.Redis, c.ZapLog)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		c.Redis = client
		c.Sessions = session.NewRedisStore(client, c.Config.Session.TTL)
		c.Idempotency = idempotency.NewRedisStore(client)
		c.closers = append(c.closers, client.Close)
	default:
		return fmt.Errorf("unknown session store %q", c.Config.Session.Store)
	}
	return nil
}

func (c *Container) initializeJournal() error {
	if c.Config.Database.URL == "" {
		c.ZapLog.Info("Database URL not set, transfer journal disabled")
		return nil
	}
	db, err := database.NewConnection(c.Config.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	c.closers = append(c.closers, db.Close)

	if err := database.RunMigrations(db, c.Config.Database.MigrationsPath); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	c.DB = db
	c.Journal = repositories.NewTransferJournalRepository(db)
	return nil
}

func (c *Container) initializeClients() {
	c.CircleClient = circle.NewClient(circle.Config{
		APIKey:       c.Config.Circle.APIKey,
		BaseURL:      c.Config.Circle.BaseURL,
		Environment:  c.Config.Circle.Environment,
		Timeout:      c.Config.Circle.Timeout,
		EntitySecret: c.Config.Circle.EntitySecret,
		MaxRetries:   c.Config.Circle.MaxRetries,
		OnBreakerChange: func(open bool) {
			c.Metrics.SetBreakerOpen("circle", open)
		},
	}, c.ZapLog.Named("circle"))
	c.ZapLog.Info("Circle client configured",
		zap.String("baseURL", c.Config.Circle.BaseURL),
		zap.String("apiKey", security.MaskAPIKey(c.Config.Circle.APIKey)))

	c.IrisClient = cctp.NewClient(cctp.Config{
		BaseURL:     c.Config.CCTP.IrisBaseURL,
		Environment: c.Config.CCTP.Environment,
		APIKey:      c.Config.Circle.APIKey,
		Timeout:     c.Config.CCTP.Timeout,
		OnBreakerChange: func(open bool) {
			c.Metrics.SetBreakerOpen("iris", open)
		},
	}, c.ZapLog.Named("iris"))
}

func (c *Container) initializeTransferService() {
	tx := c.Config.Polling.Transaction
	att := c.Config.Polling.Attestation
	poller := transfer.NewPoller(
		c.CircleClient,
		c.IrisClient,
		transfer.TransactionPolicy{
			InitialInterval: tx.InitialInterval,
			MaxInterval:     tx.MaxInterval,
			Multiplier:      tx.Multiplier,
			MaxAttempts:     tx.MaxAttempts,
			MaxElapsed:      tx.MaxElapsed,
		},
		transfer.AttestationPolicy{
			InitialDelay: att.InitialDelay,
			Interval:     att.Interval,
			MaxAttempts:  att.MaxAttempts,
		},
		c.Metrics,
		c.ZapLog.Named("poller"),
	)

	// a nil *TransferJournalRepository must not become a non-nil interface
	var journal transfer.JournalRepository
	if c.Journal != nil {
		journal = c.Journal
	}

	c.TransferService = transfer.NewService(
		c.CircleClient,
		c.IrisClient,
		poller,
		c.Sessions,
		journal,
		c.Chains,
		c.Metrics,
		transfer.Config{
			WalletSetID:          c.Config.Circle.WalletSetID,
			MinFinalityThreshold: c.Config.CCTP.MinFinalityThreshold,
			MaxFeeDivisor:        c.Config.CCTP.MaxFeeDivisor,
		},
		c.ZapLog.Named("transfer"),
	)
}

func (c *Container) initializeSweeper() {
	if !c.Config.Sweeper.Enabled || c.Journal == nil {
		return
	}
	c.Sweeper = transfer_sweeper.NewWorker(
		c.Journal,
		c.Sessions,
		c.TransferService,
		c.Metrics,
		c.Config.Sweeper.Schedule,
		c.Config.Sweeper.AbandonAfter,
		c.ZapLog.Named("sweeper"),
	)
}

// JournalReader returns the journal for the history endpoint, or nil
func (c *Container) JournalReader() handlers.JournalReader {
	if c.Journal == nil {
		return nil
	}
	return c.Journal
}

// HealthChecks returns the dependency probes used by the readiness endpoint
func (c *Container) HealthChecks() map[string]handlers.CheckFunc {
	checks := map[string]handlers.CheckFunc{
		"circle": c.CircleClient.HealthCheck,
	}
	if c.Redis != nil {
		checks["redis"] = c.Redis.Ping
	}
	if c.DB != nil {
		db := c.DB
		checks["database"] = func(ctx context.Context) error {
			return database.HealthCheck(ctx, db)
		}
	}
	return checks
}

// Close releases connections in reverse order of creation
func (c *Container) Close() error {
	var firstErr error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.closers = nil
	return firstErr
}

// Shutdown implements graceful.Shutdowner
func (c *Container) Shutdown(timeout time.Duration) error {
	if c.Sweeper != nil {
		done := make(chan struct{})
		go func() {
			c.Sweeper.Stop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(timeout):
			c.ZapLog.Warn("Timed out waiting for transfer sweeper to stop")
		}
	}
	return c.Close()
}
