// Package wiring assembles the service graph from configuration. All
// construction is explicit so the dependency order is visible in one place.
package wiring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/attriq/attriq/internal/connector"
	"github.com/attriq/attriq/internal/domain"
	"github.com/attriq/attriq/internal/infra/audit"
	infracache "github.com/attriq/attriq/internal/infra/cache"
	"github.com/attriq/attriq/internal/infra/config"
	"github.com/attriq/attriq/internal/infra/persistence"
	"github.com/attriq/attriq/internal/infra/secrets"
	"github.com/attriq/attriq/internal/resolver"
	"github.com/attriq/attriq/internal/server"
	"github.com/attriq/attriq/internal/syncsched"
)

// Container holds every long-lived component plus the teardown order.
type Container struct {
	Config *config.Config
	Logger *slog.Logger

	Pool        *pgxpool.Pool
	Connections domain.ConnectionStore
	AuditRepo   domain.AuditRepository
	AuditLogger domain.AuditLogger
	Secrets     domain.SecretsStore
	Cache       *infracache.AttributeCache
	Factory     *connector.Factory
	Resolver    *resolver.Resolver
	Scheduler   *syncsched.Scheduler
	Server      *server.Server

	asyncAudit *audit.AsyncLogger
}

// New builds the full graph. Nothing starts serving yet; call Start.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	c := &Container{Config: cfg, Logger: logger}

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	c.Pool = pool

	connections, err := persistence.NewConnectionStore(pool)
	if err != nil {
		return nil, err
	}
	c.Connections = connections

	auditRepo, err := persistence.NewAuditRepository(pool)
	if err != nil {
		return nil, err
	}
	c.AuditRepo = auditRepo

	blobRepo, err := persistence.NewBlobRepository(pool)
	if err != nil {
		return nil, err
	}

	if cfg.Audit.Async {
		async := audit.NewAsyncLogger(logger, auditRepo, audit.AsyncConfig{
			ChannelBufferSize: cfg.Audit.ChannelBufferSize,
			WorkerCount:       cfg.Audit.WorkerCount,
			BatchSize:         cfg.Audit.BatchSize,
			BatchTimeout:      cfg.Audit.BatchTimeout,
		})
		c.asyncAudit = async
		c.AuditLogger = async
	} else {
		c.AuditLogger = audit.NewLogger(logger, auditRepo)
	}

	keys, err := buildKeyProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c.Secrets = secrets.NewStore(keys, blobRepo, c.AuditLogger, logger)

	ttls := infracache.TTLPolicy{
		Public:       cfg.Cache.PublicTTL,
		Internal:     cfg.Cache.InternalTTL,
		Confidential: cfg.Cache.ConfidentialTTL,
	}
	c.Cache = infracache.NewAttributeCache(c.Secrets, ttls, cfg.Cache.CleanupInterval, logger)

	c.Factory = connector.NewFactory(c.Secrets, cfg.Connector.CallTimeout, connector.BreakerConfig{
		MaxFailures: cfg.Connector.BreakerMaxFailures,
		Timeout:     cfg.Connector.BreakerTimeout,
		Interval:    cfg.Connector.BreakerInterval,
	}, logger)

	c.Resolver = resolver.New(c.Connections, c.Cache, c.Factory, c.AuditLogger, ttls,
		cfg.Connector.CallTimeout, logger)

	c.Scheduler = syncsched.New(c.Connections, c.Resolver, c.Resolver, logger)

	handler := server.NewHandler(c.Resolver, c.Connections, c.Cache, c.Secrets, c.AuditRepo,
		c.Factory, pool, logger, cfg.ServiceVersion)
	c.Server = server.New(cfg.Server.Port, handler.Routes(cfg.Server.CORSAllowedOrigins), logger)

	return c, nil
}

func buildKeyProvider(ctx context.Context, cfg *config.Config) (secrets.KeyProvider, error) {
	switch cfg.Secrets.Provider {
	case "aws-kms":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Secrets.AWS.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load aws configuration: %w", err)
		}
		return secrets.NewAWSKMSKeyProvider(awsCfg, cfg.Secrets.AWS.KMSKeyARN, cfg.Secrets.AWS.WrappedKeyB64)
	default:
		return secrets.NewLocalKeyProvider(cfg.Secrets.MasterPassphrase, []byte(cfg.Secrets.KDFSalt))
	}
}

// Start brings up background workers and begins serving HTTP. Blocks until
// the listener closes.
func (c *Container) Start() error {
	if c.asyncAudit != nil {
		c.asyncAudit.Start()
	}
	if err := c.Scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start sync scheduler: %w", err)
	}
	return c.Server.Start()
}

// Shutdown tears components down in reverse dependency order.
func (c *Container) Shutdown(ctx context.Context) error {
	var firstErr error

	if c.Server != nil {
		if err := c.Server.Shutdown(ctx); err != nil && !isContextErr(err) {
			firstErr = err
		}
	}
	if c.Scheduler != nil {
		c.Scheduler.Stop()
	}
	if c.Cache != nil {
		c.Cache.Stop()
	}
	if c.asyncAudit != nil {
		c.asyncAudit.Stop()
	}
	if c.Pool != nil {
		c.Pool.Close()
	}

	c.Logger.Info("shutdown complete")
	return firstErr
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
