// Package connector provides the polymorphic adapters between canonical
// attribute requests and concrete external-system families, plus the
// factory that selects among them.
package connector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/attriq/attriq/internal/apperrors"
	"github.com/attriq/attriq/internal/domain"
	"github.com/attriq/attriq/pkg/memory"
)

// DefaultCallTimeout bounds each backend call when config supplies none.
const DefaultCallTimeout = 5 * time.Second

// Factory builds connectors keyed by (family, provider). Credentials are
// resolved through the secrets store at construction time and never logged.
// Circuit breaker state persists per connection across constructions.
type Factory struct {
	secrets     domain.SecretsStore
	callTimeout time.Duration
	breakerCfg  BreakerConfig
	logger      *slog.Logger

	mu       sync.Mutex
	breakers map[string]cachedBreaker
}

type cachedBreaker struct {
	connector *BreakerConnector
	updatedAt time.Time
}

func NewFactory(secrets domain.SecretsStore, callTimeout time.Duration, breakerCfg BreakerConfig, logger *slog.Logger) *Factory {
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	return &Factory{
		secrets:     secrets,
		callTimeout: callTimeout,
		breakerCfg:  breakerCfg,
		logger:      logger,
		breakers:    make(map[string]cachedBreaker),
	}
}

// New constructs the connector for a connection. Unknown (family, provider)
// pairs fail with ErrUnsupportedProvider.
func (f *Factory) New(ctx context.Context, conn *domain.Connection) (domain.Connector, error) {
	f.mu.Lock()
	if cached, ok := f.breakers[conn.ID]; ok && cached.updatedAt.Equal(conn.UpdatedAt) {
		f.mu.Unlock()
		return cached.connector, nil
	}
	f.mu.Unlock()

	plaintext, err := f.secrets.Retrieve(ctx, conn.CredentialRef)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve credential for connection %s: %w", conn.ID, err)
	}
	cred, err := ParseCredential(plaintext)
	memory.SecureZeroBytes(plaintext)
	if err != nil {
		return nil, err
	}

	inner, err := f.build(conn, cred)
	if err != nil {
		return nil, err
	}

	wrapped := NewBreakerConnector(inner, conn.Provider+":"+conn.ID, f.breakerCfg, f.logger)

	f.mu.Lock()
	f.breakers[conn.ID] = cachedBreaker{connector: wrapped, updatedAt: conn.UpdatedAt}
	f.mu.Unlock()

	return wrapped, nil
}

func (f *Factory) build(conn *domain.Connection, cred Credential) (domain.Connector, error) {
	switch conn.Family {
	case domain.FamilyIdentityProvider:
		if _, ok := identityProviderDefaults[conn.Provider]; !ok {
			return nil, fmt.Errorf("%w: %s/%s", apperrors.ErrUnsupportedProvider, conn.Family, conn.Provider)
		}
		if conn.Config.Identity == nil {
			return nil, fmt.Errorf("%w: connection %s has no identity config", apperrors.ErrInvalidInput, conn.ID)
		}
		return NewIdentityConnector(*conn.Config.Identity, conn.Provider, cred, f.callTimeout), nil

	case domain.FamilyRelationalDatabase:
		switch conn.Provider {
		case "postgres", "cockroachdb", "neon":
		default:
			return nil, fmt.Errorf("%w: %s/%s", apperrors.ErrUnsupportedProvider, conn.Family, conn.Provider)
		}
		if conn.Config.Relational == nil {
			return nil, fmt.Errorf("%w: connection %s has no relational config", apperrors.ErrInvalidInput, conn.ID)
		}
		return NewRelationalConnector(*conn.Config.Relational, cred), nil

	case domain.FamilyHTTPAPI:
		if conn.Provider != "openapi" {
			return nil, fmt.Errorf("%w: %s/%s", apperrors.ErrUnsupportedProvider, conn.Family, conn.Provider)
		}
		if conn.Config.HTTPAPI == nil {
			return nil, fmt.Errorf("%w: connection %s has no http-api config", apperrors.ErrInvalidInput, conn.ID)
		}
		return NewOpenAPIConnector(*conn.Config.HTTPAPI, cred, f.callTimeout), nil

	default:
		return nil, fmt.Errorf("%w: family %s", apperrors.ErrUnsupportedProvider, conn.Family)
	}
}

// Forget drops cached breaker state for a connection, used on deletion and
// credential rotation.
func (f *Factory) Forget(connectionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.breakers, connectionID)
}

// CallTimeout exposes the configured per-call timeout for callers that
// bound their own contexts.
func (f *Factory) CallTimeout() time.Duration {
	return f.callTimeout
}
