package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/attriq/attriq/internal/apperrors"
	"github.com/attriq/attriq/internal/domain"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// BreakerConfig configures the circuit breaker wrapping a connector.
type BreakerConfig struct {
	MaxFailures uint32        `mapstructure:"max_failures"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Interval    time.Duration `mapstructure:"interval"`
}

// BreakerConnector wraps a Connector with circuit breaker protection. When
// the backend fails repeatedly the circuit opens and calls fail fast as
// ConnectorUnavailable without reaching the backend.
type BreakerConnector struct {
	inner   domain.Connector
	breaker *gobreaker.CircuitBreaker[any]
	logger  *slog.Logger
}

func NewBreakerConnector(inner domain.Connector, name string, cfg BreakerConfig, logger *slog.Logger) *BreakerConnector {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "connector:" + name,
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			// Subject-not-found and mapping errors are backend answers,
			// not backend failures; they must not trip the breaker.
			return err == nil ||
				errors.Is(err, apperrors.ErrSubjectNotFound) ||
				errors.Is(err, apperrors.ErrMappingNotFound)
		},
	})

	return &BreakerConnector{inner: inner, breaker: cb, logger: logger}
}

func (c *BreakerConnector) execute(fn func() (any, error)) (any, error) {
	result, err := c.breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: circuit open: %w", apperrors.ErrConnectorUnavailable, err)
	}
	return result, err
}

func (c *BreakerConnector) TestConnection(ctx context.Context) error {
	_, err := c.execute(func() (any, error) {
		return nil, c.inner.TestConnection(ctx)
	})
	return err
}

func (c *BreakerConnector) FetchSubjectAttributes(ctx context.Context, subjectID string, names []string, mappings []domain.AttributeMapping) (map[string]any, error) {
	result, err := c.execute(func() (any, error) {
		return c.inner.FetchSubjectAttributes(ctx, subjectID, names, mappings)
	})
	if err != nil {
		return nil, err
	}
	return result.(map[string]any), nil
}

func (c *BreakerConnector) DiscoverSchema(ctx context.Context) ([]domain.SchemaField, error) {
	result, err := c.execute(func() (any, error) {
		return c.inner.DiscoverSchema(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.SchemaField), nil
}
