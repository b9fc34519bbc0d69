package connector

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attriq/attriq/internal/apperrors"
	"github.com/attriq/attriq/internal/domain"
)

type flakyConnector struct {
	err   error
	calls int
}

func (c *flakyConnector) TestConnection(ctx context.Context) error { return c.err }

func (c *flakyConnector) FetchSubjectAttributes(ctx context.Context, subjectID string, names []string, mappings []domain.AttributeMapping) (map[string]any, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return map[string]any{"a": 1}, nil
}

func (c *flakyConnector) DiscoverSchema(ctx context.Context) ([]domain.SchemaField, error) {
	return nil, c.err
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	inner := &flakyConnector{err: apperrors.ErrConnectorUnavailable}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cb := NewBreakerConnector(inner, "test", BreakerConfig{MaxFailures: 3}, logger)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := cb.FetchSubjectAttributes(ctx, "u1", nil, nil)
		assert.ErrorIs(t, err, apperrors.ErrConnectorUnavailable)
	}
	require.Equal(t, 3, inner.calls)

	// Circuit is open now; the backend must not be reached.
	_, err := cb.FetchSubjectAttributes(ctx, "u1", nil, nil)
	assert.ErrorIs(t, err, apperrors.ErrConnectorUnavailable)
	assert.Equal(t, 3, inner.calls)
}

func TestBreakerIgnoresSubjectNotFound(t *testing.T) {
	inner := &flakyConnector{err: apperrors.ErrSubjectNotFound}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cb := NewBreakerConnector(inner, "test", BreakerConfig{MaxFailures: 2}, logger)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := cb.FetchSubjectAttributes(ctx, "ghost", nil, nil)
		assert.ErrorIs(t, err, apperrors.ErrSubjectNotFound)
	}
	// Not-found answers never open the circuit.
	assert.Equal(t, 5, inner.calls)
}
