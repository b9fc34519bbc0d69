// Package resolver orchestrates attribute resolution: mapping checks, the
// cache-vs-fetch decision, sensitivity classification, encryption before
// caching, and the audit trail.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/attriq/attriq/internal/apperrors"
	"github.com/attriq/attriq/internal/classify"
	"github.com/attriq/attriq/internal/domain"
	infracache "github.com/attriq/attriq/internal/infra/cache"
	"github.com/attriq/attriq/pkg/execution"
)

// Resolver answers "give me these attributes for this connection and
// subject". All collaborators are injected; the resolver itself holds no
// mutable state and is safe for concurrent use.
type Resolver struct {
	connections domain.ConnectionStore
	cache       domain.AttributeCache
	factory     domain.ConnectorFactory
	audit       domain.AuditLogger
	ttls        infracache.TTLPolicy
	callTimeout time.Duration
	logger      *slog.Logger
}

func New(connections domain.ConnectionStore, cache domain.AttributeCache, factory domain.ConnectorFactory, audit domain.AuditLogger, ttls infracache.TTLPolicy, callTimeout time.Duration, logger *slog.Logger) *Resolver {
	return &Resolver{
		connections: connections,
		cache:       cache,
		factory:     factory,
		audit:       audit,
		ttls:        ttls,
		callTimeout: callTimeout,
		logger:      logger,
	}
}

// Resolve resolves the requested attribute names for one connection and
// subject. Unmapped names and backend failures become per-attribute error
// markers; the call fails outright only when the connection itself cannot
// be loaded.
func (r *Resolver) Resolve(ctx context.Context, connectionID, subjectID string, names []string, requestID string) (*domain.ResolveResult, error) {
	if requestID == "" {
		requestID = uuid.New().String()
	}

	conn, err := r.connections.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, err
	}

	mappings, err := r.connections.GetMappings(ctx, connectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load mappings for connection %s: %w", connectionID, err)
	}
	byTarget := make(map[string]domain.AttributeMapping, len(mappings))
	for _, m := range mappings {
		byTarget[m.TargetName] = m
	}

	result := &domain.ResolveResult{Attributes: make(map[string]domain.SensitiveAttribute)}

	// Step 1: drop unmapped names with an audit entry, then partition the
	// rest into cache-eligible and always-fresh.
	var cacheEligible, alwaysFresh []string
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		mapping, ok := byTarget[name]
		if !ok {
			r.recordAudit(ctx, connectionID, name, subjectID, requestID, domain.OpError, false,
				fmt.Errorf("%w: %s", apperrors.ErrMappingNotFound, name))
			result.Errors = append(result.Errors, attributeError(name, apperrors.ErrMappingNotFound))
			continue
		}

		if mapping.Sensitivity == domain.TierRestricted {
			alwaysFresh = append(alwaysFresh, name)
		} else {
			cacheEligible = append(cacheEligible, name)
		}
	}

	// Step 2: consult the cache for eligible names, auditing each hit and
	// miss.
	var toFetch []string
	for _, name := range cacheEligible {
		if attr, found := r.cache.Get(ctx, connectionID, name); found {
			r.recordAudit(ctx, connectionID, name, subjectID, requestID, domain.OpCacheHit, true, nil)
			result.Attributes[name] = *attr
			continue
		}
		r.recordAudit(ctx, connectionID, name, subjectID, requestID, domain.OpCacheMiss, true, nil)
		toFetch = append(toFetch, name)
	}
	toFetch = append(toFetch, alwaysFresh...)

	if len(toFetch) == 0 {
		return result, nil
	}

	// Step 3: one batched backend call for everything that needs a fetch.
	values, err := r.fetch(ctx, conn, subjectID, toFetch, mappings)
	if err != nil {
		for _, name := range toFetch {
			r.recordAudit(ctx, connectionID, name, subjectID, requestID, domain.OpError, false, err)
			result.Errors = append(result.Errors, attributeError(name, err))
		}
		return result, nil
	}

	// Step 4: classify, wrap, cache, audit.
	now := time.Now().UTC()
	for _, name := range toFetch {
		value, ok := values[name]
		if !ok {
			r.recordAudit(ctx, connectionID, name, subjectID, requestID, domain.OpError, false,
				fmt.Errorf("source record has no value for %s", name))
			result.Errors = append(result.Errors, domain.AttributeError{
				Name: name, Kind: "value_missing", Detail: "source record has no value for this attribute",
			})
			continue
		}

		mapping := byTarget[name]
		tier := classify.Effective(&mapping, classify.Classify(name, value))

		attr := domain.SensitiveAttribute{
			Name:        name,
			Value:       value,
			Sensitivity: tier,
			IsEncrypted: tier.RequiresEncryptionAtRest() && tier.Cacheable(),
			CacheTTL:    r.ttls.TTLFor(tier),
			LastUpdated: now,
		}

		r.recordAudit(ctx, connectionID, name, subjectID, requestID, domain.OpFetch, true, nil)

		if tier.Cacheable() {
			r.cache.Put(ctx, connectionID, attr)
			r.recordAudit(ctx, connectionID, name, subjectID, requestID, domain.OpCacheWrite, true, nil)
		}

		result.Attributes[name] = attr
	}

	return result, nil
}

// fetch invokes the connector once for the whole batch under the
// configured hard timeout.
func (r *Resolver) fetch(ctx context.Context, conn *domain.Connection, subjectID string, names []string, mappings []domain.AttributeMapping) (map[string]any, error) {
	c, err := r.factory.New(ctx, conn)
	if err != nil {
		return nil, err
	}

	return execution.WithTimeout(ctx, r.callTimeout, func(ctx context.Context) (map[string]any, error) {
		values, err := c.FetchSubjectAttributes(ctx, subjectID, names, mappings)
		if err != nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: fetch timed out: %w", apperrors.ErrConnectorUnavailable, err)
		}
		return values, err
	})
}

// TestConnection checks backend reachability with the stored credential.
func (r *Resolver) TestConnection(ctx context.Context, connectionID string) error {
	conn, err := r.connections.GetConnection(ctx, connectionID)
	if err != nil {
		return err
	}

	c, err := r.factory.New(ctx, conn)
	if err != nil {
		return err
	}

	_, err = execution.WithTimeout(ctx, r.callTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.TestConnection(ctx)
	})
	r.recordAudit(ctx, connectionID, "", "", "", domain.OpConnTest, err == nil, err)
	return err
}

// DiscoverSchema introspects the source and persists newly seen fields as
// suggested mappings carrying the connector's sensitivity hint.
func (r *Resolver) DiscoverSchema(ctx context.Context, connectionID string) ([]domain.SchemaField, error) {
	conn, err := r.connections.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, err
	}

	c, err := r.factory.New(ctx, conn)
	if err != nil {
		return nil, err
	}

	fields, err := execution.WithTimeout(ctx, r.callTimeout, func(ctx context.Context) ([]domain.SchemaField, error) {
		return c.DiscoverSchema(ctx)
	})
	r.recordAudit(ctx, connectionID, "", "", "", domain.OpSchemaScan, err == nil, err)
	if err != nil {
		return nil, err
	}

	existing, err := r.connections.GetMappings(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	known := make(map[string]struct{}, len(existing))
	for _, m := range existing {
		known[m.SourceField] = struct{}{}
	}

	var suggested []domain.AttributeMapping
	for _, field := range fields {
		if _, ok := known[field.Name]; ok {
			continue
		}
		suggested = append(suggested, domain.AttributeMapping{
			ConnectionID: connectionID,
			SourceField:  field.Name,
			TargetName:   field.Name,
			Sensitivity:  field.SensitivityHint,
			DataType:     field.DataType,
		})
	}
	if len(suggested) > 0 {
		if err := r.connections.UpsertMappings(ctx, connectionID, suggested); err != nil {
			r.logger.WarnContext(ctx, "failed to persist suggested mappings",
				"connection_id", connectionID, "error", err)
		}
	}

	return fields, nil
}

func (r *Resolver) recordAudit(ctx context.Context, connectionID, name, subjectID, requestID string, op domain.AuditOperation, success bool, err error) {
	entry := domain.AuditEntry{
		ConnectionID:  connectionID,
		AttributeName: name,
		Operation:     op,
		SubjectID:     subjectID,
		RequestID:     requestID,
		Success:       success,
		Timestamp:     time.Now().UTC(),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	r.audit.Record(ctx, entry)
}

func attributeError(name string, err error) domain.AttributeError {
	return domain.AttributeError{
		Name:   name,
		Kind:   errorKind(err),
		Detail: err.Error(),
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrMappingNotFound):
		return "mapping_error"
	case errors.Is(err, apperrors.ErrSubjectNotFound):
		return "subject_not_found"
	case errors.Is(err, apperrors.ErrConnectorUnavailable):
		return "connector_unavailable"
	case errors.Is(err, apperrors.ErrUnsupportedProvider):
		return "unsupported_provider"
	default:
		return "internal_error"
	}
}
