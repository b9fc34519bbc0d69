package resolver

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attriq/attriq/internal/apperrors"
	"github.com/attriq/attriq/internal/domain"
	infracache "github.com/attriq/attriq/internal/infra/cache"
	"github.com/attriq/attriq/internal/infra/secrets"
)

// fakeConnectionStore serves a single connection and its mappings.
type fakeConnectionStore struct {
	conn     *domain.Connection
	mappings []domain.AttributeMapping
}

func (s *fakeConnectionStore) CreateConnection(ctx context.Context, conn *domain.Connection) error {
	return nil
}

func (s *fakeConnectionStore) GetConnection(ctx context.Context, id string) (*domain.Connection, error) {
	if s.conn == nil || s.conn.ID != id {
		return nil, apperrors.ErrConnectionNotFound
	}
	return s.conn, nil
}

func (s *fakeConnectionStore) ListConnections(ctx context.Context) ([]*domain.Connection, error) {
	return []*domain.Connection{s.conn}, nil
}

func (s *fakeConnectionStore) UpdateConnection(ctx context.Context, conn *domain.Connection) error {
	return nil
}

func (s *fakeConnectionStore) DeleteConnection(ctx context.Context, id string) error { return nil }

func (s *fakeConnectionStore) UpsertMappings(ctx context.Context, connectionID string, mappings []domain.AttributeMapping) error {
	s.mappings = append(s.mappings, mappings...)
	return nil
}

func (s *fakeConnectionStore) GetMappings(ctx context.Context, connectionID string) ([]domain.AttributeMapping, error) {
	return s.mappings, nil
}

// fakeConnector returns canned values and counts backend calls.
type fakeConnector struct {
	mu     sync.Mutex
	values map[string]any
	err    error
	calls  int
}

func (c *fakeConnector) TestConnection(ctx context.Context) error { return c.err }

func (c *fakeConnector) FetchSubjectAttributes(ctx context.Context, subjectID string, names []string, mappings []domain.AttributeMapping) (map[string]any, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	out := make(map[string]any)
	for _, name := range names {
		if v, ok := c.values[name]; ok {
			out[name] = v
		}
	}
	return out, nil
}

func (c *fakeConnector) DiscoverSchema(ctx context.Context) ([]domain.SchemaField, error) {
	return nil, c.err
}

func (c *fakeConnector) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type fakeFactory struct {
	connector domain.Connector
	err       error
}

func (f *fakeFactory) New(ctx context.Context, conn *domain.Connection) (domain.Connector, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.connector, nil
}

// recordingAudit captures entries in emission order.
type recordingAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (a *recordingAudit) Record(ctx context.Context, entry domain.AuditEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
}

func (a *recordingAudit) forAttribute(name string) []domain.AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []domain.AuditEntry
	for _, e := range a.entries {
		if e.AttributeName == name {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	resolver  *Resolver
	store     *fakeConnectionStore
	cache     *infracache.AttributeCache
	connector *fakeConnector
	audit     *recordingAudit
}

func newFixture(t *testing.T, mappings []domain.AttributeMapping, values map[string]any) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	keys, err := secrets.NewLocalKeyProvider("resolver-test", []byte("resolver-salt"))
	require.NoError(t, err)
	secretStore := secrets.NewStore(keys, secrets.NewMemoryBlobRepository(), &recordingAudit{}, logger)

	c := infracache.NewAttributeCache(secretStore, infracache.DefaultTTLPolicy(), 0, logger)
	t.Cleanup(c.Stop)

	store := &fakeConnectionStore{
		conn: &domain.Connection{
			ID:       "conn1",
			Family:   domain.FamilyIdentityProvider,
			Provider: "okta",
		},
		mappings: mappings,
	}
	connector := &fakeConnector{values: values}
	auditLog := &recordingAudit{}

	r := New(store, c, &fakeFactory{connector: connector}, auditLog,
		infracache.DefaultTTLPolicy(), time.Second, logger)

	return &fixture{resolver: r, store: store, cache: c, connector: connector, audit: auditLog}
}

func internalMapping(source, target string) domain.AttributeMapping {
	return domain.AttributeMapping{
		ConnectionID:        "conn1",
		SourceField:         source,
		TargetName:          target,
		Sensitivity:         domain.TierInternal,
		DeclaredSensitivity: true,
	}
}

func TestResolve_FetchThenCacheHit(t *testing.T) {
	fx := newFixture(t,
		[]domain.AttributeMapping{internalMapping("email", "user.email")},
		map[string]any{"user.email": "u1@example.com"})
	ctx := context.Background()

	// First call: miss, fetch, cache write.
	result, err := fx.resolver.Resolve(ctx, "conn1", "u1", []string{"user.email"}, "req-1")
	require.NoError(t, err)
	require.Contains(t, result.Attributes, "user.email")

	attr := result.Attributes["user.email"]
	assert.Equal(t, "u1@example.com", attr.Value)
	assert.Equal(t, domain.TierConfidential, attr.Sensitivity) // email value raises inferred tier
	assert.Equal(t, 1, fx.connector.callCount())

	ops := opsFor(fx.audit, "user.email")
	assert.Equal(t, []domain.AuditOperation{domain.OpCacheMiss, domain.OpFetch, domain.OpCacheWrite}, ops)

	// Second call: cache hit, no backend call.
	result, err = fx.resolver.Resolve(ctx, "conn1", "u1", []string{"user.email"}, "req-2")
	require.NoError(t, err)
	assert.Equal(t, "u1@example.com", result.Attributes["user.email"].Value)
	assert.Equal(t, 1, fx.connector.callCount())

	ops = opsFor(fx.audit, "user.email")
	assert.Equal(t, domain.OpCacheHit, ops[len(ops)-1])
}

func TestResolve_DeclaredInternalKeptInternal(t *testing.T) {
	fx := newFixture(t,
		[]domain.AttributeMapping{internalMapping("dept", "user.department")},
		map[string]any{"user.department": "engineering"})

	result, err := fx.resolver.Resolve(context.Background(), "conn1", "u1", []string{"user.department"}, "")
	require.NoError(t, err)

	attr := result.Attributes["user.department"]
	assert.Equal(t, domain.TierInternal, attr.Sensitivity)
	assert.False(t, attr.IsEncrypted)
	assert.Equal(t, 30*time.Minute, attr.CacheTTL)
}

func TestResolve_RestrictedNeverCached(t *testing.T) {
	mapping := domain.AttributeMapping{
		ConnectionID: "conn1", SourceField: "ssn", TargetName: "user.ssn",
		Sensitivity: domain.TierRestricted, DeclaredSensitivity: true,
	}
	fx := newFixture(t,
		[]domain.AttributeMapping{mapping},
		map[string]any{"user.ssn": "123-45-6789"})
	ctx := context.Background()

	result, err := fx.resolver.Resolve(ctx, "conn1", "u1", []string{"user.ssn"}, "")
	require.NoError(t, err)

	attr := result.Attributes["user.ssn"]
	assert.Equal(t, domain.TierRestricted, attr.Sensitivity)
	assert.False(t, attr.IsEncrypted)
	assert.Zero(t, attr.CacheTTL)

	// A subsequent lookup must miss: restricted values are never stored.
	_, found := fx.cache.Get(ctx, "conn1", "user.ssn")
	assert.False(t, found)

	// Both calls reach the backend.
	_, err = fx.resolver.Resolve(ctx, "conn1", "u1", []string{"user.ssn"}, "")
	require.NoError(t, err)
	assert.Equal(t, 2, fx.connector.callCount())
}

func TestResolve_InferredRestrictedNotCached(t *testing.T) {
	// Mapping does not declare restricted, but the attribute name matches a
	// restricted token, so the classifier raises the effective tier.
	mapping := domain.AttributeMapping{
		ConnectionID: "conn1", SourceField: "salary", TargetName: "user.salary",
		Sensitivity: domain.TierInternal, DeclaredSensitivity: true,
	}
	fx := newFixture(t,
		[]domain.AttributeMapping{mapping},
		map[string]any{"user.salary": 90000})
	ctx := context.Background()

	result, err := fx.resolver.Resolve(ctx, "conn1", "u1", []string{"user.salary"}, "")
	require.NoError(t, err)
	assert.Equal(t, domain.TierRestricted, result.Attributes["user.salary"].Sensitivity)

	_, found := fx.cache.Get(ctx, "conn1", "user.salary")
	assert.False(t, found)
}

func TestResolve_UnmappedNameDropped(t *testing.T) {
	fx := newFixture(t,
		[]domain.AttributeMapping{internalMapping("dept", "user.department")},
		map[string]any{"user.department": "engineering"})

	result, err := fx.resolver.Resolve(context.Background(), "conn1", "u1",
		[]string{"user.department", "user.unknown"}, "")
	require.NoError(t, err)

	assert.Contains(t, result.Attributes, "user.department")
	assert.NotContains(t, result.Attributes, "user.unknown")
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "mapping_error", result.Errors[0].Kind)

	entries := fx.audit.forAttribute("user.unknown")
	require.Len(t, entries, 1)
	assert.Equal(t, domain.OpError, entries[0].Operation)
}

func TestResolve_PartialFailureIsolation(t *testing.T) {
	fx := newFixture(t,
		[]domain.AttributeMapping{
			internalMapping("dept", "user.department"),
			internalMapping("title", "user.title"),
		},
		map[string]any{"user.department": "engineering", "user.title": "SRE"})
	ctx := context.Background()

	// Warm the cache for department only.
	_, err := fx.resolver.Resolve(ctx, "conn1", "u1", []string{"user.department"}, "")
	require.NoError(t, err)

	// Backend goes down; title requires a fetch, department is cached.
	fx.connector.err = apperrors.ErrConnectorUnavailable

	result, err := fx.resolver.Resolve(ctx, "conn1", "u1",
		[]string{"user.department", "user.title"}, "")
	require.NoError(t, err)

	assert.Equal(t, "engineering", result.Attributes["user.department"].Value)
	assert.NotContains(t, result.Attributes, "user.title")
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "user.title", result.Errors[0].Name)
	assert.Equal(t, "connector_unavailable", result.Errors[0].Kind)
}

func TestResolve_AuditNeverContainsValues(t *testing.T) {
	fx := newFixture(t,
		[]domain.AttributeMapping{internalMapping("email", "user.email")},
		map[string]any{"user.email": "u1@example.com"})

	_, err := fx.resolver.Resolve(context.Background(), "conn1", "u1", []string{"user.email"}, "")
	require.NoError(t, err)

	fx.audit.mu.Lock()
	defer fx.audit.mu.Unlock()
	require.NotEmpty(t, fx.audit.entries)
	for _, e := range fx.audit.entries {
		assert.NotContains(t, e.Error, "u1@example.com")
		assert.NotContains(t, e.AttributeName, "u1@example.com")
	}
}

func TestResolve_AuditCompleteness(t *testing.T) {
	fx := newFixture(t,
		[]domain.AttributeMapping{
			internalMapping("dept", "user.department"),
			internalMapping("title", "user.title"),
		},
		map[string]any{"user.department": "engineering", "user.title": "SRE"})

	_, err := fx.resolver.Resolve(context.Background(), "conn1", "u1",
		[]string{"user.department", "user.title"}, "")
	require.NoError(t, err)

	// At least one entry per requested attribute per operation phase.
	for _, name := range []string{"user.department", "user.title"} {
		assert.GreaterOrEqual(t, len(fx.audit.forAttribute(name)), 2)
	}
}

func TestResolve_ConnectionNotFound(t *testing.T) {
	fx := newFixture(t, nil, nil)

	_, err := fx.resolver.Resolve(context.Background(), "nope", "u1", []string{"a"}, "")
	assert.ErrorIs(t, err, apperrors.ErrConnectionNotFound)
}

func TestResolve_SubjectNotFoundMarkers(t *testing.T) {
	fx := newFixture(t,
		[]domain.AttributeMapping{internalMapping("dept", "user.department")}, nil)
	fx.connector.err = apperrors.ErrSubjectNotFound

	result, err := fx.resolver.Resolve(context.Background(), "conn1", "ghost",
		[]string{"user.department"}, "")
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "subject_not_found", result.Errors[0].Kind)
}

func TestResolve_DuplicateNamesCoalesced(t *testing.T) {
	fx := newFixture(t,
		[]domain.AttributeMapping{internalMapping("dept", "user.department")},
		map[string]any{"user.department": "engineering"})

	result, err := fx.resolver.Resolve(context.Background(), "conn1", "u1",
		[]string{"user.department", "user.department"}, "")
	require.NoError(t, err)
	assert.Len(t, result.Attributes, 1)
	assert.Equal(t, 1, fx.connector.callCount())
}

func opsFor(a *recordingAudit, name string) []domain.AuditOperation {
	var ops []domain.AuditOperation
	for _, e := range a.forAttribute(name) {
		ops = append(ops, e.Operation)
	}
	return ops
}
