package syncsched

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attriq/attriq/internal/apperrors"
	"github.com/attriq/attriq/internal/domain"
)

type fakeStore struct {
	conns    []*domain.Connection
	mappings map[string][]domain.AttributeMapping
}

func (f *fakeStore) CreateConnection(context.Context, *domain.Connection) error { return nil }
func (f *fakeStore) GetConnection(_ context.Context, id string) (*domain.Connection, error) {
	for _, c := range f.conns {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, apperrors.ErrConnectionNotFound
}
func (f *fakeStore) ListConnections(context.Context) ([]*domain.Connection, error) {
	return f.conns, nil
}
func (f *fakeStore) UpdateConnection(context.Context, *domain.Connection) error { return nil }
func (f *fakeStore) DeleteConnection(context.Context, string) error             { return nil }
func (f *fakeStore) UpsertMappings(context.Context, string, []domain.AttributeMapping) error {
	return nil
}
func (f *fakeStore) GetMappings(_ context.Context, connectionID string) ([]domain.AttributeMapping, error) {
	return f.mappings[connectionID], nil
}

type fakeDiscoverer struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeDiscoverer) DiscoverSchema(_ context.Context, connectionID string) ([]domain.SchemaField, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, connectionID)
	return nil, nil
}

type fakeResolver struct {
	mu    sync.Mutex
	names []string
}

func (f *fakeResolver) Resolve(_ context.Context, _, _ string, names []string, _ string) (*domain.ResolveResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names = append(f.names, names...)
	return &domain.ResolveResult{Attributes: map[string]domain.SensitiveAttribute{}}, nil
}

func newTestScheduler(store *fakeStore) (*Scheduler, *fakeDiscoverer, *fakeResolver) {
	disc := &fakeDiscoverer{}
	res := &fakeResolver{}
	s := New(store, disc, res, slog.Default())
	return s, disc, res
}

func TestTick_SyncsOnlyEnabledConnections(t *testing.T) {
	store := &fakeStore{conns: []*domain.Connection{
		{ID: "conn-on", SyncEnabled: true, SyncInterval: time.Hour},
		{ID: "conn-off", SyncEnabled: false},
	}}
	s, disc, _ := newTestScheduler(store)

	s.Tick(context.Background())

	assert.Equal(t, []string{"conn-on"}, disc.calls)
}

func TestTick_HonorsSyncInterval(t *testing.T) {
	store := &fakeStore{conns: []*domain.Connection{
		{ID: "conn-1", SyncEnabled: true, SyncInterval: time.Hour},
	}}
	s, disc, _ := newTestScheduler(store)

	now := time.Now()
	s.clock = func() time.Time { return now }

	s.Tick(context.Background())
	s.Tick(context.Background())
	require.Len(t, disc.calls, 1)

	s.clock = func() time.Time { return now.Add(61 * time.Minute) }
	s.Tick(context.Background())
	assert.Len(t, disc.calls, 2)
}

func TestTick_WarmsSubjectIndependentSources(t *testing.T) {
	store := &fakeStore{
		conns: []*domain.Connection{
			{ID: "api-1", Family: domain.FamilyHTTPAPI, SyncEnabled: true, SyncInterval: time.Minute},
		},
		mappings: map[string][]domain.AttributeMapping{
			"api-1": {
				{ConnectionID: "api-1", TargetName: "api.title", Sensitivity: domain.TierPublic},
				{ConnectionID: "api-1", TargetName: "api.security_schemes", Sensitivity: domain.TierRestricted},
			},
		},
	}
	s, _, res := newTestScheduler(store)

	s.Tick(context.Background())

	assert.Equal(t, []string{"api.title"}, res.names)
}

func TestTick_DoesNotWarmSubjectKeyedSources(t *testing.T) {
	store := &fakeStore{
		conns: []*domain.Connection{
			{ID: "idp-1", Family: domain.FamilyIdentityProvider, SyncEnabled: true, SyncInterval: time.Minute},
		},
		mappings: map[string][]domain.AttributeMapping{
			"idp-1": {{ConnectionID: "idp-1", TargetName: "email", Sensitivity: domain.TierInternal}},
		},
	}
	s, disc, res := newTestScheduler(store)

	s.Tick(context.Background())

	assert.Len(t, disc.calls, 1)
	assert.Empty(t, res.names)
}
