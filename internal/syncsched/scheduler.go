// Package syncsched runs the periodic background sync for connections
// that opted in. Each pass re-discovers the source schema so newly added
// fields show up as suggested mappings, and pre-warms the cache for
// sources whose attributes do not depend on a subject.
package syncsched

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/attriq/attriq/internal/domain"
)

// SchemaDiscoverer is the slice of the resolver the scheduler needs for
// schema refresh.
type SchemaDiscoverer interface {
	DiscoverSchema(ctx context.Context, connectionID string) ([]domain.SchemaField, error)
}

// AttributeResolver is the slice of the resolver used for cache warming.
type AttributeResolver interface {
	Resolve(ctx context.Context, connectionID, subjectID string, names []string, requestID string) (*domain.ResolveResult, error)
}

// Scheduler ticks once a minute and syncs every enabled connection whose
// interval has elapsed since its last successful pass.
type Scheduler struct {
	connections domain.ConnectionStore
	discoverer  SchemaDiscoverer
	resolver    AttributeResolver
	logger      *slog.Logger

	cron  *cron.Cron
	clock func() time.Time

	mu      sync.Mutex
	lastRun map[string]time.Time
}

func New(connections domain.ConnectionStore, discoverer SchemaDiscoverer, resolver AttributeResolver, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		connections: connections,
		discoverer:  discoverer,
		resolver:    resolver,
		logger:      logger,
		cron:        cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		clock:       time.Now,
		lastRun:     make(map[string]time.Time),
	}
}

// Start registers the tick job and starts the cron loop.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc("@every 1m", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Second)
		defer cancel()
		s.Tick(ctx)
	}); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("background sync scheduler started")
	return nil
}

// Stop halts the cron loop and waits for any in-flight pass to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("background sync scheduler stopped")
}

// Tick runs one scheduling pass. Exported so a pass can also be triggered
// directly, outside the cron loop.
func (s *Scheduler) Tick(ctx context.Context) {
	conns, err := s.connections.ListConnections(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "sync pass failed to list connections", "error", err)
		return
	}

	now := s.clock()
	for _, conn := range conns {
		if !conn.SyncEnabled {
			continue
		}
		if !s.due(conn, now) {
			continue
		}
		s.syncConnection(ctx, conn)
	}
}

func (s *Scheduler) due(conn *domain.Connection, now time.Time) bool {
	interval := conn.SyncInterval
	if interval <= 0 {
		interval = time.Hour
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.lastRun[conn.ID]
	if ok && now.Sub(last) < interval {
		return false
	}
	s.lastRun[conn.ID] = now
	return true
}

func (s *Scheduler) syncConnection(ctx context.Context, conn *domain.Connection) {
	log := s.logger.With("connection_id", conn.ID, "connection_name", conn.Name)

	if _, err := s.discoverer.DiscoverSchema(ctx, conn.ID); err != nil {
		log.ErrorContext(ctx, "background schema sync failed", "error", err)
		return
	}
	log.InfoContext(ctx, "background schema sync completed")

	// Subject-independent sources can be pre-warmed; everything else is
	// resolved on demand because values are keyed by subject.
	if conn.Family == domain.FamilyHTTPAPI {
		s.warm(ctx, conn, log)
	}
}

func (s *Scheduler) warm(ctx context.Context, conn *domain.Connection, log *slog.Logger) {
	mappings, err := s.connections.GetMappings(ctx, conn.ID)
	if err != nil {
		log.ErrorContext(ctx, "cache warm failed to load mappings", "error", err)
		return
	}

	var names []string
	for _, m := range mappings {
		if m.Sensitivity.Cacheable() {
			names = append(names, m.TargetName)
		}
	}
	if len(names) == 0 {
		return
	}

	result, err := s.resolver.Resolve(ctx, conn.ID, "", names, "")
	if err != nil {
		log.ErrorContext(ctx, "cache warm failed", "error", err)
		return
	}
	log.InfoContext(ctx, "cache warm completed",
		"warmed", len(result.Attributes), "errors", len(result.Errors))
}
