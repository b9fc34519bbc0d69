package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/attriq/attriq/internal/domain"
)

// AsyncConfig holds the configuration for the asynchronous logger.
type AsyncConfig struct {
	ChannelBufferSize int
	WorkerCount       int
	BatchSize         int
	BatchTimeout      time.Duration
}

// DefaultAsyncConfig returns the deployment defaults.
func DefaultAsyncConfig() AsyncConfig {
	return AsyncConfig{
		ChannelBufferSize: 1024,
		WorkerCount:       2,
		BatchSize:         64,
		BatchTimeout:      time.Second,
	}
}

// AsyncLogger is a non-blocking domain.AuditLogger. The structured log line
// is emitted synchronously; the repository write is batched in background
// workers. A full queue drops the repository write, never blocks resolution.
type AsyncLogger struct {
	logger    *slog.Logger
	repo      domain.AuditRepository
	eventChan chan *domain.AuditEntry
	waitGroup sync.WaitGroup
	config    AsyncConfig
}

func NewAsyncLogger(logger *slog.Logger, repo domain.AuditRepository, config AsyncConfig) *AsyncLogger {
	if config.ChannelBufferSize <= 0 {
		config = DefaultAsyncConfig()
	}
	return &AsyncLogger{
		logger:    logger,
		repo:      repo,
		eventChan: make(chan *domain.AuditEntry, config.ChannelBufferSize),
		config:    config,
	}
}

// Start begins the worker goroutines that process audit entries.
func (l *AsyncLogger) Start() {
	l.waitGroup.Add(l.config.WorkerCount)
	for i := 0; i < l.config.WorkerCount; i++ {
		go l.worker()
	}
}

// Stop gracefully shuts down the logger, draining queued entries.
func (l *AsyncLogger) Stop() {
	close(l.eventChan)
	l.waitGroup.Wait()
}

func (l *AsyncLogger) Record(ctx context.Context, entry domain.AuditEntry) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	logAttrs := []slog.Attr{
		slog.String("audit_id", entry.ID),
		slog.String("connection_id", entry.ConnectionID),
		slog.String("attribute", entry.AttributeName),
		slog.String("operation", string(entry.Operation)),
		slog.String("subject_id", entry.SubjectID),
		slog.String("request_id", entry.RequestID),
		slog.Bool("success", entry.Success),
	}
	if entry.Error != "" {
		logAttrs = append(logAttrs, slog.String("error", entry.Error))
	}
	l.logger.LogAttrs(ctx, slog.LevelInfo, "audit_event", logAttrs...)

	if l.repo == nil {
		return
	}

	select {
	case l.eventChan <- &entry:
	default:
		l.logger.Warn("audit entry channel is full, repository write dropped",
			"operation", string(entry.Operation), "connection_id", entry.ConnectionID)
	}
}

func (l *AsyncLogger) worker() {
	defer l.waitGroup.Done()

	ticker := time.NewTicker(l.config.BatchTimeout)
	defer ticker.Stop()

	batch := make([]*domain.AuditEntry, 0, l.config.BatchSize)

	for {
		select {
		case entry, ok := <-l.eventChan:
			if !ok {
				l.flush(batch)
				return
			}
			batch = append(batch, entry)
			if len(batch) >= l.config.BatchSize {
				l.flush(batch)
				batch = make([]*domain.AuditEntry, 0, l.config.BatchSize)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				l.flush(batch)
				batch = make([]*domain.AuditEntry, 0, l.config.BatchSize)
			}
		}
	}
}

func (l *AsyncLogger) flush(batch []*domain.AuditEntry) {
	for _, entry := range batch {
		if err := l.repo.CreateEntry(context.Background(), entry); err != nil {
			l.logger.Error("failed to write audit entry", "error", err, "audit_id", entry.ID)
		}
	}
}
