// Package audit records resolution events to structured logs and to the
// append-only audit repository. Entries never carry attribute values.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/attriq/attriq/internal/domain"
)

// Logger implements domain.AuditLogger synchronously.
type Logger struct {
	logger *slog.Logger
	repo   domain.AuditRepository
}

func NewLogger(logger *slog.Logger, repo domain.AuditRepository) *Logger {
	return &Logger{logger: logger, repo: repo}
}

// Record completes the entry (ID, timestamp) and writes it to both sinks.
// A repository failure is logged but does not surface; losing one audit
// row must not fail the resolution that produced it.
func (l *Logger) Record(ctx context.Context, entry domain.AuditEntry) {
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
		slog.Time("timestamp", entry.Timestamp),
	}
	if entry.Error != "" {
		logAttrs = append(logAttrs, slog.String("error", entry.Error))
	}
	l.logger.LogAttrs(ctx, slog.LevelInfo, "audit_event", logAttrs...)

	if l.repo != nil {
		if err := l.repo.CreateEntry(ctx, &entry); err != nil {
			l.logger.ErrorContext(ctx, "failed to store audit entry",
				slog.String("audit_id", entry.ID),
				slog.String("error", err.Error()))
		}
	}
}
