package persistence

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/attriq/attriq/internal/domain"
)

// AuditRepository stores audit entries append-only in postgres.
type AuditRepository struct {
	db *pgxpool.Pool
}

func NewAuditRepository(db *pgxpool.Pool) (*AuditRepository, error) {
	return &AuditRepository{db: db}, nil
}

func (r *AuditRepository) CreateEntry(ctx context.Context, entry *domain.AuditEntry) error {
	query := `INSERT INTO audit_entries
		(id, connection_id, attribute_name, operation, subject_id, request_id, success, error_message, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.db.Exec(ctx, query,
		entry.ID, entry.ConnectionID, entry.AttributeName, string(entry.Operation),
		entry.SubjectID, entry.RequestID, entry.Success, entry.Error, entry.Timestamp)
	return err
}

func (r *AuditRepository) Query(ctx context.Context, q domain.AuditQuery) ([]*domain.AuditEntry, error) {
	query := `SELECT id, connection_id, attribute_name, operation, subject_id, request_id, success, error_message, timestamp
		FROM audit_entries
		WHERE ($1 = '' OR connection_id = $1)
		AND ($2 = '' OR subject_id = $2)
		AND ($3::timestamptz IS NULL OR timestamp >= $3)
		AND ($4::timestamptz IS NULL OR timestamp <= $4)
		ORDER BY timestamp DESC
		LIMIT $5`

	limit := q.Limit
	if limit <= 0 {
		limit = 500
	}

	var start, end any
	if !q.Start.IsZero() {
		start = q.Start
	}
	if !q.End.IsZero() {
		end = q.End
	}

	rows, err := r.db.Query(ctx, query, q.ConnectionID, q.SubjectID, start, end, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.AuditEntry
	for rows.Next() {
		var entry domain.AuditEntry
		var operation string
		if err := rows.Scan(&entry.ID, &entry.ConnectionID, &entry.AttributeName, &operation,
			&entry.SubjectID, &entry.RequestID, &entry.Success, &entry.Error, &entry.Timestamp); err != nil {
			return nil, err
		}
		entry.Operation = domain.AuditOperation(operation)
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}
