package domain

import (
	"context"
	"time"
)

// AuditOperation is the phase of attribute resolution (or secrets access)
// an audit entry records.
type AuditOperation string

const (
	OpFetch       AuditOperation = "fetch"
	OpCacheHit    AuditOperation = "cache-hit"
	OpCacheMiss   AuditOperation = "cache-miss"
	OpCacheWrite  AuditOperation = "cache-write"
	OpError       AuditOperation = "error"
	OpSecretOp    AuditOperation = "secret-op"
	OpSchemaScan  AuditOperation = "schema-scan"
	OpConnTest    AuditOperation = "connection-test"
)

// AuditEntry is one immutable record of an operation against a connection
// attribute. It never contains the resolved value.
type AuditEntry struct {
	ID            string
	ConnectionID  string
	AttributeName string
	Operation     AuditOperation
	SubjectID     string
	RequestID     string
	Success       bool
	Error         string
	Timestamp     time.Time
}

// AuditQuery filters audit retrieval. Zero values mean "no constraint".
type AuditQuery struct {
	ConnectionID string
	SubjectID    string
	Start        time.Time
	End          time.Time
	Limit        int
}

// AuditRepository persists audit entries append-only.
type AuditRepository interface {
	CreateEntry(ctx context.Context, entry *AuditEntry) error
	Query(ctx context.Context, q AuditQuery) ([]*AuditEntry, error)
}

// AuditLogger records resolution events both to structured logs and to the
// audit repository. Implementations must never log attribute values.
type AuditLogger interface {
	Record(ctx context.Context, entry AuditEntry)
}
