package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/attriq/attriq/internal/apperrors"
	"github.com/attriq/attriq/internal/domain"
)

// ConnectionStore is the pgx-backed implementation of
// domain.ConnectionStore.
type ConnectionStore struct {
	db *pgxpool.Pool
}

func NewConnectionStore(db *pgxpool.Pool) (*ConnectionStore, error) {
	return &ConnectionStore{db: db}, nil
}

func (s *ConnectionStore) CreateConnection(ctx context.Context, conn *domain.Connection) error {
	configJSON, err := json.Marshal(conn.Config)
	if err != nil {
		return fmt.Errorf("failed to serialize connector config: %w", err)
	}

	query := `INSERT INTO connections
		(id, name, family, provider, config, credential_ref, sync_enabled, sync_interval_seconds, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err = s.db.Exec(ctx, query,
		conn.ID, conn.Name, string(conn.Family), conn.Provider, configJSON,
		string(conn.CredentialRef), conn.SyncEnabled, int64(conn.SyncInterval.Seconds()),
		conn.CreatedAt, conn.UpdatedAt)
	return err
}

func (s *ConnectionStore) GetConnection(ctx context.Context, id string) (*domain.Connection, error) {
	query := `SELECT id, name, family, provider, config, credential_ref, sync_enabled, sync_interval_seconds, created_at, updated_at
		FROM connections WHERE id = $1`
	conn, err := scanConnection(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrConnectionNotFound, id)
		}
		return nil, err
	}
	return conn, nil
}

func (s *ConnectionStore) ListConnections(ctx context.Context) ([]*domain.Connection, error) {
	query := `SELECT id, name, family, provider, config, credential_ref, sync_enabled, sync_interval_seconds, created_at, updated_at
		FROM connections ORDER BY created_at`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conns []*domain.Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, conn)
	}
	return conns, rows.Err()
}

func (s *ConnectionStore) UpdateConnection(ctx context.Context, conn *domain.Connection) error {
	configJSON, err := json.Marshal(conn.Config)
	if err != nil {
		return fmt.Errorf("failed to serialize connector config: %w", err)
	}

	query := `UPDATE connections SET
		name = $2, family = $3, provider = $4, config = $5, credential_ref = $6,
		sync_enabled = $7, sync_interval_seconds = $8, updated_at = $9
		WHERE id = $1`
	tag, err := s.db.Exec(ctx, query,
		conn.ID, conn.Name, string(conn.Family), conn.Provider, configJSON,
		string(conn.CredentialRef), conn.SyncEnabled, int64(conn.SyncInterval.Seconds()),
		conn.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", apperrors.ErrConnectionNotFound, conn.ID)
	}
	return nil
}

func (s *ConnectionStore) DeleteConnection(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM connections WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", apperrors.ErrConnectionNotFound, id)
	}
	return nil
}

func (s *ConnectionStore) UpsertMappings(ctx context.Context, connectionID string, mappings []domain.AttributeMapping) error {
	batch := &pgx.Batch{}
	for _, m := range mappings {
		batch.Queue(`INSERT INTO attribute_mappings
			(connection_id, source_field, target_name, sensitivity, declared, data_type, required)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (connection_id, target_name) DO UPDATE SET
			source_field = EXCLUDED.source_field,
			sensitivity = EXCLUDED.sensitivity,
			declared = EXCLUDED.declared,
			data_type = EXCLUDED.data_type,
			required = EXCLUDED.required`,
			connectionID, m.SourceField, m.TargetName, m.Sensitivity.String(),
			m.DeclaredSensitivity, m.DataType, m.Required)
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()
	for range mappings {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to upsert mapping: %w", err)
		}
	}
	return nil
}

func (s *ConnectionStore) GetMappings(ctx context.Context, connectionID string) ([]domain.AttributeMapping, error) {
	query := `SELECT connection_id, source_field, target_name, sensitivity, declared, data_type, required
		FROM attribute_mappings WHERE connection_id = $1 ORDER BY target_name`
	rows, err := s.db.Query(ctx, query, connectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mappings []domain.AttributeMapping
	for rows.Next() {
		var m domain.AttributeMapping
		var sensitivity string
		if err := rows.Scan(&m.ConnectionID, &m.SourceField, &m.TargetName,
			&sensitivity, &m.DeclaredSensitivity, &m.DataType, &m.Required); err != nil {
			return nil, err
		}
		tier, err := domain.TierFromString(sensitivity)
		if err != nil {
			return nil, err
		}
		m.Sensitivity = tier
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConnection(row rowScanner) (*domain.Connection, error) {
	var (
		conn          domain.Connection
		family        string
		configJSON    []byte
		credentialRef string
		syncSeconds   int64
		createdAt     time.Time
		updatedAt     time.Time
	)
	if err := row.Scan(&conn.ID, &conn.Name, &family, &conn.Provider, &configJSON,
		&credentialRef, &conn.SyncEnabled, &syncSeconds, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(configJSON, &conn.Config); err != nil {
		return nil, fmt.Errorf("failed to decode connector config: %w", err)
	}
	conn.Family = domain.ConnectionFamily(family)
	conn.CredentialRef = domain.SecretHandle(credentialRef)
	conn.SyncInterval = time.Duration(syncSeconds) * time.Second
	conn.CreatedAt = createdAt
	conn.UpdatedAt = updatedAt
	return &conn, nil
}
