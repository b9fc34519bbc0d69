package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/attriq/attriq/internal/apperrors"
	"github.com/attriq/attriq/internal/domain"
)

// BlobRepository persists encrypted credential blobs. Only ciphertext ever
// reaches this table.
type BlobRepository struct {
	db *pgxpool.Pool
}

func NewBlobRepository(db *pgxpool.Pool) (*BlobRepository, error) {
	return &BlobRepository{db: db}, nil
}

func (r *BlobRepository) Put(ctx context.Context, handle domain.SecretHandle, blob domain.EncryptedBlob) error {
	query := `INSERT INTO secret_blobs (handle, ciphertext, algorithm, key_id, created_at)
		VALUES ($1, $2, $3, $4, now())`
	_, err := r.db.Exec(ctx, query, string(handle), blob.Ciphertext, blob.Algorithm, blob.KeyID)
	return err
}

func (r *BlobRepository) Get(ctx context.Context, handle domain.SecretHandle) (domain.EncryptedBlob, error) {
	var blob domain.EncryptedBlob
	query := `SELECT ciphertext, algorithm, key_id FROM secret_blobs WHERE handle = $1`
	err := r.db.QueryRow(ctx, query, string(handle)).Scan(&blob.Ciphertext, &blob.Algorithm, &blob.KeyID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.EncryptedBlob{}, fmt.Errorf("%w: %s", apperrors.ErrSecretNotFound, handle.Truncated())
		}
		return domain.EncryptedBlob{}, err
	}
	return blob, nil
}

func (r *BlobRepository) Delete(ctx context.Context, handle domain.SecretHandle) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM secret_blobs WHERE handle = $1`, string(handle))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
