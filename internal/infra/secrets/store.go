// Package secrets implements encryption at rest for credential blobs and
// the symmetric cipher the attribute cache uses for confidential values.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/attriq/attriq/internal/apperrors"
	"github.com/attriq/attriq/internal/domain"
)

// BlobRepository persists encrypted blobs keyed by handle.
type BlobRepository interface {
	Put(ctx context.Context, handle domain.SecretHandle, blob domain.EncryptedBlob) error
	Get(ctx context.Context, handle domain.SecretHandle) (domain.EncryptedBlob, error)
	Delete(ctx context.Context, handle domain.SecretHandle) (bool, error)
}

// Store implements domain.SecretsStore. Every store/retrieve/rotate/delete
// emits one audit entry carrying only the truncated handle.
type Store struct {
	keys        KeyProvider
	repo        BlobRepository
	auditLogger domain.AuditLogger
	logger      *slog.Logger
}

func NewStore(keys KeyProvider, repo BlobRepository, auditLogger domain.AuditLogger, logger *slog.Logger) *Store {
	return &Store{
		keys:        keys,
		repo:        repo,
		auditLogger: auditLogger,
		logger:      logger,
	}
}

func (s *Store) Store(ctx context.Context, plaintext []byte) (domain.SecretHandle, error) {
	blob, err := s.Seal(plaintext)
	if err != nil {
		s.audit(ctx, "store", "", err)
		return "", err
	}

	handle := domain.SecretHandle(uuid.New().String())
	if err := s.repo.Put(ctx, handle, blob); err != nil {
		s.audit(ctx, "store", handle.Truncated(), err)
		return "", fmt.Errorf("failed to persist secret blob: %w", err)
	}

	s.audit(ctx, "store", handle.Truncated(), nil)
	return handle, nil
}

func (s *Store) Retrieve(ctx context.Context, handle domain.SecretHandle) ([]byte, error) {
	blob, err := s.repo.Get(ctx, handle)
	if err != nil {
		s.audit(ctx, "retrieve", handle.Truncated(), err)
		if errors.Is(err, apperrors.ErrSecretNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load secret blob: %w", err)
	}

	plaintext, err := s.Open(blob)
	s.audit(ctx, "retrieve", handle.Truncated(), err)
	if err != nil {
		return nil, err
	}
	return plaintext, nil
}

func (s *Store) Rotate(ctx context.Context, oldHandle domain.SecretHandle, newPlaintext []byte) (domain.SecretHandle, error) {
	blob, err := s.Seal(newPlaintext)
	if err != nil {
		s.audit(ctx, "rotate", oldHandle.Truncated(), err)
		return "", err
	}

	newHandle := domain.SecretHandle(uuid.New().String())
	if err := s.repo.Put(ctx, newHandle, blob); err != nil {
		s.audit(ctx, "rotate", oldHandle.Truncated(), err)
		return "", fmt.Errorf("failed to persist rotated secret: %w", err)
	}

	if _, err := s.repo.Delete(ctx, oldHandle); err != nil {
		// The new secret is live; losing the old blob delete is recoverable.
		s.logger.WarnContext(ctx, "failed to delete old secret after rotation",
			"handle", oldHandle.Truncated(), "error", err)
	}

	s.audit(ctx, "rotate", newHandle.Truncated(), nil)
	return newHandle, nil
}

func (s *Store) Delete(ctx context.Context, handle domain.SecretHandle) (bool, error) {
	deleted, err := s.repo.Delete(ctx, handle)
	s.audit(ctx, "delete", handle.Truncated(), err)
	if err != nil {
		return false, fmt.Errorf("failed to delete secret blob: %w", err)
	}
	return deleted, nil
}

// Seal encrypts plaintext under the master key.
func (s *Store) Seal(plaintext []byte) (domain.EncryptedBlob, error) {
	key, err := s.keys.MasterKey(context.Background())
	if err != nil {
		return domain.EncryptedBlob{}, fmt.Errorf("failed to obtain master key: %w", err)
	}

	ciphertext, err := seal(key, plaintext)
	if err != nil {
		return domain.EncryptedBlob{}, err
	}

	return domain.EncryptedBlob{
		Ciphertext: ciphertext,
		Algorithm:  algorithmAES256GCM,
		KeyID:      s.keys.KeyID(),
	}, nil
}

// Open decrypts a blob produced by Seal.
func (s *Store) Open(blob domain.EncryptedBlob) ([]byte, error) {
	if blob.Algorithm != algorithmAES256GCM {
		return nil, fmt.Errorf("%w: unsupported algorithm %q", apperrors.ErrDecryption, blob.Algorithm)
	}

	key, err := s.keys.MasterKey(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to obtain master key: %w", err)
	}

	return open(key, blob.Ciphertext)
}

func (s *Store) audit(ctx context.Context, op, truncatedHandle string, err error) {
	entry := domain.AuditEntry{
		AttributeName: op + ":" + truncatedHandle,
		Operation:     domain.OpSecretOp,
		Success:       err == nil,
		Timestamp:     time.Now().UTC(),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	s.auditLogger.Record(ctx, entry)
}
