package secrets

import (
	"context"
	"sync"

	"github.com/attriq/attriq/internal/apperrors"
	"github.com/attriq/attriq/internal/domain"
)

// MemoryBlobRepository is an in-process BlobRepository used in development
// mode and in tests.
type MemoryBlobRepository struct {
	mu    sync.RWMutex
	blobs map[domain.SecretHandle]domain.EncryptedBlob
}

func NewMemoryBlobRepository() *MemoryBlobRepository {
	return &MemoryBlobRepository{blobs: make(map[domain.SecretHandle]domain.EncryptedBlob)}
}

func (r *MemoryBlobRepository) Put(ctx context.Context, handle domain.SecretHandle, blob domain.EncryptedBlob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blobs[handle] = blob
	return nil
}

func (r *MemoryBlobRepository) Get(ctx context.Context, handle domain.SecretHandle) (domain.EncryptedBlob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	blob, ok := r.blobs[handle]
	if !ok {
		return domain.EncryptedBlob{}, apperrors.ErrSecretNotFound
	}
	return blob, nil
}

func (r *MemoryBlobRepository) Delete(ctx context.Context, handle domain.SecretHandle) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.blobs[handle]; !ok {
		return false, nil
	}
	delete(r.blobs, handle)
	return true, nil
}
