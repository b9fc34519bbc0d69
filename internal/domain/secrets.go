package domain

import "context"

// SecretHandle is an opaque pointer into the secrets store. Handles are
// safe to persist and to log truncated; they carry no key material.
type SecretHandle string

// Truncated returns a log-safe prefix of the handle.
func (h SecretHandle) Truncated() string {
	const n = 8
	if len(h) <= n {
		return string(h)
	}
	return string(h[:n]) + "…"
}

// EncryptedBlob is ciphertext plus the algorithm that produced it. Secrets
// and cached confidential values are always carried in this shape, never as
// a loosely typed map with an "encrypted" flag.
type EncryptedBlob struct {
	Ciphertext []byte `json:"ciphertext"`
	Algorithm  string `json:"algorithm"`
	KeyID      string `json:"key_id,omitempty"`
}

// SecretsStore encrypts credential blobs at rest. Plaintext leaves the
// store only toward the connector layer, never toward logs.
type SecretsStore interface {
	Store(ctx context.Context, plaintext []byte) (SecretHandle, error)
	Retrieve(ctx context.Context, handle SecretHandle) ([]byte, error)
	Rotate(ctx context.Context, oldHandle SecretHandle, newPlaintext []byte) (SecretHandle, error)
	Delete(ctx context.Context, handle SecretHandle) (bool, error)

	// Seal and Open expose the store's symmetric cipher so the attribute
	// cache can encrypt confidential values without owning key material.
	Seal(plaintext []byte) (EncryptedBlob, error)
	Open(blob EncryptedBlob) ([]byte, error)
}
