package secrets

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

const (
	masterKeyLength  = 32
	pbkdf2Iterations = 600_000
)

// KeyProvider yields the process-wide master key. The key is derived or
// unwrapped once and held only in memory for the process lifetime.
type KeyProvider interface {
	MasterKey(ctx context.Context) ([]byte, error)
	KeyID() string
}

// LocalKeyProvider derives the master key from an externally supplied
// passphrase via PBKDF2-SHA256.
type LocalKeyProvider struct {
	passphrase string
	salt       []byte

	once sync.Once
	key  []byte
	err  error
}

func NewLocalKeyProvider(passphrase string, salt []byte) (*LocalKeyProvider, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("master key passphrase cannot be empty")
	}
	if len(salt) == 0 {
		return nil, fmt.Errorf("master key salt cannot be empty")
	}
	return &LocalKeyProvider{passphrase: passphrase, salt: salt}, nil
}

func (p *LocalKeyProvider) MasterKey(ctx context.Context) ([]byte, error) {
	p.once.Do(func() {
		p.key = pbkdf2.Key([]byte(p.passphrase), p.salt, pbkdf2Iterations, masterKeyLength, sha256.New)
	})
	return p.key, p.err
}

func (p *LocalKeyProvider) KeyID() string {
	return "local"
}
