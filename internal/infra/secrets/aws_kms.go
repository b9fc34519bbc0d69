package secrets

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// AWSKMSKeyProvider unwraps the master key from a KMS-encrypted blob
// supplied at deploy time. The plaintext key is unwrapped once and kept in
// memory for the process lifetime.
type AWSKMSKeyProvider struct {
	client     *kms.Client
	kmsKeyARN  string
	wrappedKey []byte

	once sync.Once
	key  []byte
	err  error
}

func NewAWSKMSKeyProvider(cfg aws.Config, kmsKeyARN, wrappedKeyB64 string) (*AWSKMSKeyProvider, error) {
	wrapped, err := base64.StdEncoding.DecodeString(wrappedKeyB64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode wrapped master key: %w", err)
	}
	return &AWSKMSKeyProvider{
		client:     kms.NewFromConfig(cfg),
		kmsKeyARN:  kmsKeyARN,
		wrappedKey: wrapped,
	}, nil
}

func (p *AWSKMSKeyProvider) MasterKey(ctx context.Context) ([]byte, error) {
	p.once.Do(func() {
		input := &kms.DecryptInput{
			CiphertextBlob: p.wrappedKey,
			KeyId:          &p.kmsKeyARN,
		}
		result, err := p.client.Decrypt(ctx, input)
		if err != nil {
			p.err = fmt.Errorf("failed to unwrap master key via kms: %w", err)
			return
		}
		if err := validateKey(result.Plaintext); err != nil {
			p.err = err
			return
		}
		p.key = result.Plaintext
	})
	return p.key, p.err
}

func (p *AWSKMSKeyProvider) KeyID() string {
	return "aws-kms"
}
