package connector

import (
	"encoding/json"
	"fmt"
)

// Credential is the decrypted shape of a connection's secret blob. Which
// fields are populated depends on the connection family.
type Credential struct {
	APIToken     string `json:"api_token,omitempty"`
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	Password     string `json:"password,omitempty"`
}

// ParseCredential decodes a secret blob retrieved from the secrets store.
func ParseCredential(plaintext []byte) (Credential, error) {
	var cred Credential
	if err := json.Unmarshal(plaintext, &cred); err != nil {
		return Credential{}, fmt.Errorf("failed to decode credential blob: %w", err)
	}
	return cred, nil
}
