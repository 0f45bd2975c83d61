package credential

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/giantswarm/console-core/security"
)

// Seal serializes and encrypts a credential for an external persister
func Seal(enc *security.Encryptor, c *Credential) (string, error) {
	if enc == nil {
		return "", errors.New("encryptor is required")
	}
	if c == nil {
		return "", errors.New("no credential to seal")
	}

	payload, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to encode credential: %w", err)
	}

	return enc.Seal(payload)
}

// Open decrypts a credential produced by Seal
func Open(enc *security.Encryptor, sealed string) (*Credential, error) {
	if enc == nil {
		return nil, errors.New("encryptor is required")
	}

	payload, err := enc.Open(sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to open sealed credential: %w", err)
	}

	var c Credential
	if err := json.Unmarshal(payload, &c); err != nil {
		return nil, fmt.Errorf("failed to decode credential: %w", err)
	}
	if c.AccessToken == "" {
		return nil, errors.New("sealed credential has no access token")
	}

	return &c, nil
}
