package core

import (
	"errors"
	"fmt"
)

// MinSigningKeyLength is the minimum secret size in bytes for HS512 signing
const MinSigningKeyLength = 32

var ErrWeakSigningKey = errors.New("weak signing key")

// Known weak/default secrets that are never accepted
var knownWeakSecrets = []string{
	"changeme",
	"secret",
	"password",
	"test",
	"dev",
	"development",
	"local-dev-jwt-secret-not-for-production",
}

// SigningKey holds the process-wide token secret. It is built once at
// startup and handed to the TokenCodec; there is no way to replace the
// secret afterwards.
type SigningKey struct {
	secret []byte
}

func NewSigningKey(secret string) (*SigningKey, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: secret is required", ErrWeakSigningKey)
	}

	for _, weak := range knownWeakSecrets {
		if secret == weak {
			return nil, fmt.Errorf("%w: default secret not allowed", ErrWeakSigningKey)
		}
	}

	if len(secret) < MinSigningKeyLength {
		return nil, fmt.Errorf("%w: secret must be at least %d bytes (got %d)", ErrWeakSigningKey, MinSigningKeyLength, len(secret))
	}

	key := make([]byte, len(secret))
	copy(key, secret)
	return &SigningKey{secret: key}, nil
}

func (k *SigningKey) String() string {
	return "SigningKey([redacted])"
}

func (k *SigningKey) GoString() string {
	return k.String()
}
