package auth

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/dmitrijs2005/classifyd/internal/shared"
)

const (
	apiKeyBytes     = 32
	apiKeyPrefixLen = 8
)

// APIKeyMaterial is a freshly generated API key. Only Hash and Prefix are
// persisted.
type APIKeyMaterial struct {
	Secret string
	Hash   string
	Prefix string
}

// GenerateAPIKey creates a random secret with its lookup hash.
func GenerateAPIKey() (*APIKeyMaterial, error) {
	secret, err := shared.MakeRandHexString(apiKeyBytes)
	if err != nil {
		return nil, err
	}
	return &APIKeyMaterial{
		Secret: secret,
		Hash:   HashAPIKey(secret),
		Prefix: secret[:apiKeyPrefixLen],
	}, nil
}

// HashAPIKey returns the hex SHA-256 of secret.
func HashAPIKey(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
