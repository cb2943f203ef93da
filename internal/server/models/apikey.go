package models

import "time"

// APIKey is a long-lived credential bound to one user. Only the SHA-256 hash
// of the secret and its first characters are stored.
type APIKey struct {
	ID        int64      `json:"id"`
	OwnerID   int64      `json:"owner_id"`
	KeyHash   string     `json:"-"`
	KeyPrefix string     `json:"key_prefix"`
	IsActive  bool       `json:"is_active"`
	ExpiresAt *time.Time `json:"expiration_date"`
	CreatedAt time.Time  `json:"created_at"`
}

// Expired reports whether the key expired strictly before now.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && k.ExpiresAt.Before(now)
}

// Usable reports whether the key may authenticate a request at now.
func (k *APIKey) Usable(now time.Time) bool {
	return k.IsActive && !k.Expired(now)
}

// IssuedAPIKey is returned once, right after creation. Secret is never
// stored and cannot be recovered later.
type IssuedAPIKey struct {
	APIKey
	Secret string `json:"key"`
}

// APIKeyFilter narrows API key listings. Nil fields are ignored.
type APIKeyFilter struct {
	OwnerID  *int64
	IsActive *bool
	Page
}

// APIKeyUpdate lists the mutable API key fields. The secret is not among them.
type APIKeyUpdate struct {
	IsActive  *bool      `json:"is_active"`
	ExpiresAt *time.Time `json:"expiration_date"`
}
