// Package auth contains the credential primitives of the service: signed
// session tokens, scopes, password hashing and API key material.
package auth

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/classifyd/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Claims is the session token payload: standard claims (subject is the
// username) plus the granted scopes.
type Claims struct {
	jwt.RegisteredClaims
	Scopes []string `json:"scopes,omitempty"`
}

// TokenSigner issues and verifies HMAC-signed session tokens.
type TokenSigner struct {
	secretKey        []byte
	method           jwt.SigningMethod
	validityDuration time.Duration
}

// NewTokenSigner accepts HS256, HS384 and HS512.
func NewTokenSigner(secretKey string, algorithm string, validityDuration time.Duration) (*TokenSigner, error) {
	var method jwt.SigningMethod
	switch algorithm {
	case "HS256":
		method = jwt.SigningMethodHS256
	case "HS384":
		method = jwt.SigningMethodHS384
	case "HS512":
		method = jwt.SigningMethodHS512
	default:
		return nil, fmt.Errorf("unsupported signing algorithm %q", algorithm)
	}
	if secretKey == "" {
		return nil, fmt.Errorf("empty signing secret")
	}
	return &TokenSigner{secretKey: []byte(secretKey), method: method, validityDuration: validityDuration}, nil
}

// GenerateToken signs a token for subject carrying scopes, valid from now
// for the configured duration.
func (s *TokenSigner) GenerateToken(subject string, scopes []Scope, now time.Time) (string, time.Time, error) {
	expires := now.Add(s.validityDuration)

	names := make([]string, 0, len(scopes))
	for _, sc := range scopes {
		names = append(names, string(sc))
	}

	token := jwt.NewWithClaims(s.method, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Scopes: names,
	})

	tokenString, err := token.SignedString(s.secretKey)
	if err != nil {
		return "", time.Time{}, err
	}

	return tokenString, expires, nil
}

// ParseToken verifies signature, algorithm and expiry at now. Every failure
// is reported as common.ErrInvalidToken.
func (s *TokenSigner) ParseToken(tokenString string, now time.Time) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secretKey, nil
	},
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}

	if !token.Valid || claims.Subject == "" {
		return nil, common.ErrInvalidToken
	}

	return claims, nil
}
