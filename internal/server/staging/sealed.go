package staging

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/classifyd/internal/cryptox"
)

// keySalt separates staging keys from any other use of the passphrase.
var keySalt = []byte("classifyd/staging/v1")

// SealedStager encrypts content before handing it to the wrapped backend,
// so staged uploads are never stored in the clear.
type SealedStager struct {
	inner Stager
	key   []byte
}

func NewSealedStager(inner Stager, passphrase string) *SealedStager {
	return &SealedStager{inner: inner, key: cryptox.DeriveKey([]byte(passphrase), keySalt)}
}

func (s *SealedStager) Stage(ctx context.Context, owner string, content []byte) (string, error) {
	sealed, err := cryptox.Seal(content, s.key)
	if err != nil {
		return "", fmt.Errorf("seal: %w", err)
	}
	return s.inner.Stage(ctx, owner, sealed)
}

func (s *SealedStager) Open(ctx context.Context, key string) ([]byte, error) {
	sealed, err := s.inner.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	content, err := cryptox.Open(sealed, s.key)
	if err != nil {
		return nil, fmt.Errorf("unseal %s: %w", key, err)
	}
	return content, nil
}

func (s *SealedStager) Release(ctx context.Context, key string) {
	s.inner.Release(ctx, key)
}
