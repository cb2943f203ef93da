// Package services contains server-side business logic: credential
// verification, admission of classification work and the self-service and
// administrative operations on users, API keys and tasks.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/classifyd/internal/common"
	"github.com/dmitrijs2005/classifyd/internal/dbx"
	"github.com/dmitrijs2005/classifyd/internal/server/auth"
	"github.com/dmitrijs2005/classifyd/internal/server/models"
	"github.com/dmitrijs2005/classifyd/internal/server/repositories/repomanager"
)

// Verifier authenticates API keys and session tokens. It never writes.
type Verifier struct {
	db          dbx.DBTX
	repomanager repomanager.RepositoryManager
	signer      *auth.TokenSigner
	now         func() time.Time
}

func NewVerifier(db dbx.DBTX, m repomanager.RepositoryManager, signer *auth.TokenSigner) *Verifier {
	return &Verifier{db: db, repomanager: m, signer: signer, now: time.Now}
}

// VerifyAPIKey resolves the presented API key secret. An empty secret is
// ErrMissingCredential, an unknown or inactive key ErrInvalidCredential and a
// key past its expiration ErrExpiredCredential.
func (v *Verifier) VerifyAPIKey(ctx context.Context, secret string) (*models.APIKey, error) {
	if secret == "" {
		return nil, common.ErrMissingCredential
	}

	key, err := v.repomanager.APIKeys(v.db).GetByHash(ctx, auth.HashAPIKey(secret))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrInvalidCredential
		}
		return nil, fmt.Errorf("error loading api key: %w", err)
	}

	if !key.IsActive {
		return nil, common.ErrInvalidCredential
	}
	if key.Expired(v.now()) {
		return nil, common.ErrExpiredCredential
	}

	return key, nil
}

// KeyOwner loads the principal an API key belongs to. An inactive owner
// cannot use its keys.
func (v *Verifier) KeyOwner(ctx context.Context, key *models.APIKey) (*models.User, error) {
	user, err := v.repomanager.Users(v.db).GetByID(ctx, key.OwnerID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrInvalidCredential
		}
		return nil, fmt.Errorf("error loading key owner: %w", err)
	}
	if !user.IsActive {
		return nil, common.ErrInactivePrincipal
	}
	return user, nil
}

// VerifySessionToken validates a bearer token and loads its subject.
// Scopes come from the token, not from the current role, so a demoted user
// keeps them until the token expires.
func (v *Verifier) VerifySessionToken(ctx context.Context, token string) (*models.User, []auth.Scope, error) {
	if token == "" {
		return nil, nil, common.ErrInvalidToken
	}

	claims, err := v.signer.ParseToken(token, v.now())
	if err != nil {
		return nil, nil, err
	}

	user, err := v.repomanager.Users(v.db).GetByUsername(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, nil, common.ErrPrincipalNotFound
		}
		return nil, nil, fmt.Errorf("error loading principal: %w", err)
	}

	if !user.IsActive {
		return nil, nil, common.ErrInactivePrincipal
	}

	return user, auth.ParseScopes(claims.Scopes), nil
}

// RequireScopes is auth.RequireScopes, exposed next to the verification
// calls that produce the granted set.
func (v *Verifier) RequireScopes(granted []auth.Scope, required ...auth.Scope) error {
	return auth.RequireScopes(granted, required...)
}
