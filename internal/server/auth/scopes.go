package auth

import (
	"fmt"

	"github.com/dmitrijs2005/classifyd/internal/common"
	"github.com/dmitrijs2005/classifyd/internal/server/models"
)

// Scope is a named permission carried by a session token.
type Scope string

const (
	ScopeAdmin Scope = "admin"
)

// knownScopes is the closed set of scopes the service grants.
var knownScopes = map[Scope]struct{}{
	ScopeAdmin: {},
}

// ScopesForRole returns the scopes a user of role is granted at login.
func ScopesForRole(role models.Role) []Scope {
	if role == models.RoleAdmin {
		return []Scope{ScopeAdmin}
	}
	return nil
}

// ParseScopes converts token claim values to scopes, dropping unknown ones.
func ParseScopes(names []string) []Scope {
	scopes := make([]Scope, 0, len(names))
	for _, n := range names {
		if _, ok := knownScopes[Scope(n)]; ok {
			scopes = append(scopes, Scope(n))
		}
	}
	return scopes
}

// RequireScopes fails with common.ErrInsufficientScope unless every required
// scope is among granted.
func RequireScopes(granted []Scope, required ...Scope) error {
	have := make(map[Scope]struct{}, len(granted))
	for _, s := range granted {
		have[s] = struct{}{}
	}
	for _, s := range required {
		if _, ok := have[s]; !ok {
			return fmt.Errorf("%w: missing %s", common.ErrInsufficientScope, s)
		}
	}
	return nil
}
