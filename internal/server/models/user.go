// Package models defines server-side data models persisted in the database.
package models

import "time"

// Role is the coarse permission class of a user.
type Role string

const (
	RoleNormal   Role = "normal"
	RoleVerified Role = "verified"
	RoleAdmin    Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleNormal, RoleVerified, RoleAdmin:
		return true
	}
	return false
}

// User is an authenticated principal.
type User struct {
	ID             int64     `json:"id"`
	UserName       string    `json:"username"`
	Email          string    `json:"email"`
	HashedPassword string    `json:"-"`
	FullName       *string   `json:"full_name"`
	Role           Role      `json:"role"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
}

// UserFilter narrows administrative user listings. Nil fields are ignored.
type UserFilter struct {
	Role     *Role
	IsActive *bool
	Page
}

// UserUpdate lists the administratively mutable user fields. Nil fields are
// left unchanged.
type UserUpdate struct {
	Email    *string `json:"email"`
	FullName *string `json:"full_name"`
	Role     *Role   `json:"role"`
	IsActive *bool   `json:"is_active"`
}

// Pagination bounds.
const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100
)

// Page is skip/limit pagination.
type Page struct {
	Skip  int
	Limit int
}

// Normalize applies the default limit and clamps out of range values.
func (p Page) Normalize() Page {
	if p.Skip < 0 {
		p.Skip = 0
	}
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p
}
