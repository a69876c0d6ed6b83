package core

import "strings"

// Role is the authorization level carried by an identity.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// ParseRole maps a claim value to a Role. Unknown values fall back to RoleUser.
func ParseRole(s string) Role {
	if strings.EqualFold(s, string(RoleAdmin)) {
		return RoleAdmin
	}
	return RoleUser
}

// Identity is the authenticated user behind a connection.
// It is fixed for the connection's lifetime.
type Identity struct {
	UserID   int64
	UserName string
	Role     Role
}

// IsAdmin reports whether the identity may moderate.
func (id Identity) IsAdmin() bool {
	return id.Role == RoleAdmin
}
