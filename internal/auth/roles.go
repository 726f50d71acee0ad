// Package auth defines caller identity, the two-tier role model, and the
// JWT bearer tokens that carry both.
package auth

import "github.com/shiftsync/shiftsync/internal/core/sync"

type Role string

const (
	// RoleAdmin and RoleManager may write any allow-listed key.
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	// RoleMember may write only the collaborative subset.
	RoleMember Role = "member"
)

// Identity is the authenticated caller of a push or pull.
type Identity struct {
	UserID string
	Name   string
	Role   Role
}

// Normalize maps unknown role strings to the most restricted tier.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleAdmin, RoleManager, RoleMember:
		return Role(role)
	default:
		return RoleMember
	}
}

// CanWrite reports whether the role may push the given key.
func CanWrite(role Role, key sync.Key) bool {
	switch role {
	case RoleAdmin, RoleManager:
		return true
	case RoleMember:
		return sync.Collaborative(key)
	default:
		return false
	}
}
