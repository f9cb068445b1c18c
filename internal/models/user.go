package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	RoleUser   = "ROLE_USER"
	RoleSystem = "ROLE_SYSTEM"
)

type User struct {
	ID             uuid.UUID
	CreatedAt      time.Time
	Email          string
	HashedPassword string
	Roles          []string
	Scopes         []string
}

// Principal the user acts as when tokens are issued for them
// Subject is the login identifier, it stays the same across rotations
func (u User) Principal() Principal {
	return NewPrincipal(u.Email, u.Roles, u.Scopes)
}

// Client is a system caller authenticated with id and secret
type Client struct {
	ID         string
	CreatedAt  time.Time
	SecretHash string
	Scopes     []string
	TokenTTL   time.Duration
}
