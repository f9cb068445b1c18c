package models

import (
	"time"

	"github.com/google/uuid"
)

// RefreshToken is the stored state of an opaque refresh token
// The token itself is never stored, only its hash
type RefreshToken struct {
	ID         uuid.UUID
	TokenHash  string
	UserID     uuid.UUID
	FamilyID   uuid.UUID
	CreatedAt  time.Time
	ExpiresAt  time.Time
	RevokedAt  *time.Time // nil if token is not revoked
	ReplacedBy *uuid.UUID // nil until rotated
}

func (t RefreshToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

type IssuedToken struct {
	Value     string
	ExpiresAt time.Time
}

// Token pair issued on login and refresh
type TokenPair struct {
	Access  IssuedToken
	Refresh IssuedToken
}

// SystemToken is the result of the client credentials grant
type SystemToken struct {
	Access IssuedToken
	Scopes []string
}
