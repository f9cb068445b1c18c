package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/gophauth/internal/models"
)

// User repository interface
type UserRepo interface {
	// Create user
	// If user with email exists already has to return error apperrors.ErrUserAlreadyExists
	CreateUser(ctx context.Context, user models.User) (models.User, error)

	// Get user by it's id or email
	// If user not found must return apperrors.ErrUserNotFound
	GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
}

// Client repository interface
type ClientRepo interface {
	// Create client if it does not exist
	// Returns created=false and leaves the stored client untouched otherwise
	CreateIfNotExists(ctx context.Context, client models.Client) (created bool, err error)

	// If client not found must return apperrors.ErrClientNotFound
	GetClient(ctx context.Context, clientID string) (models.Client, error)
}

// RefreshToken repository interface
// Tokens are addressed by the hash of the opaque value
type RefreshTokenRepo interface {
	Save(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error)

	// Return the token even if it is expired or revoked
	// If the token does not exist must return apperrors.ErrRefreshTokenNotFound
	Get(ctx context.Context, tokenHash string) (models.RefreshToken, error)

	// Revoke the token if it is live (not revoked and not expired at 'now')
	// Exactly one of concurrent callers gets the token, others see the classified error:
	// apperrors.ErrRefreshTokenNotFound, apperrors.ErrRefreshTokenReused or apperrors.ErrRefreshTokenExpired
	// On ErrRefreshTokenReused the stored token is returned too
	Consume(ctx context.Context, tokenHash string, now time.Time) (models.RefreshToken, error)

	// Point consumed token to its replacement
	SetReplacedBy(ctx context.Context, tokenID uuid.UUID, replacementID uuid.UUID) error

	// Revoke without consuming. Revoking already revoked token is not an error
	Revoke(ctx context.Context, tokenHash string, now time.Time) error

	// Revoke every live token of the rotation chain or of the user
	RevokeFamily(ctx context.Context, familyID uuid.UUID, now time.Time) (int64, error)
	RevokeAllForUser(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error)

	// Hard delete tokens expired before 'before'
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type Storage interface {
	User() UserRepo
	Client() ClientRepo
	Refresh() RefreshTokenRepo

	// Run fn in transaction. Commit if fn returns nil, rollback otherwise
	InTx(ctx context.Context, fn func(Storage) error) error
}
