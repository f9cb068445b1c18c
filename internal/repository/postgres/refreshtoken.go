package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nkiryanov/gophauth/internal/apperrors"
	"github.com/nkiryanov/gophauth/internal/models"
)

type RefreshTokenRepo struct {
	DB DBTX
}

const refreshColumns = `id, token_hash, user_id, family_id, created_at, expires_at, revoked_at, replaced_by`

const saveToken = `-- name: SaveRefreshToken
INSERT INTO refresh_tokens (id, token_hash, user_id, family_id, created_at, expires_at, revoked_at, replaced_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING ` + refreshColumns

func (r *RefreshTokenRepo) Save(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, saveToken,
		token.ID,
		token.TokenHash,
		token.UserID,
		token.FamilyID,
		token.CreatedAt,
		token.ExpiresAt,
		token.RevokedAt,
		token.ReplacedBy,
	)
	saved, err := pgx.CollectOneRow(rows, rowToRefreshToken)
	if err != nil {
		return saved, dbError(err)
	}
	return saved, nil
}

const getToken = `-- name: GetRefreshToken
SELECT ` + refreshColumns + `
FROM refresh_tokens
WHERE token_hash = $1
`

// Get token
// It should return result even it expired or revoked already
func (r *RefreshTokenRepo) Get(ctx context.Context, tokenHash string) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, getToken, tokenHash)
	token, err := pgx.CollectOneRow(rows, rowToRefreshToken)

	switch {
	case err == nil:
		return token, nil
	case isNoRows(err):
		return token, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	default:
		return token, dbError(err)
	}
}

const consumeToken = `-- name: ConsumeRefreshToken
UPDATE refresh_tokens
SET revoked_at = $2
WHERE token_hash = $1 AND revoked_at IS NULL AND expires_at > $2
RETURNING ` + refreshColumns

// Consume revokes live token and returns it
// Row lock taken by UPDATE makes concurrent callers wait, then re-check the condition and miss
func (r *RefreshTokenRepo) Consume(ctx context.Context, tokenHash string, now time.Time) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, consumeToken, tokenHash, now)
	token, err := pgx.CollectOneRow(rows, rowToRefreshToken)

	switch {
	case err == nil:
		return token, nil
	case !isNoRows(err):
		return token, dbError(err)
	}

	// Nothing consumed, tell why
	token, err = r.Get(ctx, tokenHash)
	switch {
	case err != nil:
		return token, err
	case token.IsRevoked():
		return token, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenReused)
	default:
		return token, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenExpired)
	}
}

const setReplacedBy = `-- name: SetReplacedBy
UPDATE refresh_tokens
SET replaced_by = $2
WHERE id = $1
`

func (r *RefreshTokenRepo) SetReplacedBy(ctx context.Context, tokenID uuid.UUID, replacementID uuid.UUID) error {
	tag, err := r.DB.Exec(ctx, setReplacedBy, tokenID, replacementID)
	switch {
	case err != nil:
		return dbError(err)
	case tag.RowsAffected() == 0:
		return fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	default:
		return nil
	}
}

const revokeToken = `-- name: RevokeRefreshToken
UPDATE refresh_tokens
SET revoked_at = COALESCE(revoked_at, $2)
WHERE token_hash = $1
`

// Revoke token
// Must be idempotent: revoked_at of already revoked token is kept
func (r *RefreshTokenRepo) Revoke(ctx context.Context, tokenHash string, now time.Time) error {
	tag, err := r.DB.Exec(ctx, revokeToken, tokenHash, now)
	switch {
	case err != nil:
		return dbError(err)
	case tag.RowsAffected() == 0:
		return fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	default:
		return nil
	}
}

const revokeFamily = `-- name: RevokeRefreshFamily
UPDATE refresh_tokens
SET revoked_at = $2
WHERE family_id = $1 AND revoked_at IS NULL
`

func (r *RefreshTokenRepo) RevokeFamily(ctx context.Context, familyID uuid.UUID, now time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, revokeFamily, familyID, now)
	if err != nil {
		return 0, dbError(err)
	}
	return tag.RowsAffected(), nil
}

const revokeAllForUser = `-- name: RevokeAllRefreshForUser
UPDATE refresh_tokens
SET revoked_at = $2
WHERE user_id = $1 AND revoked_at IS NULL
`

func (r *RefreshTokenRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, revokeAllForUser, userID, now)
	if err != nil {
		return 0, dbError(err)
	}
	return tag.RowsAffected(), nil
}

const deleteExpired = `-- name: DeleteExpiredRefreshTokens
DELETE FROM refresh_tokens
WHERE expires_at < $1
`

func (r *RefreshTokenRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, deleteExpired, before)
	if err != nil {
		return 0, dbError(err)
	}
	return tag.RowsAffected(), nil
}

func rowToRefreshToken(row pgx.CollectableRow) (models.RefreshToken, error) {
	var t models.RefreshToken
	err := row.Scan(&t.ID, &t.TokenHash, &t.UserID, &t.FamilyID, &t.CreatedAt, &t.ExpiresAt, &t.RevokedAt, &t.ReplacedBy)
	return t, err
}
