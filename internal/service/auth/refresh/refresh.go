// Package refresh issues opaque refresh tokens and keeps their rotation state
package refresh

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/gophauth/internal/apperrors"
	"github.com/nkiryanov/gophauth/internal/models"
	"github.com/nkiryanov/gophauth/internal/repository"
)

const (
	DefaultTTL = 30 * 24 * time.Hour

	// 256 bits of entropy
	tokenBytes = 32
)

type Config struct {
	// Refresh token lifetime
	// If not set than default is used
	TTL time.Duration
}

// Store persists only the hash of a token, the token itself is returned once on creation
type Store struct {
	storage repository.Storage
	ttl     time.Duration
	now     func() time.Time
}

func New(cfg Config, storage repository.Storage) *Store {
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}

	return &Store{
		storage: storage,
		ttl:     cfg.TTL,
		now:     time.Now,
	}
}

// Bind returns the store working on another storage, e.g. transaction
func (s *Store) Bind(storage repository.Storage) *Store {
	bound := *s
	bound.storage = storage
	return &bound
}

func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Create issues new token. Zero familyID starts new rotation chain
func (s *Store) Create(ctx context.Context, userID uuid.UUID, familyID uuid.UUID) (models.IssuedToken, models.RefreshToken, error) {
	value, err := generate()
	if err != nil {
		return models.IssuedToken{}, models.RefreshToken{}, fmt.Errorf("error while generate refresh token. Err: %w", err)
	}

	if familyID == uuid.Nil {
		familyID = uuid.New()
	}

	now := s.now().Truncate(time.Microsecond)
	token, err := s.storage.Refresh().Save(ctx, models.RefreshToken{
		ID:        uuid.New(),
		TokenHash: Hash(value),
		UserID:    userID,
		FamilyID:  familyID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	})
	if err != nil {
		return models.IssuedToken{}, models.RefreshToken{}, fmt.Errorf("error while saving refresh token. Err: %w", err)
	}

	return models.IssuedToken{Value: value, ExpiresAt: token.ExpiresAt}, token, nil
}

// Consume atomically revokes live token and returns its state
// Fails with apperrors.ErrRefreshTokenNotFound, ErrRefreshTokenExpired or ErrRefreshTokenReused.
// Reused token is returned along with the error
func (s *Store) Consume(ctx context.Context, value string) (models.RefreshToken, error) {
	if value == "" {
		return models.RefreshToken{}, apperrors.ErrRefreshTokenNotFound
	}
	return s.storage.Refresh().Consume(ctx, Hash(value), s.now())
}

// Link records rotation: consumed token was replaced by replacement
func (s *Store) Link(ctx context.Context, consumedID uuid.UUID, replacementID uuid.UUID) error {
	return s.storage.Refresh().SetReplacedBy(ctx, consumedID, replacementID)
}

// Revoke revokes token explicitly. Revoked token stays revoked
func (s *Store) Revoke(ctx context.Context, value string) error {
	if value == "" {
		return apperrors.ErrRefreshTokenNotFound
	}
	return s.storage.Refresh().Revoke(ctx, Hash(value), s.now())
}

func (s *Store) RevokeFamily(ctx context.Context, familyID uuid.UUID) (int64, error) {
	return s.storage.Refresh().RevokeFamily(ctx, familyID, s.now())
}

func (s *Store) RevokeAll(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.storage.Refresh().RevokeAllForUser(ctx, userID, s.now())
}

// DeleteExpired hard deletes tokens expired before the moment
func (s *Store) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	return s.storage.Refresh().DeleteExpired(ctx, before)
}

// Hash is the stored form of the token
func Hash(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

func generate() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
