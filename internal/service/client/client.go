package client

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nkiryanov/gophauth/internal/apperrors"
	"github.com/nkiryanov/gophauth/internal/logger"
	"github.com/nkiryanov/gophauth/internal/models"
	"github.com/nkiryanov/gophauth/internal/repository"
	"github.com/nkiryanov/gophauth/internal/service/auth"
)

const DefaultTokenTTL = time.Hour

// Seed is a client created on startup if it does not exist yet
type Seed struct {
	ID       string
	Secret   string
	Scopes   []string
	TokenTTL time.Duration
}

type ClientService struct {
	hasher    auth.PasswordHasher
	dummyHash func() string
	storage   repository.Storage
	logger    logger.Logger
}

func NewService(hasher auth.PasswordHasher, storage repository.Storage, l logger.Logger) *ClientService {
	if hasher == nil {
		hasher = auth.DefaultHasher
	}

	return &ClientService{
		hasher:    hasher,
		dummyHash: auth.DummyHash(hasher),
		storage:   storage,
		logger:    l,
	}
}

// Seed creates missing clients. Existing ones are never overwritten
func (s *ClientService) Seed(ctx context.Context, seeds []Seed) error {
	for _, seed := range seeds {
		hash, err := s.hasher.Hash(seed.Secret)
		if err != nil {
			return fmt.Errorf("client %q secret: %w", seed.ID, err)
		}

		ttl := seed.TokenTTL
		if ttl == 0 {
			ttl = DefaultTokenTTL
		}

		created, err := s.storage.Client().CreateIfNotExists(ctx, models.Client{
			ID:         seed.ID,
			SecretHash: hash,
			Scopes:     seed.Scopes,
			TokenTTL:   ttl,
		})
		if err != nil {
			return fmt.Errorf("client %q seed: %w", seed.ID, err)
		}

		if created {
			s.logger.Info("client seeded", "client_id", seed.ID, "scopes", strings.Join(seed.Scopes, " "))
		}
	}

	return nil
}

// Authenticate returns client if secret matches
// Unknown client and wrong secret are indistinguishable, also by time
func (s *ClientService) Authenticate(ctx context.Context, clientID string, secret string) (models.Client, error) {
	client, err := s.storage.Client().GetClient(ctx, clientID)

	switch {
	case errors.Is(err, apperrors.ErrClientNotFound):
		_ = s.hasher.Compare(s.dummyHash(), secret)
		return models.Client{}, apperrors.ErrInvalidCredentials
	case err != nil:
		return models.Client{}, err
	}

	if err := s.hasher.Compare(client.SecretHash, secret); err != nil {
		return models.Client{}, apperrors.ErrInvalidCredentials
	}

	return client, nil
}

// ParseSeeds parses "id:secret:scope1,scope2:ttlSeconds;..." definitions
// Scopes and ttl may be omitted. Scopes may contain colons ("doc:read"),
// so numeric last segment is taken as ttl and everything between secret and ttl as scopes
func ParseSeeds(value string) ([]Seed, error) {
	var seeds []Seed

	for def := range strings.SplitSeq(value, ";") {
		def = strings.TrimSpace(def)
		if def == "" {
			continue
		}

		parts := strings.Split(def, ":")
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("client definition %q: expected id:secret[:scopes[:ttlSeconds]]", def)
		}

		seed := Seed{ID: parts[0], Secret: parts[1], TokenTTL: DefaultTokenTTL}
		rest := parts[2:]

		if n := len(rest); n > 0 {
			if seconds, err := strconv.Atoi(rest[n-1]); err == nil {
				if seconds <= 0 {
					return nil, fmt.Errorf("client %q: ttl must be positive number of seconds", seed.ID)
				}
				seed.TokenTTL = time.Duration(seconds) * time.Second
				rest = rest[:n-1]
			}
		}

		if len(rest) > 0 {
			seed.Scopes = models.NormalizeSet(strings.Split(strings.Join(rest, ":"), ","))
		}

		seeds = append(seeds, seed)
	}

	return seeds, nil
}
