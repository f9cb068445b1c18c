package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/gophauth/internal/apperrors"
	"github.com/nkiryanov/gophauth/internal/logger"
	"github.com/nkiryanov/gophauth/internal/metrics"
	"github.com/nkiryanov/gophauth/internal/models"
	"github.com/nkiryanov/gophauth/internal/repository"
	"github.com/nkiryanov/gophauth/internal/service/auth/refresh"
)

const defaultStoreTimeout = 3 * time.Second

// What to do when revoked refresh token is presented again
type ReusePolicy int

const (
	// Revoke the whole rotation chain: the token may have been stolen
	ReuseRevokeFamily ReusePolicy = iota

	// Reject the request only
	ReuseRejectOnly
)

type TokenIssuer interface {
	Issue(p models.Principal, audience []string, lifetime time.Duration) (models.IssuedToken, error)
}

type UserAuthenticator interface {
	CreateUser(ctx context.Context, email string, password string) (models.User, error)
	Authenticate(ctx context.Context, email string, password string) (models.User, error)
}

type ClientAuthenticator interface {
	Authenticate(ctx context.Context, clientID string, secret string) (models.Client, error)
}

type Config struct {
	// 'aud' of user access tokens
	AccessAudience []string

	// 'aud' of client credentials tokens
	SystemAudience []string

	// Upper bound of every store interaction
	// If not set than default is used
	StoreTimeout time.Duration

	OnReuse ReusePolicy
}

type Deps struct {
	Storage repository.Storage
	Issuer  TokenIssuer
	Refresh *refresh.Store
	Users   UserAuthenticator
	Clients ClientAuthenticator
	Metrics *metrics.Metrics
	Logger  logger.Logger
}

// Auth service
// Exchanges user and client credentials for tokens
type AuthService struct {
	accessAudience []string
	systemAudience []string
	storeTimeout   time.Duration
	onReuse        ReusePolicy

	storage repository.Storage
	issuer  TokenIssuer
	refresh *refresh.Store
	users   UserAuthenticator
	clients ClientAuthenticator
	metrics *metrics.Metrics
	logger  logger.Logger
}

func NewService(cfg Config, deps Deps) (*AuthService, error) {
	if deps.Storage == nil || deps.Issuer == nil || deps.Refresh == nil || deps.Users == nil || deps.Clients == nil {
		return nil, errors.New("auth service dependencies must not be nil")
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNoOpLogger()
	}
	if cfg.StoreTimeout == 0 {
		cfg.StoreTimeout = defaultStoreTimeout
	}

	return &AuthService{
		accessAudience: cfg.AccessAudience,
		systemAudience: cfg.SystemAudience,
		storeTimeout:   cfg.StoreTimeout,
		onReuse:        cfg.OnReuse,

		storage: deps.Storage,
		issuer:  deps.Issuer,
		refresh: deps.Refresh,
		users:   deps.Users,
		clients: deps.Clients,
		metrics: deps.Metrics,
		logger:  deps.Logger,
	}, nil
}

// RefreshTTL is lifetime of issued refresh tokens
func (s *AuthService) RefreshTTL() time.Duration {
	return s.refresh.TTL()
}

func (s *AuthService) Register(ctx context.Context, email string, password string) error {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	user, err := s.users.CreateUser(ctx, email, password)
	if err != nil {
		return storeError(err)
	}

	s.logger.Info("user registered", "user_id", user.ID)
	return nil
}

// Login exchanges email and password for new token pair in a new rotation chain
func (s *AuthService) Login(ctx context.Context, email string, password string) (models.TokenPair, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	user, err := s.users.Authenticate(ctx, email, password)
	if err != nil {
		return models.TokenPair{}, storeError(err)
	}

	pair, _, err := s.issuePair(ctx, s.refresh, user, uuid.Nil)
	if err != nil {
		return models.TokenPair{}, storeError(err)
	}

	s.countPair()
	s.logger.Info("user logged in", "user_id", user.ID)
	return pair, nil
}

// Refresh rotates refresh token: consumes it and issues new pair in the same chain
// Roles and scopes are re-read from the user, never carried over from the old token
func (s *AuthService) Refresh(ctx context.Context, token string) (models.TokenPair, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	var (
		pair   models.TokenPair
		reused *models.RefreshToken
	)

	err := s.storage.InTx(ctx, func(tx repository.Storage) error {
		store := s.refresh.Bind(tx)

		consumed, err := store.Consume(ctx, token)
		if err != nil {
			if errors.Is(err, apperrors.ErrRefreshTokenReused) {
				reused = &consumed
			}
			return err
		}

		user, err := tx.User().GetUserByID(ctx, consumed.UserID)
		if err != nil {
			return fmt.Errorf("refresh token owner: %w", err)
		}

		var next models.RefreshToken
		pair, next, err = s.issuePair(ctx, store, user, consumed.FamilyID)
		if err != nil {
			return err
		}

		return store.Link(ctx, consumed.ID, next.ID)
	})

	if reused != nil {
		s.handleReuse(ctx, *reused)
	}
	if err != nil {
		return models.TokenPair{}, storeError(err)
	}

	s.countPair()
	return pair, nil
}

// Logout revokes refresh token
// Unknown, expired or already revoked token is not an error
func (s *AuthService) Logout(ctx context.Context, token string) error {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	err := storeError(s.refresh.Revoke(ctx, token))
	if err != nil && !apperrors.IsTransient(err) {
		s.logger.Debug("logout with unusable refresh token", "error", err)
		return nil
	}
	return err
}

// LogoutAll revokes every rotation chain of the user
// Subject is the user's email; subject without a user has nothing to revoke
func (s *AuthService) LogoutAll(ctx context.Context, subject string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	user, err := s.storage.User().GetUserByEmail(ctx, subject)
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		return 0, nil
	case err != nil:
		return 0, storeError(err)
	}

	n, err := s.refresh.RevokeAll(ctx, user.ID)
	if err != nil {
		return 0, storeError(err)
	}

	s.logger.Info("all sessions revoked", "user_id", user.ID, "revoked", n)
	return n, nil
}

// ClientCredentials issues system token to authenticated client
// Empty requested scopes mean every scope the client is allowed
func (s *AuthService) ClientCredentials(ctx context.Context, clientID string, secret string, requested []string) (models.SystemToken, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	client, err := s.clients.Authenticate(ctx, clientID, secret)
	if err != nil {
		err = storeError(err)
		if apperrors.IsInvalidCredential(err) {
			s.metrics.ClientAuthFailures.Inc()
			s.logger.Security(logger.EventClientAuthFailed, "client authentication failed", "client_id", clientID)
		}
		return models.SystemToken{}, err
	}

	granted, err := grantScopes(client.Scopes, requested)
	if err != nil {
		s.logger.Info("client asked for not allowed scope", "client_id", clientID, "requested", requested)
		return models.SystemToken{}, err
	}

	principal := models.NewPrincipal(client.ID, []string{models.RoleSystem}, granted)
	access, err := s.issuer.Issue(principal, s.systemAudience, client.TokenTTL)
	if err != nil {
		return models.SystemToken{}, err
	}

	s.metrics.TokensIssued.WithLabelValues(metrics.KindSystem).Inc()
	s.logger.Info("system token issued", "client_id", client.ID, "scopes", granted)
	return models.SystemToken{Access: access, Scopes: principal.Scopes}, nil
}

func (s *AuthService) issuePair(ctx context.Context, store *refresh.Store, user models.User, familyID uuid.UUID) (models.TokenPair, models.RefreshToken, error) {
	access, err := s.issuer.Issue(user.Principal(), s.accessAudience, 0)
	if err != nil {
		return models.TokenPair{}, models.RefreshToken{}, err
	}

	issued, stored, err := store.Create(ctx, user.ID, familyID)
	if err != nil {
		return models.TokenPair{}, models.RefreshToken{}, err
	}

	return models.TokenPair{Access: access, Refresh: issued}, stored, nil
}

func (s *AuthService) countPair() {
	s.metrics.TokensIssued.WithLabelValues(metrics.KindAccess).Inc()
	s.metrics.TokensIssued.WithLabelValues(metrics.KindRefresh).Inc()
}

// handleReuse runs outside of the rolled back rotation transaction
func (s *AuthService) handleReuse(ctx context.Context, token models.RefreshToken) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.storeTimeout)
	defer cancel()

	s.metrics.RefreshReuseDetected.Inc()
	s.logger.Security(logger.EventRefreshReuse, "revoked refresh token presented again",
		"user_id", token.UserID,
		"family_id", token.FamilyID,
		"token_id", token.ID,
	)

	if s.onReuse != ReuseRevokeFamily {
		return
	}

	n, err := s.refresh.RevokeFamily(ctx, token.FamilyID)
	if err != nil {
		s.logger.Error("revoke reused token family failed", "family_id", token.FamilyID, "error", err)
		return
	}
	s.logger.Warn("reused token family revoked", "family_id", token.FamilyID, "revoked", n)
}

func grantScopes(allowed []string, requested []string) ([]string, error) {
	if len(requested) == 0 {
		return allowed, nil
	}

	requested = models.NormalizeSet(requested)
	for _, scope := range requested {
		if !slices.Contains(allowed, scope) {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrInvalidScope, scope)
		}
	}
	return requested, nil
}

// Store deadline means the store is unavailable, caller may retry
func storeError(err error) error {
	if err == nil || apperrors.KindOf(err) != apperrors.KindUnknown {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Transient(err)
	}
	return err
}
