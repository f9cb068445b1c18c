package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/nkiryanov/gophauth/internal/handlers/middleware"
	"github.com/nkiryanov/gophauth/internal/logger"
	"github.com/nkiryanov/gophauth/internal/metrics"
	"github.com/nkiryanov/gophauth/internal/models"
)

type Config struct {
	// Set 'Secure' attribute on refresh token cookie
	CookieSecure bool
}

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

func NewRouter(
	cfg Config,
	authService authService,
	verifier tokenVerifier,
	keys keySet,
	m *metrics.Metrics,
	logger logger.Logger,
) http.Handler {
	withAuth := middleware.BearerMiddleware(verifier, m)
	withOptionalAuth := middleware.OptionalBearerMiddleware(verifier, m)
	cookie := refreshCookie{secure: cfg.CookieSecure, maxAge: authService.RefreshTTL()}

	apiauth := http.NewServeMux()

	apiauth.Handle("POST /signup", handleSignup(authService, logger))
	apiauth.Handle("POST /login", handleLogin(authService, cookie, logger))
	apiauth.Handle("POST /refresh", handleRefresh(authService, cookie, logger))
	apiauth.Handle("POST /logout", withOptionalAuth(handleLogout(authService, cookie, logger)))
	apiauth.Handle("GET /me", withAuth(handleMe()))

	root := http.NewServeMux()
	root.Handle("/auth/", http.StripPrefix("/auth", apiauth))
	root.Handle("POST /oauth2/token", handleToken(authService, logger))
	root.Handle("GET /.well-known/jwks.json", handleJWKS(keys))
	root.Handle("GET /metrics", m.Handler())

	handler := chain(root,
		middleware.LoggerMiddleware(logger),
		middleware.MetricsMiddleware(m),
	)

	return handler
}

type authService interface {
	// Register user with email and password
	// Has to return apperrors.ErrUserAlreadyExists if user already exists
	Register(ctx context.Context, email string, password string) error

	// Has to return invalid credential kind error for unknown user or wrong password
	Login(ctx context.Context, email string, password string) (models.TokenPair, error)

	// Rotate refresh token
	// Any invalid credential kind error means the token is unusable
	Refresh(ctx context.Context, refresh string) (models.TokenPair, error)

	// Revoke refresh token. Only transient errors are returned
	Logout(ctx context.Context, refresh string) error

	// Revoke every refresh token of the subject
	LogoutAll(ctx context.Context, subject string) (int64, error)

	// Client credentials grant
	// Has to return apperrors.ErrInvalidScope if scopes are not allowed for the client
	ClientCredentials(ctx context.Context, clientID string, secret string, scopes []string) (models.SystemToken, error)

	// Lifetime of issued refresh tokens
	RefreshTTL() time.Duration
}

type tokenVerifier interface {
	Verify(ctx context.Context, token string) (models.AuthContext, error)
}

type keySet interface {
	PublicKeySetJSON() []byte
}
