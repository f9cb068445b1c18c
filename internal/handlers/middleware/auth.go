package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/nkiryanov/gophauth/internal/handlers/render"
	"github.com/nkiryanov/gophauth/internal/handlers/userctx"
	"github.com/nkiryanov/gophauth/internal/metrics"
	"github.com/nkiryanov/gophauth/internal/models"
	"github.com/nkiryanov/gophauth/internal/service/auth/tokenmanager"
)

const reasonMissing = "missing"

type tokenVerifier interface {
	Verify(ctx context.Context, token string) (models.AuthContext, error)
}

// BearerMiddleware passes only requests with valid access token
// Verified claims are available through userctx
func BearerMiddleware(v tokenVerifier, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				m.VerifyFailures.WithLabelValues(reasonMissing).Inc()
				w.Header().Set("WWW-Authenticate", "Bearer")
				render.OAuthError(w, "invalid_token", "", http.StatusUnauthorized)
				return
			}

			ac, err := verify(r.Context(), v, m, token)
			if err != nil {
				// Client gets no details on why the token is rejected
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
				render.OAuthError(w, "invalid_token", "", http.StatusUnauthorized)
				return
			}

			setLogSubject(r.Context(), ac.Subject)
			next.ServeHTTP(w, r.WithContext(userctx.New(r.Context(), ac)))
		})
	}
}

// OptionalBearerMiddleware attaches claims if valid token is presented and never rejects
func OptionalBearerMiddleware(v tokenVerifier, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token, ok := bearerToken(r); ok {
				if ac, err := verify(r.Context(), v, m, token); err == nil {
					setLogSubject(r.Context(), ac.Subject)
					r = r.WithContext(userctx.New(r.Context(), ac))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func verify(ctx context.Context, v tokenVerifier, m *metrics.Metrics, token string) (models.AuthContext, error) {
	ac, err := v.Verify(ctx, token)
	if err != nil {
		reason := tokenmanager.Reason(err)
		if reason == "" {
			reason = "unknown"
		}
		m.VerifyFailures.WithLabelValues(reason).Inc()
	}
	return ac, err
}

// bearerToken reads 'Authorization: Bearer <token>', scheme is case insensitive
func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}

	token = strings.TrimSpace(token)
	return token, token != ""
}
