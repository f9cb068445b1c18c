package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/nkiryanov/gophauth/internal/apperrors"
	"github.com/nkiryanov/gophauth/internal/handlers/render"
	"github.com/nkiryanov/gophauth/internal/logger"
)

const grantClientCredentials = "client_credentials"

func invalidClient(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="oauth2"`)
	render.OAuthError(w, "invalid_client", "", http.StatusUnauthorized)
}

// handleToken is the OAuth 2.0 token endpoint, only client credentials grant is supported
func handleToken(authService authService, logger logger.Logger) http.Handler {
	type request struct {
		Scope string `json:"scope" validate:"omitempty,scopetokens"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(nil, r.Body, maxBodySize)

		// Form value or query parameter
		if r.FormValue("grant_type") != grantClientCredentials {
			render.OAuthError(w, "unsupported_grant_type", "", http.StatusBadRequest)
			return
		}

		clientID, secret, ok := r.BasicAuth()
		if !ok || clientID == "" {
			invalidClient(w)
			return
		}

		data := request{Scope: r.FormValue("scope")}
		if err := render.Validate(data); err != nil {
			render.OAuthError(w, "invalid_scope", "", http.StatusBadRequest)
			return
		}

		token, err := authService.ClientCredentials(r.Context(), clientID, secret, strings.Fields(data.Scope))
		switch {
		case err == nil:
		case apperrors.IsInvalidCredential(err):
			invalidClient(w)
			return
		case errors.Is(err, apperrors.ErrInvalidScope):
			render.OAuthError(w, "invalid_scope", "", http.StatusBadRequest)
			return
		case apperrors.IsTransient(err):
			logger.Error("Client credentials grant failed", "client_id", clientID, "error", err)
			render.OAuthError(w, "temporarily_unavailable", "", http.StatusServiceUnavailable)
			return
		default:
			logger.Error("Client credentials grant failed", "client_id", clientID, "error", err)
			render.OAuthError(w, "server_error", "", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Cache-Control", "no-store")
		render.JSON(w, tokenResponse{
			AccessToken: token.Access.Value,
			TokenType:   "Bearer",
			ExpiresIn:   expiresIn(token.Access.ExpiresAt),
			Scope:       strings.Join(token.Scopes, " "),
		})
	})
}
