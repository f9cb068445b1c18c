package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/nkiryanov/gophauth/internal/apperrors"
	"github.com/nkiryanov/gophauth/internal/handlers/render"
	"github.com/nkiryanov/gophauth/internal/handlers/userctx"
	"github.com/nkiryanov/gophauth/internal/logger"
	"github.com/nkiryanov/gophauth/internal/models"
)

const (
	refreshCookieName = "refreshToken"
	refreshCookiePath = "/auth"

	maxBodySize = 4096
)

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
}

type messageResponse struct {
	Message string `json:"message"`
	User    string `json:"user,omitempty"`
}

func pairResponse(pair models.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:  pair.Access.Value,
		RefreshToken: pair.Refresh.Value,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn(pair.Access.ExpiresAt),
	}
}

// Seconds left till the moment, never negative
func expiresIn(at time.Time) int64 {
	left := time.Until(at).Round(time.Second)
	if left < 0 {
		return 0
	}
	return int64(left / time.Second)
}

type refreshCookie struct {
	secure bool
	maxAge time.Duration
}

func (c refreshCookie) set(w http.ResponseWriter, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    value,
		Path:     refreshCookiePath,
		MaxAge:   int(c.maxAge.Seconds()),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (c refreshCookie) clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     refreshCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// decodeOptional decodes JSON body if there is one
func decodeOptional(r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodySize)
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// refreshFromRequest prefers cookie over body value
func refreshFromRequest(r *http.Request, bodyValue string) string {
	if cookie, err := r.Cookie(refreshCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return bodyValue
}

func handleSignup(authService authService, logger logger.Logger) http.Handler {
	type request struct {
		Email    string `json:"email" validate:"required,email,max=254"`
		Password string `json:"password" validate:"required,min=6,max=128"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		err = authService.Register(r.Context(), data.Email, data.Password)
		switch {
		case err == nil:
			render.JSONWithStatus(w, messageResponse{Message: "User created"}, http.StatusCreated)
		case errors.Is(err, apperrors.ErrUserAlreadyExists):
			render.ServiceError(w, "User already exists", http.StatusConflict)
		case apperrors.IsTransient(err):
			logger.Error("Signup failed", "error", err)
			render.ServiceError(w, "Service unavailable", http.StatusServiceUnavailable)
		default:
			logger.Error("Signup failed", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleLogin(authService authService, cookie refreshCookie, logger logger.Logger) http.Handler {
	type request struct {
		Email    string `json:"email" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		pair, err := authService.Login(r.Context(), data.Email, data.Password)
		if err != nil {
			if apperrors.IsTransient(err) {
				logger.Error("Login failed", "error", err)
				render.ServiceError(w, "Service unavailable", http.StatusServiceUnavailable)
				return
			}
			// Unknown user, wrong password and broken setup look the same to caller
			logger.Info("Login rejected", "error", err)
			render.ServiceError(w, "Invalid credentials", http.StatusUnauthorized)
			return
		}

		cookie.set(w, pair.Refresh.Value)
		w.Header().Set("Cache-Control", "no-store")
		render.JSON(w, pairResponse(pair))
	})
}

func handleRefresh(authService authService, cookie refreshCookie, logger logger.Logger) http.Handler {
	type request struct {
		RefreshToken string `json:"refresh_token"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var data request
		if err := decodeOptional(r, &data); err != nil {
			render.DecodeError(w, err)
			return
		}

		token := refreshFromRequest(r, data.RefreshToken)
		if token == "" {
			render.ServiceError(w, "Invalid refresh token", http.StatusUnauthorized)
			return
		}

		pair, err := authService.Refresh(r.Context(), token)
		switch {
		case err == nil:
		case apperrors.IsTransient(err):
			logger.Error("Refresh failed", "error", err)
			render.ServiceError(w, "Service unavailable", http.StatusServiceUnavailable)
			return
		default:
			logger.Info("Refresh rejected", "error", err)
			cookie.clear(w)
			render.ServiceError(w, "Invalid refresh token", http.StatusUnauthorized)
			return
		}

		cookie.set(w, pair.Refresh.Value)
		w.Header().Set("Cache-Control", "no-store")
		render.JSON(w, pairResponse(pair))
	})
}

// handleLogout always succeeds: client forgets its tokens anyway
func handleLogout(authService authService, cookie refreshCookie, logger logger.Logger) http.Handler {
	type request struct {
		RefreshToken string `json:"refresh_token"`
		All          bool   `json:"all"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var data request
		if err := decodeOptional(r, &data); err != nil {
			logger.Debug("Logout body ignored", "error", err)
		}

		res := messageResponse{Message: "Logged out"}
		ac, authenticated := userctx.FromContext(r.Context())
		if authenticated {
			res.User = ac.Subject
		}

		if data.All && authenticated {
			if _, err := authService.LogoutAll(r.Context(), ac.Subject); err != nil {
				logger.Error("Logout all failed", "user", ac.Subject, "error", err)
			}
		} else if token := refreshFromRequest(r, data.RefreshToken); token != "" {
			if err := authService.Logout(r.Context(), token); err != nil {
				logger.Error("Logout failed", "error", err)
			}
		}

		cookie.clear(w)
		render.JSON(w, res)
	})
}
