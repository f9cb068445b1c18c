package tokenmanager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nkiryanov/gophauth/internal/apperrors"
	"github.com/nkiryanov/gophauth/internal/models"
	"github.com/nkiryanov/gophauth/internal/service/auth/keymanager"
)

// Failure reasons. For logs and metrics only, never for the token holder
const (
	ReasonMalformed    = "malformed"
	ReasonUnknownKey   = "unknown_key"
	ReasonBadSignature = "bad_signature"
	ReasonExpired      = "expired"
	ReasonBadIssuer    = "bad_issuer"
	ReasonBadAudience  = "bad_audience"
	ReasonNotYetValid  = "not_yet_valid"

	// Keys could not be loaded, the token itself may be fine
	ReasonKeySourceUnavailable = "key_source_unavailable"
)

var errMissingKeyID = errors.New("kid header is missing")

type VerifierConfig struct {
	// Expected 'iss'. Not checked if empty
	Issuer string

	// Expected member of 'aud'. Not checked if empty
	Audience string
}

// Verifier checks access tokens
// Holds no mutable state, safe for concurrent use
type Verifier struct {
	keys     keymanager.KeySource
	issuer   string
	audience string
	now      func() time.Time
}

func NewVerifier(keys keymanager.KeySource, cfg VerifierConfig) *Verifier {
	return &Verifier{
		keys:     keys,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		now:      time.Now,
	}
}

// verifyError hides the failure cause behind apperrors.ErrInvalidToken
type verifyError struct {
	reason string
	cause  error
}

func (e *verifyError) Error() string {
	return fmt.Sprintf("invalid token: %s", e.reason)
}

func (e *verifyError) Unwrap() error {
	return apperrors.ErrInvalidToken
}

// Reason returns why verification failed or empty string for other errors
func Reason(err error) string {
	var ve *verifyError
	if errors.As(err, &ve) {
		return ve.reason
	}
	return ""
}

// Verify checks signature, expiry, issuer and audience and returns the bearer
// Any failure is apperrors.ErrInvalidToken
func (v *Verifier) Verify(ctx context.Context, token string) (models.AuthContext, error) {
	claims := &AccessTokenClaims{}
	var usedKey keymanager.PublicKey

	keyFunc := func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errMissingKeyID
		}

		key, err := v.keys.PublicKey(ctx, kid)
		if err != nil {
			return nil, err
		}

		// Only the algorithm the key was published for
		if t.Method.Alg() != key.Algorithm {
			return nil, jwt.ErrTokenSignatureInvalid
		}

		usedKey = key
		return key.Key, nil
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{keymanager.AlgRS256, keymanager.AlgEdDSA}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	_, err := jwt.ParseWithClaims(token, claims, keyFunc, opts...)
	if err != nil {
		return models.AuthContext{}, &verifyError{reason: reasonOf(err), cause: err}
	}

	if claims.Subject == "" {
		return models.AuthContext{}, &verifyError{reason: ReasonMalformed, cause: errors.New("sub claim is missing")}
	}

	ac := models.AuthContext{
		Subject:   claims.Subject,
		Roles:     models.NormalizeSet(claims.Roles),
		Scopes:    models.NormalizeSet(claims.Scope),
		Audience:  []string(claims.Audience),
		ExpiresAt: claims.ExpiresAt.Time,
		KeyID:     usedKey.KeyID,
		TokenID:   claims.ID,
	}
	if claims.IssuedAt != nil {
		ac.IssuedAt = claims.IssuedAt.Time
	}

	return ac, nil
}

func reasonOf(err error) string {
	switch {
	case errors.Is(err, errMissingKeyID):
		return ReasonMalformed
	case errors.Is(err, keymanager.ErrUnknownKey):
		return ReasonUnknownKey
	case errors.Is(err, keymanager.ErrKeySourceUnavailable):
		return ReasonKeySourceUnavailable
	case errors.Is(err, jwt.ErrTokenMalformed),
		errors.Is(err, jwt.ErrTokenRequiredClaimMissing),
		errors.Is(err, jwt.ErrTokenInvalidClaims) && !isTimeOrPartyError(err):
		return ReasonMalformed
	case errors.Is(err, jwt.ErrTokenExpired):
		return ReasonExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return ReasonNotYetValid
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return ReasonBadIssuer
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return ReasonBadAudience
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ReasonBadSignature
	default:
		// Key source failed some other way
		return ReasonKeySourceUnavailable
	}
}

func isTimeOrPartyError(err error) bool {
	return errors.Is(err, jwt.ErrTokenExpired) ||
		errors.Is(err, jwt.ErrTokenNotValidYet) ||
		errors.Is(err, jwt.ErrTokenUsedBeforeIssued) ||
		errors.Is(err, jwt.ErrTokenInvalidIssuer) ||
		errors.Is(err, jwt.ErrTokenInvalidAudience)
}
