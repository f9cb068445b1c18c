package tokenmanager

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nkiryanov/gophauth/internal/apperrors"
	"github.com/nkiryanov/gophauth/internal/models"
	"github.com/nkiryanov/gophauth/internal/service/auth/keymanager"
)

const (
	DefaultAccessTTL = 15 * time.Minute
)

// SigningKeyProvider is implemented by keymanager.Manager
type SigningKeyProvider interface {
	SigningKey() keymanager.SigningKey
}

type IssuerConfig struct {
	// 'iss' claim. Required
	Issuer string

	// Lifetime used when caller asks for zero lifetime
	// If not set than default is used
	AccessTTL time.Duration
}

type Issuer struct {
	keys      SigningKeyProvider
	issuer    string
	accessTTL time.Duration
	now       func() time.Time
}

func NewIssuer(keys SigningKeyProvider, cfg IssuerConfig) (*Issuer, error) {
	if cfg.Issuer == "" {
		return nil, apperrors.Configuration(errors.New("issuer must not be empty"))
	}
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}

	return &Issuer{
		keys:      keys,
		issuer:    cfg.Issuer,
		accessTTL: cfg.AccessTTL,
		now:       time.Now,
	}, nil
}

// Issue signs access token for the principal
// Zero lifetime means configured default
func (i *Issuer) Issue(p models.Principal, audience []string, lifetime time.Duration) (models.IssuedToken, error) {
	if lifetime <= 0 {
		lifetime = i.accessTTL
	}

	key := i.keys.SigningKey()
	method, err := signingMethod(key.Algorithm)
	if err != nil {
		return models.IssuedToken{}, apperrors.Configuration(err)
	}

	now := i.now().Truncate(time.Second)
	expiresAt := now.Add(lifetime)

	token := jwt.NewWithClaims(method, AccessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   p.Subject,
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings(audience),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Roles: rolesClaim(p.Roles),
		Scope: scopeClaim(p.Scopes),
	})
	token.Header["kid"] = key.KeyID

	signed, err := token.SignedString(key.Private)
	if err != nil {
		return models.IssuedToken{}, apperrors.Configuration(fmt.Errorf("error while signing access token. Err: %w", err))
	}

	return models.IssuedToken{Value: signed, ExpiresAt: expiresAt}, nil
}

func signingMethod(alg string) (jwt.SigningMethod, error) {
	switch alg {
	case keymanager.AlgRS256:
		return jwt.SigningMethodRS256, nil
	case keymanager.AlgEdDSA:
		return jwt.SigningMethodEdDSA, nil
	default:
		return nil, fmt.Errorf("unsupported signing algorithm %q", alg)
	}
}
