package tokenmanager

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/gophauth/internal/apperrors"
	"github.com/nkiryanov/gophauth/internal/models"
	"github.com/nkiryanov/gophauth/internal/service/auth/keymanager"
)

const (
	testIssuer   = "http://auth-service"
	testAudience = "document-service"
)

func mustParseTime(value string) time.Time {
	dt, err := time.Parse("2006-01-02 15:04:05Z07:00", value)
	if err != nil {
		panic(err)
	}
	return dt
}

type keySourceFunc func(ctx context.Context, kid string) (keymanager.PublicKey, error)

func (f keySourceFunc) PublicKey(ctx context.Context, kid string) (keymanager.PublicKey, error) {
	return f(ctx, kid)
}

func newKeys(t *testing.T, alg string) *keymanager.Manager {
	t.Helper()

	key, err := keymanager.GenerateKey(alg)
	require.NoError(t, err)
	m, err := keymanager.NewFromKey(key)
	require.NoError(t, err)
	return m
}

// signRaw signs arbitrary claims with the manager key, kid header included
func signRaw(t *testing.T, keys *keymanager.Manager, claims jwt.MapClaims) string {
	t.Helper()

	sk := keys.SigningKey()
	method, err := signingMethod(sk.Algorithm)
	require.NoError(t, err)

	token := jwt.NewWithClaims(method, claims)
	token.Header["kid"] = sk.KeyID
	signed, err := token.SignedString(sk.Private)
	require.NoError(t, err)
	return signed
}

func TestVerifier(t *testing.T) {
	t.Parallel()

	now := mustParseTime("2025-03-01 10:00:00Z")
	keys := newKeys(t, keymanager.AlgRS256)
	principal := models.NewPrincipal("user-1", []string{"ROLE_USER", "ROLE_ADMIN"}, []string{"doc:read", "doc:write"})

	newIssuer := func(t *testing.T, keys SigningKeyProvider) *Issuer {
		i, err := NewIssuer(keys, IssuerConfig{Issuer: testIssuer, AccessTTL: 15 * time.Minute})
		require.NoError(t, err)
		i.now = func() time.Time { return now }
		return i
	}

	newVerifier := func(keys keymanager.KeySource, at time.Time) *Verifier {
		v := NewVerifier(keys, VerifierConfig{Issuer: testIssuer, Audience: testAudience})
		v.now = func() time.Time { return at }
		return v
	}

	requireInvalid := func(t *testing.T, err error, reason string) {
		t.Helper()

		require.ErrorIs(t, err, apperrors.ErrInvalidToken)
		require.True(t, apperrors.IsInvalidCredential(err))
		require.Equal(t, reason, Reason(err))
	}

	t.Run("round trip", func(t *testing.T) {
		for _, alg := range []string{keymanager.AlgRS256, keymanager.AlgEdDSA} {
			t.Run(alg, func(t *testing.T) {
				keys := newKeys(t, alg)
				issued, err := newIssuer(t, keys).Issue(principal, []string{testAudience, "api-gateway"}, 0)
				require.NoError(t, err)

				ac, err := newVerifier(keys, now.Add(time.Minute)).Verify(t.Context(), issued.Value)

				require.NoError(t, err)
				assert.Equal(t, principal.Subject, ac.Subject)
				assert.Equal(t, principal.Roles, ac.Roles)
				assert.Equal(t, principal.Scopes, ac.Scopes)
				assert.Equal(t, []string{testAudience, "api-gateway"}, ac.Audience)
				assert.Equal(t, keys.SigningKey().KeyID, ac.KeyID)
				assert.NotEmpty(t, ac.TokenID)
				assert.True(t, ac.IssuedAt.Equal(now))
				assert.True(t, ac.ExpiresAt.Equal(issued.ExpiresAt))
			})
		}
	})

	t.Run("expiry boundary", func(t *testing.T) {
		issued, err := newIssuer(t, keys).Issue(principal, []string{testAudience}, time.Minute)
		require.NoError(t, err)

		_, err = newVerifier(keys, issued.ExpiresAt.Add(-time.Second)).Verify(t.Context(), issued.Value)
		require.NoError(t, err, "token is valid before exp")

		_, err = newVerifier(keys, issued.ExpiresAt).Verify(t.Context(), issued.Value)
		requireInvalid(t, err, ReasonExpired)
	})

	t.Run("not yet valid", func(t *testing.T) {
		issued, err := newIssuer(t, keys).Issue(principal, []string{testAudience}, 0)
		require.NoError(t, err)

		_, err = newVerifier(keys, now.Add(-time.Minute)).Verify(t.Context(), issued.Value)

		requireInvalid(t, err, ReasonNotYetValid)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		i := newIssuer(t, keys)
		i.issuer = "http://evil"
		issued, err := i.Issue(principal, []string{testAudience}, 0)
		require.NoError(t, err)

		_, err = newVerifier(keys, now).Verify(t.Context(), issued.Value)

		requireInvalid(t, err, ReasonBadIssuer)
	})

	t.Run("wrong audience", func(t *testing.T) {
		issued, err := newIssuer(t, keys).Issue(principal, []string{"api-gateway"}, 0)
		require.NoError(t, err)

		_, err = newVerifier(keys, now).Verify(t.Context(), issued.Value)

		requireInvalid(t, err, ReasonBadAudience)
	})

	t.Run("unknown key", func(t *testing.T) {
		other := newKeys(t, keymanager.AlgRS256)
		issued, err := newIssuer(t, other).Issue(principal, []string{testAudience}, 0)
		require.NoError(t, err)

		_, err = newVerifier(keys, now).Verify(t.Context(), issued.Value)

		requireInvalid(t, err, ReasonUnknownKey)
	})

	t.Run("key source unavailable", func(t *testing.T) {
		issued, err := newIssuer(t, keys).Issue(principal, []string{testAudience}, 0)
		require.NoError(t, err)
		down := keySourceFunc(func(context.Context, string) (keymanager.PublicKey, error) {
			return keymanager.PublicKey{}, fmt.Errorf("%w: connection refused", keymanager.ErrKeySourceUnavailable)
		})

		_, err = newVerifier(down, now).Verify(t.Context(), issued.Value)

		requireInvalid(t, err, ReasonKeySourceUnavailable)
	})

	t.Run("tampered payload", func(t *testing.T) {
		issued, err := newIssuer(t, keys).Issue(principal, []string{testAudience}, 0)
		require.NoError(t, err)
		forged := signRaw(t, keys, jwt.MapClaims{"sub": "admin"})

		// Header and payload of forged token, signature of the issued one
		parts := strings.Split(issued.Value, ".")
		forgedParts := strings.Split(forged, ".")
		tampered := strings.Join([]string{parts[0], forgedParts[1], parts[2]}, ".")

		_, err = newVerifier(keys, now).Verify(t.Context(), tampered)

		requireInvalid(t, err, ReasonBadSignature)
	})

	t.Run("altered signature bytes", func(t *testing.T) {
		issued, err := newIssuer(t, keys).Issue(principal, []string{testAudience}, 0)
		require.NoError(t, err)
		parts := strings.Split(issued.Value, ".")
		signature, err := base64.RawURLEncoding.DecodeString(parts[2])
		require.NoError(t, err)

		for _, i := range []int{0, len(signature) / 2, len(signature) - 1} {
			altered := make([]byte, len(signature))
			copy(altered, signature)
			altered[i] ^= 0x01
			token := strings.Join([]string{parts[0], parts[1], base64.RawURLEncoding.EncodeToString(altered)}, ".")

			_, err := newVerifier(keys, now).Verify(t.Context(), token)

			requireInvalid(t, err, ReasonBadSignature)
		}
	})

	t.Run("alg none rejected", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
			"sub": "admin", "iss": testIssuer, "aud": testAudience, "exp": now.Add(time.Hour).Unix(),
		})
		token.Header["kid"] = keys.SigningKey().KeyID
		unsigned, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = newVerifier(keys, now).Verify(t.Context(), unsigned)

		requireInvalid(t, err, ReasonBadSignature)
	})

	t.Run("algorithm of another key type rejected", func(t *testing.T) {
		edKeys := newKeys(t, keymanager.AlgEdDSA)
		token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, jwt.MapClaims{
			"sub": "admin", "iss": testIssuer, "aud": testAudience, "exp": now.Add(time.Hour).Unix(),
		})
		token.Header["kid"] = keys.SigningKey().KeyID // RSA key id
		signed, err := token.SignedString(edKeys.SigningKey().Private)
		require.NoError(t, err)

		_, err = newVerifier(keys, now).Verify(t.Context(), signed)

		requireInvalid(t, err, ReasonBadSignature)
	})

	t.Run("malformed", func(t *testing.T) {
		tests := []struct {
			name  string
			token string
		}{
			{"garbage", "not-a-token"},
			{"empty", ""},
			{"missing kid", func() string {
				token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{"sub": "x", "exp": now.Add(time.Hour).Unix()})
				signed, err := token.SignedString(keys.SigningKey().Private)
				require.NoError(t, err)
				return signed
			}()},
			{"missing exp", signRaw(t, keys, jwt.MapClaims{"sub": "x", "iss": testIssuer, "aud": testAudience})},
			{"missing sub", signRaw(t, keys, jwt.MapClaims{"iss": testIssuer, "aud": testAudience, "exp": now.Add(time.Hour).Unix()})},
			{"roles of wrong shape", signRaw(t, keys, jwt.MapClaims{
				"sub": "x", "iss": testIssuer, "aud": testAudience, "exp": now.Add(time.Hour).Unix(), "roles": 42,
			})},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := newVerifier(keys, now).Verify(t.Context(), tt.token)

				requireInvalid(t, err, ReasonMalformed)
			})
		}
	})

	t.Run("claim shapes are coerced", func(t *testing.T) {
		token := signRaw(t, keys, jwt.MapClaims{
			"sub":   "client-1",
			"iss":   testIssuer,
			"aud":   testAudience,
			"exp":   now.Add(time.Hour).Unix(),
			"roles": "ROLE_SYSTEM, ROLE_USER",
			"scope": []string{"doc:write", "doc:read"},
		})

		ac, err := newVerifier(keys, now).Verify(t.Context(), token)

		require.NoError(t, err)
		require.Equal(t, []string{"ROLE_SYSTEM", "ROLE_USER"}, ac.Roles)
		require.Equal(t, []string{"doc:read", "doc:write"}, ac.Scopes)
		require.Equal(t, []string{testAudience}, ac.Audience, "single string audience is accepted")
	})

	t.Run("no issuer and audience check when not configured", func(t *testing.T) {
		issued, err := newIssuer(t, keys).Issue(principal, []string{"anything"}, 0)
		require.NoError(t, err)
		v := NewVerifier(keys, VerifierConfig{})
		v.now = func() time.Time { return now }

		_, err = v.Verify(t.Context(), issued.Value)

		require.NoError(t, err)
	})

	t.Run("reason of other errors is empty", func(t *testing.T) {
		require.Empty(t, Reason(apperrors.ErrInvalidCredentials))
		require.Empty(t, Reason(nil))
	})
}
