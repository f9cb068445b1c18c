// Package keymanager owns the signing keypair and publishes its public half as JWKS
package keymanager

import (
	"context"
	"crypto"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/go-jose/go-jose/v4"

	"github.com/nkiryanov/gophauth/internal/apperrors"
)

var (
	ErrUnknownKey = errors.New("unknown key id")

	// Keys could not be fetched, says nothing about the token
	ErrKeySourceUnavailable = errors.New("key source unavailable")
)

type Config struct {
	// PEM encoded private key. Required unless AllowGenerate is set
	PrivateKeyFile string

	// Generate RSA key in memory when no file is configured. Tokens do not survive restart then
	AllowGenerate bool
}

// SigningKey is the active private key. Never leaves the process
type SigningKey struct {
	KeyID     string
	Algorithm string
	Private   crypto.Signer
}

// PublicKey is a verification key and the only algorithm accepted for it
type PublicKey struct {
	KeyID     string
	Algorithm string
	Key       crypto.PublicKey
}

// KeySource finds verification key by kid
type KeySource interface {
	PublicKey(ctx context.Context, kid string) (PublicKey, error)
}

// Manager holds one active key. Immutable after creation, safe for concurrent use
type Manager struct {
	signing  SigningKey
	public   PublicKey
	jwks     jose.JSONWebKeySet
	jwksJSON []byte
}

// New loads key from file or generates one when allowed
// Every failure is configuration fault
func New(cfg Config) (*Manager, error) {
	var (
		key crypto.Signer
		err error
	)

	switch {
	case cfg.PrivateKeyFile != "":
		key, err = loadKeyFile(cfg.PrivateKeyFile)
	case cfg.AllowGenerate:
		key, err = GenerateKey(AlgRS256)
	default:
		err = errors.New("signing key file is not configured")
	}
	if err != nil {
		return nil, apperrors.Configuration(fmt.Errorf("signing key: %w", err))
	}

	return NewFromKey(key)
}

// NewFromKey creates manager for already loaded key
func NewFromKey(key crypto.Signer) (*Manager, error) {
	alg, err := algorithmFor(key.Public())
	if err != nil {
		return nil, apperrors.Configuration(err)
	}

	kid, err := Thumbprint(key.Public())
	if err != nil {
		return nil, apperrors.Configuration(fmt.Errorf("key thumbprint: %w", err))
	}

	jwk := jose.JSONWebKey{
		Key:       key.Public(),
		KeyID:     kid,
		Algorithm: alg,
		Use:       "sig",
	}
	jwks := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk}}

	raw, err := json.Marshal(jwks)
	if err != nil {
		return nil, apperrors.Configuration(fmt.Errorf("jwks encoding: %w", err))
	}

	return &Manager{
		signing:  SigningKey{KeyID: kid, Algorithm: alg, Private: key},
		public:   PublicKey{KeyID: kid, Algorithm: alg, Key: key.Public()},
		jwks:     jwks,
		jwksJSON: raw,
	}, nil
}

// Thumbprint is RFC 7638 SHA-256 thumbprint of the key, base64url encoded
// Same key gives same kid across restarts
func Thumbprint(pub crypto.PublicKey) (string, error) {
	jwk := jose.JSONWebKey{Key: pub}
	sum, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(sum), nil
}

func (m *Manager) SigningKey() SigningKey {
	return m.signing
}

func (m *Manager) PublicKeySet() jose.JSONWebKeySet {
	return m.jwks
}

// PublicKeySetJSON returns encoded JWKS. Callers must not modify the slice
func (m *Manager) PublicKeySetJSON() []byte {
	return m.jwksJSON
}

func (m *Manager) PublicKey(_ context.Context, kid string) (PublicKey, error) {
	if kid != m.public.KeyID {
		return PublicKey{}, ErrUnknownKey
	}
	return m.public, nil
}

func loadKeyFile(path string) (crypto.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParsePEM(data)
}
