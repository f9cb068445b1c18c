package auth

import (
	"crypto/sha256"
	"errors"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Interface to create or compare password and client secret hashes
type PasswordHasher interface {
	// Generate Hash from password
	Hash(password string) (string, error)

	// Compare known hashedPassword and user provided password
	// Must be protected against timing attacks
	Compare(hashedPassword string, password string) error
}

var DefaultHasher = BcryptHasher{}

var errEmptyPassword = errors.New("password must not be empty")

// Bcrypt password hasher
// Password is pre-hashed with sha256 so bcrypt 72 bytes limit does not cut long secrets
type BcryptHasher struct {
	// bcrypt.DefaultCost if zero
	Cost int
}

func (h BcryptHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", errEmptyPassword
	}

	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}

	sum := sha256.Sum256([]byte(password))
	hash, err := bcrypt.GenerateFromPassword(sum[:], cost)
	return string(hash), err
}

func (h BcryptHasher) Compare(hashedPassword string, password string) error {
	sum := sha256.Sum256([]byte(password))
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), sum[:])
}

// DummyHash is compared against when the account is unknown
// so the answer takes as long as for a known one
func DummyHash(h PasswordHasher) func() string {
	return sync.OnceValue(func() string {
		hash, _ := h.Hash("dummy-password-never-matches")
		return hash
	})
}
