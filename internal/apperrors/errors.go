package apperrors

import (
	"errors"
)

// Kind is the coarse class of a failure. Handlers choose the response status by kind only
type Kind int

const (
	KindUnknown Kind = iota

	// Missing or broken setup (signing key, client secret hash). Not recoverable at request time
	KindConfiguration

	// Bad password, bad client secret, bad refresh or access token
	KindInvalidCredential

	// Store or network unavailable. Caller may retry
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindInvalidCredential:
		return "invalid_credential"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// Error carries a Kind along with the wrapped cause
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newKind(kind Kind, msg string) error {
	return &Error{Kind: kind, Err: errors.New(msg)}
}

var (
	ErrInvalidCredentials = newKind(KindInvalidCredential, "invalid credentials")
	ErrInvalidToken       = newKind(KindInvalidCredential, "invalid token")

	ErrUserAlreadyExists = errors.New("user already exists")
	ErrUserNotFound      = newKind(KindInvalidCredential, "user not found")

	ErrClientNotFound = newKind(KindInvalidCredential, "client not found")

	ErrRefreshTokenNotFound = newKind(KindInvalidCredential, "refresh token not found")
	ErrRefreshTokenExpired  = newKind(KindInvalidCredential, "refresh token expired or revoked")

	// Revoked token presented again: retry race or replay of a stolen token
	ErrRefreshTokenReused = newKind(KindInvalidCredential, "refresh token reused")

	ErrUnsupportedGrantType = errors.New("unsupported grant type")
	ErrInvalidScope         = errors.New("requested scope is not allowed")
)

// Transient marks err as a retryable infrastructure fault
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindTransient, Err: err}
}

// Configuration marks err as a setup fault
func Configuration(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindConfiguration, Err: err}
}

// KindOf returns the kind of the outermost kind-carrying error in the chain
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsInvalidCredential reports whether err must be answered with a generic "unauthorized"
func IsInvalidCredential(err error) bool {
	return KindOf(err) == KindInvalidCredential
}

// IsTransient reports whether err is a retryable infrastructure fault
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}
