package identity

import "errors"

var (
	// ErrNoToken is returned when a request carries no bearer token.
	ErrNoToken = errors.New("no token provided")

	// ErrTokenInvalid covers bad signatures, malformed tokens and expiry.
	ErrTokenInvalid = errors.New("invalid or expired token")

	// ErrAccountGone is returned when a valid token names a deleted account.
	ErrAccountGone = errors.New("user not found")

	// ErrWeakSecret is returned when the signing secret is too short.
	ErrWeakSecret = errors.New("token secret must be at least 32 bytes")
)
