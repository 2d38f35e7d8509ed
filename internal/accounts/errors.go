package accounts

import "errors"

var (
	// ErrAccountNotFound is returned when no account matches a lookup.
	ErrAccountNotFound = errors.New("account not found")

	// ErrDuplicateEmail is returned when an account with the email already exists.
	ErrDuplicateEmail = errors.New("email already registered")

	ErrMissingField     = errors.New("missing required field")
	ErrMissingStudentID = errors.New("student id is required for admin accounts")

	// ErrInvalidCredentials covers both an unknown email and a wrong password.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrNoLocalMethod is returned when an account can only sign in through a provider.
	ErrNoLocalMethod = errors.New("account has no local password")

	ErrAlreadyLinked      = errors.New("provider already linked")
	ErrAlreadyHasPassword = errors.New("account already has a password")
	ErrMethodNotLinked    = errors.New("authentication method not linked")
	ErrLastAuthMethod     = errors.New("cannot remove the only authentication method")
	ErrUnknownMethod      = errors.New("unknown authentication method")

	ErrInvalidOrExpiredToken = errors.New("reset token is invalid or has expired")

	// ErrValidation wraps schema-level violations such as a missing student id
	// on an admin account.
	ErrValidation = errors.New("validation failed")

	// ErrVersionConflict is returned by Save when the stored record changed
	// since it was read.
	ErrVersionConflict = errors.New("account was modified concurrently")
)
