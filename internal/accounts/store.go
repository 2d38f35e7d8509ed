package accounts

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Backend is the raw persistence layer beneath Store. Implementations return
// ErrAccountNotFound for empty lookups, ErrDuplicateEmail on unique-email
// violations, and ErrVersionConflict when Update finds a different version.
type Backend interface {
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByID(ctx context.Context, id uuid.UUID) (*Account, error)
	// FindByResetToken matches the stored token digest with expiry after now.
	FindByResetToken(ctx context.Context, digest string, now time.Time) (*Account, error)
	Insert(ctx context.Context, a *Account) error
	// Update replaces the record whose version equals expectedVersion.
	Update(ctx context.Context, a *Account, expectedVersion int64) error
	// FindNeedingRepair lists records whose methods array is missing or whose
	// password hash has no matching local method.
	FindNeedingRepair(ctx context.Context) ([]*Account, error)
}

// Store persists accounts. Every write validates the record and hashes any
// staged plaintext password before it reaches the Backend.
type Store struct {
	backend Backend
	hasher  *Hasher
	now     func() time.Time
}

// NewStore creates a Store over backend.
func NewStore(backend Backend, hasher *Hasher) *Store {
	return &Store{backend: backend, hasher: hasher, now: func() time.Time { return time.Now().UTC() }}
}

// FindByEmail performs a case-insensitive exact match.
func (s *Store) FindByEmail(ctx context.Context, email string) (*Account, error) {
	return s.backend.FindByEmail(ctx, NormalizeEmail(email))
}

// FindByID looks an account up by its id.
func (s *Store) FindByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	return s.backend.FindByID(ctx, id)
}

// FindByResetToken returns the account holding the raw reset token, or
// ErrAccountNotFound when the token is unknown or expired at now.
func (s *Store) FindByResetToken(ctx context.Context, token string, now time.Time) (*Account, error) {
	if token == "" {
		return nil, ErrAccountNotFound
	}
	return s.backend.FindByResetToken(ctx, digestToken(token), now)
}

// FindNeedingRepair passes through to the backend.
func (s *Store) FindNeedingRepair(ctx context.Context) ([]*Account, error) {
	return s.backend.FindNeedingRepair(ctx)
}

// Create assigns id, timestamps and version, then inserts.
func (s *Store) Create(ctx context.Context, a *Account) error {
	if err := s.beforeWrite(ctx, a); err != nil {
		return err
	}
	now := s.now()
	a.ID = uuid.New()
	a.CreatedAt = now
	a.UpdatedAt = now
	a.Version = 1
	if err := s.backend.Insert(ctx, a); err != nil {
		a.ID = uuid.Nil
		return err
	}
	return nil
}

// Save writes a mutated account with an optimistic version check. On
// ErrVersionConflict the caller should re-read and reapply its change.
func (s *Store) Save(ctx context.Context, a *Account) error {
	if err := s.beforeWrite(ctx, a); err != nil {
		return err
	}
	expected := a.Version
	prevUpdated := a.UpdatedAt
	a.Version = expected + 1
	a.UpdatedAt = s.now()
	if err := s.backend.Update(ctx, a, expected); err != nil {
		a.Version = expected
		a.UpdatedAt = prevUpdated
		return err
	}
	return nil
}

// beforeWrite is the pre-commit hook shared by Create and Save.
func (s *Store) beforeWrite(ctx context.Context, a *Account) error {
	a.Email = NormalizeEmail(a.Email)
	if a.Email == "" {
		return fmt.Errorf("%w: email is required", ErrValidation)
	}
	if !looksLikeEmail(a.Email) {
		return fmt.Errorf("%w: email is malformed", ErrValidation)
	}
	if a.Role == "" {
		a.Role = RoleUser
	}
	if _, ok := ParseRole(string(a.Role)); !ok {
		return fmt.Errorf("%w: unknown role %q", ErrValidation, a.Role)
	}
	if a.Role == RoleAdmin && a.StudentID == "" {
		return fmt.Errorf("%w: %v", ErrValidation, ErrMissingStudentID)
	}

	if a.pendingPassword != "" {
		digest, err := s.hasher.Hash(ctx, a.pendingPassword)
		if err != nil {
			return err
		}
		a.PasswordHash = digest
		a.pendingPassword = ""
	}

	if a.AuthMethods == nil {
		a.AuthMethods = []AuthMethod{}
	}
	seen := make(map[MethodKind]bool, len(a.AuthMethods))
	for _, m := range a.AuthMethods {
		if _, ok := ParseMethodKind(string(m.Kind)); !ok {
			return fmt.Errorf("%w: unknown method %q", ErrValidation, m.Kind)
		}
		if seen[m.Kind] {
			return fmt.Errorf("%w: duplicate method %q", ErrValidation, m.Kind)
		}
		seen[m.Kind] = true
	}
	if a.PasswordHash != "" && !seen[MethodLocal] {
		a.AuthMethods = append(a.AuthMethods, AuthMethod{Kind: MethodLocal})
	}
	if a.PasswordHash == "" && seen[MethodLocal] {
		return fmt.Errorf("%w: local method without password", ErrValidation)
	}
	return nil
}
