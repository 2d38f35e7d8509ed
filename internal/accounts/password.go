package accounts

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// DefaultHashCost is the bcrypt work factor, 2^10 rounds.
const DefaultHashCost = 10

// MinPasswordLength is the shortest accepted plaintext password.
const MinPasswordLength = 8

// Hasher performs the one-way password transform. Hashing is CPU-bound and
// deliberately slow, so concurrent hash operations are capped.
type Hasher struct {
	cost int
	sem  *semaphore.Weighted

	dummyOnce sync.Once
	dummy     string
	compares  atomic.Int64
}

// NewHasher creates a Hasher. cost outside bcrypt's range falls back to
// DefaultHashCost; concurrency <= 0 means GOMAXPROCS.
func NewHasher(cost, concurrency int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultHashCost
	}
	if concurrency <= 0 {
		concurrency = runtime.GOMAXPROCS(0)
	}
	return &Hasher{cost: cost, sem: semaphore.NewWeighted(int64(concurrency))}
}

// Hash returns a salted digest that embeds its own salt and cost.
func (h *Hasher) Hash(ctx context.Context, plain string) (string, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("acquire hash slot: %w", err)
	}
	defer h.sem.Release(1)

	digest, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", fmt.Errorf("%w: password must be at most 72 bytes", ErrValidation)
		}
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(digest), nil
}

// Verify reports whether plain matches digest. A malformed digest is a
// mismatch, never an error.
func (h *Hasher) Verify(ctx context.Context, plain, digest string) bool {
	if digest == "" {
		return false
	}
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return false
	}
	defer h.sem.Release(1)
	h.compares.Add(1)
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plain)) == nil
}

// VerifyDummy compares plain against a fixed digest of the same cost and
// discards the result, so a login with no stored hash costs as much as one
// with a wrong password.
func (h *Hasher) VerifyDummy(ctx context.Context, plain string) {
	h.dummyOnce.Do(func() {
		digest, err := bcrypt.GenerateFromPassword([]byte("gallery-login-timing"), h.cost)
		if err == nil {
			h.dummy = string(digest)
		}
	})
	_ = h.Verify(ctx, plain, h.dummy)
}

// Compares returns how many digest comparisons have run.
func (h *Hasher) Compares() int64 {
	return h.compares.Load()
}

func validatePassword(plain string) error {
	if len(plain) < MinPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrValidation, MinPasswordLength)
	}
	return nil
}
