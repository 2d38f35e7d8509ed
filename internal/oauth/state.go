package oauth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrStateReused is returned when an OAuth state value is presented twice.
var ErrStateReused = errors.New("oauth: state already used or expired")

// StateGuard records consumed OAuth state ids so each can be used once.
type StateGuard interface {
	// Consume marks id as used until expiresAt. A second call with the same
	// id returns ErrStateReused.
	Consume(ctx context.Context, id string, expiresAt time.Time) error
}

// RedisStateGuard keeps consumed ids in Redis with SETNX, so replay
// protection holds across replicas.
type RedisStateGuard struct {
	client *redis.Client
	prefix string
}

// NewRedisStateGuard creates a RedisStateGuard.
func NewRedisStateGuard(client *redis.Client) *RedisStateGuard {
	return &RedisStateGuard{client: client, prefix: "gallery:oauth-state:"}
}

func (g *RedisStateGuard) Consume(ctx context.Context, id string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return ErrStateReused
	}
	ok, err := g.client.SetNX(ctx, g.prefix+id, 1, ttl).Result()
	if err != nil {
		return fmt.Errorf("record oauth state: %w", err)
	}
	if !ok {
		return ErrStateReused
	}
	return nil
}

// MemoryStateGuard is the single-process StateGuard.
type MemoryStateGuard struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

// NewMemoryStateGuard creates a MemoryStateGuard.
func NewMemoryStateGuard() *MemoryStateGuard {
	return &MemoryStateGuard{seen: make(map[string]time.Time), now: time.Now}
}

func (g *MemoryStateGuard) Consume(_ context.Context, id string, expiresAt time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if !expiresAt.After(now) {
		return ErrStateReused
	}
	for k, exp := range g.seen {
		if !exp.After(now) {
			delete(g.seen, k)
		}
	}
	if _, used := g.seen[id]; used {
		return ErrStateReused
	}
	g.seen[id] = expiresAt
	return nil
}
