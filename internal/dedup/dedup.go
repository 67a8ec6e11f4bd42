// Package dedup suppresses duplicate stock signals that arrive within a short
// time window of each other.
package dedup

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultWindow is how long a claimed key blocks identical claims.
const DefaultWindow = 5 * time.Second

// Guard claims keys for a window. A key can be held by one claimant at a time.
type Guard interface {
	// Claim returns true if the key was free and is now held for window.
	Claim(ctx context.Context, key string, window time.Duration) (bool, error)
	// Release frees a key early.
	Release(ctx context.Context, key string) error
}

// MovementKey identifies a stock movement for deduplication.
func MovementKey(productID, movementType string, quantity int, reason string) string {
	return fmt.Sprintf("%s:%s:%d:%s", productID, movementType, quantity, strings.TrimSpace(reason))
}

// RedisGuard holds claims in Redis so every replica shares them.
type RedisGuard struct {
	client redis.Cmdable
	prefix string
}

var _ Guard = (*RedisGuard)(nil)

// NewRedisGuard creates a guard storing keys under prefix.
func NewRedisGuard(client redis.Cmdable, prefix string) *RedisGuard {
	return &RedisGuard{client: client, prefix: prefix}
}

func (g *RedisGuard) Claim(ctx context.Context, key string, window time.Duration) (bool, error) {
	ok, err := g.client.SetNX(ctx, g.prefix+key, 1, window).Result()
	if err != nil {
		return false, fmt.Errorf("claim dedup key %s: %w", key, err)
	}
	return ok, nil
}

func (g *RedisGuard) Release(ctx context.Context, key string) error {
	if err := g.client.Del(ctx, g.prefix+key).Err(); err != nil {
		return fmt.Errorf("release dedup key %s: %w", key, err)
	}
	return nil
}

// MemoryGuard is a single-process Guard.
type MemoryGuard struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

var _ Guard = (*MemoryGuard)(nil)

// NewMemoryGuard creates an empty in-memory guard.
func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (g *MemoryGuard) Claim(_ context.Context, key string, window time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if exp, ok := g.expires[key]; ok && now.Before(exp) {
		return false, nil
	}
	g.expires[key] = now.Add(window)

	// Sweep expired keys so the map stays bounded by the claim rate.
	for k, exp := range g.expires {
		if !now.Before(exp) {
			delete(g.expires, k)
		}
	}
	return true, nil
}

func (g *MemoryGuard) Release(_ context.Context, key string) error {
	g.mu.Lock()
	delete(g.expires, key)
	g.mu.Unlock()
	return nil
}
