package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Denylist records tokens revoked before their natural expiry, keyed by Hash.
// Manager.Verify never consults it; callers that need early invalidation
// (middleware, refresh, logout) check it after verification.
type Denylist interface {
	Revoke(ctx context.Context, tokenHash string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, tokenHash string) (bool, error)
}

// revokedUntil is the first instant Verify rejects a token expiring at exp.
// Verify accepts exp itself, so entries must outlive it by a second.
func revokedUntil(exp time.Time) time.Time {
	return time.Unix(exp.Unix()+1, 0)
}

// MemoryDenylist is a process-local Denylist. Entries are dropped once the
// token they refer to would have expired anyway.
type MemoryDenylist struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	now     func() time.Time
}

func NewMemoryDenylist() *MemoryDenylist {
	return &MemoryDenylist{entries: make(map[string]time.Time), now: time.Now}
}

func (d *MemoryDenylist) Revoke(_ context.Context, tokenHash string, expiresAt time.Time) error {
	if tokenHash == "" {
		return nil
	}
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cleanupLocked(now)
	if until := revokedUntil(expiresAt); until.After(now) {
		d.entries[tokenHash] = until
	}
	return nil
}

func (d *MemoryDenylist) IsRevoked(_ context.Context, tokenHash string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	exp, ok := d.entries[tokenHash]
	return ok && d.now().Before(exp), nil
}

// Cleanup removes entries whose token has expired and returns how many.
func (d *MemoryDenylist) Cleanup() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cleanupLocked(d.now())
}

func (d *MemoryDenylist) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

func (d *MemoryDenylist) cleanupLocked(now time.Time) int {
	removed := 0
	for h, exp := range d.entries {
		if !now.Before(exp) {
			delete(d.entries, h)
			removed++
		}
	}
	return removed
}

const denylistKeyPrefix = "iris:denylist:"

// RedisDenylist shares revocations between API instances. Each entry is a
// marker key whose TTL covers the token's remaining lifetime.
type RedisDenylist struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisDenylist(client *redis.Client) *RedisDenylist {
	return &RedisDenylist{client: client, now: time.Now}
}

func (d *RedisDenylist) Revoke(ctx context.Context, tokenHash string, expiresAt time.Time) error {
	if tokenHash == "" {
		return nil
	}
	ttl := revokedUntil(expiresAt).Sub(d.now())
	if ttl <= 0 {
		return nil
	}
	return d.client.Set(ctx, denylistKeyPrefix+tokenHash, "1", ttl).Err()
}

func (d *RedisDenylist) IsRevoked(ctx context.Context, tokenHash string) (bool, error) {
	if tokenHash == "" {
		return false, nil
	}
	_, err := d.client.Get(ctx, denylistKeyPrefix+tokenHash).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
