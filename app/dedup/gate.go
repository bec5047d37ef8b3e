package dedup

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	markerProcessing = "processing"
	markerDone       = "done"
)

// Gate is a cross-instance deduplication lock backed by Redis. At most one
// caller acquires a given URL within the cooldown window; expiry is the only
// automatic release.
type Gate struct {
	client Store
	ttl    time.Duration
}

// Store is the subset of redis.Client the gate depends on.
type Store interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

func NewGate(client Store, ttl time.Duration) *Gate {
	return &Gate{client: client, ttl: ttl}
}

// NewRedisClient connects to Redis and verifies the connection with a ping.
func NewRedisClient(addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	slog.Info("Connected to Redis", "addr", addr)

	return client, nil
}

// Key returns the dedup key for a URL: sha256 fingerprint, first 8 bytes.
func (g *Gate) Key(url string) string {
	hash := sha256.Sum256([]byte(url))
	return fmt.Sprintf("promo:%x", hash[:8])
}

// TryAcquire attempts to take the lock for a URL. Only the first caller
// within the TTL window gets true. When Redis is unreachable the gate fails
// open: duplicates are a nuisance, a stalled pipeline is worse.
func (g *Gate) TryAcquire(ctx context.Context, url string) bool {
	ok, err := g.client.SetNX(ctx, g.Key(url), markerProcessing, g.ttl).Result()
	if err != nil {
		slog.Warn("Dedup store unavailable, failing open", "url", url, "error", err)
		return true
	}
	return ok
}

// MarkDone rewrites the key with a fresh TTL so the cooldown anchors to
// completion time rather than acquisition time.
func (g *Gate) MarkDone(ctx context.Context, url string) {
	if err := g.client.Set(ctx, g.Key(url), markerDone, g.ttl).Err(); err != nil {
		slog.Warn("Failed to re-anchor dedup cooldown", "url", url, "error", err)
	}
}

// Release drops the lock early. Used when processing aborts before any send
// so a later repost of the same link is not blocked by a failed attempt.
func (g *Gate) Release(ctx context.Context, url string) {
	if err := g.client.Del(ctx, g.Key(url)).Err(); err != nil {
		slog.Warn("Failed to release dedup lock", "url", url, "error", err)
	}
}
