// Package ratelimit implements a Redis-backed token-bucket limiter in
// front of the ingress /push endpoint, adapted from the teacher's
// internal/rate/limiter.go. It is an ambient ingress concern only: the
// dispatch engine's correctness never depends on it.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter is a per-credential token bucket backed by a single Redis
// string value packed as "tokens:last_refill_unix", refilled lazily on
// each Allow call rather than by a background ticker.
type Limiter struct {
	client *redis.Client
	rps    int
	burst  int
}

// New builds a Limiter refilling at rps tokens/second up to burst.
func New(client *redis.Client, rps, burst int) *Limiter {
	return &Limiter{client: client, rps: rps, burst: burst}
}

// Allow reports whether credentialID may make one more request now, and
// if not, how long the caller should wait before retrying.
func (l *Limiter) Allow(ctx context.Context, credentialID string) (bool, time.Duration, error) {
	key := fmt.Sprintf("messagepusher:ratelimit:%s", credentialID)
	now := time.Now()

	val, err := l.client.Get(ctx, key).Result()
	tokens := l.burst
	lastRefill := now
	if err == nil {
		var lastRefillUnix int64
		if _, scanErr := fmt.Sscanf(val, "%d:%d", &tokens, &lastRefillUnix); scanErr == nil {
			lastRefill = time.Unix(lastRefillUnix, 0)
		}
	} else if err != redis.Nil {
		return false, 0, fmt.Errorf("ratelimit: read bucket: %w", err)
	}

	elapsed := now.Sub(lastRefill)
	tokens += int(elapsed.Seconds()) * l.rps
	if tokens > l.burst {
		tokens = l.burst
	}

	if tokens <= 0 {
		return false, time.Second, nil
	}
	tokens--

	packed := fmt.Sprintf("%d:%d", tokens, now.Unix())
	if err := l.client.Set(ctx, key, packed, time.Minute).Err(); err != nil {
		return false, 0, fmt.Errorf("ratelimit: write bucket: %w", err)
	}
	return true, 0, nil
}

// Reset clears a credential's bucket, used by admin tooling/tests.
func (l *Limiter) Reset(ctx context.Context, credentialID string) error {
	key := fmt.Sprintf("messagepusher:ratelimit:%s", credentialID)
	return l.client.Del(ctx, key).Err()
}
