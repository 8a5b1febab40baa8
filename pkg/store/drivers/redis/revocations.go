package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

type revocationsRepo struct {
	client *redis.Client
	prefix string
}

func (r *revocationsRepo) key(fingerprint string) string {
	return r.prefix + "revoked:" + fingerprint
}

func (r *revocationsRepo) Revoke(ctx context.Context, fingerprint string, ttl time.Duration, reason string) error {
	if ttl <= 0 {
		return nil // token is already past its lifetime
	}

	// Re-revoking must never shorten an existing deny window. PTTL
	// reports missing keys as a negative duration, so those fall
	// through to the write.
	remaining, err := r.client.PTTL(ctx, r.key(fingerprint)).Result()
	if err != nil {
		return err
	}
	if remaining > ttl {
		return nil
	}
	return r.client.Set(ctx, r.key(fingerprint), reason, ttl).Err()
}

func (r *revocationsRepo) IsRevoked(ctx context.Context, fingerprint string) (bool, error) {
	_, err := r.client.Get(ctx, r.key(fingerprint)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// DeleteExpired is a no-op here. Revocation keys carry their TTL and
// Redis drops them on its own.
func (r *revocationsRepo) DeleteExpired(ctx context.Context) (int, error) {
	return 0, nil
}
