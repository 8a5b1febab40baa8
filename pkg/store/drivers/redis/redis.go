// Package redis implements store.Store on a Redis server.
//
// Sessions are stored as JSON blobs keyed by session id, with a SET per
// identity indexing the active session ids. Every mutation that touches
// both a session and its identity index runs inside an optimistic
// WATCH/MULTI transaction so the per-identity concurrency cap holds
// across processes, not just goroutines. Revocations lean on Redis key
// expiry, so the blacklist cleans itself up.
package redis

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/aussiebroadwan/sessionguard/pkg/store"
)

const defaultKeyPrefix = "sessionguard:"

// txRetries bounds how often a WATCH transaction is retried after a
// concurrent writer invalidated it. At least one writer commits per
// round, so contention drains even during a login stampede.
const txRetries = 16

type Store struct {
	client *redis.Client
	prefix string
}

// New wraps an existing client. An empty keyPrefix falls back to
// "sessionguard:"; pass a distinct prefix when several deployments
// share one Redis.
func New(client *redis.Client, keyPrefix string) *Store {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &Store{client: client, prefix: keyPrefix}
}

// Open dials addr, verifies the connection with a ping and returns the
// store. Use New when the caller manages the client lifecycle itself.
func Open(ctx context.Context, addr, keyPrefix string) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return New(client, keyPrefix), nil
}

func (s *Store) Sessions() store.Sessions {
	return &sessionsRepo{client: s.client, prefix: s.prefix}
}

func (s *Store) Revocations() store.Revocations {
	return &revocationsRepo{client: s.client, prefix: s.prefix}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error { return s.client.Close() }
