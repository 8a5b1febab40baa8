package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Session is one tracked login. The registry owns these records outright;
// nothing else writes them. Tokens reference sessions by id only.
type Session struct {
	ID         string
	IdentityID string
	DeviceID   string
	IP         string
	UserAgent  string

	CreatedAt    time.Time
	LastActivity time.Time
	Active       bool
}

// Before fixes the eviction order: strictly oldest created-at first, with
// exact created-at ties broken by session id. Two registry replicas looking
// at the same rows must always pick the same victim.
func (s Session) Before(other Session) bool {
	if !s.CreatedAt.Equal(other.CreatedAt) {
		return s.CreatedAt.Before(other.CreatedAt)
	}
	return s.ID < other.ID
}

// Store is the root data access interface. Concrete drivers (memory, redis,
// sqlite) implement this. It exposes sub-registries to keep concerns tidy
// and testable, and so the manager can mix nothing - one driver owns both.
type Store interface {
	Sessions() Sessions
	Revocations() Revocations

	// Ping verifies the backing store is reachable. The manager's outage
	// handling keys off errors from the real calls, not this, but operators
	// want it for readiness probes.
	Ping(ctx context.Context) error

	// Close releases any underlying resources.
	Close() error
}

// Sessions tracks active logins per identity. Implementations must provide
// the per-identity atomicity CreateAndEnforceLimit documents; everything
// else is plain CRUD with deterministic ordering.
type Sessions interface {
	// Create inserts a session without touching the concurrency cap.
	Create(ctx context.Context, s Session) error

	// CreateAndEnforceLimit inserts the session and, inside the same
	// per-identity critical section, evicts the oldest active sessions until
	// at most maxActive remain. Returns the evicted session ids (usually one
	// or none). maxActive <= 0 means unlimited.
	CreateAndEnforceLimit(ctx context.Context, s Session, maxActive int) (evicted []string, err error)

	// Get returns a session by id, ErrNotFound when absent.
	Get(ctx context.Context, sessionID string) (Session, error)

	// Touch bumps last-activity. No-op error ErrNotFound when the session
	// is gone.
	Touch(ctx context.Context, sessionID string, at time.Time) error

	// IsActive reports whether the session exists and is active.
	IsActive(ctx context.Context, sessionID string) (bool, error)

	// ListActive returns the identity's active sessions ordered oldest
	// first (created-at, then id).
	ListActive(ctx context.Context, identityID string) ([]Session, error)

	// CountActive returns how many active sessions the identity holds.
	CountActive(ctx context.Context, identityID string) (int, error)

	// Deactivate marks one session inactive. Idempotent; ErrNotFound only
	// when the row never existed.
	Deactivate(ctx context.Context, sessionID string) error

	// DeactivateAll marks every active session for the identity inactive
	// and returns how many flipped.
	DeactivateAll(ctx context.Context, identityID string) (int, error)

	// EvictOldestIfOverLimit deactivates the oldest active sessions while
	// the identity holds more than maxActive. Returns evicted ids.
	EvictOldestIfOverLimit(ctx context.Context, identityID string, maxActive int) ([]string, error)

	// DeleteIdle removes sessions whose last-activity predates the cutoff,
	// active or not. Batched by implementations; returns rows removed.
	DeleteIdle(ctx context.Context, cutoff time.Time) (int, error)
}

// Revocations is the token blacklist. Keys are SHA-256 fingerprints of raw
// token strings, never plaintext tokens. Entries carry a TTL equal to the
// token's remaining validity - once natural expiry passes, the entry has
// nothing left to deny and may vanish.
type Revocations interface {
	// Revoke inserts a blacklist entry. Idempotent: revoking the same
	// fingerprint twice is one entry and no error.
	Revoke(ctx context.Context, fingerprint string, ttl time.Duration, reason string) error

	// IsRevoked reports whether the fingerprint is currently blacklisted.
	// Constant-time-ish: this runs on every single validation.
	IsRevoked(ctx context.Context, fingerprint string) (bool, error)

	// DeleteExpired removes entries past their TTL for backends that cannot
	// self-expire. Returns rows removed.
	DeleteExpired(ctx context.Context) (int, error)
}
