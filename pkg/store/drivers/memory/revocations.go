package memory

import (
	"context"
	"sync"
	"time"
)

type revocationEntry struct {
	expiresAt time.Time
	reason    string
}

type revocationRegistry struct {
	mu      sync.RWMutex
	entries map[string]revocationEntry
	now     func() time.Time
}

func newRevocationRegistry(now func() time.Time) *revocationRegistry {
	return &revocationRegistry{
		entries: make(map[string]revocationEntry),
		now:     now,
	}
}

func (r *revocationRegistry) Revoke(ctx context.Context, fingerprint string, ttl time.Duration, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// A non-positive TTL means the token is already past natural expiry;
	// there is nothing left to deny. Still a success - revocation is
	// idempotent in effect.
	if ttl <= 0 {
		return nil
	}

	expiresAt := r.now().Add(ttl)

	r.mu.Lock()
	defer r.mu.Unlock()

	// Concurrent revocations of the same token coalesce; keep whichever
	// entry denies for longer.
	if existing, ok := r.entries[fingerprint]; ok && existing.expiresAt.After(expiresAt) {
		return nil
	}
	r.entries[fingerprint] = revocationEntry{expiresAt: expiresAt, reason: reason}
	return nil
}

func (r *revocationRegistry) IsRevoked(ctx context.Context, fingerprint string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	now := r.now()

	r.mu.RLock()
	entry, ok := r.entries[fingerprint]
	r.mu.RUnlock()

	if !ok {
		return false, nil
	}
	if now.Before(entry.expiresAt) {
		return true, nil
	}

	// Expired entry: drop it lazily so the map can't grow without bound
	// between sweeps. Re-check under the write lock; a concurrent Revoke
	// may have renewed it.
	r.mu.Lock()
	if current, ok := r.entries[fingerprint]; ok && !now.Before(current.expiresAt) {
		delete(r.entries, fingerprint)
	}
	r.mu.Unlock()

	return false, nil
}

func (r *revocationRegistry) DeleteExpired(ctx context.Context) (int, error) {
	now := r.now()

	r.mu.RLock()
	candidates := make([]string, 0)
	for fp, entry := range r.entries {
		if !now.Before(entry.expiresAt) {
			candidates = append(candidates, fp)
		}
	}
	r.mu.RUnlock()

	deleted := 0
	for len(candidates) > 0 {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}

		batch := candidates
		if len(batch) > deleteBatch {
			batch = batch[:deleteBatch]
		}
		candidates = candidates[len(batch):]

		r.mu.Lock()
		for _, fp := range batch {
			if entry, ok := r.entries[fp]; ok && !now.Before(entry.expiresAt) {
				delete(r.entries, fp)
				deleted++
			}
		}
		r.mu.Unlock()
	}

	return deleted, nil
}
