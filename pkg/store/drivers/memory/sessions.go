package memory

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/aussiebroadwan/sessionguard/pkg/store"
)

// deleteBatch bounds how long DeleteIdle holds the write lock in one go.
const deleteBatch = 256

// identityStripes is the width of the per-identity lock table. Collisions
// only cost parallelism, never correctness.
const identityStripes = 64

type sessionRegistry struct {
	// stripes serialize the create/evict critical section per identity so
	// the concurrency cap can't be raced past. A single global lock here
	// would serialize unrelated identities, which is exactly what we're
	// trying to avoid.
	stripes [identityStripes]sync.Mutex

	mu         sync.RWMutex
	byID       map[string]store.Session
	byIdentity map[string]map[string]struct{}
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{
		byID:       make(map[string]store.Session),
		byIdentity: make(map[string]map[string]struct{}),
	}
}

func (r *sessionRegistry) stripe(identityID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(identityID))
	return &r.stripes[h.Sum32()%identityStripes]
}

func (r *sessionRegistry) Create(ctx context.Context, s store.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[s.ID]; exists {
		return store.ErrAlreadyExists
	}

	r.byID[s.ID] = s
	idx, ok := r.byIdentity[s.IdentityID]
	if !ok {
		idx = make(map[string]struct{})
		r.byIdentity[s.IdentityID] = idx
	}
	idx[s.ID] = struct{}{}

	return nil
}

func (r *sessionRegistry) CreateAndEnforceLimit(ctx context.Context, s store.Session, maxActive int) ([]string, error) {
	lock := r.stripe(s.IdentityID)
	lock.Lock()
	defer lock.Unlock()

	if err := r.Create(ctx, s); err != nil {
		return nil, err
	}
	if maxActive <= 0 {
		return nil, nil
	}

	return r.evictOverLimit(s.IdentityID, maxActive), nil
}

func (r *sessionRegistry) Get(ctx context.Context, sessionID string) (store.Session, error) {
	if err := ctx.Err(); err != nil {
		return store.Session{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.byID[sessionID]
	if !ok {
		return store.Session{}, store.ErrNotFound
	}
	return s, nil
}

func (r *sessionRegistry) Touch(ctx context.Context, sessionID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byID[sessionID]
	if !ok {
		return store.ErrNotFound
	}

	// Concurrent touches land in any order; only ever move forward.
	if at.After(s.LastActivity) {
		s.LastActivity = at
		r.byID[sessionID] = s
	}
	return nil
}

func (r *sessionRegistry) IsActive(ctx context.Context, sessionID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.byID[sessionID]
	return ok && s.Active, nil
}

func (r *sessionRegistry) ListActive(ctx context.Context, identityID string) ([]store.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	out := r.activeLocked(identityID)
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (r *sessionRegistry) CountActive(ctx context.Context, identityID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for id := range r.byIdentity[identityID] {
		if s, ok := r.byID[id]; ok && s.Active {
			n++
		}
	}
	return n, nil
}

func (r *sessionRegistry) Deactivate(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byID[sessionID]
	if !ok {
		return store.ErrNotFound
	}

	s.Active = false
	r.byID[sessionID] = s
	return nil
}

func (r *sessionRegistry) DeactivateAll(ctx context.Context, identityID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	lock := r.stripe(identityID)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id := range r.byIdentity[identityID] {
		if s, ok := r.byID[id]; ok && s.Active {
			s.Active = false
			r.byID[id] = s
			n++
		}
	}
	return n, nil
}

func (r *sessionRegistry) EvictOldestIfOverLimit(ctx context.Context, identityID string, maxActive int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if maxActive <= 0 {
		return nil, nil
	}

	lock := r.stripe(identityID)
	lock.Lock()
	defer lock.Unlock()

	return r.evictOverLimit(identityID, maxActive), nil
}

// evictOverLimit needs the identity stripe held by the caller.
func (r *sessionRegistry) evictOverLimit(identityID string, maxActive int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	active := r.activeLocked(identityID)
	if len(active) <= maxActive {
		return nil
	}

	sort.Slice(active, func(i, j int) bool { return active[i].Before(active[j]) })

	evicted := make([]string, 0, len(active)-maxActive)
	for _, victim := range active[:len(active)-maxActive] {
		s := r.byID[victim.ID]
		s.Active = false
		r.byID[victim.ID] = s
		evicted = append(evicted, victim.ID)
	}
	return evicted
}

// activeLocked needs r.mu held (read or write) by the caller.
func (r *sessionRegistry) activeLocked(identityID string) []store.Session {
	out := make([]store.Session, 0, len(r.byIdentity[identityID]))
	for id := range r.byIdentity[identityID] {
		if s, ok := r.byID[id]; ok && s.Active {
			out = append(out, s)
		}
	}
	return out
}

func (r *sessionRegistry) DeleteIdle(ctx context.Context, cutoff time.Time) (int, error) {
	// Collect candidates under a read lock, then delete in short write-lock
	// batches so validation traffic never stalls behind a full sweep.
	r.mu.RLock()
	candidates := make([]string, 0)
	for id, s := range r.byID {
		if s.LastActivity.Before(cutoff) {
			candidates = append(candidates, id)
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
		for _, id := range batch {
			s, ok := r.byID[id]
			if !ok || !s.LastActivity.Before(cutoff) {
				continue // moved on since we looked
			}
			delete(r.byID, id)
			if idx, ok := r.byIdentity[s.IdentityID]; ok {
				delete(idx, id)
				if len(idx) == 0 {
					delete(r.byIdentity, s.IdentityID)
				}
			}
			deleted++
		}
		r.mu.Unlock()
	}

	return deleted, nil
}
