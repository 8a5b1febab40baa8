package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aussiebroadwan/sessionguard/pkg/store"
)

// scanBatch is the COUNT hint for SCAN during idle sweeps.
const scanBatch = 256

type sessionsRepo struct {
	client *redis.Client
	prefix string
}

func (r *sessionsRepo) sessionKey(id string) string {
	return r.prefix + "session:" + id
}

func (r *sessionsRepo) identityKey(identityID string) string {
	return r.prefix + "identity:" + identityID
}

func (r *sessionsRepo) Create(ctx context.Context, s store.Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}

	ok, err := r.client.SetNX(ctx, r.sessionKey(s.ID), raw, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrAlreadyExists
	}

	if s.Active {
		return r.client.SAdd(ctx, r.identityKey(s.IdentityID), s.ID).Err()
	}
	return nil
}

func (r *sessionsRepo) CreateAndEnforceLimit(ctx context.Context, s store.Session, maxActive int) ([]string, error) {
	if maxActive <= 0 {
		return nil, r.Create(ctx, s)
	}

	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}

	var evicted []string
	fn := func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, r.sessionKey(s.ID)).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return store.ErrAlreadyExists
		}

		alive, err := r.activeTx(ctx, tx, s.IdentityID)
		if err != nil {
			return err
		}
		alive = append(alive, s)
		victims := overflow(alive, maxActive)

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, r.sessionKey(s.ID), raw, 0)
			pipe.SAdd(ctx, r.identityKey(s.IdentityID), s.ID)
			if err := r.deactivatePipe(ctx, pipe, victims); err != nil {
				return err
			}
			return nil
		})
		if err != nil {
			return err
		}

		evicted = ids(victims)
		return nil
	}

	if err := r.watch(ctx, fn, r.identityKey(s.IdentityID), r.sessionKey(s.ID)); err != nil {
		return nil, err
	}
	return evicted, nil
}

func (r *sessionsRepo) Get(ctx context.Context, sessionID string) (store.Session, error) {
	raw, err := r.client.Get(ctx, r.sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return store.Session{}, store.ErrNotFound
	}
	if err != nil {
		return store.Session{}, err
	}

	var s store.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return store.Session{}, err
	}
	return s, nil
}

func (r *sessionsRepo) Touch(ctx context.Context, sessionID string, at time.Time) error {
	key := r.sessionKey(sessionID)

	fn := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}

		var s store.Session
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}

		// Concurrent touches land in any order; only ever move forward.
		if !at.After(s.LastActivity) {
			return nil
		}
		s.LastActivity = at

		updated, err := json.Marshal(s)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			return nil
		})
		return err
	}

	return r.watch(ctx, fn, key)
}

func (r *sessionsRepo) IsActive(ctx context.Context, sessionID string) (bool, error) {
	s, err := r.Get(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return s.Active, nil
}

func (r *sessionsRepo) ListActive(ctx context.Context, identityID string) ([]store.Session, error) {
	var alive []store.Session
	fn := func(tx *redis.Tx) error {
		var err error
		alive, err = r.activeTx(ctx, tx, identityID)
		return err
	}
	if err := r.watch(ctx, fn, r.identityKey(identityID)); err != nil {
		return nil, err
	}
	return alive, nil
}

func (r *sessionsRepo) CountActive(ctx context.Context, identityID string) (int, error) {
	n, err := r.client.SCard(ctx, r.identityKey(identityID)).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (r *sessionsRepo) Deactivate(ctx context.Context, sessionID string) error {
	key := r.sessionKey(sessionID)

	fn := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}

		var s store.Session
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		if !s.Active {
			return nil
		}
		s.Active = false

		updated, err := json.Marshal(s)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			pipe.SRem(ctx, r.identityKey(s.IdentityID), s.ID)
			return nil
		})
		return err
	}

	return r.watch(ctx, fn, key)
}

func (r *sessionsRepo) DeactivateAll(ctx context.Context, identityID string) (int, error) {
	var count int
	fn := func(tx *redis.Tx) error {
		alive, err := r.activeTx(ctx, tx, identityID)
		if err != nil {
			return err
		}
		count = len(alive)
		if count == 0 {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if err := r.deactivatePipe(ctx, pipe, alive); err != nil {
				return err
			}
			pipe.Del(ctx, r.identityKey(identityID))
			return nil
		})
		return err
	}

	if err := r.watch(ctx, fn, r.identityKey(identityID)); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *sessionsRepo) EvictOldestIfOverLimit(ctx context.Context, identityID string, maxActive int) ([]string, error) {
	if maxActive <= 0 {
		return nil, nil
	}

	var evicted []string
	fn := func(tx *redis.Tx) error {
		alive, err := r.activeTx(ctx, tx, identityID)
		if err != nil {
			return err
		}
		victims := overflow(alive, maxActive)
		if len(victims) == 0 {
			evicted = nil
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			return r.deactivatePipe(ctx, pipe, victims)
		})
		if err != nil {
			return err
		}

		evicted = ids(victims)
		return nil
	}

	if err := r.watch(ctx, fn, r.identityKey(identityID)); err != nil {
		return nil, err
	}
	return evicted, nil
}

func (r *sessionsRepo) DeleteIdle(ctx context.Context, cutoff time.Time) (int, error) {
	deleted := 0
	iter := r.client.Scan(ctx, 0, r.prefix+"session:*", scanBatch).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()

		raw, err := r.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue // expired or deleted mid-scan
		}
		if err != nil {
			return deleted, err
		}

		var s store.Session
		if err := json.Unmarshal(raw, &s); err != nil {
			return deleted, err
		}
		if !s.LastActivity.Before(cutoff) {
			continue
		}

		_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.SRem(ctx, r.identityKey(s.IdentityID), s.ID)
			return nil
		})
		if err != nil {
			return deleted, err
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return deleted, err
	}
	return deleted, nil
}

// watch runs fn under WATCH on the given keys, retrying a handful of
// times when a concurrent writer aborts the transaction.
func (r *sessionsRepo) watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	var err error
	for range txRetries {
		err = r.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}

// activeTx loads every active session for an identity on the watched
// connection, oldest first.
func (r *sessionsRepo) activeTx(ctx context.Context, tx *redis.Tx, identityID string) ([]store.Session, error) {
	members, err := tx.SMembers(ctx, r.identityKey(identityID)).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}

	keys := make([]string, len(members))
	for i, id := range members {
		keys[i] = r.sessionKey(id)
	}
	rows, err := tx.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	alive := make([]store.Session, 0, len(rows))
	for _, row := range rows {
		raw, ok := row.(string)
		if !ok {
			continue // index member without a session blob
		}
		var s store.Session
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return nil, err
		}
		if s.Active {
			alive = append(alive, s)
		}
	}
	sort.Slice(alive, func(i, j int) bool { return alive[i].Before(alive[j]) })
	return alive, nil
}

// overflow returns the sessions that must go for the list to fit under
// maxActive, oldest first. The input must already be sorted.
func overflow(alive []store.Session, maxActive int) []store.Session {
	sort.Slice(alive, func(i, j int) bool { return alive[i].Before(alive[j]) })
	if len(alive) <= maxActive {
		return nil
	}
	return alive[:len(alive)-maxActive]
}

// deactivatePipe queues the writes that flip sessions inactive and drop
// them from their identity index.
func (r *sessionsRepo) deactivatePipe(ctx context.Context, pipe redis.Pipeliner, victims []store.Session) error {
	for _, v := range victims {
		v.Active = false
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		pipe.Set(ctx, r.sessionKey(v.ID), raw, 0)
		pipe.SRem(ctx, r.identityKey(v.IdentityID), v.ID)
	}
	return nil
}

func ids(sessions []store.Session) []string {
	if len(sessions) == 0 {
		return nil
	}
	out := make([]string, len(sessions))
	for i, s := range sessions {
		out[i] = s.ID
	}
	return out
}
