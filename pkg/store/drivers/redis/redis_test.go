package redis_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/sessionguard/pkg/store"
	"github.com/aussiebroadwan/sessionguard/pkg/store/drivers/redis"
)

func newStore(t *testing.T) (*redis.Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return redis.New(client, ""), mr
}

func session(id, identityID string, createdAt time.Time) store.Session {
	return store.Session{
		ID:           id,
		IdentityID:   identityID,
		DeviceID:     "device-" + id,
		IP:           "203.0.113.7",
		UserAgent:    "shop-app/2.1",
		CreatedAt:    createdAt,
		LastActivity: createdAt,
		Active:       true,
	}
}

func TestSessions_CreateAndGet(t *testing.T) {
	st, _ := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, st.Sessions().Create(ctx, session("s1", "u1", now)))

	got, err := st.Sessions().Get(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "u1", got.IdentityID)
	require.Equal(t, now.UnixNano(), got.CreatedAt.UnixNano(), "timestamps must survive the round trip")
	require.True(t, got.Active)

	t.Run("duplicate id rejected", func(t *testing.T) {
		err := st.Sessions().Create(ctx, session("s1", "u1", now))
		require.ErrorIs(t, err, store.ErrAlreadyExists)
	})

	t.Run("missing id", func(t *testing.T) {
		_, err := st.Sessions().Get(ctx, "nope")
		require.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestSessions_Touch(t *testing.T) {
	st, _ := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, st.Sessions().Create(ctx, session("s1", "u1", now)))

	require.NoError(t, st.Sessions().Touch(ctx, "s1", now.Add(time.Minute)))
	got, err := st.Sessions().Get(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, now.Add(time.Minute).UnixNano(), got.LastActivity.UnixNano())

	t.Run("never moves backwards", func(t *testing.T) {
		require.NoError(t, st.Sessions().Touch(ctx, "s1", now.Add(-time.Hour)))
		got, err := st.Sessions().Get(ctx, "s1")
		require.NoError(t, err)
		require.Equal(t, now.Add(time.Minute).UnixNano(), got.LastActivity.UnixNano())
	})

	t.Run("unknown session", func(t *testing.T) {
		require.ErrorIs(t, st.Sessions().Touch(ctx, "nope", now), store.ErrNotFound)
	})
}

func TestSessions_ConcurrencyCap(t *testing.T) {
	st, _ := newStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	evicted, err := st.Sessions().CreateAndEnforceLimit(ctx, session("t1", "u1", base), 2)
	require.NoError(t, err)
	require.Empty(t, evicted)

	evicted, err = st.Sessions().CreateAndEnforceLimit(ctx, session("t2", "u1", base.Add(time.Second)), 2)
	require.NoError(t, err)
	require.Empty(t, evicted)

	evicted, err = st.Sessions().CreateAndEnforceLimit(ctx, session("t3", "u1", base.Add(2*time.Second)), 2)
	require.NoError(t, err)
	require.Equal(t, []string{"t1"}, evicted)

	for id, wantActive := range map[string]bool{"t1": false, "t2": true, "t3": true} {
		active, err := st.Sessions().IsActive(ctx, id)
		require.NoError(t, err)
		require.Equal(t, wantActive, active, "session %s", id)
	}

	n, err := st.Sessions().CountActive(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	t.Run("duplicate id rejected", func(t *testing.T) {
		_, err := st.Sessions().CreateAndEnforceLimit(ctx, session("t3", "u1", base), 2)
		require.ErrorIs(t, err, store.ErrAlreadyExists)
	})
}

func TestSessions_EvictionTieBreak(t *testing.T) {
	st, _ := newStore(t)
	ctx := context.Background()
	created := time.Now().UTC()

	// Identical created-at stamps: the lexically smallest id goes first.
	for _, id := range []string{"bbb", "aaa", "ccc"} {
		require.NoError(t, st.Sessions().Create(ctx, session(id, "u1", created)))
	}

	evicted, err := st.Sessions().EvictOldestIfOverLimit(ctx, "u1", 2)
	require.NoError(t, err)
	require.Equal(t, []string{"aaa"}, evicted)

	evicted, err = st.Sessions().EvictOldestIfOverLimit(ctx, "u1", 2)
	require.NoError(t, err)
	require.Empty(t, evicted, "already at the limit")
}

func TestSessions_ListAndCount(t *testing.T) {
	st, _ := newStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	require.NoError(t, st.Sessions().Create(ctx, session("s2", "u1", base.Add(time.Second))))
	require.NoError(t, st.Sessions().Create(ctx, session("s1", "u1", base)))
	require.NoError(t, st.Sessions().Create(ctx, session("s3", "u1", base.Add(2*time.Second))))
	require.NoError(t, st.Sessions().Create(ctx, session("other", "u2", base)))

	list, err := st.Sessions().ListActive(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, "s1", list[0].ID, "oldest first")
	require.Equal(t, "s3", list[2].ID)

	require.NoError(t, st.Sessions().Deactivate(ctx, "s2"))

	n, err := st.Sessions().CountActive(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestSessions_DeactivateAll(t *testing.T) {
	st, _ := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := range 4 {
		require.NoError(t, st.Sessions().Create(ctx, session(fmt.Sprintf("s%d", i), "u1", now)))
	}
	require.NoError(t, st.Sessions().Deactivate(ctx, "s0"))

	n, err := st.Sessions().DeactivateAll(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 3, n, "only previously-active sessions count")

	remaining, err := st.Sessions().CountActive(ctx, "u1")
	require.NoError(t, err)
	require.Zero(t, remaining)

	got, err := st.Sessions().Get(ctx, "s1")
	require.NoError(t, err)
	require.False(t, got.Active, "rows survive deactivation for audit")
}

func TestSessions_DeleteIdle(t *testing.T) {
	st, _ := newStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	require.NoError(t, st.Sessions().Create(ctx, session("stale", "u1", base.Add(-48*time.Hour))))
	require.NoError(t, st.Sessions().Create(ctx, session("fresh", "u1", base)))

	deleted, err := st.Sessions().DeleteIdle(ctx, base.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, deleted)

	_, err = st.Sessions().Get(ctx, "stale")
	require.ErrorIs(t, err, store.ErrNotFound)

	n, err := st.Sessions().CountActive(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, n, "index entry must go with the session")
}

func TestSessions_CapUnderConcurrentLogins(t *testing.T) {
	st, _ := newStore(t)
	ctx := context.Background()
	created := time.Now().UTC()

	const logins = 8
	const maxActive = 3

	var wg sync.WaitGroup
	errs := make(chan error, logins)
	for i := range logins {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := st.Sessions().CreateAndEnforceLimit(ctx, session(fmt.Sprintf("s-%02d", i), "u1", created), maxActive)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	n, err := st.Sessions().CountActive(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, maxActive, n, "cap must hold no matter the interleaving")
}

func TestRevocations(t *testing.T) {
	st, mr := newStore(t)
	ctx := context.Background()

	require.NoError(t, st.Revocations().Revoke(ctx, "fp-1", time.Hour, "logout"))

	revoked, err := st.Revocations().IsRevoked(ctx, "fp-1")
	require.NoError(t, err)
	require.True(t, revoked)

	t.Run("unknown fingerprint", func(t *testing.T) {
		revoked, err := st.Revocations().IsRevoked(ctx, "fp-unknown")
		require.NoError(t, err)
		require.False(t, revoked)
	})

	t.Run("entry expires with the token", func(t *testing.T) {
		mr.FastForward(2 * time.Hour)

		revoked, err := st.Revocations().IsRevoked(ctx, "fp-1")
		require.NoError(t, err)
		require.False(t, revoked)
	})
}

func TestRevocations_Idempotent(t *testing.T) {
	st, mr := newStore(t)
	ctx := context.Background()

	// Re-revoking with a shorter TTL must not shorten the deny window.
	require.NoError(t, st.Revocations().Revoke(ctx, "fp-1", time.Hour, "logout"))
	require.NoError(t, st.Revocations().Revoke(ctx, "fp-1", time.Minute, "logout-again"))

	mr.FastForward(30 * time.Minute)

	revoked, err := st.Revocations().IsRevoked(ctx, "fp-1")
	require.NoError(t, err)
	require.True(t, revoked)
}

func TestRevocations_NonPositiveTTL(t *testing.T) {
	st, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, st.Revocations().Revoke(ctx, "fp-1", 0, "already expired"))

	revoked, err := st.Revocations().IsRevoked(ctx, "fp-1")
	require.NoError(t, err)
	require.False(t, revoked)
}

func TestRevocations_DeleteExpiredIsANoOp(t *testing.T) {
	st, _ := newStore(t)

	deleted, err := st.Revocations().DeleteExpired(context.Background())
	require.NoError(t, err)
	require.Zero(t, deleted, "redis expires revocation keys itself")
}
