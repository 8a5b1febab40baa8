package guard_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/aussiebroadwan/sessionguard/pkg/guard"
	"github.com/aussiebroadwan/sessionguard/pkg/tokenx"
	"github.com/aussiebroadwan/sessionguard/pkg/trust"

	redisdrv "github.com/aussiebroadwan/sessionguard/pkg/store/drivers/redis"
)

/*
 * End-to-end tests against a real Redis container. These exercise the full
 * manager stack over the production registry driver: Lua-scripted eviction,
 * WATCH-based rotation and native key expiry, none of which miniredis can
 * prove on its own.
 */

const (
	e2eMaster = "zQ4vN8kXw2mBc6rTy9dLp3gJh7sFa5ne"
	e2eIssuer = "sessionguard-e2e"
)

// setupRedisStore starts a Redis container and opens the registry driver
// against it. Skipped in -short runs, where no Docker daemon is assumed.
func setupRedisStore(t *testing.T) (*redisdrv.Store, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)

	st, err := redisdrv.Open(ctx, fmt.Sprintf("%s:%s", host, port.Port()), "e2e")
	require.NoError(t, err)

	cleanup := func() {
		st.Close()
		_ = container.Terminate(context.Background())
	}
	return st, cleanup
}

// newE2EManager builds a manager over the given store with a 2-session cap
// and a stub resolver for identity-1.
func newE2EManager(t *testing.T, st *redisdrv.Store, events *recordingEmitter) *guard.Manager {
	t.Helper()

	keys, err := tokenx.NewDerivedKeyring([]byte(e2eMaster), 0)
	require.NoError(t, err)

	m, err := guard.NewManager(st, guard.Config{
		Issuer:      e2eIssuer,
		Keys:        keys,
		MaxSessions: 2,
		Resolver:    staticResolver{},
		Emitter:     events,
	})
	require.NoError(t, err)
	return m
}

func login(t *testing.T, m *guard.Manager, identityID string) *guard.TokenPair {
	t.Helper()

	pair, err := m.IssueTokenPair(context.Background(), guard.IssueRequest{
		Identity:  guard.Identity{ID: identityID, Role: tokenx.RoleCustomer, Permissions: []string{"orders:read"}},
		Audience:  tokenx.AudienceWeb,
		DeviceID:  "device-e2e",
		IP:        "198.51.100.4",
		UserAgent: "e2e-suite/1.0",
	})
	require.NoError(t, err)
	return pair
}

func observed() trust.Observed {
	return trust.Observed{IP: "198.51.100.4", UserAgent: "e2e-suite/1.0", DeviceID: "device-e2e"}
}

type staticResolver struct{}

func (staticResolver) ResolveIdentity(_ context.Context, identityID string) (guard.Identity, error) {
	return guard.Identity{ID: identityID, Role: tokenx.RoleCustomer, Permissions: []string{"orders:read"}}, nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []guard.Event
}

func (e *recordingEmitter) Emit(_ context.Context, ev guard.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *recordingEmitter) ofType(t guard.EventType) []guard.Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []guard.Event
	for _, ev := range e.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
