package guard

import (
	"context"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/sessionguard/pkg/slogx"
)

// EventType names the security events the manager emits.
type EventType string

const (
	// EventSessionCreated fires on every successful token pair issuance.
	EventSessionCreated EventType = "session_created"

	// EventSessionEvicted fires when a login pushes an identity over its
	// concurrent session limit and an older session is retired to make room.
	EventSessionEvicted EventType = "session_evicted"

	// EventTokenRefreshed fires when a refresh token is exchanged for a new
	// pair.
	EventTokenRefreshed EventType = "token_refreshed"

	// EventRefreshReuse fires when an already-rotated refresh token is
	// presented again. Either the client retried a lost response or someone
	// is replaying a stolen token; both deserve attention.
	EventRefreshReuse EventType = "refresh_reuse"

	// EventTokenRevoked fires when a single token is blacklisted.
	EventTokenRevoked EventType = "token_revoked"

	// EventSessionsRevoked fires when every session for an identity is
	// terminated at once.
	EventSessionsRevoked EventType = "sessions_revoked"

	// EventRegistryOutage fires (rate-limited) when the session registry is
	// unreachable and the manager is running on pure token checks.
	EventRegistryOutage EventType = "registry_outage"
)

// Severity grades an event for alerting pipelines.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is one security-relevant occurrence inside the manager.
type Event struct {
	Type       EventType
	Severity   Severity
	IdentityID string
	SessionID  string
	At         time.Time
	Detail     string
}

// Emitter receives security events. Implementations must be fast and must
// not block; the manager calls Emit inline on hot paths. Ship to a queue if
// delivery is slow.
type Emitter interface {
	Emit(ctx context.Context, e Event)
}

// LogEmitter is the default emitter. It writes events to a slog logger,
// mapping severity onto log level.
type LogEmitter struct {
	Logger *slog.Logger
}

func (e LogEmitter) Emit(ctx context.Context, ev Event) {
	l := e.Logger
	if l == nil {
		l = slogx.FromContext(ctx)
	}

	level := slog.LevelInfo
	switch ev.Severity {
	case SeverityWarning:
		level = slog.LevelWarn
	case SeverityCritical:
		level = slog.LevelError
	}

	l.Log(ctx, level, "security event",
		"event", string(ev.Type),
		"identity_id", ev.IdentityID,
		"session_id", ev.SessionID,
		"detail", ev.Detail,
	)
}
