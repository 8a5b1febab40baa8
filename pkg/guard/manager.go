// Package guard is the session security manager. It issues purpose-keyed
// access/refresh pairs bound to tracked sessions, validates presented tokens
// against the revocation blacklist and the session registry, rotates refresh
// tokens with single-use enforcement, and scores request context against
// what the token was issued with.
//
// Validation is deliberately error-free: callers always get a Verdict to act
// on. Registry outages degrade to pure token checks unless Strict is set,
// but writes that enforce security (revocations, single-use burns) never
// fail open.
package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/aussiebroadwan/sessionguard/pkg/cryptox"
	"github.com/aussiebroadwan/sessionguard/pkg/idx"
	"github.com/aussiebroadwan/sessionguard/pkg/slogx"
	"github.com/aussiebroadwan/sessionguard/pkg/store"
	"github.com/aussiebroadwan/sessionguard/pkg/tokenx"
	"github.com/aussiebroadwan/sessionguard/pkg/trust"
)

var (
	ErrInvalidToken        = errors.New("invalid_token")
	ErrInvalidRefresh      = errors.New("invalid_refresh_token")
	ErrRefreshReused       = errors.New("refresh_token_reused")
	ErrSessionTerminated   = errors.New("session_terminated")
	ErrTokenRevoked        = errors.New("token_revoked")
	ErrRegistryUnavailable = errors.New("session_registry_unavailable")
	ErrNoResolver          = errors.New("identity_resolver_not_configured")
	ErrIdentityUnresolved  = errors.New("identity_unresolved")
	ErrNotActionPurpose    = errors.New("not_an_action_purpose")
)

// outageEvery caps how often registry outages are logged and emitted.
const outageEvery = 10 * time.Second

// Identity is the minimal view of an account the manager needs to mint
// tokens. The manager never stores these; they live in whatever system owns
// accounts.
type Identity struct {
	ID          string
	Role        tokenx.Role
	Permissions []string
}

// IdentityResolver supplies a fresh Identity snapshot during refresh
// rotation. Role and permission changes take effect at the next rotation
// instead of surviving until natural expiry.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, identityID string) (Identity, error)
}

// IssueRequest carries what a successful login hands to IssueTokenPair. The
// device, IP and user agent are recorded on the session and inside the
// access token for later context scoring.
type IssueRequest struct {
	Identity  Identity
	Audience  tokenx.Audience
	DeviceID  string
	IP        string
	UserAgent string
}

// TokenPair is the product of issuance and refresh.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	SessionID        string
}

// Manager ties the token codec, the session registry and the trust scorer
// together. Construct with NewManager; the zero value is not usable.
type Manager struct {
	codec    tokenx.Codec
	store    store.Store
	trust    *trust.Evaluator
	resolver IdentityResolver
	emitter  Emitter
	logger   *slog.Logger

	issuer           string
	audiences        []tokenx.Audience
	leeway           time.Duration
	ttls             map[tokenx.Purpose]time.Duration
	maxSessions      int
	refreshThreshold time.Duration
	storeTimeout     time.Duration
	strict           bool

	now func() time.Time

	outageLimit *rate.Limiter
	outages     atomic.Int64
}

// NewManager validates the configuration and builds a manager. Key problems
// surface here, never at issue time.
func NewManager(st store.Store, cfg Config) (*Manager, error) {
	if st == nil {
		return nil, errors.New("guard: store is required")
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	leeway := cfg.Leeway
	if leeway == 0 {
		leeway = tokenx.DefaultLeeway
	}

	codec, err := tokenx.NewCodec(tokenx.Config{
		Algorithm:   cfg.Algorithm,
		Issuer:      cfg.Issuer,
		Leeway:      leeway,
		Keys:        cfg.Keys,
		SigningKeys: cfg.SigningKeys,
		KeyVersion:  cfg.KeyVersion,
		Now:         now,
	})
	if err != nil {
		return nil, err
	}

	ttls := map[tokenx.Purpose]time.Duration{
		tokenx.PurposeAccess:            cfg.AccessTTL,
		tokenx.PurposeRefresh:           cfg.RefreshTTL,
		tokenx.PurposeEmailVerification: cfg.EmailVerificationTTL,
		tokenx.PurposePasswordReset:     cfg.PasswordResetTTL,
	}
	for p, ttl := range ttls {
		if ttl < 0 {
			return nil, fmt.Errorf("guard: negative ttl for %s tokens", p)
		}
		if ttl == 0 {
			ttls[p] = p.DefaultTTL()
		}
	}

	maxSessions := cfg.MaxSessions
	switch {
	case maxSessions == 0:
		maxSessions = DefaultMaxSessions
	case maxSessions < 0:
		maxSessions = 0 // unlimited
	}

	refreshThreshold := cfg.RefreshThreshold
	if refreshThreshold <= 0 {
		refreshThreshold = DefaultRefreshThreshold
	}

	storeTimeout := cfg.StoreTimeout
	if storeTimeout <= 0 {
		storeTimeout = DefaultStoreTimeout
	}

	// Trust scoring inherits the manager's session cap, lifetimes and clock
	// unless the caller pinned its own.
	tc := trust.DefaultConfig()
	if cfg.Trust != nil {
		tc = *cfg.Trust
	}
	if tc.MaxSessions == 0 {
		tc.MaxSessions = maxSessions
	}
	if tc.TTLs == nil {
		tc.TTLs = ttls
	}
	if tc.Now == nil {
		tc.Now = now
	}

	emitter := cfg.Emitter
	if emitter == nil {
		emitter = LogEmitter{Logger: cfg.Logger}
	}

	return &Manager{
		codec:            codec,
		store:            st,
		trust:            trust.NewEvaluator(tc),
		resolver:         cfg.Resolver,
		emitter:          emitter,
		logger:           cfg.Logger,
		issuer:           cfg.Issuer,
		audiences:        cfg.Audiences,
		leeway:           leeway,
		ttls:             ttls,
		maxSessions:      maxSessions,
		refreshThreshold: refreshThreshold,
		storeTimeout:     storeTimeout,
		strict:           cfg.Strict,
		now:              now,
		outageLimit:      rate.NewLimiter(rate.Every(outageEvery), 1),
	}, nil
}

// IssueTokenPair mints an access/refresh pair under a brand new session and
// registers the session, evicting the identity's oldest sessions when the
// concurrent limit is hit.
func (m *Manager) IssueTokenPair(ctx context.Context, req IssueRequest) (*TokenPair, error) {
	if req.Identity.ID == "" {
		return nil, errors.New("guard: identity id is required")
	}
	if !req.Audience.Valid() {
		return nil, fmt.Errorf("guard: unknown audience %q", req.Audience)
	}

	now := m.now()
	sid := idx.New().String()

	pair, err := m.mint(req.Identity, req.Audience, sid, req.DeviceID, req.IP, req.UserAgent, now)
	if err != nil {
		return nil, err
	}

	if err := m.register(ctx, store.Session{
		ID:           sid,
		IdentityID:   req.Identity.ID,
		DeviceID:     req.DeviceID,
		IP:           req.IP,
		UserAgent:    req.UserAgent,
		CreatedAt:    now,
		LastActivity: now,
		Active:       true,
	}); err != nil {
		return nil, err
	}

	m.emit(ctx, Event{
		Type:       EventSessionCreated,
		Severity:   SeverityInfo,
		IdentityID: req.Identity.ID,
		SessionID:  sid,
	})

	return pair, nil
}

// Validate checks a token end to end and always returns a usable verdict,
// never an error. The checks run in a fixed order: revocation blacklist
// first, before any parsing, then signature, validity window, issuer,
// audience and purpose, then session liveness and context scoring for
// access tokens.
func (m *Manager) Validate(ctx context.Context, raw string, purpose tokenx.Purpose, obs trust.Observed) Verdict {
	now := m.now()

	var warnings []string

	// 1. Blacklist lookup, keyed by fingerprint so even unparseable input
	//    gets the same treatment.
	revoked, err := m.isRevoked(ctx, raw)
	if err != nil {
		m.noteOutage(ctx, "revocations.is_revoked", err)
		if m.strict {
			return invalid(ReasonRegistryUnavailable, "session registry is unavailable")
		}
		warnings = append(warnings, "session registry unreachable; revocation not checked")
	} else if revoked {
		return invalid(ReasonRevoked, "token has been revoked")
	}

	// 2. Cryptographic and claim checks.
	claims, err := m.codec.Decode(raw, tokenx.Expect{Purpose: purpose, Audiences: m.audiences})
	if err != nil {
		return verdictForDecode(err)
	}

	v := Verdict{Valid: true, Claims: claims, Warnings: warnings}

	// Action and refresh tokens stop here. Sessions are enforced on access
	// tokens; refresh liveness belongs to Refresh itself.
	if purpose != tokenx.PurposeAccess {
		return v
	}

	// 3. The session behind the token must still be live.
	if claims.SID != "" {
		active, err := m.sessionActive(ctx, claims.SID)
		if err != nil {
			m.noteOutage(ctx, "sessions.is_active", err)
			if m.strict {
				return invalid(ReasonRegistryUnavailable, "session registry is unavailable")
			}
			v.Warnings = append(v.Warnings, "session registry unreachable; session liveness not checked")
		} else if !active {
			return invalid(ReasonSessionTerminated, "session has been terminated or evicted")
		}
	}

	// 4. Advisory context scoring. Deductions become warnings, never
	//    rejections.
	report := m.trust.Evaluate(claims, obs, m.activeSessions(ctx, claims.Subject))
	v.TrustScore = &report.Score
	v.Warnings = append(v.Warnings, report.Warnings...)

	// 5. Rotation hint when the token is close to expiry.
	v.ShouldRefresh = claims.RemainingLife(now) < m.refreshThreshold

	// 6. Record the activity. Best effort; a missed touch only delays idle
	//    cleanup.
	if claims.SID != "" {
		sctx, cancel := m.storeCtx(ctx)
		if err := m.store.Sessions().Touch(sctx, claims.SID, now); err != nil && !errors.Is(err, store.ErrNotFound) {
			m.log(ctx).Debug("session touch failed", "session_id", claims.SID, "error", err)
		}
		cancel()
	}

	return v
}

// Refresh exchanges a refresh token for a brand new pair under a brand new
// session id. The old token is blacklisted for whatever life it had left
// and the old session retired, so every refresh token works exactly once.
// Role and permissions are re-resolved through the IdentityResolver, not
// copied from the old token.
func (m *Manager) Refresh(ctx context.Context, raw string, obs trust.Observed) (*TokenPair, error) {
	if m.resolver == nil {
		return nil, ErrNoResolver
	}

	now := m.now()
	l := m.log(ctx)

	// 1. A rotated-out token lands on the blacklist check. That is the
	//    replay signal, not a routine failure.
	revoked, err := m.isRevoked(ctx, raw)
	if err != nil {
		m.noteOutage(ctx, "revocations.is_revoked", err)
		if m.strict {
			return nil, ErrRegistryUnavailable
		}
	} else if revoked {
		m.flagReuse(ctx, raw)
		return nil, ErrRefreshReused
	}

	// 2. Signature, validity window, issuer, audience, purpose.
	claims, err := m.codec.Decode(raw, tokenx.Expect{Purpose: tokenx.PurposeRefresh, Audiences: m.audiences})
	if err != nil {
		l.Debug("refresh token rejected", "error", err)
		return nil, ErrInvalidRefresh
	}

	// Context-scoped log lines from here on name the session being rotated.
	ctx = slogx.WithSession(ctx, claims.SID)

	// 3. Evicted and revoked sessions do not come back through refresh.
	active, err := m.sessionActive(ctx, claims.SID)
	if err != nil {
		m.noteOutage(ctx, "sessions.is_active", err)
		if m.strict {
			return nil, ErrRegistryUnavailable
		}
	} else if !active {
		return nil, ErrSessionTerminated
	}

	// 4. Fresh identity snapshot. Revoked privileges die at rotation, not
	//    at natural expiry.
	ident, err := m.resolver.ResolveIdentity(ctx, claims.Subject)
	if err != nil {
		l.Warn("identity resolution failed during refresh", "identity_id", claims.Subject, "error", err)
		return nil, ErrIdentityUnresolved
	}

	// 5. Retire the old token before the new one exists. This write failing
	//    aborts the rotation; a blacklist that can miss rotated tokens is
	//    not a blacklist.
	ttl := claims.RemainingLife(now) + m.leeway
	if err := m.revokeFingerprint(ctx, cryptox.FingerprintToken(raw), ttl, "rotated"); err != nil {
		return nil, err
	}

	// 6. Retire the old session. Best effort; a miss lingers only until the
	//    idle sweep.
	m.deactivate(ctx, claims.SID)

	// 7. New session, new pair. The device id sticks with the login unless
	//    the client sent a fresh one.
	deviceID := obs.DeviceID
	if deviceID == "" {
		deviceID = claims.DeviceID
	}

	sid := idx.New().String()
	pair, err := m.mint(ident, claims.TokenAudience(), sid, deviceID, obs.IP, obs.UserAgent, now)
	if err != nil {
		return nil, err
	}

	if err := m.register(ctx, store.Session{
		ID:           sid,
		IdentityID:   ident.ID,
		DeviceID:     deviceID,
		IP:           obs.IP,
		UserAgent:    obs.UserAgent,
		CreatedAt:    now,
		LastActivity: now,
		Active:       true,
	}); err != nil {
		return nil, err
	}

	m.emit(ctx, Event{
		Type:       EventTokenRefreshed,
		Severity:   SeverityInfo,
		IdentityID: ident.ID,
		SessionID:  sid,
		Detail:     "rotated from session " + claims.SID,
	})

	return pair, nil
}

// Revoke blacklists one token for the rest of its natural life. Works on
// any token the service signed, even one already expired (a no-op then).
// Revoking a refresh token also retires its session, since that session can
// never mint again.
func (m *Manager) Revoke(ctx context.Context, raw, reason string) error {
	now := m.now()

	// The token's own remaining life bounds the blacklist entry. When the
	// token does not even parse, fall back to the longest configured
	// lifetime so the fingerprint stays denied for as long as any real
	// token could survive.
	ttl := m.longestTTL() + m.leeway
	var claims *tokenx.ClaimSet
	if c, err := m.codec.Peek(raw); err == nil {
		claims = c
		ttl = c.RemainingLife(now) + m.leeway
	}

	if err := m.revokeFingerprint(ctx, cryptox.FingerprintToken(raw), ttl, reason); err != nil {
		return err
	}

	e := Event{Type: EventTokenRevoked, Severity: SeverityInfo, Detail: reason}
	if claims != nil {
		e.IdentityID = claims.Subject
		e.SessionID = claims.SID
		if claims.Purpose == tokenx.PurposeRefresh {
			m.deactivate(ctx, claims.SID)
		}
	}
	m.emit(ctx, e)

	return nil
}

// RevokeAllSessions terminates every active session the identity holds and
// reports how many were live. Outstanding access and refresh tokens die at
// their next liveness check; no token-by-token blacklisting is needed.
func (m *Manager) RevokeAllSessions(ctx context.Context, identityID string) (int, error) {
	sctx, cancel := m.storeCtx(ctx)
	defer cancel()

	n, err := m.store.Sessions().DeactivateAll(sctx, identityID)
	if err != nil {
		m.log(ctx).Error("bulk session revocation failed", "identity_id", identityID, "error", err)
		return 0, ErrRegistryUnavailable
	}

	m.emit(ctx, Event{
		Type:       EventSessionsRevoked,
		Severity:   SeverityWarning,
		IdentityID: identityID,
		Detail:     fmt.Sprintf("%d sessions terminated", n),
	})

	return n, nil
}

// IssueActionToken mints a token for an out-of-band flow, email
// verification or password reset. No session is attached; the token stands
// alone and is consumed exactly once.
func (m *Manager) IssueActionToken(ctx context.Context, identityID, email string, purpose tokenx.Purpose, aud tokenx.Audience) (string, error) {
	if purpose != tokenx.PurposeEmailVerification && purpose != tokenx.PurposePasswordReset {
		return "", ErrNotActionPurpose
	}
	if identityID == "" {
		return "", errors.New("guard: identity id is required")
	}
	if !aud.Valid() {
		return "", fmt.Errorf("guard: unknown audience %q", aud)
	}

	return m.codec.Issue(tokenx.NewActionClaims(identityID, email, purpose, aud, m.issuer, m.ttls[purpose], m.now()))
}

// ConsumeActionToken validates an action token and burns it. The burn is a
// blacklist write for the token's remaining life, so a second consume fails
// with ErrTokenRevoked. Single use wins over availability here: when the
// blacklist cannot be read or written the consume fails, strict mode or
// not.
func (m *Manager) ConsumeActionToken(ctx context.Context, raw string, purpose tokenx.Purpose) (*tokenx.ClaimSet, error) {
	if purpose != tokenx.PurposeEmailVerification && purpose != tokenx.PurposePasswordReset {
		return nil, ErrNotActionPurpose
	}

	now := m.now()
	fp := cryptox.FingerprintToken(raw)

	sctx, cancel := m.storeCtx(ctx)
	revoked, err := m.store.Revocations().IsRevoked(sctx, fp)
	cancel()
	if err != nil {
		m.log(ctx).Error("revocation check failed during consume", "error", err)
		return nil, ErrRegistryUnavailable
	}
	if revoked {
		return nil, ErrTokenRevoked
	}

	claims, err := m.codec.Decode(raw, tokenx.Expect{Purpose: purpose, Audiences: m.audiences})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if err := m.revokeFingerprint(ctx, fp, claims.RemainingLife(now)+m.leeway, "consumed"); err != nil {
		return nil, err
	}

	m.emit(ctx, Event{
		Type:       EventTokenRevoked,
		Severity:   SeverityInfo,
		IdentityID: claims.Subject,
		Detail:     "action token consumed",
	})

	return claims, nil
}

// ListSessions returns the identity's active sessions, oldest first.
func (m *Manager) ListSessions(ctx context.Context, identityID string) ([]store.Session, error) {
	sctx, cancel := m.storeCtx(ctx)
	defer cancel()

	return m.store.Sessions().ListActive(sctx, identityID)
}

// Outages reports how many registry failures the manager has absorbed since
// start. Exposed for health surfaces.
func (m *Manager) Outages() int64 { return m.outages.Load() }

// mint signs the two tokens of a pair. Pure computation, no store access.
func (m *Manager) mint(ident Identity, aud tokenx.Audience, sid, deviceID, ip, userAgent string, now time.Time) (*TokenPair, error) {
	accessTTL := m.ttls[tokenx.PurposeAccess]
	refreshTTL := m.ttls[tokenx.PurposeRefresh]

	access, err := m.codec.Issue(tokenx.NewAccessClaims(
		ident.ID, ident.Role, ident.Permissions,
		sid, deviceID, ip, userAgent,
		aud, m.issuer, accessTTL, now,
	))
	if err != nil {
		return nil, err
	}

	refresh, err := m.codec.Issue(tokenx.NewRefreshClaims(ident.ID, sid, deviceID, aud, m.issuer, refreshTTL, now))
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  now.Add(accessTTL),
		RefreshExpiresAt: now.Add(refreshTTL),
		SessionID:        sid,
	}, nil
}

// register writes the session row and enforces the concurrency cap,
// emitting one eviction event per retired session. A registry failure here
// only fails the call in strict mode; otherwise the tokens go out and the
// registry heals on the next successful write.
func (m *Manager) register(ctx context.Context, sess store.Session) error {
	sctx, cancel := m.storeCtx(ctx)
	defer cancel()

	evicted, err := m.store.Sessions().CreateAndEnforceLimit(sctx, sess, m.maxSessions)
	if err != nil {
		if m.strict {
			return ErrRegistryUnavailable
		}
		m.noteOutage(ctx, "sessions.create", err)
		return nil
	}

	for _, victim := range evicted {
		m.emit(ctx, Event{
			Type:       EventSessionEvicted,
			Severity:   SeverityInfo,
			IdentityID: sess.IdentityID,
			SessionID:  victim,
			Detail:     "concurrent session limit reached",
		})
	}

	return nil
}

// flagReuse raises the alarm on a replayed refresh token. Peek verifies
// only the signature, which is enough to name the session and identity when
// the replayed token is genuinely ours.
func (m *Manager) flagReuse(ctx context.Context, raw string) {
	e := Event{
		Type:     EventRefreshReuse,
		Severity: SeverityCritical,
		Detail:   "rotated refresh token presented again",
	}

	if claims, err := m.codec.Peek(raw); err == nil {
		e.IdentityID = claims.Subject
		e.SessionID = claims.SID
		// The session should already be dead from the rotation that
		// blacklisted this token; make sure.
		m.deactivate(ctx, claims.SID)
	}

	m.emit(ctx, e)
}

// revokeFingerprint writes a blacklist entry. Unlike validation reads, a
// failed revocation write is always an error, strict mode or not.
func (m *Manager) revokeFingerprint(ctx context.Context, fp string, ttl time.Duration, reason string) error {
	sctx, cancel := m.storeCtx(ctx)
	defer cancel()

	if err := m.store.Revocations().Revoke(sctx, fp, ttl, reason); err != nil {
		m.log(ctx).Error("revocation write failed", "error", err)
		return ErrRegistryUnavailable
	}

	return nil
}

// deactivate retires one session, best effort.
func (m *Manager) deactivate(ctx context.Context, sid string) {
	if sid == "" {
		return
	}

	sctx, cancel := m.storeCtx(ctx)
	defer cancel()

	if err := m.store.Sessions().Deactivate(sctx, sid); err != nil && !errors.Is(err, store.ErrNotFound) {
		m.log(ctx).Warn("session deactivation failed", "session_id", sid, "error", err)
	}
}

func (m *Manager) isRevoked(ctx context.Context, raw string) (bool, error) {
	sctx, cancel := m.storeCtx(ctx)
	defer cancel()

	return m.store.Revocations().IsRevoked(sctx, cryptox.FingerprintToken(raw))
}

func (m *Manager) sessionActive(ctx context.Context, sid string) (bool, error) {
	sctx, cancel := m.storeCtx(ctx)
	defer cancel()

	return m.store.Sessions().IsActive(sctx, sid)
}

// activeSessions counts the identity's live sessions for trust scoring.
// Errors degrade to zero and the overflow check simply stays quiet.
func (m *Manager) activeSessions(ctx context.Context, identityID string) int {
	sctx, cancel := m.storeCtx(ctx)
	defer cancel()

	n, err := m.store.Sessions().CountActive(sctx, identityID)
	if err != nil {
		return 0
	}
	return n
}

// noteOutage counts a registry failure and, at most once per outageEvery,
// logs it loudly and emits a registry_outage event. Hot paths stay quiet
// even when the registry flaps on every request.
func (m *Manager) noteOutage(ctx context.Context, op string, err error) {
	n := m.outages.Add(1)
	if !m.outageLimit.Allow() {
		return
	}

	m.log(ctx).Error("session registry unreachable", "op", op, "error", err, "outages", n)
	m.emit(ctx, Event{
		Type:     EventRegistryOutage,
		Severity: SeverityWarning,
		Detail:   op,
	})
}

func (m *Manager) longestTTL() time.Duration {
	var longest time.Duration
	for _, ttl := range m.ttls {
		if ttl > longest {
			longest = ttl
		}
	}
	return longest
}

func (m *Manager) emit(ctx context.Context, e Event) {
	if e.At.IsZero() {
		e.At = m.now()
	}
	m.emitter.Emit(ctx, e)
}

func (m *Manager) log(ctx context.Context) *slog.Logger {
	if m.logger != nil {
		return m.logger
	}
	return slogx.FromContext(ctx)
}

func (m *Manager) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.storeTimeout)
}
