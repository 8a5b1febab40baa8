// Package trust scores how closely a request's context matches the
// context a token was issued against.
//
// The score is advisory. A mismatch never fails validation on its own;
// callers decide whether a low score earns step-up friction. Checks
// only fire when both the claimed and the observed value are present,
// so a client that never supplied a device id is not punished for it.
package trust

import (
	"time"

	"github.com/aussiebroadwan/sessionguard/pkg/tokenx"
)

// Weights are the per-signal deductions from a perfect score of 100.
type Weights struct {
	IPMismatch        int
	UserAgentMismatch int
	DeviceMismatch    int
	SessionOverflow   int
	StaleToken        int
}

func DefaultWeights() Weights {
	return Weights{
		IPMismatch:        30,
		UserAgentMismatch: 20,
		DeviceMismatch:    20,
		SessionOverflow:   40,
		StaleToken:        10,
	}
}

type Config struct {
	// CheckIP is off by default. Mobile carriers and corporate NATs
	// rotate addresses mid-session, which makes raw IP equality a
	// noisy signal.
	CheckIP        bool
	CheckUserAgent bool
	CheckDevice    bool

	// MaxSessions flags identities running more concurrent sessions
	// than the deployment allows. Zero disables the check.
	MaxSessions int

	// Weights replace the defaults wholesale when non-zero.
	Weights Weights

	// TTLs give the expected lifetime per purpose for the staleness
	// check. Purposes without an entry use the tokenx defaults.
	TTLs map[tokenx.Purpose]time.Duration

	Now func() time.Time
}

// DefaultConfig enables the low-noise checks and leaves IP matching to
// deployments that pin clients to stable addresses.
func DefaultConfig() Config {
	return Config{
		CheckUserAgent: true,
		CheckDevice:    true,
	}
}

// Observed is the request context as seen by the caller right now.
type Observed struct {
	IP        string
	UserAgent string
	DeviceID  string
}

// Report is the outcome of one evaluation. Score is clamped to [0,100]
// and each deduction leaves a warning explaining itself.
type Report struct {
	Score    int
	Warnings []string
}

type Evaluator struct {
	cfg     Config
	weights Weights
	now     func() time.Time
}

func NewEvaluator(cfg Config) *Evaluator {
	weights := cfg.Weights
	if weights == (Weights{}) {
		weights = DefaultWeights()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Evaluator{cfg: cfg, weights: weights, now: now}
}

// Evaluate compares the claims against the observed request context and
// the identity's live session count.
func (e *Evaluator) Evaluate(claims *tokenx.ClaimSet, obs Observed, activeSessions int) Report {
	score := 100
	var warnings []string

	deduct := func(points int, warning string) {
		score -= points
		warnings = append(warnings, warning)
	}

	if e.cfg.CheckIP && mismatch(claims.IP, obs.IP) {
		deduct(e.weights.IPMismatch, "ip address changed since issuance")
	}
	if e.cfg.CheckUserAgent && mismatch(claims.UserAgent, obs.UserAgent) {
		deduct(e.weights.UserAgentMismatch, "user agent changed since issuance")
	}
	if e.cfg.CheckDevice && mismatch(claims.DeviceID, obs.DeviceID) {
		deduct(e.weights.DeviceMismatch, "device id changed since issuance")
	}
	if e.cfg.MaxSessions > 0 && activeSessions > e.cfg.MaxSessions {
		deduct(e.weights.SessionOverflow, "active session count exceeds the configured limit")
	}
	if e.stale(claims) {
		deduct(e.weights.StaleToken, "token is unusually old for its lifetime class")
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return Report{Score: score, Warnings: warnings}
}

// stale reports whether the token has outlived the lifetime its purpose
// class is supposed to have. A token can be formally unexpired yet
// older than its class allows, which usually means it was issued with a
// hand-picked long expiry.
func (e *Evaluator) stale(claims *tokenx.ClaimSet) bool {
	if claims.IssuedAt == nil {
		return false
	}
	ttl := e.cfg.TTLs[claims.Purpose]
	if ttl <= 0 {
		ttl = claims.Purpose.DefaultTTL()
	}
	if ttl <= 0 {
		return false
	}
	return claims.Age(e.now()) > ttl
}

// mismatch requires both sides to be present. Absent data is not
// evidence of anything.
func mismatch(claimed, observed string) bool {
	return claimed != "" && observed != "" && claimed != observed
}
