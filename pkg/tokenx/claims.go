package tokenx

import (
	"crypto/rand"
	"encoding/base64"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ClaimSet is the payload sessionguard signs. Immutable once signed; any edit
// after the fact shows up as a signature failure. We keep changes additive to
// preserve compatibility with tokens already in the wild.
type ClaimSet struct {
	jwt.RegisteredClaims

	/* Cross-service custom fields */

	// Purpose pins what the token may be exchanged for. Checked last during
	// decode, after the signature already proved which family signed it.
	Purpose Purpose `json:"purpose,omitempty"`

	// SID is the session this token belongs to.
	SID string `json:"sid,omitempty"`

	// Role within the platform's closed vocabulary.
	Role Role `json:"role,omitempty"`

	// Permissions like "orders:read, orders:write". Treated as a set; the
	// wire order carries no meaning.
	Permissions []string `json:"perms,omitempty"`

	// DeviceID is a caller-supplied stable device handle, when known.
	DeviceID string `json:"did,omitempty"`

	// IP observed at issuance. Advisory only - feeds trust scoring, never a
	// hard check by itself.
	IP string `json:"ip,omitempty"`

	// UserAgent observed at issuance. Advisory, same as IP.
	UserAgent string `json:"ua,omitempty"`

	// Email is only set on action tokens (verification/reset links) where
	// the acting address matters to the consuming flow.
	Email string `json:"email,omitempty"`
}

// NewAccessClaims builds the full claim set an access token carries.
func NewAccessClaims(
	subject string,
	role Role,
	permissions []string,
	sid, deviceID, ip, userAgent string,
	aud Audience,
	issuer string,
	ttl time.Duration,
	now time.Time,
) ClaimSet {
	return ClaimSet{
		RegisteredClaims: registered(subject, issuer, aud, ttl, now),
		Purpose:          PurposeAccess,
		SID:              sid,
		Role:             role,
		Permissions:      permissions,
		DeviceID:         deviceID,
		IP:               ip,
		UserAgent:        userAgent,
	}
}

// NewRefreshClaims builds the deliberately minimal refresh claim set:
// identity, session and device only. A leaked refresh token then exposes no
// role, permissions or network detail.
func NewRefreshClaims(
	subject, sid, deviceID string,
	aud Audience,
	issuer string,
	ttl time.Duration,
	now time.Time,
) ClaimSet {
	return ClaimSet{
		RegisteredClaims: registered(subject, issuer, aud, ttl, now),
		Purpose:          PurposeRefresh,
		SID:              sid,
		DeviceID:         deviceID,
	}
}

// NewActionClaims builds claims for single-purpose action tokens
// (email verification, password reset). No session attached; these stand
// alone and are consumed once.
func NewActionClaims(
	subject, email string,
	purpose Purpose,
	aud Audience,
	issuer string,
	ttl time.Duration,
	now time.Time,
) ClaimSet {
	return ClaimSet{
		RegisteredClaims: registered(subject, issuer, aud, ttl, now),
		Purpose:          purpose,
		Email:            email,
	}
}

func registered(subject, issuer string, aud Audience, ttl time.Duration, now time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   subject,
		Audience:  jwt.ClaimStrings{string(aud)},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        NewJTI(),
	}
}

// NewJTI returns a URL-safe random identifier for the "jti" claim. Nothing
// in this module keys off jti; it exists so every token is distinct even
// when two are minted in the same second with identical claims.
func NewJTI() string {
	var b [20]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}

// ValidateIssuer checks if the issuer matches expected value.
func (c *ClaimSet) ValidateIssuer(expected string) error {
	if expected == "" {
		return nil // nothing to enforce
	}

	if c.Issuer != expected {
		return ErrIssuerMismatch
	}

	return nil
}

// ValidateAudience checks if at least one expected audience is present.
func (c *ClaimSet) ValidateAudience(expected []Audience) error {
	if len(expected) == 0 {
		return nil // nothing to enforce
	}

	for _, want := range expected {
		if slices.Contains(c.Audience, string(want)) {
			return nil
		}
	}

	return ErrAudienceMismatch
}

// ValidatePurpose checks the embedded purpose against what the caller is
// trying to do with the token.
func (c *ClaimSet) ValidatePurpose(expected Purpose) error {
	if c.Purpose != expected {
		return ErrPurposeMismatch
	}

	return nil
}

// TokenAudience returns the single audience the token was minted for, or ""
// when absent.
func (c *ClaimSet) TokenAudience() Audience {
	if len(c.Audience) == 0 {
		return ""
	}
	return Audience(c.Audience[0])
}

// RemainingLife reports how long until expiry at the given instant. Negative
// once expired, zero when no expiry is set.
func (c *ClaimSet) RemainingLife(now time.Time) time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	return c.ExpiresAt.Time.Sub(now)
}

// Age reports how long ago the token was issued at the given instant, zero
// when iat is absent.
func (c *ClaimSet) Age(now time.Time) time.Duration {
	if c.IssuedAt == nil {
		return 0
	}
	return now.Sub(c.IssuedAt.Time)
}
