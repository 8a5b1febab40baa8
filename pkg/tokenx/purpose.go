package tokenx

import "time"

// Default token TTLs per purpose class. Sensible security defaults, every one
// of them overridable through configuration.
const (
	// DefaultAccessTokenTTL is the default lifetime for access tokens.
	// Short-lived for security - typical range is 15m to 1h.
	DefaultAccessTokenTTL = 15 * time.Minute

	// DefaultRefreshTokenTTL is the default lifetime for refresh tokens.
	// Longer-lived for user convenience - typical range is 7d to 30d.
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour

	// DefaultEmailVerificationTTL is the default lifetime for email
	// verification links.
	DefaultEmailVerificationTTL = 24 * time.Hour

	// DefaultPasswordResetTTL is the default lifetime for password reset
	// links. Deliberately tight; these are one-shot tokens.
	DefaultPasswordResetTTL = time.Hour
)

// Purpose partitions the token space. Every purpose signs with its own
// independent secret, so a token minted for one purpose can never verify as
// another even if the claim payloads were to look alike.
type Purpose string

const (
	PurposeAccess            Purpose = "access"
	PurposeRefresh           Purpose = "refresh"
	PurposeEmailVerification Purpose = "email_verification"
	PurposePasswordReset     Purpose = "password_reset"
)

// Purposes returns every purpose the codec signs for, in a stable order.
func Purposes() []Purpose {
	return []Purpose{PurposeAccess, PurposeRefresh, PurposeEmailVerification, PurposePasswordReset}
}

// Valid reports whether p is a known purpose.
func (p Purpose) Valid() bool {
	switch p {
	case PurposeAccess, PurposeRefresh, PurposeEmailVerification, PurposePasswordReset:
		return true
	default:
		return false
	}
}

func (p Purpose) String() string { return string(p) }

// KeyLabel is the HKDF info label used when a purpose secret is derived from
// a single master secret. Changing a label changes the derived key, so these
// are frozen.
func (p Purpose) KeyLabel() string { return "purpose:" + string(p) }

// DefaultTTL returns the default lifetime for the purpose class.
func (p Purpose) DefaultTTL() time.Duration {
	switch p {
	case PurposeRefresh:
		return DefaultRefreshTokenTTL
	case PurposeEmailVerification:
		return DefaultEmailVerificationTTL
	case PurposePasswordReset:
		return DefaultPasswordResetTTL
	default:
		return DefaultAccessTokenTTL
	}
}

// Audience identifies which client surface a token was minted for.
type Audience string

const (
	AudienceWeb    Audience = "web"
	AudienceMobile Audience = "mobile"
	AudienceAdmin  Audience = "admin"
)

// Valid reports whether a is a known audience.
func (a Audience) Valid() bool {
	switch a {
	case AudienceWeb, AudienceMobile, AudienceAdmin:
		return true
	default:
		return false
	}
}

func (a Audience) String() string { return string(a) }

// Role is the platform's closed role vocabulary. The security core treats it
// as opaque beyond membership checks; authorization meaning belongs upstream.
type Role string

const (
	RoleCustomer   Role = "customer"
	RoleVendor     Role = "vendor"
	RoleModerator  Role = "moderator"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleVendor, RoleModerator, RoleAdmin, RoleSuperAdmin:
		return true
	default:
		return false
	}
}

func (r Role) String() string { return string(r) }
