package guard

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/sessionguard/pkg/tokenx"
	"github.com/aussiebroadwan/sessionguard/pkg/trust"
)

// Defaults for the knobs Config leaves zero.
const (
	DefaultMaxSessions      = 5
	DefaultRefreshThreshold = 5 * time.Minute
	DefaultStoreTimeout     = 3 * time.Second
)

// Config holds everything the Manager needs. Zero values mean "use the
// default" everywhere a sane default exists.
type Config struct {
	Issuer      string                    // Required: issuer claim stamped into and enforced on every token
	Algorithm   string                    // Optional: signing algorithm (HS256, HS384, HS512, EdDSA) (default: HS256)
	Keys        *tokenx.Keyring           // Required for HMAC algorithms: purpose-keyed signing secrets
	SigningKeys map[tokenx.Purpose][]byte // Required for EdDSA: one PEM Ed25519 private key per purpose
	KeyVersion  int                       // Optional: kid version tag for EdDSA keys (default: 1)
	Audiences   []tokenx.Audience         // Optional: audiences accepted on decode; empty accepts any
	Leeway      time.Duration             // Optional: clock-skew allowance on exp/nbf (default: 30s)

	AccessTTL            time.Duration // Optional: access token lifetime (default: 15m)
	RefreshTTL           time.Duration // Optional: refresh token lifetime (default: 7d)
	EmailVerificationTTL time.Duration // Optional: verification link lifetime (default: 24h)
	PasswordResetTTL     time.Duration // Optional: reset link lifetime (default: 1h)

	MaxSessions      int           // Optional: concurrent session cap per identity, -1 for unlimited (default: 5)
	RefreshThreshold time.Duration // Optional: remaining life below which verdicts hint at rotation (default: 5m)
	StoreTimeout     time.Duration // Optional: per-call session registry deadline (default: 3s)
	Strict           bool          // Optional: fail closed when the registry is unreachable (default: fail open)

	Trust    *trust.Config    // Optional: context scoring configuration (default: trust.DefaultConfig)
	Resolver IdentityResolver // Required for Refresh: source of fresh role and permission data
	Emitter  Emitter          // Optional: security event sink (default: LogEmitter)
	Logger   *slog.Logger     // Optional: fallback logger when the context carries none

	Now func() time.Time // Optional: clock override for tests
}

// ConfigFromEnv builds a Config from SESSIONGUARD_* environment variables.
// The signing keyring is derived from the single SESSIONGUARD_SECRET master
// secret, which must pass the strength policy. TTL variables use the
// ParseTTL grammar; a set but unparseable TTL is a hard error rather than a
// silent fallback.
func ConfigFromEnv() (Config, error) {
	master := os.Getenv("SESSIONGUARD_SECRET")
	if master == "" {
		return Config{}, errors.New("guard: SESSIONGUARD_SECRET is required")
	}

	keys, err := tokenx.NewDerivedKeyring([]byte(master), getEnvIntOrDefault("SESSIONGUARD_MIN_SECRET_BYTES", 0))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Issuer:      getEnvOrDefault("SESSIONGUARD_ISSUER", "sessionguard"),
		Algorithm:   getEnvOrDefault("SESSIONGUARD_ALGORITHM", tokenx.AlgHS256),
		Keys:        keys,
		MaxSessions: getEnvIntOrDefault("SESSIONGUARD_MAX_SESSIONS", DefaultMaxSessions),
		Strict:      getEnvBoolOrDefault("SESSIONGUARD_STRICT", false),
	}

	if cfg.AccessTTL, err = ttlFromEnv("SESSIONGUARD_ACCESS_TTL", tokenx.DefaultAccessTokenTTL); err != nil {
		return Config{}, err
	}
	if cfg.RefreshTTL, err = ttlFromEnv("SESSIONGUARD_REFRESH_TTL", tokenx.DefaultRefreshTokenTTL); err != nil {
		return Config{}, err
	}
	if cfg.EmailVerificationTTL, err = ttlFromEnv("SESSIONGUARD_EMAIL_VERIFICATION_TTL", tokenx.DefaultEmailVerificationTTL); err != nil {
		return Config{}, err
	}
	if cfg.PasswordResetTTL, err = ttlFromEnv("SESSIONGUARD_PASSWORD_RESET_TTL", tokenx.DefaultPasswordResetTTL); err != nil {
		return Config{}, err
	}
	if cfg.RefreshThreshold, err = ttlFromEnv("SESSIONGUARD_REFRESH_THRESHOLD", DefaultRefreshThreshold); err != nil {
		return Config{}, err
	}
	if cfg.StoreTimeout, err = ttlFromEnv("SESSIONGUARD_STORE_TIMEOUT", DefaultStoreTimeout); err != nil {
		return Config{}, err
	}

	// Comma-separated accepted audiences, e.g. "web,mobile". Empty accepts
	// tokens minted for any audience.
	if raw := os.Getenv("SESSIONGUARD_AUDIENCES"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			aud := tokenx.Audience(strings.TrimSpace(part))
			if !aud.Valid() {
				return Config{}, fmt.Errorf("guard: unknown audience %q in SESSIONGUARD_AUDIENCES", aud)
			}
			cfg.Audiences = append(cfg.Audiences, aud)
		}
	}

	return cfg, nil
}

// ParseTTL parses the compact lifetime grammar used in configuration: an
// integer immediately followed by a single unit, one of s, m, h or d.
// "900s", "15m", "12h", "7d". Unlike time.ParseDuration it understands days
// and rejects compound values like "1h30m".
func ParseTTL(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("guard: invalid ttl %q", s)
	}

	var unit time.Duration
	switch s[len(s)-1] {
	case 's':
		unit = time.Second
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	default:
		return 0, fmt.Errorf("guard: invalid ttl %q: unit must be one of s, m, h, d", s)
	}

	digits := s[:len(s)-1]
	for i := range len(digits) {
		if digits[i] < '0' || digits[i] > '9' {
			return 0, fmt.Errorf("guard: invalid ttl %q", s)
		}
	}

	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, fmt.Errorf("guard: invalid ttl %q", s)
	}

	return time.Duration(n) * unit, nil
}

// ttlFromEnv reads a TTL environment variable. Unset falls back to the
// default; set but unparseable is a hard error.
func ttlFromEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}

	d, err := ParseTTL(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}

	return d, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if boolValue, err := strconv.ParseBool(value); err == nil {
		return boolValue
	}

	return defaultValue
}
