package tokenx

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aussiebroadwan/sessionguard/pkg/cryptox"
)

// Secret length policy (bytes, not characters - multibyte padding doesn't buy
// entropy but we measure what we're given).
const (
	// MinSecretBytes is the floor below which construction refuses to start.
	MinSecretBytes = 32

	// RecommendedSecretBytes is what high-security deployments should use.
	RecommendedSecretBytes = 64
)

// weakFragments are substrings that mark a secret as human-chosen. A secret
// containing any of them fails construction no matter how long it is.
var weakFragments = []string{"secret", "password", "test", "changeme", "default"}

// Secret is the HMAC material for one purpose. Previous is optional and only
// consulted during rotation grace: tokens signed under the prior version keep
// verifying until they expire.
type Secret struct {
	Current  []byte
	Previous []byte
}

// KeyringConfig configures a purpose-keyed secret set.
type KeyringConfig struct {
	// Version tags issued tokens via the kid header ("access.v3"). Bump it
	// when rotating, moving the old secret into Previous. Defaults to 1.
	Version int

	// MinSecretBytes overrides the default length floor. Values above
	// RecommendedSecretBytes are capped there.
	MinSecretBytes int

	// Secrets must carry an entry for every purpose in Purposes().
	Secrets map[Purpose]Secret
}

// Keyring holds one independent signing secret per token purpose plus the
// rotation bookkeeping. Construction is the only place secrets are inspected;
// once a Keyring exists every secret in it has passed the strength policy.
type Keyring struct {
	version  int
	current  map[Purpose][]byte
	previous map[Purpose][]byte
}

// NewKeyring validates and assembles a purpose-keyed secret set. Any weak or
// missing secret fails construction - a misconfigured deployment must never
// reach the point of issuing tokens.
func NewKeyring(cfg KeyringConfig) (*Keyring, error) {
	version := cfg.Version
	if version < 1 {
		version = 1
	}

	minBytes := cfg.MinSecretBytes
	if minBytes <= 0 {
		minBytes = MinSecretBytes
	}
	if minBytes > RecommendedSecretBytes {
		minBytes = RecommendedSecretBytes
	}

	k := &Keyring{
		version:  version,
		current:  make(map[Purpose][]byte, len(Purposes())),
		previous: make(map[Purpose][]byte),
	}

	for _, p := range Purposes() {
		sec, ok := cfg.Secrets[p]
		if !ok || len(sec.Current) == 0 {
			return nil, fmt.Errorf("tokenx: missing signing secret for purpose %q", p)
		}

		if err := ValidateSecretStrength(sec.Current, minBytes); err != nil {
			return nil, fmt.Errorf("purpose %q: %w", p, err)
		}
		k.current[p] = sec.Current

		if len(sec.Previous) > 0 {
			if err := ValidateSecretStrength(sec.Previous, minBytes); err != nil {
				return nil, fmt.Errorf("purpose %q (previous): %w", p, err)
			}
			k.previous[p] = sec.Previous
		}
	}

	return k, nil
}

// NewDerivedKeyring expands a single master secret into four independent
// purpose secrets via HKDF. The master itself must pass the strength policy;
// the derived subkeys are uniform 64-byte values by construction.
func NewDerivedKeyring(master []byte, minBytes int) (*Keyring, error) {
	if minBytes <= 0 {
		minBytes = MinSecretBytes
	}
	if err := ValidateSecretStrength(master, minBytes); err != nil {
		return nil, fmt.Errorf("master secret: %w", err)
	}

	k := &Keyring{
		version:  1,
		current:  make(map[Purpose][]byte, len(Purposes())),
		previous: make(map[Purpose][]byte),
	}

	for _, p := range Purposes() {
		sub, err := cryptox.DeriveKey(master, p.KeyLabel(), RecommendedSecretBytes)
		if err != nil {
			return nil, err
		}
		k.current[p] = sub
	}

	return k, nil
}

// Version returns the rotation version stamped into issued kids.
func (k *Keyring) Version() int { return k.version }

// KID returns the key id header value for tokens of the given purpose.
func (k *Keyring) KID(p Purpose) string {
	return fmt.Sprintf("%s.v%d", p, k.version)
}

// SecretFor returns the current signing secret for a purpose.
func (k *Keyring) SecretFor(p Purpose) ([]byte, error) {
	sec, ok := k.current[p]
	if !ok {
		return nil, fmt.Errorf("tokenx: no secret for purpose %q", p)
	}
	return sec, nil
}

// SecretForKID resolves a kid header back to verification material. Accepts
// the current version and, when a previous secret is configured, exactly one
// version back. Anything else is ErrUnknownKID.
func (k *Keyring) SecretForKID(kid string) ([]byte, error) {
	purpose, version, err := ParseKID(kid)
	if err != nil {
		return nil, err
	}

	switch {
	case version == k.version:
		return k.SecretFor(purpose)
	case version == k.version-1:
		if prev, ok := k.previous[purpose]; ok {
			return prev, nil
		}
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownKID, kid)
}

// ParseKID splits a "purpose.vN" key id into its parts.
func ParseKID(kid string) (Purpose, int, error) {
	name, ver, ok := strings.Cut(kid, ".v")
	if !ok {
		return "", 0, fmt.Errorf("%w: %q", ErrUnknownKID, kid)
	}

	purpose := Purpose(name)
	if !purpose.Valid() {
		return "", 0, fmt.Errorf("%w: %q", ErrUnknownKID, kid)
	}

	version, err := strconv.Atoi(ver)
	if err != nil || version < 1 {
		return "", 0, fmt.Errorf("%w: %q", ErrUnknownKID, kid)
	}

	return purpose, version, nil
}

// ValidateSecretStrength applies the startup strength policy: a length floor
// plus a deny-list of human-chosen fragments and sequential digit runs.
func ValidateSecretStrength(secret []byte, minBytes int) error {
	if minBytes <= 0 {
		minBytes = MinSecretBytes
	}

	if len(secret) < minBytes {
		return fmt.Errorf("%w: %d bytes, need at least %d", ErrWeakSecret, len(secret), minBytes)
	}

	lower := strings.ToLower(string(secret))
	for _, frag := range weakFragments {
		if strings.Contains(lower, frag) {
			return fmt.Errorf("%w: contains %q", ErrWeakSecret, frag)
		}
	}

	if hasSequentialDigits(lower, 6) {
		return fmt.Errorf("%w: contains a sequential digit run", ErrWeakSecret)
	}

	return nil
}

// hasSequentialDigits reports whether s contains a run of n or more digits
// each one greater than the last ("123456" style keyboard filler).
func hasSequentialDigits(s string, n int) bool {
	run := 1
	for i := 1; i < len(s); i++ {
		if s[i] >= '1' && s[i] <= '9' && s[i] == s[i-1]+1 {
			run++
			if run >= n {
				return true
			}
			continue
		}
		run = 1
	}
	return false
}
