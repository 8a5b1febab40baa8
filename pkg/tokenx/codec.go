package tokenx

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Supported signing algorithms. Symmetric HMAC variants are the default;
// EdDSA exists for multi-verifier deployments where downstream services hold
// only public keys.
const (
	AlgHS256 = "HS256"
	AlgHS384 = "HS384"
	AlgHS512 = "HS512"
	AlgEdDSA = "EdDSA"
)

// DefaultLeeway absorbs clock skew between the issuer and verifiers.
// Because time sync is never perfect.
const DefaultLeeway = 30 * time.Second

// Codec signs and verifies sessionguard tokens.
type Codec interface {
	// Issue signs a claim set with the secret belonging to its purpose.
	Issue(claims ClaimSet) (string, error)

	// Decode verifies a token in a fixed order - signature, validity window,
	// issuer, audience, purpose - and fails with the first mismatch. The
	// claim set comes back only when every check passed.
	Decode(token string, expect Expect) (*ClaimSet, error)

	// Peek verifies only the signature and returns the claims without
	// checking the validity window or any expectation. Exists for revocation
	// paths that need exp/sid out of tokens which may already be expired.
	// Forged input still fails - unauthenticated claims are never returned.
	Peek(token string) (*ClaimSet, error)
}

// Expect captures what a decode call requires of the token.
type Expect struct {
	// Purpose the token must have been minted for. Required.
	Purpose Purpose

	// Audiences the token must match at least one of. Empty means
	// "don't care".
	Audiences []Audience
}

// Config configures a Codec.
type Config struct {
	// Algorithm selects the signing scheme. Empty means HS256.
	Algorithm string

	// Issuer is stamped into iss at issue time and enforced on decode.
	// Required.
	Issuer string

	// Leeway is the clock-skew allowance applied to exp/nbf. Zero means
	// exactly zero; callers wanting the recommended default pass
	// DefaultLeeway.
	Leeway time.Duration

	// Keys supplies purpose-keyed HMAC secrets. Required for the HS
	// algorithms, ignored for EdDSA.
	Keys *Keyring

	// SigningKeys supplies one PKCS8 PEM Ed25519 private key per purpose.
	// Required for EdDSA, ignored for the HS algorithms.
	SigningKeys map[Purpose][]byte

	// KeyVersion tags EdDSA kids. Defaults to 1. HMAC kids take their
	// version from the Keyring.
	KeyVersion int

	// Now is a test hook. Defaults to time.Now.
	Now func() time.Time
}

// NewCodec builds the codec for the configured algorithm. Configuration
// problems - an unknown algorithm, missing keys, a weak secret upstream -
// fail here, before anything can be signed.
func NewCodec(cfg Config) (Codec, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("tokenx: issuer is required")
	}
	if cfg.Leeway < 0 {
		return nil, fmt.Errorf("tokenx: negative leeway %v", cfg.Leeway)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	switch cfg.Algorithm {
	case "", AlgHS256:
		return newHMACCodec(cfg, jwt.SigningMethodHS256)
	case AlgHS384:
		return newHMACCodec(cfg, jwt.SigningMethodHS384)
	case AlgHS512:
		return newHMACCodec(cfg, jwt.SigningMethodHS512)
	case AlgEdDSA:
		return newEdDSACodec(cfg)
	default:
		return nil, fmt.Errorf("tokenx: unsupported algorithm %q", cfg.Algorithm)
	}
}

// checkIssueClaims is the shared pre-sign sanity pass.
func checkIssueClaims(c ClaimSet) error {
	if !c.Purpose.Valid() {
		return fmt.Errorf("tokenx: cannot issue token with purpose %q", c.Purpose)
	}
	if c.Subject == "" {
		return errors.New("tokenx: cannot issue token without a subject")
	}
	if c.Role != "" && !c.Role.Valid() {
		return fmt.Errorf("tokenx: unknown role %q", c.Role)
	}
	if aud := c.TokenAudience(); aud != "" && !aud.Valid() {
		return fmt.Errorf("tokenx: unknown audience %q", aud)
	}
	return nil
}

// checkDecodedClaims runs the post-signature checks in the contract order:
// issuer, then audience, then purpose. The parser has already handled
// signature and validity window by the time this runs.
func checkDecodedClaims(c *ClaimSet, issuer string, expect Expect) error {
	if err := c.ValidateIssuer(issuer); err != nil {
		return err
	}
	if err := c.ValidateAudience(expect.Audiences); err != nil {
		return err
	}
	if err := c.ValidatePurpose(expect.Purpose); err != nil {
		return err
	}
	return nil
}

// mapParseError folds the jwt library's error tree into our taxonomy.
func mapParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return ErrNotYetValid
	case errors.Is(err, ErrUnknownKID):
		return fmt.Errorf("%w: %w", ErrMalformed, ErrUnknownKID)
	default:
		return ErrMalformed
	}
}
