package tokenx

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/sessionguard/pkg/cryptox"
	"github.com/golang-jwt/jwt/v5"
)

// EdDSACodec implements Codec with one Ed25519 keypair per purpose. For
// deployments where issuance and verification are different services:
// verifiers only ever need the public halves.
type EdDSACodec struct {
	issuer  string
	leeway  time.Duration
	now     func() time.Time
	version int
	keys    map[Purpose]ed25519.PrivateKey
	pubs    map[Purpose]ed25519.PublicKey
}

func newEdDSACodec(cfg Config) (*EdDSACodec, error) {
	if len(cfg.SigningKeys) == 0 {
		return nil, errors.New("tokenx: EdDSA requires per-purpose signing keys")
	}

	version := cfg.KeyVersion
	if version < 1 {
		version = 1
	}

	c := &EdDSACodec{
		issuer:  cfg.Issuer,
		leeway:  cfg.Leeway,
		now:     cfg.Now,
		version: version,
		keys:    make(map[Purpose]ed25519.PrivateKey, len(Purposes())),
		pubs:    make(map[Purpose]ed25519.PublicKey, len(Purposes())),
	}

	for _, p := range Purposes() {
		pemKey, ok := cfg.SigningKeys[p]
		if !ok {
			return nil, fmt.Errorf("tokenx: missing Ed25519 key for purpose %q", p)
		}

		priv, err := cryptox.ParseEd25519PrivateKey(pemKey)
		if err != nil {
			return nil, fmt.Errorf("purpose %q: %w", p, err)
		}

		c.keys[p] = priv
		c.pubs[p] = priv.Public().(ed25519.PublicKey)
	}

	return c, nil
}

func (c *EdDSACodec) kid(p Purpose) string {
	return fmt.Sprintf("%s.v%d", p, c.version)
}

// Issue signs the claims with the purpose's private key.
func (c *EdDSACodec) Issue(claims ClaimSet) (string, error) {
	if err := checkIssueClaims(claims); err != nil {
		return "", err
	}

	key, ok := c.keys[claims.Purpose]
	if !ok {
		return "", fmt.Errorf("tokenx: no signing key for purpose %q", claims.Purpose)
	}

	t := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	t.Header["kid"] = c.kid(claims.Purpose)
	return t.SignedString(key)
}

// Decode verifies the token against the purpose keypairs and returns claims.
func (c *EdDSACodec) Decode(tokenStr string, expect Expect) (*ClaimSet, error) {
	if !expect.Purpose.Valid() {
		return nil, fmt.Errorf("tokenx: decode requires a valid expected purpose, got %q", expect.Purpose)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithLeeway(c.leeway),
		jwt.WithTimeFunc(c.now),
	)

	token, err := parser.ParseWithClaims(tokenStr, &ClaimSet{}, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return c.pubs[expect.Purpose], nil
		}

		purpose, version, kidErr := ParseKID(kid)
		if kidErr != nil {
			return c.pubs[expect.Purpose], nil
		}
		// Single keypair per purpose in this mode, so only the current
		// version verifies.
		if version != c.version {
			return nil, fmt.Errorf("%w: %q", ErrUnknownKID, kid)
		}

		pub, ok := c.pubs[purpose]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownKID, kid)
		}
		return pub, nil
	})
	if err != nil {
		return nil, mapParseError(err)
	}

	claims, ok := token.Claims.(*ClaimSet)
	if !ok || !token.Valid {
		return nil, ErrMalformed
	}

	// Now check all the claim requirements
	if err := checkDecodedClaims(claims, c.issuer, expect); err != nil {
		return nil, err
	}

	return claims, nil
}

// Peek verifies the signature only, skipping the validity window.
func (c *EdDSACodec) Peek(tokenStr string) (*ClaimSet, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	var candidates []ed25519.PublicKey
	if kid := peekKID(tokenStr, parser); kid != "" {
		if purpose, version, err := ParseKID(kid); err == nil && version == c.version {
			if pub, ok := c.pubs[purpose]; ok {
				candidates = append(candidates, pub)
			}
		}
	}
	if len(candidates) == 0 {
		for _, p := range Purposes() {
			candidates = append(candidates, c.pubs[p])
		}
	}

	for _, pub := range candidates {
		claims := &ClaimSet{}
		_, err := parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
			return pub, nil
		})
		if err == nil {
			return claims, nil
		}
	}

	return nil, ErrMalformed
}
