package tokenx

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// HMACCodec implements Codec for the symmetric HS256/384/512 family. One
// secret per purpose from the keyring; the kid header records purpose and
// rotation version so verification can pick the right material.
type HMACCodec struct {
	method *jwt.SigningMethodHMAC
	keys   *Keyring
	issuer string
	leeway time.Duration
	now    func() time.Time
}

func newHMACCodec(cfg Config, method *jwt.SigningMethodHMAC) (*HMACCodec, error) {
	if cfg.Keys == nil {
		return nil, errors.New("tokenx: HMAC algorithms require a keyring")
	}

	return &HMACCodec{
		method: method,
		keys:   cfg.Keys,
		issuer: cfg.Issuer,
		leeway: cfg.Leeway,
		now:    cfg.Now,
	}, nil
}

// Issue takes your claims and turns them into a signed compact JWT string.
func (c *HMACCodec) Issue(claims ClaimSet) (string, error) {
	if err := checkIssueClaims(claims); err != nil {
		return "", err
	}

	secret, err := c.keys.SecretFor(claims.Purpose)
	if err != nil {
		return "", err
	}

	t := jwt.NewWithClaims(c.method, claims)
	t.Header["kid"] = c.keys.KID(claims.Purpose)
	return t.SignedString(secret)
}

// Decode verifies the token and returns its parsed claims.
func (c *HMACCodec) Decode(tokenStr string, expect Expect) (*ClaimSet, error) {
	if !expect.Purpose.Valid() {
		return nil, fmt.Errorf("tokenx: decode requires a valid expected purpose, got %q", expect.Purpose)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithLeeway(c.leeway),
		jwt.WithTimeFunc(c.now),
	)

	token, err := parser.ParseWithClaims(tokenStr, &ClaimSet{}, func(t *jwt.Token) (any, error) {
		// kid names which purpose family signed this token. Tokens without a
		// usable kid get checked against the expected purpose's current
		// secret, so foreign material dies on signature like anything else.
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return c.keys.SecretFor(expect.Purpose)
		}
		if _, _, kidErr := ParseKID(kid); kidErr != nil {
			return c.keys.SecretFor(expect.Purpose)
		}
		return c.keys.SecretForKID(kid)
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

// Peek verifies the signature only, skipping the validity window. Missing or
// unknown kid degrades to trying each purpose's current secret in turn.
func (c *HMACCodec) Peek(tokenStr string) (*ClaimSet, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	var candidates [][]byte
	if kid := peekKID(tokenStr, parser); kid != "" {
		if secret, err := c.keys.SecretForKID(kid); err == nil {
			candidates = append(candidates, secret)
		}
	}
	if len(candidates) == 0 {
		for _, p := range Purposes() {
			if secret, err := c.keys.SecretFor(p); err == nil {
				candidates = append(candidates, secret)
			}
		}
	}

	for _, secret := range candidates {
		claims := &ClaimSet{}
		_, err := parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
			return secret, nil
		})
		if err == nil {
			return claims, nil
		}
	}

	return nil, ErrMalformed
}

// peekKID extracts the kid header without verifying anything.
func peekKID(tokenStr string, parser *jwt.Parser) string {
	token, _, err := parser.ParseUnverified(tokenStr, &ClaimSet{})
	if err != nil {
		return ""
	}
	kid, _ := token.Header["kid"].(string)
	return kid
}
