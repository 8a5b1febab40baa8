package tokenx_test

import (
	"strings"
	"testing"
	"time"

	"github.com/aussiebroadwan/sessionguard/pkg/cryptox"
	"github.com/aussiebroadwan/sessionguard/pkg/tokenx"
	"github.com/stretchr/testify/require"
)

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time          { return c.t }
func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)}
}

func mustKeyring(t *testing.T) *tokenx.Keyring {
	t.Helper()
	k, err := tokenx.NewKeyring(tokenx.KeyringConfig{Secrets: fullSecretSet()})
	require.NoError(t, err)
	return k
}

func newHMACTestCodec(t *testing.T, alg string, leeway time.Duration, clk *testClock) tokenx.Codec {
	t.Helper()
	codec, err := tokenx.NewCodec(tokenx.Config{
		Algorithm: alg,
		Issuer:    "sessionguard-test",
		Leeway:    leeway,
		Keys:      mustKeyring(t),
		Now:       clk.Now,
	})
	require.NoError(t, err)
	return codec
}

func eddsaTestKeys(t *testing.T) map[tokenx.Purpose][]byte {
	t.Helper()
	out := make(map[tokenx.Purpose][]byte)
	for _, p := range tokenx.Purposes() {
		pemKey, err := cryptox.GenerateEd25519Key()
		require.NoError(t, err)
		out[p] = pemKey
	}
	return out
}

func accessClaims(clk *testClock, ttl time.Duration) tokenx.ClaimSet {
	return tokenx.NewAccessClaims(
		"user-1", tokenx.RoleCustomer, []string{"orders:read", "cart:write"},
		"sess-1", "device-1", "203.0.113.7", "shop-app/2.1",
		tokenx.AudienceWeb, "sessionguard-test", ttl, clk.Now(),
	)
}

func TestRoundTrip(t *testing.T) {
	for _, alg := range []string{tokenx.AlgHS256, tokenx.AlgHS384, tokenx.AlgHS512} {
		t.Run(alg, func(t *testing.T) {
			clk := newTestClock()
			codec := newHMACTestCodec(t, alg, tokenx.DefaultLeeway, clk)

			token, err := codec.Issue(accessClaims(clk, 15*time.Minute))
			require.NoError(t, err)
			require.Equal(t, 3, len(strings.Split(token, ".")), "compact JWT form")

			claims, err := codec.Decode(token, tokenx.Expect{Purpose: tokenx.PurposeAccess})
			require.NoError(t, err)
			require.Equal(t, "user-1", claims.Subject)
			require.Equal(t, tokenx.RoleCustomer, claims.Role)
			require.ElementsMatch(t, []string{"orders:read", "cart:write"}, claims.Permissions)
			require.Equal(t, "sess-1", claims.SID)
			require.Equal(t, tokenx.AudienceWeb, claims.TokenAudience())
		})
	}

	t.Run("EdDSA", func(t *testing.T) {
		clk := newTestClock()
		codec, err := tokenx.NewCodec(tokenx.Config{
			Algorithm:   tokenx.AlgEdDSA,
			Issuer:      "sessionguard-test",
			Leeway:      tokenx.DefaultLeeway,
			SigningKeys: eddsaTestKeys(t),
			Now:         clk.Now,
		})
		require.NoError(t, err)

		token, err := codec.Issue(accessClaims(clk, 15*time.Minute))
		require.NoError(t, err)

		claims, err := codec.Decode(token, tokenx.Expect{Purpose: tokenx.PurposeAccess})
		require.NoError(t, err)
		require.Equal(t, "user-1", claims.Subject)

		// Cross-purpose still refuses, same as the symmetric path.
		_, err = codec.Decode(token, tokenx.Expect{Purpose: tokenx.PurposeRefresh})
		require.ErrorIs(t, err, tokenx.ErrPurposeMismatch)
	})
}

func TestDecode_PurposeIsolation(t *testing.T) {
	clk := newTestClock()
	codec := newHMACTestCodec(t, tokenx.AlgHS256, tokenx.DefaultLeeway, clk)

	refresh, err := codec.Issue(tokenx.NewRefreshClaims(
		"user-1", "sess-1", "device-1", tokenx.AudienceWeb, "sessionguard-test", time.Hour, clk.Now(),
	))
	require.NoError(t, err)

	t.Run("refresh presented as access", func(t *testing.T) {
		_, err := codec.Decode(refresh, tokenx.Expect{Purpose: tokenx.PurposeAccess})
		require.ErrorIs(t, err, tokenx.ErrPurposeMismatch)
	})

	t.Run("access presented as refresh", func(t *testing.T) {
		access, err := codec.Issue(accessClaims(clk, 15*time.Minute))
		require.NoError(t, err)

		_, err = codec.Decode(access, tokenx.Expect{Purpose: tokenx.PurposeRefresh})
		require.ErrorIs(t, err, tokenx.ErrPurposeMismatch)
	})

	t.Run("reset token presented as verification", func(t *testing.T) {
		reset, err := codec.Issue(tokenx.NewActionClaims(
			"user-1", "u1@example.com", tokenx.PurposePasswordReset,
			tokenx.AudienceWeb, "sessionguard-test", time.Hour, clk.Now(),
		))
		require.NoError(t, err)

		_, err = codec.Decode(reset, tokenx.Expect{Purpose: tokenx.PurposeEmailVerification})
		require.ErrorIs(t, err, tokenx.ErrPurposeMismatch)
	})
}

func TestDecode_ExpiryEdges(t *testing.T) {
	t.Run("with 30s leeway", func(t *testing.T) {
		clk := newTestClock()
		codec := newHMACTestCodec(t, tokenx.AlgHS256, 30*time.Second, clk)

		token, err := codec.Issue(accessClaims(clk, time.Minute))
		require.NoError(t, err)

		// One second before expiry: fine.
		clk.Advance(59 * time.Second)
		_, err = codec.Decode(token, tokenx.Expect{Purpose: tokenx.PurposeAccess})
		require.NoError(t, err)

		// One second past expiry but inside leeway: still fine.
		clk.Advance(2 * time.Second)
		_, err = codec.Decode(token, tokenx.Expect{Purpose: tokenx.PurposeAccess})
		require.NoError(t, err)

		// One second inside the far edge of leeway.
		clk.Advance(28 * time.Second)
		_, err = codec.Decode(token, tokenx.Expect{Purpose: tokenx.PurposeAccess})
		require.NoError(t, err)

		// One second beyond leeway: expired, and distinctly so.
		clk.Advance(2 * time.Second)
		_, err = codec.Decode(token, tokenx.Expect{Purpose: tokenx.PurposeAccess})
		require.ErrorIs(t, err, tokenx.ErrExpired)
		require.NotErrorIs(t, err, tokenx.ErrMalformed)
	})

	t.Run("with zero leeway", func(t *testing.T) {
		clk := newTestClock()
		codec := newHMACTestCodec(t, tokenx.AlgHS256, 0, clk)

		token, err := codec.Issue(accessClaims(clk, time.Minute))
		require.NoError(t, err)

		clk.Advance(59 * time.Second)
		_, err = codec.Decode(token, tokenx.Expect{Purpose: tokenx.PurposeAccess})
		require.NoError(t, err)

		clk.Advance(2 * time.Second)
		_, err = codec.Decode(token, tokenx.Expect{Purpose: tokenx.PurposeAccess})
		require.ErrorIs(t, err, tokenx.ErrExpired)
	})

	t.Run("not yet valid beyond leeway", func(t *testing.T) {
		clk := newTestClock()
		codec := newHMACTestCodec(t, tokenx.AlgHS256, 30*time.Second, clk)

		token, err := codec.Issue(accessClaims(clk, time.Minute))
		require.NoError(t, err)

		// Verifier clock two minutes behind the issuer.
		clk.Advance(-2 * time.Minute)
		_, err = codec.Decode(token, tokenx.Expect{Purpose: tokenx.PurposeAccess})
		require.ErrorIs(t, err, tokenx.ErrNotYetValid)
	})
}

func TestDecode_TamperingAndGarbage(t *testing.T) {
	clk := newTestClock()
	codec := newHMACTestCodec(t, tokenx.AlgHS256, tokenx.DefaultLeeway, clk)

	token, err := codec.Issue(accessClaims(clk, 15*time.Minute))
	require.NoError(t, err)

	t.Run("payload swapped", func(t *testing.T) {
		parts := strings.Split(token, ".")
		// {"sub":"hacker"} in base64url
		forged := parts[0] + ".eyJzdWIiOiJoYWNrZXIifQ." + parts[2]

		_, err := codec.Decode(forged, tokenx.Expect{Purpose: tokenx.PurposeAccess})
		require.ErrorIs(t, err, tokenx.ErrMalformed)
	})

	t.Run("signed by someone else", func(t *testing.T) {
		other, err := tokenx.NewCodec(tokenx.Config{
			Issuer: "sessionguard-test",
			Keys: func() *tokenx.Keyring {
				secrets := make(map[tokenx.Purpose]tokenx.Secret)
				for _, p := range tokenx.Purposes() {
					secrets[p] = tokenx.Secret{Current: strongSecret("zz" + string(p[:1]))}
				}
				k, err := tokenx.NewKeyring(tokenx.KeyringConfig{Secrets: secrets})
				require.NoError(t, err)
				return k
			}(),
			Now: clk.Now,
		})
		require.NoError(t, err)

		foreign, err := other.Issue(accessClaims(clk, 15*time.Minute))
		require.NoError(t, err)

		_, err = codec.Decode(foreign, tokenx.Expect{Purpose: tokenx.PurposeAccess})
		require.ErrorIs(t, err, tokenx.ErrMalformed)
	})

	t.Run("garbage input", func(t *testing.T) {
		for _, bad := range []string{"", "abc", "a.b.c", strings.Repeat("x", 600)} {
			_, err := codec.Decode(bad, tokenx.Expect{Purpose: tokenx.PurposeAccess})
			require.ErrorIs(t, err, tokenx.ErrMalformed, "input %q", bad)
		}
	})
}

func TestDecode_IssuerAndAudience(t *testing.T) {
	clk := newTestClock()
	keyring := mustKeyring(t)

	codec, err := tokenx.NewCodec(tokenx.Config{
		Issuer: "sessionguard-test",
		Leeway: tokenx.DefaultLeeway,
		Keys:   keyring,
		Now:    clk.Now,
	})
	require.NoError(t, err)

	token, err := codec.Issue(accessClaims(clk, 15*time.Minute))
	require.NoError(t, err)

	t.Run("audience mismatch", func(t *testing.T) {
		_, err := codec.Decode(token, tokenx.Expect{
			Purpose:   tokenx.PurposeAccess,
			Audiences: []tokenx.Audience{tokenx.AudienceAdmin},
		})
		require.ErrorIs(t, err, tokenx.ErrAudienceMismatch)
	})

	t.Run("audience accepted when expected", func(t *testing.T) {
		_, err := codec.Decode(token, tokenx.Expect{
			Purpose:   tokenx.PurposeAccess,
			Audiences: []tokenx.Audience{tokenx.AudienceAdmin, tokenx.AudienceWeb},
		})
		require.NoError(t, err)
	})

	t.Run("issuer mismatch", func(t *testing.T) {
		// Same keys, different issuer - token verifies but belongs to another
		// deployment.
		stranger, err := tokenx.NewCodec(tokenx.Config{
			Issuer: "other-deployment",
			Leeway: tokenx.DefaultLeeway,
			Keys:   keyring,
			Now:    clk.Now,
		})
		require.NoError(t, err)

		_, err = stranger.Decode(token, tokenx.Expect{Purpose: tokenx.PurposeAccess})
		require.ErrorIs(t, err, tokenx.ErrIssuerMismatch)
	})
}

func TestDecode_RotationGrace(t *testing.T) {
	clk := newTestClock()

	v1secrets := fullSecretSet()
	v1, err := tokenx.NewCodec(tokenx.Config{
		Issuer: "sessionguard-test",
		Keys: func() *tokenx.Keyring {
			k, err := tokenx.NewKeyring(tokenx.KeyringConfig{Version: 1, Secrets: v1secrets})
			require.NoError(t, err)
			return k
		}(),
		Now: clk.Now,
	})
	require.NoError(t, err)

	token, err := v1.Issue(accessClaims(clk, 15*time.Minute))
	require.NoError(t, err)

	t.Run("previous secret verifies within grace", func(t *testing.T) {
		rotated := make(map[tokenx.Purpose]tokenx.Secret)
		for p, sec := range v1secrets {
			rotated[p] = tokenx.Secret{
				Current:  strongSecret("r2" + string(p[:1])),
				Previous: sec.Current,
			}
		}

		v2, err := tokenx.NewCodec(tokenx.Config{
			Issuer: "sessionguard-test",
			Keys: func() *tokenx.Keyring {
				k, err := tokenx.NewKeyring(tokenx.KeyringConfig{Version: 2, Secrets: rotated})
				require.NoError(t, err)
				return k
			}(),
			Now: clk.Now,
		})
		require.NoError(t, err)

		claims, err := v2.Decode(token, tokenx.Expect{Purpose: tokenx.PurposeAccess})
		require.NoError(t, err)
		require.Equal(t, "user-1", claims.Subject)
	})

	t.Run("two versions back is gone", func(t *testing.T) {
		v3, err := tokenx.NewCodec(tokenx.Config{
			Issuer: "sessionguard-test",
			Keys: func() *tokenx.Keyring {
				k, err := tokenx.NewKeyring(tokenx.KeyringConfig{Version: 3, Secrets: fullSecretSet()})
				require.NoError(t, err)
				return k
			}(),
			Now: clk.Now,
		})
		require.NoError(t, err)

		_, err = v3.Decode(token, tokenx.Expect{Purpose: tokenx.PurposeAccess})
		require.ErrorIs(t, err, tokenx.ErrMalformed)
		require.ErrorIs(t, err, tokenx.ErrUnknownKID)
	})
}

func TestPeek(t *testing.T) {
	clk := newTestClock()
	codec := newHMACTestCodec(t, tokenx.AlgHS256, 0, clk)

	token, err := codec.Issue(accessClaims(clk, time.Minute))
	require.NoError(t, err)

	t.Run("reads claims out of an expired token", func(t *testing.T) {
		clk.Advance(2 * time.Hour)

		_, err := codec.Decode(token, tokenx.Expect{Purpose: tokenx.PurposeAccess})
		require.ErrorIs(t, err, tokenx.ErrExpired)

		claims, err := codec.Peek(token)
		require.NoError(t, err)
		require.Equal(t, "sess-1", claims.SID)
		require.Equal(t, "user-1", claims.Subject)
	})

	t.Run("still refuses forged input", func(t *testing.T) {
		parts := strings.Split(token, ".")
		forged := parts[0] + ".eyJzdWIiOiJoYWNrZXIifQ." + parts[2]

		_, err := codec.Peek(forged)
		require.ErrorIs(t, err, tokenx.ErrMalformed)
	})

	t.Run("refuses garbage", func(t *testing.T) {
		_, err := codec.Peek("not-a-token")
		require.ErrorIs(t, err, tokenx.ErrMalformed)
	})
}

func TestIssue_RejectsBadClaims(t *testing.T) {
	clk := newTestClock()
	codec := newHMACTestCodec(t, tokenx.AlgHS256, 0, clk)

	t.Run("missing subject", func(t *testing.T) {
		c := accessClaims(clk, time.Minute)
		c.Subject = ""
		_, err := codec.Issue(c)
		require.Error(t, err)
	})

	t.Run("unknown purpose", func(t *testing.T) {
		c := accessClaims(clk, time.Minute)
		c.Purpose = "session"
		_, err := codec.Issue(c)
		require.Error(t, err)
	})

	t.Run("unknown role", func(t *testing.T) {
		c := accessClaims(clk, time.Minute)
		c.Role = "owner"
		_, err := codec.Issue(c)
		require.Error(t, err)
	})

	t.Run("unknown audience", func(t *testing.T) {
		c := accessClaims(clk, time.Minute)
		c.Audience = []string{"desktop"}
		_, err := codec.Issue(c)
		require.Error(t, err)
	})
}

func TestNewCodec_ConfigErrors(t *testing.T) {
	keyring := mustKeyring(t)

	tests := []struct {
		name string
		cfg  tokenx.Config
	}{
		{"missing issuer", tokenx.Config{Keys: keyring}},
		{"negative leeway", tokenx.Config{Issuer: "x", Leeway: -time.Second, Keys: keyring}},
		{"hmac without keyring", tokenx.Config{Issuer: "x"}},
		{"eddsa without keys", tokenx.Config{Issuer: "x", Algorithm: tokenx.AlgEdDSA}},
		{"unsupported algorithm", tokenx.Config{Issuer: "x", Algorithm: "RS256", Keys: keyring}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tokenx.NewCodec(tt.cfg)
			require.Error(t, err)
		})
	}
}
