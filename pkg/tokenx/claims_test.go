package tokenx_test

import (
	"testing"
	"time"

	"github.com/aussiebroadwan/sessionguard/pkg/tokenx"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestValidateIssuer(t *testing.T) {
	c := &tokenx.ClaimSet{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer: "sessionguard",
		},
	}

	t.Run("matching issuer", func(t *testing.T) {
		require.NoError(t, c.ValidateIssuer("sessionguard"))
	})

	t.Run("empty expected issuer", func(t *testing.T) {
		require.NoError(t, c.ValidateIssuer(""))
	})

	t.Run("mismatched issuer", func(t *testing.T) {
		err := c.ValidateIssuer("someone-else")
		require.ErrorIs(t, err, tokenx.ErrIssuerMismatch)
	})
}

func TestValidateAudience(t *testing.T) {
	c := &tokenx.ClaimSet{
		RegisteredClaims: jwt.RegisteredClaims{
			Audience: []string{"web"},
		},
	}

	t.Run("contains match", func(t *testing.T) {
		require.NoError(t, c.ValidateAudience([]tokenx.Audience{tokenx.AudienceWeb}))
	})

	t.Run("one of several expected", func(t *testing.T) {
		require.NoError(t, c.ValidateAudience([]tokenx.Audience{tokenx.AudienceMobile, tokenx.AudienceWeb}))
	})

	t.Run("no match", func(t *testing.T) {
		err := c.ValidateAudience([]tokenx.Audience{tokenx.AudienceAdmin})
		require.ErrorIs(t, err, tokenx.ErrAudienceMismatch)
	})

	t.Run("empty expected list", func(t *testing.T) {
		require.NoError(t, c.ValidateAudience(nil))
	})
}

func TestValidatePurpose(t *testing.T) {
	c := &tokenx.ClaimSet{Purpose: tokenx.PurposeRefresh}

	require.NoError(t, c.ValidatePurpose(tokenx.PurposeRefresh))
	require.ErrorIs(t, c.ValidatePurpose(tokenx.PurposeAccess), tokenx.ErrPurposeMismatch)
}

func TestNewAccessClaims(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)

	c := tokenx.NewAccessClaims(
		"user-1", tokenx.RoleCustomer, []string{"orders:read"},
		"sess-1", "device-1", "203.0.113.7", "shop-app/2.1",
		tokenx.AudienceMobile, "sessionguard", 15*time.Minute, now,
	)

	require.Equal(t, "user-1", c.Subject)
	require.Equal(t, tokenx.PurposeAccess, c.Purpose)
	require.Equal(t, "sess-1", c.SID)
	require.Equal(t, tokenx.RoleCustomer, c.Role)
	require.Equal(t, []string{"orders:read"}, c.Permissions)
	require.Equal(t, tokenx.AudienceMobile, c.TokenAudience())
	require.Equal(t, now, c.IssuedAt.Time)
	require.Equal(t, now.Add(15*time.Minute), c.ExpiresAt.Time)
	require.NotEmpty(t, c.ID, "jti must always be set")
}

func TestNewRefreshClaimsAreMinimal(t *testing.T) {
	now := time.Now().UTC()

	c := tokenx.NewRefreshClaims("user-1", "sess-1", "device-1", tokenx.AudienceWeb, "sessionguard", time.Hour, now)

	require.Equal(t, "user-1", c.Subject)
	require.Equal(t, "sess-1", c.SID)
	require.Equal(t, "device-1", c.DeviceID)
	require.Equal(t, tokenx.PurposeRefresh, c.Purpose)

	// Nothing beyond identity/session/device may ride on a refresh token.
	require.Empty(t, c.Role)
	require.Empty(t, c.Permissions)
	require.Empty(t, c.IP)
	require.Empty(t, c.UserAgent)
	require.Empty(t, c.Email)
}

func TestRemainingLifeAndAge(t *testing.T) {
	issued := time.Now().UTC().Truncate(time.Second)
	c := tokenx.NewAccessClaims(
		"user-1", tokenx.RoleCustomer, nil,
		"sess-1", "", "", "",
		tokenx.AudienceWeb, "sessionguard", 10*time.Minute, issued,
	)

	at := issued.Add(4 * time.Minute)
	require.Equal(t, 6*time.Minute, c.RemainingLife(at))
	require.Equal(t, 4*time.Minute, c.Age(at))

	t.Run("negative once past expiry", func(t *testing.T) {
		require.Negative(t, c.RemainingLife(issued.Add(11*time.Minute)))
	})

	t.Run("zero without timestamps", func(t *testing.T) {
		empty := &tokenx.ClaimSet{}
		require.Zero(t, empty.RemainingLife(at))
		require.Zero(t, empty.Age(at))
	})
}

func TestNewJTIUniqueness(t *testing.T) {
	seen := make(map[string]bool, 64)
	for range 64 {
		jti := tokenx.NewJTI()
		require.NotEmpty(t, jti)
		require.False(t, seen[jti], "jti collision")
		seen[jti] = true
	}
}
