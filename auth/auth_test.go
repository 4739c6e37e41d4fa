package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInspectClaims(t *testing.T) {
	var exp = time.Unix(1700000000, 0)
	var token = signed(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
			Subject:   "db-org",
		},
		Access: "ro",
	})

	for _, raw := range []string{token, "Bearer " + token, " " + token + "\n"} {
		var claims, err = Inspect(raw)
		require.NoError(t, err)
		assert.Equal(t, "db-org", claims.Subject)
		assert.True(t, claims.ReadOnly())
		assert.True(t, claims.Expired(exp))
		assert.True(t, claims.Expired(exp.Add(time.Second)))
		assert.False(t, claims.Expired(exp.Add(-time.Second)))
	}
}

func TestTokensWithoutExpiryDontExpire(t *testing.T) {
	var claims, err = Inspect(signed(t, Claims{}))
	require.NoError(t, err)
	assert.False(t, claims.ReadOnly())
	assert.False(t, claims.Expired(time.Now().Add(100*365*24*time.Hour)))
}

func TestInspectMalformed(t *testing.T) {
	for _, raw := range []string{"", "opaque-token", "a.b.c"} {
		var _, err = Inspect(raw)
		assert.Error(t, err, raw)
	}
}

func TestCheckTokenToleratesAnything(t *testing.T) {
	defer func(fn func() time.Time) { timeNow = fn }(timeNow)
	timeNow = func() time.Time { return time.Unix(1700000001, 0) }

	CheckToken("", nil)
	CheckToken("opaque-token", nil)
	CheckToken(signed(t, Claims{RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Unix(1700000000, 0)),
	}}), nil)
}

func signed(t *testing.T, claims Claims) string {
	var token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	return token
}
