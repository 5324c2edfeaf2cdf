package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"
)

func testTokens() accessTokens {
	return accessTokens{
		secret:   []byte("super-secret-key"),
		issuer:   "fotoko-api",
		audience: "fotoko-web",
		ttl:      time.Hour,
		skew:     time.Second,
	}
}

func TestAccessTokenRoundTripFiltersRoles(t *testing.T) {
	tokens := testTokens()
	now := time.Now()
	userID := uuid.NewString()

	raw, exp, err := tokens.sign(userID, []string{RoleAdmin, "superuser", RoleAdmin, RoleCustomer}, now)
	require.NoError(t, err)
	require.WithinDuration(t, now.Add(time.Hour), exp, time.Second)

	claims, err := tokens.parse(raw, now)
	require.NoError(t, err)
	require.Equal(t, userID, claims.UserID)
	require.Equal(t, []string{RoleAdmin, RoleCustomer}, claims.Roles)
}

func TestAccessTokenSignRequiresUserID(t *testing.T) {
	_, _, err := testTokens().sign("user-id", nil, time.Now())
	require.Error(t, err)
}

func TestAccessTokenParseRejects(t *testing.T) {
	tokens := testTokens()
	now := time.Now()
	userID := uuid.NewString()

	build := func(subject, issuer string, nbf, exp time.Time, roles any) jwt.Token {
		tok, err := jwt.NewBuilder().
			Subject(subject).
			Issuer(issuer).
			Audience([]string{"fotoko-web"}).
			IssuedAt(now).
			NotBefore(nbf).
			Expiration(exp).
			Claim(rolesClaim, roles).
			Build()
		require.NoError(t, err)
		return tok
	}
	sign := func(tok jwt.Token, alg jwa.SignatureAlgorithm, key []byte) string {
		signed, err := jwt.Sign(tok, jwt.WithKey(alg, key))
		require.NoError(t, err)
		return string(signed)
	}
	valid := build(userID, "fotoko-api", now, now.Add(time.Minute), []string{RoleAdmin})

	cases := []struct {
		name string
		raw  string
	}{
		{"hs384", sign(valid, jwa.HS384, tokens.secret)},
		{"other key", sign(valid, jwa.HS256, []byte("another-secret"))},
		{"issuer mismatch", sign(build(userID, "other", now, now.Add(time.Minute), nil), jwa.HS256, tokens.secret)},
		{"expired", sign(build(userID, "fotoko-api", now.Add(-2*time.Hour), now.Add(-time.Minute), nil), jwa.HS256, tokens.secret)},
		{"not yet valid", sign(build(userID, "fotoko-api", now.Add(5*time.Minute), now.Add(10*time.Minute), nil), jwa.HS256, tokens.secret)},
		{"subject not a user id", sign(build("user-id", "fotoko-api", now, now.Add(time.Minute), nil), jwa.HS256, tokens.secret)},
		{"garbage", "not.a.token"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tokens.parse(tc.raw, now)
			require.Error(t, err)
		})
	}

	claims, err := tokens.parse(sign(valid, jwa.HS256, tokens.secret), now)
	require.NoError(t, err)
	require.Equal(t, []string{RoleAdmin}, claims.Roles)

	noRoles, err := tokens.parse(sign(build(userID, "fotoko-api", now, now.Add(time.Minute), "admin"), jwa.HS256, tokens.secret), now)
	require.NoError(t, err)
	require.Empty(t, noRoles.Roles)
}

func TestParseAccessTokenExpiresWithServiceClock(t *testing.T) {
	svc := newTestService(t, newMemUsers())
	fixed := time.Now()
	svc.WithNow(func() time.Time { return fixed })

	raw, _, err := svc.tokens.sign(uuid.NewString(), []string{RoleCustomer}, fixed)
	require.NoError(t, err)
	_, err = svc.ParseAccessToken(raw)
	require.NoError(t, err)

	svc.WithNow(func() time.Time { return fixed.Add(2 * time.Hour) })
	_, err = svc.ParseAccessToken(raw)
	require.Error(t, err)
}
