package auth

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/noah-isme/backend-fotoko/internal/db"
)

const rolesClaim = "roles"

// Roles a token may carry. Anything else in the claim is dropped on parse so
// a forged or stale role name never reaches RequireAdmin.
const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

var knownRoles = []string{RoleCustomer, RoleAdmin}

// accessTokens signs and verifies the HS256 access tokens handed to shoppers
// and admins. The subject is always the user UUID.
type accessTokens struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	skew     time.Duration
}

func (a accessTokens) sign(userID string, roles []string, now time.Time) (string, time.Time, error) {
	if _, err := db.ParseUUID(userID); err != nil {
		return "", time.Time{}, fmt.Errorf("auth: subject is not a user id: %w", err)
	}
	expiresAt := now.Add(a.ttl)
	tok, err := jwt.NewBuilder().
		Subject(userID).
		Issuer(a.issuer).
		Audience([]string{a.audience}).
		IssuedAt(now).
		NotBefore(now.Add(-a.skew)).
		Expiration(expiresAt).
		Claim(rolesClaim, filterRoles(roles)).
		Build()
	if err != nil {
		return "", time.Time{}, err
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, a.secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return string(signed), expiresAt, nil
}

func (a accessTokens) parse(raw string, now time.Time) (Claims, error) {
	if err := requireHS256(raw); err != nil {
		return Claims{}, err
	}
	opts := []jwt.ParseOption{
		jwt.WithKey(jwa.HS256, a.secret),
		jwt.WithValidate(true),
		jwt.WithClock(jwt.ClockFunc(func() time.Time { return now })),
		jwt.WithIssuer(a.issuer),
		jwt.WithAudience(a.audience),
	}
	if a.skew > 0 {
		opts = append(opts, jwt.WithAcceptableSkew(a.skew))
	}
	tok, err := jwt.ParseString(raw, opts...)
	if err != nil {
		return Claims{}, err
	}
	if _, err := db.ParseUUID(tok.Subject()); err != nil {
		return Claims{}, errors.New("auth: token subject is not a user id")
	}
	return Claims{UserID: tok.Subject(), Roles: rolesFrom(tok)}, nil
}

// requireHS256 rejects tokens signed with anything but HS256, including
// "none" and mixed multi-signature payloads, before the key is tried.
func requireHS256(raw string) error {
	msg, err := jws.ParseString(raw)
	if err != nil {
		return err
	}
	sigs := msg.Signatures()
	if len(sigs) != 1 {
		return fmt.Errorf("auth: expected one signature, got %d", len(sigs))
	}
	headers := sigs[0].ProtectedHeaders()
	if headers == nil {
		return errors.New("auth: token missing protected headers")
	}
	if alg := headers.Algorithm(); alg != jwa.HS256 {
		return fmt.Errorf("auth: unexpected token algorithm %q", alg)
	}
	return nil
}

func rolesFrom(tok jwt.Token) []string {
	raw, ok := tok.Get(rolesClaim)
	if !ok {
		return []string{}
	}
	var roles []string
	switch v := raw.(type) {
	case []string:
		roles = v
	case []any:
		for _, r := range v {
			if s, ok := r.(string); ok {
				roles = append(roles, s)
			}
		}
	}
	return filterRoles(roles)
}

func filterRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		if slices.Contains(knownRoles, r) && !slices.Contains(out, r) {
			out = append(out, r)
		}
	}
	return out
}
