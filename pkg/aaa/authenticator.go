package aaa

import (
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwt"

	"github.com/openfroyo/fedbroker/pkg/engine"
)

const (
	// claimName carries the user's display name.
	claimName = "name"

	// DefaultTokenTTL is the lifetime of tokens issued without an explicit TTL.
	DefaultTokenTTL = time.Hour
)

// TokenAuthenticator verifies user tokens signed with the federation secret.
// The issuer claim names the member acting as the user's identity provider
// and must be a known member.
type TokenAuthenticator struct {
	secret  []byte
	issuers map[string]struct{}
	skew    time.Duration
}

// NewTokenAuthenticator creates an authenticator accepting tokens issued by
// any of the given members.
func NewTokenAuthenticator(secret []byte, issuers ...string) (*TokenAuthenticator, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("token secret is required")
	}
	a := &TokenAuthenticator{
		secret:  secret,
		issuers: make(map[string]struct{}, len(issuers)),
	}
	for _, iss := range issuers {
		a.issuers[iss] = struct{}{}
	}
	return a, nil
}

// Authenticate verifies the token and returns the user it identifies.
func (a *TokenAuthenticator) Authenticate(token string) (*engine.SystemUser, error) {
	if token == "" {
		return nil, engine.NewUnauthenticatedError("user token is required", nil)
	}

	tok, err := jwt.Parse([]byte(token),
		jwt.WithKey(jwa.HS256(), a.secret),
		jwt.WithValidate(true),
		jwt.WithAcceptableSkew(a.skew),
	)
	if err != nil {
		return nil, engine.NewUnauthenticatedError("invalid user token", err)
	}

	subject, ok := tok.Subject()
	if !ok || subject == "" {
		return nil, engine.NewUnauthenticatedError("token has no subject", nil)
	}
	issuer, ok := tok.Issuer()
	if !ok || issuer == "" {
		return nil, engine.NewUnauthenticatedError("token has no issuer", nil)
	}
	if _, known := a.issuers[issuer]; !known {
		return nil, engine.NewUnauthenticatedError(fmt.Sprintf("unknown identity provider: %s", issuer), nil)
	}

	user := &engine.SystemUser{ID: subject, IdentityProvider: issuer}
	var name string
	if err := tok.Get(claimName, &name); err == nil {
		user.Name = name
	}
	return user, nil
}

// IssueToken signs a token for user with the given secret. The user's
// identity provider becomes the issuer.
func IssueToken(secret []byte, user engine.SystemUser, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", fmt.Errorf("token secret is required")
	}
	if user.ID == "" || user.IdentityProvider == "" {
		return "", fmt.Errorf("user id and identity provider are required")
	}
	if ttl == 0 {
		ttl = DefaultTokenTTL
	}

	now := time.Now()
	b := jwt.NewBuilder().
		Subject(user.ID).
		Issuer(user.IdentityProvider).
		IssuedAt(now).
		Expiration(now.Add(ttl))
	if user.Name != "" {
		b = b.Claim(claimName, user.Name)
	}
	tok, err := b.Build()
	if err != nil {
		return "", fmt.Errorf("failed to build token: %w", err)
	}

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256(), secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return string(signed), nil
}
