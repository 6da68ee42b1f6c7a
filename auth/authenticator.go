// Package auth turns a bearer credential into the calling module's identity.
package auth

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// identityClaims are consulted in order; the first non-blank string wins.
var identityClaims = []string{"azp", "client_id", "clientId", "sub"}

var signingMethods = []string{
	"RS256", "RS384", "RS512",
	"PS256", "PS384", "PS512",
	"ES256", "ES384", "ES512",
}

// Authenticator validates bearer tokens. Without a key source it checks
// structure and expiry only.
type Authenticator struct {
	keys KeySource
	now  func() time.Time
}

type Option func(*Authenticator)

// WithClock overrides the clock used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) {
		if now != nil {
			a.now = now
		}
	}
}

func NewAuthenticator(keys KeySource, opts ...Option) *Authenticator {
	a := &Authenticator{keys: keys, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authenticate returns the client identity carried by credential, which may
// be a raw token or an Authorization header value. Every failure is an *Error.
func (a *Authenticator) Authenticate(ctx context.Context, credential string) (string, error) {
	raw := strings.TrimSpace(credential)
	if len(raw) >= 7 && strings.EqualFold(raw[:7], "bearer ") {
		raw = strings.TrimSpace(raw[7:])
	}
	if raw == "" {
		return "", newError(KindMissingCredential, "missing bearer token", nil)
	}

	claims := jwt.MapClaims{}
	token, _, err := jwt.NewParser().ParseUnverified(raw, claims)
	if err != nil {
		return "", newError(KindMalformedToken, "malformed token", err)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return "", newError(KindMalformedToken, "malformed token", err)
	}
	if exp == nil {
		return "", newError(KindNoExpiration, "token has no expiration", nil)
	}
	if a.now().After(exp.Time) {
		return "", newError(KindExpired, "token expired", nil)
	}

	if a.keys != nil {
		if err := a.verify(ctx, raw, token); err != nil {
			return "", err
		}
	}

	for _, name := range identityClaims {
		if v, ok := claims[name].(string); ok && strings.TrimSpace(v) != "" {
			return v, nil
		}
	}
	return "", newError(KindIdentityMissing, "token carries no client identity", nil)
}

func (a *Authenticator) verify(ctx context.Context, raw string, token *jwt.Token) error {
	keys, err := a.keys.Keys(ctx)
	if err != nil {
		return newError(KindKeySourceUnavailable, "signing keys unavailable", err)
	}

	kid, _ := token.Header["kid"].(string)
	parser := jwt.NewParser(jwt.WithValidMethods(signingMethods), jwt.WithoutClaimsValidation())

	var lastErr error
	for _, key := range keys {
		if kid != "" && key.ID != kid {
			continue
		}
		pub := key.Public
		_, err := parser.Parse(raw, func(*jwt.Token) (any, error) { return pub, nil })
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return newError(KindSignatureInvalid, "invalid token signature", lastErr)
}
