package auth

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrNoUsableKeys is returned when a key set document holds no supported signing key.
var ErrNoUsableKeys = errors.New("auth: key set has no usable keys")

// Key is one public verification key from a key set.
type Key struct {
	ID     string
	Public crypto.PublicKey
}

// KeySource supplies the current verification keys.
type KeySource interface {
	Keys(ctx context.Context) ([]Key, error)
}

// JWKSCache fetches a JSON Web Key Set over HTTP and serves it from memory
// until the TTL elapses. Concurrent misses share a single fetch.
type JWKSCache struct {
	uri    string
	client *http.Client
	ttl    time.Duration
	now    func() time.Time

	mu        sync.RWMutex
	keys      []Key
	fetchedAt time.Time

	group singleflight.Group
}

func NewJWKSCache(uri string, ttl, timeout time.Duration) *JWKSCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &JWKSCache{
		uri:    uri,
		client: &http.Client{Timeout: timeout},
		ttl:    ttl,
		now:    time.Now,
	}
}

func (c *JWKSCache) Keys(ctx context.Context) ([]Key, error) {
	if keys, ok := c.cached(); ok {
		return keys, nil
	}

	v, err, _ := c.group.Do("jwks", func() (any, error) {
		if keys, ok := c.cached(); ok {
			return keys, nil
		}
		// The fetch is shared, so one caller's cancellation must not fail the others.
		keys, err := c.fetch(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.keys = keys
		c.fetchedAt = c.now()
		c.mu.Unlock()
		return keys, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Key), nil
}

func (c *JWKSCache) cached() ([]Key, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.keys == nil || c.now().Sub(c.fetchedAt) >= c.ttl {
		return nil, false
	}
	return c.keys, true
}

func (c *JWKSCache) fetch(ctx context.Context) ([]Key, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.uri, nil)
	if err != nil {
		return nil, fmt.Errorf("auth: build jwks request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: fetch jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("auth: fetch jwks: status %d", resp.StatusCode)
	}

	var doc jwkSet
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("auth: decode jwks: %w", err)
	}
	return doc.publicKeys()
}

type jwkSet struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

// publicKeys converts the document, skipping encryption keys and key types
// that cannot verify token signatures.
func (s jwkSet) publicKeys() ([]Key, error) {
	out := make([]Key, 0, len(s.Keys))
	for _, k := range s.Keys {
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		var (
			pub crypto.PublicKey
			err error
		)
		switch k.Kty {
		case "RSA":
			pub, err = k.rsaKey()
		case "EC":
			pub, err = k.ecKey()
		default:
			continue
		}
		if err != nil {
			continue
		}
		out = append(out, Key{ID: k.Kid, Public: pub})
	}
	if len(out) == 0 {
		return nil, ErrNoUsableKeys
	}
	return out, nil
}

func (k jwk) rsaKey() (*rsa.PublicKey, error) {
	n, err := decodeInt(k.N)
	if err != nil {
		return nil, err
	}
	e, err := decodeInt(k.E)
	if err != nil {
		return nil, err
	}
	if !e.IsInt64() || e.Int64() > 1<<31-1 {
		return nil, fmt.Errorf("auth: rsa exponent out of range")
	}
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

func (k jwk) ecKey() (*ecdsa.PublicKey, error) {
	var curve elliptic.Curve
	switch k.Crv {
	case "P-256":
		curve = elliptic.P256()
	case "P-384":
		curve = elliptic.P384()
	case "P-521":
		curve = elliptic.P521()
	default:
		return nil, fmt.Errorf("auth: unsupported curve %q", k.Crv)
	}
	x, err := decodeInt(k.X)
	if err != nil {
		return nil, err
	}
	y, err := decodeInt(k.Y)
	if err != nil {
		return nil, err
	}
	if !curve.IsOnCurve(x, y) {
		return nil, fmt.Errorf("auth: ec point not on curve")
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}

func decodeInt(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("auth: empty key component")
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("auth: decode key component: %w", err)
	}
	return new(big.Int).SetBytes(raw), nil
}
