// Package auth supplies the session token attached to backend and credential
// calls.
package auth

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dmitrijs2005/fieldsync/internal/common"
)

// TokenSource returns the token for the next outgoing call.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Invalidator drops a cached token so the next Token call fetches a new one.
type Invalidator interface {
	Invalidate()
}

// Refresher obtains a fresh token from wherever the host application keeps it.
type Refresher interface {
	Refresh(ctx context.Context) (string, error)
}

// StaticSource always returns the same token.
type StaticSource string

func (s StaticSource) Token(context.Context) (string, error) {
	if s == "" {
		return "", common.ErrNoSession
	}
	return string(s), nil
}

// FileRefresher reads the token from a file written by the host application.
type FileRefresher struct {
	Path string
}

func (f FileRefresher) Refresh(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	b, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", common.ErrNoSession
		}
		return "", fmt.Errorf("read token file: %w", err)
	}
	tok := strings.TrimSpace(string(b))
	if tok == "" {
		return "", common.ErrNoSession
	}
	return tok, nil
}

// CachingSource caches the refreshed token until shortly before the JWT
// expires. Tokens that are not JWTs or carry no exp are cached until
// Invalidate is called.
type CachingSource struct {
	refresher Refresher
	skew      time.Duration
	now       func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

func NewCachingSource(r Refresher, skew time.Duration) *CachingSource {
	return &CachingSource{refresher: r, skew: skew, now: time.Now}
}

func (c *CachingSource) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && (c.expires.IsZero() || c.now().Before(c.expires.Add(-c.skew))) {
		return c.token, nil
	}

	tok, err := c.refresher.Refresh(ctx)
	if err != nil {
		c.token = ""
		return "", err
	}

	exp, err := expiry(tok)
	if err != nil {
		return "", err
	}
	if !exp.IsZero() && !c.now().Before(exp) {
		c.token = ""
		return "", fmt.Errorf("refreshed token expired at %s: %w", exp.Format(time.RFC3339), common.ErrInvalidToken)
	}

	c.token = tok
	c.expires = exp
	return tok, nil
}

func (c *CachingSource) Invalidate() {
	c.mu.Lock()
	c.token = ""
	c.expires = time.Time{}
	c.mu.Unlock()
}

// expiry returns the exp claim of a JWT. The signature is not verified; the
// backend does that. Opaque tokens yield the zero time.
func expiry(tok string) (time.Time, error) {
	if strings.Count(tok, ".") != 2 {
		return time.Time{}, nil
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		return time.Time{}, fmt.Errorf("parse token: %w", common.ErrInvalidToken)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("token exp claim: %w", common.ErrInvalidToken)
	}
	if exp == nil {
		return time.Time{}, nil
	}
	return exp.Time, nil
}
