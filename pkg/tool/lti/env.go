// pkg/tool/lti/env.go
package lti

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// AccessTokenSource obtains bearer tokens for platform service calls.
type AccessTokenSource interface {
	AccessToken(ctx context.Context, p *Platform, scopes ...string) (string, error)
}

// Env carries the collaborators shared by every request. It is built once
// by the entry point and passed to Tool and the signers.
type Env struct {
	Connector DataConnector
	Nonces    NonceStore
	Keys      *KeyManager // this application's signing key
	Fetcher   KeyFetcher  // remote JWKS
	Tokens    AccessTokenSource
	HTTP      *http.Client
	Logger    *zap.Logger
	Now       func() time.Time

	NonceTTL time.Duration
	JWTLife  time.Duration
	Leeway   time.Duration

	// AllowJKUHeader trusts the jku JWT header when the platform has
	// neither a public key nor a JWKS URL.
	AllowJKUHeader bool
}

func (e *Env) now() time.Time {
	if e != nil && e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Env) logger() *zap.Logger {
	if e != nil && e.Logger != nil {
		return e.Logger
	}
	return zap.NewNop()
}

func (e *Env) client() *http.Client {
	if e != nil && e.HTTP != nil {
		return e.HTTP
	}
	return http.DefaultClient
}

func (e *Env) nonceTTL() time.Duration {
	if e != nil && e.NonceTTL > 0 {
		return e.NonceTTL
	}
	return DefaultNonceTTL
}

func (e *Env) jwtLife() time.Duration {
	if e != nil && e.JWTLife > 0 {
		return e.JWTLife
	}
	return DefaultJWTLife
}

func (e *Env) leeway() time.Duration {
	if e != nil && e.Leeway > 0 {
		return e.Leeway
	}
	return DefaultJWTLeeway
}

func (e *Env) nonces() (NonceStore, error) {
	if e == nil || e.Nonces == nil {
		return nil, ErrNoNonceStore
	}
	return e.Nonces, nil
}

func (e *Env) fetcher() KeyFetcher {
	if e != nil && e.Fetcher != nil {
		return e.Fetcher
	}
	return &JWKSFetcher{Client: e.client()}
}
