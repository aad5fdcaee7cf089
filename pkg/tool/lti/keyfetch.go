// pkg/tool/lti/keyfetch.go
package lti

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"sync"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

// KeyFetcher resolves a platform public key from a JWKS URL.
type KeyFetcher interface {
	PublicKey(ctx context.Context, jku, kid string) (*rsa.PublicKey, error)
}

// JWKSFetcher fetches JWK sets over HTTP. When built with NewJWKSFetcher the
// sets are cached and refreshed in the background; the zero value fetches on
// every call.
type JWKSFetcher struct {
	Client *http.Client

	mu    sync.Mutex
	cache *jwk.Cache
}

// NewJWKSFetcher returns a caching fetcher whose refresh loop stops when ctx
// is done.
func NewJWKSFetcher(ctx context.Context, client *http.Client) *JWKSFetcher {
	return &JWKSFetcher{Client: client, cache: jwk.NewCache(ctx)}
}

func (f *JWKSFetcher) httpClient() *http.Client {
	if f.Client != nil {
		return f.Client
	}
	return http.DefaultClient
}

func (f *JWKSFetcher) set(ctx context.Context, jku string) (jwk.Set, error) {
	if f.cache == nil {
		return jwk.Fetch(ctx, jku, jwk.WithHTTPClient(f.httpClient()))
	}
	f.mu.Lock()
	if !f.cache.IsRegistered(jku) {
		if err := f.cache.Register(jku, jwk.WithHTTPClient(f.httpClient())); err != nil {
			f.mu.Unlock()
			return nil, fmt.Errorf("jwks: register %s: %w", jku, err)
		}
	}
	f.mu.Unlock()
	return f.cache.Get(ctx, jku)
}

// PublicKey returns the RSA key with the given kid. A cached set missing the
// kid is refreshed once, since the platform may have rotated its keys. With an
// empty kid the set must hold exactly one key.
func (f *JWKSFetcher) PublicKey(ctx context.Context, jku, kid string) (*rsa.PublicKey, error) {
	set, err := f.set(ctx, jku)
	if err != nil {
		return nil, fmt.Errorf("jwks: fetch %s: %w", jku, err)
	}
	key, ok := lookupKey(set, kid)
	if !ok && f.cache != nil {
		if set, err = f.cache.Refresh(ctx, jku); err == nil {
			key, ok = lookupKey(set, kid)
		}
	}
	if !ok {
		return nil, fmt.Errorf("jwks: no key %q at %s", kid, jku)
	}
	var raw any
	if err := key.Raw(&raw); err != nil {
		return nil, fmt.Errorf("jwks: key %q: %w", kid, err)
	}
	pub, ok := raw.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("jwks: key %q is not an RSA public key", kid)
	}
	return pub, nil
}

func lookupKey(set jwk.Set, kid string) (jwk.Key, bool) {
	if kid != "" {
		return set.LookupKeyID(kid)
	}
	if set.Len() == 1 {
		return set.Key(0)
	}
	return nil, false
}
