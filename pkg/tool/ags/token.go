// pkg/tool/ags/token.go
package ags

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/mind-engage/mindengage-lti/pkg/tool/lti"
)

const (
	clientAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"
	defaultTokenLife    = time.Hour
	defaultTokenLeeway  = 30 * time.Second
)

// TokenSource obtains platform access tokens with the client-credentials
// grant, authenticating with a signed JWT client_assertion, and caches them
// per platform through the DataConnector.
type TokenSource struct {
	Env *lti.Env
	// Leeway treats a cached token as expired this long before its expiry.
	Leeway time.Duration

	mu sync.Mutex
}

var _ lti.AccessTokenSource = (*TokenSource)(nil)

func NewTokenSource(env *lti.Env) *TokenSource {
	return &TokenSource{Env: env, Leeway: defaultTokenLeeway}
}

func (s *TokenSource) now() time.Time {
	if s.Env != nil && s.Env.Now != nil {
		return s.Env.Now()
	}
	return time.Now()
}

func (s *TokenSource) logger() *zap.Logger {
	if s.Env != nil && s.Env.Logger != nil {
		return s.Env.Logger
	}
	return zap.NewNop()
}

// AccessToken returns a cached token granting scopes, or requests one for
// the union of the cached and requested scopes.
func (s *TokenSource) AccessToken(ctx context.Context, p *lti.Platform, scopes ...string) (string, error) {
	if p == nil {
		return "", errors.New("ags: no platform")
	}
	if p.AccessTokenURL == "" {
		return "", fmt.Errorf("ags: platform %s has no access token URL", p.ID())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cached := &lti.AccessToken{PlatformID: p.RecordID}
	haveCache := false
	if dc := s.connector(); dc != nil && p.RecordID != 0 {
		err := dc.LoadAccessToken(ctx, cached)
		switch {
		case err == nil:
			haveCache = true
		case !errors.Is(err, lti.ErrNotFound):
			s.logger().Warn("access token cache read failed", zap.String("platform", p.ID()), zap.Error(err))
		}
	}
	if haveCache && cached.Valid(s.now(), s.Leeway) && cached.HasScopes(scopes...) {
		return cached.Token, nil
	}

	want := scopes
	if haveCache && cached.Valid(s.now(), s.Leeway) {
		want = union(cached.Scopes, scopes)
	}
	tok, err := s.fetch(ctx, p, want)
	if err != nil {
		return "", err
	}

	granted := want
	if sc, ok := tok.Extra("scope").(string); ok && sc != "" {
		granted = strings.Fields(sc)
	}
	expires := tok.Expiry
	if expires.IsZero() {
		expires = s.now().Add(defaultTokenLife)
	}
	record := &lti.AccessToken{PlatformID: p.RecordID, Token: tok.AccessToken, Scopes: granted, Expires: expires}
	if dc := s.connector(); dc != nil && p.RecordID != 0 {
		if err := dc.SaveAccessToken(ctx, record); err != nil {
			s.logger().Warn("access token cache write failed", zap.String("platform", p.ID()), zap.Error(err))
		}
	}
	return tok.AccessToken, nil
}

func (s *TokenSource) connector() lti.DataConnector {
	if s.Env == nil {
		return nil
	}
	return s.Env.Connector
}

func (s *TokenSource) fetch(ctx context.Context, p *lti.Platform, scopes []string) (*oauth2.Token, error) {
	signer, ok := p.Signer(s.Env).(*lti.JwtSigner)
	if !ok {
		return nil, fmt.Errorf("ags: platform %s does not use LTI 1.3 keys", p.ID())
	}
	assertion, err := signer.ClientAssertion()
	if err != nil {
		return nil, err
	}
	cc := clientcredentials.Config{
		ClientID:  p.ClientID,
		TokenURL:  p.AccessTokenURL,
		Scopes:    scopes,
		AuthStyle: oauth2.AuthStyleInParams,
		EndpointParams: url.Values{
			"client_assertion_type": {clientAssertionType},
			"client_assertion":      {assertion},
		},
	}
	if s.Env != nil && s.Env.HTTP != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, s.Env.HTTP)
	}
	tok, err := cc.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("ags: access token for %s: %w", p.ID(), err)
	}
	s.logger().Debug("access token issued", zap.String("platform", p.ID()), zap.Strings("scopes", scopes))
	return tok, nil
}

func union(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string{}, a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
