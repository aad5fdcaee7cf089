package lti

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

/* ---------------- In-memory DataConnector ---------------- */

type memConnector struct {
	mu        sync.Mutex
	seq       int64
	platforms map[int64]*Platform
	contexts  map[int64]*Context
	links     map[int64]*ResourceLink
	users     map[int64]*UserResult
	shareKeys map[string]*ShareKey
	tokens    map[int64]*AccessToken
	now       time.Time
}

func newMemConnector() *memConnector {
	return &memConnector{
		platforms: map[int64]*Platform{},
		contexts:  map[int64]*Context{},
		links:     map[int64]*ResourceLink{},
		users:     map[int64]*UserResult{},
		shareKeys: map[string]*ShareKey{},
		tokens:    map[int64]*AccessToken{},
		now:       time.Unix(1700000000, 0),
	}
}

func (m *memConnector) stamp(id *int64, created, updated **time.Time) {
	if *id == 0 {
		m.seq++
		*id = m.seq
	}
	now := m.now
	if *created == nil {
		*created = &now
	}
	*updated = &now
}

func (m *memConnector) LoadPlatform(_ context.Context, p *Platform) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.platforms {
		match := false
		switch {
		case p.RecordID != 0:
			match = s.RecordID == p.RecordID
		case p.Key != "":
			match = s.Key == p.Key
		default:
			match = s.PlatformID == p.PlatformID && s.ClientID == p.ClientID && s.DeploymentID == p.DeploymentID
		}
		if match {
			c := *s
			c.Settings = s.Settings.Clone()
			*p = c
			return nil
		}
	}
	return ErrNotFound
}

func (m *memConnector) SavePlatform(_ context.Context, p *Platform) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stamp(&p.RecordID, &p.Created, &p.Updated)
	c := *p
	c.Settings = p.Settings.Clone()
	m.platforms[p.RecordID] = &c
	return nil
}

func (m *memConnector) DeletePlatform(_ context.Context, p *Platform) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.platforms, p.RecordID)
	return nil
}

func (m *memConnector) ListPlatforms(context.Context) ([]*Platform, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Platform
	for _, p := range m.platforms {
		c := *p
		out = append(out, &c)
	}
	return out, nil
}

func (m *memConnector) LoadContext(_ context.Context, c *Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.contexts {
		if (c.RecordID != 0 && s.RecordID == c.RecordID) ||
			(c.RecordID == 0 && s.PlatformID == c.PlatformID && s.LTIContextID == c.LTIContextID) {
			cp := *s
			cp.Settings = s.Settings.Clone()
			*c = cp
			return nil
		}
	}
	return ErrNotFound
}

func (m *memConnector) SaveContext(_ context.Context, c *Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stamp(&c.RecordID, &c.Created, &c.Updated)
	cp := *c
	cp.Settings = c.Settings.Clone()
	m.contexts[c.RecordID] = &cp
	return nil
}

func (m *memConnector) DeleteContext(_ context.Context, c *Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.contexts, c.RecordID)
	return nil
}

func (m *memConnector) LoadResourceLink(_ context.Context, r *ResourceLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.links {
		match := false
		switch {
		case r.RecordID != 0:
			match = s.RecordID == r.RecordID
		case r.ContextID != 0:
			match = s.ContextID == r.ContextID && s.LTIResourceLinkID == r.LTIResourceLinkID
		default:
			match = s.PlatformID == r.PlatformID && s.LTIResourceLinkID == r.LTIResourceLinkID
		}
		if match {
			cp := *s
			cp.Settings = s.Settings.Clone()
			*r = cp
			return nil
		}
	}
	return ErrNotFound
}

func (m *memConnector) SaveResourceLink(_ context.Context, r *ResourceLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stamp(&r.RecordID, &r.Created, &r.Updated)
	cp := *r
	cp.Settings = r.Settings.Clone()
	m.links[r.RecordID] = &cp
	return nil
}

func (m *memConnector) DeleteResourceLink(_ context.Context, r *ResourceLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.links, r.RecordID)
	return nil
}

func (m *memConnector) LoadUserResult(_ context.Context, u *UserResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.users {
		if (u.RecordID != 0 && s.RecordID == u.RecordID) ||
			(u.RecordID == 0 && s.ResourceLinkID == u.ResourceLinkID && s.LTIUserID == u.LTIUserID) {
			*u = *s
			return nil
		}
	}
	return ErrNotFound
}

func (m *memConnector) SaveUserResult(_ context.Context, u *UserResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stamp(&u.RecordID, &u.Created, &u.Updated)
	cp := *u
	m.users[u.RecordID] = &cp
	return nil
}

func (m *memConnector) DeleteUserResult(_ context.Context, u *UserResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, u.RecordID)
	return nil
}

func (m *memConnector) ListUserResults(_ context.Context, rlID int64) ([]*UserResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*UserResult
	for _, u := range m.users {
		if u.ResourceLinkID == rlID {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memConnector) LoadShareKey(_ context.Context, k *ShareKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shareKeys[k.ID]
	if !ok {
		return ErrNotFound
	}
	*k = *s
	return nil
}

func (m *memConnector) SaveShareKey(_ context.Context, k *ShareKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *k
	m.shareKeys[k.ID] = &cp
	return nil
}

func (m *memConnector) DeleteShareKey(_ context.Context, k *ShareKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.shareKeys, k.ID)
	return nil
}

func (m *memConnector) LoadAccessToken(_ context.Context, t *AccessToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.tokens[t.PlatformID]
	if !ok {
		return ErrNotFound
	}
	*t = *s
	return nil
}

func (m *memConnector) SaveAccessToken(_ context.Context, t *AccessToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.tokens[t.PlatformID] = &cp
	return nil
}

/* ---------------- Helpers ---------------- */

var testNow = time.Unix(1700000000, 0)

func newTestEnv(t *testing.T, dc DataConnector) *Env {
	t.Helper()
	store := NewInMemoryNonceStore(0)
	store.Now = func() time.Time { return testNow }
	return &Env{
		Connector: dc,
		Nonces:    store,
		Logger:    zaptest.NewLogger(t),
		Now:       func() time.Time { return testNow },
	}
}

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	k, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return k
}

func testKeyManager(t *testing.T) *KeyManager {
	t.Helper()
	km, err := NewKeyManager(testKey(t), "test-kid", "RS256")
	require.NoError(t, err)
	return km
}

// postForm builds an inbound form POST to target.
func postForm(target string, params Params) *http.Request {
	r, _ := http.NewRequest(http.MethodPost, target, strings.NewReader(params.Values().Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	u, _ := url.Parse(target)
	r.Host = u.Host
	return r
}

func seedOAuth1Platform(t *testing.T, dc *memConnector, key, secret string) *Platform {
	t.Helper()
	p := NewPlatform()
	p.Key, p.Secret, p.Name, p.Enabled = key, secret, "Test platform", true
	require.NoError(t, dc.SavePlatform(context.Background(), p))
	return p
}
