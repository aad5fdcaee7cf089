// pkg/tool/lti/nonce.go
package lti

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// NonceStore records single-use values per platform scope. The same value
// under two scopes is not a collision.
type NonceStore interface {
	// Use records (scope, value) for ttl and returns true only if the value
	// was not already live. Check and insert must be one atomic step.
	Use(ctx context.Context, scope, value string, ttl time.Duration) (bool, error)
	// Consume deletes a live (scope, value) and returns true only if this
	// call removed it.
	Consume(ctx context.Context, scope, value string) (bool, error)
}

// InMemoryNonceStore is a process-local NonceStore. It is safe for
// concurrent use and purges expired entries every N writes. The zero value
// is ready to use and purges every 1024 writes.
type InMemoryNonceStore struct {
	mu       sync.Mutex
	entries  map[string]time.Time
	useCount uint64
	purgeN   uint64

	Now func() time.Time
}

// NewInMemoryNonceStore creates a store purging every purgeEvery calls to
// Use (default 1024).
func NewInMemoryNonceStore(purgeEvery int) *InMemoryNonceStore {
	if purgeEvery <= 0 {
		purgeEvery = 1024
	}
	return &InMemoryNonceStore{
		entries: make(map[string]time.Time, 1024),
		purgeN:  uint64(purgeEvery),
	}
}

func nonceKey(scope, value string) (string, error) {
	scope = strings.TrimSpace(scope)
	value = strings.TrimSpace(value)
	if scope == "" || value == "" {
		return "", fmt.Errorf("nonce: scope and value are required")
	}
	return scope + "|" + value, nil
}

func (m *InMemoryNonceStore) Use(_ context.Context, scope, value string, ttl time.Duration) (bool, error) {
	k, err := nonceKey(scope, value)
	if err != nil {
		return false, err
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.entries == nil {
		m.entries = make(map[string]time.Time)
	}
	if m.purgeN == 0 {
		m.purgeN = 1024
	}
	m.useCount++
	if m.useCount%m.purgeN == 0 {
		m.purgeLocked(now)
	}
	if until, ok := m.entries[k]; ok && until.After(now) {
		return false, nil
	}
	m.entries[k] = now.Add(ttl)
	return true, nil
}

func (m *InMemoryNonceStore) Consume(_ context.Context, scope, value string) (bool, error) {
	k, err := nonceKey(scope, value)
	if err != nil {
		return false, err
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	until, ok := m.entries[k]
	if !ok {
		return false, nil
	}
	delete(m.entries, k)
	return until.After(now), nil
}

// Len returns the number of stored entries, expired or not.
func (m *InMemoryNonceStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *InMemoryNonceStore) purgeLocked(now time.Time) {
	for k, until := range m.entries {
		if !until.After(now) {
			delete(m.entries, k)
		}
	}
}

func (m *InMemoryNonceStore) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// useFreshNonce stores a newly generated value, retrying on collision.
func useFreshNonce(ctx context.Context, store NonceStore, scope string, ttl time.Duration, gen func() string) (string, error) {
	for i := 0; i < 8; i++ {
		v := gen()
		ok, err := store.Use(ctx, scope, v, ttl)
		if err != nil {
			return "", err
		}
		if ok {
			return v, nil
		}
	}
	return "", fmt.Errorf("nonce: no unique value after retries")
}
