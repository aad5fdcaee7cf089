// pkg/tool/lti/keys.go
package lti

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

/*
Key manager for this application's own RSA signing key.

  - Loads a PEM private key from disk or generates one
  - Signs JWTs (id_tokens, tool messages, client assertions)
  - Publishes the public keys as a JWK set (see jwks.go)

Rotation keeps the previous key in the published set for Overlap so tokens
signed just before a rotation still verify.

    km, err := lti.LoadKeyManager("tool.pem", "", "RS256")
    jwks := &lti.JWKSHandler{Provider: km}
*/

// KeyRecord is a signing key and its lifecycle window.
type KeyRecord struct {
	KID       string
	Alg       string // RS256, RS384 or RS512
	CreatedAt time.Time
	NotAfter  time.Time // zero while current
	Private   *rsa.PrivateKey
}

// KeyManager holds the current signing key plus retired keys still published.
type KeyManager struct {
	// JKU is the public URL of the published JWK set, added to signed headers.
	JKU string
	// Overlap keeps retired keys visible in the JWK set (default 7 days).
	Overlap time.Duration
	// Now overrides the clock (tests).
	Now func() time.Time

	mu      sync.RWMutex
	current *KeyRecord
	retired []KeyRecord
}

var supportedJWTAlgs = []string{"RS256", "RS384", "RS512"}

// NewKeyManager wraps an existing private key. An empty kid is derived from
// the key's JWK thumbprint.
func NewKeyManager(priv *rsa.PrivateKey, kid, alg string) (*KeyManager, error) {
	if priv == nil {
		return nil, errors.New("keys: nil rsa key")
	}
	rec, err := newKeyRecord(priv, kid, alg, time.Now())
	if err != nil {
		return nil, err
	}
	return &KeyManager{current: &rec}, nil
}

// GenerateKeyManager creates a manager with a fresh RSA key (2048 bits when
// bits <= 0).
func GenerateKeyManager(bits int, alg string) (*KeyManager, error) {
	if bits <= 0 {
		bits = 2048
	}
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("rsa generate: %w", err)
	}
	return NewKeyManager(priv, "", alg)
}

// LoadKeyManager reads a PEM encoded PKCS#1 or PKCS#8 RSA private key.
func LoadKeyManager(path, kid, alg string) (*KeyManager, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keys: read %s: %w", path, err)
	}
	priv, err := ParseRSAPrivateKey(b)
	if err != nil {
		return nil, err
	}
	return NewKeyManager(priv, kid, alg)
}

// ParseRSAPrivateKey decodes a PEM encoded RSA private key.
func ParseRSAPrivateKey(b []byte) (*rsa.PrivateKey, error) {
	priv, err := jwt.ParseRSAPrivateKeyFromPEM(b)
	if err != nil {
		return nil, fmt.Errorf("keys: parse private key: %w", err)
	}
	return priv, nil
}

func newKeyRecord(priv *rsa.PrivateKey, kid, alg string, now time.Time) (KeyRecord, error) {
	if alg == "" {
		alg = "RS256"
	}
	if !contains(supportedJWTAlgs, alg) {
		return KeyRecord{}, fmt.Errorf("keys: unsupported alg %q", alg)
	}
	if strings.TrimSpace(kid) == "" {
		var err error
		if kid, err = makeKID(&priv.PublicKey); err != nil {
			return KeyRecord{}, err
		}
	}
	return KeyRecord{KID: kid, Alg: alg, CreatedAt: now, Private: priv}, nil
}

// makeKID derives a key id from the RFC 7638 thumbprint of the public key.
func makeKID(pub *rsa.PublicKey) (string, error) {
	k, err := jwk.FromRaw(pub)
	if err != nil {
		return "", fmt.Errorf("keys: jwk from key: %w", err)
	}
	tp, err := k.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("keys: thumbprint: %w", err)
	}
	return b64url(tp), nil
}

// Current returns the active signing key.
func (km *KeyManager) Current() (KeyRecord, error) {
	if km == nil {
		return KeyRecord{}, ErrNoSigningKey
	}
	km.mu.RLock()
	defer km.mu.RUnlock()
	if km.current == nil {
		return KeyRecord{}, ErrNoSigningKey
	}
	return *km.current, nil
}

// Rotate makes priv the signing key and retires the previous one.
func (km *KeyManager) Rotate(priv *rsa.PrivateKey, kid string) error {
	now := km.now()
	km.mu.Lock()
	defer km.mu.Unlock()
	alg := "RS256"
	if km.current != nil {
		alg = km.current.Alg
	}
	rec, err := newKeyRecord(priv, kid, alg, now)
	if err != nil {
		return err
	}
	if km.current != nil {
		old := *km.current
		old.NotAfter = now
		km.retired = append(km.retired, old)
	}
	km.current = &rec
	return nil
}

// Sign signs claims with the current key using alg (the key's own algorithm
// when empty) and sets the kid and jku headers.
func (km *KeyManager) Sign(claims jwt.MapClaims, alg string) (string, error) {
	rec, err := km.Current()
	if err != nil {
		return "", err
	}
	if alg == "" {
		alg = rec.Alg
	}
	method := jwt.GetSigningMethod(alg)
	if method == nil || !contains(supportedJWTAlgs, alg) {
		return "", fmt.Errorf("sign: unsupported alg %q", alg)
	}
	tok := jwt.NewWithClaims(method, claims)
	tok.Header["kid"] = rec.KID
	if km.JKU != "" {
		tok.Header["jku"] = km.JKU
	}
	return tok.SignedString(rec.Private)
}

// PublicJWKS returns the current key plus retired keys within Overlap.
func (km *KeyManager) PublicJWKS() (jwk.Set, error) {
	set := jwk.NewSet()
	if km == nil {
		return set, nil
	}
	now := km.now()
	km.mu.RLock()
	defer km.mu.RUnlock()

	recs := make([]KeyRecord, 0, len(km.retired)+1)
	if km.current != nil {
		recs = append(recs, *km.current)
	}
	for _, r := range km.retired {
		if now.After(r.NotAfter.Add(km.overlap())) {
			continue
		}
		recs = append(recs, r)
	}
	for _, r := range recs {
		k, err := jwk.FromRaw(&r.Private.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("jwks: %w", err)
		}
		_ = k.Set(jwk.KeyIDKey, r.KID)
		_ = k.Set(jwk.AlgorithmKey, r.Alg)
		_ = k.Set(jwk.KeyUsageKey, "sig")
		if err := set.AddKey(k); err != nil {
			return nil, fmt.Errorf("jwks: %w", err)
		}
	}
	return set, nil
}

// PublicKeyPEM returns the current public key as a PKIX PEM block.
func (km *KeyManager) PublicKeyPEM() (string, error) {
	rec, err := km.Current()
	if err != nil {
		return "", err
	}
	der, err := x509.MarshalPKIXPublicKey(&rec.Private.PublicKey)
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

func (km *KeyManager) now() time.Time {
	if km.Now != nil {
		return km.Now()
	}
	return time.Now().UTC()
}

func (km *KeyManager) overlap() time.Duration {
	if km.Overlap <= 0 {
		return 7 * 24 * time.Hour
	}
	return km.Overlap
}
