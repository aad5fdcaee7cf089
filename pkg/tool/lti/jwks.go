// pkg/tool/lti/jwks.go
package lti

import (
	"crypto/sha256"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

/*
JWKS endpoint (tool side)

Platforms fetch
  https://<tool>/.well-known/jwks.json
to verify the JWTs this tool signs: deep linking responses, service client
assertions and (when acting as a platform) id_tokens.
*/

// JWKSProvider loads the public key set to publish.
type JWKSProvider interface {
	// PublicJWKS returns only public material.
	PublicJWKS() (jwk.Set, error)
}

// JWKSHandler serves /.well-known/jwks.json.
type JWKSHandler struct {
	Provider JWKSProvider

	// CacheMaxAge for responses (default: 10 minutes).
	CacheMaxAge time.Duration
	// Now overrides the clock (tests).
	Now func() time.Time
}

func (h *JWKSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Provider == nil {
		http.Error(w, "jwks: not configured", http.StatusInternalServerError)
		return
	}
	set, err := h.Provider.PublicJWKS()
	if err != nil {
		http.Error(w, "jwks: "+err.Error(), http.StatusInternalServerError)
		return
	}
	payload, err := json.Marshal(set)
	if err != nil {
		http.Error(w, "jwks: marshal error", http.StatusInternalServerError)
		return
	}

	maxAge := int(h.cacheAge().Seconds())
	etag := computeETag(payload)
	w.Header().Set("Content-Type", "application/jwk-set+json")
	w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(maxAge))
	w.Header().Set("ETag", etag)
	w.Header().Set("Last-Modified", h.now().UTC().Format(http.TimeFormat))

	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (h *JWKSHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *JWKSHandler) cacheAge() time.Duration {
	if h.CacheMaxAge > 0 {
		return h.CacheMaxAge
	}
	return 10 * time.Minute
}

func computeETag(b []byte) string {
	sum := sha256.Sum256(b)
	return `W/"` + b64url(sum[:]) + `"`
}
