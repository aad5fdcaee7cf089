// pkg/tool/lti/oauth1.go
package lti

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"hash"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

/*
OAuth 1.0a HMAC signing (LTI 1.0 to 2.0)

Messages are form POSTs whose parameters, together with any query string
parameters, make up the signature base string. Service requests carry their
OAuth parameters in the Authorization header plus an oauth_body_hash of the
raw body.
*/

const oauthSignatureFailed = "OAuth signature check failed - perhaps an incorrect secret or timestamp."

type hmacMethod struct {
	name string
	hash func() hash.Hash
}

// oauthMethods are tried in this order when verifying.
var oauthMethods = []hmacMethod{
	{"HMAC-SHA1", sha1.New},
	{"HMAC-SHA224", sha256.New224},
	{"HMAC-SHA256", sha256.New},
	{"HMAC-SHA384", sha512.New384},
	{"HMAC-SHA512", sha512.New},
}

// isOAuthMethod reports whether method names one of the HMAC methods.
func isOAuthMethod(method string) bool {
	for _, m := range oauthMethods {
		if strings.EqualFold(m.name, method) {
			return true
		}
	}
	return false
}

// hashFor returns the hash for an HMAC signature method, SHA-1 when unknown.
func hashFor(method string) func() hash.Hash {
	for _, m := range oauthMethods {
		if strings.EqualFold(m.name, method) {
			return m.hash
		}
	}
	return sha1.New
}

// OAuth1Signer signs and verifies with a shared consumer secret.
type OAuth1Signer struct {
	ConsumerKey string
	Secret      string
	Method      string // HMAC-SHA1 when empty
	NonceScope  string
	Env         *Env
}

func (s *OAuth1Signer) method() string {
	for _, m := range oauthMethods {
		if strings.EqualFold(m.name, s.Method) {
			return m.name
		}
	}
	return "HMAC-SHA1"
}

func (s *OAuth1Signer) oauthParams() Params {
	return Params{
		"oauth_consumer_key":     s.ConsumerKey,
		"oauth_nonce":            randomString(32),
		"oauth_signature_method": s.method(),
		"oauth_timestamp":        strconv.FormatInt(s.Env.now().Unix(), 10),
		"oauth_version":          "1.0",
	}
}

// SignParameters returns params plus the oauth_* fields for a form POST.
// Query parameters of endpoint are signed but not returned.
func (s *OAuth1Signer) SignParameters(_ context.Context, endpoint, messageType, version string, params Params) (Params, error) {
	out := params.Clone()
	if messageType != "" {
		out["lti_message_type"] = messageType
	}
	if version != "" {
		out["lti_version"] = version
	}
	out["oauth_callback"] = "about:blank"
	for k, v := range s.oauthParams() {
		out[k] = v
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("oauth1: endpoint: %w", err)
	}
	base := ParamsFromValues(u.Query())
	base.Merge(out)
	out["oauth_signature"] = oauthSignature(hashFor(s.method()), s.Secret, baseString(http.MethodPost, endpoint, base))
	return out, nil
}

// SignServiceRequest sets an OAuth Authorization header on req, hashing body
// into oauth_body_hash. Scopes are not used.
func (s *OAuth1Signer) SignServiceRequest(_ context.Context, req *http.Request, body []byte, _ ...string) error {
	op := s.oauthParams()
	h := hashFor(s.method())()
	h.Write(body)
	op["oauth_body_hash"] = base64.StdEncoding.EncodeToString(h.Sum(nil))

	base := ParamsFromValues(req.URL.Query())
	base.Merge(op)
	op["oauth_signature"] = oauthSignature(hashFor(s.method()), s.Secret, baseString(req.Method, req.URL.String(), base))
	req.Header.Set("Authorization", oauthHeader(op))
	return nil
}

// Verify checks the timestamp window, records oauth_nonce and accepts the
// signature if any supported HMAC variant reproduces it.
func (s *OAuth1Signer) Verify(ctx context.Context, msg *Message) error {
	req := msg.Request
	params := req.Query.Clone()
	params.Merge(req.Form)
	params.Merge(oauthHeaderParams(req.Header.Get("Authorization")))

	now := s.Env.now()
	if params.Get("oauth_consumer_key") != s.ConsumerKey {
		return s.fail("Invalid consumer key")
	}
	ts, err := strconv.ParseInt(params.Get("oauth_timestamp"), 10, 64)
	if err != nil {
		return s.fail("Missing or invalid timestamp parameter")
	}
	if d := now.Unix() - ts; d > int64(oauthTimestampWindow.Seconds()) || -d > int64(oauthTimestampWindow.Seconds()) {
		return s.fail(fmt.Sprintf("Expired timestamp, yours %d, ours %d", ts, now.Unix()))
	}

	nonce := params.Get("oauth_nonce")
	if nonce == "" {
		return s.fail("Missing nonce parameter")
	}
	store, err := s.Env.nonces()
	if err != nil {
		return wrapError(KindTrust, "Invalid nonce.", err)
	}
	fresh, err := store.Use(ctx, s.NonceScope, nonce, s.Env.nonceTTL())
	if err != nil {
		return wrapError(KindTrust, "Invalid nonce.", err)
	}
	if !fresh {
		return trustError("Invalid nonce.")
	}

	declared := hashFor(params.Get("oauth_signature_method"))
	if bh := params.Get("oauth_body_hash"); bh != "" {
		h := declared()
		h.Write(req.Body)
		if !hmac.Equal([]byte(bh), []byte(base64.StdEncoding.EncodeToString(h.Sum(nil)))) {
			return s.fail("Invalid body hash")
		}
	}

	sig := params.Get("oauth_signature")
	base := baseString(req.Method, req.URL, params)
	for _, m := range oauthMethods {
		if hmac.Equal([]byte(oauthSignature(m.hash, s.Secret, base)), []byte(sig)) {
			return nil
		}
	}

	expected := oauthSignature(declared, s.Secret, base)
	s.Env.logger().Debug("oauth1 signature mismatch",
		zap.Int64("timestamp", now.Unix()),
		zap.String("expected", expected),
		zap.String("base", base),
	)
	return trustError(oauthSignatureFailed,
		"Current timestamp: "+strconv.FormatInt(now.Unix(), 10),
		"Expected signature: "+expected,
		"Base string: "+base,
	)
}

func (s *OAuth1Signer) fail(detail string) error {
	return trustError(oauthSignatureFailed, detail)
}

// ----- Base string -----

// baseString is METHOD&url&params with oauth_signature excluded.
func baseString(method, rawURL string, params Params) string {
	pairs := make([][2]string, 0, len(params))
	for k, v := range params {
		if k == "oauth_signature" {
			continue
		}
		pairs = append(pairs, [2]string{oauthEscape(k), oauthEscape(v)})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i][0] == pairs[j][0] {
			return pairs[i][1] < pairs[j][1]
		}
		return pairs[i][0] < pairs[j][0]
	})
	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = p[0] + "=" + p[1]
	}
	return strings.ToUpper(method) + "&" + oauthEscape(normalizedURL(rawURL)) + "&" + oauthEscape(strings.Join(parts, "&"))
}

func oauthSignature(h func() hash.Hash, secret, base string) string {
	mac := hmac.New(h, []byte(oauthEscape(secret)+"&"))
	mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// oauthEscape percent-encodes everything outside the RFC 3986 unreserved set.
func oauthEscape(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9',
			c == '-', c == '.', c == '_', c == '~':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

func oauthHeader(params Params) string {
	parts := make([]string, 0, len(params))
	for _, k := range params.Keys() {
		parts = append(parts, oauthEscape(k)+`="`+oauthEscape(params[k])+`"`)
	}
	return "OAuth " + strings.Join(parts, ", ")
}

// oauthHeaderParams parses an "OAuth k="v", ..." Authorization header,
// ignoring realm.
func oauthHeaderParams(header string) Params {
	out := Params{}
	if len(header) < 6 || !strings.EqualFold(header[:6], "OAuth ") {
		return out
	}
	for _, part := range strings.Split(header[6:], ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || k == "realm" {
			continue
		}
		v = strings.Trim(v, `"`)
		if dv, err := url.PathUnescape(v); err == nil {
			v = dv
		}
		if kk, err := url.PathUnescape(k); err == nil {
			k = kk
		}
		out[k] = v
	}
	return out
}
