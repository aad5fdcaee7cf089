// pkg/tool/lti/signer.go
package lti

import (
	"context"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
)

// Signer is the security model used with one peer: OAuth1Signer for shared
// secrets, JwtSigner for LTI 1.3 RSA keys. It is chosen once per System.
type Signer interface {
	// SignParameters adds lti_version, lti_message_type and a signature to
	// params for a form POST to endpoint.
	SignParameters(ctx context.Context, endpoint, messageType, version string, params Params) (Params, error)
	// SignServiceRequest authorizes an outbound service request.
	SignServiceRequest(ctx context.Context, req *http.Request, body []byte, scopes ...string) error
	// Verify checks the signature of an inbound message.
	Verify(ctx context.Context, msg *Message) error
}

// System is implemented by Platform and Tool: both carry settings and sign
// or verify the messages exchanged with their peer.
type System interface {
	SystemSettings() Settings
	Signer(env *Env) Signer
}

var (
	_ System = (*Platform)(nil)
	_ System = (*Tool)(nil)
	_ Signer = (*OAuth1Signer)(nil)
	_ Signer = (*JwtSigner)(nil)
)

// Message is an inbound LTI message being verified.
type Message struct {
	Request *Request
	Params  Params
	// JWT is set for id_token and JWT messages.
	JWT *UnverifiedJWT
}

// UnverifiedJWT is a token decoded without checking its signature.
type UnverifiedJWT struct {
	Raw    string
	Header map[string]any
	Claims jwt.MapClaims
}

// IsJWT reports whether the message is JWT signed.
func (m *Message) IsJWT() bool { return m.JWT != nil }

// ParseUnverifiedJWT decodes raw without verifying the signature.
func ParseUnverifiedJWT(raw string) (*UnverifiedJWT, error) {
	claims := jwt.MapClaims{}
	tok, _, err := jwt.NewParser().ParseUnverified(raw, claims)
	if err != nil {
		return nil, err
	}
	return &UnverifiedJWT{Raw: raw, Header: tok.Header, Claims: claims}, nil
}

// Claim returns a claim value, or nil.
func (j *UnverifiedJWT) Claim(name string) any { return j.Claims[name] }

// StringClaim returns a claim when it is a string.
func (j *UnverifiedJWT) StringClaim(name string) string {
	s, _ := j.Claims[name].(string)
	return s
}

// HeaderString returns a header value when it is a string.
func (j *UnverifiedJWT) HeaderString(name string) string {
	s, _ := j.Header[name].(string)
	return s
}
