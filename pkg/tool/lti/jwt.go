// pkg/tool/lti/jwt.go
package lti

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	jwtSignatureFailed = "JWT signature check failed - perhaps an invalid public key or timestamp"
	jwtNoKey           = "Unable to verify JWT signature as neither a public key nor a JSON Web Key URL is specified"
)

// JwtSigner signs with this application's RSA key (Env.Keys) and verifies
// with the peer's public key, given as PEM or resolved from a JWKS URL.
type JwtSigner struct {
	Issuer        string // our identity as seen by the peer
	Audience      string // the peer
	DeploymentID  string
	TokenAudience string // aud of client assertions
	Algorithm     string
	PeerKeyPEM    string
	PeerJKU       string
	NonceScope    string
	Env           *Env
	// Param names the form field carrying signed messages: "JWT" from a
	// tool, "id_token" from a platform.
	Param string
	// Platform is passed to Env.Tokens for service requests.
	Platform *Platform
}

func (s *JwtSigner) param() string {
	if s.Param != "" {
		return s.Param
	}
	return "JWT"
}

// SignParameters maps params to claims and returns a single form field
// holding the signed JWT. A "nonce" parameter is used as the nonce claim.
func (s *JwtSigner) SignParameters(_ context.Context, endpoint, messageType, version string, params Params) (Params, error) {
	in := params.Clone()
	if messageType != "" {
		in["lti_message_type"] = messageType
	}
	if version != "" {
		in["lti_version"] = version
	}
	claims := jwt.MapClaims(MessageClaims(in))
	if len(claims) <= 2 {
		return nil, protocolError("Insufficient message parameters to sign.")
	}
	now := s.Env.now()
	claims["iss"] = s.Issuer
	claims["aud"] = []string{s.Audience}
	claims["azp"] = s.Audience
	claims[deploymentIDClaim] = s.DeploymentID
	nonce := in.Get("nonce")
	if nonce == "" {
		nonce = randomString(32)
	}
	claims["nonce"] = nonce
	if _, ok := claims[targetLinkURIClaim]; !ok {
		claims[targetLinkURIClaim] = endpoint
	}
	claims["iat"] = now.Unix()
	claims["exp"] = now.Add(s.Env.jwtLife()).Unix()

	tok, err := s.Env.Keys.Sign(claims, s.Algorithm)
	if err != nil {
		return nil, fmt.Errorf("jwt: sign message: %w", err)
	}
	return Params{s.param(): tok}, nil
}

// ClientAssertion returns a signed private_key_jwt assertion for the token
// endpoint.
func (s *JwtSigner) ClientAssertion() (string, error) {
	now := s.Env.now()
	claims := jwt.MapClaims{
		"iss": s.Issuer,
		"sub": s.Issuer,
		"aud": []string{s.TokenAudience},
		"jti": uuid.NewString(),
		"iat": now.Unix(),
		"exp": now.Add(s.Env.jwtLife()).Unix(),
	}
	tok, err := s.Env.Keys.Sign(claims, s.Algorithm)
	if err != nil {
		return "", fmt.Errorf("jwt: sign client assertion: %w", err)
	}
	return tok, nil
}

// SignServiceRequest sets a bearer access token obtained for scopes.
func (s *JwtSigner) SignServiceRequest(ctx context.Context, req *http.Request, _ []byte, scopes ...string) error {
	if s.Env == nil || s.Env.Tokens == nil {
		return fmt.Errorf("jwt: no access token source configured")
	}
	tok, err := s.Env.Tokens.AccessToken(ctx, s.Platform, scopes...)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	return nil
}

// Verify records the nonce claim and then checks signature, iat and exp.
// The caller has already checked the presence of the required claims.
func (s *JwtSigner) Verify(ctx context.Context, msg *Message) error {
	if msg.JWT == nil {
		return protocolError("Message does not contain a valid JWT")
	}
	j := msg.JWT

	store, err := s.Env.nonces()
	if err != nil {
		return wrapError(KindTrust, "Invalid nonce.", err)
	}
	fresh, err := store.Use(ctx, s.NonceScope, j.StringClaim("nonce"), s.Env.nonceTTL())
	if err != nil {
		return wrapError(KindTrust, "Invalid nonce.", err)
	}
	if !fresh {
		return trustError("Invalid nonce.")
	}

	key, err := s.publicKey(ctx, j)
	if err != nil {
		return err
	}
	_, err = jwt.Parse(j.Raw,
		func(*jwt.Token) (any, error) { return key, nil },
		jwt.WithValidMethods(supportedJWTAlgs),
		jwt.WithLeeway(s.Env.leeway()),
		jwt.WithTimeFunc(s.Env.now),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		s.Env.logger().Debug("jwt verification failed")
		return wrapError(KindTrust, jwtSignatureFailed, err)
	}
	return nil
}

// publicKey resolves the peer key: configured PEM, then configured JWKS URL,
// then the token's jku header when Env.AllowJKUHeader is set.
func (s *JwtSigner) publicKey(ctx context.Context, j *UnverifiedJWT) (*rsa.PublicKey, error) {
	kid := j.HeaderString("kid")
	jku := s.PeerJKU
	switch {
	case s.PeerKeyPEM != "":
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(s.PeerKeyPEM))
		if err != nil {
			return nil, wrapError(KindTrust, jwtSignatureFailed, err)
		}
		return key, nil
	case jku != "":
	case s.Env != nil && s.Env.AllowJKUHeader && j.HeaderString("jku") != "":
		jku = j.HeaderString("jku")
	default:
		return nil, trustError(jwtNoKey)
	}
	key, err := s.Env.fetcher().PublicKey(ctx, jku, kid)
	if err != nil {
		return nil, wrapError(KindTrust, jwtSignatureFailed, err)
	}
	return key, nil
}
