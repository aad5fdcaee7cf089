package lti

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signLaunchJWT(t *testing.T, km *KeyManager, params Params) string {
	t.Helper()
	env := newTestEnv(t, nil)
	env.Keys = km
	s := &JwtSigner{Issuer: "https://lms.example.com", Audience: "client-1", DeploymentID: "dep-1", Algorithm: "RS256", Env: env, Param: "id_token"}
	out, err := s.SignParameters(context.Background(), "https://tool.example.com/launch", MessageTypeLaunch, Version1P3, params)
	require.NoError(t, err)
	require.Contains(t, out, "id_token")
	return out["id_token"]
}

func TestJwtSigner_SignAndVerify(t *testing.T) {
	km := testKeyManager(t)
	pem, err := km.PublicKeyPEM()
	require.NoError(t, err)

	tok := signLaunchJWT(t, km, Params{"resource_link_id": "rl-1", "user_id": "u1"})
	j, err := ParseUnverifiedJWT(tok)
	require.NoError(t, err)
	assert.Equal(t, "https://lms.example.com", j.StringClaim("iss"))
	assert.Equal(t, "u1", j.StringClaim("sub"))
	assert.Equal(t, "LtiResourceLinkRequest", j.Claim(messageTypeClaim))
	assert.Equal(t, "https://tool.example.com/launch", j.Claim(targetLinkURIClaim))
	assert.Equal(t, "test-kid", j.HeaderString("kid"))

	env := newTestEnv(t, nil)
	v := &JwtSigner{PeerKeyPEM: pem, NonceScope: "p1", Env: env}
	require.NoError(t, v.Verify(context.Background(), &Message{JWT: j}))

	err = v.Verify(context.Background(), &Message{JWT: j})
	assert.Equal(t, "Invalid nonce.", ReasonOf(err))
}

func TestJwtSigner_InsufficientParameters(t *testing.T) {
	env := newTestEnv(t, nil)
	env.Keys = testKeyManager(t)
	s := &JwtSigner{Issuer: "i", Audience: "a", Algorithm: "RS256", Env: env}
	_, err := s.SignParameters(context.Background(), "https://tool.example.com", MessageTypeLaunch, Version1P3, Params{})
	assert.Equal(t, "Insufficient message parameters to sign.", ReasonOf(err))
}

func TestJwtSigner_WrongKeyFails(t *testing.T) {
	tok := signLaunchJWT(t, testKeyManager(t), Params{"resource_link_id": "rl-1"})
	other, err := testKeyManager(t).PublicKeyPEM()
	require.NoError(t, err)
	j, err := ParseUnverifiedJWT(tok)
	require.NoError(t, err)

	v := &JwtSigner{PeerKeyPEM: other, NonceScope: "p1", Env: newTestEnv(t, nil)}
	err = v.Verify(context.Background(), &Message{JWT: j})
	assert.Equal(t, KindTrust, KindOf(err))
	assert.Equal(t, jwtSignatureFailed, ReasonOf(err))
}

func TestJwtSigner_NoKeyMaterial(t *testing.T) {
	tok := signLaunchJWT(t, testKeyManager(t), Params{"resource_link_id": "rl-1"})
	j, err := ParseUnverifiedJWT(tok)
	require.NoError(t, err)

	v := &JwtSigner{NonceScope: "p1", Env: newTestEnv(t, nil)}
	err = v.Verify(context.Background(), &Message{JWT: j})
	assert.Equal(t, jwtNoKey, ReasonOf(err))
}

func TestJwtSigner_JKUHeaderOnlyWhenAllowed(t *testing.T) {
	km := testKeyManager(t)
	srv := httptest.NewServer(&JWKSHandler{Provider: km})
	defer srv.Close()
	km.JKU = srv.URL

	tok := signLaunchJWT(t, km, Params{"resource_link_id": "rl-1"})
	j, err := ParseUnverifiedJWT(tok)
	require.NoError(t, err)
	assert.Equal(t, srv.URL, j.HeaderString("jku"))

	env := newTestEnv(t, nil)
	env.Fetcher = &JWKSFetcher{Client: srv.Client()}
	v := &JwtSigner{NonceScope: "p1", Env: env}
	assert.Equal(t, jwtNoKey, ReasonOf(v.Verify(context.Background(), &Message{JWT: j})))

	env.AllowJKUHeader = true
	v.NonceScope = "p2"
	require.NoError(t, v.Verify(context.Background(), &Message{JWT: j}))
}

func TestJwtSigner_ServiceRequestUsesAccessToken(t *testing.T) {
	env := newTestEnv(t, nil)
	env.Tokens = fakeTokens{"tok-123"}
	s := &JwtSigner{Env: env, Platform: NewPlatform()}
	req, err := http.NewRequest(http.MethodPost, "https://lms.example.com/scores", nil)
	require.NoError(t, err)
	require.NoError(t, s.SignServiceRequest(context.Background(), req, nil, "scope-a"))
	assert.Equal(t, "Bearer tok-123", req.Header.Get("Authorization"))
}

type fakeTokens struct{ token string }

func (f fakeTokens) AccessToken(context.Context, *Platform, ...string) (string, error) {
	return f.token, nil
}

func TestCheckMethod_JWTClaims(t *testing.T) {
	km := testKeyManager(t)
	sign := func(claims jwt.MapClaims) *UnverifiedJWT {
		tok, err := km.Sign(claims, "RS256")
		require.NoError(t, err)
		j, err := ParseUnverifiedJWT(tok)
		require.NoError(t, err)
		return j
	}
	now := testNow.Unix()
	cases := []struct {
		name   string
		claims jwt.MapClaims
		want   string
	}{
		{"exp before iat", jwt.MapClaims{"iss": "i", "iat": now, "exp": now - 10, "nonce": "n"}, "iat claim must not have a value greater than exp claim"},
		{"missing iat", jwt.MapClaims{"iss": "i", "exp": now, "nonce": "n"}, "Missing iat claim"},
		{"missing exp", jwt.MapClaims{"iss": "i", "iat": now, "nonce": "n"}, "Missing exp claim"},
		{"missing nonce", jwt.MapClaims{"iss": "i", "iat": now, "exp": now + 60}, "Missing nonce claim"},
		{"ok", jwt.MapClaims{"iss": "i", "iat": now, "exp": now + 60, "nonce": "n"}, ""},
	}
	tool := &Tool{}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := &Launch{Request: &Request{Method: http.MethodPost}, JWT: sign(tc.claims)}
			err := tool.checkMethod(context.Background(), l)
			if tc.want == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tc.want, ReasonOf(err))
		})
	}
}

func TestResolveAudience(t *testing.T) {
	cases := []struct {
		name    string
		claims  map[string]any
		want    string
		wantErr string
	}{
		{"string aud", map[string]any{"aud": "c1"}, "c1", ""},
		{"array aud first", map[string]any{"aud": []any{"c1", "c2"}}, "c1", ""},
		{"azp in aud", map[string]any{"aud": []any{"c1", "c2"}, "azp": "c2"}, "c2", ""},
		{"azp not in aud", map[string]any{"aud": []any{"c1"}, "azp": "c3"}, "", "azp claim value is not included in aud claim"},
		{"empty azp", map[string]any{"aud": []any{"c1"}, "azp": ""}, "", "azp claim is empty"},
		{"string aud azp mismatch", map[string]any{"aud": "c1", "azp": "c2"}, "", "aud claim does not match the azp claim"},
		{"empty first aud", map[string]any{"aud": []any{""}}, "", "First element of aud claim is empty"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := resolveAudience(tc.claims)
			if tc.wantErr != "" {
				assert.Equal(t, tc.wantErr, ReasonOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
