package lti

import (
	"context"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedLTI13Platform(t *testing.T, dc *memConnector) *Platform {
	t.Helper()
	pem, err := testKeyManager(t).PublicKeyPEM()
	require.NoError(t, err)
	p := NewPlatform()
	p.PlatformID, p.ClientID, p.DeploymentID = "https://lms.example.com", "client-1", "dep-1"
	p.RSAKey, p.SignatureMethod, p.Enabled = pem, "RS256", true
	require.NoError(t, dc.SavePlatform(context.Background(), p))
	return p
}

func forgedClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"iss":                                  "https://lms.example.com",
		"aud":                                  "client-1",
		"sub":                                  "intruder",
		"nonce":                                "n-1",
		"iat":                                  testNow.Unix(),
		"exp":                                  testNow.Unix() + 300,
		deploymentIDClaim:                      "dep-1",
		ClaimPrefix + "/claim/message_type":    "LtiResourceLinkRequest",
		ClaimPrefix + "/claim/version":         "1.3.0",
		ClaimPrefix + "/claim/resource_link":   map[string]any{"id": "rl-1"},
		ClaimPrefix + "/claim/roles":           []string{"http://purl.imsglobal.org/vocab/lis/v2/membership#Instructor"},
		ClaimPrefix + "/claim/target_link_uri": "https://tool.example.com/lti",
	}
}

func TestHandle_JWTWithNonRSAlgorithmRejected(t *testing.T) {
	hs256, err := jwt.NewWithClaims(jwt.SigningMethodHS256, forgedClaims()).SignedString([]byte("guessed"))
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, forgedClaims()).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	cases := []struct {
		name, token, alg string
	}{
		{"hs256", hs256, "HS256"},
		{"none", none, "none"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			dc := newMemConnector()
			p := seedLTI13Platform(t, dc)
			env := newTestEnv(t, dc)
			var handled []string
			tool := launchTool(&handled)

			// OAuth fields signed with an empty key and secret ride along.
			form, err := (&OAuth1Signer{Env: env}).SignParameters(ctx, "https://tool.example.com/lti", "", "", Params{"JWT": tc.token})
			require.NoError(t, err)

			l := tool.Handle(ctx, env, postForm("https://tool.example.com/lti", form))
			require.False(t, l.OK())
			assert.Equal(t, "Unsupported JWT signature algorithm: "+tc.alg, l.Reason())
			assert.Equal(t, KindTrust, KindOf(l.Err))
			assert.Empty(t, handled)

			saved, err := PlatformFromRecordID(ctx, dc, p.RecordID)
			require.NoError(t, err)
			assert.Equal(t, "RS256", saved.SignatureMethod)
			assert.Nil(t, saved.LastAccess)
		})
	}
}

func TestHandle_RSATokenWithWrongKeyRejected(t *testing.T) {
	ctx := context.Background()
	dc := newMemConnector()
	seedLTI13Platform(t, dc)
	env := newTestEnv(t, dc)
	var handled []string

	tok, err := jwt.NewWithClaims(jwt.SigningMethodRS256, forgedClaims()).SignedString(testKey(t))
	require.NoError(t, err)

	l := launchTool(&handled).Handle(ctx, env, postForm("https://tool.example.com/lti", Params{"JWT": tok}))
	require.False(t, l.OK())
	assert.Equal(t, KindTrust, KindOf(l.Err))
	assert.Empty(t, handled)
}

func TestHandle_OAuth1FormToLTI13PlatformRejected(t *testing.T) {
	ctx := context.Background()
	dc := newMemConnector()
	seedLTI13Platform(t, dc)
	env := newTestEnv(t, dc)
	var handled []string

	form, err := (&OAuth1Signer{ConsumerKey: "client-1", Env: env}).SignParameters(ctx, "https://tool.example.com/lti", MessageTypeLaunch, Version1, Params{
		"resource_link_id": "rl-1",
		"user_id":          "intruder",
		"roles":            "Instructor",
	})
	require.NoError(t, err)

	l := launchTool(&handled).Handle(ctx, env, postForm("https://tool.example.com/lti", form))
	require.False(t, l.OK())
	assert.Equal(t, "Invalid consumer key: client-1", l.Reason())
	assert.Equal(t, KindTrust, KindOf(l.Err))
	assert.Empty(t, handled)
}

func TestHandle_OAuth1WithRSAMethodRejected(t *testing.T) {
	ctx := context.Background()
	dc := newMemConnector()
	p := seedOAuth1Platform(t, dc, "key", "secret")
	env := newTestEnv(t, dc)
	var handled []string

	form, err := (&OAuth1Signer{ConsumerKey: "key", Secret: "secret", Env: env}).SignParameters(ctx, "https://tool.example.com/launch", MessageTypeLaunch, Version1, Params{
		"resource_link_id": "rl-1",
		"user_id":          "u1",
	})
	require.NoError(t, err)
	form["oauth_signature_method"] = "RS256"

	l := launchTool(&handled).Handle(ctx, env, postForm("https://tool.example.com/launch", form))
	require.False(t, l.OK())
	assert.Equal(t, "Unsupported OAuth signature method: RS256", l.Reason())
	assert.Empty(t, handled)

	saved, err := PlatformFromRecordID(ctx, dc, p.RecordID)
	require.NoError(t, err)
	assert.Equal(t, "HMAC-SHA1", saved.SignatureMethod)
	assert.Nil(t, saved.LastAccess)
}

func TestVerifier_FollowsMessageShape(t *testing.T) {
	p := &Platform{Key: "key", Secret: "secret", SignatureMethod: "RS256"}
	assert.IsType(t, &OAuth1Signer{}, p.verifier(nil, false))

	p = &Platform{PlatformID: "https://lms.example.com", ClientID: "client-1", SignatureMethod: "HMAC-SHA1"}
	assert.IsType(t, &JwtSigner{}, p.verifier(nil, true))
}
