package lti

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedRequest(t *testing.T, s *OAuth1Signer, endpoint string, params Params) *Request {
	t.Helper()
	signed, err := s.SignParameters(context.Background(), endpoint, MessageTypeLaunch, Version1, params)
	require.NoError(t, err)
	return &Request{Method: http.MethodPost, URL: endpoint, Query: Params{}, Form: signed, Header: http.Header{}}
}

func TestOAuth1_AllHMACVariantsVerify(t *testing.T) {
	for _, method := range []string{"HMAC-SHA1", "HMAC-SHA224", "HMAC-SHA256", "HMAC-SHA384", "HMAC-SHA512"} {
		t.Run(method, func(t *testing.T) {
			env := newTestEnv(t, newMemConnector())
			s := &OAuth1Signer{ConsumerKey: "key", Secret: "secret", Method: method, NonceScope: "p1", Env: env}
			req := signedRequest(t, s, "https://tool.example.com/launch?x=1", Params{"resource_link_id": "rl-1"})

			assert.Equal(t, method, req.Form.Get("oauth_signature_method"))
			assert.Equal(t, "about:blank", req.Form.Get("oauth_callback"))
			assert.NotContains(t, req.Form, "x", "endpoint query is signed, not returned")

			req.Query = Params{"x": "1"}
			require.NoError(t, s.Verify(context.Background(), &Message{Request: req, Params: req.Form}))
		})
	}
}

func TestOAuth1_TamperedParameterFails(t *testing.T) {
	env := newTestEnv(t, newMemConnector())
	s := &OAuth1Signer{ConsumerKey: "key", Secret: "secret", NonceScope: "p1", Env: env}
	req := signedRequest(t, s, "https://tool.example.com/launch", Params{"resource_link_id": "rl-1"})

	b := []byte(req.Form["resource_link_id"])
	b[0] ^= 0x01
	req.Form["resource_link_id"] = string(b)

	err := s.Verify(context.Background(), &Message{Request: req, Params: req.Form})
	require.Error(t, err)
	assert.Equal(t, KindTrust, KindOf(err))
	assert.Equal(t, oauthSignatureFailed, ReasonOf(err))

	var le *Error
	require.ErrorAs(t, err, &le)
	require.Len(t, le.Details, 3)
	assert.Contains(t, le.Details[2], "Base string: POST&")
}

func TestOAuth1_WrongSecretFails(t *testing.T) {
	env := newTestEnv(t, newMemConnector())
	signer := &OAuth1Signer{ConsumerKey: "key", Secret: "secret", NonceScope: "p1", Env: env}
	verifier := &OAuth1Signer{ConsumerKey: "key", Secret: "other", NonceScope: "p1", Env: env}
	req := signedRequest(t, signer, "https://tool.example.com/launch", Params{"resource_link_id": "rl-1"})

	err := verifier.Verify(context.Background(), &Message{Request: req, Params: req.Form})
	assert.Equal(t, oauthSignatureFailed, ReasonOf(err))
}

func TestOAuth1_NonceReplayRejected(t *testing.T) {
	env := newTestEnv(t, newMemConnector())
	s := &OAuth1Signer{ConsumerKey: "key", Secret: "secret", NonceScope: "p1", Env: env}
	req := signedRequest(t, s, "https://tool.example.com/launch", Params{"resource_link_id": "rl-1"})
	msg := &Message{Request: req, Params: req.Form}

	require.NoError(t, s.Verify(context.Background(), msg))
	err := s.Verify(context.Background(), msg)
	assert.Equal(t, "Invalid nonce.", ReasonOf(err))
}

func TestOAuth1_ExpiredTimestamp(t *testing.T) {
	env := newTestEnv(t, newMemConnector())
	s := &OAuth1Signer{ConsumerKey: "key", Secret: "secret", NonceScope: "p1", Env: env}
	req := signedRequest(t, s, "https://tool.example.com/launch", Params{"resource_link_id": "rl-1"})

	later := testNow.Add(oauthTimestampWindow + time.Second)
	env.Now = func() time.Time { return later }

	err := s.Verify(context.Background(), &Message{Request: req, Params: req.Form})
	var le *Error
	require.ErrorAs(t, err, &le)
	assert.Equal(t, oauthSignatureFailed, le.Reason)
	assert.Contains(t, le.Details[0], "Expired timestamp")
}

func TestOAuth1_ServiceRequestHeader(t *testing.T) {
	env := newTestEnv(t, newMemConnector())
	s := &OAuth1Signer{ConsumerKey: "key", Secret: "secret", Method: "HMAC-SHA256", NonceScope: "p1", Env: env}
	body := []byte(`<imsx_POXEnvelopeRequest/>`)
	hr, err := http.NewRequest(http.MethodPost, "https://lms.example.com/outcomes", nil)
	require.NoError(t, err)
	require.NoError(t, s.SignServiceRequest(context.Background(), hr, body))

	auth := hr.Header.Get("Authorization")
	require.Contains(t, auth, "OAuth ")
	hp := oauthHeaderParams(auth)
	assert.Equal(t, "key", hp.Get("oauth_consumer_key"))
	assert.NotEmpty(t, hp.Get("oauth_body_hash"))

	req := &Request{Method: http.MethodPost, URL: "https://lms.example.com/outcomes", Query: Params{}, Form: Params{}, Body: body, Header: hr.Header}
	require.NoError(t, s.Verify(context.Background(), &Message{Request: req}))
}

func TestOAuthEscape(t *testing.T) {
	assert.Equal(t, "a%20b%2Bc~d", oauthEscape("a b+c~d"))
	assert.Equal(t, "%E2%82%AC", oauthEscape("€"))
}
