// pkg/tool/lti/platform_server.go
package lti

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

/*
PlatformServer (acting as a platform towards one remote tool)

	SendMessage           LTI 1.3: save the message, POST an initiate-login to the tool
	                      otherwise: OAuth1-signed form straight to the message URL
	HandleAuthenticationRequest
	                      the tool's OIDC authentication request; answered with a
	                      form posting the signed id_token to its redirect_uri
*/

// InitiatedLogin is a message held between the initiate-login redirect and
// the tool's authentication request.
type InitiatedLogin struct {
	MessageURL  string
	LoginHint   string
	MessageHint string
	Params      Params
	Expires     time.Time
}

// LoginStore keeps initiated logins. Take removes the entry it returns.
type LoginStore interface {
	Save(ctx context.Context, clientID string, login InitiatedLogin) error
	Take(ctx context.Context, clientID, loginHint string) (*InitiatedLogin, error)
}

// InMemoryLoginStore is a LoginStore for a single process.
type InMemoryLoginStore struct {
	mu      sync.Mutex
	entries map[string]InitiatedLogin
	Now     func() time.Time
}

func NewInMemoryLoginStore() *InMemoryLoginStore {
	return &InMemoryLoginStore{entries: make(map[string]InitiatedLogin)}
}

func (m *InMemoryLoginStore) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *InMemoryLoginStore) Save(_ context.Context, clientID string, login InitiatedLogin) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k, v := range m.entries {
		if !v.Expires.After(now) {
			delete(m.entries, k)
		}
	}
	m.entries[clientID+"|"+login.LoginHint] = login
	return nil
}

func (m *InMemoryLoginStore) Take(_ context.Context, clientID, loginHint string) (*InitiatedLogin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := clientID + "|" + loginHint
	v, ok := m.entries[k]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.entries, k)
	if !v.Expires.After(m.now()) {
		return nil, ErrNotFound
	}
	return &v, nil
}

// PlatformServer sends messages to Tool as Platform. Tool.ClientID,
// RedirectionURIs and the login/message URLs describe the remote tool.
type PlatformServer struct {
	Platform *Platform
	Tool     *Tool
	Env      *Env
	Logins   LoginStore
}

func NewPlatformServer(p *Platform, t *Tool, env *Env, logins LoginStore) *PlatformServer {
	t.Platform = p
	if logins == nil {
		logins = NewInMemoryLoginStore()
	}
	return &PlatformServer{Platform: p, Tool: t, Env: env, Logins: logins}
}

// SendMessage returns an auto-submitting page that delivers a message of
// the given type to target (a URL of the tool). For LTI 1.3 the page starts
// the OIDC login instead and the message is released by
// HandleAuthenticationRequest.
func (s *PlatformServer) SendMessage(ctx context.Context, target, messageType string, params Params, frame, loginHint, messageHint string) (string, error) {
	version := s.Platform.LTIVersion
	if version != Version1P3 {
		signed, err := s.Tool.Signer(s.Env).SignParameters(ctx, target, messageType, version, params)
		if err != nil {
			return "", err
		}
		return SendForm(target, signed, frame)
	}

	if loginHint == "" {
		loginHint = params.Trimmed("user_id")
		if loginHint == "" {
			loginHint = "Anonymous"
		}
	}
	if messageHint == "" {
		messageHint = randomString(32)
	}
	msg := params.Clone()
	msg["lti_version"] = version
	msg["lti_message_type"] = messageType
	err := s.Logins.Save(ctx, s.Tool.ClientID, InitiatedLogin{
		MessageURL:  target,
		LoginHint:   loginHint,
		MessageHint: messageHint,
		Params:      msg,
		Expires:     s.Env.now().Add(s.Env.nonceTTL()),
	})
	if err != nil {
		return "", err
	}
	login := Params{
		"iss":              s.Platform.PlatformID,
		"target_link_uri":  target,
		"login_hint":       loginHint,
		"lti_message_hint": messageHint,
	}
	if s.Tool.ClientID != "" {
		login["client_id"] = s.Tool.ClientID
	}
	if s.Platform.DeploymentID != "" {
		login["lti_deployment_id"] = s.Platform.DeploymentID
	}
	return SendForm(s.Tool.initiateLoginURL(), login, frame)
}

// HandleAuthenticationRequest validates the tool's OIDC authentication
// request. The returned page posts either the signed id_token or an OAuth
// error to redirect_uri; err describes a rejected request.
func (s *PlatformServer) HandleAuthenticationRequest(ctx context.Context, r *http.Request) (page string, err error) {
	req, err := RequestFromHTTP(r)
	if err != nil {
		return "", wrapError(KindProtocol, "Unable to read the request.", err)
	}
	in := req.Params()
	out, err := s.authenticationResponse(ctx, in)
	if err != nil {
		s.Env.logger().Error("Request failed with reason: '"+ReasonOf(err)+"'",
			zap.String("client_id", in.Get("client_id")))
	}
	if in.Has("state") {
		out["state"] = in.Get("state")
	}
	page, ferr := SendForm(in.Get("redirect_uri"), out, "")
	if ferr != nil {
		return "", ferr
	}
	return page, err
}

func oidcError(code, description string) (Params, error) {
	out := Params{"error": code}
	reason := code
	if description != "" {
		out["error_description"] = description
		reason += ": " + description
	}
	return out, protocolError(reason)
}

func (s *PlatformServer) authenticationResponse(ctx context.Context, in Params) (Params, error) {
	for _, name := range []string{"scope", "response_type", "client_id", "redirect_uri", "login_hint", "nonce"} {
		if !in.Has(name) {
			return oidcError("invalid_request", "")
		}
	}
	switch {
	case !contains(strings.Fields(in.Get("scope")), "openid"):
		return oidcError("invalid_scope", "")
	case in.Get("response_type") != "id_token":
		return oidcError("unsupported_response_type", "")
	case in.Get("client_id") != s.Tool.ClientID:
		return oidcError("unauthorized_client", "")
	case !contains(s.Tool.RedirectionURIs, in.Get("redirect_uri")):
		return oidcError("invalid_request", "Unregistered redirect_uri")
	case in.Get("response_mode") != "form_post":
		return oidcError("invalid_request", "Invalid response_mode")
	case in.Get("prompt") != "none":
		return oidcError("invalid_request", "Invalid prompt")
	}

	login, err := s.Logins.Take(ctx, in.Get("client_id"), in.Get("login_hint"))
	if err != nil || (login.MessageHint != "" && in.Get("lti_message_hint") != login.MessageHint) {
		return oidcError("access_denied", "")
	}
	msg := login.Params.Clone()
	msg["nonce"] = in.Get("nonce")
	signed, err := s.Tool.Signer(s.Env).SignParameters(ctx, login.MessageURL, "", "", msg)
	if err != nil {
		return Params{"error": "server_error"}, wrapError(KindInternal, "Unable to sign the message.", err)
	}
	return signed, nil
}

// ServeHTTP answers authentication requests.
func (s *PlatformServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	page, err := s.HandleAuthenticationRequest(r.Context(), r)
	if page == "" {
		http.Error(w, ReasonOf(err), http.StatusBadRequest)
		return
	}
	writeHTML(w, http.StatusOK, page)
}
