// pkg/tool/lti/tool.go
package lti

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

/*
Tool (this application as seen by platforms)

A Tool is immutable configuration: identity, endpoints, resource handlers and
the message handlers of the embedding application. Each inbound request is
processed as a Launch:

	tool := &lti.Tool{Name: "Quiz", BaseURL: "https://tool.example.com", Handlers: ...}
	r.Handle("/lti/launch", tool.Handler(env))

The same type describes a remote tool to a PlatformServer, in which case the
credential fields (Key, Secret, ClientID, RSAKey, JKU) hold what the platform
knows about that tool.
*/

// MessageHandler processes an accepted message. It may set l.Redirect or
// l.Output; a returned error rejects the request.
type MessageHandler func(ctx context.Context, l *Launch) error

// HandlerMessage is one message a resource handler accepts.
type HandlerMessage struct {
	Type         string // legacy message type, e.g. basic-lti-launch-request
	Path         string // relative to Tool.BaseURL
	Capabilities []string
	Constants    map[string]string
	Variables    map[string]string // custom parameter name -> substitution variable
}

// ResourceHandler groups the messages offered for one kind of resource.
type ResourceHandler struct {
	Code             string
	Name             string
	Description      string
	Icon             string // relative to Tool.BaseURL
	RequiredMessages []HandlerMessage
	OptionalMessages []HandlerMessage
}

// ParameterConstraint is checked against message parameters on launch.
type ParameterConstraint struct {
	Required     bool
	MaxLength    int      // 0 for no limit
	MessageTypes []string // empty for all
}

type Tool struct {
	Name        string
	Description string
	BaseURL     string
	// MessageURL and InitiateLoginURL are the launch and OIDC login
	// endpoints; they default to BaseURL.
	MessageURL       string
	InitiateLoginURL string
	RedirectionURIs  []string
	JWKSURL          string

	// Credentials held by a platform for this tool.
	Key             string
	Secret          string
	ClientID        string
	RSAKey          string // PEM public key
	JKU             string
	SignatureMethod string

	RequiredScopes   []string
	ResourceHandlers []ResourceHandler
	// Handlers are keyed by legacy message type.
	Handlers map[string]MessageHandler

	// ContextIDHook and UserIDHook may override the IDs taken from the
	// message, for platforms that send unstable identifiers.
	ContextIDHook func(*Launch) string
	UserIDHook    func(*Launch) string

	AllowSharing bool
	Strict       bool
	Debug        bool
	DefaultEmail string
	IDScope      IDScope
	// AutoEnable enables platforms created by dynamic registration.
	AutoEnable bool

	Settings Settings
	// Platform is the acting platform when a PlatformServer signs for this
	// tool.
	Platform *Platform

	constraints map[string]ParameterConstraint
}

// SetParameterConstraint adds a check run on every launch of the given
// message types (all when none are given).
func (t *Tool) SetParameterConstraint(name string, required bool, maxLength int, messageTypes ...string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	if t.constraints == nil {
		t.constraints = make(map[string]ParameterConstraint)
	}
	t.constraints[name] = ParameterConstraint{Required: required, MaxLength: maxLength, MessageTypes: messageTypes}
}

func (t *Tool) SystemSettings() Settings {
	if t.Settings == nil {
		t.Settings = Settings{}
	}
	return t.Settings
}

// Signer returns the strategy used by a platform to sign messages for, and
// verify messages from, this tool.
func (t *Tool) Signer(env *Env) Signer {
	if useOAuth1(t.SignatureMethod) {
		return &OAuth1Signer{
			ConsumerKey: t.Key,
			Secret:      t.Secret,
			Method:      t.SignatureMethod,
			NonceScope:  "tool:" + t.Key,
			Env:         env,
		}
	}
	s := &JwtSigner{
		Audience:   t.ClientID,
		Algorithm:  t.SignatureMethod,
		PeerKeyPEM: t.RSAKey,
		PeerJKU:    t.JKU,
		NonceScope: "tool:" + t.ClientID,
		Env:        env,
		Param:      "id_token",
	}
	if t.Platform != nil {
		s.Issuer = t.Platform.PlatformID
		s.DeploymentID = t.Platform.DeploymentID
		s.Platform = t.Platform
	}
	return s
}

func (t *Tool) messageURL() string {
	if t.MessageURL != "" {
		return t.MessageURL
	}
	return t.BaseURL
}

func (t *Tool) initiateLoginURL() string {
	if t.InitiateLoginURL != "" {
		return t.InitiateLoginURL
	}
	return t.messageURL()
}

// Handler serves every LTI entry point of the tool: launches, OIDC login
// initiations and dynamic registrations.
func (t *Tool) Handler(env *Env) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l := t.Handle(r.Context(), env, r)
		l.Render(w, r)
	})
}

// Handle processes one request. The returned Launch carries the outcome; it
// never returns nil.
func (t *Tool) Handle(ctx context.Context, env *Env, r *http.Request) *Launch {
	l := &Launch{Tool: t, Env: env, State: StateReceived, Debug: t.Debug}
	req, err := RequestFromHTTP(r)
	if err != nil {
		l.fail(wrapError(KindProtocol, "Unable to read the request.", err))
		return l
	}
	l.Request = req
	params := req.Params()
	log := env.logger()

	switch {
	case req.Method == http.MethodHead:
		l.Ignored = true
		log.Debug("HEAD request ignored", zap.String("url", req.URL))
	case params.Trimmed("iss") != "":
		log.Info("login initiation", zap.String("iss", params.Get("iss")))
		switch {
		case params.Trimmed("login_hint") == "":
			l.fail(protocolError("Missing login_hint parameter"))
		case params.Trimmed("target_link_uri") == "":
			l.fail(protocolError("Missing target_link_uri parameter"))
		default:
			l.fail(t.sendAuthenticationRequest(ctx, l, params))
		}
	case params.Trimmed("openid_configuration") != "":
		log.Info("dynamic registration", zap.String("openid_configuration", params.Get("openid_configuration")))
		t.onRegistration(ctx, l, params)
	default:
		err := t.authenticate(ctx, l)
		if err == nil && l.Output == "" {
			err = t.dispatch(ctx, l)
		}
		l.fail(err)
	}

	if l.Err != nil {
		log.Error("Request failed with reason: '"+l.Reason()+"'",
			zap.String("state", l.State.String()),
			zap.Stringer("kind", KindOf(l.Err)),
			zap.Strings("details", l.Details()),
		)
	}
	return l
}

// dispatch calls the handler registered for the message type.
func (t *Tool) dispatch(ctx context.Context, l *Launch) error {
	h := t.Handlers[l.MessageType]
	if h == nil {
		return businessError("Message type not supported: " + l.MessageType)
	}
	if err := h(ctx, l); err != nil {
		if _, ok := err.(*Error); ok {
			return err
		}
		return wrapError(KindBusiness, err.Error(), err)
	}
	if l.MessageType == MessageTypeRegistration && l.Platform != nil {
		if err := l.Platform.Save(ctx, l.dc()); err != nil {
			return wrapError(KindInternal, "Unable to save the platform.", err)
		}
	}
	return nil
}
