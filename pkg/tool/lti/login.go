// pkg/tool/lti/login.go
package lti

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

// Parameters of an OIDC login initiation that are not passed back in the
// redirect_uri of a GET request.
var loginInitiationParams = []string{"iss", "target_link_uri", "login_hint", "lti_message_hint", "client_id", "lti_deployment_id"}

// sendAuthenticationRequest answers an OIDC login initiation with an
// auto-submitted authentication request to the platform. The state value is
// stored as a nonce and consumed when the id_token comes back.
func (t *Tool) sendAuthenticationRequest(ctx context.Context, l *Launch, params Params) error {
	const notFound = "Platform not found or no platform authentication request URL."

	p, err := PlatformFromPlatformID(ctx, l.dc(), params.Trimmed("iss"), params.Trimmed("client_id"), params.Trimmed("lti_deployment_id"))
	if err != nil {
		return wrapError(KindInternal, notFound, err)
	}
	l.Platform = p
	if !p.Exists() || p.AuthenticationURL == "" {
		return businessError(notFound)
	}

	state, err := t.storeState(ctx, l)
	if err != nil {
		return wrapError(KindInternal, "Unable to generate a state value.", err)
	}

	auth := Params{
		"client_id":     p.ClientID,
		"login_hint":    params.Get("login_hint"),
		"nonce":         randomString(32),
		"prompt":        "none",
		"redirect_uri":  loginRedirectURI(l.Request),
		"response_mode": "form_post",
		"response_type": "id_token",
		"scope":         "openid",
		"state":         state,
	}
	if params.Has("lti_message_hint") {
		auth["lti_message_hint"] = params.Get("lti_message_hint")
	}

	page, err := SendForm(p.AuthenticationURL, auth, "")
	if err != nil {
		return wrapError(KindInternal, "Unable to build the authentication request.", err)
	}
	l.Output = page
	l.Env.logger().Debug("authentication request sent",
		zap.String("platform", p.ID()),
		zap.String("url", p.AuthenticationURL),
	)
	return nil
}

// loginRedirectURI is the URL the login arrived at. A GET keeps only query
// parameters that are not part of the login initiation.
func loginRedirectURI(req *Request) string {
	base := normalizedURL(req.URL)
	q := req.Query.Clone()
	if req.Method != http.MethodPost {
		for _, k := range loginInitiationParams {
			delete(q, k)
		}
	}
	if len(q) == 0 {
		return base
	}
	return base + "?" + q.Values().Encode()
}

// storeState saves a fresh random value in the platform's nonce scope.
func (t *Tool) storeState(ctx context.Context, l *Launch) (string, error) {
	store, err := l.Env.nonces()
	if err != nil {
		return "", err
	}
	return useFreshNonce(ctx, store, nonceScope(l.Platform), l.Env.nonceTTL(), func() string {
		return randomString(32)
	})
}

// sendRelaunchRequest posts a signed tool_state/platform_state pair back to
// the relaunch_url. The tool_state is consumed by the relaunch.
func (t *Tool) sendRelaunchRequest(ctx context.Context, l *Launch) error {
	state, err := t.storeState(ctx, l)
	if err != nil {
		return wrapError(KindInternal, "Unable to generate a state value.", err)
	}
	target := l.Params.Get("relaunch_url")
	params := Params{
		"tool_state":     state,
		"platform_state": l.Params.Get("platform_state"),
	}
	signed, err := l.Platform.Signer(l.Env).SignParameters(ctx, target, "", "", params)
	if err != nil {
		return wrapError(KindInternal, "Unable to sign the relaunch request.", err)
	}
	page, err := SendForm(target, signed, "")
	if err != nil {
		return wrapError(KindInternal, "Unable to sign the relaunch request.", err)
	}
	l.Output = page
	return nil
}
