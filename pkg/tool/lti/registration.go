// pkg/tool/lti/registration.go
package lti

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

/*
Dynamic registration (LTI Advantage)

	platform --GET ?openid_configuration=..&registration_token=..--> tool
	tool --GET openid_configuration--> platform      (PlatformConfiguration)
	tool --POST registration_endpoint, Bearer token--> platform (ToolConfiguration)
	platform --client_id, deployment_id--> tool       (Platform saved)

The tool always answers with an HTML page stating the outcome.
*/

// ----- Platform configuration -----

// PlatformConfiguration is the OpenID configuration a platform publishes
// for registration.
type PlatformConfiguration struct {
	Issuer                string                    `json:"issuer"`
	AuthorizationEndpoint string                    `json:"authorization_endpoint"`
	TokenEndpoint         string                    `json:"token_endpoint"`
	RegistrationEndpoint  string                    `json:"registration_endpoint"`
	JWKSURI               string                    `json:"jwks_uri"`
	ClaimsSupported       []string                  `json:"claims_supported"`
	ScopesSupported       []string                  `json:"scopes_supported"`
	SigningAlgs           []string                  `json:"id_token_signing_alg_values_supported"`
	LTI                   *PlatformLTIConfiguration `json:"https://purl.imsglobal.org/spec/lti-platform-configuration"`
}

type PlatformLTIConfiguration struct {
	ProductFamilyCode string             `json:"product_family_code"`
	Version           string             `json:"version"`
	MessagesSupported []SupportedMessage `json:"messages_supported"`
}

// SupportedMessage is one entry of messages_supported, published either as
// a bare type name or as an object.
type SupportedMessage struct {
	Type       string   `json:"type"`
	Placements []string `json:"placements,omitempty"`
}

func (m *SupportedMessage) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		m.Type = s
		return nil
	}
	type plain SupportedMessage
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*m = SupportedMessage(p)
	return nil
}

func (c *PlatformConfiguration) valid() bool {
	return c.RegistrationEndpoint != "" && c.JWKSURI != "" && c.AuthorizationEndpoint != "" &&
		c.TokenEndpoint != "" && c.LTI != nil &&
		len(c.ClaimsSupported) > 0 && len(c.ScopesSupported) > 0 && len(c.SigningAlgs) > 0 &&
		c.LTI.ProductFamilyCode != "" && c.LTI.Version != "" && len(c.LTI.MessagesSupported) > 0
}

func (c *PlatformConfiguration) supportsMessage(typ string) bool {
	for _, m := range c.LTI.MessagesSupported {
		if m.Type == typ {
			return true
		}
	}
	return false
}

// signingAlg is the strongest algorithm offered by the platform that this
// package can verify, or "".
func (c *PlatformConfiguration) signingAlg() string {
	var algs []string
	for _, a := range c.SigningAlgs {
		if contains(supportedJWTAlgs, a) {
			algs = append(algs, a)
		}
	}
	if len(algs) == 0 {
		return ""
	}
	sort.Sort(sort.Reverse(sort.StringSlice(algs)))
	return algs[0]
}

// ----- Tool configuration -----

// ToolConfiguration is the client registration document sent to the
// platform.
type ToolConfiguration struct {
	ApplicationType         string               `json:"application_type"`
	ClientName              string               `json:"client_name"`
	ResponseTypes           []string             `json:"response_types"`
	GrantTypes              []string             `json:"grant_types"`
	InitiateLoginURI        string               `json:"initiate_login_uri"`
	RedirectURIs            []string             `json:"redirect_uris"`
	JWKSURI                 string               `json:"jwks_uri"`
	TokenEndpointAuthMethod string               `json:"token_endpoint_auth_method"`
	LTI                     ToolLTIConfiguration `json:"https://purl.imsglobal.org/spec/lti-tool-configuration"`
	Scope                   string               `json:"scope"`
	LogoURI                 string               `json:"logo_uri,omitempty"`
}

type ToolLTIConfiguration struct {
	Domain           string            `json:"domain"`
	TargetLinkURI    string            `json:"target_link_uri"`
	CustomParameters map[string]string `json:"custom_parameters"`
	Claims           []string          `json:"claims"`
	Messages         []ToolMessage     `json:"messages"`
	Description      string            `json:"description"`
}

type ToolMessage struct {
	Type          string `json:"type"`
	TargetLinkURI string `json:"target_link_uri"`
	Label         string `json:"label"`
}

// Capabilities that add an OpenID claim to the registration.
var capabilityClaims = map[string]string{
	"User.id":              "sub",
	"Person.name.full":     "name",
	"Person.name.given":    "given_name",
	"Person.name.family":   "family_name",
	"Person.email.primary": "email",
}

func (t *Tool) clientName() string {
	if t.Name != "" {
		return t.Name
	}
	return "Unnamed tool"
}

// Configuration builds the registration document offered to a platform.
// requestURL is used as the tool URL when no handler declares a resource
// link launch.
func (t *Tool) Configuration(pc *PlatformConfiguration, requestURL string) *ToolConfiguration {
	toolURL := normalizedURL(requestURL)
	var (
		icon         string
		messages     []ToolMessage
		redirectURIs []string
		claims       = []string{"iss"}
		variables    = map[string]string{}
		constants    = map[string]string{}
	)
	for _, rh := range t.ResourceHandlers {
		if icon == "" {
			icon = rh.Icon
		}
		for _, m := range append(append([]HandlerMessage{}, rh.OptionalMessages...), rh.RequiredMessages...) {
			typ := m.Type
			if mapped, ok := messageTypeMapping[typ]; ok {
				typ = mapped
			}
			target := t.BaseURL + m.Path
			var caps []string
			switch {
			case typ == "LtiResourceLinkRequest":
				toolURL = target
				redirectURIs = append(redirectURIs, target)
				caps = m.Capabilities
				mergeInto(variables, m.Variables, true)
				mergeInto(constants, m.Constants, true)
			case pc.supportsMessage(typ):
				redirectURIs = append(redirectURIs, target)
				caps = m.Capabilities
				mergeInto(variables, m.Variables, false)
				mergeInto(constants, m.Constants, false)
				messages = append(messages, ToolMessage{Type: typ, TargetLinkURI: target, Label: t.clientName()})
			}
			for _, c := range caps {
				if claim, ok := capabilityClaims[c]; ok && contains(pc.ClaimsSupported, claim) {
					claims = appendUnique(claims, claim)
				}
			}
		}
	}
	if len(redirectURIs) == 0 {
		redirectURIs = []string{toolURL}
	} else {
		redirectURIs = appendUnique(nil, redirectURIs...)
	}

	custom := make(map[string]string, len(constants)+len(variables))
	for k, v := range constants {
		custom[k] = v
	}
	for k, v := range variables {
		custom[k] = "$" + v
	}

	var scopes []string
	for _, s := range t.RequiredScopes {
		if contains(pc.ScopesSupported, s) {
			scopes = append(scopes, s)
		}
	}

	cfg := &ToolConfiguration{
		ApplicationType:         "web",
		ClientName:              t.clientName(),
		ResponseTypes:           []string{"id_token"},
		GrantTypes:              []string{"implicit", "client_credentials"},
		InitiateLoginURI:        toolURL,
		RedirectURIs:            redirectURIs,
		JWKSURI:                 t.JWKSURL,
		TokenEndpointAuthMethod: "private_key_jwt",
		LTI: ToolLTIConfiguration{
			Domain:           hostOf(toolURL),
			TargetLinkURI:    toolURL,
			CustomParameters: custom,
			Claims:           claims,
			Messages:         messages,
			Description:      t.Description,
		},
		Scope: strings.Join(scopes, " "),
	}
	if cfg.LTI.Messages == nil {
		cfg.LTI.Messages = []ToolMessage{}
	}
	if icon != "" {
		cfg.LogoURI = t.BaseURL + icon
	}
	return cfg
}

// mergeInto copies src into dst; existing keys are only replaced when
// override is set.
func mergeInto(dst, src map[string]string, override bool) {
	for k, v := range src {
		if _, ok := dst[k]; ok && !override {
			continue
		}
		dst[k] = v
	}
}

// ----- Registration flow -----

type registrationResponse struct {
	ClientID string `json:"client_id"`
	LTI      struct {
		DeploymentID string `json:"deployment_id"`
	} `json:"https://purl.imsglobal.org/spec/lti-tool-configuration"`
}

// onRegistration runs a dynamic registration and renders the outcome page.
// The request itself never fails; the page reports any error.
func (t *Tool) onRegistration(ctx context.Context, l *Launch, params Params) {
	log := l.Env.logger()
	name := t.clientName()
	err := func() error {
		pc, err := t.fetchPlatformConfiguration(ctx, l, params)
		if err != nil {
			return err
		}
		cfg := t.Configuration(pc, l.Request.URL)
		name = cfg.ClientName
		reg, err := t.sendRegistration(ctx, l, params, pc, cfg)
		if err != nil {
			return err
		}
		p := platformToRegister(pc, reg)
		p.Enabled = t.AutoEnable
		l.Platform = p
		if err := p.Save(ctx, l.dc()); err != nil {
			return wrapError(KindInternal, "Sorry, an error occurred when saving the platform details.", err)
		}
		return nil
	}()

	page := registrationPage{ClientName: name}
	if err != nil {
		page.Reason = ReasonOf(err)
		log.Warn("registration failed", zap.String("reason", page.Reason), zap.Error(err))
	} else {
		page.OK = true
		page.Enabled = enablementText(l.Platform, l.Env.now())
		log.Info("platform registered", zap.String("platform", l.Platform.ID()), zap.Bool("enabled", l.Platform.Enabled))
	}
	var b strings.Builder
	if err := registrationTemplate.Execute(&b, page); err != nil {
		l.fail(wrapError(KindInternal, "Unable to render the registration page.", err))
		return
	}
	l.Output = b.String()
}

func (t *Tool) fetchPlatformConfiguration(ctx context.Context, l *Launch, params Params) (*PlatformConfiguration, error) {
	const unreachable = "Unable to access platform configuration details."
	u := params.Trimmed("openid_configuration")
	if u == "" {
		return nil, protocolError("Invalid registration request: missing openid_configuration parameter.")
	}
	body, err := httpFetch(ctx, l.Env.client(), http.MethodGet, u, "application/json", nil, nil)
	if err != nil {
		return nil, wrapError(KindProtocol, unreachable, err)
	}
	var pc PlatformConfiguration
	if err := json.Unmarshal(body, &pc); err != nil {
		return nil, wrapError(KindProtocol, unreachable, err)
	}
	if !pc.valid() {
		return nil, protocolError("Invalid platform configuration details.")
	}
	if pc.signingAlg() == "" {
		return nil, protocolError("None of the signature algorithms offered by the platform is supported.")
	}
	return &pc, nil
}

func (t *Tool) sendRegistration(ctx context.Context, l *Launch, params Params, pc *PlatformConfiguration, cfg *ToolConfiguration) (*registrationResponse, error) {
	const failed = "Unable to register with platform."
	token := params.Trimmed("registration_token")
	if token == "" {
		return nil, protocolError("Invalid registration request: missing registration_token parameter.")
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return nil, wrapError(KindInternal, failed, err)
	}
	hdr := http.Header{}
	hdr.Set("Content-Type", "application/json")
	hdr.Set("Authorization", "Bearer "+token)
	body, err := httpFetch(ctx, l.Env.client(), http.MethodPost, pc.RegistrationEndpoint, "application/json", hdr, payload)
	if err != nil {
		return nil, wrapError(KindProtocol, failed, err)
	}
	var reg registrationResponse
	if err := json.Unmarshal(body, &reg); err != nil || reg.ClientID == "" {
		return nil, wrapError(KindProtocol, failed, err)
	}
	return &reg, nil
}

// platformToRegister builds the platform record named after the issuer's
// host.
func platformToRegister(pc *PlatformConfiguration, reg *registrationResponse) *Platform {
	p := NewPlatform()
	name := pc.Issuer
	if i := strings.Index(name, "//"); i >= 0 {
		name = name[i+2:]
		if j := strings.IndexByte(name, '/'); j >= 0 {
			name = name[:j]
		}
	}
	p.Name = name
	p.LTIVersion = Version1P3
	p.SignatureMethod = pc.signingAlg()
	p.PlatformID = pc.Issuer
	p.ClientID = reg.ClientID
	p.DeploymentID = reg.LTI.DeploymentID
	p.AuthenticationURL = pc.AuthorizationEndpoint
	p.AccessTokenURL = pc.TokenEndpoint
	p.JKU = pc.JWKSURI
	return p
}

const registrationDateFormat = "2 January 2006 15:04 MST"

// enablementText qualifies the success message with the access window.
func enablementText(p *Platform, now time.Time) string {
	switch {
	case p == nil:
		return ""
	case !p.Enabled:
		return ", but it will need to be enabled by the tool provider before it can be used"
	case p.EnableFrom != nil && p.EnableFrom.After(now):
		s := ", but you will only have access from " + p.EnableFrom.Format(registrationDateFormat)
		if p.EnableUntil != nil {
			s += " until " + p.EnableUntil.Format(registrationDateFormat)
		}
		return s
	case p.EnableUntil != nil && p.EnableUntil.After(now):
		return ", but you will only have access until " + p.EnableUntil.Format(registrationDateFormat)
	case p.EnableUntil != nil:
		return ", but your access was set to end at " + p.EnableUntil.Format(registrationDateFormat)
	default:
		return ""
	}
}

type registrationPage struct {
	ClientName string
	OK         bool
	Enabled    string
	Reason     string
}

var registrationTemplate = template.Must(template.New("registration").Parse(`<!DOCTYPE html>
<html lang="en">
  <head>
    <meta http-equiv="content-type" content="text/html; charset=UTF-8">
    <title>LTI Tool registration</title>
    <style>
      h1 { font-size: 110%; font-weight: bold; }
      .success { color: #155724; background-color: #d4edda; border: 1px solid #c3e6cb; padding: .75rem 1.25rem; margin-bottom: 1rem; }
      .error { color: #721c24; background-color: #f8d7da; border: 1px solid #f5c6cb; padding: .75rem 1.25rem; margin-bottom: 1rem; }
      .centre { text-align: center; }
      button { padding: 0.375rem 0.75rem; font-size: 1rem; border-radius: 0.25rem; color: #fff; background-color: #007bff; border: 1px solid #007bff; cursor: pointer; }
    </style>
    <script>
      function doClose() {
        (window.opener || window.parent).postMessage({subject:'org.imsglobal.lti.close'}, '*');
        return true;
      }
    </script>
  </head>
  <body>
    <h1>{{.ClientName}} registration</h1>
{{if .OK}}    <p class="success">The tool registration was successful{{.Enabled}}.</p>
    <p class="centre"><button type="button" onclick="return doClose();">Close</button></p>
{{else}}    <p class="error">Sorry, the registration was not successful: {{.Reason}}</p>
{{end}}  </body>
</html>
`))

// ----- HTTP -----

// httpFetch performs one request and returns the body of a 2xx response.
func httpFetch(ctx context.Context, client *http.Client, method, u, accept string, hdr http.Header, body []byte) ([]byte, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return nil, err
	}
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s %s: status %d", method, u, resp.StatusCode)
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, fmt.Errorf("%s %s: empty response", method, u)
	}
	return b, nil
}
