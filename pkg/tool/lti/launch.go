// pkg/tool/lti/launch.go
package lti

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// LaunchState is the furthest check a launch has passed.
type LaunchState int

const (
	StateReceived LaunchState = iota
	StateMethodChecked
	StateMessageTypeValidated
	StateConsumerKeyResolved
	StateSignatureVerified
	StateEnablementChecked
	StateParameterConstraintsChecked
	StateContextResolved
	StateResourceLinkResolved
	StateShareChecked
	StateUserResolved
	StateAccepted
	StateRejected
)

var stateNames = [...]string{
	"Received", "MethodChecked", "MessageTypeValidated", "ConsumerKeyResolved",
	"SignatureVerified", "EnablementChecked", "ParameterConstraintsChecked",
	"ContextResolved", "ResourceLinkResolved", "ShareChecked", "UserResolved",
	"Accepted", "Rejected",
}

func (s LaunchState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "LaunchState(" + strconv.Itoa(int(s)) + ")"
	}
	return stateNames[s]
}

// Launch is the processing state of one inbound request.
type Launch struct {
	Tool    *Tool
	Env     *Env
	Request *Request
	// Params are the message parameters, mapped from claims for JWT messages.
	Params Params
	JWT    *UnverifiedJWT

	Platform     *Platform
	Context      *Context
	ResourceLink *ResourceLink // the primary link when sharing
	UserResult   *UserResult

	MessageType string // legacy name
	Version     string
	ReturnURL   string
	Debug       bool
	State       LaunchState

	// Content-item selection requests.
	MediaTypes      []string
	ContentTypes    []string
	FileTypes       []string
	DocumentTargets []string

	// Set by message handlers.
	Redirect    string
	Output      string
	ErrorOutput string

	// Ignored is set for HEAD requests.
	Ignored bool
	Err     error

	requestLink  *ResourceLink
	savePlatform bool
	halted       bool
}

// OK reports whether the request has not failed.
func (l *Launch) OK() bool { return l.Err == nil }

// Reason is the failure reason, or "".
func (l *Launch) Reason() string {
	if l.Err == nil {
		return ""
	}
	if r := ReasonOf(l.Err); r != "" {
		return r
	}
	return l.Err.Error()
}

// Details are debug diagnostics attached to the failure.
func (l *Launch) Details() []string {
	var le *Error
	if errors.As(l.Err, &le) {
		return le.Details
	}
	return nil
}

// RequestLink is the resource link named in the message, which differs from
// ResourceLink when the link shares another link's data.
func (l *Launch) RequestLink() *ResourceLink { return l.requestLink }

func (l *Launch) fail(err error) {
	if err == nil {
		return
	}
	l.Err = err
	l.State = StateRejected
}

func (l *Launch) dc() DataConnector {
	if l.Env == nil {
		return nil
	}
	return l.Env.Connector
}

func (l *Launch) isJWT() bool { return l.JWT != nil }

func (l *Launch) isRegistration() bool { return l.MessageType == MessageTypeRegistration }

// ----- State machine -----

type launchStep struct {
	reached LaunchState
	run     func(*Tool, context.Context, *Launch) error
}

var launchSteps = []launchStep{
	{StateReceived, (*Tool).parseMessage},
	{StateMethodChecked, (*Tool).checkMethod},
	{StateMessageTypeValidated, (*Tool).validateMessage},
	{StateConsumerKeyResolved, (*Tool).resolvePlatform},
	{StateSignatureVerified, (*Tool).verifySignature},
	{StateEnablementChecked, (*Tool).checkEnablement},
	{StateParameterConstraintsChecked, (*Tool).checkConstraints},
	{StateContextResolved, (*Tool).resolveContext},
	{StateResourceLinkResolved, (*Tool).resolveResourceLink},
	{StateShareChecked, (*Tool).checkForShare},
	{StateUserResolved, (*Tool).resolveUser},
}

// authenticate runs the launch checks in order, stopping at the first
// failure.
func (t *Tool) authenticate(ctx context.Context, l *Launch) error {
	for _, st := range launchSteps {
		if err := st.run(t, ctx, l); err != nil {
			l.fail(err)
			return err
		}
		if l.halted {
			return nil
		}
		l.State = st.reached
	}
	l.State = StateAccepted
	return nil
}

// parseMessage extracts the message parameters and, for JWT messages, the
// claims and the platform named by iss/aud/deployment_id.
func (t *Tool) parseMessage(ctx context.Context, l *Launch) error {
	raw := l.Request.Params()
	if e := raw.Trimmed("error"); e != "" {
		if d := raw.Trimmed("error_description"); d != "" {
			e += ": " + d
		}
		return protocolError(e)
	}

	param := ""
	switch {
	case raw.Has("id_token"):
		param = "id_token"
	case raw.Has("JWT"):
		param = "JWT"
	}
	if param == "" {
		l.Params = l.Request.MessageParams()
		if key := l.Params.Trimmed("oauth_consumer_key"); key != "" {
			p, err := PlatformFromConsumerKey(ctx, l.dc(), key)
			if err != nil {
				return wrapError(KindInternal, "Unable to load the platform.", err)
			}
			l.Platform = p
		}
	} else if err := t.parseJWT(ctx, l, raw, param); err != nil {
		return err
	}

	l.MessageType = l.Params.Get("lti_message_type")
	l.Version = l.Params.Get("lti_version")
	l.ReturnURL = l.Params.Trimmed("launch_presentation_return_url")
	if l.ReturnURL == "" {
		l.ReturnURL = l.Params.Trimmed("content_item_return_url")
	}
	if strings.EqualFold(l.Params.Get("custom_debug"), "true") || (l.Platform != nil && l.Platform.Debug) {
		l.Debug = true
	}
	return nil
}

func (t *Tool) parseJWT(ctx context.Context, l *Launch, raw Params, param string) error {
	j, err := ParseUnverifiedJWT(raw.Get(param))
	if err != nil {
		return wrapError(KindProtocol, "Message does not contain a valid JWT", err)
	}
	l.JWT = j
	claims := j.Claims
	if claims["iss"] == nil || claims["aud"] == nil || claims[deploymentIDClaim] == nil {
		return protocolError("iss, aud and/or deployment_id claim not found")
	}
	iss := j.StringClaim("iss")
	did := claimString(claims[deploymentIDClaim])
	aud, err := resolveAudience(claims)
	if err != nil {
		return err
	}
	if iss == "" || aud == "" || did == "" {
		return protocolError("iss, aud and/or deployment_id claim is empty")
	}

	p, err := PlatformFromPlatformID(ctx, l.dc(), iss, aud, did)
	if err != nil {
		return wrapError(KindInternal, "Unable to load the platform.", err)
	}
	l.Platform = p

	if param == "id_token" && p.Exists() {
		state := raw.Trimmed("state")
		ok := false
		if state != "" {
			store, err := l.Env.nonces()
			if err != nil {
				return wrapError(KindTrust, "state parameter is invalid or missing", err)
			}
			if ok, err = store.Consume(ctx, nonceScope(p), state); err != nil {
				return wrapError(KindInternal, "state parameter is invalid or missing", err)
			}
		}
		if !ok {
			return trustError("state parameter is invalid or missing")
		}
	}

	params, err := ParseClaims(claims)
	if err != nil {
		var ce *ClaimError
		if errors.As(err, &ce) {
			return protocolError("Invalid value for " + ce.Claim + " claim")
		}
		return wrapError(KindProtocol, "Invalid JWT claims", err)
	}
	params["oauth_consumer_key"] = aud
	params["oauth_signature_method"] = j.HeaderString("alg")
	l.Params = params
	return nil
}

// resolveAudience applies the aud/azp rules: an array aud resolves to azp,
// which must be a member, or else to its first element.
func resolveAudience(claims map[string]any) (string, error) {
	azp, hasAzp := claims["azp"]
	azpStr := claimString(azp)
	if list, ok := stringList(claims["aud"]); ok && isArray(claims["aud"]) {
		if hasAzp {
			if azpStr == "" {
				return "", protocolError("azp claim is empty")
			}
			if !contains(list, azpStr) {
				return "", protocolError("azp claim value is not included in aud claim")
			}
			return azpStr, nil
		}
		if len(list) == 0 || list[0] == "" {
			return "", protocolError("First element of aud claim is empty")
		}
		return list[0], nil
	}
	aud := claimString(claims["aud"])
	if hasAzp && azpStr != aud {
		return "", protocolError("aud claim does not match the azp claim")
	}
	return aud, nil
}

func isArray(v any) bool {
	switch v.(type) {
	case []any, []string:
		return true
	}
	return false
}

func (t *Tool) checkMethod(_ context.Context, l *Launch) error {
	if l.Request.Method != http.MethodPost {
		return protocolError("LTI messages must use HTTP POST")
	}
	if !l.isJWT() {
		return nil
	}
	j := l.JWT
	iat, hasIat := claimInt(j.Claim("iat"))
	exp, hasExp := claimInt(j.Claim("exp"))
	switch {
	case j.StringClaim("iss") == "":
		return protocolError("Missing iss claim")
	case !hasIat || iat == 0:
		return protocolError("Missing iat claim")
	case !hasExp || exp == 0:
		return protocolError("Missing exp claim")
	case iat > exp:
		return protocolError("iat claim must not have a value greater than exp claim")
	case claimString(j.Claim("nonce")) == "":
		return protocolError("Missing nonce claim")
	}
	return nil
}

func claimInt(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	return 0, false
}

// validateMessage checks the message type, version and the parameters each
// message type requires.
func (t *Tool) validateMessage(_ context.Context, l *Launch) error {
	if _, ok := knownMessageTypes[l.MessageType]; !ok {
		return protocolError("Invalid or missing lti_message_type parameter.")
	}
	if !contains(supportedVersions, l.Version) {
		return protocolError("Invalid or missing lti_version parameter.")
	}
	switch l.MessageType {
	case MessageTypeLaunch:
		if l.Params.Trimmed("resource_link_id") == "" {
			return protocolError("Missing resource link ID.")
		}
	case MessageTypeContentItem:
		return t.validateContentItemRequest(l)
	case MessageTypeRegistration:
		for _, name := range []string{"reg_key", "reg_password", "tc_profile_url", "launch_presentation_return_url"} {
			if l.Params.Trimmed(name) == "" {
				return protocolError("Missing message parameters.")
			}
		}
	}
	return nil
}

// knownMessageTypes is the closed set of legacy message types accepted.
var knownMessageTypes = map[string]struct{}{
	MessageTypeLaunch:            {},
	MessageTypeContentItem:       {},
	MessageTypeContentItemUpdate: {},
	MessageTypeRegistration:      {},
	MessageTypeDashboard:         {},
	MessageTypeConfigure:         {},
}

func (t *Tool) validateContentItemRequest(l *Launch) error {
	var mediaTypes, contentTypes, fileTypes []string
	mediaTypes = appendUnique(mediaTypes, splitList(l.Params.Get("accept_media_types"))...)
	if len(mediaTypes) == 0 {
		return protocolError("No accept_media_types found.")
	}
	for _, mt := range mediaTypes {
		if !strings.HasPrefix(mt, ltiMediaPrefix) {
			fileTypes = append(fileTypes, mt)
		}
		switch {
		case mt == "text/html" || mt == "*/*":
			contentTypes = appendUnique(contentTypes, ContentTypeLink, ContentTypeHTML)
		case strings.HasPrefix(mt, "image/"):
			contentTypes = appendUnique(contentTypes, ContentTypeImage)
		case mt == LTILinkMediaType:
			contentTypes = appendUnique(contentTypes, ContentTypeLTILink)
		}
	}
	if len(fileTypes) > 0 {
		contentTypes = appendUnique(contentTypes, ContentTypeFile)
	}

	if l.Params.Trimmed("accept_presentation_document_targets") == "" {
		return protocolError("No accept_presentation_document_targets parameter found.")
	}
	var targets []string
	targets = appendUnique(targets, splitList(l.Params.Get("accept_presentation_document_targets"))...)
	if len(targets) == 0 {
		return protocolError("Missing or empty accept_presentation_document_targets parameter.")
	}
	permitted := []string{"embed", "frame", "iframe", "window", "popup", "overlay", "none"}
	if l.isJWT() {
		permitted = []string{"embed", "iframe", "window"}
	}
	for i := range targets {
		if err := t.checkValue(l, &targets[i], permitted, "Invalid value in accept_presentation_document_targets parameter: %s.", true); err != nil {
			return err
		}
	}

	if l.Params.Trimmed("content_item_return_url") == "" {
		return protocolError("Missing content_item_return_url parameter.")
	}
	l.MediaTypes, l.ContentTypes, l.FileTypes, l.DocumentTargets = mediaTypes, contentTypes, fileTypes, targets
	return nil
}

// resolvePlatform requires a known platform, or for tool proxy registration
// builds one from the consumer profile.
func (t *Tool) resolvePlatform(ctx context.Context, l *Launch) error {
	if l.isRegistration() {
		return t.registerToolProxy(ctx, l)
	}
	key := l.Params.Get("oauth_consumer_key")
	if !l.Params.Has("oauth_consumer_key") {
		return trustError("Missing consumer key.")
	}
	if l.Platform == nil || !l.Platform.Exists() {
		return trustError("Invalid consumer key: " + key)
	}
	return nil
}

// verifySignature checks the message against the platform's trust model,
// then records the signature method and last access date.
func (t *Tool) verifySignature(ctx context.Context, l *Launch) error {
	if l.isRegistration() {
		return nil
	}
	p := l.Platform
	method := l.Params.Get("oauth_signature_method")
	if l.isJWT() {
		if !contains(supportedJWTAlgs, method) {
			return trustError("Unsupported JWT signature algorithm: " + method)
		}
	} else {
		if p.IsLTI13() || p.Secret == "" {
			return trustError("Platform does not accept OAuth 1 signed messages.")
		}
		if !isOAuthMethod(method) {
			return trustError("Unsupported OAuth signature method: " + method)
		}
	}

	msg := &Message{Request: l.Request, Params: l.Params, JWT: l.JWT}
	if err := p.verifier(l.Env, l.isJWT()).Verify(ctx, msg); err != nil {
		return err
	}

	if method != p.SignatureMethod {
		p.SignatureMethod = method
		l.savePlatform = true
	}
	now := l.Env.now()
	if p.LastAccess == nil || p.LastAccess.Format("2006-01-02") != now.Format("2006-01-02") {
		l.savePlatform = true
	}
	p.LastAccess = &now

	if p.Protected {
		guid := l.Params.Get("tool_consumer_instance_guid")
		if p.ConsumerGUID != "" {
			if guid != "" && guid != p.ConsumerGUID {
				return trustError("Request is from an invalid platform.")
			}
		} else if !l.Params.Has("tool_consumer_instance_guid") {
			return trustError("A platform GUID must be included in the launch request.")
		}
	}
	t.refreshProfile(ctx, l)
	return nil
}

// checkEnablement applies the enablement window and normalises parameter
// values with a closed set of permitted values.
func (t *Tool) checkEnablement(_ context.Context, l *Launch) error {
	if l.isRegistration() {
		return nil
	}
	if reason := l.Platform.availability(l.Env.now()); reason != "" {
		return trustError(reason)
	}
	if l.MessageType == MessageTypeContentItem {
		for _, name := range []string{"accept_unsigned", "accept_multiple", "accept_copy_advice", "auto_create", "can_confirm"} {
			if !l.Params.Has(name) {
				continue
			}
			v := l.Params[name]
			if err := t.checkValue(l, &v, []string{"true", "false"}, "Invalid value for "+name+" parameter: %s.", false); err != nil {
				return err
			}
			l.Params[name] = v
		}
	}
	if l.Params.Has("launch_presentation_document_target") {
		v := l.Params["launch_presentation_document_target"]
		if err := t.checkValue(l, &v, []string{"embed", "frame", "iframe", "window", "popup", "overlay"},
			"Invalid value for launch_presentation_document_target parameter: %s.", true); err != nil {
			return err
		}
		l.Params["launch_presentation_document_target"] = v
	}
	return nil
}

// checkConstraints consumes a returned tool_state, answers relaunch
// requests and evaluates the configured parameter constraints.
func (t *Tool) checkConstraints(ctx context.Context, l *Launch) error {
	if state := l.Params.Trimmed("tool_state"); state != "" {
		store, err := l.Env.nonces()
		if err != nil {
			return wrapError(KindTrust, "Invalid tool_state parameter.", err)
		}
		ok, err := store.Consume(ctx, nonceScope(l.Platform), state)
		if err != nil {
			return wrapError(KindInternal, "Invalid tool_state parameter.", err)
		}
		if !ok {
			return trustError("Invalid tool_state parameter.")
		}
	}
	if l.Params.Has("relaunch_url") {
		if l.Params.Trimmed("platform_state") == "" {
			return protocolError("Missing or empty platform_state parameter.")
		}
		if err := t.sendRelaunchRequest(ctx, l); err != nil {
			return err
		}
		l.halted = true
		return nil
	}
	return t.checkParameterConstraints(l)
}

// resolveContext applies platform details from the message and finds or
// creates the context.
func (t *Tool) resolveContext(ctx context.Context, l *Launch) error {
	if l.dc() == nil {
		return wrapError(KindInternal, "Unable to load the context.", ErrNoConnector)
	}
	t.updatePlatform(l)

	id := ""
	if t.ContextIDHook != nil {
		id = strings.TrimSpace(t.ContextIDHook(l))
	}
	if id == "" {
		id = l.Params.Trimmed("context_id")
	}
	if id == "" {
		return nil
	}
	c := &Context{PlatformID: l.Platform.RecordID, LTIContextID: id, Settings: Settings{}}
	if c.PlatformID != 0 {
		if err := ignoreNotFound(l.dc().LoadContext(ctx, c)); err != nil {
			return wrapError(KindInternal, "Unable to load the context.", err)
		}
	}
	title := l.Params.Trimmed("context_title")
	if title == "" {
		title = "Course " + id
	}
	c.Title = title
	if l.Params.Has("context_type") {
		c.Type = strings.TrimPrefix(l.Params.Trimmed("context_type"), courseTypeV2)
	}
	l.Context = c
	return nil
}

// updatePlatform copies platform details carried by the message.
func (t *Tool) updatePlatform(l *Launch) {
	p, m := l.Platform, l.Params
	set := func(dst *string, v string) {
		if *dst != v {
			*dst = v
			l.savePlatform = true
		}
	}
	if t.DefaultEmail != "" {
		p.DefaultEmail = t.DefaultEmail
	}
	set(&p.LTIVersion, l.Version)
	if m.Has("deployment_id") {
		p.DeploymentID = m.Get("deployment_id")
	}
	if m.Has("tool_consumer_instance_name") {
		set(&p.ConsumerName, m.Get("tool_consumer_instance_name"))
	}
	if m.Has("tool_consumer_info_product_family_code") {
		version := m.Get("tool_consumer_info_product_family_code")
		if m.Has("tool_consumer_info_version") {
			version += "-" + m.Get("tool_consumer_info_version")
		}
		set(&p.ConsumerVersion, version)
	} else if m.Has("ext_lms") {
		set(&p.ConsumerVersion, m.Get("ext_lms"))
	}
	if m.Has("tool_consumer_instance_guid") {
		if p.ConsumerGUID == "" || !p.Protected {
			set(&p.ConsumerGUID, m.Get("tool_consumer_instance_guid"))
		}
	}
	switch {
	case m.Has("launch_presentation_css_url"):
		set(&p.CSSPath, m.Get("launch_presentation_css_url"))
	case m.Has("ext_launch_presentation_css_url"):
		set(&p.CSSPath, m.Get("ext_launch_presentation_css_url"))
	default:
		set(&p.CSSPath, "")
	}
}

// resolveResourceLink finds or creates the link, refreshes the settings at
// every level and persists platform, context and link.
func (t *Tool) resolveResourceLink(ctx context.Context, l *Launch) error {
	dc := l.dc()
	if id := l.Params.Trimmed("resource_link_id"); id != "" {
		rl := &ResourceLink{LTIResourceLinkID: id, Settings: Settings{}}
		scoped := false
		if l.Context != nil {
			rl.ContextID = l.Context.RecordID
			scoped = l.Context.Exists()
		} else {
			rl.PlatformID = l.Platform.RecordID
			scoped = rl.PlatformID != 0
		}
		if scoped {
			if err := ignoreNotFound(dc.LoadResourceLink(ctx, rl)); err != nil {
				return wrapError(KindInternal, "Unable to load the resource link.", err)
			}
		}
		title := l.Params.Trimmed("resource_link_title")
		if title == "" {
			title = "Resource " + id
		}
		rl.Title = title
		t.applySettings(l, rl)
		l.requestLink = rl
		l.ResourceLink = rl
	}

	if l.savePlatform || !l.Platform.Exists() {
		if err := l.Platform.Save(ctx, dc); err != nil {
			return wrapError(KindInternal, "Unable to save the platform.", err)
		}
		l.savePlatform = false
	}
	if l.Context != nil {
		l.Context.PlatformID = l.Platform.RecordID
		if err := dc.SaveContext(ctx, l.Context); err != nil {
			return wrapError(KindInternal, "Unable to save the context.", err)
		}
	}
	if rl := l.requestLink; rl != nil {
		if l.Context != nil {
			rl.ContextID, rl.PlatformID = l.Context.RecordID, 0
		} else {
			rl.PlatformID = l.Platform.RecordID
		}
		if err := dc.SaveResourceLink(ctx, rl); err != nil {
			return wrapError(KindInternal, "Unable to save the resource link.", err)
		}
	}
	return nil
}

// resolveUser finds or creates the user of the requested link and
// overwrites the personal details from the message.
func (t *Tool) resolveUser(ctx context.Context, l *Launch) error {
	rl := l.requestLink
	if rl == nil {
		return nil
	}
	m := l.Params
	uid := ""
	if t.UserIDHook != nil {
		uid = strings.TrimSpace(t.UserIDHook(l))
	}
	if uid == "" {
		uid = m.Trimmed("user_id")
	}
	u := &UserResult{ResourceLinkID: rl.RecordID, LTIUserID: uid}
	if uid != "" {
		if err := ignoreNotFound(l.dc().LoadUserResult(ctx, u)); err != nil {
			return wrapError(KindInternal, "Unable to load the user.", err)
		}
	}
	u.SetNames(m.Get("lis_person_name_given"), m.Get("lis_person_name_family"), m.Get("lis_person_name_full"))
	if m.Has("lis_person_sourcedid") {
		u.SourcedID = m.Get("lis_person_sourcedid")
	}
	for _, name := range []string{"ext_username", "ext_user_username", "custom_username", "custom_user_username"} {
		if m.Has(name) {
			u.Username = m.Get(name)
			break
		}
	}
	u.SetEmail(m.Get("lis_person_contact_email_primary"), l.Platform.DefaultEmail)
	if m.Has("user_image") {
		u.Image = m.Get("user_image")
	}
	if m.Has("roles") {
		u.Roles = ParseRoles(m.Get("roles"), l.Version)
	}
	l.UserResult = u

	save := false
	if m.Has("lis_result_sourcedid") {
		if u.LTIResultSourcedID != m.Get("lis_result_sourcedid") {
			u.LTIResultSourcedID = m.Get("lis_result_sourcedid")
			save = true
		}
	} else if u.IsLearner() {
		u.LTIResultSourcedID = ""
		save = true
	}
	if save && uid != "" {
		if err := l.dc().SaveUserResult(ctx, u); err != nil {
			return wrapError(KindInternal, "Unable to save the user.", err)
		}
	}
	return nil
}

func ignoreNotFound(err error) error {
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// checkValue looks value up in allowed, lower-casing it first unless the
// tool is strict. Invalid values are only logged when ignoreInvalid is set
// in non-strict mode.
func (t *Tool) checkValue(l *Launch, value *string, allowed []string, reasonFmt string, ignoreInvalid bool) error {
	lookup := *value
	if !t.Strict {
		lookup = strings.ToLower(lookup)
	}
	log := l.Env.logger()
	switch ok := contains(allowed, lookup); {
	case !ok && !t.Strict && ignoreInvalid:
		log.Info(fmt.Sprintf(reasonFmt, *value) + " [Error ignored]")
	case !ok:
		return protocolError(fmt.Sprintf(reasonFmt, *value))
	case lookup != *value:
		log.Info(fmt.Sprintf(reasonFmt, *value)+fmt.Sprintf(" [Changed to '%s']", lookup), zap.String("state", l.State.String()))
		*value = lookup
	}
	return nil
}
