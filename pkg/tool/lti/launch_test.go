package lti

import (
	"context"
	"html"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	hiddenField = regexp.MustCompile(`<input type="hidden" name="([^"]*)" value="([^"]*)">`)
	formAction  = regexp.MustCompile(`<form method="post" action="([^"]*)"`)
)

// formFields extracts the action and hidden fields of an auto-submit page.
func formFields(t *testing.T, page string) (string, Params) {
	t.Helper()
	m := formAction.FindStringSubmatch(page)
	require.NotNil(t, m, "no form in page:\n%s", page)
	out := Params{}
	for _, f := range hiddenField.FindAllStringSubmatch(page, -1) {
		out[html.UnescapeString(f[1])] = html.UnescapeString(f[2])
	}
	return html.UnescapeString(m[1]), out
}

func launchTool(handled *[]string) *Tool {
	return &Tool{
		Name:    "Test tool",
		BaseURL: "https://tool.example.com",
		Handlers: map[string]MessageHandler{
			MessageTypeLaunch: func(_ context.Context, l *Launch) error {
				*handled = append(*handled, l.UserResult.LTIUserID)
				l.Redirect = "https://tool.example.com/app"
				return nil
			},
		},
	}
}

func TestHandle_OAuth1Launch(t *testing.T) {
	dc := newMemConnector()
	p := seedOAuth1Platform(t, dc, "key", "secret")
	env := newTestEnv(t, dc)
	var handled []string
	tool := launchTool(&handled)
	tool.DefaultEmail = "example.org"

	signer := &OAuth1Signer{ConsumerKey: "key", Secret: "secret", Env: env}
	form, err := signer.SignParameters(context.Background(), "https://tool.example.com/launch", MessageTypeLaunch, Version1, Params{
		"resource_link_id":                       "rl-1",
		"resource_link_title":                    "Week 1",
		"context_id":                             "ctx-1",
		"context_title":                          "Algebra",
		"user_id":                                "u1",
		"lis_person_name_full":                   "Ada Lovelace",
		"roles":                                  "Learner",
		"tool_consumer_info_product_family_code": "moodle",
		"tool_consumer_info_version":             "4.1",
		"custom_colour":                          "blue",
	})
	require.NoError(t, err)

	l := tool.Handle(context.Background(), env, postForm("https://tool.example.com/launch", form))
	require.True(t, l.OK(), l.Reason())
	assert.Equal(t, StateAccepted, l.State)
	assert.Equal(t, []string{"u1"}, handled)

	assert.Equal(t, "Algebra", l.Context.Title)
	assert.Equal(t, "Week 1", l.ResourceLink.Title)
	assert.Equal(t, "blue", l.ResourceLink.Settings.Get("custom_colour"))
	assert.Equal(t, "u1@example.org", l.UserResult.Email)
	assert.Equal(t, "Ada", l.UserResult.Firstname)
	assert.True(t, l.UserResult.IsLearner())

	saved, err := PlatformFromRecordID(context.Background(), dc, p.RecordID)
	require.NoError(t, err)
	assert.Equal(t, "moodle-4.1", saved.ConsumerVersion)
	assert.Equal(t, "moodle", saved.FamilyCode())
	require.NotNil(t, saved.LastAccess)
	assert.Len(t, dc.contexts, 1)
	assert.Len(t, dc.links, 1)
	assert.Len(t, dc.users, 1, "learner without lis_result_sourcedid is saved")

	rec := httptest.NewRecorder()
	l.Render(rec, httptest.NewRequest(http.MethodPost, "/launch", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://tool.example.com/app", rec.Header().Get("Location"))
}

func TestHandle_MissingResourceLinkID(t *testing.T) {
	dc := newMemConnector()
	seedOAuth1Platform(t, dc, "key", "secret")
	env := newTestEnv(t, dc)
	var handled []string
	tool := launchTool(&handled)

	signer := &OAuth1Signer{ConsumerKey: "key", Secret: "secret", Env: env}
	form, err := signer.SignParameters(context.Background(), "https://tool.example.com/launch", MessageTypeLaunch, Version1, Params{
		"user_id":                        "u1",
		"launch_presentation_return_url": "https://lms.example.com/return",
	})
	require.NoError(t, err)

	l := tool.Handle(context.Background(), env, postForm("https://tool.example.com/launch", form))
	require.False(t, l.OK())
	assert.Equal(t, "Missing resource link ID.", l.Reason())
	assert.Equal(t, StateRejected, l.State)
	assert.Empty(t, handled)

	rec := httptest.NewRecorder()
	l.Render(rec, httptest.NewRequest(http.MethodPost, "/launch", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	loc := rec.Header().Get("Location")
	assert.Contains(t, loc, "https://lms.example.com/return?lti_errormsg=")
	assert.Contains(t, loc, "lti_errorlog=Debug+error%3A+Missing+resource+link+ID.")
}

func TestHandle_UnknownConsumerKey(t *testing.T) {
	dc := newMemConnector()
	env := newTestEnv(t, dc)
	var handled []string
	tool := launchTool(&handled)

	signer := &OAuth1Signer{ConsumerKey: "nobody", Secret: "secret", Env: env}
	form, err := signer.SignParameters(context.Background(), "https://tool.example.com/launch", MessageTypeLaunch, Version1, Params{"resource_link_id": "rl-1"})
	require.NoError(t, err)

	l := tool.Handle(context.Background(), env, postForm("https://tool.example.com/launch", form))
	assert.Equal(t, "Invalid consumer key: nobody", l.Reason())

	rec := httptest.NewRecorder()
	l.Render(rec, httptest.NewRequest(http.MethodPost, "/launch", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Error: "+html.EscapeString(ConnectionErrorMessage), rec.Body.String())
}

func TestHandle_HeadIgnored(t *testing.T) {
	tool := &Tool{}
	l := tool.Handle(context.Background(), newTestEnv(t, newMemConnector()), httptest.NewRequest(http.MethodHead, "https://tool.example.com/launch", nil))
	assert.True(t, l.Ignored)
	assert.True(t, l.OK())
}

func TestHandle_GetLaunchRejected(t *testing.T) {
	tool := &Tool{}
	r := httptest.NewRequest(http.MethodGet, "https://tool.example.com/launch?lti_message_type=basic-lti-launch-request", nil)
	l := tool.Handle(context.Background(), newTestEnv(t, newMemConnector()), r)
	assert.Equal(t, "LTI messages must use HTTP POST", l.Reason())
}

func TestHandle_LoginInitiationMissingHint(t *testing.T) {
	tool := &Tool{}
	r := httptest.NewRequest(http.MethodGet, "https://tool.example.com/login?iss=https://lms.example.com&target_link_uri=x", nil)
	l := tool.Handle(context.Background(), newTestEnv(t, newMemConnector()), r)
	assert.Equal(t, "Missing login_hint parameter", l.Reason())
}

func TestAvailabilityBoundaries(t *testing.T) {
	now := testNow
	before, after := now.Add(-time.Second), now.Add(time.Second)
	cases := []struct {
		name     string
		p        Platform
		wantOK   bool
		wantText string
	}{
		{"disabled", Platform{}, false, "Platform has not been enabled by the tool."},
		{"open", Platform{Enabled: true}, true, ""},
		{"from now", Platform{Enabled: true, EnableFrom: &now}, true, ""},
		{"from later", Platform{Enabled: true, EnableFrom: &after}, false, "Platform access is not yet available."},
		{"until now", Platform{Enabled: true, EnableUntil: &now}, false, "Platform access has expired."},
		{"until later", Platform{Enabled: true, EnableUntil: &after}, true, ""},
		{"until earlier", Platform{Enabled: true, EnableUntil: &before}, false, "Platform access has expired."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.wantOK, tc.p.IsAvailable(now))
			assert.Equal(t, tc.wantText, tc.p.availability(now))
		})
	}
}

func TestParameterConstraints(t *testing.T) {
	tool := &Tool{}
	tool.SetParameterConstraint("user_id", true, 0)
	tool.SetParameterConstraint("context_title", false, 5)
	tool.SetParameterConstraint("lis_result_sourcedid", true, 0, MessageTypeContentItem)

	l := &Launch{MessageType: MessageTypeLaunch, Params: Params{"context_title": "Too long a title"}}
	err := tool.checkParameterConstraints(l)
	assert.Equal(t, "Invalid parameter(s): context_title (too long), user_id (missing).", ReasonOf(err))

	l.Params = Params{"user_id": "u1", "context_title": "Short"}
	assert.NoError(t, tool.checkParameterConstraints(l))
}

func TestApplySettings(t *testing.T) {
	dc := newMemConnector()
	p := seedOAuth1Platform(t, dc, "key", "secret")
	p.Settings = Settings{"custom_old": "x", "custom_tc_profile_url": "old"}
	l := &Launch{
		Platform: p,
		Context:  &Context{Settings: Settings{"custom_old": "x"}},
		Params: Params{
			"custom_lineitems_url": "https://lms.example.com/lineitems",
			"lis_result_sourcedid": "src-1",
			"custom_new":           "y",
		},
	}
	rl := &ResourceLink{Settings: Settings{"custom_lineitem_url": "https://lms.example.com/li/1", "custom_old": "x"}}
	(&Tool{}).applySettings(l, rl)

	if diff := cmp.Diff(Settings{"custom_new": "y"}, p.Settings); diff != "" {
		t.Errorf("platform settings (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(Settings{"custom_new": "y", "custom_lineitems_url": "https://lms.example.com/lineitems"}, l.Context.Settings); diff != "" {
		t.Errorf("context settings (-want +got):\n%s", diff)
	}
	want := Settings{
		"custom_new":           "y",
		"custom_lineitems_url": "https://lms.example.com/lineitems",
		"custom_lineitem_url":  "https://lms.example.com/li/1",
		"lis_result_sourcedid": "src-1",
	}
	if diff := cmp.Diff(want, rl.Settings); diff != "" {
		t.Errorf("link settings (-want +got):\n%s", diff)
	}
	assert.True(t, l.savePlatform)
}

func TestToolState(t *testing.T) {
	dc := newMemConnector()
	p := seedOAuth1Platform(t, dc, "key", "secret")
	env := newTestEnv(t, dc)
	tool := &Tool{}
	l := &Launch{Tool: tool, Env: env, Platform: p}

	state, err := tool.storeState(context.Background(), l)
	require.NoError(t, err)

	l.Params = Params{"tool_state": state}
	require.NoError(t, tool.checkConstraints(context.Background(), l))
	assert.Equal(t, "Invalid tool_state parameter.", ReasonOf(tool.checkConstraints(context.Background(), l)))
}

func TestRelaunch(t *testing.T) {
	dc := newMemConnector()
	p := seedOAuth1Platform(t, dc, "key", "secret")
	env := newTestEnv(t, dc)
	tool := &Tool{}

	l := &Launch{Tool: tool, Env: env, Platform: p, Params: Params{"relaunch_url": "https://lms.example.com/relaunch"}}
	assert.Equal(t, "Missing or empty platform_state parameter.", ReasonOf(tool.checkConstraints(context.Background(), l)))

	l.Params["platform_state"] = "ps-1"
	require.NoError(t, tool.checkConstraints(context.Background(), l))
	assert.True(t, l.halted)
	action, fields := formFields(t, l.Output)
	assert.Equal(t, "https://lms.example.com/relaunch", action)
	assert.Equal(t, "ps-1", fields.Get("platform_state"))
	assert.NotEmpty(t, fields.Get("tool_state"))
	assert.NotEmpty(t, fields.Get("oauth_signature"))
}

func TestContentItemValidation(t *testing.T) {
	tool := &Tool{}
	base := func() Params {
		return Params{
			"accept_media_types":                   "application/vnd.ims.lti.v1.ltilink,image/png",
			"accept_presentation_document_targets": "iframe,Window",
			"content_item_return_url":              "https://lms.example.com/ci",
		}
	}
	l := &Launch{Tool: tool, Env: newTestEnv(t, nil), MessageType: MessageTypeContentItem, Params: base()}
	require.NoError(t, tool.validateContentItemRequest(l))
	assert.Equal(t, []string{ContentTypeLTILink, ContentTypeImage, ContentTypeFile}, l.ContentTypes)
	assert.Equal(t, []string{"image/png"}, l.FileTypes)
	assert.Equal(t, []string{"iframe", "window"}, l.DocumentTargets)

	l.Params = base()
	delete(l.Params, "accept_media_types")
	assert.Equal(t, "No accept_media_types found.", ReasonOf(tool.validateContentItemRequest(l)))

	l.Params = base()
	delete(l.Params, "content_item_return_url")
	assert.Equal(t, "Missing content_item_return_url parameter.", ReasonOf(tool.validateContentItemRequest(l)))

	strict := &Tool{Strict: true}
	l = &Launch{Tool: strict, Env: newTestEnv(t, nil), MessageType: MessageTypeContentItem, Params: base()}
	assert.Equal(t, "Invalid value in accept_presentation_document_targets parameter: Window.", ReasonOf(strict.validateContentItemRequest(l)))
}

/* ---------------- LTI 1.3 round trip through PlatformServer ---------------- */

func TestLTI13_LoginAndLaunch(t *testing.T) {
	ctx := context.Background()
	platformKeys := testKeyManager(t)
	platformPEM, err := platformKeys.PublicKeyPEM()
	require.NoError(t, err)

	// Tool side.
	dc := newMemConnector()
	reg := NewPlatform()
	reg.PlatformID, reg.ClientID, reg.DeploymentID = "https://lms.example.com", "client-1", "dep-1"
	reg.AuthenticationURL = "https://lms.example.com/auth"
	reg.RSAKey, reg.SignatureMethod, reg.Enabled = platformPEM, "RS256", true
	require.NoError(t, dc.SavePlatform(ctx, reg))
	toolEnv := newTestEnv(t, dc)
	var handled []string
	tool := launchTool(&handled)

	// Platform side.
	platformEnv := newTestEnv(t, nil)
	platformEnv.Keys = platformKeys
	logins := NewInMemoryLoginStore()
	logins.Now = func() time.Time { return testNow }
	self := &Platform{PlatformID: "https://lms.example.com", DeploymentID: "dep-1", LTIVersion: Version1P3}
	remote := &Tool{
		ClientID:         "client-1",
		SignatureMethod:  "RS256",
		InitiateLoginURL: "https://tool.example.com/lti",
		RedirectionURIs:  []string{"https://tool.example.com/lti"},
	}
	ps := NewPlatformServer(self, remote, platformEnv, logins)

	// 1. platform -> tool: initiate login
	page, err := ps.SendMessage(ctx, "https://tool.example.com/lti", MessageTypeLaunch, Params{
		"resource_link_id": "rl-1",
		"user_id":          "u1",
		"roles":            "Learner",
	}, "", "", "")
	require.NoError(t, err)
	action, login := formFields(t, page)
	assert.Equal(t, "https://tool.example.com/lti", action)
	assert.Equal(t, "u1", login.Get("login_hint"))
	assert.Equal(t, "client-1", login.Get("client_id"))

	// 2. tool -> platform: authentication request
	l := tool.Handle(ctx, toolEnv, postForm(action, login))
	require.True(t, l.OK(), l.Reason())
	action, auth := formFields(t, l.Output)
	assert.Equal(t, "https://lms.example.com/auth", action)
	assert.Equal(t, "https://tool.example.com/lti", auth.Get("redirect_uri"))
	assert.Equal(t, "form_post", auth.Get("response_mode"))
	require.NotEmpty(t, auth.Get("state"))

	// 3. platform -> tool: id_token
	page, err = ps.HandleAuthenticationRequest(ctx, postForm(action, auth))
	require.NoError(t, err)
	action, launch := formFields(t, page)
	assert.Equal(t, "https://tool.example.com/lti", action)
	assert.Equal(t, auth.Get("state"), launch.Get("state"))
	require.NotEmpty(t, launch.Get("id_token"))

	// 4. tool accepts the launch
	l = tool.Handle(ctx, toolEnv, postForm(action, launch))
	require.True(t, l.OK(), l.Reason())
	assert.Equal(t, MessageTypeLaunch, l.MessageType)
	assert.Equal(t, Version1P3, l.Version)
	assert.Equal(t, []string{"u1"}, handled)

	// the state is single use
	l = tool.Handle(ctx, toolEnv, postForm(action, launch))
	assert.Equal(t, "state parameter is invalid or missing", l.Reason())
}

func TestPlatformServer_AuthenticationErrors(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	env.Keys = testKeyManager(t)
	remote := &Tool{ClientID: "client-1", SignatureMethod: "RS256", RedirectionURIs: []string{"https://tool.example.com/lti"}}
	ps := NewPlatformServer(&Platform{PlatformID: "https://lms.example.com", LTIVersion: Version1P3}, remote, env, nil)

	valid := func() Params {
		return Params{
			"scope": "openid", "response_type": "id_token", "client_id": "client-1",
			"redirect_uri": "https://tool.example.com/lti", "login_hint": "u1", "nonce": "n1",
			"response_mode": "form_post", "prompt": "none", "state": "s1",
		}
	}
	cases := []struct {
		name      string
		mutate    func(Params)
		wantError string
		wantDesc  string
	}{
		{"missing nonce", func(p Params) { delete(p, "nonce") }, "invalid_request", ""},
		{"no openid scope", func(p Params) { p["scope"] = "profile" }, "invalid_scope", ""},
		{"code flow", func(p Params) { p["response_type"] = "code" }, "unsupported_response_type", ""},
		{"other client", func(p Params) { p["client_id"] = "client-2" }, "unauthorized_client", ""},
		{"unregistered redirect", func(p Params) { p["redirect_uri"] = "https://evil.example.com" }, "invalid_request", "Unregistered redirect_uri"},
		{"query response mode", func(p Params) { p["response_mode"] = "query" }, "invalid_request", "Invalid response_mode"},
		{"login prompt", func(p Params) { p["prompt"] = "login" }, "invalid_request", "Invalid prompt"},
		{"no initiated login", func(Params) {}, "access_denied", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := valid()
			tc.mutate(in)
			page, err := ps.HandleAuthenticationRequest(ctx, postForm("https://lms.example.com/auth", in))
			require.Error(t, err)
			_, out := formFields(t, page)
			assert.Equal(t, tc.wantError, out.Get("error"))
			assert.Equal(t, tc.wantDesc, out.Get("error_description"))
			assert.Equal(t, "s1", out.Get("state"))
		})
	}
}
