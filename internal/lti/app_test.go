package lti

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mind-engage/mindengage-lti/internal/config"
	core "github.com/mind-engage/mindengage-lti/pkg/tool/lti"
	"github.com/mind-engage/mindengage-lti/pkg/tool/storage"
)

type harness struct {
	srv  *httptest.Server
	env  *core.Env
	conn *storage.Connector
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	db, err := storage.Connect(ctx, "sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, storage.Up(ctx, db))

	conn := storage.NewConnector(db)
	env := &core.Env{Connector: conn, Nonces: storage.NewNonceStore(db), Logger: zaptest.NewLogger(t)}

	p := core.NewPlatform()
	p.Key, p.Secret, p.Name, p.Enabled = "moodle", "secret", "Moodle", true
	require.NoError(t, conn.SavePlatform(ctx, p))

	h := &harness{env: env, conn: conn}
	r := chi.NewRouter()
	h.srv = httptest.NewServer(r)
	t.Cleanup(h.srv.Close)

	cfg := config.Config{ToolName: "Quiz", PublicURL: h.srv.URL, ToolSignatureMethod: "RS256"}
	tool := NewTool(cfg, NewApp(cfg, env.Logger))
	r.Handle(LaunchPath, tool.Handler(env))
	return h
}

// post signs params for the platform and posts them to the launch endpoint.
func (h *harness) post(t *testing.T, messageType string, params core.Params) (int, string) {
	t.Helper()
	signer := &core.OAuth1Signer{ConsumerKey: "moodle", Secret: "secret", Env: h.env}
	form, err := signer.SignParameters(context.Background(), h.srv.URL+LaunchPath, messageType, core.Version1, params)
	require.NoError(t, err)

	client := h.srv.Client()
	client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	res, err := client.PostForm(h.srv.URL+LaunchPath, form.Values())
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res.StatusCode, string(body)
}

func launchParams(roles string) core.Params {
	return core.Params{
		"resource_link_id":     "rl-1",
		"resource_link_title":  "Week 1 quiz",
		"context_id":           "ctx-1",
		"context_title":        "Algebra",
		"user_id":              "u1",
		"lis_person_name_full": "Ada Lovelace",
		"roles":                roles,
		"custom_colour":        "blue",
	}
}

func TestLaunch_LandingPage(t *testing.T) {
	h := newHarness(t)
	params := launchParams("Learner")
	params["lis_result_sourcedid"] = "sourced-1"
	params["launch_presentation_return_url"] = "https://lms.example.com/course/1"

	status, body := h.post(t, core.MessageTypeLaunch, params)
	require.Equal(t, http.StatusOK, status, body)
	assert.Contains(t, body, "Welcome, Ada Lovelace")
	assert.Contains(t, body, "<dd>Algebra</dd>")
	assert.Contains(t, body, "<dd>Week 1 quiz</dd>")
	assert.Contains(t, body, "<dd>Learner</dd>")
	assert.Contains(t, body, "Your grade for this activity will be sent to Moodle.")
	assert.Contains(t, body, `href="https://lms.example.com/course/1"`)
}

func TestLaunch_MissingUserIsRejected(t *testing.T) {
	h := newHarness(t)
	params := launchParams("Learner")
	delete(params, "user_id")

	status, body := h.post(t, core.MessageTypeLaunch, params)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body, core.ConnectionErrorMessage)
}

func TestConfigure_StaffOnly(t *testing.T) {
	h := newHarness(t)

	status, body := h.post(t, core.MessageTypeConfigure, launchParams("Learner"))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.NotContains(t, body, "custom_colour")

	params := launchParams("Instructor")
	params["custom_debug"] = "true"
	status, body = h.post(t, core.MessageTypeConfigure, params)
	require.Equal(t, http.StatusOK, status, body)
	assert.Contains(t, body, "<td>custom_colour</td><td>blue</td>")
	assert.Contains(t, body, "<dd>Instructor</dd>")
}

func TestConfigure_LearnerDebugReason(t *testing.T) {
	h := newHarness(t)
	params := launchParams("Learner")
	params["custom_debug"] = "true"

	status, body := h.post(t, core.MessageTypeConfigure, params)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body, "Debug error: Only instructors can configure this resource.")
}

func TestDashboard(t *testing.T) {
	h := newHarness(t)
	status, body := h.post(t, core.MessageTypeDashboard, core.Params{
		"context_id":    "ctx-1",
		"context_title": "Algebra",
	})
	require.Equal(t, http.StatusOK, status, body)
	assert.Contains(t, body, "<h1>Dashboard</h1>")
	assert.Contains(t, body, "<dd>Moodle</dd>")
}

func TestContentItemSelection(t *testing.T) {
	h := newHarness(t)
	status, body := h.post(t, core.MessageTypeContentItem, core.Params{
		"accept_media_types":                   core.LTILinkMediaType,
		"accept_presentation_document_targets": "iframe,window",
		"content_item_return_url":              "https://lms.example.com/ci-return",
		"data":                                 "opaque",
		"title":                                "Chapter 3",
	})
	require.Equal(t, http.StatusOK, status, body)
	assert.Contains(t, body, `action="https://lms.example.com/ci-return"`)
	assert.Contains(t, body, `name="lti_message_type" value="ContentItemSelection"`)
	assert.Contains(t, body, `name="data" value="opaque"`)
	assert.Contains(t, body, "LtiLinkItem")
	assert.Contains(t, body, "Chapter 3")
	assert.Contains(t, body, `name="oauth_signature"`)
}

func TestContentItemSelection_NoLTILinks(t *testing.T) {
	h := newHarness(t)
	status, body := h.post(t, core.MessageTypeContentItem, core.Params{
		"accept_media_types":                   "image/png",
		"accept_presentation_document_targets": "iframe",
		"content_item_return_url":              "https://lms.example.com/ci-return",
	})
	// Failures of content-item requests go back to the platform as a signed form.
	require.Equal(t, http.StatusOK, status, body)
	assert.Contains(t, body, `name="lti_errormsg"`)
	assert.True(t, strings.Contains(body, "The platform does not accept LTI links."), body)
}
