// internal/lti/app.go
package lti

import (
	"context"
	"errors"
	"html/template"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/mind-engage/mindengage-lti/internal/config"
	core "github.com/mind-engage/mindengage-lti/pkg/tool/lti"
)

/*
App is the application behind the tool: the message handlers that run once
a launch has been authenticated and its platform, context, resource link and
user resolved.

	basic-lti-launch-request     landing page
	ContentItemSelectionRequest  returns a link back to this tool
	DashboardRequest             summary of the user's platform and course
	ConfigureLaunchRequest       resource link settings (staff only)
*/
type App struct {
	Name    string
	BaseURL string
	Logger  *zap.Logger
	// ScoreMaximum is offered as the line item maximum on deep-linked items.
	ScoreMaximum float64
}

// Routes on which the tool answers LTI traffic.
const (
	LaunchPath = "/lti"
	JWKSPath   = "/.well-known/jwks.json"
)

func NewApp(cfg config.Config, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{Name: cfg.ToolName, BaseURL: cfg.PublicURL, Logger: logger, ScoreMaximum: 100}
}

// Handlers returns the message handlers keyed by message type.
func (a *App) Handlers() map[string]core.MessageHandler {
	return map[string]core.MessageHandler{
		core.MessageTypeLaunch:            a.onLaunch,
		core.MessageTypeContentItem:       a.onContentItem,
		core.MessageTypeContentItemUpdate: a.onContentItem,
		core.MessageTypeDashboard:         a.onDashboard,
		core.MessageTypeConfigure:         a.onConfigure,
	}
}

// NewTool describes this application to platforms.
func NewTool(cfg config.Config, a *App) *core.Tool {
	t := &core.Tool{
		Name:             cfg.ToolName,
		Description:      cfg.ToolDescription,
		BaseURL:          cfg.PublicURL,
		MessageURL:       cfg.URL(LaunchPath),
		InitiateLoginURL: cfg.URL(LaunchPath),
		RedirectionURIs:  []string{cfg.URL(LaunchPath)},
		JWKSURL:          cfg.URL(JWKSPath),
		SignatureMethod:  cfg.ToolSignatureMethod,
		RequiredScopes:   cfg.ToolRequiredScopes,
		Handlers:         a.Handlers(),
		AllowSharing:     cfg.AllowSharing,
		Strict:           cfg.StrictMode,
		DefaultEmail:     cfg.DefaultEmail,
		ResourceHandlers: []core.ResourceHandler{{
			Code:        "mindengage",
			Name:        cfg.ToolName,
			Description: cfg.ToolDescription,
			RequiredMessages: []core.HandlerMessage{
				{Type: core.MessageTypeLaunch, Path: LaunchPath, Capabilities: []string{"User.id", "Membership.role", "Context.id", "ResourceLink.id"}},
			},
			OptionalMessages: []core.HandlerMessage{
				{Type: core.MessageTypeContentItem, Path: LaunchPath},
				{Type: core.MessageTypeDashboard, Path: LaunchPath},
				{Type: core.MessageTypeConfigure, Path: LaunchPath},
			},
		}},
	}
	t.SetParameterConstraint("user_id", true, 255, core.MessageTypeLaunch)
	t.SetParameterConstraint("roles", true, 0, core.MessageTypeLaunch)
	return t
}

// ----- Message handlers -----

func (a *App) onLaunch(_ context.Context, l *core.Launch) error {
	if l.UserResult == nil || l.ResourceLink == nil {
		return errors.New("Missing user or resource link.")
	}
	page := a.pageFor(l, "Welcome")
	page.Grades = l.ResourceLink.LineItemURL() != "" || l.UserResult.LTIResultSourcedID != ""
	if rl := l.RequestLink(); rl != nil && rl.RecordID != l.ResourceLink.RecordID {
		page.SharedFrom = l.ResourceLink.Title
	}
	return a.render(l, landingTemplate, page)
}

func (a *App) onContentItem(ctx context.Context, l *core.Launch) error {
	if !contains(l.ContentTypes, core.ContentTypeLTILink) {
		return errors.New("The platform does not accept LTI links.")
	}
	title := l.Params.Trimmed("title")
	if title == "" {
		title = a.Name
	}
	item := core.ContentItem{
		Type:  core.ContentTypeLTILink,
		Title: title,
		Text:  l.Params.Trimmed("text"),
		URL:   strings.TrimSuffix(a.BaseURL, "/") + LaunchPath,
	}
	if len(l.DocumentTargets) > 0 {
		item.Target = l.DocumentTargets[0]
	}
	if l.Version == core.Version1P3 && a.ScoreMaximum > 0 {
		item.LineItem = &core.LineItemHint{Label: title, ScoreMaximum: a.ScoreMaximum}
	}
	a.Logger.Info("content item returned", zap.String("platform", l.Platform.ID()), zap.String("title", title))
	return l.SendContentItems(ctx, []core.ContentItem{item}, "Added "+title)
}

func (a *App) onDashboard(_ context.Context, l *core.Launch) error {
	return a.render(l, dashboardTemplate, a.pageFor(l, "Dashboard"))
}

func (a *App) onConfigure(_ context.Context, l *core.Launch) error {
	if l.UserResult == nil || !(l.UserResult.IsStaff() || l.UserResult.IsAdmin()) {
		return errors.New("Only instructors can configure this resource.")
	}
	page := a.pageFor(l, "Configure")
	if l.ResourceLink != nil {
		for _, k := range sortedKeys(l.ResourceLink.Settings) {
			page.Settings = append(page.Settings, setting{Name: k, Value: l.ResourceLink.Settings.Get(k)})
		}
	}
	return a.render(l, configureTemplate, page)
}

// ----- helpers -----

func (a *App) pageFor(l *core.Launch, heading string) *page {
	p := &page{Tool: a.Name, Heading: heading}
	if l.Platform != nil {
		p.Platform = l.Platform.Name
		if p.Platform == "" {
			p.Platform = l.Platform.ID()
		}
	}
	if l.Context != nil {
		p.Course = l.Context.Title
	}
	if l.ResourceLink != nil {
		p.Resource = l.ResourceLink.Title
	}
	if u := l.UserResult; u != nil {
		p.User = u.Fullname
		if p.User == "" {
			p.User = u.LTIUserID
		}
		p.Role = roleLabel(u)
	}
	p.ReturnURL = l.ReturnURL
	return p
}

func (a *App) render(l *core.Launch, tmpl *template.Template, p *page) error {
	var b strings.Builder
	err := tmpl.Execute(&b, p)
	if err != nil {
		return &core.Error{Kind: core.KindInternal, Reason: "Unable to render the page.", Err: err}
	}
	l.Output = b.String()
	return nil
}

func roleLabel(u *core.UserResult) string {
	switch {
	case u.IsAdmin():
		return "Administrator"
	case u.IsStaff():
		return "Instructor"
	case u.IsLearner():
		return "Learner"
	default:
		return "Guest"
	}
}

func sortedKeys(s core.Settings) []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}
