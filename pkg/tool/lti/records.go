// pkg/tool/lti/records.go
package lti

import (
	"strings"
	"time"
)

// Context is a course or other grouping scoped to a platform.
type Context struct {
	RecordID     int64
	PlatformID   int64 // Platform.RecordID
	LTIContextID string
	Title        string
	Type         string
	Settings     Settings
	Created      *time.Time
	Updated      *time.Time
}

func (c *Context) Exists() bool { return c.Created != nil }

func (c *Context) settings() Settings {
	if c.Settings == nil {
		c.Settings = Settings{}
	}
	return c.Settings
}

// ResourceLink is the launched resource, scoped to a Context when one was
// supplied and to the Platform otherwise.
type ResourceLink struct {
	RecordID          int64
	ContextID         int64 // Context.RecordID, 0 when scoped to the platform
	PlatformID        int64 // Platform.RecordID, 0 when scoped to a context
	LTIResourceLinkID string
	Title             string
	Settings          Settings

	// PrimaryResourceLinkID is set when this link shares another link's data.
	PrimaryResourceLinkID *int64
	ShareApproved         *bool

	Created *time.Time
	Updated *time.Time
}

func (r *ResourceLink) Exists() bool { return r.Created != nil }

func (r *ResourceLink) settings() Settings {
	if r.Settings == nil {
		r.Settings = Settings{}
	}
	return r.Settings
}

// IsSharing reports whether the link is configured as a share of another.
func (r *ResourceLink) IsSharing() bool { return r.PrimaryResourceLinkID != nil }

// LineItemURL is the AGS line item recorded at the last launch.
func (r *ResourceLink) LineItemURL() string { return r.Settings.Get("custom_lineitem_url") }

// IDScope selects how user IDs are qualified.
type IDScope int

const (
	IDScopeIDOnly IDScope = iota
	IDScopeGlobal
	IDScopeContext
	IDScopeResource
)

const idScopeSeparator = ":"

// UserResult is a user as seen through one resource link.
type UserResult struct {
	RecordID       int64
	ResourceLinkID int64
	LTIUserID      string

	Firstname string
	Lastname  string
	Fullname  string
	Email     string
	Username  string
	Image     string
	SourcedID string
	Roles     []string

	LTIResultSourcedID string

	Created *time.Time
	Updated *time.Time
}

func (u *UserResult) Exists() bool { return u.Created != nil }

// SetNames fills in whichever of first, last and full names are missing
// from the others.
func (u *UserResult) SetNames(first, last, full string) {
	first, last, full = strings.TrimSpace(first), strings.TrimSpace(last), strings.TrimSpace(full)
	switch {
	case first != "" && last != "":
		if full == "" {
			full = first + " " + last
		}
	case full != "":
		names := strings.Fields(full)
		if first == "" && len(names) > 1 {
			first = names[0]
		}
		if last == "" && len(names) > 0 {
			last = names[len(names)-1]
		}
	}
	if full == "" {
		full = strings.TrimSpace(first + " " + last)
	}
	u.Firstname, u.Lastname, u.Fullname = first, last, full
}

// SetEmail stores email, or <userId>@<defaultDomain> when email is empty.
// A default containing "@" is used verbatim.
func (u *UserResult) SetEmail(email, defaultDomain string) {
	email = strings.TrimSpace(email)
	if email == "" && defaultDomain != "" {
		if strings.HasPrefix(defaultDomain, "@") || !strings.Contains(defaultDomain, "@") {
			email = u.LTIUserID + "@" + strings.TrimPrefix(defaultDomain, "@")
		} else {
			email = defaultDomain
		}
	}
	u.Email = email
}

func (u *UserResult) hasRole(suffixes ...string) bool {
	for _, r := range u.Roles {
		for _, s := range suffixes {
			if strings.HasSuffix(r, "/"+s) || strings.HasSuffix(r, "#"+s) || r == s {
				return true
			}
		}
	}
	return false
}

// IsLearner reports whether the user holds a learner role.
func (u *UserResult) IsLearner() bool { return u.hasRole("Learner") }

// IsStaff reports whether the user holds an instructor, content developer or
// teaching assistant role.
func (u *UserResult) IsStaff() bool {
	return u.hasRole("Instructor", "ContentDeveloper", "TeachingAssistant")
}

func (u *UserResult) IsAdmin() bool {
	return u.hasRole("Administrator", "SysAdmin", "Admin")
}

// ID returns the user ID qualified according to scope.
func (u *UserResult) ID(scope IDScope, p *Platform, contextID, resourceLinkID string) string {
	if p == nil {
		return u.LTIUserID
	}
	switch {
	case scope == IDScopeGlobal:
		return p.ID() + idScopeSeparator + u.LTIUserID
	case scope == IDScopeContext && contextID != "":
		return p.ID() + idScopeSeparator + contextID + idScopeSeparator + u.LTIUserID
	case scope == IDScopeResource && resourceLinkID != "":
		return p.ID() + idScopeSeparator + resourceLinkID + idScopeSeparator + u.LTIUserID
	}
	return u.LTIUserID
}

// ShareKey authorizes one resource link to share another link's data.
type ShareKey struct {
	ID             string
	ResourceLinkID int64
	AutoApprove    bool
	Expires        time.Time
}

// AccessToken is a cached OAuth2 bearer token for a platform.
type AccessToken struct {
	PlatformID int64
	Token      string
	Scopes     []string
	Expires    time.Time
	Created    *time.Time
	Updated    *time.Time
}

// Valid reports whether the token is set and not within leeway of expiry.
func (t *AccessToken) Valid(now time.Time, leeway time.Duration) bool {
	return t != nil && t.Token != "" && now.Add(leeway).Before(t.Expires)
}

// HasScopes reports whether the token grants every scope requested.
func (t *AccessToken) HasScopes(scopes ...string) bool {
	for _, s := range scopes {
		if !contains(t.Scopes, s) {
			return false
		}
	}
	return true
}
