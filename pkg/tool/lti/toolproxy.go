// pkg/tool/lti/toolproxy.go
package lti

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// consumerProfile is the part of an LTI 2 tool consumer profile read here.
type consumerProfile struct {
	CapabilityOffered []string `json:"capability_offered"`
	ProductInstance   struct {
		GUID         string `json:"guid"`
		ServiceOwner struct {
			ServiceOwnerName struct {
				DefaultValue string `json:"default_value"`
			} `json:"service_owner_name"`
		} `json:"service_owner"`
		ProductInfo struct {
			ProductVersion string `json:"product_version"`
			ProductFamily  struct {
				Code string `json:"code"`
			} `json:"product_family"`
		} `json:"product_info"`
	} `json:"product_instance"`
}

// substitutionVariables maps LTI 2 capability names to the message
// parameter they deliver.
var substitutionVariables = map[string]string{
	"User.id":                          "user_id",
	"User.image":                       "user_image",
	"User.username":                    "username",
	"User.scope.mentor":                "role_scope_mentor",
	"Membership.role":                  "roles",
	"Person.sourcedId":                 "lis_person_sourcedid",
	"Person.name.full":                 "lis_person_name_full",
	"Person.name.family":               "lis_person_name_family",
	"Person.name.given":                "lis_person_name_given",
	"Person.email.primary":             "lis_person_contact_email_primary",
	"Context.id":                       "context_id",
	"Context.type":                     "context_type",
	"Context.title":                    "context_title",
	"Context.label":                    "context_label",
	"CourseOffering.sourcedId":         "lis_course_offering_sourcedid",
	"CourseSection.sourcedId":          "lis_course_section_sourcedid",
	"CourseSection.label":              "context_label",
	"CourseSection.title":              "context_title",
	"ResourceLink.id":                  "resource_link_id",
	"ResourceLink.title":               "resource_link_title",
	"ResourceLink.description":         "resource_link_description",
	"Result.sourcedId":                 "lis_result_sourcedid",
	"BasicOutcome.url":                 "lis_outcome_service_url",
	"ToolConsumerProfile.url":          "custom_tc_profile_url",
	"ToolProxy.url":                    "tool_proxy_url",
	"ToolProxy.custom.url":             "custom_system_setting_url",
	"ToolProxyBinding.custom.url":      "custom_context_setting_url",
	"LtiLink.custom.url":               "custom_link_setting_url",
	"LineItems.url":                    "custom_lineitems_url",
	"LineItem.url":                     "custom_lineitem_url",
	"ToolProxyBinding.memberships.url": "custom_context_memberships_url",
	"ToolProxyBinding.nrps.url":        "custom_context_memberships_v2_url",
	"LtiLink.memberships.url":          "custom_link_memberships_url",
}

// fetchProfile GETs a tool consumer profile for the given LTI version.
func fetchProfile(ctx context.Context, l *Launch, profileURL, version string) (json.RawMessage, error) {
	u := appendQuery(profileURL, "lti_version", version)
	return httpFetch(ctx, l.Env.client(), http.MethodGet, u, toolProfileMediaType, nil, nil)
}

// registerToolProxy handles a ToolProxyRegistrationRequest: the consumer
// profile must offer every capability the tool requires, and the platform
// is then recorded as enabled and protected.
func (t *Tool) registerToolProxy(ctx context.Context, l *Launch) error {
	if l.Version != Version2 {
		return protocolError("Invalid lti_version parameter.")
	}
	raw, err := fetchProfile(ctx, l, l.Params.Trimmed("tc_profile_url"), Version2)
	if err != nil {
		return wrapError(KindProtocol, "Platform profile not accessible.", err)
	}
	var profile consumerProfile
	if err := json.Unmarshal(raw, &profile); err != nil || string(raw) == "null" {
		return wrapError(KindProtocol, "Invalid JSON in platform profile.", err)
	}

	p, err := PlatformFromConsumerKey(ctx, l.dc(), l.Params.Get("reg_key"))
	if err != nil {
		return wrapError(KindInternal, "Unable to load the platform.", err)
	}
	l.Platform = p

	if missing := t.missingCapabilities(profile.CapabilityOffered); len(missing) > 0 {
		return businessError("Required capability not offered - '" + strings.Join(missing, "', '") + "'")
	}

	info := profile.ProductInstance.ProductInfo
	p.Profile = raw
	p.Secret = l.Params.Get("reg_password")
	p.LTIVersion = l.Version
	p.Name = profile.ProductInstance.ServiceOwner.ServiceOwnerName.DefaultValue
	p.ConsumerName = p.Name
	p.ConsumerVersion = info.ProductFamily.Code + "-" + info.ProductVersion
	p.ConsumerGUID = profile.ProductInstance.GUID
	p.Enabled = true
	p.Protected = true
	l.savePlatform = true
	return nil
}

// missingCapabilities lists, sorted, the required message types and
// required parameters the offered capabilities do not cover.
func (t *Tool) missingCapabilities(offered []string) []string {
	missing := map[string]bool{}
	for _, rh := range t.ResourceHandlers {
		for _, m := range rh.RequiredMessages {
			if !contains(offered, m.Type) {
				missing[m.Type] = true
			}
		}
	}
	for name, c := range t.constraints {
		if !c.Required {
			continue
		}
		found := false
		for capability, param := range substitutionVariables {
			if param == name && contains(offered, capability) {
				found = true
				break
			}
		}
		if !found {
			missing[name] = true
		}
	}
	out := make([]string, 0, len(missing))
	for k := range missing {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// refreshProfile loads the consumer profile named by custom_tc_profile_url
// the first time a platform sends one. Failures are not fatal.
func (t *Tool) refreshProfile(ctx context.Context, l *Launch) {
	u := l.Params.Trimmed("custom_tc_profile_url")
	if u == "" || len(l.Platform.Profile) > 0 {
		return
	}
	raw, err := fetchProfile(ctx, l, u, l.Version)
	if err != nil || !json.Valid(raw) {
		l.Env.logger().Debug("consumer profile not loaded", zap.String("url", u), zap.Error(err))
		return
	}
	l.Platform.Profile = raw
	l.savePlatform = true
}
