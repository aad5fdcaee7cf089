// pkg/tool/lti/claims.go
package lti

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

/*
Claim mapping between the flat LTI 1.1 parameter namespace and the nested
LTI 1.3 claim namespace.

Each legacy parameter maps to a claim path:

	bare claim          "sub"
	root claim          https://purl.imsglobal.org/spec/lti/claim/roles
	grouped claim       https://purl.imsglobal.org/spec/lti/claim/context -> "id"
	suffixed group      https://purl.imsglobal.org/spec/lti-ags/claim/endpoint -> "lineitems"

Unmapped custom_* and ext_* parameters live in the custom and ext groups.
*/

type claimKind int

const (
	kindString claimKind = iota
	kindArray
	kindObject
	kindBoolean
)

type claimMapping struct {
	suffix string // e.g. "ags" -> https://purl.imsglobal.org/spec/lti-ags/claim/
	group  string // "" for a root claim
	claim  string
	bare   bool // top-level claim with no prefix
	kind   claimKind
}

// path returns the top-level claim name and, for grouped claims, the member.
func (m claimMapping) path() (top, member string) {
	if m.bare {
		return m.claim, ""
	}
	prefix := ClaimPrefix
	if m.suffix != "" {
		prefix += "-" + m.suffix
	}
	prefix += "/claim/"
	if m.group == "" {
		return prefix + m.claim, ""
	}
	return prefix + m.group, m.claim
}

func grp(suffix, group, claim string, kind claimKind) claimMapping {
	return claimMapping{suffix: suffix, group: group, claim: claim, kind: kind}
}

func root(suffix, claim string, kind claimKind) claimMapping {
	return claimMapping{suffix: suffix, claim: claim, kind: kind}
}

func bare(claim string) claimMapping { return claimMapping{claim: claim, bare: true} }

var claimMappings = map[string]claimMapping{
	// deep linking settings
	"accept_types":                           grp("dl", "deep_linking_settings", "accept_types", kindArray),
	"accept_media_types":                     grp("dl", "deep_linking_settings", "accept_media_types", kindString),
	"accept_copy_advice":                     grp("dl", "deep_linking_settings", "accept_copy_advice", kindBoolean),
	"accept_presentation_document_targets":   grp("dl", "deep_linking_settings", "accept_presentation_document_targets", kindArray),
	"accept_unsigned":                        grp("dl", "deep_linking_settings", "accept_unsigned", kindBoolean),
	"accept_multiple":                        grp("dl", "deep_linking_settings", "accept_multiple", kindBoolean),
	"accept_lineitem":                        grp("dl", "deep_linking_settings", "accept_lineitem", kindBoolean),
	"auto_create":                            grp("dl", "deep_linking_settings", "auto_create", kindBoolean),
	"can_confirm":                            grp("dl", "deep_linking_settings", "can_confirm", kindBoolean),
	"content_item_return_url":                grp("dl", "deep_linking_settings", "deep_link_return_url", kindString),
	"content_items":                          root("dl", "content_items", kindObject),
	"data":                                   grp("dl", "deep_linking_settings", "data", kindString),
	"text":                                   grp("dl", "deep_linking_settings", "text", kindString),
	"title":                                  grp("dl", "deep_linking_settings", "title", kindString),
	"lti_msg":                                root("dl", "msg", kindString),
	"lti_errormsg":                           root("dl", "errormsg", kindString),
	"lti_log":                                root("dl", "log", kindString),
	"lti_errorlog":                           root("dl", "errorlog", kindString),
	"context_id":                             grp("", "context", "id", kindString),
	"context_label":                          grp("", "context", "label", kindString),
	"context_title":                          grp("", "context", "title", kindString),
	"context_type":                           grp("", "context", "type", kindArray),
	"lis_course_offering_sourcedid":          grp("", "lis", "course_offering_sourcedid", kindString),
	"lis_course_section_sourcedid":           grp("", "lis", "course_section_sourcedid", kindString),
	"launch_presentation_css_url":            grp("", "launch_presentation", "css_url", kindString),
	"launch_presentation_document_target":    grp("", "launch_presentation", "document_target", kindString),
	"launch_presentation_height":             grp("", "launch_presentation", "height", kindString),
	"launch_presentation_locale":             grp("", "launch_presentation", "locale", kindString),
	"launch_presentation_return_url":         grp("", "launch_presentation", "return_url", kindString),
	"launch_presentation_width":              grp("", "launch_presentation", "width", kindString),
	"lis_person_contact_email_primary":       bare("email"),
	"lis_person_name_family":                 bare("family_name"),
	"lis_person_name_full":                   bare("name"),
	"lis_person_name_given":                  bare("given_name"),
	"lis_person_sourcedid":                   grp("", "lis", "person_sourcedid", kindString),
	"user_id":                                bare("sub"),
	"user_image":                             bare("picture"),
	"roles":                                  root("", "roles", kindArray),
	"role_scope_mentor":                      root("", "role_scope_mentor", kindArray),
	"deployment_id":                          root("", "deployment_id", kindString),
	"lti_message_type":                       root("", "message_type", kindString),
	"lti_version":                            root("", "version", kindString),
	"resource_link_description":              grp("", "resource_link", "description", kindString),
	"resource_link_id":                       grp("", "resource_link", "id", kindString),
	"resource_link_title":                    grp("", "resource_link", "title", kindString),
	"target_link_uri":                        root("", "target_link_uri", kindString),
	"tool_consumer_info_product_family_code": grp("", "tool_platform", "product_family_code", kindString),
	"tool_consumer_info_version":             grp("", "tool_platform", "version", kindString),
	"tool_consumer_instance_contact_email":   grp("", "tool_platform", "contact_email", kindString),
	"tool_consumer_instance_description":     grp("", "tool_platform", "description", kindString),
	"tool_consumer_instance_guid":            grp("", "tool_platform", "guid", kindString),
	"tool_consumer_instance_name":            grp("", "tool_platform", "name", kindString),
	"tool_consumer_instance_url":             grp("", "tool_platform", "url", kindString),
	"custom_context_memberships_url":         grp("nrps", "namesroleservice", "context_memberships_url", kindString),
	"custom_context_memberships_versions":    grp("nrps", "namesroleservice", "service_versions", kindArray),
	"custom_lineitems_url":                   grp("ags", "endpoint", "lineitems", kindString),
	"custom_lineitem_url":                    grp("ags", "endpoint", "lineitem", kindString),
	"custom_ags_scopes":                      grp("ags", "endpoint", "scope", kindArray),
	"custom_context_groups_url":              grp("gs", "groupsservice", "context_groups_url", kindString),
	"custom_context_group_sets_url":          grp("gs", "groupsservice", "context_group_sets_url", kindString),
	"custom_gs_scopes":                       grp("gs", "groupsservice", "scope", kindArray),
	"lis_outcome_service_url":                grp("bo", "basicoutcome", "lis_outcome_service_url", kindString),
	"lis_result_sourcedid":                   grp("bo", "basicoutcome", "lis_result_sourcedid", kindString),
}

// messageTypeMapping maps legacy message types to LTI 1.3 message types.
var messageTypeMapping = map[string]string{
	MessageTypeLaunch:            "LtiResourceLinkRequest",
	MessageTypeContentItem:       "LtiDeepLinkingRequest",
	MessageTypeContentItemReturn: "LtiDeepLinkingResponse",
	MessageTypeContentItemUpdate: "LtiDeepLinkingUpdateRequest",
}

func legacyMessageType(jwtType string) (string, bool) {
	for legacy, t := range messageTypeMapping {
		if t == jwtType {
			return legacy, true
		}
	}
	return "", false
}

// splitList splits a comma separated list after removing all spaces,
// dropping empty entries.
func splitList(s string) []string {
	parts := strings.Split(strings.ReplaceAll(s, " ", ""), ",")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func appendUnique(xs []string, v ...string) []string {
	for _, s := range v {
		if !contains(xs, s) {
			xs = append(xs, s)
		}
	}
	return xs
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}

// MessageClaims converts message parameters into grouped JWT claims.
func MessageClaims(params Params) map[string]any {
	return messageClaims(params, false)
}

// FullyQualifiedClaims is like MessageClaims but flattens grouped claims to
// "group/claim" names.
func FullyQualifiedClaims(params Params) map[string]any {
	return messageClaims(params, true)
}

func messageClaims(in Params, fullyQualified bool) map[string]any {
	params := in.Clone()
	if t, ok := messageTypeMapping[params.Get("lti_message_type")]; ok {
		params["lti_message_type"] = t
	}
	reconcileMediaTypes(params)

	claims := make(map[string]any)
	for _, key := range params.Keys() {
		raw := params[key]
		var (
			top, member string
			value       any = raw
		)
		if m, ok := claimMappings[key]; ok {
			switch m.kind {
			case kindObject:
				var v any
				if err := json.Unmarshal([]byte(raw), &v); err == nil {
					value = v
				} else {
					value = nil
				}
			case kindArray:
				list := splitList(raw)
				sort.Strings(list)
				value = list
			case kindBoolean:
				value = raw == "true"
			}
			top, member = m.path()
		} else if strings.HasPrefix(key, "custom_") {
			top, member = customClaimGroup, strings.TrimPrefix(key, "custom_")
		} else if strings.HasPrefix(key, "ext_") {
			top, member = extClaimGroup, strings.TrimPrefix(key, "ext_")
		} else {
			continue
		}

		switch {
		case member == "":
			claims[top] = value
		case fullyQualified:
			claims[top+"/"+member] = value
		default:
			g, _ := claims[top].(map[string]any)
			if g == nil {
				g = make(map[string]any)
				claims[top] = g
			}
			g[member] = value
		}
	}
	return claims
}

// reconcileMediaTypes derives accept_types from accept_media_types, or strips
// LTI media types when accept_types is already present.
func reconcileMediaTypes(params Params) {
	if params.Get("accept_media_types") == "" {
		return
	}
	mediaTypes := splitList(params.Get("accept_media_types"))
	if params.Get("accept_types") != "" {
		kept := mediaTypes[:0]
		for _, mt := range mediaTypes {
			if !strings.HasPrefix(mt, ltiMediaPrefix) {
				kept = append(kept, mt)
			}
		}
		params["accept_media_types"] = strings.Join(kept, ",")
		return
	}
	var types []string
	for _, mt := range mediaTypes {
		switch {
		case mt == LTILinkMediaType:
			types = appendUnique(types, ContentTypeLTILink)
		case strings.HasPrefix(mt, "image/"):
			types = appendUnique(types, ContentTypeImage, ContentTypeLink, ContentTypeFile)
		case mt == "text/html":
			types = appendUnique(types, ContentTypeHTML, ContentTypeLink, ContentTypeFile)
		case mt == "*/*":
			types = appendUnique(types, ContentTypeHTML, ContentTypeImage, ContentTypeFile, ContentTypeLink)
		default:
			types = appendUnique(types, ContentTypeFile)
		}
	}
	params["accept_types"] = strings.Join(types, ",")
}

// ClaimError reports a claim whose JSON type does not match the mapping.
type ClaimError struct {
	Claim string
}

func (e *ClaimError) Error() string { return fmt.Sprintf("lti: claim %s has an invalid type", e.Claim) }

// ParseClaims converts JWT claims back into message parameters. Values that
// cannot be represented are skipped; a mistyped array, custom or ext claim
// yields a *ClaimError alongside the parameters parsed so far.
func ParseClaims(claims map[string]any) (Params, error) {
	params := make(Params)
	var firstErr error
	fail := func(claim string) {
		if firstErr == nil {
			firstErr = &ClaimError{Claim: claim}
		}
	}

	keys := make([]string, 0, len(claimMappings))
	for k := range claimMappings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		m := claimMappings[key]
		top, member := m.path()
		raw, ok := claims[top]
		if !ok {
			continue
		}
		value := raw
		if member != "" {
			g, isMap := raw.(map[string]any)
			if !isMap {
				continue
			}
			if value, ok = g[member]; !ok {
				continue
			}
		}
		if value == nil {
			continue
		}
		switch m.kind {
		case kindArray:
			list, isList := stringList(value)
			if !isList {
				fail(top)
				continue
			}
			value = strings.Join(list, ",")
		case kindObject:
			b, err := json.Marshal(value)
			if err != nil {
				continue
			}
			value = string(b)
		case kindBoolean:
			value = truthy(value)
		}
		if s, isString := value.(string); isString {
			params[key] = s
		}
	}

	if legacy, ok := legacyMessageType(params.Get("lti_message_type")); ok {
		params["lti_message_type"] = legacy
	}
	if params.Get("accept_types") != "" {
		types := splitList(params.Get("accept_types"))
		var mediaTypes []string
		if params.Get("accept_media_types") != "" {
			mediaTypes = splitList(params.Get("accept_media_types"))
		}
		if contains(types, ContentTypeLTILink) {
			mediaTypes = append(mediaTypes, LTILinkMediaType)
		}
		if contains(types, ContentTypeHTML) && !contains(mediaTypes, "*/*") {
			mediaTypes = append(mediaTypes, "text/html")
		}
		if contains(types, ContentTypeImage) && !contains(mediaTypes, "*/*") {
			mediaTypes = append(mediaTypes, "image/*")
		}
		params["accept_media_types"] = strings.Join(appendUnique(nil, mediaTypes...), ",")
	}

	for prefix, claim := range map[string]string{"custom_": customClaimGroup, "ext_": extClaimGroup} {
		raw, ok := claims[claim]
		if !ok {
			continue
		}
		g, isMap := raw.(map[string]any)
		if !isMap {
			fail(claim)
			continue
		}
		for k, v := range g {
			params[prefix+k] = claimString(v)
		}
	}
	return params, firstErr
}

func stringList(v any) ([]string, bool) {
	switch t := v.(type) {
	case []string:
		return t, true
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			out = append(out, claimString(e))
		}
		return out, true
	default:
		return nil, false
	}
}

func claimString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

func truthy(v any) string {
	switch t := v.(type) {
	case bool:
		if t {
			return "true"
		}
	case string:
		if t != "" && t != "0" && t != "false" {
			return "true"
		}
	case float64:
		if t != 0 {
			return "true"
		}
	}
	return "false"
}

// ParseRoles expands short role names into fully qualified role URIs.
// LTI 1.0 roles use the urn:lti:role:ims/lis/ vocabulary, later versions
// the LIS v2 membership vocabulary.
func ParseRoles(roles, ltiVersion string) []string {
	return QualifyRoles(splitList(roles), ltiVersion)
}

// QualifyRoles is ParseRoles for an already split list.
func QualifyRoles(roles []string, ltiVersion string) []string {
	out := make([]string, 0, len(roles))
	for _, role := range roles {
		role = strings.TrimSpace(role)
		if role == "" {
			continue
		}
		isURL := strings.HasPrefix(role, "http://") || strings.HasPrefix(role, "https://")
		if ltiVersion == Version1 {
			if !isURL && !strings.HasPrefix(role, "urn:") {
				role = roleV1Prefix + role
			}
		} else if !isURL {
			role = roleV2Prefix + role
		}
		out = append(out, role)
	}
	return out
}
